package analysis

import (
	"context"
	"errors"
	"log"
	"sync"
	"time"
)

// ProgressSteps is the fixed, ordered pseudo-progress ladder shown while
// an analysis request is outstanding. Purely cosmetic: the real network
// result never waits for it.
var ProgressSteps = []string{
	"Extracting fundamental frequency (F0)",
	"Computing jitter and shimmer",
	"Measuring harmonic-to-noise ratio",
	"Running classifier",
	"Preparing clinical summary",
}

// OrchState is the orchestrator's lifecycle position.
type OrchState int

const (
	OrchIdle OrchState = iota
	OrchRunning
	OrchDone
	OrchFailed
)

func (s OrchState) String() string {
	switch s {
	case OrchIdle:
		return "idle"
	case OrchRunning:
		return "running"
	case OrchDone:
		return "done"
	case OrchFailed:
		return "failed"
	}
	return "unknown"
}

// ErrAnalysisBusy rejects a second upload while one is in flight.
var ErrAnalysisBusy = errors.New("an analysis is already in progress")

// OrchStatus is a snapshot of orchestrator progress for the UI.
type OrchStatus struct {
	State     OrchState `json:"-"`
	StateName string    `json:"state"`
	Steps     []Step    `json:"steps"`
	Error     string    `json:"error,omitempty"`
	Partial   bool      `json:"partial"`
}

// Step is one ladder entry.
type Step struct {
	Label string `json:"label"`
	Done  bool   `json:"done"`
}

// Orchestrator sequences "send audio, await remote verdict" behind the
// progress ladder, with cancellation. At most one analysis runs at a time.
type Orchestrator struct {
	client       *Client
	stepInterval time.Duration
	publish      func(*Result) // receives the verdict on success

	mu      sync.Mutex
	state   OrchState
	steps   []Step
	result  *Result
	lastErr error
	cancel  context.CancelFunc
	runID   int
}

// NewOrchestrator creates an orchestrator. publish is invoked with each
// successful result (e.g. to store it on the session); it may be nil.
func NewOrchestrator(client *Client, stepInterval time.Duration, publish func(*Result)) *Orchestrator {
	return &Orchestrator{
		client:       client,
		stepInterval: stepInterval,
		publish:      publish,
	}
}

// Start launches one analysis for a finalized recording. Returns
// ErrAnalysisBusy if one is already running. Failures publish an error
// state; there is no automatic retry.
func (o *Orchestrator) Start(ctx context.Context, blob []byte, ext string, patientID int, language string) error {
	o.mu.Lock()
	if o.state == OrchRunning {
		o.mu.Unlock()
		return ErrAnalysisBusy
	}
	runCtx, cancel := context.WithCancel(ctx)
	o.cancel = cancel
	o.runID++
	id := o.runID
	o.state = OrchRunning
	o.result = nil
	o.lastErr = nil
	o.steps = make([]Step, len(ProgressSteps))
	for i, label := range ProgressSteps {
		o.steps[i] = Step{Label: label}
	}
	o.mu.Unlock()

	go o.runLadder(runCtx, id)
	go o.runRequest(runCtx, id, blob, ext, patientID, language)
	return nil
}

// runLadder reveals one step per tick until all are shown or the run ends.
func (o *Orchestrator) runLadder(ctx context.Context, id int) {
	ticker := time.NewTicker(o.stepInterval)
	defer ticker.Stop()

	for i := range ProgressSteps {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
		o.mu.Lock()
		if o.runID != id || o.state != OrchRunning {
			o.mu.Unlock()
			return
		}
		o.steps[i].Done = true
		o.mu.Unlock()
	}
}

func (o *Orchestrator) runRequest(ctx context.Context, id int, blob []byte, ext string, patientID int, language string) {
	res, err := o.client.Analyze(ctx, blob, ext, patientID, language)

	o.mu.Lock()
	defer o.mu.Unlock()
	if o.runID != id || o.state != OrchRunning || ctx.Err() != nil {
		// Session was reset mid-flight: the late resolution is ignored.
		return
	}
	// The real result landed: all remaining ladder steps complete now.
	for i := range o.steps {
		o.steps[i].Done = true
	}
	if err != nil {
		o.state = OrchFailed
		o.lastErr = err
		log.Printf("Analysis failed for patient %d: %v", patientID, err)
		return
	}
	o.state = OrchDone
	o.result = res
	if res.Partial {
		log.Printf("Analysis for patient %d returned partial data", patientID)
	}
	if o.publish != nil {
		o.publish(res)
	}
}

// Reset cancels any in-flight analysis, clears pending progress timers,
// and returns to idle. Safe to call repeatedly.
func (o *Orchestrator) Reset() {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.cancel != nil {
		o.cancel()
		o.cancel = nil
	}
	o.runID++
	o.state = OrchIdle
	o.steps = nil
	o.result = nil
	o.lastErr = nil
}

// Status returns a snapshot of the current run.
func (o *Orchestrator) Status() OrchStatus {
	o.mu.Lock()
	defer o.mu.Unlock()
	st := OrchStatus{State: o.state, StateName: o.state.String()}
	st.Steps = make([]Step, len(o.steps))
	copy(st.Steps, o.steps)
	if o.lastErr != nil {
		st.Error = o.lastErr.Error()
	}
	if o.result != nil {
		st.Partial = o.result.Partial
	}
	return st
}

// Result returns the last successful verdict, or nil.
func (o *Orchestrator) Result() *Result {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.result
}

// Err returns the failure reason of the last run, or nil.
func (o *Orchestrator) Err() error {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.lastErr
}
