// Package tap runs the finger-tap motor test and derives rhythm-stability
// statistics from the recorded tap timestamps.
package tap

import (
	"errors"
	"math"
	"sync"
	"time"
)

// Phase is the collector's lifecycle position.
type Phase int

const (
	PhaseIntro Phase = iota
	PhaseReady
	PhaseTesting
	PhaseResult
)

func (p Phase) String() string {
	switch p {
	case PhaseIntro:
		return "intro"
	case PhaseReady:
		return "ready"
	case PhaseTesting:
		return "testing"
	case PhaseResult:
		return "result"
	}
	return "unknown"
}

// Risk is the discretized motor risk bucket.
type Risk string

const (
	RiskLow    Risk = "Low"
	RiskMedium Risk = "Medium"
	RiskHigh   Risk = "High"
)

// Series holds the rhythm statistics computed from one test window.
type Series struct {
	Taps           int       `json:"taps"`
	Intervals      []float64 `json:"intervals_ms"`
	MeanIntervalMs float64   `json:"mean_interval_ms"`
	StdDevMs       float64   `json:"std_dev_ms"`
	CVPercent      float64   `json:"cv_percent"`
	TapsPerSecond  float64   `json:"taps_per_second"`
	Risk           Risk      `json:"risk"`
	Stage          string    `json:"stage"`
}

var (
	ErrInsufficientTaps = errors.New("insufficient tap data: need at least 5 taps")
	ErrNotTesting       = errors.New("tap test is not running")
	ErrWrongPhase       = errors.New("invalid tap test transition")
)

const minTaps = 5

// Collector is the tap test state machine: Intro -> Ready -> Testing -> Result.
type Collector struct {
	windowSec int
	onFinish  func(*Series)

	mu       sync.Mutex
	phase    Phase
	taps     []float64 // timestamps in ms
	result   *Series
	lastErr  error
	deadline *time.Timer
}

// NewCollector creates a collector with the given test window in seconds.
func NewCollector(windowSec int) *Collector {
	if windowSec <= 0 {
		windowSec = 15
	}
	return &Collector{windowSec: windowSec, phase: PhaseIntro}
}

// OnFinish registers a callback invoked with the computed series after
// any successful finish, whether the countdown expired on its own or the
// test was stopped explicitly. Set before the first Start.
func (c *Collector) OnFinish(fn func(*Series)) { c.onFinish = fn }

// Begin moves from the instructions screen to the armed state.
func (c *Collector) Begin() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.phase != PhaseIntro {
		return ErrWrongPhase
	}
	c.phase = PhaseReady
	return nil
}

// Start opens the tap window and arms the countdown. When the countdown
// fires the test finishes itself.
func (c *Collector) Start() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.phase != PhaseReady {
		return ErrWrongPhase
	}
	c.phase = PhaseTesting
	c.taps = c.taps[:0]
	c.result = nil
	c.lastErr = nil
	c.deadline = time.AfterFunc(time.Duration(c.windowSec)*time.Second, func() {
		c.Finish()
	})
	return nil
}

// Tap records one tap timestamp (milliseconds, any monotonic origin).
// Input device does not matter; only the timestamp is kept. Taps outside
// the Testing phase are rejected.
func (c *Collector) Tap(timestampMs float64) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.phase != PhaseTesting {
		return ErrNotTesting
	}
	c.taps = append(c.taps, timestampMs)
	return nil
}

// Finish closes the tap window (countdown expiry or explicit early stop)
// and computes the series. With fewer than 5 taps no statistics are
// produced and the collector returns to Intro for a retry.
func (c *Collector) Finish() (*Series, error) {
	c.mu.Lock()
	if c.phase != PhaseTesting {
		c.mu.Unlock()
		return nil, ErrNotTesting
	}
	if c.deadline != nil {
		c.deadline.Stop()
		c.deadline = nil
	}

	if len(c.taps) < minTaps {
		c.phase = PhaseIntro
		c.lastErr = ErrInsufficientTaps
		c.mu.Unlock()
		return nil, ErrInsufficientTaps
	}

	s := computeSeries(c.taps, c.windowSec)
	c.result = s
	c.phase = PhaseResult
	c.mu.Unlock()

	if c.onFinish != nil {
		c.onFinish(s)
	}
	return s, nil
}

// Reset returns to the Intro phase from anywhere, discarding any result.
func (c *Collector) Reset() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.deadline != nil {
		c.deadline.Stop()
		c.deadline = nil
	}
	c.phase = PhaseIntro
	c.taps = nil
	c.result = nil
	c.lastErr = nil
}

// Phase returns the current lifecycle phase.
func (c *Collector) Phase() Phase {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.phase
}

// Result returns the last computed series, or nil.
func (c *Collector) Result() *Series {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.result
}

// TapCount returns how many taps have been recorded in the open window.
func (c *Collector) TapCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.taps)
}

func computeSeries(taps []float64, windowSec int) *Series {
	intervals := make([]float64, 0, len(taps)-1)
	for i := 1; i < len(taps); i++ {
		intervals = append(intervals, taps[i]-taps[i-1])
	}

	mean := 0.0
	for _, iv := range intervals {
		mean += iv
	}
	mean /= float64(len(intervals))

	variance := 0.0
	for _, iv := range intervals {
		d := iv - mean
		variance += d * d
	}
	variance /= float64(len(intervals))
	stddev := math.Sqrt(variance)

	cv := 0.0
	if mean > 0 {
		cv = stddev / mean * 100
	}
	speed := float64(len(taps)) / float64(windowSec)

	risk, stage := Classify(cv, speed)
	return &Series{
		Taps:           len(taps),
		Intervals:      intervals,
		MeanIntervalMs: mean,
		StdDevMs:       stddev,
		CVPercent:      cv,
		TapsPerSecond:  speed,
		Risk:           risk,
		Stage:          stage,
	}
}

// Classify buckets tap irregularity and speed into a motor risk level.
// High is checked before Medium: either excessive rhythm variability OR
// slow tapping is enough to escalate.
func Classify(cvPercent, tapsPerSecond float64) (Risk, string) {
	switch {
	case cvPercent > 35 || tapsPerSecond < 2.5:
		return RiskHigh, "Marked bradykinesia or rhythm instability; consistent with significant motor involvement"
	case cvPercent > 20 || tapsPerSecond < 4:
		return RiskMedium, "Mild slowing or irregular tap rhythm; early motor changes possible"
	default:
		return RiskLow, "Tap speed and rhythm within healthy range"
	}
}
