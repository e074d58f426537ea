package capture

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/Abhiraj-ux/neuro-voice/internal/audio"
	"github.com/Abhiraj-ux/neuro-voice/internal/health"
)

// Recording gate and lifecycle errors.
var (
	ErrNoSubject        = errors.New("no patient selected")
	ErrBackendOffline   = errors.New("backend is offline")
	ErrModelNotReady    = errors.New("backend model is not ready")
	ErrBackendChecking  = errors.New("backend status check in progress")
	ErrAlreadyRecording = errors.New("a recording is already in progress")
	ErrNotRecording     = errors.New("no recording in progress")
	ErrEmptyRecording   = errors.New("recording too short or empty")
	ErrNeedsReset       = errors.New("previous attempt failed, reset required")
)

// State is the recorder's lifecycle position.
type State int

const (
	StateIdle State = iota
	StateRecording
	StateStopped
	StateErrored
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateRecording:
		return "recording"
	case StateStopped:
		return "stopped"
	case StateErrored:
		return "errored"
	}
	return "unknown"
}

// FramePublisher receives every captured PCM frame for live consumers
// (amplitude bars, streaming transcription). Implementations must not
// block the capture loop.
type FramePublisher interface {
	Publish(frame []int16)
}

// Monitor is a live-view attachment driven by the recorder's lifecycle:
// started when capture begins, stopped when it ends for any reason.
// Stop must be idempotent.
type Monitor interface {
	Start()
	Stop()
}

// BackendGate supplies the last known backend state; satisfied by
// health.Monitor.
type BackendGate interface {
	Status() health.Status
}

// Status is the recorder's externally visible snapshot.
type Status struct {
	State     State  `json:"-"`
	StateName string `json:"state"`
	Elapsed   int    `json:"elapsed_sec"`
	Ceiling   int    `json:"ceiling_sec"`
	MimeType  string `json:"mime_type,omitempty"`
	Error     string `json:"error,omitempty"`
}

// Clip is a finished capture ready for upload.
type Clip struct {
	Blob     []byte
	MimeType string
	Ext      string
	Elapsed  int
}

// RecorderConfig bounds a capture attempt.
type RecorderConfig struct {
	CeilingSec int // hard stop, seconds
	MinSec     int // below this the result is rejected as empty
	MinBytes   int // below this the result is rejected as empty
}

// Recorder owns one microphone capture attempt at a time: acquire a
// source, pump frames into a negotiated encoder, enforce the duration
// ceiling, and validate the finished blob.
type Recorder struct {
	cfg       RecorderConfig
	newSource SourceFactory
	backend   BackendGate
	subjectOK func() bool
	publish   FramePublisher
	encodings []Encoding
	monitors  []Monitor

	onStop func(*Clip)

	mu       sync.Mutex
	state    State
	source   Source
	enc      Encoder
	mime     string
	ext      string
	elapsed  int
	lastErr  error
	clip     *Clip
	stopCh   chan struct{}
	readDone chan struct{}
	attached bool
}

// NewRecorder wires a recorder. publish may be nil when no live view is
// attached.
func NewRecorder(cfg RecorderConfig, src SourceFactory, gate BackendGate, subjectOK func() bool, publish FramePublisher, monitors ...Monitor) *Recorder {
	return &Recorder{
		cfg:       cfg,
		newSource: src,
		backend:   gate,
		subjectOK: subjectOK,
		publish:   publish,
		encodings: Encodings(),
		monitors:  monitors,
	}
}

// OnStop registers a callback invoked with the finished clip after any
// successful stop, including the automatic ceiling stop. Set before the
// first Start.
func (r *Recorder) OnStop(fn func(*Clip)) { r.onStop = fn }

// Start acquires the microphone and begins capture. All gates are
// checked before any device access so a refusal leaves nothing to
// release.
func (r *Recorder) Start(ctx context.Context) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	switch r.state {
	case StateRecording:
		return ErrAlreadyRecording
	case StateErrored:
		return fmt.Errorf("%w: %v", ErrNeedsReset, r.lastErr)
	}
	if r.subjectOK != nil && !r.subjectOK() {
		return ErrNoSubject
	}
	if r.backend != nil {
		switch r.backend.Status() {
		case health.StatusChecking:
			return ErrBackendChecking
		case health.StatusOffline:
			return ErrBackendOffline
		case health.StatusModelNotReady:
			return ErrModelNotReady
		}
	}

	chosen := Negotiate(r.encodings)
	enc, err := chosen.New()
	if err != nil {
		return fmt.Errorf("encoder %s: %w", chosen.MimeType, err)
	}

	src, err := r.newSource(ctx)
	if err != nil {
		enc.Abort()
		r.state = StateErrored
		r.lastErr = err
		return err
	}

	r.state = StateRecording
	r.source = src
	r.enc = enc
	r.mime = chosen.MimeType
	r.ext = chosen.Ext
	r.elapsed = 0
	r.clip = nil
	r.lastErr = nil
	r.stopCh = make(chan struct{})
	r.readDone = make(chan struct{})
	r.attached = true
	for _, m := range r.monitors {
		m.Start()
	}
	log.Printf("Recording started: source=%s container=%s", src.Label(), chosen.MimeType)

	go r.readLoop(src, enc, r.stopCh, r.readDone)
	go r.tickLoop(r.stopCh)
	return nil
}

// readLoop pumps source frames into the encoder and the live publisher
// until told to stop or the device fails.
func (r *Recorder) readLoop(src Source, enc Encoder, stop <-chan struct{}, done chan<- struct{}) {
	defer close(done)
	buf := make([]int16, audio.FrameSamples)
	for {
		select {
		case <-stop:
			return
		default:
		}
		n, err := src.Read(buf)
		if err != nil {
			select {
			case <-stop:
				return
			default:
			}
			log.Printf("Capture source failed: %v", err)
			go r.abort(err)
			return
		}
		if n == 0 {
			continue
		}
		frame := buf[:n]
		r.mu.Lock()
		encErr := error(nil)
		if r.state == StateRecording {
			encErr = enc.Write(frame)
		}
		r.mu.Unlock()
		if encErr != nil {
			log.Printf("Encoder write failed: %v", encErr)
			go r.abort(encErr)
			return
		}
		if r.publish != nil {
			out := make([]int16, n)
			copy(out, frame)
			r.publish.Publish(out)
		}
	}
}

// tickLoop advances the elapsed counter once per second and triggers the
// automatic stop at the ceiling.
func (r *Recorder) tickLoop(stop <-chan struct{}) {
	ticker := time.NewTicker(time.Second)
	defer ticker.Stop()
	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
		}
		r.mu.Lock()
		if r.state != StateRecording {
			r.mu.Unlock()
			return
		}
		r.elapsed++
		hitCeiling := r.elapsed >= r.cfg.CeilingSec
		r.mu.Unlock()
		if hitCeiling {
			log.Printf("Recording ceiling reached (%ds), stopping", r.cfg.CeilingSec)
			if err := r.Stop(); err != nil && !errors.Is(err, ErrNotRecording) {
				log.Printf("Ceiling stop failed: %v", err)
			}
			return
		}
	}
}

// Stop ends capture and finalizes the container. Order matters: the
// read loop drains first so buffered frames reach the encoder, then the
// encoder closes, then the device releases. A second Stop finds the
// state already advanced and refuses rather than releasing twice.
func (r *Recorder) Stop() error {
	r.mu.Lock()
	if r.state != StateRecording {
		r.mu.Unlock()
		return ErrNotRecording
	}
	close(r.stopCh)
	readDone := r.readDone
	elapsed := r.elapsed
	r.mu.Unlock()

	<-readDone

	r.mu.Lock()
	if r.state != StateRecording {
		// abort won the race
		err := r.lastErr
		r.mu.Unlock()
		return err
	}
	blob, err := r.enc.Finalize()
	r.release()
	switch {
	case err != nil:
		r.state = StateErrored
		r.lastErr = fmt.Errorf("finalize recording: %w", err)
		r.mu.Unlock()
		return r.lastErr
	case elapsed < r.cfg.MinSec || len(blob) < r.cfg.MinBytes:
		r.state = StateErrored
		r.lastErr = fmt.Errorf("%w: %ds, %d bytes", ErrEmptyRecording, elapsed, len(blob))
		log.Printf("Recording rejected: %v", r.lastErr)
		r.mu.Unlock()
		return r.lastErr
	}
	r.state = StateStopped
	clip := &Clip{Blob: blob, MimeType: r.mime, Ext: r.ext, Elapsed: elapsed}
	r.clip = clip
	r.mu.Unlock()

	log.Printf("Recording stopped: %ds, %d bytes, %s", elapsed, len(blob), r.mime)
	if r.onStop != nil {
		r.onStop(clip)
	}
	return nil
}

// abort tears down a recording after a mid-capture failure.
func (r *Recorder) abort(cause error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.state != StateRecording {
		return
	}
	select {
	case <-r.stopCh:
	default:
		close(r.stopCh)
	}
	r.release()
	r.state = StateErrored
	r.lastErr = cause
}

// Cancel discards the attempt and returns the recorder to idle, from
// any state. It never triggers analysis and is safe to call repeatedly;
// after a successful Stop it resets without touching the already
// released device.
func (r *Recorder) Cancel() {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.state == StateRecording {
		select {
		case <-r.stopCh:
		default:
			close(r.stopCh)
		}
	}
	r.release()
	r.state = StateIdle
	r.elapsed = 0
	r.clip = nil
	r.lastErr = nil
}

// release closes the source, discards the encoder, and stops monitors.
// Caller holds the lock. Safe to call when nothing is held.
func (r *Recorder) release() {
	if r.source != nil {
		r.source.Close()
		r.source = nil
	}
	if r.enc != nil {
		r.enc.Abort()
		r.enc = nil
	}
	if r.attached {
		r.attached = false
		for _, m := range r.monitors {
			m.Stop()
		}
	}
}

// Status returns a snapshot of the recorder's state.
func (r *Recorder) Status() Status {
	r.mu.Lock()
	defer r.mu.Unlock()
	s := Status{
		State:     r.state,
		StateName: r.state.String(),
		Elapsed:   r.elapsed,
		Ceiling:   r.cfg.CeilingSec,
		MimeType:  r.mime,
	}
	if r.lastErr != nil {
		s.Error = r.lastErr.Error()
	}
	return s
}

// Clip returns the finished capture, or an error when none is ready.
func (r *Recorder) Clip() (*Clip, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.state != StateStopped || r.clip == nil {
		if r.lastErr != nil {
			return nil, r.lastErr
		}
		return nil, ErrNotRecording
	}
	return r.clip, nil
}
