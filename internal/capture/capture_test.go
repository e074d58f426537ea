package capture

import (
	"context"
	"errors"
	"io"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/Abhiraj-ux/neuro-voice/internal/audio"
	"github.com/Abhiraj-ux/neuro-voice/internal/health"
)

// fakeSource yields a fixed tone frame every call until closed.
type fakeSource struct {
	mu     sync.Mutex
	closed bool
	reads  atomic.Int32
	err    error // returned after the first read when set
}

func (f *fakeSource) Read(buf []int16) (int, error) {
	f.mu.Lock()
	closed := f.closed
	f.mu.Unlock()
	if closed {
		return 0, io.EOF
	}
	if f.err != nil && f.reads.Load() > 0 {
		return 0, f.err
	}
	f.reads.Add(1)
	for i := range buf {
		buf[i] = 1000
	}
	time.Sleep(time.Millisecond)
	return len(buf), nil
}

func (f *fakeSource) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.closed = true
	return nil
}

func (f *fakeSource) Label() string { return "fake" }

type fakeGate struct{ status health.Status }

func (g *fakeGate) Status() health.Status { return g.status }

type countingMonitor struct {
	starts atomic.Int32
	stops  atomic.Int32
}

func (m *countingMonitor) Start() { m.starts.Add(1) }
func (m *countingMonitor) Stop()  { m.stops.Add(1) }

type framesSink struct{ frames atomic.Int32 }

func (s *framesSink) Publish([]int16) { s.frames.Add(1) }

func testRecorder(src *fakeSource, gate BackendGate, mons ...Monitor) *Recorder {
	r := NewRecorder(
		RecorderConfig{CeilingSec: 30, MinSec: 0, MinBytes: 1},
		func(ctx context.Context) (Source, error) { return src, nil },
		gate,
		func() bool { return true },
		nil,
		mons...,
	)
	// deterministic container for tests
	r.encodings = []Encoding{{MimeWAV, "wav", func() bool { return true }, func() (Encoder, error) { return newWAVEncoder(), nil }}}
	return r
}

func TestStartGates(t *testing.T) {
	src := &fakeSource{}
	tests := []struct {
		name    string
		status  health.Status
		subject bool
		want    error
	}{
		{"no subject", health.StatusOnline, false, ErrNoSubject},
		{"backend checking", health.StatusChecking, true, ErrBackendChecking},
		{"backend offline", health.StatusOffline, true, ErrBackendOffline},
		{"model not ready", health.StatusModelNotReady, true, ErrModelNotReady},
	}
	for _, tt := range tests {
		r := testRecorder(src, &fakeGate{tt.status})
		r.subjectOK = func() bool { return tt.subject }
		if err := r.Start(context.Background()); !errors.Is(err, tt.want) {
			t.Errorf("%s: Start = %v, want %v", tt.name, err, tt.want)
		}
		if r.Status().State != StateIdle {
			t.Errorf("%s: refused start must leave recorder idle", tt.name)
		}
	}
}

func TestStartStopProducesClip(t *testing.T) {
	src := &fakeSource{}
	mon := &countingMonitor{}
	r := testRecorder(src, &fakeGate{health.StatusOnline}, mon)

	if err := r.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	if got := r.Status().State; got != StateRecording {
		t.Fatalf("state = %v, want recording", got)
	}
	if mon.starts.Load() != 1 {
		t.Errorf("monitor starts = %d, want 1", mon.starts.Load())
	}

	time.Sleep(30 * time.Millisecond)
	if err := r.Stop(); err != nil {
		t.Fatalf("Stop: %v", err)
	}
	clip, err := r.Clip()
	if err != nil {
		t.Fatalf("Clip: %v", err)
	}
	if clip.MimeType != MimeWAV || clip.Ext != "wav" {
		t.Errorf("clip container = %s/%s", clip.MimeType, clip.Ext)
	}
	if len(clip.Blob) <= 44 {
		t.Errorf("clip blob = %d bytes, want audio past the header", len(clip.Blob))
	}
	if mon.stops.Load() == 0 {
		t.Error("monitors not stopped after Stop")
	}
	src.mu.Lock()
	released := src.closed
	src.mu.Unlock()
	if !released {
		t.Error("source not released after Stop")
	}
}

func TestSecondStartRejected(t *testing.T) {
	r := testRecorder(&fakeSource{}, &fakeGate{health.StatusOnline})
	if err := r.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	defer r.Cancel()
	if err := r.Start(context.Background()); !errors.Is(err, ErrAlreadyRecording) {
		t.Errorf("second Start = %v, want ErrAlreadyRecording", err)
	}
}

func TestStopWithoutRecording(t *testing.T) {
	r := testRecorder(&fakeSource{}, &fakeGate{health.StatusOnline})
	if err := r.Stop(); !errors.Is(err, ErrNotRecording) {
		t.Errorf("Stop on idle = %v, want ErrNotRecording", err)
	}
}

func TestEmptyRecordingRejected(t *testing.T) {
	src := &fakeSource{}
	r := testRecorder(src, &fakeGate{health.StatusOnline})
	r.cfg.MinSec = 2 // immediate stop cannot have 2s elapsed

	if err := r.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	err := r.Stop()
	if !errors.Is(err, ErrEmptyRecording) {
		t.Fatalf("Stop = %v, want ErrEmptyRecording", err)
	}
	if got := r.Status().State; got != StateErrored {
		t.Errorf("state = %v, want errored", got)
	}
	if _, err := r.Clip(); err == nil {
		t.Error("Clip() succeeded for a rejected recording")
	}
	// A failed attempt blocks restart until the state is reset.
	if err := r.Start(context.Background()); !errors.Is(err, ErrNeedsReset) {
		t.Errorf("Start after error = %v, want ErrNeedsReset", err)
	}
	r.Cancel()
	if err := r.Start(context.Background()); err != nil {
		t.Errorf("Start after Cancel: %v", err)
	}
	r.Cancel()
}

func TestCancelIdempotentAndAfterStop(t *testing.T) {
	src := &fakeSource{}
	mon := &countingMonitor{}
	r := testRecorder(src, &fakeGate{health.StatusOnline}, mon)

	if err := r.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	time.Sleep(10 * time.Millisecond)
	r.Cancel()
	r.Cancel() // second cancel must not double-release
	if got := r.Status().State; got != StateIdle {
		t.Errorf("state = %v, want idle", got)
	}
	if _, err := r.Clip(); err == nil {
		t.Error("cancelled attempt produced a clip")
	}
	if mon.stops.Load() != 1 {
		t.Errorf("monitor stops = %d, want exactly 1", mon.stops.Load())
	}

	// Cancel after a clean stop is a no-op reset.
	src2 := &fakeSource{}
	r2 := testRecorder(src2, &fakeGate{health.StatusOnline})
	if err := r2.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	time.Sleep(10 * time.Millisecond)
	if err := r2.Stop(); err != nil {
		t.Fatalf("Stop: %v", err)
	}
	r2.Cancel()
	if got := r2.Status().State; got != StateIdle {
		t.Errorf("state after cancel-post-stop = %v, want idle", got)
	}
}

func TestOnStopDeliversClip(t *testing.T) {
	src := &fakeSource{}
	r := testRecorder(src, &fakeGate{health.StatusOnline})
	var delivered atomic.Int32
	r.OnStop(func(c *Clip) {
		if len(c.Blob) == 0 || c.Ext != "wav" {
			t.Errorf("hook clip = %d bytes, ext %q", len(c.Blob), c.Ext)
		}
		delivered.Add(1)
	})

	if err := r.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	time.Sleep(20 * time.Millisecond)
	if err := r.Stop(); err != nil {
		t.Fatalf("Stop: %v", err)
	}
	if delivered.Load() != 1 {
		t.Errorf("OnStop fired %d times, want 1", delivered.Load())
	}

	// A rejected recording never reaches the hook.
	src2 := &fakeSource{}
	r2 := testRecorder(src2, &fakeGate{health.StatusOnline})
	r2.cfg.MinSec = 2
	r2.OnStop(func(*Clip) { t.Error("OnStop fired for a rejected recording") })
	if err := r2.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	if err := r2.Stop(); !errors.Is(err, ErrEmptyRecording) {
		t.Fatalf("Stop = %v, want ErrEmptyRecording", err)
	}
}

func TestDeviceFailureMidCapture(t *testing.T) {
	src := &fakeSource{err: errors.New("device unplugged")}
	r := testRecorder(src, &fakeGate{health.StatusOnline})

	if err := r.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	deadline := time.Now().Add(time.Second)
	for time.Now().Before(deadline) && r.Status().State != StateErrored {
		time.Sleep(time.Millisecond)
	}
	st := r.Status()
	if st.State != StateErrored {
		t.Fatalf("state = %v, want errored after device failure", st.State)
	}
	if st.Error == "" {
		t.Error("errored state carries no reason")
	}
}

func TestPublisherReceivesFrames(t *testing.T) {
	sink := &framesSink{}
	src := &fakeSource{}
	r := testRecorder(src, &fakeGate{health.StatusOnline})
	r.publish = sink

	if err := r.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	time.Sleep(30 * time.Millisecond)
	r.Cancel()
	if sink.frames.Load() == 0 {
		t.Error("no frames published to live view")
	}
}

// trackingEncoder records lifecycle calls so teardown paths can be verified.
type trackingEncoder struct {
	wavEncoder
	aborted atomic.Int32
}

func (e *trackingEncoder) Abort() {
	e.aborted.Add(1)
	e.wavEncoder.Abort()
}

func TestFailedStartReleasesEncoder(t *testing.T) {
	enc := &trackingEncoder{}
	r := NewRecorder(
		RecorderConfig{CeilingSec: 30, MinBytes: 1},
		func(context.Context) (Source, error) { return nil, errors.New("mic unavailable") },
		&fakeGate{health.StatusOnline},
		func() bool { return true },
		nil,
	)
	r.encodings = []Encoding{{MimeWAV, "wav", func() bool { return true }, func() (Encoder, error) { return enc, nil }}}

	if err := r.Start(context.Background()); err == nil {
		t.Fatal("Start succeeded with a failing source factory")
	}
	if enc.aborted.Load() != 1 {
		t.Errorf("encoder aborted %d times after failed start, want 1", enc.aborted.Load())
	}
}

func TestCancelReleasesEncoder(t *testing.T) {
	enc := &trackingEncoder{}
	src := &fakeSource{}
	r := testRecorder(src, &fakeGate{health.StatusOnline})
	r.encodings = []Encoding{{MimeWAV, "wav", func() bool { return true }, func() (Encoder, error) { return enc, nil }}}

	if err := r.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	time.Sleep(10 * time.Millisecond)
	r.Cancel()
	if enc.aborted.Load() == 0 {
		t.Error("encoder not aborted on Cancel")
	}

	// A clean stop finalizes; Abort afterwards must stay a no-op.
	enc2 := &trackingEncoder{}
	src2 := &fakeSource{}
	r2 := testRecorder(src2, &fakeGate{health.StatusOnline})
	r2.encodings = []Encoding{{MimeWAV, "wav", func() bool { return true }, func() (Encoder, error) { return enc2, nil }}}
	if err := r2.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	time.Sleep(20 * time.Millisecond)
	if err := r2.Stop(); err != nil {
		t.Fatalf("Stop: %v", err)
	}
	if _, err := r2.Clip(); err != nil {
		t.Errorf("Clip after stop: %v", err)
	}
}

func TestDeviceFailureReleasesEncoder(t *testing.T) {
	enc := &trackingEncoder{}
	src := &fakeSource{err: errors.New("device unplugged")}
	r := testRecorder(src, &fakeGate{health.StatusOnline})
	r.encodings = []Encoding{{MimeWAV, "wav", func() bool { return true }, func() (Encoder, error) { return enc, nil }}}

	if err := r.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	deadline := time.Now().Add(time.Second)
	for time.Now().Before(deadline) && enc.aborted.Load() == 0 {
		time.Sleep(time.Millisecond)
	}
	if enc.aborted.Load() == 0 {
		t.Error("encoder not aborted after mid-capture device failure")
	}
}

func TestWAVEncoderAbort(t *testing.T) {
	e := newWAVEncoder()
	if err := e.Write(make([]int16, audio.FrameSamples)); err != nil {
		t.Fatalf("Write: %v", err)
	}
	e.Abort()
	e.Abort() // idempotent
	if err := e.Write(make([]int16, audio.FrameSamples)); err == nil {
		t.Error("Write after Abort must fail")
	}
	if _, err := e.Finalize(); err == nil {
		t.Error("Finalize after Abort must fail")
	}
}

func TestNegotiatePrefersFirstAvailable(t *testing.T) {
	no := func() bool { return false }
	yes := func() bool { return true }
	newWav := func() (Encoder, error) { return newWAVEncoder(), nil }

	list := []Encoding{
		{MimeOggOpus, "ogg", no, newWav},
		{MimeM4A, "m4a", yes, newWav},
		{MimeWAV, "wav", yes, newWav},
	}
	if got := Negotiate(list); got.MimeType != MimeM4A {
		t.Errorf("Negotiate = %s, want %s", got.MimeType, MimeM4A)
	}

	// Nothing available: the final fallback wins regardless.
	list = []Encoding{
		{MimeOggOpus, "ogg", no, newWav},
		{MimeWAV, "wav", no, newWav},
	}
	if got := Negotiate(list); got.MimeType != MimeWAV {
		t.Errorf("fallback = %s, want %s", got.MimeType, MimeWAV)
	}
}

func TestEncodingsPreferenceOrder(t *testing.T) {
	want := []string{MimeOggOpus, MimeM4A, MimeWebMOpus, MimeWAV}
	got := Encodings()
	if len(got) != len(want) {
		t.Fatalf("len = %d, want %d", len(got), len(want))
	}
	for i, e := range got {
		if e.MimeType != want[i] {
			t.Errorf("order[%d] = %s, want %s", i, e.MimeType, want[i])
		}
	}
	if last := got[len(got)-1]; !last.Available() {
		t.Error("final fallback container must always be available")
	}
}

func TestWAVEncoderRoundTrip(t *testing.T) {
	e := newWAVEncoder()
	frame := make([]int16, audio.FrameSamples)
	for i := 0; i < 50; i++ {
		if err := e.Write(frame); err != nil {
			t.Fatalf("Write: %v", err)
		}
	}
	blob, err := e.Finalize()
	if err != nil {
		t.Fatalf("Finalize: %v", err)
	}
	if want := 44 + 50*audio.FrameBytes; len(blob) != want {
		t.Errorf("blob = %d bytes, want %d", len(blob), want)
	}
	if _, err := e.Finalize(); err == nil {
		t.Error("second Finalize must fail")
	}
	if err := e.Write(frame); err == nil {
		t.Error("Write after Finalize must fail")
	}
}

func TestClassifyDeviceErr(t *testing.T) {
	tests := []struct {
		stderr string
		want   error
	}{
		{"ALSA lib: Permission denied", ErrPermissionDenied},
		{"Operation not permitted", ErrPermissionDenied},
		{"default: No such device", ErrDeviceNotFound},
		{"Device not found", ErrDeviceNotFound},
		{"Input/output error", ErrDeviceError},
		{"", ErrDeviceError},
	}
	for _, tt := range tests {
		got := classifyDeviceErr(tt.stderr, io.EOF)
		if !errors.Is(got, tt.want) {
			t.Errorf("classifyDeviceErr(%q) = %v, want %v", tt.stderr, got, tt.want)
		}
	}
}
