// Package monitor derives the live recording view: per-band amplitude
// bars at display cadence and an optional streaming transcript.
package monitor

import (
	"context"
	"math"
	"sync"
	"time"

	"github.com/Abhiraj-ux/neuro-voice/internal/audio"
)

// Bands is the number of amplitude bars in the live view.
const Bands = 24

// tickInterval approximates one display frame.
const tickInterval = 16 * time.Millisecond

// windowSamples is how much recent audio each bar reading looks at.
const windowSamples = 512

// FrameSource hands out a subscription to the live PCM fan-out;
// satisfied by stream.Broadcaster.
type FrameSource interface {
	Subscribe(buffer int) (<-chan []int16, func())
}

// AmplitudeSampler keeps a rolling window of recent capture audio and
// recomputes the 24 band levels on every display tick. Each reading
// replaces the previous one whole; nothing accumulates.
type AmplitudeSampler struct {
	source FrameSource

	mu      sync.Mutex
	bars    []float64
	window  []int16
	cancel  context.CancelFunc
	unsub   func()
	running bool
}

func NewAmplitudeSampler(source FrameSource) *AmplitudeSampler {
	return &AmplitudeSampler{
		source: source,
		bars:   make([]float64, Bands),
		window: make([]int16, 0, windowSamples),
	}
}

// Start begins sampling. Safe to call only from the stopped state; the
// recorder drives the lifecycle.
func (a *AmplitudeSampler) Start() {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.running {
		return
	}
	a.running = true
	ctx, cancel := context.WithCancel(context.Background())
	a.cancel = cancel
	frames, unsub := a.source.Subscribe(16)
	a.unsub = unsub
	go a.run(ctx, frames)
}

// Stop halts sampling and zeroes the bars. Idempotent.
func (a *AmplitudeSampler) Stop() {
	a.mu.Lock()
	defer a.mu.Unlock()
	if !a.running {
		return
	}
	a.running = false
	a.cancel()
	a.unsub()
	a.window = a.window[:0]
	for i := range a.bars {
		a.bars[i] = 0
	}
}

func (a *AmplitudeSampler) run(ctx context.Context, frames <-chan []int16) {
	ticker := time.NewTicker(tickInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case f, ok := <-frames:
			if !ok {
				return
			}
			a.absorb(f)
		case <-ticker.C:
			a.refresh()
		}
	}
}

// absorb appends a frame to the rolling window, keeping only the most
// recent windowSamples.
func (a *AmplitudeSampler) absorb(frame []int16) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.window = append(a.window, frame...)
	if n := len(a.window); n > windowSamples {
		a.window = a.window[n-windowSamples:]
	}
}

// refresh recomputes every bar from the current window. When capture
// pauses the bars ease back toward silence instead of freezing.
func (a *AmplitudeSampler) refresh() {
	a.mu.Lock()
	defer a.mu.Unlock()
	if len(a.window) == 0 {
		for i := range a.bars {
			a.bars[i] *= 0.8
		}
		return
	}
	next := bandLevels(a.window)
	for i := range a.bars {
		a.bars[i] = next[i]
	}
}

// Bars returns a copy of the current band levels, each in [0,1].
func (a *AmplitudeSampler) Bars() []float64 {
	a.mu.Lock()
	defer a.mu.Unlock()
	out := make([]float64, Bands)
	copy(out, a.bars)
	return out
}

// bandLevels measures per-band energy with a Goertzel filter at each
// band's center frequency, spread across the speech range.
func bandLevels(window []int16) [Bands]float64 {
	var levels [Bands]float64
	const loHz, hiHz = 100.0, 4000.0
	for b := 0; b < Bands; b++ {
		frac := float64(b) / float64(Bands-1)
		freq := loHz * math.Pow(hiHz/loHz, frac)
		mag := goertzel(window, freq)
		// perceptual easing so quiet speech still moves the bars
		levels[b] = audio.Smoothstep(math.Min(1, mag*4))
	}
	return levels
}

// goertzel returns the normalized magnitude of one frequency component.
func goertzel(samples []int16, freq float64) float64 {
	n := len(samples)
	if n == 0 {
		return 0
	}
	k := 2 * math.Pi * freq / float64(audio.SampleRate)
	coeff := 2 * math.Cos(k)
	var s0, s1, s2 float64
	for _, v := range samples {
		s0 = float64(v)/32768 + coeff*s1 - s2
		s2 = s1
		s1 = s0
	}
	power := s1*s1 + s2*s2 - coeff*s1*s2
	if power < 0 {
		power = 0
	}
	return math.Sqrt(power) / float64(n) * 2
}
