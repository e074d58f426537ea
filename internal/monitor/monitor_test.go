package monitor

import (
	"math"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/Abhiraj-ux/neuro-voice/internal/audio"
	"github.com/Abhiraj-ux/neuro-voice/internal/stream"
)

func tone(freq float64, samples int) []int16 {
	out := make([]int16, samples)
	for i := range out {
		out[i] = int16(12000 * math.Sin(2*math.Pi*freq*float64(i)/float64(audio.SampleRate)))
	}
	return out
}

func TestGoertzelPicksOutTone(t *testing.T) {
	sig := tone(1000, 512)
	at := goertzel(sig, 1000)
	off := goertzel(sig, 3100)
	if at <= off*3 {
		t.Errorf("goertzel at tone = %v, off tone = %v; want clear separation", at, off)
	}
}

func TestBandLevelsShape(t *testing.T) {
	levels := bandLevels(tone(440, 512))
	if len(levels) != Bands {
		t.Fatalf("bands = %d, want %d", len(levels), Bands)
	}
	for i, v := range levels {
		if v < 0 || v > 1 {
			t.Errorf("band %d = %v, want within [0,1]", i, v)
		}
	}
}

func TestSamplerLifecycle(t *testing.T) {
	b := stream.NewBroadcaster()
	s := NewAmplitudeSampler(b)

	s.Start()
	s.Start() // double start is a no-op
	if b.Listeners() != 1 {
		t.Errorf("listeners = %d, want 1", b.Listeners())
	}

	for i := 0; i < 20; i++ {
		b.Publish(tone(800, audio.FrameSamples))
		time.Sleep(2 * time.Millisecond)
	}
	deadline := time.Now().Add(time.Second)
	lively := false
	for time.Now().Before(deadline) && !lively {
		for _, v := range s.Bars() {
			if v > 0 {
				lively = true
				break
			}
		}
		time.Sleep(5 * time.Millisecond)
	}
	if !lively {
		t.Fatal("bars never moved while audio was flowing")
	}

	s.Stop()
	s.Stop() // idempotent
	if b.Listeners() != 0 {
		t.Errorf("listeners after stop = %d, want 0", b.Listeners())
	}
	for i, v := range s.Bars() {
		if v != 0 {
			t.Errorf("bar %d = %v after stop, want 0", i, v)
		}
	}
}

func TestSamplerDecaysWithoutAudio(t *testing.T) {
	s := NewAmplitudeSampler(stream.NewBroadcaster())
	s.bars[3] = 1.0
	s.refresh()
	if got := s.Bars()[3]; got >= 1.0 || got <= 0 {
		t.Errorf("bar after silent refresh = %v, want eased toward zero", got)
	}
}

func asrServer(t *testing.T, script []TranscriptMessage) *httptest.Server {
	t.Helper()
	up := websocket.Upgrader{}
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := up.Upgrade(w, r, nil)
		if err != nil {
			t.Errorf("upgrade: %v", err)
			return
		}
		defer conn.Close()
		// Expect at least one binary audio frame before answering.
		mt, _, err := conn.ReadMessage()
		if err != nil {
			return
		}
		if mt != websocket.BinaryMessage {
			t.Errorf("first message type = %d, want binary", mt)
		}
		for _, msg := range script {
			if err := conn.WriteJSON(msg); err != nil {
				return
			}
		}
		// hold the connection until the client hangs up
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}))
}

func TestTranscriberCollectsFinalsOnly(t *testing.T) {
	srv := asrServer(t, []TranscriptMessage{
		{Type: "partial", Text: "the quick"},
		{Type: "final", Text: "the quick brown fox"},
		{Type: "partial", Text: "jumps"},
	})
	defer srv.Close()

	b := stream.NewBroadcaster()
	tr := NewTranscriber("ws"+strings.TrimPrefix(srv.URL, "http"), b)
	tr.Start()
	defer tr.Stop()

	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		tx := tr.Transcript()
		if len(tx.Lines) > 0 && tx.Partial != "" {
			break
		}
		b.Publish(make([]int16, audio.FrameSamples))
		time.Sleep(5 * time.Millisecond)
	}

	got := tr.Transcript()
	if len(got.Lines) != 1 || got.Lines[0] != "the quick brown fox" {
		t.Errorf("Lines = %v, want the single final segment", got.Lines)
	}
	if got.Partial != "jumps" {
		t.Errorf("Partial = %q, want latest hypothesis", got.Partial)
	}
}

func TestTranscriberSurvivesDeadService(t *testing.T) {
	b := stream.NewBroadcaster()
	tr := NewTranscriber("ws://127.0.0.1:1/asr", b)
	tr.Start()
	// Failure to connect must not panic or wedge the broadcaster.
	for i := 0; i < 5; i++ {
		b.Publish(make([]int16, audio.FrameSamples))
	}
	time.Sleep(50 * time.Millisecond)
	tr.Stop()
	tr.Stop()
	if got := tr.Transcript(); len(got.Lines) != 0 {
		t.Errorf("Lines = %v, want empty", got.Lines)
	}
}
