package stream

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/gorilla/websocket"
)

func TestBroadcasterFanOut(t *testing.T) {
	b := NewBroadcaster()
	ch1, cancel1 := b.Subscribe(4)
	ch2, cancel2 := b.Subscribe(4)
	defer cancel1()
	defer cancel2()

	frame := []int16{1, 2, 3}
	b.Publish(frame)

	for i, ch := range []<-chan []int16{ch1, ch2} {
		select {
		case got := <-ch:
			if len(got) != 3 || got[0] != 1 {
				t.Errorf("listener %d got %v", i, got)
			}
		case <-time.After(time.Second):
			t.Fatalf("listener %d never received the frame", i)
		}
	}
}

func TestBroadcasterDropsForSlowListener(t *testing.T) {
	b := NewBroadcaster()
	slow, cancel := b.Subscribe(1)
	defer cancel()

	// Nobody reads; publishes beyond the buffer must not block.
	done := make(chan struct{})
	go func() {
		defer close(done)
		for i := 0; i < 100; i++ {
			b.Publish([]int16{int16(i)})
		}
	}()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Publish blocked on a slow listener")
	}
	if got := <-slow; got[0] != 0 {
		t.Errorf("first buffered frame = %v, want the earliest", got)
	}
}

func TestUnsubscribeClosesChannel(t *testing.T) {
	b := NewBroadcaster()
	ch, cancel := b.Subscribe(1)
	cancel()
	cancel() // double cancel is fine
	if _, ok := <-ch; ok {
		t.Error("channel open after unsubscribe")
	}
	if b.Listeners() != 0 {
		t.Errorf("listeners = %d, want 0", b.Listeners())
	}
	b.Publish([]int16{1}) // must not panic
}

func TestLiveHandlerPushesSnapshots(t *testing.T) {
	var ticks atomic.Int32
	h := NewLiveHandler(func() any {
		ticks.Add(1)
		return map[string]any{"state": "recording", "elapsed_sec": 3}
	}, 10*time.Millisecond)

	srv := httptest.NewServer(h)
	defer srv.Close()

	conn, _, err := websocket.DefaultDialer.Dial("ws"+strings.TrimPrefix(srv.URL, "http"), nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer conn.Close()

	var snap map[string]any
	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	if err := conn.ReadJSON(&snap); err != nil {
		t.Fatalf("read snapshot: %v", err)
	}
	if snap["state"] != "recording" {
		t.Errorf("snapshot = %v", snap)
	}
	if err := conn.ReadJSON(&snap); err != nil {
		t.Fatalf("second snapshot: %v", err)
	}
	if ticks.Load() < 2 {
		t.Errorf("snapshot fn called %d times, want repeated pushes", ticks.Load())
	}
}

func TestOfferHandlerMethodGate(t *testing.T) {
	w := NewWebRTCIngest()
	h := w.OfferHandler()

	rec := httptest.NewRecorder()
	h(rec, httptest.NewRequest(http.MethodOptions, "/webrtc/offer", nil))
	if rec.Code != http.StatusNoContent {
		t.Errorf("OPTIONS = %d, want 204", rec.Code)
	}
	if rec.Header().Get("Access-Control-Allow-Origin") == "" {
		t.Error("missing CORS header on preflight")
	}

	rec = httptest.NewRecorder()
	h(rec, httptest.NewRequest(http.MethodGet, "/webrtc/offer", nil))
	if rec.Code != http.StatusMethodNotAllowed {
		t.Errorf("GET = %d, want 405", rec.Code)
	}

	rec = httptest.NewRecorder()
	h(rec, httptest.NewRequest(http.MethodPost, "/webrtc/offer", nil))
	if rec.Code != http.StatusBadRequest {
		t.Errorf("empty POST = %d, want 400", rec.Code)
	}
}

func TestSourceWithoutSession(t *testing.T) {
	w := NewWebRTCIngest()
	if _, err := w.Source(); err == nil {
		t.Error("Source() succeeded with no connected session")
	}
	if w.Connected() {
		t.Error("Connected = true with no session")
	}
}

func TestLiveHandlerSnapshotIsJSON(t *testing.T) {
	// The snapshot payload must serialize; catches accidental channels or
	// funcs sneaking into the view model.
	h := NewLiveHandler(func() any {
		return map[string]any{"bars": []float64{0.1, 0.2}, "transcript": []string{"hello"}}
	}, time.Millisecond)
	if _, err := json.Marshal(h.snapshot()); err != nil {
		t.Fatalf("snapshot not serializable: %v", err)
	}
}
