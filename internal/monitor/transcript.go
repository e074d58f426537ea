package monitor

import (
	"context"
	"log"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/Abhiraj-ux/neuro-voice/internal/audio"
)

// TranscriptMessage is one decoder update from the speech service.
// Partial hypotheses replace each other; final segments accumulate.
type TranscriptMessage struct {
	Type string `json:"type"` // "partial" or "final"
	Text string `json:"text"`
}

// Transcript is the current transcription view.
type Transcript struct {
	Lines   []string `json:"lines"`
	Partial string   `json:"partial,omitempty"`
}

// Transcriber streams capture audio to an external speech recognition
// socket and collects the returned text. It is strictly best-effort: any
// connection or protocol failure is logged and the transcript simply
// stays empty, never affecting the recording.
type Transcriber struct {
	url    string
	source FrameSource

	mu      sync.Mutex
	lines   []string
	partial string
	running bool
	cancel  context.CancelFunc
	unsub   func()
}

// NewTranscriber requires a non-empty socket URL; callers skip
// construction entirely when transcription is not configured.
func NewTranscriber(socketURL string, source FrameSource) *Transcriber {
	return &Transcriber{url: socketURL, source: source}
}

// Start connects and begins streaming. Driven by the recorder lifecycle.
func (t *Transcriber) Start() {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.running {
		return
	}
	t.running = true
	t.lines = nil
	t.partial = ""
	ctx, cancel := context.WithCancel(context.Background())
	t.cancel = cancel
	frames, unsub := t.source.Subscribe(32)
	t.unsub = unsub
	go t.run(ctx, frames)
}

// Stop ends the stream, keeping whatever was transcribed. Idempotent.
func (t *Transcriber) Stop() {
	t.mu.Lock()
	defer t.mu.Unlock()
	if !t.running {
		return
	}
	t.running = false
	t.cancel()
	t.unsub()
}

func (t *Transcriber) run(ctx context.Context, frames <-chan []int16) {
	dialer := websocket.Dialer{HandshakeTimeout: 5 * time.Second}
	conn, _, err := dialer.DialContext(ctx, t.url, nil)
	if err != nil {
		log.Printf("Transcription unavailable: %v", err)
		for range frames {
			// drain until unsubscribed so the broadcaster keeps flowing
		}
		return
	}
	defer conn.Close()

	go t.readLoop(conn)

	for {
		select {
		case <-ctx.Done():
			conn.WriteMessage(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
			return
		case f, ok := <-frames:
			if !ok {
				return
			}
			if err := conn.WriteMessage(websocket.BinaryMessage, audio.SamplesToBytes(f)); err != nil {
				log.Printf("Transcription send failed: %v", err)
				return
			}
		}
	}
}

func (t *Transcriber) readLoop(conn *websocket.Conn) {
	for {
		var msg TranscriptMessage
		if err := conn.ReadJSON(&msg); err != nil {
			return
		}
		t.mu.Lock()
		switch msg.Type {
		case "final":
			if msg.Text != "" {
				t.lines = append(t.lines, msg.Text)
			}
			t.partial = ""
		case "partial":
			t.partial = msg.Text
		}
		t.mu.Unlock()
	}
}

// Transcript returns a copy of the text collected so far.
func (t *Transcriber) Transcript() Transcript {
	t.mu.Lock()
	defer t.mu.Unlock()
	lines := make([]string, len(t.lines))
	copy(lines, t.lines)
	return Transcript{Lines: lines, Partial: t.partial}
}
