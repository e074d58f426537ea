package stream

import (
	"errors"
	"fmt"
	"io"
	"log"
	"net/http"
	"sync"
	"time"

	"github.com/pion/webrtc/v4"
	"gopkg.in/hraban/opus.v2"

	"github.com/Abhiraj-ux/neuro-voice/internal/audio"
	"github.com/Abhiraj-ux/neuro-voice/internal/capture"
)

// ErrIngestBusy rejects a second browser session while one microphone
// stream is live.
var ErrIngestBusy = errors.New("a microphone session is already connected")

// ErrNoIngest means no browser microphone is connected yet.
var ErrNoIngest = errors.New("no microphone session connected")

// WebRTCIngest accepts a browser's microphone over WebRTC, decodes the
// opus track to 16kHz mono PCM and exposes it as a capture source. One
// session at a time.
type WebRTCIngest struct {
	mu     sync.Mutex
	pc     *webrtc.PeerConnection
	frames chan []int16
}

func NewWebRTCIngest() *WebRTCIngest { return &WebRTCIngest{} }

// OfferHandler negotiates a new session: POST with the SDP offer in the
// body, SDP answer in the response.
func (w *WebRTCIngest) OfferHandler() http.HandlerFunc {
	return func(rw http.ResponseWriter, r *http.Request) {
		rw.Header().Set("Access-Control-Allow-Origin", "*")
		rw.Header().Set("Access-Control-Allow-Methods", "POST, OPTIONS")
		rw.Header().Set("Access-Control-Allow-Headers", "Content-Type")
		switch r.Method {
		case http.MethodOptions:
			rw.WriteHeader(http.StatusNoContent)
			return
		case http.MethodPost:
		default:
			http.Error(rw, "method not allowed", http.StatusMethodNotAllowed)
			return
		}

		body, err := io.ReadAll(io.LimitReader(r.Body, 1<<20))
		if err != nil || len(body) == 0 {
			http.Error(rw, "missing SDP offer", http.StatusBadRequest)
			return
		}

		answer, err := w.accept(string(body))
		if err != nil {
			if errors.Is(err, ErrIngestBusy) {
				http.Error(rw, err.Error(), http.StatusConflict)
				return
			}
			log.Printf("WebRTC negotiation failed: %v", err)
			http.Error(rw, "negotiation failed", http.StatusInternalServerError)
			return
		}
		rw.Header().Set("Content-Type", "application/sdp")
		io.WriteString(rw, answer)
	}
}

// accept builds a peer connection for the offered session and returns
// the local SDP answer.
func (w *WebRTCIngest) accept(offerSDP string) (string, error) {
	w.mu.Lock()
	if w.pc != nil {
		w.mu.Unlock()
		return "", ErrIngestBusy
	}
	frames := make(chan []int16, 64)
	w.frames = frames
	w.mu.Unlock()

	pc, err := webrtc.NewPeerConnection(webrtc.Configuration{})
	if err != nil {
		return "", fmt.Errorf("peer connection: %w", err)
	}

	pc.OnTrack(func(track *webrtc.TrackRemote, _ *webrtc.RTPReceiver) {
		if track.Kind() != webrtc.RTPCodecTypeAudio {
			return
		}
		log.Printf("Microphone track connected: %s", track.Codec().MimeType)
		w.decodeTrack(track, frames)
	})
	pc.OnICEConnectionStateChange(func(state webrtc.ICEConnectionState) {
		log.Printf("WebRTC ICE state: %s", state)
		if state == webrtc.ICEConnectionStateFailed || state == webrtc.ICEConnectionStateClosed {
			w.teardown()
		}
	})

	if err := pc.SetRemoteDescription(webrtc.SessionDescription{
		Type: webrtc.SDPTypeOffer,
		SDP:  offerSDP,
	}); err != nil {
		pc.Close()
		w.clear()
		return "", fmt.Errorf("set remote description: %w", err)
	}
	answer, err := pc.CreateAnswer(nil)
	if err != nil {
		pc.Close()
		w.clear()
		return "", fmt.Errorf("create answer: %w", err)
	}
	gathered := webrtc.GatheringCompletePromise(pc)
	if err := pc.SetLocalDescription(answer); err != nil {
		pc.Close()
		w.clear()
		return "", fmt.Errorf("set local description: %w", err)
	}
	<-gathered

	w.mu.Lock()
	w.pc = pc
	w.mu.Unlock()
	return pc.LocalDescription().SDP, nil
}

// decodeTrack pulls RTP off the remote track and decodes opus payloads
// down to the pipeline's 16kHz mono format.
func (w *WebRTCIngest) decodeTrack(track *webrtc.TrackRemote, frames chan<- []int16) {
	dec, err := opus.NewDecoder(audio.SampleRate, audio.Channels)
	if err != nil {
		log.Printf("Opus decoder: %v", err)
		return
	}
	pcm := make([]int16, audio.SampleRate/1000*120) // up to one 120ms opus frame
	for {
		pkt, _, err := track.ReadRTP()
		if err != nil {
			if !errors.Is(err, io.EOF) {
				log.Printf("Microphone track ended: %v", err)
			}
			return
		}
		if len(pkt.Payload) == 0 {
			continue
		}
		n, err := dec.Decode(pkt.Payload, pcm)
		if err != nil {
			log.Printf("Opus decode: %v", err)
			continue
		}
		out := make([]int16, n)
		copy(out, pcm[:n])
		select {
		case frames <- out:
		default:
			// capture loop lagging, drop
		}
	}
}

// Source returns a capture source fed by the connected session.
func (w *WebRTCIngest) Source() (capture.Source, error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.pc == nil {
		return nil, ErrNoIngest
	}
	return &ingestSource{ingest: w, frames: w.frames}, nil
}

// Connected reports whether a browser session is live.
func (w *WebRTCIngest) Connected() bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.pc != nil
}

func (w *WebRTCIngest) teardown() {
	w.mu.Lock()
	pc := w.pc
	w.pc = nil
	w.frames = nil
	w.mu.Unlock()
	if pc != nil {
		pc.Close()
	}
}

func (w *WebRTCIngest) clear() {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.frames = nil
}

// ingestSource adapts the decoded frame channel to the capture source
// contract. Reads block briefly at most; a quiet channel yields an empty
// read so the capture loop stays responsive to stop requests.
type ingestSource struct {
	ingest  *WebRTCIngest
	frames  <-chan []int16
	pending []int16
}

func (s *ingestSource) Read(buf []int16) (int, error) {
	if len(s.pending) == 0 {
		select {
		case f := <-s.frames:
			s.pending = f
		case <-time.After(250 * time.Millisecond):
			if !s.ingest.Connected() {
				return 0, io.EOF
			}
			return 0, nil
		}
	}
	n := copy(buf, s.pending)
	s.pending = s.pending[n:]
	return n, nil
}

func (s *ingestSource) Close() error {
	s.ingest.teardown()
	return nil
}

func (s *ingestSource) Label() string { return "webrtc" }
