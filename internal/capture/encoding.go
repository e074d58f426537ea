package capture

import (
	"bytes"
	"fmt"
	"io"
	"os/exec"
	"sync"

	"github.com/pion/rtp"
	"github.com/pion/webrtc/v4/pkg/media/oggwriter"
	"gopkg.in/hraban/opus.v2"

	"github.com/Abhiraj-ux/neuro-voice/internal/audio"
)

// Container MIME types, in the order the recorder prefers them.
const (
	MimeOggOpus  = "audio/ogg;codecs=opus"
	MimeM4A      = "audio/mp4"
	MimeWebMOpus = "audio/webm;codecs=opus"
	MimeWAV      = "audio/wav"
)

// Encoder consumes 16kHz mono PCM frames and produces a finished
// container blob. Finalize may only be called once; after it, Write is
// invalid. Abort releases everything the encoder holds (child
// processes, pipes) without producing output; it is idempotent and a
// no-op after Finalize.
type Encoder interface {
	Write(frame []int16) error
	Finalize() ([]byte, error)
	Abort()
	MimeType() string
}

// Encoding binds a MIME type to its upload extension and encoder
// constructor. Available reports whether this machine can produce it.
type Encoding struct {
	MimeType  string
	Ext       string
	Available func() bool
	New       func() (Encoder, error)
}

// Encodings returns the supported containers in preference order. WAV is
// last and always available; it is the guaranteed fallback.
func Encodings() []Encoding {
	return []Encoding{
		{MimeOggOpus, "ogg", opusAvailable, func() (Encoder, error) { return newOggOpusEncoder() }},
		{MimeM4A, "m4a", ffmpegAvailable, func() (Encoder, error) {
			return newFFmpegEncoder(MimeM4A, "m4a", "-c:a", "aac", "-movflags", "frag_keyframe+empty_moov", "-f", "mp4")
		}},
		{MimeWebMOpus, "webm", ffmpegAvailable, func() (Encoder, error) {
			return newFFmpegEncoder(MimeWebMOpus, "webm", "-c:a", "libopus", "-f", "webm")
		}},
		{MimeWAV, "wav", func() bool { return true }, func() (Encoder, error) { return newWAVEncoder(), nil }},
	}
}

// Negotiate walks the preference list and picks the first container this
// machine supports. The list must end in an always-available entry, so a
// choice is guaranteed.
func Negotiate(list []Encoding) Encoding {
	for _, e := range list {
		if e.Available() {
			return e
		}
	}
	return list[len(list)-1]
}

func opusAvailable() bool {
	_, err := opus.NewEncoder(audio.SampleRate, audio.Channels, opus.AppVoIP)
	return err == nil
}

func ffmpegAvailable() bool {
	_, err := exec.LookPath("ffmpeg")
	return err == nil
}

// oggOpusEncoder packs opus frames into an in-memory Ogg container.
type oggOpusEncoder struct {
	enc  *opus.Encoder
	ogg  *oggwriter.OggWriter
	buf  *bytes.Buffer
	pkt  []byte
	seq  uint16
	ts   uint32
	done bool
}

func newOggOpusEncoder() (*oggOpusEncoder, error) {
	enc, err := opus.NewEncoder(audio.SampleRate, audio.Channels, opus.AppVoIP)
	if err != nil {
		return nil, fmt.Errorf("opus encoder: %w", err)
	}
	buf := &bytes.Buffer{}
	// Opus granule positions always count at 48kHz regardless of the
	// encoder's input rate.
	ogg, err := oggwriter.NewWith(buf, 48000, audio.Channels)
	if err != nil {
		return nil, fmt.Errorf("ogg writer: %w", err)
	}
	return &oggOpusEncoder{
		enc: enc,
		ogg: ogg,
		buf: buf,
		pkt: make([]byte, 1275),
	}, nil
}

func (e *oggOpusEncoder) Write(frame []int16) error {
	if e.done {
		return fmt.Errorf("write after finalize")
	}
	n, err := e.enc.Encode(frame, e.pkt)
	if err != nil {
		return fmt.Errorf("opus encode: %w", err)
	}
	e.seq++
	e.ts += 960 // 20ms at the 48kHz granule rate
	packet := &rtp.Packet{
		Header: rtp.Header{
			Version:        2,
			PayloadType:    111,
			SequenceNumber: e.seq,
			Timestamp:      e.ts,
			SSRC:           0x6e657572,
		},
		Payload: append([]byte(nil), e.pkt[:n]...),
	}
	return e.ogg.WriteRTP(packet)
}

func (e *oggOpusEncoder) Finalize() ([]byte, error) {
	if e.done {
		return nil, fmt.Errorf("finalize called twice")
	}
	e.done = true
	if err := e.ogg.Close(); err != nil {
		return nil, fmt.Errorf("ogg close: %w", err)
	}
	return e.buf.Bytes(), nil
}

func (e *oggOpusEncoder) Abort() {
	if e.done {
		return
	}
	e.done = true
	e.ogg.Close()
}

func (e *oggOpusEncoder) MimeType() string { return MimeOggOpus }

// wavEncoder buffers PCM and wraps it in a RIFF header on finalize.
type wavEncoder struct {
	samples []int16
	done    bool
}

func newWAVEncoder() *wavEncoder { return &wavEncoder{} }

func (e *wavEncoder) Write(frame []int16) error {
	if e.done {
		return fmt.Errorf("write after finalize")
	}
	e.samples = append(e.samples, frame...)
	return nil
}

func (e *wavEncoder) Finalize() ([]byte, error) {
	if e.done {
		return nil, fmt.Errorf("finalize called twice")
	}
	e.done = true
	return audio.WAVBytes(e.samples)
}

func (e *wavEncoder) Abort() {
	e.done = true
	e.samples = nil
}

func (e *wavEncoder) MimeType() string { return MimeWAV }

// ffmpegEncoder streams PCM through an ffmpeg child process and collects
// the container bytes from its stdout.
type ffmpegEncoder struct {
	mime  string
	cmd   *exec.Cmd
	stdin io.WriteCloser

	outMu sync.Mutex
	out   bytes.Buffer
	copyD chan struct{}
	done  bool
}

func newFFmpegEncoder(mime, ext string, outArgs ...string) (*ffmpegEncoder, error) {
	args := []string{
		"-f", "s16le",
		"-ar", "16000",
		"-ac", "1",
		"-i", "pipe:0",
		"-loglevel", "error",
	}
	args = append(args, outArgs...)
	args = append(args, "pipe:1")

	cmd := exec.Command("ffmpeg", args...)
	stdin, err := cmd.StdinPipe()
	if err != nil {
		return nil, fmt.Errorf("ffmpeg stdin: %w", err)
	}
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, fmt.Errorf("ffmpeg stdout: %w", err)
	}
	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("ffmpeg start: %w", err)
	}

	e := &ffmpegEncoder{
		mime:  mime,
		cmd:   cmd,
		stdin: stdin,
		copyD: make(chan struct{}),
	}
	go func() {
		defer close(e.copyD)
		e.outMu.Lock()
		defer e.outMu.Unlock()
		io.Copy(&e.out, stdout)
	}()
	return e, nil
}

func (e *ffmpegEncoder) Write(frame []int16) error {
	if e.done {
		return fmt.Errorf("write after finalize")
	}
	_, err := e.stdin.Write(audio.SamplesToBytes(frame))
	return err
}

func (e *ffmpegEncoder) Finalize() ([]byte, error) {
	if e.done {
		return nil, fmt.Errorf("finalize called twice")
	}
	e.done = true
	e.stdin.Close()
	<-e.copyD
	if err := e.cmd.Wait(); err != nil {
		return nil, fmt.Errorf("ffmpeg encode: %w", err)
	}
	e.outMu.Lock()
	defer e.outMu.Unlock()
	return e.out.Bytes(), nil
}

// Abort kills the child process so a cancelled or failed attempt never
// leaves ffmpeg blocked on its stdin pipe.
func (e *ffmpegEncoder) Abort() {
	if e.done {
		return
	}
	e.done = true
	e.stdin.Close()
	if e.cmd.Process != nil {
		e.cmd.Process.Kill()
	}
	<-e.copyD
	e.cmd.Wait()
}

func (e *ffmpegEncoder) MimeType() string { return e.mime }
