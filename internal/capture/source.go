package capture

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"os/exec"
	"strings"
	"sync"

	"github.com/Abhiraj-ux/neuro-voice/internal/audio"
)

// Microphone acquisition failures. Each is surfaced distinctly so the UI
// can tell the user exactly what to fix.
var (
	ErrPermissionDenied = errors.New("microphone permission denied")
	ErrDeviceNotFound   = errors.New("no microphone device found")
	ErrDeviceError      = errors.New("microphone device error")
)

// Source is a live microphone stream delivering 16kHz mono PCM.
// Read fills buf with up to len(buf) samples and returns the count; a
// return of (0, nil) means no data right now. Close releases the
// underlying track and must be safe to call once per acquisition.
type Source interface {
	Read(buf []int16) (int, error)
	Close() error
	Label() string
}

// SourceFactory acquires a fresh microphone stream. The recorder's state
// machine guarantees at most one acquired source at a time.
type SourceFactory func(ctx context.Context) (Source, error)

// FFmpegSource captures the local default microphone by piping raw s16le
// PCM out of an ffmpeg process.
type FFmpegSource struct {
	cmd    *exec.Cmd
	stdout io.ReadCloser
	stderr *bytes.Buffer
	label  string

	mu     sync.Mutex
	closed bool
}

// NewFFmpegSource spawns ffmpeg reading from the given input spec, e.g.
// "alsa:default" or "avfoundation::default".
func NewFFmpegSource(ctx context.Context, deviceSpec string) (Source, error) {
	if _, err := exec.LookPath("ffmpeg"); err != nil {
		return nil, fmt.Errorf("%w: ffmpeg not installed", ErrDeviceNotFound)
	}
	format, device, ok := strings.Cut(deviceSpec, ":")
	if !ok || format == "" || device == "" {
		return nil, fmt.Errorf("%w: bad input device spec %q", ErrDeviceError, deviceSpec)
	}

	cmd := exec.CommandContext(ctx, "ffmpeg",
		"-f", format,
		"-i", device,
		"-ac", "1",
		"-ar", "16000",
		"-f", "s16le",
		"-loglevel", "error",
		"pipe:1",
	)
	var stderr bytes.Buffer
	cmd.Stderr = &stderr

	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrDeviceError, err)
	}
	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrDeviceError, err)
	}

	return &FFmpegSource{
		cmd:    cmd,
		stdout: stdout,
		stderr: &stderr,
		label:  deviceSpec,
	}, nil
}

func (s *FFmpegSource) Read(buf []int16) (int, error) {
	raw := make([]byte, len(buf)*2)
	n, err := io.ReadFull(s.stdout, raw)
	if err != nil {
		if n == 0 {
			return 0, classifyDeviceErr(s.stderr.String(), err)
		}
		// partial frame at stream end: hand back what we have
	}
	samples := audio.BytesToSamples(raw[:n-n%2])
	copy(buf, samples)
	return len(samples), nil
}

func (s *FFmpegSource) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil
	}
	s.closed = true
	s.stdout.Close()
	if s.cmd.Process != nil {
		s.cmd.Process.Kill()
	}
	s.cmd.Wait()
	return nil
}

func (s *FFmpegSource) Label() string { return "ffmpeg:" + s.label }

// classifyDeviceErr maps capture-process failures onto the distinct
// acquisition error taxonomy using ffmpeg's stderr output.
func classifyDeviceErr(stderr string, cause error) error {
	low := strings.ToLower(stderr)
	switch {
	case strings.Contains(low, "permission denied"), strings.Contains(low, "not permitted"):
		return fmt.Errorf("%w: %s", ErrPermissionDenied, strings.TrimSpace(stderr))
	case strings.Contains(low, "no such"), strings.Contains(low, "not found"), strings.Contains(low, "cannot find"):
		return fmt.Errorf("%w: %s", ErrDeviceNotFound, strings.TrimSpace(stderr))
	case stderr != "":
		return fmt.Errorf("%w: %s", ErrDeviceError, strings.TrimSpace(stderr))
	default:
		return fmt.Errorf("%w: %v", ErrDeviceError, cause)
	}
}
