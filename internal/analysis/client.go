// Package analysis talks to the remote NeuroVoice backend: voice analysis
// uploads, health probes, and appointment booking.
package analysis

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"
)

var (
	// ErrTimeout means the analysis pipeline exceeded its deadline. Kept
	// distinct from ErrUnavailable so the UI can word the two differently.
	ErrTimeout = errors.New("analysis timed out")
	// ErrUnavailable covers network-level failures reaching the backend.
	ErrUnavailable = errors.New("backend unavailable")
	// ErrBookingFailed marks appointment-booking failures; never conflated
	// with plain network errors on the analysis path.
	ErrBookingFailed = errors.New("appointment booking failed")
)

// Client communicates with the NeuroVoice backend REST API.
type Client struct {
	baseURL string
	http    *http.Client // long-timeout client for analysis uploads
	probe   *http.Client // short-timeout client for health probes
}

// NewClient creates a backend client. analysisTimeout is generous (the
// biomarker pipeline is slow); probeTimeout is a few seconds.
func NewClient(baseURL string, analysisTimeout, probeTimeout time.Duration) *Client {
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		http:    &http.Client{Timeout: analysisTimeout},
		probe:   &http.Client{Timeout: probeTimeout},
	}
}

// Prediction is the classifier block of an analysis result.
type Prediction struct {
	ParkinsonProb  float64 `json:"parkinson_prob"`
	RiskScore      float64 `json:"risk_score"`
	RiskLabel      string  `json:"risk_label"`
	Confidence     float64 `json:"confidence"`
	ModelVersion   string  `json:"model_version"`
	Interpretation string  `json:"interpretation"`
}

// Clinical is the optional clinical-guidance block.
type Clinical struct {
	ClinicalStage   string   `json:"clinical_stage"`
	Urgency         string   `json:"urgency"`
	Recommendations []string `json:"recommendations"`
}

// Result is one voice analysis verdict from the backend.
type Result struct {
	SessionID     int                `json:"session_id"`
	PatientID     int                `json:"patient_id"`
	RecordedAt    string             `json:"recorded_at"`
	DurationSec   float64            `json:"duration_sec"`
	Biomarkers    map[string]float64 `json:"biomarkers"`
	AbnormalFlags []string           `json:"abnormal_flags"`
	Prediction    *Prediction        `json:"prediction"`
	Clinical      *Clinical          `json:"clinical"`

	// Partial is set when the backend response was missing the prediction
	// or biomarker block. Callers surface it as degraded data, not failure.
	Partial bool `json:"-"`
}

// VocalRisk returns the 0-100 vocal risk percentage, deriving it from the
// raw classifier probability when the score field is absent.
func (r *Result) VocalRisk() float64 {
	if r.Prediction == nil {
		return 0
	}
	if r.Prediction.RiskScore > 0 {
		return r.Prediction.RiskScore
	}
	return r.Prediction.ParkinsonProb * 100
}

// VocalLabel returns the backend's label, or derives one from the risk
// score using the backend's own thresholds (<35 Low, <65 Medium).
func (r *Result) VocalLabel() string {
	if r.Prediction == nil {
		return ""
	}
	if r.Prediction.RiskLabel != "" {
		return r.Prediction.RiskLabel
	}
	switch score := r.VocalRisk(); {
	case score < 35:
		return "Low"
	case score < 65:
		return "Medium"
	default:
		return "High"
	}
}

// Analyze uploads a finalized recording blob and returns the structured
// verdict. ext is the container extension negotiated at capture time
// (m4a/ogg/wav/webm). One request per recording; no automatic retry.
func (c *Client) Analyze(ctx context.Context, blob []byte, ext string, patientID int, language string) (*Result, error) {
	var body bytes.Buffer
	w := multipart.NewWriter(&body)

	filename := fmt.Sprintf("voice_%s.%s", uuid.NewString()[:8], ext)
	fw, err := w.CreateFormFile("audio", filename)
	if err != nil {
		return nil, fmt.Errorf("build upload: %w", err)
	}
	if _, err := fw.Write(blob); err != nil {
		return nil, fmt.Errorf("build upload: %w", err)
	}
	if err := w.WriteField("language", language); err != nil {
		return nil, fmt.Errorf("build upload: %w", err)
	}
	if err := w.Close(); err != nil {
		return nil, fmt.Errorf("build upload: %w", err)
	}

	url := fmt.Sprintf("%s/patients/%d/analyze", c.baseURL, patientID)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, &body)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", w.FormDataContentType())

	resp, err := c.http.Do(req)
	if err != nil {
		if isTimeout(ctx, err) {
			return nil, fmt.Errorf("%w: %v", ErrTimeout, err)
		}
		return nil, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return nil, fmt.Errorf("analyze %s: %s", resp.Status, strings.TrimSpace(string(msg)))
	}

	var out Result
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, fmt.Errorf("analyze decode: %w", err)
	}
	if out.Prediction == nil || len(out.Biomarkers) == 0 {
		out.Partial = true
	}
	return &out, nil
}

// HealthReport is the backend's heartbeat payload.
type HealthReport struct {
	Status     string `json:"status"`
	ModelReady bool   `json:"model_ready"`
	Message    string `json:"message"`
}

// Health performs one lightweight readiness probe.
func (c *Client) Health(ctx context.Context) (*HealthReport, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/health", nil)
	if err != nil {
		return nil, err
	}
	resp, err := c.probe.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("%w: health %s", ErrUnavailable, resp.Status)
	}
	var out HealthReport
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, fmt.Errorf("%w: health decode: %v", ErrUnavailable, err)
	}
	return &out, nil
}

// BookingRequest asks the backend to schedule a neurologist appointment.
type BookingRequest struct {
	PatientID    int    `json:"patient_id"`
	DoctorName   string `json:"doctor_name"`
	Hospital     string `json:"hospital"`
	Slot         string `json:"slot"`
	PatientEmail string `json:"patient_email,omitempty"`
}

// BookingConfirmation is the backend's fire-and-confirm reply.
type BookingConfirmation struct {
	Status  string `json:"status"`
	Message string `json:"message"`
}

// BookAppointment issues one booking request. All failure modes come back
// wrapped in ErrBookingFailed so callers can word them as booking
// problems rather than generic network trouble.
func (c *Client) BookAppointment(ctx context.Context, br BookingRequest) (*BookingConfirmation, error) {
	payload, _ := json.Marshal(br)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/appointments/book", bytes.NewReader(payload))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrBookingFailed, err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.probe.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrBookingFailed, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return nil, fmt.Errorf("%w: %s: %s", ErrBookingFailed, resp.Status, strings.TrimSpace(string(msg)))
	}
	var out BookingConfirmation
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, fmt.Errorf("%w: decode: %v", ErrBookingFailed, err)
	}
	return &out, nil
}

func isTimeout(ctx context.Context, err error) bool {
	if errors.Is(ctx.Err(), context.DeadlineExceeded) {
		return true
	}
	var ne interface{ Timeout() bool }
	if errors.As(err, &ne) && ne.Timeout() {
		return true
	}
	return errors.Is(err, context.DeadlineExceeded)
}
