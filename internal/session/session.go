// Package session holds the per-visit clinical context: the selected
// patient and whatever domain results have been collected so far.
package session

import (
	"sync"

	"github.com/Abhiraj-ux/neuro-voice/internal/analysis"
	"github.com/Abhiraj-ux/neuro-voice/internal/fusion"
	"github.com/Abhiraj-ux/neuro-voice/internal/tap"
)

// Patient identifies the screening subject.
type Patient struct {
	ID       int    `json:"id"`
	Name     string `json:"name"`
	Age      int    `json:"age,omitempty"`
	Language string `json:"language,omitempty"`
	Email    string `json:"email,omitempty"`
}

// ImagingResult carries an externally supplied DaTscan summary. SBR is
// the striatal binding ratio; healthy scans sit near 1.0 and lower
// ratios indicate dopaminergic loss.
type ImagingResult struct {
	SBRRatio  float64 `json:"sbr_ratio"`
	Asymmetry float64 `json:"asymmetry,omitempty"`
	Status    string  `json:"status,omitempty"`
}

// Session is the mutable visit state shared across handlers. All
// accessors are safe for concurrent use.
type Session struct {
	mu      sync.RWMutex
	patient *Patient
	vocal   *analysis.Result
	motor   *tap.Series
	imaging *ImagingResult
}

func New() *Session { return &Session{} }

// SetPatient selects the subject and clears any results carried over
// from the previous one.
func (s *Session) SetPatient(p Patient) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.patient = &p
	s.vocal = nil
	s.motor = nil
	s.imaging = nil
}

func (s *Session) Patient() *Patient {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.patient
}

// HasPatient reports whether a subject is selected; used as the
// recording gate.
func (s *Session) HasPatient() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.patient != nil
}

func (s *Session) SetVocal(r *analysis.Result) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.vocal = r
}

func (s *Session) Vocal() *analysis.Result {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.vocal
}

func (s *Session) SetMotor(series *tap.Series) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.motor = series
}

func (s *Session) Motor() *tap.Series {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.motor
}

func (s *Session) SetImaging(img ImagingResult) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.imaging = &img
}

func (s *Session) Imaging() *ImagingResult {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.imaging
}

// Clear drops the subject and all collected results.
func (s *Session) Clear() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.patient = nil
	s.vocal = nil
	s.motor = nil
	s.imaging = nil
}

// DomainRisks converts whatever has been collected into per-domain risk
// percents. Domains without data are simply absent; the fusion scorer
// decides whether enough are present.
func (s *Session) DomainRisks() []fusion.DomainRisk {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var risks []fusion.DomainRisk
	if s.vocal != nil && !s.vocal.Partial {
		risks = append(risks, fusion.DomainRisk{Domain: fusion.DomainVocal, RiskPercent: s.vocal.VocalRisk()})
	}
	if s.motor != nil {
		if pct, ok := fusion.MotorRiskPercent(string(s.motor.Risk)); ok {
			risks = append(risks, fusion.DomainRisk{Domain: fusion.DomainMotor, RiskPercent: pct})
		}
	}
	if s.imaging != nil {
		pct := (1 - s.imaging.SBRRatio) * 100
		if pct < 0 {
			pct = 0
		}
		if pct > 100 {
			pct = 100
		}
		risks = append(risks, fusion.DomainRisk{Domain: fusion.DomainImaging, RiskPercent: pct})
	}
	return risks
}

// FusionResult combines the collected domains into the final screening
// verdict.
func (s *Session) FusionResult() (fusion.Result, error) {
	return fusion.Fuse(s.DomainRisks())
}
