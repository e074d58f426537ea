package session

import (
	"errors"
	"testing"

	"github.com/Abhiraj-ux/neuro-voice/internal/analysis"
	"github.com/Abhiraj-ux/neuro-voice/internal/fusion"
	"github.com/Abhiraj-ux/neuro-voice/internal/tap"
)

func TestSelectingPatientClearsResults(t *testing.T) {
	s := New()
	s.SetPatient(Patient{ID: 1, Name: "A"})
	s.SetVocal(&analysis.Result{Prediction: &analysis.Prediction{RiskScore: 80}})
	s.SetMotor(&tap.Series{Risk: tap.RiskHigh})
	s.SetImaging(ImagingResult{SBRRatio: 0.6})

	s.SetPatient(Patient{ID: 2, Name: "B"})
	if s.Vocal() != nil || s.Motor() != nil || s.Imaging() != nil {
		t.Error("switching patients must drop the previous patient's results")
	}
	if got := s.Patient(); got == nil || got.ID != 2 {
		t.Errorf("Patient = %+v, want ID 2", got)
	}
}

func TestHasPatientGate(t *testing.T) {
	s := New()
	if s.HasPatient() {
		t.Error("HasPatient = true on a fresh session")
	}
	s.SetPatient(Patient{ID: 1})
	if !s.HasPatient() {
		t.Error("HasPatient = false after selection")
	}
	s.Clear()
	if s.HasPatient() {
		t.Error("HasPatient = true after Clear")
	}
}

func TestDomainRisksTwoDomain(t *testing.T) {
	s := New()
	s.SetPatient(Patient{ID: 1})
	s.SetVocal(&analysis.Result{Prediction: &analysis.Prediction{RiskScore: 80}})
	s.SetMotor(&tap.Series{Risk: tap.RiskHigh})

	risks := s.DomainRisks()
	if len(risks) != 2 {
		t.Fatalf("domains = %d, want 2", len(risks))
	}
	res, err := s.FusionResult()
	if err != nil {
		t.Fatalf("FusionResult: %v", err)
	}
	// 80*0.45 + 90*0.55 = 85.5 -> 86
	if res.Score != 86 || res.Label != "High Clinical Suspicion" {
		t.Errorf("fused = %d %q", res.Score, res.Label)
	}
}

func TestDomainRisksWithImaging(t *testing.T) {
	s := New()
	s.SetPatient(Patient{ID: 1})
	s.SetVocal(&analysis.Result{Prediction: &analysis.Prediction{RiskScore: 50}})
	s.SetMotor(&tap.Series{Risk: tap.RiskLow})
	s.SetImaging(ImagingResult{SBRRatio: 0.4}) // (1-0.4)*100 = 60

	risks := s.DomainRisks()
	if len(risks) != 3 {
		t.Fatalf("domains = %d, want 3", len(risks))
	}
	var imaging *fusion.DomainRisk
	for i := range risks {
		if risks[i].Domain == fusion.DomainImaging {
			imaging = &risks[i]
		}
	}
	if imaging == nil || imaging.RiskPercent != 60 {
		t.Errorf("imaging risk = %+v, want 60", imaging)
	}
}

func TestImagingRiskClamped(t *testing.T) {
	s := New()
	s.SetImaging(ImagingResult{SBRRatio: 1.4}) // healthy beyond 1.0 clamps to 0
	risks := s.DomainRisks()
	if len(risks) != 1 || risks[0].RiskPercent != 0 {
		t.Errorf("risks = %+v, want single imaging domain at 0", risks)
	}
}

func TestPartialVocalResultExcluded(t *testing.T) {
	s := New()
	s.SetVocal(&analysis.Result{Partial: true})
	s.SetMotor(&tap.Series{Risk: tap.RiskMedium})

	if _, err := s.FusionResult(); !errors.Is(err, fusion.ErrMissingDomain) {
		t.Errorf("FusionResult with partial vocal = %v, want ErrMissingDomain", err)
	}
}

func TestFusionWithoutMotor(t *testing.T) {
	s := New()
	s.SetVocal(&analysis.Result{Prediction: &analysis.Prediction{RiskScore: 90}})
	if _, err := s.FusionResult(); !errors.Is(err, fusion.ErrMissingDomain) {
		t.Errorf("err = %v, want ErrMissingDomain", err)
	}
}
