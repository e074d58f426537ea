// Package fusion combines per-domain risk percentages into one weighted
// clinical risk score with a tiered label.
package fusion

import (
	"errors"
	"fmt"
	"math"
	"strings"
)

// Domain is an independent evidence source contributing one risk percentage.
type Domain string

const (
	DomainVocal   Domain = "vocal"
	DomainMotor   Domain = "motor"
	DomainImaging Domain = "imaging"
)

// DomainRisk is one domain's contribution, as a percentage in [0,100].
type DomainRisk struct {
	Domain      Domain  `json:"domain"`
	RiskPercent float64 `json:"risk_percent"`
}

// Result is the fused multimodal risk verdict.
type Result struct {
	Score int    `json:"fused_score"` // 0-100
	Label string `json:"label"`
	Stage string `json:"stage"`
	Color string `json:"color"`
}

// ErrMissingDomain is returned when fusion preconditions are not met.
// The wrapped message names the missing domain(s).
var ErrMissingDomain = errors.New("missing fusion domain")

// Two-domain weights (vocal + motor).
const (
	weightVocal2 = 0.45
	weightMotor2 = 0.55
)

// Three-domain weights (vocal + motor + imaging).
const (
	weightVocal3   = 0.30
	weightMotor3   = 0.30
	weightImaging3 = 0.40
)

// MotorRiskPercent maps a discretized motor risk bucket to its fixed
// percentage contribution. The motor domain is coarse by design.
func MotorRiskPercent(bucket string) (float64, bool) {
	switch bucket {
	case "High":
		return 90, true
	case "Medium":
		return 60, true
	case "Low":
		return 20, true
	}
	return 0, false
}

// Fuse computes a fresh fused score from the currently available domain
// set. Vocal and motor are required; imaging is optional and switches the
// weighting table. Results are never cached: callers re-invoke whenever
// any upstream domain value changes.
func Fuse(risks []DomainRisk) (Result, error) {
	byDomain := map[Domain]float64{}
	for _, r := range risks {
		byDomain[r.Domain] = clamp(r.RiskPercent)
	}

	var missing []string
	if _, ok := byDomain[DomainVocal]; !ok {
		missing = append(missing, string(DomainVocal))
	}
	if _, ok := byDomain[DomainMotor]; !ok {
		missing = append(missing, string(DomainMotor))
	}
	if len(missing) > 0 {
		return Result{}, fmt.Errorf("%w: %s", ErrMissingDomain, strings.Join(missing, ", "))
	}

	vocal := byDomain[DomainVocal]
	motor := byDomain[DomainMotor]
	imaging, hasImaging := byDomain[DomainImaging]

	var fused float64
	if hasImaging {
		fused = vocal*weightVocal3 + motor*weightMotor3 + imaging*weightImaging3
	} else {
		fused = vocal*weightVocal2 + motor*weightMotor2
	}

	score := int(math.Round(fused))
	label, stage, color := classify(score, hasImaging)
	return Result{Score: score, Label: label, Stage: stage, Color: color}, nil
}

// classify maps a fused score to its tier. Thresholds are checked from
// highest to lowest; the two-domain variant uses a lower early-signs cut.
func classify(score int, threeDomain bool) (label, stage, color string) {
	earlyCut := 35
	if threeDomain {
		earlyCut = 40
	}
	switch {
	case score > 85:
		return "High Clinical Suspicion",
			"Findings consistent with established parkinsonian involvement across domains",
			"red"
	case score > 60:
		return "Moderate Concern",
			"Multiple domains deviate from healthy norms; specialist review advised",
			"orange"
	case score > earlyCut:
		return "Prodromal/Early Signs",
			"Subtle multi-domain changes; schedule follow-up monitoring",
			"yellow"
	default:
		return "Healthy",
			"All fused indicators within healthy range",
			"green"
	}
}

func clamp(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 100 {
		return 100
	}
	return v
}
