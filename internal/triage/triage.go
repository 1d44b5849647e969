// Package triage derives the rule-based injury estimate attached to a
// confirmed incident: priority level, mechanism text, per-region risks,
// hospital preparation steps, and a summary sentence for doctors.
package triage

import (
	"fmt"
	"strings"

	"github.com/banshee-data/collision.report/internal/score"
)

// Priority is the hospital dispatch priority derived from severity.
type Priority string

const (
	PriorityLow      Priority = "LOW"
	PriorityModerate Priority = "MODERATE"
	PriorityHigh     Priority = "HIGH"
	PriorityCritical Priority = "CRITICAL"
)

// Risk grades the likelihood of injury to a body region.
type Risk string

const (
	RiskLow    Risk = "LOW"
	RiskMedium Risk = "MEDIUM"
	RiskHigh   Risk = "HIGH"
)

// RegionRisk pairs a body region with its estimated risk.
type RegionRisk struct {
	Region string `json:"region"`
	Risk   Risk   `json:"risk"`
}

// Report is the full injury estimate for one incident. Field names in
// JSON match the record-keeping backend's ingest contract.
type Report struct {
	PriorityLevel    Priority     `json:"priorityLevel"`
	Mechanism        string       `json:"mechanismOfInjury"`
	RegionRisks      []RegionRisk `json:"estimatedInjuries"`
	VictimInfo       VictimInfo   `json:"victimInfo"`
	Preparation      []string     `json:"recommendedPreparation"`
	SummaryForDoctor string       `json:"summaryForDoctors"`
}

// VictimInfo carries the victim estimate forwarded downstream.
type VictimInfo struct {
	EstimatedVictims int    `json:"estimatedVictims"`
	Posture          string `json:"posture"`
}

// Input is the subset of a scored frame that drives the rules.
type Input struct {
	Severity          score.Severity
	VehicleType       string
	VictimCount       int
	CollisionDetected bool
	PersonCount       int
}

// Assess builds the injury report for one incident. Deterministic:
// a pure mapping from the input fields.
func Assess(in Input) Report {
	r := Report{
		PriorityLevel: priorityFor(in.Severity),
		VictimInfo: VictimInfo{
			EstimatedVictims: in.VictimCount,
			Posture:          "unknown",
		},
	}

	// Mechanism of injury text.
	var mech []string
	if in.CollisionDetected {
		mech = append(mech, "collision detected")
	}
	if in.VehicleType != "" {
		mech = append(mech, fmt.Sprintf("involving a %s", in.VehicleType))
	}
	if in.PersonCount > 0 {
		mech = append(mech, fmt.Sprintf("%d person(s) in scene", in.PersonCount))
	}
	r.Mechanism = strings.Join(mech, ", ")
	if r.Mechanism == "" {
		r.Mechanism = "Road traffic accident"
	}

	// Region risks by severity tier.
	switch in.Severity {
	case score.SeverityCritical, score.SeverityMajor:
		r.RegionRisks = []RegionRisk{
			{Region: "Head/Neck", Risk: RiskHigh},
			{Region: "Chest", Risk: RiskMedium},
			{Region: "Limbs", Risk: RiskMedium},
		}
	case score.SeverityMedium:
		r.RegionRisks = []RegionRisk{
			{Region: "Head/Neck", Risk: RiskMedium},
			{Region: "Limbs", Risk: RiskMedium},
		}
	default:
		r.RegionRisks = []RegionRisk{
			{Region: "Head/Neck", Risk: RiskLow},
			{Region: "Limbs", Risk: RiskLow},
		}
	}
	if in.VictimCount >= 2 {
		r.RegionRisks = append(r.RegionRisks, RegionRisk{Region: "Pelvis/Spine", Risk: RiskMedium})
	}

	// Recommended preparation checklist.
	switch r.PriorityLevel {
	case PriorityHigh, PriorityCritical:
		r.Preparation = []string{
			"Activate trauma team",
			"Prepare CT scan and X-ray",
			"Prepare IV fluids and blood units",
		}
	case PriorityModerate:
		r.Preparation = []string{"Prepare emergency doctor and X-ray"}
	default:
		r.Preparation = []string{"Basic emergency assessment"}
	}

	// Summary sentence: mechanism, victims, at-risk regions, preparation.
	var atRisk []string
	for _, rr := range r.RegionRisks {
		if rr.Risk == RiskHigh || rr.Risk == RiskMedium {
			atRisk = append(atRisk, rr.Region)
		}
	}
	regions := "no major regions identified"
	if len(atRisk) > 0 {
		regions = strings.Join(atRisk, ", ")
	}
	r.SummaryForDoctor = fmt.Sprintf(
		"%s with %d victim(s). Estimated increased risk of injuries to: %s. Recommended: %s.",
		r.Mechanism, in.VictimCount, regions, strings.Join(r.Preparation, ", "),
	)

	return r
}

func priorityFor(s score.Severity) Priority {
	switch s {
	case score.SeverityCritical:
		return PriorityCritical
	case score.SeverityMajor:
		return PriorityHigh
	case score.SeverityMedium:
		return PriorityModerate
	default:
		return PriorityLow
	}
}
