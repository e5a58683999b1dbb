package model

import (
	"time"
)

// Step names one stage of the analysis pipeline.
type Step string

const (
	StepLoadInput             Step = "load-input"
	StepCollectEvidence       Step = "collect-evidence"
	StepEvidenceQualityCheck  Step = "evidence-quality-check"
	StepGenerateOpportunities Step = "generate-opportunities"
	StepValidateOpportunities Step = "validate-opportunities"
	StepComputeScores         Step = "compute-scores"
	StepPersistArtifacts      Step = "persist-artifacts"
	StepFinalize              Step = "finalize"
)

// Steps lists every pipeline step in execution order.
var Steps = []Step{
	StepLoadInput,
	StepCollectEvidence,
	StepEvidenceQualityCheck,
	StepGenerateOpportunities,
	StepValidateOpportunities,
	StepComputeScores,
	StepPersistArtifacts,
	StepFinalize,
}

// Valid reports whether s is one of the known pipeline steps.
func (s Step) Valid() bool {
	for _, known := range Steps {
		if s == known {
			return true
		}
	}
	return false
}

// Index returns the position of s in Steps, or -1.
func (s Step) Index() int {
	for i, known := range Steps {
		if s == known {
			return i
		}
	}
	return -1
}

// StepStatus represents the lifecycle state of a single step.
type StepStatus string

const (
	StepStatusPending   StepStatus = "pending"
	StepStatusRunning   StepStatus = "running"
	StepStatusCompleted StepStatus = "completed"
	StepStatusFailed    StepStatus = "failed"
)

// StepStatusEntry is one step's state within a run.
type StepStatusEntry struct {
	Status      StepStatus `json:"status"`
	StartedAt   *time.Time `json:"started_at,omitempty"`
	CompletedAt *time.Time `json:"completed_at,omitempty"`
	ClaimID     string     `json:"claim_id,omitempty"` // token written by the caller that marked the step running
	Error       string     `json:"error,omitempty"`
}

// StepStatusMap holds at most one entry per step.
type StepStatusMap map[Step]StepStatusEntry

// Status returns the status of step, defaulting to pending.
func (m StepStatusMap) Status(step Step) StepStatus {
	e, ok := m[step]
	if !ok || e.Status == "" {
		return StepStatusPending
	}
	return e.Status
}

// Entry returns the entry for step. Missing entries read as pending.
func (m StepStatusMap) Entry(step Step) StepStatusEntry {
	e := m[step]
	if e.Status == "" {
		e.Status = StepStatusPending
	}
	return e
}

// Clone returns a copy of m that can be mutated without affecting m.
func (m StepStatusMap) Clone() StepStatusMap {
	out := make(StepStatusMap, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}

// NewStepStatusMap returns a map with every pipeline step pending.
func NewStepStatusMap() StepStatusMap {
	m := make(StepStatusMap, len(Steps))
	for _, s := range Steps {
		m[s] = StepStatusEntry{Status: StepStatusPending}
	}
	return m
}

// Run is one execution attempt of the analysis pipeline for a project.
type Run struct {
	ID        string        `json:"id"`
	ProjectID string        `json:"project_id"`
	Steps     StepStatusMap `json:"steps"`
	Version   int64         `json:"version"`
	CreatedAt time.Time     `json:"created_at"`
	UpdatedAt time.Time     `json:"updated_at"`
}

// Finished reports whether every step has completed.
func (r *Run) Finished() bool {
	for _, s := range Steps {
		if r.Steps.Status(s) != StepStatusCompleted {
			return false
		}
	}
	return true
}
