package model

import (
	"encoding/json"
	"time"
)

// ArtifactType identifies which step produced an artifact.
type ArtifactType string

const (
	ArtifactInput                  ArtifactType = "input"
	ArtifactEvidenceCollection     ArtifactType = "evidence_collection"
	ArtifactEvidenceQuality        ArtifactType = "evidence_quality"
	ArtifactOpportunitiesDraft     ArtifactType = "opportunities_draft"
	ArtifactOpportunitiesValidated ArtifactType = "opportunities_validated"
	ArtifactScores                 ArtifactType = "scores"
	ArtifactOpportunities          ArtifactType = "opportunities"
	ArtifactRunSummary             ArtifactType = "run_summary"
)

// StepArtifacts maps each step to the artifact type it writes.
var StepArtifacts = map[Step]ArtifactType{
	StepLoadInput:             ArtifactInput,
	StepCollectEvidence:       ArtifactEvidenceCollection,
	StepEvidenceQualityCheck:  ArtifactEvidenceQuality,
	StepGenerateOpportunities: ArtifactOpportunitiesDraft,
	StepValidateOpportunities: ArtifactOpportunitiesValidated,
	StepComputeScores:         ArtifactScores,
	StepPersistArtifacts:      ArtifactOpportunities,
	StepFinalize:              ArtifactRunSummary,
}

// Valid reports whether t is written by some pipeline step.
func (t ArtifactType) Valid() bool {
	for _, v := range StepArtifacts {
		if v == t {
			return true
		}
	}
	return false
}

// Artifact is the immutable output of a step. The run it belongs to is
// embedded in Content; RunID mirrors the storage column.
type Artifact struct {
	ID        string          `json:"id"`
	ProjectID string          `json:"project_id"`
	RunID     string          `json:"run_id"`
	Type      ArtifactType    `json:"type"`
	Content   json.RawMessage `json:"content"`
	CreatedAt time.Time       `json:"created_at"`
}

// ArtifactEnvelope is the content layout of every artifact.
type ArtifactEnvelope struct {
	RunID string          `json:"run_id"`
	Data  json.RawMessage `json:"data"`
}

// EncodeArtifactContent wraps payload in an envelope carrying runID.
func EncodeArtifactContent(runID string, payload any) (json.RawMessage, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}
	return json.Marshal(ArtifactEnvelope{RunID: runID, Data: data})
}

// EmbeddedRunID returns the run id recorded inside the artifact content.
// Content that is not an envelope yields "".
func (a Artifact) EmbeddedRunID() string {
	var env ArtifactEnvelope
	if err := json.Unmarshal(a.Content, &env); err != nil {
		return ""
	}
	return env.RunID
}

// Decode unmarshals the envelope payload into v.
func (a Artifact) Decode(v any) error {
	var env ArtifactEnvelope
	if err := json.Unmarshal(a.Content, &env); err != nil {
		return err
	}
	return json.Unmarshal(env.Data, v)
}
