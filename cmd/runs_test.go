package main

import (
	"bytes"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/sells-group/opportunity-cli/internal/model"
)

func runWith(statuses map[model.Step]model.StepStatus, created time.Time, dur time.Duration) model.Run {
	steps := model.NewStepStatusMap()
	for s, st := range statuses {
		steps[s] = model.StepStatusEntry{Status: st}
	}
	return model.Run{
		ID:        "abc12345-6789-0000-0000-000000000000",
		ProjectID: "def12345-6789-0000-0000-000000000000",
		Steps:     steps,
		CreatedAt: created,
		UpdatedAt: created.Add(dur),
	}
}

func allCompleted() map[model.Step]model.StepStatus {
	m := make(map[model.Step]model.StepStatus)
	for _, s := range model.Steps {
		m[s] = model.StepStatusCompleted
	}
	return m
}

func TestRunState(t *testing.T) {
	now := time.Date(2026, 6, 15, 10, 30, 0, 0, time.UTC)

	assert.Equal(t, "pending", runState(runWith(nil, now, 0)))
	assert.Equal(t, "complete", runState(runWith(allCompleted(), now, 0)))
	assert.Equal(t, "partial", runState(runWith(map[model.Step]model.StepStatus{
		model.StepLoadInput: model.StepStatusCompleted,
	}, now, 0)))
	assert.Equal(t, "running", runState(runWith(map[model.Step]model.StepStatus{
		model.StepLoadInput:       model.StepStatusCompleted,
		model.StepCollectEvidence: model.StepStatusRunning,
	}, now, 0)))
	assert.Equal(t, "failed", runState(runWith(map[model.Step]model.StepStatus{
		model.StepLoadInput:       model.StepStatusCompleted,
		model.StepCollectEvidence: model.StepStatusFailed,
	}, now, 0)))
}

func TestFormatRunsList(t *testing.T) {
	now := time.Date(2026, 6, 15, 10, 30, 0, 0, time.UTC)
	runs := []model.Run{
		runWith(allCompleted(), now, 2*time.Minute),
		runWith(map[model.Step]model.StepStatus{model.StepLoadInput: model.StepStatusCompleted}, now.Add(-time.Hour), 0),
	}

	var buf bytes.Buffer
	formatRunsList(&buf, runs)

	output := buf.String()
	assert.Contains(t, output, "STATE")
	assert.Contains(t, output, "abc12345")
	assert.Contains(t, output, "def12345")
	assert.Contains(t, output, "complete")
	assert.Contains(t, output, "8/8")
	assert.Contains(t, output, "1/8")
	assert.Contains(t, output, "2026-06-15 10:30")
	assert.Contains(t, output, "2m0s")
}

func TestFormatRunSteps(t *testing.T) {
	now := time.Date(2026, 6, 15, 10, 30, 0, 0, time.UTC)
	run := runWith(map[model.Step]model.StepStatus{model.StepLoadInput: model.StepStatusCompleted}, now, 0)
	run.Steps[model.StepCollectEvidence] = model.StepStatusEntry{
		Status:    model.StepStatusFailed,
		StartedAt: &now,
		Error:     "collect: all searches failed",
	}

	var buf bytes.Buffer
	formatRunSteps(&buf, &run)

	output := buf.String()
	assert.Contains(t, output, "failed")
	assert.Contains(t, output, string(model.StepFinalize))
	assert.Contains(t, output, "collect: all searches failed")
	assert.Contains(t, output, "2026-06-15 10:30:00")
	assert.Less(t, bytes.Index(buf.Bytes(), []byte(model.StepLoadInput)), bytes.Index(buf.Bytes(), []byte(model.StepFinalize)))
}

func TestRunsStats(t *testing.T) {
	now := time.Date(2026, 6, 15, 10, 30, 0, 0, time.UTC)
	runs := []model.Run{
		runWith(allCompleted(), now, 60*time.Second),
		runWith(allCompleted(), now, 120*time.Second),
		runWith(map[model.Step]model.StepStatus{model.StepLoadInput: model.StepStatusFailed}, now, 0),
		runWith(map[model.Step]model.StepStatus{model.StepLoadInput: model.StepStatusRunning}, now, 0),
		runWith(nil, now, 0),
	}

	s := computeRunStats(runs)
	assert.Equal(t, 5, s.Total)
	assert.Equal(t, 2, s.Complete)
	assert.Equal(t, 1, s.Failed)
	assert.Equal(t, 1, s.Running)
	assert.Equal(t, 1, s.Other)
	assert.InDelta(t, 90.0, s.AvgDurSecs, 0.01)

	var buf bytes.Buffer
	formatRunStats(&buf, s)
	assert.Contains(t, buf.String(), "Avg duration:")
	assert.Contains(t, buf.String(), "90.0s")
}

func TestTruncateID(t *testing.T) {
	assert.Equal(t, "abc12345", truncateID("abc12345-6789-0000-0000-000000000000"))
	assert.Equal(t, "short", truncateID("short"))
	assert.Equal(t, "", truncateID(""))
}
