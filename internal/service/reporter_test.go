package service

import (
	"bytes"
	"testing"
	"time"

	"github.com/haatos/verify-ci/internal/store"
	"github.com/stretchr/testify/assert"
)

func TestTextReporter_Report(t *testing.T) {
	// arrange
	out := new(bytes.Buffer)
	started := time.Now().UTC()
	ended := started.Add(90 * time.Second)
	r := &store.Run{
		RunID:     4,
		RunGroup:  "pr:12",
		Ref:       "12",
		Revision:  "0123456789abcdef",
		Status:    store.StatusFailed,
		StartedOn: &started,
		EndedOn:   &ended,
		Results: []store.StageResult{
			{Name: "format", Status: store.StageFailed, DurationMS: 1200},
			{Name: "lint", Status: store.StageSkipped},
		},
	}

	// act
	NewTextReporter(out).Report(r)

	// assert
	assert.Contains(t, out.String(), "Run 4 (pr:12, 12@0123456789ab)")
	assert.Contains(t, out.String(), "failed     format")
	assert.Contains(t, out.String(), "skipped    lint")
	assert.Contains(t, out.String(), "failed in 1m30s")
	assert.NotContains(t, out.String(), "\x1b[")
}
