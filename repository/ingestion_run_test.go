package repository

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestIngestionRunFinish(t *testing.T) {
	started := time.Date(2025, 6, 1, 10, 0, 0, 0, time.UTC)
	finished := started.Add(2 * time.Minute)

	testCases := []struct {
		name      string
		processed int
		errors    int
		want      RunStatus
	}{
		{name: "all processed", processed: 10, errors: 0, want: RunSucceeded},
		{name: "some rejected", processed: 8, errors: 2, want: RunPartial},
		{name: "nothing processed", processed: 0, errors: 3, want: RunFailed},
		{name: "empty window", processed: 0, errors: 0, want: RunSucceeded},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			run := IngestionRun{
				ID: "r", Source: "CISA", StartedAt: started, Status: RunRunning,
				ProcessedCount: tc.processed, ErrorCount: tc.errors,
			}
			run.Finish(finished)
			assert.Equal(t, tc.want, run.Status)
			if assert.NotNil(t, run.FinishedAt) {
				assert.Equal(t, finished, *run.FinishedAt)
			}
		})
	}
}
