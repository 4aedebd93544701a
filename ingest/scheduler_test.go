package ingest

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"go.uber.org/zap"

	"veridano/source"
)

func TestSchedulerIntervals(t *testing.T) {
	s := NewScheduler(nil, nil, zap.NewNop())
	for _, src := range source.All {
		assert.Equal(t, source.MinInterval[src], s.intervals[src], "source %s", src)
	}
}

func TestSchedulerOverrideNeverUndercutsMinimum(t *testing.T) {
	overrides := map[source.Source]time.Duration{
		source.CISA: 10 * time.Minute, // below the 1h floor, ignored
		source.NVD:  6 * time.Hour,    // above the 2h floor, honored
	}
	s := NewScheduler(nil, overrides, zap.NewNop())

	assert.Equal(t, source.MinInterval[source.CISA], s.intervals[source.CISA])
	assert.Equal(t, 6*time.Hour, s.intervals[source.NVD])
}
