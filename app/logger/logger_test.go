package logger

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	gormlogger "gorm.io/gorm/logger"
)

func TestLogSegmentRebuild(t *testing.T) {
	var buf bytes.Buffer
	l := NewLogger(Config{Level: "debug", Output: &buf}).Component("rebuild")

	l.LogSegmentRebuild(7, 3, 1, 1500*time.Millisecond, nil)

	var entry map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &entry))
	assert.Equal(t, "company-segments", entry["service"])
	assert.Equal(t, "rebuild", entry["component"])
	assert.Equal(t, float64(7), entry["segment_id"])
	assert.Equal(t, float64(3), entry["added"])
	assert.Equal(t, "Segment rebuilt", entry["message"])
}

func TestLogLevelFilters(t *testing.T) {
	var buf bytes.Buffer
	l := NewLogger(Config{Level: "warn", Output: &buf})

	l.LogBatch(1, "add", 300, 10, time.Millisecond)
	assert.Zero(t, buf.Len())

	l.LogSegmentRebuild(1, 0, 0, time.Second, errors.New("boom"))
	assert.Contains(t, buf.String(), "boom")
}

func TestGormLoggerSlowQuery(t *testing.T) {
	var buf bytes.Buffer
	g := NewLogger(Config{Level: "debug", Output: &buf}).Gorm(10 * time.Millisecond)

	g.Trace(context.Background(), time.Now().Add(-time.Second), func() (string, int64) {
		return "SELECT 1", 1
	}, nil)
	assert.Contains(t, buf.String(), "Slow query")

	buf.Reset()
	silent := g.LogMode(gormlogger.Silent)
	silent.Trace(context.Background(), time.Now().Add(-time.Second), func() (string, int64) {
		return "SELECT 1", 1
	}, nil)
	assert.Zero(t, buf.Len())
}
