package database

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTraceQuery_EndIsSafeWithError(t *testing.T) {
	ctx, end := TraceQuery(context.Background(), "RecordReview", "UPDATE review_stats SET ...")
	require.NotNil(t, ctx)
	end(errors.New("serialization failure"))
}

func TestSlowQueryLogging(t *testing.T) {
	var buf bytes.Buffer
	logger := slog.New(slog.NewJSONHandler(&buf, nil))

	SetSlowQueryLogging(1*time.Nanosecond, logger)
	t.Cleanup(func() { SetSlowQueryLogging(0, nil) })

	_, end := TraceQuery(context.Background(), "GetSummary", "SELECT ... FROM review_stats")
	time.Sleep(time.Millisecond)
	end(nil)

	var entry map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &entry))
	assert.Equal(t, "slow query", entry["msg"])
	assert.Equal(t, "GetSummary", entry["operation"])
}

func TestSlowQueryLogging_DisabledByZeroThreshold(t *testing.T) {
	var buf bytes.Buffer
	logger := slog.New(slog.NewJSONHandler(&buf, nil))

	SetSlowQueryLogging(0, logger)

	_, end := TraceQuery(context.Background(), "GetSummary", "SELECT 1")
	end(nil)

	assert.Zero(t, buf.Len())
}
