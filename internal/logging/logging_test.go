package logging

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWithContextAddsIdentifiers(t *testing.T) {
	var buf bytes.Buffer
	log := NewWithOutput("ledger", "debug", "json", &buf)

	ctx := WithTraceID(context.Background(), "trace-1")
	ctx = WithUserID(ctx, "NaddressOfCaller")
	log.WithContext(ctx).WithError(errors.New("boom")).Info("hello")

	var line map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &line))
	assert.Equal(t, "ledger", line["service"])
	assert.Equal(t, "trace-1", line["trace_id"])
	assert.Equal(t, "NaddressOfCaller", line["user_id"])
	assert.Equal(t, "boom", line["error"])
	assert.Equal(t, "hello", line["msg"])
}

func TestLogRequestLevels(t *testing.T) {
	var buf bytes.Buffer
	log := NewWithOutput("ledger", "info", "json", &buf)

	log.LogRequest(context.Background(), http.MethodPost, "/v1/transfer", http.StatusConflict, 3*time.Millisecond)

	var line map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &line))
	assert.Equal(t, "warning", line["level"])
	assert.EqualValues(t, 409, line["status"])
}

func TestUnknownLevelFallsBackToInfo(t *testing.T) {
	log := New("ledger", "loud", "text")
	assert.Equal(t, "info", log.Logger.GetLevel().String())
}

func TestContextAccessorsOnEmptyContext(t *testing.T) {
	ctx := context.Background()
	assert.Empty(t, GetTraceID(ctx))
	assert.Empty(t, GetUserID(ctx))
	assert.NotEmpty(t, NewTraceID())
}
