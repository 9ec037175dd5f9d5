package logger

import (
	"bytes"
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func TestNew_WritesJSONToExtraSink(t *testing.T) {
	var buf bytes.Buffer
	log, err := New("production", &buf)
	require.NoError(t, err)

	log.Info("order reconciled", zap.String("event_id", "evt_1"))
	require.NoError(t, log.Sync())

	var entry map[string]interface{}
	require.NoError(t, json.Unmarshal(bytes.TrimSpace(buf.Bytes()), &entry))
	assert.Equal(t, "order reconciled", entry["msg"])
	assert.Equal(t, "evt_1", entry["event_id"])
	assert.Equal(t, "info", entry["level"])
}

func TestNew_ProductionTeeKeepsJSONOnStdout(t *testing.T) {
	var stdout, sink bytes.Buffer
	log, err := build("production", &stdout, &sink)
	require.NoError(t, err)

	log.Warn("fulfillment dispatch failed", zap.Uint("order_id", 42))
	require.NoError(t, log.Sync())

	var entry map[string]interface{}
	require.NoError(t, json.Unmarshal(bytes.TrimSpace(stdout.Bytes()), &entry))
	assert.Equal(t, "fulfillment dispatch failed", entry["msg"])
	assert.EqualValues(t, 42, entry["order_id"])
	assert.NotEmpty(t, sink.String())
}

func TestNew_Development(t *testing.T) {
	log, err := New("development", nil)
	require.NoError(t, err)
	assert.NotNil(t, log)
}
