package logger

import (
	"bytes"
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestJSONLoggerRespectsLevel(t *testing.T) {
	var buf bytes.Buffer
	log := NewWithWriter(&buf, "warn", "json")

	log.Info("hidden")
	log.Warn("shown", "seq", 4)

	var line map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &line))
	assert.Equal(t, "shown", line["msg"])
	assert.Equal(t, "veriledger", line["service"])
	assert.EqualValues(t, 4, line["seq"])
}

func TestTextFormat(t *testing.T) {
	var buf bytes.Buffer
	NewWithWriter(&buf, "debug", "text").Debug("hello")
	assert.Contains(t, buf.String(), "msg=hello")
}
