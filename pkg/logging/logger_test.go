package logging

import (
	"bytes"
	"encoding/json"
	"errors"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLogger_LevelFiltering(t *testing.T) {
	var buf bytes.Buffer
	l := NewLogger(WARN, false)
	l.SetOutput(&buf)

	l.Debug("debug message")
	l.Info("info message")
	l.Warn("warn message")
	l.Error("error message")

	out := buf.String()
	assert.NotContains(t, out, "debug message")
	assert.NotContains(t, out, "info message")
	assert.Contains(t, out, "WARN: warn message")
	assert.Contains(t, out, "ERROR: error message")
}

func TestLogger_JSONEntry(t *testing.T) {
	var buf bytes.Buffer
	l := NewLogger(DEBUG, true).WithComponent("cleanup").WithField("cycle", 3)
	l.SetOutput(&buf)

	l.Error("cycle failed", Fields{"error": errors.New("database is locked")})

	var entry LogEntry
	require.NoError(t, json.Unmarshal(buf.Bytes(), &entry))
	assert.Equal(t, "ERROR", entry.Level)
	assert.Equal(t, "cleanup", entry.Component)
	assert.Equal(t, "cycle failed", entry.Message)
	assert.Equal(t, "database is locked", entry.Fields["error"])
	assert.EqualValues(t, 3, entry.Fields["cycle"])
}

func TestLogger_WithFieldsDoesNotMutateParent(t *testing.T) {
	var buf bytes.Buffer
	parent := NewLogger(INFO, false)
	parent.SetOutput(&buf)

	child := parent.WithFields(Fields{"request_id": "42"})
	parent.Info("from parent")
	child.Info("from child")

	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	require.Len(t, lines, 2)
	assert.NotContains(t, lines[0], "request_id")
	assert.Contains(t, lines[1], "request_id=42")
}

func TestLogger_FileLogger(t *testing.T) {
	path := filepath.Join(t.TempDir(), "logs", "server.log")

	l, err := NewFileLogger(path, INFO, true)
	require.NoError(t, err)
	l.Info("hello")
	require.NoError(t, l.Close())
}

func TestParseLevel(t *testing.T) {
	assert.Equal(t, DEBUG, ParseLevel("debug"))
	assert.Equal(t, WARN, ParseLevel("WARNING"))
	assert.Equal(t, ERROR, ParseLevel("error"))
	assert.Equal(t, INFO, ParseLevel("nonsense"))
}

func TestDiscard(t *testing.T) {
	l := Discard()
	assert.False(t, l.Enabled(ERROR))
	l.Error("dropped")
}
