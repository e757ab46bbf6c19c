package logger

import (
	"bytes"
	"encoding/json"
	"errors"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
)

type logEntry map[string]any

func TestLoggerInfoWithFields(t *testing.T) {
	t.Parallel()

	buf := &bytes.Buffer{}
	log, err := New(Options{Level: "info", HumanReadable: false, Writer: buf})
	require.NoError(t, err)

	log = log.WithFields(map[string]any{"operator": "demo.writer", "state": "running"})
	log.Info("state changed")

	var entry logEntry
	require.NoError(t, json.Unmarshal(buf.Bytes(), &entry))
	require.Equal(t, "state changed", entry["message"])
	require.Equal(t, "demo.writer", entry["operator"])
	require.Equal(t, "running", entry["state"])
	require.Equal(t, "info", entry["level"])
}

func TestLoggerDebugRespectsLevel(t *testing.T) {
	t.Parallel()

	buf := &bytes.Buffer{}
	log, err := New(Options{Level: "info", HumanReadable: false, Writer: buf})
	require.NoError(t, err)

	log.Debug("this should not appear")
	require.Equal(t, "", strings.TrimSpace(buf.String()))
}

func TestLoggerRejectsUnknownLevel(t *testing.T) {
	t.Parallel()

	_, err := New(Options{Level: "loud"})
	require.Error(t, err)
}

func TestLoggerErrorIncludesContext(t *testing.T) {
	t.Parallel()

	buf := &bytes.Buffer{}
	log, err := New(Options{Level: "debug", HumanReadable: false, Writer: buf})
	require.NoError(t, err)

	log = log.With("operator", "demo.reader")
	log.Error(errors.New("boom"), "failed")

	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	require.Len(t, lines, 1)

	var entry logEntry
	require.NoError(t, json.Unmarshal([]byte(lines[0]), &entry))
	require.Equal(t, "failed", entry["message"])
	require.Equal(t, "demo.reader", entry["operator"])
	require.Equal(t, "boom", entry["error"])
}

func TestLoggerTeeCopiesEntries(t *testing.T) {
	t.Parallel()

	main := &bytes.Buffer{}
	captured := &bytes.Buffer{}
	log, err := New(Options{Level: "info", Writer: main})
	require.NoError(t, err)

	teed := log.With("instance", "demo.reader_1").Tee(captured)
	teed.Warn("slow consumer")
	log.Info("not captured")

	require.Contains(t, main.String(), "slow consumer")
	require.Contains(t, main.String(), "not captured")
	require.Contains(t, captured.String(), "slow consumer")
	require.Contains(t, captured.String(), "demo.reader_1")
	require.NotContains(t, captured.String(), "not captured")
}

func TestNilAndNopLoggersAreSafe(t *testing.T) {
	t.Parallel()

	var log *Logger
	log.Info("ignored")
	log.Error(errors.New("ignored"), "ignored")
	require.Nil(t, log.With("k", "v"))

	Nop().Info("ignored")
}
