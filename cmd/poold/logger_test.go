package main

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/HamzaZF/shieldpool/internal/pool"
)

func TestLoggerAudit(t *testing.T) {
	dir := t.TempDir()
	logFile := filepath.Join(dir, "poold.log")
	auditFile := filepath.Join(dir, "audit.log")

	l, err := NewLogger("warn", logFile, auditFile)
	require.NoError(t, err)
	l.Info().Msg("filtered")
	l.Warn().Msg("kept")
	l.Audit(pool.Event{Seq: 7, Type: pool.EventPaused, Timestamp: time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)})
	require.NoError(t, l.Close())

	logged, err := os.ReadFile(logFile)
	require.NoError(t, err)
	assert.Contains(t, string(logged), "kept")
	assert.NotContains(t, string(logged), "filtered")

	audited, err := os.ReadFile(auditFile)
	require.NoError(t, err)
	assert.Contains(t, string(audited), `"type":"Paused"`)
	assert.Contains(t, string(audited), `"seq":7`)
}

func TestLoggerWithoutAudit(t *testing.T) {
	l, err := NewLogger("bogus", "", "")
	require.NoError(t, err)
	l.Audit(pool.Event{Type: pool.EventPaused})
	assert.NoError(t, l.Close())
}
