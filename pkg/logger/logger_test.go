package logger

import (
	"bytes"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// TestLeveledWritesStructuredFields verifies the key/value pairs end up
// as structured JSON fields.
func TestLeveledWritesStructuredFields(t *testing.T) {
	var buf bytes.Buffer
	data, err := New().FromBuffer(&buf).Make()
	require.NoError(t, err)

	log := data.Leveled()
	log.Info("push channel established", "channel", "analytics_updates", "attempt", 3)

	var entry map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &entry))
	assert.Equal(t, "info", entry["level"])
	assert.Equal(t, "push channel established", entry["message"])
	assert.Equal(t, "analytics_updates", entry["channel"])
	assert.Equal(t, float64(3), entry["attempt"])
}

// TestLeveledToleratesOddArgs verifies a dangling key does not panic or
// corrupt the entry.
func TestLeveledToleratesOddArgs(t *testing.T) {
	var buf bytes.Buffer
	data, err := New().FromBuffer(&buf).Make()
	require.NoError(t, err)

	data.Leveled().Warn("odd args", "key")

	var entry map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &entry))
	assert.Equal(t, "odd args", entry["message"])
	assert.NotContains(t, entry, "key")
}

// TestFromPath verifies file-backed logging appends to the named file.
func TestFromPath(t *testing.T) {
	path := filepath.Join(t.TempDir(), "analytics.log")
	data, err := New().FromPath(path).Make()
	require.NoError(t, err)
	defer data.LogFile.Close()

	data.Leveled().Error("hydration query failed", "error", "timeout")

	content, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(content), "hydration query failed")
}

// TestOrNop verifies the nil fallback.
func TestOrNop(t *testing.T) {
	assert.Equal(t, Nop{}, OrNop(nil))

	var buf bytes.Buffer
	data, err := New().FromBuffer(&buf).Make()
	require.NoError(t, err)
	log := data.Leveled()
	assert.Equal(t, log, OrNop(log))

	// Nop must swallow everything silently.
	Nop{}.Debug("never seen", "k", "v")
}
