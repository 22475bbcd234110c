package alerts

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFileSink_WritesOneFilePerAlertNamedByKindAssetAndTimestamp(t *testing.T) {
	dir := t.TempDir()
	sink := NewFileSink(dir)
	a := Alert{SchemaVersion: 1, Timestamp: time.Date(2024, 1, 2, 3, 4, 5, 0, time.UTC).UnixMilli(), Kind: Signal, Asset: "bitcoin", Payload: map[string]any{"x": 1}}

	require.NoError(t, sink.Accept(context.Background(), a))

	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	name := entries[0].Name()
	assert.True(t, strings.HasPrefix(name, "signal_bitcoin_20240102_030405"))

	data, err := os.ReadFile(filepath.Join(dir, name))
	require.NoError(t, err)
	var back Alert
	require.NoError(t, json.Unmarshal(data, &back))
	assert.Equal(t, "bitcoin", back.Asset)
}

func TestFileSink_CreatesDirectoryIfMissing(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "nested", "alerts")
	sink := NewFileSink(dir)

	err := sink.Accept(context.Background(), Alert{Kind: VolatilitySpike, Asset: "ethereum", Timestamp: 0})

	require.NoError(t, err)
	assert.DirExists(t, dir)
}

func TestFileSink_SanitizesAssetNameForFilename(t *testing.T) {
	dir := t.TempDir()
	sink := NewFileSink(dir)

	err := sink.Accept(context.Background(), Alert{Kind: Signal, Asset: "weird/asset:name", Timestamp: 0})

	require.NoError(t, err)
	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.NotContains(t, entries[0].Name(), "/")
	assert.NotContains(t, entries[0].Name(), ":")
}
