package audit

import (
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/safesh/safesh/pkg/types"
)

var testKey = []byte(strings.Repeat("k", MinKeyLength))

func stampedEvents(t *testing.T, c *Chain, n int) []types.Event {
	t.Helper()
	out := make([]types.Event, 0, n)
	for i := 0; i < n; i++ {
		ev := types.Event{
			ID:        "evt-" + strings.Repeat("a", i+1),
			Timestamp: time.Date(2026, 3, 1, 10, 0, i, 0, time.UTC),
			Type:      "command_executed",
			SessionID: "sess",
			Fields:    map[string]any{"raw": "ls"},
		}
		stamped, err := c.Stamp(ev)
		require.NoError(t, err)
		out = append(out, stamped)
	}
	return out
}

func TestNewChain_KeyTooShort(t *testing.T) {
	_, err := NewChain([]byte("short"), "", "")
	require.Error(t, err)
}

func TestNewChain_BadAlgorithm(t *testing.T) {
	_, err := NewChain(testKey, "md5", "")
	require.Error(t, err)
}

func TestStampAndVerify(t *testing.T) {
	c, err := NewChain(testKey, "", "")
	require.NoError(t, err)

	evs := stampedEvents(t, c, 3)

	meta, ok := metadataOf(evs[0])
	require.True(t, ok)
	assert.Equal(t, int64(1), meta.Sequence)
	assert.Empty(t, meta.PrevHash)
	assert.NotEmpty(t, meta.EntryHash)

	n, err := Verify(evs, testKey, "")
	require.NoError(t, err)
	assert.Equal(t, 3, n)
}

func TestVerify_AfterJSONRoundTrip(t *testing.T) {
	c, err := NewChain(testKey, "hmac-sha512", "")
	require.NoError(t, err)

	evs := stampedEvents(t, c, 3)

	// Store and reload the way sqlite and jsonl do.
	reloaded := make([]types.Event, len(evs))
	for i, ev := range evs {
		b, err := json.Marshal(ev)
		require.NoError(t, err)
		require.NoError(t, json.Unmarshal(b, &reloaded[i]))
	}

	n, err := Verify(reloaded, testKey, "hmac-sha512")
	require.NoError(t, err)
	assert.Equal(t, 3, n)
}

func TestVerify_DetectsEditedEvent(t *testing.T) {
	c, err := NewChain(testKey, "", "")
	require.NoError(t, err)

	evs := stampedEvents(t, c, 3)
	evs[1].Fields["raw"] = "rm -rf /"

	_, err = Verify(evs, testKey, "")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "entry hash mismatch")
}

func TestVerify_DetectsDeletedEvent(t *testing.T) {
	c, err := NewChain(testKey, "", "")
	require.NoError(t, err)

	evs := stampedEvents(t, c, 3)
	gapped := []types.Event{evs[0], evs[2]}

	_, err = Verify(gapped, testKey, "")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "sequence jumped")
}

func TestVerify_DetectsReordering(t *testing.T) {
	c, err := NewChain(testKey, "", "")
	require.NoError(t, err)

	evs := stampedEvents(t, c, 2)
	swapped := []types.Event{evs[1], evs[0]}

	_, err = Verify(swapped, testKey, "")
	require.Error(t, err)
}

func TestVerify_SkipsUnstampedEvents(t *testing.T) {
	c, err := NewChain(testKey, "", "")
	require.NoError(t, err)

	plain := types.Event{ID: "old", Type: "session_created", SessionID: "sess"}
	evs := append([]types.Event{plain}, stampedEvents(t, c, 2)...)

	n, err := Verify(evs, testKey, "")
	require.NoError(t, err)
	assert.Equal(t, 2, n)
}

func TestVerify_WrongKey(t *testing.T) {
	c, err := NewChain(testKey, "", "")
	require.NoError(t, err)

	evs := stampedEvents(t, c, 1)
	_, err = Verify(evs, []byte(strings.Repeat("x", MinKeyLength)), "")
	require.Error(t, err)
}

func TestChain_StatePersistsAcrossRestart(t *testing.T) {
	statePath := filepath.Join(t.TempDir(), "chain.state")

	c1, err := NewChain(testKey, "", statePath)
	require.NoError(t, err)
	first := stampedEvents(t, c1, 2)

	// A fresh chain with the same state file continues the sequence.
	c2, err := NewChain(testKey, "", statePath)
	require.NoError(t, err)
	seq, head := c2.Head()
	assert.Equal(t, int64(2), seq)
	assert.NotEmpty(t, head)

	more := stampedEvents(t, c2, 1)
	all := append(first, more...)

	n, err := Verify(all, testKey, "")
	require.NoError(t, err)
	assert.Equal(t, 3, n)
}

func TestLoadKey(t *testing.T) {
	dir := t.TempDir()
	keyPath := filepath.Join(dir, "hmac.key")
	require.NoError(t, os.WriteFile(keyPath, []byte(strings.Repeat("f", 40)+"\n"), 0o600))

	key, err := LoadKey(keyPath, "")
	require.NoError(t, err)
	assert.Len(t, key, 40)

	t.Setenv("SAFESH_TEST_AUDIT_KEY", strings.Repeat("e", 32))
	key, err = LoadKey("", "SAFESH_TEST_AUDIT_KEY")
	require.NoError(t, err)
	assert.Len(t, key, 32)

	_, err = LoadKey("", "")
	require.Error(t, err)

	_, err = LoadKey(filepath.Join(dir, "missing"), "")
	require.Error(t, err)
}
