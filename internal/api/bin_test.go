package api

import (
	"net/http"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/safesh/safesh/pkg/types"
)

// safeModeOff lets rm run without a confirmation round-trip so bin tests
// can stash entries with one call.
const safeModeOff = "safety:\n  safe_mode: false\n"

// stash removes name from the sandbox root and returns the bin entry ID.
func (ta *testApp) stash(t *testing.T, sessionID, name string) string {
	t.Helper()
	code, res := ta.execCommand(t, sessionID, direct(types.VerbRemove, name))
	require.Equal(t, http.StatusOK, code)
	require.True(t, res.Success)
	require.NotEmpty(t, res.SideEffects.RecycleEntryID)
	return res.SideEffects.RecycleEntryID
}

func TestBinListAndGet(t *testing.T) {
	ta := newTestApp(t, safeModeOff)
	id := ta.createSession(t)
	target := filepath.Join(ta.root, "junk.txt")
	require.NoError(t, os.WriteFile(target, []byte("payload"), 0o644))

	entryID := ta.stash(t, id, "junk.txt")

	rec := ta.do(t, http.MethodGet, "/api/v1/bin", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var entries []types.RecycleEntry
	decodeBody(t, rec, &entries)
	require.Len(t, entries, 1)
	assert.Equal(t, entryID, entries[0].ID)
	assert.Equal(t, target, entries[0].OriginalPath)
	assert.Equal(t, int64(len("payload")), entries[0].Size)
	assert.Equal(t, id, entries[0].SessionID)

	rec = ta.do(t, http.MethodGet, "/api/v1/bin/"+entryID, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var entry types.RecycleEntry
	decodeBody(t, rec, &entry)
	assert.Equal(t, entryID, entry.ID)

	rec = ta.do(t, http.MethodGet, "/api/v1/bin/ghost", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestBinRestoreRoundTrip(t *testing.T) {
	ta := newTestApp(t, safeModeOff)
	id := ta.createSession(t)
	target := filepath.Join(ta.root, "junk.txt")
	require.NoError(t, os.WriteFile(target, []byte("payload"), 0o644))

	entryID := ta.stash(t, id, "junk.txt")
	require.NoFileExists(t, target)

	rec := ta.do(t, http.MethodPost, "/api/v1/bin/"+entryID+"/restore", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	var out struct {
		ID         string `json:"id"`
		RestoredTo string `json:"restored_to"`
	}
	decodeBody(t, rec, &out)
	assert.Equal(t, entryID, out.ID)
	assert.Equal(t, target, out.RestoredTo)

	data, err := os.ReadFile(target)
	require.NoError(t, err)
	assert.Equal(t, "payload", string(data))

	// The entry is consumed; restoring twice reports it missing.
	rec = ta.do(t, http.MethodPost, "/api/v1/bin/"+entryID+"/restore", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = ta.do(t, http.MethodGet, "/api/v1/events/search?type=bin_restored", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var evs []types.Event
	decodeBody(t, rec, &evs)
	require.Len(t, evs, 1)
	assert.Equal(t, target, evs[0].Path)
}

func TestBinRestoreConflictThenForce(t *testing.T) {
	ta := newTestApp(t, safeModeOff)
	id := ta.createSession(t)
	target := filepath.Join(ta.root, "junk.txt")
	require.NoError(t, os.WriteFile(target, []byte("v1"), 0o644))

	entryID := ta.stash(t, id, "junk.txt")

	// The path grows a replacement before the restore.
	require.NoError(t, os.WriteFile(target, []byte("v2"), 0o644))

	rec := ta.do(t, http.MethodPost, "/api/v1/bin/"+entryID+"/restore", nil)
	assert.Equal(t, http.StatusConflict, rec.Code)

	rec = ta.do(t, http.MethodPost, "/api/v1/bin/"+entryID+"/restore", types.RestoreRequest{Force: true})
	require.Equal(t, http.StatusOK, rec.Code)

	data, err := os.ReadFile(target)
	require.NoError(t, err)
	assert.Equal(t, "v1", string(data))
}

func TestBinRestoreDestInsideRoot(t *testing.T) {
	ta := newTestApp(t, safeModeOff)
	id := ta.createSession(t)
	require.NoError(t, os.WriteFile(filepath.Join(ta.root, "junk.txt"), []byte("payload"), 0o644))

	entryID := ta.stash(t, id, "junk.txt")

	rec := ta.do(t, http.MethodPost, "/api/v1/bin/"+entryID+"/restore", types.RestoreRequest{Dest: "recovered/junk.txt"})
	require.Equal(t, http.StatusOK, rec.Code)

	assert.FileExists(t, filepath.Join(ta.root, "recovered", "junk.txt"))
	assert.NoFileExists(t, filepath.Join(ta.root, "junk.txt"))
}

func TestBinRestoreDestOutsideRootForbidden(t *testing.T) {
	ta := newTestApp(t, safeModeOff)
	id := ta.createSession(t)
	require.NoError(t, os.WriteFile(filepath.Join(ta.root, "junk.txt"), []byte("payload"), 0o644))

	entryID := ta.stash(t, id, "junk.txt")

	rec := ta.do(t, http.MethodPost, "/api/v1/bin/"+entryID+"/restore", types.RestoreRequest{Dest: "../stolen.txt"})
	assert.Equal(t, http.StatusForbidden, rec.Code)

	// The entry survives a refused restore.
	rec = ta.do(t, http.MethodGet, "/api/v1/bin/"+entryID, nil)
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestBinPurgeNeedsSelector(t *testing.T) {
	ta := newTestApp(t, safeModeOff)

	rec := ta.do(t, http.MethodPost, "/api/v1/bin/purge", map[string]any{})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestBinPurgeAllAndUsage(t *testing.T) {
	ta := newTestApp(t, safeModeOff)
	id := ta.createSession(t)
	require.NoError(t, os.WriteFile(filepath.Join(ta.root, "one.txt"), []byte("aa"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(ta.root, "two.txt"), []byte("bbbb"), 0o644))

	ta.stash(t, id, "one.txt")
	ta.stash(t, id, "two.txt")

	rec := ta.do(t, http.MethodGet, "/api/v1/bin/usage", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var usage struct {
		TotalBytes int64 `json:"total_bytes"`
		Entries    int   `json:"entries"`
	}
	decodeBody(t, rec, &usage)
	assert.Equal(t, 2, usage.Entries)
	assert.Equal(t, int64(6), usage.TotalBytes)

	rec = ta.do(t, http.MethodPost, "/api/v1/bin/purge", map[string]any{"all": true})
	require.Equal(t, http.StatusOK, rec.Code)
	var purged struct {
		Purged int `json:"purged"`
	}
	decodeBody(t, rec, &purged)
	assert.Equal(t, 2, purged.Purged)

	rec = ta.do(t, http.MethodGet, "/api/v1/bin", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var entries []types.RecycleEntry
	decodeBody(t, rec, &entries)
	assert.Empty(t, entries)
}

func TestBinPurgeBySession(t *testing.T) {
	ta := newTestApp(t, safeModeOff)
	a := ta.createSession(t)
	b := ta.createSession(t)
	require.NoError(t, os.WriteFile(filepath.Join(ta.root, "one.txt"), []byte("a"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(ta.root, "two.txt"), []byte("b"), 0o644))

	ta.stash(t, a, "one.txt")
	keep := ta.stash(t, b, "two.txt")

	rec := ta.do(t, http.MethodPost, "/api/v1/bin/purge", map[string]any{"session_id": a})
	require.Equal(t, http.StatusOK, rec.Code)

	rec = ta.do(t, http.MethodGet, "/api/v1/bin", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var entries []types.RecycleEntry
	decodeBody(t, rec, &entries)
	require.Len(t, entries, 1)
	assert.Equal(t, keep, entries[0].ID)
}

func TestBinPurgeRejectsBadOlderThan(t *testing.T) {
	ta := newTestApp(t, safeModeOff)

	rec := ta.do(t, http.MethodPost, "/api/v1/bin/purge", map[string]any{"older_than": "yesterday"})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}
