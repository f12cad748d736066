// Package recyclebin quarantines removed files instead of unlinking them.
//
// A remove moves the target into a bin directory under the allowed root and
// drops a JSON sidecar describing where it came from. Entries survive
// restarts: nothing is held in memory, every operation re-reads the sidecar
// directory.
package recyclebin

import (
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"hash"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/safesh/safesh/pkg/types"
)

var (
	// ErrNotFound means no entry exists for the given id.
	ErrNotFound = errors.New("recycle entry not found")

	// ErrConflict means the restore target is already occupied.
	ErrConflict = errors.New("restore target exists")
)

const (
	payloadDirName = "payload"
	sidecarDirName = "manifest"

	defaultHashLimit = 64 << 20
)

// Store manages one bin directory. Safe for concurrent use; a single mutex
// serializes mutations so two sessions cannot race a stash against a purge.
type Store struct {
	mu  sync.Mutex
	dir string

	// hashLimit caps the file size we checksum. Larger files are stashed
	// without integrity metadata.
	hashLimit int64
}

type Option func(*Store)

func WithHashLimit(n int64) Option {
	return func(s *Store) { s.hashLimit = n }
}

// Open prepares the bin directory, creating payload/ and manifest/ beneath
// it if missing.
func Open(dir string, opts ...Option) (*Store, error) {
	if dir == "" {
		return nil, errors.New("recycle bin dir required")
	}
	s := &Store{dir: dir, hashLimit: defaultHashLimit}
	for _, opt := range opts {
		opt(s)
	}
	for _, sub := range []string{payloadDirName, sidecarDirName} {
		if err := os.MkdirAll(filepath.Join(dir, sub), 0o755); err != nil {
			return nil, fmt.Errorf("prepare recycle bin: %w", err)
		}
	}
	return s, nil
}

// Dir returns the bin directory.
func (s *Store) Dir() string { return s.dir }

// StashRequest carries provenance recorded in the sidecar.
type StashRequest struct {
	SessionID string
	CommandID string
}

// Stash moves path into the bin and writes its sidecar. The move is an
// atomic rename when source and bin share a filesystem; otherwise it falls
// back to copy, verifies the copy, and only then deletes the original.
func (s *Store) Stash(path string, req StashRequest) (*types.RecycleEntry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	info, err := os.Lstat(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("%w: %s", ErrNotFound, path)
		}
		return nil, err
	}
	size, err := sizeOf(path, info)
	if err != nil {
		return nil, err
	}

	var hashVal, hashAlgo string
	if info.Mode().IsRegular() && size <= s.hashLimit {
		if v, err := hashFile(path, sha256.New()); err == nil {
			hashVal, hashAlgo = v, "sha256"
		}
	}

	id := newEntryID()
	entry := &types.RecycleEntry{
		ID:           id,
		OriginalPath: path,
		StoredPath:   filepath.Join(s.dir, payloadDirName, id),
		Size:         size,
		Hash:         hashVal,
		HashAlgo:     hashAlgo,
		Mode:         uint32(info.Mode()),
		Mtime:        info.ModTime(),
		IsDir:        info.IsDir(),
		SessionID:    req.SessionID,
		CommandID:    req.CommandID,
		DeletedAt:    time.Now().UTC(),
		Restorable:   true,
	}

	if err := os.Rename(path, entry.StoredPath); err != nil {
		if err := copyTree(path, entry.StoredPath, info); err != nil {
			_ = os.RemoveAll(entry.StoredPath)
			return nil, fmt.Errorf("stash copy fallback: %w", err)
		}
		if err := verifyCopy(entry); err != nil {
			_ = os.RemoveAll(entry.StoredPath)
			return nil, fmt.Errorf("stash verification: %w", err)
		}
		// Only delete the original once the copy checked out.
		if err := os.RemoveAll(path); err != nil {
			return nil, fmt.Errorf("remove original after copy: %w", err)
		}
	}

	if err := s.writeSidecar(entry); err != nil {
		return nil, fmt.Errorf("write sidecar: %w", err)
	}
	return entry, nil
}

// List returns all entries ordered by deletion time, oldest first. Entries
// whose payload has gone missing are reported with Restorable=false rather
// than hidden.
func (s *Store) List() ([]types.RecycleEntry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.listLocked()
}

func (s *Store) listLocked() ([]types.RecycleEntry, error) {
	sidecars := filepath.Join(s.dir, sidecarDirName)
	files, err := os.ReadDir(sidecars)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}
	var entries []types.RecycleEntry
	for _, f := range files {
		if f.IsDir() || !strings.HasSuffix(f.Name(), ".json") {
			continue
		}
		b, err := os.ReadFile(filepath.Join(sidecars, f.Name()))
		if err != nil {
			return nil, err
		}
		var e types.RecycleEntry
		if err := json.Unmarshal(b, &e); err != nil {
			return nil, fmt.Errorf("corrupt sidecar %s: %w", f.Name(), err)
		}
		if _, err := os.Lstat(e.StoredPath); err != nil {
			e.Restorable = false
		}
		entries = append(entries, e)
	}
	sort.Slice(entries, func(i, j int) bool {
		return entries[i].DeletedAt.Before(entries[j].DeletedAt)
	})
	return entries, nil
}

// Get returns a single entry by id.
func (s *Store) Get(id string) (*types.RecycleEntry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, _, err := s.readSidecar(id)
	return e, err
}

// Restore moves an entry back to its original path, or to dest when set.
// If the target is occupied the restore fails with ErrConflict; it never
// silently overwrites. force skips the occupancy check.
func (s *Store) Restore(id, dest string, force bool) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	entry, sidecarPath, err := s.readSidecar(id)
	if err != nil {
		return "", err
	}
	target := dest
	if target == "" {
		target = entry.OriginalPath
	}

	if !force {
		if _, err := os.Lstat(target); err == nil {
			return "", fmt.Errorf("%w: %s", ErrConflict, target)
		}
	}
	if err := os.MkdirAll(filepath.Dir(target), 0o755); err != nil {
		return "", err
	}

	if err := os.Rename(entry.StoredPath, target); err != nil {
		info, lerr := os.Lstat(entry.StoredPath)
		if lerr != nil {
			if os.IsNotExist(lerr) {
				return "", fmt.Errorf("%w: payload for %s", ErrNotFound, id)
			}
			return "", lerr
		}
		if err := copyTree(entry.StoredPath, target, info); err != nil {
			return "", err
		}
		if err := os.RemoveAll(entry.StoredPath); err != nil {
			return "", err
		}
	}

	if entry.Hash != "" {
		if err := verifyHash(target, entry.Hash, entry.HashAlgo); err != nil {
			return "", err
		}
	}

	_ = os.Remove(sidecarPath)
	return target, nil
}

// PurgeOptions selects which entries Purge deletes. Zero options match
// nothing; use All for a full sweep.
type PurgeOptions struct {
	All        bool
	ID         string
	SessionID  string
	OlderThan  time.Duration
	QuotaBytes int64
	Now        time.Time
}

// Purge permanently deletes matching entries and returns how many went.
func (s *Store) Purge(opts PurgeOptions) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := opts.Now
	if now.IsZero() {
		now = time.Now().UTC()
	}

	if opts.ID != "" {
		entry, sidecarPath, err := s.readSidecar(opts.ID)
		if err != nil {
			return 0, err
		}
		return 1, s.removeLocked(entry, sidecarPath)
	}

	entries, err := s.listLocked()
	if err != nil {
		return 0, err
	}

	removed := 0
	remaining := entries[:0]
	for _, e := range entries {
		match := opts.All
		if opts.SessionID != "" {
			match = e.SessionID == opts.SessionID
		}
		if opts.OlderThan > 0 {
			match = e.DeletedAt.Add(opts.OlderThan).Before(now)
			if opts.SessionID != "" {
				match = match && e.SessionID == opts.SessionID
			}
		}
		if match {
			if err := s.removeLocked(&e, s.sidecarPath(e.ID)); err != nil {
				return removed, err
			}
			removed++
			continue
		}
		remaining = append(remaining, e)
	}

	// Quota eviction drops oldest entries until usage fits.
	if opts.QuotaBytes > 0 {
		var total int64
		for _, e := range remaining {
			total += e.Size
		}
		for total > opts.QuotaBytes && len(remaining) > 0 {
			e := remaining[0]
			if err := s.removeLocked(&e, s.sidecarPath(e.ID)); err != nil {
				return removed, err
			}
			total -= e.Size
			remaining = remaining[1:]
			removed++
		}
	}

	return removed, nil
}

// Usage returns the total payload bytes currently held.
func (s *Store) Usage() (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	entries, err := s.listLocked()
	if err != nil {
		return 0, err
	}
	var total int64
	for _, e := range entries {
		total += e.Size
	}
	return total, nil
}

// newEntryID yields ids that sort in stash order: a nanosecond timestamp
// prefix plus a short random tail for same-instant collisions.
func newEntryID() string {
	b := make([]byte, 4)
	rand.Read(b)
	return fmt.Sprintf("bin-%016x-%s", time.Now().UnixNano(), hex.EncodeToString(b))
}

func (s *Store) sidecarPath(id string) string {
	return filepath.Join(s.dir, sidecarDirName, id+".json")
}

func (s *Store) writeSidecar(e *types.RecycleEntry) error {
	b, err := json.MarshalIndent(e, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(s.sidecarPath(e.ID), b, 0o640)
}

func (s *Store) readSidecar(id string) (*types.RecycleEntry, string, error) {
	path := s.sidecarPath(id)
	b, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, "", fmt.Errorf("%w: %s", ErrNotFound, id)
		}
		return nil, "", err
	}
	var e types.RecycleEntry
	if err := json.Unmarshal(b, &e); err != nil {
		return nil, "", fmt.Errorf("corrupt sidecar %s: %w", id, err)
	}
	return &e, path, nil
}

func (s *Store) removeLocked(e *types.RecycleEntry, sidecarPath string) error {
	_ = os.Remove(sidecarPath)
	return os.RemoveAll(e.StoredPath)
}

func verifyCopy(e *types.RecycleEntry) error {
	if e.Hash != "" {
		return verifyHash(e.StoredPath, e.Hash, e.HashAlgo)
	}
	info, err := os.Lstat(e.StoredPath)
	if err != nil {
		return err
	}
	size, err := sizeOf(e.StoredPath, info)
	if err != nil {
		return err
	}
	if size != e.Size {
		return fmt.Errorf("copied %d bytes, expected %d", size, e.Size)
	}
	return nil
}

func verifyHash(path, expected, algo string) error {
	var h hash.Hash
	switch strings.ToLower(algo) {
	case "", "sha256":
		h = sha256.New()
	default:
		return fmt.Errorf("unsupported hash algo %q", algo)
	}
	actual, err := hashFile(path, h)
	if err != nil {
		return fmt.Errorf("hash %s: %w", path, err)
	}
	if actual != expected {
		return fmt.Errorf("hash mismatch for %s: expected %s got %s", path, expected, actual)
	}
	return nil
}

func sizeOf(path string, info os.FileInfo) (int64, error) {
	if !info.IsDir() {
		return info.Size(), nil
	}
	var total int64
	err := filepath.Walk(path, func(_ string, fi os.FileInfo, err error) error {
		if err != nil {
			return err
		}
		if fi.Mode().IsRegular() {
			total += fi.Size()
		}
		return nil
	})
	return total, err
}

func copyTree(src, dest string, info os.FileInfo) error {
	if info.Mode()&os.ModeSymlink != 0 {
		target, err := os.Readlink(src)
		if err != nil {
			return err
		}
		return os.Symlink(target, dest)
	}
	if info.IsDir() {
		if err := os.MkdirAll(dest, info.Mode().Perm()); err != nil {
			return err
		}
		children, err := os.ReadDir(src)
		if err != nil {
			return err
		}
		for _, child := range children {
			childInfo, err := os.Lstat(filepath.Join(src, child.Name()))
			if err != nil {
				return err
			}
			if err := copyTree(filepath.Join(src, child.Name()), filepath.Join(dest, child.Name()), childInfo); err != nil {
				return err
			}
		}
		return nil
	}

	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()

	if err := os.MkdirAll(filepath.Dir(dest), 0o755); err != nil {
		return err
	}
	out, err := os.OpenFile(dest, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, info.Mode().Perm())
	if err != nil {
		return err
	}
	defer out.Close()

	_, err = io.Copy(out, in)
	return err
}

func hashFile(path string, h hash.Hash) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", err
	}
	defer f.Close()
	if _, err := io.Copy(h, f); err != nil {
		return "", err
	}
	return fmt.Sprintf("%x", h.Sum(nil)), nil
}
