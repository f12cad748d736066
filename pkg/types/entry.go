package types

import "time"

// RecycleEntry is the sidecar record for one stashed item. The store owns
// these exclusively; callers treat them as snapshots.
type RecycleEntry struct {
	ID           string    `json:"id"`
	OriginalPath string    `json:"original_path"`
	StoredPath   string    `json:"stored_path"`
	Size         int64     `json:"size"`
	Hash         string    `json:"hash,omitempty"`
	HashAlgo     string    `json:"hash_algo,omitempty"`
	Mode         uint32    `json:"mode"`
	Mtime        time.Time `json:"mtime"`
	IsDir        bool      `json:"is_dir,omitempty"`
	SessionID    string    `json:"session_id,omitempty"`
	CommandID    string    `json:"command_id,omitempty"`
	DeletedAt    time.Time `json:"deleted_at"`
	Restorable   bool      `json:"restorable"`
}

type ResolvedPath struct {
	Absolute        string `json:"absolute"`
	WithinRoot      bool   `json:"within_root"`
	SymlinkResolved bool   `json:"symlink_resolved"`
}
