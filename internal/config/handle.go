package config

import "sync"

// Handle is a shared, mutable view of the current configuration. The policy
// engine snapshots it on every evaluation so that toggling safe_mode or
// dry_run takes effect on the next command without a restart.
//
// Snapshots are copy-on-write: Swap and Update install a fresh *Config, so a
// snapshot taken before a swap stays internally consistent.
type Handle struct {
	mu  sync.RWMutex
	cfg *Config
}

func NewHandle(cfg *Config) *Handle {
	return &Handle{cfg: cfg}
}

// Snapshot returns the current configuration. Callers must treat the result
// as immutable.
func (h *Handle) Snapshot() *Config {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.cfg
}

// Swap installs a new configuration and returns the previous one.
func (h *Handle) Swap(cfg *Config) *Config {
	h.mu.Lock()
	defer h.mu.Unlock()
	old := h.cfg
	h.cfg = cfg
	return old
}

// Update applies fn to a copy of the current configuration and installs the
// copy. Nested maps and slices are shallow-copied; fn must replace, not
// mutate, any it changes.
func (h *Handle) Update(fn func(*Config)) {
	h.mu.Lock()
	defer h.mu.Unlock()
	next := *h.cfg
	fn(&next)
	h.cfg = &next
}
