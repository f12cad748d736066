// Package audit provides a tamper-evident HMAC chain over stored events.
// Each stamped event carries a hash that depends on the previous one, so
// edits, deletions and reordering in the audit trail are detectable by
// replaying the chain with the key.
package audit

import (
	"crypto/hmac"
	"crypto/sha256"
	"crypto/sha512"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"hash"
	"os"
	"strconv"
	"strings"
	"sync"

	"github.com/safesh/safesh/pkg/types"
)

// MinKeyLength is the minimum recommended key length for HMAC-SHA256.
const MinKeyLength = 32

// FieldKey is the event field under which chain metadata is stored.
const FieldKey = "integrity"

// Metadata contains the chain fields attached to a stamped event.
type Metadata struct {
	Sequence  int64  `json:"sequence"`
	PrevHash  string `json:"prev_hash"`
	EntryHash string `json:"entry_hash"`
}

// Chain maintains the HMAC chain state. Stamp is safe for concurrent use.
type Chain struct {
	mu        sync.Mutex
	key       []byte
	algorithm string
	statePath string
	sequence  int64
	prevHash  string
}

type chainState struct {
	Sequence int64  `json:"sequence"`
	PrevHash string `json:"prev_hash"`
}

// NewChain creates an integrity chain. Supported algorithms are
// "hmac-sha256" (the default when empty) and "hmac-sha512". When statePath
// is non-empty the chain head is persisted there after every stamp and
// restored on construction, so the chain continues across restarts.
func NewChain(key []byte, algorithm, statePath string) (*Chain, error) {
	if len(key) < MinKeyLength {
		return nil, fmt.Errorf("key too short: got %d bytes, need at least %d", len(key), MinKeyLength)
	}
	if algorithm == "" {
		algorithm = "hmac-sha256"
	}
	switch algorithm {
	case "hmac-sha256", "hmac-sha512":
	default:
		return nil, fmt.Errorf("unsupported algorithm %q: use hmac-sha256 or hmac-sha512", algorithm)
	}

	c := &Chain{key: key, algorithm: algorithm, statePath: statePath}
	if statePath != "" {
		if err := c.restoreState(); err != nil {
			return nil, err
		}
	}
	return c, nil
}

// LoadKey loads an HMAC key from either a file path or an environment
// variable. The file takes precedence when both are set.
func LoadKey(keyFile, keyEnv string) ([]byte, error) {
	if keyFile != "" {
		data, err := os.ReadFile(keyFile)
		if err != nil {
			return nil, fmt.Errorf("read key file %q: %w", keyFile, err)
		}
		key := strings.TrimSpace(string(data))
		if key == "" {
			return nil, fmt.Errorf("key file %q is empty", keyFile)
		}
		return []byte(key), nil
	}

	if keyEnv != "" {
		key := os.Getenv(keyEnv)
		if key == "" {
			return nil, fmt.Errorf("environment variable %q is empty or not set", keyEnv)
		}
		return []byte(key), nil
	}

	return nil, errors.New("no key source specified: provide key_file or key_env")
}

// Stamp attaches chain metadata to the event and advances the chain head.
// The hash covers the event as it will be stored, minus the metadata
// itself, so a verifier can recompute it from the stored record.
func (c *Chain) Stamp(ev types.Event) (types.Event, error) {
	payload, err := canonicalPayload(ev)
	if err != nil {
		return ev, err
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	c.sequence++
	meta := Metadata{
		Sequence:  c.sequence,
		PrevHash:  c.prevHash,
		EntryHash: computeHash(c.key, c.algorithm, c.sequence, c.prevHash, payload),
	}

	fields := make(map[string]any, len(ev.Fields)+1)
	for k, v := range ev.Fields {
		fields[k] = v
	}
	fields[FieldKey] = meta
	ev.Fields = fields

	c.prevHash = meta.EntryHash
	if c.statePath != "" {
		if err := c.saveStateLocked(); err != nil {
			return ev, err
		}
	}
	return ev, nil
}

// Head returns the current sequence number and hash of the chain.
func (c *Chain) Head() (int64, string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.sequence, c.prevHash
}

// Verify replays a slice of events in stamp order and checks every chained
// entry: the entry hash must match a recomputation from the stored record,
// and each entry's prev_hash must equal the previous entry's hash. Events
// without metadata (recorded before the chain was enabled) are skipped.
// It returns the number of verified entries.
func Verify(evs []types.Event, key []byte, algorithm string) (int, error) {
	if algorithm == "" {
		algorithm = "hmac-sha256"
	}

	verified := 0
	var prev *Metadata
	for _, ev := range evs {
		meta, ok := metadataOf(ev)
		if !ok {
			continue
		}

		payload, err := canonicalPayload(ev)
		if err != nil {
			return verified, fmt.Errorf("event %s: %w", ev.ID, err)
		}
		want := computeHash(key, algorithm, meta.Sequence, meta.PrevHash, payload)
		if !hmac.Equal([]byte(want), []byte(meta.EntryHash)) {
			return verified, fmt.Errorf("event %s (seq %d): entry hash mismatch", ev.ID, meta.Sequence)
		}
		if prev != nil {
			if meta.Sequence != prev.Sequence+1 {
				return verified, fmt.Errorf("event %s: sequence jumped from %d to %d", ev.ID, prev.Sequence, meta.Sequence)
			}
			if meta.PrevHash != prev.EntryHash {
				return verified, fmt.Errorf("event %s (seq %d): chain broken, prev hash mismatch", ev.ID, meta.Sequence)
			}
		}
		m := meta
		prev = &m
		verified++
	}
	return verified, nil
}

// canonicalPayload serializes the event without its chain metadata in a
// deterministic form. Marshaling through a map sorts the keys, and both
// the stamp and verify paths take the same route, so typed and re-decoded
// events produce identical bytes.
func canonicalPayload(ev types.Event) ([]byte, error) {
	if ev.Fields != nil {
		fields := make(map[string]any, len(ev.Fields))
		for k, v := range ev.Fields {
			if k == FieldKey {
				continue
			}
			fields[k] = v
		}
		if len(fields) == 0 {
			fields = nil
		}
		ev.Fields = fields
	}

	typed, err := json.Marshal(ev)
	if err != nil {
		return nil, fmt.Errorf("marshal event: %w", err)
	}
	var m map[string]any
	if err := json.Unmarshal(typed, &m); err != nil {
		return nil, fmt.Errorf("canonicalize event: %w", err)
	}
	return json.Marshal(m)
}

// metadataOf extracts chain metadata from an event's fields. It handles
// both the typed form (fresh from Stamp) and the decoded map form (read
// back from a store).
func metadataOf(ev types.Event) (Metadata, bool) {
	if ev.Fields == nil {
		return Metadata{}, false
	}
	switch v := ev.Fields[FieldKey].(type) {
	case Metadata:
		return v, true
	case map[string]any:
		var meta Metadata
		b, err := json.Marshal(v)
		if err != nil {
			return Metadata{}, false
		}
		if err := json.Unmarshal(b, &meta); err != nil {
			return Metadata{}, false
		}
		return meta, meta.EntryHash != ""
	default:
		return Metadata{}, false
	}
}

func computeHash(key []byte, algorithm string, sequence int64, prevHash string, payload []byte) string {
	var h hash.Hash
	switch algorithm {
	case "hmac-sha512":
		h = hmac.New(sha512.New, key)
	default:
		h = hmac.New(sha256.New, key)
	}

	h.Write([]byte(strconv.FormatInt(sequence, 10)))
	h.Write([]byte("|"))
	h.Write([]byte(prevHash))
	h.Write([]byte("|"))
	h.Write(payload)

	return hex.EncodeToString(h.Sum(nil))
}

func (c *Chain) restoreState() error {
	b, err := os.ReadFile(c.statePath)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return fmt.Errorf("read chain state: %w", err)
	}
	var st chainState
	if err := json.Unmarshal(b, &st); err != nil {
		return fmt.Errorf("parse chain state: %w", err)
	}
	c.sequence = st.Sequence
	c.prevHash = st.PrevHash
	return nil
}

func (c *Chain) saveStateLocked() error {
	b, err := json.Marshal(chainState{Sequence: c.sequence, PrevHash: c.prevHash})
	if err != nil {
		return fmt.Errorf("marshal chain state: %w", err)
	}
	tmp := c.statePath + ".tmp"
	if err := os.WriteFile(tmp, b, 0o600); err != nil {
		return fmt.Errorf("write chain state: %w", err)
	}
	if err := os.Rename(tmp, c.statePath); err != nil {
		return fmt.Errorf("replace chain state: %w", err)
	}
	return nil
}
