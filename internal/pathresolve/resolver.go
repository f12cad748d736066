// Package pathresolve confines filesystem paths to a configured root.
//
// Every path a command touches flows through Resolve before any policy
// decision or filesystem operation. Resolution follows symlinks first and
// checks containment second, so a link inside the root pointing outside it
// is caught the same way a plain ../ traversal is.
package pathresolve

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/safesh/safesh/pkg/types"
)

// EscapeError reports a path that resolves outside the allowed root.
type EscapeError struct {
	Raw      string
	Resolved string
	Root     string
}

func (e *EscapeError) Error() string {
	return fmt.Sprintf("path %q resolves to %q outside allowed root %q", e.Raw, e.Resolved, e.Root)
}

// IsEscape reports whether err is an EscapeError.
func IsEscape(err error) bool {
	var ee *EscapeError
	return errors.As(err, &ee)
}

// Resolver maps raw user paths to absolute host paths under a single root.
// It never creates, modifies or stats-then-mutates anything: resolution is
// read-only so a denied command leaves no trace.
type Resolver struct {
	root string
}

// New builds a Resolver for root. The root must already exist; its own
// symlinks are resolved once here so later prefix checks compare canonical
// paths.
func New(root string) (*Resolver, error) {
	abs, err := filepath.Abs(root)
	if err != nil {
		return nil, fmt.Errorf("resolve root %s: %w", root, err)
	}
	canon, err := filepath.EvalSymlinks(abs)
	if err != nil {
		return nil, fmt.Errorf("resolve root %s: %w", abs, err)
	}
	return &Resolver{root: canon}, nil
}

// Root returns the canonical allowed root.
func (r *Resolver) Root() string { return r.root }

// Resolve joins raw against cwd (an absolute host path inside the root),
// resolves symlinks, and verifies the result stays under the root. The raw
// path need not exist: the deepest existing ancestor is canonicalized and
// the missing remainder re-appended, so "rm missing.txt" and "mkdir new/"
// still get full containment checks.
func (r *Resolver) Resolve(raw, cwd string) (*types.ResolvedPath, error) {
	if raw == "" {
		raw = "."
	}

	var joined string
	if filepath.IsAbs(raw) {
		joined = filepath.Clean(raw)
	} else {
		joined = filepath.Join(cwd, raw)
	}

	resolved, followed, err := canonicalize(joined)
	if err != nil {
		return nil, fmt.Errorf("resolve %s: %w", raw, err)
	}

	if !r.contains(resolved) {
		return nil, &EscapeError{Raw: raw, Resolved: resolved, Root: r.root}
	}

	return &types.ResolvedPath{
		Absolute:        resolved,
		WithinRoot:      true,
		SymlinkResolved: followed,
	}, nil
}

// Virtual converts a host path inside the root to its display form, a
// slash-separated path rooted at "/". The root itself displays as "/".
func (r *Resolver) Virtual(host string) string {
	rel, err := filepath.Rel(r.root, host)
	if err != nil || rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
		return "/"
	}
	if rel == "." {
		return "/"
	}
	return "/" + filepath.ToSlash(rel)
}

func (r *Resolver) contains(p string) bool {
	return p == r.root || strings.HasPrefix(p, r.root+string(filepath.Separator))
}

// canonicalize resolves symlinks in p. When p or one of its ancestors does
// not exist, the deepest existing ancestor is canonicalized instead and the
// missing suffix appended unchanged. p must be absolute and lexically clean,
// which guarantees the suffix contains no ".." components.
func canonicalize(p string) (resolved string, followed bool, err error) {
	prefix := p
	var suffix []string
	for {
		canon, err := filepath.EvalSymlinks(prefix)
		if err == nil {
			out := canon
			for i := len(suffix) - 1; i >= 0; i-- {
				out = filepath.Join(out, suffix[i])
			}
			return out, canon != prefix, nil
		}
		if !os.IsNotExist(err) {
			return "", false, err
		}
		parent := filepath.Dir(prefix)
		if parent == prefix {
			// Hit the filesystem root without finding anything.
			return p, false, nil
		}
		suffix = append(suffix, filepath.Base(prefix))
		prefix = parent
	}
}
