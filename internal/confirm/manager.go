// Package confirm is the blocking decision point for commands that need a
// human go-ahead before they run. A request parks the command until someone
// approves or denies it: a terminal prompt in tty mode, a REST resolution in
// api mode. Expiry and cancellation both come back as refusals, never as
// execution.
package confirm

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"os"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/term"

	"github.com/safesh/safesh/internal/events"
	"github.com/safesh/safesh/pkg/types"
)

// ErrTimeout reports that a request expired before anyone decided it.
var ErrTimeout = errors.New("confirmation timed out")

// Request describes one command awaiting a decision.
type Request struct {
	ID        string    `json:"id"`
	CreatedAt time.Time `json:"created_at"`
	// ExpiresAt is zero when no timeout applies.
	ExpiresAt time.Time `json:"expires_at,omitempty"`

	SessionID string `json:"session_id"`
	CommandID string `json:"command_id,omitempty"`

	Command types.StructuredCommand `json:"command"`

	// Path is the resolved target the decision is about.
	Path string `json:"path,omitempty"`
	Rule string `json:"rule,omitempty"`
	// Reason is the policy engine's wording for why a go-ahead is needed.
	Reason string `json:"reason,omitempty"`
	// Simulate marks a dry run: approval reports the operation, applies nothing.
	Simulate bool `json:"simulate,omitempty"`
}

// Resolution records how a request was decided.
type Resolution struct {
	Approved bool   `json:"approved"`
	Reason   string `json:"reason,omitempty"`
	// ResolvedBy is "tty", "api", "timeout" or "cancel".
	ResolvedBy string    `json:"resolved_by,omitempty"`
	At         time.Time `json:"at"`
}

// promptFunc collects a decision from the operator. Swapped in tests.
type promptFunc func(ctx context.Context, req Request) (Resolution, error)

type Manager struct {
	mode    types.ConfirmMode
	timeout time.Duration
	emit    events.Emitter

	mu      sync.Mutex
	pending map[string]*pendingReq

	promptMu sync.Mutex
	prompt   promptFunc
}

type pendingReq struct {
	req Request
	ch  chan Resolution
}

// New builds a Manager. A timeout of zero or less means requests wait until
// resolved or the caller's context ends.
func New(mode types.ConfirmMode, timeout time.Duration, emit events.Emitter) *Manager {
	if mode == "" {
		mode = types.ConfirmModeTTY
	}
	m := &Manager{
		mode:    mode,
		timeout: timeout,
		emit:    emit,
		pending: make(map[string]*pendingReq),
	}
	m.prompt = m.promptTTY
	return m
}

// Pending lists requests still awaiting a decision, oldest first.
func (m *Manager) Pending() []Request {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]Request, 0, len(m.pending))
	now := time.Now().UTC()
	for _, p := range m.pending {
		if !p.req.ExpiresAt.IsZero() && p.req.ExpiresAt.Before(now) {
			continue
		}
		out = append(out, p.req)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out
}

// Resolve decides the identified request on behalf of an API caller. It
// reports false when the ID is unknown or already decided.
func (m *Manager) Resolve(id string, approved bool, reason string) bool {
	return m.resolve(id, Resolution{
		Approved:   approved,
		Reason:     reason,
		ResolvedBy: "api",
		At:         time.Now().UTC(),
	})
}

func (m *Manager) resolve(id string, res Resolution) bool {
	m.mu.Lock()
	p, ok := m.pending[id]
	if ok {
		delete(m.pending, id)
	}
	m.mu.Unlock()
	if !ok {
		return false
	}
	select {
	case p.ch <- res:
	default:
	}
	return true
}

// Ask parks the request until a decision arrives. In tty mode it prompts on
// the controlling terminal; in api mode it waits for Resolve. The returned
// Resolution is a refusal on timeout (with ErrTimeout) and on context
// cancellation (with the context's error).
func (m *Manager) Ask(ctx context.Context, req Request) (Resolution, error) {
	return m.ask(ctx, req, m.timeout)
}

// AskWithTimeout overrides the configured timeout for this request alone.
// Zero or less waits until resolved or the caller's context ends.
func (m *Manager) AskWithTimeout(ctx context.Context, req Request, timeout time.Duration) (Resolution, error) {
	return m.ask(ctx, req, timeout)
}

func (m *Manager) ask(ctx context.Context, req Request, timeout time.Duration) (Resolution, error) {
	now := time.Now().UTC()
	if req.ID == "" {
		req.ID = "confirm-" + uuid.NewString()
	}
	req.CreatedAt = now
	if timeout > 0 {
		req.ExpiresAt = now.Add(timeout)
	}

	p := &pendingReq{req: req, ch: make(chan Resolution, 1)}
	m.mu.Lock()
	m.pending[req.ID] = p
	m.mu.Unlock()

	m.emitEvent(ctx, events.EventConfirmRequested, req, nil)

	if m.mode == types.ConfirmModeTTY {
		// The prompt runs concurrently so an unanswered terminal still
		// honors the timeout and the caller's context.
		go func() {
			res, err := m.prompt(ctx, req)
			if err != nil {
				m.resolve(req.ID, Resolution{
					Reason:     err.Error(),
					ResolvedBy: "tty",
					At:         time.Now().UTC(),
				})
				return
			}
			res.ResolvedBy = "tty"
			if res.At.IsZero() {
				res.At = time.Now().UTC()
			}
			m.resolve(req.ID, res)
		}()
	}

	var timer <-chan time.Time
	if timeout > 0 {
		t := time.NewTimer(time.Until(req.ExpiresAt))
		defer t.Stop()
		timer = t.C
	}

	select {
	case res := <-p.ch:
		m.emitEvent(ctx, events.EventConfirmResolved, req, &res)
		return res, nil
	case <-ctx.Done():
		res := Resolution{Reason: "context canceled", ResolvedBy: "cancel", At: time.Now().UTC()}
		m.resolve(req.ID, res)
		m.emitEvent(ctx, events.EventConfirmResolved, req, &res)
		return res, ctx.Err()
	case <-timer:
		res := Resolution{Reason: "confirmation timed out", ResolvedBy: "timeout", At: time.Now().UTC()}
		m.resolve(req.ID, res)
		m.emitEvent(ctx, events.EventConfirmExpired, req, &res)
		return res, ErrTimeout
	}
}

func (m *Manager) emitEvent(ctx context.Context, t events.EventType, req Request, res *Resolution) {
	if m.emit == nil {
		return
	}
	ev := events.New(t, req.SessionID)
	ev.CommandID = req.CommandID
	ev.Verb = req.Command.Verb
	ev.Path = req.Path
	ev.Source = req.Command.Source
	ev.Policy = &types.PolicyInfo{
		Outcome:        types.OutcomeConfirm,
		Rule:           req.Rule,
		Message:        req.Reason,
		ConfirmationID: req.ID,
	}
	ev.Fields = map[string]any{}
	if req.Command.RawText != "" {
		ev.Fields["raw"] = req.Command.RawText
	}
	if req.Simulate {
		ev.Fields["dry_run"] = true
	}
	if res != nil {
		ev.Fields["approved"] = res.Approved
		ev.Fields["reason"] = res.Reason
		ev.Fields["resolved_by"] = res.ResolvedBy
	}
	m.emit.Emit(ctx, ev)
}

// promptTTY asks on the controlling terminal. Prompts are serialized so two
// concurrent commands never interleave their questions.
func (m *Manager) promptTTY(ctx context.Context, req Request) (Resolution, error) {
	m.promptMu.Lock()
	defer m.promptMu.Unlock()

	f, err := os.OpenFile("/dev/tty", os.O_RDWR, 0)
	if err != nil {
		return Resolution{}, fmt.Errorf("open /dev/tty: %w", err)
	}
	defer f.Close()
	if !term.IsTerminal(int(f.Fd())) {
		return Resolution{}, errors.New("/dev/tty is not a terminal")
	}

	line := req.Command.RawText
	if line == "" {
		line = strings.TrimSpace(string(req.Command.Verb) + " " + strings.Join(req.Command.Args, " "))
	}

	fmt.Fprintf(f, "\n=== CONFIRMATION REQUIRED ===\n")
	fmt.Fprintf(f, "Command: %s\n", line)
	if req.Path != "" {
		fmt.Fprintf(f, "Path:    %s\n", req.Path)
	}
	if req.Reason != "" {
		fmt.Fprintf(f, "Reason:  %s\n", req.Reason)
	}
	if req.Command.Source == types.SourceAI {
		fmt.Fprintf(f, "Origin:  suggested by the AI translator\n")
	}
	if req.Simulate {
		fmt.Fprintf(f, "Note:    dry run, nothing will be changed\n")
	}
	fmt.Fprintf(f, "Proceed? [y/N]: ")

	answer, _ := bufio.NewReader(f).ReadString('\n')
	answer = strings.ToLower(strings.TrimSpace(answer))
	if answer == "y" || answer == "yes" {
		return Resolution{Approved: true, Reason: "approved at terminal", At: time.Now().UTC()}, nil
	}
	return Resolution{Approved: false, Reason: "denied at terminal", At: time.Now().UTC()}, nil
}
