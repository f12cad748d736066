// Package executor turns structured commands into effects. Every command
// walks the same pipeline: resolve path arguments, evaluate policy, collect
// a confirmation when one is required, then perform. Removal always routes
// through the recycle bin, and every step lands in the audit trail.
package executor

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/safesh/safesh/internal/confirm"
	"github.com/safesh/safesh/internal/events"
	"github.com/safesh/safesh/internal/monitor"
	"github.com/safesh/safesh/internal/pathresolve"
	"github.com/safesh/safesh/internal/policy"
	"github.com/safesh/safesh/internal/recyclebin"
	"github.com/safesh/safesh/internal/session"
	"github.com/safesh/safesh/internal/store"
	"github.com/safesh/safesh/pkg/types"
)

// maxOutputBytes caps the listing/report text carried inline in a result.
// The stored output records the full length alongside the kept prefix.
const maxOutputBytes = 1 << 20

// ConfirmFunc collects the go-ahead for a command that needs one. A nil
// func means the surface cannot confirm; such commands resolve to Cancelled.
type ConfirmFunc func(ctx context.Context, req confirm.Request) (confirm.Resolution, error)

type Executor struct {
	resolver *pathresolve.Resolver
	engine   *policy.Engine
	bin      *recyclebin.Store
	mon      *monitor.Monitor
	emitter  events.Emitter
	outputs  store.OutputStore
	logger   *slog.Logger
}

type Options struct {
	Resolver *pathresolve.Resolver
	Policy   *policy.Engine
	Bin      *recyclebin.Store
	Monitor  *monitor.Monitor
	Emitter  events.Emitter
	// Outputs, when set, persists command output for later retrieval.
	Outputs store.OutputStore
	Logger  *slog.Logger
}

func New(opts Options) *Executor {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Executor{
		resolver: opts.Resolver,
		engine:   opts.Policy,
		bin:      opts.Bin,
		mon:      opts.Monitor,
		emitter:  opts.Emitter,
		outputs:  opts.Outputs,
		logger:   logger,
	}
}

// Execute runs one command to completion inside sess. Commands within a
// session are serialized; concurrent sessions proceed independently.
func (x *Executor) Execute(ctx context.Context, sess *session.Session, cmd types.StructuredCommand, confirmFn ConfirmFunc) types.ExecutionResult {
	cmdID := "cmd-" + uuid.NewString()
	start := time.Now().UTC()

	unlock := sess.LockExec()
	defer unlock()
	sess.SetCurrentCommandID(cmdID)
	sess.RecordHistory(commandLine(cmd))

	result := x.execute(ctx, sess, cmd, cmdID, start, confirmFn)

	result.CommandID = cmdID
	result.SessionID = sess.ID
	result.Timestamp = start
	result.Command = cmd
	result.DurationMs = time.Since(start).Milliseconds()

	x.saveOutput(ctx, sess.ID, cmdID, &result)
	return result
}

func (x *Executor) execute(ctx context.Context, sess *session.Session, cmd types.StructuredCommand, cmdID string, start time.Time, confirmFn ConfirmFunc) types.ExecutionResult {
	x.emit(ctx, events.EventCommandReceived, sess.ID, cmd, cmdID, "", nil,
		map[string]any{"raw": cmd.RawText, "args": cmd.Args})

	if !cmd.Verb.Known() {
		msg := "could not understand the command"
		switch {
		case cmd.RawText != "":
			msg = fmt.Sprintf("could not understand %q", cmd.RawText)
		case cmd.Verb != types.VerbUnknown:
			msg = fmt.Sprintf("unknown command %q", cmd.Verb)
		}
		res := errorResult(types.ErrCodeUnknownVerb, msg, "")
		x.emit(ctx, events.EventCommandFailed, sess.ID, cmd, cmdID, "", nil,
			map[string]any{"error_code": types.ErrCodeUnknownVerb, "error": msg})
		return res
	}

	hostPath, vpath, failed := x.resolveForVerb(ctx, sess, cmd, cmdID)
	if failed != nil {
		return *failed
	}

	decision := x.engine.Evaluate(policy.Request{Command: cmd, VirtualPath: vpath})
	if decision.Outcome == types.OutcomeDeny {
		res := errorResult(types.ErrCodeForbidden, decision.Reason, decision.Rule)
		x.emit(ctx, events.EventCommandDenied, sess.ID, cmd, cmdID, vpath,
			&types.PolicyInfo{Outcome: decision.Outcome, Rule: decision.Rule, Message: decision.Reason}, nil)
		return res
	}

	if res := x.precheck(ctx, sess, cmd, cmdID, hostPath, vpath); res != nil {
		return *res
	}

	var confirmationID string
	if decision.Outcome == types.OutcomeConfirm {
		refused, id := x.collectConfirmation(ctx, sess, cmd, cmdID, vpath, decision, confirmFn)
		if refused != nil {
			return *refused
		}
		confirmationID = id
	}

	pol := &types.PolicyInfo{Outcome: decision.Outcome, Rule: decision.Rule, ConfirmationID: confirmationID}

	if decision.Simulate {
		msg := simulatedMessage(cmd.Verb, vpath)
		x.emit(ctx, events.EventCommandSimulated, sess.ID, cmd, cmdID, vpath, pol,
			map[string]any{"note": decision.Reason})
		return types.ExecutionResult{
			Success:     true,
			Message:     msg,
			SideEffects: types.SideEffects{DryRun: true},
		}
	}

	res, err := x.perform(ctx, sess, cmd, cmdID, hostPath, vpath)
	if err != nil {
		ee := classify(err)
		ee.Rule = decision.Rule
		x.emit(ctx, events.EventCommandFailed, sess.ID, cmd, cmdID, vpath, pol,
			map[string]any{"error": err.Error(), "error_code": ee.Code, "duration_ms": time.Since(start).Milliseconds()})
		return types.ExecutionResult{Message: ee.Message, Error: ee}
	}

	x.emit(ctx, events.EventCommandExecuted, sess.ID, cmd, cmdID, vpath, pol,
		map[string]any{"message": res.Message, "duration_ms": time.Since(start).Milliseconds()})
	return res
}

// resolveForVerb resolves the path argument for verbs that take one. The
// third return value is non-nil when the command already failed: missing
// operand, containment escape, or a resolver fault.
func (x *Executor) resolveForVerb(ctx context.Context, sess *session.Session, cmd types.StructuredCommand, cmdID string) (string, string, *types.ExecutionResult) {
	var raw string
	switch cmd.Verb {
	case types.VerbList, types.VerbChangeDir, types.VerbMakeDir, types.VerbRemove:
		raw = firstTarget(cmd)
	default:
		return "", "", nil
	}

	switch cmd.Verb {
	case types.VerbMakeDir, types.VerbRemove:
		if raw == "" {
			msg := fmt.Sprintf("%s: missing operand", cmd.Verb)
			res := errorResult(types.ErrCodeInvalidArgs, msg, "")
			x.emit(ctx, events.EventCommandFailed, sess.ID, cmd, cmdID, "", nil,
				map[string]any{"error_code": types.ErrCodeInvalidArgs, "error": msg})
			return "", "", &res
		}
	case types.VerbChangeDir:
		if raw == "" {
			raw = x.resolver.Root()
		}
	case types.VerbList:
		if raw == "" {
			raw = "."
		}
	}

	rp, err := x.resolver.Resolve(raw, sess.CwdHost())
	if err != nil {
		if pathresolve.IsEscape(err) {
			msg := err.Error()
			res := errorResult(types.ErrCodePathEscape, msg, "")
			x.emit(ctx, events.EventCommandDenied, sess.ID, cmd, cmdID, "",
				&types.PolicyInfo{Outcome: types.OutcomeDeny, Message: msg},
				map[string]any{"error_code": types.ErrCodePathEscape, "raw_path": raw})
			return "", "", &res
		}
		res := errorResult(types.ErrCodeInternal, err.Error(), "")
		x.emit(ctx, events.EventCommandFailed, sess.ID, cmd, cmdID, "", nil,
			map[string]any{"error_code": types.ErrCodeInternal, "error": err.Error()})
		return "", "", &res
	}
	return rp.Absolute, x.resolver.Virtual(rp.Absolute), nil
}

// precheck catches operations that are guaranteed no-ops or guaranteed
// failures before anyone is asked to confirm them. Policy denial has
// already been applied, so nothing about protected paths leaks here.
func (x *Executor) precheck(ctx context.Context, sess *session.Session, cmd types.StructuredCommand, cmdID, hostPath, vpath string) *types.ExecutionResult {
	switch cmd.Verb {
	case types.VerbRemove:
		info, err := os.Lstat(hostPath)
		if err != nil {
			if os.IsNotExist(err) {
				return x.failNow(ctx, sess, cmd, cmdID, vpath, types.ErrCodeNotFound,
					fmt.Sprintf("rm: cannot remove %s: no such file or directory", vpath))
			}
			return x.failNow(ctx, sess, cmd, cmdID, vpath, types.ErrCodeInternal, err.Error())
		}
		if info.IsDir() && !cmd.HasFlag("-r") && !cmd.HasFlag("--recursive") {
			return x.failNow(ctx, sess, cmd, cmdID, vpath, types.ErrCodeInvalidArgs,
				fmt.Sprintf("rm: %s is a directory (use -r)", vpath))
		}
	case types.VerbChangeDir:
		info, err := os.Stat(hostPath)
		if err != nil {
			if os.IsNotExist(err) {
				return x.failNow(ctx, sess, cmd, cmdID, vpath, types.ErrCodeNotFound,
					fmt.Sprintf("cd: %s: no such directory", vpath))
			}
			return x.failNow(ctx, sess, cmd, cmdID, vpath, types.ErrCodeInternal, err.Error())
		}
		if !info.IsDir() {
			return x.failNow(ctx, sess, cmd, cmdID, vpath, types.ErrCodeInvalidArgs,
				fmt.Sprintf("cd: %s: not a directory", vpath))
		}
	case types.VerbMakeDir:
		info, err := os.Stat(hostPath)
		if err == nil {
			if info.IsDir() {
				res := types.ExecutionResult{
					Success: true,
					Message: fmt.Sprintf("directory %s already exists", vpath),
				}
				x.emit(ctx, events.EventCommandExecuted, sess.ID, cmd, cmdID, vpath, nil,
					map[string]any{"note": "already existed"})
				return &res
			}
			return x.failNow(ctx, sess, cmd, cmdID, vpath, types.ErrCodeConflict,
				fmt.Sprintf("mkdir: %s exists and is not a directory", vpath))
		}
	}
	return nil
}

func (x *Executor) failNow(ctx context.Context, sess *session.Session, cmd types.StructuredCommand, cmdID, vpath, code, msg string) *types.ExecutionResult {
	res := errorResult(code, msg, "")
	x.emit(ctx, events.EventCommandFailed, sess.ID, cmd, cmdID, vpath, nil,
		map[string]any{"error_code": code, "error": msg})
	return &res
}

// collectConfirmation runs the blocking confirmation round-trip. The first
// return value is non-nil when the command must not run; the second is the
// confirmation ID for the audit trail when it may.
func (x *Executor) collectConfirmation(ctx context.Context, sess *session.Session, cmd types.StructuredCommand, cmdID, vpath string, decision types.SafetyDecision, confirmFn ConfirmFunc) (*types.ExecutionResult, string) {
	cancel := func(code, msg, confirmationID string) *types.ExecutionResult {
		res := errorResult(code, msg, decision.Rule)
		x.emit(ctx, events.EventCommandCancelled, sess.ID, cmd, cmdID, vpath,
			&types.PolicyInfo{Outcome: decision.Outcome, Rule: decision.Rule, Message: decision.Reason, ConfirmationID: confirmationID},
			map[string]any{"reason": msg})
		return &res
	}

	if confirmFn == nil {
		return cancel(types.ErrCodeCancelled, "no confirmation channel available", ""), ""
	}

	creq := confirm.Request{
		ID:        "confirm-" + uuid.NewString(),
		SessionID: sess.ID,
		CommandID: cmdID,
		Command:   cmd,
		Path:      vpath,
		Rule:      decision.Rule,
		Reason:    decision.Reason,
		Simulate:  decision.Simulate,
	}
	resolution, err := confirmFn(ctx, creq)
	switch {
	case errors.Is(err, confirm.ErrTimeout):
		return cancel(types.ErrCodeConfirmTimeout, "confirmation timed out", creq.ID), ""
	case err != nil:
		return cancel(types.ErrCodeCancelled, "confirmation aborted: "+err.Error(), creq.ID), ""
	case !resolution.Approved:
		msg := "confirmation declined"
		if resolution.Reason != "" {
			msg += ": " + resolution.Reason
		}
		return cancel(types.ErrCodeCancelled, msg, creq.ID), ""
	}
	return nil, creq.ID
}

func (x *Executor) emit(ctx context.Context, t events.EventType, sessionID string, cmd types.StructuredCommand, cmdID, vpath string, pol *types.PolicyInfo, fields map[string]any) {
	if x.emitter == nil {
		return
	}
	ev := events.New(t, sessionID)
	ev.CommandID = cmdID
	ev.Verb = cmd.Verb
	ev.Path = vpath
	ev.Source = cmd.Source
	ev.Policy = pol
	ev.Fields = fields
	x.emitter.Emit(ctx, ev)
}

func (x *Executor) saveOutput(ctx context.Context, sessionID, cmdID string, res *types.ExecutionResult) {
	if x.outputs == nil || res.Output == "" {
		return
	}
	total := int64(len(res.Output))
	truncated := false
	if len(res.Output) > maxOutputBytes {
		res.Output = res.Output[:maxOutputBytes]
		truncated = true
	}
	if err := x.outputs.SaveOutput(ctx, sessionID, cmdID, []byte(res.Output), total, truncated); err != nil {
		x.logger.Warn("save output failed", "command_id", cmdID, "error", err)
	}
}

func errorResult(code, msg, rule string) types.ExecutionResult {
	return types.ExecutionResult{
		Message: msg,
		Error:   &types.ExecError{Code: code, Message: msg, Rule: rule},
	}
}

func classify(err error) *types.ExecError {
	switch {
	case errors.Is(err, recyclebin.ErrNotFound) || os.IsNotExist(err):
		return &types.ExecError{Code: types.ErrCodeNotFound, Message: err.Error()}
	case errors.Is(err, recyclebin.ErrConflict):
		return &types.ExecError{Code: types.ErrCodeConflict, Message: err.Error()}
	default:
		return &types.ExecError{Code: types.ErrCodeInternal, Message: err.Error()}
	}
}

func simulatedMessage(verb types.Verb, vpath string) string {
	switch verb {
	case types.VerbMakeDir:
		return fmt.Sprintf("dry run: would create directory %s", vpath)
	case types.VerbRemove:
		return fmt.Sprintf("dry run: would move %s to the recycle bin", vpath)
	case types.VerbChangeDir:
		return fmt.Sprintf("dry run: would change directory to %s", vpath)
	default:
		return fmt.Sprintf("dry run: would %s %s", verb, vpath)
	}
}

func firstTarget(cmd types.StructuredCommand) string {
	ts := cmd.Targets()
	if len(ts) == 0 {
		return ""
	}
	return ts[0]
}

// commandLine renders the history line for a command: what the user typed
// when we have it, the structured form otherwise.
func commandLine(cmd types.StructuredCommand) string {
	if cmd.RawText != "" {
		return cmd.RawText
	}
	parts := append([]string{string(cmd.Verb)}, cmd.Args...)
	return strings.Join(parts, " ")
}
