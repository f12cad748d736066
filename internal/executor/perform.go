package executor

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/safesh/safesh/internal/events"
	"github.com/safesh/safesh/internal/monitor"
	"github.com/safesh/safesh/internal/recyclebin"
	"github.com/safesh/safesh/internal/session"
	"github.com/safesh/safesh/pkg/types"
)

const helpText = `Commands:
  list [-a] [-l] [path]     List directory contents
  pwd                       Print the working directory
  cd [path]                 Change the working directory
  mkdir <path>              Create a directory
  rm [-r] <path>            Move a file or directory to the recycle bin
  monitor [-p] [-d] [-n]    Show system resource usage
  help                      Show this help
  exit                      Leave the shell

Anything else is interpreted as natural language and translated to one of
the commands above. Suggested destructive commands always ask first.
`

func (x *Executor) perform(ctx context.Context, sess *session.Session, cmd types.StructuredCommand, cmdID, hostPath, vpath string) (types.ExecutionResult, error) {
	switch cmd.Verb {
	case types.VerbList:
		return x.performList(hostPath, vpath, cmd)
	case types.VerbPrintDir:
		return x.performPrintDir(sess)
	case types.VerbChangeDir:
		return x.performChangeDir(sess, hostPath, vpath)
	case types.VerbMakeDir:
		return x.performMakeDir(hostPath, vpath)
	case types.VerbRemove:
		return x.performRemove(ctx, sess, cmd, cmdID, hostPath, vpath)
	case types.VerbMonitor:
		return x.performMonitor(ctx, cmd)
	case types.VerbHelp:
		return types.ExecutionResult{Success: true, Output: helpText}, nil
	case types.VerbExit:
		return types.ExecutionResult{Success: true, Message: "exit"}, nil
	default:
		return types.ExecutionResult{}, fmt.Errorf("verb %q not implemented", cmd.Verb)
	}
}

func (x *Executor) performList(hostPath, vpath string, cmd types.StructuredCommand) (types.ExecutionResult, error) {
	all := cmd.HasFlag("-a") || cmd.HasFlag("--all")
	long := cmd.HasFlag("-l") || cmd.HasFlag("--long")

	info, err := os.Stat(hostPath)
	if err != nil {
		return types.ExecutionResult{}, err
	}
	if !info.IsDir() {
		return types.ExecutionResult{
			Success: true,
			Message: fmt.Sprintf("1 entry in %s", filepath.Dir(vpath)),
			Output:  listLine(filepath.Base(hostPath), info, long) + "\n",
		}, nil
	}

	entries, err := os.ReadDir(hostPath)
	if err != nil {
		return types.ExecutionResult{}, err
	}
	var lines []string
	for _, e := range entries {
		name := e.Name()
		if !all && strings.HasPrefix(name, ".") {
			continue
		}
		if long {
			ei, err := e.Info()
			if err != nil {
				// Entry raced with a removal; skip it.
				continue
			}
			lines = append(lines, listLine(name, ei, true))
		} else {
			if e.IsDir() {
				name += "/"
			}
			lines = append(lines, name)
		}
	}
	out := strings.Join(lines, "\n")
	if out != "" {
		out += "\n"
	}
	return types.ExecutionResult{
		Success: true,
		Message: fmt.Sprintf("%d entries in %s", len(lines), vpath),
		Output:  out,
	}, nil
}

func listLine(name string, info os.FileInfo, long bool) string {
	if info.IsDir() {
		name += "/"
	}
	if !long {
		return name
	}
	return fmt.Sprintf("%s  %8s  %s  %s",
		info.Mode().String(),
		humanSize(info.Size()),
		info.ModTime().UTC().Format("2006-01-02 15:04"),
		name)
}

func (x *Executor) performPrintDir(sess *session.Session) (types.ExecutionResult, error) {
	snap := sess.Snapshot()
	return types.ExecutionResult{Success: true, Message: snap.Cwd, Output: snap.Cwd + "\n"}, nil
}

func (x *Executor) performChangeDir(sess *session.Session, hostPath, vpath string) (types.ExecutionResult, error) {
	sess.SetCwd(hostPath)
	return types.ExecutionResult{
		Success:     true,
		Message:     fmt.Sprintf("changed directory to %s", vpath),
		SideEffects: types.SideEffects{NewCwd: vpath},
	}, nil
}

func (x *Executor) performMakeDir(hostPath, vpath string) (types.ExecutionResult, error) {
	if err := os.MkdirAll(hostPath, 0o755); err != nil {
		return types.ExecutionResult{}, err
	}
	return types.ExecutionResult{
		Success:     true,
		Message:     fmt.Sprintf("created directory %s", vpath),
		SideEffects: types.SideEffects{CreatedPath: vpath},
	}, nil
}

func (x *Executor) performRemove(ctx context.Context, sess *session.Session, cmd types.StructuredCommand, cmdID, hostPath, vpath string) (types.ExecutionResult, error) {
	entry, err := x.bin.Stash(hostPath, recyclebin.StashRequest{
		SessionID: sess.ID,
		CommandID: cmdID,
	})
	if err != nil {
		return types.ExecutionResult{}, err
	}
	x.emit(ctx, events.EventBinStashed, sess.ID, cmd, cmdID, vpath, nil,
		map[string]any{"entry_id": entry.ID, "size_bytes": entry.Size})
	return types.ExecutionResult{
		Success:     true,
		Message:     fmt.Sprintf("moved %s to the recycle bin (entry %s)", vpath, entry.ID),
		SideEffects: types.SideEffects{RecycleEntryID: entry.ID},
	}, nil
}

func (x *Executor) performMonitor(ctx context.Context, cmd types.StructuredCommand) (types.ExecutionResult, error) {
	opts := monitor.Options{
		Disk:    cmd.HasFlag("-d") || cmd.HasFlag("--disk"),
		Network: cmd.HasFlag("-n") || cmd.HasFlag("--network"),
	}
	if cmd.HasFlag("-p") || cmd.HasFlag("--processes") {
		opts.TopProcesses = 10
	}
	snap, err := x.mon.Snapshot(ctx, opts)
	if err != nil {
		return types.ExecutionResult{}, err
	}
	return types.ExecutionResult{
		Success: true,
		Message: "system snapshot",
		Output:  snap.Render(),
	}, nil
}

func humanSize(n int64) string {
	const unit = 1024
	if n < unit {
		return fmt.Sprintf("%d B", n)
	}
	div, exp := int64(unit), 0
	for m := n / unit; m >= unit; m /= unit {
		div *= unit
		exp++
	}
	return fmt.Sprintf("%.1f %cB", float64(n)/float64(div), "KMGTP"[exp])
}
