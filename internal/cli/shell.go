package cli

import (
	"bufio"
	"fmt"
	"io"
	"strings"

	"github.com/spf13/cobra"

	"github.com/safesh/safesh/internal/ai"
	"github.com/safesh/safesh/pkg/types"
)

func newShellCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "shell",
		Short: "Start an interactive safesh session",
		Long: `Start a line-oriented shell confined to the configured root.

Typed commands (list, cd, mkdir, rm, ...) run directly. Anything else is
translated from natural language; a leading "?" forces translation. Suggested
destructive commands always ask before running.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, _, err := loadCLIConfig(cmd)
			if err != nil {
				return err
			}
			logger, closeLog, err := quietLogger(cfg)
			if err != nil {
				return err
			}
			defer closeLog()

			stack, err := buildLocalStack(cfg, logger)
			if err != nil {
				return err
			}
			defer func() { _ = stack.Close() }()

			sess, err := stack.sessions.Create()
			if err != nil {
				return err
			}
			defer stack.sessions.Destroy(sess.ID)

			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "safesh %s, confined to %s\n", cmd.Root().Version, stack.resolver.Root())
			fmt.Fprintln(out, `Type "help" for commands, "exit" to leave.`)

			sc := bufio.NewScanner(cmd.InOrStdin())
			for {
				snap := sess.Snapshot()
				fmt.Fprintf(out, "safesh:%s> ", snap.Cwd)
				if !sc.Scan() {
					fmt.Fprintln(out)
					return sc.Err()
				}
				line := strings.TrimSpace(sc.Text())
				if line == "" {
					continue
				}
				if line == "history" {
					for i, h := range sess.History() {
						fmt.Fprintf(out, "%4d  %s\n", i+1, h)
					}
					continue
				}

				tr := stack.dispatcher.InterpretLine(cmd.Context(), ai.Request{
					Text:      line,
					Cwd:       snap.Cwd,
					SessionID: sess.ID,
				})
				if tr.Engine != types.SourceDirect {
					fmt.Fprintf(out, "interpreted as: %s (%s)\n", renderCommand(tr.Command), engineLabel(tr))
				}

				res := stack.exec.Execute(cmd.Context(), sess, tr.Command, stack.confirms.Ask)
				printResult(out, cmd.ErrOrStderr(), res)

				if tr.Command.Verb == types.VerbExit && res.Success {
					return nil
				}
			}
		},
	}
	return cmd
}

func renderCommand(c types.StructuredCommand) string {
	if len(c.Args) == 0 {
		return string(c.Verb)
	}
	return string(c.Verb) + " " + strings.Join(c.Args, " ")
}

func engineLabel(tr types.TranslationResult) string {
	switch tr.Engine {
	case types.SourceAI:
		return fmt.Sprintf("ai, confidence %.2f", tr.Confidence)
	case types.SourceRuleMatcher:
		if tr.Note != "" {
			return "rules, " + tr.Note
		}
		return "rules"
	default:
		return string(tr.Engine)
	}
}

// printResult writes one execution result the way the REPL shows it:
// output verbatim, failures on stderr with their code.
func printResult(out, errOut io.Writer, res types.ExecutionResult) {
	switch {
	case res.Error != nil:
		fmt.Fprintf(errOut, "%s (%s)\n", res.Message, res.Error.Code)
	case res.Output != "":
		fmt.Fprint(out, res.Output)
	case res.Message != "":
		fmt.Fprintln(out, res.Message)
	}
}
