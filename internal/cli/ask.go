package cli

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/safesh/safesh/internal/ai"
)

func newAskCmd() *cobra.Command {
	var suggestOnly bool

	cmd := &cobra.Command{
		Use:   "ask <text...>",
		Short: "Translate natural language into a command and run it",
		Long: `Translate free text into a structured command and run it through the same
confirmation workflow as a typed command. The AI translator is used when
enabled and within quota; otherwise the rule matcher answers. The prompt
discloses which one produced the suggestion.`,
		Example: `  safesh ask "list all files"
  safesh ask --suggest "delete the demo folder"`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			text := strings.TrimSpace(strings.Join(args, " "))

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

			tr := stack.dispatcher.Interpret(cmd.Context(), ai.Request{
				Text:      text,
				Cwd:       sess.Snapshot().Cwd,
				SessionID: sess.ID,
			})
			fmt.Fprintf(cmd.OutOrStdout(), "interpreted as: %s (%s)\n", renderCommand(tr.Command), engineLabel(tr))
			if suggestOnly {
				return nil
			}

			res := stack.exec.Execute(cmd.Context(), sess, tr.Command, stack.confirms.Ask)
			printResult(cmd.OutOrStdout(), cmd.ErrOrStderr(), res)
			if !res.Success {
				return &ExitError{code: 1}
			}
			return nil
		},
	}
	cmd.Flags().BoolVar(&suggestOnly, "suggest", false, "print the translation without executing it")
	return cmd
}
