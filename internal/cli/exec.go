package cli

import (
	"strings"

	"github.com/spf13/cobra"

	"github.com/safesh/safesh/internal/rules"
)

func newExecCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "exec <verb> [args...]",
		Short: "Run one command through the safety pipeline",
		Example: `  safesh exec list -l
  safesh exec mkdir demo
  safesh exec -- rm -r demo`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			// Everything after the verb is the command's, including -r.
			parsed, err := rules.ParseDirect(strings.Join(args, " "))
			if err != nil {
				return &ExitError{code: 2, message: err.Error()}
			}

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

			res := stack.exec.Execute(cmd.Context(), sess, parsed, stack.confirms.Ask)
			printResult(cmd.OutOrStdout(), cmd.ErrOrStderr(), res)
			if !res.Success {
				return &ExitError{code: 1}
			}
			return nil
		},
	}
	cmd.Flags().SetInterspersed(false)
	return cmd
}
