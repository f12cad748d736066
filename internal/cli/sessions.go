package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/safesh/safesh/internal/client"
)

func newSessionsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "sessions",
		Short: "Manage sessions on a running safesh server",
	}
	cmd.AddCommand(newSessionsListCmd(), newSessionsCreateCmd(), newSessionsDestroyCmd(), newSessionsHistoryCmd())
	return cmd
}

func newSessionsListCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List active sessions",
		RunE: func(cmd *cobra.Command, args []string) error {
			c := client.New(serverURL(cmd))
			sessions, err := c.ListSessions(cmd.Context())
			if err != nil {
				return err
			}
			if len(sessions) == 0 {
				fmt.Fprintln(cmd.OutOrStdout(), "no sessions")
				return nil
			}
			for _, s := range sessions {
				fmt.Fprintf(cmd.OutOrStdout(), "%s\t%s\tcwd=%s\tlast activity %s\n",
					s.ID, s.State, s.Cwd, formatAge(s.LastActivity))
			}
			return nil
		},
	}
}

func newSessionsCreateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "create",
		Short: "Create a session",
		RunE: func(cmd *cobra.Command, args []string) error {
			c := client.New(serverURL(cmd))
			s, err := c.CreateSession(cmd.Context())
			if err != nil {
				return err
			}
			return printJSON(cmd, s)
		},
	}
}

func newSessionsDestroyCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "destroy <id>",
		Short: "Destroy a session",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			c := client.New(serverURL(cmd))
			if err := c.DestroySession(cmd.Context(), args[0]); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "destroyed %s\n", args[0])
			return nil
		},
	}
}

func newSessionsHistoryCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "history <id>",
		Short: "Show a session's command history",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			c := client.New(serverURL(cmd))
			lines, err := c.SessionHistory(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			for i, line := range lines {
				fmt.Fprintf(cmd.OutOrStdout(), "%4d  %s\n", i+1, line)
			}
			return nil
		},
	}
}
