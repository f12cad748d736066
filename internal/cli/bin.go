package cli

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/safesh/safesh/internal/recyclebin"
)

func newBinCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "bin",
		Short: "Manage the recycle bin (soft-deleted items)",
	}
	cmd.AddCommand(newBinListCmd(), newBinRestoreCmd(), newBinPurgeCmd(), newBinUsageCmd())
	return cmd
}

func newBinListCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List items in the recycle bin",
		RunE: func(cmd *cobra.Command, args []string) error {
			sessionID, _ := cmd.Flags().GetString("session")
			cfg, _, err := loadCLIConfig(cmd)
			if err != nil {
				return err
			}
			bin, err := openBin(cfg)
			if err != nil {
				return err
			}
			entries, err := bin.List()
			if err != nil {
				return err
			}
			shown := 0
			for _, e := range entries {
				if sessionID != "" && e.SessionID != sessionID {
					continue
				}
				fmt.Fprintf(cmd.OutOrStdout(), "%s\t%s\t%d bytes\t%s\n",
					e.ID, e.OriginalPath, e.Size, formatAge(e.DeletedAt))
				shown++
			}
			if shown == 0 {
				fmt.Fprintln(cmd.OutOrStdout(), "recycle bin empty")
			}
			return nil
		},
	}
	cmd.Flags().String("session", "", "filter by session id")
	return cmd
}

func newBinRestoreCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "restore <id>",
		Short: "Restore an item to its original path",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			dest, _ := cmd.Flags().GetString("dest")
			force, _ := cmd.Flags().GetBool("force")
			cfg, _, err := loadCLIConfig(cmd)
			if err != nil {
				return err
			}
			bin, err := openBin(cfg)
			if err != nil {
				return err
			}
			restored, err := bin.Restore(args[0], dest, force)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "restored to %s\n", restored)
			return nil
		},
	}
	cmd.Flags().String("dest", "", "override restore destination")
	cmd.Flags().Bool("force", false, "overwrite the destination if it exists")
	return cmd
}

func newBinPurgeCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "purge",
		Short: "Permanently delete recycle bin entries",
		RunE: func(cmd *cobra.Command, args []string) error {
			all, _ := cmd.Flags().GetBool("all")
			id, _ := cmd.Flags().GetString("id")
			sessionID, _ := cmd.Flags().GetString("session")
			olderThanStr, _ := cmd.Flags().GetString("older-than")

			var olderThan time.Duration
			if olderThanStr != "" {
				var err error
				olderThan, err = time.ParseDuration(olderThanStr)
				if err != nil {
					return fmt.Errorf("parse older-than: %w", err)
				}
			}
			if !all && id == "" && sessionID == "" && olderThan == 0 {
				return fmt.Errorf("nothing selected: pass --all, --id, --session or --older-than")
			}

			cfg, _, err := loadCLIConfig(cmd)
			if err != nil {
				return err
			}
			bin, err := openBin(cfg)
			if err != nil {
				return err
			}
			removed, err := bin.Purge(recyclebin.PurgeOptions{
				All:       all,
				ID:        id,
				SessionID: sessionID,
				OlderThan: olderThan,
			})
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "purged %d entr%s\n", removed, plural(removed, "y", "ies"))
			return nil
		},
	}
	cmd.Flags().Bool("all", false, "purge everything")
	cmd.Flags().String("id", "", "purge a single entry")
	cmd.Flags().String("session", "", "purge entries for a session")
	cmd.Flags().String("older-than", "", "purge entries older than a duration (e.g. 168h)")
	return cmd
}

func newBinUsageCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "usage",
		Short: "Show recycle bin disk usage",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, _, err := loadCLIConfig(cmd)
			if err != nil {
				return err
			}
			bin, err := openBin(cfg)
			if err != nil {
				return err
			}
			entries, err := bin.List()
			if err != nil {
				return err
			}
			used, err := bin.Usage()
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%d entr%s, %d bytes\n", len(entries), plural(len(entries), "y", "ies"), used)
			return nil
		},
	}
}

func plural(n int, one, many string) string {
	if n == 1 {
		return one
	}
	return many
}
