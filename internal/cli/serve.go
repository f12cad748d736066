package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/safesh/safesh/internal/server"
	"github.com/safesh/safesh/pkg/observability"
)

func newServeCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the safesh server",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, path, err := loadCLIConfig(cmd)
			if err != nil {
				return err
			}

			logger, closeLog, err := observability.NewLogger(observability.Config{
				Level:  cfg.Logging.Level,
				Format: cfg.Logging.Format,
				Output: cfg.Logging.Output,
			})
			if err != nil {
				return err
			}
			defer func() { _ = closeLog.Close() }()

			s, err := server.New(cfg, server.Options{Logger: logger, ConfigPath: path})
			if err != nil {
				return err
			}
			defer func() { _ = s.Close() }()

			fmt.Fprintf(cmd.OutOrStdout(), "safesh listening on %s\n", s.Addr())
			return s.Run(cmd.Context())
		},
	}
	return cmd
}
