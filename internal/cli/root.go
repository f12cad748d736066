// Package cli wires the safesh commands. The interactive commands (shell,
// exec, ask, bin, monitor) build the execution stack in-process against the
// local config; sessions and events talk to a running server instead.
package cli

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/safesh/safesh/internal/config"
)

const defaultServerURL = "http://127.0.0.1:8375"

func NewRoot(version string) *cobra.Command {
	cmd := &cobra.Command{
		Use:           "safesh",
		Short:         "safesh: a sandboxed shell with an undo buffer",
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	cmd.Version = version
	cmd.SetVersionTemplate("safesh {{.Version}}\n")

	cmd.PersistentFlags().String("config", getenvDefault("SAFESH_CONFIG", ""), "Path to safesh.yaml (default: ~/.safesh/safesh.yaml)")
	cmd.PersistentFlags().String("server", getenvDefault("SAFESH_SERVER", defaultServerURL), "safesh server base URL (remote commands)")

	cmd.AddCommand(newServeCmd())
	cmd.AddCommand(newShellCmd())
	cmd.AddCommand(newExecCmd())
	cmd.AddCommand(newAskCmd())
	cmd.AddCommand(newBinCmd())
	cmd.AddCommand(newMonitorCmd())
	cmd.AddCommand(newSessionsCmd())
	cmd.AddCommand(newEventsCmd())

	return cmd
}

// loadCLIConfig reads the config named by --config, falling back to the
// default path. A missing file yields the built-in defaults.
func loadCLIConfig(cmd *cobra.Command) (*config.Config, string, error) {
	path, _ := cmd.Root().PersistentFlags().GetString("config")
	if path == "" {
		path = config.DefaultPath()
	}
	cfg, err := config.Load(path)
	if err != nil {
		return nil, path, err
	}
	return cfg, path, nil
}

func serverURL(cmd *cobra.Command) string {
	addr, _ := cmd.Root().PersistentFlags().GetString("server")
	if addr == "" {
		return defaultServerURL
	}
	return addr
}

func getenvDefault(k, def string) string {
	if v := os.Getenv(k); v != "" {
		return v
	}
	return def
}

func printJSON(cmd *cobra.Command, v any) error {
	b, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return err
	}
	_, err = fmt.Fprintln(cmd.OutOrStdout(), string(b))
	return err
}
