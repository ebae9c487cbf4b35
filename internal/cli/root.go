// Package cli provides the spyro-firehose command line.
package cli

import (
	"context"
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"

	"github.com/DexterZero/Spyro-API/internal/config"
	"github.com/DexterZero/Spyro-API/pkg/logger"
)

// Version is set at build time.
var Version = "0.1.0"

// globals are the flags every command shares.
type globals struct {
	configPath string
	verbose    int
}

// loadConfig reads the node configuration named by --config, or the
// defaults and SPYRO_* variables when it is empty.
func (g *globals) loadConfig(ctx context.Context) (*config.Config, error) {
	return config.Load(ctx, g.configPath)
}

// NewRootCmd builds the spyro-firehose command tree.
func NewRootCmd() *cobra.Command {
	g := &globals{}
	root := &cobra.Command{
		Use:   "spyro-firehose",
		Short: "Inspect compute-provider streams",
		Long: `spyro-firehose talks to the same provider upstreams as spyro-node without
running a node.

  dump      print the records of one provider stream
  map       replay a JSON dump through the mapping engine
  generate  write synthetic envelopes as a JSON dump`,
		Version:       Version,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			// stdout carries command output, logs go to stderr.
			if err := logger.Init(logger.WithWriter(cmd.ErrOrStderr())); err != nil {
				return err
			}
			return logger.SetLevelString(logger.LevelFromVerbosity(g.verbose))
		},
	}

	root.PersistentFlags().StringVarP(&g.configPath, "config", "c", "", "node config file (yaml, json or jsonc)")
	root.PersistentFlags().CountVarP(&g.verbose, "verbose", "v", "increase log verbosity (-v, -vv)")

	root.AddCommand(newDumpCmd(g))
	root.AddCommand(newMapCmd(g))
	root.AddCommand(newGenerateCmd(g))
	return root
}

// Execute runs the command tree with os.Args.
func Execute(ctx context.Context) error {
	return NewRootCmd().ExecuteContext(ctx)
}

// openOutput returns stdout for "" or "-", else a created file.
func openOutput(cmd *cobra.Command, path string) (io.Writer, func() error, error) {
	if path == "" || path == "-" {
		return cmd.OutOrStdout(), func() error { return nil }, nil
	}
	f, err := os.Create(path)
	if err != nil {
		return nil, nil, fmt.Errorf("create output: %w", err)
	}
	return f, f.Close, nil
}
