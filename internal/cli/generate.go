package cli

import (
	"encoding/json"
	"runtime"

	"github.com/spf13/cobra"

	"github.com/DexterZero/Spyro-API/internal/firehose"
	"github.com/DexterZero/Spyro-API/pkg/logger"
)

const defaultGenerateCount = 1000

type generateOptions struct {
	file string
	firehose.GenerateOptions
}

func newGenerateCmd(_ *globals) *cobra.Command {
	o := &generateOptions{}
	cmd := &cobra.Command{
		Use:   "generate",
		Short: "Write synthetic envelopes as a JSON dump",
		Long: `Generate synthetic model announcements, jobs and heartbeats, one JSON
envelope per line, round-robin over the given providers.

Examples:
  spyro-firehose generate --count 500 --provider render --provider akash
  spyro-firehose generate --start-block 1000 --out fixtures.ndjson`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runGenerate(cmd, o)
		},
	}

	f := cmd.Flags()
	f.IntVarP(&o.Count, "count", "n", defaultGenerateCount, "number of envelopes")
	f.StringArrayVarP(&o.Providers, "provider", "p", []string{"synthetic"}, "provider name (repeatable)")
	f.Uint64Var(&o.StartBlock, "start-block", 1, "first block of every provider")
	f.Uint64Var(&o.Timestamp, "timestamp", 0, "unix time of the first record (default now)")
	f.IntVar(&o.Workers, "workers", runtime.NumCPU(), "concurrent generators")
	f.StringVar(&o.file, "out", "", "write to this file instead of stdout")
	return cmd
}

func runGenerate(cmd *cobra.Command, o *generateOptions) error {
	ctx := cmd.Context()
	envs, err := firehose.Generate(ctx, o.GenerateOptions)
	if err != nil {
		return err
	}

	w, closeOut, err := openOutput(cmd, o.file)
	if err != nil {
		return err
	}
	enc := json.NewEncoder(w)
	for _, env := range envs {
		if err := enc.Encode(env); err != nil {
			_ = closeOut()
			return err
		}
	}
	logger.Named("firehose").Info(ctx, "generated envelopes",
		logger.Int("count", len(envs)),
		logger.Int("providers", len(o.Providers)))
	return closeOut()
}
