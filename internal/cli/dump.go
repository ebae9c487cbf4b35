package cli

import (
	"context"
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/DexterZero/Spyro-API/internal/adapters/source"
	"github.com/DexterZero/Spyro-API/internal/adapters/stream"
	"github.com/DexterZero/Spyro-API/internal/config"
	"github.com/DexterZero/Spyro-API/internal/firehose"
	"github.com/DexterZero/Spyro-API/pkg/logger"
)

type dumpOptions struct {
	provider string
	kind     string
	endpoint string
	format   string
	apiKey   string
	output   string
	file     string
	raw      bool
	firehose.DumpOptions
}

func newDumpCmd(g *globals) *cobra.Command {
	o := &dumpOptions{}
	cmd := &cobra.Command{
		Use:   "dump",
		Short: "Print the records of one provider stream",
		Long: `Connect to one provider and print its records. The provider comes from the
config file, or from --kind and --endpoint; flags override config values.

Examples:
  spyro-firehose dump --config spyro.yaml --provider render --stop-block 100
  spyro-firehose dump --provider akash --kind poll --endpoint https://api.example/v1/jobs -o json
  spyro-firehose dump --provider test --kind synthetic --stop-block 20 --raw`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runDump(cmd, g, o)
		},
	}

	f := cmd.Flags()
	f.StringVarP(&o.provider, "provider", "p", "", "provider name")
	f.StringVar(&o.kind, "kind", "", "source kind: websocket, poll or synthetic")
	f.StringVar(&o.endpoint, "endpoint", "", "upstream URL")
	f.StringVar(&o.format, "stream-format", "", "upstream record format")
	f.StringVar(&o.apiKey, "api-key", "", "upstream API key")
	f.StringVarP(&o.output, "output", "o", firehose.FormatText, "output format: text, json or yaml")
	f.StringVar(&o.file, "out", "", "write to this file instead of stdout")
	f.BoolVar(&o.raw, "raw", false, "print base64 CBOR envelopes")
	f.StringVar(&o.Cursor, "cursor", "", "resume cursor")
	f.Uint64Var(&o.StartBlock, "start-block", 0, "skip records below this block")
	f.Uint64Var(&o.StopBlock, "stop-block", 0, "stop after this block (0 runs until interrupted)")
	_ = cmd.MarkFlagRequired("provider")
	return cmd
}

func runDump(cmd *cobra.Command, g *globals, o *dumpOptions) error {
	ctx := cmd.Context()
	cfg, err := g.loadConfig(ctx)
	if err != nil {
		return err
	}

	pc, ok := cfg.Provider(o.provider)
	if !ok {
		pc = config.Provider{Name: o.provider}
	}
	f := cmd.Flags()
	if f.Changed("kind") {
		pc.Kind = o.kind
	}
	if f.Changed("endpoint") {
		pc.Endpoint = o.endpoint
	}
	if f.Changed("stream-format") {
		pc.Format = o.format
	}
	if f.Changed("api-key") {
		pc.APIKey = o.apiKey
	}
	if pc.Kind == "" {
		return fmt.Errorf("provider %q is not configured; pass --kind", o.provider)
	}
	if o.Cursor == "" {
		o.Cursor = pc.Cursor
	}

	log := logger.Named("firehose")
	src, err := source.New(pc.SourceConfig(), source.WithLogger(log.Named("source")))
	if err != nil {
		return err
	}

	w, closeOut, err := openOutput(cmd, o.file)
	if err != nil {
		return err
	}
	defer func() { _ = closeOut() }()
	p, err := firehose.NewPrinter(w, o.output, o.raw)
	if err != nil {
		return err
	}

	b := pc.EffectiveBackoff(cfg.Backoff)
	stats, err := firehose.Dump(ctx, src, o.DumpOptions, p,
		stream.WithBackoff(stream.NewBackoff(b.Floor, b.Ceiling, b.Factor)),
		stream.WithLogger(log))
	if cerr := p.Close(); err == nil {
		err = cerr
	}
	if errors.Is(err, context.Canceled) {
		err = nil
	}
	log.Info(ctx, "dump finished",
		logger.String("provider", pc.Name),
		logger.Int("steps", stats.Steps),
		logger.Int("skipped", stats.Skipped),
		logger.Duration("duration", stats.Duration))
	return err
}
