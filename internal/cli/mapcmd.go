package cli

import (
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"

	"github.com/DexterZero/Spyro-API/internal/domain/mapping"
	"github.com/DexterZero/Spyro-API/internal/firehose"
	"github.com/DexterZero/Spyro-API/pkg/logger"
)

type mapOptions struct {
	input  string
	output string
	file   string
	verify bool
}

func newMapCmd(_ *globals) *cobra.Command {
	o := &mapOptions{}
	cmd := &cobra.Command{
		Use:   "map",
		Short: "Replay a JSON dump through the mapping engine",
		Long: `Read newline-delimited JSON envelopes, as written by "dump -o json" or
"generate", and print the entity modifications they map to. Records the
engine rejects are reported and skipped.

With --verify every record is mapped twice and the run fails if the two
results differ. The digest logged at the end identifies the output.

Examples:
  spyro-firehose map --input render.ndjson
  spyro-firehose generate --count 1000 | spyro-firehose map --verify -o yaml`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runMap(cmd, o)
		},
	}

	f := cmd.Flags()
	f.StringVarP(&o.input, "input", "i", "", "dump file (default stdin)")
	f.StringVarP(&o.output, "output", "o", firehose.FormatText, "output format: text, json or yaml")
	f.StringVar(&o.file, "out", "", "write to this file instead of stdout")
	f.BoolVar(&o.verify, "verify", false, "map every record twice and compare")
	return cmd
}

func runMap(cmd *cobra.Command, o *mapOptions) error {
	ctx := cmd.Context()

	var in io.Reader = cmd.InOrStdin()
	if o.input != "" && o.input != "-" {
		f, err := os.Open(o.input)
		if err != nil {
			return fmt.Errorf("open input: %w", err)
		}
		defer f.Close()
		in = f
	}

	w, closeOut, err := openOutput(cmd, o.file)
	if err != nil {
		return err
	}
	defer func() { _ = closeOut() }()
	p, err := firehose.NewPrinter(w, o.output, false)
	if err != nil {
		return err
	}

	stats, err := firehose.Replay(ctx, in, mapping.New(), p, o.verify)
	if cerr := p.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		return err
	}
	logger.Named("firehose").Info(ctx, "map finished",
		logger.Int("steps", stats.Steps),
		logger.Int("modifications", stats.Modifications),
		logger.Int("mapping_errors", stats.MappingErrors),
		logger.String("digest", stats.Digest))
	return nil
}
