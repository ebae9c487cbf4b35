package firehose

import (
	"context"
	"errors"
	"time"

	"github.com/DexterZero/Spyro-API/internal/adapters/source"
	"github.com/DexterZero/Spyro-API/internal/adapters/stream"
	model "github.com/DexterZero/Spyro-API/internal/domain/model"
	"github.com/DexterZero/Spyro-API/pkg/logger"
)

// errStop ends the stream once the stop block has been printed.
var errStop = errors.New("stop block reached")

// Dump prints every record of src between opts.StartBlock and
// opts.StopBlock. Disconnects are retried with the usual backoff.
func Dump(ctx context.Context, src source.Source, opts DumpOptions, p *Printer, streamOpts ...stream.Option) (Stats, error) {
	stats := Stats{StartTime: time.Now()}
	log := logger.Get().Named("firehose")

	start := model.Position{Cursor: opts.Cursor}
	if opts.StartBlock > 0 {
		start.Number = opts.StartBlock - 1
	}
	streamOpts = append([]stream.Option{stream.WithStart(start), stream.WithLogger(log)}, streamOpts...)
	rs := stream.New(src, streamOpts...)

	err := rs.Run(ctx, func(_ context.Context, env model.Envelope) error {
		n := env.Position.Number
		if n < opts.StartBlock {
			stats.Skipped++
			return nil
		}
		if opts.StopBlock > 0 && n > opts.StopBlock {
			return errStop
		}
		if err := p.Step(env); err != nil {
			return err
		}
		stats.step(n)
		if opts.StopBlock > 0 && n == opts.StopBlock {
			return errStop
		}
		return nil
	})
	stats.finish()

	if errors.Is(err, errStop) {
		log.Info(ctx, "dump complete",
			logger.Int("steps", stats.Steps),
			logger.Uint64("first_block", stats.FirstBlock),
			logger.Uint64("last_block", stats.LastBlock))
		return stats, nil
	}
	return stats, err
}
