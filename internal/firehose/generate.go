package firehose

import (
	"context"
	"fmt"
	"runtime"
	"strconv"
	"time"

	"github.com/DexterZero/Spyro-API/internal/adapters/source"
	model "github.com/DexterZero/Spyro-API/internal/domain/model"
	"github.com/DexterZero/Spyro-API/pkg/logger"
)

// Generate builds opts.Count synthetic envelopes, spread round-robin over
// opts.Providers. Each provider's blocks count up from opts.StartBlock.
func Generate(ctx context.Context, opts GenerateOptions) ([]model.Envelope, error) {
	if len(opts.Providers) == 0 {
		return nil, ErrNoProviders
	}
	if opts.Count <= 0 {
		return nil, nil
	}
	if opts.Timestamp == 0 {
		opts.Timestamp = uint64(time.Now().Unix())
	}
	workers := opts.Workers
	if workers <= 0 {
		workers = runtime.NumCPU()
	}
	workers = min(workers, opts.Count)

	logger.Get().Info(ctx, "generating envelopes",
		logger.Int("count", opts.Count),
		logger.Int("providers", len(opts.Providers)),
		logger.Int("workers", workers))

	type result struct {
		index int
		env   model.Envelope
		err   error
	}
	results := make(chan result, opts.Count)

	perWorker := opts.Count / workers
	for w := 0; w < workers; w++ {
		start := w * perWorker
		end := start + perWorker
		if w == workers-1 {
			end = opts.Count
		}
		go func(start, end int) {
			for i := start; i < end; i++ {
				select {
				case <-ctx.Done():
					results <- result{index: i, err: ctx.Err()}
					return
				default:
					env, err := generateOne(opts, i)
					results <- result{index: i, env: env, err: err}
				}
			}
		}(start, end)
	}

	out := make([]model.Envelope, opts.Count)
	for i := 0; i < opts.Count; i++ {
		select {
		case <-ctx.Done():
			return nil, fmt.Errorf("generation cancelled: %w", ctx.Err())
		case r := <-results:
			if r.err != nil {
				return nil, fmt.Errorf("generate envelope %d: %w", r.index, r.err)
			}
			out[r.index] = r.env
		}
	}
	return out, nil
}

// generateOne builds the i-th envelope of the batch.
func generateOne(opts GenerateOptions, i int) (model.Envelope, error) {
	provider := opts.Providers[i%len(opts.Providers)]
	seq := uint64(i / len(opts.Providers))
	block := opts.StartBlock + seq
	ev := source.Generate(provider, seq, opts.Timestamp+seq)
	env, err := model.NewEnvelope(ev, model.Position{Number: block, Cursor: strconv.FormatUint(block, 10)})
	if err != nil {
		return model.Envelope{}, err
	}
	env.Stream = provider
	return env, nil
}
