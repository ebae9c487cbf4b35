package firehose

import (
	"bytes"
	"context"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/zeebo/blake3"

	"github.com/DexterZero/Spyro-API/internal/domain/mapping"
	model "github.com/DexterZero/Spyro-API/internal/domain/model"
	"github.com/DexterZero/Spyro-API/pkg/logger"
)

// Replay maps NDJSON envelopes from r and prints the modifications. Records
// the engine rejects are counted and skipped. With verify set every
// envelope is mapped twice and the encodings compared. Stats.Digest hashes
// the encoded modifications in order, so two replays of one dump can be
// compared by digest alone.
func Replay(ctx context.Context, r io.Reader, engine *mapping.Engine, p *Printer, verify bool) (Stats, error) {
	stats := Stats{StartTime: time.Now()}
	log := logger.Get().Named("firehose")
	h := blake3.New()

	dec := json.NewDecoder(r)
	for {
		if err := ctx.Err(); err != nil {
			return stats, err
		}
		var env model.Envelope
		if err := dec.Decode(&env); err != nil {
			if errors.Is(err, io.EOF) {
				break
			}
			return stats, fmt.Errorf("read envelope %d: %w", stats.Steps+stats.MappingErrors+1, err)
		}

		mods, err := engine.Map(env)
		if err != nil {
			if !errors.Is(err, mapping.ErrMapping) {
				return stats, err
			}
			stats.MappingErrors++
			log.Warn(ctx, "skipping record", logger.Uint64("block", env.Position.Number), logger.Error(err))
			continue
		}
		stats.step(env.Position.Number)

		var again []model.EntityModification
		if verify {
			if again, err = engine.Map(env); err != nil {
				return stats, fmt.Errorf("%w: block %d: second pass failed: %v", ErrNondeterministic, env.Position.Number, err)
			}
			if len(again) != len(mods) {
				return stats, fmt.Errorf("%w: block %d: %d then %d modifications", ErrNondeterministic, env.Position.Number, len(mods), len(again))
			}
		}

		for i, m := range mods {
			enc, err := m.Encode()
			if err != nil {
				return stats, err
			}
			if verify {
				enc2, err := again[i].Encode()
				if err != nil {
					return stats, err
				}
				if !bytes.Equal(enc, enc2) {
					return stats, fmt.Errorf("%w: block %d: %s", ErrNondeterministic, env.Position.Number, m)
				}
			}
			_, _ = h.Write(enc)
			if err := p.Modification(m); err != nil {
				return stats, err
			}
			stats.Modifications++
		}
	}

	stats.Digest = hex.EncodeToString(h.Sum(nil))
	stats.finish()
	return stats, nil
}
