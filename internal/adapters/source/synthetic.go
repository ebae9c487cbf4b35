package source

import (
	"context"
	"crypto/rand"
	"io"
	"math/big"
	"strconv"
	"time"

	"github.com/google/uuid"
	"golang.org/x/time/rate"

	model "github.com/DexterZero/Spyro-API/internal/domain/model"
)

// Ranges for generated values.
const (
	latencyMinMs   = 20
	latencyRangeMs = 2000
	costRangeWei   = 5_000_000_000_000
	gpuUtilRange   = 101
	scoreRange     = 10001
	nodeCount      = 4
	paramsUnit     = 1_000_000
)

var syntheticModels = []string{"sd-v1", "llama-3-8b", "whisper-large", "flux-dev"}

func init() {
	Register(KindSynthetic, NewSynthetic)
}

// SyntheticSource generates a plausible mix of model announcements, jobs
// and heartbeats for local runs and load tests.
type SyntheticSource struct {
	cfg     Config
	limiter *rate.Limiter
}

// NewSynthetic builds a synthetic source. Interval paces records; zero
// means as fast as they are read.
func NewSynthetic(cfg Config, _ ...Option) (Source, error) {
	limit := rate.Inf
	if cfg.Interval > 0 {
		limit = rate.Every(cfg.Interval)
	}
	return &SyntheticSource{cfg: cfg, limiter: rate.NewLimiter(limit, 1)}, nil
}

// ID returns the provider name.
func (s *SyntheticSource) ID() string { return s.cfg.Name }

// OpenStream continues numbering after from.
func (s *SyntheticSource) OpenStream(ctx context.Context, from model.Position) (Stream, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return &syntheticStream{src: s, next: from.Number + 1}, nil
}

type syntheticStream struct {
	src  *SyntheticSource
	next uint64
	sent int
}

// Recv returns the next generated envelope, or io.EOF once Limit records
// were produced.
func (g *syntheticStream) Recv(ctx context.Context) (model.Envelope, error) {
	if g.src.cfg.Limit > 0 && g.sent >= g.src.cfg.Limit {
		return model.Envelope{}, io.EOF
	}
	if err := g.src.limiter.Wait(ctx); err != nil {
		<-ctx.Done()
		return model.Envelope{}, ctx.Err()
	}

	n := g.next
	g.next++
	g.sent++
	ev := Generate(g.src.cfg.Name, n, uint64(time.Now().Unix()))
	env, err := model.NewEnvelope(ev, model.Position{Number: n, Cursor: strconv.FormatUint(n, 10)})
	if err != nil {
		return model.Envelope{}, err
	}
	env.Stream = g.src.cfg.Name
	return env, nil
}

// Close is a no-op.
func (g *syntheticStream) Close() error { return nil }

// Generate returns the n-th synthetic event for provider. Models are
// announced before the first job that references them.
func Generate(provider string, n, ts uint64) model.IngestEvent {
	idx := (n / 3) % uint64(len(syntheticModels))
	modelID := syntheticModels[idx]
	switch {
	case n%3 == 0 && (n/3 < uint64(len(syntheticModels)) || n%30 == 0):
		return model.ModelMeta{
			Provider:  provider,
			ModelID:   modelID,
			Version:   "1." + strconv.FormatUint(n/30, 10),
			Params:    (idx + 1) * 100 * paramsUnit,
			Timestamp: ts,
		}
	case n%3 != 2:
		return model.InferenceJobEvent{
			Provider:  provider,
			JobID:     uuid.NewString(),
			ModelID:   modelID,
			LatencyMs: uint32(latencyMinMs + randN(latencyRangeMs)),
			CostWei:   model.NewInt128(int64(randN(costRangeWei))),
			Success:   randN(20) != 0,
			Timestamp: ts,
		}
	default:
		stake := model.NewInt128(int64(randN(costRangeWei)))
		return model.ProviderStats{
			Provider:  provider,
			NodeID:    "node-" + strconv.FormatUint(randN(nodeCount)+1, 10),
			GPUUtil:   uint8(randN(gpuUtilRange)),
			Score:     uint32(randN(scoreRange)),
			Timestamp: ts,
			Stake:     &stake,
		}
	}
}

// randN returns a uniform value in [0, n).
func randN(n uint64) uint64 {
	v, err := rand.Int(rand.Reader, new(big.Int).SetUint64(n))
	if err != nil {
		return 0
	}
	return v.Uint64()
}
