package mapping

import (
	"fmt"

	"github.com/DexterZero/Spyro-API/internal/domain/keys"
	model "github.com/DexterZero/Spyro-API/internal/domain/model"
)

// ReputationScale is the score that maps to a reputation of 1.0.
const ReputationScale = 10000

// reputationDigits is the number of fractional digits kept in reputation.
const reputationDigits = 4

// Transform turns one validated event into entity outputs. Implementations
// must be pure: the same event always yields the same outputs. The engine
// treats the result as untrusted and checks it before use.
type Transform interface {
	Name() string
	Apply(ev model.IngestEvent) ([]Output, error)
}

// Output is one entity write proposed by a Transform. Keys are not part of
// the output; the engine derives them from the event.
type Output struct {
	Op         model.ModKind
	EntityType model.EntityType
	Fields     model.Fields
}

// TransformFunc adapts a function to Transform.
type TransformFunc struct {
	ID string
	Fn func(ev model.IngestEvent) ([]Output, error)
}

// Name returns the transform name.
func (f TransformFunc) Name() string { return f.ID }

// Apply calls the function.
func (f TransformFunc) Apply(ev model.IngestEvent) ([]Output, error) { return f.Fn(ev) }

// Canonical is the built-in transform for every provider.
type Canonical struct{}

// Name returns "canonical".
func (Canonical) Name() string { return "canonical" }

// Apply maps ModelMeta to an upserted Model, InferenceJobEvent to an
// inserted InferenceJob and ProviderStats to an updated Provider.
func (Canonical) Apply(ev model.IngestEvent) ([]Output, error) {
	switch e := ev.(type) {
	case model.ModelMeta:
		return []Output{{
			Op:         model.ModUpsert,
			EntityType: model.EntityModel,
			Fields: model.Model{
				Provider:       e.Provider,
				CurrentVersion: e.Version,
				Params:         int64(e.Params),
				License:        e.License,
			}.Fields(),
		}}, nil

	case model.InferenceJobEvent:
		job := model.InferenceJob{
			Latency:        int32(e.LatencyMs),
			Cost:           e.CostWei,
			BlockTimestamp: int64(e.Timestamp),
		}
		var err error
		if e.ModelID != "" {
			if job.Model, err = keys.Model(e.Provider, e.ModelID); err != nil {
				return nil, err
			}
		}
		if e.Requester != "" {
			if job.Requester, err = keys.DecodeHex(e.Requester); err != nil {
				return nil, err
			}
		}
		if e.InputHash != "" {
			if job.InputHash, err = keys.DecodeHex(e.InputHash); err != nil {
				return nil, err
			}
		}
		return []Output{{
			Op:         model.ModInsert,
			EntityType: model.EntityInferenceJob,
			Fields:     job.Fields(),
		}}, nil

	case model.ProviderStats:
		p := model.Provider{
			Network:    e.Provider,
			Reputation: Reputation(e.Score),
		}
		if e.Stake != nil {
			p.Stake = *e.Stake
		}
		return []Output{{
			Op:         model.ModUpdate,
			EntityType: model.EntityProvider,
			Fields:     p.Fields(),
		}}, nil
	}
	return nil, fmt.Errorf("%w: %T", ErrUnsupportedKind, ev)
}

// Reputation converts a provider score to a decimal in [0, 1] for scores up
// to ReputationScale.
func Reputation(score uint32) model.Decimal {
	return model.DecimalFromRatio(uint64(score), ReputationScale, reputationDigits)
}
