package source

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math"

	model "github.com/DexterZero/Spyro-API/internal/domain/model"
	"github.com/DexterZero/Spyro-API/pkg/logger"
)

// Record formats.
const (
	FormatCanonical = "canonical"
	FormatRender    = "render"
	FormatTao       = "tao"
)

// Normalizer turns one upstream frame into envelopes. A frame holds one
// record or a JSON array of records. Record types a format does not know
// are dropped. A frame that is not valid JSON is an error; records that
// cannot be read are skipped and reported as errors matching
// ErrMalformedRecord alongside the envelopes that could be built.
type Normalizer interface {
	Normalize(frame []byte) ([]model.Envelope, error)
}

// ErrMalformedRecord marks a single unreadable record inside a frame.
var ErrMalformedRecord = errors.New("malformed record")

func recordErr(i int, what string, err error) error {
	return fmt.Errorf("%w: #%d %s: %v", ErrMalformedRecord, i, what, err)
}

// decodeParams fails on a missing params object.
func decodeParams(raw json.RawMessage, v any) error {
	if len(raw) == 0 {
		return errors.New("params missing")
	}
	return json.Unmarshal(raw, v)
}

// NormalizerFor returns the normalizer for format. network becomes the
// provider of every event produced.
func NormalizerFor(format, network string) (Normalizer, error) {
	switch format {
	case FormatCanonical, "":
		return canonical{network: network}, nil
	case FormatRender:
		return render{network: network}, nil
	case FormatTao:
		return tao{network: network}, nil
	}
	return nil, fmt.Errorf("%w: %q", ErrUnknownFormat, format)
}

// blockRef locates an upstream record.
type blockRef struct {
	Number    uint64 `json:"number"`
	Hash      string `json:"hash"`
	Timestamp uint64 `json:"timestamp"`
}

type txRef struct {
	Hash string `json:"hash"`
	From string `json:"from"`
}

// chainRecord is the common shape of render and tao records.
type chainRecord struct {
	Type   string          `json:"type"`
	Cursor string          `json:"cursor,omitempty"`
	Block  blockRef        `json:"block"`
	Tx     txRef           `json:"tx"`
	Params json.RawMessage `json:"params"`
}

func (r chainRecord) position() model.Position {
	return model.Position{Number: r.Block.Number, Hash: r.Block.Hash, Cursor: r.Cursor}
}

// splitFrame returns the records in a frame.
func splitFrame(frame []byte) ([]json.RawMessage, error) {
	trimmed := bytes.TrimSpace(frame)
	if len(trimmed) == 0 {
		return nil, nil
	}
	if trimmed[0] == '[' {
		var records []json.RawMessage
		if err := json.Unmarshal(trimmed, &records); err != nil {
			return nil, err
		}
		return records, nil
	}
	if !json.Valid(trimmed) {
		return nil, fmt.Errorf("frame is not valid JSON")
	}
	return []json.RawMessage{trimmed}, nil
}

func envelopes(stream string, pos model.Position, events ...model.IngestEvent) ([]model.Envelope, error) {
	out := make([]model.Envelope, 0, len(events))
	for _, ev := range events {
		env, err := model.NewEnvelope(ev, pos)
		if err != nil {
			return nil, err
		}
		env.Stream = stream
		out = append(out, env)
	}
	return out, nil
}

// canonical accepts already tagged envelopes.
type canonical struct {
	network string
}

func (c canonical) Normalize(frame []byte) ([]model.Envelope, error) {
	records, err := splitFrame(frame)
	if err != nil {
		return nil, err
	}
	out := make([]model.Envelope, 0, len(records))
	var errs []error
	for i, raw := range records {
		var env model.Envelope
		if err := json.Unmarshal(raw, &env); err != nil {
			errs = append(errs, recordErr(i, "envelope", err))
			continue
		}
		if env.Provider == "" {
			env.Provider = c.network
		}
		out = append(out, env)
	}
	return out, errors.Join(errs...)
}

// renderProof is the payload of a render ProofSubmitted record.
type renderProof struct {
	NodeID         string        `json:"nodeId"`
	ModelHash      string        `json:"modelHash"`
	ModelVersion   string        `json:"modelVersion"`
	ParamCount     uint64        `json:"paramCount"`
	LatencySeconds uint32        `json:"latencySeconds"`
	Fee            model.Int128  `json:"fee"`
	InputHash      string        `json:"inputHash,omitempty"`
	Score          uint32        `json:"score"`
	Stake          *model.Int128 `json:"stake,omitempty"`
	License        string        `json:"license,omitempty"`
}

// renderScoreScale lifts render's percentage score onto the 0-10000 scale.
const renderScoreScale = 100

// render splits each ProofSubmitted record into a heartbeat, a model
// announcement and the completed job.
type render struct {
	network string
}

func (r render) Normalize(frame []byte) ([]model.Envelope, error) {
	records, err := splitFrame(frame)
	if err != nil {
		return nil, err
	}
	var (
		out  []model.Envelope
		errs []error
	)
	for i, raw := range records {
		var rec chainRecord
		if err := json.Unmarshal(raw, &rec); err != nil {
			errs = append(errs, recordErr(i, "render record", err))
			continue
		}
		if rec.Type != "ProofSubmitted" {
			continue
		}
		var p renderProof
		if err := decodeParams(rec.Params, &p); err != nil {
			errs = append(errs, recordErr(i, "render proof", err))
			continue
		}
		ts := rec.Block.Timestamp
		envs, err := envelopes(r.network, rec.position(),
			model.ProviderStats{
				Provider:  r.network,
				NodeID:    p.NodeID,
				Score:     scaleScore(p.Score, renderScoreScale),
				Timestamp: ts,
				Stake:     p.Stake,
			},
			model.ModelMeta{
				Provider:  r.network,
				ModelID:   p.ModelHash,
				Version:   p.ModelVersion,
				Params:    p.ParamCount,
				Timestamp: ts,
				License:   p.License,
			},
			model.InferenceJobEvent{
				Provider:  r.network,
				JobID:     rec.Tx.Hash,
				ModelID:   p.ModelHash,
				LatencyMs: secondsToMillis(p.LatencySeconds),
				CostWei:   p.Fee,
				Success:   true,
				Timestamp: ts,
				Requester: rec.Tx.From,
				InputHash: p.InputHash,
			},
		)
		if err != nil {
			errs = append(errs, recordErr(i, rec.Type, err))
			continue
		}
		out = append(out, envs...)
	}
	return out, errors.Join(errs...)
}

type taoServe struct {
	NodeID    string       `json:"nodeId"`
	ModelHash string       `json:"modelHash"`
	Version   string       `json:"version"`
	Params    uint64       `json:"params,omitempty"`
	Latency   uint32       `json:"latency"`
	Fee       model.Int128 `json:"fee"`
	TxHash    string       `json:"txHash"`
	InputHash string       `json:"inputHash,omitempty"`
}

type taoScore struct {
	NodeID    string        `json:"nodeId"`
	ModelHash string        `json:"modelHash"`
	NewScore  uint32        `json:"newScore"`
	Stake     *model.Int128 `json:"stake,omitempty"`
}

// tao handles ServeEvent and ModelScoreUpdate records.
type tao struct {
	network string
}

func (t tao) Normalize(frame []byte) ([]model.Envelope, error) {
	records, err := splitFrame(frame)
	if err != nil {
		return nil, err
	}
	var (
		out  []model.Envelope
		errs []error
	)
	for i, raw := range records {
		var rec chainRecord
		if err := json.Unmarshal(raw, &rec); err != nil {
			errs = append(errs, recordErr(i, "tao record", err))
			continue
		}
		var events []model.IngestEvent
		switch rec.Type {
		case "ServeEvent":
			var p taoServe
			if err := decodeParams(rec.Params, &p); err != nil {
				errs = append(errs, recordErr(i, "tao serve", err))
				continue
			}
			jobID := p.TxHash
			if jobID == "" {
				jobID = rec.Tx.Hash
			}
			events = append(events,
				model.ModelMeta{
					Provider:  t.network,
					ModelID:   p.ModelHash,
					Version:   p.Version,
					Params:    p.Params,
					Timestamp: rec.Block.Timestamp,
				},
				model.InferenceJobEvent{
					Provider:  t.network,
					JobID:     jobID,
					ModelID:   p.ModelHash,
					LatencyMs: secondsToMillis(p.Latency),
					CostWei:   p.Fee,
					Success:   true,
					Timestamp: rec.Block.Timestamp,
					Requester: rec.Tx.From,
					InputHash: p.InputHash,
				},
			)
		case "ModelScoreUpdate":
			var p taoScore
			if err := decodeParams(rec.Params, &p); err != nil {
				errs = append(errs, recordErr(i, "tao score", err))
				continue
			}
			events = append(events, model.ProviderStats{
				Provider:  t.network,
				NodeID:    p.NodeID,
				Score:     p.NewScore,
				Timestamp: rec.Block.Timestamp,
				Stake:     p.Stake,
			})
		default:
			continue
		}
		envs, err := envelopes(t.network, rec.position(), events...)
		if err != nil {
			errs = append(errs, recordErr(i, rec.Type, err))
			continue
		}
		out = append(out, envs...)
	}
	return out, errors.Join(errs...)
}

// secondsToMillis saturates so an oversized value still fails validation
// instead of wrapping.
func secondsToMillis(s uint32) uint32 {
	ms := uint64(s) * 1000
	if ms > math.MaxUint32 {
		return math.MaxUint32
	}
	return uint32(ms)
}

func scaleScore(score, factor uint32) uint32 {
	v := uint64(score) * uint64(factor)
	if v > math.MaxUint32 {
		return math.MaxUint32
	}
	return uint32(v)
}

// decodeFrame normalizes a frame for source id. Malformed records are
// logged and skipped; an unreadable frame is a *ProtocolError.
func decodeFrame(ctx context.Context, log logger.Logger, id string, n Normalizer, frame []byte) ([]model.Envelope, error) {
	envs, err := n.Normalize(frame)
	if err != nil {
		if !errors.Is(err, ErrMalformedRecord) {
			return nil, &ProtocolError{Source: id, Err: err}
		}
		log.Warn(ctx, "skipped malformed records", logger.String("provider", id), logger.Error(err))
	}
	return envs, nil
}
