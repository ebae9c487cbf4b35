package model

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strconv"

	"github.com/DexterZero/Spyro-API/internal/domain/keys"
)

// Position marks a point in a provider's history: a block pointer plus an
// opaque resumption cursor. Only Number is ordered.
type Position struct {
	Number uint64 `json:"number"`
	Hash   string `json:"hash,omitempty"`
	Cursor string `json:"cursor,omitempty"`
}

// IsZero reports whether p carries no information.
func (p Position) IsZero() bool {
	return p.Number == 0 && p.Hash == "" && p.Cursor == ""
}

// Less orders positions by block number.
func (p Position) Less(o Position) bool { return p.Number < o.Number }

// Envelope is the wire form of an IngestEvent: the payload tagged by its
// kind, plus routing and position metadata.
type Envelope struct {
	Kind     EventKind       `json:"kind"`
	Provider string          `json:"provider"`
	Stream   string          `json:"stream,omitempty"`
	Payload  json.RawMessage `json:"payload"`
	Position Position        `json:"position"`
}

// NewEnvelope wraps a typed event.
func NewEnvelope(ev IngestEvent, pos Position) (Envelope, error) {
	payload, err := json.Marshal(ev)
	if err != nil {
		return Envelope{}, fmt.Errorf("marshal %s: %w", ev.Kind(), err)
	}
	return Envelope{
		Kind:     ev.Kind(),
		Provider: ev.ProviderName(),
		Payload:  payload,
		Position: pos,
	}, nil
}

// MustEnvelope is NewEnvelope for literals in tests and generators.
func MustEnvelope(ev IngestEvent, pos Position) Envelope {
	env, err := NewEnvelope(ev, pos)
	if err != nil {
		panic(err)
	}
	return env
}

// Digest identifies an envelope by provider, stream, position and content.
// Re-deliveries of the same upstream record share a digest.
func (e Envelope) Digest() string {
	return keys.EnvelopeDigest(
		e.Provider,
		e.Stream,
		string(e.Kind),
		strconv.FormatUint(e.Position.Number, 10),
		e.Position.Hash,
		string(e.Payload),
	)
}

// DecodeEvent decodes and validates the payload. Unknown fields, unknown
// kinds and a payload provider disagreeing with the envelope are errors.
func DecodeEvent(env Envelope) (IngestEvent, error) {
	var (
		ev  IngestEvent
		err error
	)
	switch env.Kind {
	case KindModelMeta:
		var e ModelMeta
		err = strictUnmarshal(env.Payload, &e)
		ev = fill(e, env.Provider)
	case KindInferenceJob:
		var e InferenceJobEvent
		err = strictUnmarshal(env.Payload, &e)
		ev = fill(e, env.Provider)
	case KindProviderStats:
		var e ProviderStats
		err = strictUnmarshal(env.Payload, &e)
		ev = fill(e, env.Provider)
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownKind, env.Kind)
	}
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %v", ErrDecodePayload, env.Kind, err)
	}
	if env.Provider != "" && ev.ProviderName() != env.Provider {
		return nil, fmt.Errorf("%w: payload provider %q does not match envelope %q", ErrInvalidField, ev.ProviderName(), env.Provider)
	}
	if err := ev.Validate(); err != nil {
		return nil, err
	}
	return ev, nil
}

func strictUnmarshal(data []byte, v any) error {
	if len(bytes.TrimSpace(data)) == 0 {
		return fmt.Errorf("empty payload")
	}
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		return err
	}
	if dec.More() {
		return fmt.Errorf("trailing data after payload")
	}
	return nil
}

// fill defaults an omitted payload provider to the envelope's.
func fill(ev IngestEvent, provider string) IngestEvent {
	switch e := ev.(type) {
	case ModelMeta:
		if e.Provider == "" {
			e.Provider = provider
		}
		return e
	case InferenceJobEvent:
		if e.Provider == "" {
			e.Provider = provider
		}
		return e
	case ProviderStats:
		if e.Provider == "" {
			e.Provider = provider
		}
		return e
	}
	return ev
}
