// Package mapping turns normalized provider events into entity
// modifications. The engine is pure: it reads no clock, keeps no state
// between calls and produces the same output for the same input.
package mapping

import (
	"bytes"
	"fmt"

	"github.com/DexterZero/Spyro-API/internal/domain/keys"
	model "github.com/DexterZero/Spyro-API/internal/domain/model"
)

// allowedOps lists the operations a transform may emit per entity type.
var allowedOps = map[model.EntityType][]model.ModKind{
	model.EntityProvider:     {model.ModUpdate, model.ModUpsert},
	model.EntityModel:        {model.ModUpsert, model.ModUpdate, model.ModInsert},
	model.EntityInferenceJob: {model.ModInsert},
}

// Engine maps events to modifications.
type Engine struct {
	transforms map[string]Transform
	fallback   Transform
}

// identity is the entity an event is about.
type identity struct {
	entity model.EntityType
	key    string
	id     any
}

// New returns an engine using Canonical unless a provider has its own
// transform.
func New(opts ...Option) *Engine {
	e := &Engine{
		transforms: make(map[string]Transform),
		fallback:   Canonical{},
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// TransformFor returns the transform used for provider.
func (e *Engine) TransformFor(provider string) Transform {
	if t, ok := e.transforms[provider]; ok {
		return t
	}
	return e.fallback
}

// Map decodes a wire envelope and maps it. Decode and validation failures
// come back as *MappingError with no modifications.
func (e *Engine) Map(env model.Envelope) ([]model.EntityModification, error) {
	ev, err := e.Decode(env)
	if err != nil {
		return nil, err
	}
	return e.MapEvent(ev, env.Position)
}

// Decode decodes the envelope payload, reporting failures as *MappingError.
func (e *Engine) Decode(env model.Envelope) (model.IngestEvent, error) {
	ev, err := model.DecodeEvent(env)
	if err != nil {
		return nil, &MappingError{Provider: env.Provider, Kind: env.Kind, Position: env.Position, Err: err}
	}
	return ev, nil
}

// MapEvent maps one decoded event observed at pos.
func (e *Engine) MapEvent(ev model.IngestEvent, pos model.Position) ([]model.EntityModification, error) {
	fail := func(err error) ([]model.EntityModification, error) {
		return nil, &MappingError{Provider: ev.ProviderName(), Kind: ev.Kind(), Position: pos, Err: err}
	}

	if err := ev.Validate(); err != nil {
		return fail(err)
	}
	ident, err := identify(ev)
	if err != nil {
		return fail(err)
	}

	outputs, err := apply(e.TransformFor(ev.ProviderName()), ev)
	if err != nil {
		return fail(err)
	}

	mods := make([]model.EntityModification, 0, len(outputs))
	for i, out := range outputs {
		data, err := check(ident, out)
		if err != nil {
			return fail(fmt.Errorf("output %d: %w", i, err))
		}
		mods = append(mods, model.EntityModification{
			Kind:       out.Op,
			EntityType: out.EntityType,
			Key:        ident.key,
			Data:       data,
			Position:   pos,
		})
	}
	return mods, nil
}

func identify(ev model.IngestEvent) (identity, error) {
	switch e := ev.(type) {
	case model.ModelMeta:
		key, err := keys.Model(e.Provider, e.ModelID)
		return identity{entity: model.EntityModel, key: key, id: key}, err
	case model.InferenceJobEvent:
		id, err := keys.JobID(e.JobID)
		if err != nil {
			return identity{}, err
		}
		key, err := keys.Job(e.JobID)
		return identity{entity: model.EntityInferenceJob, key: key, id: model.Bytes(id)}, err
	case model.ProviderStats:
		key, err := keys.Provider(e.Provider, e.NodeID)
		return identity{entity: model.EntityProvider, key: key, id: key}, err
	}
	return identity{}, fmt.Errorf("%w: %T", ErrUnsupportedKind, ev)
}

// apply runs a transform, turning a panic into an error.
func apply(t Transform, ev model.IngestEvent) (outputs []Output, err error) {
	defer func() {
		if r := recover(); r != nil {
			outputs = nil
			err = fmt.Errorf("%w: %s: %v", ErrTransformPanic, t.Name(), r)
		}
	}()
	return t.Apply(ev)
}

// check enforces the entity contract on one output and returns a private
// copy of its fields with the derived id stamped in.
func check(ident identity, out Output) (model.Fields, error) {
	if out.EntityType != ident.entity {
		return nil, fmt.Errorf("%w: %s event may not write %s", ErrContract, ident.entity, out.EntityType)
	}
	if !opAllowed(out.EntityType, out.Op) {
		return nil, fmt.Errorf("%w: %s on %s", ErrContract, out.Op, out.EntityType)
	}

	data := out.Fields.Clone()
	for name, v := range data {
		ft, ok := model.FieldTypeOf(out.EntityType, name)
		if !ok {
			return nil, fmt.Errorf("%w: %s has no field %q", ErrContract, out.EntityType, name)
		}
		if !typeMatches(ft, v) {
			return nil, fmt.Errorf("%w: %s.%s wants %s, got %T", ErrContract, out.EntityType, name, ft, v)
		}
	}

	if v, ok := data[model.FieldID]; ok && !isZero(v) && !sameID(v, ident.id) {
		return nil, fmt.Errorf("%w: %s id %v does not match derived key %s", ErrContract, out.EntityType, v, ident.key)
	}
	data[model.FieldID] = ident.id
	return data, nil
}

func opAllowed(t model.EntityType, op model.ModKind) bool {
	for _, k := range allowedOps[t] {
		if k == op {
			return true
		}
	}
	return false
}

func typeMatches(ft model.FieldType, v any) bool {
	switch v.(type) {
	case string:
		return ft == model.TypeString
	case int64:
		return ft == model.TypeInt64
	case int32:
		return ft == model.TypeInt32
	case model.Bytes:
		return ft == model.TypeBytes
	case model.Int128:
		return ft == model.TypeInt128
	case model.Decimal:
		return ft == model.TypeDecimal
	}
	return false
}

func isZero(v any) bool {
	switch x := v.(type) {
	case string:
		return x == ""
	case model.Bytes:
		return len(x) == 0
	}
	return false
}

func sameID(a, b any) bool {
	if ab, ok := a.(model.Bytes); ok {
		bb, ok := b.(model.Bytes)
		return ok && bytes.Equal(ab, bb)
	}
	return a == b
}
