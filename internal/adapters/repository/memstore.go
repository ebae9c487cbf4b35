package repository

import (
	"context"
	"fmt"
	"reflect"
	"sort"
	"sync"

	model "github.com/DexterZero/Spyro-API/internal/domain/model"
	"github.com/DexterZero/Spyro-API/pkg/logger"
)

// MemoryStore is an in-memory Store. It reconciles modifications as
// follows:
//
//   - Insert creates the row. Re-inserting identical data is a no-op;
//     different data under an existing key is ErrConflict.
//   - Upsert creates the row or merges the given fields into it.
//   - Update merges into an existing row. A Provider update for an unknown
//     key creates the row, so the first heartbeat of a node registers it.
//   - Remove deletes the row if present.
type MemoryStore struct {
	mu     sync.RWMutex
	tables map[model.EntityType]map[string]*Entity
	rank   *ranking
	log    logger.Logger
}

// NewMemoryStore constructs an empty store.
func NewMemoryStore(opts ...Option) *MemoryStore {
	s := &MemoryStore{
		tables: make(map[model.EntityType]map[string]*Entity, len(model.Schema)),
		rank:   newRanking(),
		log:    logger.Nop(),
	}
	for t := range model.Schema {
		s.tables[t] = make(map[string]*Entity)
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Apply implements Store.Apply and sink.Sink.
func (s *MemoryStore) Apply(ctx context.Context, mods []model.EntityModification) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	// Stage the batch so a rejected modification leaves nothing behind.
	staged := make(map[model.EntityType]map[string]*Entity)
	lookup := func(t model.EntityType, key string) (*Entity, bool) {
		if rows, ok := staged[t]; ok {
			if e, ok := rows[key]; ok {
				return e, e != nil
			}
		}
		e, ok := s.tables[t][key]
		return e, ok
	}
	stage := func(t model.EntityType, key string, e *Entity) {
		if staged[t] == nil {
			staged[t] = make(map[string]*Entity)
		}
		staged[t][key] = e
	}

	for _, m := range mods {
		if _, ok := s.tables[m.EntityType]; !ok {
			return fmt.Errorf("%w: %q", ErrUnknownEntity, m.EntityType)
		}
		cur, exists := lookup(m.EntityType, m.Key)

		switch m.Kind {
		case model.ModInsert:
			if exists {
				if reflect.DeepEqual(cur.Fields, m.Data) {
					continue
				}
				return fmt.Errorf("%w: %s %s", ErrConflict, m.EntityType, m.Key)
			}
			stage(m.EntityType, m.Key, newEntity(m))
		case model.ModUpsert:
			stage(m.EntityType, m.Key, merge(cur, exists, m))
		case model.ModUpdate:
			if !exists && m.EntityType != model.EntityProvider {
				return fmt.Errorf("update %s %s: %w", m.EntityType, m.Key, ErrNotFound)
			}
			stage(m.EntityType, m.Key, merge(cur, exists, m))
		case model.ModRemove:
			if exists {
				stage(m.EntityType, m.Key, nil)
			}
		default:
			return fmt.Errorf("%w: %q", ErrUnknownOp, m.Kind)
		}
	}

	for t, rows := range staged {
		for key, e := range rows {
			if e == nil {
				delete(s.tables[t], key)
				if t == model.EntityProvider {
					s.rank.drop(key)
				}
				continue
			}
			s.tables[t][key] = e
			if t == model.EntityProvider {
				if rep, ok := e.Fields[model.FieldReputation].(model.Decimal); ok {
					s.rank.set(key, toFixed(rep))
				}
			}
		}
	}
	return nil
}

func newEntity(m model.EntityModification) *Entity {
	return &Entity{Type: m.EntityType, Key: m.Key, Fields: m.Data.Clone(), Position: m.Position}
}

// merge returns a fresh row with m's fields laid over cur's.
func merge(cur *Entity, exists bool, m model.EntityModification) *Entity {
	if !exists {
		return newEntity(m)
	}
	out := &Entity{Type: cur.Type, Key: cur.Key, Fields: cur.Fields.Clone(), Position: m.Position}
	for k, v := range m.Data.Clone() {
		out.Fields[k] = v
	}
	return out
}

// Get implements Store.Get.
func (s *MemoryStore) Get(_ context.Context, t model.EntityType, key string) (Entity, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rows, ok := s.tables[t]
	if !ok {
		return Entity{}, fmt.Errorf("%w: %q", ErrUnknownEntity, t)
	}
	e, ok := rows[key]
	if !ok {
		return Entity{}, ErrNotFound
	}
	return copyEntity(e), nil
}

// List implements Store.List.
func (s *MemoryStore) List(_ context.Context, t model.EntityType, limit int) ([]Entity, error) {
	if limit < 1 {
		return nil, ErrInvalidLimit
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	rows, ok := s.tables[t]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownEntity, t)
	}
	keys := make([]string, 0, len(rows))
	for k := range rows {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	if len(keys) > limit {
		keys = keys[:limit]
	}
	out := make([]Entity, 0, len(keys))
	for _, k := range keys {
		out = append(out, copyEntity(rows[k]))
	}
	return out, nil
}

// Counts implements Store.Counts.
func (s *MemoryStore) Counts(_ context.Context) map[model.EntityType]int {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make(map[model.EntityType]int, len(s.tables))
	for t, rows := range s.tables {
		out[t] = len(rows)
	}
	return out
}

// TopProviders implements Store.TopProviders. Providers with equal
// reputation share a rank.
func (s *MemoryStore) TopProviders(_ context.Context, n int) ([]Ranked, error) {
	if n < 1 {
		return nil, ErrInvalidLimit
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	nodes := s.rank.top(n)
	out := make([]Ranked, 0, len(nodes))
	for i, nd := range nodes {
		r := Ranked{Rank: i + 1, Key: nd.key}
		if i > 0 && nodes[i-1].rep == nd.rep {
			r.Rank = out[i-1].Rank
		}
		if e, ok := s.tables[model.EntityProvider][nd.key]; ok {
			r.Network, _ = e.Fields[model.FieldNetwork].(string)
			r.Reputation, _ = e.Fields[model.FieldReputation].(model.Decimal)
		}
		out = append(out, r)
	}
	return out, nil
}

// Ranked returns the number of providers carrying a reputation.
func (s *MemoryStore) Ranked() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.rank.len()
}

// Close releases nothing; the store lives as long as the process.
func (s *MemoryStore) Close() error { return nil }

func copyEntity(e *Entity) Entity {
	return Entity{Type: e.Type, Key: e.Key, Fields: e.Fields.Clone(), Position: e.Position}
}
