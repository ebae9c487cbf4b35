// Package repository keeps the reconciled state of every entity in memory.
// It is the default sink and serves entity lookups and the provider
// reputation ranking over HTTP.
package repository

import (
	"context"

	model "github.com/DexterZero/Spyro-API/internal/domain/model"
)

// Entity is one stored row.
type Entity struct {
	Type     model.EntityType `json:"type"`
	Key      string           `json:"key"`
	Fields   model.Fields     `json:"fields"`
	Position model.Position   `json:"position"`
}

// Ranked is a provider in reputation order.
type Ranked struct {
	Rank       int           `json:"rank"`
	Key        string        `json:"key"`
	Network    string        `json:"network,omitempty"`
	Reputation model.Decimal `json:"reputation"`
}

// Store provides read/write access to entity state.
type Store interface {
	// Apply reconciles a batch of modifications. The batch is applied
	// whole or not at all; replaying a batch leaves the state unchanged.
	Apply(ctx context.Context, mods []model.EntityModification) error

	// Get returns one entity. Returns ErrNotFound if the key is unknown.
	Get(ctx context.Context, t model.EntityType, key string) (Entity, error)

	// List returns up to limit entities of a type ordered by key.
	List(ctx context.Context, t model.EntityType, limit int) ([]Entity, error)

	// Counts returns the number of stored entities per type.
	Counts(ctx context.Context) map[model.EntityType]int

	// TopProviders returns the n providers with the highest reputation.
	TopProviders(ctx context.Context, n int) ([]Ranked, error)

	Close() error
}
