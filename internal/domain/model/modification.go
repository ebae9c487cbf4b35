package model

import (
	"encoding/hex"
	"fmt"

	"github.com/DexterZero/Spyro-API/internal/codec"
	"github.com/DexterZero/Spyro-API/internal/domain/keys"
)

// ModKind is the operation a modification asks the sink to perform.
type ModKind string

// Modification kinds. Upsert leaves the insert-or-update decision to the
// sink, which reconciles it against stored state.
const (
	ModInsert ModKind = "insert"
	ModUpsert ModKind = "upsert"
	ModUpdate ModKind = "update"
	ModRemove ModKind = "remove"
)

// Valid reports whether k is a known kind.
func (k ModKind) Valid() bool {
	switch k {
	case ModInsert, ModUpsert, ModUpdate, ModRemove:
		return true
	}
	return false
}

// EntityModification is one instruction for the downstream store.
type EntityModification struct {
	Kind       ModKind    `json:"kind"`
	EntityType EntityType `json:"entityType"`
	Key        string     `json:"key"`
	Data       Fields     `json:"data,omitempty"`
	Position   Position   `json:"position"`
}

// Encode returns the canonical CBOR encoding of m.
func (m EntityModification) Encode() ([]byte, error) {
	data, err := codec.Marshal(m)
	if err != nil {
		return nil, fmt.Errorf("encode modification %s/%s: %w", m.EntityType, m.Key, err)
	}
	return data, nil
}

// Digest returns the hex BLAKE3 digest of the canonical encoding.
func (m EntityModification) Digest() (string, error) {
	data, err := m.Encode()
	if err != nil {
		return "", err
	}
	return hex.EncodeToString(keys.ModificationDigest(data)), nil
}

// String renders a short form for logs.
func (m EntityModification) String() string {
	return fmt.Sprintf("%s %s{%s}@%d", m.Kind, m.EntityType, m.Key, m.Position.Number)
}
