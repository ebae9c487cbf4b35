// Package keys derives stable entity keys from declared entity fields.
//
// Keys never depend on transport metadata (connection, arrival time, retry
// count), so the same upstream fact always lands on the same entity.
package keys

import (
	"encoding/binary"
	"encoding/hex"
	"errors"
	"fmt"
	"strings"

	"github.com/zeebo/blake3"
)

// Separator joins key components.
const Separator = ":"

// Hash domains. Each is zero-padded to the 32-byte BLAKE3 key size so the
// same bytes hashed for different purposes never collide.
const (
	domainJob          = "spyro.inference-job.v1"
	domainModification = "spyro.modification.v1"
	domainEnvelope     = "spyro.envelope.v1"
)

// ErrEmptyComponent is returned when a key component is blank.
var ErrEmptyComponent = errors.New("empty key component")

// ErrInvalidHex is returned for malformed 0x-prefixed identifiers.
var ErrInvalidHex = errors.New("invalid hex identifier")

// Provider returns the key for a provider node: "<network>:<nodeID>".
func Provider(network, nodeID string) (string, error) {
	return join(network, nodeID)
}

// Model returns the key for a model: "<provider>:<modelID>".
func Model(provider, modelID string) (string, error) {
	return join(provider, modelID)
}

// JobID returns the identity bytes of a job. A 0x-prefixed id is a hash in
// hex and decodes to its bytes; any other id is used as its UTF-8 bytes.
func JobID(jobID string) ([]byte, error) {
	if strings.TrimSpace(jobID) == "" {
		return nil, fmt.Errorf("job id: %w", ErrEmptyComponent)
	}
	if IsHex(jobID) {
		id, err := DecodeHex(jobID)
		if err != nil {
			return nil, err
		}
		if len(id) == 0 {
			return nil, fmt.Errorf("job id %q: %w", jobID, ErrEmptyComponent)
		}
		return id, nil
	}
	return []byte(jobID), nil
}

// Job returns the string key of a job identity. Hash ids keep their 0x
// prefix and plain ids are bare hex, so "ab" and "0x6162" name different
// jobs.
func Job(jobID string) (string, error) {
	id, err := JobID(jobID)
	if err != nil {
		return "", err
	}
	if IsHex(jobID) {
		return "0x" + hex.EncodeToString(id), nil
	}
	return hex.EncodeToString(id), nil
}

// JobContentHash derives a job identity for upstreams that do not assign
// one. Parts are length-prefixed before hashing.
func JobContentHash(parts ...string) []byte {
	return sum(domainJob, parts...)
}

// ModificationDigest hashes an encoded modification.
func ModificationDigest(encoded []byte) []byte {
	return sumBytes(domainModification, encoded)
}

// EnvelopeDigest hashes the identifying parts of a wire envelope.
func EnvelopeDigest(parts ...string) string {
	return hex.EncodeToString(sum(domainEnvelope, parts...))
}

// IsHex reports whether s carries the 0x prefix.
func IsHex(s string) bool {
	return len(s) >= 2 && (s[:2] == "0x" || s[:2] == "0X")
}

// DecodeHex decodes an optionally 0x-prefixed hex string. Odd-length input
// is left-padded with a zero nibble.
func DecodeHex(s string) ([]byte, error) {
	clean := s
	if IsHex(clean) {
		clean = clean[2:]
	}
	if len(clean)%2 != 0 {
		clean = "0" + clean
	}
	out, err := hex.DecodeString(clean)
	if err != nil {
		return nil, fmt.Errorf("%w: %q", ErrInvalidHex, s)
	}
	return out, nil
}

func join(a, b string) (string, error) {
	if strings.TrimSpace(a) == "" || strings.TrimSpace(b) == "" {
		return "", ErrEmptyComponent
	}
	return a + Separator + b, nil
}

func domainKey(domain string) []byte {
	var key [32]byte
	copy(key[:], domain)
	return key[:]
}

func sum(domain string, parts ...string) []byte {
	h, err := blake3.NewKeyed(domainKey(domain))
	if err != nil {
		panic(fmt.Sprintf("keys: blake3: %v", err))
	}
	var n [8]byte
	for _, p := range parts {
		binary.BigEndian.PutUint64(n[:], uint64(len(p)))
		_, _ = h.Write(n[:])
		_, _ = h.Write([]byte(p))
	}
	return h.Sum(nil)
}

func sumBytes(domain string, data []byte) []byte {
	h, err := blake3.NewKeyed(domainKey(domain))
	if err != nil {
		panic(fmt.Sprintf("keys: blake3: %v", err))
	}
	_, _ = h.Write(data)
	return h.Sum(nil)
}
