// Package model contains the canonical ingest events, entities and entity
// modifications passed between layers.
package model

import (
	"fmt"
	"math"
	"strings"

	"github.com/DexterZero/Spyro-API/internal/domain/keys"
)

// EventKind is the wire discriminant of an IngestEvent.
type EventKind string

// Event kinds.
const (
	KindModelMeta     EventKind = "model_meta"
	KindInferenceJob  EventKind = "inference_job"
	KindProviderStats EventKind = "provider_stats"
)

// Valid reports whether k names a known event kind.
func (k EventKind) Valid() bool {
	switch k {
	case KindModelMeta, KindInferenceJob, KindProviderStats:
		return true
	}
	return false
}

// IngestEvent is one normalized provider fact. The set of implementations
// is closed: ModelMeta, InferenceJobEvent and ProviderStats.
type IngestEvent interface {
	Kind() EventKind
	ProviderName() string
	Time() uint64
	Validate() error
	isIngestEvent()
}

// ModelMeta announces a model's published metadata.
type ModelMeta struct {
	Provider  string `json:"provider"`
	ModelID   string `json:"modelId"`
	Version   string `json:"version"`
	Params    uint64 `json:"params"`
	Timestamp uint64 `json:"timestamp"`
	License   string `json:"license,omitempty"`
}

// InferenceJobEvent reports one completed unit of work.
type InferenceJobEvent struct {
	Provider  string `json:"provider"`
	JobID     string `json:"jobId"`
	ModelID   string `json:"modelId,omitempty"`
	LatencyMs uint32 `json:"latencyMs"`
	CostWei   Int128 `json:"costWei"`
	Success   bool   `json:"success"`
	Timestamp uint64 `json:"timestamp"`
	Requester string `json:"requester,omitempty"`
	InputHash string `json:"inputHash,omitempty"`
}

// ProviderStats is a periodic heartbeat for one provider node.
type ProviderStats struct {
	Provider  string  `json:"provider"`
	NodeID    string  `json:"nodeId"`
	GPUUtil   uint8   `json:"gpuUtil"`
	Score     uint32  `json:"score"`
	Timestamp uint64  `json:"timestamp"`
	Stake     *Int128 `json:"stake,omitempty"`
}

func (ModelMeta) isIngestEvent()         {}
func (InferenceJobEvent) isIngestEvent() {}
func (ProviderStats) isIngestEvent()     {}

func (ModelMeta) Kind() EventKind         { return KindModelMeta }
func (InferenceJobEvent) Kind() EventKind { return KindInferenceJob }
func (ProviderStats) Kind() EventKind     { return KindProviderStats }

func (e ModelMeta) ProviderName() string         { return e.Provider }
func (e InferenceJobEvent) ProviderName() string { return e.Provider }
func (e ProviderStats) ProviderName() string     { return e.Provider }

func (e ModelMeta) Time() uint64         { return e.Timestamp }
func (e InferenceJobEvent) Time() uint64 { return e.Timestamp }
func (e ProviderStats) Time() uint64     { return e.Timestamp }

// Validate checks required fields and schema ranges.
func (e ModelMeta) Validate() error {
	switch {
	case blank(e.Provider):
		return missing("provider")
	case blank(e.ModelID):
		return missing("modelId")
	case blank(e.Version):
		return missing("version")
	case e.Params > math.MaxInt64:
		return outOfRange("params", e.Params)
	case e.Timestamp > math.MaxInt64:
		return outOfRange("timestamp", e.Timestamp)
	}
	return nil
}

// Validate checks required fields and schema ranges.
func (e InferenceJobEvent) Validate() error {
	switch {
	case blank(e.Provider):
		return missing("provider")
	case blank(e.JobID):
		return missing("jobId")
	case e.LatencyMs > math.MaxInt32:
		return outOfRange("latencyMs", e.LatencyMs)
	case e.CostWei.Sign() < 0:
		return outOfRange("costWei", e.CostWei)
	case e.Timestamp > math.MaxInt64:
		return outOfRange("timestamp", e.Timestamp)
	}
	if _, err := keys.JobID(e.JobID); err != nil {
		return fmt.Errorf("%w: jobId: %v", ErrInvalidField, err)
	}
	if err := hexField("requester", e.Requester); err != nil {
		return err
	}
	return hexField("inputHash", e.InputHash)
}

// Validate checks required fields and schema ranges.
func (e ProviderStats) Validate() error {
	switch {
	case blank(e.Provider):
		return missing("provider")
	case blank(e.NodeID):
		return missing("nodeId")
	case e.GPUUtil > 100:
		return outOfRange("gpuUtil", e.GPUUtil)
	case e.Timestamp > math.MaxInt64:
		return outOfRange("timestamp", e.Timestamp)
	case e.Stake != nil && e.Stake.Sign() < 0:
		return outOfRange("stake", *e.Stake)
	}
	return nil
}

func blank(s string) bool { return strings.TrimSpace(s) == "" }

func hexField(name, v string) error {
	if v == "" {
		return nil
	}
	if _, err := keys.DecodeHex(v); err != nil {
		return fmt.Errorf("%w: %s: %v", ErrInvalidField, name, err)
	}
	return nil
}

func missing(field string) error {
	return fmt.Errorf("%w: %s is required", ErrInvalidField, field)
}

func outOfRange(field string, v any) error {
	return fmt.Errorf("%w: %s out of range: %v", ErrInvalidField, field, v)
}
