// Package firehose implements the operator tooling behind spyro-firehose:
// dumping a provider stream, replaying dumps through the mapping engine and
// generating synthetic envelopes.
package firehose

import "time"

// Output formats.
const (
	FormatText = "text"
	FormatJSON = "json"
	FormatYAML = "yaml"
)

// DumpOptions bounds and shapes a dump.
type DumpOptions struct {
	// Cursor resumes an upstream that supports cursors.
	Cursor string
	// StartBlock skips records below it.
	StartBlock uint64
	// StopBlock ends the dump after the last record at or below it; 0 runs
	// until cancelled.
	StopBlock uint64
}

// GenerateOptions shapes a synthetic batch.
type GenerateOptions struct {
	Providers  []string
	Count      int
	StartBlock uint64
	// Timestamp is the time of each provider's first record; its later
	// records add one second each.
	Timestamp uint64
	Workers   int
}

// Stats summarizes a run.
type Stats struct {
	Steps         int           `json:"steps"`
	Skipped       int           `json:"skipped"`
	Modifications int           `json:"modifications"`
	MappingErrors int           `json:"mappingErrors"`
	FirstBlock    uint64        `json:"firstBlock"`
	LastBlock     uint64        `json:"lastBlock"`
	Digest        string        `json:"digest,omitempty"`
	StartTime     time.Time     `json:"startTime"`
	EndTime       time.Time     `json:"endTime"`
	Duration      time.Duration `json:"duration"`
}

func (s *Stats) step(block uint64) {
	if s.Steps == 0 {
		s.FirstBlock = block
	}
	s.Steps++
	s.LastBlock = block
}

func (s *Stats) finish() {
	s.EndTime = time.Now()
	s.Duration = s.EndTime.Sub(s.StartTime)
}
