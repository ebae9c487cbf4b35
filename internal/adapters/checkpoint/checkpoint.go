// Package checkpoint persists the last acknowledged position of each
// provider so a restarted node resumes where the sink left off.
//
// The file is written atomically (temporary file, fsync, rename), so a
// reader never sees a partial state. Commits are buffered in memory and
// flushed at most once per flush interval, plus on Flush and Close.
package checkpoint

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	model "github.com/DexterZero/Spyro-API/internal/domain/model"
	"github.com/DexterZero/Spyro-API/pkg/clock"
	"github.com/DexterZero/Spyro-API/pkg/metrics"
)

const defaultFlushInterval = time.Second

// Store records acknowledged positions.
type Store interface {
	// Commit records pos as acknowledged for provider.
	Commit(ctx context.Context, provider string, pos model.Position) error
	// Position returns the last acknowledged position for provider.
	Position(provider string) (model.Position, bool)
	Close() error
}

// file is the on-disk layout.
type file struct {
	UpdatedAt time.Time                 `json:"updated_at"`
	Providers map[string]model.Position `json:"providers"`
}

// FileStore is a Store backed by a JSON file. An empty path keeps
// positions in memory only.
type FileStore struct {
	path     string
	interval time.Duration
	clock    clock.Clock
	metrics  *metrics.Manager

	mu        sync.Mutex
	positions map[string]model.Position
	dirty     bool
	flushed   time.Time
}

// Open loads path if it exists and returns a store writing back to it.
func Open(path string, opts ...Option) (*FileStore, error) {
	s := &FileStore{
		path:      path,
		interval:  defaultFlushInterval,
		clock:     clock.Real(),
		positions: make(map[string]model.Position),
	}
	for _, opt := range opts {
		opt(s)
	}
	if path == "" {
		return s, nil
	}

	f, err := readFile(path)
	switch {
	case errors.Is(err, os.ErrNotExist):
	case err != nil:
		return nil, err
	default:
		for k, v := range f.Providers {
			s.positions[k] = v
		}
	}
	return s, nil
}

// Commit implements Store.
func (s *FileStore) Commit(_ context.Context, provider string, pos model.Position) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.positions[provider] = pos
	s.dirty = true
	if s.path == "" || s.clock.Now().Sub(s.flushed) < s.interval {
		return nil
	}
	return s.flushLocked()
}

// Position implements Store.
func (s *FileStore) Position(provider string) (model.Position, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	pos, ok := s.positions[provider]
	return pos, ok
}

// Providers lists providers with a recorded position.
func (s *FileStore) Providers() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]string, 0, len(s.positions))
	for k := range s.positions {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}

// Flush writes pending commits now.
func (s *FileStore) Flush() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.path == "" || !s.dirty {
		return nil
	}
	return s.flushLocked()
}

// Close flushes pending commits.
func (s *FileStore) Close() error { return s.Flush() }

func (s *FileStore) flushLocked() error {
	now := s.clock.Now()
	f := file{UpdatedAt: now.UTC(), Providers: make(map[string]model.Position, len(s.positions))}
	for k, v := range s.positions {
		f.Providers[k] = v
	}
	if err := writeFile(s.path, f); err != nil {
		return err
	}
	s.dirty = false
	s.flushed = now
	s.metrics.RecordCheckpoint()
	return nil
}

// writeFile atomically replaces path with f.
func writeFile(path string, f file) error {
	data, err := json.MarshalIndent(f, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal checkpoint: %w", err)
	}
	data = append(data, '\n')

	tmp := path + ".tmp"
	out, err := os.OpenFile(tmp, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0o600)
	if err != nil {
		return fmt.Errorf("create checkpoint: %w", err)
	}
	if _, err := out.Write(data); err != nil {
		_ = out.Close()
		_ = os.Remove(tmp)
		return fmt.Errorf("write checkpoint: %w", err)
	}
	if err := out.Sync(); err != nil {
		_ = out.Close()
		_ = os.Remove(tmp)
		return fmt.Errorf("sync checkpoint: %w", err)
	}
	if err := out.Close(); err != nil {
		_ = os.Remove(tmp)
		return fmt.Errorf("close checkpoint: %w", err)
	}
	if err := os.Rename(tmp, path); err != nil {
		_ = os.Remove(tmp)
		return fmt.Errorf("rename checkpoint: %w", err)
	}

	if dir, err := os.Open(filepath.Dir(path)); err == nil {
		_ = dir.Sync()
		_ = dir.Close()
	}
	return nil
}

// readFile parses a checkpoint file. A missing file wraps os.ErrNotExist.
func readFile(path string) (file, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return file{}, err
	}
	var f file
	if err := json.Unmarshal(data, &f); err != nil {
		return file{}, fmt.Errorf("%w: %s: %v", ErrCorrupt, path, err)
	}
	return f, nil
}
