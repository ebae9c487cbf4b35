// Package service wires provider pipelines (source, resilient stream, queue,
// mapping worker) to the configured sink and serves the read side used by
// the HTTP API.
package service

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/DexterZero/Spyro-API/internal/adapters/checkpoint"
	eventqueue "github.com/DexterZero/Spyro-API/internal/adapters/mq/queue"
	"github.com/DexterZero/Spyro-API/internal/adapters/mq/worker"
	repository "github.com/DexterZero/Spyro-API/internal/adapters/repository"
	"github.com/DexterZero/Spyro-API/internal/adapters/sink"
	"github.com/DexterZero/Spyro-API/internal/adapters/source"
	"github.com/DexterZero/Spyro-API/internal/adapters/stream"
	"github.com/DexterZero/Spyro-API/internal/config"
	"github.com/DexterZero/Spyro-API/internal/domain/dedupe"
	"github.com/DexterZero/Spyro-API/internal/domain/mapping"
	model "github.com/DexterZero/Spyro-API/internal/domain/model"
	"github.com/DexterZero/Spyro-API/pkg/clock"
	"github.com/DexterZero/Spyro-API/pkg/logger"
	"github.com/DexterZero/Spyro-API/pkg/metrics"
)

// Service runs one pipeline per configured provider.
type Service struct {
	mu sync.RWMutex

	cfg      *config.Config
	instance string

	// Core components
	engine      *mapping.Engine
	store       *repository.MemoryStore
	storeActive bool
	sink        sink.Sink
	sinkName    string
	checkpoints *checkpoint.FileStore
	pipelines   []*pipeline

	// Injected
	sources map[string]source.Source
	metrics *metrics.Manager
	clock   clock.Clock

	// State
	started   bool
	startedAt time.Time
	cancel    context.CancelFunc
	group     errgroup.Group
	done      chan struct{}

	logger logger.Logger
}

// pipeline is one provider's stream, buffer and mapping worker.
type pipeline struct {
	name   string
	stream *stream.Resilient
	queue  *eventqueue.InMemoryQueue
	worker *worker.Worker
	dedupe dedupe.Deduper

	failed atomic.Bool
	mu     sync.Mutex
	err    error
}

// Option applies a configuration option to the Service.
type Option func(*Service)

// WithConfig sets the node configuration. Defaults to config.New().
func WithConfig(cfg *config.Config) Option {
	return func(s *Service) {
		if cfg != nil {
			s.cfg = cfg
		}
	}
}

// WithLogger sets a custom logger for the service.
func WithLogger(l logger.Logger) Option {
	return func(s *Service) {
		if l != nil {
			s.logger = l
		}
	}
}

// WithMetrics sets the metrics manager shared by every component.
func WithMetrics(m *metrics.Manager) Option {
	return func(s *Service) {
		s.metrics = m
	}
}

// WithSource uses src for the configured provider of the same name, or adds
// it as an extra provider when none is configured.
func WithSource(src source.Source) Option {
	return func(s *Service) {
		if src != nil {
			s.sources[src.ID()] = src
		}
	}
}

// WithSink replaces the configured sink.
func WithSink(sk sink.Sink, name string) Option {
	return func(s *Service) {
		if sk != nil {
			s.sink = sk
			s.sinkName = name
		}
	}
}

// WithEngine replaces the default mapping engine.
func WithEngine(e *mapping.Engine) Option {
	return func(s *Service) {
		if e != nil {
			s.engine = e
		}
	}
}

// WithClock sets the clock used for reconnect backoff.
func WithClock(c clock.Clock) Option {
	return func(s *Service) {
		if c != nil {
			s.clock = c
		}
	}
}

// New constructs a new Service.
func New(opts ...Option) *Service {
	s := &Service{
		cfg:      config.New(),
		instance: uuid.NewString(),
		sources:  make(map[string]source.Source),
		clock:    clock.Real(),
		done:     make(chan struct{}),
	}

	for _, opt := range opts {
		opt(s)
	}
	if s.engine == nil {
		s.engine = mapping.New()
	}

	return s
}

// Start builds the sink, restores checkpoints and launches every pipeline.
// Pipelines run until Stop or until their sink rejects a write.
func (s *Service) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.started {
		return nil
	}
	if s.logger == nil {
		s.logger = logger.Get()
	}

	s.logger.Info(ctx, "starting ingest service...", logger.String("instance", s.instance))

	s.store = repository.NewMemoryStore(repository.WithLogger(s.logger.Named("store")))
	if s.sink == nil {
		sinkCfg := sinkConfig(s.cfg.Sink)
		out, err := sink.Open(ctx, sinkCfg, s.store, logger.Handler())
		if err != nil {
			return fmt.Errorf("open sink: %w", err)
		}
		s.sink = out
		s.sinkName = sinkCfg.Kind
		s.storeActive = sinkCfg.Kind == sink.KindMemory || slices.Contains(sinkCfg.Fanout, sink.KindMemory)
	}
	s.sink = sink.Instrument(s.sinkName, s.sink, s.metrics)

	cp, err := checkpoint.Open(s.cfg.CheckpointPath,
		checkpoint.WithFlushInterval(s.cfg.CheckpointInterval),
		checkpoint.WithMetrics(s.metrics),
	)
	if err != nil {
		_ = s.sink.Close()
		return fmt.Errorf("open checkpoints: %w", err)
	}
	s.checkpoints = cp

	pipelines, err := s.buildPipelines()
	if err != nil {
		_ = s.sink.Close()
		_ = s.checkpoints.Close()
		return err
	}
	s.pipelines = pipelines

	runCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	s.cancel = cancel
	for _, p := range s.pipelines {
		s.group.Go(func() error { return p.run(runCtx, s.logger) })
	}
	go func() {
		_ = s.group.Wait()
		close(s.done)
	}()

	s.started = true
	s.startedAt = time.Now()
	s.logger.Info(ctx, "ingest service started",
		logger.Int("providers", len(s.pipelines)),
		logger.String("sink", s.sinkName),
		logger.Int("queueSize", s.cfg.QueueSize),
		logger.Int("dedupeSize", s.cfg.DedupeSize),
	)

	return nil
}

func sinkConfig(c config.Sink) sink.Config {
	return sink.Config{
		Kind:        c.Kind,
		Path:        c.Path,
		Format:      c.Format,
		Compression: c.Compression,
		URL:         c.URL,
		Namespace:   c.Namespace,
		Database:    c.Database,
		Username:    c.Username,
		Password:    c.Password,
		AuthLevel:   c.AuthLevel,
		Fanout:      c.Fanout,
	}
}

func (s *Service) buildPipelines() ([]*pipeline, error) {
	configured := make(map[string]bool, len(s.cfg.Providers))
	out := make([]*pipeline, 0, len(s.cfg.Providers)+len(s.sources))

	for _, pc := range s.cfg.Providers {
		configured[pc.Name] = true
		src, ok := s.sources[pc.Name]
		if !ok {
			var err error
			src, err = source.New(pc.SourceConfig(), source.WithLogger(s.logger.Named("source")))
			if err != nil {
				return nil, fmt.Errorf("provider %s: %w", pc.Name, err)
			}
		}
		// An explicit cursor wins over the stored checkpoint.
		var start model.Position
		if pc.Cursor == "" {
			start, _ = s.checkpoints.Position(pc.Name)
		}
		out = append(out, s.newPipeline(src, pc.EffectiveBackoff(s.cfg.Backoff), start))
	}

	names := make([]string, 0, len(s.sources))
	for name := range s.sources {
		if !configured[name] {
			names = append(names, name)
		}
	}
	slices.Sort(names)
	for _, name := range names {
		start, _ := s.checkpoints.Position(name)
		out = append(out, s.newPipeline(s.sources[name], s.cfg.Backoff, start))
	}
	return out, nil
}

func (s *Service) newPipeline(src source.Source, b config.Backoff, start model.Position) *pipeline {
	name := src.ID()
	p := &pipeline{name: name}

	p.stream = stream.New(src,
		stream.WithBackoff(stream.NewBackoff(b.Floor, b.Ceiling, b.Factor)),
		stream.WithClock(s.clock),
		stream.WithLogger(s.logger.Named("stream")),
		stream.WithMetrics(s.metrics),
		stream.WithStart(start),
	)
	p.queue = eventqueue.NewInMemoryQueue(
		eventqueue.WithCapacity(s.cfg.QueueSize),
		eventqueue.WithName(name),
		eventqueue.WithMetrics(s.metrics),
	)

	opts := []worker.Option{
		worker.WithName(name),
		worker.WithLogger(s.logger.Named("worker")),
		worker.WithCheckpoint(s.checkpoints),
		worker.WithMetrics(s.metrics),
	}
	if s.cfg.DedupeSize > 0 {
		p.dedupe = dedupe.NewInMemoryDeduper(dedupe.WithMaxSize(s.cfg.DedupeSize))
		opts = append(opts, worker.WithDeduper(p.dedupe))
	}
	p.worker = worker.New(p.queue, s.engine, s.sink, opts...)
	return p
}

// run drives the stream and the worker until ctx ends or one of them fails.
// Cancellation of ctx is a clean exit.
func (p *pipeline) run(ctx context.Context, log logger.Logger) error {
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return p.stream.Run(gctx, p.queue.Enqueue)
	})
	g.Go(func() error {
		return p.worker.Run(gctx)
	})

	err := g.Wait()
	_ = p.queue.Close()
	if err == nil || (errors.Is(err, context.Canceled) && ctx.Err() != nil) {
		return nil
	}

	p.mu.Lock()
	p.err = err
	p.mu.Unlock()
	p.failed.Store(true)
	log.Error(ctx, "provider pipeline stopped", logger.String("provider", p.name), logger.Error(err))
	return fmt.Errorf("provider %s: %w", p.name, err)
}

func (p *pipeline) lastErr() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.err
}

// Done is closed once every pipeline has exited.
func (s *Service) Done() <-chan struct{} {
	return s.done
}

// Wait blocks until every pipeline has exited and returns the errors of the
// pipelines that failed, joined.
func (s *Service) Wait() error {
	<-s.done
	s.mu.RLock()
	defer s.mu.RUnlock()
	var errs []error
	for _, p := range s.pipelines {
		if err := p.lastErr(); err != nil {
			errs = append(errs, fmt.Errorf("provider %s: %w", p.name, err))
		}
	}
	return errors.Join(errs...)
}

// Stop cancels every pipeline, waits for them up to ctx, then flushes
// checkpoints and closes the sink.
func (s *Service) Stop(ctx context.Context) error {
	s.mu.Lock()
	if !s.started {
		s.mu.Unlock()
		return nil
	}
	s.started = false
	cancel := s.cancel
	s.mu.Unlock()

	s.logger.Info(ctx, "stopping ingest service...")
	cancel()

	var errs []error
	select {
	case <-s.done:
	case <-ctx.Done():
		errs = append(errs, fmt.Errorf("%w: %v", ErrShutdownTimeout, ctx.Err()))
	}

	if err := s.checkpoints.Close(); err != nil {
		errs = append(errs, fmt.Errorf("flush checkpoints: %w", err))
	}
	if err := s.sink.Close(); err != nil {
		errs = append(errs, fmt.Errorf("close sink: %w", err))
	}

	s.logger.Info(ctx, "ingest service stopped")
	return errors.Join(errs...)
}

// Health returns nil while the service runs and no pipeline has failed.
func (s *Service) Health() error {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if !s.started {
		return ErrNotStarted
	}
	for _, p := range s.pipelines {
		if err := p.lastErr(); err != nil {
			return fmt.Errorf("provider %s: %w", p.name, err)
		}
	}
	return nil
}

// Entity returns one stored entity.
func (s *Service) Entity(ctx context.Context, t model.EntityType, key string) (repository.Entity, error) {
	st, err := s.readStore()
	if err != nil {
		return repository.Entity{}, err
	}
	return st.Get(ctx, t, key)
}

// Entities lists stored entities of one type ordered by key.
func (s *Service) Entities(ctx context.Context, t model.EntityType, limit int) ([]repository.Entity, error) {
	st, err := s.readStore()
	if err != nil {
		return nil, err
	}
	return st.List(ctx, t, limit)
}

// TopProviders returns the n providers with the highest reputation.
func (s *Service) TopProviders(ctx context.Context, n int) ([]repository.Ranked, error) {
	st, err := s.readStore()
	if err != nil {
		return nil, err
	}
	return st.TopProviders(ctx, n)
}

func (s *Service) readStore() (*repository.MemoryStore, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.store == nil || !s.storeActive {
		return nil, ErrNoStore
	}
	return s.store, nil
}

// ProviderStats describes one pipeline.
type ProviderStats struct {
	Name        string         `json:"name"`
	State       string         `json:"state"`
	Attempts    int64          `json:"attempts"`
	Backoff     string         `json:"backoff"`
	Received    uint64         `json:"received"`
	Processed   uint64         `json:"processed"`
	Skipped     uint64         `json:"skipped"`
	Duplicates  uint64         `json:"duplicates"`
	Regressed   uint64         `json:"regressed"`
	QueueLength int            `json:"queueLength"`
	DedupeSize  int64          `json:"dedupeSize"`
	Position    model.Position `json:"position"`
	Failed      bool           `json:"failed"`
	Error       string         `json:"error,omitempty"`
}

// Providers returns per-provider statistics in start order.
func (s *Service) Providers() []ProviderStats {
	s.mu.RLock()
	defer s.mu.RUnlock()

	ctx := context.Background()
	out := make([]ProviderStats, 0, len(s.pipelines))
	for _, p := range s.pipelines {
		ws := p.worker.Stats()
		ps := ProviderStats{
			Name:        p.name,
			State:       p.stream.State().String(),
			Attempts:    p.stream.Attempts(),
			Backoff:     p.stream.CurrentBackoff().String(),
			Received:    p.stream.Events(),
			Processed:   ws.Processed,
			Skipped:     ws.Skipped,
			Duplicates:  ws.Duplicates,
			Regressed:   ws.Regressed,
			QueueLength: p.queue.Len(ctx),
			Position:    ws.Last,
			Failed:      p.failed.Load(),
		}
		if p.dedupe != nil {
			ps.DedupeSize = p.dedupe.Size()
		}
		if err := p.lastErr(); err != nil {
			ps.Error = err.Error()
		}
		out = append(out, ps)
	}
	return out
}

// GetStats returns service statistics for monitoring.
func (s *Service) GetStats() map[string]interface{} {
	providers := s.Providers()

	s.mu.RLock()
	defer s.mu.RUnlock()

	stats := map[string]interface{}{
		"instance":   s.instance,
		"started":    s.started,
		"sink":       s.sinkName,
		"queueSize":  s.cfg.QueueSize,
		"dedupeSize": s.cfg.DedupeSize,
		"providers":  providers,
	}

	if !s.startedAt.IsZero() {
		stats["uptime"] = time.Since(s.startedAt).Round(time.Second).String()
	}
	if s.store != nil && s.storeActive {
		counts := s.store.Counts(context.Background())
		entities := make(map[string]int, len(counts))
		for t, n := range counts {
			entities[string(t)] = n
		}
		stats["entities"] = entities
		stats["rankedProviders"] = s.store.Ranked()
	}

	return stats
}

// Instance returns the random id of this process.
func (s *Service) Instance() string { return s.instance }
