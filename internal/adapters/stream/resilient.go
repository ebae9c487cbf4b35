// Package stream wraps a provider source in a reconnect loop. Disconnects
// and failed opens are logged and retried with exponential backoff; only
// cancellation of the caller's context ends the loop.
package stream

import (
	"context"
	"errors"
	"io"
	"sync"
	"sync/atomic"
	"time"

	"github.com/DexterZero/Spyro-API/internal/adapters/source"
	model "github.com/DexterZero/Spyro-API/internal/domain/model"
	"github.com/DexterZero/Spyro-API/pkg/clock"
	"github.com/DexterZero/Spyro-API/pkg/logger"
	"github.com/DexterZero/Spyro-API/pkg/metrics"
)

// State is the phase of the reconnect loop.
type State int32

// States.
const (
	Connecting State = iota
	Streaming
	BackingOff
)

func (s State) String() string {
	switch s {
	case Connecting:
		return "connecting"
	case Streaming:
		return "streaming"
	case BackingOff:
		return "backoff"
	}
	return "unknown"
}

// Handoff receives each envelope. It may block; an error other than
// cancellation stops Run and is returned as is.
type Handoff func(ctx context.Context, env model.Envelope) error

// Resilient keeps a source connected for as long as its context lives.
type Resilient struct {
	src     source.Source
	backoff *Backoff
	clock   clock.Clock
	log     logger.Logger
	metrics *metrics.Manager

	state    atomic.Int32
	failures atomic.Int64
	events   atomic.Uint64

	mu   sync.Mutex
	last model.Position
}

// New wraps src.
func New(src source.Source, opts ...Option) *Resilient {
	r := &Resilient{
		src:     src,
		backoff: NewBackoff(DefaultFloor, DefaultCeiling, DefaultFactor),
		clock:   clock.Real(),
		log:     logger.Nop(),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// handoffError carries a downstream failure out of the read loop.
type handoffError struct{ err error }

func (h *handoffError) Error() string { return h.err.Error() }

// Run connects, forwards every envelope to handoff and reconnects after any
// failure. It returns ctx.Err() once ctx ends, or the first handoff error.
func (r *Resilient) Run(ctx context.Context, handoff Handoff) error {
	id := r.src.ID()
	for {
		if err := ctx.Err(); err != nil {
			return err
		}

		r.setState(Connecting)
		st, err := r.src.OpenStream(ctx, r.Position())
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			if err := r.retry(ctx, "open", err); err != nil {
				return err
			}
			continue
		}

		r.setState(Streaming)
		r.log.Info(ctx, "stream connected", logger.String("provider", id), logger.Uint64("from_block", r.Position().Number))
		err = r.pump(ctx, st, handoff)
		if cerr := st.Close(); cerr != nil {
			r.log.Debug(ctx, "stream close", logger.String("provider", id), logger.Error(cerr))
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}
		var he *handoffError
		if errors.As(err, &he) {
			return he.err
		}
		if err := r.retry(ctx, "recv", err); err != nil {
			return err
		}
	}
}

func (r *Resilient) pump(ctx context.Context, st source.Stream, handoff Handoff) error {
	for {
		env, err := st.Recv(ctx)
		if err != nil {
			return err
		}
		if err := handoff(ctx, env); err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			return &handoffError{err: err}
		}

		r.mu.Lock()
		if !env.Position.IsZero() {
			r.last = env.Position
		}
		r.mu.Unlock()
		r.events.Add(1)
		r.metrics.RecordStreamEvent(r.src.ID())
		if r.failures.Swap(0) != 0 {
			r.backoff.Reset()
			r.metrics.SetBackoff(r.src.ID(), r.backoff.Current().Seconds())
		}
	}
}

// retry logs a disconnect and sleeps the current backoff.
func (r *Resilient) retry(ctx context.Context, op string, cause error) error {
	id := r.src.ID()
	reason := classify(cause)
	attempt := r.failures.Add(1)
	delay := r.backoff.Next()

	r.setState(BackingOff)
	r.metrics.RecordReconnect(id, reason)
	r.metrics.SetBackoff(id, delay.Seconds())

	fields := []logger.Field{
		logger.String("provider", id),
		logger.String("op", op),
		logger.String("reason", reason),
		logger.Int("attempt", int(attempt)),
		logger.Duration("backoff", delay),
	}
	if cause != nil && !errors.Is(cause, io.EOF) {
		fields = append(fields, logger.Error(cause))
	}
	r.log.Warn(ctx, "stream disconnected", fields...)

	return clock.Sleep(ctx, r.clock, delay)
}

func classify(err error) string {
	switch {
	case err == nil, errors.Is(err, io.EOF):
		return "eof"
	case errors.Is(err, source.ErrConnection):
		return "connection"
	case errors.Is(err, source.ErrProtocol):
		return "protocol"
	}
	return "error"
}

func (r *Resilient) setState(s State) {
	r.state.Store(int32(s))
	r.metrics.SetStreamState(r.src.ID(), int(s))
}

// ID returns the source's provider name.
func (r *Resilient) ID() string { return r.src.ID() }

// State returns the current phase.
func (r *Resilient) State() State { return State(r.state.Load()) }

// Attempts returns the number of consecutive failures since the last
// delivered envelope.
func (r *Resilient) Attempts() int64 { return r.failures.Load() }

// Events returns the number of envelopes delivered.
func (r *Resilient) Events() uint64 { return r.events.Load() }

// CurrentBackoff returns the delay the next failure will wait.
func (r *Resilient) CurrentBackoff() time.Duration { return r.backoff.Current() }

// Position returns the last delivered position, which is where the next
// connection resumes.
func (r *Resilient) Position() model.Position {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.last
}
