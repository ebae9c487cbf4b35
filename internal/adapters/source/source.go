// Package source connects to compute-provider upstreams and yields their
// records as wire envelopes. Sources own no retry policy: a failed open or
// a broken stream is reported to the caller, which decides when to retry.
package source

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	model "github.com/DexterZero/Spyro-API/internal/domain/model"
	"github.com/DexterZero/Spyro-API/pkg/logger"
)

// Source kinds.
const (
	KindWebSocket = "websocket"
	KindPoll      = "poll"
	KindSynthetic = "synthetic"
)

// Source is one upstream provider feed.
type Source interface {
	// ID names the provider, e.g. "render".
	ID() string
	// OpenStream connects and resumes after from when the upstream supports
	// it. Failures are *ConnectionError or *ProtocolError.
	OpenStream(ctx context.Context, from model.Position) (Stream, error)
}

// Stream is one open connection to an upstream.
type Stream interface {
	// Recv blocks for the next envelope. It returns io.EOF when the upstream
	// ends the stream and ctx.Err() when ctx is cancelled.
	Recv(ctx context.Context) (model.Envelope, error)
	Close() error
}

// Config describes one provider upstream.
type Config struct {
	Name     string
	Kind     string
	Format   string
	Endpoint string
	APIKey   string
	// Cursor is the resume cursor used when no position is known.
	Cursor string
	// Interval paces polling and synthetic generation.
	Interval time.Duration
	// Limit ends a synthetic stream after this many records; 0 is endless.
	Limit int
}

// Validate checks fields shared by every kind.
func (c Config) Validate() error {
	if strings.TrimSpace(c.Name) == "" {
		return fmt.Errorf("%w: name is required", ErrConfig)
	}
	switch c.Kind {
	case KindWebSocket, KindPoll:
		u, err := url.Parse(c.Endpoint)
		if err != nil || u.Host == "" {
			return fmt.Errorf("%w: %s: endpoint %q is not a URL", ErrConfig, c.Name, c.Endpoint)
		}
	}
	return nil
}

// Constructor builds a source from its config.
type Constructor func(cfg Config, opts ...Option) (Source, error)

var registry = struct {
	sync.RWMutex
	m map[string]Constructor
}{m: make(map[string]Constructor)}

// Register makes a source kind available to New. It panics on a duplicate
// kind.
func Register(kind string, c Constructor) {
	registry.Lock()
	defer registry.Unlock()
	if _, dup := registry.m[kind]; dup {
		panic("source: duplicate kind " + kind)
	}
	registry.m[kind] = c
}

// New builds a source of cfg.Kind.
func New(cfg Config, opts ...Option) (Source, error) {
	registry.RLock()
	c, ok := registry.m[cfg.Kind]
	registry.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: %q (known: %s)", ErrUnknownKind, cfg.Kind, strings.Join(Kinds(), ", "))
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return c(cfg, opts...)
}

// Kinds lists registered kinds in sorted order.
func Kinds() []string {
	registry.RLock()
	defer registry.RUnlock()
	out := make([]string, 0, len(registry.m))
	for k := range registry.m {
		out = append(out, k)
	}
	slices.Sort(out)
	return out
}

// Option configures a source.
type Option func(*settings)

type settings struct {
	log         logger.Logger
	client      *http.Client
	dialer      *websocket.Dialer
	maxAttempts int
	pageSize    int
}

func newSettings(opts []Option) settings {
	s := settings{
		log:         logger.Nop(),
		client:      &http.Client{Timeout: defaultHTTPTimeout},
		dialer:      &websocket.Dialer{HandshakeTimeout: defaultHandshakeTimeout, Proxy: http.ProxyFromEnvironment},
		maxAttempts: defaultMaxAttempts,
		pageSize:    defaultPageSize,
	}
	for _, opt := range opts {
		opt(&s)
	}
	return s
}

// Defaults for transport settings.
const (
	defaultHTTPTimeout      = 15 * time.Second
	defaultHandshakeTimeout = 10 * time.Second
	defaultMaxAttempts      = 3
	defaultPageSize         = 100
	defaultInterval         = 5 * time.Second
)

// WithLogger sets the logger.
func WithLogger(l logger.Logger) Option {
	return func(s *settings) {
		if l != nil {
			s.log = l
		}
	}
}

// WithHTTPClient sets the client used by poll sources.
func WithHTTPClient(c *http.Client) Option {
	return func(s *settings) {
		if c != nil {
			s.client = c
		}
	}
}

// WithDialer sets the websocket dialer.
func WithDialer(d *websocket.Dialer) Option {
	return func(s *settings) {
		if d != nil {
			s.dialer = d
		}
	}
}

// WithMaxAttempts bounds the requests made for one poll when the upstream
// answers 429 or 5xx.
func WithMaxAttempts(n int) Option {
	return func(s *settings) {
		if n > 0 {
			s.maxAttempts = n
		}
	}
}

// WithPageSize sets the page size requested by poll sources.
func WithPageSize(n int) Option {
	return func(s *settings) {
		if n > 0 {
			s.pageSize = n
		}
	}
}

// queue buffers envelopes decoded from one frame or page.
type queue struct {
	pending []model.Envelope
}

func (q *queue) push(envs ...model.Envelope) { q.pending = append(q.pending, envs...) }

func (q *queue) pop() (model.Envelope, bool) {
	if len(q.pending) == 0 {
		return model.Envelope{}, false
	}
	env := q.pending[0]
	q.pending = q.pending[1:]
	return env, true
}
