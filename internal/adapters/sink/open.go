package sink

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
)

// Sink kinds.
const (
	KindMemory   = "memory"
	KindFile     = "file"
	KindSurreal  = "surreal"
	KindPostgres = "postgres"
	KindMulti    = "multi"
)

// Config selects and configures a sink.
type Config struct {
	Kind        string
	Path        string
	Format      string
	Compression string
	URL         string
	Namespace   string
	Database    string
	Username    string
	Password    string
	AuthLevel   string
	// Fanout lists the kinds a multi sink writes to, in order.
	Fanout []string
}

// Open builds the sink cfg describes. memory is the in-process store used
// for the memory kind; handler feeds driver logs.
func Open(ctx context.Context, cfg Config, memory Sink, handler slog.Handler) (Sink, error) {
	switch cfg.Kind {
	case "", KindMemory:
		if memory == nil {
			return nil, fmt.Errorf("%w: no memory store", ErrConfig)
		}
		return memory, nil
	case KindFile:
		return NewFile(cfg.Path, cfg.Format, cfg.Compression)
	case KindSurreal:
		return NewSurreal(ctx, SurrealConfig{
			URL:       cfg.URL,
			Namespace: cfg.Namespace,
			Database:  cfg.Database,
			Username:  cfg.Username,
			Password:  cfg.Password,
			AuthLevel: cfg.AuthLevel,
		}, handler)
	case KindPostgres:
		return NewPostgres(ctx, cfg.URL)
	case KindMulti:
		if len(cfg.Fanout) == 0 {
			return nil, fmt.Errorf("%w: multi sink needs fanout kinds", ErrConfig)
		}
		sinks := make([]Sink, 0, len(cfg.Fanout))
		for _, kind := range cfg.Fanout {
			if kind == KindMulti {
				return nil, closeAll(sinks, fmt.Errorf("%w: nested multi sink", ErrConfig))
			}
			sub := cfg
			sub.Kind = kind
			sub.Fanout = nil
			s, err := Open(ctx, sub, memory, handler)
			if err != nil {
				return nil, closeAll(sinks, err)
			}
			sinks = append(sinks, s)
		}
		return NewMulti(sinks...), nil
	}
	return nil, fmt.Errorf("%w: %q", ErrUnknownKind, cfg.Kind)
}

func closeAll(sinks []Sink, cause error) error {
	errs := []error{cause}
	for _, s := range sinks {
		if err := s.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
