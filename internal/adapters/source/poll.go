package source

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"

	"golang.org/x/time/rate"

	model "github.com/DexterZero/Spyro-API/internal/domain/model"
	"github.com/DexterZero/Spyro-API/pkg/logger"
)

const maxPageBytes = 16 << 20

func init() {
	Register(KindPoll, NewPoll)
}

// PollSource pages through an HTTP endpoint by cursor. Requests are paced
// by a rate limiter of one request per interval; an empty page simply
// waits for the next slot.
type PollSource struct {
	cfg     Config
	norm    Normalizer
	opts    settings
	limiter *rate.Limiter
}

// page is the response body of a poll.
type page struct {
	Records    []json.RawMessage `json:"records"`
	NextCursor string            `json:"next_cursor"`
}

// NewPoll builds a poll source.
func NewPoll(cfg Config, opts ...Option) (Source, error) {
	norm, err := NormalizerFor(cfg.Format, cfg.Name)
	if err != nil {
		return nil, err
	}
	interval := cfg.Interval
	if interval <= 0 {
		interval = defaultInterval
	}
	return &PollSource{
		cfg:     cfg,
		norm:    norm,
		opts:    newSettings(opts),
		limiter: rate.NewLimiter(rate.Every(interval), 1),
	}, nil
}

// ID returns the provider name.
func (s *PollSource) ID() string { return s.cfg.Name }

// OpenStream starts paging from the position's cursor.
func (s *PollSource) OpenStream(ctx context.Context, from model.Position) (Stream, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if _, err := url.Parse(s.cfg.Endpoint); err != nil {
		return nil, &ConnectionError{Source: s.ID(), Op: "open", Err: err}
	}
	return &pollStream{src: s, cursor: resumeCursor(from, s.cfg.Cursor)}, nil
}

type pollStream struct {
	src    *PollSource
	cursor string
	buf    queue
}

// Recv returns the next envelope, fetching pages until one has records.
func (p *pollStream) Recv(ctx context.Context) (model.Envelope, error) {
	for {
		if env, ok := p.buf.pop(); ok {
			return env, nil
		}
		if err := p.fetch(ctx); err != nil {
			return model.Envelope{}, err
		}
	}
}

func (p *pollStream) fetch(ctx context.Context) error {
	pg, err := p.src.get(ctx, p.cursor)
	if err != nil {
		return err
	}

	var envs []model.Envelope
	for _, raw := range pg.Records {
		got, err := decodeFrame(ctx, p.src.opts.log, p.src.ID(), p.src.norm, raw)
		if err != nil {
			return err
		}
		for i := range got {
			if got[i].Position.Cursor == "" {
				got[i].Position.Cursor = p.cursor
			}
		}
		envs = append(envs, got...)
	}

	if pg.NextCursor != "" {
		// Resuming from the last record of a page starts at the next page.
		if n := len(envs); n > 0 {
			envs[n-1].Position.Cursor = pg.NextCursor
		}
		p.cursor = pg.NextCursor
	}
	p.buf.push(envs...)
	return nil
}

// get performs one poll, retrying 429 and 5xx answers up to maxAttempts.
func (s *PollSource) get(ctx context.Context, cursor string) (page, error) {
	var lastErr error
	for attempt := 1; attempt <= s.opts.maxAttempts; attempt++ {
		if err := s.limiter.Wait(ctx); err != nil {
			// The next slot lies past the deadline.
			<-ctx.Done()
			return page{}, ctx.Err()
		}

		pg, retry, err := s.do(ctx, cursor)
		if err == nil {
			return pg, nil
		}
		if ctx.Err() != nil {
			return page{}, ctx.Err()
		}
		if !retry {
			return page{}, err
		}
		lastErr = err
		s.opts.log.Debug(ctx, "poll retry",
			logger.String("provider", s.ID()),
			logger.Int("attempt", attempt),
			logger.Error(err))
	}
	return page{}, lastErr
}

func (s *PollSource) do(ctx context.Context, cursor string) (page, bool, error) {
	u, err := url.Parse(s.cfg.Endpoint)
	if err != nil {
		return page{}, false, &ConnectionError{Source: s.ID(), Op: "poll", Err: err}
	}
	q := u.Query()
	if cursor != "" {
		q.Set("cursor", cursor)
	}
	q.Set("limit", strconv.Itoa(s.opts.pageSize))
	u.RawQuery = q.Encode()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u.String(), nil)
	if err != nil {
		return page{}, false, &ConnectionError{Source: s.ID(), Op: "poll", Err: err}
	}
	req.Header.Set("Accept", "application/json")
	if s.cfg.APIKey != "" {
		req.Header.Set("Authorization", "Bearer "+s.cfg.APIKey)
	}

	resp, err := s.opts.client.Do(req)
	if err != nil {
		return page{}, true, &ConnectionError{Source: s.ID(), Op: "poll", Err: err}
	}
	defer func() {
		_, _ = io.Copy(io.Discard, resp.Body)
		_ = resp.Body.Close()
	}()

	switch {
	case resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= http.StatusInternalServerError:
		return page{}, true, &ConnectionError{Source: s.ID(), Op: "poll", Err: fmt.Errorf("status %d", resp.StatusCode)}
	case resp.StatusCode != http.StatusOK:
		return page{}, false, &ConnectionError{Source: s.ID(), Op: "poll", Err: fmt.Errorf("status %d", resp.StatusCode)}
	}

	var pg page
	if err := json.NewDecoder(io.LimitReader(resp.Body, maxPageBytes)).Decode(&pg); err != nil {
		return page{}, false, &ProtocolError{Source: s.ID(), Err: fmt.Errorf("page: %w", err)}
	}
	return pg, false, nil
}

// Close is a no-op; polling holds no connection between requests.
func (p *pollStream) Close() error { return nil }
