package source

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/DexterZero/Spyro-API/internal/codec"
	model "github.com/DexterZero/Spyro-API/internal/domain/model"
	"github.com/DexterZero/Spyro-API/pkg/logger"
)

const wsWriteTimeout = 10 * time.Second

func init() {
	Register(KindWebSocket, NewWebSocket)
}

// WebSocketSource streams records pushed over a websocket. Text frames
// carry JSON; binary frames carry CBOR.
type WebSocketSource struct {
	cfg  Config
	norm Normalizer
	opts settings
}

// subscribeRequest is sent once after the handshake.
type subscribeRequest struct {
	ID     string          `json:"id"`
	Method string          `json:"method"`
	Params subscribeParams `json:"params"`
}

type subscribeParams struct {
	Cursor    string `json:"cursor,omitempty"`
	FromBlock uint64 `json:"fromBlock,omitempty"`
}

// NewWebSocket builds a websocket source.
func NewWebSocket(cfg Config, opts ...Option) (Source, error) {
	norm, err := NormalizerFor(cfg.Format, cfg.Name)
	if err != nil {
		return nil, err
	}
	return &WebSocketSource{cfg: cfg, norm: norm, opts: newSettings(opts)}, nil
}

// ID returns the provider name.
func (s *WebSocketSource) ID() string { return s.cfg.Name }

// OpenStream dials the endpoint and subscribes from the given position.
func (s *WebSocketSource) OpenStream(ctx context.Context, from model.Position) (Stream, error) {
	hdr := http.Header{}
	if s.cfg.APIKey != "" {
		hdr.Set("Authorization", "Bearer "+s.cfg.APIKey)
	}
	conn, resp, err := s.opts.dialer.DialContext(ctx, s.cfg.Endpoint, hdr)
	if err != nil {
		if resp != nil {
			err = fmt.Errorf("%w (status %d)", err, resp.StatusCode)
		}
		return nil, &ConnectionError{Source: s.ID(), Op: "dial", Err: err}
	}

	req := subscribeRequest{
		ID:     uuid.NewString(),
		Method: "subscribe",
		Params: subscribeParams{Cursor: resumeCursor(from, s.cfg.Cursor), FromBlock: from.Number},
	}
	_ = conn.SetWriteDeadline(time.Now().Add(wsWriteTimeout))
	if err := conn.WriteJSON(req); err != nil {
		_ = conn.Close()
		return nil, &ConnectionError{Source: s.ID(), Op: "subscribe", Err: err}
	}
	_ = conn.SetWriteDeadline(time.Time{})

	s.opts.log.Debug(ctx, "websocket subscribed",
		logger.String("provider", s.ID()),
		logger.String("request_id", req.ID),
		logger.Uint64("from_block", from.Number))

	return &wsStream{src: s, conn: conn}, nil
}

type wsStream struct {
	src  *WebSocketSource
	conn *websocket.Conn
	buf  queue
}

// Recv returns the next envelope, reading frames as needed.
func (w *wsStream) Recv(ctx context.Context) (model.Envelope, error) {
	for {
		if env, ok := w.buf.pop(); ok {
			return env, nil
		}
		frame, err := w.read(ctx)
		if err != nil {
			return model.Envelope{}, err
		}
		envs, err := decodeFrame(ctx, w.src.opts.log, w.src.ID(), w.src.norm, frame)
		if err != nil {
			return model.Envelope{}, err
		}
		w.buf.push(envs...)
	}
}

func (w *wsStream) read(ctx context.Context) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	// A read cannot be cancelled directly; expiring the deadline unblocks it.
	stop := context.AfterFunc(ctx, func() {
		_ = w.conn.SetReadDeadline(time.Now())
	})
	defer stop()

	for {
		op, data, err := w.conn.ReadMessage()
		if err != nil {
			if ctxErr := ctx.Err(); ctxErr != nil {
				return nil, ctxErr
			}
			if websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) || errors.Is(err, io.EOF) {
				return nil, io.EOF
			}
			return nil, &ConnectionError{Source: w.src.ID(), Op: "read", Err: err}
		}
		switch op {
		case websocket.TextMessage:
			return data, nil
		case websocket.BinaryMessage:
			frame, err := cborToJSON(data)
			if err != nil {
				return nil, &ProtocolError{Source: w.src.ID(), Err: err}
			}
			return frame, nil
		}
	}
}

// Close sends a close frame and closes the connection.
func (w *wsStream) Close() error {
	msg := websocket.FormatCloseMessage(websocket.CloseNormalClosure, "")
	_ = w.conn.WriteControl(websocket.CloseMessage, msg, time.Now().Add(time.Second))
	return w.conn.Close()
}

// cborToJSON re-encodes a CBOR frame as JSON for the normalizers.
func cborToJSON(data []byte) ([]byte, error) {
	var v any
	if err := codec.Unmarshal(data, &v); err != nil {
		return nil, fmt.Errorf("cbor frame: %w", err)
	}
	out, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("cbor frame: %w", err)
	}
	return out, nil
}

// resumeCursor prefers the position's cursor over the configured one.
func resumeCursor(from model.Position, fallback string) string {
	if from.Cursor != "" {
		return from.Cursor
	}
	return fallback
}
