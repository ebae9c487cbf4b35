package sink

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"sync"

	"github.com/klauspost/compress/zstd"
	"github.com/pierrec/lz4/v4"

	"github.com/DexterZero/Spyro-API/internal/codec"
	model "github.com/DexterZero/Spyro-API/internal/domain/model"
)

const defaultBufSize = 64 * 1024

// File formats.
const (
	FormatJSON = "json"
	FormatCBOR = "cbor"
)

// Compression names.
const (
	CompressionNone = "none"
	CompressionZstd = "zstd"
	CompressionLZ4  = "lz4"
)

// FileSink appends modifications to a file, one record per modification:
// newline-delimited JSON or a CBOR sequence of canonical encodings,
// optionally compressed. Each Apply is flushed before it returns.
type FileSink struct {
	mu     sync.Mutex
	f      *os.File
	comp   flushCloser
	w      *bufio.Writer
	format string
	closed bool
}

// flushCloser is what both compressors provide.
type flushCloser interface {
	io.Writer
	Flush() error
	Close() error
}

// NewFile opens path for appending.
func NewFile(path, format, compression string) (*FileSink, error) {
	switch format {
	case "", FormatJSON:
		format = FormatJSON
	case FormatCBOR:
	default:
		return nil, fmt.Errorf("%w: file format %q", ErrConfig, format)
	}
	if path == "" {
		return nil, fmt.Errorf("%w: file sink needs a path", ErrConfig)
	}

	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return nil, fmt.Errorf("file sink: open %s: %w", path, err)
	}

	s := &FileSink{f: f, format: format}
	var w io.Writer = f
	switch compression {
	case "", CompressionNone:
	case CompressionZstd:
		enc, err := zstd.NewWriter(f, zstd.WithEncoderLevel(zstd.SpeedDefault))
		if err != nil {
			_ = f.Close()
			return nil, fmt.Errorf("file sink: zstd: %w", err)
		}
		s.comp, w = enc, enc
	case CompressionLZ4:
		zw := lz4.NewWriter(f)
		s.comp, w = zw, zw
	default:
		_ = f.Close()
		return nil, fmt.Errorf("%w: %q", ErrUnknownCompression, compression)
	}
	s.w = bufio.NewWriterSize(w, defaultBufSize)
	return s, nil
}

// Apply appends mods.
func (s *FileSink) Apply(_ context.Context, mods []model.EntityModification) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return ErrClosed
	}
	for _, m := range mods {
		var (
			data []byte
			err  error
		)
		if s.format == FormatCBOR {
			data, err = m.Encode()
		} else {
			data, err = json.Marshal(m)
			data = append(data, '\n')
		}
		if err != nil {
			return fmt.Errorf("file sink: encode %s: %w", m, err)
		}
		if _, err := s.w.Write(data); err != nil {
			return fmt.Errorf("file sink: write: %w", err)
		}
	}
	return s.flush()
}

func (s *FileSink) flush() error {
	if err := s.w.Flush(); err != nil {
		return fmt.Errorf("file sink: flush: %w", err)
	}
	if s.comp != nil {
		if err := s.comp.Flush(); err != nil {
			return fmt.Errorf("file sink: flush: %w", err)
		}
	}
	return nil
}

// Close flushes and closes the file.
func (s *FileSink) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return nil
	}
	s.closed = true
	var errs []error
	if err := s.w.Flush(); err != nil {
		errs = append(errs, err)
	}
	if s.comp != nil {
		if err := s.comp.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	if err := s.f.Close(); err != nil {
		errs = append(errs, err)
	}
	return errors.Join(errs...)
}

// ReadFile decodes a file written by FileSink. JSON field values come back
// in their JSON forms; CBOR values in their CBOR forms.
func ReadFile(path, format, compression string) ([]model.EntityModification, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	var r io.Reader = f
	switch compression {
	case "", CompressionNone:
	case CompressionZstd:
		dec, err := zstd.NewReader(f)
		if err != nil {
			return nil, err
		}
		defer dec.Close()
		r = dec
	case CompressionLZ4:
		r = lz4.NewReader(f)
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownCompression, compression)
	}

	var out []model.EntityModification
	if format == FormatCBOR {
		dec := codec.NewDecoder(r)
		for {
			var m model.EntityModification
			if err := dec.Decode(&m); err != nil {
				if errors.Is(err, io.EOF) {
					return out, nil
				}
				return out, err
			}
			out = append(out, m)
		}
	}

	dec := json.NewDecoder(r)
	for dec.More() {
		var m model.EntityModification
		if err := dec.Decode(&m); err != nil {
			return out, err
		}
		out = append(out, m)
	}
	return out, nil
}
