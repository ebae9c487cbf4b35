package firehose

import (
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"

	"gopkg.in/yaml.v3"

	"github.com/DexterZero/Spyro-API/internal/codec"
	model "github.com/DexterZero/Spyro-API/internal/domain/model"
)

// Printer writes envelopes and modifications in one output format.
type Printer struct {
	w      io.Writer
	format string
	raw    bool
	json   *json.Encoder
	yaml   *yaml.Encoder
}

// NewPrinter returns a printer for format. With raw set, envelopes are
// written as base64 deterministic CBOR, one per line, whatever the format.
func NewPrinter(w io.Writer, format string, raw bool) (*Printer, error) {
	p := &Printer{w: w, format: format, raw: raw}
	switch format {
	case FormatText:
	case FormatJSON:
		p.json = json.NewEncoder(w)
	case FormatYAML:
		p.yaml = yaml.NewEncoder(w)
		p.yaml.SetIndent(2)
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownFormat, format)
	}
	return p, nil
}

// stepView is an envelope with its payload decoded, for YAML output.
type stepView struct {
	Kind     string         `yaml:"kind"`
	Provider string         `yaml:"provider"`
	Stream   string         `yaml:"stream,omitempty"`
	Block    uint64         `yaml:"block"`
	Hash     string         `yaml:"hash,omitempty"`
	Cursor   string         `yaml:"cursor,omitempty"`
	Payload  map[string]any `yaml:"payload"`
}

// Step prints one envelope.
func (p *Printer) Step(env model.Envelope) error {
	if p.raw {
		data, err := codec.Marshal(env)
		if err != nil {
			return fmt.Errorf("encode envelope: %w", err)
		}
		_, err = fmt.Fprintln(p.w, base64.StdEncoding.EncodeToString(data))
		return err
	}

	switch p.format {
	case FormatJSON:
		return p.json.Encode(env)
	case FormatYAML:
		v := stepView{
			Kind:     string(env.Kind),
			Provider: env.Provider,
			Stream:   env.Stream,
			Block:    env.Position.Number,
			Hash:     env.Position.Hash,
			Cursor:   env.Position.Cursor,
		}
		if err := json.Unmarshal(env.Payload, &v.Payload); err != nil {
			return fmt.Errorf("decode payload: %w", err)
		}
		return p.yaml.Encode(v)
	default:
		_, err := fmt.Fprintf(p.w, "STEP %s block #%d provider:%s\n", env.Kind, env.Position.Number, env.Provider)
		return err
	}
}

// modView is a modification with plain field values, for YAML output.
type modView struct {
	Kind   string         `yaml:"kind"`
	Entity string         `yaml:"entity"`
	Key    string         `yaml:"key"`
	Block  uint64         `yaml:"block"`
	Data   map[string]any `yaml:"data"`
}

// Modification prints one entity modification.
func (p *Printer) Modification(m model.EntityModification) error {
	switch p.format {
	case FormatJSON:
		return p.json.Encode(m)
	case FormatYAML:
		data := make(map[string]any, len(m.Data))
		for k, v := range m.Data {
			if s, ok := v.(fmt.Stringer); ok {
				data[k] = s.String()
				continue
			}
			data[k] = v
		}
		return p.yaml.Encode(modView{
			Kind:   string(m.Kind),
			Entity: string(m.EntityType),
			Key:    m.Key,
			Block:  m.Position.Number,
			Data:   data,
		})
	default:
		_, err := fmt.Fprintln(p.w, m.String())
		return err
	}
}

// Close ends the YAML stream, if any.
func (p *Printer) Close() error {
	if p.yaml != nil {
		return p.yaml.Close()
	}
	return nil
}

// DecodeRaw reverses the raw output of Step.
func DecodeRaw(line string) (model.Envelope, error) {
	data, err := base64.StdEncoding.DecodeString(line)
	if err != nil {
		return model.Envelope{}, err
	}
	var env model.Envelope
	if err := codec.Unmarshal(data, &env); err != nil {
		return model.Envelope{}, err
	}
	return env, nil
}
