package config

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/go-viper/mapstructure/v2"
	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/v2"
	"github.com/tidwall/jsonc"
)

// EnvPrefix prefixes every environment override.
const EnvPrefix = "SPYRO_"

// Load builds a Config by layering defaults, optional file, and env vars.
// Order of precedence (low -> high):
//  1. defaults (New())
//  2. file at path, or at SPYRO_CONFIG when path is empty; YAML, or JSON
//     with comments for .json and .jsonc
//  3. env (prefix SPYRO_, "__" separates nesting: SPYRO_SINK__KIND)
func Load(_ context.Context, path string) (*Config, error) {
	base := New()

	k := koanf.New(".")

	if path == "" {
		path = os.Getenv(EnvPrefix + "CONFIG")
	}
	if path != "" {
		var err error
		switch strings.ToLower(filepath.Ext(path)) {
		case ".json", ".jsonc":
			err = k.Load(jsoncFile(path), nil)
		default:
			err = k.Load(file.Provider(path), yaml.Parser())
		}
		if err != nil {
			return nil, fmt.Errorf("%w: %s: %v", ErrLoadConfig, path, err)
		}
	}

	envProvider := env.Provider(EnvPrefix, ".", func(s string) string {
		s = strings.TrimPrefix(s, EnvPrefix)
		s = strings.ToLower(s)
		return strings.ReplaceAll(s, "__", ".")
	})
	if err := k.Load(envProvider, nil); err != nil {
		return nil, fmt.Errorf("%w: env: %v", ErrLoadConfig, err)
	}
	// SPYRO_CONFIG names the file; it is not a setting.
	k.Delete("config")

	cfg := *base
	if err := k.UnmarshalWithConf("", &cfg, unmarshalConf(&cfg)); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrLoadConfig, err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// unmarshalConf decodes into out. Env values arrive as strings, so
// durations are parsed and comma-separated values fill slices
// (SPYRO_SINK__FANOUT=memory,file).
func unmarshalConf(out *Config) koanf.UnmarshalConf {
	return koanf.UnmarshalConf{
		Tag: "koanf",
		DecoderConfig: &mapstructure.DecoderConfig{
			DecodeHook: mapstructure.ComposeDecodeHookFunc(
				mapstructure.StringToTimeDurationHookFunc(),
				mapstructure.StringToSliceHookFunc(","),
				mapstructure.TextUnmarshallerHookFunc(),
			),
			Result:           out,
			TagName:          "koanf",
			WeaklyTypedInput: true,
		},
	}
}

// jsoncProvider reads a JSON file that may carry comments and trailing
// commas.
type jsoncProvider struct {
	path string
}

func jsoncFile(path string) *jsoncProvider { return &jsoncProvider{path: path} }

// ReadBytes returns the file as plain JSON.
func (p *jsoncProvider) ReadBytes() ([]byte, error) {
	data, err := os.ReadFile(p.path)
	if err != nil {
		return nil, err
	}
	return jsonc.ToJSON(data), nil
}

// Read returns the decoded document.
func (p *jsoncProvider) Read() (map[string]interface{}, error) {
	data, err := p.ReadBytes()
	if err != nil {
		return nil, err
	}
	var out map[string]interface{}
	if err := json.Unmarshal(data, &out); err != nil {
		return nil, err
	}
	if out == nil {
		return nil, errors.New("config document is not an object")
	}
	return out, nil
}
