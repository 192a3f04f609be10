package proxyenv

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/tidwall/jsonc"
	"gopkg.in/yaml.v3"
)

// Format identifies a configuration file syntax.
type Format int

const (
	// FormatYAML is YAML, parsed with gopkg.in/yaml.v3.
	FormatYAML Format = iota

	// FormatJSON is JSON extended with comments and trailing commas.
	FormatJSON
)

// String returns the string representation of a Format.
func (f Format) String() string {
	switch f {
	case FormatYAML:
		return "yaml"
	case FormatJSON:
		return "json"
	default:
		return unknownStr
	}
}

// FormatFromPath picks a Format from the file extension of path:
// .yaml and .yml are YAML; .json and .jsonc are JSON.
func FormatFromPath(path string) (Format, error) {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		return FormatYAML, nil
	case ".json", ".jsonc":
		return FormatJSON, nil
	default:
		return 0, fmt.Errorf("%w: unrecognized config file extension %q", ErrConfigInvalid, filepath.Ext(path))
	}
}

// Config is the file form of a client's proxy settings.
//
//	proxy: http://proxy.internal:3128    # or false, or a mapping
//	env:
//	  NO_PROXY: localhost,.internal
type Config struct {
	// Proxy is the client-wide directive. Omitted or null means absent.
	Proxy Directive `yaml:"proxy" json:"proxy"`

	// Env holds environment variables overlaid on the process environment
	// for resolution. An empty value blanks out the inherited variable.
	Env map[string]string `yaml:"env,omitempty" json:"env,omitempty"`
}

// Environ returns base with the config's Env overlaid on top.
func (c *Config) Environ(base Env) Env {
	return base.With(c.Env)
}

// LoadConfig reads a configuration file. The format is chosen by
// FormatFromPath. An empty file yields an empty Config.
func LoadConfig(path string) (*Config, error) {
	format, err := FormatFromPath(path)
	if err != nil {
		return nil, err
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("proxyenv: read config %s: %w", path, err)
	}

	cfg, err := ParseConfig(data, format)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return cfg, nil
}

// ParseConfig decodes data in the given format. Unknown keys are rejected.
// Errors wrap ErrConfigInvalid.
func ParseConfig(data []byte, format Format) (*Config, error) {
	var cfg Config
	var err error

	switch format {
	case FormatYAML:
		dec := yaml.NewDecoder(bytes.NewReader(data))
		dec.KnownFields(true)
		if err = dec.Decode(&cfg); errors.Is(err, io.EOF) {
			err = nil
		}
	case FormatJSON:
		stripped := bytes.TrimSpace(jsonc.ToJSON(data))
		if len(stripped) == 0 {
			break
		}
		dec := json.NewDecoder(bytes.NewReader(stripped))
		dec.DisallowUnknownFields()
		err = dec.Decode(&cfg)
	default:
		err = fmt.Errorf("unsupported config format %v", format)
	}

	if err != nil {
		if errors.Is(err, ErrConfigInvalid) {
			return nil, err
		}
		return nil, fmt.Errorf("%w: %w", ErrConfigInvalid, err)
	}
	return &cfg, nil
}

// proxyConfigKeys lists the keys accepted in a structured directive.
var proxyConfigKeys = map[string]bool{
	"host":     true,
	"port":     true,
	"protocol": true,
	"auth":     true,
}

// UnmarshalYAML decodes false, a URL string, a {host, port, protocol, auth}
// mapping or null into d.
func (d *Directive) UnmarshalYAML(value *yaml.Node) error {
	switch value.Kind {
	case yaml.ScalarNode:
		switch value.ShortTag() {
		case "!!null":
			*d = Absent()
			return nil
		case "!!bool":
			var b bool
			if err := value.Decode(&b); err != nil {
				return err
			}
			return d.setBool(b)
		case "!!str":
			return d.setURL(value.Value)
		}
	case yaml.MappingNode:
		for i := 0; i+1 < len(value.Content); i += 2 {
			key := value.Content[i].Value
			if !proxyConfigKeys[key] {
				return fmt.Errorf("%w: line %d: unknown proxy field %q", ErrConfigInvalid, value.Content[i].Line, key)
			}
		}
		var cfg ProxyConfig
		if err := value.Decode(&cfg); err != nil {
			return err
		}
		return d.setConfig(cfg)
	}
	return fmt.Errorf("%w: line %d: proxy must be false, a URL string or a mapping", ErrConfigInvalid, value.Line)
}

// MarshalYAML encodes d in the shape UnmarshalYAML accepts.
func (d Directive) MarshalYAML() (interface{}, error) {
	switch d.kind {
	case KindDisabled:
		return false, nil
	case KindURL:
		return d.url, nil
	case KindStructured:
		return d.config, nil
	default:
		return nil, nil
	}
}

// UnmarshalJSON decodes false, a URL string, a {host, port, protocol, auth}
// object or null into d.
func (d *Directive) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if len(data) == 0 {
		return fmt.Errorf("%w: empty proxy value", ErrConfigInvalid)
	}

	switch data[0] {
	case 'n':
		*d = Absent()
		return nil
	case 't', 'f':
		var b bool
		if err := json.Unmarshal(data, &b); err != nil {
			return err
		}
		return d.setBool(b)
	case '"':
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return err
		}
		return d.setURL(s)
	case '{':
		dec := json.NewDecoder(bytes.NewReader(data))
		dec.DisallowUnknownFields()
		var cfg ProxyConfig
		if err := dec.Decode(&cfg); err != nil {
			return fmt.Errorf("%w: proxy: %w", ErrConfigInvalid, err)
		}
		return d.setConfig(cfg)
	}
	return fmt.Errorf("%w: proxy must be false, a URL string or an object", ErrConfigInvalid)
}

// MarshalJSON encodes d in the shape UnmarshalJSON accepts.
func (d Directive) MarshalJSON() ([]byte, error) {
	switch d.kind {
	case KindDisabled:
		return []byte("false"), nil
	case KindURL:
		return json.Marshal(d.url)
	case KindStructured:
		return json.Marshal(d.config)
	default:
		return []byte("null"), nil
	}
}

func (d *Directive) setBool(b bool) error {
	if b {
		return fmt.Errorf("%w: proxy: true is not a directive; use a URL, a mapping or false", ErrConfigInvalid)
	}
	*d = Disabled()
	return nil
}

func (d *Directive) setURL(s string) error {
	if strings.TrimSpace(s) == "" {
		return fmt.Errorf("%w: proxy URL is empty", ErrConfigInvalid)
	}
	*d = URL(s)
	return nil
}

func (d *Directive) setConfig(cfg ProxyConfig) error {
	if err := cfg.Validate(); err != nil {
		return err
	}
	*d = Structured(cfg)
	return nil
}
