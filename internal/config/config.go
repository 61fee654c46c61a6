package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/danmuck/contractrpc/internal/lifecycle"
	"gopkg.in/yaml.v3"
)

var (
	ErrInvalid       = errors.New("config: invalid")
	ErrUnknownFormat = errors.New("config: unknown file format")
	ErrUnknownKeys   = errors.New("config: unknown keys")
	ErrNoDomain      = errors.New("config: no such domain")
)

// Duration accepts Go duration strings ("250ms", "30s") in TOML and YAML.
type Duration time.Duration

func (d Duration) Std() time.Duration { return time.Duration(d) }

func (d Duration) String() string { return time.Duration(d).String() }

func (d *Duration) UnmarshalText(text []byte) error {
	v, err := time.ParseDuration(strings.TrimSpace(string(text)))
	if err != nil {
		return err
	}
	*d = Duration(v)
	return nil
}

func (d Duration) MarshalText() ([]byte, error) {
	return []byte(d.String()), nil
}

func (d *Duration) UnmarshalYAML(node *yaml.Node) error {
	return d.UnmarshalText([]byte(node.Value))
}

// TLSConfig names PEM files. Mutual requires peers to present certificates
// signed by CAFile.
type TLSConfig struct {
	Enabled    bool   `toml:"enabled" yaml:"enabled"`
	CertFile   string `toml:"cert_file" yaml:"cert_file"`
	KeyFile    string `toml:"key_file" yaml:"key_file"`
	CAFile     string `toml:"ca_file" yaml:"ca_file"`
	ServerName string `toml:"server_name" yaml:"server_name"`
	Mutual     bool   `toml:"mutual" yaml:"mutual"`
}

type HostConfig struct {
	Name          string            `toml:"name" yaml:"name"`
	SocketAddr    string            `toml:"socket_addr" yaml:"socket_addr"`
	HTTPAddr      string            `toml:"http_addr" yaml:"http_addr"`
	BasePath      string            `toml:"base_path" yaml:"base_path"`
	WebSocketPath string            `toml:"websocket_path" yaml:"websocket_path"`
	CORSOrigins   []string          `toml:"cors_origins" yaml:"cors_origins"`
	BufferSize    int               `toml:"buffer_size" yaml:"buffer_size"`
	MaxPayload    int               `toml:"max_payload" yaml:"max_payload"`
	RateLimit     float64           `toml:"rate_limit" yaml:"rate_limit"`
	RateBurst     int               `toml:"rate_burst" yaml:"rate_burst"`
	Users         map[string]string `toml:"users" yaml:"users"`
	TLS           TLSConfig         `toml:"tls" yaml:"tls"`
}

// DomainConfig is one entry of a client profile.
type DomainConfig struct {
	Name            string            `toml:"name" yaml:"name"`
	Host            string            `toml:"host" yaml:"host"`
	Port            int               `toml:"port" yaml:"port"`
	Mode            string            `toml:"mode" yaml:"mode"`
	Path            string            `toml:"path" yaml:"path"`
	BufferSize      int               `toml:"buffer_size" yaml:"buffer_size"`
	MaxPayload      int               `toml:"max_payload" yaml:"max_payload"`
	ResponseTimeout Duration          `toml:"response_timeout" yaml:"response_timeout"`
	ConnectTimeout  Duration          `toml:"connect_timeout" yaml:"connect_timeout"`
	Session         string            `toml:"session" yaml:"session"`
	TextEncoding    string            `toml:"text_encoding" yaml:"text_encoding"`
	KeepAlive       *bool             `toml:"keep_alive" yaml:"keep_alive"`
	Headers         map[string]string `toml:"headers" yaml:"headers"`
	TLS             TLSConfig         `toml:"tls" yaml:"tls"`
}

type ClientConfig struct {
	Default string         `toml:"default" yaml:"default"`
	Domains []DomainConfig `toml:"domains" yaml:"domains"`
}

func DefaultHostConfig() HostConfig {
	return HostConfig{
		Name:          "contractd",
		SocketAddr:    "127.0.0.1:7300",
		HTTPAddr:      "127.0.0.1:7380",
		BasePath:      "/contracts",
		WebSocketPath: "/contracts/ws",
		RateLimit:     100,
		RateBurst:     200,
	}
}

func LoadHostConfig(path string) (HostConfig, error) {
	cfg := DefaultHostConfig()
	if err := decodeFile(path, &cfg); err != nil {
		return HostConfig{}, err
	}
	if err := cfg.Validate(); err != nil {
		return HostConfig{}, err
	}
	return cfg, nil
}

// LoadClientConfig reads a client profile. The first domain is the default
// unless the file names one.
func LoadClientConfig(path string) (ClientConfig, error) {
	var cfg ClientConfig
	if err := decodeFile(path, &cfg); err != nil {
		return ClientConfig{}, err
	}
	for i := range cfg.Domains {
		cfg.Domains[i] = cfg.Domains[i].withDefaults()
	}
	if cfg.Default == "" && len(cfg.Domains) > 0 {
		cfg.Default = cfg.Domains[0].Name
	}
	if err := cfg.Validate(); err != nil {
		return ClientConfig{}, err
	}
	return cfg, nil
}

func decodeFile(path string, out any) error {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".toml":
		meta, err := toml.DecodeFile(path, out)
		if err != nil {
			return fmt.Errorf("config parse failed (%s): %w", path, err)
		}
		if undecoded := meta.Undecoded(); len(undecoded) > 0 {
			keys := make([]string, len(undecoded))
			for i, k := range undecoded {
				keys[i] = k.String()
			}
			return fmt.Errorf("%w in %s: %s", ErrUnknownKeys, path, strings.Join(keys, ", "))
		}
		return nil
	case ".yaml", ".yml":
		f, err := os.Open(path)
		if err != nil {
			return fmt.Errorf("config load failed (%s): %w", path, err)
		}
		defer f.Close()
		dec := yaml.NewDecoder(f)
		dec.KnownFields(true)
		if err := dec.Decode(out); err != nil {
			return fmt.Errorf("config parse failed (%s): %w", path, err)
		}
		return nil
	default:
		return fmt.Errorf("%w: %s", ErrUnknownFormat, path)
	}
}

func (c HostConfig) Validate() error {
	if strings.TrimSpace(c.Name) == "" {
		return fmt.Errorf("%w: host config missing name", ErrInvalid)
	}
	if strings.TrimSpace(c.SocketAddr) == "" && strings.TrimSpace(c.HTTPAddr) == "" {
		return fmt.Errorf("%w: host config needs socket_addr or http_addr", ErrInvalid)
	}
	if !strings.HasPrefix(c.BasePath, "/") || !strings.HasPrefix(c.WebSocketPath, "/") {
		return fmt.Errorf("%w: paths must start with /", ErrInvalid)
	}
	if c.BufferSize < 0 {
		return fmt.Errorf("%w: buffer_size %d", ErrInvalid, c.BufferSize)
	}
	if c.MaxPayload < 0 {
		return fmt.Errorf("%w: max_payload %d", ErrInvalid, c.MaxPayload)
	}
	if c.RateLimit < 0 || (c.RateLimit > 0 && c.RateBurst <= 0) {
		return fmt.Errorf("%w: rate_limit %.2f with burst %d", ErrInvalid, c.RateLimit, c.RateBurst)
	}
	return c.TLS.validate()
}

func (d DomainConfig) withDefaults() DomainConfig {
	if d.Mode == "" {
		d.Mode = lifecycle.ModeSocket
	}
	d.Mode = strings.ToLower(strings.TrimSpace(d.Mode))
	if d.Host == "" {
		d.Host = "127.0.0.1"
	}
	if d.KeepAlive == nil {
		keep := true
		d.KeepAlive = &keep
	}
	return d
}

func (d DomainConfig) Validate() error {
	if strings.TrimSpace(d.Name) == "" {
		return fmt.Errorf("%w: domain missing name", ErrInvalid)
	}
	if d.Port <= 0 || d.Port > 65535 {
		return fmt.Errorf("%w: domain %s port %d", ErrInvalid, d.Name, d.Port)
	}
	if !lifecycle.HasMode(d.Mode) {
		return fmt.Errorf("%w: domain %s mode %q", ErrInvalid, d.Name, d.Mode)
	}
	if d.BufferSize < 0 {
		return fmt.Errorf("%w: domain %s buffer_size %d", ErrInvalid, d.Name, d.BufferSize)
	}
	if d.MaxPayload < 0 {
		return fmt.Errorf("%w: domain %s max_payload %d", ErrInvalid, d.Name, d.MaxPayload)
	}
	if err := d.TLS.validate(); err != nil {
		return fmt.Errorf("domain %s: %w", d.Name, err)
	}
	return nil
}

func (c ClientConfig) Validate() error {
	if len(c.Domains) == 0 {
		return fmt.Errorf("%w: client config has no domains", ErrInvalid)
	}
	seen := make(map[string]struct{}, len(c.Domains))
	for i, d := range c.Domains {
		if err := d.Validate(); err != nil {
			return fmt.Errorf("domains[%d] invalid: %w", i, err)
		}
		key := strings.ToLower(d.Name)
		if _, dup := seen[key]; dup {
			return fmt.Errorf("%w: duplicate domain %s", ErrInvalid, d.Name)
		}
		seen[key] = struct{}{}
	}
	if _, err := c.Domain(c.Default); err != nil {
		return err
	}
	return nil
}

// Domain returns the named entry, or the default one when name is empty.
func (c ClientConfig) Domain(name string) (DomainConfig, error) {
	if name == "" {
		name = c.Default
	}
	for _, d := range c.Domains {
		if strings.EqualFold(d.Name, name) {
			return d, nil
		}
	}
	return DomainConfig{}, fmt.Errorf("%w: %s", ErrNoDomain, name)
}

func (t TLSConfig) validate() error {
	if !t.Enabled {
		return nil
	}
	if (t.CertFile == "") != (t.KeyFile == "") {
		return fmt.Errorf("%w: tls cert_file and key_file go together", ErrInvalid)
	}
	if t.Mutual && t.CAFile == "" {
		return fmt.Errorf("%w: mutual tls requires ca_file", ErrInvalid)
	}
	return nil
}
