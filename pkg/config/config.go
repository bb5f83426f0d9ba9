package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/url"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/rbccps-iisc/ideam-go/pkg/entity"
	"github.com/rbccps-iisc/ideam-go/pkg/subscription"
	"github.com/rbccps-iisc/ideam-go/pkg/transport"
)

// Validation errors.
var (
	ErrMissingEntityID = errors.New("entity_id is required")
	ErrInvalidBaseURL  = errors.New("base_url must be an absolute http or https URL")
	ErrNegativeTimeout = errors.New("timeouts must not be negative")
	ErrInvalidLogLevel = errors.New("log_level must be debug, info, warn or error")
)

// Config holds client settings.
type Config struct {
	EntityID     string `yaml:"entity_id"`
	OwnerAPIKey  string `yaml:"owner_api_key"`
	EntityAPIKey string `yaml:"entity_api_key,omitempty"`
	BaseURL      string `yaml:"base_url"`

	// SkipTLSVerify disables certificate checks for this client only.
	SkipTLSVerify bool `yaml:"skip_tls_verify"`

	ConnectTimeout time.Duration `yaml:"connect_timeout"`
	RequestTimeout time.Duration `yaml:"request_timeout"`
	GracePeriod    time.Duration `yaml:"grace_period"`

	// BindKeys are bound before subscribing when none are given on the
	// command line.
	BindKeys []string `yaml:"bind_keys,omitempty"`

	// StateFile stores the entity key and bound keys between runs.
	StateFile string `yaml:"state_file"`

	// ProtocolLog, if set, captures stream events to this file.
	ProtocolLog string `yaml:"protocol_log,omitempty"`

	LogLevel string `yaml:"log_level"`
}

// Default returns the default configuration.
func Default() Config {
	return Config{
		BaseURL:        entity.DefaultBaseURL,
		ConnectTimeout: transport.DefaultConnectTimeout,
		RequestTimeout: transport.DefaultRequestTimeout,
		GracePeriod:    subscription.DefaultGracePeriod,
		StateFile:      DefaultStateFile(),
		LogLevel:       "info",
	}
}

// DefaultStateFile returns ~/.ideam/state.json, or a relative path if the
// home directory is unknown.
func DefaultStateFile() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ".ideam-state.json"
	}
	return home + string(os.PathSeparator) + ".ideam" + string(os.PathSeparator) + "state.json"
}

// Load reads path over the defaults. Unknown keys are an error.
func Load(path string) (Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Config{}, err
	}
	cfg, err := Parse(data)
	if err != nil {
		return Config{}, fmt.Errorf("config: %s: %w", path, err)
	}
	return cfg, nil
}

// Parse decodes YAML data over the defaults.
func Parse(data []byte) (Config, error) {
	cfg := Default()

	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(&cfg); err != nil && !errors.Is(err, io.EOF) {
		return Config{}, err
	}
	return cfg, nil
}

// Marshal encodes cfg as YAML.
func (c Config) Marshal() ([]byte, error) {
	return yaml.Marshal(c)
}

// Validate checks that the configuration is usable.
func (c Config) Validate() error {
	if c.EntityID == "" {
		return ErrMissingEntityID
	}
	u, err := url.Parse(c.BaseURL)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return fmt.Errorf("%w: %q", ErrInvalidBaseURL, c.BaseURL)
	}
	if c.ConnectTimeout < 0 || c.RequestTimeout < 0 || c.GracePeriod < 0 {
		return ErrNegativeTimeout
	}
	if _, err := ParseLevel(c.LogLevel); err != nil {
		return err
	}
	return nil
}

// Identity builds the entity identity described by c.
func (c Config) Identity() (*entity.Identity, error) {
	id, err := entity.NewIdentity(c.EntityID, c.OwnerAPIKey)
	if err != nil {
		return nil, err
	}
	if c.BaseURL != "" {
		if err := id.SetBaseURL(c.BaseURL); err != nil {
			return nil, err
		}
	}
	if c.EntityAPIKey != "" {
		if err := id.SetEntityAPIKey(c.EntityAPIKey); err != nil {
			return nil, err
		}
	}
	return id, nil
}

// Transport returns the HTTP client settings.
func (c Config) Transport() transport.Config {
	return transport.Config{
		TLS:            transport.TLSConfig{InsecureSkipVerify: c.SkipTLSVerify},
		ConnectTimeout: c.ConnectTimeout,
		RequestTimeout: c.RequestTimeout,
	}
}

// ParseLevel maps a level name to an slog level.
func ParseLevel(name string) (slog.Level, error) {
	switch strings.ToLower(name) {
	case "debug":
		return slog.LevelDebug, nil
	case "", "info":
		return slog.LevelInfo, nil
	case "warn", "warning":
		return slog.LevelWarn, nil
	case "error":
		return slog.LevelError, nil
	}
	return 0, fmt.Errorf("%w: %q", ErrInvalidLogLevel, name)
}
