// Package config loads the migration configuration and the mapping document.
package config

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	validation "github.com/go-ozzo/ozzo-validation/v4"
	"gopkg.in/yaml.v3"

	"github.com/mouradhm/index-transfert/pkg/backend"
	"github.com/mouradhm/index-transfert/pkg/models"
)

const (
	DefaultMappingFile = "mapping.json"
	DefaultPageSize    = 1000
	DefaultKeepAlive   = 5 * time.Minute
	DefaultMaxRetries  = 3
	DefaultLogLevel    = "info"
)

// LogLevels lists the accepted log_level values.
var LogLevels = []string{"trace", "debug", "info", "warn", "error"}

func init() {
	// report field errors with the names used in the file
	validation.ErrorTag = "yaml"
}

// Endpoint describes one side of the migration.
type Endpoint struct {
	Kind     string `yaml:"kind"`
	ConnStr  string `yaml:"conn_str"`
	Index    string `yaml:"index"`
	Database string `yaml:"database"`
	Username string `yaml:"username"`
	Password string `yaml:"password"`

	// MaxRetries is the number of transport retries; nil selects DefaultMaxRetries.
	MaxRetries *int `yaml:"max_retries"`
}

// HasCredentials reports whether both username and password are set. Anything
// less selects anonymous access.
func (e Endpoint) HasCredentials() bool {
	return e.Username != "" && e.Password != ""
}

// Retries returns the configured number of transport retries.
func (e Endpoint) Retries() int {
	if e.MaxRetries == nil {
		return DefaultMaxRetries
	}
	return *e.MaxRetries
}

func (e Endpoint) Validate() error {
	kinds := make([]interface{}, len(backend.Kinds))
	for i, k := range backend.Kinds {
		kinds[i] = k
	}

	return validation.ValidateStruct(&e,
		validation.Field(&e.Kind, validation.Required, validation.In(kinds...)),
		validation.Field(&e.ConnStr, validation.Required),
		validation.Field(&e.Index, validation.Required),
		validation.Field(&e.Database, validation.When(e.Kind == backend.KindMongoDB, validation.Required)),
		validation.Field(&e.MaxRetries, validation.Min(0)),
	)
}

// Scan holds the source read settings.
type Scan struct {
	PageSize  int           `yaml:"page_size"`
	KeepAlive time.Duration `yaml:"keep_alive"`
}

func (s Scan) Validate() error {
	return validation.ValidateStruct(&s,
		validation.Field(&s.PageSize, validation.Min(1)),
		validation.Field(&s.KeepAlive, validation.Min(time.Second)),
	)
}

// Config is the migration configuration. It is loaded once and not mutated
// after validation.
type Config struct {
	Source      Endpoint      `yaml:"src"`
	Destination Endpoint      `yaml:"dst"`
	BatchSize   int           `yaml:"batch_size"`
	Mapping     string        `yaml:"mapping"`
	Scan        Scan          `yaml:"scan"`
	Journal     string        `yaml:"journal"`
	Strict      bool          `yaml:"strict"`
	Timeout     time.Duration `yaml:"timeout"`
	LogLevel    string        `yaml:"log_level"`
}

func (c Config) Validate() error {
	levels := make([]interface{}, len(LogLevels))
	for i, l := range LogLevels {
		levels[i] = l
	}

	return validation.ValidateStruct(&c,
		validation.Field(&c.Source),
		validation.Field(&c.Destination),
		validation.Field(&c.BatchSize, validation.Required, validation.Min(1)),
		validation.Field(&c.Mapping, validation.Required),
		validation.Field(&c.Scan),
		validation.Field(&c.Timeout, validation.Min(time.Duration(0))),
		validation.Field(&c.LogLevel, validation.In(levels...)),
	)
}

// applyDefaults fills unset values. Relative mapping and journal paths are
// resolved against dir, the directory of the configuration file.
func (c *Config) applyDefaults(dir string) {
	for _, e := range []*Endpoint{&c.Source, &c.Destination} {
		if e.Kind == "" {
			e.Kind = backend.KindElasticsearch
		}
		e.Kind = strings.ToLower(e.Kind)
	}
	if c.Mapping == "" {
		c.Mapping = DefaultMappingFile
	}
	if !filepath.IsAbs(c.Mapping) {
		c.Mapping = filepath.Join(dir, c.Mapping)
	}
	if c.Journal != "" && !filepath.IsAbs(c.Journal) {
		c.Journal = filepath.Join(dir, c.Journal)
	}
	if c.Scan.PageSize == 0 {
		c.Scan.PageSize = DefaultPageSize
	}
	if c.Scan.KeepAlive == 0 {
		c.Scan.KeepAlive = DefaultKeepAlive
	}
	if c.LogLevel == "" {
		c.LogLevel = DefaultLogLevel
	}
	c.LogLevel = strings.ToLower(c.LogLevel)
}

// Load reads, defaults and validates the configuration file at path.
// Environment variables in the file are expanded.
func Load(path string) (*Config, error) {
	cfg, err := Read(path)
	if err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	return cfg, nil
}

// Read is Load without validation, for callers that apply overrides first.
func Read(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config: %w", err)
	}

	expanded := os.ExpandEnv(string(data))

	var cfg Config
	dec := yaml.NewDecoder(strings.NewReader(expanded))
	dec.KnownFields(true)
	if err := dec.Decode(&cfg); err != nil {
		if errors.Is(err, io.EOF) {
			return nil, fmt.Errorf("config %s is empty", path)
		}
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}

	cfg.applyDefaults(filepath.Dir(path))
	return &cfg, nil
}

// LoadMapping reads the mapping document. Files ending in .yaml or .yml are
// parsed as YAML, anything else as JSON with numbers kept verbatim.
func LoadMapping(path string) (models.Mapping, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read mapping: %w", err)
	}

	var mapping models.Mapping
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		if err := yaml.Unmarshal(data, &mapping); err != nil {
			return nil, fmt.Errorf("failed to parse mapping %s: %w", path, err)
		}
	default:
		dec := json.NewDecoder(bytes.NewReader(data))
		dec.UseNumber()
		if err := dec.Decode(&mapping); err != nil {
			return nil, fmt.Errorf("failed to parse mapping %s: %w", path, err)
		}
	}

	if mapping == nil {
		mapping = models.Mapping{}
	}
	return mapping, nil
}
