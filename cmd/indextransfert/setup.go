package main

import (
	"context"
	"flag"
	"fmt"
	"strings"

	"github.com/hashicorp/go-hclog"

	"github.com/mouradhm/index-transfert/pkg/config"
	"github.com/mouradhm/index-transfert/pkg/models"
)

// configFlags are the flags shared by the commands reading a config file.
type configFlags struct {
	configPath string
	mapping    string
	logLevel   string
}

func (c *configFlags) register(f *flag.FlagSet) {
	f.StringVar(&c.configPath, "config", "config.yaml", "Path to the configuration file")
	f.StringVar(&c.mapping, "mapping", "", "Path to the mapping document (overrides the config file)")
	f.StringVar(&c.logLevel, "log-level", "", "Log level: trace, debug, info, warn or error (overrides the config file)")
}

// load reads the config file and applies the shared overrides. It does not
// validate; callers validate after applying their own overrides.
func (c *configFlags) load(log hclog.Logger) (*config.Config, error) {
	log.Info("initializing", "config", c.configPath)

	cfg, err := config.Read(c.configPath)
	if err != nil {
		return nil, err
	}
	if c.mapping != "" {
		cfg.Mapping = c.mapping
	}
	if c.logLevel != "" {
		cfg.LogLevel = strings.ToLower(c.logLevel)
	}
	return cfg, nil
}

// prepare validates cfg, sets the log level and loads the mapping document.
func prepare(cfg *config.Config, log hclog.Logger) (models.Mapping, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	log.SetLevel(hclog.LevelFromString(cfg.LogLevel))

	mapping, err := config.LoadMapping(cfg.Mapping)
	if err != nil {
		return nil, err
	}
	log.Debug("loaded mapping", "path", cfg.Mapping, "keys", len(mapping))
	return mapping, nil
}

// runContext applies the optional run timeout.
func runContext(cfg *config.Config) (context.Context, context.CancelFunc) {
	if cfg.Timeout > 0 {
		return context.WithTimeout(context.Background(), cfg.Timeout)
	}
	return context.WithCancel(context.Background())
}
