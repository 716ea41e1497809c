package cli

import (
	"fmt"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/thebtf/lifecycle/internal/backend"
	"github.com/thebtf/lifecycle/internal/config"
	"github.com/thebtf/lifecycle/pkg/persistence"
)

// loadConfig reads the settings file and applies the global flags on top.
// Without --config the data directory and a default settings file are
// created first.
func (o *RootOptions) loadConfig() (*config.Config, error) {
	if o.ConfigPath == "" {
		if err := config.EnsureAll(); err != nil {
			return nil, fmt.Errorf("prepare data directory: %w", err)
		}
	}
	cfg, err := config.Load(o.ConfigPath)
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}
	if o.Driver != "" {
		cfg.Driver = o.Driver
	}
	if o.DSN != "" {
		cfg.DSN = o.DSN
	}
	if o.DBPath != "" {
		cfg.DBPath = o.DBPath
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	if !o.Debug && !o.Trace && cfg.LogLevel != "" {
		if level, err := zerolog.ParseLevel(cfg.LogLevel); err == nil {
			zerolog.SetGlobalLevel(level)
		}
	}
	return cfg, nil
}

// openFactory opens the configured backend and returns a factory with the
// trace-level lifecycle logger attached. The caller must Close it.
func (o *RootOptions) openFactory() (*persistence.Factory, error) {
	cfg, err := o.loadConfig()
	if err != nil {
		return nil, err
	}

	b, err := backend.Open(cfg)
	if err != nil {
		return nil, err
	}

	factory, err := persistence.NewFactory(b,
		persistence.WithLogger(log.Logger),
		persistence.WithListener(persistence.LogListener(log.Logger)),
	)
	if err != nil {
		_ = b.Close()
		return nil, err
	}
	return factory, nil
}

func (o *RootOptions) formatter(cmd *cobra.Command) *OutputFormatter {
	return &OutputFormatter{Writer: cmd.OutOrStdout(), Format: o.Format}
}
