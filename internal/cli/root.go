// Package cli implements the memberctl command tree.
package cli

import (
	"fmt"
	"slices"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"
)

// RootOptions holds global flags for all commands.
type RootOptions struct {
	ConfigPath string
	Driver     string
	DSN        string
	DBPath     string
	Format     string // "json" | "text"
	Debug      bool
	Trace      bool
}

// ValidFormats defines the allowed output formats.
var ValidFormats = []string{"text", "json"}

// NewRootCommand creates the root command for memberctl.
func NewRootCommand() *cobra.Command {
	opts := &RootOptions{}

	cmd := &cobra.Command{
		Use:   "memberctl",
		Short: "Manage member records",
		Long:  "Create, find, update and remove member records through the session lifecycle manager.",
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			if !slices.Contains(ValidFormats, opts.Format) {
				return fmt.Errorf("invalid format %q: must be one of %v", opts.Format, ValidFormats)
			}
			switch {
			case opts.Trace:
				zerolog.SetGlobalLevel(zerolog.TraceLevel)
			case opts.Debug:
				zerolog.SetGlobalLevel(zerolog.DebugLevel)
			}
			return nil
		},
	}

	// Global flags
	cmd.PersistentFlags().StringVar(&opts.ConfigPath, "config", "", "settings file (default ~/.lifecycle/settings.json)")
	cmd.PersistentFlags().StringVar(&opts.Driver, "driver", "", "storage driver (memory|sqlite|gorm-sqlite|postgres)")
	cmd.PersistentFlags().StringVar(&opts.DSN, "dsn", "", "PostgreSQL DSN")
	cmd.PersistentFlags().StringVar(&opts.DBPath, "db-path", "", "SQLite database path")
	cmd.PersistentFlags().StringVar(&opts.Format, "format", "text", "output format (json|text)")
	cmd.PersistentFlags().BoolVar(&opts.Debug, "debug", false, "debug logging")
	cmd.PersistentFlags().BoolVar(&opts.Trace, "trace", false, "trace logging, including lifecycle events")

	// Add subcommands
	cmd.AddCommand(NewCreateCommand(opts))
	cmd.AddCommand(NewFindCommand(opts))
	cmd.AddCommand(NewUpdateCommand(opts))
	cmd.AddCommand(NewRemoveCommand(opts))
	cmd.AddCommand(NewDemoCommand(opts))
	cmd.AddCommand(NewPingCommand(opts))

	return cmd
}
