package cli

import (
	"context"
	"time"

	"github.com/spf13/cobra"

	"github.com/thebtf/lifecycle/internal/backend"
	"github.com/thebtf/lifecycle/pkg/persistence"
)

// pinger is implemented by backends that can check their connection
// without opening a transaction.
type pinger interface {
	Ping(ctx context.Context) error
}

// PingResult is the payload of a successful ping.
type PingResult struct {
	Driver  string `json:"driver"`
	Elapsed string `json:"elapsed"`
}

func (r PingResult) String() string {
	return r.Driver + " reachable in " + r.Elapsed
}

// NewPingCommand creates the ping command.
func NewPingCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "ping",
		Short: "Check that storage is reachable",
		Long: `Open the configured backend, run its migrations and check the connection.

Exits with code 2 when storage cannot be reached.`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return ping(cmd, rootOpts)
		},
	}
}

func ping(cmd *cobra.Command, opts *RootOptions) (err error) {
	out := opts.formatter(cmd)
	ctx := cmd.Context()
	start := time.Now()

	cfg, err := opts.loadConfig()
	if err != nil {
		return out.Fail("ping", err)
	}
	b, err := backend.Open(cfg)
	if err != nil {
		return out.Fail("ping", err)
	}
	defer func() {
		if cerr := b.Close(); err == nil && cerr != nil {
			err = out.Fail("ping", cerr)
		}
	}()

	if err := checkBackend(ctx, b); err != nil {
		return out.Fail("ping", err)
	}
	return out.Success(PingResult{
		Driver:  cfg.Driver,
		Elapsed: time.Since(start).Round(time.Microsecond).String(),
	})
}

// checkBackend pings b, falling back to an empty transaction for backends
// without a Ping method.
func checkBackend(ctx context.Context, b persistence.Backend) error {
	if p, ok := b.(pinger); ok {
		return p.Ping(ctx)
	}
	tx, err := b.Begin(ctx)
	if err != nil {
		return err
	}
	return tx.Rollback()
}
