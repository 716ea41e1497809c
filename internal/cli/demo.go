package cli

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/thebtf/lifecycle/pkg/models"
	"github.com/thebtf/lifecycle/pkg/persistence"
)

// DemoStep is one step of the demo run.
type DemoStep struct {
	Member *models.Member `json:"member"`
	Step   string         `json:"step"`
	State  string         `json:"state"`
}

func (d DemoStep) String() string {
	return fmt.Sprintf("%-7s %-9s %s", d.Step, d.State, d.Member)
}

// NewDemoCommand creates the demo command.
func NewDemoCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "demo",
		Short: "Run create, find, update and remove on one member",
		Long: `Run the full member lifecycle against the configured storage:
create a member, read it from a second session, change its age and remove it.
Each step runs in its own transaction.

Example:
  memberctl demo --driver memory --trace`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			out := rootOpts.formatter(cmd)
			factory, err := rootOpts.openFactory()
			if err != nil {
				return out.Fail("demo", err)
			}
			defer factory.Close()

			steps, err := runDemo(cmd.Context(), factory)
			if err != nil {
				return out.Fail("demo", err)
			}
			if out.Format == "json" {
				return out.Success(steps)
			}
			for _, step := range steps {
				if err := out.Success(step); err != nil {
					return err
				}
			}
			return nil
		},
	}
}

// runDemo drives one member through its lifecycle and records a snapshot
// of its state after every step.
func runDemo(ctx context.Context, factory *persistence.Factory) ([]DemoStep, error) {
	var steps []DemoStep
	record := func(step string, m *models.Member) {
		snapshot := *m
		steps = append(steps, DemoStep{Step: step, State: m.State().String(), Member: &snapshot})
	}

	session, err := factory.NewSession()
	if err != nil {
		return nil, err
	}
	defer session.Close(ctx)

	member := models.NewMember("NAME", 23)
	if err := session.Transaction(ctx, func(ctx context.Context) error {
		return session.Insert(ctx, member)
	}); err != nil {
		return nil, fmt.Errorf("create: %w", err)
	}
	record("create", member)

	reader, err := factory.NewSession()
	if err != nil {
		return nil, err
	}
	found, err := findMember(ctx, reader, member.ID())
	if err != nil {
		_ = reader.Close(ctx)
		return nil, fmt.Errorf("find: %w", err)
	}
	record("find", found)
	if err := reader.Close(ctx); err != nil {
		return nil, err
	}

	if err := session.Transaction(ctx, func(ctx context.Context) error {
		m, err := findMember(ctx, session, member.ID())
		if err != nil {
			return err
		}
		m.SetAge(100)
		return nil
	}); err != nil {
		return nil, fmt.Errorf("update: %w", err)
	}
	record("update", member)

	if err := session.Transaction(ctx, func(ctx context.Context) error {
		return session.Remove(ctx, member)
	}); err != nil {
		return nil, fmt.Errorf("remove: %w", err)
	}
	record("remove", member)

	return steps, nil
}
