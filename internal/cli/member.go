package cli

import (
	"context"
	"fmt"
	"strconv"

	"github.com/spf13/cobra"

	"github.com/thebtf/lifecycle/pkg/models"
	"github.com/thebtf/lifecycle/pkg/persistence"
)

// MemberOptions holds the attribute flags of create and update.
type MemberOptions struct {
	*RootOptions
	Name string
	Age  int
}

func (o *MemberOptions) bind(cmd *cobra.Command) {
	cmd.Flags().StringVar(&o.Name, "name", "", "member name")
	cmd.Flags().IntVar(&o.Age, "age", 0, "member age")
}

// NewCreateCommand creates the create command.
func NewCreateCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &MemberOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "create",
		Short: "Insert a new member",
		Long: `Insert a new member in its own transaction.

Example:
  memberctl create --name NAME --age 23`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return createMember(cmd, opts)
		},
	}
	opts.bind(cmd)
	return cmd
}

func createMember(cmd *cobra.Command, opts *MemberOptions) error {
	out := opts.formatter(cmd)
	ctx := cmd.Context()

	member := models.NewMember(opts.Name, opts.Age)
	if !cmd.Flags().Changed("age") {
		member.ClearAge()
	}

	err := withSession(ctx, opts.RootOptions, func(s *persistence.Session) error {
		return s.Transaction(ctx, func(ctx context.Context) error {
			return s.Insert(ctx, member)
		})
	})
	if err != nil {
		return out.Fail("create member", err)
	}
	return out.Success(member)
}

// NewFindCommand creates the find command.
func NewFindCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:           "find <id>",
		Short:         "Show a member",
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			out := rootOpts.formatter(cmd)
			id, err := parseID(args[0])
			if err != nil {
				return out.Fail("find member", err)
			}

			ctx := cmd.Context()
			var member *models.Member
			err = withSession(ctx, rootOpts, func(s *persistence.Session) error {
				member, err = findMember(ctx, s, id)
				return err
			})
			if err != nil {
				return out.Fail("find member", err)
			}
			return out.Success(member)
		},
	}
}

// NewUpdateCommand creates the update command.
func NewUpdateCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &MemberOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "update <id>",
		Short: "Change a member's name or age",
		Long: `Change a member's name or age. Only the columns that changed are written.

Example:
  memberctl update 1 --age 100`,
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			out := opts.formatter(cmd)
			id, err := parseID(args[0])
			if err != nil {
				return out.Fail("update member", err)
			}

			ctx := cmd.Context()
			var member *models.Member
			err = withSession(ctx, opts.RootOptions, func(s *persistence.Session) error {
				return s.Transaction(ctx, func(ctx context.Context) error {
					member, err = findMember(ctx, s, id)
					if err != nil {
						return err
					}
					if cmd.Flags().Changed("name") {
						member.SetName(opts.Name)
					}
					if cmd.Flags().Changed("age") {
						member.SetAge(opts.Age)
					}
					return nil
				})
			})
			if err != nil {
				return out.Fail("update member", err)
			}
			return out.Success(member)
		},
	}
	opts.bind(cmd)
	return cmd
}

// NewRemoveCommand creates the remove command.
func NewRemoveCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:           "remove <id>",
		Short:         "Delete a member",
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			out := rootOpts.formatter(cmd)
			id, err := parseID(args[0])
			if err != nil {
				return out.Fail("remove member", err)
			}

			ctx := cmd.Context()
			var member *models.Member
			err = withSession(ctx, rootOpts, func(s *persistence.Session) error {
				return s.Transaction(ctx, func(ctx context.Context) error {
					member, err = findMember(ctx, s, id)
					if err != nil {
						return err
					}
					return s.Remove(ctx, member)
				})
			})
			if err != nil {
				return out.Fail("remove member", err)
			}
			return out.Success(member)
		},
	}
}

// withSession runs fn with a session of a freshly opened factory.
func withSession(ctx context.Context, opts *RootOptions, fn func(*persistence.Session) error) (err error) {
	factory, err := opts.openFactory()
	if err != nil {
		return err
	}
	defer func() {
		if cerr := factory.Close(); err == nil {
			err = cerr
		}
	}()

	session, err := factory.NewSession()
	if err != nil {
		return err
	}
	defer func() {
		if cerr := session.Close(ctx); err == nil {
			err = cerr
		}
	}()

	return fn(session)
}

// findMember is Find with a missing row reported as NotFound.
func findMember(ctx context.Context, s *persistence.Session, id int64) (*models.Member, error) {
	member, err := persistence.Find[models.Member](ctx, s, id)
	if err != nil {
		return nil, err
	}
	if member == nil {
		return nil, persistence.NotFound(models.MemberTable, id)
	}
	return member, nil
}

func parseID(arg string) (int64, error) {
	id, err := strconv.ParseInt(arg, 10, 64)
	if err != nil || id <= 0 {
		return 0, fmt.Errorf("invalid id %q", arg)
	}
	return id, nil
}
