package persistence_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/thebtf/lifecycle/internal/db/memory"
	"github.com/thebtf/lifecycle/pkg/models"
	"github.com/thebtf/lifecycle/pkg/persistence"
)

var epoch = time.Date(2025, 3, 1, 9, 0, 0, 0, time.UTC)

// newBackend returns a memory backend with the users table and a clock
// that advances one second per call.
func newBackend() *memory.Backend {
	current := epoch
	return memory.New(
		memory.WithTable(memory.Table{
			Name:    models.MemberTable,
			NotNull: []string{models.ColumnName, models.ColumnAge},
		}),
		memory.WithClock(func() time.Time {
			current = current.Add(time.Second)
			return current
		}),
	)
}

func newFactory(t *testing.T, opts ...persistence.Option) (*persistence.Factory, *memory.Backend) {
	t.Helper()
	b := newBackend()
	f, err := persistence.NewFactory(b, opts...)
	require.NoError(t, err)
	t.Cleanup(func() { _ = f.Close() })
	return f, b
}

func newSession(t *testing.T, f *persistence.Factory) *persistence.Session {
	t.Helper()
	s, err := f.NewSession()
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close(context.Background()) })
	return s
}

// persist inserts m in its own transaction.
func persist(t *testing.T, s *persistence.Session, m *models.Member) {
	t.Helper()
	ctx := context.Background()
	require.NoError(t, s.Transaction(ctx, func(ctx context.Context) error {
		return s.Insert(ctx, m)
	}))
}

// load reads id through a fresh session.
func load(t *testing.T, f *persistence.Factory, id int64) *models.Member {
	t.Helper()
	ctx := context.Background()
	s, err := f.NewSession()
	require.NoError(t, err)
	defer s.Close(ctx)

	m, err := persistence.Find[models.Member](ctx, s, id)
	require.NoError(t, err)
	return m
}
