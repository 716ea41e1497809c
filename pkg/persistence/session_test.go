package persistence_test

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/metric/noop"
	"golang.org/x/sync/errgroup"

	"github.com/thebtf/lifecycle/internal/db/memory"
	"github.com/thebtf/lifecycle/pkg/models"
	"github.com/thebtf/lifecycle/pkg/persistence"
)

func TestSession_InsertAssignsStorageFields(t *testing.T) {
	f, b := newFactory(t)
	s := newSession(t, f)

	m := models.NewMember("NAME", 23)
	assert.Equal(t, persistence.StateNew, m.State())
	persist(t, s, m)

	assert.Equal(t, int64(1), m.ID())
	assert.Equal(t, epoch.Add(time.Second), m.CreatedAt())
	assert.Nil(t, m.UpdatedAt())
	assert.Equal(t, persistence.StateManaged, m.State())
	assert.True(t, s.Contains(m))
	assert.Equal(t, 1, b.Len(models.MemberTable))

	stored := load(t, f, m.ID())
	require.NotNil(t, stored)
	assert.Equal(t, "NAME", stored.Name())
	assert.Equal(t, 23, stored.Age())
	assert.Equal(t, m.CreatedAt(), stored.CreatedAt())
	assert.Nil(t, stored.UpdatedAt())
}

func TestSession_IdsAreDistinct(t *testing.T) {
	f, _ := newFactory(t)
	s := newSession(t, f)

	a := models.NewMember("A", 1)
	b := models.NewMember("B", 2)
	ctx := context.Background()
	require.NoError(t, s.Transaction(ctx, func(ctx context.Context) error {
		if err := s.Insert(ctx, a); err != nil {
			return err
		}
		return s.Insert(ctx, b)
	}))

	assert.NotEqual(t, a.ID(), b.ID())
	assert.Positive(t, a.ID())
	assert.Positive(t, b.ID())
}

func TestSession_InsertRequiresTransaction(t *testing.T) {
	f, _ := newFactory(t)
	s := newSession(t, f)

	err := s.Insert(context.Background(), models.NewMember("NAME", 23))
	assert.ErrorIs(t, err, persistence.ErrIllegalState)
}

func TestSession_InsertValidation(t *testing.T) {
	tests := []struct {
		name   string
		member func() *models.Member
		field  string
	}{
		{name: "empty name", member: func() *models.Member { return models.NewMember("", 23) }, field: models.ColumnName},
		{name: "blank name", member: func() *models.Member { return models.NewMember("   ", 23) }, field: models.ColumnName},
		{name: "missing age", member: func() *models.Member {
			m := models.NewMember("NAME", 0)
			m.ClearAge()
			return m
		}, field: models.ColumnAge},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f, b := newFactory(t)
			s := newSession(t, f)
			ctx := context.Background()

			require.NoError(t, s.Begin(ctx))
			err := s.Insert(ctx, tt.member())
			require.ErrorIs(t, err, persistence.ErrValidation)

			var pe *persistence.Error
			require.ErrorAs(t, err, &pe)
			assert.Equal(t, tt.field, pe.Field)
			assert.Equal(t, "insert", pe.Op)

			require.NoError(t, s.Commit(ctx))
			assert.Equal(t, 0, b.Len(models.MemberTable))
		})
	}
}

func TestSession_InsertTwiceFails(t *testing.T) {
	f, _ := newFactory(t)
	s := newSession(t, f)
	ctx := context.Background()

	m := models.NewMember("NAME", 23)
	require.NoError(t, s.Begin(ctx))
	require.NoError(t, s.Insert(ctx, m))
	assert.ErrorIs(t, s.Insert(ctx, m), persistence.ErrIllegalState)
	require.NoError(t, s.Commit(ctx))

	require.NoError(t, s.Begin(ctx))
	assert.ErrorIs(t, s.Insert(ctx, m), persistence.ErrIllegalState)
	require.NoError(t, s.Rollback(ctx))
}

func TestSession_BeginTwiceFails(t *testing.T) {
	f, _ := newFactory(t)
	s := newSession(t, f)
	ctx := context.Background()

	require.NoError(t, s.Begin(ctx))
	assert.True(t, s.InTransaction())
	assert.ErrorIs(t, s.Begin(ctx), persistence.ErrIllegalState)

	require.NoError(t, s.Rollback(ctx))
	assert.False(t, s.InTransaction())
	assert.ErrorIs(t, s.Commit(ctx), persistence.ErrIllegalState)
	assert.ErrorIs(t, s.Rollback(ctx), persistence.ErrIllegalState)
}

func TestSession_BeginConnectionFailure(t *testing.T) {
	f, b := newFactory(t)
	s := newSession(t, f)

	b.FailNext(memory.OpBegin, persistence.ConnectionFailure(errors.New("refused")))
	err := s.Begin(context.Background())
	assert.ErrorIs(t, err, persistence.ErrConnection)
	assert.False(t, s.InTransaction())
}

func TestFind_IdentityMap(t *testing.T) {
	f, _ := newFactory(t)
	writer := newSession(t, f)
	m := models.NewMember("NAME", 23)
	persist(t, writer, m)

	ctx := context.Background()
	same, err := persistence.Find[models.Member](ctx, writer, m.ID())
	require.NoError(t, err)
	assert.Same(t, m, same, "the inserting session returns its own instance")

	reader := newSession(t, f)
	first, err := persistence.Find[models.Member](ctx, reader, m.ID())
	require.NoError(t, err)
	second, err := persistence.Find[models.Member](ctx, reader, m.ID())
	require.NoError(t, err)
	assert.Same(t, first, second)
	assert.NotSame(t, m, first)
}

func TestFind_Missing(t *testing.T) {
	f, _ := newFactory(t)
	s := newSession(t, f)
	ctx := context.Background()

	for _, id := range []int64{0, -1, 42} {
		m, err := persistence.Find[models.Member](ctx, s, id)
		require.NoError(t, err)
		assert.Nil(t, m, "id %d", id)
	}
}

func TestFind_ConnectionFailure(t *testing.T) {
	f, b := newFactory(t)
	s := newSession(t, f)

	b.FailNext(memory.OpSelect, persistence.ConnectionFailure(errors.New("reset")))
	_, err := persistence.Find[models.Member](context.Background(), s, 1)
	assert.ErrorIs(t, err, persistence.ErrConnection)
}

func TestCommit_NoChangesIssuesNoUpdate(t *testing.T) {
	f, b := newFactory(t)
	s := newSession(t, f)
	m := models.NewMember("NAME", 23)
	persist(t, s, m)

	ctx := context.Background()
	require.NoError(t, s.Transaction(ctx, func(ctx context.Context) error {
		m.SetName("NAME")
		m.SetAge(23)
		return nil
	}))

	assert.Equal(t, 0, b.Stats().Updates)
	assert.Nil(t, m.UpdatedAt())
}

func TestCommit_OneUpdatePerDirtyRecord(t *testing.T) {
	f, b := newFactory(t)
	s := newSession(t, f)
	m := models.NewMember("NAME", 23)
	persist(t, s, m)
	createdAt := m.CreatedAt()

	ctx := context.Background()
	require.NoError(t, s.Transaction(ctx, func(ctx context.Context) error {
		m.SetName("OTHER")
		m.SetAge(40)
		m.SetAge(41)
		return nil
	}))

	assert.Equal(t, 1, b.Stats().Updates)
	require.NotNil(t, m.UpdatedAt())
	assert.False(t, m.UpdatedAt().Before(createdAt))
	assert.Equal(t, createdAt, m.CreatedAt())

	stored := load(t, f, m.ID())
	assert.Equal(t, "OTHER", stored.Name())
	assert.Equal(t, 41, stored.Age())
	require.NotNil(t, stored.UpdatedAt())
	assert.Equal(t, *m.UpdatedAt(), *stored.UpdatedAt())
}

func TestCommit_UpdateOnlyChangedColumns(t *testing.T) {
	f, _ := newFactory(t)
	var changed []string
	f.AddListener(func(_ context.Context, ev persistence.Event) error {
		changed = ev.Changed.Names()
		return nil
	}, persistence.AfterUpdate)

	s := newSession(t, f)
	m := models.NewMember("NAME", 23)
	persist(t, s, m)

	require.NoError(t, s.Transaction(context.Background(), func(ctx context.Context) error {
		m.SetAge(100)
		return nil
	}))
	assert.Equal(t, []string{models.ColumnAge}, changed)
}

func TestCommit_FailureRestoresState(t *testing.T) {
	f, b := newFactory(t)
	s := newSession(t, f)
	ctx := context.Background()

	m := models.NewMember("NAME", 23)
	require.NoError(t, s.Begin(ctx))
	require.NoError(t, s.Insert(ctx, m))

	b.FailNext(memory.OpCommit, persistence.ConnectionFailure(errors.New("lost")))
	err := s.Commit(ctx)
	require.ErrorIs(t, err, persistence.ErrConnection)

	var pe *persistence.Error
	require.ErrorAs(t, err, &pe)
	assert.Equal(t, "commit", pe.Op)

	assert.Zero(t, m.ID())
	assert.True(t, m.CreatedAt().IsZero())
	assert.Equal(t, persistence.StateNew, m.State())
	assert.False(t, s.InTransaction())
	assert.Equal(t, 0, b.Len(models.MemberTable))

	// The queued insert survives and is retried by the next transaction.
	require.NoError(t, s.Begin(ctx))
	require.NoError(t, s.Commit(ctx))
	assert.Positive(t, m.ID())
	assert.Equal(t, persistence.StateManaged, m.State())
	assert.Equal(t, 1, b.Len(models.MemberTable))
}

func TestCommit_FailureKeepsUpdatedAt(t *testing.T) {
	f, b := newFactory(t)
	s := newSession(t, f)
	m := models.NewMember("NAME", 23)
	persist(t, s, m)

	ctx := context.Background()
	require.NoError(t, s.Begin(ctx))
	m.SetAge(50)
	b.FailNext(memory.OpCommit, errors.New("disk full"))
	require.Error(t, s.Commit(ctx))
	assert.Nil(t, m.UpdatedAt())

	// Still dirty against the old snapshot.
	require.NoError(t, s.Begin(ctx))
	require.NoError(t, s.Commit(ctx))
	require.NotNil(t, m.UpdatedAt())
	assert.Equal(t, 50, load(t, f, m.ID()).Age())
}

func TestCommit_DirtyRecordIsValidated(t *testing.T) {
	f, b := newFactory(t)
	s := newSession(t, f)
	m := models.NewMember("NAME", 23)
	persist(t, s, m)

	ctx := context.Background()
	err := s.Transaction(ctx, func(ctx context.Context) error {
		m.SetName("")
		return nil
	})
	require.ErrorIs(t, err, persistence.ErrValidation)
	assert.Equal(t, 0, b.Stats().Updates)
	assert.Equal(t, "NAME", load(t, f, m.ID()).Name())
}

func TestCommit_ConstraintViolation(t *testing.T) {
	f, b := newFactory(t)
	s := newSession(t, f)
	m := models.NewMember("NAME", 23)
	persist(t, s, m)

	ctx := context.Background()
	fresh := models.NewMember("NEW", 1)
	require.NoError(t, s.Begin(ctx))
	require.NoError(t, s.Insert(ctx, fresh))
	m.SetAge(99)

	b.FailNext(memory.OpUpdate, persistence.ConstraintViolation(models.MemberTable, errors.New("check failed")))
	err := s.Commit(ctx)
	require.ErrorIs(t, err, persistence.ErrConstraintViolation)

	// The insert that ran before the failing update is undone too.
	assert.Zero(t, fresh.ID())
	assert.Equal(t, persistence.StateNew, fresh.State())
	assert.Equal(t, 1, b.Len(models.MemberTable))
	assert.Equal(t, 23, load(t, f, m.ID()).Age())
}

func TestCommit_ConcurrentDeleteFails(t *testing.T) {
	f, b := newFactory(t)
	s := newSession(t, f)
	m := models.NewMember("NAME", 23)
	persist(t, s, m)

	other := newSession(t, f)
	ctx := context.Background()
	require.NoError(t, other.Transaction(ctx, func(ctx context.Context) error {
		o, err := persistence.Find[models.Member](ctx, other, m.ID())
		if err != nil {
			return err
		}
		return other.Remove(ctx, o)
	}))

	err := s.Transaction(ctx, func(ctx context.Context) error {
		m.SetAge(24)
		return nil
	})
	require.ErrorIs(t, err, persistence.ErrNotFound)
	assert.Nil(t, m.UpdatedAt())
	assert.Equal(t, 0, b.Len(models.MemberTable))
}

func TestRollback_DiscardsQueuedWork(t *testing.T) {
	f, b := newFactory(t)
	s := newSession(t, f)
	kept := models.NewMember("KEPT", 30)
	persist(t, s, kept)

	ctx := context.Background()
	m := models.NewMember("NAME", 23)
	require.NoError(t, s.Begin(ctx))
	require.NoError(t, s.Insert(ctx, m))
	require.NoError(t, s.Remove(ctx, kept))
	kept.SetAge(31)
	require.NoError(t, s.Rollback(ctx))

	assert.Zero(t, m.ID())
	assert.Equal(t, persistence.StateNew, m.State())
	assert.Equal(t, persistence.StateManaged, kept.State())
	assert.Equal(t, 31, kept.Age(), "field values are not reverted")
	assert.Equal(t, 1, b.Len(models.MemberTable))

	// A later commit sees the in-memory change as dirty.
	require.NoError(t, s.Transaction(ctx, func(context.Context) error { return nil }))
	assert.Equal(t, 31, load(t, f, kept.ID()).Age())
}

func TestRemove(t *testing.T) {
	f, b := newFactory(t)
	s := newSession(t, f)
	m := models.NewMember("NAME", 23)
	persist(t, s, m)
	id := m.ID()

	ctx := context.Background()
	require.NoError(t, s.Begin(ctx))
	require.NoError(t, s.Remove(ctx, m))
	assert.Equal(t, persistence.StateRemoved, m.State())
	assert.False(t, s.Contains(m))
	assert.ErrorIs(t, s.Remove(ctx, m), persistence.ErrIllegalState)

	found, err := persistence.Find[models.Member](ctx, s, id)
	require.NoError(t, err)
	assert.Nil(t, found, "a removed record is not returned by its session")

	require.NoError(t, s.Commit(ctx))
	assert.Equal(t, persistence.StateDetached, m.State())
	assert.Equal(t, id, m.ID(), "identity is kept after removal")
	assert.Equal(t, 0, b.Len(models.MemberTable))
	assert.Nil(t, load(t, f, id))

	require.NoError(t, s.Begin(ctx))
	assert.ErrorIs(t, s.Remove(ctx, m), persistence.ErrIllegalState)
	assert.ErrorIs(t, s.Insert(ctx, m), persistence.ErrIllegalState)
	require.NoError(t, s.Rollback(ctx))
}

func TestRemove_InvalidStates(t *testing.T) {
	f, _ := newFactory(t)
	s := newSession(t, f)
	ctx := context.Background()

	assert.ErrorIs(t, s.Remove(ctx, models.NewMember("NAME", 1)), persistence.ErrIllegalState, "no transaction")

	require.NoError(t, s.Begin(ctx))
	defer s.Rollback(ctx)
	assert.ErrorIs(t, s.Remove(ctx, models.NewMember("NAME", 1)), persistence.ErrIllegalState, "new record")

	other := newSession(t, f)
	foreign := models.NewMember("OTHER", 2)
	persist(t, other, foreign)
	assert.ErrorIs(t, s.Remove(ctx, foreign), persistence.ErrIllegalState, "record of another session")
}

func TestTransaction_RollsBackOnError(t *testing.T) {
	f, b := newFactory(t)
	s := newSession(t, f)
	boom := errors.New("boom")

	m := models.NewMember("NAME", 23)
	err := s.Transaction(context.Background(), func(ctx context.Context) error {
		if err := s.Insert(ctx, m); err != nil {
			return err
		}
		return boom
	})
	require.ErrorIs(t, err, boom)
	assert.False(t, s.InTransaction())
	assert.Equal(t, persistence.StateNew, m.State())
	assert.Equal(t, 0, b.Len(models.MemberTable))
}

func TestTransaction_RollsBackOnPanic(t *testing.T) {
	f, b := newFactory(t)
	s := newSession(t, f)

	assert.PanicsWithValue(t, "boom", func() {
		_ = s.Transaction(context.Background(), func(ctx context.Context) error {
			if err := s.Insert(ctx, models.NewMember("NAME", 23)); err != nil {
				return err
			}
			panic("boom")
		})
	})
	assert.False(t, s.InTransaction())
	assert.Equal(t, 0, b.Len(models.MemberTable))
}

func TestClose_DetachesAndRollsBack(t *testing.T) {
	f, b := newFactory(t)
	s, err := f.NewSession()
	require.NoError(t, err)

	tracked := models.NewMember("NAME", 23)
	persist(t, s, tracked)

	ctx := context.Background()
	pending := models.NewMember("PENDING", 1)
	require.NoError(t, s.Begin(ctx))
	require.NoError(t, s.Insert(ctx, pending))

	require.NoError(t, s.Close(ctx))
	require.NoError(t, s.Close(ctx), "close is idempotent")

	assert.Equal(t, persistence.StateDetached, tracked.State())
	assert.Equal(t, 1, b.Len(models.MemberTable))
	assert.False(t, s.InTransaction())

	assert.ErrorIs(t, s.Begin(ctx), persistence.ErrIllegalState)
	_, err = persistence.Find[models.Member](ctx, s, tracked.ID())
	assert.ErrorIs(t, err, persistence.ErrIllegalState)
}

func TestFactory_Close(t *testing.T) {
	b := newBackend()
	f, err := persistence.NewFactory(b, persistence.WithMeterProvider(noop.NewMeterProvider()))
	require.NoError(t, err)

	s, err := f.NewSession()
	require.NoError(t, err)
	require.NoError(t, f.Close())
	require.NoError(t, f.Close())

	_, err = f.NewSession()
	assert.ErrorIs(t, err, persistence.ErrIllegalState)
	assert.ErrorIs(t, s.Begin(context.Background()), persistence.ErrConnection)
}

func TestNewFactory_NilBackend(t *testing.T) {
	_, err := persistence.NewFactory(nil)
	assert.Error(t, err)
}

func TestSessions_Concurrent(t *testing.T) {
	f, b := newFactory(t)
	ctx := context.Background()
	const workers = 8

	ids := make([]int64, workers)
	g, ctx := errgroup.WithContext(ctx)
	for i := range workers {
		g.Go(func() error {
			s, err := f.NewSession()
			if err != nil {
				return err
			}
			defer s.Close(ctx)

			m := models.NewMember(fmt.Sprintf("member-%d", i), i+1)
			if err := s.Transaction(ctx, func(ctx context.Context) error {
				return s.Insert(ctx, m)
			}); err != nil {
				return err
			}
			ids[i] = m.ID()
			return nil
		})
	}
	require.NoError(t, g.Wait())

	seen := make(map[int64]bool, workers)
	for _, id := range ids {
		assert.False(t, seen[id], "id %d assigned twice", id)
		seen[id] = true
	}
	assert.Equal(t, workers, b.Len(models.MemberTable))
}

func TestMemberLifecycle(t *testing.T) {
	f, _ := newFactory(t)
	s := newSession(t, f)
	ctx := context.Background()

	member := models.NewMember("NAME", 23)
	persist(t, s, member)
	require.Equal(t, int64(1), member.ID())
	createdAt := member.CreatedAt()

	found := load(t, f, 1)
	require.NotNil(t, found)
	assert.Equal(t, "NAME", found.Name())
	assert.Equal(t, 23, found.Age())
	assert.Equal(t, createdAt, found.CreatedAt())
	assert.Nil(t, found.UpdatedAt())

	require.NoError(t, s.Transaction(ctx, func(ctx context.Context) error {
		m, err := persistence.Find[models.Member](ctx, s, 1)
		if err != nil {
			return err
		}
		m.SetAge(100)
		return nil
	}))
	require.NotNil(t, member.UpdatedAt())
	assert.False(t, member.UpdatedAt().Before(createdAt))
	assert.Equal(t, 100, load(t, f, 1).Age())

	require.NoError(t, s.Transaction(ctx, func(ctx context.Context) error {
		return s.Remove(ctx, member)
	}))
	assert.Nil(t, load(t, f, 1))
}
