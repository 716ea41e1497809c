package persistence_test

import (
	"bytes"
	"context"
	"errors"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/thebtf/lifecycle/pkg/models"
	"github.com/thebtf/lifecycle/pkg/persistence"
)

type recorder struct {
	events []persistence.Event
}

func (r *recorder) listen(_ context.Context, ev persistence.Event) error {
	r.events = append(r.events, ev)
	return nil
}

func (r *recorder) kinds() []persistence.EventKind {
	out := make([]persistence.EventKind, 0, len(r.events))
	for _, ev := range r.events {
		out = append(out, ev.Kind)
	}
	return out
}

func TestEvents_Order(t *testing.T) {
	rec := &recorder{}
	f, _ := newFactory(t, persistence.WithListener(rec.listen))
	s := newSession(t, f)
	ctx := context.Background()

	m := models.NewMember("NAME", 23)
	persist(t, s, m)
	assert.Equal(t, []persistence.EventKind{persistence.BeforeInsert, persistence.AfterInsert}, rec.kinds())
	assert.Zero(t, rec.events[0].ID, "no identity before the insert ran")
	assert.Equal(t, m.ID(), rec.events[1].ID)
	assert.Equal(t, s.ID(), rec.events[1].SessionID)

	rec.events = nil
	require.NoError(t, s.Transaction(ctx, func(ctx context.Context) error {
		m.SetAge(30)
		return nil
	}))
	assert.Equal(t, []persistence.EventKind{persistence.BeforeUpdate, persistence.AfterUpdate}, rec.kinds())
	assert.Equal(t, persistence.Columns{models.ColumnAge: int64(30)}, rec.events[1].Changed)

	rec.events = nil
	reader := newSession(t, f)
	_, err := persistence.Find[models.Member](ctx, reader, m.ID())
	require.NoError(t, err)
	_, err = persistence.Find[models.Member](ctx, reader, m.ID())
	require.NoError(t, err)
	assert.Equal(t, []persistence.EventKind{persistence.Loaded}, rec.kinds(), "loaded fires once per tracked record")

	rec.events = nil
	require.NoError(t, s.Transaction(ctx, func(ctx context.Context) error {
		return s.Remove(ctx, m)
	}))
	assert.Equal(t, []persistence.EventKind{persistence.BeforeRemove, persistence.AfterRemove}, rec.kinds())
}

func TestEvents_KindFilter(t *testing.T) {
	rec := &recorder{}
	f, _ := newFactory(t)
	f.AddListener(rec.listen, persistence.AfterInsert, persistence.AfterRemove)
	s := newSession(t, f)

	m := models.NewMember("NAME", 23)
	persist(t, s, m)
	require.NoError(t, s.Transaction(context.Background(), func(ctx context.Context) error {
		return s.Remove(ctx, m)
	}))
	assert.Equal(t, []persistence.EventKind{persistence.AfterInsert, persistence.AfterRemove}, rec.kinds())
}

func TestEvents_BeforeInsertErrorRejects(t *testing.T) {
	veto := errors.New("veto")
	f, b := newFactory(t, persistence.WithListener(func(context.Context, persistence.Event) error {
		return veto
	}, persistence.BeforeInsert))
	s := newSession(t, f)
	ctx := context.Background()

	m := models.NewMember("NAME", 23)
	require.NoError(t, s.Begin(ctx))
	require.ErrorIs(t, s.Insert(ctx, m), veto)
	require.NoError(t, s.Commit(ctx))

	assert.Equal(t, persistence.StateNew, m.State())
	assert.Equal(t, 0, b.Len(models.MemberTable))
}

func TestEvents_AfterUpdateErrorAbortsCommit(t *testing.T) {
	veto := errors.New("veto")
	f, _ := newFactory(t, persistence.WithListener(func(context.Context, persistence.Event) error {
		return veto
	}, persistence.AfterUpdate))
	s := newSession(t, f)
	m := models.NewMember("NAME", 23)
	persist(t, s, m)

	err := s.Transaction(context.Background(), func(ctx context.Context) error {
		m.SetAge(99)
		return nil
	})
	require.ErrorIs(t, err, veto)
	assert.Nil(t, m.UpdatedAt())
	assert.Equal(t, 23, load(t, f, m.ID()).Age())
}

func TestEvents_BeforeUpdateMayModifyRecord(t *testing.T) {
	f, _ := newFactory(t, persistence.WithListener(func(_ context.Context, ev persistence.Event) error {
		ev.Entity.(*models.Member).SetName("STAMPED")
		return nil
	}, persistence.BeforeUpdate))
	s := newSession(t, f)
	m := models.NewMember("NAME", 23)
	persist(t, s, m)

	require.NoError(t, s.Transaction(context.Background(), func(ctx context.Context) error {
		m.SetAge(24)
		return nil
	}))

	stored := load(t, f, m.ID())
	assert.Equal(t, "STAMPED", stored.Name())
	assert.Equal(t, 24, stored.Age())
}

func TestLogListener(t *testing.T) {
	var buf bytes.Buffer
	logger := zerolog.New(&buf).Level(zerolog.TraceLevel)

	f, _ := newFactory(t, persistence.WithListener(persistence.LogListener(logger)))
	s := newSession(t, f)
	persist(t, s, models.NewMember("NAME", 23))

	assert.Contains(t, buf.String(), `"event":"before_insert"`)
	assert.Contains(t, buf.String(), `"event":"after_insert"`)
	assert.Contains(t, buf.String(), `"table":"users"`)
}

func TestEventKind_String(t *testing.T) {
	assert.Equal(t, "loaded", persistence.Loaded.String())
	assert.Equal(t, "after_remove", persistence.AfterRemove.String())
	assert.Equal(t, "unknown", persistence.EventKind(99).String())
}
