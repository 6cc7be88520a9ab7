package audit

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"
)

func TestActorRef(t *testing.T) {
	h := NewHasher("k1")
	ref := h.ActorRef("  Foo@Bar.COM ")
	assert.Len(t, ref, 12)
	assert.Equal(t, ref, h.ActorRef("foo@bar.com"), "normalized before hashing")
	assert.NotEqual(t, ref, NewHasher("k2").ActorRef("foo@bar.com"), "keyed")
	assert.NotContains(t, ref, "foo")
	assert.Empty(t, h.ActorRef(""))
}

type panicSink struct{}

func (panicSink) Emit(context.Context, Event) error { panic("boom") }

type errSink struct{ calls int }

func (s *errSink) Emit(context.Context, Event) error {
	s.calls++
	return errors.New("db down")
}

func TestSafe_AbsorbsErrorsAndPanics(t *testing.T) {
	ctx := context.Background()
	assert.NoError(t, Safe(panicSink{}, time.Second).Emit(ctx, Event{Action: "auth.signin"}))

	es := &errSink{}
	assert.NoError(t, Safe(es, time.Second).Emit(ctx, Event{Action: "auth.signin"}))
	assert.Equal(t, 1, es.calls)

	assert.NoError(t, Safe(nil, 0).Emit(ctx, Event{}))
}

func TestLogSink(t *testing.T) {
	core, logs := observer.New(zap.InfoLevel)
	s := LogSink{L: zap.New(core)}
	require.NoError(t, s.Emit(context.Background(), Event{Action: "auth.signin", Outcome: OutcomeFailure, ActorRef: "abc123abc123", Reason: "credentials"}))

	require.Equal(t, 1, logs.Len())
	fields := logs.All()[0].ContextMap()
	assert.Equal(t, "abc123abc123", fields["actor_ref"])
	assert.Equal(t, "failure", fields["outcome"])
}

type recordSink struct{ got []Event }

func (r *recordSink) Emit(_ context.Context, ev Event) error {
	r.got = append(r.got, ev)
	return nil
}

func TestMulti(t *testing.T) {
	a, b := &recordSink{}, &recordSink{}
	err := Multi{a, &errSink{}, b}.Emit(context.Background(), Event{Action: "auth.demo"})
	assert.Error(t, err)
	assert.Len(t, a.got, 1)
	assert.Len(t, b.got, 1)
}
