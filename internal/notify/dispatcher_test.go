package notify

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/robertarktes/venue-reservations/internal/domain"
	"github.com/robertarktes/venue-reservations/internal/observability"
)

type fakeSink struct {
	name    string
	relayed bool
	failFor int

	mu    sync.Mutex
	calls int
	got   []domain.Notification
}

func (s *fakeSink) Name() string  { return s.name }
func (s *fakeSink) Relayed() bool { return s.relayed }

func (s *fakeSink) Send(_ context.Context, n domain.Notification) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls++
	if s.failFor < 0 || s.calls <= s.failFor {
		return errors.New("sink unavailable")
	}
	s.got = append(s.got, n)
	return nil
}

func (s *fakeSink) delivered() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.got)
}

type fakeSpool struct {
	mu  sync.Mutex
	got []domain.Notification
}

func (s *fakeSpool) Spool(_ context.Context, n domain.Notification) error {
	s.mu.Lock()
	s.got = append(s.got, n)
	s.mu.Unlock()
	return nil
}

func note(id string) domain.Notification {
	return domain.Notification{ID: id, Type: domain.NotifyBookingAccepted, BookingID: "b-1", RecipientID: "cust-1", RecipientRole: domain.RoleCustomer}
}

var fast = Options{Backoff: time.Millisecond, Timeout: time.Second}

func closeDispatcher(t *testing.T, d *Dispatcher) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(t, d.Close(ctx))
}

func TestDispatcher_FansOut(t *testing.T) {
	rabbit := &fakeSink{name: "rabbit", relayed: true}
	audit := &fakeSink{name: "audit"}
	d := NewDispatcher(observability.NewNopLogger(), nil, fast, rabbit, audit)

	for _, id := range []string{"n1", "n2", "n3"} {
		d.Dispatch(context.Background(), note(id))
	}
	closeDispatcher(t, d)

	assert.Equal(t, 3, rabbit.delivered())
	assert.Equal(t, 3, audit.delivered())
}

func TestDispatcher_RetriesTransientFailures(t *testing.T) {
	sink := &fakeSink{name: "rabbit", relayed: true, failFor: 2}
	spool := &fakeSpool{}
	d := NewDispatcher(observability.NewNopLogger(), spool, fast, sink)

	d.Dispatch(context.Background(), note("n1"))
	closeDispatcher(t, d)

	assert.Equal(t, 1, sink.delivered())
	assert.Equal(t, 3, sink.calls)
	assert.Empty(t, spool.got)
}

func TestDispatcher_SpoolsRelayedFailures(t *testing.T) {
	rabbit := &fakeSink{name: "rabbit", relayed: true, failFor: -1}
	spool := &fakeSpool{}
	d := NewDispatcher(observability.NewNopLogger(), spool, fast, rabbit)

	d.Dispatch(context.Background(), note("n1"))
	closeDispatcher(t, d)

	assert.Equal(t, 3, rabbit.calls)
	require.Len(t, spool.got, 1)
	assert.Equal(t, "n1", spool.got[0].ID)
}

func TestDispatcher_AuditFailureIsNotSpooled(t *testing.T) {
	rabbit := &fakeSink{name: "rabbit", relayed: true}
	audit := &fakeSink{name: "audit", failFor: -1}
	spool := &fakeSpool{}
	d := NewDispatcher(observability.NewNopLogger(), spool, fast, rabbit, audit)

	d.Dispatch(context.Background(), note("n1"))
	closeDispatcher(t, d)

	assert.Equal(t, 1, rabbit.delivered())
	assert.Empty(t, spool.got)
}

func TestDispatcher_DispatchAfterClose(t *testing.T) {
	sink := &fakeSink{name: "rabbit"}
	d := NewDispatcher(observability.NewNopLogger(), nil, fast, sink)
	closeDispatcher(t, d)

	assert.NotPanics(t, func() { d.Dispatch(context.Background(), note("late")) })
	assert.Zero(t, sink.delivered())
	require.NoError(t, d.Close(context.Background()))
}
