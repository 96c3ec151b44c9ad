package expiry_test

import (
	"context"
	"fmt"
	"sync/atomic"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/robertarktes/venue-reservations/internal/adapters/memory"
	"github.com/robertarktes/venue-reservations/internal/booking"
	"github.com/robertarktes/venue-reservations/internal/domain"
	"github.com/robertarktes/venue-reservations/internal/expiry"
	"github.com/robertarktes/venue-reservations/internal/observability"
)

var owner = domain.Actor{ID: "owner-1", Role: domain.RoleOwner}

type env struct {
	engine *booking.Engine
	store  *memory.Store
	clock  *clockwork.FakeClock
	sched  *expiry.Scheduler
}

// newEnv wires the engine to a fake clock for deadline checks while the
// scheduler runs on wall time.
func newEnv(t *testing.T, batch int) *env {
	t.Helper()
	clock := clockwork.NewFakeClockAt(time.Date(2026, 10, 18, 9, 0, 0, 0, time.UTC))
	store := memory.NewStore(memory.WithClock(clock))
	catalog := memory.NewCatalog(domain.Venue{ID: "venue-1", OwnerID: owner.ID, PricePerDay: 1000})
	engine := booking.NewEngine(store, catalog, booking.Options{
		PaymentWindow: 24 * time.Hour,
		Clock:         clock,
		Logger:        observability.NewNopLogger(),
	})
	sched, err := expiry.NewScheduler(engine, observability.NewNopLogger(), expiry.Options{
		SweepInterval: time.Hour,
		SweepBatch:    batch,
	})
	require.NoError(t, err)
	t.Cleanup(func() { _ = sched.Shutdown() })
	return &env{engine: engine, store: store, clock: clock, sched: sched}
}

func (e *env) accepted(t *testing.T, day int) string {
	t.Helper()
	ctx := context.Background()
	customer := domain.Actor{ID: fmt.Sprintf("cust-%d", day), Role: domain.RoleCustomer}
	b, err := e.engine.CreateInquiry(ctx, customer, booking.Inquiry{
		VenueID: "venue-1",
		DatesTimings: []domain.DateTiming{{
			Date:     domain.Date{Year: 2026, Month: time.November, Day: day},
			TimeFrom: 9 * 60,
			TimeTo:   17 * 60,
		}},
	})
	require.NoError(t, err)
	_, err = e.engine.Accept(ctx, owner, b.ID)
	require.NoError(t, err)
	return b.ID
}

func (e *env) status(id string) domain.Status {
	b, err := e.store.GetBooking(context.Background(), id)
	if err != nil {
		return ""
	}
	return b.Status
}

func TestSweep_DrainsInBatches(t *testing.T) {
	e := newEnv(t, 2)
	var ids []string
	for day := 1; day <= 5; day++ {
		ids = append(ids, e.accepted(t, day))
	}

	n, err := e.sched.Sweep(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 0, n)

	e.clock.Advance(24*time.Hour + time.Second)
	n, err = e.sched.Sweep(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 5, n)
	for _, id := range ids {
		assert.Equal(t, domain.StatusExpired, e.status(id))
	}
}

func TestRun_SweepsOnStartup(t *testing.T) {
	e := newEnv(t, 10)
	id := e.accepted(t, 3)
	e.clock.Advance(25 * time.Hour)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- e.sched.Run(ctx) }()

	require.Eventually(t, func() bool { return e.status(id) == domain.StatusExpired }, 2*time.Second, 10*time.Millisecond)
	cancel()
	require.NoError(t, <-done)
}

type countingExpirer struct {
	expired atomic.Int32
	fired   chan string
}

func (c *countingExpirer) Expire(_ context.Context, id string) (*domain.Booking, error) {
	c.expired.Add(1)
	c.fired <- id
	return &domain.Booking{ID: id, Status: domain.StatusExpired}, nil
}

func (c *countingExpirer) ExpireDue(context.Context, int) (int, error) { return 0, nil }

func runTimers(t *testing.T) (*expiry.Scheduler, *countingExpirer) {
	t.Helper()
	expirer := &countingExpirer{fired: make(chan string, 4)}
	sched, err := expiry.NewScheduler(expirer, observability.NewNopLogger(), expiry.Options{SweepInterval: time.Hour})
	require.NoError(t, err)
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- sched.Run(ctx) }()
	t.Cleanup(func() {
		cancel()
		<-done
	})
	return sched, expirer
}

func TestSchedule_FiresAfterDeadline(t *testing.T) {
	sched, expirer := runTimers(t)

	sched.Schedule("b-1", time.Now().Add(-time.Minute))
	select {
	case id := <-expirer.fired:
		assert.Equal(t, "b-1", id)
	case <-time.After(3 * time.Second):
		t.Fatal("timer for a passed deadline did not fire")
	}
}

func TestSchedule_CancelledTimerDoesNotFire(t *testing.T) {
	sched, expirer := runTimers(t)

	sched.Schedule("b-1", time.Now().Add(200*time.Millisecond))
	sched.Cancel("b-1")

	select {
	case id := <-expirer.fired:
		t.Fatalf("cancelled timer fired for %s", id)
	case <-time.After(1500 * time.Millisecond):
	}
	assert.Zero(t, expirer.expired.Load())
}
