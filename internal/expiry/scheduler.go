package expiry

import (
	"context"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/go-co-op/gocron/v2"
	"github.com/jonboulle/clockwork"

	"github.com/robertarktes/venue-reservations/internal/domain"
	"github.com/robertarktes/venue-reservations/internal/observability"
)

// grace keeps a timer from firing on the deadline instant itself, which is
// still inside the payment window.
const grace = time.Second

// Expirer is the part of the booking engine the scheduler drives.
type Expirer interface {
	Expire(ctx context.Context, bookingID string) (*domain.Booking, error)
	ExpireDue(ctx context.Context, limit int) (int, error)
}

type Options struct {
	SweepInterval time.Duration
	SweepBatch    int
	Clock         clockwork.Clock
}

// Scheduler expires unpaid bookings. Per-booking one-time jobs give a prompt
// wakeup at the deadline; the recurring sweep over persisted deadlines is
// what guarantees expiry, including across restarts.
type Scheduler struct {
	cron     gocron.Scheduler
	expirer  Expirer
	logger   observability.Logger
	interval time.Duration
	batch    int
	clock    clockwork.Clock

	ctx    context.Context
	cancel context.CancelFunc
}

func NewScheduler(expirer Expirer, logger observability.Logger, opts Options) (*Scheduler, error) {
	if opts.Clock == nil {
		opts.Clock = clockwork.NewRealClock()
	}
	if opts.SweepInterval <= 0 {
		opts.SweepInterval = time.Minute
	}
	if opts.SweepBatch <= 0 {
		opts.SweepBatch = 100
	}
	cron, err := gocron.NewScheduler(gocron.WithClock(opts.Clock))
	if err != nil {
		return nil, errors.Wrap(err, "create scheduler")
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Scheduler{
		cron:     cron,
		expirer:  expirer,
		logger:   logger.WithField("component", "expiry"),
		interval: opts.SweepInterval,
		batch:    opts.SweepBatch,
		clock:    opts.Clock,
		ctx:      ctx,
		cancel:   cancel,
	}, nil
}

func timerTag(bookingID string) string { return "booking:" + bookingID }

// Schedule replaces any pending timer for the booking.
func (s *Scheduler) Schedule(bookingID string, deadline time.Time) {
	tag := timerTag(bookingID)
	s.cron.RemoveByTags(tag)

	at := gocron.OneTimeJobStartImmediately()
	if fire := deadline.Add(grace); fire.After(s.clock.Now()) {
		at = gocron.OneTimeJobStartDateTime(fire)
	}
	_, err := s.cron.NewJob(
		gocron.OneTimeJob(at),
		gocron.NewTask(s.fire, bookingID),
		gocron.WithName("expire "+bookingID),
		gocron.WithTags(tag),
	)
	if err != nil {
		s.logger.WithField("booking_id", bookingID).WithError(err).Warn("schedule expiry timer, sweep will cover it")
	}
}

func (s *Scheduler) Cancel(bookingID string) {
	s.cron.RemoveByTags(timerTag(bookingID))
}

func (s *Scheduler) fire(bookingID string) {
	log := s.logger.WithField("booking_id", bookingID)
	if _, err := s.expirer.Expire(s.ctx, bookingID); err != nil {
		if errors.IsAny(err, domain.ErrInvalidTransition, domain.ErrStaleState, domain.ErrNotFound) {
			log.WithError(err).Debug("timer fired for booking that moved on")
			return
		}
		log.WithError(err).Error("expire on timer")
		return
	}
	log.Info("booking expired on timer")
}

// Sweep expires every overdue booking, one batch at a time.
func (s *Scheduler) Sweep(ctx context.Context) (int, error) {
	total := 0
	for {
		n, err := s.expirer.ExpireDue(ctx, s.batch)
		total += n
		if err != nil {
			return total, err
		}
		if n < s.batch {
			break
		}
	}
	if total > 0 {
		s.logger.WithField("expired", total).Info("sweep expired bookings")
	}
	return total, nil
}

func (s *Scheduler) sweep() {
	if _, err := s.Sweep(s.ctx); err != nil && !errors.Is(err, context.Canceled) {
		s.logger.WithError(err).Error("deadline sweep")
	}
}

// Run starts the sweep, which runs once immediately and then every
// interval, and blocks until ctx is done.
func (s *Scheduler) Run(ctx context.Context) error {
	_, err := s.cron.NewJob(
		gocron.DurationJob(s.interval),
		gocron.NewTask(s.sweep),
		gocron.WithName("deadline sweep"),
		gocron.WithSingletonMode(gocron.LimitModeReschedule),
		gocron.WithStartAt(gocron.WithStartImmediately()),
	)
	if err != nil {
		return errors.Wrap(err, "register sweep")
	}
	s.cron.Start()
	s.logger.WithField("interval", s.interval.String()).Info("expiry scheduler started")

	<-ctx.Done()
	return s.Shutdown()
}

func (s *Scheduler) Shutdown() error {
	s.cancel()
	if err := s.cron.Shutdown(); err != nil {
		return errors.Wrap(err, "shutdown scheduler")
	}
	return nil
}
