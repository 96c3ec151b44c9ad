package notify

import (
	"context"
	"sync"
	"time"

	"github.com/cockroachdb/errors"

	"github.com/robertarktes/venue-reservations/internal/domain"
	"github.com/robertarktes/venue-reservations/internal/observability"
)

// Sink delivers a notification to one downstream channel.
type Sink interface {
	Name() string
	Send(ctx context.Context, n domain.Notification) error
}

// Relayed is implemented by sinks whose failed deliveries the outbox relay
// can replay.
type Relayed interface {
	Relayed() bool
}

// Spool parks a notification that could not be delivered.
type Spool interface {
	Spool(ctx context.Context, n domain.Notification) error
}

type Options struct {
	Buffer   int
	Workers  int
	Attempts int
	Backoff  time.Duration
	Timeout  time.Duration
}

func (o *Options) defaults() {
	if o.Buffer <= 0 {
		o.Buffer = 256
	}
	if o.Workers <= 0 {
		o.Workers = 2
	}
	if o.Attempts <= 0 {
		o.Attempts = 3
	}
	if o.Backoff <= 0 {
		o.Backoff = 200 * time.Millisecond
	}
	if o.Timeout <= 0 {
		o.Timeout = 5 * time.Second
	}
}

// Dispatcher fans notifications out to its sinks in the background.
// Dispatch never blocks the caller and never reports delivery errors back.
type Dispatcher struct {
	sinks  []Sink
	spool  Spool
	opts   Options
	logger observability.Logger

	queue   chan domain.Notification
	mu      sync.RWMutex
	stopped bool
	wg      sync.WaitGroup
	ctx     context.Context
	cancel  context.CancelFunc
}

// NewDispatcher starts the delivery workers. spool may be nil.
func NewDispatcher(logger observability.Logger, spool Spool, opts Options, sinks ...Sink) *Dispatcher {
	opts.defaults()
	ctx, cancel := context.WithCancel(context.Background())
	d := &Dispatcher{
		sinks:  sinks,
		spool:  spool,
		opts:   opts,
		logger: logger.WithField("component", "notify"),
		queue:  make(chan domain.Notification, opts.Buffer),
		ctx:    ctx,
		cancel: cancel,
	}
	for i := 0; i < opts.Workers; i++ {
		d.wg.Add(1)
		go d.work()
	}
	return d
}

func (d *Dispatcher) Dispatch(_ context.Context, n domain.Notification) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	if d.stopped {
		d.logger.WithFields(fields(n)).Warn("dispatcher closed, notification dropped")
		return
	}
	select {
	case d.queue <- n:
	default:
		d.logger.WithFields(fields(n)).Warn("notification queue full, spooling")
		go d.park(n)
	}
}

func (d *Dispatcher) work() {
	defer d.wg.Done()
	for n := range d.queue {
		d.deliver(n)
	}
}

func (d *Dispatcher) deliver(n domain.Notification) {
	spool := false
	for _, s := range d.sinks {
		if err := d.send(s, n); err != nil {
			observability.NotificationFailures.WithLabelValues(s.Name()).Inc()
			d.logger.WithFields(fields(n)).WithField("sink", s.Name()).WithError(err).Error("notification delivery failed")
			if r, ok := s.(Relayed); ok && r.Relayed() {
				spool = true
			}
		}
	}
	if spool {
		d.park(n)
	}
}

func (d *Dispatcher) send(s Sink, n domain.Notification) error {
	var err error
	for attempt := 0; attempt < d.opts.Attempts; attempt++ {
		if attempt > 0 {
			backoff := d.opts.Backoff * time.Duration(1<<(attempt-1))
			select {
			case <-d.ctx.Done():
				return errors.Wrap(err, "dispatcher stopped")
			case <-time.After(backoff):
			}
		}
		ctx, cancel := context.WithTimeout(d.ctx, d.opts.Timeout)
		err = s.Send(ctx, n)
		cancel()
		if err == nil {
			return nil
		}
	}
	return errors.Wrapf(err, "after %d attempts", d.opts.Attempts)
}

func (d *Dispatcher) park(n domain.Notification) {
	if d.spool == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), d.opts.Timeout)
	defer cancel()
	if err := d.spool.Spool(ctx, n); err != nil {
		observability.NotificationFailures.WithLabelValues("spool").Inc()
		d.logger.WithFields(fields(n)).WithError(err).Error("spool notification")
	}
}

// Close stops intake and waits for queued notifications until ctx is done.
func (d *Dispatcher) Close(ctx context.Context) error {
	d.mu.Lock()
	if d.stopped {
		d.mu.Unlock()
		return nil
	}
	d.stopped = true
	close(d.queue)
	d.mu.Unlock()

	done := make(chan struct{})
	go func() {
		d.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		d.cancel()
		return nil
	case <-ctx.Done():
		d.cancel()
		return errors.Wrap(ctx.Err(), "drain notifications")
	}
}

func fields(n domain.Notification) map[string]interface{} {
	return map[string]interface{}{
		"notification_id": n.ID,
		"type":            string(n.Type),
		"booking_id":      n.BookingID,
		"recipient_id":    n.RecipientID,
	}
}
