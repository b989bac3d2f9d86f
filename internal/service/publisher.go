package service

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/alanyoungcy/estatemarket/internal/domain"
)

// Signal bus names carrying committed market events.
const (
	EventsChannel = "market:events"
	EventsStream  = "market:events:stream"
)

// EventNotifier delivers human-readable alerts for selected events.
type EventNotifier interface {
	NotifyEvent(ctx context.Context, ev domain.Event) error
}

// Broadcaster pushes an encoded event to in-process listeners such as the
// websocket hub when no signal bus is configured.
type Broadcaster interface {
	Broadcast(channel string, data []byte)
}

// Publisher is the engine's outbox. The engine hands it committed batches
// under its lock; Run drains them in order into the event store, the signal
// bus, local broadcasters and notifiers.
type Publisher struct {
	queue    chan []domain.Event
	store    domain.EventStore
	bus      domain.SignalBus
	local    Broadcaster
	notifier EventNotifier
	logger   *slog.Logger

	done    chan struct{}
	dropped atomic.Uint64
}

// PublisherConfig lists the optional sinks of a Publisher. Nil sinks are skipped.
type PublisherConfig struct {
	Size     int
	Store    domain.EventStore
	Bus      domain.SignalBus
	Local    Broadcaster
	Notifier EventNotifier
}

// NewPublisher creates a Publisher with a queue of cfg.Size batches.
func NewPublisher(cfg PublisherConfig, logger *slog.Logger) *Publisher {
	size := cfg.Size
	if size <= 0 {
		size = 1024
	}
	return &Publisher{
		queue:    make(chan []domain.Event, size),
		done:     make(chan struct{}),
		store:    cfg.Store,
		bus:      cfg.Bus,
		local:    cfg.Local,
		notifier: cfg.Notifier,
		logger:   logger.With(slog.String("component", "publisher")),
	}
}

// Publish implements market.EventSink. It blocks when the queue is full so
// that no committed event is lost; once Run has returned, batches are dropped.
func (p *Publisher) Publish(events []domain.Event) {
	select {
	case <-p.done:
		p.dropped.Add(uint64(len(events)))
		return
	default:
	}
	select {
	case p.queue <- events:
		return
	default:
	}

	p.logger.Warn("publisher: queue full, applying backpressure",
		slog.Int("capacity", cap(p.queue)),
	)
	select {
	case <-p.done:
		p.dropped.Add(uint64(len(events)))
	case p.queue <- events:
	}
}

// Dropped reports how many events arrived after the publisher stopped.
func (p *Publisher) Dropped() uint64 {
	return p.dropped.Load()
}

// Run delivers queued batches until ctx is cancelled, then flushes whatever
// is still queued with a short deadline.
func (p *Publisher) Run(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			p.flush()
			return nil
		case batch := <-p.queue:
			p.deliver(ctx, batch)
		}
	}
}

func (p *Publisher) flush() {
	defer close(p.done)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	for {
		select {
		case batch := <-p.queue:
			p.deliver(ctx, batch)
		default:
			return
		}
	}
}

// deliver persists first; bus, broadcast and notification failures are
// logged and never retried.
func (p *Publisher) deliver(ctx context.Context, batch []domain.Event) {
	if len(batch) == 0 {
		return
	}
	if p.store != nil {
		if err := p.persist(ctx, batch); err != nil {
			p.logger.ErrorContext(ctx, "publisher: persist events failed",
				slog.Uint64("first_seq", batch[0].Seq),
				slog.Uint64("last_seq", batch[len(batch)-1].Seq),
				slog.String("error", err.Error()),
			)
		}
	}

	for _, ev := range batch {
		data, err := json.Marshal(ev)
		if err != nil {
			p.logger.WarnContext(ctx, "publisher: encode event failed",
				slog.Uint64("seq", ev.Seq),
				slog.String("error", err.Error()),
			)
			continue
		}
		if p.bus != nil {
			if err := p.bus.Publish(ctx, EventsChannel, data); err != nil {
				p.logger.WarnContext(ctx, "publisher: publish event failed",
					slog.Uint64("seq", ev.Seq),
					slog.String("error", err.Error()),
				)
			}
			if err := p.bus.StreamAppend(ctx, EventsStream, data); err != nil {
				p.logger.WarnContext(ctx, "publisher: stream append failed",
					slog.Uint64("seq", ev.Seq),
					slog.String("error", err.Error()),
				)
			}
		}
		if p.local != nil {
			p.local.Broadcast(EventsChannel, data)
		}
		if p.notifier != nil {
			if err := p.notifier.NotifyEvent(ctx, ev); err != nil {
				p.logger.WarnContext(ctx, "publisher: notify failed",
					slog.String("kind", string(ev.Kind)),
					slog.String("error", err.Error()),
				)
			}
		}
	}
}

// persist retries the append a few times; the stores ignore duplicate seqs.
func (p *Publisher) persist(ctx context.Context, batch []domain.Event) error {
	var err error
	backoff := 100 * time.Millisecond
	for attempt := 0; attempt < 3; attempt++ {
		if err = p.store.Append(ctx, batch); err == nil {
			return nil
		}
		select {
		case <-ctx.Done():
			return fmt.Errorf("publisher: append: %w", ctx.Err())
		case <-time.After(backoff):
		}
		backoff *= 2
	}
	return fmt.Errorf("publisher: append: %w", err)
}
