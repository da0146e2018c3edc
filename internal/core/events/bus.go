package events

import (
	"context"
	stderrors "errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
)

// AllEvents subscribes a handler to every event type.
const AllEvents = "*"

// handlerTimeout bounds each handler run by Publish, since those outlive the
// request that produced the event.
const handlerTimeout = 30 * time.Second

var ErrBusClosed = stderrors.New("event bus closed")

type Event interface {
	EventType() string
	EventID() string
	OccurredAt() time.Time
	Payload() interface{}
}

type BaseEvent struct {
	ID        string                 `json:"id"`
	Type      string                 `json:"type"`
	Timestamp time.Time              `json:"timestamp"`
	Data      map[string]interface{} `json:"data"`
}

// NewBaseEvent stamps a fresh id and the current time on an event of type t.
func NewBaseEvent(t string, data map[string]interface{}) BaseEvent {
	return BaseEvent{ID: uuid.NewString(), Type: t, Timestamp: time.Now(), Data: data}
}

func (e BaseEvent) EventType() string     { return e.Type }
func (e BaseEvent) EventID() string       { return e.ID }
func (e BaseEvent) OccurredAt() time.Time { return e.Timestamp }
func (e BaseEvent) Payload() interface{}  { return e.Data }

type Handler func(ctx context.Context, event Event) error

// EventBus fans transaction lifecycle events out to in-process subscribers.
// Handlers for one event run in subscription order; handlers subscribed to
// AllEvents run after the type specific ones.
type EventBus struct {
	mu       sync.RWMutex
	handlers map[string][]Handler
	closed   bool
	inflight sync.WaitGroup
	logger   *slog.Logger
}

func NewEventBus(logger *slog.Logger) *EventBus {
	return &EventBus{
		handlers: make(map[string][]Handler),
		logger:   logger,
	}
}

func (eb *EventBus) Subscribe(eventType string, handler Handler) {
	eb.mu.Lock()
	eb.handlers[eventType] = append(eb.handlers[eventType], handler)
	n := len(eb.handlers[eventType])
	eb.mu.Unlock()

	eb.logger.Debug("event handler subscribed", "event_type", eventType, "handlers", n)
}

// route returns the handlers for eventType, or ErrBusClosed once Close has
// been called. A nil error with no handlers means nobody listens. When async
// is set and there are handlers, one delivery is counted as in flight before
// the lock is released, so Close cannot miss it.
func (eb *EventBus) route(eventType string, async bool) ([]Handler, error) {
	eb.mu.RLock()
	defer eb.mu.RUnlock()

	if eb.closed {
		return nil, ErrBusClosed
	}
	specific, wildcard := eb.handlers[eventType], eb.handlers[AllEvents]
	out := make([]Handler, 0, len(specific)+len(wildcard))
	out = append(out, specific...)
	out = append(out, wildcard...)
	if async && len(out) > 0 {
		eb.inflight.Add(1)
	}
	return out, nil
}

// Publish hands event to its subscribers on a background goroutine and
// returns immediately. The handlers see ctx's values but not its deadline or
// cancellation. A failing handler is logged and does not stop the others.
func (eb *EventBus) Publish(ctx context.Context, event Event) error {
	handlers, err := eb.route(event.EventType(), true)
	if err != nil || len(handlers) == 0 {
		return err
	}

	go func() {
		defer eb.inflight.Done()

		detached := context.WithoutCancel(ctx)
		for _, h := range handlers {
			hctx, cancel := context.WithTimeout(detached, handlerTimeout)
			if err := eb.dispatch(hctx, h, event); err != nil {
				eb.logFailure(event, err)
			}
			cancel()
		}
	}()
	return nil
}

// PublishSync runs the subscribers on the caller's goroutine and stops at the
// first failure.
func (eb *EventBus) PublishSync(ctx context.Context, event Event) error {
	handlers, err := eb.route(event.EventType(), false)
	if err != nil {
		return err
	}

	for _, h := range handlers {
		if err := eb.dispatch(ctx, h, event); err != nil {
			eb.logFailure(event, err)
			return fmt.Errorf("%s handler: %w", event.EventType(), err)
		}
	}
	return nil
}

// dispatch runs one handler, turning a panic into an error.
func (eb *EventBus) dispatch(ctx context.Context, h Handler, event Event) (err error) {
	defer func() {
		if rec := recover(); rec != nil {
			err = fmt.Errorf("handler panicked: %v", rec)
		}
	}()
	return h(ctx, event)
}

func (eb *EventBus) logFailure(event Event, err error) {
	eb.logger.Error("event handler failed",
		"event_type", event.EventType(),
		"event_id", event.EventID(),
		"error", err)
}

// Wait blocks until events handed to Publish have been delivered.
func (eb *EventBus) Wait() {
	eb.inflight.Wait()
}

// Close rejects further events and waits for pending deliveries, giving up
// when ctx is done.
func (eb *EventBus) Close(ctx context.Context) error {
	eb.mu.Lock()
	eb.closed = true
	eb.mu.Unlock()

	done := make(chan struct{})
	go func() {
		eb.inflight.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
