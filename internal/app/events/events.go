package events

import (
	"context"
	"sync"
	"time"

	"github.com/civicworks/grantflow/internal/app/domain/validation"
	"github.com/civicworks/grantflow/pkg/logger"
)

// Kind tags an event. The confirmation protocol and the purge worker emit
// these without knowing what reacts; subscribers are resolved at process
// startup.
type Kind string

const (
	// KindTokenNotFound fires on lookup misses and secret mismatches alike,
	// for abuse monitoring. The two cases are deliberately not told apart.
	KindTokenNotFound Kind = "validation.token-not-found"

	// KindTokenExpired fires when an expired token is removed, whether the
	// purge worker or a confirm attempt found it first.
	KindTokenExpired Kind = "validation.token-expired"

	// KindTokenConfirmed fires on successful confirmation, carrying the
	// consumed token and the residual confirm-time params.
	KindTokenConfirmed Kind = "validation.token-confirmed"

	// KindUserDeleted fires after an account has been anonymized.
	KindUserDeleted Kind = "user.deleted"
)

// Event is the tagged union all subscribers receive.
type Event struct {
	Kind    Kind
	TokenID string
	Token   validation.Token
	UserID  string
	Params  map[string]string
	At      time.Time
}

// Handler reacts to one event. Return values are not consumed by emitters;
// failures stay inside the subscriber.
type Handler func(ctx context.Context, evt Event)

// Dispatcher fans events out synchronously, in process, to every subscriber
// registered for the kind.
type Dispatcher struct {
	mu          sync.RWMutex
	subscribers map[Kind][]Handler
	log         *logger.Logger
}

// NewDispatcher creates an empty dispatcher.
func NewDispatcher(log *logger.Logger) *Dispatcher {
	if log == nil {
		log = logger.NewDefault("events")
	}
	return &Dispatcher{
		subscribers: make(map[Kind][]Handler),
		log:         log,
	}
}

// Subscribe registers a handler for the kind. Call during wiring, before
// any emitter runs.
func (d *Dispatcher) Subscribe(kind Kind, h Handler) {
	if h == nil {
		return
	}
	d.mu.Lock()
	d.subscribers[kind] = append(d.subscribers[kind], h)
	d.mu.Unlock()
}

// Dispatch invokes every subscriber for the event's kind, in registration
// order. A panicking subscriber is logged and does not stop the fan-out.
func (d *Dispatcher) Dispatch(ctx context.Context, evt Event) {
	if evt.At.IsZero() {
		evt.At = time.Now().UTC()
	}
	d.mu.RLock()
	handlers := append([]Handler(nil), d.subscribers[evt.Kind]...)
	d.mu.RUnlock()

	for _, h := range handlers {
		d.invoke(ctx, h, evt)
	}
}

func (d *Dispatcher) invoke(ctx context.Context, h Handler, evt Event) {
	defer func() {
		if r := recover(); r != nil {
			d.log.WithField("kind", string(evt.Kind)).
				WithField("panic", r).
				Error("event subscriber panicked")
		}
	}()
	h(ctx, evt)
}
