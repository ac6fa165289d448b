package messaging

import (
	"context"
	"sync"
	"time"

	"github.com/civicworks/grantflow/pkg/logger"
)

// Type names a deferred intent.
type Type string

const (
	TypeUserRegistered       Type = "user-registered"
	TypePasswordForgotten    Type = "password-forgotten"
	TypeEmailChangeRequested Type = "email-change-requested"
	TypeUserValidated        Type = "user-validated"
)

// Message carries an intent by user id. Handlers re-resolve the user at
// handling time; state captured at enqueue time may already be stale.
type Message struct {
	Type        Type
	UserID      string
	URLTemplate string
	Payload     map[string]string
	EnqueuedAt  time.Time
}

// Handler processes one message. An error means the handler gave up; the
// bus logs it and moves on. Nothing is reported back to the enqueuer, which
// has long since returned.
type Handler func(ctx context.Context, msg Message) error

// Bus is the dispatch side of the message collaborator.
type Bus interface {
	Dispatch(msg Message)
}

// InProcessBus is a buffered, single-consumer bus delivering messages
// at-least-once with no ordering guarantee relative to subsequent user
// actions. It implements the system lifecycle so the application manager
// owns its goroutine.
type InProcessBus struct {
	handlers map[Type]Handler
	queue    chan Message
	log      *logger.Logger

	mu      sync.Mutex
	cancel  context.CancelFunc
	wg      sync.WaitGroup
	running bool
}

// NewInProcessBus creates a bus with the given queue capacity.
func NewInProcessBus(capacity int, log *logger.Logger) *InProcessBus {
	if capacity <= 0 {
		capacity = 256
	}
	if log == nil {
		log = logger.NewDefault("message-bus")
	}
	return &InProcessBus{
		handlers: make(map[Type]Handler),
		queue:    make(chan Message, capacity),
		log:      log,
	}
}

// Register binds a handler to a message type. Call during wiring, before
// Start.
func (b *InProcessBus) Register(t Type, h Handler) {
	if h == nil {
		return
	}
	b.handlers[t] = h
}

// Dispatch enqueues fire-and-forget. A full queue drops the message with a
// log line; the triggering request still succeeds.
func (b *InProcessBus) Dispatch(msg Message) {
	if msg.EnqueuedAt.IsZero() {
		msg.EnqueuedAt = time.Now().UTC()
	}
	select {
	case b.queue <- msg:
	default:
		b.log.WithField("type", string(msg.Type)).
			WithField("user_id", msg.UserID).
			Error("message queue full, dropping message")
	}
}

func (b *InProcessBus) Name() string { return "message-bus" }

// Start launches the consumer goroutine.
func (b *InProcessBus) Start(ctx context.Context) error {
	b.mu.Lock()
	if b.running {
		b.mu.Unlock()
		return nil
	}
	runCtx, cancel := context.WithCancel(ctx)
	b.cancel = cancel
	b.running = true
	b.mu.Unlock()

	b.wg.Add(1)
	go func() {
		defer b.wg.Done()
		for {
			select {
			case <-runCtx.Done():
				return
			case msg := <-b.queue:
				b.handle(runCtx, msg)
			}
		}
	}()

	b.log.Info("message bus started")
	return nil
}

// Stop drains nothing; queued messages are lost on shutdown, matching the
// best-effort contract.
func (b *InProcessBus) Stop(ctx context.Context) error {
	b.mu.Lock()
	if !b.running {
		b.mu.Unlock()
		return nil
	}
	cancel := b.cancel
	b.running = false
	b.cancel = nil
	b.mu.Unlock()

	if cancel != nil {
		cancel()
	}

	done := make(chan struct{})
	go func() {
		defer close(done)
		b.wg.Wait()
	}()

	select {
	case <-done:
	case <-ctx.Done():
		return ctx.Err()
	}

	b.log.Info("message bus stopped")
	return nil
}

func (b *InProcessBus) handle(ctx context.Context, msg Message) {
	handler, ok := b.handlers[msg.Type]
	if !ok {
		b.log.WithField("type", string(msg.Type)).Warn("no handler registered for message type")
		return
	}
	ctx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()

	if err := handler(ctx, msg); err != nil {
		b.log.WithError(err).
			WithField("type", string(msg.Type)).
			WithField("user_id", msg.UserID).
			Warn("message handler failed")
	}
}
