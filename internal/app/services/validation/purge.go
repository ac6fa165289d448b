package validation

import (
	"context"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/civicworks/grantflow/internal/app/events"
	"github.com/civicworks/grantflow/internal/app/metrics"
	"github.com/civicworks/grantflow/internal/app/storage"
	"github.com/civicworks/grantflow/internal/app/system"
	"github.com/civicworks/grantflow/pkg/logger"
)

var _ system.Service = (*Purger)(nil)

// Purger sweeps expired tokens on a cron schedule. Each expired token is
// its own atomic unit: it is deleted, then announced, and a failure on a
// later token leaves earlier deletions in place.
type Purger struct {
	store    storage.ValidationStore
	events   *events.Dispatcher
	log      *logger.Logger
	schedule string
	now      func() time.Time

	mu      sync.Mutex
	cron    *cron.Cron
	running bool
}

// NewPurger creates a lifecycle-managed purge worker. schedule is a cron
// expression; "@every 10m" by default.
func NewPurger(store storage.ValidationStore, dispatcher *events.Dispatcher, schedule string, log *logger.Logger) *Purger {
	if log == nil {
		log = logger.NewDefault("token-purger")
	}
	if schedule == "" {
		schedule = "@every 10m"
	}
	return &Purger{
		store:    store,
		events:   dispatcher,
		log:      log,
		schedule: schedule,
		now:      func() time.Time { return time.Now().UTC() },
	}
}

// WithClock overrides the time source. Tests only.
func (p *Purger) WithClock(now func() time.Time) { p.now = now }

func (p *Purger) Name() string { return "token-purger" }

func (p *Purger) Start(ctx context.Context) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.running {
		return nil
	}
	c := cron.New()
	if _, err := c.AddFunc(p.schedule, func() {
		if err := p.RunOnce(context.Background()); err != nil {
			p.log.WithError(err).Warn("token purge run failed")
		}
	}); err != nil {
		return err
	}
	c.Start()
	p.cron = c
	p.running = true

	p.log.WithField("schedule", p.schedule).Info("token purger started")
	return nil
}

func (p *Purger) Stop(ctx context.Context) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if !p.running {
		return nil
	}
	stopCtx := p.cron.Stop()
	p.cron = nil
	p.running = false

	select {
	case <-stopCtx.Done():
	case <-ctx.Done():
		return ctx.Err()
	}

	p.log.Info("token purger stopped")
	return nil
}

// RunOnce performs a single sweep. An empty batch produces no events and no
// log output.
func (p *Purger) RunOnce(ctx context.Context) error {
	start := time.Now()
	now := p.now()

	expired, err := p.store.ListExpiredTokens(ctx, now)
	if err != nil {
		return err
	}
	if len(expired) == 0 {
		return nil
	}

	purged := 0
	var firstErr error
	for _, tok := range expired {
		deleted, err := p.store.DeleteToken(ctx, tok.ID)
		if err != nil {
			if firstErr == nil {
				firstErr = err
			}
			continue
		}
		if !deleted {
			// A concurrent confirm got there first and already announced
			// the token's fate.
			continue
		}
		p.events.Dispatch(ctx, events.Event{
			Kind:    events.KindTokenExpired,
			TokenID: tok.ID,
			Token:   tok,
			UserID:  tok.UserID,
		})
		metrics.RecordTokenPurged(string(tok.Type))
		purged++
	}

	metrics.RecordPurgeRun(time.Since(start))
	p.log.WithField("expired", len(expired)).
		WithField("purged", purged).
		Info("expired validation tokens purged")
	return firstErr
}
