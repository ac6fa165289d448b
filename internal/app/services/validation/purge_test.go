package validation

import (
	"context"
	"testing"
	"time"

	"github.com/civicworks/grantflow/internal/app/domain/user"
	domain "github.com/civicworks/grantflow/internal/app/domain/validation"
	"github.com/civicworks/grantflow/internal/app/events"
	"github.com/civicworks/grantflow/internal/app/storage/memory"
)

func TestPurgerRunOnce(t *testing.T) {
	store := memory.New()
	ctx := context.Background()

	u, err := store.CreateUser(ctx, user.User{Username: "bob", Email: "bob@example.org", Active: true})
	if err != nil {
		t.Fatalf("create user: %v", err)
	}

	now := time.Now().UTC()
	mkToken := func(id string, expires time.Time) {
		t.Helper()
		if _, err := store.CreateToken(ctx, domain.Token{
			ID:        id,
			UserID:    u.ID,
			Type:      domain.TypeAccountActivation,
			Token:     "secret-" + id,
			ExpiresAt: expires,
		}); err != nil {
			t.Fatalf("create token %s: %v", id, err)
		}
	}
	mkToken("stale-1", now.Add(-time.Hour))
	mkToken("stale-2", now.Add(-time.Minute))
	mkToken("fresh", now.Add(time.Hour))

	rec := &eventRecorder{}
	dispatcher := events.NewDispatcher(nil)
	dispatcher.Subscribe(events.KindTokenExpired, rec.record)

	purger := NewPurger(store, dispatcher, "", nil)
	if err := purger.RunOnce(ctx); err != nil {
		t.Fatalf("run once: %v", err)
	}

	if got := rec.count(events.KindTokenExpired); got != 2 {
		t.Fatalf("expected 2 expired events, got %d", got)
	}
	if _, err := store.GetToken(ctx, "fresh"); err != nil {
		t.Fatalf("fresh token must survive: %v", err)
	}

	// A second sweep finds nothing and stays silent.
	if err := purger.RunOnce(ctx); err != nil {
		t.Fatalf("empty run: %v", err)
	}
	if got := rec.count(events.KindTokenExpired); got != 2 {
		t.Fatalf("empty batch must not emit events, got %d total", got)
	}
}

func TestPurgerSkipsConcurrentlyConsumedTokens(t *testing.T) {
	store := memory.New()
	ctx := context.Background()

	u, _ := store.CreateUser(ctx, user.User{Username: "carol", Email: "carol@example.org", Active: true})
	tok, err := store.CreateToken(ctx, domain.Token{
		UserID:    u.ID,
		Type:      domain.TypePasswordReset,
		Token:     "secret",
		ExpiresAt: time.Now().UTC().Add(-time.Minute),
	})
	if err != nil {
		t.Fatalf("create token: %v", err)
	}

	// Someone else deletes the token between the sweep's list and delete.
	if deleted, err := store.DeleteToken(ctx, tok.ID); err != nil || !deleted {
		t.Fatalf("delete token: %v %v", deleted, err)
	}

	rec := &eventRecorder{}
	dispatcher := events.NewDispatcher(nil)
	dispatcher.Subscribe(events.KindTokenExpired, rec.record)

	purger := NewPurger(store, dispatcher, "", nil)
	if err := purger.RunOnce(ctx); err != nil {
		t.Fatalf("run once: %v", err)
	}
	if got := rec.count(events.KindTokenExpired); got != 0 {
		t.Fatalf("already-deleted token must not be announced again, got %d events", got)
	}
}

func TestPurgerLifecycle(t *testing.T) {
	store := memory.New()
	purger := NewPurger(store, events.NewDispatcher(nil), "@every 1h", nil)

	ctx := context.Background()
	if err := purger.Start(ctx); err != nil {
		t.Fatalf("start: %v", err)
	}
	if err := purger.Start(ctx); err != nil {
		t.Fatalf("double start must be a no-op: %v", err)
	}

	stopCtx, cancel := context.WithTimeout(ctx, time.Second)
	defer cancel()
	if err := purger.Stop(stopCtx); err != nil {
		t.Fatalf("stop: %v", err)
	}
	if err := purger.Stop(stopCtx); err != nil {
		t.Fatalf("double stop must be a no-op: %v", err)
	}
}
