package accounts

import (
	"context"
	"strings"
	"sync"
	"testing"
	"time"

	"golang.org/x/crypto/bcrypt"

	"github.com/civicworks/grantflow/internal/app/core/service"
	"github.com/civicworks/grantflow/internal/app/domain/project"
	validationdomain "github.com/civicworks/grantflow/internal/app/domain/validation"
	"github.com/civicworks/grantflow/internal/app/events"
	"github.com/civicworks/grantflow/internal/app/messaging"
	"github.com/civicworks/grantflow/internal/app/storage/memory"
)

// recordingBus captures dispatched messages synchronously.
type recordingBus struct {
	mu       sync.Mutex
	messages []messaging.Message
}

func (b *recordingBus) Dispatch(msg messaging.Message) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.messages = append(b.messages, msg)
}

func (b *recordingBus) byType(t messaging.Type) []messaging.Message {
	b.mu.Lock()
	defer b.mu.Unlock()
	var out []messaging.Message
	for _, m := range b.messages {
		if m.Type == t {
			out = append(out, m)
		}
	}
	return out
}

const testTemplate = "https://app/confirm/{{id}}?token={{token}}"

func TestRegister(t *testing.T) {
	store := memory.New()
	bus := &recordingBus{}
	svc := New(store, store, store, bus, "", nil)
	ctx := context.Background()

	u, err := svc.Register(ctx, "erin", "Erin@Example.org", "hunter2hunter2", testTemplate)
	if err != nil {
		t.Fatalf("register: %v", err)
	}
	if u.Validated {
		t.Fatal("fresh account must be unvalidated")
	}
	if !u.Active {
		t.Fatal("fresh account must be active")
	}
	if u.Email != "erin@example.org" {
		t.Fatalf("email not normalized: %q", u.Email)
	}
	if msgs := bus.byType(messaging.TypeUserRegistered); len(msgs) != 1 || msgs[0].UserID != u.ID {
		t.Fatalf("expected one registration message, got %+v", msgs)
	}
}

func TestRegisterValidation(t *testing.T) {
	store := memory.New()
	svc := New(store, store, store, &recordingBus{}, "", nil)
	ctx := context.Background()

	cases := []struct {
		name                            string
		username, email, password, tmpl string
	}{
		{"bad username", "x", "a@b.org", "password123", testTemplate},
		{"bad email", "frank", "not-an-email", "password123", testTemplate},
		{"short password", "frank", "a@b.org", "short", testTemplate},
		{"template missing token", "frank", "a@b.org", "password123", "https://app/{{id}}"},
		{"template missing id", "frank", "a@b.org", "password123", "https://app/{{token}}"},
	}
	for _, tc := range cases {
		if _, err := svc.Register(ctx, tc.username, tc.email, tc.password, tc.tmpl); !service.IsValidationError(err) {
			t.Fatalf("%s: expected validation error, got %v", tc.name, err)
		}
	}
}

func TestRegisterDuplicate(t *testing.T) {
	store := memory.New()
	svc := New(store, store, store, &recordingBus{}, "", nil)
	ctx := context.Background()

	if _, err := svc.Register(ctx, "grace", "grace@example.org", "password123", testTemplate); err != nil {
		t.Fatalf("first register: %v", err)
	}
	if _, err := svc.Register(ctx, "grace2", "grace@example.org", "password123", testTemplate); !service.IsConflict(err) {
		t.Fatalf("duplicate email must conflict, got %v", err)
	}
	if _, err := svc.Register(ctx, "grace", "other@example.org", "password123", testTemplate); !service.IsConflict(err) {
		t.Fatalf("duplicate username must conflict, got %v", err)
	}
}

func TestRequestPasswordResetHidesUnknownEmail(t *testing.T) {
	store := memory.New()
	bus := &recordingBus{}
	svc := New(store, store, store, bus, "", nil)

	if err := svc.RequestPasswordReset(context.Background(), "ghost@example.org", testTemplate); err != nil {
		t.Fatalf("unknown email must not error: %v", err)
	}
	if len(bus.byType(messaging.TypePasswordForgotten)) != 0 {
		t.Fatal("no message for unknown email")
	}
}

func TestDeleteAnonymizes(t *testing.T) {
	store := memory.New()
	bus := &recordingBus{}
	svc := New(store, store, store, bus, "deleted.invalid", nil)
	ctx := context.Background()

	u, err := svc.Register(ctx, "henry", "henry@example.org", "password123", testTemplate)
	if err != nil {
		t.Fatalf("register: %v", err)
	}
	p, err := store.CreateProject(ctx, project.Project{Progress: project.ProgressIdea, State: project.StateActive, Name: "n", ShortDescription: "s"})
	if err != nil {
		t.Fatalf("create project: %v", err)
	}
	if _, err := store.CreateMembership(ctx, project.Membership{ProjectID: p.ID, UserID: u.ID, Role: project.RoleOwner}); err != nil {
		t.Fatalf("create membership: %v", err)
	}
	if _, err := store.CreateToken(ctx, validationdomain.Token{
		UserID: u.ID, Type: validationdomain.TypeAccountActivation, Token: "tok", ExpiresAt: time.Now().Add(time.Hour),
	}); err != nil {
		t.Fatalf("create token: %v", err)
	}

	if err := svc.Delete(ctx, u.ID); err != nil {
		t.Fatalf("delete: %v", err)
	}

	got, err := store.GetUser(ctx, u.ID)
	if err != nil {
		t.Fatalf("deleted record must stay addressable: %v", err)
	}
	if !got.IsDeleted() {
		t.Fatal("deletedAt not set")
	}
	if got.Username != "deleted_"+u.ID {
		t.Fatalf("username = %q", got.Username)
	}
	if got.Email != "deleted_"+u.ID+"@deleted.invalid" {
		t.Fatalf("email = %q", got.Email)
	}
	if got.PasswordHash != "" || len(got.Roles) != 0 || got.Active {
		t.Fatalf("identifying data survived: %+v", got)
	}
	if strings.Contains(got.Username, "henry") || strings.Contains(got.Email, "henry") {
		t.Fatal("original identity leaked through anonymization")
	}

	if memberships, _ := store.ListMembershipsByUser(ctx, u.ID); len(memberships) != 0 {
		t.Fatalf("memberships must be revoked, got %d", len(memberships))
	}
	if tokens, _ := store.ListExpiredTokens(ctx, time.Now().Add(2*time.Hour)); len(tokens) != 0 {
		t.Fatalf("tokens must be cascaded, got %d", len(tokens))
	}

	// Idempotent.
	if err := svc.Delete(ctx, u.ID); err != nil {
		t.Fatalf("second delete: %v", err)
	}
}

func TestConfirmationSubscribers(t *testing.T) {
	store := memory.New()
	bus := &recordingBus{}
	svc := New(store, store, store, bus, "", nil)
	dispatcher := events.NewDispatcher(nil)
	svc.RegisterSubscribers(dispatcher, bus)
	ctx := context.Background()

	u, err := svc.Register(ctx, "iris", "iris@example.org", "password123", testTemplate)
	if err != nil {
		t.Fatalf("register: %v", err)
	}

	// Activation.
	dispatcher.Dispatch(ctx, events.Event{
		Kind:   events.KindTokenConfirmed,
		UserID: u.ID,
		Token:  validationdomain.Token{UserID: u.ID, Type: validationdomain.TypeAccountActivation},
	})
	got, _ := store.GetUser(ctx, u.ID)
	if !got.Validated {
		t.Fatal("activation confirmation must validate the user")
	}
	if len(bus.byType(messaging.TypeUserValidated)) != 1 {
		t.Fatal("activation must announce user-validated")
	}

	// Password reset with the new password in the residual params.
	dispatcher.Dispatch(ctx, events.Event{
		Kind:   events.KindTokenConfirmed,
		UserID: u.ID,
		Token:  validationdomain.Token{UserID: u.ID, Type: validationdomain.TypePasswordReset},
		Params: map[string]string{"password": "brand-new-pass"},
	})
	got, _ = store.GetUser(ctx, u.ID)
	if bcrypt.CompareHashAndPassword([]byte(got.PasswordHash), []byte("brand-new-pass")) != nil {
		t.Fatal("password reset did not take")
	}

	// Email change uses the address fixed at issue time.
	dispatcher.Dispatch(ctx, events.Event{
		Kind:   events.KindTokenConfirmed,
		UserID: u.ID,
		Token: validationdomain.Token{
			UserID:  u.ID,
			Type:    validationdomain.TypeEmailChange,
			Content: map[string]string{validationdomain.ContentEmail: "iris@new.org"},
		},
	})
	got, _ = store.GetUser(ctx, u.ID)
	if got.Email != "iris@new.org" {
		t.Fatalf("email = %q, want iris@new.org", got.Email)
	}
}

func TestExpiredActivationRemovesUnvalidatedAccount(t *testing.T) {
	store := memory.New()
	bus := &recordingBus{}
	svc := New(store, store, store, bus, "", nil)
	dispatcher := events.NewDispatcher(nil)
	svc.RegisterSubscribers(dispatcher, bus)
	ctx := context.Background()

	u, _ := svc.Register(ctx, "judy", "judy@example.org", "password123", testTemplate)

	dispatcher.Dispatch(ctx, events.Event{
		Kind:   events.KindTokenExpired,
		UserID: u.ID,
		Token:  validationdomain.Token{UserID: u.ID, Type: validationdomain.TypeAccountActivation},
	})

	got, err := store.GetUser(ctx, u.ID)
	if err != nil {
		t.Fatalf("get user: %v", err)
	}
	if !got.IsDeleted() {
		t.Fatal("never-validated account must be removed when its activation token expires")
	}

	// A validated user is untouched by a stray expiry event.
	v, _ := svc.Register(ctx, "kate", "kate@example.org", "password123", testTemplate)
	v.Validated = true
	if _, err := store.UpdateUser(ctx, v); err != nil {
		t.Fatalf("update: %v", err)
	}
	dispatcher.Dispatch(ctx, events.Event{
		Kind:   events.KindTokenExpired,
		UserID: v.ID,
		Token:  validationdomain.Token{UserID: v.ID, Type: validationdomain.TypeAccountActivation},
	})
	got, _ = store.GetUser(ctx, v.ID)
	if got.IsDeleted() {
		t.Fatal("validated account must survive token expiry")
	}
}

func TestVerifyPassword(t *testing.T) {
	store := memory.New()
	svc := New(store, store, store, &recordingBus{}, "", nil)
	ctx := context.Background()

	u, _ := svc.Register(ctx, "liam", "liam@example.org", "password123", testTemplate)

	if got, err := svc.VerifyPassword(ctx, "liam@example.org", "password123"); err != nil || got.ID != u.ID {
		t.Fatalf("verify by email: %v", err)
	}
	if got, err := svc.VerifyPassword(ctx, "liam", "password123"); err != nil || got.ID != u.ID {
		t.Fatalf("verify by username: %v", err)
	}

	_, wrongErr := svc.VerifyPassword(ctx, "liam", "wrong-password")
	_, ghostErr := svc.VerifyPassword(ctx, "ghost", "password123")
	if !service.IsForbidden(wrongErr) || !service.IsForbidden(ghostErr) {
		t.Fatalf("want forbidden for both, got %v and %v", wrongErr, ghostErr)
	}
}
