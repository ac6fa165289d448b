package memory

import (
	"context"
	"testing"
	"time"

	"github.com/civicworks/grantflow/internal/app/core/service"
	"github.com/civicworks/grantflow/internal/app/domain/application"
	"github.com/civicworks/grantflow/internal/app/domain/project"
	"github.com/civicworks/grantflow/internal/app/domain/user"
	"github.com/civicworks/grantflow/internal/app/domain/validation"
)

func TestUserUniqueness(t *testing.T) {
	store := New()
	ctx := context.Background()

	if _, err := store.CreateUser(ctx, user.User{Username: "ada", Email: "ada@example.org"}); err != nil {
		t.Fatalf("create: %v", err)
	}
	if _, err := store.CreateUser(ctx, user.User{Username: "ada", Email: "other@example.org"}); !service.IsConflict(err) {
		t.Fatalf("duplicate username must conflict, got %v", err)
	}
	if _, err := store.CreateUser(ctx, user.User{Username: "bella", Email: "ada@example.org"}); !service.IsConflict(err) {
		t.Fatalf("duplicate email must conflict, got %v", err)
	}
}

func TestLookupsExcludeDeletedUsers(t *testing.T) {
	store := New()
	ctx := context.Background()

	u, err := store.CreateUser(ctx, user.User{Username: "cora", Email: "cora@example.org"})
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	now := time.Now().UTC()
	u.DeletedAt = &now
	if _, err := store.UpdateUser(ctx, u); err != nil {
		t.Fatalf("update: %v", err)
	}

	// Login-style lookups hide the record; lookup by id does not, so
	// anonymized accounts stay addressable for audit trails.
	if _, err := store.GetUserByEmail(ctx, "cora@example.org"); !service.IsNotFound(err) {
		t.Fatalf("email lookup must miss, got %v", err)
	}
	if _, err := store.GetUserByUsername(ctx, "cora"); !service.IsNotFound(err) {
		t.Fatalf("username lookup must miss, got %v", err)
	}
	if _, err := store.GetUser(ctx, u.ID); err != nil {
		t.Fatalf("id lookup must still work: %v", err)
	}
	users, _ := store.ListUsers(ctx)
	for _, listed := range users {
		if listed.ID == u.ID {
			t.Fatal("deleted user leaked into listing")
		}
	}
}

func TestDeleteTokenReportsOutcome(t *testing.T) {
	store := New()
	ctx := context.Background()

	u, _ := store.CreateUser(ctx, user.User{Username: "dina", Email: "dina@example.org"})
	tok, err := store.CreateToken(ctx, validation.Token{
		UserID:    u.ID,
		Type:      validation.TypeAccountActivation,
		Token:     "secret",
		ExpiresAt: time.Now().UTC().Add(time.Hour),
	})
	if err != nil {
		t.Fatalf("create token: %v", err)
	}

	deleted, err := store.DeleteToken(ctx, tok.ID)
	if err != nil || !deleted {
		t.Fatalf("first delete = %v, %v", deleted, err)
	}
	deleted, err = store.DeleteToken(ctx, tok.ID)
	if err != nil || deleted {
		t.Fatalf("second delete must report false, got %v, %v", deleted, err)
	}
	// The token string is freed along with the record.
	if _, err := store.CreateToken(ctx, validation.Token{
		UserID:    u.ID,
		Type:      validation.TypeAccountActivation,
		Token:     "secret",
		ExpiresAt: time.Now().UTC().Add(time.Hour),
	}); err != nil {
		t.Fatalf("token string must be reusable after delete: %v", err)
	}
}

func TestApplicationPairUniqueness(t *testing.T) {
	store := New()
	ctx := context.Background()

	p, err := store.CreateProject(ctx, project.Project{Progress: project.ProgressCreatingPlan, State: project.StateActive, Name: "n", ShortDescription: "s"})
	if err != nil {
		t.Fatalf("create project: %v", err)
	}

	a, err := store.CreateApplication(ctx, application.FundApplication{FundID: "f1", ProjectID: p.ID, State: application.StateOpen})
	if err != nil {
		t.Fatalf("create application: %v", err)
	}
	if _, err := store.CreateApplication(ctx, application.FundApplication{FundID: "f1", ProjectID: p.ID, State: application.StateOpen}); !service.IsConflict(err) {
		t.Fatalf("same pair must conflict, got %v", err)
	}
	// A different fund is a different pair.
	if _, err := store.CreateApplication(ctx, application.FundApplication{FundID: "f2", ProjectID: p.ID, State: application.StateOpen}); err != nil {
		t.Fatalf("second fund: %v", err)
	}

	got, err := store.GetApplicationByFundAndProject(ctx, "f1", p.ID)
	if err != nil || got.ID != a.ID {
		t.Fatalf("pair lookup = %+v, %v", got, err)
	}

	// Deleting frees the pair for a fresh attempt.
	if err := store.DeleteApplication(ctx, a.ID); err != nil {
		t.Fatalf("delete: %v", err)
	}
	if _, err := store.GetApplicationByFundAndProject(ctx, "f1", p.ID); !service.IsNotFound(err) {
		t.Fatalf("pair must be free after delete, got %v", err)
	}
	if _, err := store.CreateApplication(ctx, application.FundApplication{FundID: "f1", ProjectID: p.ID, State: application.StateOpen}); err != nil {
		t.Fatalf("re-create after delete: %v", err)
	}
}

func TestListProjectsFiltersDeleted(t *testing.T) {
	store := New()
	ctx := context.Background()

	alive, _ := store.CreateProject(ctx, project.Project{Progress: project.ProgressIdea, State: project.StateActive, Name: "alive", ShortDescription: "s"})
	gone, _ := store.CreateProject(ctx, project.Project{Progress: project.ProgressIdea, State: project.StateActive, Name: "gone", ShortDescription: "s"})
	now := time.Now().UTC()
	gone.DeletedAt = &now
	if _, err := store.UpdateProject(ctx, gone); err != nil {
		t.Fatalf("update: %v", err)
	}

	visible, err := store.ListProjects(ctx, false)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(visible) != 1 || visible[0].ID != alive.ID {
		t.Fatalf("default listing = %+v", visible)
	}

	all, err := store.ListProjects(ctx, true)
	if err != nil {
		t.Fatalf("list all: %v", err)
	}
	if len(all) != 2 {
		t.Fatalf("includeDeleted listing = %d entries, want 2", len(all))
	}
}

func TestReturnedValuesAreCopies(t *testing.T) {
	store := New()
	ctx := context.Background()

	u, _ := store.CreateUser(ctx, user.User{Username: "elsa", Email: "elsa@example.org", Roles: []string{user.RoleUser}})
	u.Roles[0] = "tampered"
	fresh, _ := store.GetUser(ctx, u.ID)
	if fresh.Roles[0] != user.RoleUser {
		t.Fatal("mutating a returned slice must not reach stored state")
	}
}
