package funds

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/civicworks/grantflow/internal/app/core/service"
	domain "github.com/civicworks/grantflow/internal/app/domain/fund"
	"github.com/civicworks/grantflow/internal/app/domain/user"
	"github.com/civicworks/grantflow/internal/app/storage/memory"
)

func newFixture(t *testing.T) (*Service, *memory.Store, user.User, user.User) {
	t.Helper()
	store := memory.New()
	ctx := context.Background()
	manager, err := store.CreateUser(ctx, user.User{
		Username: "meg",
		Email:    "meg@example.org",
		Roles:    []string{user.RoleUser, user.RoleProcessOwner},
		Active:   true,
	})
	if err != nil {
		t.Fatalf("create manager: %v", err)
	}
	plain, err := store.CreateUser(ctx, user.User{
		Username: "paul",
		Email:    "paul@example.org",
		Roles:    []string{user.RoleUser},
		Active:   true,
	})
	if err != nil {
		t.Fatalf("create user: %v", err)
	}
	return New(store, store, nil), store, manager, plain
}

func validInput() Input {
	now := time.Now().UTC()
	return Input{
		Name:            "Autumn round",
		Description:     "d",
		Region:          "north",
		SubmissionBegin: now,
		SubmissionEnd:   now.Add(24 * time.Hour),
		RatingBegin:     now.Add(24 * time.Hour),
		RatingEnd:       now.Add(48 * time.Hour),
		Budget:          50000,
		MinimumGrant:    500,
		MaximumGrant:    5000,
	}
}

func TestCreateRequiresManager(t *testing.T) {
	svc, _, manager, plain := newFixture(t)
	ctx := context.Background()

	if _, err := svc.Create(ctx, plain.ID, validInput()); !service.IsForbidden(err) {
		t.Fatalf("plain user creating a fund must be forbidden, got %v", err)
	}

	f, err := svc.Create(ctx, manager.ID, validInput())
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if f.State != domain.StateInactive {
		t.Fatalf("new fund state = %s, want inactive", f.State)
	}
}

func TestActivateValidatesCalendar(t *testing.T) {
	svc, _, manager, _ := newFixture(t)
	ctx := context.Background()

	in := validInput()
	in.SubmissionEnd = in.SubmissionBegin.Add(-time.Hour)
	in.RatingBegin = time.Time{}
	in.RatingEnd = time.Time{}
	in.Budget = 0
	in.MinimumGrant = 10
	in.MaximumGrant = 5
	f, err := svc.Create(ctx, manager.ID, in)
	if err != nil {
		t.Fatalf("create: %v", err)
	}

	_, err = svc.Activate(ctx, manager.ID, f.ID)
	var errs service.ValidationErrors
	if !errors.As(err, &errs) {
		t.Fatalf("want aggregated validation errors, got %v", err)
	}
	if len(errs) != 4 {
		t.Fatalf("want 4 complaints, got %d: %v", len(errs), errs)
	}

	got, _ := svc.Get(ctx, f.ID)
	if got.State != domain.StateInactive {
		t.Fatalf("failed activation must not change state, got %s", got.State)
	}

	if _, err := svc.Update(ctx, manager.ID, f.ID, validInput()); err != nil {
		t.Fatalf("repair: %v", err)
	}
	activated, err := svc.Activate(ctx, manager.ID, f.ID)
	if err != nil {
		t.Fatalf("activate: %v", err)
	}
	if activated.State != domain.StateActive {
		t.Fatalf("state = %s, want active", activated.State)
	}
}

func TestFinishIsPermanent(t *testing.T) {
	svc, _, manager, _ := newFixture(t)
	ctx := context.Background()

	f, _ := svc.Create(ctx, manager.ID, validInput())
	if _, err := svc.Activate(ctx, manager.ID, f.ID); err != nil {
		t.Fatalf("activate: %v", err)
	}
	finished, err := svc.Finish(ctx, manager.ID, f.ID)
	if err != nil {
		t.Fatalf("finish: %v", err)
	}
	if finished.State != domain.StateFinished {
		t.Fatalf("state = %s", finished.State)
	}

	// Finishing twice is harmless.
	if _, err := svc.Finish(ctx, manager.ID, f.ID); err != nil {
		t.Fatalf("second finish: %v", err)
	}
	// But nothing reopens or edits a finished fund.
	if _, err := svc.Activate(ctx, manager.ID, f.ID); !service.IsForbidden(err) {
		t.Fatalf("reactivation must be forbidden, got %v", err)
	}
	if _, err := svc.Update(ctx, manager.ID, f.ID, validInput()); !service.IsForbidden(err) {
		t.Fatalf("editing a finished fund must be forbidden, got %v", err)
	}
}

func TestAuthoringOnlyWhileInactive(t *testing.T) {
	svc, _, manager, plain := newFixture(t)
	ctx := context.Background()

	f, _ := svc.Create(ctx, manager.ID, validInput())

	f2, err := svc.AddConcretization(ctx, manager.ID, f.ID, "How exactly?", 500)
	if err != nil {
		t.Fatalf("add concretization: %v", err)
	}
	f2, err = svc.AddConcretization(ctx, manager.ID, f2.ID, "Who benefits?", 300)
	if err != nil {
		t.Fatalf("add second concretization: %v", err)
	}
	if len(f2.Concretizations) != 2 || f2.Concretizations[0].Order != 1 || f2.Concretizations[1].Order != 2 {
		t.Fatalf("questions must keep insertion order, got %+v", f2.Concretizations)
	}

	f2, err = svc.AddCriterion(ctx, manager.ID, f.ID, "Feasible?", 10, false)
	if err != nil {
		t.Fatalf("add criterion: %v", err)
	}
	f2, err = svc.AddCriterion(ctx, manager.ID, f.ID, "Jury only?", 5, true)
	if err != nil {
		t.Fatalf("add jury criterion: %v", err)
	}
	if len(f2.Criteria) != 1 || len(f2.JuryCriteria) != 1 {
		t.Fatalf("criteria landed in the wrong list: %+v", f2)
	}

	if _, err := svc.AddConcretization(ctx, plain.ID, f.ID, "Sneaky?", 100); !service.IsForbidden(err) {
		t.Fatalf("plain user authoring must be forbidden, got %v", err)
	}
	if _, err := svc.AddConcretization(ctx, manager.ID, f.ID, "", 100); !service.IsValidationError(err) {
		t.Fatalf("empty question must fail validation, got %v", err)
	}
	if _, err := svc.AddCriterion(ctx, manager.ID, f.ID, "Zero?", 0, false); !service.IsValidationError(err) {
		t.Fatalf("non-positive points must fail validation, got %v", err)
	}

	// Once the fund is live the question set is fixed.
	if _, err := svc.Activate(ctx, manager.ID, f.ID); err != nil {
		t.Fatalf("activate: %v", err)
	}
	if _, err := svc.AddConcretization(ctx, manager.ID, f.ID, "Late?", 100); !service.IsForbidden(err) {
		t.Fatalf("authoring after activation must be forbidden, got %v", err)
	}
	if _, err := svc.AddCriterion(ctx, manager.ID, f.ID, "Late?", 5, false); !service.IsForbidden(err) {
		t.Fatalf("criterion after activation must be forbidden, got %v", err)
	}
}

func TestSubmissionWindowBoundsInclusive(t *testing.T) {
	begin := time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)
	end := time.Date(2026, 3, 31, 23, 59, 59, 0, time.UTC)
	f := domain.Fund{SubmissionBegin: begin, SubmissionEnd: end}

	if !f.InSubmissionWindow(begin) || !f.InSubmissionWindow(end) {
		t.Fatal("window bounds are inclusive")
	}
	if f.InSubmissionWindow(begin.Add(-time.Second)) || f.InSubmissionWindow(end.Add(time.Second)) {
		t.Fatal("instants outside the window must not pass")
	}
}
