package projects

import (
	"context"
	"testing"

	"github.com/civicworks/grantflow/internal/app/core/service"
	domain "github.com/civicworks/grantflow/internal/app/domain/project"
	"github.com/civicworks/grantflow/internal/app/domain/user"
	"github.com/civicworks/grantflow/internal/app/storage/memory"
)

func seedUser(t *testing.T, store *memory.Store, username string, roles ...string) user.User {
	t.Helper()
	u, err := store.CreateUser(context.Background(), user.User{
		Username: username,
		Email:    username + "@example.org",
		Roles:    append([]string{user.RoleUser}, roles...),
		Active:   true,
	})
	if err != nil {
		t.Fatalf("create user %s: %v", username, err)
	}
	return u
}

func completeProfile() ProfileUpdate {
	text := func(s string) *string { return &s }
	hundred := 100
	return ProfileUpdate{
		Name:                  text("River cleanup"),
		ShortDescription:      text("short"),
		Description:           text("long"),
		Challenges:            text("plastic"),
		Delimitation:          text("one river"),
		Goal:                  text("clean water"),
		Vision:                text("swimmable"),
		ProfileSelfAssessment: &hundred,
	}
}

func TestCreateIdeaIsImmutable(t *testing.T) {
	store := memory.New()
	svc := New(store, store, nil)
	ctx := context.Background()
	owner := seedUser(t, store, "mara")

	idea, err := svc.CreateIdea(ctx, owner.ID, IdeaInput{Name: "Idea", ShortDescription: "short"})
	if err != nil {
		t.Fatalf("create idea: %v", err)
	}
	if idea.Progress != domain.ProgressIdea {
		t.Fatalf("progress = %s", idea.Progress)
	}
	if !idea.UserIsOwner(owner.ID) {
		t.Fatal("creator must own the idea")
	}

	name := "Renamed"
	if _, err := svc.UpdateProfile(ctx, owner.ID, idea.ID, ProfileUpdate{Name: &name}); !service.IsValidationError(err) {
		t.Fatalf("idea edits must be rejected, got %v", err)
	}
	if _, err := svc.UpdatePlan(ctx, owner.ID, idea.ID, PlanUpdate{}); !service.IsValidationError(err) {
		t.Fatalf("idea plan edits must be rejected, got %v", err)
	}
	if _, err := svc.AdvanceProgress(ctx, owner.ID, idea.ID, domain.ProgressCreatingProfile); !service.IsForbidden(err) {
		t.Fatalf("ideas do not advance, got %v", err)
	}
}

func TestCreateRequiresIdeaInspiration(t *testing.T) {
	store := memory.New()
	svc := New(store, store, nil)
	ctx := context.Background()
	owner := seedUser(t, store, "nina")

	if _, err := svc.Create(ctx, owner.ID, "", IdeaInput{Name: "P"}); !service.IsValidationError(err) {
		t.Fatalf("missing inspiration must fail validation, got %v", err)
	}

	idea, _ := svc.CreateIdea(ctx, owner.ID, IdeaInput{Name: "Idea", ShortDescription: "s"})
	p, err := svc.Create(ctx, owner.ID, idea.ID, IdeaInput{Name: "Project", ShortDescription: "s"})
	if err != nil {
		t.Fatalf("create from idea: %v", err)
	}
	if p.Progress != domain.ProgressCreatingProfile {
		t.Fatalf("progress = %s", p.Progress)
	}
	if p.InspirationID == nil || *p.InspirationID != idea.ID {
		t.Fatal("inspiration not recorded")
	}

	// A non-idea project cannot inspire another.
	if _, err := svc.Create(ctx, owner.ID, p.ID, IdeaInput{Name: "Other", ShortDescription: "s"}); !service.IsValidationError(err) {
		t.Fatalf("profile-stage inspiration must be rejected, got %v", err)
	}
}

func TestProgressForwardOnly(t *testing.T) {
	store := memory.New()
	svc := New(store, store, nil)
	ctx := context.Background()
	owner := seedUser(t, store, "olga")

	idea, _ := svc.CreateIdea(ctx, owner.ID, IdeaInput{Name: "Idea", ShortDescription: "s"})
	p, _ := svc.Create(ctx, owner.ID, idea.ID, IdeaInput{Name: "Project", ShortDescription: "s"})

	// Incomplete profile blocks the plan stage.
	if _, err := svc.AdvanceProgress(ctx, owner.ID, p.ID, domain.ProgressCreatingPlan); !service.IsForbidden(err) {
		t.Fatalf("incomplete profile must block, got %v", err)
	}

	if _, err := svc.UpdateProfile(ctx, owner.ID, p.ID, completeProfile()); err != nil {
		t.Fatalf("complete profile: %v", err)
	}
	p2, err := svc.AdvanceProgress(ctx, owner.ID, p.ID, domain.ProgressCreatingPlan)
	if err != nil {
		t.Fatalf("advance to plan: %v", err)
	}
	if p2.Progress != domain.ProgressCreatingPlan {
		t.Fatalf("progress = %s", p2.Progress)
	}

	// No skipping, no going back, no self-assigning the submitted stage.
	if _, err := svc.AdvanceProgress(ctx, owner.ID, p.ID, domain.ProgressCreatingProfile); !service.IsForbidden(err) {
		t.Fatalf("backward transition must fail, got %v", err)
	}
	if _, err := svc.AdvanceProgress(ctx, owner.ID, p.ID, domain.ProgressApplicationSubmitted); !service.IsForbidden(err) {
		t.Fatalf("skipping to submitted must fail, got %v", err)
	}
	if _, err := svc.AdvanceProgress(ctx, owner.ID, p.ID, domain.ProgressCreatingApplication); err != nil {
		t.Fatalf("advance to application: %v", err)
	}
}

func TestLockBlocksEdits(t *testing.T) {
	store := memory.New()
	svc := New(store, store, nil)
	ctx := context.Background()
	owner := seedUser(t, store, "pete")
	admin := seedUser(t, store, "root", user.RoleAdmin)

	idea, _ := svc.CreateIdea(ctx, owner.ID, IdeaInput{Name: "Idea", ShortDescription: "s"})
	p, _ := svc.Create(ctx, owner.ID, idea.ID, IdeaInput{Name: "Project", ShortDescription: "s"})

	// Owners cannot lock.
	if _, err := svc.SetLocked(ctx, owner.ID, p.ID, true); !service.IsForbidden(err) {
		t.Fatalf("owner locking must be forbidden, got %v", err)
	}
	if _, err := svc.SetLocked(ctx, admin.ID, p.ID, true); err != nil {
		t.Fatalf("admin lock: %v", err)
	}

	name := "Changed"
	if _, err := svc.UpdateProfile(ctx, owner.ID, p.ID, ProfileUpdate{Name: &name}); !service.IsForbidden(err) {
		t.Fatalf("locked project edit must be forbidden, got %v", err)
	}

	if _, err := svc.SetLocked(ctx, admin.ID, p.ID, false); err != nil {
		t.Fatalf("admin unlock: %v", err)
	}
	if _, err := svc.UpdateProfile(ctx, owner.ID, p.ID, ProfileUpdate{Name: &name}); err != nil {
		t.Fatalf("edit after unlock: %v", err)
	}
}

func TestSelfAssessmentSteps(t *testing.T) {
	store := memory.New()
	svc := New(store, store, nil)
	ctx := context.Background()
	owner := seedUser(t, store, "quin")

	idea, _ := svc.CreateIdea(ctx, owner.ID, IdeaInput{Name: "Idea", ShortDescription: "s"})
	p, _ := svc.Create(ctx, owner.ID, idea.ID, IdeaInput{Name: "Project", ShortDescription: "s"})

	for _, v := range []int{-25, 10, 99, 101} {
		bad := v
		if _, err := svc.UpdateProfile(ctx, owner.ID, p.ID, ProfileUpdate{ProfileSelfAssessment: &bad}); !service.IsValidationError(err) {
			t.Fatalf("self-assessment %d must be rejected, got %v", v, err)
		}
	}
	for _, v := range []int{0, 25, 50, 75, 100} {
		ok := v
		if _, err := svc.UpdateProfile(ctx, owner.ID, p.ID, ProfileUpdate{ProfileSelfAssessment: &ok}); err != nil {
			t.Fatalf("self-assessment %d: %v", v, err)
		}
	}
}

func TestMembershipSemantics(t *testing.T) {
	store := memory.New()
	svc := New(store, store, nil)
	ctx := context.Background()
	owner := seedUser(t, store, "rita")
	member := seedUser(t, store, "sam")
	applicant := seedUser(t, store, "tess")

	idea, _ := svc.CreateIdea(ctx, owner.ID, IdeaInput{Name: "Idea", ShortDescription: "s"})
	p, _ := svc.Create(ctx, owner.ID, idea.ID, IdeaInput{Name: "Project", ShortDescription: "s"})

	if _, err := svc.AddMember(ctx, owner.ID, p.ID, member.ID, domain.RoleMember); err != nil {
		t.Fatalf("add member: %v", err)
	}
	if _, err := svc.AddMember(ctx, owner.ID, p.ID, applicant.ID, domain.RoleApplicant); err != nil {
		t.Fatalf("add applicant: %v", err)
	}
	// One membership per (project, user).
	if _, err := svc.AddMember(ctx, owner.ID, p.ID, member.ID, domain.RoleApplicant); !service.IsConflict(err) {
		t.Fatalf("duplicate membership must conflict, got %v", err)
	}
	// Only owners manage memberships.
	if _, err := svc.AddMember(ctx, member.ID, p.ID, seedUser(t, store, "uma").ID, domain.RoleMember); !service.IsForbidden(err) {
		t.Fatalf("non-owner adding members must be forbidden, got %v", err)
	}

	got, _ := svc.Get(ctx, p.ID)
	if !got.UserIsMember(member.ID) {
		t.Fatal("member must count as member")
	}
	if got.UserIsMember(applicant.ID) || got.UserIsOwner(applicant.ID) {
		t.Fatal("an applicant is not yet a collaborator")
	}

	// Members may edit, applicants may not.
	name := "edited"
	if _, err := svc.UpdateProfile(ctx, member.ID, p.ID, ProfileUpdate{Name: &name}); err != nil {
		t.Fatalf("member edit: %v", err)
	}
	if _, err := svc.UpdateProfile(ctx, applicant.ID, p.ID, ProfileUpdate{Name: &name}); !service.IsForbidden(err) {
		t.Fatalf("applicant edit must be forbidden, got %v", err)
	}
}

func TestSoftDelete(t *testing.T) {
	store := memory.New()
	svc := New(store, store, nil)
	ctx := context.Background()
	owner := seedUser(t, store, "vera")

	idea, _ := svc.CreateIdea(ctx, owner.ID, IdeaInput{Name: "Idea", ShortDescription: "s"})
	p, _ := svc.Create(ctx, owner.ID, idea.ID, IdeaInput{Name: "Project", ShortDescription: "s"})

	if err := svc.Delete(ctx, owner.ID, p.ID); err != nil {
		t.Fatalf("delete: %v", err)
	}
	if _, err := svc.Get(ctx, p.ID); !service.IsNotFound(err) {
		t.Fatalf("deleted project must read as not found, got %v", err)
	}
	list, err := svc.List(ctx)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	for _, q := range list {
		if q.ID == p.ID {
			t.Fatal("deleted project leaked into default listing")
		}
	}

	// The record itself survives in storage.
	raw, err := store.GetProject(ctx, p.ID)
	if err != nil {
		t.Fatalf("raw get: %v", err)
	}
	if !raw.IsDeleted() {
		t.Fatal("deletedAt not set")
	}
}

func TestStateTransitions(t *testing.T) {
	store := memory.New()
	svc := New(store, store, nil)
	ctx := context.Background()
	owner := seedUser(t, store, "will")
	admin := seedUser(t, store, "boss", user.RoleAdmin)

	idea, _ := svc.CreateIdea(ctx, owner.ID, IdeaInput{Name: "Idea", ShortDescription: "s"})
	p, _ := svc.Create(ctx, owner.ID, idea.ID, IdeaInput{Name: "Project", ShortDescription: "s"})

	if _, err := svc.SetState(ctx, owner.ID, p.ID, domain.StateInactive); err != nil {
		t.Fatalf("owner pause: %v", err)
	}
	if _, err := svc.SetState(ctx, owner.ID, p.ID, domain.StateDeactivated); !service.IsForbidden(err) {
		t.Fatalf("owner deactivation must be forbidden, got %v", err)
	}
	if _, err := svc.SetState(ctx, admin.ID, p.ID, domain.StateDeactivated); err != nil {
		t.Fatalf("admin deactivation: %v", err)
	}
}
