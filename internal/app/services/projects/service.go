package projects

import (
	"context"
	"strings"
	"time"

	"github.com/civicworks/grantflow/internal/app/core/service"
	domain "github.com/civicworks/grantflow/internal/app/domain/project"
	"github.com/civicworks/grantflow/internal/app/domain/user"
	"github.com/civicworks/grantflow/internal/app/storage"
	"github.com/civicworks/grantflow/pkg/logger"
	"github.com/google/uuid"
)

// Service governs the project lifecycle: creation, profile and plan
// editing, the forward-only progress pipeline, locking, memberships, and
// soft deletion.
type Service struct {
	users storage.UserStore
	store storage.ProjectStore
	log   *logger.Logger
	now   func() time.Time
}

// New creates a configured project service.
func New(users storage.UserStore, store storage.ProjectStore, log *logger.Logger) *Service {
	if log == nil {
		log = logger.NewDefault("projects")
	}
	return &Service{
		users: users,
		store: store,
		log:   log,
		now:   func() time.Time { return time.Now().UTC() },
	}
}

// WithClock overrides the time source. Tests only.
func (s *Service) WithClock(now func() time.Time) { s.now = now }

// IdeaInput is the write-once description of an idea project.
type IdeaInput struct {
	Name             string
	ShortDescription string
	Description      string
	Goal             string
}

// CreateIdea creates an immutable idea-stage project owned by the actor.
func (s *Service) CreateIdea(ctx context.Context, actorID string, in IdeaInput) (domain.Project, error) {
	actor, err := s.actor(ctx, actorID)
	if err != nil {
		return domain.Project{}, err
	}
	if strings.TrimSpace(in.Name) == "" {
		return domain.Project{}, service.RequiredError("name")
	}
	if strings.TrimSpace(in.ShortDescription) == "" {
		return domain.Project{}, service.RequiredError("shortDescription")
	}

	p := domain.Project{
		ID:               uuid.NewString(),
		Progress:         domain.ProgressIdea,
		State:            domain.StateActive,
		Name:             in.Name,
		ShortDescription: in.ShortDescription,
		Description:      in.Description,
		Goal:             in.Goal,
		CreatedByID:      actor.ID,
	}
	created, err := s.store.CreateProject(ctx, p)
	if err != nil {
		return domain.Project{}, err
	}
	if _, err := s.store.CreateMembership(ctx, domain.Membership{
		ProjectID: created.ID,
		UserID:    actor.ID,
		Role:      domain.RoleOwner,
	}); err != nil {
		return domain.Project{}, err
	}

	s.log.WithField("project_id", created.ID).
		WithField("user_id", actor.ID).
		Info("idea created")
	return s.store.GetProject(ctx, created.ID)
}

// Create creates a profile-stage project. A project not started as an idea
// needs an inspiration: an existing idea-stage project it grew out of.
func (s *Service) Create(ctx context.Context, actorID, inspirationID string, in IdeaInput) (domain.Project, error) {
	actor, err := s.actor(ctx, actorID)
	if err != nil {
		return domain.Project{}, err
	}
	if inspirationID == "" {
		return domain.Project{}, service.RequiredError("inspiration")
	}
	inspiration, err := s.store.GetProject(ctx, inspirationID)
	if err != nil {
		return domain.Project{}, err
	}
	if inspiration.IsDeleted() || inspiration.Progress != domain.ProgressIdea {
		return domain.Project{}, service.NewValidationError("inspiration", "must reference an idea")
	}
	if strings.TrimSpace(in.Name) == "" {
		return domain.Project{}, service.RequiredError("name")
	}

	p := domain.Project{
		ID:               uuid.NewString(),
		Progress:         domain.ProgressCreatingProfile,
		State:            domain.StateActive,
		Name:             in.Name,
		ShortDescription: in.ShortDescription,
		Description:      in.Description,
		Goal:             in.Goal,
		InspirationID:    &inspirationID,
		CreatedByID:      actor.ID,
	}
	created, err := s.store.CreateProject(ctx, p)
	if err != nil {
		return domain.Project{}, err
	}
	if _, err := s.store.CreateMembership(ctx, domain.Membership{
		ProjectID: created.ID,
		UserID:    actor.ID,
		Role:      domain.RoleOwner,
	}); err != nil {
		return domain.Project{}, err
	}

	s.log.WithField("project_id", created.ID).
		WithField("inspiration_id", inspirationID).
		WithField("user_id", actor.ID).
		Info("project created")
	return s.store.GetProject(ctx, created.ID)
}

// ProfileUpdate carries optional profile edits. Nil fields are untouched.
type ProfileUpdate struct {
	Name                  *string
	ShortDescription      *string
	Description           *string
	Challenges            *string
	Delimitation          *string
	Goal                  *string
	Vision                *string
	ProfileSelfAssessment *int
}

// UpdateProfile applies profile edits. Ideas are write-once: any edit to an
// idea-stage project fails.
func (s *Service) UpdateProfile(ctx context.Context, actorID, projectID string, upd ProfileUpdate) (domain.Project, error) {
	p, err := s.editableProject(ctx, actorID, projectID)
	if err != nil {
		return domain.Project{}, err
	}
	if p.Progress == domain.ProgressIdea {
		return domain.Project{}, service.NewValidationError("progress", "an idea is immutable once created")
	}
	if upd.ProfileSelfAssessment != nil && !domain.ValidSelfAssessment(*upd.ProfileSelfAssessment) {
		return domain.Project{}, service.NewValidationError("profileSelfAssessment", "must be one of 0, 25, 50, 75, 100")
	}

	apply(&p.Name, upd.Name)
	apply(&p.ShortDescription, upd.ShortDescription)
	apply(&p.Description, upd.Description)
	apply(&p.Challenges, upd.Challenges)
	apply(&p.Delimitation, upd.Delimitation)
	apply(&p.Goal, upd.Goal)
	apply(&p.Vision, upd.Vision)
	if upd.ProfileSelfAssessment != nil {
		p.ProfileSelfAssessment = *upd.ProfileSelfAssessment
	}

	return s.store.UpdateProject(ctx, p)
}

// PlanUpdate carries optional plan edits. Nil fields are untouched.
type PlanUpdate struct {
	Tasks              *string
	WorkPackages       *string
	Outcome            *string
	Impact             *string
	Results            *string
	TargetGroups       *string
	Utilization        *string
	PlanSelfAssessment *int
}

// UpdatePlan applies plan edits. The project must have reached the plan
// stage.
func (s *Service) UpdatePlan(ctx context.Context, actorID, projectID string, upd PlanUpdate) (domain.Project, error) {
	p, err := s.editableProject(ctx, actorID, projectID)
	if err != nil {
		return domain.Project{}, err
	}
	if p.Progress == domain.ProgressIdea {
		return domain.Project{}, service.NewValidationError("progress", "an idea is immutable once created")
	}
	if !p.Progress.AtLeast(domain.ProgressCreatingPlan) {
		return domain.Project{}, s.denied(p.ID, actorID, "plan stage not reached")
	}
	if upd.PlanSelfAssessment != nil && !domain.ValidSelfAssessment(*upd.PlanSelfAssessment) {
		return domain.Project{}, service.NewValidationError("planSelfAssessment", "must be one of 0, 25, 50, 75, 100")
	}

	apply(&p.Tasks, upd.Tasks)
	apply(&p.WorkPackages, upd.WorkPackages)
	apply(&p.Outcome, upd.Outcome)
	apply(&p.Impact, upd.Impact)
	apply(&p.Results, upd.Results)
	apply(&p.TargetGroups, upd.TargetGroups)
	apply(&p.Utilization, upd.Utilization)
	if upd.PlanSelfAssessment != nil {
		p.PlanSelfAssessment = *upd.PlanSelfAssessment
	}

	return s.store.UpdateProject(ctx, p)
}

// AdvanceProgress moves the project one stage forward. Progress never moves
// backward and never skips stages. Ideas do not advance; they inspire new
// projects instead. The submitted stage is owned by the application
// lifecycle.
func (s *Service) AdvanceProgress(ctx context.Context, actorID, projectID string, target domain.Progress) (domain.Project, error) {
	p, err := s.project(ctx, projectID)
	if err != nil {
		return domain.Project{}, err
	}
	if !p.UserIsOwner(actorID) {
		return domain.Project{}, s.denied(p.ID, actorID, "owner required")
	}
	if p.Locked {
		return domain.Project{}, s.denied(p.ID, actorID, "project is locked")
	}
	if p.Progress == domain.ProgressIdea {
		return domain.Project{}, s.denied(p.ID, actorID, "ideas do not advance")
	}
	if target.Rank() != p.Progress.Rank()+1 || target == domain.ProgressApplicationSubmitted {
		return domain.Project{}, s.denied(p.ID, actorID, "invalid progress transition")
	}
	if target == domain.ProgressCreatingPlan && !p.IsProfileComplete() {
		return domain.Project{}, s.denied(p.ID, actorID, "profile incomplete")
	}

	p.Progress = target
	updated, err := s.store.UpdateProject(ctx, p)
	if err != nil {
		return domain.Project{}, err
	}
	s.log.WithField("project_id", p.ID).
		WithField("progress", string(target)).
		Info("project progressed")
	return updated, nil
}

// MarkSubmitted records the final pipeline stage. Called by the application
// lifecycle after a successful submit, not exposed through the API.
func (s *Service) MarkSubmitted(ctx context.Context, projectID string) error {
	p, err := s.project(ctx, projectID)
	if err != nil {
		return err
	}
	if p.Progress.AtLeast(domain.ProgressApplicationSubmitted) {
		return nil
	}
	p.Progress = domain.ProgressApplicationSubmitted
	_, err = s.store.UpdateProject(ctx, p)
	return err
}

// SetLocked freezes or thaws a project. Admins and process owners only.
func (s *Service) SetLocked(ctx context.Context, actorID, projectID string, locked bool) (domain.Project, error) {
	actor, err := s.actor(ctx, actorID)
	if err != nil {
		return domain.Project{}, err
	}
	if !actor.HasRole(user.RoleAdmin) && !actor.HasRole(user.RoleProcessOwner) {
		return domain.Project{}, s.denied(projectID, actorID, "admin or process owner required")
	}
	p, err := s.project(ctx, projectID)
	if err != nil {
		return domain.Project{}, err
	}
	p.Locked = locked
	updated, err := s.store.UpdateProject(ctx, p)
	if err != nil {
		return domain.Project{}, err
	}
	s.log.WithField("project_id", projectID).
		WithField("locked", locked).
		Info("project lock changed")
	return updated, nil
}

// SetState switches the orthogonal project state. Owners may toggle
// active/inactive; deactivation is administrative.
func (s *Service) SetState(ctx context.Context, actorID, projectID string, state domain.State) (domain.Project, error) {
	actor, err := s.actor(ctx, actorID)
	if err != nil {
		return domain.Project{}, err
	}
	p, err := s.project(ctx, projectID)
	if err != nil {
		return domain.Project{}, err
	}
	isAdmin := actor.HasRole(user.RoleAdmin)
	if state == domain.StateDeactivated && !isAdmin {
		return domain.Project{}, s.denied(projectID, actorID, "deactivation is administrative")
	}
	if !isAdmin && !p.UserIsOwner(actorID) {
		return domain.Project{}, s.denied(projectID, actorID, "owner required")
	}
	p.State = state
	return s.store.UpdateProject(ctx, p)
}

// Delete soft-deletes a project. Memberships and applications stay;
// the project just disappears from default queries.
func (s *Service) Delete(ctx context.Context, actorID, projectID string) error {
	actor, err := s.actor(ctx, actorID)
	if err != nil {
		return err
	}
	p, err := s.project(ctx, projectID)
	if err != nil {
		return err
	}
	if !actor.HasRole(user.RoleAdmin) && !p.UserIsOwner(actorID) {
		return s.denied(projectID, actorID, "owner required")
	}

	now := s.now()
	p.DeletedAt = &now
	if _, err := s.store.UpdateProject(ctx, p); err != nil {
		return err
	}
	s.log.WithField("project_id", projectID).Info("project deleted")
	return nil
}

// AddMember attaches a user to the project. Owners manage memberships;
// duplicate (project, user) pairs conflict regardless of role.
func (s *Service) AddMember(ctx context.Context, actorID, projectID, userID string, role domain.MembershipRole) (domain.Membership, error) {
	p, err := s.project(ctx, projectID)
	if err != nil {
		return domain.Membership{}, err
	}
	if !p.UserIsOwner(actorID) {
		return domain.Membership{}, s.denied(projectID, actorID, "owner required")
	}
	target, err := s.users.GetUser(ctx, userID)
	if err != nil {
		return domain.Membership{}, err
	}
	if target.IsDeleted() {
		return domain.Membership{}, service.NewNotFoundError("user", userID)
	}
	switch role {
	case domain.RoleOwner, domain.RoleMember, domain.RoleApplicant:
	default:
		return domain.Membership{}, service.NewValidationError("role", "unknown membership role")
	}
	return s.store.CreateMembership(ctx, domain.Membership{
		ProjectID: projectID,
		UserID:    userID,
		Role:      role,
	})
}

// RemoveMember detaches a membership.
func (s *Service) RemoveMember(ctx context.Context, actorID, projectID, membershipID string) error {
	p, err := s.project(ctx, projectID)
	if err != nil {
		return err
	}
	if !p.UserIsOwner(actorID) {
		return s.denied(projectID, actorID, "owner required")
	}
	return s.store.DeleteMembership(ctx, membershipID)
}

// Get returns a non-deleted project.
func (s *Service) Get(ctx context.Context, id string) (domain.Project, error) {
	return s.project(ctx, id)
}

// List returns all non-deleted projects.
func (s *Service) List(ctx context.Context) ([]domain.Project, error) {
	return s.store.ListProjects(ctx, false)
}

// Helpers ---------------------------------------------------------------------

func (s *Service) actor(ctx context.Context, actorID string) (user.User, error) {
	actor, err := s.users.GetUser(ctx, actorID)
	if err != nil {
		return user.User{}, err
	}
	if actor.IsDeleted() || !actor.Active {
		return user.User{}, s.denied("", actorID, "inactive account")
	}
	return actor, nil
}

func (s *Service) project(ctx context.Context, id string) (domain.Project, error) {
	p, err := s.store.GetProject(ctx, id)
	if err != nil {
		return domain.Project{}, err
	}
	if p.IsDeleted() {
		return domain.Project{}, service.NewNotFoundError("project", id)
	}
	return p, nil
}

// editableProject loads a project and checks the actor may edit it.
func (s *Service) editableProject(ctx context.Context, actorID, projectID string) (domain.Project, error) {
	if _, err := s.actor(ctx, actorID); err != nil {
		return domain.Project{}, err
	}
	p, err := s.project(ctx, projectID)
	if err != nil {
		return domain.Project{}, err
	}
	if !p.UserIsMember(actorID) {
		return domain.Project{}, s.denied(projectID, actorID, "membership required")
	}
	if p.Locked {
		return domain.Project{}, s.denied(projectID, actorID, "project is locked")
	}
	return p, nil
}

// denied returns the single coarse signal every failed project guard
// produces; the reason stays in server logs.
func (s *Service) denied(projectID, actorID, reason string) error {
	err := service.NewAccessDeniedError("project", projectID, actorID)
	err.Reason = reason
	return err
}

func apply(dst *string, src *string) {
	if src != nil {
		*dst = *src
	}
}
