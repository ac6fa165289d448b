package applications

import (
	"context"
	"fmt"
	"time"

	"github.com/civicworks/grantflow/internal/app/core/service"
	domain "github.com/civicworks/grantflow/internal/app/domain/application"
	"github.com/civicworks/grantflow/internal/app/domain/fund"
	"github.com/civicworks/grantflow/internal/app/domain/project"
	"github.com/civicworks/grantflow/internal/app/domain/user"
	"github.com/civicworks/grantflow/internal/app/storage"
	"github.com/civicworks/grantflow/pkg/logger"
	"github.com/google/uuid"
)

// Service manages fund applications from creation through submission and
// jury handling. One application per (fund, project) pair, ever.
type Service struct {
	users    storage.UserStore
	funds    storage.FundStore
	projects storage.ProjectStore
	store    storage.ApplicationStore
	log      *logger.Logger
	now      func() time.Time
}

// New creates a configured application service.
func New(users storage.UserStore, funds storage.FundStore, projects storage.ProjectStore, store storage.ApplicationStore, log *logger.Logger) *Service {
	if log == nil {
		log = logger.NewDefault("applications")
	}
	return &Service{
		users:    users,
		funds:    funds,
		projects: projects,
		store:    store,
		log:      log,
		now:      func() time.Time { return time.Now().UTC() },
	}
}

// WithClock overrides the time source. Tests only.
func (s *Service) WithClock(now func() time.Time) { s.now = now }

// Create opens an application linking a project to a fund.
//
// An existing application for the pair is a Conflict. Everything else that
// blocks creation is one coarse Forbidden: project not yet at the plan
// stage, project locked, fund not active.
func (s *Service) Create(ctx context.Context, actorID, fundID, projectID string) (domain.FundApplication, error) {
	p, err := s.projects.GetProject(ctx, projectID)
	if err != nil {
		return domain.FundApplication{}, err
	}
	if p.IsDeleted() {
		return domain.FundApplication{}, service.NewNotFoundError("project", projectID)
	}
	if !p.UserIsOwner(actorID) {
		return domain.FundApplication{}, s.denied("", actorID, "owner required")
	}
	f, err := s.funds.GetFund(ctx, fundID)
	if err != nil {
		return domain.FundApplication{}, err
	}

	// Uniqueness comes first so a duplicate reads as Conflict even when a
	// guard below would also fail.
	if _, err := s.store.GetApplicationByFundAndProject(ctx, fundID, projectID); err == nil {
		return domain.FundApplication{}, service.NewConflictError("application", "", fmt.Sprintf("project %s already applied to fund %s", projectID, fundID))
	} else if !service.IsNotFound(err) {
		return domain.FundApplication{}, err
	}

	if !p.Progress.AtLeast(project.ProgressCreatingPlan) {
		return domain.FundApplication{}, s.denied("", actorID, "project has not reached the plan stage")
	}
	if p.Locked {
		return domain.FundApplication{}, s.denied("", actorID, "project is locked")
	}
	if f.State != fund.StateActive {
		return domain.FundApplication{}, s.denied("", actorID, "fund is not active")
	}

	a := domain.FundApplication{
		ID:        uuid.NewString(),
		FundID:    fundID,
		ProjectID: projectID,
		State:     domain.StateOpen,
	}
	created, err := s.store.CreateApplication(ctx, a)
	if err != nil {
		return domain.FundApplication{}, err
	}

	s.log.WithField("application_id", created.ID).
		WithField("fund_id", fundID).
		WithField("project_id", projectID).
		Info("application created")
	return created, nil
}

// Update carries applicant edits. Nil fields are untouched.
type Update struct {
	Concretizations              map[string]string
	ConcretizationSelfAssessment *int
	RequestedFunding             *float64
	ApplicationSelfAssessment    *int
}

// UpdateByApplicant applies applicant edits. Answers are validated per
// question: each key must name a concretization belonging to the
// application's fund, and each answer must fit that question's limit.
// Offending keys are reported individually.
func (s *Service) UpdateByApplicant(ctx context.Context, actorID, applicationID string, upd Update) (domain.FundApplication, error) {
	a, _, err := s.editable(ctx, actorID, applicationID)
	if err != nil {
		return domain.FundApplication{}, err
	}

	if upd.ConcretizationSelfAssessment != nil && !project.ValidSelfAssessment(*upd.ConcretizationSelfAssessment) {
		return domain.FundApplication{}, service.NewValidationError("concretizationSelfAssessment", "must be one of 0, 25, 50, 75, 100")
	}
	if upd.ApplicationSelfAssessment != nil && !project.ValidSelfAssessment(*upd.ApplicationSelfAssessment) {
		return domain.FundApplication{}, service.NewValidationError("applicationSelfAssessment", "must be one of 0, 25, 50, 75, 100")
	}

	if len(upd.Concretizations) > 0 {
		f, err := s.funds.GetFund(ctx, a.FundID)
		if err != nil {
			return domain.FundApplication{}, err
		}
		var errs service.ValidationErrors
		for qid, answer := range upd.Concretizations {
			q, ok := f.ConcretizationByID(qid)
			if !ok {
				errs = append(errs, service.NewValidationError(qid, "unknown concretization question"))
				continue
			}
			if len([]rune(answer)) > q.MaxLength {
				errs = append(errs, service.NewValidationError(qid, fmt.Sprintf("answer exceeds %d characters", q.MaxLength)))
			}
		}
		if len(errs) > 0 {
			return domain.FundApplication{}, errs
		}
		if a.Concretizations == nil {
			a.Concretizations = make(map[string]string, len(upd.Concretizations))
		}
		for qid, answer := range upd.Concretizations {
			a.Concretizations[qid] = answer
		}
		if a.State == domain.StateOpen {
			a.State = domain.StateConcretization
		}
	}

	if upd.ConcretizationSelfAssessment != nil {
		a.ConcretizationSelfAssessment = *upd.ConcretizationSelfAssessment
	}
	if upd.RequestedFunding != nil {
		a.RequestedFunding = *upd.RequestedFunding
	}
	if upd.ApplicationSelfAssessment != nil {
		a.ApplicationSelfAssessment = *upd.ApplicationSelfAssessment
	}

	return s.store.UpdateApplication(ctx, a)
}

// Submit moves the application into the submitted state. Every gate must
// hold at once: fund active, now inside the submission window, project
// unlocked, and all four self-assessments at 100. Any failing gate yields
// the same coarse Forbidden; which gate failed stays in server logs.
func (s *Service) Submit(ctx context.Context, actorID, applicationID string) (domain.FundApplication, error) {
	a, err := s.store.GetApplication(ctx, applicationID)
	if err != nil {
		return domain.FundApplication{}, err
	}
	p, err := s.projects.GetProject(ctx, a.ProjectID)
	if err != nil {
		return domain.FundApplication{}, err
	}
	if p.IsDeleted() {
		return domain.FundApplication{}, service.NewNotFoundError("project", a.ProjectID)
	}
	if !p.UserIsOwner(actorID) {
		return domain.FundApplication{}, s.denied(applicationID, actorID, "owner required")
	}
	if a.IsSubmitted() {
		return domain.FundApplication{}, s.denied(applicationID, actorID, "already submitted")
	}
	f, err := s.funds.GetFund(ctx, a.FundID)
	if err != nil {
		return domain.FundApplication{}, err
	}

	now := s.now()
	reason := ""
	switch {
	case f.State != fund.StateActive:
		reason = "fund is not active"
	case !f.InSubmissionWindow(now):
		reason = "outside submission window"
	case p.Locked:
		reason = "project is locked"
	case a.ConcretizationSelfAssessment != 100:
		reason = "concretization self-assessment incomplete"
	case a.ApplicationSelfAssessment != 100:
		reason = "application self-assessment incomplete"
	case p.ProfileSelfAssessment != 100:
		reason = "profile self-assessment incomplete"
	case p.PlanSelfAssessment != 100:
		reason = "plan self-assessment incomplete"
	}
	if reason != "" {
		s.log.WithField("application_id", applicationID).
			WithField("user_id", actorID).
			WithField("reason", reason).
			Info("application submit rejected")
		return domain.FundApplication{}, s.denied(applicationID, actorID, "submit requirements not met")
	}

	a.State = domain.StateSubmitted
	a.SubmittedAt = &now
	updated, err := s.store.UpdateApplication(ctx, a)
	if err != nil {
		return domain.FundApplication{}, err
	}

	if !p.Progress.AtLeast(project.ProgressApplicationSubmitted) {
		p.Progress = project.ProgressApplicationSubmitted
		if _, err := s.projects.UpdateProject(ctx, p); err != nil {
			return domain.FundApplication{}, err
		}
	}

	s.log.WithField("application_id", applicationID).
		WithField("fund_id", a.FundID).
		WithField("project_id", a.ProjectID).
		Info("application submitted")
	return updated, nil
}

// Delete removes an application. Blocked while the fund is active or
// finished, while the project is locked, and once the application is
// submitted.
func (s *Service) Delete(ctx context.Context, actorID, applicationID string) error {
	a, err := s.store.GetApplication(ctx, applicationID)
	if err != nil {
		return err
	}
	p, err := s.projects.GetProject(ctx, a.ProjectID)
	if err != nil {
		return err
	}
	if !p.UserIsOwner(actorID) {
		return s.denied(applicationID, actorID, "owner required")
	}
	f, err := s.funds.GetFund(ctx, a.FundID)
	if err != nil {
		return err
	}
	if f.State == fund.StateActive || f.State == fund.StateFinished {
		return s.denied(applicationID, actorID, "fund season in progress or closed")
	}
	if p.Locked {
		return s.denied(applicationID, actorID, "project is locked")
	}
	if a.IsSubmitted() {
		return s.denied(applicationID, actorID, "submitted applications cannot be deleted")
	}

	if err := s.store.DeleteApplication(ctx, applicationID); err != nil {
		return err
	}
	s.log.WithField("application_id", applicationID).Info("application deleted")
	return nil
}

// SetJuryComment records the jury's summary comment. Jury fields stay
// writable after submission.
func (s *Service) SetJuryComment(ctx context.Context, actorID, applicationID, comment string) (domain.FundApplication, error) {
	if err := s.requireJury(ctx, actorID); err != nil {
		return domain.FundApplication{}, err
	}
	a, err := s.store.GetApplication(ctx, applicationID)
	if err != nil {
		return domain.FundApplication{}, err
	}
	a.JuryComment = comment
	return s.store.UpdateApplication(ctx, a)
}

// SetJuryOrder records the application's sortable position within its fund.
func (s *Service) SetJuryOrder(ctx context.Context, actorID, applicationID string, order int) (domain.FundApplication, error) {
	if err := s.requireJury(ctx, actorID); err != nil {
		return domain.FundApplication{}, err
	}
	a, err := s.store.GetApplication(ctx, applicationID)
	if err != nil {
		return domain.FundApplication{}, err
	}
	a.JuryOrder = order
	return s.store.UpdateApplication(ctx, a)
}

// Rate records one juror's scores for an application, one record per
// (application, juror); repeated calls overwrite the juror's own record.
// Criterion keys must belong to the application's fund.
func (s *Service) Rate(ctx context.Context, jurorID, applicationID string, ratings map[string]domain.CriterionRating) (domain.JuryRating, error) {
	if err := s.requireJury(ctx, jurorID); err != nil {
		return domain.JuryRating{}, err
	}
	a, err := s.store.GetApplication(ctx, applicationID)
	if err != nil {
		return domain.JuryRating{}, err
	}
	f, err := s.funds.GetFund(ctx, a.FundID)
	if err != nil {
		return domain.JuryRating{}, err
	}

	known := make(map[string]fund.Criterion, len(f.Criteria)+len(f.JuryCriteria))
	for _, c := range f.Criteria {
		known[c.ID] = c
	}
	for _, c := range f.JuryCriteria {
		known[c.ID] = c
	}
	var errs service.ValidationErrors
	for cid, r := range ratings {
		c, ok := known[cid]
		if !ok {
			errs = append(errs, service.NewValidationError(cid, "unknown criterion"))
			continue
		}
		if r.Rating < 0 || r.Rating > c.Points {
			errs = append(errs, service.NewValidationError(cid, fmt.Sprintf("rating must be between 0 and %d", c.Points)))
		}
	}
	if len(errs) > 0 {
		return domain.JuryRating{}, errs
	}

	return s.store.UpsertRating(ctx, domain.JuryRating{
		ID:            uuid.NewString(),
		ApplicationID: applicationID,
		JurorID:       jurorID,
		Ratings:       ratings,
	})
}

// Get returns an application with its ratings.
func (s *Service) Get(ctx context.Context, id string) (domain.FundApplication, error) {
	return s.store.GetApplication(ctx, id)
}

// ListByFund returns a fund's applications.
func (s *Service) ListByFund(ctx context.Context, fundID string) ([]domain.FundApplication, error) {
	return s.store.ListApplicationsByFund(ctx, fundID)
}

// ListByProject returns a project's applications.
func (s *Service) ListByProject(ctx context.Context, projectID string) ([]domain.FundApplication, error) {
	return s.store.ListApplicationsByProject(ctx, projectID)
}

// editable loads an application and its project and checks the actor may
// still edit. Submitted applications are immutable to the applicant.
func (s *Service) editable(ctx context.Context, actorID, applicationID string) (domain.FundApplication, project.Project, error) {
	a, err := s.store.GetApplication(ctx, applicationID)
	if err != nil {
		return domain.FundApplication{}, project.Project{}, err
	}
	p, err := s.projects.GetProject(ctx, a.ProjectID)
	if err != nil {
		return domain.FundApplication{}, project.Project{}, err
	}
	if p.IsDeleted() {
		return domain.FundApplication{}, project.Project{}, service.NewNotFoundError("project", a.ProjectID)
	}
	if !p.UserIsOwner(actorID) {
		return domain.FundApplication{}, project.Project{}, s.denied(applicationID, actorID, "owner required")
	}
	if a.IsSubmitted() {
		return domain.FundApplication{}, project.Project{}, s.denied(applicationID, actorID, "submitted applications are immutable")
	}
	if p.Locked {
		return domain.FundApplication{}, project.Project{}, s.denied(applicationID, actorID, "project is locked")
	}
	return a, p, nil
}

func (s *Service) requireJury(ctx context.Context, actorID string) error {
	actor, err := s.users.GetUser(ctx, actorID)
	if err != nil {
		return err
	}
	if actor.IsDeleted() || !actor.Active {
		return s.denied("", actorID, "inactive account")
	}
	if !actor.HasRole(user.RoleAdmin) && !actor.HasRole(user.RoleProcessOwner) && !actor.HasRole(user.RoleJury) {
		return s.denied("", actorID, "jury role required")
	}
	return nil
}

func (s *Service) denied(applicationID, actorID, reason string) error {
	err := service.NewAccessDeniedError("application", applicationID, actorID)
	err.Reason = reason
	return err
}
