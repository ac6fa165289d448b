package funds

import (
	"context"
	"strings"
	"time"

	"github.com/civicworks/grantflow/internal/app/core/service"
	domain "github.com/civicworks/grantflow/internal/app/domain/fund"
	"github.com/civicworks/grantflow/internal/app/domain/user"
	"github.com/civicworks/grantflow/internal/app/storage"
	"github.com/civicworks/grantflow/pkg/logger"
	"github.com/google/uuid"
)

// Service manages funding rounds. Funds are authored while inactive,
// activated once their calendar is coherent, and finished after the jury is
// done. Only admins and process owners shape funds.
type Service struct {
	users storage.UserStore
	store storage.FundStore
	log   *logger.Logger
	now   func() time.Time
}

// New creates a configured fund service.
func New(users storage.UserStore, store storage.FundStore, log *logger.Logger) *Service {
	if log == nil {
		log = logger.NewDefault("funds")
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

// Input describes a fund's editable attributes.
type Input struct {
	Name                 string
	Description          string
	Region               string
	SubmissionBegin      time.Time
	SubmissionEnd        time.Time
	RatingBegin          time.Time
	RatingEnd            time.Time
	BriefingDate         time.Time
	FinalJuryDate        time.Time
	JurorsPerApplication int
	Budget               float64
	MinimumGrant         float64
	MaximumGrant         float64
}

// Create creates a new fund in the inactive state.
func (s *Service) Create(ctx context.Context, actorID string, in Input) (domain.Fund, error) {
	if err := s.requireManager(ctx, actorID); err != nil {
		return domain.Fund{}, err
	}
	if strings.TrimSpace(in.Name) == "" {
		return domain.Fund{}, service.RequiredError("name")
	}

	f := domain.Fund{
		ID:                   uuid.NewString(),
		Name:                 in.Name,
		Description:          in.Description,
		Region:               in.Region,
		State:                domain.StateInactive,
		SubmissionBegin:      in.SubmissionBegin,
		SubmissionEnd:        in.SubmissionEnd,
		RatingBegin:          in.RatingBegin,
		RatingEnd:            in.RatingEnd,
		BriefingDate:         in.BriefingDate,
		FinalJuryDate:        in.FinalJuryDate,
		JurorsPerApplication: in.JurorsPerApplication,
		Budget:               in.Budget,
		MinimumGrant:         in.MinimumGrant,
		MaximumGrant:         in.MaximumGrant,
	}
	created, err := s.store.CreateFund(ctx, f)
	if err != nil {
		return domain.Fund{}, err
	}

	s.log.WithField("fund_id", created.ID).
		WithField("name", created.Name).
		Info("fund created")
	return created, nil
}

// Update replaces a fund's editable attributes. Finished funds are frozen.
func (s *Service) Update(ctx context.Context, actorID, fundID string, in Input) (domain.Fund, error) {
	if err := s.requireManager(ctx, actorID); err != nil {
		return domain.Fund{}, err
	}
	f, err := s.store.GetFund(ctx, fundID)
	if err != nil {
		return domain.Fund{}, err
	}
	if f.State == domain.StateFinished {
		return domain.Fund{}, s.denied(fundID, actorID, "finished funds are frozen")
	}
	if strings.TrimSpace(in.Name) == "" {
		return domain.Fund{}, service.RequiredError("name")
	}

	f.Name = in.Name
	f.Description = in.Description
	f.Region = in.Region
	f.SubmissionBegin = in.SubmissionBegin
	f.SubmissionEnd = in.SubmissionEnd
	f.RatingBegin = in.RatingBegin
	f.RatingEnd = in.RatingEnd
	f.BriefingDate = in.BriefingDate
	f.FinalJuryDate = in.FinalJuryDate
	f.JurorsPerApplication = in.JurorsPerApplication
	f.Budget = in.Budget
	f.MinimumGrant = in.MinimumGrant
	f.MaximumGrant = in.MaximumGrant

	return s.store.UpdateFund(ctx, f)
}

// Activate opens the fund for applications. The calendar must be coherent
// before a fund goes live.
func (s *Service) Activate(ctx context.Context, actorID, fundID string) (domain.Fund, error) {
	if err := s.requireManager(ctx, actorID); err != nil {
		return domain.Fund{}, err
	}
	f, err := s.store.GetFund(ctx, fundID)
	if err != nil {
		return domain.Fund{}, err
	}
	if f.State == domain.StateFinished {
		return domain.Fund{}, s.denied(fundID, actorID, "finished funds cannot be reactivated")
	}

	var errs service.ValidationErrors
	if f.SubmissionBegin.IsZero() || f.SubmissionEnd.IsZero() {
		errs = append(errs, service.RequiredError("submissionWindow"))
	} else if !f.SubmissionBegin.Before(f.SubmissionEnd) {
		errs = append(errs, service.NewValidationError("submissionWindow", "begin must be before end"))
	}
	if f.RatingBegin.IsZero() || f.RatingEnd.IsZero() {
		errs = append(errs, service.RequiredError("ratingWindow"))
	} else if !f.RatingBegin.Before(f.RatingEnd) {
		errs = append(errs, service.NewValidationError("ratingWindow", "begin must be before end"))
	}
	if f.Budget <= 0 {
		errs = append(errs, service.NewValidationError("budget", "must be positive"))
	}
	if f.MinimumGrant > f.MaximumGrant {
		errs = append(errs, service.NewValidationError("minimumGrant", "must not exceed maximumGrant"))
	}
	if len(errs) > 0 {
		return domain.Fund{}, errs
	}

	f.State = domain.StateActive
	updated, err := s.store.UpdateFund(ctx, f)
	if err != nil {
		return domain.Fund{}, err
	}
	s.log.WithField("fund_id", fundID).Info("fund activated")
	return updated, nil
}

// Finish closes the fund permanently.
func (s *Service) Finish(ctx context.Context, actorID, fundID string) (domain.Fund, error) {
	if err := s.requireManager(ctx, actorID); err != nil {
		return domain.Fund{}, err
	}
	f, err := s.store.GetFund(ctx, fundID)
	if err != nil {
		return domain.Fund{}, err
	}
	if f.State == domain.StateFinished {
		return f, nil
	}
	f.State = domain.StateFinished
	updated, err := s.store.UpdateFund(ctx, f)
	if err != nil {
		return domain.Fund{}, err
	}
	s.log.WithField("fund_id", fundID).Info("fund finished")
	return updated, nil
}

// AddConcretization appends an ordered applicant question. Questions are
// authored before activation; changing them under live applications would
// invalidate answers already given.
func (s *Service) AddConcretization(ctx context.Context, actorID, fundID, question string, maxLength int) (domain.Fund, error) {
	if err := s.requireManager(ctx, actorID); err != nil {
		return domain.Fund{}, err
	}
	f, err := s.store.GetFund(ctx, fundID)
	if err != nil {
		return domain.Fund{}, err
	}
	if f.State != domain.StateInactive {
		return domain.Fund{}, s.denied(fundID, actorID, "questions are authored while inactive")
	}
	if strings.TrimSpace(question) == "" {
		return domain.Fund{}, service.RequiredError("question")
	}
	if maxLength <= 0 {
		return domain.Fund{}, service.NewValidationError("maxLength", "must be positive")
	}

	f.Concretizations = append(f.Concretizations, domain.Concretization{
		ID:        uuid.NewString(),
		FundID:    fundID,
		Order:     len(f.Concretizations) + 1,
		Question:  question,
		MaxLength: maxLength,
	})
	return s.store.UpdateFund(ctx, f)
}

// AddCriterion appends a rating criterion jurors score against.
func (s *Service) AddCriterion(ctx context.Context, actorID, fundID, question string, points int, jury bool) (domain.Fund, error) {
	if err := s.requireManager(ctx, actorID); err != nil {
		return domain.Fund{}, err
	}
	f, err := s.store.GetFund(ctx, fundID)
	if err != nil {
		return domain.Fund{}, err
	}
	if f.State != domain.StateInactive {
		return domain.Fund{}, s.denied(fundID, actorID, "criteria are authored while inactive")
	}
	if strings.TrimSpace(question) == "" {
		return domain.Fund{}, service.RequiredError("question")
	}
	if points <= 0 {
		return domain.Fund{}, service.NewValidationError("points", "must be positive")
	}

	c := domain.Criterion{
		ID:       uuid.NewString(),
		FundID:   fundID,
		Question: question,
		Points:   points,
	}
	if jury {
		f.JuryCriteria = append(f.JuryCriteria, c)
	} else {
		f.Criteria = append(f.Criteria, c)
	}
	return s.store.UpdateFund(ctx, f)
}

// Get returns a fund by id.
func (s *Service) Get(ctx context.Context, id string) (domain.Fund, error) {
	return s.store.GetFund(ctx, id)
}

// List returns all funds.
func (s *Service) List(ctx context.Context) ([]domain.Fund, error) {
	return s.store.ListFunds(ctx)
}

func (s *Service) requireManager(ctx context.Context, actorID string) error {
	actor, err := s.users.GetUser(ctx, actorID)
	if err != nil {
		return err
	}
	if actor.IsDeleted() || !actor.Active {
		return s.denied("", actorID, "inactive account")
	}
	if !actor.HasRole(user.RoleAdmin) && !actor.HasRole(user.RoleProcessOwner) {
		return s.denied("", actorID, "admin or process owner required")
	}
	return nil
}

func (s *Service) denied(fundID, actorID, reason string) error {
	err := service.NewAccessDeniedError("fund", fundID, actorID)
	err.Reason = reason
	return err
}
