package application

import "time"

// State of a fund application. The label set is owned by this
// implementation.
type State string

const (
	StateOpen           State = "open"
	StateConcretization State = "concretization"
	StateSubmitted      State = "submitted"
)

// CriterionRating is one juror's score and comment for one criterion.
type CriterionRating struct {
	Rating  int
	Comment string
}

// JuryRating is one juror's full rating of one application. Unique per
// (application, juror).
type JuryRating struct {
	ID            string
	ApplicationID string
	JurorID       string
	Ratings       map[string]CriterionRating
	CreatedAt     time.Time
	UpdatedAt     time.Time
}

// FundApplication links one project to one fund; at most one per pair, ever.
type FundApplication struct {
	ID        string
	FundID    string
	ProjectID string
	State     State

	Concretizations              map[string]string
	ConcretizationSelfAssessment int
	RequestedFunding             float64
	ApplicationSelfAssessment    int

	JuryComment string
	JuryOrder   int
	Ratings     []JuryRating

	CreatedAt   time.Time
	UpdatedAt   time.Time
	SubmittedAt *time.Time
}

// IsSubmitted reports whether the application has left the applicant's
// hands. Submitted applications are immutable to normal update paths.
func (a FundApplication) IsSubmitted() bool {
	return a.State == StateSubmitted
}
