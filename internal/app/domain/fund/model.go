package fund

import "time"

// State of a funding round.
type State string

const (
	StateInactive State = "inactive"
	StateActive   State = "active"
	StateFinished State = "finished"
)

// Criterion is a rating criterion jurors score applications against.
type Criterion struct {
	ID       string
	FundID   string
	Question string
	Points   int
}

// Concretization is an ordered question applicants answer per application.
// Answers are bounded by MaxLength, checked per question.
type Concretization struct {
	ID        string
	FundID    string
	Order     int
	Question  string
	MaxLength int
}

// Fund is a funding round with a submission and rating calendar.
type Fund struct {
	ID                   string
	ProcessID            string
	Name                 string
	Description          string
	Region               string
	State                State
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
	Criteria             []Criterion
	Concretizations      []Concretization
	JuryCriteria         []Criterion
	CreatedAt            time.Time
	UpdatedAt            time.Time
}

// InSubmissionWindow reports whether now falls inside
// [SubmissionBegin, SubmissionEnd].
func (f Fund) InSubmissionWindow(now time.Time) bool {
	return !now.Before(f.SubmissionBegin) && !now.After(f.SubmissionEnd)
}

// ConcretizationByID looks a question up within this fund.
func (f Fund) ConcretizationByID(id string) (Concretization, bool) {
	for _, c := range f.Concretizations {
		if c.ID == id {
			return c, true
		}
	}
	return Concretization{}, false
}
