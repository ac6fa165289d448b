package project

import "time"

// Progress is a project's forward-only pipeline stage.
type Progress string

const (
	ProgressIdea                 Progress = "idea"
	ProgressCreatingProfile      Progress = "creating_profile"
	ProgressCreatingPlan         Progress = "creating_plan"
	ProgressCreatingApplication  Progress = "creating_application"
	ProgressApplicationSubmitted Progress = "application_submitted"
)

var progressRank = map[Progress]int{
	ProgressIdea:                 0,
	ProgressCreatingProfile:      1,
	ProgressCreatingPlan:         2,
	ProgressCreatingApplication:  3,
	ProgressApplicationSubmitted: 4,
}

// Rank returns the stage position, -1 for unknown values.
func (p Progress) Rank() int {
	r, ok := progressRank[p]
	if !ok {
		return -1
	}
	return r
}

// AtLeast reports whether p has reached stage other.
func (p Progress) AtLeast(other Progress) bool {
	return p.Rank() >= other.Rank() && other.Rank() >= 0
}

// State is orthogonal to progress.
type State string

const (
	StateActive      State = "active"
	StateInactive    State = "inactive"
	StateDeactivated State = "deactivated"
)

// Self-assessments move in discrete quarter steps only.
var selfAssessmentSteps = [...]int{0, 25, 50, 75, 100}

// ValidSelfAssessment reports whether v is one of the allowed steps.
func ValidSelfAssessment(v int) bool {
	for _, s := range selfAssessmentSteps {
		if v == s {
			return true
		}
	}
	return false
}

// MembershipRole qualifies a user's relation to a project.
type MembershipRole string

const (
	RoleOwner     MembershipRole = "owner"
	RoleMember    MembershipRole = "member"
	RoleApplicant MembershipRole = "applicant"
)

// Membership links a user to a project. One membership per (project, user).
type Membership struct {
	ID        string
	ProjectID string
	UserID    string
	Role      MembershipRole
	CreatedAt time.Time
}

// Project is a unit of work applying to funds.
type Project struct {
	ID       string
	Progress Progress
	State    State

	// Profile
	Name                  string
	ShortDescription      string
	Description           string
	Challenges            string
	Delimitation          string
	Goal                  string
	Vision                string
	ProfileSelfAssessment int

	// Plan
	Tasks              string
	WorkPackages       string
	Outcome            string
	Impact             string
	Results            string
	TargetGroups       string
	Utilization        string
	PlanSelfAssessment int

	Locked        bool
	InspirationID *string
	CreatedByID   string
	CreatedAt     time.Time
	UpdatedAt     time.Time
	DeletedAt     *time.Time

	Memberships []Membership
}

// IsProfileComplete is true iff every profile text field is non-empty and
// the profile self-assessment sits at 100. Partial credit does not count.
// Recomputed on demand, never cached.
func (p Project) IsProfileComplete() bool {
	for _, field := range []string{
		p.Name,
		p.ShortDescription,
		p.Description,
		p.Challenges,
		p.Delimitation,
		p.Goal,
		p.Vision,
	} {
		if field == "" {
			return false
		}
	}
	return p.ProfileSelfAssessment == 100
}

func (p Project) IsDeleted() bool { return p.DeletedAt != nil }

// UserIsOwner reports whether userID holds an owner membership.
func (p Project) UserIsOwner(userID string) bool {
	for _, m := range p.Memberships {
		if m.UserID == userID && m.Role == RoleOwner {
			return true
		}
	}
	return false
}

// UserIsMember accepts owner and member roles. An applicant is not yet a
// collaborator and counts for neither check.
func (p Project) UserIsMember(userID string) bool {
	for _, m := range p.Memberships {
		if m.UserID == userID && (m.Role == RoleOwner || m.Role == RoleMember) {
			return true
		}
	}
	return false
}
