package storage

import (
	"context"
	"time"

	"github.com/civicworks/grantflow/internal/app/domain/application"
	"github.com/civicworks/grantflow/internal/app/domain/fund"
	"github.com/civicworks/grantflow/internal/app/domain/project"
	"github.com/civicworks/grantflow/internal/app/domain/user"
	"github.com/civicworks/grantflow/internal/app/domain/validation"
)

// Stores return typed errors from internal/app/core/service: NotFoundError
// for missing records and ConflictError for uniqueness violations, so
// services can classify failures with errors.Is.

// UserStore persists accounts. Get by id returns soft-deleted users (the
// record survives deletion); lookups by email or username and listings
// exclude them.
type UserStore interface {
	CreateUser(ctx context.Context, u user.User) (user.User, error)
	UpdateUser(ctx context.Context, u user.User) (user.User, error)
	GetUser(ctx context.Context, id string) (user.User, error)
	GetUserByEmail(ctx context.Context, email string) (user.User, error)
	GetUserByUsername(ctx context.Context, username string) (user.User, error)
	ListUsers(ctx context.Context) ([]user.User, error)
}

// ValidationStore persists validation tokens. DeleteToken is idempotent and
// reports whether a record was removed, so concurrent confirm/purge races
// resolve without errors.
type ValidationStore interface {
	CreateToken(ctx context.Context, t validation.Token) (validation.Token, error)
	GetToken(ctx context.Context, id string) (validation.Token, error)
	DeleteToken(ctx context.Context, id string) (bool, error)
	ListExpiredTokens(ctx context.Context, now time.Time) ([]validation.Token, error)
	DeleteTokensByUser(ctx context.Context, userID string) (int, error)
}

// ProjectStore persists projects and their memberships. Projects are
// returned with memberships populated.
type ProjectStore interface {
	CreateProject(ctx context.Context, p project.Project) (project.Project, error)
	UpdateProject(ctx context.Context, p project.Project) (project.Project, error)
	GetProject(ctx context.Context, id string) (project.Project, error)
	ListProjects(ctx context.Context, includeDeleted bool) ([]project.Project, error)

	CreateMembership(ctx context.Context, m project.Membership) (project.Membership, error)
	DeleteMembership(ctx context.Context, id string) error
	ListMembershipsByUser(ctx context.Context, userID string) ([]project.Membership, error)
	DeleteMembershipsByUser(ctx context.Context, userID string) (int, error)
}

// FundStore persists funding rounds together with their criteria and
// concretization questions.
type FundStore interface {
	CreateFund(ctx context.Context, f fund.Fund) (fund.Fund, error)
	UpdateFund(ctx context.Context, f fund.Fund) (fund.Fund, error)
	GetFund(ctx context.Context, id string) (fund.Fund, error)
	ListFunds(ctx context.Context) ([]fund.Fund, error)
}

// ApplicationStore persists fund applications and jury ratings.
// CreateApplication enforces uniqueness on (fund, project).
type ApplicationStore interface {
	CreateApplication(ctx context.Context, a application.FundApplication) (application.FundApplication, error)
	UpdateApplication(ctx context.Context, a application.FundApplication) (application.FundApplication, error)
	GetApplication(ctx context.Context, id string) (application.FundApplication, error)
	GetApplicationByFundAndProject(ctx context.Context, fundID, projectID string) (application.FundApplication, error)
	ListApplicationsByFund(ctx context.Context, fundID string) ([]application.FundApplication, error)
	ListApplicationsByProject(ctx context.Context, projectID string) ([]application.FundApplication, error)
	DeleteApplication(ctx context.Context, id string) error

	UpsertRating(ctx context.Context, r application.JuryRating) (application.JuryRating, error)
}
