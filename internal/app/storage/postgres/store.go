package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"

	"github.com/civicworks/grantflow/internal/app/core/service"
	"github.com/civicworks/grantflow/internal/app/domain/application"
	"github.com/civicworks/grantflow/internal/app/domain/fund"
	"github.com/civicworks/grantflow/internal/app/domain/project"
	"github.com/civicworks/grantflow/internal/app/domain/user"
	"github.com/civicworks/grantflow/internal/app/domain/validation"
	"github.com/civicworks/grantflow/internal/app/storage"
	"github.com/google/uuid"
)

// Store implements the storage interfaces backed by PostgreSQL.
type Store struct {
	db *sqlx.DB
}

var _ storage.UserStore = (*Store)(nil)
var _ storage.ValidationStore = (*Store)(nil)
var _ storage.ProjectStore = (*Store)(nil)
var _ storage.FundStore = (*Store)(nil)
var _ storage.ApplicationStore = (*Store)(nil)

// New creates a Store using the provided database handle.
func New(db *sqlx.DB) *Store {
	return &Store{db: db}
}

// Connect opens and pings a database.
func Connect(ctx context.Context, dsn string) (*sqlx.DB, error) {
	return sqlx.ConnectContext(ctx, "postgres", dsn)
}

const uniqueViolation = "23505"

// translate maps driver errors onto the typed errors the storage contract
// promises.
func translate(err error, resource, id string) error {
	if errors.Is(err, sql.ErrNoRows) {
		return service.NewNotFoundError(resource, id)
	}
	var pqErr *pq.Error
	if errors.As(err, &pqErr) && pqErr.Code == uniqueViolation {
		return service.NewConflictError(resource, id, pqErr.Constraint)
	}
	return err
}

// --- UserStore --------------------------------------------------------------

func (s *Store) CreateUser(ctx context.Context, u user.User) (user.User, error) {
	if u.ID == "" {
		u.ID = uuid.NewString()
	}
	now := time.Now().UTC()
	u.CreatedAt = now
	u.UpdatedAt = now

	rolesJSON, err := json.Marshal(u.Roles)
	if err != nil {
		return user.User{}, err
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO users (id, username, email, first_name, last_name, password_hash,
			roles, active, validated, created_at, updated_at, deleted_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
	`, u.ID, u.Username, u.Email, u.FirstName, u.LastName, u.PasswordHash,
		rolesJSON, u.Active, u.Validated, u.CreatedAt, u.UpdatedAt, u.DeletedAt)
	if err != nil {
		return user.User{}, translate(err, "user", u.ID)
	}
	return u, nil
}

func (s *Store) UpdateUser(ctx context.Context, u user.User) (user.User, error) {
	existing, err := s.GetUser(ctx, u.ID)
	if err != nil {
		return user.User{}, err
	}
	u.CreatedAt = existing.CreatedAt
	u.UpdatedAt = time.Now().UTC()

	rolesJSON, err := json.Marshal(u.Roles)
	if err != nil {
		return user.User{}, err
	}

	result, err := s.db.ExecContext(ctx, `
		UPDATE users
		SET username = $2, email = $3, first_name = $4, last_name = $5,
			password_hash = $6, roles = $7, active = $8, validated = $9,
			updated_at = $10, deleted_at = $11
		WHERE id = $1
	`, u.ID, u.Username, u.Email, u.FirstName, u.LastName,
		u.PasswordHash, rolesJSON, u.Active, u.Validated,
		u.UpdatedAt, u.DeletedAt)
	if err != nil {
		return user.User{}, translate(err, "user", u.ID)
	}
	if rows, _ := result.RowsAffected(); rows == 0 {
		return user.User{}, service.NewNotFoundError("user", u.ID)
	}
	return u, nil
}

const userColumns = `id, username, email, first_name, last_name, password_hash,
	roles, active, validated, created_at, updated_at, deleted_at`

func (s *Store) scanUser(row *sql.Row) (user.User, error) {
	var (
		u        user.User
		rolesRaw []byte
	)
	if err := row.Scan(&u.ID, &u.Username, &u.Email, &u.FirstName, &u.LastName,
		&u.PasswordHash, &rolesRaw, &u.Active, &u.Validated,
		&u.CreatedAt, &u.UpdatedAt, &u.DeletedAt); err != nil {
		return user.User{}, err
	}
	if len(rolesRaw) > 0 {
		_ = json.Unmarshal(rolesRaw, &u.Roles)
	}
	return u, nil
}

// GetUser returns the record even after soft deletion; the anonymized
// remnant stays addressable by id.
func (s *Store) GetUser(ctx context.Context, id string) (user.User, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+userColumns+` FROM users WHERE id = $1`, id)
	u, err := s.scanUser(row)
	if err != nil {
		return user.User{}, translate(err, "user", id)
	}
	return u, nil
}

func (s *Store) GetUserByEmail(ctx context.Context, email string) (user.User, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT `+userColumns+` FROM users WHERE email = $1 AND deleted_at IS NULL
	`, email)
	u, err := s.scanUser(row)
	if err != nil {
		return user.User{}, translate(err, "user", email)
	}
	return u, nil
}

func (s *Store) GetUserByUsername(ctx context.Context, username string) (user.User, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT `+userColumns+` FROM users WHERE username = $1 AND deleted_at IS NULL
	`, username)
	u, err := s.scanUser(row)
	if err != nil {
		return user.User{}, translate(err, "user", username)
	}
	return u, nil
}

func (s *Store) ListUsers(ctx context.Context) ([]user.User, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+userColumns+` FROM users WHERE deleted_at IS NULL ORDER BY created_at
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []user.User
	for rows.Next() {
		var (
			u        user.User
			rolesRaw []byte
		)
		if err := rows.Scan(&u.ID, &u.Username, &u.Email, &u.FirstName, &u.LastName,
			&u.PasswordHash, &rolesRaw, &u.Active, &u.Validated,
			&u.CreatedAt, &u.UpdatedAt, &u.DeletedAt); err != nil {
			return nil, err
		}
		if len(rolesRaw) > 0 {
			_ = json.Unmarshal(rolesRaw, &u.Roles)
		}
		out = append(out, u)
	}
	return out, rows.Err()
}

// --- ValidationStore --------------------------------------------------------

func (s *Store) CreateToken(ctx context.Context, t validation.Token) (validation.Token, error) {
	if t.ID == "" {
		t.ID = uuid.NewString()
	}
	t.CreatedAt = time.Now().UTC()

	contentJSON, err := json.Marshal(t.Content)
	if err != nil {
		return validation.Token{}, err
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO validation_tokens (id, user_id, type, token, content, expires_at, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
	`, t.ID, t.UserID, string(t.Type), t.Token, contentJSON, t.ExpiresAt, t.CreatedAt)
	if err != nil {
		return validation.Token{}, translate(err, "validation", t.ID)
	}
	return t, nil
}

func (s *Store) GetToken(ctx context.Context, id string) (validation.Token, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, user_id, type, token, content, expires_at, created_at
		FROM validation_tokens
		WHERE id = $1
	`, id)

	var (
		t          validation.Token
		typ        string
		contentRaw []byte
	)
	if err := row.Scan(&t.ID, &t.UserID, &typ, &t.Token, &contentRaw, &t.ExpiresAt, &t.CreatedAt); err != nil {
		return validation.Token{}, translate(err, "validation", id)
	}
	t.Type = validation.Type(typ)
	if len(contentRaw) > 0 {
		_ = json.Unmarshal(contentRaw, &t.Content)
	}
	return t, nil
}

func (s *Store) DeleteToken(ctx context.Context, id string) (bool, error) {
	result, err := s.db.ExecContext(ctx, `DELETE FROM validation_tokens WHERE id = $1`, id)
	if err != nil {
		return false, err
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return false, err
	}
	return rows > 0, nil
}

func (s *Store) ListExpiredTokens(ctx context.Context, now time.Time) ([]validation.Token, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, user_id, type, token, content, expires_at, created_at
		FROM validation_tokens
		WHERE expires_at <= $1
	`, now)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []validation.Token
	for rows.Next() {
		var (
			t          validation.Token
			typ        string
			contentRaw []byte
		)
		if err := rows.Scan(&t.ID, &t.UserID, &typ, &t.Token, &contentRaw, &t.ExpiresAt, &t.CreatedAt); err != nil {
			return nil, err
		}
		t.Type = validation.Type(typ)
		if len(contentRaw) > 0 {
			_ = json.Unmarshal(contentRaw, &t.Content)
		}
		out = append(out, t)
	}
	return out, rows.Err()
}

func (s *Store) DeleteTokensByUser(ctx context.Context, userID string) (int, error) {
	result, err := s.db.ExecContext(ctx, `DELETE FROM validation_tokens WHERE user_id = $1`, userID)
	if err != nil {
		return 0, err
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return 0, err
	}
	return int(rows), nil
}

// --- ProjectStore -----------------------------------------------------------

const projectColumns = `id, progress, state, name, short_description, description,
	challenges, delimitation, goal, vision, profile_self_assessment,
	tasks, work_packages, outcome, impact, results, target_groups, utilization,
	plan_self_assessment, locked, inspiration_id, created_by, created_at, updated_at, deleted_at`

func (s *Store) CreateProject(ctx context.Context, p project.Project) (project.Project, error) {
	if p.ID == "" {
		p.ID = uuid.NewString()
	}
	now := time.Now().UTC()
	p.CreatedAt = now
	p.UpdatedAt = now

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO projects (`+projectColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14,
			$15, $16, $17, $18, $19, $20, $21, $22, $23, $24, $25)
	`, p.ID, string(p.Progress), string(p.State), p.Name, p.ShortDescription, p.Description,
		p.Challenges, p.Delimitation, p.Goal, p.Vision, p.ProfileSelfAssessment,
		p.Tasks, p.WorkPackages, p.Outcome, p.Impact, p.Results, p.TargetGroups, p.Utilization,
		p.PlanSelfAssessment, p.Locked, p.InspirationID, p.CreatedByID, p.CreatedAt, p.UpdatedAt, p.DeletedAt)
	if err != nil {
		return project.Project{}, translate(err, "project", p.ID)
	}
	return p, nil
}

func (s *Store) UpdateProject(ctx context.Context, p project.Project) (project.Project, error) {
	p.UpdatedAt = time.Now().UTC()

	result, err := s.db.ExecContext(ctx, `
		UPDATE projects
		SET progress = $2, state = $3, name = $4, short_description = $5,
			description = $6, challenges = $7, delimitation = $8, goal = $9,
			vision = $10, profile_self_assessment = $11, tasks = $12,
			work_packages = $13, outcome = $14, impact = $15, results = $16,
			target_groups = $17, utilization = $18, plan_self_assessment = $19,
			locked = $20, inspiration_id = $21, updated_at = $22, deleted_at = $23
		WHERE id = $1
	`, p.ID, string(p.Progress), string(p.State), p.Name, p.ShortDescription,
		p.Description, p.Challenges, p.Delimitation, p.Goal,
		p.Vision, p.ProfileSelfAssessment, p.Tasks,
		p.WorkPackages, p.Outcome, p.Impact, p.Results,
		p.TargetGroups, p.Utilization, p.PlanSelfAssessment,
		p.Locked, p.InspirationID, p.UpdatedAt, p.DeletedAt)
	if err != nil {
		return project.Project{}, translate(err, "project", p.ID)
	}
	if rows, _ := result.RowsAffected(); rows == 0 {
		return project.Project{}, service.NewNotFoundError("project", p.ID)
	}
	return s.GetProject(ctx, p.ID)
}

func (s *Store) GetProject(ctx context.Context, id string) (project.Project, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+projectColumns+` FROM projects WHERE id = $1`, id)

	var (
		p                  project.Project
		progress, state    string
	)
	if err := row.Scan(&p.ID, &progress, &state, &p.Name, &p.ShortDescription, &p.Description,
		&p.Challenges, &p.Delimitation, &p.Goal, &p.Vision, &p.ProfileSelfAssessment,
		&p.Tasks, &p.WorkPackages, &p.Outcome, &p.Impact, &p.Results, &p.TargetGroups, &p.Utilization,
		&p.PlanSelfAssessment, &p.Locked, &p.InspirationID, &p.CreatedByID,
		&p.CreatedAt, &p.UpdatedAt, &p.DeletedAt); err != nil {
		return project.Project{}, translate(err, "project", id)
	}
	p.Progress = project.Progress(progress)
	p.State = project.State(state)

	memberships, err := s.listMemberships(ctx, id)
	if err != nil {
		return project.Project{}, err
	}
	p.Memberships = memberships
	return p, nil
}

func (s *Store) ListProjects(ctx context.Context, includeDeleted bool) ([]project.Project, error) {
	query := `SELECT id FROM projects`
	if !includeDeleted {
		query += ` WHERE deleted_at IS NULL`
	}
	query += ` ORDER BY created_at`

	rows, err := s.db.QueryContext(ctx, query)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	out := make([]project.Project, 0, len(ids))
	for _, id := range ids {
		p, err := s.GetProject(ctx, id)
		if err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	return out, nil
}

func (s *Store) CreateMembership(ctx context.Context, m project.Membership) (project.Membership, error) {
	if m.ID == "" {
		m.ID = uuid.NewString()
	}
	m.CreatedAt = time.Now().UTC()

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO project_memberships (id, project_id, user_id, role, created_at)
		VALUES ($1, $2, $3, $4, $5)
	`, m.ID, m.ProjectID, m.UserID, string(m.Role), m.CreatedAt)
	if err != nil {
		return project.Membership{}, translate(err, "membership", m.ID)
	}
	return m, nil
}

func (s *Store) DeleteMembership(ctx context.Context, id string) error {
	result, err := s.db.ExecContext(ctx, `DELETE FROM project_memberships WHERE id = $1`, id)
	if err != nil {
		return err
	}
	if rows, _ := result.RowsAffected(); rows == 0 {
		return service.NewNotFoundError("membership", id)
	}
	return nil
}

func (s *Store) ListMembershipsByUser(ctx context.Context, userID string) ([]project.Membership, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, project_id, user_id, role, created_at
		FROM project_memberships
		WHERE user_id = $1
		ORDER BY created_at
	`, userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanMemberships(rows)
}

func (s *Store) DeleteMembershipsByUser(ctx context.Context, userID string) (int, error) {
	result, err := s.db.ExecContext(ctx, `DELETE FROM project_memberships WHERE user_id = $1`, userID)
	if err != nil {
		return 0, err
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return 0, err
	}
	return int(rows), nil
}

func (s *Store) listMemberships(ctx context.Context, projectID string) ([]project.Membership, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, project_id, user_id, role, created_at
		FROM project_memberships
		WHERE project_id = $1
		ORDER BY created_at
	`, projectID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanMemberships(rows)
}

func scanMemberships(rows *sql.Rows) ([]project.Membership, error) {
	var out []project.Membership
	for rows.Next() {
		var (
			m    project.Membership
			role string
		)
		if err := rows.Scan(&m.ID, &m.ProjectID, &m.UserID, &role, &m.CreatedAt); err != nil {
			return nil, err
		}
		m.Role = project.MembershipRole(role)
		out = append(out, m)
	}
	return out, rows.Err()
}

// --- FundStore --------------------------------------------------------------

func (s *Store) CreateFund(ctx context.Context, f fund.Fund) (fund.Fund, error) {
	if f.ID == "" {
		f.ID = uuid.NewString()
	}
	now := time.Now().UTC()
	f.CreatedAt = now
	f.UpdatedAt = now

	criteriaJSON, concretizationsJSON, juryJSON, err := marshalFundLists(f)
	if err != nil {
		return fund.Fund{}, err
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO funds (id, process_id, name, description, region, state,
			submission_begin, submission_end, rating_begin, rating_end,
			briefing_date, final_jury_date, jurors_per_application,
			budget, minimum_grant, maximum_grant,
			criteria, concretizations, jury_criteria, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10,
			$11, $12, $13, $14, $15, $16, $17, $18, $19, $20, $21)
	`, f.ID, f.ProcessID, f.Name, f.Description, f.Region, string(f.State),
		f.SubmissionBegin, f.SubmissionEnd, f.RatingBegin, f.RatingEnd,
		f.BriefingDate, f.FinalJuryDate, f.JurorsPerApplication,
		f.Budget, f.MinimumGrant, f.MaximumGrant,
		criteriaJSON, concretizationsJSON, juryJSON, f.CreatedAt, f.UpdatedAt)
	if err != nil {
		return fund.Fund{}, translate(err, "fund", f.ID)
	}
	return f, nil
}

func (s *Store) UpdateFund(ctx context.Context, f fund.Fund) (fund.Fund, error) {
	f.UpdatedAt = time.Now().UTC()

	criteriaJSON, concretizationsJSON, juryJSON, err := marshalFundLists(f)
	if err != nil {
		return fund.Fund{}, err
	}

	result, err := s.db.ExecContext(ctx, `
		UPDATE funds
		SET process_id = $2, name = $3, description = $4, region = $5, state = $6,
			submission_begin = $7, submission_end = $8, rating_begin = $9,
			rating_end = $10, briefing_date = $11, final_jury_date = $12,
			jurors_per_application = $13, budget = $14, minimum_grant = $15,
			maximum_grant = $16, criteria = $17, concretizations = $18,
			jury_criteria = $19, updated_at = $20
		WHERE id = $1
	`, f.ID, f.ProcessID, f.Name, f.Description, f.Region, string(f.State),
		f.SubmissionBegin, f.SubmissionEnd, f.RatingBegin,
		f.RatingEnd, f.BriefingDate, f.FinalJuryDate,
		f.JurorsPerApplication, f.Budget, f.MinimumGrant,
		f.MaximumGrant, criteriaJSON, concretizationsJSON,
		juryJSON, f.UpdatedAt)
	if err != nil {
		return fund.Fund{}, translate(err, "fund", f.ID)
	}
	if rows, _ := result.RowsAffected(); rows == 0 {
		return fund.Fund{}, service.NewNotFoundError("fund", f.ID)
	}
	return f, nil
}

func (s *Store) GetFund(ctx context.Context, id string) (fund.Fund, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, process_id, name, description, region, state,
			submission_begin, submission_end, rating_begin, rating_end,
			briefing_date, final_jury_date, jurors_per_application,
			budget, minimum_grant, maximum_grant,
			criteria, concretizations, jury_criteria, created_at, updated_at
		FROM funds
		WHERE id = $1
	`, id)

	f, err := scanFund(row.Scan)
	if err != nil {
		return fund.Fund{}, translate(err, "fund", id)
	}
	return f, nil
}

func (s *Store) ListFunds(ctx context.Context) ([]fund.Fund, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, process_id, name, description, region, state,
			submission_begin, submission_end, rating_begin, rating_end,
			briefing_date, final_jury_date, jurors_per_application,
			budget, minimum_grant, maximum_grant,
			criteria, concretizations, jury_criteria, created_at, updated_at
		FROM funds
		ORDER BY created_at
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []fund.Fund
	for rows.Next() {
		f, err := scanFund(rows.Scan)
		if err != nil {
			return nil, err
		}
		out = append(out, f)
	}
	return out, rows.Err()
}

func marshalFundLists(f fund.Fund) (criteria, concretizations, jury []byte, err error) {
	if criteria, err = json.Marshal(f.Criteria); err != nil {
		return nil, nil, nil, err
	}
	if concretizations, err = json.Marshal(f.Concretizations); err != nil {
		return nil, nil, nil, err
	}
	if jury, err = json.Marshal(f.JuryCriteria); err != nil {
		return nil, nil, nil, err
	}
	return criteria, concretizations, jury, nil
}

func scanFund(scan func(dest ...any) error) (fund.Fund, error) {
	var (
		f                                     fund.Fund
		state                                 string
		criteriaRaw, concretizationsRaw, juryRaw []byte
	)
	if err := scan(&f.ID, &f.ProcessID, &f.Name, &f.Description, &f.Region, &state,
		&f.SubmissionBegin, &f.SubmissionEnd, &f.RatingBegin, &f.RatingEnd,
		&f.BriefingDate, &f.FinalJuryDate, &f.JurorsPerApplication,
		&f.Budget, &f.MinimumGrant, &f.MaximumGrant,
		&criteriaRaw, &concretizationsRaw, &juryRaw, &f.CreatedAt, &f.UpdatedAt); err != nil {
		return fund.Fund{}, err
	}
	f.State = fund.State(state)
	if len(criteriaRaw) > 0 {
		_ = json.Unmarshal(criteriaRaw, &f.Criteria)
	}
	if len(concretizationsRaw) > 0 {
		_ = json.Unmarshal(concretizationsRaw, &f.Concretizations)
	}
	if len(juryRaw) > 0 {
		_ = json.Unmarshal(juryRaw, &f.JuryCriteria)
	}
	return f, nil
}

// --- ApplicationStore -------------------------------------------------------

const applicationColumns = `id, fund_id, project_id, state, concretizations,
	concretization_self_assessment, requested_funding, application_self_assessment,
	jury_comment, jury_order, created_at, updated_at, submitted_at`

func (s *Store) CreateApplication(ctx context.Context, a application.FundApplication) (application.FundApplication, error) {
	if a.ID == "" {
		a.ID = uuid.NewString()
	}
	now := time.Now().UTC()
	a.CreatedAt = now
	a.UpdatedAt = now

	answersJSON, err := json.Marshal(a.Concretizations)
	if err != nil {
		return application.FundApplication{}, err
	}

	// unique (fund_id, project_id) backs the one-application-per-pair rule.
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO fund_applications (`+applicationColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)
	`, a.ID, a.FundID, a.ProjectID, string(a.State), answersJSON,
		a.ConcretizationSelfAssessment, a.RequestedFunding, a.ApplicationSelfAssessment,
		a.JuryComment, a.JuryOrder, a.CreatedAt, a.UpdatedAt, a.SubmittedAt)
	if err != nil {
		return application.FundApplication{}, translate(err, "application", a.ID)
	}
	return a, nil
}

func (s *Store) UpdateApplication(ctx context.Context, a application.FundApplication) (application.FundApplication, error) {
	a.UpdatedAt = time.Now().UTC()

	answersJSON, err := json.Marshal(a.Concretizations)
	if err != nil {
		return application.FundApplication{}, err
	}

	result, err := s.db.ExecContext(ctx, `
		UPDATE fund_applications
		SET state = $2, concretizations = $3, concretization_self_assessment = $4,
			requested_funding = $5, application_self_assessment = $6,
			jury_comment = $7, jury_order = $8, updated_at = $9, submitted_at = $10
		WHERE id = $1
	`, a.ID, string(a.State), answersJSON, a.ConcretizationSelfAssessment,
		a.RequestedFunding, a.ApplicationSelfAssessment,
		a.JuryComment, a.JuryOrder, a.UpdatedAt, a.SubmittedAt)
	if err != nil {
		return application.FundApplication{}, translate(err, "application", a.ID)
	}
	if rows, _ := result.RowsAffected(); rows == 0 {
		return application.FundApplication{}, service.NewNotFoundError("application", a.ID)
	}
	return s.GetApplication(ctx, a.ID)
}

func (s *Store) GetApplication(ctx context.Context, id string) (application.FundApplication, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT `+applicationColumns+` FROM fund_applications WHERE id = $1
	`, id)
	a, err := scanApplication(row.Scan)
	if err != nil {
		return application.FundApplication{}, translate(err, "application", id)
	}
	ratings, err := s.listRatings(ctx, a.ID)
	if err != nil {
		return application.FundApplication{}, err
	}
	a.Ratings = ratings
	return a, nil
}

func (s *Store) GetApplicationByFundAndProject(ctx context.Context, fundID, projectID string) (application.FundApplication, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT `+applicationColumns+` FROM fund_applications
		WHERE fund_id = $1 AND project_id = $2
	`, fundID, projectID)
	a, err := scanApplication(row.Scan)
	if err != nil {
		return application.FundApplication{}, translate(err, "application", "")
	}
	ratings, err := s.listRatings(ctx, a.ID)
	if err != nil {
		return application.FundApplication{}, err
	}
	a.Ratings = ratings
	return a, nil
}

func (s *Store) ListApplicationsByFund(ctx context.Context, fundID string) ([]application.FundApplication, error) {
	return s.listApplications(ctx, `fund_id`, fundID)
}

func (s *Store) ListApplicationsByProject(ctx context.Context, projectID string) ([]application.FundApplication, error) {
	return s.listApplications(ctx, `project_id`, projectID)
}

func (s *Store) listApplications(ctx context.Context, column, value string) ([]application.FundApplication, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+applicationColumns+` FROM fund_applications
		WHERE `+column+` = $1
		ORDER BY jury_order, created_at
	`, value)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []application.FundApplication
	for rows.Next() {
		a, err := scanApplication(rows.Scan)
		if err != nil {
			return nil, err
		}
		out = append(out, a)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	for i := range out {
		ratings, err := s.listRatings(ctx, out[i].ID)
		if err != nil {
			return nil, err
		}
		out[i].Ratings = ratings
	}
	return out, nil
}

func scanApplication(scan func(dest ...any) error) (application.FundApplication, error) {
	var (
		a          application.FundApplication
		state      string
		answersRaw []byte
	)
	if err := scan(&a.ID, &a.FundID, &a.ProjectID, &state, &answersRaw,
		&a.ConcretizationSelfAssessment, &a.RequestedFunding, &a.ApplicationSelfAssessment,
		&a.JuryComment, &a.JuryOrder, &a.CreatedAt, &a.UpdatedAt, &a.SubmittedAt); err != nil {
		return application.FundApplication{}, err
	}
	a.State = application.State(state)
	if len(answersRaw) > 0 {
		_ = json.Unmarshal(answersRaw, &a.Concretizations)
	}
	return a, nil
}

func (s *Store) DeleteApplication(ctx context.Context, id string) error {
	result, err := s.db.ExecContext(ctx, `DELETE FROM fund_applications WHERE id = $1`, id)
	if err != nil {
		return err
	}
	if rows, _ := result.RowsAffected(); rows == 0 {
		return service.NewNotFoundError("application", id)
	}
	return nil
}

func (s *Store) UpsertRating(ctx context.Context, r application.JuryRating) (application.JuryRating, error) {
	if r.ID == "" {
		r.ID = uuid.NewString()
	}
	now := time.Now().UTC()
	r.CreatedAt = now
	r.UpdatedAt = now

	ratingsJSON, err := json.Marshal(r.Ratings)
	if err != nil {
		return application.JuryRating{}, err
	}

	row := s.db.QueryRowContext(ctx, `
		INSERT INTO jury_ratings (id, application_id, juror_id, ratings, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (application_id, juror_id)
		DO UPDATE SET ratings = EXCLUDED.ratings, updated_at = EXCLUDED.updated_at
		RETURNING id, created_at
	`, r.ID, r.ApplicationID, r.JurorID, ratingsJSON, r.CreatedAt, r.UpdatedAt)
	if err := row.Scan(&r.ID, &r.CreatedAt); err != nil {
		return application.JuryRating{}, translate(err, "rating", r.ID)
	}
	return r, nil
}

func (s *Store) listRatings(ctx context.Context, applicationID string) ([]application.JuryRating, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, application_id, juror_id, ratings, created_at, updated_at
		FROM jury_ratings
		WHERE application_id = $1
		ORDER BY created_at
	`, applicationID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []application.JuryRating
	for rows.Next() {
		var (
			r          application.JuryRating
			ratingsRaw []byte
		)
		if err := rows.Scan(&r.ID, &r.ApplicationID, &r.JurorID, &ratingsRaw, &r.CreatedAt, &r.UpdatedAt); err != nil {
			return nil, err
		}
		if len(ratingsRaw) > 0 {
			_ = json.Unmarshal(ratingsRaw, &r.Ratings)
		}
		out = append(out, r)
	}
	return out, rows.Err()
}
