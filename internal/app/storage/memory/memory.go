package memory

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/civicworks/grantflow/internal/app/core/service"
	"github.com/civicworks/grantflow/internal/app/domain/application"
	"github.com/civicworks/grantflow/internal/app/domain/fund"
	"github.com/civicworks/grantflow/internal/app/domain/project"
	"github.com/civicworks/grantflow/internal/app/domain/user"
	"github.com/civicworks/grantflow/internal/app/domain/validation"
	"github.com/civicworks/grantflow/internal/app/storage"
)

// Store is an in-memory implementation of the storage interfaces. It is safe
// for concurrent use and is primarily intended for tests and local
// development.
type Store struct {
	mu     sync.RWMutex
	nextID int64

	users           map[string]user.User
	usersByEmail    map[string]string
	usersByUsername map[string]string

	tokens         map[string]validation.Token
	tokenStrings   map[string]string

	projects    map[string]project.Project
	memberships map[string]project.Membership

	funds map[string]fund.Fund

	applications       map[string]application.FundApplication
	applicationsByPair map[string]string

	ratings map[string]application.JuryRating
}

var _ storage.UserStore = (*Store)(nil)
var _ storage.ValidationStore = (*Store)(nil)
var _ storage.ProjectStore = (*Store)(nil)
var _ storage.FundStore = (*Store)(nil)
var _ storage.ApplicationStore = (*Store)(nil)

// New creates an empty store.
func New() *Store {
	return &Store{
		nextID:             1,
		users:              make(map[string]user.User),
		usersByEmail:       make(map[string]string),
		usersByUsername:    make(map[string]string),
		tokens:             make(map[string]validation.Token),
		tokenStrings:       make(map[string]string),
		projects:           make(map[string]project.Project),
		memberships:        make(map[string]project.Membership),
		funds:              make(map[string]fund.Fund),
		applications:       make(map[string]application.FundApplication),
		applicationsByPair: make(map[string]string),
		ratings:            make(map[string]application.JuryRating),
	}
}

func (s *Store) nextIDLocked() string {
	id := s.nextID
	s.nextID++
	return fmt.Sprintf("%d", id)
}

func pairKey(fundID, projectID string) string {
	return fundID + "|" + projectID
}

// UserStore implementation ----------------------------------------------------

func (s *Store) CreateUser(_ context.Context, u user.User) (user.User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if u.ID == "" {
		u.ID = s.nextIDLocked()
	} else if _, exists := s.users[u.ID]; exists {
		return user.User{}, service.NewConflictError("user", u.ID, "id already exists")
	}
	if _, exists := s.usersByEmail[u.Email]; exists {
		return user.User{}, service.NewConflictError("user", u.Email, "email already registered")
	}
	if _, exists := s.usersByUsername[u.Username]; exists {
		return user.User{}, service.NewConflictError("user", u.Username, "username already taken")
	}

	now := time.Now().UTC()
	u.CreatedAt = now
	u.UpdatedAt = now
	u.Roles = append([]string(nil), u.Roles...)

	s.users[u.ID] = u
	s.usersByEmail[u.Email] = u.ID
	s.usersByUsername[u.Username] = u.ID
	return cloneUser(u), nil
}

func (s *Store) UpdateUser(_ context.Context, u user.User) (user.User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	original, ok := s.users[u.ID]
	if !ok {
		return user.User{}, service.NewNotFoundError("user", u.ID)
	}
	if u.Email != original.Email {
		if owner, exists := s.usersByEmail[u.Email]; exists && owner != u.ID {
			return user.User{}, service.NewConflictError("user", u.Email, "email already registered")
		}
		delete(s.usersByEmail, original.Email)
		s.usersByEmail[u.Email] = u.ID
	}
	if u.Username != original.Username {
		if owner, exists := s.usersByUsername[u.Username]; exists && owner != u.ID {
			return user.User{}, service.NewConflictError("user", u.Username, "username already taken")
		}
		delete(s.usersByUsername, original.Username)
		s.usersByUsername[u.Username] = u.ID
	}

	u.CreatedAt = original.CreatedAt
	u.UpdatedAt = time.Now().UTC()
	u.Roles = append([]string(nil), u.Roles...)

	s.users[u.ID] = u
	return cloneUser(u), nil
}

func (s *Store) GetUser(_ context.Context, id string) (user.User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	u, ok := s.users[id]
	if !ok {
		return user.User{}, service.NewNotFoundError("user", id)
	}
	return cloneUser(u), nil
}

func (s *Store) GetUserByEmail(_ context.Context, email string) (user.User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	id, ok := s.usersByEmail[email]
	if !ok {
		return user.User{}, service.NewNotFoundError("user", email)
	}
	u := s.users[id]
	if u.IsDeleted() {
		return user.User{}, service.NewNotFoundError("user", email)
	}
	return cloneUser(u), nil
}

func (s *Store) GetUserByUsername(_ context.Context, username string) (user.User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	id, ok := s.usersByUsername[username]
	if !ok {
		return user.User{}, service.NewNotFoundError("user", username)
	}
	u := s.users[id]
	if u.IsDeleted() {
		return user.User{}, service.NewNotFoundError("user", username)
	}
	return cloneUser(u), nil
}

func (s *Store) ListUsers(_ context.Context) ([]user.User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	result := make([]user.User, 0, len(s.users))
	for _, u := range s.users {
		if u.IsDeleted() {
			continue
		}
		result = append(result, cloneUser(u))
	}
	sort.Slice(result, func(i, j int) bool { return result[i].ID < result[j].ID })
	return result, nil
}

// ValidationStore implementation ----------------------------------------------

func (s *Store) CreateToken(_ context.Context, t validation.Token) (validation.Token, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if t.ID == "" {
		t.ID = s.nextIDLocked()
	} else if _, exists := s.tokens[t.ID]; exists {
		return validation.Token{}, service.NewConflictError("validation token", t.ID, "id already exists")
	}
	if _, exists := s.tokenStrings[t.Token]; exists {
		return validation.Token{}, service.NewConflictError("validation token", t.ID, "token string collision")
	}

	t.CreatedAt = time.Now().UTC()
	t.Content = cloneMap(t.Content)

	s.tokens[t.ID] = t
	s.tokenStrings[t.Token] = t.ID
	return cloneToken(t), nil
}

func (s *Store) GetToken(_ context.Context, id string) (validation.Token, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	t, ok := s.tokens[id]
	if !ok {
		return validation.Token{}, service.NewNotFoundError("validation token", id)
	}
	return cloneToken(t), nil
}

func (s *Store) DeleteToken(_ context.Context, id string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	t, ok := s.tokens[id]
	if !ok {
		return false, nil
	}
	delete(s.tokens, id)
	delete(s.tokenStrings, t.Token)
	return true, nil
}

func (s *Store) ListExpiredTokens(_ context.Context, now time.Time) ([]validation.Token, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var result []validation.Token
	for _, t := range s.tokens {
		if t.IsExpired(now) {
			result = append(result, cloneToken(t))
		}
	}
	return result, nil
}

func (s *Store) DeleteTokensByUser(_ context.Context, userID string) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	count := 0
	for id, t := range s.tokens {
		if t.UserID == userID {
			delete(s.tokens, id)
			delete(s.tokenStrings, t.Token)
			count++
		}
	}
	return count, nil
}

// ProjectStore implementation -------------------------------------------------

func (s *Store) CreateProject(_ context.Context, p project.Project) (project.Project, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if p.ID == "" {
		p.ID = s.nextIDLocked()
	} else if _, exists := s.projects[p.ID]; exists {
		return project.Project{}, service.NewConflictError("project", p.ID, "id already exists")
	}

	now := time.Now().UTC()
	p.CreatedAt = now
	p.UpdatedAt = now
	p.Memberships = nil

	s.projects[p.ID] = p
	return s.projectWithMembershipsLocked(p), nil
}

func (s *Store) UpdateProject(_ context.Context, p project.Project) (project.Project, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	original, ok := s.projects[p.ID]
	if !ok {
		return project.Project{}, service.NewNotFoundError("project", p.ID)
	}

	p.CreatedAt = original.CreatedAt
	p.UpdatedAt = time.Now().UTC()
	p.Memberships = nil

	s.projects[p.ID] = p
	return s.projectWithMembershipsLocked(p), nil
}

func (s *Store) GetProject(_ context.Context, id string) (project.Project, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	p, ok := s.projects[id]
	if !ok {
		return project.Project{}, service.NewNotFoundError("project", id)
	}
	return s.projectWithMembershipsLocked(p), nil
}

func (s *Store) ListProjects(_ context.Context, includeDeleted bool) ([]project.Project, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	result := make([]project.Project, 0, len(s.projects))
	for _, p := range s.projects {
		if p.IsDeleted() && !includeDeleted {
			continue
		}
		result = append(result, s.projectWithMembershipsLocked(p))
	}
	sort.Slice(result, func(i, j int) bool { return result[i].ID < result[j].ID })
	return result, nil
}

func (s *Store) CreateMembership(_ context.Context, m project.Membership) (project.Membership, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.projects[m.ProjectID]; !exists {
		return project.Membership{}, service.NewNotFoundError("project", m.ProjectID)
	}
	for _, existing := range s.memberships {
		if existing.ProjectID == m.ProjectID && existing.UserID == m.UserID {
			return project.Membership{}, service.NewConflictError("membership", m.UserID, "user already related to project")
		}
	}

	if m.ID == "" {
		m.ID = s.nextIDLocked()
	}
	m.CreatedAt = time.Now().UTC()

	s.memberships[m.ID] = m
	return m, nil
}

func (s *Store) DeleteMembership(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.memberships[id]; !ok {
		return service.NewNotFoundError("membership", id)
	}
	delete(s.memberships, id)
	return nil
}

func (s *Store) ListMembershipsByUser(_ context.Context, userID string) ([]project.Membership, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var result []project.Membership
	for _, m := range s.memberships {
		if m.UserID == userID {
			result = append(result, m)
		}
	}
	sort.Slice(result, func(i, j int) bool { return result[i].ID < result[j].ID })
	return result, nil
}

func (s *Store) DeleteMembershipsByUser(_ context.Context, userID string) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	count := 0
	for id, m := range s.memberships {
		if m.UserID == userID {
			delete(s.memberships, id)
			count++
		}
	}
	return count, nil
}

func (s *Store) projectWithMembershipsLocked(p project.Project) project.Project {
	var members []project.Membership
	for _, m := range s.memberships {
		if m.ProjectID == p.ID {
			members = append(members, m)
		}
	}
	sort.Slice(members, func(i, j int) bool { return members[i].ID < members[j].ID })
	p.Memberships = members
	return p
}

// FundStore implementation ----------------------------------------------------

func (s *Store) CreateFund(_ context.Context, f fund.Fund) (fund.Fund, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if f.ID == "" {
		f.ID = s.nextIDLocked()
	} else if _, exists := s.funds[f.ID]; exists {
		return fund.Fund{}, service.NewConflictError("fund", f.ID, "id already exists")
	}

	now := time.Now().UTC()
	f.CreatedAt = now
	f.UpdatedAt = now

	s.funds[f.ID] = cloneFund(f)
	return cloneFund(f), nil
}

func (s *Store) UpdateFund(_ context.Context, f fund.Fund) (fund.Fund, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	original, ok := s.funds[f.ID]
	if !ok {
		return fund.Fund{}, service.NewNotFoundError("fund", f.ID)
	}

	f.CreatedAt = original.CreatedAt
	f.UpdatedAt = time.Now().UTC()

	s.funds[f.ID] = cloneFund(f)
	return cloneFund(f), nil
}

func (s *Store) GetFund(_ context.Context, id string) (fund.Fund, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	f, ok := s.funds[id]
	if !ok {
		return fund.Fund{}, service.NewNotFoundError("fund", id)
	}
	return cloneFund(f), nil
}

func (s *Store) ListFunds(_ context.Context) ([]fund.Fund, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	result := make([]fund.Fund, 0, len(s.funds))
	for _, f := range s.funds {
		result = append(result, cloneFund(f))
	}
	sort.Slice(result, func(i, j int) bool { return result[i].ID < result[j].ID })
	return result, nil
}

// ApplicationStore implementation ---------------------------------------------

func (s *Store) CreateApplication(_ context.Context, a application.FundApplication) (application.FundApplication, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	key := pairKey(a.FundID, a.ProjectID)
	if _, exists := s.applicationsByPair[key]; exists {
		return application.FundApplication{}, service.NewConflictError("application", a.ProjectID, "project already applied to fund")
	}
	if a.ID == "" {
		a.ID = s.nextIDLocked()
	} else if _, exists := s.applications[a.ID]; exists {
		return application.FundApplication{}, service.NewConflictError("application", a.ID, "id already exists")
	}

	now := time.Now().UTC()
	a.CreatedAt = now
	a.UpdatedAt = now
	a.Concretizations = cloneMap(a.Concretizations)
	a.Ratings = nil

	s.applications[a.ID] = a
	s.applicationsByPair[key] = a.ID
	return s.applicationWithRatingsLocked(a), nil
}

func (s *Store) UpdateApplication(_ context.Context, a application.FundApplication) (application.FundApplication, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	original, ok := s.applications[a.ID]
	if !ok {
		return application.FundApplication{}, service.NewNotFoundError("application", a.ID)
	}

	a.FundID = original.FundID
	a.ProjectID = original.ProjectID
	a.CreatedAt = original.CreatedAt
	a.UpdatedAt = time.Now().UTC()
	a.Concretizations = cloneMap(a.Concretizations)
	a.Ratings = nil

	s.applications[a.ID] = a
	return s.applicationWithRatingsLocked(a), nil
}

func (s *Store) GetApplication(_ context.Context, id string) (application.FundApplication, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	a, ok := s.applications[id]
	if !ok {
		return application.FundApplication{}, service.NewNotFoundError("application", id)
	}
	return s.applicationWithRatingsLocked(a), nil
}

func (s *Store) GetApplicationByFundAndProject(_ context.Context, fundID, projectID string) (application.FundApplication, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	id, ok := s.applicationsByPair[pairKey(fundID, projectID)]
	if !ok {
		return application.FundApplication{}, service.NewNotFoundError("application", projectID)
	}
	return s.applicationWithRatingsLocked(s.applications[id]), nil
}

func (s *Store) ListApplicationsByFund(_ context.Context, fundID string) ([]application.FundApplication, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var result []application.FundApplication
	for _, a := range s.applications {
		if a.FundID == fundID {
			result = append(result, s.applicationWithRatingsLocked(a))
		}
	}
	sort.Slice(result, func(i, j int) bool { return result[i].JuryOrder < result[j].JuryOrder })
	return result, nil
}

func (s *Store) ListApplicationsByProject(_ context.Context, projectID string) ([]application.FundApplication, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var result []application.FundApplication
	for _, a := range s.applications {
		if a.ProjectID == projectID {
			result = append(result, s.applicationWithRatingsLocked(a))
		}
	}
	sort.Slice(result, func(i, j int) bool { return result[i].ID < result[j].ID })
	return result, nil
}

func (s *Store) DeleteApplication(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	a, ok := s.applications[id]
	if !ok {
		return service.NewNotFoundError("application", id)
	}
	delete(s.applications, id)
	delete(s.applicationsByPair, pairKey(a.FundID, a.ProjectID))
	for rid, r := range s.ratings {
		if r.ApplicationID == id {
			delete(s.ratings, rid)
		}
	}
	return nil
}

func (s *Store) UpsertRating(_ context.Context, r application.JuryRating) (application.JuryRating, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.applications[r.ApplicationID]; !exists {
		return application.JuryRating{}, service.NewNotFoundError("application", r.ApplicationID)
	}

	now := time.Now().UTC()
	for id, existing := range s.ratings {
		if existing.ApplicationID == r.ApplicationID && existing.JurorID == r.JurorID {
			r.ID = id
			r.CreatedAt = existing.CreatedAt
			r.UpdatedAt = now
			r.Ratings = cloneRatings(r.Ratings)
			s.ratings[id] = r
			return cloneRating(r), nil
		}
	}

	if r.ID == "" {
		r.ID = s.nextIDLocked()
	}
	r.CreatedAt = now
	r.UpdatedAt = now
	r.Ratings = cloneRatings(r.Ratings)
	s.ratings[r.ID] = r
	return cloneRating(r), nil
}

func (s *Store) applicationWithRatingsLocked(a application.FundApplication) application.FundApplication {
	a.Concretizations = cloneMap(a.Concretizations)
	var ratings []application.JuryRating
	for _, r := range s.ratings {
		if r.ApplicationID == a.ID {
			ratings = append(ratings, cloneRating(r))
		}
	}
	sort.Slice(ratings, func(i, j int) bool { return ratings[i].ID < ratings[j].ID })
	a.Ratings = ratings
	return a
}

// Helpers ---------------------------------------------------------------------

func cloneMap(src map[string]string) map[string]string {
	if len(src) == 0 {
		return nil
	}
	dst := make(map[string]string, len(src))
	for k, v := range src {
		dst[k] = v
	}
	return dst
}

func cloneUser(u user.User) user.User {
	u.Roles = append([]string(nil), u.Roles...)
	return u
}

func cloneToken(t validation.Token) validation.Token {
	t.Content = cloneMap(t.Content)
	return t
}

func cloneFund(f fund.Fund) fund.Fund {
	f.Criteria = append([]fund.Criterion(nil), f.Criteria...)
	f.Concretizations = append([]fund.Concretization(nil), f.Concretizations...)
	f.JuryCriteria = append([]fund.Criterion(nil), f.JuryCriteria...)
	return f
}

func cloneRatings(src map[string]application.CriterionRating) map[string]application.CriterionRating {
	if len(src) == 0 {
		return nil
	}
	dst := make(map[string]application.CriterionRating, len(src))
	for k, v := range src {
		dst[k] = v
	}
	return dst
}

func cloneRating(r application.JuryRating) application.JuryRating {
	r.Ratings = cloneRatings(r.Ratings)
	return r
}
