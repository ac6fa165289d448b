package accounts

import (
	"context"
	"fmt"
	"strings"
	"time"

	"golang.org/x/crypto/bcrypt"

	"github.com/civicworks/grantflow/internal/app/core/service"
	"github.com/civicworks/grantflow/internal/app/domain/user"
	validationdomain "github.com/civicworks/grantflow/internal/app/domain/validation"
	"github.com/civicworks/grantflow/internal/app/events"
	"github.com/civicworks/grantflow/internal/app/messaging"
	"github.com/civicworks/grantflow/internal/app/storage"
	"github.com/civicworks/grantflow/pkg/logger"
	"github.com/google/uuid"
)

// Service manages accounts: registration, the deferred validation flows,
// roles, and the anonymizing delete.
type Service struct {
	store       storage.UserStore
	validations storage.ValidationStore
	projects    storage.ProjectStore
	bus         messaging.Bus
	log         *logger.Logger
	emailDomain string
}

// New creates a configured accounts service. emailDomain is the fixed
// domain anonymized addresses point at.
func New(store storage.UserStore, validations storage.ValidationStore, projects storage.ProjectStore, bus messaging.Bus, emailDomain string, log *logger.Logger) *Service {
	if log == nil {
		log = logger.NewDefault("accounts")
	}
	if emailDomain == "" {
		emailDomain = "deleted.invalid"
	}
	return &Service{
		store:       store,
		validations: validations,
		projects:    projects,
		bus:         bus,
		log:         log,
		emailDomain: emailDomain,
	}
}

// Register creates an unvalidated, active account and enqueues the
// activation flow. validationURL must contain the {{token}} and {{id}}
// markers; {{type}} is optional.
func (s *Service) Register(ctx context.Context, username, email, password, validationURL string) (user.User, error) {
	username = strings.TrimSpace(username)
	email = strings.TrimSpace(strings.ToLower(email))

	if !user.UsernamePattern.MatchString(username) {
		return user.User{}, service.NewValidationError("username", "must be 3-32 characters of letters, digits, dot, dash or underscore")
	}
	if email == "" || !strings.Contains(email, "@") {
		return user.User{}, service.NewValidationError("email", "must be a valid address")
	}
	if len(password) < 8 {
		return user.User{}, service.NewValidationError("password", "must be at least 8 characters")
	}
	if err := validateURLTemplate(validationURL); err != nil {
		return user.User{}, err
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return user.User{}, fmt.Errorf("%w: hash password: %v", service.ErrInternal, err)
	}

	created, err := s.store.CreateUser(ctx, user.User{
		ID:           uuid.NewString(),
		Username:     username,
		Email:        email,
		PasswordHash: string(hash),
		Roles:        []string{user.RoleUser},
		Active:       true,
		Validated:    false,
	})
	if err != nil {
		return user.User{}, err
	}

	// Token creation and mail delivery happen out of band; the registration
	// request has succeeded regardless of what the background job does.
	s.bus.Dispatch(messaging.Message{
		Type:        messaging.TypeUserRegistered,
		UserID:      created.ID,
		URLTemplate: validationURL,
	})

	s.log.WithField("user_id", created.ID).
		WithField("username", created.Username).
		Info("user registered")
	return created, nil
}

// RequestPasswordReset enqueues the reset flow for the account owning the
// email. Unknown addresses are not revealed to the caller.
func (s *Service) RequestPasswordReset(ctx context.Context, email, validationURL string) error {
	if err := validateURLTemplate(validationURL); err != nil {
		return err
	}
	u, err := s.store.GetUserByEmail(ctx, strings.TrimSpace(strings.ToLower(email)))
	if err != nil {
		if service.IsNotFound(err) {
			s.log.WithField("email", email).Info("password reset for unknown email, ignoring")
			return nil
		}
		return err
	}
	s.bus.Dispatch(messaging.Message{
		Type:        messaging.TypePasswordForgotten,
		UserID:      u.ID,
		URLTemplate: validationURL,
	})
	return nil
}

// RequestEmailChange enqueues the email-change flow. The pending address
// travels to the dispatcher, which stores it in the token's content.
func (s *Service) RequestEmailChange(ctx context.Context, userID, newEmail, validationURL string) error {
	newEmail = strings.TrimSpace(strings.ToLower(newEmail))
	if newEmail == "" || !strings.Contains(newEmail, "@") {
		return service.NewValidationError("email", "must be a valid address")
	}
	if err := validateURLTemplate(validationURL); err != nil {
		return err
	}
	u, err := s.store.GetUser(ctx, userID)
	if err != nil {
		return err
	}
	if u.IsDeleted() {
		return service.NewNotFoundError("user", userID)
	}
	if _, err := s.store.GetUserByEmail(ctx, newEmail); err == nil {
		return service.NewConflictError("user", newEmail, "email already registered")
	} else if !service.IsNotFound(err) {
		return err
	}

	s.bus.Dispatch(messaging.Message{
		Type:        messaging.TypeEmailChangeRequested,
		UserID:      u.ID,
		URLTemplate: validationURL,
		Payload:     map[string]string{validationdomain.ContentEmail: newEmail},
	})
	return nil
}

// Get returns a user by id, including soft-deleted records.
func (s *Service) Get(ctx context.Context, id string) (user.User, error) {
	return s.store.GetUser(ctx, id)
}

// List returns all non-deleted users.
func (s *Service) List(ctx context.Context) ([]user.User, error) {
	return s.store.ListUsers(ctx)
}

// GrantRole adds a role. The base role is implicit and cannot be granted
// explicitly.
func (s *Service) GrantRole(ctx context.Context, userID, role string) (user.User, error) {
	if role == user.RoleUser {
		return user.User{}, service.NewValidationError("role", "base role is implicit")
	}
	u, err := s.store.GetUser(ctx, userID)
	if err != nil {
		return user.User{}, err
	}
	if u.IsDeleted() {
		return user.User{}, service.NewNotFoundError("user", userID)
	}
	if u.HasRole(role) {
		return u, nil
	}
	u.Roles = append(u.Roles, role)
	return s.store.UpdateUser(ctx, u)
}

// RevokeRole removes a role.
func (s *Service) RevokeRole(ctx context.Context, userID, role string) (user.User, error) {
	u, err := s.store.GetUser(ctx, userID)
	if err != nil {
		return user.User{}, err
	}
	roles := u.Roles[:0]
	for _, r := range u.Roles {
		if r != role {
			roles = append(roles, r)
		}
	}
	u.Roles = roles
	return s.store.UpdateUser(ctx, u)
}

// Delete anonymizes the account and revokes everything it held: roles,
// project memberships, outstanding validation tokens. The record itself
// survives so references stay intact, but nothing identifying remains.
func (s *Service) Delete(ctx context.Context, userID string) error {
	u, err := s.store.GetUser(ctx, userID)
	if err != nil {
		return err
	}
	if u.IsDeleted() {
		return nil
	}

	u.Anonymize(s.emailDomain, time.Now().UTC())
	if _, err := s.store.UpdateUser(ctx, u); err != nil {
		return err
	}

	if n, err := s.validations.DeleteTokensByUser(ctx, userID); err != nil {
		s.log.WithError(err).WithField("user_id", userID).Warn("cascade token delete failed")
	} else if n > 0 {
		s.log.WithField("user_id", userID).WithField("tokens", n).Info("validation tokens removed")
	}
	if _, err := s.projects.DeleteMembershipsByUser(ctx, userID); err != nil {
		s.log.WithError(err).WithField("user_id", userID).Warn("cascade membership delete failed")
	}

	s.log.WithField("user_id", userID).Info("user deleted and anonymized")
	return nil
}

// RegisterSubscribers wires the account-side reactions to validation
// events: activation, password reset, email swap, and removal of accounts
// whose activation token expired unused.
func (s *Service) RegisterSubscribers(dispatcher *events.Dispatcher, bus messaging.Bus) {
	dispatcher.Subscribe(events.KindTokenConfirmed, func(ctx context.Context, evt events.Event) {
		switch evt.Token.Type {
		case validationdomain.TypeAccountActivation:
			s.activate(ctx, evt, bus)
		case validationdomain.TypePasswordReset:
			s.resetPassword(ctx, evt)
		case validationdomain.TypeEmailChange:
			s.changeEmail(ctx, evt)
		}
	})

	dispatcher.Subscribe(events.KindTokenExpired, func(ctx context.Context, evt events.Event) {
		if evt.Token.Type != validationdomain.TypeAccountActivation {
			return
		}
		s.removeUnvalidated(ctx, evt.UserID)
	})
}

func (s *Service) activate(ctx context.Context, evt events.Event, bus messaging.Bus) {
	u, err := s.store.GetUser(ctx, evt.UserID)
	if err != nil || u.IsDeleted() {
		s.log.WithField("user_id", evt.UserID).Warn("activation confirmed for missing user")
		return
	}
	if u.Validated {
		return
	}
	u.Validated = true
	if _, err := s.store.UpdateUser(ctx, u); err != nil {
		s.log.WithError(err).WithField("user_id", u.ID).Error("activate user failed")
		return
	}
	s.log.WithField("user_id", u.ID).Info("user validated")
	if bus != nil {
		bus.Dispatch(messaging.Message{Type: messaging.TypeUserValidated, UserID: u.ID})
	}
}

func (s *Service) resetPassword(ctx context.Context, evt events.Event) {
	password := evt.Params["password"]
	if len(password) < 8 {
		s.log.WithField("user_id", evt.UserID).Warn("password reset confirmed without usable password")
		return
	}
	u, err := s.store.GetUser(ctx, evt.UserID)
	if err != nil || u.IsDeleted() {
		return
	}
	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		s.log.WithError(err).WithField("user_id", u.ID).Error("hash new password failed")
		return
	}
	u.PasswordHash = string(hash)
	if _, err := s.store.UpdateUser(ctx, u); err != nil {
		s.log.WithError(err).WithField("user_id", u.ID).Error("store new password failed")
		return
	}
	s.log.WithField("user_id", u.ID).Info("password reset")
}

func (s *Service) changeEmail(ctx context.Context, evt events.Event) {
	newEmail := evt.Token.Content[validationdomain.ContentEmail]
	if newEmail == "" {
		s.log.WithField("user_id", evt.UserID).Warn("email change confirmed without pending address")
		return
	}
	u, err := s.store.GetUser(ctx, evt.UserID)
	if err != nil || u.IsDeleted() {
		return
	}
	u.Email = newEmail
	if _, err := s.store.UpdateUser(ctx, u); err != nil {
		s.log.WithError(err).WithField("user_id", u.ID).Error("swap email failed")
		return
	}
	s.log.WithField("user_id", u.ID).Info("email changed")
}

func (s *Service) removeUnvalidated(ctx context.Context, userID string) {
	u, err := s.store.GetUser(ctx, userID)
	if err != nil || u.IsDeleted() || u.Validated {
		return
	}
	if err := s.Delete(ctx, userID); err != nil {
		s.log.WithError(err).WithField("user_id", userID).Warn("remove never-validated account failed")
		return
	}
	s.log.WithField("user_id", userID).Info("never-validated account removed after token expiry")
}

// VerifyPassword checks a password against the stored hash.
func (s *Service) VerifyPassword(ctx context.Context, emailOrUsername, password string) (user.User, error) {
	var u user.User
	var err error
	if strings.Contains(emailOrUsername, "@") {
		u, err = s.store.GetUserByEmail(ctx, strings.ToLower(emailOrUsername))
	} else {
		u, err = s.store.GetUserByUsername(ctx, emailOrUsername)
	}
	if err != nil {
		// Same signal for unknown identifier and wrong password.
		return user.User{}, service.NewAccessDeniedError("account", emailOrUsername, "")
	}
	if !u.Active {
		return user.User{}, service.NewAccessDeniedError("account", emailOrUsername, u.ID)
	}
	if bcrypt.CompareHashAndPassword([]byte(u.PasswordHash), []byte(password)) != nil {
		return user.User{}, service.NewAccessDeniedError("account", emailOrUsername, "")
	}
	return u, nil
}

func validateURLTemplate(template string) error {
	if !strings.Contains(template, "{{token}}") {
		return service.NewValidationError("validationUrl", "missing {{token}} placeholder")
	}
	if !strings.Contains(template, "{{id}}") {
		return service.NewValidationError("validationUrl", "missing {{id}} placeholder")
	}
	return nil
}
