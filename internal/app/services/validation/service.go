package validation

import (
	"context"
	"crypto/rand"
	"encoding/base64"
	"fmt"
	"time"

	"github.com/civicworks/grantflow/internal/app/core/service"
	domain "github.com/civicworks/grantflow/internal/app/domain/validation"
	"github.com/civicworks/grantflow/internal/app/events"
	"github.com/civicworks/grantflow/internal/app/metrics"
	"github.com/civicworks/grantflow/internal/app/storage"
	"github.com/civicworks/grantflow/pkg/logger"
	"github.com/google/uuid"
)

// tokenBytes is the entropy of the opaque token string: 32 bytes before
// URL-safe base64 encoding.
const tokenBytes = 32

// DefaultTTL applies when callers pass a non-positive TTL.
const DefaultTTL = 48 * time.Hour

// Service owns the validation token store and the confirmation protocol.
// It performs no business effects beyond token bookkeeping; subscribers on
// the event dispatcher carry out the type-specific work.
type Service struct {
	users  storage.UserStore
	store  storage.ValidationStore
	events *events.Dispatcher
	ttl    time.Duration
	log    *logger.Logger
	now    func() time.Time
}

// New creates a configured validation service.
func New(users storage.UserStore, store storage.ValidationStore, dispatcher *events.Dispatcher, ttl time.Duration, log *logger.Logger) *Service {
	if log == nil {
		log = logger.NewDefault("validation")
	}
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &Service{
		users:  users,
		store:  store,
		events: dispatcher,
		ttl:    ttl,
		log:    log,
		now:    func() time.Time { return time.Now().UTC() },
	}
}

// WithClock overrides the time source. Tests only.
func (s *Service) WithClock(now func() time.Time) { s.now = now }

// Issue creates a token of the given type for the user. A non-positive ttl
// falls back to the configured default. Outstanding tokens of the same type
// are left alone; only the token string itself is unique.
func (s *Service) Issue(ctx context.Context, userID string, t domain.Type, content map[string]string, ttl time.Duration) (domain.Token, error) {
	if !t.Known() {
		return domain.Token{}, service.NewValidationError("type", fmt.Sprintf("unknown token type %q", t))
	}
	u, err := s.users.GetUser(ctx, userID)
	if err != nil {
		return domain.Token{}, err
	}
	if u.IsDeleted() {
		return domain.Token{}, service.NewNotFoundError("user", userID)
	}
	if ttl <= 0 {
		ttl = s.ttl
	}

	secret, err := randomToken()
	if err != nil {
		return domain.Token{}, fmt.Errorf("%w: token generation: %v", service.ErrInternal, err)
	}

	now := s.now()
	tok := domain.Token{
		ID:        uuid.NewString(),
		UserID:    userID,
		Type:      t,
		Token:     secret,
		Content:   content,
		ExpiresAt: now.Add(ttl),
	}
	created, err := s.store.CreateToken(ctx, tok)
	if err != nil {
		// A token string collision means the entropy source is broken,
		// never that the caller did something wrong.
		if service.IsConflict(err) {
			return domain.Token{}, fmt.Errorf("%w: token string collision", service.ErrInternal)
		}
		return domain.Token{}, err
	}

	metrics.RecordTokenIssued(string(t))
	s.log.WithField("user_id", userID).
		WithField("type", string(t)).
		WithField("token_id", created.ID).
		Info("validation token issued")
	return created, nil
}

// Consume deletes a token. Deleting a token twice is not an error.
func (s *Service) Consume(ctx context.Context, tokenID string) error {
	_, err := s.store.DeleteToken(ctx, tokenID)
	return err
}

// Confirm runs the confirmation protocol for a presented token.
//
// authenticatedUserID is nil for anonymous callers. Account-activation and
// password-reset tokens must be confirmed anonymously; an email-change token
// may be confirmed by a session belonging to the token's owner. Any other
// authenticated attempt is rejected without revealing whether the token
// exists.
//
// On success the consumed token and the residual params (token field
// stripped) are returned; subscribers on the "confirmed" event perform the
// type-specific effect.
func (s *Service) Confirm(ctx context.Context, authenticatedUserID *string, tokenID, presentedToken string, params map[string]string) (domain.Token, map[string]string, error) {
	record, err := s.store.GetToken(ctx, tokenID)
	if err != nil {
		if service.IsNotFound(err) {
			if authenticatedUserID != nil {
				// Authenticated sessions fail the anonymous-only guard
				// before they could learn anything about the token.
				metrics.RecordConfirmation("", "forbidden")
				return domain.Token{}, nil, s.forbidden(tokenID, *authenticatedUserID)
			}
			s.emitNotFound(ctx, tokenID)
			metrics.RecordConfirmation("", "not_found")
			return domain.Token{}, nil, service.NewNotFoundError("validation", tokenID)
		}
		return domain.Token{}, nil, err
	}

	if authenticatedUserID != nil {
		if record.Type != domain.TypeEmailChange || record.UserID != *authenticatedUserID {
			metrics.RecordConfirmation(string(record.Type), "forbidden")
			return domain.Token{}, nil, s.forbidden(tokenID, *authenticatedUserID)
		}
	}

	if presentedToken != record.Token {
		// Indistinguishable from a missing record, so ids cannot be probed.
		s.emitNotFound(ctx, tokenID)
		metrics.RecordConfirmation(string(record.Type), "not_found")
		return domain.Token{}, nil, service.NewNotFoundError("validation", tokenID)
	}

	if record.IsExpired(s.now()) {
		deleted, derr := s.store.DeleteToken(ctx, record.ID)
		if derr != nil {
			return domain.Token{}, nil, derr
		}
		if deleted {
			s.events.Dispatch(ctx, events.Event{
				Kind:    events.KindTokenExpired,
				TokenID: record.ID,
				Token:   record,
				UserID:  record.UserID,
			})
		}
		metrics.RecordConfirmation(string(record.Type), "expired")
		return domain.Token{}, nil, service.NewExpiredError("validation", tokenID)
	}

	// Whoever deletes the record first wins; the loser of a concurrent
	// confirm or purge observes NotFound.
	deleted, err := s.store.DeleteToken(ctx, record.ID)
	if err != nil {
		return domain.Token{}, nil, err
	}
	if !deleted {
		metrics.RecordConfirmation(string(record.Type), "not_found")
		return domain.Token{}, nil, service.NewNotFoundError("validation", tokenID)
	}

	residual := make(map[string]string, len(params))
	for k, v := range params {
		if k == "token" {
			continue
		}
		residual[k] = v
	}

	s.events.Dispatch(ctx, events.Event{
		Kind:    events.KindTokenConfirmed,
		TokenID: record.ID,
		Token:   record,
		UserID:  record.UserID,
		Params:  residual,
	})
	metrics.RecordConfirmation(string(record.Type), "confirmed")
	s.log.WithField("token_id", record.ID).
		WithField("user_id", record.UserID).
		WithField("type", string(record.Type)).
		Info("validation confirmed")
	return record, residual, nil
}

func (s *Service) forbidden(tokenID, userID string) error {
	err := service.NewAccessDeniedError("validation", tokenID, userID)
	err.Reason = "confirmation requires an anonymous session"
	return err
}

func (s *Service) emitNotFound(ctx context.Context, tokenID string) {
	s.events.Dispatch(ctx, events.Event{
		Kind:    events.KindTokenNotFound,
		TokenID: tokenID,
	})
}

func randomToken() (string, error) {
	buf := make([]byte, tokenBytes)
	if _, err := rand.Read(buf); err != nil {
		return "", err
	}
	return base64.RawURLEncoding.EncodeToString(buf), nil
}
