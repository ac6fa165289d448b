package notifications

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/civicworks/grantflow/internal/app/core/service"
	"github.com/civicworks/grantflow/internal/app/domain/user"
	domain "github.com/civicworks/grantflow/internal/app/domain/validation"
	"github.com/civicworks/grantflow/internal/app/messaging"
	"github.com/civicworks/grantflow/internal/app/metrics"
	"github.com/civicworks/grantflow/internal/app/storage"
	"github.com/civicworks/grantflow/pkg/logger"
)

// Mailer is the outbound notification collaborator. The returned message id
// only needs to be non-empty; its content is never parsed.
type Mailer interface {
	Send(ctx context.Context, to, subject, body string) (string, error)
}

// TokenIssuer issues validation tokens; satisfied by the validation service.
type TokenIssuer interface {
	Issue(ctx context.Context, userID string, t domain.Type, content map[string]string, ttl time.Duration) (domain.Token, error)
}

// Dispatcher handles deferred notification intents. Each handler
// re-resolves the user at handling time, issues the matching token, and
// sends exactly one notification. Handler failures never reach the caller
// that enqueued the message.
type Dispatcher struct {
	users    storage.UserStore
	tokens   TokenIssuer
	mailer   Mailer
	log      *logger.Logger
	tokenTTL time.Duration
	attempts int
	backoff  time.Duration
}

// NewDispatcher creates a dispatcher. tokenTTL <= 0 falls back to the
// validation service default; attempts <= 0 means a single try.
func NewDispatcher(users storage.UserStore, tokens TokenIssuer, mailer Mailer, tokenTTL time.Duration, attempts int, log *logger.Logger) *Dispatcher {
	if log == nil {
		log = logger.NewDefault("notifications")
	}
	if attempts <= 0 {
		attempts = 1
	}
	return &Dispatcher{
		users:    users,
		tokens:   tokens,
		mailer:   mailer,
		log:      log,
		tokenTTL: tokenTTL,
		attempts: attempts,
		backoff:  2 * time.Second,
	}
}

// Register binds all intent handlers onto the bus.
func (d *Dispatcher) Register(bus *messaging.InProcessBus) {
	bus.Register(messaging.TypeUserRegistered, d.HandleUserRegistered)
	bus.Register(messaging.TypePasswordForgotten, d.HandlePasswordForgotten)
	bus.Register(messaging.TypeEmailChangeRequested, d.HandleEmailChangeRequested)
	bus.Register(messaging.TypeUserValidated, d.HandleUserValidated)
}

// HandleUserRegistered issues an account-activation token and mails the
// confirmation link. Skips silently when the user vanished or validated in
// the meantime.
func (d *Dispatcher) HandleUserRegistered(ctx context.Context, msg messaging.Message) error {
	u, ok := d.resolve(ctx, msg)
	if !ok {
		return nil
	}
	if u.Validated {
		d.log.WithField("user_id", u.ID).Info("user already validated, skipping activation mail")
		return nil
	}

	tok, err := d.tokens.Issue(ctx, u.ID, domain.TypeAccountActivation, nil, d.tokenTTL)
	if err != nil {
		return err
	}

	url := BuildConfirmationURL(msg.URLTemplate, tok.Token, tok.ID, string(tok.Type))
	body := fmt.Sprintf("Welcome, %s!\n\nPlease confirm your registration:\n%s\n", u.Username, url)
	return d.send(ctx, string(msg.Type), u.Email, "Confirm your registration", body)
}

// HandlePasswordForgotten issues a password-reset token and mails the reset
// link.
func (d *Dispatcher) HandlePasswordForgotten(ctx context.Context, msg messaging.Message) error {
	u, ok := d.resolve(ctx, msg)
	if !ok {
		return nil
	}

	tok, err := d.tokens.Issue(ctx, u.ID, domain.TypePasswordReset, nil, d.tokenTTL)
	if err != nil {
		return err
	}

	url := BuildConfirmationURL(msg.URLTemplate, tok.Token, tok.ID, string(tok.Type))
	body := fmt.Sprintf("Hello %s,\n\nA password reset was requested for your account. Follow this link to set a new password:\n%s\n\nIf you did not request this, ignore this mail.\n", u.Username, url)
	return d.send(ctx, string(msg.Type), u.Email, "Reset your password", body)
}

// HandleEmailChangeRequested issues an email-change token carrying the
// pending address and mails the confirmation link to that address.
func (d *Dispatcher) HandleEmailChangeRequested(ctx context.Context, msg messaging.Message) error {
	u, ok := d.resolve(ctx, msg)
	if !ok {
		return nil
	}
	newEmail := strings.TrimSpace(msg.Payload[domain.ContentEmail])
	if newEmail == "" {
		d.log.WithField("user_id", u.ID).Warn("email change message without pending address")
		return nil
	}

	// The pending address travels in the token content, not in the
	// confirm-time params.
	tok, err := d.tokens.Issue(ctx, u.ID, domain.TypeEmailChange, map[string]string{domain.ContentEmail: newEmail}, d.tokenTTL)
	if err != nil {
		return err
	}

	url := BuildConfirmationURL(msg.URLTemplate, tok.Token, tok.ID, string(tok.Type))
	body := fmt.Sprintf("Hello %s,\n\nConfirm your new email address:\n%s\n", u.Username, url)
	return d.send(ctx, string(msg.Type), newEmail, "Confirm your new email address", body)
}

// HandleUserValidated sends the post-activation notice. No token involved.
func (d *Dispatcher) HandleUserValidated(ctx context.Context, msg messaging.Message) error {
	u, ok := d.resolve(ctx, msg)
	if !ok {
		return nil
	}
	if !u.Validated {
		d.log.WithField("user_id", u.ID).Warn("user-validated message for unvalidated user")
		return nil
	}
	body := fmt.Sprintf("Hello %s,\n\nYour account is now active. You can sign in and start working on your project.\n", u.Username)
	return d.send(ctx, string(msg.Type), u.Email, "Your account is active", body)
}

// resolve loads the user at handling time. Preconditions that fail here are
// logged and swallowed: this is a best-effort background job.
func (d *Dispatcher) resolve(ctx context.Context, msg messaging.Message) (user.User, bool) {
	u, err := d.users.GetUser(ctx, msg.UserID)
	if err != nil {
		if service.IsNotFound(err) {
			d.log.WithField("user_id", msg.UserID).
				WithField("type", string(msg.Type)).
				Info("user no longer exists, dropping message")
			return user.User{}, false
		}
		d.log.WithError(err).WithField("user_id", msg.UserID).Warn("resolve user failed")
		return user.User{}, false
	}
	if u.IsDeleted() {
		d.log.WithField("user_id", msg.UserID).
			WithField("type", string(msg.Type)).
			Info("user deleted since enqueue, dropping message")
		return user.User{}, false
	}
	return u, true
}

func (d *Dispatcher) send(ctx context.Context, intent, to, subject, body string) error {
	var lastErr error
	for attempt := 1; attempt <= d.attempts; attempt++ {
		ack, err := d.mailer.Send(ctx, to, subject, body)
		if err == nil && ack != "" {
			metrics.RecordNotification(intent, true)
			d.log.WithField("intent", intent).
				WithField("message_id", ack).
				Info("notification sent")
			return nil
		}
		if err == nil {
			err = fmt.Errorf("%w: empty delivery acknowledgment", service.ErrInternal)
		}
		lastErr = err
		if attempt < d.attempts {
			select {
			case <-ctx.Done():
				metrics.RecordNotification(intent, false)
				return ctx.Err()
			case <-time.After(d.backoff * time.Duration(attempt)):
			}
		}
	}
	metrics.RecordNotification(intent, false)
	return fmt.Errorf("send %s notification: %w", intent, lastErr)
}

// BuildConfirmationURL substitutes the literal {{token}}, {{id}} and
// {{type}} markers in a caller-supplied template. The marker syntax is part
// of the wire contract with clients; do not change it.
func BuildConfirmationURL(template, token, id, tokenType string) string {
	url := strings.ReplaceAll(template, "{{token}}", token)
	url = strings.ReplaceAll(url, "{{id}}", id)
	url = strings.ReplaceAll(url, "{{type}}", tokenType)
	return url
}
