package validation

import "time"

// Type distinguishes what a token confirms.
type Type string

const (
	TypeAccountActivation Type = "account-activation"
	TypePasswordReset     Type = "password-reset"
	TypeEmailChange       Type = "email-change"
	TypeJuryInvite        Type = "jury-invite"
)

// Known reports whether t is one of the defined token types.
func (t Type) Known() bool {
	switch t {
	case TypeAccountActivation, TypePasswordReset, TypeEmailChange, TypeJuryInvite:
		return true
	}
	return false
}

// ContentEmail is the content key carrying the pending address of an
// email-change token. The new address is fixed at issue time, not presented
// at confirm time.
const ContentEmail = "email"

// Token is a single-use, typed, time-boxed credential bound to one user.
// Several live tokens per (user, type) may coexist; only the opaque token
// string is unique.
type Token struct {
	ID        string
	UserID    string
	Type      Type
	Token     string
	Content   map[string]string
	ExpiresAt time.Time
	CreatedAt time.Time
}

// IsExpired is a time-of-check predicate. Expiry is a moving target;
// consumers re-check at consumption time.
func (t Token) IsExpired(now time.Time) bool {
	return !t.ExpiresAt.After(now)
}
