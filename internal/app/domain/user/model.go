package user

import (
	"fmt"
	"regexp"
	"time"
)

// RoleUser is the base role every account implicitly holds.
const RoleUser = "user"

// RoleAdmin marks platform administrators.
const RoleAdmin = "admin"

// RoleProcessOwner marks process owners, who manage funding processes.
const RoleProcessOwner = "process_owner"

// RoleJury marks jury members, who rate fund applications.
const RoleJury = "jury"

// UsernamePattern constrains usernames at registration.
var UsernamePattern = regexp.MustCompile(`^[a-zA-Z0-9_.-]{3,32}$`)

// User is an account on the platform.
type User struct {
	ID           string
	Username     string
	Email        string
	FirstName    *string
	LastName     *string
	PasswordHash string
	Roles        []string
	Active       bool
	Validated    bool
	CreatedAt    time.Time
	UpdatedAt    time.Time
	DeletedAt    *time.Time
}

// HasRole reports whether the user holds the role. RoleUser is implicit for
// non-deleted users.
func (u User) HasRole(role string) bool {
	if u.DeletedAt != nil {
		return false
	}
	if role == RoleUser {
		return true
	}
	for _, r := range u.Roles {
		if r == role {
			return true
		}
	}
	return false
}

func (u User) IsDeleted() bool { return u.DeletedAt != nil }

// Anonymize overwrites all personally identifying fields with placeholders
// derived from the user id and revokes every role. Deletion is a privacy
// scrub, not a flag flip; there is no way back.
func (u *User) Anonymize(emailDomain string, now time.Time) {
	u.Username = fmt.Sprintf("deleted_%s", u.ID)
	u.Email = fmt.Sprintf("deleted_%s@%s", u.ID, emailDomain)
	u.FirstName = nil
	u.LastName = nil
	u.PasswordHash = ""
	u.Roles = nil
	u.Active = false
	u.DeletedAt = &now
	u.UpdatedAt = now
}
