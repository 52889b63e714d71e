package domain

import (
	"fmt"
	"strings"
	"time"
)

// Role is the authorization level of an account.
type Role string

const (
	RoleUser  Role = "user"
	RoleAdmin Role = "admin"
)

// ParseRole validates a role name.
func ParseRole(s string) (Role, error) {
	switch r := Role(strings.ToLower(strings.TrimSpace(s))); r {
	case RoleUser, RoleAdmin:
		return r, nil
	default:
		return "", fmt.Errorf("unknown role %q", s)
	}
}

type Account struct {
	ID           string
	Email        string // normalised, unique among all accounts
	PasswordHash string // argon2id PHC string
	Role         Role
	FirstName    string
	LastName     string
	Age          *int // nil until the user states it
	Gender       string
	CreatedAt    time.Time
	UpdatedAt    time.Time
	DeletedAt    *time.Time // set on soft delete, never cleared
}

// IsDeleted reports whether the account was soft-deleted.
func (a Account) IsDeleted() bool { return a.DeletedAt != nil }

// NormalizeEmail lower-cases and trims an email so uniqueness is
// case-insensitive.
func NormalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

// Profile is the user-editable part of an account.
type Profile struct {
	FirstName string
	LastName  string
	Age       *int
	Gender    string
}

// Profile returns the editable fields of a.
func (a Account) Profile() Profile {
	return Profile{FirstName: a.FirstName, LastName: a.LastName, Age: a.Age, Gender: a.Gender}
}
