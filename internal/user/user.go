// Package user resolves the local account a launch runs as, creating one
// when no active user matches the launch identity.
package user

import (
	"context"
	"errors"
	"time"
)

// Sentinel identity used when a v1.0/1.1 launch carries no name or email.
// All anonymous launches from such platforms share this single account.
const (
	SentinelName  = "ltiuser"
	SentinelEmail = "ltiuser@invalid"
)

// ErrNotFound is returned by store lookups that match no active user.
var ErrNotFound = errors.New("user: not found")

// User is a local account.
type User struct {
	ID           string
	Name         string
	Email        string
	PasswordHash string
	Active       bool
	CreatedAt    time.Time
}

// Store is the account persistence collaborator. ByName and ByEmail match
// active users only; inactive accounts are invisible to launch resolution.
type Store interface {
	ByName(ctx context.Context, name string) (*User, error)
	ByEmail(ctx context.Context, email string) (*User, error)
	Create(ctx context.Context, u *User) error
}
