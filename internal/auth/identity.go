// Package auth is the authentication collaborator: it resolves staff
// identities from persisted bearer tokens, signs staff in and out, and fans
// session changes out to subscribers.
package auth

import (
	"errors"
	"time"
)

var (
	// ErrInvalidCredentials is returned by SignIn for an unknown email or wrong password.
	ErrInvalidCredentials = errors.New("auth: invalid credentials")
	// ErrUnauthenticated is returned when no valid session token is available.
	ErrUnauthenticated = errors.New("auth: not authenticated")
)

// Identity is an authenticated staff member.
type Identity struct {
	ID    string `json:"id"`
	Email string `json:"email"`
	Name  string `json:"name,omitempty"`
	Role  string `json:"role,omitempty"`
}

// Session pairs an identity with the bearer token that proves it.
type Session struct {
	Token     string    `json:"-"`
	User      Identity  `json:"user"`
	ExpiresAt time.Time `json:"expires_at"`
}

// Subscription is returned by OnSessionChange.
type Subscription interface {
	Unsubscribe()
}

type subscriptionFunc func()

func (f subscriptionFunc) Unsubscribe() { f() }
