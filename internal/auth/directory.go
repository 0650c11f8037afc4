package auth

import (
	"fmt"
	"strings"

	"golang.org/x/crypto/bcrypt"

	"estatedesk/internal/config"
)

// Directory is the configured staff roster.
type Directory struct {
	byID    map[string]config.StaffUser
	byEmail map[string]config.StaffUser
}

// NewDirectory indexes staff by id and lower-cased email.
func NewDirectory(staff []config.StaffUser) *Directory {
	d := &Directory{
		byID:    make(map[string]config.StaffUser, len(staff)),
		byEmail: make(map[string]config.StaffUser, len(staff)),
	}
	for _, u := range staff {
		d.byID[u.ID] = u
		d.byEmail[strings.ToLower(strings.TrimSpace(u.Email))] = u
	}
	return d
}

// Lookup returns the identity for id.
func (d *Directory) Lookup(id string) (Identity, bool) {
	u, ok := d.byID[id]
	if !ok {
		return Identity{}, false
	}
	return identityOf(u), true
}

// Authenticate checks password against the stored bcrypt hash.
func (d *Directory) Authenticate(email, password string) (Identity, error) {
	u, ok := d.byEmail[strings.ToLower(strings.TrimSpace(email))]
	if !ok {
		return Identity{}, ErrInvalidCredentials
	}
	if err := bcrypt.CompareHashAndPassword([]byte(u.PasswordHash), []byte(password)); err != nil {
		return Identity{}, ErrInvalidCredentials
	}
	return identityOf(u), nil
}

// HashPassword returns a bcrypt hash suitable for the staff config.
func HashPassword(password string) (string, error) {
	if password == "" {
		return "", fmt.Errorf("password must not be empty")
	}
	b, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return "", fmt.Errorf("hash password: %w", err)
	}
	return string(b), nil
}

func identityOf(u config.StaffUser) Identity {
	return Identity{ID: u.ID, Email: u.Email, Name: u.Name, Role: u.Role}
}
