package authsdk

import (
	"net/mail"
	"strings"
)

// Role is the closed set of portal roles.
type Role string

const (
	RoleSystemAdmin Role = "SYSTEM_ADMIN"
	RoleClientAdmin Role = "CLIENT_ADMIN"
	RoleRegularUser Role = "REGULAR_USER"
)

// Valid reports whether r is one of the known roles.
func (r Role) Valid() bool {
	switch r {
	case RoleSystemAdmin, RoleClientAdmin, RoleRegularUser:
		return true
	}
	return false
}

// Credentials are the user's login input. They are transient: validated,
// sent once, never persisted.
type Credentials struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

// Validate checks the credentials locally before any network call.
func (c Credentials) Validate() error {
	if strings.TrimSpace(c.Email) == "" {
		return &ValidationError{Reason: "email is required"}
	}
	if c.Password == "" {
		return &ValidationError{Reason: "password is required"}
	}

	addr, err := mail.ParseAddress(c.Email)
	if err != nil || addr.Address != c.Email {
		return &ValidationError{Reason: "email is not valid"}
	}
	// mail.ParseAddress accepts local addresses like "a@b"; the portal
	// backend only issues accounts under fully qualified domains.
	if !strings.Contains(c.Email[strings.LastIndex(c.Email, "@"):], ".") {
		return &ValidationError{Reason: "email is not valid"}
	}

	return nil
}

// Tokens is the token set issued by the backend on login and refresh.
// Immutable value object; stored only in sealed form.
type Tokens struct {
	AccessToken  string `json:"accessToken"`
	RefreshToken string `json:"refreshToken"`

	// ExpiresIn is the access token lifetime in seconds.
	ExpiresIn int `json:"expiresIn"`

	// TokenType is "Bearer".
	TokenType string `json:"tokenType"`
}

// User is the authenticated user's profile, owned by the Manager for the
// lifetime of a session.
type User struct {
	ID           string `json:"id"`
	Email        string `json:"email"`
	FullName     string `json:"fullName"`
	Role         Role   `json:"role"`
	IsActive     bool   `json:"isActive"`
	OrgID        string `json:"orgId"`
	ClientID     string `json:"clientId,omitempty"`
	Organization string `json:"organization"`
}

// State is the auth state snapshot exposed to the embedding application.
// Tokens is non-nil exactly when Authenticated is true.
type State struct {
	Authenticated bool
	Loading       bool
	User          *User
	Tokens        *Tokens

	// Err is a human-readable message from the error taxonomy, empty when
	// the last operation succeeded.
	Err string
}

// sessionPayload is the backend response for login and refresh.
type sessionPayload struct {
	Tokens
	User *User `json:"user,omitempty"`
}

// refreshRequest is the body of POST /auth/refresh and /auth/logout.
type refreshRequest struct {
	RefreshToken string `json:"refreshToken"`
}
