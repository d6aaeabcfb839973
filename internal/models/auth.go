package models

import "github.com/golang-jwt/jwt/v5"

// ActorClaims identifies the caller acting on the gradebook. Only the subject is
// consumed; access policy is decided upstream.
type ActorClaims struct {
	Role string `json:"role,omitempty"`
	jwt.RegisteredClaims
}

// ActorID returns the token subject.
func (c *ActorClaims) ActorID() string {
	if c == nil {
		return ""
	}
	return c.Subject
}
