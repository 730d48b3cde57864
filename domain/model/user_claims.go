package model

import "github.com/golang-jwt/jwt"

// UserClaims is the bearer token payload issued to API users.
type UserClaims struct {
	UserName string `json:"user_name,omitempty"`
	jwt.StandardClaims
}

// UserID prefers the subject and falls back to the issuer.
func (c UserClaims) UserID() string {
	if c.Subject != "" {
		return c.Subject
	}
	return c.Issuer
}
