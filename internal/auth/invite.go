// Package auth issues and validates collaboration invite tokens.
//
// An invite is a signed, expiring grant to join one file's
// collaboration session. Nothing is stored server-side; the token
// itself carries the file path and the optional suggested display
// name.
package auth

import (
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// InviteClaims holds invite token claims.
type InviteClaims struct {
	FilePath string `json:"filePath"`
	UserName string `json:"userName,omitempty"`
	jwt.RegisteredClaims
}

// Inviter signs and validates invite tokens.
type Inviter struct {
	secret []byte
	ttl    time.Duration
	now    func() time.Time
}

// NewInviter creates an inviter. A non-positive ttl defaults to 24h.
func NewInviter(secret string, ttl time.Duration) *Inviter {
	if ttl <= 0 {
		ttl = 24 * time.Hour
	}
	return &Inviter{
		secret: []byte(secret),
		ttl:    ttl,
		now:    time.Now,
	}
}

// Issue signs an invite for filePath. userName is an optional display
// name suggestion for the invitee.
func (i *Inviter) Issue(filePath, userName string) (string, time.Time, error) {
	now := i.now()
	expires := now.Add(i.ttl)
	claims := &InviteClaims{
		FilePath: filePath,
		UserName: userName,
		RegisteredClaims: jwt.RegisteredClaims{
			ExpiresAt: jwt.NewNumericDate(expires),
			IssuedAt:  jwt.NewNumericDate(now),
			Issuer:    "cloudcode",
		},
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	tokenStr, err := token.SignedString(i.secret)
	if err != nil {
		return "", time.Time{}, fmt.Errorf("sign invite: %w", err)
	}
	return tokenStr, expires, nil
}

// Validate parses an invite token and returns its claims. Expired or
// tampered tokens fail.
func (i *Inviter) Validate(tokenStr string) (*InviteClaims, error) {
	claims := &InviteClaims{}
	token, err := jwt.ParseWithClaims(tokenStr, claims, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
		}
		return i.secret, nil
	}, jwt.WithTimeFunc(func() time.Time { return i.now() }))

	if err != nil {
		return nil, err
	}
	if !token.Valid {
		return nil, fmt.Errorf("invalid token")
	}
	return claims, nil
}
