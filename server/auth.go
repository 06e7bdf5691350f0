package server

import (
	"context"
	"errors"

	"github.com/golang-jwt/jwt/v5"
)

// JWTAuth accepts HS256 tokens signed with secret that are not expired.
func JWTAuth(secret []byte) AuthFn {
	return func(ctx context.Context, token string) bool {
		if token == "" {
			return false
		}
		parsed, err := jwt.Parse(token, func(t *jwt.Token) (interface{}, error) {
			if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
				return nil, errors.New("unexpected signing method")
			}
			return secret, nil
		}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}))
		return err == nil && parsed.Valid
	}
}

// IssueToken signs a token for subject, for clients of a server using
// JWTAuth with the same secret.
func IssueToken(secret []byte, subject string, claims jwt.RegisteredClaims) (string, error) {
	claims.Subject = subject
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(secret)
}
