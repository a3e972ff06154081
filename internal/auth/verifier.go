// Package auth turns a bearer token into a user id.
package auth

import (
	"context"
	"crypto/subtle"
	"fmt"
	"net/http"
	"strings"

	"github.com/felipepmaragno/chat-gateway/internal/domain"
	"github.com/golang-jwt/jwt/v5"
)

type Verifier interface {
	// Verify returns the user id the token was issued to, or an error
	// wrapping domain.ErrUnauthorized.
	Verify(ctx context.Context, token string) (string, error)
}

func BearerToken(r *http.Request) string {
	h := r.Header.Get("Authorization")
	if len(h) > 7 && strings.EqualFold(h[:7], "Bearer ") {
		return strings.TrimSpace(h[7:])
	}
	return ""
}

// JWTVerifier accepts HS256 tokens signed with a shared secret. The subject
// claim is the user id.
type JWTVerifier struct {
	secret []byte
	parser *jwt.Parser
}

func NewJWTVerifier(secret, issuer string) *JWTVerifier {
	opts := []jwt.ParserOption{
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithExpirationRequired(),
	}
	if issuer != "" {
		opts = append(opts, jwt.WithIssuer(issuer))
	}
	return &JWTVerifier{
		secret: []byte(secret),
		parser: jwt.NewParser(opts...),
	}
}

func (v *JWTVerifier) Verify(ctx context.Context, token string) (string, error) {
	if token == "" {
		return "", fmt.Errorf("%w: missing token", domain.ErrUnauthorized)
	}

	var claims jwt.RegisteredClaims
	_, err := v.parser.ParseWithClaims(token, &claims, func(t *jwt.Token) (interface{}, error) {
		return v.secret, nil
	})
	if err != nil {
		return "", fmt.Errorf("%w: %v", domain.ErrUnauthorized, err)
	}
	if claims.Subject == "" {
		return "", fmt.Errorf("%w: token has no subject", domain.ErrUnauthorized)
	}
	return claims.Subject, nil
}

// StaticVerifier maps fixed tokens to user ids. Meant for local development.
type StaticVerifier struct {
	tokens map[string]string
}

func NewStaticVerifier(tokens map[string]string) *StaticVerifier {
	return &StaticVerifier{tokens: tokens}
}

// ParseStaticTokens reads "token:user,token:user" pairs.
func ParseStaticTokens(s string) map[string]string {
	out := make(map[string]string)
	for _, pair := range strings.Split(s, ",") {
		token, user, ok := strings.Cut(strings.TrimSpace(pair), ":")
		if !ok || token == "" || user == "" {
			continue
		}
		out[token] = user
	}
	return out
}

func (v *StaticVerifier) Verify(ctx context.Context, token string) (string, error) {
	for t, user := range v.tokens {
		if subtle.ConstantTimeCompare([]byte(t), []byte(token)) == 1 {
			return user, nil
		}
	}
	return "", fmt.Errorf("%w: unknown token", domain.ErrUnauthorized)
}

// Chain tries each verifier in order and returns the first success.
type Chain []Verifier

func (c Chain) Verify(ctx context.Context, token string) (string, error) {
	if len(c) == 0 {
		return "", fmt.Errorf("%w: no verifier configured", domain.ErrUnauthorized)
	}
	var lastErr error
	for _, v := range c {
		user, err := v.Verify(ctx, token)
		if err == nil {
			return user, nil
		}
		lastErr = err
	}
	return "", lastErr
}
