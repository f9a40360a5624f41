package auth

import (
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"nodedash/device_manager/schema"

	"github.com/go-chi/jwtauth/v5"
)

type JwtManager struct {
	auth *jwtauth.JWTAuth
}

func NewJwtManager(secret []byte) *JwtManager {
	return &JwtManager{auth: jwtauth.New("HS256", secret, nil)}
}

func (m *JwtManager) Verifier() func(http.Handler) http.Handler {
	return jwtauth.Verifier(m.auth)
}

func (m *JwtManager) Authenticator() func(http.Handler) http.Handler {
	return jwtauth.Authenticator(m.auth)
}

const (
	userIdKey   = "user_id"
	scopeKey    = "scope"
	accessScope = "access"
)

func (m *JwtManager) CreateUserJwt(userId uint, exp time.Duration) (string, error) {
	now := time.Now()
	claims := map[string]interface{}{
		userIdKey: strconv.FormatUint(uint64(userId), 10),
		scopeKey:  accessScope,
	}
	jwtauth.SetIssuedAt(claims, now)
	jwtauth.SetExpiry(claims, now.Add(exp))

	_, token, err := m.auth.Encode(claims)
	if err != nil {
		slog.Error("error generating jwt", "user_id", userId, "error", err)
		return "", fmt.Errorf("error generating access token: %w", err)
	}
	return token, nil
}

func ValueFromContext(r *http.Request, key string) (string, error) {
	_, claims, err := jwtauth.FromContext(r.Context())
	if err != nil {
		return "", fmt.Errorf("error retrieving auth claims: %w", err)
	}

	valueUncasted, ok := claims[key]
	if !ok {
		return "", fmt.Errorf("invalid token: unable to locate key %v in claims", key)
	}

	value, ok := valueUncasted.(string)
	if !ok {
		return "", fmt.Errorf("invalid token: value for key %v has invalid type", key)
	}

	return value, nil
}

func UserIdFromContext(r *http.Request) (uint, error) {
	if scope, err := ValueFromContext(r, scopeKey); err != nil || scope != accessScope {
		return 0, fmt.Errorf("invalid token: not an access token")
	}
	value, err := ValueFromContext(r, userIdKey)
	if err != nil {
		return 0, err
	}
	id, err := strconv.ParseUint(value, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid user id '%v' in token: %w", value, err)
	}
	return uint(id), nil
}

func UserFromContext(r *http.Request) (schema.User, error) {
	userUntyped := r.Context().Value(UserRequestContextKey)
	if userUntyped == nil {
		return schema.User{}, fmt.Errorf("user field not found in request context")
	}
	user, ok := userUntyped.(schema.User)
	if !ok {
		return schema.User{}, fmt.Errorf("invalid value for user field")
	}
	return user, nil
}
