package api

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/punchamoorthee/tradeguard/internal/domain"
)

var errUnauthenticated = errors.New("missing or invalid credentials")

type actorKey struct{}

// actorClaims carries the principal: sub is the user id, role its role.
type actorClaims struct {
	Role domain.Role `json:"role"`
	jwt.RegisteredClaims
}

// Authenticator resolves the acting principal of a request. With a secret
// it requires an HS256 bearer token; without one it trusts the
// X-Actor-ID and X-Actor-Role headers, which is only meant for local runs.
type Authenticator struct {
	secret []byte
}

func NewAuthenticator(secret string) *Authenticator {
	return &Authenticator{secret: []byte(secret)}
}

func (a *Authenticator) Resolve(r *http.Request) (domain.Actor, error) {
	if len(a.secret) == 0 {
		return headerActor(r)
	}

	header := r.Header.Get("Authorization")
	tokenStr, ok := strings.CutPrefix(header, "Bearer ")
	if !ok || tokenStr == "" {
		return domain.Actor{}, errUnauthenticated
	}

	var claims actorClaims
	token, err := jwt.ParseWithClaims(tokenStr, &claims, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
		}
		return a.secret, nil
	}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}))
	if err != nil || !token.Valid {
		return domain.Actor{}, errUnauthenticated
	}
	if claims.Subject == "" || !validRole(claims.Role) {
		return domain.Actor{}, errUnauthenticated
	}
	return domain.Actor{ID: claims.Subject, Role: claims.Role}, nil
}

// IssueToken signs a token for actor. Used by tooling and tests.
func IssueToken(secret string, actor domain.Actor, ttl time.Duration) (string, error) {
	now := time.Now()
	claims := actorClaims{
		Role: actor.Role,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   actor.ID,
			Issuer:    "tradeguard",
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
		},
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(secret))
}

func headerActor(r *http.Request) (domain.Actor, error) {
	id := r.Header.Get("X-Actor-ID")
	role := domain.Role(r.Header.Get("X-Actor-Role"))
	if role == "" {
		role = domain.RoleUser
	}
	if id == "" || !validRole(role) {
		return domain.Actor{}, errUnauthenticated
	}
	return domain.Actor{ID: id, Role: role}, nil
}

func validRole(r domain.Role) bool {
	switch r {
	case domain.RoleUser, domain.RoleService, domain.RoleAdmin:
		return true
	}
	return false
}

// authenticate stores the resolved actor in the request context.
func (h *Handler) authenticate(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		actor, err := h.auth.Resolve(r)
		if err != nil {
			respondWithError(w, http.StatusUnauthorized, "UNAUTHENTICATED", err.Error(), nil)
			return
		}
		next.ServeHTTP(w, r.WithContext(context.WithValue(r.Context(), actorKey{}, actor)))
	})
}

func actorFrom(ctx context.Context) domain.Actor {
	actor, _ := ctx.Value(actorKey{}).(domain.Actor)
	return actor
}
