package api

import (
	"context"
	"fmt"
	"net/http"
	"strings"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"

	"github.com/clinicore/appointment-scheduling/internal/scheduling"
)

const actorKey contextKey = "actor"

// AuthMiddleware turns a bearer token into the acting user. Token issuance
// lives in the auth service; here we only verify the signature and read the
// subject and role claims.
func AuthMiddleware(secret string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			header := r.Header.Get("Authorization")
			raw, ok := strings.CutPrefix(header, "Bearer ")
			if !ok || raw == "" {
				writeError(w, http.StatusUnauthorized, "missing_token", "Authorization: Bearer <token> is required")
				return
			}

			actor, err := parseActor(raw, secret)
			if err != nil {
				writeError(w, http.StatusUnauthorized, "invalid_token", err.Error())
				return
			}

			ctx := context.WithValue(r.Context(), actorKey, actor)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

func parseActor(raw, secret string) (scheduling.Actor, error) {
	token, err := jwt.Parse(raw, func(t *jwt.Token) (any, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method %v", t.Header["alg"])
		}
		return []byte(secret), nil
	})
	if err != nil {
		return scheduling.Actor{}, fmt.Errorf("parse token: %w", err)
	}

	claims, ok := token.Claims.(jwt.MapClaims)
	if !ok {
		return scheduling.Actor{}, fmt.Errorf("unexpected claims type")
	}

	sub, err := claims.GetSubject()
	if err != nil || sub == "" {
		return scheduling.Actor{}, fmt.Errorf("sub claim is required")
	}
	id, err := uuid.Parse(sub)
	if err != nil {
		return scheduling.Actor{}, fmt.Errorf("sub claim must be a UUID")
	}

	roleClaim, _ := claims["role"].(string)
	role := scheduling.Role(roleClaim)
	switch role {
	case scheduling.RolePatient, scheduling.RoleDoctor, scheduling.RoleAdmin:
	default:
		return scheduling.Actor{}, fmt.Errorf("unknown role %q", roleClaim)
	}

	return scheduling.Actor{ID: id, Role: role}, nil
}

// ActorFromContext retrieves the authenticated actor set by AuthMiddleware.
func ActorFromContext(ctx context.Context) (scheduling.Actor, bool) {
	actor, ok := ctx.Value(actorKey).(scheduling.Actor)
	return actor, ok
}
