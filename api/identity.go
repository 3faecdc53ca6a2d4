package api

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/golang-jwt/jwt/v5"

	"github.com/warp/installment-ledger/ledger"
)

type actorKey struct{}

// Claims is the subset of a Supabase-style access token the ledger reads.
type Claims struct {
	Name         string `json:"name,omitempty"`
	UserMetadata struct {
		FullName string `json:"full_name,omitempty"`
	} `json:"user_metadata"`
	jwt.RegisteredClaims
}

func (c *Claims) actor() ledger.Actor {
	name := c.UserMetadata.FullName
	if name == "" {
		name = c.Name
	}
	return ledger.Actor{ID: c.Subject, Name: name}
}

// ParseToken validates an HS256 token signed with secret.
func ParseToken(raw string, secret []byte) (*Claims, error) {
	token, err := jwt.ParseWithClaims(raw, &Claims{}, func(*jwt.Token) (any, error) {
		return secret, nil
	}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}))
	if err != nil {
		return nil, fmt.Errorf("invalid token: %w", err)
	}
	claims, ok := token.Claims.(*Claims)
	if !ok || claims.Subject == "" {
		return nil, errors.New("invalid token: missing subject")
	}
	return claims, nil
}

// Identity resolves the acting user of each request. With a secret, a
// bearer token is required on every request; without one the X-User-ID and
// X-User-Name headers are trusted and may be absent.
func Identity(secret string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			var actor ledger.Actor
			if secret != "" {
				raw, ok := strings.CutPrefix(r.Header.Get("Authorization"), "Bearer ")
				if !ok {
					writeError(w, http.StatusUnauthorized, "Missing bearer token", nil)
					return
				}
				claims, err := ParseToken(strings.TrimSpace(raw), []byte(secret))
				if err != nil {
					writeError(w, http.StatusUnauthorized, "Invalid bearer token", err)
					return
				}
				actor = claims.actor()
			} else {
				actor = ledger.Actor{
					ID:   r.Header.Get("X-User-ID"),
					Name: r.Header.Get("X-User-Name"),
				}
			}
			ctx := context.WithValue(r.Context(), actorKey{}, actor)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// ActorFrom returns the actor attached by Identity. Unidentified requests
// act as the system user.
func ActorFrom(ctx context.Context) ledger.Actor {
	actor, _ := ctx.Value(actorKey{}).(ledger.Actor)
	if actor.ID == "" {
		return ledger.SystemActor
	}
	return actor
}
