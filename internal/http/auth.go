package http

import (
	"context"
	"crypto/rsa"
	"net/http"
	"strings"

	"github.com/cockroachdb/errors"
	"github.com/golang-jwt/jwt/v5"

	"github.com/robertarktes/venue-reservations/internal/domain"
)

type ctxKey int

const (
	actorKey ctxKey = iota
	loggerKey
)

// Claims are issued by the external identity service.
type Claims struct {
	Role string `json:"role"`
	jwt.RegisteredClaims
}

func ParsePublicKey(pemKey string) (*rsa.PublicKey, error) {
	key, err := jwt.ParseRSAPublicKeyFromPEM([]byte(pemKey))
	if err != nil {
		return nil, errors.Wrap(err, "parse jwt public key")
	}
	return key, nil
}

func actorFrom(ctx context.Context) (domain.Actor, bool) {
	a, ok := ctx.Value(actorKey).(domain.Actor)
	return a, ok
}

func roleOf(s string) (domain.Role, bool) {
	switch r := domain.Role(s); r {
	case domain.RoleCustomer, domain.RoleOwner, domain.RoleOperator:
		return r, true
	}
	return "", false
}

// JWTMiddleware accepts RS256 bearer tokens and puts the caller on the context.
func JWTMiddleware(key *rsa.PublicKey) func(next http.Handler) http.Handler {
	parser := jwt.NewParser(jwt.WithValidMethods([]string{jwt.SigningMethodRS256.Alg()}), jwt.WithExpirationRequired())
	keyFunc := func(*jwt.Token) (interface{}, error) { return key, nil }

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			auth := r.Header.Get("Authorization")
			if !strings.HasPrefix(auth, "Bearer ") {
				writeError(w, http.StatusUnauthorized, "unauthorized", "missing bearer token")
				return
			}
			var claims Claims
			tok, err := parser.ParseWithClaims(strings.TrimPrefix(auth, "Bearer "), &claims, keyFunc)
			if err != nil || !tok.Valid {
				writeError(w, http.StatusUnauthorized, "unauthorized", "invalid token")
				return
			}
			role, ok := roleOf(claims.Role)
			if !ok || claims.Subject == "" {
				writeError(w, http.StatusUnauthorized, "unauthorized", "token lacks subject or role")
				return
			}
			actor := domain.Actor{ID: claims.Subject, Role: role}
			ctx := context.WithValue(r.Context(), actorKey, actor)
			ctx = context.WithValue(ctx, loggerKey, loggerFrom(ctx).WithFields(map[string]interface{}{
				"user_id": actor.ID,
				"role":    string(actor.Role),
			}))
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}
