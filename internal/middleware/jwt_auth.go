package middleware

import (
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/rs/zerolog"
)

// CustomClaims extends RegisteredClaims with application-specific fields.
type CustomClaims struct {
	Role string `json:"role,omitempty"`
	jwt.RegisteredClaims
}

// Identity returns a middleware that resolves the caller from an HMAC-signed bearer
// token. A valid token's subject is recorded as the request user and forwarded as
// X-User-ID (and X-User-Role). Requests without a valid token continue anonymously;
// identity never rejects a request.
func Identity(secret []byte, expectedIssuer string, logger zerolog.Logger) Middleware {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			r2 := r.Clone(r.Context())
			stripIdentity(r2.Header)

			claims, err := parseBearer(r.Header.Get("Authorization"), secret, expectedIssuer)
			if err != nil {
				logger.Debug().Err(err).Str("path", r.URL.Path).Msg("anonymous request")
				next.ServeHTTP(w, r2)
				return
			}

			if claims.Subject != "" {
				r2.Header.Set("X-User-ID", claims.Subject)
				if rc := FromContext(r.Context()); rc != nil {
					rc.User = claims.Subject
				}
			}
			if claims.Role != "" {
				r2.Header.Set("X-User-Role", claims.Role)
			}
			next.ServeHTTP(w, r2)
		})
	}
}

// identityHeaders are only trusted when the gateway sets them.
var identityHeaders = []string{"X-User-ID", "X-User-Role"}

// StripIdentityHeaders drops caller-supplied identity headers. It stays in the chain
// when Identity is not installed.
func StripIdentityHeaders(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		for _, h := range identityHeaders {
			if _, ok := r.Header[h]; ok {
				r = r.Clone(r.Context())
				stripIdentity(r.Header)
				break
			}
		}
		next.ServeHTTP(w, r)
	})
}

func stripIdentity(h http.Header) {
	for _, name := range identityHeaders {
		h.Del(name)
	}
}

func parseBearer(auth string, secret []byte, expectedIssuer string) (*CustomClaims, error) {
	if auth == "" {
		return nil, fmt.Errorf("missing Authorization header")
	}
	parts := strings.Fields(auth)
	if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") {
		return nil, fmt.Errorf("invalid Authorization header format")
	}

	var claims CustomClaims
	token, err := jwt.ParseWithClaims(parts[1], &claims, func(t *jwt.Token) (interface{}, error) {
		// enforce HMAC
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", t.Header["alg"])
		}
		return secret, nil
	})
	if err != nil {
		return nil, fmt.Errorf("invalid token: %w", err)
	}
	if !token.Valid {
		return nil, fmt.Errorf("invalid token")
	}

	if claims.ExpiresAt == nil {
		return nil, fmt.Errorf("token missing exp claim")
	}
	if time.Now().After(claims.ExpiresAt.Time) {
		return nil, fmt.Errorf("token is expired")
	}
	if expectedIssuer != "" && claims.Issuer != expectedIssuer {
		return nil, fmt.Errorf("invalid token issuer")
	}
	return &claims, nil
}
