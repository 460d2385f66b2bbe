package middleware

import (
	"context"
	"crypto/ed25519"
	"log"
	"net/http"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v4"

	"github.com/chorus-net/chorus-bridge/internal/database"
)

// JTIStore is the subset of the repository the authenticator needs.
type JTIStore interface {
	RememberJTI(ctx context.Context, jti, instance string, expiresAt time.Time) (bool, error)
}

// JWTAuthenticator verifies inbound EdDSA bearer tokens: issuer must match
// the instance header, audience must be this bridge, expiry is enforced and
// the jti claim is single-use via the repository JTI cache.
type JWTAuthenticator struct {
	bridgeInstanceID string
	verifyKey        ed25519.PublicKey
	jtis             JTIStore
	enforce          bool
	logger           *log.Logger
}

// NewJWTAuthenticator builds the middleware. When enforce is false the
// middleware only requires the instance header and passes through, which is
// how development deployments run before keys are exchanged.
func NewJWTAuthenticator(bridgeInstanceID string, verifyKey ed25519.PublicKey, jtis JTIStore, enforce bool) *JWTAuthenticator {
	return &JWTAuthenticator{
		bridgeInstanceID: bridgeInstanceID,
		verifyKey:        verifyKey,
		jtis:             jtis,
		enforce:          enforce,
		logger:           log.New(log.Writer(), "[AUTH] ", log.LstdFlags),
	}
}

// Middleware enforces the token contract on every wrapped route.
func (a *JWTAuthenticator) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		instanceID := r.Header.Get(InstanceIDHeader)
		if instanceID == "" {
			writeAuthError(w, http.StatusBadRequest, "missing "+InstanceIDHeader+" header")
			return
		}
		if !a.enforce {
			next.ServeHTTP(w, r)
			return
		}

		auth := r.Header.Get("Authorization")
		if !strings.HasPrefix(auth, "Bearer ") {
			writeAuthError(w, http.StatusUnauthorized, "missing bearer token")
			return
		}

		claims := jwt.MapClaims{}
		token, err := jwt.ParseWithClaims(strings.TrimPrefix(auth, "Bearer "), claims,
			func(tok *jwt.Token) (interface{}, error) {
				if _, ok := tok.Method.(*jwt.SigningMethodEd25519); !ok {
					return nil, jwt.ErrTokenSignatureInvalid
				}
				return a.verifyKey, nil
			})
		if err != nil || !token.Valid {
			a.logger.Printf("🚫 Token rejected for %s: %v", instanceID, err)
			writeAuthError(w, http.StatusUnauthorized, "invalid token")
			return
		}

		if !claims.VerifyIssuer(instanceID, true) {
			writeAuthError(w, http.StatusUnauthorized, "issuer mismatch")
			return
		}
		if !claims.VerifyAudience(a.bridgeInstanceID, true) {
			writeAuthError(w, http.StatusUnauthorized, "audience mismatch")
			return
		}
		if !claims.VerifyExpiresAt(time.Now().Unix(), true) {
			writeAuthError(w, http.StatusUnauthorized, "token expired")
			return
		}

		jti, _ := claims["jti"].(string)
		if jti == "" {
			writeAuthError(w, http.StatusUnauthorized, "missing jti claim")
			return
		}
		exp := time.Now().Add(outboundTokenGrace)
		if expClaim, ok := claims["exp"].(float64); ok {
			exp = time.Unix(int64(expClaim), 0)
		}
		fresh, err := a.jtis.RememberJTI(r.Context(), jti, instanceID, exp)
		if err != nil {
			writeAuthError(w, http.StatusInternalServerError, "jti cache unavailable")
			return
		}
		if !fresh {
			a.logger.Printf("🚫 Replayed jti %s from %s", jti, instanceID)
			writeAuthError(w, http.StatusUnauthorized, "token replay")
			return
		}

		next.ServeHTTP(w, r)
	})
}

// outboundTokenGrace bounds JTI retention when a token omits exp.
const outboundTokenGrace = 5 * time.Minute

func writeAuthError(w http.ResponseWriter, status int, msg string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	w.Write([]byte(`{"error":"` + msg + `"}`))
}

var _ JTIStore = (database.Repository)(nil)
