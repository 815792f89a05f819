package httpapi

import (
	"crypto/sha256"
	"encoding/hex"
	"net/http"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v4"
	"golang.org/x/crypto/bcrypt"
)

const (
	adminTokenAudience = "attendsync"
	adminScope         = "admin"
	defaultAdminTTL    = 12 * time.Hour
)

type authError struct {
	status  int
	code    string
	message string
}

func (e *authError) Error() string {
	return e.message
}

type adminClaims struct {
	Scopes []string `json:"scopes"`
	jwt.RegisteredClaims
}

func (c adminClaims) hasScope(scope string) bool {
	for _, granted := range c.Scopes {
		if granted == scope {
			return true
		}
	}
	return false
}

// adminDigest keeps secrets of any length under bcrypt's 72 byte input limit.
func adminDigest(secret string) []byte {
	sum := sha256.Sum256([]byte(secret))
	return []byte(hex.EncodeToString(sum[:]))
}

// hashAdminSecret returns nil when the secret cannot be hashed, which disables login.
func hashAdminSecret(secret string) []byte {
	if secret == "" {
		return nil
	}
	hash, err := bcrypt.GenerateFromPassword(adminDigest(secret), bcrypt.DefaultCost)
	if err != nil {
		return nil
	}
	return hash
}

func checkAdminPassword(hash []byte, password string) *authError {
	if len(hash) == 0 {
		return &authError{status: http.StatusServiceUnavailable, code: "admin_unavailable", message: "admin login is not configured"}
	}
	if err := bcrypt.CompareHashAndPassword(hash, adminDigest(password)); err != nil {
		return &authError{status: http.StatusUnauthorized, code: "unauthorized", message: "invalid password"}
	}
	return nil
}

func issueAdminToken(secret string, now time.Time, ttl time.Duration) (string, time.Time, error) {
	if ttl <= 0 {
		ttl = defaultAdminTTL
	}
	expiresAt := now.Add(ttl)
	claims := adminClaims{
		Scopes: []string{adminScope},
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   "admin",
			Audience:  jwt.ClaimStrings{adminTokenAudience},
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(expiresAt),
		},
	}
	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(secret))
	if err != nil {
		return "", time.Time{}, err
	}
	return token, expiresAt, nil
}

func authorizeAdmin(authHeader, secret string, now time.Time) *authError {
	if !strings.HasPrefix(authHeader, "Bearer ") {
		return &authError{status: http.StatusUnauthorized, code: "unauthorized", message: "missing or invalid bearer token"}
	}
	raw := strings.TrimSpace(strings.TrimPrefix(authHeader, "Bearer "))
	claims := &adminClaims{}
	parser := jwt.NewParser(jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}), jwt.WithoutClaimsValidation())
	if _, err := parser.ParseWithClaims(raw, claims, func(*jwt.Token) (any, error) {
		return []byte(secret), nil
	}); err != nil {
		return &authError{status: http.StatusUnauthorized, code: "unauthorized", message: "invalid admin token"}
	}
	if !claims.VerifyExpiresAt(now, true) {
		return &authError{status: http.StatusUnauthorized, code: "unauthorized", message: "token expired"}
	}
	if !claims.VerifyAudience(adminTokenAudience, true) {
		return &authError{status: http.StatusUnauthorized, code: "unauthorized", message: "invalid aud claim"}
	}
	if !claims.hasScope(adminScope) {
		return &authError{status: http.StatusForbidden, code: "forbidden", message: "missing required scope: " + adminScope}
	}
	return nil
}
