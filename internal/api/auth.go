package api

import (
	"crypto/rand"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/base64"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"

	"golang.org/x/crypto/pbkdf2"
)

const (
	tokenHashIterations = 120000
	tokenHashKeyLength  = 32
	tokenHashSaltLength = 16
)

// ErrInvalidToken is returned when a presented bearer token does not match
// any configured token hash.
var ErrInvalidToken = errors.New("invalid token")

// HashToken derives a storable hash for an API token. The output embeds the
// algorithm, iteration count, and salt so it is self-describing.
func HashToken(token string) (string, error) {
	salt := make([]byte, tokenHashSaltLength)
	if _, err := rand.Read(salt); err != nil {
		return "", fmt.Errorf("generate salt: %w", err)
	}
	derived := pbkdf2.Key([]byte(token), salt, tokenHashIterations, tokenHashKeyLength, sha256.New)
	return fmt.Sprintf("pbkdf2$sha256$%d$%s$%s",
		tokenHashIterations,
		base64.RawStdEncoding.EncodeToString(salt),
		base64.RawStdEncoding.EncodeToString(derived),
	), nil
}

func verifyToken(encodedHash, candidate string) error {
	parts := strings.Split(encodedHash, "$")
	if len(parts) != 5 || parts[0] != "pbkdf2" || parts[1] != "sha256" {
		return fmt.Errorf("verify token: unsupported hash format")
	}
	iterations, err := strconv.Atoi(parts[2])
	if err != nil || iterations <= 0 {
		return fmt.Errorf("verify token: invalid iteration count")
	}
	salt, err := base64.RawStdEncoding.DecodeString(parts[3])
	if err != nil {
		return fmt.Errorf("verify token: decode salt: %w", err)
	}
	storedKey, err := base64.RawStdEncoding.DecodeString(parts[4])
	if err != nil {
		return fmt.Errorf("verify token: decode hash: %w", err)
	}
	derived := pbkdf2.Key([]byte(candidate), salt, iterations, len(storedKey), sha256.New)
	if subtle.ConstantTimeCompare(derived, storedKey) != 1 {
		return ErrInvalidToken
	}
	return nil
}

// TokenAuth validates bearer tokens against a set of pbkdf2 hashes. With no
// hashes configured, authentication is disabled and every request passes.
type TokenAuth struct {
	hashes []string
}

func NewTokenAuth(hashes []string) *TokenAuth {
	cleaned := make([]string, 0, len(hashes))
	for _, h := range hashes {
		if trimmed := strings.TrimSpace(h); trimmed != "" {
			cleaned = append(cleaned, trimmed)
		}
	}
	return &TokenAuth{hashes: cleaned}
}

// Enabled reports whether any token hash is configured.
func (a *TokenAuth) Enabled() bool {
	return a != nil && len(a.hashes) > 0
}

// Authenticate checks the Authorization header of the request.
func (a *TokenAuth) Authenticate(r *http.Request) error {
	if !a.Enabled() {
		return nil
	}
	header := strings.TrimSpace(r.Header.Get("Authorization"))
	const prefix = "Bearer "
	if !strings.HasPrefix(header, prefix) {
		return ErrInvalidToken
	}
	token := strings.TrimSpace(header[len(prefix):])
	if token == "" {
		return ErrInvalidToken
	}
	for _, hash := range a.hashes {
		if err := verifyToken(hash, token); err == nil {
			return nil
		}
	}
	return ErrInvalidToken
}

// Middleware rejects unauthenticated requests with 401. Health and metrics
// endpoints stay open.
func (a *TokenAuth) Middleware(next http.Handler) http.Handler {
	if !a.Enabled() {
		return next
	}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/healthz" || r.URL.Path == "/metrics" {
			next.ServeHTTP(w, r)
			return
		}
		if err := a.Authenticate(r); err != nil {
			w.Header().Set("WWW-Authenticate", "Bearer")
			writeError(w, http.StatusUnauthorized, ErrInvalidToken)
			return
		}
		next.ServeHTTP(w, r)
	})
}
