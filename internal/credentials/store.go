// Package credentials persists the citizen bearer token and the moderator
// basic credential between runs, and answers whether either is usable.
package credentials

import (
	"encoding/base64"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// Storage key names, kept stable so existing profiles keep working.
const (
	keyToken     = "jwt_token"
	keyAdminAuth = "admin_auth"
)

// KV is the minimal persistence surface the store needs: string values
// keyed by fixed names, visible to subsequent reads in the same process.
type KV interface {
	Get(key string) (string, bool)
	Set(key, value string) error
	Delete(key string) error
}

// Store reads and writes the two credential records. Exactly one of them
// governs the Authorization header per request; Basic wins over Bearer.
type Store struct {
	kv  KV
	now func() time.Time
}

// NewStore wraps a KV. now defaults to time.Now and exists so expiry
// checks are testable at exact boundaries.
func NewStore(kv KV) *Store {
	return &Store{kv: kv, now: time.Now}
}

// WithNow overrides the clock used for expiry checks.
func (s *Store) WithNow(now func() time.Time) *Store {
	s.now = now
	return s
}

// SetToken stores the bearer token.
func (s *Store) SetToken(token string) error {
	return s.kv.Set(keyToken, token)
}

// Token returns the stored bearer token, if any. No validity check.
func (s *Store) Token() (string, bool) {
	return s.kv.Get(keyToken)
}

// ClearToken removes the bearer token.
func (s *Store) ClearToken() error {
	return s.kv.Delete(keyToken)
}

// SetAdminCredential encodes username:password as a basic credential and
// stores it.
func (s *Store) SetAdminCredential(username, password string) error {
	enc := base64.StdEncoding.EncodeToString([]byte(username + ":" + password))
	return s.kv.Set(keyAdminAuth, enc)
}

// AdminCredential returns the stored basic credential, already encoded.
func (s *Store) AdminCredential() (string, bool) {
	return s.kv.Get(keyAdminAuth)
}

// ClearAdminCredential removes the basic credential.
func (s *Store) ClearAdminCredential() error {
	return s.kv.Delete(keyAdminAuth)
}

// IsAdminAuthenticated is true iff a basic credential is stored. Presence
// alone implies authenticated; the server rejects bad pairs with 401.
func (s *Store) IsAdminAuthenticated() bool {
	v, ok := s.AdminCredential()
	return ok && v != ""
}

// IsTokenValid reports whether a structurally well-formed, unexpired bearer
// token is stored. It fails closed: a missing, malformed, expiry-less or
// expired token is discarded and false is returned. The signature is not
// verified here; only the server can do that.
func (s *Store) IsTokenValid() bool {
	token, ok := s.Token()
	if !ok || token == "" {
		return false
	}

	claims := jwt.MapClaims{}
	if _, _, err := jwt.NewParser().ParseUnverified(token, claims); err != nil {
		s.ClearToken()
		return false
	}

	exp, err := claims.GetExpirationTime()
	if err != nil || exp == nil {
		s.ClearToken()
		return false
	}

	// An expiry equal to now counts as expired.
	if exp.Time.UnixMilli() <= s.now().UnixMilli() {
		s.ClearToken()
		return false
	}
	return true
}
