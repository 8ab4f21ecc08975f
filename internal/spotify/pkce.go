package spotify

import (
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"time"
)

// pkceChallenge is one pending login. Challenges are keyed by the opaque
// state parameter and scoped to the profile that initiated the login, so
// logins for different profiles never clobber each other.
type pkceChallenge struct {
	profileID string
	verifier  string
	issuedAt  time.Time
}

// newVerifier returns a 43-character URL-safe code verifier (RFC 7636 §4.1).
func newVerifier() (string, error) {
	raw := make([]byte, 32)
	if _, err := rand.Read(raw); err != nil {
		return "", err
	}
	return base64.RawURLEncoding.EncodeToString(raw), nil
}

// challengeS256 derives the code challenge from the verifier (RFC 7636 §4.2).
func challengeS256(verifier string) string {
	sum := sha256.Sum256([]byte(verifier))
	return base64.RawURLEncoding.EncodeToString(sum[:])
}
