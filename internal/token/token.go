// Package token issues and verifies the short-lived signed credentials
// automated subsystems present in place of human roles. A token is
// single-use: its nonce is consumed on first successful verification.
package token

import (
	"crypto/hmac"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"strings"
	"sync"
	"time"
)

const (
	// Prefix marks an encoded emergency token on the wire.
	Prefix = "fst."

	// DefaultTTL is the default token validity period.
	DefaultTTL = 2 * time.Minute
	// MaxTTL is the maximum allowed token validity period.
	MaxTTL = 10 * time.Minute
)

// Claims is the signed payload of an emergency token.
type Claims struct {
	Issuer    string    `json:"iss"`
	Subject   string    `json:"sub"`
	ExpiresAt time.Time `json:"exp"`
	Nonce     string    `json:"nonce"`
}

type envelope struct {
	Claims
	Signature string `json:"sig"`
}

// Minter signs tokens on behalf of one trusted issuer.
type Minter struct {
	issuer string
	secret []byte
	ttl    time.Duration

	now func() time.Time
}

// NewMinter creates a Minter. TTL <= 0 selects DefaultTTL; TTLs above
// MaxTTL are rejected.
func NewMinter(issuer string, secret []byte, ttl time.Duration) (*Minter, error) {
	if issuer == "" {
		return nil, fmt.Errorf("token: issuer is required")
	}
	if len(secret) == 0 {
		return nil, fmt.Errorf("token: signing secret is required")
	}
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	if ttl > MaxTTL {
		return nil, fmt.Errorf("token: ttl %s exceeds maximum %s", ttl, MaxTTL)
	}
	return &Minter{issuer: issuer, secret: secret, ttl: ttl, now: time.Now}, nil
}

// Mint issues a fresh single-use token for the given subject.
func (m *Minter) Mint(subject string) (string, error) {
	nonce, err := newNonce()
	if err != nil {
		return "", err
	}
	claims := Claims{
		Issuer:    m.issuer,
		Subject:   subject,
		ExpiresAt: m.now().UTC().Add(m.ttl),
		Nonce:     nonce,
	}
	return encode(claims, m.secret)
}

func encode(claims Claims, secret []byte) (string, error) {
	env := envelope{Claims: claims, Signature: sign(claims, secret)}
	raw, err := json.Marshal(env)
	if err != nil {
		return "", fmt.Errorf("token: marshal: %w", err)
	}
	return Prefix + base64.RawURLEncoding.EncodeToString(raw), nil
}

func sign(c Claims, secret []byte) string {
	mac := hmac.New(sha256.New, secret)
	fmt.Fprintf(mac, "%s|%s|%d|%s", c.Issuer, c.Subject, c.ExpiresAt.Unix(), c.Nonce)
	return hex.EncodeToString(mac.Sum(nil))
}

// Verifier checks presented tokens against the shared secret, an issuer
// allowlist, and a registry of already-consumed nonces.
type Verifier struct {
	secret  []byte
	issuers map[string]bool

	mu   sync.Mutex
	used map[string]time.Time // nonce -> token expiry, for eviction

	now func() time.Time
}

// NewVerifier creates a Verifier trusting the given issuers.
func NewVerifier(secret []byte, issuers []string) (*Verifier, error) {
	if len(secret) == 0 {
		return nil, fmt.Errorf("token: verification secret is required")
	}
	allow := make(map[string]bool, len(issuers))
	for _, iss := range issuers {
		if iss != "" {
			allow[iss] = true
		}
	}
	return &Verifier{
		secret:  secret,
		issuers: allow,
		used:    make(map[string]time.Time),
		now:     time.Now,
	}, nil
}

// Verify validates signature, expiry, issuer, and single use, consuming
// the nonce on success. Any failure leaves the nonce unconsumed.
func (v *Verifier) Verify(raw string) (*Claims, error) {
	if !strings.HasPrefix(raw, Prefix) {
		return nil, fmt.Errorf("token: missing %q prefix", Prefix)
	}
	data, err := base64.RawURLEncoding.DecodeString(strings.TrimPrefix(raw, Prefix))
	if err != nil {
		return nil, fmt.Errorf("token: decode: %w", err)
	}
	var env envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return nil, fmt.Errorf("token: parse: %w", err)
	}

	want := sign(env.Claims, v.secret)
	if !hmac.Equal([]byte(want), []byte(env.Signature)) {
		return nil, fmt.Errorf("token: invalid signature")
	}

	now := v.now().UTC()
	if !now.Before(env.ExpiresAt) {
		return nil, fmt.Errorf("token: expired at %s", env.ExpiresAt.Format(time.RFC3339))
	}
	if !v.issuers[env.Issuer] {
		return nil, fmt.Errorf("token: issuer %q is not trusted", env.Issuer)
	}
	if env.Nonce == "" {
		return nil, fmt.Errorf("token: missing nonce")
	}

	v.mu.Lock()
	defer v.mu.Unlock()
	v.evictLocked(now)
	if _, seen := v.used[env.Nonce]; seen {
		return nil, fmt.Errorf("token: already used")
	}
	v.used[env.Nonce] = env.ExpiresAt

	claims := env.Claims
	return &claims, nil
}

// evictLocked drops nonces whose tokens have expired; an expired token
// fails verification anyway, so the nonce no longer needs tracking.
func (v *Verifier) evictLocked(now time.Time) {
	for nonce, exp := range v.used {
		if now.After(exp) {
			delete(v.used, nonce)
		}
	}
}

func newNonce() (string, error) {
	b := make([]byte, 12)
	if _, err := rand.Read(b); err != nil {
		return "", fmt.Errorf("token: generate nonce: %w", err)
	}
	return hex.EncodeToString(b), nil
}
