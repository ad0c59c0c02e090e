// Package credential mints the auth tokens handed to dispatched tasks and
// signs their log upload URLs. Both are ed25519 signatures, so any replica
// holding the same seed can verify what another replica issued.
package credential

import (
	"crypto/ed25519"
	"crypto/rand"
	"encoding/base64"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"net/url"
	"strconv"
	"strings"
	"time"

	archivist "github.com/Juanbuhler/zmlp-sub000"
)

// Claims is the payload of a task token.
type Claims struct {
	TaskID         string `json:"task_id"`
	JobID          string `json:"job_id"`
	OrganizationID string `json:"organization_id"`
	IssuedAt       int64  `json:"iat"`
	ExpiresAt      int64  `json:"exp"`
}

// Signer issues and verifies task tokens and log URLs.
type Signer struct {
	private ed25519.PrivateKey
	public  ed25519.PublicKey
	ttl     time.Duration
	now     func() time.Time
}

// Option configures a Signer.
type Option func(*Signer)

// WithTTL sets the lifetime of minted tokens.
func WithTTL(d time.Duration) Option {
	return func(s *Signer) { s.ttl = d }
}

// WithClock replaces the time source.
func WithClock(now func() time.Time) Option {
	return func(s *Signer) { s.now = now }
}

// NewSigner creates a Signer from a hex encoded ed25519 seed. An empty
// seed generates a random key.
func NewSigner(seedHex string, opts ...Option) (*Signer, error) {
	var private ed25519.PrivateKey
	if seedHex == "" {
		_, priv, err := ed25519.GenerateKey(rand.Reader)
		if err != nil {
			return nil, fmt.Errorf("generate ed25519 key: %w", err)
		}
		private = priv
	} else {
		seed, err := hex.DecodeString(seedHex)
		if err != nil {
			return nil, fmt.Errorf("decode signing seed: %w", err)
		}
		if len(seed) != ed25519.SeedSize {
			return nil, fmt.Errorf("signing seed is %d bytes, want %d", len(seed), ed25519.SeedSize)
		}
		private = ed25519.NewKeyFromSeed(seed)
	}

	s := &Signer{
		private: private,
		public:  private.Public().(ed25519.PublicKey), //nolint:errcheck // always ed25519
		ttl:     24 * time.Hour,
		now:     func() time.Time { return time.Now().UTC() },
	}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

// PublicKeyHex returns the verification key as hex.
func (s *Signer) PublicKeyHex() string {
	return hex.EncodeToString(s.public)
}

// Mint returns a token for c. IssuedAt and ExpiresAt are filled in.
func (s *Signer) Mint(c Claims) (string, error) {
	now := s.now()
	c.IssuedAt = now.Unix()
	c.ExpiresAt = now.Add(s.ttl).Unix()

	payload, err := json.Marshal(c)
	if err != nil {
		return "", fmt.Errorf("encode claims: %w", err)
	}
	sig := ed25519.Sign(s.private, payload)
	enc := base64.RawURLEncoding
	return enc.EncodeToString(payload) + "." + enc.EncodeToString(sig), nil
}

// Verify checks a token's signature and expiry and returns its claims.
func (s *Signer) Verify(token string) (*Claims, error) {
	payloadPart, sigPart, ok := strings.Cut(token, ".")
	if !ok {
		return nil, archivist.ErrInvalidCredential
	}
	enc := base64.RawURLEncoding
	payload, err := enc.DecodeString(payloadPart)
	if err != nil {
		return nil, archivist.ErrInvalidCredential
	}
	sig, err := enc.DecodeString(sigPart)
	if err != nil || !ed25519.Verify(s.public, payload, sig) {
		return nil, archivist.ErrInvalidCredential
	}

	var c Claims
	if err := json.Unmarshal(payload, &c); err != nil {
		return nil, archivist.ErrInvalidCredential
	}
	if s.now().Unix() >= c.ExpiresAt {
		return nil, archivist.ErrCredentialExpired
	}
	return &c, nil
}

// SignLogURL returns base/{taskID} with an expiry and signature query.
func (s *Signer) SignLogURL(base, taskID string, ttl time.Duration) (string, error) {
	u, err := url.Parse(strings.TrimRight(base, "/") + "/" + url.PathEscape(taskID))
	if err != nil {
		return "", fmt.Errorf("parse log url base: %w", err)
	}
	expires := strconv.FormatInt(s.now().Add(ttl).Unix(), 10)
	sig := ed25519.Sign(s.private, logMessage(taskID, expires))

	q := u.Query()
	q.Set("expires", expires)
	q.Set("sig", base64.RawURLEncoding.EncodeToString(sig))
	u.RawQuery = q.Encode()
	return u.String(), nil
}

// VerifyLogURL checks the expiry and signature of a signed log URL's
// query values.
func (s *Signer) VerifyLogURL(taskID, expires, sig string) error {
	exp, err := strconv.ParseInt(expires, 10, 64)
	if err != nil {
		return archivist.ErrInvalidCredential
	}
	raw, err := base64.RawURLEncoding.DecodeString(sig)
	if err != nil || !ed25519.Verify(s.public, logMessage(taskID, expires), raw) {
		return archivist.ErrInvalidCredential
	}
	if s.now().Unix() >= exp {
		return archivist.ErrCredentialExpired
	}
	return nil
}

func logMessage(taskID, expires string) []byte {
	return []byte("log:" + taskID + "\n" + expires)
}
