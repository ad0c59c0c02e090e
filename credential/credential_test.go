package credential_test

import (
	"errors"
	"net/url"
	"strings"
	"testing"
	"time"

	archivist "github.com/Juanbuhler/zmlp-sub000"
	"github.com/Juanbuhler/zmlp-sub000/credential"
)

const testSeed = "000102030405060708090a0b0c0d0e0f101112131415161718191a1b1c1d1e1f"

func TestSigner_MintVerify(t *testing.T) {
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	clock := func() time.Time { return now }

	s, err := credential.NewSigner(testSeed, credential.WithTTL(time.Hour), credential.WithClock(clock))
	if err != nil {
		t.Fatalf("NewSigner: %v", err)
	}

	token, err := s.Mint(credential.Claims{TaskID: "task_1", JobID: "job_1", OrganizationID: "org"})
	if err != nil {
		t.Fatalf("Mint: %v", err)
	}

	c, err := s.Verify(token)
	if err != nil {
		t.Fatalf("Verify: %v", err)
	}
	if c.TaskID != "task_1" || c.OrganizationID != "org" {
		t.Errorf("claims = %+v", c)
	}

	// Same seed verifies tokens from another replica.
	other, _ := credential.NewSigner(testSeed, credential.WithClock(clock))
	if _, err := other.Verify(token); err != nil {
		t.Errorf("other replica Verify: %v", err)
	}
	if other.PublicKeyHex() != s.PublicKeyHex() {
		t.Error("same seed produced different keys")
	}

	tests := []struct {
		name  string
		token string
		want  error
	}{
		{"no separator", "abc", archivist.ErrInvalidCredential},
		{"tampered", "x" + token, archivist.ErrInvalidCredential},
		{"bad signature", strings.SplitN(token, ".", 2)[0] + ".AAAA", archivist.ErrInvalidCredential},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := s.Verify(tt.token); !errors.Is(err, tt.want) {
				t.Errorf("err = %v, want %v", err, tt.want)
			}
		})
	}

	now = now.Add(2 * time.Hour)
	if _, err := s.Verify(token); !errors.Is(err, archivist.ErrCredentialExpired) {
		t.Errorf("expired token err = %v", err)
	}
}

func TestSigner_RandomKey(t *testing.T) {
	a, err := credential.NewSigner("")
	if err != nil {
		t.Fatalf("NewSigner: %v", err)
	}
	b, _ := credential.NewSigner("")
	token, _ := a.Mint(credential.Claims{TaskID: "t"})
	if _, err := b.Verify(token); !errors.Is(err, archivist.ErrInvalidCredential) {
		t.Errorf("foreign key verified: %v", err)
	}
}

func TestNewSigner_BadSeed(t *testing.T) {
	for _, seed := range []string{"zz", "0001"} {
		if _, err := credential.NewSigner(seed); err == nil {
			t.Errorf("seed %q accepted", seed)
		}
	}
}

func TestSigner_LogURL(t *testing.T) {
	s, _ := credential.NewSigner(testSeed)

	raw, err := s.SignLogURL("http://logs.local/api/v1/logs/", "task_9", time.Hour)
	if err != nil {
		t.Fatalf("SignLogURL: %v", err)
	}
	u, err := url.Parse(raw)
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if u.Path != "/api/v1/logs/task_9" {
		t.Errorf("path = %q", u.Path)
	}
	q := u.Query()
	if err := s.VerifyLogURL("task_9", q.Get("expires"), q.Get("sig")); err != nil {
		t.Errorf("VerifyLogURL: %v", err)
	}
	if err := s.VerifyLogURL("task_10", q.Get("expires"), q.Get("sig")); !errors.Is(err, archivist.ErrInvalidCredential) {
		t.Errorf("other task err = %v", err)
	}
}
