package identity

import (
	"context"
	"errors"
	"testing"

	"sso-broker/internal/security"
)

func newTestVerifier(t *testing.T) (*LocalVerifier, *MemoryAccounts, *security.Hasher) {
	t.Helper()
	hasher := security.NewHasher(4) // min cost keeps the test fast
	accounts := NewMemoryAccounts()
	return NewLocalVerifier(accounts, hasher), accounts, hasher
}

func addAccount(t *testing.T, accounts *MemoryAccounts, hasher *security.Hasher, email, password, role string, active bool) {
	t.Helper()
	hash, err := hasher.Hash([]byte(password))
	if err != nil {
		t.Fatalf("hash password: %v", err)
	}
	accounts.Add(Account{
		ID:           "id-" + email,
		Email:        email,
		Name:         "Test User",
		Role:         role,
		PasswordHash: hash,
		Active:       active,
	})
}

func TestLocalVerifier_Success(t *testing.T) {
	v, accounts, hasher := newTestVerifier(t)
	addAccount(t, accounts, hasher, "jo@example.com", "correct horse", "member", true)

	ver, err := v.Verify(context.Background(), "jo@example.com", "correct horse")
	if err != nil {
		t.Fatalf("Verify: %v", err)
	}
	if ver.UserID != "id-jo@example.com" || ver.Role != "member" || ver.Name != "Test User" {
		t.Errorf("Verification = %+v", ver)
	}
}

func TestLocalVerifier_CaseInsensitiveIdentifier(t *testing.T) {
	v, accounts, hasher := newTestVerifier(t)
	addAccount(t, accounts, hasher, "jo@example.com", "correct horse", "member", true)

	if _, err := v.Verify(context.Background(), "JO@Example.COM", "correct horse"); err != nil {
		t.Fatalf("Verify: %v", err)
	}
}

func TestLocalVerifier_FailureModesCollapse(t *testing.T) {
	v, accounts, hasher := newTestVerifier(t)
	addAccount(t, accounts, hasher, "jo@example.com", "correct horse", "member", true)
	addAccount(t, accounts, hasher, "inactive@example.com", "correct horse", "member", false)

	cases := []struct {
		name       string
		identifier string
		password   string
	}{
		{"unknown account", "nobody@example.com", "whatever"},
		{"wrong password", "jo@example.com", "wrong"},
		{"inactive account", "inactive@example.com", "correct horse"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if _, err := v.Verify(context.Background(), tc.identifier, tc.password); !errors.Is(err, ErrInvalidCredentials) {
				t.Fatalf("Verify = %v, want ErrInvalidCredentials", err)
			}
		})
	}
}
