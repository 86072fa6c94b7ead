// Package identity verifies primary credentials and exposes the identity snapshot
// the broker records on sessions. Account storage and provisioning live elsewhere;
// the broker only reads.
package identity

import (
	"context"
	"errors"

	"sso-broker/internal/security"
)

// ErrInvalidCredentials is returned for unknown accounts, wrong passwords, and
// disabled accounts alike, so callers cannot distinguish the cases.
var ErrInvalidCredentials = errors.New("invalid credentials")

// Verification is the identity snapshot captured at login time.
type Verification struct {
	UserID string
	Name   string
	Role   string
}

// Account is the read model of a user record.
type Account struct {
	ID           string
	Email        string
	Name         string
	Role         string
	PasswordHash string
	Active       bool
}

// AccountSource looks up accounts by login identifier. Implementations return
// ErrAccountNotFound for unknown identifiers.
type AccountSource interface {
	FindByIdentifier(ctx context.Context, identifier string) (*Account, error)
}

// ErrAccountNotFound is returned by AccountSource for unknown identifiers.
var ErrAccountNotFound = errors.New("account not found")

// Used when the account does not exist, so a lookup miss costs the same as a
// mismatched password.
const dummyHash = "$2a$12$R9h/cIPz0gi.URNNX3kh2OPST9/PgBkqquzi.Ss7KIUgO2t0jWMUW"

// LocalVerifier checks passwords against bcrypt hashes from an AccountSource.
type LocalVerifier struct {
	accounts AccountSource
	hasher   *security.Hasher
}

// NewLocalVerifier returns a Verifier over the given account source.
func NewLocalVerifier(accounts AccountSource, hasher *security.Hasher) *LocalVerifier {
	return &LocalVerifier{accounts: accounts, hasher: hasher}
}

// Verify checks the credentials and returns the identity snapshot. All failure modes
// collapse to ErrInvalidCredentials.
func (v *LocalVerifier) Verify(ctx context.Context, identifier, password string) (*Verification, error) {
	acct, err := v.accounts.FindByIdentifier(ctx, identifier)
	if errors.Is(err, ErrAccountNotFound) {
		_ = v.hasher.Compare(dummyHash, []byte(password))
		return nil, ErrInvalidCredentials
	}
	if err != nil {
		return nil, err
	}
	if err := v.hasher.Compare(acct.PasswordHash, []byte(password)); err != nil {
		return nil, ErrInvalidCredentials
	}
	if !acct.Active {
		return nil, ErrInvalidCredentials
	}
	return &Verification{UserID: acct.ID, Name: acct.Name, Role: acct.Role}, nil
}
