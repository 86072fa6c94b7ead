package security

import (
	"crypto"
	"crypto/ecdsa"
	"crypto/rand"
	"crypto/rsa"
	"encoding/base64"
	"errors"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// Sentinel errors for token issuing and verification. ErrSigningKey is a startup-time
// misconfiguration; the verification errors are per-request outcomes.
var (
	ErrSigningKey     = errors.New("token signing key misconfigured")
	ErrTokenInvalid   = errors.New("invalid token")
	ErrTokenExpired   = errors.New("token expired")
	ErrTokenMalformed = errors.New("malformed token")
)

// AccessClaims holds JWT claims for the access token. AllowedApps is the list of
// client_ids the subject may exchange into, resolved at issue time.
type AccessClaims struct {
	jwt.RegisteredClaims
	Role        string   `json:"role,omitempty"`
	ClientID    string   `json:"client_id,omitempty"`
	AllowedApps []string `json:"allowed_apps,omitempty"`
}

// TokenIssuer issues and verifies signed access tokens (RS256 or ES256) and mints
// opaque refresh tokens. Access tokens are stateless: verification needs no store
// lookup, so an issued token stays valid until its own expiry even after the owning
// session is revoked.
type TokenIssuer struct {
	privateKey crypto.Signer
	publicKey  crypto.PublicKey
	method     jwt.SigningMethod
	issuer     string
	audience   string
	accessTTL  time.Duration
}

// NewTokenIssuer returns a TokenIssuer that signs with the given private key.
// Returns ErrSigningKey if the key is not RSA or ECDSA; callers should treat that
// as fatal at startup.
func NewTokenIssuer(privateKey crypto.Signer, publicKey crypto.PublicKey, issuer, audience string, accessTTL time.Duration) (*TokenIssuer, error) {
	if privateKey == nil || publicKey == nil {
		return nil, ErrSigningKey
	}
	var method jwt.SigningMethod
	switch privateKey.Public().(type) {
	case *rsa.PublicKey:
		method = jwt.SigningMethodRS256
	case *ecdsa.PublicKey:
		method = jwt.SigningMethodES256
	default:
		return nil, ErrSigningKey
	}
	return &TokenIssuer{
		privateKey: privateKey,
		publicKey:  publicKey,
		method:     method,
		issuer:     issuer,
		audience:   audience,
		accessTTL:  accessTTL,
	}, nil
}

// AccessTTL returns the configured access token lifetime.
func (p *TokenIssuer) AccessTTL() time.Duration { return p.accessTTL }

// IssueAccess issues a short-lived access JWT for the given subject.
// clientID may be empty for an SSO-portal token. Returns the token and its expiry.
func (p *TokenIssuer) IssueAccess(userID, role, clientID string, allowedApps []string) (token string, expiresAt time.Time, err error) {
	jti, err := randomTokenID()
	if err != nil {
		return "", time.Time{}, err
	}
	now := time.Now().UTC()
	expiresAt = now.Add(p.accessTTL)
	claims := AccessClaims{
		RegisteredClaims: jwt.RegisteredClaims{
			ID:        jti,
			Subject:   userID,
			Issuer:    p.issuer,
			Audience:  jwt.ClaimStrings{p.audience},
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(expiresAt),
		},
		Role:        role,
		ClientID:    clientID,
		AllowedApps: allowedApps,
	}
	token, err = jwt.NewWithClaims(p.method, claims).SignedString(p.privateKey)
	if err != nil {
		return "", time.Time{}, err
	}
	return token, expiresAt, nil
}

// VerifyAccess parses and validates an access token (signature, exp, iss, aud).
// Verification is pure: no store access. Returns ErrTokenMalformed for structurally
// invalid input, ErrTokenExpired past exp, and ErrTokenInvalid for anything else.
func (p *TokenIssuer) VerifyAccess(tokenString string) (*AccessClaims, error) {
	token, err := jwt.ParseWithClaims(tokenString, &AccessClaims{}, func(token *jwt.Token) (interface{}, error) {
		switch token.Method.(type) {
		case *jwt.SigningMethodRSA, *jwt.SigningMethodECDSA:
			return p.publicKey, nil
		}
		return nil, ErrTokenInvalid
	})
	if err != nil {
		switch {
		case errors.Is(err, jwt.ErrTokenMalformed):
			return nil, ErrTokenMalformed
		case errors.Is(err, jwt.ErrTokenExpired):
			return nil, ErrTokenExpired
		default:
			return nil, ErrTokenInvalid
		}
	}
	claims, ok := token.Claims.(*AccessClaims)
	if !ok || !token.Valid {
		return nil, ErrTokenInvalid
	}
	if claims.Issuer != p.issuer {
		return nil, ErrTokenInvalid
	}
	audOk := false
	for _, a := range claims.Audience {
		if a == p.audience {
			audOk = true
			break
		}
	}
	if !audOk {
		return nil, ErrTokenInvalid
	}
	return claims, nil
}

// NewRefreshToken mints an opaque random refresh token. The token carries no claims;
// id is the SHA-256 of the secret and is what sessions store and rotation compares.
func NewRefreshToken() (token, id string, err error) {
	b := make([]byte, 32)
	if _, err := rand.Read(b); err != nil {
		return "", "", err
	}
	token = base64.RawURLEncoding.EncodeToString(b)
	return token, HashToken(token), nil
}

func randomTokenID() (string, error) {
	b := make([]byte, 16)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	return base64.RawURLEncoding.EncodeToString(b), nil
}
