package auth

import (
	"context"
	"crypto/rand"
	"crypto/rsa"
	"errors"
	"testing"
	"time"

	"sso-broker/internal/access"
	"sso-broker/internal/identity"
	"sso-broker/internal/kvstore"
	"sso-broker/internal/security"
	"sso-broker/internal/session/domain"
	"sso-broker/internal/session/registry"
)

type testBroker struct {
	coordinator *Coordinator
	accounts    *identity.MemoryAccounts
	grants      access.StaticGrants
	issuer      *security.TokenIssuer
}

func newTestBroker(t *testing.T) *testBroker {
	t.Helper()

	key, err := rsa.GenerateKey(rand.Reader, 2048)
	if err != nil {
		t.Fatalf("generate key: %v", err)
	}
	issuer, err := security.NewTokenIssuer(key, &key.PublicKey, "sso-auth", "sso-clients", 30*time.Minute)
	if err != nil {
		t.Fatalf("NewTokenIssuer: %v", err)
	}

	hasher := security.NewHasher(4)
	accounts := identity.NewMemoryAccounts()
	hash, err := hasher.Hash([]byte("correct horse"))
	if err != nil {
		t.Fatalf("hash password: %v", err)
	}
	accounts.Add(identity.Account{
		ID:           "user-1",
		Email:        "jo@example.com",
		Name:         "Jo",
		Role:         "member",
		PasswordHash: hash,
		Active:       true,
	})

	grants := access.StaticGrants{"user-1": {"hris", "finance"}}
	resolver, err := access.NewOPAResolver(grants)
	if err != nil {
		t.Fatalf("NewOPAResolver: %v", err)
	}

	sessions := registry.New(kvstore.NewMemoryStore(), registry.Config{
		SSOSessionTTL:     720 * time.Hour,
		AppSessionTTL:     1440 * time.Hour,
		MaxActiveSessions: 5,
	})

	return &testBroker{
		coordinator: NewCoordinator(
			identity.NewLocalVerifier(accounts, hasher),
			sessions,
			issuer,
			resolver,
			nil, // limiter exercised separately
			nil,
			nil,
		),
		accounts: accounts,
		grants:   grants,
		issuer:   issuer,
	}
}

func (b *testBroker) login(t *testing.T) *LoginResult {
	t.Helper()
	res, err := b.coordinator.Login(context.Background(), LoginParams{
		Identifier: "jo@example.com",
		Password:   "correct horse",
		IPAddress:  "10.0.0.1",
	})
	if err != nil {
		t.Fatalf("Login: %v", err)
	}
	return res
}

func (b *testBroker) exchange(t *testing.T, ssoToken, clientID, deviceID string) *TokenResult {
	t.Helper()
	res, err := b.coordinator.Exchange(context.Background(), ExchangeParams{
		SSOToken: ssoToken,
		ClientID: clientID,
		Device:   domain.DeviceContext{DeviceID: deviceID, Platform: "android"},
	})
	if err != nil {
		t.Fatalf("Exchange into %s: %v", clientID, err)
	}
	return res
}

func TestCoordinator_LoginExchangeRefresh(t *testing.T) {
	b := newTestBroker(t)
	ctx := context.Background()

	login := b.login(t)
	if login.SSOToken == "" || login.UserID != "user-1" || login.Role != "member" {
		t.Fatalf("LoginResult = %+v", login)
	}

	tokens := b.exchange(t, login.SSOToken, "hris", "dev-1")
	if tokens.RefreshToken == "" {
		t.Fatal("refresh token should be issued")
	}
	claims, err := b.coordinator.Validate(ctx, tokens.AccessToken)
	if err != nil {
		t.Fatalf("Validate: %v", err)
	}
	if claims.Subject != "user-1" || claims.ClientID != "hris" || claims.Role != "member" {
		t.Errorf("claims = %+v", claims)
	}
	if len(claims.AllowedApps) != 2 {
		t.Errorf("AllowedApps = %v, want both granted apps", claims.AllowedApps)
	}

	refreshed, err := b.coordinator.Refresh(ctx, RefreshParams{RefreshToken: tokens.RefreshToken, DeviceID: "dev-1"})
	if err != nil {
		t.Fatalf("Refresh: %v", err)
	}
	if refreshed.RefreshToken == tokens.RefreshToken {
		t.Fatal("refresh should rotate the token")
	}
	if _, err := b.coordinator.Validate(ctx, refreshed.AccessToken); err != nil {
		t.Fatalf("Validate refreshed access token: %v", err)
	}

	// The spent token is reuse, and it burns the session.
	if _, err := b.coordinator.Refresh(ctx, RefreshParams{RefreshToken: tokens.RefreshToken, DeviceID: "dev-1"}); !errors.Is(err, registry.ErrRefreshTokenReused) {
		t.Fatalf("Refresh spent token = %v, want ErrRefreshTokenReused", err)
	}
	if _, err := b.coordinator.Refresh(ctx, RefreshParams{RefreshToken: refreshed.RefreshToken, DeviceID: "dev-1"}); !errors.Is(err, registry.ErrRefreshTokenInvalid) {
		t.Fatalf("Refresh after reuse revocation = %v, want ErrRefreshTokenInvalid", err)
	}
}

func TestCoordinator_LoginWithClient(t *testing.T) {
	b := newTestBroker(t)
	ctx := context.Background()

	res, err := b.coordinator.Login(ctx, LoginParams{
		Identifier: "jo@example.com",
		Password:   "correct horse",
		ClientID:   "hris",
		Device:     domain.DeviceContext{DeviceID: "dev-1", Platform: "ios"},
		IPAddress:  "10.0.0.1",
	})
	if err != nil {
		t.Fatalf("Login with client: %v", err)
	}
	if res.Tokens == nil || res.Tokens.AccessToken == "" || res.Tokens.RefreshToken == "" {
		t.Fatalf("Tokens = %+v, want an issued pair", res.Tokens)
	}
	if res.Tokens.Session.ClientID != "hris" || res.Tokens.Session.Device.DeviceID != "dev-1" {
		t.Errorf("Session = %+v", res.Tokens.Session)
	}
	if _, err := b.coordinator.Refresh(ctx, RefreshParams{RefreshToken: res.Tokens.RefreshToken, DeviceID: "dev-1"}); err != nil {
		t.Fatalf("Refresh tokens issued at login: %v", err)
	}

	// A client the user has no grant for fails the combined call.
	if _, err := b.coordinator.Login(ctx, LoginParams{
		Identifier: "jo@example.com",
		Password:   "correct horse",
		ClientID:   "crm",
		Device:     domain.DeviceContext{DeviceID: "dev-1"},
	}); !errors.Is(err, ErrAccessDenied) {
		t.Fatalf("Login into ungranted client = %v, want ErrAccessDenied", err)
	}
}

func TestCoordinator_LoginInvalidCredentials(t *testing.T) {
	b := newTestBroker(t)
	_, err := b.coordinator.Login(context.Background(), LoginParams{
		Identifier: "jo@example.com",
		Password:   "wrong",
	})
	if !errors.Is(err, identity.ErrInvalidCredentials) {
		t.Fatalf("Login = %v, want ErrInvalidCredentials", err)
	}
}

func TestCoordinator_ExchangeDeniedCreatesNoSession(t *testing.T) {
	b := newTestBroker(t)
	ctx := context.Background()

	login := b.login(t)
	if _, err := b.coordinator.Exchange(ctx, ExchangeParams{
		SSOToken: login.SSOToken,
		ClientID: "crm",
		Device:   domain.DeviceContext{DeviceID: "dev-1"},
	}); !errors.Is(err, ErrAccessDenied) {
		t.Fatalf("Exchange into ungranted client = %v, want ErrAccessDenied", err)
	}

	list, err := b.coordinator.ListSessions(ctx, "user-1")
	if err != nil {
		t.Fatalf("ListSessions: %v", err)
	}
	if list.TotalSessions != 0 {
		t.Fatalf("sessions = %v, want none after denied exchange", list.Clients)
	}
}

func TestCoordinator_ExchangeInvalidSSOToken(t *testing.T) {
	b := newTestBroker(t)
	if _, err := b.coordinator.Exchange(context.Background(), ExchangeParams{
		SSOToken: "never-issued",
		ClientID: "hris",
	}); !errors.Is(err, registry.ErrSSOSessionInvalid) {
		t.Fatalf("Exchange = %v, want ErrSSOSessionInvalid", err)
	}
}

func TestCoordinator_ReLoginInvalidatesOldSSOToken(t *testing.T) {
	b := newTestBroker(t)
	ctx := context.Background()

	first := b.login(t)
	second := b.login(t)

	if _, err := b.coordinator.Exchange(ctx, ExchangeParams{
		SSOToken: first.SSOToken,
		ClientID: "hris",
	}); !errors.Is(err, registry.ErrSSOSessionInvalid) {
		t.Fatalf("Exchange with superseded sso token = %v, want ErrSSOSessionInvalid", err)
	}
	b.exchange(t, second.SSOToken, "hris", "dev-1")
}

func TestCoordinator_LogoutGranularities(t *testing.T) {
	b := newTestBroker(t)
	ctx := context.Background()

	login := b.login(t)
	b.exchange(t, login.SSOToken, "hris", "dev-1")
	b.exchange(t, login.SSOToken, "hris", "dev-2")
	finance := b.exchange(t, login.SSOToken, "finance", "dev-1")

	if err := b.coordinator.Logout(ctx, "user-1", "hris", ""); err != nil {
		t.Fatalf("Logout client: %v", err)
	}
	list, err := b.coordinator.ListSessions(ctx, "user-1")
	if err != nil {
		t.Fatalf("ListSessions: %v", err)
	}
	if len(list.Clients["hris"]) != 0 || len(list.Clients["finance"]) != 1 {
		t.Fatalf("sessions = %+v, want finance only", list.Clients)
	}
	if list.TotalSessions != 1 || list.TotalClients != 1 {
		t.Errorf("totals = %d clients / %d sessions, want 1/1", list.TotalClients, list.TotalSessions)
	}

	// The finance session and the global session both survive a client logout.
	if _, err := b.coordinator.Refresh(ctx, RefreshParams{RefreshToken: finance.RefreshToken, DeviceID: "dev-1"}); err != nil {
		t.Fatalf("Refresh finance after hris logout: %v", err)
	}
	b.exchange(t, login.SSOToken, "hris", "dev-1")

	if err := b.coordinator.Logout(ctx, "user-1", "", ""); err != nil {
		t.Fatalf("Logout global: %v", err)
	}
	if _, err := b.coordinator.Exchange(ctx, ExchangeParams{
		SSOToken: login.SSOToken,
		ClientID: "hris",
	}); !errors.Is(err, registry.ErrSSOSessionInvalid) {
		t.Fatalf("Exchange after global logout = %v, want ErrSSOSessionInvalid", err)
	}
}

func TestCoordinator_RefreshAfterGrantRevoked(t *testing.T) {
	b := newTestBroker(t)
	ctx := context.Background()

	login := b.login(t)
	tokens := b.exchange(t, login.SSOToken, "hris", "dev-1")

	// Pull the hris grant; the revocation lands at the next refresh.
	b.grants["user-1"] = []string{"finance"}

	if _, err := b.coordinator.Refresh(ctx, RefreshParams{RefreshToken: tokens.RefreshToken, DeviceID: "dev-1"}); !errors.Is(err, ErrAccessDenied) {
		t.Fatalf("Refresh with revoked grant = %v, want ErrAccessDenied", err)
	}
	list, err := b.coordinator.ListSessions(ctx, "user-1")
	if err != nil {
		t.Fatalf("ListSessions: %v", err)
	}
	if len(list.Clients["hris"]) != 0 {
		t.Fatalf("hris sessions = %+v, want revoked", list.Clients["hris"])
	}
}

func TestCoordinator_RegisterPushToken(t *testing.T) {
	b := newTestBroker(t)
	ctx := context.Background()

	login := b.login(t)
	b.exchange(t, login.SSOToken, "hris", "dev-1")

	if err := b.coordinator.RegisterPushToken(ctx, "user-1", "hris", "dev-1", "fcm-xyz"); err != nil {
		t.Fatalf("RegisterPushToken: %v", err)
	}
	if err := b.coordinator.RegisterPushToken(ctx, "user-1", "hris", "dev-9", "fcm-xyz"); !errors.Is(err, registry.ErrSessionNotFound) {
		t.Fatalf("RegisterPushToken missing = %v, want ErrSessionNotFound", err)
	}
}

func TestCoordinator_LoginRateLimit(t *testing.T) {
	b := newTestBroker(t)
	limiter := NewLoginLimiter(1, 2)
	defer limiter.Stop()
	b.coordinator.limiter = limiter

	ctx := context.Background()
	for i := 0; i < 2; i++ {
		if _, err := b.coordinator.Login(ctx, LoginParams{Identifier: "jo@example.com", Password: "wrong"}); !errors.Is(err, identity.ErrInvalidCredentials) {
			t.Fatalf("Login %d = %v, want ErrInvalidCredentials", i, err)
		}
	}
	if _, err := b.coordinator.Login(ctx, LoginParams{Identifier: "jo@example.com", Password: "wrong"}); !errors.Is(err, ErrTooManyAttempts) {
		t.Fatalf("Login over burst = %v, want ErrTooManyAttempts", err)
	}
	// Other identifiers are unaffected.
	if _, err := b.coordinator.Login(ctx, LoginParams{Identifier: "other@example.com", Password: "wrong"}); !errors.Is(err, identity.ErrInvalidCredentials) {
		t.Fatalf("Login other identifier = %v, want ErrInvalidCredentials", err)
	}
}
