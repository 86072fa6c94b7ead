// Package auth ties credential verification, session state, access policy, and token
// issuance into the broker's login, exchange, refresh, and logout flows.
package auth

import (
	"context"
	"errors"
	"log"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/trace"

	"sso-broker/internal/access"
	"sso-broker/internal/identity"
	"sso-broker/internal/security"
	"sso-broker/internal/session/domain"
	"sso-broker/internal/session/registry"
	"sso-broker/internal/telemetry"
)

// CredentialVerifier is the identity check needed by Login.
type CredentialVerifier interface {
	Verify(ctx context.Context, identifier, password string) (*identity.Verification, error)
}

// SessionRegistry is the session state needed by the coordinator.
type SessionRegistry interface {
	CreateSSOSession(ctx context.Context, userID, role, ipAddress string) (string, error)
	ResolveSSOSession(ctx context.Context, token string) (*domain.SSOSession, error)
	CreateAppSession(ctx context.Context, p registry.CreateAppSessionParams) (*domain.AppSession, string, error)
	RotateRefreshToken(ctx context.Context, refreshToken, deviceID string) (*domain.AppSession, string, error)
	ListSessions(ctx context.Context, userID string) (map[string][]domain.SessionInfo, error)
	Revoke(ctx context.Context, userID, clientID, deviceID string) error
	UpdateFCMToken(ctx context.Context, userID, clientID, deviceID, fcmToken string) error
}

// LoginParams carries the primary credentials presented at login. ClientID is
// optional: when set, the login also opens an app session on that client and the
// result carries tokens for it.
type LoginParams struct {
	Identifier string
	Password   string
	ClientID   string
	Device     domain.DeviceContext
	IPAddress  string
	FCMToken   string
}

// LoginResult holds the global session token and the identity snapshot. Tokens is
// set only when LoginParams.ClientID was supplied and access was granted.
type LoginResult struct {
	SSOToken string
	UserID   string
	Name     string
	Role     string
	Tokens   *TokenResult
}

// ExchangeParams carries an sso token and the target client context.
type ExchangeParams struct {
	SSOToken  string
	ClientID  string
	Device    domain.DeviceContext
	IPAddress string
	FCMToken  string
}

// RefreshParams carries a refresh token and the device binding to verify.
type RefreshParams struct {
	RefreshToken string
	DeviceID     string
}

// TokenResult holds a fresh access/refresh token pair and the app session they
// belong to.
type TokenResult struct {
	AccessToken     string
	AccessExpiresAt time.Time
	RefreshToken    string
	Session         *domain.AppSession
}

// Coordinator implements the broker's auth flows. It holds no mutable state beyond
// the login limiter, so concurrent use is safe.
type Coordinator struct {
	verifier CredentialVerifier
	sessions SessionRegistry
	issuer   *security.TokenIssuer
	resolver access.Resolver
	limiter  *LoginLimiter
	metrics  *Metrics
	emitter  telemetry.EventEmitter
	tracer   trace.Tracer
}

// NewCoordinator returns a Coordinator with the given dependencies. limiter, metrics,
// and emitter may be nil to disable throttling, counters, and audit events.
func NewCoordinator(
	verifier CredentialVerifier,
	sessions SessionRegistry,
	issuer *security.TokenIssuer,
	resolver access.Resolver,
	limiter *LoginLimiter,
	metrics *Metrics,
	emitter telemetry.EventEmitter,
) *Coordinator {
	if emitter == nil {
		emitter = telemetry.NopEmitter{}
	}
	return &Coordinator{
		verifier: verifier,
		sessions: sessions,
		issuer:   issuer,
		resolver: resolver,
		limiter:  limiter,
		metrics:  metrics,
		emitter:  emitter,
		tracer:   otel.Tracer("sso-broker/auth"),
	}
}

// Login verifies primary credentials and opens the user's global session. Any prior
// sso token for the user stops working.
func (c *Coordinator) Login(ctx context.Context, p LoginParams) (*LoginResult, error) {
	ctx, span := c.tracer.Start(ctx, "auth.Login")
	defer span.End()

	if c.limiter != nil && !c.limiter.Allow(p.Identifier) {
		c.metrics.countLogin(ctx, "throttled")
		return nil, ErrTooManyAttempts
	}
	ver, err := c.verifier.Verify(ctx, p.Identifier, p.Password)
	if err != nil {
		if errors.Is(err, identity.ErrInvalidCredentials) {
			c.metrics.countLogin(ctx, "denied")
			c.emit(ctx, telemetry.Event{Type: telemetry.EventLoginFailed, IPAddress: p.IPAddress})
		}
		return nil, err
	}
	token, err := c.sessions.CreateSSOSession(ctx, ver.UserID, ver.Role, p.IPAddress)
	if err != nil {
		c.metrics.countLogin(ctx, "error")
		return nil, err
	}
	c.metrics.countLogin(ctx, "ok")
	c.emit(ctx, telemetry.Event{Type: telemetry.EventLogin, UserID: ver.UserID, IPAddress: p.IPAddress})

	result := &LoginResult{SSOToken: token, UserID: ver.UserID, Name: ver.Name, Role: ver.Role}
	if p.ClientID == "" {
		return result, nil
	}
	// The global session above stands regardless of how the client exchange goes.
	tokens, err := c.Exchange(ctx, ExchangeParams{
		SSOToken:  token,
		ClientID:  p.ClientID,
		Device:    p.Device,
		IPAddress: p.IPAddress,
		FCMToken:  p.FCMToken,
	})
	if err != nil {
		return nil, err
	}
	result.Tokens = tokens
	return result, nil
}

// Exchange turns an sso token into an app session on the target client, issuing an
// access/refresh token pair. A denied grant creates no session state.
func (c *Coordinator) Exchange(ctx context.Context, p ExchangeParams) (*TokenResult, error) {
	ctx, span := c.tracer.Start(ctx, "auth.Exchange")
	defer span.End()

	sso, err := c.sessions.ResolveSSOSession(ctx, p.SSOToken)
	if err != nil {
		c.metrics.countExchange(ctx, "invalid_sso")
		return nil, err
	}
	allowed, err := c.resolver.CheckAccess(ctx, sso.UserID, sso.Role, p.ClientID)
	if err != nil {
		return nil, err
	}
	if !allowed {
		c.metrics.countExchange(ctx, "denied")
		c.emit(ctx, telemetry.Event{Type: telemetry.EventExchange, UserID: sso.UserID, ClientID: p.ClientID, IPAddress: p.IPAddress, Detail: "denied"})
		return nil, ErrAccessDenied
	}
	sess, refreshToken, err := c.sessions.CreateAppSession(ctx, registry.CreateAppSessionParams{
		UserID:    sso.UserID,
		Role:      sso.Role,
		ClientID:  p.ClientID,
		Device:    p.Device,
		IPAddress: p.IPAddress,
		FCMToken:  p.FCMToken,
	})
	if err != nil {
		return nil, err
	}
	result, err := c.issueFor(ctx, sess, refreshToken)
	if err != nil {
		return nil, err
	}
	c.metrics.countExchange(ctx, "ok")
	c.emit(ctx, telemetry.Event{Type: telemetry.EventExchange, UserID: sess.UserID, ClientID: sess.ClientID, DeviceID: sess.Device.DeviceID, IPAddress: p.IPAddress})
	return result, nil
}

// Refresh rotates the refresh token and issues a fresh access token. Access to the
// client is re-resolved, so a revoked grant cuts the session off at its next refresh.
// Reuse of a superseded token fails with registry.ErrRefreshTokenReused after the
// implicated app session has been revoked.
func (c *Coordinator) Refresh(ctx context.Context, p RefreshParams) (*TokenResult, error) {
	ctx, span := c.tracer.Start(ctx, "auth.Refresh")
	defer span.End()

	sess, refreshToken, err := c.sessions.RotateRefreshToken(ctx, p.RefreshToken, p.DeviceID)
	if err != nil {
		if errors.Is(err, registry.ErrRefreshTokenReused) {
			c.metrics.countRefresh(ctx, "reuse")
			c.metrics.countReuse(ctx)
			c.emit(ctx, telemetry.Event{Type: telemetry.EventRefreshReuse, DeviceID: p.DeviceID})
		} else if errors.Is(err, registry.ErrRefreshTokenInvalid) {
			c.metrics.countRefresh(ctx, "invalid")
		}
		return nil, err
	}
	allowed, err := c.resolver.CheckAccess(ctx, sess.UserID, sess.Role, sess.ClientID)
	if err != nil {
		return nil, err
	}
	if !allowed {
		if err := c.sessions.Revoke(ctx, sess.UserID, sess.ClientID, sess.Device.DeviceID); err != nil {
			return nil, err
		}
		c.metrics.countRefresh(ctx, "denied")
		c.metrics.countRevocation(ctx, "device")
		return nil, ErrAccessDenied
	}
	result, err := c.issueFor(ctx, sess, refreshToken)
	if err != nil {
		return nil, err
	}
	c.metrics.countRefresh(ctx, "ok")
	c.emit(ctx, telemetry.Event{Type: telemetry.EventRefresh, UserID: sess.UserID, ClientID: sess.ClientID, DeviceID: sess.Device.DeviceID})
	return result, nil
}

// Validate verifies an access token locally and returns its claims. No store lookup
// happens, so tokens issued before a revocation stay valid until their own expiry.
func (c *Coordinator) Validate(ctx context.Context, accessToken string) (*security.AccessClaims, error) {
	return c.issuer.VerifyAccess(accessToken)
}

// SessionList is the enumeration view returned by ListSessions.
type SessionList struct {
	Clients       map[string][]domain.SessionInfo
	TotalClients  int
	TotalSessions int
}

// ListSessions enumerates the user's live app sessions grouped by client.
func (c *Coordinator) ListSessions(ctx context.Context, userID string) (*SessionList, error) {
	clients, err := c.sessions.ListSessions(ctx, userID)
	if err != nil {
		return nil, err
	}
	list := &SessionList{Clients: clients, TotalClients: len(clients)}
	for _, infos := range clients {
		list.TotalSessions += len(infos)
	}
	return list, nil
}

// Logout revokes sessions at the requested granularity: one device, one client, or
// everything including the global session. It is idempotent.
func (c *Coordinator) Logout(ctx context.Context, userID, clientID, deviceID string) error {
	ctx, span := c.tracer.Start(ctx, "auth.Logout")
	defer span.End()

	if err := c.sessions.Revoke(ctx, userID, clientID, deviceID); err != nil {
		return err
	}
	c.metrics.countRevocation(ctx, revocationScope(clientID, deviceID))
	c.emit(ctx, telemetry.Event{Type: telemetry.EventLogout, UserID: userID, ClientID: clientID, DeviceID: deviceID})
	return nil
}

// RegisterPushToken attaches a notification push token to an existing app session.
func (c *Coordinator) RegisterPushToken(ctx context.Context, userID, clientID, deviceID, fcmToken string) error {
	return c.sessions.UpdateFCMToken(ctx, userID, clientID, deviceID, fcmToken)
}

func (c *Coordinator) issueFor(ctx context.Context, sess *domain.AppSession, refreshToken string) (*TokenResult, error) {
	allowedApps, err := c.resolver.ListAllowedApps(ctx, sess.UserID, sess.Role)
	if err != nil {
		return nil, err
	}
	accessToken, expiresAt, err := c.issuer.IssueAccess(sess.UserID, sess.Role, sess.ClientID, allowedApps)
	if err != nil {
		return nil, err
	}
	return &TokenResult{
		AccessToken:     accessToken,
		AccessExpiresAt: expiresAt,
		RefreshToken:    refreshToken,
		Session:         sess,
	}, nil
}

func (c *Coordinator) emit(ctx context.Context, event telemetry.Event) {
	if event.At.IsZero() {
		event.At = time.Now().UTC()
	}
	if err := c.emitter.Emit(ctx, event); err != nil {
		log.Printf("auth: emit %s event: %v", event.Type, err)
	}
}

func revocationScope(clientID, deviceID string) string {
	switch {
	case clientID != "" && deviceID != "":
		return "device"
	case clientID != "":
		return "client"
	default:
		return "global"
	}
}
