// Package broker assembles the sso session and token broker from configuration:
// session store, token issuer, access policy, rate limiting, and telemetry. Transports
// embed a Broker and expose Coordinator methods over their own wire format.
package broker

import (
	"context"
	"database/sql"
	"fmt"

	"sso-broker/internal/access"
	"sso-broker/internal/auth"
	"sso-broker/internal/config"
	"sso-broker/internal/db"
	"sso-broker/internal/identity"
	"sso-broker/internal/kvstore"
	"sso-broker/internal/security"
	"sso-broker/internal/session/registry"
	"sso-broker/internal/telemetry"
	telemetryotel "sso-broker/internal/telemetry/otel"
)

// Broker is a fully wired coordinator plus the resources behind it.
type Broker struct {
	Coordinator *auth.Coordinator
	Sessions    *registry.Registry
	Issuer      *security.TokenIssuer

	sqlDB     *sql.DB
	providers *telemetryotel.Providers
	limiter   *auth.LoginLimiter
}

// New builds a Broker from cfg. Accounts and grants are the deployment's identity and
// authorization sources; policies optionally override the default access policy.
// DATABASE_URL selects the Postgres session store; when empty the broker runs on the
// in-memory store, which is only suitable for a single node.
func New(ctx context.Context, cfg *config.Config, accounts identity.AccountSource, grants access.GrantSource, policies ...string) (*Broker, error) {
	priv, err := security.ParsePrivateKey(cfg.JWTPrivateKey)
	if err != nil {
		return nil, fmt.Errorf("JWT_PRIVATE_KEY: %w", err)
	}
	pub, err := security.ParsePublicKey(cfg.JWTPublicKey)
	if err != nil {
		return nil, fmt.Errorf("JWT_PUBLIC_KEY: %w", err)
	}
	issuer, err := security.NewTokenIssuer(priv, pub, cfg.JWTIssuer, cfg.JWTAudience, cfg.AccessTTL())
	if err != nil {
		return nil, err
	}

	b := &Broker{Issuer: issuer}

	var store kvstore.Store
	if cfg.DatabaseURL != "" {
		sqlDB, err := db.Open(cfg.DatabaseURL)
		if err != nil {
			return nil, fmt.Errorf("open session store: %w", err)
		}
		b.sqlDB = sqlDB
		store = kvstore.NewPostgresStore(sqlDB)
	} else {
		store = kvstore.NewMemoryStore()
	}

	b.Sessions = registry.New(store, registry.Config{
		SSOSessionTTL:     cfg.SSOTTL(),
		AppSessionTTL:     cfg.RefreshTTL(),
		MaxActiveSessions: cfg.MaxActiveSessions,
	})

	resolver, err := access.NewOPAResolver(grants, policies...)
	if err != nil {
		b.closeResources(ctx)
		return nil, err
	}
	verifier := identity.NewLocalVerifier(accounts, security.NewHasher(cfg.BcryptCost))

	providers, err := telemetryotel.NewProviders(ctx, cfg.OTLPEndpoint, cfg.ServiceName, cfg.OTLPInsecure)
	if err != nil {
		b.closeResources(ctx)
		return nil, err
	}
	b.providers = providers
	providers.SetGlobal()

	metrics, err := auth.NewMetrics(providers.MeterProvider.Meter("sso-broker"))
	if err != nil {
		b.closeResources(ctx)
		return nil, err
	}
	var emitter telemetry.EventEmitter = telemetryotel.NewEventEmitter(providers.LoggerProvider)

	b.limiter = auth.NewLoginLimiter(cfg.LoginRatePerMin, cfg.LoginBurst)
	b.Coordinator = auth.NewCoordinator(verifier, b.Sessions, issuer, resolver, b.limiter, metrics, emitter)
	return b, nil
}

// Close releases the broker's resources: limiter, telemetry providers, and the
// database connection when one was opened.
func (b *Broker) Close(ctx context.Context) error {
	return b.closeResources(ctx)
}

func (b *Broker) closeResources(ctx context.Context) error {
	var firstErr error
	if b.limiter != nil {
		b.limiter.Stop()
		b.limiter = nil
	}
	if b.providers != nil {
		if err := b.providers.Shutdown(ctx); err != nil && firstErr == nil {
			firstErr = err
		}
		b.providers = nil
	}
	if b.sqlDB != nil {
		if err := b.sqlDB.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
		b.sqlDB = nil
	}
	return firstErr
}
