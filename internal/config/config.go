// Package config loads and validates broker config from env and an optional .env file using Viper.
package config

import (
	"errors"
	"time"

	"github.com/spf13/viper"
)

// Config holds broker configuration loaded from the environment.
type Config struct {
	// DatabaseURL is the Postgres DSN backing the session store; empty selects the in-memory store.
	DatabaseURL string `mapstructure:"DATABASE_URL"`
	// JWTPrivateKey is the PEM-encoded private key (RSA or ECDSA) or path to file; used with JWT_PUBLIC_KEY for RS256/ES256.
	JWTPrivateKey string `mapstructure:"JWT_PRIVATE_KEY"`
	// JWTPublicKey is the PEM-encoded public key or path to file; used with JWT_PRIVATE_KEY.
	JWTPublicKey string `mapstructure:"JWT_PUBLIC_KEY"`
	// JWTIssuer is the iss claim (e.g. "sso-auth").
	JWTIssuer string `mapstructure:"JWT_ISSUER"`
	// JWTAudience is the aud claim (e.g. "sso-clients").
	JWTAudience string `mapstructure:"JWT_AUDIENCE"`
	// AccessTokenTTL is the access token lifetime (e.g. "30m").
	AccessTokenTTL string `mapstructure:"ACCESS_TOKEN_TTL"`
	// RefreshTokenTTL is the refresh token and app session lifetime (e.g. "1440h" for 60 days).
	RefreshTokenTTL string `mapstructure:"REFRESH_TOKEN_TTL"`
	// SSOSessionTTL is the global sso session lifetime (e.g. "720h" for 30 days).
	SSOSessionTTL string `mapstructure:"SSO_SESSION_TTL"`
	// MaxActiveSessions caps device sessions per (user, client); 0 disables the cap.
	MaxActiveSessions int `mapstructure:"MAX_ACTIVE_SESSIONS"`
	// BcryptCost is the bcrypt cost factor (4-31); default 12.
	BcryptCost int `mapstructure:"BCRYPT_COST"`
	// LoginRatePerMin is the sustained login attempts allowed per identifier per minute.
	LoginRatePerMin int `mapstructure:"LOGIN_RATE_PER_MIN"`
	// LoginBurst is the login attempt burst allowance per identifier.
	LoginBurst int `mapstructure:"LOGIN_BURST"`
	// OTLPEndpoint is the OTLP gRPC collector endpoint (e.g. localhost:4317); empty disables export.
	OTLPEndpoint string `mapstructure:"OTLP_ENDPOINT"`
	// OTLPInsecure disables TLS on the OTLP exporter connection.
	OTLPInsecure bool `mapstructure:"OTLP_INSECURE"`
	// ServiceName is the service.name resource attribute for telemetry.
	ServiceName string `mapstructure:"SERVICE_NAME"`
	// Env is the application environment (e.g. "development", "production").
	Env string `mapstructure:"APP_ENV"`
}

// Load reads .env (if present), then builds and validates Config from the environment via Viper.
// Missing .env is ignored (e.g. in CI). Env vars override .env.
func Load() (*Config, error) {
	v := viper.New()

	v.SetConfigFile(".env")
	v.SetConfigType("env")
	_ = v.ReadInConfig() // ignore ErrConfigFileNotFound

	v.AutomaticEnv()

	v.SetDefault("DATABASE_URL", "")
	v.SetDefault("JWT_ISSUER", "sso-auth")
	v.SetDefault("JWT_AUDIENCE", "sso-clients")
	v.SetDefault("ACCESS_TOKEN_TTL", "30m")
	v.SetDefault("REFRESH_TOKEN_TTL", "1440h") // 60d
	v.SetDefault("SSO_SESSION_TTL", "720h")    // 30d
	v.SetDefault("MAX_ACTIVE_SESSIONS", 5)
	v.SetDefault("BCRYPT_COST", 12)
	v.SetDefault("LOGIN_RATE_PER_MIN", 10)
	v.SetDefault("LOGIN_BURST", 5)
	v.SetDefault("OTLP_ENDPOINT", "")
	v.SetDefault("OTLP_INSECURE", true)
	v.SetDefault("SERVICE_NAME", "sso-broker")
	v.SetDefault("APP_ENV", "")

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, err
	}

	if cfg.MaxActiveSessions < 0 {
		return nil, errors.New("config: MAX_ACTIVE_SESSIONS must not be negative")
	}
	if cfg.BcryptCost == 0 {
		cfg.BcryptCost = 12
	}
	if cfg.BcryptCost < 4 || cfg.BcryptCost > 31 {
		return nil, errors.New("config: BCRYPT_COST must be between 4 and 31")
	}

	return &cfg, nil
}

// AccessTTL parses AccessTokenTTL as a time.Duration. Returns 30m if unset or invalid.
func (c *Config) AccessTTL() time.Duration {
	return parseTTL(c.AccessTokenTTL, 30*time.Minute)
}

// RefreshTTL parses RefreshTokenTTL as a time.Duration. Returns 1440h if unset or invalid.
func (c *Config) RefreshTTL() time.Duration {
	return parseTTL(c.RefreshTokenTTL, 1440*time.Hour)
}

// SSOTTL parses SSOSessionTTL as a time.Duration. Returns 720h if unset or invalid.
func (c *Config) SSOTTL() time.Duration {
	return parseTTL(c.SSOSessionTTL, 720*time.Hour)
}

func parseTTL(s string, fallback time.Duration) time.Duration {
	d, err := time.ParseDuration(s)
	if err != nil || d <= 0 {
		return fallback
	}
	return d
}
