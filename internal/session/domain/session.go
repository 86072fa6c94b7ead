// Package domain holds the session records persisted in the session store.
package domain

import "time"

// DeviceContext describes the installation an app session is bound to. DeviceID is
// caller-supplied and stable per installation; the registry generates one when absent.
type DeviceContext struct {
	DeviceID   string            `json:"device_id"`
	Platform   string            `json:"platform,omitempty"`
	DeviceName string            `json:"device_name,omitempty"`
	OSVersion  string            `json:"os_version,omitempty"`
	AppVersion string            `json:"app_version,omitempty"`
	Extra      map[string]string `json:"extra,omitempty"`
}

// SSOSession is the global authenticated session created at login. At most one live
// SSOSession exists per user: a new login overwrites the prior one, invalidating its
// token. Only the SHA-256 of the token is stored.
type SSOSession struct {
	UserID    string    `json:"user_id"`
	Role      string    `json:"role,omitempty"`
	TokenHash string    `json:"token_hash"`
	IPAddress string    `json:"ip_address,omitempty"`
	CreatedAt time.Time `json:"created_at"`
	ExpiresAt time.Time `json:"expires_at"`
}

// AppSession is one (user, client, device) binding. Exactly one refresh token is live
// for it at any instant, identified by CurrentRefreshTokenID; superseded tokens are
// permanently invalid so their reuse is detectable.
type AppSession struct {
	UserID                string        `json:"user_id"`
	ClientID              string        `json:"client_id"`
	Role                  string        `json:"role,omitempty"`
	Device                DeviceContext `json:"device"`
	IPAddress             string        `json:"ip_address,omitempty"`
	FCMToken              string        `json:"fcm_token,omitempty"`
	CurrentRefreshTokenID string        `json:"current_refresh_token_id"`
	CreatedAt             time.Time     `json:"created_at"`
	LastActivityAt        time.Time     `json:"last_activity_at"`
	ExpiresAt             time.Time     `json:"expires_at"`
}

// SessionInfo is the enumeration view of an AppSession, carrying no token material.
type SessionInfo struct {
	ClientID       string        `json:"client_id"`
	DeviceID       string        `json:"device_id"`
	Device         DeviceContext `json:"device"`
	IPAddress      string        `json:"ip_address,omitempty"`
	CreatedAt      time.Time     `json:"created_at"`
	LastActivityAt time.Time     `json:"last_activity_at"`
}
