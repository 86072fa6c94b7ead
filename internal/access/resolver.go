// Package access decides which client applications a user may exchange into.
package access

import "context"

// Resolver answers app-access questions for the exchange flow. CheckAccess is
// consulted on every exchange and on every refresh, so a revoked grant takes effect
// no later than the next token rotation.
type Resolver interface {
	CheckAccess(ctx context.Context, userID, role, clientID string) (bool, error)
	ListAllowedApps(ctx context.Context, userID, role string) ([]string, error)
}

// GrantSource lists the client_ids explicitly granted to a user. Where the grants
// live (database, directory, static config) is up to the implementation.
type GrantSource interface {
	GrantedApps(ctx context.Context, userID string) ([]string, error)
}

// StaticGrants is a fixed user -> client_ids mapping, useful for tests and small
// single-tenant deployments.
type StaticGrants map[string][]string

// GrantedApps returns the configured client_ids for userID.
func (g StaticGrants) GrantedApps(ctx context.Context, userID string) ([]string, error) {
	return g[userID], nil
}
