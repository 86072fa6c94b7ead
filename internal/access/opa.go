package access

import (
	"context"
	"fmt"

	"github.com/open-policy-agent/opa/v1/ast"
	"github.com/open-policy-agent/opa/v1/rego"
)

const allowQuery = "data.sso.app_access.allow"

// Default Rego policy: a user may enter a client they hold a grant for, and a
// superadmin may enter any client.
const defaultRegoPolicy = `package sso.app_access

default allow = false

allow if {
	input.client_id in input.granted_apps
}

allow if {
	input.user.role == "superadmin"
}
`

// OPAResolver evaluates app access with in-process OPA Rego over a grant source.
// Deployments can replace or extend the default policy with their own modules;
// policies are compiled once at construction.
type OPAResolver struct {
	grants   GrantSource
	compiler *ast.Compiler
}

// NewOPAResolver returns a Resolver over the given grant source. When no policies are
// supplied the default grant-membership policy is used.
func NewOPAResolver(grants GrantSource, policies ...string) (*OPAResolver, error) {
	if len(policies) == 0 {
		policies = []string{defaultRegoPolicy}
	}
	modules := make(map[string]string, len(policies))
	for i, p := range policies {
		modules[fmt.Sprintf("policy_%d.rego", i)] = p
	}
	compiler, err := ast.CompileModules(modules)
	if err != nil {
		return nil, fmt.Errorf("compile access policy: %w", err)
	}
	return &OPAResolver{grants: grants, compiler: compiler}, nil
}

// CheckAccess reports whether the user may hold a session on clientID.
func (r *OPAResolver) CheckAccess(ctx context.Context, userID, role, clientID string) (bool, error) {
	granted, err := r.grants.GrantedApps(ctx, userID)
	if err != nil {
		return false, fmt.Errorf("load grants: %w", err)
	}
	return r.evalAllow(ctx, userID, role, clientID, granted)
}

// ListAllowedApps returns the user's grants filtered through the policy, for the
// allowed_apps access-token claim.
func (r *OPAResolver) ListAllowedApps(ctx context.Context, userID, role string) ([]string, error) {
	granted, err := r.grants.GrantedApps(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("load grants: %w", err)
	}
	var allowed []string
	for _, clientID := range granted {
		ok, err := r.evalAllow(ctx, userID, role, clientID, granted)
		if err != nil {
			return nil, err
		}
		if ok {
			allowed = append(allowed, clientID)
		}
	}
	return allowed, nil
}

func (r *OPAResolver) evalAllow(ctx context.Context, userID, role, clientID string, granted []string) (bool, error) {
	if granted == nil {
		granted = []string{}
	}
	input := map[string]interface{}{
		"user": map[string]interface{}{
			"id":   userID,
			"role": role,
		},
		"client_id":    clientID,
		"granted_apps": granted,
	}
	q := rego.New(
		rego.Query(allowQuery),
		rego.Compiler(r.compiler),
		rego.Input(input),
	)
	rs, err := q.Eval(ctx)
	if err != nil {
		return false, fmt.Errorf("eval access policy: %w", err)
	}
	if len(rs) == 0 || len(rs[0].Expressions) == 0 {
		return false, nil
	}
	allowed, ok := rs[0].Expressions[0].Value.(bool)
	return ok && allowed, nil
}
