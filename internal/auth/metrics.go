package auth

import (
	"context"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// Metrics holds the coordinator's counters. Refresh reuse gets its own counter so it
// can be alerted on directly.
type Metrics struct {
	logins       metric.Int64Counter
	exchanges    metric.Int64Counter
	refreshes    metric.Int64Counter
	refreshReuse metric.Int64Counter
	revocations  metric.Int64Counter
}

// NewMetrics registers the coordinator's instruments on the given meter.
func NewMetrics(meter metric.Meter) (*Metrics, error) {
	var m Metrics
	var err error
	if m.logins, err = meter.Int64Counter("sso.logins",
		metric.WithDescription("Login attempts by outcome")); err != nil {
		return nil, err
	}
	if m.exchanges, err = meter.Int64Counter("sso.exchanges",
		metric.WithDescription("SSO token exchanges by outcome")); err != nil {
		return nil, err
	}
	if m.refreshes, err = meter.Int64Counter("sso.refreshes",
		metric.WithDescription("Refresh token rotations by outcome")); err != nil {
		return nil, err
	}
	if m.refreshReuse, err = meter.Int64Counter("sso.refresh_reuse",
		metric.WithDescription("Detected refresh token reuse events")); err != nil {
		return nil, err
	}
	if m.revocations, err = meter.Int64Counter("sso.revocations",
		metric.WithDescription("Session revocations by scope")); err != nil {
		return nil, err
	}
	return &m, nil
}

func (m *Metrics) countLogin(ctx context.Context, outcome string) {
	if m == nil || m.logins == nil {
		return
	}
	m.logins.Add(ctx, 1, metric.WithAttributes(attribute.String("outcome", outcome)))
}

func (m *Metrics) countExchange(ctx context.Context, outcome string) {
	if m == nil || m.exchanges == nil {
		return
	}
	m.exchanges.Add(ctx, 1, metric.WithAttributes(attribute.String("outcome", outcome)))
}

func (m *Metrics) countRefresh(ctx context.Context, outcome string) {
	if m == nil || m.refreshes == nil {
		return
	}
	m.refreshes.Add(ctx, 1, metric.WithAttributes(attribute.String("outcome", outcome)))
}

func (m *Metrics) countReuse(ctx context.Context) {
	if m == nil || m.refreshReuse == nil {
		return
	}
	m.refreshReuse.Add(ctx, 1)
}

func (m *Metrics) countRevocation(ctx context.Context, scope string) {
	if m == nil || m.revocations == nil {
		return
	}
	m.revocations.Add(ctx, 1, metric.WithAttributes(attribute.String("scope", scope)))
}
