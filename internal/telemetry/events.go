// Package telemetry defines the audit event stream emitted by the auth flows.
package telemetry

import (
	"context"
	"time"
)

// Event types emitted by the coordinator.
const (
	EventLogin        = "login"
	EventLoginFailed  = "login_failed"
	EventExchange     = "exchange"
	EventRefresh      = "refresh"
	EventRefreshReuse = "refresh_reuse"
	EventLogout       = "logout"
)

// Event is one audit record. Token material never appears in events.
type Event struct {
	Type      string
	UserID    string
	ClientID  string
	DeviceID  string
	IPAddress string
	At        time.Time
	Detail    string
}

// EventEmitter sends audit events to a sink. Emission is best-effort; auth flows do
// not fail on emitter errors.
type EventEmitter interface {
	Emit(ctx context.Context, event Event) error
}

// NopEmitter discards all events.
type NopEmitter struct{}

// Emit discards the event.
func (NopEmitter) Emit(context.Context, Event) error { return nil }
