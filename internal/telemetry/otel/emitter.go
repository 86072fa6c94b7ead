package otel

import (
	"context"
	"time"

	otellog "go.opentelemetry.io/otel/log"
	sdklog "go.opentelemetry.io/otel/sdk/log"

	"sso-broker/internal/telemetry"
)

// NewEventEmitter returns an EventEmitter that sends audit events as OTel log records
// via the given LoggerProvider. If provider is nil, returns a no-op emitter.
func NewEventEmitter(provider *sdklog.LoggerProvider) telemetry.EventEmitter {
	if provider == nil {
		return telemetry.NopEmitter{}
	}
	return &otelEmitter{logger: provider.Logger("sso.audit")}
}

type otelEmitter struct {
	logger otellog.Logger
}

// Emit converts the audit event to an OTel log record and emits it.
func (e *otelEmitter) Emit(ctx context.Context, event telemetry.Event) error {
	rec := otellog.Record{}
	rec.SetBody(otellog.StringValue(event.Type))
	rec.AddAttributes(otellog.String("event_type", event.Type))
	if event.UserID != "" {
		rec.AddAttributes(otellog.String("user_id", event.UserID))
	}
	if event.ClientID != "" {
		rec.AddAttributes(otellog.String("client_id", event.ClientID))
	}
	if event.DeviceID != "" {
		rec.AddAttributes(otellog.String("device_id", event.DeviceID))
	}
	if event.IPAddress != "" {
		rec.AddAttributes(otellog.String("ip_address", event.IPAddress))
	}
	if event.Detail != "" {
		rec.AddAttributes(otellog.String("detail", event.Detail))
	}
	if event.At.IsZero() {
		rec.SetTimestamp(time.Now().UTC())
	} else {
		rec.SetTimestamp(event.At)
	}
	e.logger.Emit(ctx, rec)
	return nil
}
