package otel

import (
	"context"
	"fmt"

	"go.opentelemetry.io/otel/attribute"
	otellog "go.opentelemetry.io/otel/log"
	"go.opentelemetry.io/otel/sdk/resource"
	semconv "go.opentelemetry.io/otel/semconv/v1.26.0"

	"github.com/safesh/safesh/pkg/types"
)

// convertToLogRecord converts an audit Event to an OTEL log Record.
// The returned record is intended for use with Logger.Emit().
func convertToLogRecord(ev types.Event) otellog.Record {
	var rec otellog.Record

	rec.SetTimestamp(ev.Timestamp)
	rec.SetBody(otellog.StringValue(eventBody(ev)))
	rec.SetSeverity(eventSeverity(ev))
	rec.SetSeverityText(eventSeverity(ev).String())
	rec.AddAttributes(eventAttributes(ev)...)

	return rec
}

// eventBody returns a human-readable summary of the event.
func eventBody(ev types.Event) string {
	outcome := ""
	if ev.Policy != nil && ev.Policy.Outcome != "" {
		outcome = " [" + string(ev.Policy.Outcome) + "]"
	}
	if ev.Path != "" {
		return fmt.Sprintf("%s: %s%s", ev.Type, ev.Path, outcome)
	}
	return fmt.Sprintf("%s%s", ev.Type, outcome)
}

// eventSeverity maps event outcomes to OTEL severity levels. Denials are
// errors; anything that needed a confirmation, failed or was cancelled
// is a warning.
func eventSeverity(ev types.Event) otellog.Severity {
	switch ev.Type {
	case "command_failed", "command_cancelled", "confirm_expired":
		return otellog.SeverityWarn
	}
	if ev.Policy == nil {
		return otellog.SeverityInfo
	}
	switch ev.Policy.Outcome {
	case types.OutcomeDeny:
		return otellog.SeverityError
	case types.OutcomeConfirm:
		return otellog.SeverityWarn
	default:
		return otellog.SeverityInfo
	}
}

// eventAttributes builds OTEL log attributes from an event using the
// safesh.* namespace.
func eventAttributes(ev types.Event) []otellog.KeyValue {
	var attrs []otellog.KeyValue

	if ev.ID != "" {
		attrs = append(attrs, otellog.String("safesh.event.id", ev.ID))
	}
	attrs = append(attrs, otellog.String("safesh.event.type", ev.Type))
	if ev.SessionID != "" {
		attrs = append(attrs, otellog.String("safesh.session.id", ev.SessionID))
	}
	if ev.CommandID != "" {
		attrs = append(attrs, otellog.String("safesh.command.id", ev.CommandID))
	}
	if ev.Verb != "" {
		attrs = append(attrs, otellog.String("safesh.verb", string(ev.Verb)))
	}
	if ev.Path != "" {
		attrs = append(attrs, otellog.String("safesh.path", ev.Path))
	}
	if ev.Source != "" {
		attrs = append(attrs, otellog.String("safesh.source", string(ev.Source)))
	}

	if ev.Policy != nil {
		if ev.Policy.Outcome != "" {
			attrs = append(attrs, otellog.String("safesh.outcome", string(ev.Policy.Outcome)))
		}
		if ev.Policy.Rule != "" {
			attrs = append(attrs, otellog.String("safesh.policy.rule", ev.Policy.Rule))
		}
		if ev.Policy.ConfirmationID != "" {
			attrs = append(attrs, otellog.String("safesh.confirmation.id", ev.Policy.ConfirmationID))
		}
	}

	// Fields: add selected well-known fields.
	if ev.Fields != nil {
		for _, key := range []string{
			"raw", "text", "reason", "entry_id", "error", "error_code",
			"duration_ms", "confidence", "note",
		} {
			v, ok := ev.Fields[key]
			if !ok {
				continue
			}
			switch val := v.(type) {
			case string:
				if val != "" {
					attrs = append(attrs, otellog.String("safesh."+key, val))
				}
			case int:
				attrs = append(attrs, otellog.Int("safesh."+key, val))
			case int64:
				attrs = append(attrs, otellog.Int64("safesh."+key, val))
			case float64:
				attrs = append(attrs, otellog.Float64("safesh."+key, val))
			case bool:
				attrs = append(attrs, otellog.Bool("safesh."+key, val))
			}
		}
	}

	return attrs
}

// BuildResource creates an OTEL Resource with the safesh service name and
// optional extra attributes.
func BuildResource(serviceName string, extraAttrs map[string]string) *resource.Resource {
	kvs := []attribute.KeyValue{
		semconv.ServiceName(serviceName),
	}
	for k, v := range extraAttrs {
		kvs = append(kvs, attribute.String(k, v))
	}
	res, _ := resource.New(
		context.Background(),
		resource.WithAttributes(kvs...),
	)
	return res
}
