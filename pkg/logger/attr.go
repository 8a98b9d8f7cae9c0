package logger

import (
	"log/slog"
	"strconv"
)

// Group creates a slog group attribute from the provided attributes.
func Group(name string, attrs ...slog.Attr) slog.Attr {
	return slog.Attr{Key: name, Value: slog.GroupValue(attrs...)}
}

// Errors groups multiple non-nil errors under the key "errors".
// If all errors are nil, it returns an empty Attr.
func Errors(errs ...error) slog.Attr {
	as := make([]slog.Attr, 0, len(errs))
	for i, err := range errs {
		if err != nil {
			as = append(as, slog.Any(strconv.Itoa(i), err))
		}
	}
	if len(as) == 0 {
		return slog.Attr{}
	}
	return slog.Attr{Key: "errors", Value: slog.GroupValue(as...)}
}

// Error creates an attribute for a single error under the key "error".
// If err is nil, it returns an empty Attr.
func Error(err error) slog.Attr {
	if err == nil {
		return slog.Attr{}
	}
	return slog.Any("error", err)
}

// UserID records the user identifier under the key "user_id".
// If id is nil, it returns an empty Attr.
func UserID(id any) slog.Attr {
	if id == nil {
		return slog.Attr{}
	}
	return slog.Any("user_id", id)
}

// RequestID records the request identifier under the key "request_id".
// If id is nil, it returns an empty Attr.
func RequestID(id any) slog.Attr {
	if id == nil {
		return slog.Attr{}
	}
	return slog.Any("request_id", id)
}

// EventType records the event type under the key "event_type".
func EventType(eventType string) slog.Attr {
	return slog.String("event_type", eventType)
}

// RetryCount records the retry count under the key "retry_count".
func RetryCount(count int) slog.Attr {
	return slog.Int("retry_count", count)
}

// Duration records a duration under the key "duration".
func Duration(d any) slog.Attr {
	return slog.Any("duration", d)
}

// Component records the component name under the key "component".
func Component(name string) slog.Attr {
	return slog.String("component", name)
}

// Operation records a provider or service operation under the key "operation".
func Operation(name string) slog.Attr {
	return slog.String("operation", name)
}

// SubscriptionID records the provider subscription id under the key "subscription_id".
// Empty ids return an empty Attr.
func SubscriptionID(id string) slog.Attr {
	if id == "" {
		return slog.Attr{}
	}
	return slog.String("subscription_id", id)
}

// ProviderEventID records the provider delivery id under the key "provider_event_id".
// Empty ids return an empty Attr.
func ProviderEventID(id string) slog.Attr {
	if id == "" {
		return slog.Attr{}
	}
	return slog.String("provider_event_id", id)
}

// Status records a subscription status under the key "status".
func Status[S ~string](s S) slog.Attr {
	return slog.String("status", string(s))
}

// PreviousStatus records the status before a transition under the key "previous_status".
func PreviousStatus[S ~string](s S) slog.Attr {
	return slog.String("previous_status", string(s))
}

// CircuitState records a circuit breaker state under the key "circuit_state".
func CircuitState(state string) slog.Attr {
	return slog.String("circuit_state", state)
}

// Job records a scheduled job name under the key "job".
func Job(name string) slog.Attr {
	return slog.String("job", name)
}
