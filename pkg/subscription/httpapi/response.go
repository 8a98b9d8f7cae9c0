package httpapi

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/dmitrymomot/subkit/pkg/logger"
	"github.com/dmitrymomot/subkit/pkg/subscription"
	"github.com/dmitrymomot/subkit/pkg/webhook"
)

type envelope struct {
	Data  any          `json:"data,omitempty"`
	Error *errorDetail `json:"error,omitempty"`
}

type errorDetail struct {
	Kind    subscription.Kind `json:"kind"`
	Code    string            `json:"code,omitempty"`
	Message string            `json:"message"`
	Details map[string]any    `json:"details,omitempty"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func respond(w http.ResponseWriter, data any) {
	writeJSON(w, http.StatusOK, envelope{Data: data})
}

// statusOf maps an error kind to its HTTP status.
func statusOf(kind subscription.Kind) int {
	switch kind {
	case subscription.KindInvalidInput, subscription.KindWebhookVerificationFailed:
		return http.StatusBadRequest
	case subscription.KindUnauthorized:
		return http.StatusUnauthorized
	case subscription.KindNotFound:
		return http.StatusNotFound
	case subscription.KindConflict:
		return http.StatusConflict
	case subscription.KindUpstreamUnavailable:
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

func (a *api) fail(w http.ResponseWriter, r *http.Request, err error) {
	kind := classify(err)
	status := statusOf(kind)

	detail := &errorDetail{
		Kind:    kind,
		Code:    subscription.CodeOf(err),
		Message: err.Error(),
		Details: subscription.DetailsOf(err),
	}
	switch {
	case errors.Is(err, webhook.ErrPayloadTooLarge):
		status = http.StatusRequestEntityTooLarge
	case status >= http.StatusInternalServerError:
		a.logger.ErrorContext(r.Context(), "request failed",
			slog.String("method", r.Method),
			slog.String("path", r.URL.Path),
			slog.String("kind", string(kind)),
			logger.Error(err),
		)
		// Server-side causes stay in the log.
		detail.Message = http.StatusText(status)
		detail.Details = nil
	}
	writeJSON(w, status, envelope{Error: detail})
}

// classify adds the transport errors of this package to subscription.KindOf.
func classify(err error) subscription.Kind {
	switch {
	case errors.Is(err, ErrMissingToken), errors.Is(err, ErrInvalidAdminToken):
		return subscription.KindUnauthorized
	case errors.Is(err, ErrInvalidBody), errors.Is(err, ErrInvalidLimit), errors.Is(err, webhook.ErrPayloadTooLarge):
		return subscription.KindInvalidInput
	default:
		return subscription.KindOf(err)
	}
}
