package httpapi

import (
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/dmitrymomot/subkit/pkg/subscription"
	"github.com/dmitrymomot/subkit/pkg/webhook"
)

func (a *api) handleWebhook(w http.ResponseWriter, r *http.Request) {
	payload, err := webhook.ReadBody(r, a.cfg.WebhookMaxBodySize)
	if err != nil {
		if !webhook.IsVerificationError(err) && !errors.Is(err, webhook.ErrPayloadTooLarge) {
			err = errors.Join(ErrInvalidBody, err)
		}
		a.fail(w, r, err)
		return
	}

	delivery := subscription.WebhookDelivery{
		Payload:   payload,
		Signature: r.Header.Get(a.signatureHeader),
	}
	if a.eventIDHeader != "" {
		delivery.EventID = r.Header.Get(a.eventIDHeader)
	}

	res, err := a.reconciler.HandleWebhook(r.Context(), delivery)
	if err != nil {
		a.fail(w, r, err)
		return
	}
	respond(w, res)
}

type sessionResponse struct {
	UserID    uuid.UUID `json:"user_id"`
	Token     string    `json:"token"`
	ExpiresAt time.Time `json:"expires_at"`
	Created   bool      `json:"created"`
}

// handleLogin issues a session for an identity resolved by the identity provider.
func (a *api) handleLogin(w http.ResponseWriter, r *http.Request) {
	var identity subscription.Identity
	if err := decodeBody(r, &identity); err != nil {
		a.fail(w, r, err)
		return
	}
	res, err := a.svc.Login(r.Context(), identity)
	if err != nil {
		a.fail(w, r, err)
		return
	}

	out := sessionResponse{Token: res.Token, ExpiresAt: res.ExpiresAt, Created: res.Created}
	if res.User != nil {
		out.UserID = res.User.ID
	}
	respond(w, out)
}

func (a *api) handleDeadLetters(w http.ResponseWriter, r *http.Request) {
	limit, err := a.limit(r)
	if err != nil {
		a.fail(w, r, err)
		return
	}
	pending, err := a.reconciler.DeadLetters(r.Context(), limit)
	if err != nil {
		a.fail(w, r, err)
		return
	}
	if pending == nil {
		pending = []subscription.DeadLetter{}
	}
	respond(w, pending)
}

func (a *api) handleReplay(w http.ResponseWriter, r *http.Request) {
	limit, err := a.limit(r)
	if err != nil {
		a.fail(w, r, err)
		return
	}
	report, err := a.reconciler.Replay(r.Context(), limit)
	if err != nil {
		a.fail(w, r, err)
		return
	}
	respond(w, report)
}

func (a *api) handleChargeBySubscription(w http.ResponseWriter, r *http.Request) {
	res, err := a.svc.TriggerChargeBySubscription(r.Context(), chi.URLParam(r, "subscriptionID"))
	if err != nil {
		a.fail(w, r, err)
		return
	}
	respond(w, res)
}

func (a *api) limit(r *http.Request) (int, error) {
	raw := r.URL.Query().Get("limit")
	if raw == "" {
		return a.cfg.DeadLetterPageSize, nil
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n <= 0 {
		return 0, ErrInvalidLimit
	}
	return n, nil
}
