package httpapi

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/dmitrymomot/subkit/pkg/subscription"
)

const maxRequestBody = 64 << 10

// decodeBody reads a JSON body into v. An empty body leaves v untouched.
func decodeBody(r *http.Request, v any) error {
	if r.Body == nil {
		return nil
	}
	dec := json.NewDecoder(io.LimitReader(r.Body, maxRequestBody))
	if err := dec.Decode(v); err != nil {
		if errors.Is(err, io.EOF) {
			return nil
		}
		return errors.Join(ErrInvalidBody, err)
	}
	return nil
}

func (a *api) handlePlans(w http.ResponseWriter, r *http.Request) {
	respond(w, a.svc.Plans(r.Context()))
}

func (a *api) handleLogout(w http.ResponseWriter, r *http.Request) {
	if err := a.svc.Logout(r.Context(), userFrom(r.Context()).ID); err != nil {
		a.fail(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (a *api) handleTrial(w http.ResponseWriter, r *http.Request) {
	u, err := a.svc.InitializeTrial(r.Context(), userFrom(r.Context()).ID)
	if err != nil {
		a.fail(w, r, err)
		return
	}
	respond(w, map[string]any{"trial": u.Trial})
}

func (a *api) handleStatus(w http.ResponseWriter, r *http.Request) {
	view, err := a.svc.GetStatus(r.Context(), userFrom(r.Context()).ID)
	if err != nil {
		a.fail(w, r, err)
		return
	}
	respond(w, view)
}

type createRequest struct {
	PlanType subscription.PlanType `json:"plan_type"`
}

func (a *api) handleCreate(w http.ResponseWriter, r *http.Request) {
	var req createRequest
	if err := decodeBody(r, &req); err != nil {
		a.fail(w, r, err)
		return
	}
	res, err := a.svc.CreateSubscription(r.Context(), userFrom(r.Context()).ID, req.PlanType)
	if err != nil {
		a.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, envelope{Data: res})
}

type cancelRequest struct {
	AtCycleEnd *bool `json:"at_cycle_end"`
}

// handleCancel cancels at the end of the paid cycle unless at_cycle_end is false.
func (a *api) handleCancel(w http.ResponseWriter, r *http.Request) {
	var req cancelRequest
	if err := decodeBody(r, &req); err != nil {
		a.fail(w, r, err)
		return
	}
	atCycleEnd := req.AtCycleEnd == nil || *req.AtCycleEnd

	res, err := a.svc.CancelSubscription(r.Context(), userFrom(r.Context()).ID, atCycleEnd)
	if err != nil {
		a.fail(w, r, err)
		return
	}
	respond(w, res)
}

func (a *api) handlePendingPayment(w http.ResponseWriter, r *http.Request) {
	res, err := a.svc.GetPendingPaymentLink(r.Context(), userFrom(r.Context()).ID)
	if err != nil {
		a.fail(w, r, err)
		return
	}
	respond(w, res)
}

func (a *api) handleCharge(w http.ResponseWriter, r *http.Request) {
	res, err := a.svc.TriggerCharge(r.Context(), userFrom(r.Context()).ID)
	if err != nil {
		a.fail(w, r, err)
		return
	}
	respond(w, res)
}

func (a *api) handleRefresh(w http.ResponseWriter, r *http.Request) {
	view, err := a.svc.ForceRefresh(r.Context(), userFrom(r.Context()).ID)
	if err != nil {
		a.fail(w, r, err)
		return
	}
	respond(w, view)
}

func (a *api) handleValidateFeature(w http.ResponseWriter, r *http.Request) {
	feature := subscription.Feature(chi.URLParam(r, "feature"))
	res, err := a.svc.ValidateFeature(r.Context(), userFrom(r.Context()).ID, feature)
	if err != nil {
		a.fail(w, r, err)
		return
	}
	respond(w, res)
}

func (a *api) handleRecordUsage(w http.ResponseWriter, r *http.Request) {
	feature := subscription.Feature(chi.URLParam(r, "feature"))
	res, err := a.svc.RecordUsage(r.Context(), userFrom(r.Context()).ID, feature)
	if err != nil {
		a.fail(w, r, err)
		return
	}
	respond(w, res)
}
