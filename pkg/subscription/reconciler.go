package subscription

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"time"

	"github.com/google/uuid"

	"github.com/dmitrymomot/subkit/pkg/clock"
	"github.com/dmitrymomot/subkit/pkg/logger"
	"github.com/dmitrymomot/subkit/pkg/webhook"
)

// Webhook outcomes reported to callers and metrics.
const (
	OutcomeApplied      = "applied"
	OutcomePreserved    = "preserved"
	OutcomeDuplicate    = "duplicate"
	OutcomeIgnored      = "ignored"
	OutcomeUserNotFound = "user_not_found"
	OutcomeFailed       = "failed"
	OutcomeRejected     = "rejected"
)

// WebhookDelivery is a raw inbound webhook.
type WebhookDelivery struct {
	Payload   []byte
	Signature string
	// EventID is the provider delivery id from transport headers, used when
	// the payload carries none.
	EventID string
}

// WebhookResult acknowledges a processed delivery.
type WebhookResult struct {
	Acknowledged   bool      `json:"acknowledged"`
	Event          EventType `json:"event,omitempty"`
	Outcome        string    `json:"outcome"`
	PreviousStatus Status    `json:"previous_status,omitempty"`
	Status         Status    `json:"status,omitempty"`
}

// ReplayReport summarizes a dead-letter replay run.
type ReplayReport struct {
	Attempted int `json:"attempted"`
	Resolved  int `json:"resolved"`
	Failed    int `json:"failed"`
}

// Reconciler applies verified provider events to user records.
type Reconciler struct {
	store    UserStore
	provider BillingProvider
	dlq      DeadLetterQueue
	ledger   EventLedger
	plans    map[PlanType]Plan
	clock    clock.Clock
	logger   *slog.Logger
	metrics  *Metrics
	locks    *keyedMutex
}

// ReconcilerOption configures a Reconciler.
type ReconcilerOption func(*Reconciler)

// WithEventLedger adds a fast-path dedupe ledger.
func WithEventLedger(l EventLedger) ReconcilerOption {
	return func(r *Reconciler) {
		r.ledger = l
	}
}

// WithReconcilerPlans sets the plan table used for default billing periods.
func WithReconcilerPlans(plans map[PlanType]Plan) ReconcilerOption {
	return func(r *Reconciler) {
		if len(plans) > 0 {
			r.plans = plans
		}
	}
}

// WithReconcilerClock sets the time source.
func WithReconcilerClock(c clock.Clock) ReconcilerOption {
	return func(r *Reconciler) {
		if c != nil {
			r.clock = c
		}
	}
}

// WithReconcilerLogger sets the logger.
func WithReconcilerLogger(l *slog.Logger) ReconcilerOption {
	return func(r *Reconciler) {
		if l != nil {
			r.logger = l
		}
	}
}

// WithReconcilerMetrics records webhook outcomes.
func WithReconcilerMetrics(m *Metrics) ReconcilerOption {
	return func(r *Reconciler) {
		r.metrics = m
	}
}

// NewReconciler creates a Reconciler. Panics if a dependency is nil.
func NewReconciler(store UserStore, provider BillingProvider, dlq DeadLetterQueue, opts ...ReconcilerOption) *Reconciler {
	if store == nil {
		panic("subscription: UserStore is required")
	}
	if provider == nil {
		panic("subscription: BillingProvider is required")
	}
	if dlq == nil {
		panic("subscription: DeadLetterQueue is required")
	}

	r := &Reconciler{
		store:    store,
		provider: provider,
		dlq:      dlq,
		plans:    DefaultPlans(),
		clock:    clock.System(),
		logger:   logger.Discard(),
		locks:    newKeyedMutex(),
	}
	for _, opt := range opts {
		opt(r)
	}
	r.logger = r.logger.With(logger.Component("reconciler"))
	return r
}

// HandleWebhook verifies, parses and applies one delivery. Failures after
// verification are dead-lettered and reported as WEBHOOK_PROCESSING_FAILED
// so the provider redelivers.
func (r *Reconciler) HandleWebhook(ctx context.Context, d WebhookDelivery) (*WebhookResult, error) {
	if len(d.Payload) == 0 {
		r.metrics.webhook("unknown", OutcomeRejected)
		return nil, newError(KindWebhookVerificationFailed, webhook.ErrEmptyPayload)
	}
	if err := r.provider.VerifyWebhookSignature(d.Payload, d.Signature); err != nil {
		r.metrics.webhook("unknown", OutcomeRejected)
		r.logger.WarnContext(ctx, "webhook signature rejected", logger.Error(err))
		if !webhook.IsVerificationError(err) {
			err = errors.Join(webhook.ErrInvalidSignature, err)
		}
		return nil, newError(KindWebhookVerificationFailed, err)
	}

	ev, err := r.provider.ParseWebhookEvent(d.Payload)
	if err != nil {
		return nil, r.fail(ctx, d.Payload, nil, d.EventID, err)
	}
	if ev.ProviderEventID == "" {
		ev.ProviderEventID = d.EventID
	}

	res, err := r.process(ctx, ev)
	if err != nil {
		return nil, r.fail(ctx, d.Payload, ev, ev.ProviderEventID, err)
	}
	return res, nil
}

func (r *Reconciler) fail(ctx context.Context, payload []byte, ev *Event, eventID string, cause error) error {
	eventType := "unknown"
	if ev != nil {
		eventType = string(ev.Type)
		if eventType == "" {
			eventType = ev.RawType
		}
	}

	dl := DeadLetter{
		ID:              uuid.New(),
		EventType:       eventType,
		ExternalID:      ev.ExternalID(),
		ProviderEventID: eventID,
		Payload:         payload,
		Error:           cause.Error(),
		ReceivedAt:      r.clock.Now().UTC(),
	}
	r.metrics.webhook(eventType, OutcomeFailed)
	r.metrics.webhookFailed(eventType)

	pushErr := r.dlq.Push(context.WithoutCancel(ctx), dl)
	if pushErr == nil {
		r.metrics.deadLettered()
	}
	r.logger.ErrorContext(ctx, "webhook processing failed",
		logger.EventType(eventType),
		logger.SubscriptionID(dl.ExternalID),
		logger.ProviderEventID(eventID),
		slog.String("dead_letter_id", dl.ID.String()),
		logger.Errors(cause, pushErr),
	)

	err := errors.Join(ErrWebhookProcessingFailed, cause)
	if pushErr != nil {
		err = errors.Join(err, fmt.Errorf("dead-letter: %w", pushErr))
	}
	return newError(KindWebhookProcessingFailed, err)
}

func (r *Reconciler) process(ctx context.Context, ev *Event) (*WebhookResult, error) {
	res := &WebhookResult{Acknowledged: true, Event: ev.Type}

	trigger, ok := eventTriggers[ev.Type]
	if !ok {
		res.Outcome = OutcomeIgnored
		r.metrics.webhook(eventLabel(ev), OutcomeIgnored)
		r.logger.DebugContext(ctx, "ignoring webhook event", logger.EventType(eventLabel(ev)))
		return res, nil
	}
	externalID := ev.ExternalID()
	if externalID == "" {
		// One-off payments arrive without a subscription; nothing to resolve.
		res.Outcome = OutcomeUserNotFound
		r.metrics.webhook(string(ev.Type), OutcomeUserNotFound)
		r.logger.WarnContext(ctx, "webhook without subscription id acknowledged",
			logger.EventType(string(ev.Type)),
			logger.ProviderEventID(ev.ProviderEventID),
		)
		return res, nil
	}

	key := ev.DedupeKey()
	if r.ledger != nil && key != "" {
		seen, err := r.ledger.Seen(ctx, key)
		if err != nil {
			r.logger.WarnContext(ctx, "event ledger lookup failed", logger.Error(err))
		} else if seen {
			res.Outcome = OutcomeDuplicate
			r.metrics.webhook(string(ev.Type), OutcomeDuplicate)
			return res, nil
		}
	}

	unlock := r.locks.Lock(externalID)
	defer unlock()

	u, rebind, err := r.resolveUser(ctx, ev)
	if err != nil {
		if errors.Is(err, ErrUserNotFound) {
			res.Outcome = OutcomeUserNotFound
			r.metrics.webhook(string(ev.Type), OutcomeUserNotFound)
			r.logger.WarnContext(ctx, "webhook for unknown subscription acknowledged",
				logger.EventType(string(ev.Type)),
				logger.SubscriptionID(externalID),
			)
			return res, nil
		}
		return nil, err
	}

	now := r.clock.Now().UTC()
	var out outcome
	duplicate := false
	updated, err := r.store.Update(ctx, u.ID, func(u *User) error {
		sub := &u.Subscription
		if rebind {
			if !rebindable(u, externalID) {
				return fmt.Errorf("%w: user %s is bound to %s", ErrExternalIDTaken, u.ID, sub.ExternalID)
			}
			sub.ExternalID = externalID
		} else if sub.ExternalID != externalID {
			return ErrConcurrentUpdate
		}
		if key != "" && slices.Contains(sub.ProcessedEvents, key) {
			duplicate = true
			return ErrNoChange
		}

		var err error
		out, err = apply(ctx, trigger, &change{
			user:  u,
			now:   now,
			plan:  r.planFor(u),
			event: ev,
		})
		if err != nil {
			return err
		}

		sub.LastWebhook = &WebhookAudit{
			Type:            ev.Type,
			ProviderEventID: ev.ProviderEventID,
			ReceivedAt:      now,
			PreviousStatus:  out.From,
			PreservedStatus: out.Preserved,
			Notes:           out.Notes,
		}
		if key != "" {
			sub.ProcessedEvents = append(sub.ProcessedEvents, key)
			if n := len(sub.ProcessedEvents); n > maxProcessedEvents {
				sub.ProcessedEvents = sub.ProcessedEvents[n-maxProcessedEvents:]
			}
		}
		u.UpdatedAt = now
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("apply %s: %w", ev.Type, err)
	}

	if r.ledger != nil && key != "" {
		if err := r.ledger.Mark(ctx, key); err != nil {
			r.logger.WarnContext(ctx, "event ledger update failed", logger.Error(err))
		}
	}

	if duplicate {
		res.Outcome = OutcomeDuplicate
		res.Status = updated.Subscription.Status
		r.metrics.webhook(string(ev.Type), OutcomeDuplicate)
		return res, nil
	}

	res.PreviousStatus = out.From
	res.Status = updated.Subscription.Status
	switch {
	case !out.Applied:
		res.Outcome = OutcomeIgnored
	case out.Preserved:
		res.Outcome = OutcomePreserved
	default:
		res.Outcome = OutcomeApplied
	}
	r.metrics.webhook(string(ev.Type), res.Outcome)
	r.logger.InfoContext(ctx, "webhook applied",
		logger.EventType(string(ev.Type)),
		logger.UserID(updated.ID),
		logger.SubscriptionID(externalID),
		logger.PreviousStatus(out.From),
		logger.Status(updated.Subscription.Status),
		slog.String("outcome", res.Outcome),
	)

	if trigger == TriggerAuthenticated && updated.Subscription.Status == StatusAuthenticated {
		r.chargeAuthenticated(ctx, updated)
	}
	if ev.Type.Critical() && out.Applied {
		r.verify(ctx, updated.ID, ev.Type)
	}
	return res, nil
}

// resolveUser finds the record for ev by subscription id, falling back to
// the user id echoed through provider metadata. rebind reports whether the
// record must be bound to the event's subscription id.
func (r *Reconciler) resolveUser(ctx context.Context, ev *Event) (_ *User, rebind bool, _ error) {
	u, err := r.store.GetByExternalID(ctx, ev.ExternalID())
	if err == nil {
		return u, false, nil
	}
	if !errors.Is(err, ErrUserNotFound) {
		return nil, false, err
	}

	hint, perr := uuid.Parse(ev.UserHint())
	if perr != nil {
		return nil, false, ErrUserNotFound
	}
	u, err = r.store.Get(ctx, hint)
	if err != nil {
		return nil, false, err
	}
	if !rebindable(u, ev.ExternalID()) {
		r.logger.WarnContext(ctx, "user hint points at a record bound to another subscription",
			logger.UserID(u.ID),
			logger.SubscriptionID(ev.ExternalID()),
		)
		return nil, false, ErrUserNotFound
	}
	return u, true, nil
}

// rebindable reports whether u may adopt externalID. Live subscriptions
// keep their binding.
func rebindable(u *User, externalID string) bool {
	sub := u.Subscription
	if sub.ExternalID == "" || sub.ExternalID == externalID {
		return true
	}
	return sub.Status != StatusActive && sub.Status != StatusPastDue
}

func (r *Reconciler) planFor(u *User) Plan {
	if p, ok := r.plans[u.Subscription.PlanType]; ok {
		return p
	}
	return r.plans[PlanMonthly]
}

// chargeAuthenticated triggers payment of an issued invoice after an
// authenticated event. Failures are logged only.
func (r *Reconciler) chargeAuthenticated(ctx context.Context, u *User) {
	res, err := chargePending(ctx, r.provider, r.store, u, r.clock.Now().UTC())
	switch {
	case err == nil:
		r.logger.InfoContext(ctx, "charged pending invoice after authentication",
			logger.UserID(u.ID),
			logger.SubscriptionID(res.SubscriptionID),
			slog.String("invoice_id", res.InvoiceID),
		)
	case errors.Is(err, ErrNoPendingInvoice):
		r.logger.DebugContext(ctx, "no issued invoice after authentication", logger.UserID(u.ID))
	default:
		r.logger.WarnContext(ctx, "failed to charge invoice after authentication",
			logger.UserID(u.ID),
			logger.SubscriptionID(u.Subscription.ExternalID),
			logger.Error(err),
		)
	}
}

// verify re-reads the record after a critical event and logs mismatches.
func (r *Reconciler) verify(ctx context.Context, userID uuid.UUID, eventType EventType) {
	u, err := r.store.Get(ctx, userID)
	if err != nil {
		r.logger.WarnContext(ctx, "post-event verification read failed", logger.UserID(userID), logger.Error(err))
		return
	}
	if problems := verificationProblems(u, eventType, r.clock.Now().UTC()); len(problems) > 0 {
		r.logger.WarnContext(ctx, "post-event verification mismatch",
			logger.UserID(userID),
			logger.EventType(string(eventType)),
			logger.Status(u.Subscription.Status),
			slog.Any("problems", problems),
		)
	}
}

func verificationProblems(u *User, eventType EventType, now time.Time) []string {
	var problems []string
	sub := u.Subscription
	switch eventType {
	case EventSubscriptionActivated, EventSubscriptionCharged:
		if sub.Status != StatusActive {
			return append(problems, "expected status active, got "+string(sub.Status))
		}
	case EventSubscriptionAuthenticated:
		if sub.Status != StatusAuthenticated && sub.Status != StatusActive {
			return append(problems, "expected status authenticated or active, got "+string(sub.Status))
		}
	}
	if sub.Status != StatusActive {
		return problems
	}
	if u.Features != allFeatures() {
		problems = append(problems, "premium features not granted")
	}
	if u.Trial != nil && u.Trial.Active {
		problems = append(problems, "trial still active")
	}
	if sub.CurrentPeriodEnd == nil || !sub.CurrentPeriodEnd.After(now) {
		problems = append(problems, "current period already ended")
	}
	return problems
}

// DeadLetters lists pending dead letters, oldest first.
func (r *Reconciler) DeadLetters(ctx context.Context, limit int) ([]DeadLetter, error) {
	return r.dlq.Pending(ctx, limit)
}

// Replay re-runs up to limit pending dead letters through the reconciler.
// Signatures were verified at ingress and are not checked again.
func (r *Reconciler) Replay(ctx context.Context, limit int) (ReplayReport, error) {
	var report ReplayReport
	pending, err := r.dlq.Pending(ctx, limit)
	if err != nil {
		return report, fmt.Errorf("list dead letters: %w", err)
	}

	for _, dl := range pending {
		if err := ctx.Err(); err != nil {
			return report, err
		}
		report.Attempted++

		err := r.replayOne(ctx, dl)
		now := r.clock.Now().UTC()
		if err != nil {
			report.Failed++
			if markErr := r.dlq.MarkFailed(ctx, dl.ID, err.Error(), now); markErr != nil {
				return report, fmt.Errorf("mark dead letter %s failed: %w", dl.ID, markErr)
			}
			r.logger.WarnContext(ctx, "dead letter replay failed",
				slog.String("dead_letter_id", dl.ID.String()),
				logger.EventType(dl.EventType),
				logger.RetryCount(dl.RetryCount+1),
				logger.Error(err),
			)
			continue
		}
		report.Resolved++
		if err := r.dlq.MarkResolved(ctx, dl.ID, now); err != nil {
			return report, fmt.Errorf("mark dead letter %s resolved: %w", dl.ID, err)
		}
	}

	if report.Attempted > 0 {
		r.logger.InfoContext(ctx, "dead letter replay finished",
			slog.Int("attempted", report.Attempted),
			slog.Int("resolved", report.Resolved),
			slog.Int("failed", report.Failed),
		)
	}
	return report, nil
}

func (r *Reconciler) replayOne(ctx context.Context, dl DeadLetter) error {
	ev, err := r.provider.ParseWebhookEvent(dl.Payload)
	if err != nil {
		return err
	}
	if ev.ProviderEventID == "" {
		ev.ProviderEventID = dl.ProviderEventID
	}
	_, err = r.process(ctx, ev)
	return err
}

func eventLabel(ev *Event) string {
	if ev.Type != "" {
		return string(ev.Type)
	}
	if ev.RawType != "" {
		return ev.RawType
	}
	return "unknown"
}
