package subscription

import (
	"context"
	"errors"
	"sort"
	"time"

	"github.com/dmitrymomot/subkit/pkg/statemachine"
)

// Trigger drives the lifecycle table. Provider events and user actions
// share one table so every status change goes through the same rules.
type Trigger string

const (
	TriggerCreated       Trigger = "created"
	TriggerAuthenticated Trigger = "authenticated"
	TriggerActivated     Trigger = "activated"
	TriggerCharged       Trigger = "charged"
	TriggerCancelled     Trigger = "cancelled"
	TriggerCompleted     Trigger = "completed"
	TriggerPaymentFailed Trigger = "payment_failed"
	TriggerUserCreate    Trigger = "user_create"
	TriggerUserCancel    Trigger = "user_cancel"
)

var eventTriggers = map[EventType]Trigger{
	EventSubscriptionCreated:       TriggerCreated,
	EventSubscriptionAuthenticated: TriggerAuthenticated,
	EventSubscriptionActivated:     TriggerActivated,
	EventSubscriptionCharged:       TriggerCharged,
	EventSubscriptionCancelled:     TriggerCancelled,
	EventSubscriptionCompleted:     TriggerCompleted,
	EventPaymentFailed:             TriggerPaymentFailed,
}

// naiveTargets is where a trigger would lead without hierarchy preservation.
var naiveTargets = map[Trigger]Status{
	TriggerCreated:       StatusCreated,
	TriggerAuthenticated: StatusAuthenticated,
	TriggerActivated:     StatusActive,
	TriggerCharged:       StatusActive,
	TriggerCancelled:     StatusCancelled,
	TriggerCompleted:     StatusExpired,
	TriggerPaymentFailed: StatusPastDue,
	TriggerUserCreate:    StatusCreated,
	TriggerUserCancel:    StatusCancelled,
}

// change is the payload passed through the lifecycle table.
type change struct {
	user       *User
	now        time.Time
	plan       Plan
	event      *Event
	created    *ProviderSubscription
	atCycleEnd bool
	notes      string
}

// outcome describes what a trigger did to a record.
type outcome struct {
	From      Status
	To        Status
	Applied   bool
	Preserved bool
	Notes     string
}

type transition = statemachine.Transition[Status, Trigger, *change]

var lifecycle = statemachine.MustNew(lifecycleTransitions())

func lifecycleTransitions() []transition {
	var ts []transition
	add := func(from []Status, trigger Trigger, to Status, actions ...statemachine.Action[Status, Trigger, *change]) {
		for _, f := range from {
			ts = append(ts, transition{From: f, To: to, Event: trigger, Actions: actions})
		}
	}
	guarded := func(from Status, trigger Trigger, to Status, guard statemachine.Guard[Status, Trigger, *change], actions ...statemachine.Action[Status, Trigger, *change]) {
		ts = append(ts, transition{From: from, To: to, Event: trigger, Guards: []statemachine.Guard[Status, Trigger, *change]{guard}, Actions: actions})
	}

	fresh := []Status{StatusNone, StatusTrial}
	processing := []Status{StatusCreated, StatusAuthenticated}
	ended := []Status{StatusCancelled, StatusExpired, StatusCompleted}

	add(fresh, TriggerCreated, StatusCreated, refreshPeriod)
	add(fresh, TriggerAuthenticated, StatusAuthenticated, refreshPeriod)
	add(fresh, TriggerActivated, StatusActive, refreshPeriod, enterActive)
	add(fresh, TriggerCharged, StatusActive, refreshPeriod, recordPayment, enterActive)
	add(fresh, TriggerUserCreate, StatusCreated, bindCreated)
	add(ended, TriggerUserCreate, StatusCreated, bindCreated)

	add([]Status{StatusCreated}, TriggerCreated, StatusCreated, refreshPeriod)
	add([]Status{StatusAuthenticated}, TriggerCreated, StatusAuthenticated, refreshPeriod)
	add(processing, TriggerAuthenticated, StatusAuthenticated, refreshPeriod)
	add(processing, TriggerActivated, StatusActive, refreshPeriod, enterActive)
	add(processing, TriggerCharged, StatusActive, refreshPeriod, recordPayment, enterActive)
	add(processing, TriggerCancelled, StatusCancelled, cancelNow)
	add(processing, TriggerPaymentFailed, StatusPastDue, recordPayment)
	add(processing, TriggerUserCancel, StatusCancelled, cancelNow)

	add([]Status{StatusActive}, TriggerAuthenticated, StatusActive, refreshPeriod, keepActive)
	add([]Status{StatusActive}, TriggerActivated, StatusActive, refreshPeriod, keepActive)
	add([]Status{StatusActive}, TriggerCharged, StatusActive, refreshPeriod, recordPayment, keepActive)
	guarded(StatusActive, TriggerCancelled, StatusActive, cycleEndPending, scheduleCycleEnd)
	add([]Status{StatusActive}, TriggerCancelled, StatusCancelled, cancelNow)
	add([]Status{StatusActive}, TriggerCompleted, StatusExpired, endSubscription)
	add([]Status{StatusActive}, TriggerPaymentFailed, StatusPastDue, recordPayment)
	guarded(StatusActive, TriggerUserCancel, StatusActive, cancelAtCycleEndRequested, scheduleCycleEnd)
	add([]Status{StatusActive}, TriggerUserCancel, StatusCancelled, cancelNow)

	add([]Status{StatusPastDue}, TriggerActivated, StatusActive, refreshPeriod, enterActive)
	add([]Status{StatusPastDue}, TriggerCharged, StatusActive, refreshPeriod, recordPayment, enterActive)
	add([]Status{StatusPastDue}, TriggerCancelled, StatusCancelled, cancelNow)
	add([]Status{StatusPastDue}, TriggerCompleted, StatusExpired, endSubscription)
	add([]Status{StatusPastDue}, TriggerPaymentFailed, StatusPastDue, recordPayment)
	add([]Status{StatusPastDue}, TriggerUserCancel, StatusCancelled, cancelNow)

	return ts
}

// apply runs trigger against the record in c. Undefined cells leave the
// record untouched and report Applied=false.
func apply(ctx context.Context, trigger Trigger, c *change) (outcome, error) {
	from := c.user.Subscription.Status
	if from == "" {
		from = StatusNone
	}

	to, err := lifecycle.Next(ctx, from, trigger, c)
	if err != nil {
		if errors.Is(err, statemachine.ErrActionFailed) {
			return outcome{From: from, To: from}, err
		}
		return outcome{From: from, To: from, Notes: "no transition for " + string(trigger) + " in " + string(from)}, nil
	}

	c.user.Subscription.Status = to
	c.user.UpdatedAt = c.now

	out := outcome{From: from, To: to, Applied: true, Notes: c.notes}
	if naive, ok := naiveTargets[trigger]; ok && naive != to {
		if r := rank(naive); r >= 0 && r < rank(from) {
			out.Preserved = true
			if out.Notes == "" {
				out.Notes = "status " + string(from) + " preserved over " + string(naive)
			}
		}
	}
	return out, nil
}

// canApply reports whether trigger has a transition from the record's status.
func canApply(ctx context.Context, trigger Trigger, c *change) bool {
	from := c.user.Subscription.Status
	if from == "" {
		from = StatusNone
	}
	return lifecycle.Can(ctx, from, trigger, c)
}

func cycleEndPending(_ context.Context, _ Status, _ Trigger, c *change) bool {
	s := c.user.Subscription
	return s.CancelAtCycleEnd && s.CurrentPeriodEnd != nil && c.now.Before(*s.CurrentPeriodEnd)
}

func cancelAtCycleEndRequested(_ context.Context, _ Status, _ Trigger, c *change) bool {
	s := c.user.Subscription
	return c.atCycleEnd && s.CurrentPeriodEnd != nil && c.now.Before(*s.CurrentPeriodEnd)
}

func refreshPeriod(_ context.Context, _, _ Status, _ Trigger, c *change) error {
	if c.event == nil || c.event.Subscription == nil {
		return nil
	}
	ps := c.event.Subscription
	s := &c.user.Subscription
	if ps.CurrentStart != nil && ps.CurrentEnd != nil && !ps.CurrentEnd.After(*ps.CurrentStart) {
		return nil
	}
	if ps.CurrentStart != nil {
		s.CurrentPeriodStart = timePtr(ps.CurrentStart.UTC())
	}
	if ps.CurrentEnd != nil {
		s.CurrentPeriodEnd = timePtr(ps.CurrentEnd.UTC())
	}
	if ps.PlanID != "" && s.PlanID == "" {
		s.PlanID = ps.PlanID
	}
	if ps.ShortURL != "" && s.PaymentLink == "" {
		s.PaymentLink = ps.ShortURL
	}
	return nil
}

func enterActive(_ context.Context, _, _ Status, _ Trigger, c *change) error {
	u := c.user
	u.Features = allFeatures()
	if u.Trial != nil {
		u.Trial.Active = false
	}
	s := &u.Subscription
	s.EndedAt = nil
	if s.CurrentPeriodStart == nil || s.CurrentPeriodEnd == nil || !s.CurrentPeriodEnd.After(c.now) {
		s.CurrentPeriodStart = timePtr(c.now)
		s.CurrentPeriodEnd = timePtr(c.plan.PeriodEnd(c.now))
	}
	return nil
}

// keepActive re-asserts activation side effects after a period refresh.
func keepActive(ctx context.Context, from, to Status, trigger Trigger, c *change) error {
	return enterActive(ctx, from, to, trigger, c)
}

func bindCreated(_ context.Context, _, _ Status, _ Trigger, c *change) error {
	ps := c.created
	if ps == nil {
		return ErrSubscriptionNotFound
	}
	s := &c.user.Subscription
	s.ExternalID = ps.ID
	s.PlanID = c.plan.ID
	s.PlanType = c.plan.Type
	s.PaymentLink = ps.ShortURL
	s.PaymentLinkCreatedAt = timePtr(c.now)
	s.CurrentPeriodStart = nil
	s.CurrentPeriodEnd = nil
	if ps.CurrentStart != nil {
		s.CurrentPeriodStart = timePtr(ps.CurrentStart.UTC())
	}
	if ps.CurrentEnd != nil {
		s.CurrentPeriodEnd = timePtr(ps.CurrentEnd.UTC())
	}
	s.CancelAtCycleEnd = false
	s.CancelledAt = nil
	s.EndedAt = nil
	s.LastChargeAttemptAt = nil
	s.ProcessedEvents = nil
	return nil
}

func cancelNow(_ context.Context, _, _ Status, _ Trigger, c *change) error {
	u := c.user
	u.Features.CustomSettings = false
	u.Features.PrioritySupport = false
	u.Subscription.CancelAtCycleEnd = false
	if u.Subscription.CancelledAt == nil {
		u.Subscription.CancelledAt = timePtr(c.now)
	}
	u.Subscription.EndedAt = timePtr(c.now)
	return nil
}

func scheduleCycleEnd(_ context.Context, _, _ Status, _ Trigger, c *change) error {
	s := &c.user.Subscription
	s.CancelAtCycleEnd = true
	if s.CancelledAt == nil {
		s.CancelledAt = timePtr(c.now)
	}
	c.notes = "cancellation scheduled at cycle end"
	return nil
}

func endSubscription(_ context.Context, _, _ Status, _ Trigger, c *change) error {
	u := c.user
	u.Features.CustomSettings = false
	u.Features.PrioritySupport = false
	u.Subscription.EndedAt = timePtr(c.now)
	return nil
}

func recordPayment(_ context.Context, _, _ Status, trigger Trigger, c *change) error {
	if c.event == nil || c.event.Payment == nil || c.event.Payment.ID == "" {
		return nil
	}
	p := c.event.Payment
	entry := Payment{
		PaymentID:     p.ID,
		Amount:        p.Amount,
		Currency:      p.Currency,
		Status:        p.Status,
		PaidAt:        p.CreatedAt,
		FailureReason: p.FailureReason,
	}
	if entry.Status == "" {
		entry.Status = "captured"
		if trigger == TriggerPaymentFailed {
			entry.Status = "failed"
		}
	}
	if entry.PaidAt.IsZero() {
		entry.PaidAt = c.now
	}
	c.user.Subscription.PaymentHistory = appendPayment(c.user.Subscription.PaymentHistory, entry)
	return nil
}

// appendPayment adds entry unless the same payment/status pair is already
// recorded. The history stays ordered by PaidAt; existing entries are never
// modified.
func appendPayment(history []Payment, entry Payment) []Payment {
	for _, p := range history {
		if p.PaymentID == entry.PaymentID && p.Status == entry.Status {
			return history
		}
	}
	i := sort.Search(len(history), func(i int) bool { return history[i].PaidAt.After(entry.PaidAt) })
	history = append(history, Payment{})
	copy(history[i+1:], history[i:])
	history[i] = entry
	return history
}
