package subscription

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/dmitrymomot/subkit/pkg/clock"
	"github.com/dmitrymomot/subkit/pkg/logger"
	"github.com/dmitrymomot/subkit/pkg/session"
)

// Service is the subscription lifecycle API used by the HTTP layer.
type Service interface {
	// Sessions
	Login(ctx context.Context, identity Identity) (*LoginResult, error)
	Authenticate(ctx context.Context, token string) (*AuthResult, error)
	Logout(ctx context.Context, userID uuid.UUID) error

	// Lifecycle
	InitializeTrial(ctx context.Context, userID uuid.UUID) (*User, error)
	CreateSubscription(ctx context.Context, userID uuid.UUID, planType PlanType) (*CreateResult, error)
	CancelSubscription(ctx context.Context, userID uuid.UUID, atCycleEnd bool) (*CancelResult, error)
	GetPendingPaymentLink(ctx context.Context, userID uuid.UUID) (*PendingPayment, error)
	TriggerCharge(ctx context.Context, userID uuid.UUID) (*ChargeResult, error)
	TriggerChargeBySubscription(ctx context.Context, subscriptionID string) (*ChargeResult, error)
	ForceRefresh(ctx context.Context, userID uuid.UUID) (*StatusView, error)

	// Access
	GetStatus(ctx context.Context, userID uuid.UUID) (*StatusView, error)
	ValidateFeature(ctx context.Context, userID uuid.UUID, feature Feature) (*FeatureAccess, error)
	RecordUsage(ctx context.Context, userID uuid.UUID, feature Feature) (*UsageResult, error)
	Plans(ctx context.Context) []Plan
}

// LoginResult is returned by Login.
type LoginResult struct {
	User      *User     `json:"-"`
	Token     string    `json:"token"`
	ExpiresAt time.Time `json:"expires_at"`
	Created   bool      `json:"created"`
}

// AuthResult is returned by Authenticate.
type AuthResult struct {
	User      *User
	Refreshed bool
	ExpiresAt time.Time
}

// StatusView is the full status shown to the client.
type StatusView struct {
	Access             Decision        `json:"access"`
	SubscriptionStatus Status          `json:"subscription_status"`
	PlanID             string          `json:"plan_id,omitempty"`
	PlanType           PlanType        `json:"plan_type,omitempty"`
	DaysRemaining      int             `json:"days_remaining"`
	ExpiryDate         *time.Time      `json:"expiry_date,omitempty"`
	CancelAtCycleEnd   bool            `json:"cancel_at_cycle_end"`
	Processing         ProcessingView  `json:"processing_view"`
	PendingPayment     *PendingPayment `json:"pending_payment,omitempty"`
	Plans              []Plan          `json:"plans"`
}

// FeatureAccess answers a feature gate check.
type FeatureAccess struct {
	Allowed         bool            `json:"allowed"`
	AccessType      AccessType      `json:"access_type"`
	DaysRemaining   int             `json:"days_remaining"`
	Reason          DenyReason      `json:"reason,omitempty"`
	IsProcessing    bool            `json:"is_processing"`
	ProcessingState ProcessingState `json:"processing_state,omitempty"`
	Source          DecisionSource  `json:"source"`
	Warning         string          `json:"warning,omitempty"`
}

// CreateResult is returned by CreateSubscription.
type CreateResult struct {
	SubscriptionID string `json:"subscription_id"`
	PaymentLink    string `json:"payment_link"`
	PlanName       string `json:"plan_name"`
	Amount         int64  `json:"amount"`
	Currency       string `json:"currency"`
}

// CancelResult is returned by CancelSubscription.
type CancelResult struct {
	SubscriptionID   string     `json:"subscription_id"`
	Status           Status     `json:"status"`
	CancelAtCycleEnd bool       `json:"cancel_at_cycle_end"`
	ActiveUntil      *time.Time `json:"active_until,omitempty"`
}

// PendingPayment describes a resumable payment link.
type PendingPayment struct {
	HasPending  bool     `json:"has_pending"`
	PaymentLink string   `json:"payment_link,omitempty"`
	PlanType    PlanType `json:"plan_type,omitempty"`
}

// ChargeResult is returned by the manual charge triggers.
type ChargeResult struct {
	SubscriptionID string `json:"subscription_id"`
	InvoiceID      string `json:"invoice_id"`
	Charged        bool   `json:"charged"`
}

// UsageResult is returned by RecordUsage.
type UsageResult struct {
	TotalUses     int64      `json:"total_uses"`
	AccessType    AccessType `json:"access_type"`
	DaysRemaining int        `json:"days_remaining"`
}

// gatewayUnavailable is the warning attached to decisions served while the
// provider circuit is open.
const gatewayUnavailable = "gateway unavailable"

// availabilityReporter is implemented by ReliableProvider.
type availabilityReporter interface {
	Available() bool
}

type service struct {
	store     UserStore
	provider  BillingProvider
	plans     map[PlanType]Plan
	cfg       Config
	clock     clock.Clock
	evaluator Evaluator
	logger    *slog.Logger
	creating  *keyedMutex
}

// NewService creates a new Service with the given dependencies.
// Panics if src, provider or store is nil.
func NewService(ctx context.Context, src PlanSource, provider BillingProvider, store UserStore, opts ...ServiceOption) (Service, error) {
	return newService(ctx, src, provider, store, opts...)
}

func newService(ctx context.Context, src PlanSource, provider BillingProvider, store UserStore, opts ...ServiceOption) (*service, error) {
	if src == nil {
		panic("subscription: PlanSource is required")
	}
	if provider == nil {
		panic("subscription: BillingProvider is required")
	}
	if store == nil {
		panic("subscription: UserStore is required")
	}

	plans, err := src.Load(ctx)
	if err != nil {
		return nil, errors.Join(ErrPlanSource, err)
	}
	if len(plans) == 0 {
		return nil, fmt.Errorf("%w: empty plan table", ErrPlanSource)
	}

	s := &service{
		store:    store,
		provider: provider,
		plans:    plans,
		cfg:      DefaultConfig(),
		clock:    clock.System(),
		logger:   logger.Discard(),
		creating: newKeyedMutex(),
	}
	for _, opt := range opts {
		opt(s)
	}
	s.evaluator = NewEvaluator(s.cfg)
	s.logger = s.logger.With(logger.Component("subscription"))
	return s, nil
}

func (s *service) now() time.Time {
	return s.clock.Now().UTC()
}

func (s *service) available() bool {
	if r, ok := s.provider.(availabilityReporter); ok {
		return r.Available()
	}
	return true
}

func (s *service) Plans(_ context.Context) []Plan {
	return sortedPlans(s.plans)
}

func (s *service) Login(ctx context.Context, identity Identity) (*LoginResult, error) {
	identity.Email = strings.ToLower(strings.TrimSpace(identity.Email))
	if identity.ExternalID == "" || identity.Email == "" {
		return nil, newError(KindInvalidInput, ErrInvalidIdentity)
	}

	now := s.now()
	existing, err := s.store.GetByIdentityExternalID(ctx, identity.ExternalID)
	if errors.Is(err, ErrUserNotFound) {
		existing, err = s.store.GetByEmail(ctx, identity.Email)
	}
	switch {
	case errors.Is(err, ErrUserNotFound):
		u := &User{
			ID:        uuid.New(),
			Identity:  identity,
			CreatedAt: now,
			UpdatedAt: now,
		}
		u.Subscription.Status = StatusNone
		s.startTrial(u, now)
		if u.Session, err = session.Issue(u.Session, now, s.cfg.Session); err != nil {
			return nil, err
		}
		if err := s.store.Create(ctx, u); err != nil {
			if errors.Is(err, ErrEmailTaken) || errors.Is(err, ErrIdentityTaken) {
				// Lost a race with a concurrent first login.
				return s.Login(ctx, identity)
			}
			return nil, fmt.Errorf("create user: %w", err)
		}
		s.logger.InfoContext(ctx, "user registered", logger.UserID(u.ID))
		return &LoginResult{User: u, Token: u.Session.Token, ExpiresAt: u.Session.ExpiresAt, Created: true}, nil
	case err != nil:
		return nil, fmt.Errorf("load user: %w", err)
	}

	u, err := s.store.Update(ctx, existing.ID, func(u *User) error {
		u.Identity.ExternalID = identity.ExternalID
		u.Identity.Email = identity.Email
		u.Identity.Name = identity.Name
		u.Identity.Picture = identity.Picture
		u.Identity.Verified = identity.Verified
		s.startTrial(u, now)
		issued, err := session.Issue(u.Session, now, s.cfg.Session)
		if err != nil {
			return err
		}
		u.Session = issued
		u.UpdatedAt = now
		return nil
	})
	if err != nil {
		if errors.Is(err, ErrEmailTaken) || errors.Is(err, ErrIdentityTaken) {
			return nil, newError(KindConflict, err)
		}
		return nil, fmt.Errorf("update user: %w", err)
	}
	return &LoginResult{User: u, Token: u.Session.Token, ExpiresAt: u.Session.ExpiresAt}, nil
}

func (s *service) Authenticate(ctx context.Context, token string) (*AuthResult, error) {
	u, err := s.store.GetBySessionToken(ctx, token)
	if err != nil {
		if errors.Is(err, ErrUserNotFound) {
			return nil, newError(KindUnauthorized, session.ErrInvalidToken)
		}
		return nil, err
	}

	now := s.now()
	verified, refreshed, err := session.Verify(u.Session, token, now, s.cfg.Session)
	if err != nil {
		return nil, newError(KindUnauthorized, err)
	}
	if !refreshed {
		return &AuthResult{User: u, ExpiresAt: verified.ExpiresAt}, nil
	}

	u, err = s.store.Update(ctx, u.ID, func(u *User) error {
		if u.Session.Token != token {
			return session.ErrInvalidToken
		}
		u.Session = verified
		return nil
	})
	if err != nil {
		if errors.Is(err, session.ErrInvalidToken) {
			return nil, newError(KindUnauthorized, err)
		}
		return nil, fmt.Errorf("refresh session: %w", err)
	}
	return &AuthResult{User: u, Refreshed: true, ExpiresAt: u.Session.ExpiresAt}, nil
}

func (s *service) Logout(ctx context.Context, userID uuid.UUID) error {
	now := s.now()
	_, err := s.store.Update(ctx, userID, func(u *User) error {
		if session.IsExpired(u.Session, now) {
			return ErrNoChange
		}
		u.Session = session.Revoke(u.Session, now)
		return nil
	})
	return err
}

func (s *service) InitializeTrial(ctx context.Context, userID uuid.UUID) (*User, error) {
	if userID == uuid.Nil {
		return nil, newError(KindInvalidInput, ErrInvalidUserID)
	}
	now := s.now()
	return s.store.Update(ctx, userID, func(u *User) error {
		if !s.startTrial(u, now) {
			return ErrNoChange
		}
		return nil
	})
}

// startTrial initializes the trial once. Reports whether it changed u.
func (s *service) startTrial(u *User, now time.Time) bool {
	if u.Trial != nil {
		return false
	}
	u.Trial = &Trial{Active: true, StartAt: now, EndAt: now.Add(s.cfg.TrialLength())}
	if u.Subscription.Status == "" || u.Subscription.Status == StatusNone {
		u.Subscription.Status = StatusTrial
		u.Features = baseFeatures()
	}
	u.UpdatedAt = now
	return true
}

func (s *service) CreateSubscription(ctx context.Context, userID uuid.UUID, planType PlanType) (*CreateResult, error) {
	if userID == uuid.Nil {
		return nil, newError(KindInvalidInput, ErrInvalidUserID)
	}
	if !planType.Valid() {
		return nil, newError(KindInvalidInput, ErrInvalidPlanType)
	}
	plan, ok := s.plans[planType]
	if !ok {
		return nil, newError(KindInvalidInput, ErrPlanNotFound)
	}

	unlock := s.creating.Lock(userID.String())
	defer unlock()

	u, err := s.store.Get(ctx, userID)
	if err != nil {
		return nil, err
	}
	if err := s.checkCreatable(ctx, u, s.now()); err != nil {
		return nil, err
	}

	ps, err := s.provider.CreateSubscription(ctx, CreateRequest{
		UserID:         u.ID,
		Email:          u.Identity.Email,
		Name:           u.Identity.Name,
		Plan:           plan,
		Quantity:       1,
		TotalCount:     plan.TotalCount,
		CustomerNotify: true,
		Notes: map[string]string{
			"user_id":   u.ID.String(),
			"email":     u.Identity.Email,
			"plan_type": string(plan.Type),
		},
	})
	if err != nil {
		return nil, fmt.Errorf("create provider subscription: %w", err)
	}
	if ps == nil || ps.ID == "" {
		return nil, fmt.Errorf("create provider subscription: %w", ErrInvalidWebhookPayload)
	}

	now := s.now()
	updated, err := s.store.Update(ctx, userID, func(u *User) error {
		if u.Subscription.ExternalID == ps.ID {
			// A webhook bound the subscription first.
			return ErrNoChange
		}
		if err := s.checkCreatable(ctx, u, now); err != nil {
			return err
		}
		out, err := apply(ctx, TriggerUserCreate, &change{user: u, now: now, plan: plan, created: ps})
		if err != nil {
			return err
		}
		if !out.Applied {
			return conflict(CodeSubscriptionProcessing, ErrSubscriptionProcessing, map[string]any{"status": u.Subscription.Status})
		}
		return nil
	})
	if err != nil {
		s.releaseOrphan(ctx, ps.ID, err)
		return nil, err
	}

	s.logger.InfoContext(ctx, "subscription created",
		logger.UserID(userID),
		logger.SubscriptionID(ps.ID),
		slog.String("plan_type", string(plan.Type)),
	)
	link := updated.Subscription.PaymentLink
	if link == "" {
		link = ps.ShortURL
	}
	return &CreateResult{
		SubscriptionID: ps.ID,
		PaymentLink:    link,
		PlanName:       plan.Name,
		Amount:         plan.Price.Amount,
		Currency:       plan.Price.Currency,
	}, nil
}

// checkCreatable rejects creation while a subscription is live, processing
// or was created within the recent window.
func (s *service) checkCreatable(ctx context.Context, u *User, now time.Time) error {
	sub := u.Subscription
	switch {
	case sub.Status == StatusActive:
		return conflict(CodeSubscriptionActive, ErrSubscriptionActive, map[string]any{
			"status":             sub.Status,
			"current_period_end": sub.CurrentPeriodEnd,
		})
	case sub.Status == StatusPastDue:
		return conflict(CodeSubscriptionPastDue, ErrSubscriptionActive, map[string]any{
			"status": sub.Status,
		})
	case sub.Status.IsProcessing():
		details := map[string]any{
			"status":       sub.Status,
			"payment_link": sub.PaymentLink,
		}
		if sub.PaymentLinkCreatedAt != nil && now.Sub(*sub.PaymentLinkCreatedAt) < s.cfg.RecentCreateWindow {
			details["created_at"] = *sub.PaymentLinkCreatedAt
			return conflict(CodeRecentSubscription, ErrRecentSubscription, details)
		}
		return conflict(CodeSubscriptionProcessing, ErrSubscriptionProcessing, details)
	}
	if !canApply(ctx, TriggerUserCreate, &change{user: u, now: now}) {
		return conflict(CodeSubscriptionProcessing, ErrSubscriptionProcessing, map[string]any{"status": sub.Status})
	}
	return nil
}

// releaseOrphan cancels a provider subscription that could not be bound
// locally. Failures are logged only.
func (s *service) releaseOrphan(ctx context.Context, subscriptionID string, cause error) {
	s.logger.WarnContext(ctx, "cancelling unbound provider subscription",
		logger.SubscriptionID(subscriptionID),
		logger.Error(cause),
	)
	if _, err := s.provider.CancelSubscription(context.WithoutCancel(ctx), subscriptionID, false); err != nil {
		s.logger.ErrorContext(ctx, "failed to cancel unbound provider subscription",
			logger.SubscriptionID(subscriptionID),
			logger.Error(err),
		)
	}
}

func (s *service) CancelSubscription(ctx context.Context, userID uuid.UUID, atCycleEnd bool) (*CancelResult, error) {
	if userID == uuid.Nil {
		return nil, newError(KindInvalidInput, ErrInvalidUserID)
	}
	u, err := s.store.Get(ctx, userID)
	if err != nil {
		return nil, err
	}
	externalID := u.Subscription.ExternalID
	if externalID == "" {
		return nil, newError(KindNotFound, ErrSubscriptionNotFound)
	}
	now := s.now()
	if !canApply(ctx, TriggerUserCancel, &change{user: u, now: now}) {
		return nil, conflict(CodeNotCancellable, ErrNotCancellable, map[string]any{"status": u.Subscription.Status})
	}

	// Cycle-end cancellation only makes sense for a running period.
	cycleEnd := atCycleEnd && u.Subscription.Status == StatusActive
	if _, err := s.provider.CancelSubscription(ctx, externalID, cycleEnd); err != nil {
		return nil, fmt.Errorf("cancel provider subscription: %w", err)
	}

	now = s.now()
	updated, err := s.store.Update(ctx, userID, func(u *User) error {
		if u.Subscription.ExternalID != externalID {
			return ErrConcurrentUpdate
		}
		out, err := apply(ctx, TriggerUserCancel, &change{user: u, now: now, atCycleEnd: cycleEnd})
		if err != nil {
			return err
		}
		if !out.Applied {
			return ErrNoChange
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	res := &CancelResult{
		SubscriptionID:   externalID,
		Status:           updated.Subscription.Status,
		CancelAtCycleEnd: updated.Subscription.CancelAtCycleEnd,
	}
	if res.CancelAtCycleEnd {
		res.ActiveUntil = cloneTime(updated.Subscription.CurrentPeriodEnd)
	} else {
		res.ActiveUntil = timePtr(now)
	}
	s.logger.InfoContext(ctx, "subscription cancelled",
		logger.UserID(userID),
		logger.SubscriptionID(externalID),
		slog.Bool("at_cycle_end", res.CancelAtCycleEnd),
	)
	return res, nil
}

func (s *service) GetPendingPaymentLink(ctx context.Context, userID uuid.UUID) (*PendingPayment, error) {
	u, err := s.store.Get(ctx, userID)
	if err != nil {
		return nil, err
	}
	return pendingPayment(u), nil
}

func pendingPayment(u *User) *PendingPayment {
	sub := u.Subscription
	if !sub.Status.IsProcessing() || sub.PaymentLink == "" {
		return &PendingPayment{}
	}
	return &PendingPayment{HasPending: true, PaymentLink: sub.PaymentLink, PlanType: sub.PlanType}
}

func (s *service) TriggerCharge(ctx context.Context, userID uuid.UUID) (*ChargeResult, error) {
	u, err := s.store.Get(ctx, userID)
	if err != nil {
		return nil, err
	}
	return s.triggerCharge(ctx, u)
}

func (s *service) TriggerChargeBySubscription(ctx context.Context, subscriptionID string) (*ChargeResult, error) {
	if subscriptionID == "" {
		return nil, newError(KindInvalidInput, ErrSubscriptionNotFound)
	}
	u, err := s.store.GetByExternalID(ctx, subscriptionID)
	if err != nil {
		if errors.Is(err, ErrUserNotFound) {
			return nil, newError(KindNotFound, ErrSubscriptionNotFound)
		}
		return nil, err
	}
	return s.triggerCharge(ctx, u)
}

func (s *service) triggerCharge(ctx context.Context, u *User) (*ChargeResult, error) {
	if u.Subscription.Status != StatusAuthenticated || u.Subscription.ExternalID == "" {
		return nil, conflict(CodeNotAuthenticated, ErrNotAuthenticated, map[string]any{"status": u.Subscription.Status})
	}
	return chargePending(ctx, s.provider, s.store, u, s.now())
}

// chargePending charges the first issued invoice of an authenticated
// subscription and stamps the attempt on the record.
func chargePending(ctx context.Context, provider BillingProvider, store UserStore, u *User, now time.Time) (*ChargeResult, error) {
	externalID := u.Subscription.ExternalID
	invoices, err := provider.FetchPendingInvoices(ctx, externalID)
	if err != nil {
		return nil, fmt.Errorf("list pending invoices: %w", err)
	}

	var invoice *Invoice
	for i := range invoices {
		if invoices[i].Status == InvoiceStatusIssued {
			invoice = &invoices[i]
			break
		}
	}
	if invoice == nil {
		return nil, newError(KindNotFound, ErrNoPendingInvoice)
	}

	chargeErr := provider.ChargeInvoice(ctx, invoice.ID)
	if _, err := store.Update(ctx, u.ID, func(u *User) error {
		u.Subscription.LastChargeAttemptAt = timePtr(now)
		return nil
	}); err != nil && chargeErr == nil {
		return nil, fmt.Errorf("record charge attempt: %w", err)
	}
	if chargeErr != nil {
		return nil, fmt.Errorf("charge invoice %s: %w", invoice.ID, chargeErr)
	}
	return &ChargeResult{SubscriptionID: externalID, InvoiceID: invoice.ID, Charged: true}, nil
}

func (s *service) ForceRefresh(ctx context.Context, userID uuid.UUID) (*StatusView, error) {
	u, err := s.store.Get(ctx, userID)
	if err != nil {
		return nil, err
	}
	u, err = s.recover(ctx, u)
	if err != nil && KindOf(err) != KindUpstreamUnavailable {
		return nil, err
	}
	return s.view(u, s.now(), err != nil || !s.available()), nil
}

// recover fetches the provider state and reconciles the record with it.
// The original record is returned alongside any provider error.
func (s *service) recover(ctx context.Context, u *User) (*User, error) {
	externalID := u.Subscription.ExternalID
	if externalID == "" {
		return u, nil
	}
	if !s.available() {
		return u, newError(KindUpstreamUnavailable, ErrProviderUnavailable)
	}

	ps, err := s.provider.FetchSubscription(ctx, externalID)
	if err != nil {
		s.logger.WarnContext(ctx, "state recovery failed",
			logger.UserID(u.ID),
			logger.SubscriptionID(externalID),
			logger.Error(err),
		)
		return u, fmt.Errorf("fetch provider subscription: %w", err)
	}
	trigger, ok := triggerForProviderStatus(ps.Status)
	if !ok {
		return u, nil
	}

	now := s.now()
	var out outcome
	updated, err := s.store.Update(ctx, u.ID, func(u *User) error {
		if u.Subscription.ExternalID != externalID {
			return ErrNoChange
		}
		var err error
		out, err = apply(ctx, trigger, &change{
			user:  u,
			now:   now,
			plan:  s.plans[u.Subscription.PlanType],
			event: &Event{Subscription: ps},
		})
		if err != nil {
			return err
		}
		if !out.Applied {
			return ErrNoChange
		}
		return nil
	})
	if err != nil {
		return u, fmt.Errorf("reconcile provider state: %w", err)
	}
	if out.Applied && out.From != out.To {
		s.logger.InfoContext(ctx, "subscription state recovered from provider",
			logger.UserID(u.ID),
			logger.SubscriptionID(externalID),
			logger.PreviousStatus(out.From),
			logger.Status(out.To),
		)
	}
	return updated, nil
}

func (s *service) GetStatus(ctx context.Context, userID uuid.UUID) (*StatusView, error) {
	u, err := s.store.Get(ctx, userID)
	if err != nil {
		return nil, err
	}
	return s.view(u, s.now(), !s.available()), nil
}

func (s *service) view(u *User, now time.Time, degraded bool) *StatusView {
	d := s.decide(u, now, "", degraded)
	v := &StatusView{
		Access:             d,
		SubscriptionStatus: u.Subscription.Status,
		PlanID:             u.Subscription.PlanID,
		PlanType:           u.Subscription.PlanType,
		DaysRemaining:      d.DaysRemaining,
		ExpiryDate:         d.ExpiryDate,
		CancelAtCycleEnd:   u.Subscription.CancelAtCycleEnd,
		Processing:         d.Processing,
		Plans:              sortedPlans(s.plans),
	}
	if p := pendingPayment(u); p.HasPending {
		v.PendingPayment = p
	}
	return v
}

func (s *service) decide(u *User, now time.Time, feature Feature, degraded bool) Decision {
	d := s.evaluator.Evaluate(u, now, feature)
	if degraded {
		d.Source = SourceLocalCache
		d.Warning = gatewayUnavailable
	}
	return d
}

func (s *service) ValidateFeature(ctx context.Context, userID uuid.UUID, feature Feature) (*FeatureAccess, error) {
	if !feature.Valid() {
		return nil, newError(KindInvalidInput, ErrInvalidFeature)
	}
	u, err := s.store.Get(ctx, userID)
	if err != nil {
		return nil, err
	}

	now := s.now()
	degraded := !s.available()
	d := s.decide(u, now, feature, degraded)
	if !d.Allowed && d.Reason != ReasonPremiumFeature && s.recoverable(u) && !degraded {
		recovered, err := s.recover(ctx, u)
		if err != nil {
			degraded = KindOf(err) == KindUpstreamUnavailable
		}
		d = s.decide(recovered, s.now(), feature, degraded)
	}

	return &FeatureAccess{
		Allowed:         d.Allowed,
		AccessType:      d.AccessType,
		DaysRemaining:   d.DaysRemaining,
		Reason:          d.Reason,
		IsProcessing:    d.Processing.IsProcessing,
		ProcessingState: d.Processing.State,
		Source:          d.Source,
		Warning:         d.Warning,
	}, nil
}

// recoverable reports whether a provider fetch could change a denial.
func (s *service) recoverable(u *User) bool {
	return u.Subscription.ExternalID != "" && !u.Subscription.Status.IsTerminal()
}

func (s *service) RecordUsage(ctx context.Context, userID uuid.UUID, feature Feature) (*UsageResult, error) {
	if !feature.Valid() {
		return nil, newError(KindInvalidInput, ErrInvalidFeature)
	}
	now := s.now()
	today := now.Format(time.DateOnly)
	cutoff := now.Add(-s.cfg.UsageRetention).Format(time.DateOnly)

	u, err := s.store.Update(ctx, userID, func(u *User) error {
		u.Usage.TotalUses++
		u.Usage.DailyBuckets = pruneBuckets(u.Usage.DailyBuckets, cutoff)
		if n := len(u.Usage.DailyBuckets); n > 0 && u.Usage.DailyBuckets[n-1].Date == today {
			u.Usage.DailyBuckets[n-1].Count++
		} else {
			u.Usage.DailyBuckets = append(u.Usage.DailyBuckets, UsageBucket{Date: today, Count: 1})
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	d := s.decide(u, now, feature, false)
	return &UsageResult{TotalUses: u.Usage.TotalUses, AccessType: d.AccessType, DaysRemaining: d.DaysRemaining}, nil
}

// pruneBuckets drops buckets dated before cutoff (YYYY-MM-DD).
func pruneBuckets(buckets []UsageBucket, cutoff string) []UsageBucket {
	kept := buckets[:0]
	for _, b := range buckets {
		if b.Date >= cutoff {
			kept = append(kept, b)
		}
	}
	return kept
}
