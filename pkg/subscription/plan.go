package subscription

import (
	"context"
	"errors"
	"fmt"
	"os"
	"sort"
	"time"

	"gopkg.in/yaml.v3"
)

// Plan maps a plan type to the provider's plan and its billing terms.
// ID is the provider's plan (or price) identifier.
type Plan struct {
	Type         PlanType `json:"type" yaml:"type"`
	ID           string   `json:"id" yaml:"id"`
	Name         string   `json:"name" yaml:"name"`
	Price        Money    `json:"price" yaml:"price"`
	PeriodMonths int      `json:"period_months" yaml:"period_months"`
	// TotalCount is the number of billing cycles requested from the provider.
	TotalCount int `json:"total_count" yaml:"total_count"`
}

// PeriodEnd returns the end of one billing period starting at start.
func (p Plan) PeriodEnd(start time.Time) time.Time {
	months := p.PeriodMonths
	if months <= 0 {
		months = 1
	}
	return start.AddDate(0, months, 0)
}

// PlanSource provides the plan table.
type PlanSource interface {
	Load(ctx context.Context) (map[PlanType]Plan, error)
}

// Plans is an in-memory plan table.
type Plans map[PlanType]Plan

// Load implements PlanSource.
func (p Plans) Load(_ context.Context) (map[PlanType]Plan, error) {
	out := make(map[PlanType]Plan, len(p))
	for k, v := range p {
		out[k] = v
	}
	return out, nil
}

// DefaultPlans returns the built-in table. Provider plan ids must be filled in
// from configuration before use with a real provider.
func DefaultPlans() Plans {
	return Plans{
		PlanMonthly: {
			Type:         PlanMonthly,
			ID:           "plan_monthly",
			Name:         "Pro Monthly",
			Price:        Money{Amount: 19900, Currency: "INR"},
			PeriodMonths: 1,
			TotalCount:   12,
		},
		PlanYearly: {
			Type:         PlanYearly,
			ID:           "plan_yearly",
			Name:         "Pro Yearly",
			Price:        Money{Amount: 199900, Currency: "INR"},
			PeriodMonths: 12,
			TotalCount:   1,
		},
	}
}

// YAMLPlans reads the plan table from a YAML document of the form:
//
//	plans:
//	  - type: monthly
//	    id: plan_XXXX
//	    name: Pro Monthly
//	    price: {amount: 19900, currency: INR}
//	    period_months: 1
//	    total_count: 12
type YAMLPlans struct {
	Path string
}

type yamlPlanFile struct {
	Plans []Plan `yaml:"plans"`
}

// Load implements PlanSource.
func (y YAMLPlans) Load(ctx context.Context) (map[PlanType]Plan, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	data, err := os.ReadFile(y.Path)
	if err != nil {
		return nil, errors.Join(ErrPlanSource, err)
	}
	return ParsePlans(data)
}

// ParsePlans decodes and validates a YAML plan table.
func ParsePlans(data []byte) (map[PlanType]Plan, error) {
	var f yamlPlanFile
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, errors.Join(ErrPlanSource, err)
	}

	out := make(map[PlanType]Plan, len(f.Plans))
	for i, p := range f.Plans {
		if !p.Type.Valid() {
			return nil, fmt.Errorf("%w: plans[%d]: unknown type %q", ErrPlanSource, i, p.Type)
		}
		if p.ID == "" {
			return nil, fmt.Errorf("%w: plans[%d]: missing id", ErrPlanSource, i)
		}
		if p.TotalCount <= 0 {
			return nil, fmt.Errorf("%w: plans[%d]: total_count must be positive", ErrPlanSource, i)
		}
		if _, dup := out[p.Type]; dup {
			return nil, fmt.Errorf("%w: duplicate plan type %q", ErrPlanSource, p.Type)
		}
		out[p.Type] = p
	}
	if len(out) == 0 {
		return nil, fmt.Errorf("%w: no plans defined", ErrPlanSource)
	}
	return out, nil
}

func sortedPlans(plans map[PlanType]Plan) []Plan {
	out := make([]Plan, 0, len(plans))
	for _, p := range plans {
		out = append(out, p)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].PeriodMonths < out[j].PeriodMonths })
	return out
}
