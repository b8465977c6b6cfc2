package domain

import (
	"fmt"
	"strings"
	"time"
)

const day = 24 * time.Hour

// PlanName identifies an entry of the plan catalog.
type PlanName string

const (
	PlanTrial     PlanName = "TRIAL"
	PlanMonthly   PlanName = "MONTHLY"
	PlanQuarterly PlanName = "QUARTERLY"
	PlanBiannual  PlanName = "BIANNUAL"
	PlanAnnual    PlanName = "ANNUAL"
)

// Plan is an immutable commitment option.
type Plan struct {
	Name        PlanName      `json:"name"`
	Duration    time.Duration `json:"-"`
	PriceCents  int64         `json:"price_cents"`
	Free        bool          `json:"free"`
	Description string        `json:"description"`
}

// DurationMillis is the commitment length in epoch milliseconds.
func (p Plan) DurationMillis() int64 {
	return p.Duration.Milliseconds()
}

// Days is the commitment length in whole days.
func (p Plan) Days() int {
	return int(p.Duration / day)
}

func (p Plan) IsZero() bool {
	return p.Name == ""
}

var catalog = []Plan{
	{Name: PlanTrial, Duration: 7 * day, Free: true, Description: "One week to try a locked-down phone."},
	{Name: PlanMonthly, Duration: 30 * day, PriceCents: 999, Description: "Thirty days of fortress mode."},
	{Name: PlanQuarterly, Duration: 90 * day, PriceCents: 2499, Description: "Three months of fortress mode."},
	{Name: PlanBiannual, Duration: 180 * day, PriceCents: 4499, Description: "Six months of fortress mode."},
	{Name: PlanAnnual, Duration: 365 * day, PriceCents: 7999, Description: "A full year of fortress mode."},
}

// Plans returns the catalog in ascending duration.
func Plans() []Plan {
	out := make([]Plan, len(catalog))
	copy(out, catalog)
	return out
}

// PlanByName looks a plan up case-insensitively.
func PlanByName(name string) (Plan, error) {
	for _, p := range catalog {
		if strings.EqualFold(string(p.Name), strings.TrimSpace(name)) {
			return p, nil
		}
	}
	return Plan{}, fmt.Errorf("%w: %q", ErrUnknownPlan, name)
}

// MustPlan is PlanByName for compile-time constants.
func MustPlan(name PlanName) Plan {
	p, err := PlanByName(string(name))
	if err != nil {
		panic(err)
	}
	return p
}
