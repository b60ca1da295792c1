/*
bradford.go - Bradford Factor calculator

PURPOSE:
  The Bradford Factor weights frequent short absences more heavily than
  one long absence:

    score = spells² × totalDays

  Two spells of 5 days each (2² × 10 = 40) scores far lower than ten
  one-day spells (10² × 10 = 1000), although both lose 10 days.

WINDOW:
  Rolling, ending today, BradfordWindowWeeks long (default 52). A spell
  counts when its absence START falls inside the window.

DAYS PER SPELL:
  recorded working days lost, when set
  ongoing absence:              weekdays from start to today (min 1)
  ended without recorded days:  weekdays from start to end (min 1)

RISK BANDS:
  Low 0-49, Medium 50-199, High 200-499, Critical 500+

Read-only. Recomputed from live case data on every call.
*/
package sickness

import (
	"context"

	"github.com/samber/lo"
	"github.com/shopspring/decimal"

	"github.com/warp/absence-engine/generic"
)

type RiskLevel string

const (
	RiskLow      RiskLevel = "Low"
	RiskMedium   RiskLevel = "Medium"
	RiskHigh     RiskLevel = "High"
	RiskCritical RiskLevel = "Critical"
)

// RiskLevelFor maps a score onto its band.
func RiskLevelFor(score int) RiskLevel {
	switch {
	case score >= 500:
		return RiskCritical
	case score >= 200:
		return RiskHigh
	case score >= 50:
		return RiskMedium
	default:
		return RiskLow
	}
}

// BradfordResult is the score of one employee over one window.
type BradfordResult struct {
	EmployeeID generic.EmployeeID
	Score      int
	Spells     int
	TotalDays  int
	RiskLevel  RiskLevel
	Window     generic.Period
	// AbsenceRate is TotalDays as a percentage of the organisation's working
	// days per year, rounded to 2 places.
	AbsenceRate decimal.Decimal
}

// SpellDays returns the days a case contributes to the Bradford total. An
// ongoing case always counts weekdays up to today.
func SpellDays(c Case, today generic.TimePoint) int {
	if c.AbsenceEnd == nil {
		return max(generic.WeekdaysBetween(c.AbsenceStart, today), 1)
	}
	if c.WorkingDaysLost != nil {
		return *c.WorkingDaysLost
	}
	return max(generic.WeekdaysBetween(c.AbsenceStart, *c.AbsenceEnd), 1)
}

// CalculateBradford scores the cases whose absence start lies in window.
// Cases outside the window are ignored.
func CalculateBradford(employee generic.EmployeeID, cases []Case, window generic.Period, today generic.TimePoint, workingDaysPerYear int) BradfordResult {
	result := BradfordResult{EmployeeID: employee, Window: window}
	for _, c := range cases {
		if !window.Contains(c.AbsenceStart) {
			continue
		}
		result.Spells++
		result.TotalDays += SpellDays(c, today)
	}
	result.Score = result.Spells * result.Spells * result.TotalDays
	result.RiskLevel = RiskLevelFor(result.Score)
	result.AbsenceRate = decimal.Zero
	if workingDaysPerYear > 0 {
		result.AbsenceRate = decimal.NewFromInt(int64(result.TotalDays)).
			Div(decimal.NewFromInt(int64(workingDaysPerYear))).
			Mul(decimal.NewFromInt(100)).
			Round(2)
	}
	return result
}

// BradfordFactor scores the employee over the organisation's rolling window
// ending today. The score is always taken within the tenant's organisation,
// so a platform administrator names one too.
func (s *Service) BradfordFactor(ctx context.Context, tenant generic.Tenant, employee generic.EmployeeID) (BradfordResult, error) {
	if err := tenant.Validate(); err != nil {
		return BradfordResult{}, err
	}
	if employee == "" {
		return BradfordResult{}, generic.Invalid("employee_id", "is required")
	}
	if tenant.OrganisationID == "" {
		return BradfordResult{}, generic.Invalid("organisation_id", "the Bradford Factor is scored within an organisation")
	}
	return WithTenant(ctx, s.store, tenant, func(ctx context.Context, tx Tx) (BradfordResult, error) {
		return bradfordFor(ctx, tx, tenant.OrganisationID, employee, s.Today())
	})
}

func bradfordFor(ctx context.Context, tx Tx, org generic.OrganisationID, employee generic.EmployeeID, today generic.TimePoint) (BradfordResult, error) {
	settings, err := settingsFor(ctx, tx, org)
	if err != nil {
		return BradfordResult{}, err
	}
	window := generic.RollingWeeks(today, settings.BradfordWindowWeeks)
	cases, err := tx.ListCases(ctx, CaseFilter{
		EmployeeID:  employee,
		StartedFrom: &window.Start,
		StartedTo:   &window.End,
	})
	if err != nil {
		return BradfordResult{}, err
	}
	// An administrator's scope spans organisations; employee ids do not.
	cases = lo.Filter(cases, func(c Case, _ int) bool { return c.OrganisationID == org })
	return CalculateBradford(employee, cases, window, today, settings.WorkingDaysPerYear), nil
}
