/*
scenarios.go - Demo scenario loaders for testing and demonstrations

PURPOSE:

	Provides pre-built scenarios that populate the caller's organisation
	with realistic absence data. Each scenario drives the normal service
	operations (report, transition, record end, triggers), so the result
	carries the same history, audit trail and long-term flags as real use.

AVAILABLE SCENARIOS:

	new-absence:      One case reported yesterday and acknowledged
	long-term:        Five-week absence with a fit note, flagged long-term
	frequent-short:   Six one-day spells this year, Bradford and frequency
	                  triggers configured and evaluated
	return-to-work:   Two-week absence taken through to CLOSED

HOW SCENARIOS WORK:
 1. Dates are relative to the service's today
 2. Employee ids are prefixed with "demo-" plus the scenario id
 3. Loading twice adds a second set of cases; nothing is reset

USAGE VIA API:

	GET  /api/scenarios
	POST /api/scenarios/load
	{"scenario_id": "long-term"}

ADDING NEW SCENARIOS:
 1. Add to 'scenarios' slice with ID, name, description
 2. Create loader function: loadXxxScenario(ctx, tenant, actor)
 3. Register it in scenarioLoaders

NOTE:

	Only mounted when the server runs with demo scenarios enabled.

SEE ALSO:
  - handlers.go: Error mapping and helpers
  - sickness/service.go: The operations each loader calls
*/
package api

import (
	"context"
	"fmt"
	"net/http"

	"github.com/samber/lo"
	"go.uber.org/zap"

	"github.com/warp/absence-engine/generic"
	"github.com/warp/absence-engine/sickness"
)

// =============================================================================
// SCENARIO DEFINITIONS
// =============================================================================

// ScenarioDTO describes one loadable scenario.
type ScenarioDTO struct {
	ID          string `json:"id"`
	Name        string `json:"name"`
	Description string `json:"description"`
}

// LoadScenarioRequest is the body of POST /api/scenarios/load.
type LoadScenarioRequest struct {
	ScenarioID string `json:"scenario_id"`
}

// ScenarioResultDTO lists what a scenario created.
type ScenarioResultDTO struct {
	Scenario ScenarioDTO       `json:"scenario"`
	Cases    []CaseDTO         `json:"cases"`
	Alerts   []TriggerAlertDTO `json:"alerts,omitempty"`
}

var scenarios = []ScenarioDTO{
	{
		ID:          "new-absence",
		Name:        "New Absence",
		Description: "Sickness reported yesterday and acknowledged by the manager",
	},
	{
		ID:          "long-term",
		Name:        "Long-Term Absence",
		Description: "Five-week absence with a fit note, past the long-term threshold",
	},
	{
		ID:          "frequent-short",
		Name:        "Frequent Short Absences",
		Description: "Six one-day spells in the window with Bradford and frequency triggers",
	},
	{
		ID:          "return-to-work",
		Name:        "Return to Work",
		Description: "Two-week absence followed through to a closed case",
	},
}

type scenarioLoader func(h *Handler, ctx context.Context, tenant generic.Tenant, actor generic.ActorID) (ScenarioResultDTO, error)

var scenarioLoaders = map[string]scenarioLoader{
	"new-absence":    (*Handler).loadNewAbsenceScenario,
	"long-term":      (*Handler).loadLongTermScenario,
	"frequent-short": (*Handler).loadFrequentShortScenario,
	"return-to-work": (*Handler).loadReturnToWorkScenario,
}

// ListScenarios returns available scenarios.
// GET /api/scenarios
func (h *Handler) ListScenarios(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, scenarios)
}

// LoadScenario loads a predefined scenario into the caller's organisation.
// POST /api/scenarios/load
func (h *Handler) LoadScenario(w http.ResponseWriter, r *http.Request) {
	tenant, actor, ok := h.writer(w, r)
	if !ok {
		return
	}
	var req LoadScenarioRequest
	if !h.decode(w, r, &req) {
		return
	}
	load, found := scenarioLoaders[req.ScenarioID]
	if !found {
		h.writeServiceError(w, r, generic.Invalid("scenario_id", "unknown scenario %q", req.ScenarioID))
		return
	}
	if tenant.OrganisationID == "" {
		h.writeServiceError(w, r, generic.Invalid(HeaderOrganisation, "scenarios load into an organisation"))
		return
	}

	result, err := load(h, r.Context(), tenant, actor)
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	result.Scenario, _ = lo.Find(scenarios, func(s ScenarioDTO) bool { return s.ID == req.ScenarioID })
	h.log.Info("scenario loaded",
		zap.String("scenario_id", req.ScenarioID),
		zap.String("organisation_id", string(tenant.OrganisationID)),
		zap.Int("cases", len(result.Cases)))
	writeJSON(w, http.StatusOK, result)
}

// =============================================================================
// SCENARIO: NEW ABSENCE
// =============================================================================

func (h *Handler) loadNewAbsenceScenario(ctx context.Context, tenant generic.Tenant, actor generic.ActorID) (ScenarioResultDTO, error) {
	today := h.Service.Today()
	c, err := h.Service.ReportCase(ctx, tenant, sickness.NewCase{
		EmployeeID:   "demo-new-absence-1",
		AbsenceType:  sickness.AbsenceSickness,
		AbsenceStart: today.AddDays(-1),
		Notes:        "Called in with a fever",
	}, actor)
	if err != nil {
		return ScenarioResultDTO{}, err
	}
	c, err = h.Service.Transition(ctx, tenant, c.ID, sickness.ActionAcknowledge, actor, "First contact made")
	if err != nil {
		return ScenarioResultDTO{}, err
	}
	return ScenarioResultDTO{Cases: []CaseDTO{toCaseDTO(c)}}, nil
}

// =============================================================================
// SCENARIO: LONG-TERM
// =============================================================================

func (h *Handler) loadLongTermScenario(ctx context.Context, tenant generic.Tenant, actor generic.ActorID) (ScenarioResultDTO, error) {
	today := h.Service.Today()
	c, err := h.Service.ReportCase(ctx, tenant, sickness.NewCase{
		EmployeeID:   "demo-long-term-1",
		AbsenceType:  sickness.AbsenceMentalHealth,
		AbsenceStart: today.AddDays(-35),
	}, actor)
	if err != nil {
		return ScenarioResultDTO{}, err
	}
	for _, step := range []sickness.Action{sickness.ActionAcknowledge, sickness.ActionReceiveFitNote} {
		if c, err = h.Service.Transition(ctx, tenant, c.ID, step, actor, ""); err != nil {
			return ScenarioResultDTO{}, err
		}
	}
	// Materialize the action records so the first milestones can be shown as done.
	actions, err := h.Service.GetOrCreateActions(ctx, tenant, c.ID)
	if err != nil {
		return ScenarioResultDTO{}, err
	}
	for _, a := range actions[:min(2, len(actions))] {
		if _, err := h.Service.UpdateActionStatus(ctx, tenant, a.ID, sickness.UpdateAction{Status: string(sickness.ActionCompleted)}, actor); err != nil {
			return ScenarioResultDTO{}, err
		}
	}
	return ScenarioResultDTO{Cases: []CaseDTO{toCaseDTO(c)}}, nil
}

// =============================================================================
// SCENARIO: FREQUENT SHORT ABSENCES
// =============================================================================

// Six spells of one day each score 6² × 6 = 216 (High).
func (h *Handler) loadFrequentShortScenario(ctx context.Context, tenant generic.Tenant, actor generic.ActorID) (ScenarioResultDTO, error) {
	const employee generic.EmployeeID = "demo-frequent-short-1"
	today := h.Service.Today()
	oneDay := 1

	var result ScenarioResultDTO
	for i := 6; i >= 1; i-- {
		day := today.AddDays(-i * 45)
		for day.IsWeekend() {
			day = day.AddDays(1)
		}
		c, err := h.Service.ReportCase(ctx, tenant, sickness.NewCase{
			EmployeeID:      employee,
			AbsenceType:     sickness.AbsenceSickness,
			AbsenceStart:    day,
			AbsenceEnd:      day.Ptr(),
			WorkingDaysLost: &oneDay,
		}, actor)
		if err != nil {
			return ScenarioResultDTO{}, err
		}
		result.Cases = append(result.Cases, toCaseDTO(c))
	}

	triggers := []sickness.TriggerConfig{
		{ID: fmt.Sprintf("demo-%s-bradford", tenant.OrganisationID), Type: sickness.TriggerBradford, Threshold: 200, Active: true},
		{ID: fmt.Sprintf("demo-%s-frequency", tenant.OrganisationID), Type: sickness.TriggerFrequency, Threshold: 4, Active: true},
	}
	for _, cfg := range triggers {
		cfg.OrganisationID = tenant.OrganisationID
		if _, err := h.Service.SetTriggerConfig(ctx, tenant, cfg, actor); err != nil {
			return ScenarioResultDTO{}, err
		}
	}
	alerts, err := h.Service.EvaluateTriggers(ctx, tenant, employee)
	if err != nil {
		return ScenarioResultDTO{}, err
	}
	result.Alerts = lo.Map(alerts, toAlertDTO)
	return result, nil
}

// =============================================================================
// SCENARIO: RETURN TO WORK
// =============================================================================

func (h *Handler) loadReturnToWorkScenario(ctx context.Context, tenant generic.Tenant, actor generic.ActorID) (ScenarioResultDTO, error) {
	today := h.Service.Today()
	start := today.AddDays(-21)
	c, err := h.Service.ReportCase(ctx, tenant, sickness.NewCase{
		EmployeeID:   "demo-return-to-work-1",
		AbsenceType:  sickness.AbsenceInjury,
		AbsenceStart: start,
		Notes:        "Sprained ankle",
	}, actor)
	if err != nil {
		return ScenarioResultDTO{}, err
	}
	for _, step := range []sickness.Action{sickness.ActionAcknowledge, sickness.ActionReceiveFitNote, sickness.ActionScheduleRTW} {
		if c, err = h.Service.Transition(ctx, tenant, c.ID, step, actor, ""); err != nil {
			return ScenarioResultDTO{}, err
		}
	}
	end := start.AddDays(13)
	if _, err = h.Service.UpdateAbsenceEnd(ctx, tenant, c.ID, &end, nil, actor); err != nil {
		return ScenarioResultDTO{}, err
	}
	for _, step := range []sickness.Action{sickness.ActionCompleteRTW, sickness.ActionCloseCase} {
		if c, err = h.Service.Transition(ctx, tenant, c.ID, step, actor, ""); err != nil {
			return ScenarioResultDTO{}, err
		}
	}
	return ScenarioResultDTO{Cases: []CaseDTO{toCaseDTO(c)}}, nil
}
