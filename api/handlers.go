/*
handlers.go - HTTP API handlers for the sickness engine

PURPOSE:
  Exposes the sickness service via REST API. Handles HTTP request/response,
  JSON serialization, and delegates to sickness.Service.

ENDPOINTS:
  Cases:
    POST   /api/cases                          Report a case
    GET    /api/cases                          List (employee_id, status, long_term, from, to)
    GET    /api/cases/{id}                     Get one case
    PUT    /api/cases/{id}/absence             Record or clear the absence end
    POST   /api/cases/{id}/transitions         Apply a workflow action
    GET    /api/cases/{id}/transitions         Case history, oldest first
    GET    /api/cases/{id}/available-actions   Actions legal from the current status
    GET    /api/cases/{id}/timeline            Milestone timeline as of today
    GET    /api/cases/{id}/actions             Action records, created on first access
    PATCH  /api/actions/{id}                   Update an action record's status

  Milestones (caller's organisation):
    GET    /api/milestones                     Effective catalog
    PUT    /api/milestones/{key}               Override one milestone
    DELETE /api/milestones/{key}               Revert to the default
    GET    /api/milestones/{key}/guidance      Effective guidance
    PUT    /api/milestones/{key}/guidance      Override guidance
    DELETE /api/milestones/{key}/guidance      Revert guidance

  Employees and triggers:
    GET    /api/employees/{id}/bradford           Bradford Factor over the rolling window
    POST   /api/employees/{id}/triggers/evaluate  Raise alerts for crossed triggers
    PUT    /api/triggers/{id}                     Upsert a trigger config

  Settings:
    GET    /api/settings, PUT /api/settings

  Long-term:
    POST   /api/long-term/sweep                Re-evaluate the flag of every open case

REQUEST FLOW:
  1. Resolve tenant (and actor, for writes) from headers
  2. Parse and validate input
  3. Call the service
  4. Serialize response

ERROR HANDLING:
  Errors are returned as JSON with appropriate HTTP status:
  - 400: Validation errors, malformed JSON, missing headers
  - 404: Not found, including rows of another organisation
  - 409: Invalid transition, concurrent modification
  - 500: Internal errors (details are logged, not returned)

SEE ALSO:
  - dto.go: Request/response data structures
  - server.go: Router setup and middleware
*/
package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/samber/lo"
	"go.uber.org/zap"

	"github.com/warp/absence-engine/factory"
	"github.com/warp/absence-engine/generic"
	"github.com/warp/absence-engine/sickness"
)

// =============================================================================
// HANDLER CONTEXT
// =============================================================================

// Handler holds all dependencies for HTTP handlers.
type Handler struct {
	Service *sickness.Service
	// Ping checks the database for /healthz. Optional.
	Ping func(ctx context.Context) error
	log  *zap.Logger
}

// NewHandler creates a new handler for svc.
func NewHandler(svc *sickness.Service, log *zap.Logger) *Handler {
	if log == nil {
		log = zap.NewNop()
	}
	return &Handler{Service: svc, log: log}
}

// Health reports liveness and, when configured, database reachability.
// GET /healthz
func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	if h.Ping != nil {
		if err := h.Ping(r.Context()); err != nil {
			h.log.Error("health check failed", zap.Error(err))
			writeJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "unavailable"})
			return
		}
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// =============================================================================
// CASE ENDPOINTS
// =============================================================================

// ReportCase creates a case for the caller's organisation.
// POST /api/cases
func (h *Handler) ReportCase(w http.ResponseWriter, r *http.Request) {
	tenant, actor, ok := h.writer(w, r)
	if !ok {
		return
	}
	var req ReportCaseRequest
	if !h.decode(w, r, &req) {
		return
	}

	in, err := parseNewCase(req)
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	c, err := h.Service.ReportCase(r.Context(), tenant, in, actor)
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, toCaseDTO(c))
}

func parseNewCase(req ReportCaseRequest) (sickness.NewCase, error) {
	absenceType, err := sickness.ParseAbsenceType(req.AbsenceType)
	if err != nil {
		return sickness.NewCase{}, err
	}
	start, err := parseDateField("absence_start", req.AbsenceStart)
	if err != nil {
		return sickness.NewCase{}, err
	}
	end, err := parseOptionalDate("absence_end", req.AbsenceEnd)
	if err != nil {
		return sickness.NewCase{}, err
	}
	return sickness.NewCase{
		EmployeeID:      generic.EmployeeID(req.EmployeeID),
		AbsenceType:     absenceType,
		AbsenceStart:    start,
		AbsenceEnd:      end,
		WorkingDaysLost: req.WorkingDaysLost,
		Notes:           req.Notes,
	}, nil
}

// ListCases returns the organisation's cases, newest absence first.
// GET /api/cases?employee_id=&status=&long_term=true&from=&to=
func (h *Handler) ListCases(w http.ResponseWriter, r *http.Request) {
	tenant, ok := h.tenant(w, r)
	if !ok {
		return
	}
	filter, err := parseCaseFilter(r)
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	cases, err := h.Service.ListCases(r.Context(), tenant, filter)
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, lo.Map(cases, func(c sickness.Case, _ int) CaseDTO { return toCaseDTO(&c) }))
}

func parseCaseFilter(r *http.Request) (sickness.CaseFilter, error) {
	q := r.URL.Query()
	filter := sickness.CaseFilter{EmployeeID: generic.EmployeeID(q.Get("employee_id"))}
	if s := q.Get("status"); s != "" {
		status, err := sickness.ParseStatus(s)
		if err != nil {
			return filter, err
		}
		filter.Status = status
	}
	if s := q.Get("long_term"); s != "" {
		longTerm, err := strconv.ParseBool(s)
		if err != nil {
			return filter, generic.Invalid("long_term", "must be true or false, got %q", s)
		}
		filter.LongTermOnly = longTerm
	}
	var err error
	if filter.StartedFrom, err = parseOptionalDate("from", optionalQuery(q.Get("from"))); err != nil {
		return filter, err
	}
	if filter.StartedTo, err = parseOptionalDate("to", optionalQuery(q.Get("to"))); err != nil {
		return filter, err
	}
	return filter, nil
}

// GetCase returns one case.
// GET /api/cases/{id}
func (h *Handler) GetCase(w http.ResponseWriter, r *http.Request) {
	tenant, ok := h.tenant(w, r)
	if !ok {
		return
	}
	c, err := h.Service.GetCase(r.Context(), tenant, caseID(r))
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toCaseDTO(c))
}

// UpdateAbsence records the absence end date and working days lost.
// PUT /api/cases/{id}/absence
func (h *Handler) UpdateAbsence(w http.ResponseWriter, r *http.Request) {
	tenant, actor, ok := h.writer(w, r)
	if !ok {
		return
	}
	var req UpdateAbsenceRequest
	if !h.decode(w, r, &req) {
		return
	}
	end, err := parseOptionalDate("absence_end", req.AbsenceEnd)
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	c, err := h.Service.UpdateAbsenceEnd(r.Context(), tenant, caseID(r), end, req.WorkingDaysLost, actor)
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toCaseDTO(c))
}

// Transition applies a workflow action to the case.
// POST /api/cases/{id}/transitions
func (h *Handler) Transition(w http.ResponseWriter, r *http.Request) {
	tenant, actor, ok := h.writer(w, r)
	if !ok {
		return
	}
	var req TransitionRequest
	if !h.decode(w, r, &req) {
		return
	}
	action, err := sickness.ParseAction(req.Action)
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	c, err := h.Service.Transition(r.Context(), tenant, caseID(r), action, actor, req.Notes)
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toCaseDTO(c))
}

// CaseHistory returns the case's transitions, oldest first.
// GET /api/cases/{id}/transitions
func (h *Handler) CaseHistory(w http.ResponseWriter, r *http.Request) {
	tenant, ok := h.tenant(w, r)
	if !ok {
		return
	}
	history, err := h.Service.CaseHistory(r.Context(), tenant, caseID(r))
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, lo.Map(history, toTransitionDTO))
}

// AvailableActions lists the actions legal from the case's current status.
// GET /api/cases/{id}/available-actions
func (h *Handler) AvailableActions(w http.ResponseWriter, r *http.Request) {
	tenant, ok := h.tenant(w, r)
	if !ok {
		return
	}
	c, err := h.Service.GetCase(r.Context(), tenant, caseID(r))
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, AvailableActionsDTO{
		Status: string(c.Status),
		Actions: lo.Map(sickness.AvailableActions(c.Status), func(a sickness.Action, _ int) string {
			return string(a)
		}),
	})
}

// CaseTimeline returns the case's milestone timeline as of today.
// GET /api/cases/{id}/timeline
func (h *Handler) CaseTimeline(w http.ResponseWriter, r *http.Request) {
	tenant, ok := h.tenant(w, r)
	if !ok {
		return
	}
	timeline, err := h.Service.CaseTimeline(r.Context(), tenant, caseID(r))
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, lo.Map(timeline, toTimelineDTO))
}

// CaseActionRecords returns the case's action records, creating them on
// first access.
// GET /api/cases/{id}/actions
func (h *Handler) CaseActionRecords(w http.ResponseWriter, r *http.Request) {
	tenant, ok := h.tenant(w, r)
	if !ok {
		return
	}
	actions, err := h.Service.GetOrCreateActions(r.Context(), tenant, caseID(r))
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, lo.Map(actions, toActionDTO))
}

// UpdateActionStatus sets an action record's status.
// PATCH /api/actions/{id}
func (h *Handler) UpdateActionStatus(w http.ResponseWriter, r *http.Request) {
	tenant, actor, ok := h.writer(w, r)
	if !ok {
		return
	}
	var req UpdateActionRequest
	if !h.decode(w, r, &req) {
		return
	}
	a, err := h.Service.UpdateActionStatus(r.Context(), tenant, sickness.ActionID(chi.URLParam(r, "id")), sickness.UpdateAction{
		Status:      req.Status,
		Notes:       req.Notes,
		CompletedAt: req.CompletedAt,
	}, actor)
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toActionDTO(*a, 0))
}

// =============================================================================
// MILESTONE ENDPOINTS
// =============================================================================

// ListMilestones returns the organisation's effective catalog.
// GET /api/milestones
func (h *Handler) ListMilestones(w http.ResponseWriter, r *http.Request) {
	tenant, ok := h.tenant(w, r)
	if !ok {
		return
	}
	milestones, err := h.Service.EffectiveMilestones(r.Context(), tenant, tenant.OrganisationID)
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, lo.Map(milestones, toMilestoneDTO))
}

// SetMilestoneOverride overrides one default milestone for the organisation.
// PUT /api/milestones/{key}
func (h *Handler) SetMilestoneOverride(w http.ResponseWriter, r *http.Request) {
	tenant, actor, ok := h.writer(w, r)
	if !ok {
		return
	}
	var req MilestoneOverrideRequest
	if !h.decode(w, r, &req) {
		return
	}
	m, err := h.Service.SetMilestoneOverride(r.Context(), tenant, tenant.OrganisationID, sickness.MilestoneOverride{
		Key:         milestoneKey(r),
		Label:       req.Label,
		DayOffset:   req.DayOffset,
		Description: req.Description,
		Active:      lo.FromPtrOr(req.Active, true),
	}, actor)
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toMilestoneDTO(m, 0))
}

// DeleteMilestoneOverride reverts a milestone to the default.
// DELETE /api/milestones/{key}
func (h *Handler) DeleteMilestoneOverride(w http.ResponseWriter, r *http.Request) {
	tenant, actor, ok := h.writer(w, r)
	if !ok {
		return
	}
	if err := h.Service.DeleteMilestoneOverride(r.Context(), tenant, tenant.OrganisationID, milestoneKey(r), actor); err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// GetGuidance returns the effective guidance of one milestone.
// GET /api/milestones/{key}/guidance
func (h *Handler) GetGuidance(w http.ResponseWriter, r *http.Request) {
	tenant, ok := h.tenant(w, r)
	if !ok {
		return
	}
	key := milestoneKey(r)
	content, err := h.Service.MilestoneGuidance(r.Context(), tenant, tenant.OrganisationID, key)
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, GuidanceDTO{Key: string(key), Content: content})
}

// SetGuidance overrides one milestone's guidance for the organisation.
// PUT /api/milestones/{key}/guidance
func (h *Handler) SetGuidance(w http.ResponseWriter, r *http.Request) {
	tenant, actor, ok := h.writer(w, r)
	if !ok {
		return
	}
	var req GuidanceDTO
	if !h.decode(w, r, &req) {
		return
	}
	key := milestoneKey(r)
	if err := h.Service.SetGuidanceOverride(r.Context(), tenant, tenant.OrganisationID, key, req.Content, actor); err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, GuidanceDTO{Key: string(key), Content: req.Content})
}

// DeleteGuidance reverts a milestone's guidance to the default.
// DELETE /api/milestones/{key}/guidance
func (h *Handler) DeleteGuidance(w http.ResponseWriter, r *http.Request) {
	tenant, actor, ok := h.writer(w, r)
	if !ok {
		return
	}
	if err := h.Service.DeleteGuidanceOverride(r.Context(), tenant, tenant.OrganisationID, milestoneKey(r), actor); err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// =============================================================================
// EMPLOYEE AND TRIGGER ENDPOINTS
// =============================================================================

// Bradford returns the employee's Bradford Factor.
// GET /api/employees/{id}/bradford
func (h *Handler) Bradford(w http.ResponseWriter, r *http.Request) {
	tenant, ok := h.tenant(w, r)
	if !ok {
		return
	}
	result, err := h.Service.BradfordFactor(r.Context(), tenant, employeeID(r))
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toBradfordDTO(result))
}

// EvaluateTriggers raises alerts for the employee's crossed triggers and
// returns the open ones.
// POST /api/employees/{id}/triggers/evaluate
func (h *Handler) EvaluateTriggers(w http.ResponseWriter, r *http.Request) {
	tenant, _, ok := h.writer(w, r)
	if !ok {
		return
	}
	alerts, err := h.Service.EvaluateTriggers(r.Context(), tenant, employeeID(r))
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, lo.Map(alerts, toAlertDTO))
}

// SetTriggerConfig upserts one of the organisation's trigger configs.
// PUT /api/triggers/{id}
func (h *Handler) SetTriggerConfig(w http.ResponseWriter, r *http.Request) {
	tenant, actor, ok := h.writer(w, r)
	if !ok {
		return
	}
	var req TriggerConfigRequest
	if !h.decode(w, r, &req) {
		return
	}
	cfg, err := factory.FromTriggerConfigJSON(chi.URLParam(r, "id"), tenant.OrganisationID, factory.TriggerConfigJSON{
		Type:      req.Type,
		Threshold: req.Threshold,
		Active:    req.Active,
	})
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	cfg, err = h.Service.SetTriggerConfig(r.Context(), tenant, cfg, actor)
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toTriggerConfigDTO(cfg))
}

// =============================================================================
// SETTINGS ENDPOINTS
// =============================================================================

// GetSettings returns the organisation's settings, defaults filled in.
// GET /api/settings
func (h *Handler) GetSettings(w http.ResponseWriter, r *http.Request) {
	tenant, ok := h.tenant(w, r)
	if !ok {
		return
	}
	settings, err := h.Service.Settings(r.Context(), tenant, tenant.OrganisationID)
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toSettingsDTO(settings))
}

// UpdateSettings replaces the organisation's settings.
// PUT /api/settings
func (h *Handler) UpdateSettings(w http.ResponseWriter, r *http.Request) {
	tenant, actor, ok := h.writer(w, r)
	if !ok {
		return
	}
	var req SettingsDTO
	if !h.decode(w, r, &req) {
		return
	}
	settings, err := factory.FromSettingsJSON(tenant.OrganisationID, factory.SettingsJSON{
		LongTermDays:        req.LongTermDays,
		BradfordWindowWeeks: req.BradfordWindowWeeks,
		WorkingDaysPerYear:  req.WorkingDaysPerYear,
	})
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	saved, err := h.Service.UpdateSettings(r.Context(), tenant, settings, actor)
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toSettingsDTO(saved))
}

// =============================================================================
// LONG-TERM ENDPOINTS
// =============================================================================

// SweepLongTerm re-evaluates the long-term flag of every open case the caller
// can see. A platform administrator sweeps all organisations.
// POST /api/long-term/sweep
func (h *Handler) SweepLongTerm(w http.ResponseWriter, r *http.Request) {
	tenant, _, ok := h.writer(w, r)
	if !ok {
		return
	}
	changed, err := h.Service.SweepLongTerm(r.Context(), tenant)
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, LongTermSweepDTO{Changed: changed})
}

// =============================================================================
// HELPERS
// =============================================================================

func caseID(r *http.Request) sickness.CaseID { return sickness.CaseID(chi.URLParam(r, "id")) }

func employeeID(r *http.Request) generic.EmployeeID {
	return generic.EmployeeID(chi.URLParam(r, "id"))
}

func milestoneKey(r *http.Request) sickness.MilestoneKey {
	return sickness.MilestoneKey(chi.URLParam(r, "key"))
}

// tenant resolves the request's tenant or writes a 400.
func (h *Handler) tenant(w http.ResponseWriter, r *http.Request) (generic.Tenant, bool) {
	tenant, err := tenantFrom(r)
	if err != nil {
		h.writeServiceError(w, r, err)
		return generic.Tenant{}, false
	}
	return tenant, true
}

// writer resolves the tenant and the acting user of a write.
func (h *Handler) writer(w http.ResponseWriter, r *http.Request) (generic.Tenant, generic.ActorID, bool) {
	tenant, ok := h.tenant(w, r)
	if !ok {
		return generic.Tenant{}, "", false
	}
	actor, err := actorFrom(r)
	if err != nil {
		h.writeServiceError(w, r, err)
		return generic.Tenant{}, "", false
	}
	return tenant, actor, true
}

func (h *Handler) decode(w http.ResponseWriter, r *http.Request, dst any) bool {
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return false
	}
	return true
}

func parseDateField(field, s string) (generic.TimePoint, error) {
	tp, err := generic.ParseDate(s)
	if err != nil {
		var ve *generic.ValidationError
		if errors.As(err, &ve) {
			return generic.TimePoint{}, generic.Invalid(field, "%s", ve.Message)
		}
		return generic.TimePoint{}, err
	}
	return tp, nil
}

func parseOptionalDate(field string, s *string) (*generic.TimePoint, error) {
	if s == nil {
		return nil, nil
	}
	tp, err := parseDateField(field, *s)
	if err != nil {
		return nil, err
	}
	return &tp, nil
}

func optionalQuery(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

// writeServiceError maps engine errors onto HTTP statuses.
func (h *Handler) writeServiceError(w http.ResponseWriter, r *http.Request, err error) {
	var ve *generic.ValidationError
	switch {
	case errors.As(err, &ve):
		writeJSON(w, http.StatusBadRequest, ErrorResponse{Error: ve.Error(), Field: ve.Field})
	case generic.IsNotFound(err):
		writeError(w, http.StatusNotFound, "Not found", err)
	case generic.IsConflict(err):
		writeError(w, http.StatusConflict, "Conflict", err)
	case generic.IsClientError(err):
		writeError(w, http.StatusBadRequest, "Bad request", err)
	default:
		h.log.Error("request failed",
			zap.String("request_id", middleware.GetReqID(r.Context())),
			zap.String("path", r.URL.Path),
			zap.Error(err))
		writeError(w, http.StatusInternalServerError, "Internal error", nil)
	}
}

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

func writeError(w http.ResponseWriter, status int, message string, err error) {
	resp := ErrorResponse{Error: message}
	if err != nil {
		resp.Details = err.Error()
	}
	writeJSON(w, status, resp)
}
