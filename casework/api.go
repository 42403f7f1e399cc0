package main

import (
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/animus-labs/casework/internal/domain"
	"github.com/animus-labs/casework/internal/guard"
	"github.com/animus-labs/casework/internal/platform/auth"
	"github.com/animus-labs/casework/internal/platform/httpserver"
	"github.com/animus-labs/casework/internal/repo"
	"github.com/animus-labs/casework/internal/service/capacity"
	"github.com/animus-labs/casework/internal/service/lifecycle"
	"github.com/animus-labs/casework/internal/service/provisioning"
	"github.com/animus-labs/casework/internal/service/sessions"
)

type caseworkAPI struct {
	logger     *slog.Logger
	store      repo.Store
	controller *lifecycle.Controller
	capacity   *capacity.Aggregator
	sessions   *sessions.View
}

func newCaseworkAPI(logger *slog.Logger, a *app) *caseworkAPI {
	return &caseworkAPI{
		logger:     logger,
		store:      a.store,
		controller: a.controller,
		capacity:   a.capacity,
		sessions:   a.sessions,
	}
}

func (api *caseworkAPI) register(mux *http.ServeMux) {
	mux.HandleFunc("POST /cases", api.handleCreateCase)
	mux.HandleFunc("GET /cases", api.handleListCases)
	mux.HandleFunc("GET /cases/{case_id}", api.handleGetCase)
	mux.HandleFunc("POST /cases/{case_id}/transitions", api.handleTransition)
	mux.HandleFunc("GET /cases/{case_id}/allowed-transitions", api.handleAllowedTransitions)
	mux.HandleFunc("POST /cases/{case_id}/provisioning", api.handleReprovision)
	mux.HandleFunc("GET /cases/{case_id}/enrollments", api.handleListEnrollments)

	mux.HandleFunc("PATCH /enrollments/{enrollment_id}", api.handlePatchEnrollment)
	mux.HandleFunc("GET /workshops/{workshop_id}/capacity", api.handleCapacity)
	mux.HandleFunc("GET /sessions", api.handleSessions)
}

type caseResponse struct {
	ID               string          `json:"case_id"`
	State            domain.State    `json:"state"`
	InitiatorID      string          `json:"initiator_id"`
	OrganizationID   string          `json:"organization_id,omitempty"`
	Workshops        map[string]bool `json:"workshops"`
	ParticipantCount int             `json:"participant_count"`
	Metadata         domain.Metadata `json:"metadata"`
	CreatedAt        time.Time       `json:"created_at"`
	UpdatedAt        time.Time       `json:"updated_at"`
}

func toCaseResponse(c domain.Case) caseResponse {
	workshops := map[string]bool(c.Workshops.Clone())
	return caseResponse{
		ID:               c.ID,
		State:            c.State,
		InitiatorID:      c.InitiatorID,
		OrganizationID:   c.OrganizationID,
		Workshops:        workshops,
		ParticipantCount: c.ParticipantCount,
		Metadata:         c.Metadata.Clone(),
		CreatedAt:        c.CreatedAt,
		UpdatedAt:        c.UpdatedAt,
	}
}

type enrollmentResponse struct {
	ID               string     `json:"enrollment_id"`
	CaseID           string     `json:"case_id"`
	WorkshopID       string     `json:"workshop_id"`
	OrganizationID   string     `json:"organization_id"`
	ParticipantCount int        `json:"participant_count"`
	SessionNumber    int        `json:"session_number"`
	Locked           bool       `json:"locked"`
	LockedAt         *time.Time `json:"locked_at,omitempty"`
	ActivityDone     bool       `json:"activity_done"`
	ActivityDoneAt   *time.Time `json:"activity_done_at,omitempty"`
	ReportRef        string     `json:"report_ref,omitempty"`
	CreatedAt        time.Time  `json:"created_at"`
}

func toEnrollmentResponse(e domain.Enrollment) enrollmentResponse {
	return enrollmentResponse{
		ID:               e.ID,
		CaseID:           e.CaseID,
		WorkshopID:       e.WorkshopID,
		OrganizationID:   e.OrganizationID,
		ParticipantCount: e.ParticipantCount,
		SessionNumber:    e.SessionNumber,
		Locked:           e.Locked,
		LockedAt:         e.LockedAt,
		ActivityDone:     e.ActivityDone,
		ActivityDoneAt:   e.ActivityDoneAt,
		ReportRef:        e.ReportRef,
		CreatedAt:        e.CreatedAt,
	}
}

func toEnrollmentResponses(in []domain.Enrollment) []enrollmentResponse {
	out := make([]enrollmentResponse, 0, len(in))
	for _, e := range in {
		out = append(out, toEnrollmentResponse(e))
	}
	return out
}

type createCaseRequest struct {
	ActorID          string          `json:"actor_id,omitempty"`
	Workshops        json.RawMessage `json:"workshops,omitempty"`
	ParticipantCount int             `json:"participant_count"`
	Metadata         domain.Metadata `json:"metadata,omitempty"`
}

func (api *caseworkAPI) handleCreateCase(w http.ResponseWriter, r *http.Request) {
	var req createCaseRequest
	if err := decodeJSON(r, &req); err != nil {
		api.writeError(w, r, http.StatusBadRequest, "invalid_json", nil)
		return
	}
	actorID, ok := api.actorID(w, r, req.ActorID)
	if !ok {
		return
	}
	selection, err := domain.ParseWorkshopSelection(req.Workshops)
	if err != nil {
		api.writeError(w, r, http.StatusBadRequest, "invalid_workshops", map[string]any{"reason": err.Error()})
		return
	}
	created, err := api.controller.Create(r.Context(), lifecycle.NewCase{
		ActorID:          actorID,
		Workshops:        selection,
		ParticipantCount: req.ParticipantCount,
		Metadata:         req.Metadata,
		RequestID:        requestID(r),
	})
	if err != nil {
		api.writeDomainError(w, r, err)
		return
	}
	api.writeJSON(w, http.StatusCreated, toCaseResponse(created))
}

func (api *caseworkAPI) handleListCases(w http.ResponseWriter, r *http.Request) {
	filter := repo.CaseFilter{
		OrganizationID: strings.TrimSpace(r.URL.Query().Get("organization_id")),
		Limit:          clampInt(parseIntQuery(r, "limit", 100), 1, 500),
	}
	if raw := strings.TrimSpace(r.URL.Query().Get("state")); raw != "" {
		state, ok := domain.ParseState(raw)
		if !ok {
			api.writeError(w, r, http.StatusBadRequest, "invalid_state", map[string]any{"state": raw})
			return
		}
		filter.State = state
	}
	cases, err := api.store.ListCases(r.Context(), filter)
	if err != nil {
		api.writeDomainError(w, r, err)
		return
	}
	out := make([]caseResponse, 0, len(cases))
	for _, c := range cases {
		out = append(out, toCaseResponse(c))
	}
	api.writeJSON(w, http.StatusOK, map[string]any{"cases": out})
}

func (api *caseworkAPI) handleGetCase(w http.ResponseWriter, r *http.Request) {
	caseID := strings.TrimSpace(r.PathValue("case_id"))
	c, err := api.store.GetCase(r.Context(), caseID)
	if err != nil {
		if errors.Is(err, repo.ErrNotFound) {
			err = &domain.NotFoundError{Entity: domain.EntityCase, ID: caseID}
		}
		api.writeDomainError(w, r, err)
		return
	}
	api.writeJSON(w, http.StatusOK, toCaseResponse(c))
}

type transitionRequest struct {
	TargetState    string          `json:"target_state"`
	ActorID        string          `json:"actor_id,omitempty"`
	Metadata       domain.Metadata `json:"metadata,omitempty"`
	OrganizationID string          `json:"organization_id,omitempty"`
}

func (api *caseworkAPI) handleTransition(w http.ResponseWriter, r *http.Request) {
	var req transitionRequest
	if err := decodeJSON(r, &req); err != nil {
		api.writeError(w, r, http.StatusBadRequest, "invalid_json", nil)
		return
	}
	target, ok := domain.ParseState(req.TargetState)
	if !ok {
		api.writeError(w, r, http.StatusBadRequest, "invalid_state", map[string]any{"target_state": req.TargetState})
		return
	}
	actorID, ok := api.actorID(w, r, req.ActorID)
	if !ok {
		return
	}
	updated, err := api.controller.Transition(r.Context(), lifecycle.Request{
		CaseID:         r.PathValue("case_id"),
		Target:         target,
		ActorID:        actorID,
		Metadata:       req.Metadata,
		OrganizationID: req.OrganizationID,
		RequestID:      requestID(r),
	})
	if err != nil {
		api.writeDomainError(w, r, err)
		return
	}
	api.writeJSON(w, http.StatusOK, toCaseResponse(updated))
}

func (api *caseworkAPI) handleAllowedTransitions(w http.ResponseWriter, r *http.Request) {
	actorID, ok := api.actorID(w, r, r.URL.Query().Get("actor_id"))
	if !ok {
		return
	}
	c, allowed, err := api.controller.AllowedTransitions(r.Context(), r.PathValue("case_id"), actorID)
	if err != nil {
		api.writeDomainError(w, r, err)
		return
	}
	if allowed == nil {
		allowed = []domain.State{}
	}
	api.writeJSON(w, http.StatusOK, map[string]any{
		"case_id": c.ID,
		"state":   c.State,
		"allowed": allowed,
	})
}

type reprovisionRequest struct {
	ActorID string `json:"actor_id,omitempty"`
}

type provisioningFailure struct {
	WorkshopID string `json:"workshop_id"`
	Stage      string `json:"stage"`
	Error      string `json:"error"`
}

type provisioningResponse struct {
	CaseID   string                `json:"case_id"`
	Created  []enrollmentResponse  `json:"created"`
	Existing []enrollmentResponse  `json:"existing"`
	Locked   []string              `json:"locked_workshops"`
	Failures []provisioningFailure `json:"failures"`
}

func toProvisioningResponse(caseID string, res provisioning.Result) provisioningResponse {
	out := provisioningResponse{
		CaseID:   caseID,
		Created:  toEnrollmentResponses(res.Created),
		Existing: toEnrollmentResponses(res.Existing),
		Locked:   []string{},
		Failures: []provisioningFailure{},
	}
	for _, eval := range res.NewlyLocked() {
		out.Locked = append(out.Locked, eval.WorkshopID)
	}
	for _, f := range res.Failures {
		out.Failures = append(out.Failures, provisioningFailure{WorkshopID: f.WorkshopID, Stage: f.Stage, Error: f.Err.Error()})
	}
	return out
}

func (api *caseworkAPI) handleReprovision(w http.ResponseWriter, r *http.Request) {
	var req reprovisionRequest
	if r.ContentLength != 0 {
		if err := decodeJSON(r, &req); err != nil {
			api.writeError(w, r, http.StatusBadRequest, "invalid_json", nil)
			return
		}
	}
	actorID, ok := api.actorID(w, r, req.ActorID)
	if !ok {
		return
	}
	caseID := strings.TrimSpace(r.PathValue("case_id"))
	res, err := api.controller.Reprovision(r.Context(), caseID, actorID, requestID(r))
	if err != nil {
		api.writeDomainError(w, r, err)
		return
	}
	api.writeJSON(w, http.StatusOK, toProvisioningResponse(caseID, res))
}

func (api *caseworkAPI) handleListEnrollments(w http.ResponseWriter, r *http.Request) {
	caseID := strings.TrimSpace(r.PathValue("case_id"))
	if _, err := api.store.GetCase(r.Context(), caseID); err != nil {
		if errors.Is(err, repo.ErrNotFound) {
			err = &domain.NotFoundError{Entity: domain.EntityCase, ID: caseID}
		}
		api.writeDomainError(w, r, err)
		return
	}
	rows, err := api.store.ListEnrollments(r.Context(), repo.EnrollmentFilter{CaseID: caseID})
	if err != nil {
		api.writeDomainError(w, r, err)
		return
	}
	api.writeJSON(w, http.StatusOK, map[string]any{"enrollments": toEnrollmentResponses(rows)})
}

type patchEnrollmentRequest struct {
	ActorID        string     `json:"actor_id,omitempty"`
	ActivityDone   *bool      `json:"activity_done,omitempty"`
	ActivityDoneAt *time.Time `json:"activity_done_at,omitempty"`
	ReportRef      *string    `json:"report_ref,omitempty"`
}

func (api *caseworkAPI) handlePatchEnrollment(w http.ResponseWriter, r *http.Request) {
	var req patchEnrollmentRequest
	if err := decodeJSON(r, &req); err != nil {
		api.writeError(w, r, http.StatusBadRequest, "invalid_json", map[string]any{"reason": err.Error()})
		return
	}
	actorID, ok := api.actorID(w, r, req.ActorID)
	if !ok {
		return
	}
	updated, err := api.controller.UpdateEnrollment(r.Context(), r.PathValue("enrollment_id"), actorID, domain.EnrollmentPatch{
		ActivityDone:   req.ActivityDone,
		ActivityDoneAt: req.ActivityDoneAt,
		ReportRef:      req.ReportRef,
	}, requestID(r))
	if err != nil {
		api.writeDomainError(w, r, err)
		return
	}
	api.writeJSON(w, http.StatusOK, toEnrollmentResponse(updated))
}

type capacityResponse struct {
	WorkshopID  string `json:"workshop_id"`
	Name        string `json:"name"`
	MinCapacity *int   `json:"min_capacity"`
	MaxCapacity *int   `json:"max_capacity"`
	Total       int    `json:"participants"`
	Enrollments int    `json:"enrollments"`
	Locked      int    `json:"locked"`
	Reached     bool   `json:"threshold_reached"`
}

func (api *caseworkAPI) handleCapacity(w http.ResponseWriter, r *http.Request) {
	snap, err := api.capacity.Snapshot(r.Context(), r.PathValue("workshop_id"))
	if err != nil {
		api.writeDomainError(w, r, err)
		return
	}
	api.writeJSON(w, http.StatusOK, capacityResponse{
		WorkshopID:  snap.WorkshopID,
		Name:        snap.Name,
		MinCapacity: snap.Minimum,
		MaxCapacity: snap.Maximum,
		Total:       snap.Total,
		Enrollments: snap.Enrollments,
		Locked:      snap.Locked,
		Reached:     snap.Reached,
	})
}

type sessionReport struct {
	EnrollmentID string `json:"enrollment_id"`
	Ref          string `json:"ref"`
	URL          string `json:"url,omitempty"`
}

type sessionResponse struct {
	WorkshopID       string          `json:"workshop_id"`
	WorkshopName     string          `json:"workshop_name"`
	OrganizationID   string          `json:"organization_id"`
	OrganizationName string          `json:"organization_name"`
	SessionNumber    int             `json:"session_number"`
	Participants     int             `json:"participants"`
	Locked           bool            `json:"locked"`
	ActivityDone     bool            `json:"activity_done"`
	HasReport        bool            `json:"has_report"`
	LockedAt         *time.Time      `json:"locked_at,omitempty"`
	ActivityDoneAt   *time.Time      `json:"activity_done_at,omitempty"`
	LastEnrolledAt   time.Time       `json:"last_enrolled_at"`
	EnrollmentIDs    []string        `json:"enrollment_ids"`
	CaseIDs          []string        `json:"case_ids"`
	Reports          []sessionReport `json:"reports"`
}

func toSessionResponse(s sessions.Session) sessionResponse {
	out := sessionResponse{
		WorkshopID:       s.WorkshopID,
		WorkshopName:     s.WorkshopName,
		OrganizationID:   s.OrganizationID,
		OrganizationName: s.OrganizationName,
		SessionNumber:    s.SessionNumber,
		Participants:     s.Participants,
		Locked:           s.Locked,
		ActivityDone:     s.ActivityDone,
		HasReport:        s.HasReport,
		LockedAt:         s.LockedAt,
		ActivityDoneAt:   s.ActivityDoneAt,
		LastEnrolledAt:   s.LastEnrolledAt,
		EnrollmentIDs:    s.EnrollmentIDs,
		CaseIDs:          s.CaseIDs,
		Reports:          make([]sessionReport, 0, len(s.Reports)),
	}
	for _, rep := range s.Reports {
		out.Reports = append(out.Reports, sessionReport{EnrollmentID: rep.EnrollmentID, Ref: rep.Ref, URL: rep.URL})
	}
	return out
}

func (api *caseworkAPI) handleSessions(w http.ResponseWriter, r *http.Request) {
	list, err := api.sessions.List(r.Context(), sessions.Filter{
		OrganizationID: r.URL.Query().Get("organization_id"),
		WorkshopID:     r.URL.Query().Get("workshop_id"),
	})
	if err != nil {
		api.writeDomainError(w, r, err)
		return
	}
	out := make([]sessionResponse, 0, len(list))
	for _, s := range list {
		out = append(out, toSessionResponse(s))
	}
	api.writeJSON(w, http.StatusOK, map[string]any{"sessions": out})
}

// actorID resolves the acting actor. An authenticated subject wins; a body
// actor_id that disagrees with it is rejected. Without authentication the
// body value is required.
func (api *caseworkAPI) actorID(w http.ResponseWriter, r *http.Request, claimed string) (string, bool) {
	claimed = strings.TrimSpace(claimed)
	identity, _ := auth.IdentityFromContext(r.Context())
	subject := strings.TrimSpace(identity.Subject)
	switch {
	case subject != "" && claimed != "" && claimed != subject:
		api.writeError(w, r, http.StatusForbidden, "actor_mismatch", map[string]any{"subject": subject, "actor_id": claimed})
		return "", false
	case subject != "":
		return subject, true
	case claimed != "":
		return claimed, true
	default:
		api.writeError(w, r, http.StatusBadRequest, "actor_required", nil)
		return "", false
	}
}

func (api *caseworkAPI) writeDomainError(w http.ResponseWriter, r *http.Request, err error) {
	var (
		notFound   *domain.NotFoundError
		notAllowed *domain.TransitionNotAllowedError
	)
	switch {
	case errors.As(err, &notFound):
		api.writeError(w, r, http.StatusNotFound, "not_found", map[string]any{"entity": notFound.Entity, "id": notFound.ID})
	case errors.As(err, &notAllowed):
		api.writeError(w, r, http.StatusBadRequest, "transition_not_allowed", map[string]any{
			"role":    notAllowed.Role,
			"from":    notAllowed.From,
			"to":      notAllowed.To,
			"allowed": guard.Allowed(notAllowed.Role, notAllowed.From),
		})
	case errors.Is(err, domain.ErrNotFound):
		api.writeError(w, r, http.StatusNotFound, "not_found", nil)
	case errors.Is(err, domain.ErrInvalidInput):
		api.writeError(w, r, http.StatusBadRequest, "invalid_input", map[string]any{"reason": err.Error()})
	case errors.Is(err, domain.ErrForbidden):
		api.writeError(w, r, http.StatusForbidden, "forbidden", map[string]any{"reason": err.Error()})
	case errors.Is(err, domain.ErrConflict):
		api.writeError(w, r, http.StatusConflict, "conflict", nil)
	default:
		api.logger.ErrorContext(r.Context(), "request failed", "request_id", requestID(r), "path", r.URL.Path, "error", err)
		api.writeError(w, r, http.StatusInternalServerError, "internal_error", nil)
	}
}

func (api *caseworkAPI) writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	enc := json.NewEncoder(w)
	enc.SetEscapeHTML(true)
	_ = enc.Encode(body)
}

func (api *caseworkAPI) writeError(w http.ResponseWriter, r *http.Request, status int, code string, details map[string]any) {
	body := map[string]any{
		"error":      code,
		"request_id": requestID(r),
	}
	if len(details) > 0 {
		body["details"] = details
	}
	api.writeJSON(w, status, body)
}

func requestID(r *http.Request) string {
	if id, ok := httpserver.RequestIDFromContext(r.Context()); ok {
		return id
	}
	return r.Header.Get(httpserver.HeaderRequestID)
}

func decodeJSON(r *http.Request, dst any) error {
	dec := json.NewDecoder(io.LimitReader(r.Body, 1<<20))
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		return err
	}
	if err := dec.Decode(&struct{}{}); err != io.EOF {
		return errors.New("multiple JSON values")
	}
	return nil
}

func parseIntQuery(r *http.Request, key string, def int) int {
	v := strings.TrimSpace(r.URL.Query().Get(key))
	if v == "" {
		return def
	}
	parsed, err := strconv.Atoi(v)
	if err != nil {
		return def
	}
	return parsed
}

func clampInt(v int, min int, max int) int {
	if v < min {
		return min
	}
	if v > max {
		return max
	}
	return v
}
