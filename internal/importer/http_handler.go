package importer

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"

	"github.com/google/uuid"

	"github.com/lumenhq/taskpilot/internal/auth"
	"github.com/lumenhq/taskpilot/internal/domain"
	"github.com/lumenhq/taskpilot/internal/export"
	"github.com/lumenhq/taskpilot/internal/repository"
	"github.com/lumenhq/taskpilot/internal/source"
)

type Handler struct {
	service *Service
	reports *export.ReportWriter
}

func NewHTTPHandler(service *Service, reports *export.ReportWriter) http.Handler {
	return &Handler{service: service, reports: reports}
}

func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	switch {
	case r.Method == http.MethodPost && strings.HasSuffix(r.URL.Path, "/test-connection"):
		h.handleTestConnection(w, r)
		return
	case r.Method == http.MethodPost && strings.HasSuffix(r.URL.Path, "/validate"):
		h.handleValidate(w, r)
		return
	case r.Method == http.MethodPost && strings.HasSuffix(r.URL.Path, "/execute"):
		h.handleExecute(w, r)
		return
	case r.Method == http.MethodGet && strings.HasSuffix(r.URL.Path, "/source/workspaces"):
		h.handleListSourceWorkspaces(w, r)
		return
	case r.Method == http.MethodGet && strings.HasSuffix(r.URL.Path, "/report.xlsx"):
		h.handleReport(w, r)
		return
	case r.Method == http.MethodGet && strings.Contains(r.URL.Path, "/runs/"):
		h.handleGetRun(w, r)
		return
	case r.Method == http.MethodGet && strings.HasSuffix(r.URL.Path, "/runs"):
		h.handleListRuns(w, r)
		return
	default:
		http.Error(w, "not found", http.StatusNotFound)
		return
	}
}

type testConnectionPayload struct {
	TenantID string `json:"tenantId"`
}

type importRequestPayload struct {
	TenantID            string               `json:"tenantId"`
	ActorUserID         string               `json:"actorUserId"`
	ExternalWorkspaceID string               `json:"externalWorkspaceId"`
	ExternalProjectIDs  []string             `json:"externalProjectIds"`
	TargetWorkspaceID   string               `json:"targetWorkspaceId"`
	Options             domain.ImportOptions `json:"options"`
}

func (h *Handler) handleTestConnection(w http.ResponseWriter, r *http.Request) {
	defer r.Body.Close()
	var payload testConnectionPayload
	if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
		http.Error(w, fmt.Sprintf("invalid payload: %v", err), http.StatusBadRequest)
		return
	}
	tenantID, err := uuid.Parse(strings.TrimSpace(payload.TenantID))
	if err != nil {
		http.Error(w, fmt.Sprintf("invalid tenantId: %v", err), http.StatusBadRequest)
		return
	}
	if err := auth.EnforceTenantScope(r.Context(), tenantID); err != nil {
		http.Error(w, err.Error(), http.StatusForbidden)
		return
	}
	identity, err := h.service.TestConnection(r.Context(), tenantID)
	if err != nil {
		http.Error(w, err.Error(), connectionErrorStatus(err))
		return
	}
	writeJSON(w, http.StatusOK, identity)
}

func (h *Handler) handleValidate(w http.ResponseWriter, r *http.Request) {
	tenantID, _, req, ok := h.decodeImportRequest(w, r)
	if !ok {
		return
	}
	report, err := h.service.Validate(r.Context(), tenantID, req)
	if err != nil {
		if source.IsConnectionError(err) {
			http.Error(w, err.Error(), connectionErrorStatus(err))
			return
		}
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	writeJSON(w, http.StatusOK, report)
}

func (h *Handler) handleExecute(w http.ResponseWriter, r *http.Request) {
	tenantID, actorUserID, req, ok := h.decodeImportRequest(w, r)
	if !ok {
		return
	}
	run, err := h.service.Execute(r.Context(), tenantID, actorUserID, req)
	if err != nil {
		switch {
		case errors.Is(err, ErrWorkspaceBusy):
			http.Error(w, err.Error(), http.StatusConflict)
		case source.IsConnectionError(err):
			http.Error(w, err.Error(), connectionErrorStatus(err))
		default:
			http.Error(w, err.Error(), http.StatusBadRequest)
		}
		return
	}
	writeJSON(w, http.StatusAccepted, run)
}

func (h *Handler) handleListSourceWorkspaces(w http.ResponseWriter, r *http.Request) {
	tenantID, err := uuid.Parse(strings.TrimSpace(r.URL.Query().Get("tenantId")))
	if err != nil {
		http.Error(w, fmt.Sprintf("invalid tenantId: %v", err), http.StatusBadRequest)
		return
	}
	if err := auth.EnforceTenantScope(r.Context(), tenantID); err != nil {
		http.Error(w, err.Error(), http.StatusForbidden)
		return
	}
	workspaces, err := h.service.ListSourceWorkspaces(r.Context(), tenantID)
	if err != nil {
		http.Error(w, err.Error(), connectionErrorStatus(err))
		return
	}
	writeJSON(w, http.StatusOK, workspaces)
}

func (h *Handler) handleGetRun(w http.ResponseWriter, r *http.Request) {
	tenantID, runID, ok := h.runScope(w, r, "")
	if !ok {
		return
	}
	run, err := h.service.GetRun(r.Context(), tenantID, runID)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			http.Error(w, "run not found", http.StatusNotFound)
			return
		}
		http.Error(w, fmt.Sprintf("get run: %v", err), http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, run)
}

func (h *Handler) handleListRuns(w http.ResponseWriter, r *http.Request) {
	query := r.URL.Query()
	tenantID, err := uuid.Parse(strings.TrimSpace(query.Get("tenantId")))
	if err != nil {
		http.Error(w, fmt.Sprintf("invalid tenantId: %v", err), http.StatusBadRequest)
		return
	}
	if err := auth.EnforceTenantScope(r.Context(), tenantID); err != nil {
		http.Error(w, err.Error(), http.StatusForbidden)
		return
	}
	limit := 20
	if raw := strings.TrimSpace(query.Get("limit")); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil || parsed <= 0 {
			http.Error(w, "limit must be a positive integer", http.StatusBadRequest)
			return
		}
		limit = parsed
	}
	runs, err := h.service.ListRuns(r.Context(), tenantID, limit)
	if err != nil {
		http.Error(w, fmt.Sprintf("list runs: %v", err), http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, runs)
}

func (h *Handler) handleReport(w http.ResponseWriter, r *http.Request) {
	tenantID, runID, ok := h.runScope(w, r, "/report.xlsx")
	if !ok {
		return
	}
	run, err := h.service.GetRun(r.Context(), tenantID, runID)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			http.Error(w, "run not found", http.StatusNotFound)
			return
		}
		http.Error(w, fmt.Sprintf("get run: %v", err), http.StatusInternalServerError)
		return
	}
	if !run.Status.Terminal() {
		http.Error(w, "run has not finished yet", http.StatusConflict)
		return
	}
	filename := fmt.Sprintf("import-run-%s.xlsx", run.ID.String())
	w.Header().Set("Content-Type", "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet")
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", filename))
	if err := h.reports.WriteRunReport(w, run); err != nil {
		http.Error(w, fmt.Sprintf("write run report: %v", err), http.StatusInternalServerError)
		return
	}
}

// decodeImportRequest parses the shared validate/execute payload and enforces
// tenant scope. On failure it has already written the error response.
func (h *Handler) decodeImportRequest(w http.ResponseWriter, r *http.Request) (uuid.UUID, uuid.UUID, Request, bool) {
	defer r.Body.Close()
	var payload importRequestPayload
	if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
		http.Error(w, fmt.Sprintf("invalid payload: %v", err), http.StatusBadRequest)
		return uuid.Nil, uuid.Nil, Request{}, false
	}
	tenantID, err := uuid.Parse(strings.TrimSpace(payload.TenantID))
	if err != nil {
		http.Error(w, fmt.Sprintf("invalid tenantId: %v", err), http.StatusBadRequest)
		return uuid.Nil, uuid.Nil, Request{}, false
	}
	if err := auth.EnforceTenantScope(r.Context(), tenantID); err != nil {
		http.Error(w, err.Error(), http.StatusForbidden)
		return uuid.Nil, uuid.Nil, Request{}, false
	}
	actorUserID := uuid.Nil
	if raw := strings.TrimSpace(payload.ActorUserID); raw != "" {
		actorUserID, err = uuid.Parse(raw)
		if err != nil {
			http.Error(w, fmt.Sprintf("invalid actorUserId: %v", err), http.StatusBadRequest)
			return uuid.Nil, uuid.Nil, Request{}, false
		}
	}
	targetWorkspaceID, err := uuid.Parse(strings.TrimSpace(payload.TargetWorkspaceID))
	if err != nil {
		http.Error(w, fmt.Sprintf("invalid targetWorkspaceId: %v", err), http.StatusBadRequest)
		return uuid.Nil, uuid.Nil, Request{}, false
	}
	req := Request{
		ExternalWorkspaceGID: strings.TrimSpace(payload.ExternalWorkspaceID),
		ExternalProjectGIDs:  payload.ExternalProjectIDs,
		TargetWorkspaceID:    targetWorkspaceID,
		Options:              payload.Options,
	}
	return tenantID, actorUserID, req, true
}

// runScope extracts the run id from /imports/runs/{id}{suffix} style paths and
// enforces tenant scope from the tenantId query parameter.
func (h *Handler) runScope(w http.ResponseWriter, r *http.Request, suffix string) (uuid.UUID, uuid.UUID, bool) {
	path := strings.TrimSuffix(strings.TrimSuffix(r.URL.Path, "/"), suffix)
	path = strings.TrimSuffix(path, "/")
	idx := strings.LastIndex(path, "/")
	if idx == -1 || idx == len(path)-1 {
		http.Error(w, "missing run identifier", http.StatusBadRequest)
		return uuid.Nil, uuid.Nil, false
	}
	runID, err := uuid.Parse(path[idx+1:])
	if err != nil {
		http.Error(w, fmt.Sprintf("invalid run identifier: %v", err), http.StatusBadRequest)
		return uuid.Nil, uuid.Nil, false
	}
	tenantID, err := uuid.Parse(strings.TrimSpace(r.URL.Query().Get("tenantId")))
	if err != nil {
		http.Error(w, fmt.Sprintf("invalid tenantId: %v", err), http.StatusBadRequest)
		return uuid.Nil, uuid.Nil, false
	}
	if err := auth.EnforceTenantScope(r.Context(), tenantID); err != nil {
		http.Error(w, err.Error(), http.StatusForbidden)
		return uuid.Nil, uuid.Nil, false
	}
	return tenantID, runID, true
}

func connectionErrorStatus(err error) int {
	switch {
	case errors.Is(err, source.ErrUnauthorized), errors.Is(err, source.ErrNoCredential):
		return http.StatusUnauthorized
	case errors.Is(err, source.ErrSourceUnavailable):
		return http.StatusBadGateway
	default:
		return http.StatusBadRequest
	}
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	_ = enc.Encode(payload)
}
