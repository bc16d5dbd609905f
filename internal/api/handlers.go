package api

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/sentryhq/ueba/internal/models"
	"github.com/sentryhq/ueba/internal/threat"
)

// respondServiceError maps service errors onto API status codes.
func respondServiceError(w http.ResponseWriter, err error) {
	switch {
	case models.IsValidation(err):
		respondError(w, http.StatusBadRequest, "validation_error", err.Error())
	case models.IsNotFound(err):
		respondError(w, http.StatusNotFound, "not_found", err.Error())
	case models.IsScoringUnavailable(err):
		respondError(w, http.StatusServiceUnavailable, "scoring_unavailable", err.Error())
	default:
		respondError(w, http.StatusInternalServerError, "internal_error", err.Error())
	}
}

func (s *Server) submitActivity(w http.ResponseWriter, r *http.Request) {
	var ev models.ActivityEvent
	if err := json.NewDecoder(r.Body).Decode(&ev); err != nil {
		respondError(w, http.StatusBadRequest, "invalid_json", err.Error())
		return
	}

	result, err := s.service.SubmitActivity(r.Context(), &ev)
	if err != nil {
		respondServiceError(w, err)
		return
	}

	respondJSON(w, http.StatusOK, result)
}

func (s *Server) registerUser(w http.ResponseWriter, r *http.Request) {
	var user models.User
	if err := json.NewDecoder(r.Body).Decode(&user); err != nil {
		respondError(w, http.StatusBadRequest, "invalid_json", err.Error())
		return
	}

	if err := s.service.RegisterUser(r.Context(), &user); err != nil {
		respondServiceError(w, err)
		return
	}

	respondJSON(w, http.StatusCreated, user)
}

func (s *Server) listUsers(w http.ResponseWriter, r *http.Request) {
	users, err := s.service.ListUsers(r.Context())
	if err != nil {
		respondServiceError(w, err)
		return
	}

	respondJSONWithMeta(w, http.StatusOK, users, &apiMeta{Total: len(users)})
}

func (s *Server) getUserScore(w http.ResponseWriter, r *http.Request) {
	userID := chi.URLParam(r, "userID")

	result, err := s.service.GetScore(r.Context(), userID)
	if err != nil {
		respondServiceError(w, err)
		return
	}

	respondJSON(w, http.StatusOK, result)
}

func (s *Server) getUserHistory(w http.ResponseWriter, r *http.Request) {
	userID := chi.URLParam(r, "userID")

	days := 0
	if d := r.URL.Query().Get("days"); d != "" {
		parsed, err := strconv.Atoi(d)
		if err != nil || parsed < 1 {
			respondError(w, http.StatusBadRequest, "validation_error", "days must be a positive integer")
			return
		}
		days = parsed
	}

	snaps, err := s.service.GetHistoricalScores(r.Context(), userID, days)
	if err != nil {
		respondServiceError(w, err)
		return
	}

	respondJSONWithMeta(w, http.StatusOK, snaps, &apiMeta{Total: len(snaps)})
}

func (s *Server) listAlerts(w http.ResponseWriter, r *http.Request) {
	filter := threat.AlertFilter{
		UserID: r.URL.Query().Get("user_id"),
	}
	if r.URL.Query().Get("unread") == "true" {
		filter.UnreadOnly = true
	}
	if l := r.URL.Query().Get("limit"); l != "" {
		parsed, err := strconv.Atoi(l)
		if err != nil || parsed < 1 {
			respondError(w, http.StatusBadRequest, "validation_error", "limit must be a positive integer")
			return
		}
		filter.Limit = parsed
	}

	alerts, err := s.service.ListAlerts(r.Context(), filter)
	if err != nil {
		respondServiceError(w, err)
		return
	}

	respondJSONWithMeta(w, http.StatusOK, alerts, &apiMeta{Total: len(alerts), Limit: filter.Limit})
}

type markViewedRequest struct {
	AlertIDs []int64 `json:"alert_ids"`
}

func (s *Server) markAlertsViewed(w http.ResponseWriter, r *http.Request) {
	var req markViewedRequest
	if r.ContentLength > 0 {
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			respondError(w, http.StatusBadRequest, "invalid_json", err.Error())
			return
		}
	}

	marked, err := s.service.MarkAlertsViewed(r.Context(), req.AlertIDs)
	if err != nil {
		respondServiceError(w, err)
		return
	}

	respondJSON(w, http.StatusOK, map[string]int{"marked": marked})
}

type escalateAlertRequest struct {
	Severity models.RiskLevel `json:"severity"`
}

func (s *Server) escalateAlert(w http.ResponseWriter, r *http.Request) {
	idStr := chi.URLParam(r, "alertID")
	alertID, err := strconv.ParseInt(idStr, 10, 64)
	if err != nil {
		respondError(w, http.StatusBadRequest, "invalid_id", "Invalid alert ID")
		return
	}

	var req escalateAlertRequest
	if r.ContentLength > 0 {
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			respondError(w, http.StatusBadRequest, "invalid_json", err.Error())
			return
		}
	}

	inc, err := s.service.EscalateAlert(r.Context(), alertID, req.Severity)
	if err != nil {
		respondServiceError(w, err)
		return
	}

	respondJSON(w, http.StatusCreated, inc)
}

func (s *Server) listIncidents(w http.ResponseWriter, r *http.Request) {
	filter := threat.IncidentFilter{
		Status: models.IncidentStatus(r.URL.Query().Get("status")),
	}
	if l := r.URL.Query().Get("limit"); l != "" {
		parsed, err := strconv.Atoi(l)
		if err != nil || parsed < 1 {
			respondError(w, http.StatusBadRequest, "validation_error", "limit must be a positive integer")
			return
		}
		filter.Limit = parsed
	}

	incidents, err := s.service.ListIncidents(r.Context(), filter)
	if err != nil {
		respondServiceError(w, err)
		return
	}

	respondJSONWithMeta(w, http.StatusOK, incidents, &apiMeta{Total: len(incidents), Limit: filter.Limit})
}

type createIncidentRequest struct {
	UserID      string           `json:"user_id"`
	Severity    models.RiskLevel `json:"severity"`
	Description string           `json:"description"`
	Explanation string           `json:"explanation"`
}

func (s *Server) createIncident(w http.ResponseWriter, r *http.Request) {
	var req createIncidentRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid_json", err.Error())
		return
	}

	inc, err := s.service.CreateIncident(r.Context(), req.UserID, req.Severity, req.Description, req.Explanation)
	if err != nil {
		respondServiceError(w, err)
		return
	}

	respondJSON(w, http.StatusCreated, inc)
}

type updateIncidentStatusRequest struct {
	Status models.IncidentStatus `json:"status"`
}

func (s *Server) updateIncidentStatus(w http.ResponseWriter, r *http.Request) {
	idStr := chi.URLParam(r, "incidentID")
	id, err := uuid.Parse(idStr)
	if err != nil {
		respondError(w, http.StatusBadRequest, "invalid_id", "Invalid incident ID")
		return
	}

	var req updateIncidentStatusRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid_json", err.Error())
		return
	}

	inc, err := s.service.UpdateIncidentStatus(r.Context(), id, req.Status)
	if err != nil {
		respondServiceError(w, err)
		return
	}

	respondJSON(w, http.StatusOK, inc)
}

type resolveIncidentRequest struct {
	Notes string `json:"notes"`
}

func (s *Server) resolveIncident(w http.ResponseWriter, r *http.Request) {
	idStr := chi.URLParam(r, "incidentID")
	id, err := uuid.Parse(idStr)
	if err != nil {
		respondError(w, http.StatusBadRequest, "invalid_id", "Invalid incident ID")
		return
	}

	var req resolveIncidentRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid_json", err.Error())
		return
	}

	inc, err := s.service.ResolveIncident(r.Context(), id, req.Notes)
	if err != nil {
		respondServiceError(w, err)
		return
	}

	respondJSON(w, http.StatusOK, inc)
}

func (s *Server) getDashboardSummary(w http.ResponseWriter, r *http.Request) {
	summary, err := s.service.Summary(r.Context())
	if err != nil {
		respondServiceError(w, err)
		return
	}

	respondJSON(w, http.StatusOK, summary)
}

type generateReportRequest struct {
	Title string `json:"title"`
}

func (s *Server) generateReport(w http.ResponseWriter, r *http.Request) {
	var req generateReportRequest
	if r.ContentLength > 0 {
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			respondError(w, http.StatusBadRequest, "invalid_json", err.Error())
			return
		}
	}

	data, err := s.reportGenerator.ThreatSummaryPDF(r.Context(), req.Title)
	if err != nil {
		respondError(w, http.StatusInternalServerError, "report_error", err.Error())
		return
	}

	w.Header().Set("Content-Type", "application/pdf")
	w.Header().Set("Content-Disposition", `attachment; filename="threat-summary.pdf"`)
	w.Header().Set("Content-Length", fmt.Sprintf("%d", len(data)))
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(data)
}
