package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/gorilla/mux"

	"github.com/civicgrid/case-triage/internal/config"
	"github.com/civicgrid/case-triage/internal/database"
	"github.com/civicgrid/case-triage/internal/linkage"
	"github.com/civicgrid/case-triage/internal/triage"
)

// TriageStore persists triage results.
type TriageStore interface {
	UpdateComplaintTriage(ctx context.Context, id, severityScore int, priority string, departmentID *int, triageNotes string) error
}

// GraphExplorer answers multi-hop link queries from the graph mirror.
// Optional; the graph endpoint returns 503 when absent.
type GraphExplorer interface {
	LinkedNeighborhood(ctx context.Context, complaintID, maxDepth int) ([]int, error)
}

// HTTPHandler handles HTTP requests for case triage and linkage
type HTTPHandler struct {
	triage  *triage.Engine
	linkage *linkage.Engine
	store   TriageStore
	graph   GraphExplorer
	config  config.Config
	logger  *slog.Logger
}

// NewHTTPHandler creates a new HTTP handler
func NewHTTPHandler(
	triageEngine *triage.Engine,
	linkageEngine *linkage.Engine,
	store TriageStore,
	graph GraphExplorer,
	cfg config.Config,
	logger *slog.Logger,
) *HTTPHandler {
	return &HTTPHandler{
		triage:  triageEngine,
		linkage: linkageEngine,
		store:   store,
		graph:   graph,
		config:  cfg,
		logger:  logger,
	}
}

// RegisterRoutes registers HTTP routes
func (h *HTTPHandler) RegisterRoutes(router *mux.Router) {
	// Triage endpoints
	router.HandleFunc("/api/v1/complaints/{id}/triage", h.TriageComplaint).Methods("POST")

	// Linkage endpoints
	router.HandleFunc("/api/v1/complaints/{id}/duplicates", h.FindDuplicates).Methods("GET")
	router.HandleFunc("/api/v1/complaints/{id}/links", h.GetLinkedComplaints).Methods("GET")
	router.HandleFunc("/api/v1/complaints/links", h.LinkComplaints).Methods("POST")
	router.HandleFunc("/api/v1/complaints/links/{id}", h.UnlinkComplaints).Methods("DELETE")
	router.HandleFunc("/api/v1/complaints/links/check", h.CheckLinked).Methods("GET")
	router.HandleFunc("/api/v1/complaints/{id}/mark-duplicate", h.MarkAsDuplicate).Methods("POST")
	router.HandleFunc("/api/v1/complaints/{id}/graph", h.GetLinkNeighborhood).Methods("GET")

	// Health and status endpoints
	router.HandleFunc("/api/v1/health", h.HealthCheck).Methods("GET")
	router.HandleFunc("/api/v1/status", h.GetServiceStatus).Methods("GET")
}

// TriageComplaint assesses a complaint and persists the result
func (h *HTTPHandler) TriageComplaint(w http.ResponseWriter, r *http.Request) {
	complaintID, ok := h.pathID(w, r, "id")
	if !ok {
		return
	}

	h.logger.Info("Received TriageComplaint request",
		"complaint_id", complaintID, "remote_addr", r.RemoteAddr)

	result, err := h.triage.AssessComplaint(r.Context(), complaintID)
	if err != nil {
		if errors.Is(err, database.ErrNotFound) {
			h.writeErrorResponse(w, http.StatusNotFound, "Complaint not found", err)
			return
		}
		h.logger.Error("Failed to assess complaint", "complaint_id", complaintID, "error", err)
		h.writeErrorResponse(w, http.StatusInternalServerError, "Failed to assess complaint", err)
		return
	}

	if err := h.store.UpdateComplaintTriage(r.Context(),
		complaintID, result.SeverityScore, result.Priority,
		result.DepartmentID, result.TriageNotes); err != nil {
		h.logger.Error("Failed to persist triage result", "complaint_id", complaintID, "error", err)
		h.writeErrorResponse(w, http.StatusInternalServerError, "Failed to persist triage result", err)
		return
	}

	h.writeJSONResponse(w, http.StatusOK, result)

	h.logger.Info("Complaint triaged successfully",
		"complaint_id", complaintID,
		"severity_score", result.SeverityScore,
		"priority", result.Priority)
}

// FindDuplicates returns scored duplicate candidates for a complaint
func (h *HTTPHandler) FindDuplicates(w http.ResponseWriter, r *http.Request) {
	complaintID, ok := h.pathID(w, r, "id")
	if !ok {
		return
	}

	report, err := h.linkage.FindPotentialDuplicates(r.Context(), complaintID)
	if err != nil {
		if errors.Is(err, database.ErrNotFound) {
			h.writeErrorResponse(w, http.StatusNotFound, "Complaint not found", err)
			return
		}
		h.logger.Error("Failed to find duplicates", "complaint_id", complaintID, "error", err)
		h.writeErrorResponse(w, http.StatusInternalServerError, "Failed to find duplicates", err)
		return
	}

	h.writeJSONResponse(w, http.StatusOK, report)
}

// LinkRequest is the payload for creating a complaint link
type LinkRequest struct {
	SourceComplaintID int     `json:"source_complaint_id"`
	TargetComplaintID int     `json:"target_complaint_id"`
	LinkType          string  `json:"link_type"`
	Notes             *string `json:"notes,omitempty"`
	UserID            int     `json:"user_id"`
	UserType          string  `json:"user_type"`
}

// LinkComplaints creates a link between two complaints
func (h *HTTPHandler) LinkComplaints(w http.ResponseWriter, r *http.Request) {
	var request LinkRequest
	if err := json.NewDecoder(r.Body).Decode(&request); err != nil {
		h.writeErrorResponse(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}

	if request.SourceComplaintID == 0 || request.TargetComplaintID == 0 {
		h.writeErrorResponse(w, http.StatusBadRequest, "source_complaint_id and target_complaint_id are required", nil)
		return
	}

	linked, err := h.linkage.LinkComplaints(r.Context(),
		request.SourceComplaintID, request.TargetComplaintID,
		request.LinkType, request.Notes, request.UserID, request.UserType)
	if err != nil {
		h.logger.Error("Failed to link complaints",
			"source_complaint_id", request.SourceComplaintID,
			"target_complaint_id", request.TargetComplaintID,
			"error", err)
		h.writeErrorResponse(w, http.StatusInternalServerError, "Failed to link complaints", err)
		return
	}

	if !linked {
		h.writeErrorResponse(w, http.StatusUnprocessableEntity, "Complaints could not be linked", nil)
		return
	}

	h.writeJSONResponse(w, http.StatusCreated, map[string]interface{}{
		"linked":              true,
		"source_complaint_id": request.SourceComplaintID,
		"target_complaint_id": request.TargetComplaintID,
		"link_type":           request.LinkType,
	})
}

// UnlinkComplaints removes a complaint link by link ID
func (h *HTTPHandler) UnlinkComplaints(w http.ResponseWriter, r *http.Request) {
	linkID, ok := h.pathID(w, r, "id")
	if !ok {
		return
	}

	removed, err := h.linkage.UnlinkComplaints(r.Context(), linkID)
	if err != nil {
		h.logger.Error("Failed to unlink complaints", "link_id", linkID, "error", err)
		h.writeErrorResponse(w, http.StatusInternalServerError, "Failed to unlink complaints", err)
		return
	}

	if !removed {
		h.writeErrorResponse(w, http.StatusNotFound, "Link not found", nil)
		return
	}

	h.writeJSONResponse(w, http.StatusOK, map[string]interface{}{"removed": true, "link_id": linkID})
}

// CheckLinked reports whether two complaints are linked in either direction
func (h *HTTPHandler) CheckLinked(w http.ResponseWriter, r *http.Request) {
	first, err := strconv.Atoi(r.URL.Query().Get("complaint_id"))
	if err != nil {
		h.writeErrorResponse(w, http.StatusBadRequest, "complaint_id is required", err)
		return
	}

	second, err := strconv.Atoi(r.URL.Query().Get("other_complaint_id"))
	if err != nil {
		h.writeErrorResponse(w, http.StatusBadRequest, "other_complaint_id is required", err)
		return
	}

	linked, err := h.linkage.AreComplaintsLinked(r.Context(), first, second)
	if err != nil {
		h.logger.Error("Failed to check complaint link", "error", err)
		h.writeErrorResponse(w, http.StatusInternalServerError, "Failed to check complaint link", err)
		return
	}

	h.writeJSONResponse(w, http.StatusOK, map[string]interface{}{
		"complaint_id":       first,
		"other_complaint_id": second,
		"linked":             linked,
	})
}

// GetLinkedComplaints lists complaints linked to the given complaint
func (h *HTTPHandler) GetLinkedComplaints(w http.ResponseWriter, r *http.Request) {
	complaintID, ok := h.pathID(w, r, "id")
	if !ok {
		return
	}

	linked, err := h.linkage.GetLinkedComplaints(r.Context(), complaintID)
	if err != nil {
		h.logger.Error("Failed to list linked complaints", "complaint_id", complaintID, "error", err)
		h.writeErrorResponse(w, http.StatusInternalServerError, "Failed to list linked complaints", err)
		return
	}

	h.writeJSONResponse(w, http.StatusOK, map[string]interface{}{
		"complaint_id": complaintID,
		"links":        linked,
	})
}

// GetLinkNeighborhood returns complaints reachable from the given complaint
// through link edges, up to the requested depth (default 2)
func (h *HTTPHandler) GetLinkNeighborhood(w http.ResponseWriter, r *http.Request) {
	complaintID, ok := h.pathID(w, r, "id")
	if !ok {
		return
	}

	if h.graph == nil {
		h.writeErrorResponse(w, http.StatusServiceUnavailable, "Link graph is not available", nil)
		return
	}

	depth := 2
	if raw := r.URL.Query().Get("depth"); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil || parsed < 1 || parsed > 6 {
			h.writeErrorResponse(w, http.StatusBadRequest, "depth must be between 1 and 6", err)
			return
		}
		depth = parsed
	}

	ids, err := h.graph.LinkedNeighborhood(r.Context(), complaintID, depth)
	if err != nil {
		h.logger.Error("Failed to query link neighborhood", "complaint_id", complaintID, "error", err)
		h.writeErrorResponse(w, http.StatusInternalServerError, "Failed to query link neighborhood", err)
		return
	}

	h.writeJSONResponse(w, http.StatusOK, map[string]interface{}{
		"complaint_id": complaintID,
		"depth":        depth,
		"linked_ids":   ids,
	})
}

// MarkDuplicateRequest is the payload for closing a complaint as a duplicate
type MarkDuplicateRequest struct {
	OriginalComplaintID int    `json:"original_complaint_id"`
	UserID              int    `json:"user_id"`
	UserType            string `json:"user_type"`
}

// MarkAsDuplicate links a complaint to its original and closes it
func (h *HTTPHandler) MarkAsDuplicate(w http.ResponseWriter, r *http.Request) {
	duplicateID, ok := h.pathID(w, r, "id")
	if !ok {
		return
	}

	var request MarkDuplicateRequest
	if err := json.NewDecoder(r.Body).Decode(&request); err != nil {
		h.writeErrorResponse(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}

	if request.OriginalComplaintID == 0 {
		h.writeErrorResponse(w, http.StatusBadRequest, "original_complaint_id is required", nil)
		return
	}

	closed, err := h.linkage.MarkAsDuplicate(r.Context(),
		request.OriginalComplaintID, duplicateID, request.UserID, request.UserType)
	if err != nil {
		h.logger.Error("Failed to mark complaint as duplicate",
			"complaint_id", duplicateID,
			"original_complaint_id", request.OriginalComplaintID,
			"error", err)
		h.writeErrorResponse(w, http.StatusInternalServerError, "Failed to mark complaint as duplicate", err)
		return
	}

	if !closed {
		h.writeErrorResponse(w, http.StatusUnprocessableEntity, "Complaint could not be marked as duplicate", nil)
		return
	}

	h.writeJSONResponse(w, http.StatusOK, map[string]interface{}{
		"complaint_id":          duplicateID,
		"original_complaint_id": request.OriginalComplaintID,
		"status":                database.StatusClosedDuplicate,
	})
}

// HealthCheck returns basic health status
func (h *HTTPHandler) HealthCheck(w http.ResponseWriter, r *http.Request) {
	health := map[string]interface{}{
		"status":    "healthy",
		"service":   "case-triage",
		"version":   "1.0.0",
		"timestamp": time.Now().UTC(),
	}

	h.writeJSONResponse(w, http.StatusOK, health)
}

// GetServiceStatus returns detailed service status
func (h *HTTPHandler) GetServiceStatus(w http.ResponseWriter, r *http.Request) {
	status := map[string]interface{}{
		"service": "case-triage",
		"version": "1.0.0",
		"status":  "running",
		"config": map[string]interface{}{
			"overload_threshold":   h.config.Triage.OverloadThreshold,
			"redirect_load_ratio":  h.config.Triage.RedirectLoadRatio,
			"similarity_threshold": h.config.Similarity.Threshold,
			"window_days":          h.config.Similarity.WindowDays,
		},
	}

	h.writeJSONResponse(w, http.StatusOK, status)
}

func (h *HTTPHandler) pathID(w http.ResponseWriter, r *http.Request, name string) (int, bool) {
	id, err := strconv.Atoi(mux.Vars(r)[name])
	if err != nil || id <= 0 {
		h.writeErrorResponse(w, http.StatusBadRequest, fmt.Sprintf("Invalid %s", name), err)
		return 0, false
	}
	return id, true
}

func (h *HTTPHandler) writeJSONResponse(w http.ResponseWriter, statusCode int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)

	if err := json.NewEncoder(w).Encode(data); err != nil {
		h.logger.Error("Failed to encode JSON response", "error", err)
	}
}

func (h *HTTPHandler) writeErrorResponse(w http.ResponseWriter, statusCode int, message string, err error) {
	response := map[string]interface{}{
		"error":  message,
		"status": statusCode,
	}

	if err != nil && h.config.Server.Debug {
		response["details"] = err.Error()
	}

	h.writeJSONResponse(w, statusCode, response)
}

// LoggingMiddleware logs HTTP requests
func (h *HTTPHandler) LoggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()

		next.ServeHTTP(w, r)

		h.logger.Info("HTTP request",
			"method", r.Method,
			"path", r.URL.Path,
			"remote_addr", r.RemoteAddr,
			"duration", time.Since(start))
	})
}
