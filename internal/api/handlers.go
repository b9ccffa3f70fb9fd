package api

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/BTreeMap/LeadPipe/internal/flow"
	"github.com/BTreeMap/LeadPipe/internal/models"
	"github.com/go-chi/chi/v5"
)

// maxFlowDocumentBytes caps uploaded flow documents.
const maxFlowDocumentBytes = 1 << 20

// ChatRequest is the body of POST /tenants/{tenant}/chat.
type ChatRequest struct {
	SenderID string `json:"sender_id"`
	Text     string `json:"text"`
	Domain   string `json:"domain,omitempty"`
}

// ChatReply is the result of a chat turn.
type ChatReply struct {
	Message string `json:"message"`
	Stage   string `json:"stage,omitempty"`
	Steps   int    `json:"steps"`
	Outcome string `json:"outcome"`
}

func (s *Server) chatHandler(w http.ResponseWriter, r *http.Request) {
	tenantID := chi.URLParam(r, "tenant")
	var req ChatRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		slog.Warn("Server.chatHandler: failed to decode JSON", "error", err)
		writeJSONResponse(w, http.StatusBadRequest, models.Error("Invalid JSON format"))
		return
	}
	domain := s.domain
	if req.Domain != "" {
		domain = models.ParseDomain(req.Domain)
	}

	ctx, cancel := context.WithTimeout(r.Context(), s.timeout)
	defer cancel()
	res, err := s.turns.HandleTurn(ctx, flow.Turn{TenantID: tenantID, SenderID: req.SenderID, Text: req.Text, Domain: domain})
	if err != nil {
		if errors.Is(err, models.ErrEmptyTenant) || errors.Is(err, models.ErrEmptySender) {
			writeJSONResponse(w, http.StatusBadRequest, models.Error(err.Error()))
			return
		}
		slog.Error("Server.chatHandler: turn failed", "error", err, "tenantID", tenantID)
		writeJSONResponse(w, http.StatusInternalServerError, models.Error("Failed to process message"))
		return
	}

	reply := ChatReply{Message: res.Message, Steps: res.Steps, Outcome: res.Outcome}
	if res.State != nil {
		reply.Stage = res.State.Stage
	}
	slog.Debug("Server.chatHandler succeeded", "tenantID", tenantID, "senderID", req.SenderID, "outcome", res.Outcome)
	writeJSONResponse(w, http.StatusOK, models.Success(reply))
}

// readFlowDocument parses a JSON or YAML flow document from the request body. On failure
// the response has already been written.
func readFlowDocument(w http.ResponseWriter, r *http.Request) (*models.FlowDefinition, bool) {
	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxFlowDocumentBytes))
	if err != nil {
		writeJSONResponse(w, http.StatusRequestEntityTooLarge, models.Error("Flow document too large"))
		return nil, false
	}
	def, err := models.ParseFlowDocument(body)
	if err != nil {
		writeFlowError(w, err)
		return nil, false
	}
	return def, true
}

func writeFlowError(w http.ResponseWriter, err error) {
	if ve, ok := models.AsValidationError(err); ok {
		writeJSONResponse(w, http.StatusUnprocessableEntity, models.Invalid("Invalid flow definition", ve.Messages()))
		return
	}
	if errors.Is(err, models.ErrInvalidFlowDefinition) {
		writeJSONResponse(w, http.StatusUnprocessableEntity, models.Invalid("Invalid flow definition", []string{err.Error()}))
		return
	}
	if errors.Is(err, models.ErrFlowNotFound) {
		writeJSONResponse(w, http.StatusNotFound, models.Error(err.Error()))
		return
	}
	slog.Error("flow request failed", "error", err)
	writeJSONResponse(w, http.StatusInternalServerError, models.Error("Failed to process flow definition"))
}

func (s *Server) validateFlowHandler(w http.ResponseWriter, r *http.Request) {
	def, ok := readFlowDocument(w, r)
	if !ok {
		return
	}
	writeJSONResponse(w, http.StatusOK, models.SuccessWithMessage("Flow definition is valid", map[string]any{
		"start": def.Start,
		"nodes": len(def.Nodes),
	}))
}

func (s *Server) saveFlowHandler(w http.ResponseWriter, r *http.Request) {
	if s.flows == nil {
		writeJSONResponse(w, http.StatusNotImplemented, models.Error("Flow storage not configured"))
		return
	}
	def, ok := readFlowDocument(w, r)
	if !ok {
		return
	}
	tenantID := chi.URLParam(r, "tenant")
	domain := models.ParseDomain(chi.URLParam(r, "domain"))
	version, err := s.flows.SaveFlowDefinition(r.Context(), tenantID, domain, def)
	if err != nil {
		writeFlowError(w, err)
		return
	}
	slog.Info("Server.saveFlowHandler: flow saved", "tenantID", tenantID, "domain", domain, "version", version)
	writeJSONResponse(w, http.StatusCreated, models.SuccessWithMessage("Flow definition saved", map[string]int{"version": version}))
}

func (s *Server) publishFlowHandler(w http.ResponseWriter, r *http.Request) {
	if s.flows == nil {
		writeJSONResponse(w, http.StatusNotImplemented, models.Error("Flow storage not configured"))
		return
	}
	version, err := strconv.Atoi(chi.URLParam(r, "version"))
	if err != nil || version <= 0 {
		writeJSONResponse(w, http.StatusBadRequest, models.Error("Invalid version"))
		return
	}
	tenantID := chi.URLParam(r, "tenant")
	domain := models.ParseDomain(chi.URLParam(r, "domain"))
	if err := s.flows.PublishFlowDefinition(r.Context(), tenantID, domain, version); err != nil {
		writeFlowError(w, err)
		return
	}
	slog.Info("Server.publishFlowHandler: flow published", "tenantID", tenantID, "domain", domain, "version", version)
	writeJSONResponse(w, http.StatusOK, models.SuccessWithMessage("Flow definition published", nil))
}

func (s *Server) listFlowsHandler(w http.ResponseWriter, r *http.Request) {
	if s.flows == nil {
		writeJSONResponse(w, http.StatusNotImplemented, models.Error("Flow storage not configured"))
		return
	}
	records, err := s.flows.ListFlowDefinitions(r.Context(), chi.URLParam(r, "tenant"))
	if err != nil {
		writeFlowError(w, err)
		return
	}
	writeJSONResponse(w, http.StatusOK, models.Success(records))
}

func (s *Server) getLeadHandler(w http.ResponseWriter, r *http.Request) {
	if s.leads == nil {
		writeJSONResponse(w, http.StatusNotImplemented, models.Error("Lead storage not configured"))
		return
	}
	lead, err := s.leads.GetLead(r.Context(), chi.URLParam(r, "tenant"), chi.URLParam(r, "phone"))
	if err != nil {
		if errors.Is(err, models.ErrLeadNotFound) {
			writeJSONResponse(w, http.StatusNotFound, models.Error(err.Error()))
			return
		}
		slog.Error("Server.getLeadHandler failed", "error", err)
		writeJSONResponse(w, http.StatusInternalServerError, models.Error("Failed to fetch lead"))
		return
	}
	writeJSONResponse(w, http.StatusOK, models.Success(lead))
}

func (s *Server) healthHandler(w http.ResponseWriter, r *http.Request) {
	writeJSONResponse(w, http.StatusOK, map[string]any{
		"status":    "healthy",
		"timestamp": time.Now().UTC().Format(time.RFC3339),
	})
}
