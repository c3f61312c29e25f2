// Package handlers implements the HTTP handlers for the TripSage agent API.
package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog/log"

	"github.com/tripsage/tripsage-core/internal/agent"
	"github.com/tripsage/tripsage-core/internal/api/middleware"
	"github.com/tripsage/tripsage-core/internal/approvals"
	"github.com/tripsage/tripsage-core/internal/cerr"
	"github.com/tripsage/tripsage-core/internal/config"
	"github.com/tripsage/tripsage-core/internal/model"
	"github.com/tripsage/tripsage-core/internal/router"
	"github.com/tripsage/tripsage-core/internal/store"
	"github.com/tripsage/tripsage-core/internal/workflows"
	"github.com/tripsage/tripsage-core/pkg/models"
)

// maxBodyBytes caps request payloads.
const maxBodyBytes = 1 << 20

// Handlers holds all handler dependencies.
type Handlers struct {
	Workflows *workflows.Registry
	Approvals *approvals.Gate
	File      *config.File
	// Records backs the health check; nil skips it.
	Records store.RecordStore

	Model       model.LanguageModel
	RepairModel model.LanguageModel
	// ModelID overrides the id reported by Model, if set.
	ModelID string
}

// New creates a new Handlers instance.
func New(wf *workflows.Registry, gate *approvals.Gate, file *config.File, m model.LanguageModel) *Handlers {
	return &Handlers{
		Workflows: wf,
		Approvals: gate,
		File:      file,
		Model:     m,
	}
}

func (h *Handlers) deps(c middleware.Caller) agent.Dependencies {
	return agent.Dependencies{
		Model:       h.Model,
		RepairModel: h.RepairModel,
		ModelID:     h.ModelID,
		Identifier:  c.Identifier,
		UserID:      c.UserID,
		SessionID:   c.SessionID,
	}
}

// ══════════════════════════════════════════════════════════════
// ── Agent Handlers ───────────────────────────────────────────
// ══════════════════════════════════════════════════════════════

type agentInfo struct {
	Kind       models.WorkflowKind    `json:"kind"`
	Name       string                 `json:"name"`
	MinSteps   int                    `json:"minSteps"`
	Parameters models.AgentParameters `json:"parameters"`
}

// ListAgents returns every buildable workflow with its resolved parameters.
func (h *Handlers) ListAgents(w http.ResponseWriter, r *http.Request) {
	out := make([]agentInfo, 0, len(models.AllWorkflowKinds))
	for _, k := range models.AllWorkflowKinds {
		out = append(out, agentInfo{
			Kind:       k,
			Name:       workflows.DisplayName(k),
			MinSteps:   workflows.MinSteps(k),
			Parameters: h.File.AgentConfig(k).Resolve(),
		})
	}
	respondJSON(w, http.StatusOK, out)
}

// RunAgent builds the agent for {kind} from the request body and runs it.
// With ?stream=true the run is sent as server-sent events.
func (h *Handlers) RunAgent(w http.ResponseWriter, r *http.Request) {
	kind := chi.URLParam(r, "kind")
	if !workflows.IsSupportedKind(kind) {
		respondErr(w, cerr.Newf(cerr.WorkflowUnsupported, "unsupported workflow %q", kind))
		return
	}
	body, err := readBody(w, r)
	if err != nil {
		respondErr(w, err)
		return
	}

	caller := middleware.GetCaller(r.Context())
	wk := models.WorkflowKind(kind)
	built, err := h.Workflows.CreateAgentForWorkflow(r.Context(), wk, h.deps(caller), h.File.AgentConfig(wk), body)
	if err != nil {
		respondErr(w, err)
		return
	}

	if stream, _ := strconv.ParseBool(r.URL.Query().Get("stream")); stream {
		h.streamAgent(w, r, built.Agent)
		return
	}

	result, err := built.Agent.Generate(r.Context())
	if err != nil {
		respondErr(w, err)
		return
	}
	respondJSON(w, http.StatusOK, result)
}

func (h *Handlers) streamAgent(w http.ResponseWriter, r *http.Request, a *agent.Agent) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		respondErr(w, cerr.New(cerr.Internal, "streaming not supported", nil))
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no")
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	for ev := range a.Stream(r.Context()) {
		data, err := json.Marshal(ev)
		if err != nil {
			log.Error().Err(err).Str("event", string(ev.Type)).Msg("Failed to encode stream event")
			continue
		}
		if _, err := fmt.Fprintf(w, "id: %s\nevent: %s\ndata: %s\n\n", ev.ID, ev.Type, data); err != nil {
			// Client went away; Stream stops once the request context ends.
			log.Debug().Err(err).Msg("Stream write failed")
			continue
		}
		flusher.Flush()
	}
}

// ══════════════════════════════════════════════════════════════
// ── Router Handlers ──────────────────────────────────────────
// ══════════════════════════════════════════════════════════════

type classifyRequest struct {
	Message string `json:"message"`
}

// Classify picks the workflow for a user message.
func (h *Handlers) Classify(w http.ResponseWriter, r *http.Request) {
	var req classifyRequest
	if err := decodeJSON(w, r, &req); err != nil {
		respondErr(w, err)
		return
	}
	caller := middleware.GetCaller(r.Context())
	c, err := router.Classify(r.Context(), router.Deps{
		Model:      h.Model,
		Identifier: caller.Identifier,
		ModelID:    h.ModelID,
	}, req.Message)
	if err != nil {
		respondErr(w, err)
		return
	}
	respondJSON(w, http.StatusOK, c)
}

// ══════════════════════════════════════════════════════════════
// ── Approval Handlers ────────────────────────────────────────
// ══════════════════════════════════════════════════════════════

// ListApprovals returns approval records, optionally filtered by ?status=.
func (h *Handlers) ListApprovals(w http.ResponseWriter, r *http.Request) {
	status := models.ApprovalStatus(r.URL.Query().Get("status"))
	switch status {
	case "", models.ApprovalPending, models.ApprovalGranted, models.ApprovalDenied:
	default:
		respondErr(w, cerr.Newf(cerr.WorkflowBadRequest, "unknown approval status %q", status))
		return
	}
	limit := 100
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 {
			respondErr(w, cerr.Newf(cerr.WorkflowBadRequest, "invalid limit %q", v))
			return
		}
		limit = n
	}
	recs, err := h.Approvals.List(r.Context(), status, limit)
	if err != nil {
		respondErr(w, err)
		return
	}
	if recs == nil {
		recs = []models.ApprovalRecord{}
	}
	respondJSON(w, http.StatusOK, recs)
}

func (h *Handlers) GetApproval(w http.ResponseWriter, r *http.Request) {
	rec, err := h.Approvals.Get(r.Context(), chi.URLParam(r, "action"), chi.URLParam(r, "key"))
	if err != nil {
		respondErr(w, err)
		return
	}
	respondJSON(w, http.StatusOK, rec)
}

type resolveRequest struct {
	ApproverID string `json:"approverId"`
}

func (h *Handlers) GrantApproval(w http.ResponseWriter, r *http.Request) {
	h.resolveApproval(w, r, h.Approvals.Grant)
}

func (h *Handlers) DenyApproval(w http.ResponseWriter, r *http.Request) {
	h.resolveApproval(w, r, h.Approvals.Deny)
}

func (h *Handlers) resolveApproval(w http.ResponseWriter, r *http.Request, resolve func(context.Context, string, string, string) (*models.ApprovalRecord, error)) {
	var req resolveRequest
	if r.ContentLength != 0 {
		if err := decodeJSON(w, r, &req); err != nil {
			respondErr(w, err)
			return
		}
	}
	approver := req.ApproverID
	if approver == "" {
		caller := middleware.GetCaller(r.Context())
		approver = caller.UserID
		if approver == "" {
			approver = caller.Identifier
		}
	}
	rec, err := resolve(r.Context(), chi.URLParam(r, "action"), chi.URLParam(r, "key"), approver)
	if err != nil {
		respondErr(w, err)
		return
	}
	respondJSON(w, http.StatusOK, rec)
}

// ══════════════════════════════════════════════════════════════
// ── Helpers ──────────────────────────────────────────────────
// ══════════════════════════════════════════════════════════════

type errorBody struct {
	Code     cerr.Code              `json:"code"`
	Message  string                 `json:"message"`
	Approval *models.ApprovalRecord `json:"approval,omitempty"`
}

func respondJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

// respondErr maps err to its HTTP status. Only coded errors expose their
// message; anything else is reported as internal.
func respondErr(w http.ResponseWriter, err error) {
	body := errorBody{Code: cerr.Internal, Message: "internal error"}
	if e, ok := cerr.As(err); ok {
		body.Code = e.Code
		body.Message = e.Msg
	} else if errors.Is(err, context.Canceled) {
		body.Code = cerr.Canceled
		body.Message = "request canceled"
	}
	if rec, ok := approvals.PendingRecord(err); ok {
		body.Approval = rec
	}
	status := body.Code.HTTPCode()
	if status >= http.StatusInternalServerError {
		log.Error().Err(err).Str("code", string(body.Code)).Msg("Request failed")
	}
	respondJSON(w, status, map[string]errorBody{"error": body})
}

func readBody(w http.ResponseWriter, r *http.Request) (json.RawMessage, error) {
	data, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	if err != nil {
		return nil, cerr.New(cerr.WorkflowBadRequest, "request body too large or unreadable", err)
	}
	if len(data) == 0 {
		data = []byte("{}")
	}
	return data, nil
}

func decodeJSON(w http.ResponseWriter, r *http.Request, v interface{}) error {
	data, err := readBody(w, r)
	if err != nil {
		return err
	}
	if err := json.Unmarshal(data, v); err != nil {
		return cerr.New(cerr.WorkflowBadRequest, "invalid request body", err)
	}
	return nil
}
