package handlers

import (
	"context"
	"encoding/json"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/campusfriends/backend/internal/auth"
	"github.com/campusfriends/backend/internal/logging"
	"github.com/campusfriends/backend/internal/relationships"
)

const maxBodyBytes = 16 << 10

// RelationshipHandler exposes the relationship state machine to authenticated callers.
type RelationshipHandler struct {
	Service RelationshipService
	// Limiter guards request sends per caller.
	Limiter RateLimiter
}

// Status handles GET /api/v1/relationships/status.
func (h RelationshipHandler) Status(w http.ResponseWriter, r *http.Request) {
	ctx, callerID, ok := h.begin(w, r, http.MethodGet)
	if !ok {
		return
	}
	kind, err := relationships.ParseKind(r.URL.Query().Get("kind"))
	if err != nil {
		respondError(ctx, w, err)
		return
	}
	otherID := strings.TrimSpace(r.URL.Query().Get("user"))

	rel, err := h.Service.Status(ctx, kind, callerID, otherID)
	if err != nil {
		respondError(ctx, w, err)
		return
	}
	respondJSON(ctx, w, http.StatusOK, statusResponse{Kind: kind, UserID: otherID, Relationship: rel})
}

// SendRequest handles POST /api/v1/relationships/requests.
func (h RelationshipHandler) SendRequest(w http.ResponseWriter, r *http.Request) {
	ctx, callerID, ok := h.begin(w, r, http.MethodPost)
	if !ok {
		return
	}
	if !allowUser(h.Limiter, callerID, "send_request") {
		tooManyRequests(ctx, w)
		return
	}

	var req sendRequestBody
	if !decodeBody(ctx, w, r, &req) {
		return
	}
	kind, err := relationships.ParseKind(req.Kind)
	if err != nil {
		respondError(ctx, w, err)
		return
	}

	request, err := h.Service.SendRequest(ctx, kind, callerID, strings.TrimSpace(req.ReceiverID), req.Message)
	if err != nil {
		respondError(ctx, w, err)
		return
	}
	respondJSON(ctx, w, http.StatusCreated, requestResponse{Request: request})
}

// Requests serves /api/v1/relationships/requests: POST sends, GET lists.
func (h RelationshipHandler) Requests(w http.ResponseWriter, r *http.Request) {
	if r.Method == http.MethodPost {
		h.SendRequest(w, r)
		return
	}
	h.ListRequests(w, r)
}

// ListRequests handles GET /api/v1/relationships/requests.
func (h RelationshipHandler) ListRequests(w http.ResponseWriter, r *http.Request) {
	ctx, callerID, ok := h.begin(w, r, http.MethodGet)
	if !ok {
		return
	}
	query := r.URL.Query()
	kind, err := relationships.ParseKind(query.Get("kind"))
	if err != nil {
		respondError(ctx, w, err)
		return
	}
	direction, err := relationships.ParseDirection(query.Get("direction"))
	if err != nil {
		respondError(ctx, w, err)
		return
	}
	limit, ok := parseLimit(ctx, w, query.Get("limit"))
	if !ok {
		return
	}

	requests, err := h.Service.ListPending(ctx, kind, callerID, direction, limit)
	if err != nil {
		respondError(ctx, w, err)
		return
	}
	if requests == nil {
		requests = []relationships.RequestRecord{}
	}
	respondJSON(ctx, w, http.StatusOK, requestListResponse{Direction: direction, Requests: requests})
}

// CancelRequest handles POST /api/v1/relationships/requests/cancel.
func (h RelationshipHandler) CancelRequest(w http.ResponseWriter, r *http.Request) {
	ctx, callerID, ok := h.begin(w, r, http.MethodPost)
	if !ok {
		return
	}
	var req requestActionBody
	if !decodeBody(ctx, w, r, &req) {
		return
	}
	kind, err := relationships.ParseKind(req.Kind)
	if err != nil {
		respondError(ctx, w, err)
		return
	}

	if err := h.Service.CancelRequest(ctx, kind, strings.TrimSpace(req.RequestID), callerID); err != nil {
		respondError(ctx, w, err)
		return
	}
	respondJSON(ctx, w, http.StatusOK, map[string]string{"status": string(relationships.RequestCancelled)})
}

// RespondToRequest handles POST /api/v1/relationships/requests/respond.
func (h RelationshipHandler) RespondToRequest(w http.ResponseWriter, r *http.Request) {
	ctx, callerID, ok := h.begin(w, r, http.MethodPost)
	if !ok {
		return
	}
	var req requestActionBody
	if !decodeBody(ctx, w, r, &req) {
		return
	}
	kind, err := relationships.ParseKind(req.Kind)
	if err != nil {
		respondError(ctx, w, err)
		return
	}
	requestID := strings.TrimSpace(req.RequestID)

	switch strings.ToLower(strings.TrimSpace(req.Action)) {
	case "accept":
		edge, err := h.Service.AcceptRequest(ctx, kind, requestID, callerID)
		if err != nil {
			respondError(ctx, w, err)
			return
		}
		respondJSON(ctx, w, http.StatusOK, edgeResponse{
			Status: string(relationships.RequestAccepted),
			Edge:   newEdgeView(edge, callerID),
		})
	case "decline":
		if err := h.Service.DeclineRequest(ctx, kind, requestID, callerID); err != nil {
			respondError(ctx, w, err)
			return
		}
		respondJSON(ctx, w, http.StatusOK, map[string]string{"status": string(relationships.RequestDeclined)})
	default:
		badRequest(ctx, w, "action must be accept or decline")
	}
}

// RemoveEdge handles POST /api/v1/relationships/remove.
func (h RelationshipHandler) RemoveEdge(w http.ResponseWriter, r *http.Request) {
	ctx, callerID, ok := h.begin(w, r, http.MethodPost)
	if !ok {
		return
	}
	var req removeBody
	if !decodeBody(ctx, w, r, &req) {
		return
	}
	kind, err := relationships.ParseKind(req.Kind)
	if err != nil {
		respondError(ctx, w, err)
		return
	}

	if err := h.Service.RemoveEdge(ctx, kind, callerID, strings.TrimSpace(req.UserID), callerID); err != nil {
		respondError(ctx, w, err)
		return
	}
	respondJSON(ctx, w, http.StatusOK, map[string]string{"status": "removed"})
}

// ListEdges handles GET /api/v1/relationships/edges.
func (h RelationshipHandler) ListEdges(w http.ResponseWriter, r *http.Request) {
	ctx, callerID, ok := h.begin(w, r, http.MethodGet)
	if !ok {
		return
	}
	query := r.URL.Query()
	kind, err := relationships.ParseKind(query.Get("kind"))
	if err != nil {
		respondError(ctx, w, err)
		return
	}
	limit, ok := parseLimit(ctx, w, query.Get("limit"))
	if !ok {
		return
	}
	targetID := targetUser(query.Get("user"), callerID)

	page, err := h.Service.ListEdges(ctx, kind, callerID, targetID, limit, strings.TrimSpace(query.Get("after")))
	if err != nil {
		respondError(ctx, w, err)
		return
	}

	views := make([]edgeView, 0, len(page.Edges))
	for _, edge := range page.Edges {
		views = append(views, newEdgeView(edge, targetID))
	}
	respondJSON(ctx, w, http.StatusOK, edgeListResponse{Edges: views, Next: page.Next})
}

// Count handles GET /api/v1/relationships/count.
func (h RelationshipHandler) Count(w http.ResponseWriter, r *http.Request) {
	ctx, callerID, ok := h.begin(w, r, http.MethodGet)
	if !ok {
		return
	}
	kind, err := relationships.ParseKind(r.URL.Query().Get("kind"))
	if err != nil {
		respondError(ctx, w, err)
		return
	}
	targetID := targetUser(r.URL.Query().Get("user"), callerID)

	count, err := h.Service.EdgeCount(ctx, kind, callerID, targetID)
	if err != nil {
		respondError(ctx, w, err)
		return
	}
	respondJSON(ctx, w, http.StatusOK, countResponse{Kind: kind, UserID: targetID, Count: count})
}

// begin checks the method and resolves the authenticated caller.
func (h RelationshipHandler) begin(w http.ResponseWriter, r *http.Request, method string) (context.Context, string, bool) {
	ctx := r.Context()
	if r.Method != method {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return ctx, "", false
	}
	if h.Service == nil {
		logging.FromContext(ctx).Error("relationship service unavailable")
		respondJSON(ctx, w, http.StatusInternalServerError, errorResponse{Error: "relationship service unavailable", Code: "internal"})
		return ctx, "", false
	}
	callerID, ok := auth.UserIDFromContext(ctx)
	if !ok {
		respondJSON(ctx, w, http.StatusUnauthorized, errorResponse{Error: "authentication required", Code: "unauthorized"})
		return ctx, "", false
	}
	return ctx, callerID, true
}

func decodeBody(ctx context.Context, w http.ResponseWriter, r *http.Request, dst any) bool {
	decoder := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	decoder.DisallowUnknownFields()
	if err := decoder.Decode(dst); err != nil {
		logging.FromContext(ctx).Warn("invalid relationship payload", "error", err)
		badRequest(ctx, w, "invalid request body")
		return false
	}
	return true
}

func parseLimit(ctx context.Context, w http.ResponseWriter, raw string) (int, bool) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return 0, true
	}
	limit, err := strconv.Atoi(raw)
	if err != nil || limit < 0 {
		badRequest(ctx, w, "limit must be a non-negative integer")
		return 0, false
	}
	return limit, true
}

// targetUser defaults aggregate reads to the caller.
func targetUser(raw, callerID string) string {
	if id := strings.TrimSpace(raw); id != "" {
		return id
	}
	return callerID
}

type sendRequestBody struct {
	ReceiverID string `json:"receiverId"`
	Kind       string `json:"kind"`
	Message    string `json:"message"`
}

type requestActionBody struct {
	RequestID string `json:"requestId"`
	Kind      string `json:"kind"`
	Action    string `json:"action,omitempty"`
}

type removeBody struct {
	UserID string `json:"userId"`
	Kind   string `json:"kind"`
}

type statusResponse struct {
	Kind   relationships.Kind `json:"kind"`
	UserID string             `json:"userId"`
	relationships.Relationship
}

type requestResponse struct {
	Request relationships.RequestRecord `json:"request"`
}

type requestListResponse struct {
	Direction relationships.Direction       `json:"direction"`
	Requests  []relationships.RequestRecord `json:"requests"`
}

// edgeView presents an edge from one member's side.
type edgeView struct {
	ID        string             `json:"id"`
	Kind      relationships.Kind `json:"kind"`
	UserID    string             `json:"userId"`
	CreatedAt time.Time          `json:"createdAt"`
}

func newEdgeView(edge relationships.EdgeRecord, perspective string) edgeView {
	return edgeView{
		ID:        edge.ID,
		Kind:      edge.Kind,
		UserID:    edge.Pair.Other(perspective),
		CreatedAt: edge.CreatedAt,
	}
}

type edgeResponse struct {
	Status string   `json:"status"`
	Edge   edgeView `json:"edge"`
}

type edgeListResponse struct {
	Edges []edgeView `json:"edges"`
	Next  string     `json:"next,omitempty"`
}

type countResponse struct {
	Kind   relationships.Kind `json:"kind"`
	UserID string             `json:"userId"`
	Count  int                `json:"count"`
}
