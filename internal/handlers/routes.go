package handlers

import (
	"context"
	"net/http"

	"github.com/campusfriends/backend/internal/middleware"
)

// RegisterRoutes wires HTTP handlers into the provided ServeMux.
func RegisterRoutes(mux *http.ServeMux, deps Dependencies) {
	health := HealthHandler{Check: deps.HealthCheck}
	auth := AuthHandler{Users: deps.Users, Sessions: deps.Sessions, Limiter: deps.AuthLimiter}
	rel := RelationshipHandler{Service: deps.Relationships, Limiter: deps.SendLimiter}
	stream := StreamHandler{Changes: deps.Changes, CheckOrigin: deps.CheckOrigin}

	mux.HandleFunc("/healthz", health.Handle)
	mux.HandleFunc("/api/v1/auth/login", auth.Login)
	mux.HandleFunc("/api/v1/auth/signup", auth.SignUp)
	mux.HandleFunc("/api/v1/auth/refresh", auth.Refresh)

	protected := func(h http.HandlerFunc) http.Handler {
		if deps.Verifier == nil {
			return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				respondJSON(r.Context(), w, http.StatusServiceUnavailable, errorResponse{Error: "authentication unavailable", Code: "unavailable"})
			})
		}
		return middleware.Authenticate(deps.Verifier)(h)
	}

	mux.Handle("/api/v1/relationships/status", protected(rel.Status))
	mux.Handle("/api/v1/relationships/requests", protected(rel.Requests))
	mux.Handle("/api/v1/relationships/requests/cancel", protected(rel.CancelRequest))
	mux.Handle("/api/v1/relationships/requests/respond", protected(rel.RespondToRequest))
	mux.Handle("/api/v1/relationships/remove", protected(rel.RemoveEdge))
	mux.Handle("/api/v1/relationships/edges", protected(rel.ListEdges))
	mux.Handle("/api/v1/relationships/count", protected(rel.Count))
	mux.Handle("/api/v1/relationships/stream", protected(stream.Handle))
}

// Dependencies aggregates collaborators required by HTTP handlers.
type Dependencies struct {
	Users         UserStore
	Sessions      SessionManager
	Verifier      middleware.TokenVerifier
	Relationships RelationshipService
	Changes       ChangeSubscriber
	AuthLimiter   RateLimiter
	SendLimiter   RateLimiter
	HealthCheck   func(ctx context.Context) error
	CheckOrigin   func(r *http.Request) bool
}
