package handler

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/pool-rewards/internal/domain"
	"github.com/pool-rewards/internal/service"
	"github.com/pool-rewards/internal/websocket"
)

// Handler provides HTTP handlers for the reward API
type Handler struct {
	service *service.RewardService
	hub     *websocket.Hub
	logger  *slog.Logger
}

// NewHandler creates a new HTTP handler
func NewHandler(service *service.RewardService, hub *websocket.Hub, logger *slog.Logger) *Handler {
	return &Handler{
		service: service,
		hub:     hub,
		logger:  logger,
	}
}

// APIResponse represents a standard API response
type APIResponse struct {
	Success bool        `json:"success"`
	Data    interface{} `json:"data,omitempty"`
	Error   string      `json:"error,omitempty"`
}

// Router creates and configures the HTTP router
func (h *Handler) Router() http.Handler {
	r := chi.NewRouter()

	// Middleware
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Compress(5))
	r.Use(corsMiddleware)

	// Health check
	r.Get("/health", h.HealthCheck)
	r.Get("/ready", h.ReadyCheck)

	// WebSocket endpoint
	r.Get("/ws", h.HandleWebSocket)

	// API v1 routes
	r.Route("/api/v1", func(r chi.Router) {
		// Pool operations
		r.Route("/pools", func(r chi.Router) {
			r.Post("/", h.CreatePool)
			r.Get("/", h.ListPools)

			r.Route("/{poolID}", func(r chi.Router) {
				r.Get("/", h.GetPool)
				r.Post("/contribute", h.Contribute)
			})
		})

		// Challenge operations
		r.Route("/challenges/{challengeID}", func(r chi.Router) {
			r.Get("/pool", h.GetChallengePool)
			r.Post("/close", h.CloseChallenge)
		})

		// User operations
		r.Route("/users/{userID}", func(r chi.Router) {
			r.Get("/rank", h.GetUserRank)
			r.Get("/balance", h.GetBalance)
			r.Get("/tokens", h.GetUserTokenRank)
			r.Get("/contributions", h.GetUserContributions)
		})

		// Badge and leaderboard views
		r.Get("/badges", h.GetBadges)
		r.Get("/leaderboard/tokens", h.GetTokenLeaderboard)

		// WebSocket info endpoint
		r.Get("/ws/stats", h.GetWebSocketStats)
	})

	return r
}

// corsMiddleware adds CORS headers
func corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, PUT, DELETE, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Accept, Authorization, Content-Type, X-Request-ID")

		if r.Method == "OPTIONS" {
			w.WriteHeader(http.StatusOK)
			return
		}

		next.ServeHTTP(w, r)
	})
}

// writeJSON writes a JSON response
func (h *Handler) writeJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

// writeSuccess writes a successful JSON response
func (h *Handler) writeSuccess(w http.ResponseWriter, data interface{}) {
	h.writeJSON(w, http.StatusOK, APIResponse{
		Success: true,
		Data:    data,
	})
}

// writeError writes an error JSON response
func (h *Handler) writeError(w http.ResponseWriter, status int, err error) {
	h.writeJSON(w, status, APIResponse{
		Success: false,
		Error:   err.Error(),
	})
}

// writeDomainError maps a domain error to an HTTP status
func (h *Handler) writeDomainError(w http.ResponseWriter, err error) {
	switch {
	case domain.IsValidationError(err):
		h.writeError(w, http.StatusBadRequest, err)
	case domain.IsNotFoundError(err):
		h.writeError(w, http.StatusNotFound, err)
	case domain.IsConflictError(err):
		h.writeError(w, http.StatusConflict, err)
	default:
		h.logger.Error("internal error", "error", err)
		h.writeError(w, http.StatusInternalServerError, domain.ErrInternalError)
	}
}

// HandleWebSocket handles WebSocket upgrade requests
func (h *Handler) HandleWebSocket(w http.ResponseWriter, r *http.Request) {
	websocket.ServeWs(h.hub, h.logger, w, r)
}

// GetWebSocketStats returns WebSocket connection statistics
func (h *Handler) GetWebSocketStats(w http.ResponseWriter, r *http.Request) {
	h.writeSuccess(w, map[string]interface{}{
		"total_connections": h.hub.GetTotalConnections(),
	})
}

// HealthCheck returns service health status
func (h *Handler) HealthCheck(w http.ResponseWriter, r *http.Request) {
	h.writeSuccess(w, map[string]string{"status": "healthy"})
}

// ReadyCheck returns service readiness status
func (h *Handler) ReadyCheck(w http.ResponseWriter, r *http.Request) {
	h.writeSuccess(w, map[string]string{"status": "ready"})
}

// CreatePool handles pool creation for a challenge
func (h *Handler) CreatePool(w http.ResponseWriter, r *http.Request) {
	var req domain.CreatePoolRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeError(w, http.StatusBadRequest, domain.ErrInvalidRequest)
		return
	}

	p, err := h.service.CreatePool(r.Context(), req)
	if err != nil {
		h.writeDomainError(w, err)
		return
	}

	h.writeJSON(w, http.StatusCreated, APIResponse{
		Success: true,
		Data:    p,
	})
}

// ListPools returns all pools
func (h *Handler) ListPools(w http.ResponseWriter, r *http.Request) {
	h.writeSuccess(w, h.service.ListPools(r.Context()))
}

// GetPool returns a pool snapshot
func (h *Handler) GetPool(w http.ResponseWriter, r *http.Request) {
	poolID := chi.URLParam(r, "poolID")
	if poolID == "" {
		h.writeError(w, http.StatusBadRequest, domain.ErrInvalidRequest)
		return
	}

	p, err := h.service.GetPool(r.Context(), poolID)
	if err != nil {
		h.writeDomainError(w, err)
		return
	}

	h.writeSuccess(w, p)
}

// Contribute handles a contribution to a pool
func (h *Handler) Contribute(w http.ResponseWriter, r *http.Request) {
	poolID := chi.URLParam(r, "poolID")
	if poolID == "" {
		h.writeError(w, http.StatusBadRequest, domain.ErrInvalidRequest)
		return
	}

	var req domain.ContributionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeError(w, http.StatusBadRequest, domain.ErrInvalidRequest)
		return
	}
	req.PoolID = poolID

	if req.UserID == "" {
		h.writeError(w, http.StatusBadRequest, domain.ErrInvalidRequest)
		return
	}

	p, contribution, err := h.service.Contribute(r.Context(), req)
	if err != nil {
		h.writeDomainError(w, err)
		return
	}

	h.writeSuccess(w, map[string]interface{}{
		"pool_id":         p.ID,
		"total_amount":    p.TotalAmount,
		"contribution_id": contribution.ID,
	})
}

// GetChallengePool returns the pool attached to a challenge
func (h *Handler) GetChallengePool(w http.ResponseWriter, r *http.Request) {
	challengeID := chi.URLParam(r, "challengeID")
	if challengeID == "" {
		h.writeError(w, http.StatusBadRequest, domain.ErrInvalidRequest)
		return
	}

	p, err := h.service.GetPoolByChallenge(r.Context(), challengeID)
	if err != nil {
		h.writeDomainError(w, err)
		return
	}

	h.writeSuccess(w, p)
}

// CloseChallenge settles a challenge's pool with the final ranking
func (h *Handler) CloseChallenge(w http.ResponseWriter, r *http.Request) {
	challengeID := chi.URLParam(r, "challengeID")
	if challengeID == "" {
		h.writeError(w, http.StatusBadRequest, domain.ErrInvalidRequest)
		return
	}

	var req domain.CloseChallengeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeError(w, http.StatusBadRequest, domain.ErrInvalidRequest)
		return
	}

	plan, err := h.service.CloseChallenge(r.Context(), challengeID, req.RankedParticipants)
	if err != nil {
		h.writeDomainError(w, err)
		return
	}

	h.writeSuccess(w, plan)
}

// GetUserRank returns a user's rank snapshot
func (h *Handler) GetUserRank(w http.ResponseWriter, r *http.Request) {
	userID := chi.URLParam(r, "userID")
	if userID == "" {
		h.writeError(w, http.StatusBadRequest, domain.ErrInvalidRequest)
		return
	}

	h.writeSuccess(w, h.service.GetUserRank(r.Context(), userID))
}

// GetBalance returns a user's ledger balance
func (h *Handler) GetBalance(w http.ResponseWriter, r *http.Request) {
	userID := chi.URLParam(r, "userID")
	if userID == "" {
		h.writeError(w, http.StatusBadRequest, domain.ErrInvalidRequest)
		return
	}

	h.writeSuccess(w, map[string]interface{}{
		"user_id": userID,
		"balance": h.service.GetBalance(r.Context(), userID),
	})
}

// GetUserTokenRank returns a user's token leaderboard position
func (h *Handler) GetUserTokenRank(w http.ResponseWriter, r *http.Request) {
	userID := chi.URLParam(r, "userID")
	if userID == "" {
		h.writeError(w, http.StatusBadRequest, domain.ErrInvalidRequest)
		return
	}

	entry, err := h.service.GetUserTokenRank(r.Context(), userID)
	if err != nil {
		h.writeDomainError(w, err)
		return
	}

	h.writeSuccess(w, entry)
}

// GetUserContributions returns a user's contribution history
func (h *Handler) GetUserContributions(w http.ResponseWriter, r *http.Request) {
	userID := chi.URLParam(r, "userID")
	if userID == "" {
		h.writeError(w, http.StatusBadRequest, domain.ErrInvalidRequest)
		return
	}

	limit := 0
	if limitStr := r.URL.Query().Get("limit"); limitStr != "" {
		if l, err := strconv.Atoi(limitStr); err == nil && l > 0 {
			limit = l
		}
	}

	contributions, err := h.service.GetUserContributions(r.Context(), userID, limit)
	if err != nil {
		h.logger.Error("failed to get user contributions", "error", err)
		h.writeError(w, http.StatusInternalServerError, domain.ErrInternalError)
		return
	}

	h.writeSuccess(w, contributions)
}

// GetBadges returns the configured badge set
func (h *Handler) GetBadges(w http.ResponseWriter, r *http.Request) {
	h.writeSuccess(w, h.service.Badges(r.Context()))
}

// GetTokenLeaderboard returns the top earners by cumulative tokens
func (h *Handler) GetTokenLeaderboard(w http.ResponseWriter, r *http.Request) {
	limit := 10
	if limitStr := r.URL.Query().Get("limit"); limitStr != "" {
		if l, err := strconv.Atoi(limitStr); err == nil && l > 0 {
			limit = l
		}
	}

	entries, err := h.service.GetTopEarners(r.Context(), limit)
	if err != nil {
		h.logger.Error("failed to get token leaderboard", "error", err)
		h.writeError(w, http.StatusInternalServerError, domain.ErrInternalError)
		return
	}

	h.writeSuccess(w, entries)
}
