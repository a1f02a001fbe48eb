package auth

import (
	"encoding/json"
	"net/http"

	"github.com/frahmantamala/memory-permissions/internal"
	"github.com/frahmantamala/memory-permissions/internal/transport"
	"github.com/frahmantamala/memory-permissions/pkg/logger"
)

type Handler struct {
	*transport.BaseHandler
	Service ServiceAPI
}

func NewHandler(svc ServiceAPI) *Handler {
	return &Handler{
		BaseHandler: transport.NewBaseHandler(logger.LoggerWrapper()),
		Service:     svc,
	}
}

// Register handles POST /auth/register
func (h *Handler) Register(w http.ResponseWriter, r *http.Request) {
	var dto RegisterDTO
	if err := json.NewDecoder(r.Body).Decode(&dto); err != nil {
		h.WriteError(w, http.StatusBadRequest, internal.ErrInvalidRequestBody.Message)
		return
	}

	result, err := h.Service.Register(r.Context(), dto)
	if err != nil {
		h.HandleServiceError(w, err, http.StatusBadRequest)
		return
	}

	h.WriteSuccess(w, http.StatusCreated, result)
}

// Login handles POST /auth/login
func (h *Handler) Login(w http.ResponseWriter, r *http.Request) {
	var dto LoginDTO
	if err := json.NewDecoder(r.Body).Decode(&dto); err != nil {
		h.WriteError(w, http.StatusUnauthorized, internal.ErrInvalidRequestBody.Message)
		return
	}

	result, err := h.Service.Login(r.Context(), dto)
	if err != nil {
		h.HandleServiceError(w, err, http.StatusUnauthorized)
		return
	}

	h.WriteSuccess(w, http.StatusOK, result)
}

// VerifyToken handles GET /auth/verify-token
func (h *Handler) VerifyToken(w http.ResponseWriter, r *http.Request) {
	u, err := h.Service.VerifyToken(r.Context(), h.ExtractTokenFromHeader(r))
	if err != nil {
		h.HandleServiceError(w, err, http.StatusUnauthorized)
		return
	}

	h.WriteSuccess(w, http.StatusOK, VerifyResponse{User: u})
}

// Logout handles POST /auth/logout. It answers 200 with or without a token.
func (h *Handler) Logout(w http.ResponseWriter, r *http.Request) {
	if err := h.Service.Logout(r.Context(), h.ExtractTokenFromHeader(r)); err != nil {
		h.HandleServiceError(w, err, http.StatusBadRequest)
		return
	}

	h.WriteSuccess(w, http.StatusOK, LogoutResponse{Message: "logged out"})
}

// AuthMiddleware rejects requests without a valid bearer token and stores the
// resolved identity in the request context.
func (h *Handler) AuthMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		u, err := h.Service.VerifyToken(r.Context(), h.ExtractTokenFromHeader(r))
		if err != nil {
			h.HandleServiceError(w, err, http.StatusUnauthorized)
			return
		}

		ctx := internal.ContextWithUser(r.Context(), &internal.User{ID: u.ID, Email: u.Email})
		ctx = logger.With(ctx, "user_id", u.ID)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}
