package permission

import (
	"context"
	"encoding/json"
	"net/http"
	"strconv"
	"strings"

	"github.com/frahmantamala/memory-permissions/internal"
	"github.com/frahmantamala/memory-permissions/internal/transport"
	"github.com/frahmantamala/memory-permissions/internal/user"
	"github.com/frahmantamala/memory-permissions/pkg/logger"
	"github.com/go-chi/chi"
)

// UserResolver turns an email given in place of a user id into the account.
type UserResolver interface {
	GetUserByEmail(ctx context.Context, email string) (*user.User, error)
}

type Handler struct {
	*transport.BaseHandler
	Service ServiceAPI
	Users   UserResolver
}

func NewHandler(svc ServiceAPI, users UserResolver) *Handler {
	return &Handler{
		BaseHandler: transport.NewBaseHandler(logger.LoggerWrapper()),
		Service:     svc,
		Users:       users,
	}
}

// Assign handles POST /permissions and POST /memory/{memoryId}/permissions
func (h *Handler) Assign(w http.ResponseWriter, r *http.Request) {
	actor, ok := h.actor(w, r)
	if !ok {
		return
	}

	var dto AssignDTO
	if err := json.NewDecoder(r.Body).Decode(&dto); err != nil {
		h.WriteError(w, http.StatusBadRequest, internal.ErrInvalidRequestBody.Message)
		return
	}

	change, kinds, err := h.prepare(r.Context(), dto.normalize(chi.URLParam(r, "memoryId")))
	if err != nil {
		h.HandleServiceError(w, err, http.StatusBadRequest)
		return
	}

	grant, err := h.Service.Assign(r.Context(), change.MemoryID, change.UserID, actor.ID, kinds)
	if err != nil {
		h.HandleServiceError(w, err, http.StatusBadRequest)
		return
	}

	h.WriteSuccess(w, http.StatusOK, grant)
}

// Revoke handles DELETE /permissions and DELETE /memory/{memoryId}/permissions.
// data is null when the grant was removed entirely.
func (h *Handler) Revoke(w http.ResponseWriter, r *http.Request) {
	if _, ok := h.actor(w, r); !ok {
		return
	}

	var dto RevokeDTO
	if err := json.NewDecoder(r.Body).Decode(&dto); err != nil {
		h.WriteError(w, http.StatusBadRequest, internal.ErrInvalidRequestBody.Message)
		return
	}

	change, kinds, err := h.prepare(r.Context(), dto.normalize(chi.URLParam(r, "memoryId")))
	if err != nil {
		h.HandleServiceError(w, err, http.StatusBadRequest)
		return
	}

	grant, err := h.Service.Revoke(r.Context(), change.MemoryID, change.UserID, kinds)
	if err != nil {
		h.HandleServiceError(w, err, http.StatusBadRequest)
		return
	}

	if grant == nil {
		h.WriteSuccess(w, http.StatusOK, nil)
		return
	}
	h.WriteSuccess(w, http.StatusOK, grant)
}

// ListMine handles GET /permissions and GET /permissions/getByUserId
func (h *Handler) ListMine(w http.ResponseWriter, r *http.Request) {
	actor, ok := h.actor(w, r)
	if !ok {
		return
	}

	grants, err := h.Service.ListUserGrants(r.Context(), actor.ID)
	if err != nil {
		h.HandleServiceError(w, err, http.StatusBadRequest)
		return
	}
	h.WriteSuccess(w, http.StatusOK, grants)
}

func (h *Handler) Available(w http.ResponseWriter, r *http.Request) {
	h.WriteSuccess(w, http.StatusOK, h.Service.AvailablePermissions())
}

// MemoryPermissions handles GET /memory/{memoryId}/permissions for the caller.
func (h *Handler) MemoryPermissions(w http.ResponseWriter, r *http.Request) {
	actor, ok := h.actor(w, r)
	if !ok {
		return
	}

	memoryID := strings.TrimSpace(chi.URLParam(r, "memoryId"))
	if memoryID == "" {
		h.HandleServiceError(w, internal.ErrResourceRequired, http.StatusBadRequest)
		return
	}

	kinds, err := h.Service.GetUserPermissions(r.Context(), actor.ID, memoryID)
	if err != nil {
		h.HandleServiceError(w, err, http.StatusBadRequest)
		return
	}
	h.WriteSuccess(w, http.StatusOK, MemoryPermissionsResponse{MemoryID: memoryID, Permissions: kinds})
}

// GetByMemoryIDs handles POST /permissions/getByMemoryIds with a JSON array of ids.
func (h *Handler) GetByMemoryIDs(w http.ResponseWriter, r *http.Request) {
	actor, ok := h.actor(w, r)
	if !ok {
		return
	}

	var ids []string
	if err := json.NewDecoder(r.Body).Decode(&ids); err != nil {
		h.HandleServiceError(w, internal.ErrInvalidRequestBody, http.StatusBadRequest)
		return
	}

	grants, err := h.Service.GetGrantsByResourceIDs(r.Context(), actor.ID, ids)
	if err != nil {
		h.HandleServiceError(w, err, http.StatusBadRequest)
		return
	}
	h.WriteSuccess(w, http.StatusOK, grants)
}

// SearchUsers handles GET /users/search?email=&page=&pageSize=
func (h *Handler) SearchUsers(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	result, err := h.Service.SearchUsersByEmail(r.Context(), q.Get("email"), atoiOrZero(q.Get("page")), atoiOrZero(q.Get("pageSize")))
	if err != nil {
		h.HandleServiceError(w, err, http.StatusBadRequest)
		return
	}
	h.WriteSuccess(w, http.StatusOK, result)
}

func (h *Handler) actor(w http.ResponseWriter, r *http.Request) (*internal.User, bool) {
	u, ok := internal.UserFromContext(r.Context())
	if !ok {
		h.WriteError(w, http.StatusUnauthorized, internal.ErrMissingToken.Message)
		return nil, false
	}
	return u, true
}

// prepare validates the request shape, parses the kinds and resolves an email
// given as userId.
func (h *Handler) prepare(ctx context.Context, change grantChange) (grantChange, Set, error) {
	if err := change.validate(); err != nil {
		return change, nil, err
	}

	kinds, err := ParseKinds(change.Permissions)
	if err != nil {
		return change, nil, err
	}

	if strings.Contains(change.UserID, "@") {
		u, err := h.Users.GetUserByEmail(ctx, change.UserID)
		if err != nil {
			return change, nil, err
		}
		if u == nil {
			return change, nil, internal.ErrUserNotFound
		}
		change.UserID = u.ID
	}
	return change, kinds, nil
}

func atoiOrZero(s string) int {
	n, err := strconv.Atoi(s)
	if err != nil {
		return 0
	}
	return n
}
