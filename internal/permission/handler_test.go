package permission_test

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"

	"github.com/frahmantamala/memory-permissions/internal"
	"github.com/frahmantamala/memory-permissions/internal/permission"
	permissionPostgres "github.com/frahmantamala/memory-permissions/internal/permission/postgres"
	"github.com/frahmantamala/memory-permissions/internal/user"
	userPostgres "github.com/frahmantamala/memory-permissions/internal/user/postgres"
	"github.com/frahmantamala/memory-permissions/pkg/logger"
	"github.com/go-chi/chi"
	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
)

type repoResolver struct {
	repo user.RepositoryAPI
}

func (r repoResolver) GetUserByEmail(ctx context.Context, email string) (*user.User, error) {
	row, err := r.repo.GetByEmail(ctx, user.NormalizeEmail(email))
	if err != nil {
		return nil, err
	}
	return user.FromDataModel(row), nil
}

type envelope struct {
	Success bool            `json:"success"`
	Message string          `json:"message"`
	Data    json.RawMessage `json:"data"`
}

var _ = Describe("Permission Handler", func() {
	var (
		router *chi.Mux
		owner  *user.User
		other  *user.User
	)

	do := func(method, path, body string, actor *user.User) (int, envelope) {
		var reader io.Reader
		if body != "" {
			reader = bytes.NewBufferString(body)
		}
		req := httptest.NewRequest(method, path, reader)
		if actor != nil {
			req = req.WithContext(internal.ContextWithUser(req.Context(), &internal.User{ID: actor.ID, Email: actor.Email}))
		}
		rec := httptest.NewRecorder()
		router.ServeHTTP(rec, req)

		var env envelope
		Expect(json.Unmarshal(rec.Body.Bytes(), &env)).To(Succeed())
		return rec.Code, env
	}

	decodeGrant := func(env envelope) permission.Grant {
		var g permission.Grant
		Expect(json.Unmarshal(env.Data, &g)).To(Succeed())
		return g
	}

	BeforeEach(func() {
		db := openTestDB()
		users := userPostgres.NewUserRepository(db)
		svc := permission.NewService(permissionPostgres.NewPermissionRepository(db), users, nil, nil, permission.Options{}, logger.Discard())
		h := permission.NewHandler(svc, repoResolver{repo: users})
		h.Logger = logger.Discard()

		owner = seedUser(users, "owner@email.com")
		other = seedUser(users, "other@email.com")

		router = chi.NewRouter()
		router.Get("/permissions", h.ListMine)
		router.Get("/permissions/available", h.Available)
		router.Post("/permissions", h.Assign)
		router.Delete("/permissions", h.Revoke)
		router.Post("/permissions/getByMemoryIds", h.GetByMemoryIDs)
		router.Get("/users/search", h.SearchUsers)
		router.Post("/memory/{memoryId}/permissions", h.Assign)
		router.Delete("/memory/{memoryId}/permissions", h.Revoke)
		router.Get("/memory/{memoryId}/permissions", h.MemoryPermissions)
	})

	Describe("assign", func() {
		It("grants kinds with the caller as grantor", func() {
			code, env := do(http.MethodPost, "/permissions", `{"memoryId":"M1","userId":"`+other.ID+`","permissions":["Edit"]}`, owner)
			Expect(code).To(Equal(http.StatusOK))
			Expect(env.Success).To(BeTrue())

			g := decodeGrant(env)
			Expect(g.UserID).To(Equal(other.ID))
			Expect(g.AssignedBy).To(Equal(owner.ID))
			Expect(g.Permissions).To(Equal(permission.Set{permission.KindEdit}))

			code, env = do(http.MethodGet, "/memory/M1/permissions", "", other)
			Expect(code).To(Equal(http.StatusOK))
			var resp permission.MemoryPermissionsResponse
			Expect(json.Unmarshal(env.Data, &resp)).To(Succeed())
			Expect(resp.Permissions).To(Equal(permission.Set{permission.KindEdit}))
		})

		It("accepts resourceId, the path parameter and an email as userId", func() {
			code, _ := do(http.MethodPost, "/permissions", `{"resourceId":"R1","userId":"OTHER@email.com","permissions":["Eliminar"]}`, owner)
			Expect(code).To(Equal(http.StatusOK))

			code, env := do(http.MethodPost, "/memory/P1/permissions", `{"memoryId":"ignored","userId":"other@email.com","permissions":["Owner"]}`, owner)
			Expect(code).To(Equal(http.StatusOK))
			Expect(decodeGrant(env).MemoryID).To(Equal("P1"))

			code, env = do(http.MethodGet, "/permissions", "", other)
			Expect(code).To(Equal(http.StatusOK))
			var grants []permission.Grant
			Expect(json.Unmarshal(env.Data, &grants)).To(Succeed())
			Expect(grants).To(HaveLen(2))
		})

		DescribeTable("rejects bad requests with 400 and the error text",
			func(body, message string) {
				code, env := do(http.MethodPost, "/permissions", body, owner)
				Expect(code).To(Equal(http.StatusBadRequest))
				Expect(env.Success).To(BeFalse())
				Expect(env.Message).To(Equal(message))
			},
			Entry("malformed json", `{`, "invalid request body"),
			Entry("no memory", `{"userId":"x","permissions":["Edit"]}`, "memoryId is required"),
			Entry("no user", `{"memoryId":"M1","permissions":["Edit"]}`, "userId is required"),
			Entry("no kinds", `{"memoryId":"M1","userId":"x","permissions":[]}`, "permissions are required"),
			Entry("unknown kind", `{"memoryId":"M1","userId":"x","permissions":["Admin"]}`, "invalid permission: Admin"),
			Entry("unknown email", `{"memoryId":"M1","userId":"ghost@email.com","permissions":["Edit"]}`, "user not found"),
			Entry("unknown id", `{"memoryId":"M1","userId":"ghost","permissions":["Edit"]}`, "user not found"),
		)

		It("requires an authenticated caller", func() {
			code, env := do(http.MethodPost, "/permissions", `{"memoryId":"M1","userId":"x","permissions":["Edit"]}`, nil)
			Expect(code).To(Equal(http.StatusUnauthorized))
			Expect(env.Message).To(Equal("no authentication token provided"))
		})
	})

	Describe("revoke", func() {
		BeforeEach(func() {
			code, _ := do(http.MethodPost, "/permissions", `{"memoryId":"M1","userId":"`+other.ID+`","permissions":["Edit","Delete"]}`, owner)
			Expect(code).To(Equal(http.StatusOK))
		})

		It("returns the remaining grant", func() {
			code, env := do(http.MethodDelete, "/permissions", `{"memoryId":"M1","userId":"`+other.ID+`","permissionsToRevoke":["Edit"]}`, owner)
			Expect(code).To(Equal(http.StatusOK))
			Expect(decodeGrant(env).Permissions).To(Equal(permission.Set{permission.KindDelete}))
		})

		It("returns null data once the grant is gone", func() {
			code, env := do(http.MethodDelete, "/memory/M1/permissions", `{"userId":"`+other.ID+`","permissions":["Edit","Delete"]}`, owner)
			Expect(code).To(Equal(http.StatusOK))
			Expect(env.Success).To(BeTrue())
			Expect(string(env.Data)).To(Equal("null"))
		})

		It("reports a missing grant", func() {
			code, env := do(http.MethodDelete, "/permissions", `{"memoryId":"M2","userId":"`+other.ID+`","permissionsToRevoke":["Edit"]}`, owner)
			Expect(code).To(Equal(http.StatusBadRequest))
			Expect(env.Message).To(Equal("permissions not found"))
		})
	})

	Describe("queries", func() {
		It("lists the available kinds", func() {
			code, env := do(http.MethodGet, "/permissions/available", "", owner)
			Expect(code).To(Equal(http.StatusOK))
			Expect(string(env.Data)).To(MatchJSON(`["Edit","Delete","Owner","Subjects"]`))
		})

		It("looks up grants for many memories", func() {
			do(http.MethodPost, "/permissions", `{"memoryId":"M1","userId":"`+other.ID+`","permissions":["Edit"]}`, owner)
			do(http.MethodPost, "/permissions", `{"memoryId":"M2","userId":"`+other.ID+`","permissions":["Subjects"]}`, owner)

			code, env := do(http.MethodPost, "/permissions/getByMemoryIds", `["M1","M2","M9"]`, other)
			Expect(code).To(Equal(http.StatusOK))
			var grants []permission.Grant
			Expect(json.Unmarshal(env.Data, &grants)).To(Succeed())
			Expect(grants).To(HaveLen(2))
		})

		It("rejects a body that is not an id list", func() {
			code, env := do(http.MethodPost, "/permissions/getByMemoryIds", `{"ids":["M1"]}`, other)
			Expect(code).To(Equal(http.StatusBadRequest))
			Expect(env.Message).To(Equal("invalid request body"))
		})

		It("searches users by email fragment", func() {
			code, env := do(http.MethodGet, "/users/search?email=EMAIL.com&page=1&pageSize=1", "", owner)
			Expect(code).To(Equal(http.StatusOK))

			var res user.SearchResult
			Expect(json.Unmarshal(env.Data, &res)).To(Succeed())
			Expect(res.Total).To(Equal(int64(2)))
			Expect(res.Items).To(HaveLen(1))
			Expect(string(env.Data)).NotTo(ContainSubstring("password"))
		})

		It("requires the email query parameter", func() {
			code, env := do(http.MethodGet, "/users/search", "", owner)
			Expect(code).To(Equal(http.StatusBadRequest))
			Expect(env.Message).To(Equal("email query parameter is required"))
		})
	})
})
