package permission

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"time"

	"github.com/frahmantamala/memory-permissions/internal"
	permissionDatamodel "github.com/frahmantamala/memory-permissions/internal/core/datamodel/permission"
	"github.com/frahmantamala/memory-permissions/internal/core/events"
	"github.com/frahmantamala/memory-permissions/internal/user"
	"github.com/frahmantamala/memory-permissions/pkg/logger"
	"github.com/google/uuid"
)

const (
	DefaultPage     = 1
	DefaultPageSize = 10
	MaxPageSize     = 100
)

var errGrantVanished = errors.New("grant missing after conflicting insert")

// RepositoryAPI is the grant store. Lookups return (nil, nil) when no row matches.
type RepositoryAPI interface {
	WithinTransaction(ctx context.Context, fn func(tx RepositoryAPI) error) error
	Find(ctx context.Context, userID, memoryID string) (*permissionDatamodel.MemoryPermission, error)
	FindForUpdate(ctx context.Context, userID, memoryID string) (*permissionDatamodel.MemoryPermission, error)
	CreateIfAbsent(ctx context.Context, row *permissionDatamodel.MemoryPermission) (bool, error)
	Update(ctx context.Context, row *permissionDatamodel.MemoryPermission) error
	Delete(ctx context.Context, id string) error
	ListByUser(ctx context.Context, userID string) ([]*permissionDatamodel.MemoryPermission, error)
	ListByUserAndMemories(ctx context.Context, userID string, memoryIDs []string) ([]*permissionDatamodel.MemoryPermission, error)
}

type Publisher interface {
	Publish(ctx context.Context, event events.Event) error
}

// ServiceAPI is what the HTTP layer needs from the permission engine.
type ServiceAPI interface {
	Assign(ctx context.Context, memoryID, userID, assignedBy string, kinds Set) (*Grant, error)
	Revoke(ctx context.Context, memoryID, userID string, kinds Set) (*Grant, error)
	GetUserPermissions(ctx context.Context, userID, memoryID string) (Set, error)
	GetGrantsByResourceIDs(ctx context.Context, userID string, memoryIDs []string) ([]*Grant, error)
	ListUserGrants(ctx context.Context, userID string) ([]*Grant, error)
	SearchUsersByEmail(ctx context.Context, fragment string, page, pageSize int) (*user.SearchResult, error)
	AvailablePermissions() []Kind
}

type Options struct {
	QueryTimeout time.Duration
}

type Service struct {
	repo         RepositoryAPI
	users        user.RepositoryAPI
	cache        Cache
	publisher    Publisher
	queryTimeout time.Duration
	logger       *slog.Logger
}

// NewService wires the engine. cache and publisher may be nil.
func NewService(repo RepositoryAPI, users user.RepositoryAPI, cache Cache, publisher Publisher, opts Options, logger *slog.Logger) *Service {
	if cache == nil {
		cache = NopCache{}
	}
	return &Service{
		repo:         repo,
		users:        users,
		cache:        cache,
		publisher:    publisher,
		queryTimeout: opts.QueryTimeout,
		logger:       logger,
	}
}

// Assign adds kinds to what userID already holds on memoryID, creating the
// grant when there is none.
func (s *Service) Assign(ctx context.Context, memoryID, userID, assignedBy string, kinds Set) (*Grant, error) {
	memoryID, userID, assignedBy = strings.TrimSpace(memoryID), strings.TrimSpace(userID), strings.TrimSpace(assignedBy)

	if memoryID == "" {
		return nil, internal.ErrResourceRequired
	}
	if userID == "" {
		return nil, internal.ErrGranteeRequired
	}
	kinds = NewSet(kinds...)
	if len(kinds) == 0 {
		return nil, internal.ErrPermissionsRequired
	}

	s.log(ctx).Debug("assigning permissions", "memory_id", memoryID, "user_id", userID, "assigned_by", assignedBy, "permissions", kinds.Strings())

	storeCtx, cancel := internal.WithTimeout(ctx, s.queryTimeout)
	defer cancel()

	if err := s.requireUser(storeCtx, userID, internal.ErrUserNotFound); err != nil {
		return nil, err
	}
	if err := s.requireUser(storeCtx, assignedBy, internal.ErrAssignerNotFound); err != nil {
		return nil, err
	}

	var result *permissionDatamodel.MemoryPermission
	err := s.repo.WithinTransaction(storeCtx, func(tx RepositoryAPI) error {
		row, err := tx.FindForUpdate(storeCtx, userID, memoryID)
		if err != nil {
			return err
		}

		now := time.Now().UTC()
		if row == nil {
			row = &permissionDatamodel.MemoryPermission{
				ID:          uuid.NewString(),
				UserID:      userID,
				MemoryID:    memoryID,
				AssignedBy:  assignedBy,
				Permissions: kinds.Strings(),
				CreatedAt:   now,
				UpdatedAt:   now,
			}
			created, err := tx.CreateIfAbsent(storeCtx, row)
			if err != nil {
				return err
			}
			if created {
				result = row
				return nil
			}

			// another request inserted the grant first; merge into it
			row, err = tx.FindForUpdate(storeCtx, userID, memoryID)
			if err != nil {
				return err
			}
			if row == nil {
				return errGrantVanished
			}
		}

		row.Permissions = setFromStrings(row.Permissions).Union(kinds).Strings()
		row.UpdatedAt = now
		if err := tx.Update(storeCtx, row); err != nil {
			return err
		}
		result = row
		return nil
	})
	if err != nil {
		return nil, internal.NewInternalError("failed to assign permissions", err)
	}

	grant := FromDataModel(result)
	s.log(ctx).Info("permissions assigned", "grant_id", grant.ID, "memory_id", memoryID, "user_id", userID, "permissions", grant.Permissions.Strings())
	s.publish(ctx, events.NewGrantChanged(events.GrantAssigned, grant.ID, userID, memoryID, grant.Permissions.Strings()))
	return grant, nil
}

// Revoke removes kinds from the grant. It returns (nil, nil) when nothing is
// left and the grant has been deleted.
func (s *Service) Revoke(ctx context.Context, memoryID, userID string, kinds Set) (*Grant, error) {
	memoryID, userID = strings.TrimSpace(memoryID), strings.TrimSpace(userID)

	if memoryID == "" {
		return nil, internal.ErrResourceRequired
	}
	if userID == "" {
		return nil, internal.ErrGranteeRequired
	}
	kinds = NewSet(kinds...)
	if len(kinds) == 0 {
		return nil, internal.ErrPermissionsRequired
	}

	s.log(ctx).Debug("revoking permissions", "memory_id", memoryID, "user_id", userID, "permissions", kinds.Strings())

	storeCtx, cancel := internal.WithTimeout(ctx, s.queryTimeout)
	defer cancel()

	var (
		result  *permissionDatamodel.MemoryPermission
		deleted bool
	)
	err := s.repo.WithinTransaction(storeCtx, func(tx RepositoryAPI) error {
		row, err := tx.FindForUpdate(storeCtx, userID, memoryID)
		if err != nil {
			return err
		}
		if row == nil {
			return internal.ErrPermissionsNotFound
		}

		remaining := setFromStrings(row.Permissions).Difference(kinds)
		if len(remaining) == 0 {
			deleted = true
			result = row
			return tx.Delete(storeCtx, row.ID)
		}

		row.Permissions = remaining.Strings()
		row.UpdatedAt = time.Now().UTC()
		if err := tx.Update(storeCtx, row); err != nil {
			return err
		}
		result = row
		return nil
	})
	if err != nil {
		if errors.Is(err, internal.ErrPermissionsNotFound) {
			s.log(ctx).Warn("no permissions to revoke", "memory_id", memoryID, "user_id", userID)
			return nil, internal.ErrPermissionsNotFound
		}
		return nil, internal.NewInternalError("failed to revoke permissions", err)
	}

	if deleted {
		s.log(ctx).Info("all permissions revoked, grant deleted", "grant_id", result.ID, "memory_id", memoryID, "user_id", userID)
		s.publish(ctx, events.NewGrantChanged(events.GrantDeleted, result.ID, userID, memoryID, []string{}))
		return nil, nil
	}

	grant := FromDataModel(result)
	s.log(ctx).Info("permissions revoked", "grant_id", grant.ID, "memory_id", memoryID, "user_id", userID, "permissions", grant.Permissions.Strings())
	s.publish(ctx, events.NewGrantChanged(events.GrantRevoked, grant.ID, userID, memoryID, grant.Permissions.Strings()))
	return grant, nil
}

// GetUserPermissions returns an empty set when no grant exists.
func (s *Service) GetUserPermissions(ctx context.Context, userID, memoryID string) (Set, error) {
	if userID == "" || memoryID == "" {
		return Set{}, nil
	}

	if kinds, ok := s.cache.Get(ctx, userID, memoryID); ok {
		return kinds, nil
	}
	generation, cacheable := s.cache.Generation(ctx, userID, memoryID)

	storeCtx, cancel := internal.WithTimeout(ctx, s.queryTimeout)
	defer cancel()

	row, err := s.repo.Find(storeCtx, userID, memoryID)
	if err != nil {
		return nil, internal.NewInternalError("failed to load permissions", err)
	}

	kinds := Set{}
	if row != nil {
		kinds = setFromStrings(row.Permissions)
	}
	if cacheable {
		s.cache.Set(ctx, userID, memoryID, generation, kinds)
	}
	return kinds, nil
}

// GetGrantsByResourceIDs looks up many memories at once. Blank and repeated
// ids are ignored.
func (s *Service) GetGrantsByResourceIDs(ctx context.Context, userID string, memoryIDs []string) ([]*Grant, error) {
	ids := make([]string, 0, len(memoryIDs))
	seen := make(map[string]struct{}, len(memoryIDs))
	for _, id := range memoryIDs {
		id = strings.TrimSpace(id)
		if id == "" {
			continue
		}
		if _, dup := seen[id]; dup {
			continue
		}
		seen[id] = struct{}{}
		ids = append(ids, id)
	}
	if len(ids) == 0 {
		return []*Grant{}, nil
	}

	storeCtx, cancel := internal.WithTimeout(ctx, s.queryTimeout)
	defer cancel()

	rows, err := s.repo.ListByUserAndMemories(storeCtx, userID, ids)
	if err != nil {
		return nil, internal.NewInternalError("failed to load permissions", err)
	}
	return toGrants(rows), nil
}

func (s *Service) ListUserGrants(ctx context.Context, userID string) ([]*Grant, error) {
	storeCtx, cancel := internal.WithTimeout(ctx, s.queryTimeout)
	defer cancel()

	rows, err := s.repo.ListByUser(storeCtx, userID)
	if err != nil {
		return nil, internal.NewInternalError("failed to load permissions", err)
	}
	return toGrants(rows), nil
}

// SearchUsersByEmail pages through users whose email contains fragment.
func (s *Service) SearchUsersByEmail(ctx context.Context, fragment string, page, pageSize int) (*user.SearchResult, error) {
	fragment = strings.TrimSpace(fragment)
	if fragment == "" {
		return nil, internal.ErrSearchQueryRequired
	}
	if page < 1 {
		page = DefaultPage
	}
	if pageSize < 1 {
		pageSize = DefaultPageSize
	}
	if pageSize > MaxPageSize {
		pageSize = MaxPageSize
	}

	storeCtx, cancel := internal.WithTimeout(ctx, s.queryTimeout)
	defer cancel()

	rows, total, err := s.users.SearchByEmail(storeCtx, fragment, (page-1)*pageSize, pageSize)
	if err != nil {
		return nil, internal.NewInternalError("failed to search users", err)
	}

	items := make([]*user.User, 0, len(rows))
	for _, row := range rows {
		u := user.FromDataModel(row)
		u.PasswordHash = ""
		items = append(items, u)
	}

	s.log(ctx).Debug("users searched", "fragment", fragment, "total", total, "page", page)
	return &user.SearchResult{Page: page, PageSize: pageSize, Total: total, Items: items}, nil
}

func (s *Service) AvailablePermissions() []Kind {
	return AvailableKinds()
}

func (s *Service) requireUser(ctx context.Context, id string, missing *internal.AppError) error {
	if id == "" {
		return missing
	}
	u, err := s.users.GetByID(ctx, id)
	if err != nil {
		return internal.NewInternalError("failed to load user", err)
	}
	if u == nil {
		return missing
	}
	return nil
}

// publish never fails the committed write; handler errors are only logged.
func (s *Service) publish(ctx context.Context, event events.Event) {
	if s.publisher == nil {
		return
	}
	if err := s.publisher.Publish(ctx, event); err != nil {
		s.log(ctx).Error("grant change subscribers failed", "event_id", event.EventID(), "error", err)
	}
}

func (s *Service) log(ctx context.Context) *slog.Logger {
	return logger.FromOr(ctx, s.logger)
}

func toGrants(rows []*permissionDatamodel.MemoryPermission) []*Grant {
	grants := make([]*Grant, 0, len(rows))
	for _, row := range rows {
		grants = append(grants, FromDataModel(row))
	}
	return grants
}
