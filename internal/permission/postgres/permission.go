package postgres

import (
	"context"
	"errors"
	"fmt"

	permissionDatamodel "github.com/frahmantamala/memory-permissions/internal/core/datamodel/permission"
	"github.com/frahmantamala/memory-permissions/internal/permission"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

type PermissionRepository struct {
	db *gorm.DB
}

func NewPermissionRepository(db *gorm.DB) permission.RepositoryAPI {
	return &PermissionRepository{db: db}
}

// WithinTransaction runs fn against a repository bound to one transaction.
func (r *PermissionRepository) WithinTransaction(ctx context.Context, fn func(tx permission.RepositoryAPI) error) error {
	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		return fn(&PermissionRepository{db: tx})
	})
}

func (r *PermissionRepository) Find(ctx context.Context, userID, memoryID string) (*permissionDatamodel.MemoryPermission, error) {
	return r.find(r.db.WithContext(ctx), userID, memoryID)
}

// FindForUpdate locks the row until the surrounding transaction ends.
func (r *PermissionRepository) FindForUpdate(ctx context.Context, userID, memoryID string) (*permissionDatamodel.MemoryPermission, error) {
	return r.find(r.db.WithContext(ctx).Clauses(clause.Locking{Strength: clause.LockingStrengthUpdate}), userID, memoryID)
}

func (r *PermissionRepository) find(db *gorm.DB, userID, memoryID string) (*permissionDatamodel.MemoryPermission, error) {
	var row permissionDatamodel.MemoryPermission
	err := db.Where("user_id = ? AND memory_id = ?", userID, memoryID).First(&row).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, fmt.Errorf("find grant: %w", err)
	}
	return &row, nil
}

// CreateIfAbsent inserts row unless a grant for the same user and memory
// already exists. It reports whether the row was inserted.
func (r *PermissionRepository) CreateIfAbsent(ctx context.Context, row *permissionDatamodel.MemoryPermission) (bool, error) {
	res := r.db.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "user_id"}, {Name: "memory_id"}},
			DoNothing: true,
		}).
		Create(row)
	if res.Error != nil {
		return false, fmt.Errorf("create grant: %w", res.Error)
	}
	return res.RowsAffected == 1, nil
}

func (r *PermissionRepository) Update(ctx context.Context, row *permissionDatamodel.MemoryPermission) error {
	err := r.db.WithContext(ctx).
		Model(row).
		Select("permissions", "updated_at").
		Updates(row).Error
	if err != nil {
		return fmt.Errorf("update grant: %w", err)
	}
	return nil
}

func (r *PermissionRepository) Delete(ctx context.Context, id string) error {
	err := r.db.WithContext(ctx).Where("id = ?", id).Delete(&permissionDatamodel.MemoryPermission{}).Error
	if err != nil {
		return fmt.Errorf("delete grant: %w", err)
	}
	return nil
}

func (r *PermissionRepository) ListByUser(ctx context.Context, userID string) ([]*permissionDatamodel.MemoryPermission, error) {
	var rows []*permissionDatamodel.MemoryPermission
	err := r.db.WithContext(ctx).
		Where("user_id = ?", userID).
		Order("created_at ASC").
		Find(&rows).Error
	if err != nil {
		return nil, fmt.Errorf("list grants: %w", err)
	}
	return rows, nil
}

func (r *PermissionRepository) ListByUserAndMemories(ctx context.Context, userID string, memoryIDs []string) ([]*permissionDatamodel.MemoryPermission, error) {
	var rows []*permissionDatamodel.MemoryPermission
	if len(memoryIDs) == 0 {
		return rows, nil
	}
	err := r.db.WithContext(ctx).
		Where("user_id = ? AND memory_id IN ?", userID, memoryIDs).
		Order("memory_id ASC").
		Find(&rows).Error
	if err != nil {
		return nil, fmt.Errorf("list grants by memories: %w", err)
	}
	return rows, nil
}
