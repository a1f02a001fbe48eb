package postgres

import (
	"context"
	"errors"
	"fmt"
	"strings"

	userDatamodel "github.com/frahmantamala/memory-permissions/internal/core/datamodel/user"
	"github.com/frahmantamala/memory-permissions/internal/user"
	"github.com/jackc/pgx/v5/pgconn"
	"gorm.io/gorm"
)

// publicColumns excludes password_hash; used for listings.
var publicColumns = []string{"id", "email", "role", "status", "created_at", "updated_at"}

type UserRepository struct {
	db *gorm.DB
}

func NewUserRepository(db *gorm.DB) user.RepositoryAPI {
	return &UserRepository{db: db}
}

func (r *UserRepository) Create(ctx context.Context, u *userDatamodel.User) error {
	if err := r.db.WithContext(ctx).Create(u).Error; err != nil {
		if IsUniqueViolation(err) {
			return user.ErrEmailTaken
		}
		return fmt.Errorf("create user: %w", err)
	}
	return nil
}

func (r *UserRepository) GetByID(ctx context.Context, id string) (*userDatamodel.User, error) {
	var u userDatamodel.User
	err := r.db.WithContext(ctx).Where("id = ?", id).First(&u).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, fmt.Errorf("get user by id: %w", err)
	}
	return &u, nil
}

func (r *UserRepository) GetByEmail(ctx context.Context, email string) (*userDatamodel.User, error) {
	var u userDatamodel.User
	err := r.db.WithContext(ctx).Where("email = ?", email).First(&u).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, fmt.Errorf("get user by email: %w", err)
	}
	return &u, nil
}

// SearchByEmail matches fragment as a case-insensitive substring. The count and
// the page are read in one transaction so they agree.
func (r *UserRepository) SearchByEmail(ctx context.Context, fragment string, offset, limit int) ([]*userDatamodel.User, int64, error) {
	pattern := "%" + escapeLike(strings.ToLower(fragment)) + "%"

	var (
		total int64
		users []*userDatamodel.User
	)
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		match := func() *gorm.DB {
			return tx.Model(&userDatamodel.User{}).Where(`LOWER(email) LIKE ? ESCAPE '\'`, pattern)
		}
		if err := match().Count(&total).Error; err != nil {
			return err
		}
		if total == 0 {
			return nil
		}
		return match().
			Select(publicColumns).
			Order("email ASC").
			Offset(offset).
			Limit(limit).
			Find(&users).Error
	})
	if err != nil {
		return nil, 0, fmt.Errorf("search users: %w", err)
	}
	return users, total, nil
}

func escapeLike(s string) string {
	return strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`).Replace(s)
}

// IsUniqueViolation recognizes duplicate-key failures from GORM's translated
// error, a raw Postgres error, or SQLite.
func IsUniqueViolation(err error) bool {
	if errors.Is(err, gorm.ErrDuplicatedKey) {
		return true
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == "23505"
	}
	return strings.Contains(err.Error(), "UNIQUE constraint failed")
}
