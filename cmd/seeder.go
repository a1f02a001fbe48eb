package cmd

import (
	"context"
	"fmt"

	permissionDatamodel "github.com/frahmantamala/memory-permissions/internal/core/datamodel/permission"
	userDatamodel "github.com/frahmantamala/memory-permissions/internal/core/datamodel/user"
	"github.com/frahmantamala/memory-permissions/internal/permission"
	permissionPostgres "github.com/frahmantamala/memory-permissions/internal/permission/postgres"
	"github.com/frahmantamala/memory-permissions/internal/user"
	userPostgres "github.com/frahmantamala/memory-permissions/internal/user/postgres"
	"github.com/frahmantamala/memory-permissions/pkg/logger"
	"github.com/spf13/cobra"
	"golang.org/x/crypto/bcrypt"
	"gorm.io/gorm"
)

const (
	seedPassword = "password"
	seedMemoryID = "demo-memory"
)

var seedEmails = []string{"owner@mail.com", "editor@mail.com", "viewer@mail.com"}

var seedCmd = &cobra.Command{
	Use:   "seed",
	Short: "Seed the database with sample data",
	Long:  `Seed the database with demo users and a shared memory for development and testing purposes.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig(configPath)
		if err != nil {
			return fmt.Errorf("failed to load config: %w", err)
		}
		logger.Init(cfg.Logging.Level, cfg.Logging.Format)

		db, err := initDB(cfg.Database)
		if err != nil {
			return fmt.Errorf("failed to init db: %w", err)
		}
		defer db.Close()

		gormDB, err := initGorm(db)
		if err != nil {
			return err
		}

		return seed(cmd.Context(), gormDB, cfg.Security.BCryptCost, clearData)
	},
}

func seed(ctx context.Context, db *gorm.DB, cost int, clear bool) error {
	if ctx == nil {
		ctx = context.Background()
	}
	lg := logger.LoggerWrapper()

	if clear {
		if err := db.WithContext(ctx).Where("1 = 1").Delete(&permissionDatamodel.MemoryPermission{}).Error; err != nil {
			return fmt.Errorf("failed to clear grants: %w", err)
		}
		if err := db.WithContext(ctx).Where("email IN ?", seedEmails).Delete(&userDatamodel.User{}).Error; err != nil {
			return fmt.Errorf("failed to clear users: %w", err)
		}
		lg.Info("cleared seed data")
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(seedPassword), cost)
	if err != nil {
		return fmt.Errorf("failed to hash seed password: %w", err)
	}

	users := userPostgres.NewUserRepository(db)
	ids := make([]string, 0, len(seedEmails))
	for _, email := range seedEmails {
		existing, err := users.GetByEmail(ctx, email)
		if err != nil {
			return err
		}
		if existing != nil {
			lg.Info("seed user already exists", "email", email)
			ids = append(ids, existing.ID)
			continue
		}

		u := user.New(email, string(hash))
		if err := users.Create(ctx, user.ToDataModel(u)); err != nil {
			return fmt.Errorf("failed to insert %s: %w", email, err)
		}
		lg.Info("seeded user", "email", email, "user_id", u.ID)
		ids = append(ids, u.ID)
	}

	svc := permission.NewService(permissionPostgres.NewPermissionRepository(db), users, nil, nil, permission.Options{}, lg)
	grants := []struct {
		userID string
		kinds  permission.Set
	}{
		{ids[0], permission.NewSet(permission.KindOwner, permission.KindEdit, permission.KindDelete, permission.KindSubjects)},
		{ids[1], permission.NewSet(permission.KindEdit)},
	}
	for _, g := range grants {
		if _, err := svc.Assign(ctx, seedMemoryID, g.userID, ids[0], g.kinds); err != nil {
			return fmt.Errorf("failed to seed grant: %w", err)
		}
	}

	lg.Info("seed complete", "memory_id", seedMemoryID, "users", seedEmails)
	return nil
}
