package cmd

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/frahmantamala/memory-permissions/internal"
	"github.com/frahmantamala/memory-permissions/internal/auth"
	"github.com/frahmantamala/memory-permissions/internal/core/events"
	"github.com/frahmantamala/memory-permissions/internal/permission"
	permissionPostgres "github.com/frahmantamala/memory-permissions/internal/permission/postgres"
	"github.com/frahmantamala/memory-permissions/internal/transport/rest"
	userPostgres "github.com/frahmantamala/memory-permissions/internal/user/postgres"
	"github.com/frahmantamala/memory-permissions/pkg/logger"

	"github.com/go-chi/chi"
	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/jmoiron/sqlx"
	"github.com/redis/go-redis/v9"
	"github.com/spf13/cobra"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	gormLogger "gorm.io/gorm/logger"
)

var httpServerCmd = &cobra.Command{
	Use:   "server",
	Short: "Start HTTP server",
	Long:  `Start the HTTP server to handle API requests`,
	RunE: func(cmd *cobra.Command, args []string) error {
		return startHTTPServer()
	},
}

type Dependencies struct {
	Config *internal.Config
	DB     *sqlx.DB
	Gorm   *gorm.DB
	Redis  *redis.Client
	Router *chi.Mux
	Logger *slog.Logger
}

func (d *Dependencies) Close() {
	if d.Redis != nil {
		if err := d.Redis.Close(); err != nil {
			d.Logger.Error("Redis close error", "error", err)
		}
	}
	if d.DB != nil {
		if err := d.DB.Close(); err != nil {
			d.Logger.Error("Database close error", "error", err)
		}
	}
}

func startHTTPServer() error {
	deps, err := initializeDependencies()
	if err != nil {
		return fmt.Errorf("failed to initialize dependencies: %w", err)
	}
	defer deps.Close()

	cfg := deps.Config.Server
	addr := fmt.Sprintf(":%d", cfg.Port)
	deps.Logger.Info("Starting HTTP server", "address", addr)

	server := &http.Server{
		Addr:              addr,
		Handler:           deps.Router,
		ReadHeaderTimeout: cfg.ReadHeaderTimeout,
		ReadTimeout:       cfg.ReadTimeout,
		WriteTimeout:      cfg.WriteTimeout,
		IdleTimeout:       cfg.IdleTimeout,
	}

	// Signal handling for graceful shutdown
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	serverErrChan := make(chan error, 1)
	go func() {
		serverErrChan <- server.ListenAndServe()
	}()

	select {
	case sig := <-sigChan:
		deps.Logger.Info("Received signal, shutting down...", "signal", sig.String())
		ctx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
		defer cancel()
		if err := server.Shutdown(ctx); err != nil {
			deps.Logger.Error("Server shutdown error", "error", err)
		}
	case err := <-serverErrChan:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("server failed: %w", err)
		}
	}

	deps.Logger.Info("Server stopped")
	return nil
}

func initializeDependencies() (*Dependencies, error) {
	config, err := loadConfig(configPath)
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}

	logger.Init(config.Logging.Level, config.Logging.Format)
	lg := logger.LoggerWrapper()

	db, err := initDB(config.Database)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize database: %w", err)
	}
	deps := &Dependencies{Config: config, DB: db, Logger: lg}

	gormDB, err := initGorm(db)
	if err != nil {
		deps.Close()
		return nil, err
	}
	deps.Gorm = gormDB

	checks := map[string]rest.Check{"postgres": db.PingContext}

	var (
		cache    permission.Cache   = permission.NopCache{}
		denylist auth.TokenDenylist = auth.NopDenylist{}
	)
	if config.Cache.Enabled {
		rdb := redis.NewClient(&redis.Options{
			Addr:     config.Cache.Addr,
			Password: config.Cache.Password,
			DB:       config.Cache.DB,
		})
		if err := rdb.Ping(context.Background()).Err(); err != nil {
			// the cache is optional; reads fall through to postgres until redis is back
			lg.Warn("redis unreachable at startup", "addr", config.Cache.Addr, "error", err)
		}
		deps.Redis = rdb
		cache = permission.NewRedisCache(rdb, config.Cache.TTL, lg)
		denylist = auth.NewRedisDenylist(rdb)
		checks["redis"] = func(ctx context.Context) error { return rdb.Ping(ctx).Err() }
	}

	bus := events.NewEventBus(lg)
	permission.RegisterCacheInvalidation(bus, cache)
	bus.Subscribe(events.EventTypeGrantChanged, logGrantChange(lg))

	users := userPostgres.NewUserRepository(gormDB)
	tokens := auth.NewJWTTokenGenerator(config.Security.JWTSecret, config.Security.TokenIssuer, config.Security.AccessTokenDuration)
	authService := auth.NewService(users, tokens, auth.Options{
		BCryptCost:   config.Security.BCryptCost,
		QueryTimeout: config.Database.QueryTimeout,
		TokenTTL:     config.Security.AccessTokenDuration,
		Denylist:     denylist,
	}, lg)

	permissionService := permission.NewService(
		permissionPostgres.NewPermissionRepository(gormDB),
		users,
		cache,
		bus,
		permission.Options{QueryTimeout: config.Database.QueryTimeout},
		lg,
	)

	deps.Router = rest.NewRouter(rest.Handlers{
		Health:     rest.NewHealthHandler(checks),
		Auth:       auth.NewHandler(authService),
		Permission: permission.NewHandler(permissionService, authService),
	}, lg)

	return deps, nil
}

func logGrantChange(lg *slog.Logger) events.Handler {
	return func(ctx context.Context, e events.Event) error {
		changed, ok := e.(*events.GrantChanged)
		if !ok {
			return nil
		}
		logger.FromOr(ctx, lg).Info("grant changed",
			"action", changed.Action,
			"grant_id", changed.GrantID,
			"user_id", changed.UserID,
			"memory_id", changed.MemoryID,
			"permissions", changed.Permissions)
		return nil
	}
}

// initDB initializes the database connection
func initDB(cfg internal.DatabaseConfig) (*sqlx.DB, error) {
	const driver = "pgx"

	dbConn, err := sqlx.Connect(driver, cfg.Source)
	if err != nil {
		return nil, fmt.Errorf("failed to open db connection: %w", err)
	}

	dbConn.SetMaxIdleConns(cfg.MaxIdleConns)
	dbConn.SetMaxOpenConns(cfg.MaxOpenConns)
	dbConn.SetConnMaxLifetime(cfg.ConnMaxLifetime)
	dbConn.SetConnMaxIdleTime(cfg.ConnMaxIdleTime)

	ctx, cancel := internal.WithTimeout(context.Background(), cfg.QueryTimeout)
	defer cancel()
	if err := dbConn.PingContext(ctx); err != nil {
		_ = dbConn.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	return dbConn, nil
}

// initGorm shares the sqlx pool with GORM.
func initGorm(db *sqlx.DB) (*gorm.DB, error) {
	gormDB, err := gorm.Open(postgres.New(postgres.Config{Conn: db.DB}), &gorm.Config{
		Logger:         gormLogger.Default.LogMode(gormLogger.Warn),
		TranslateError: true,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to open gorm: %w", err)
	}
	return gormDB, nil
}
