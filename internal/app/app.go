// Package app wires configuration, storage backends, services, background
// workers and HTTP routes into a runnable application.
package app

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
	"gorm.io/driver/mysql"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"

	"github.com/contentforge/core/internal/config"
	"github.com/contentforge/core/internal/middleware"
	"github.com/contentforge/core/internal/models"
	"github.com/contentforge/core/internal/modules/dochost"
	"github.com/contentforge/core/internal/modules/embed"
	"github.com/contentforge/core/internal/modules/reconcile"
	"github.com/contentforge/core/internal/modules/source"
	"github.com/contentforge/core/internal/modules/versioning"
	pkgcron "github.com/contentforge/core/internal/pkg/cron"
	"github.com/contentforge/core/internal/pkg/jwt"
	"github.com/contentforge/core/internal/pkg/record"
	pkgredis "github.com/contentforge/core/internal/pkg/redis"
	"github.com/contentforge/core/internal/pkg/taskqueue"
)

// App holds all application dependencies.
type App struct {
	cfg    *config.AppConfig
	router *gin.Engine
	logger *zap.Logger
	rc     *pkgredis.Client
	cancel context.CancelFunc
	sched  *pkgcron.Scheduler
}

// New initializes the application: config → storage → services → routes.
func New(logger *zap.Logger, cfg *config.AppConfig) (*App, error) {
	if cfg == nil {
		return nil, errors.New("config is nil")
	}
	jwt.SetSecret(cfg.JWTSecret)

	rc, err := pkgredis.Connect(cfg.RedisURL)
	if err != nil {
		return nil, fmt.Errorf("redis: %w", err)
	}

	store, err := buildStore(cfg, rc)
	if err != nil {
		return nil, err
	}

	if cfg.IsDev() {
		gin.SetMode(gin.DebugMode)
	} else {
		gin.SetMode(gin.ReleaseMode)
	}
	router := gin.New()
	router.HandleMethodNotAllowed = true
	router.Use(gin.Recovery())
	router.Use(middleware.Logger(logger))
	router.Use(cors.New(corsConfig(cfg)))

	host := dochost.NewClient(cfg.DocHost.BaseURL, cfg.DocHost.Token)

	// The restore hook closes over embedSvc, which is built after the version
	// store it depends on.
	var embedSvc *embed.Service
	versions := versioning.NewService(store,
		versioning.WithLogger(logger),
		versioning.WithRetention(time.Duration(cfg.RetentionDays)*24*time.Hour),
		versioning.WithRestoreHook(func(ctx context.Context, entityType models.EntityType, entityID string) {
			if entityType == models.EntityEmbed && embedSvc != nil {
				embedSvc.InvalidateRenderCache(ctx, entityID)
			}
		}),
	)

	sourceSvc := source.NewService(store, versions, source.WithLogger(logger))
	embedSvc = embed.NewService(store, versions, rc, embed.WithLogger(logger))

	worker := reconcile.NewWorker(store, host, versions,
		reconcile.WithLogger(logger),
		reconcile.WithCacheInvalidator(embedSvc.InvalidateRenderCache),
	)

	queue := taskqueue.NewService(rc, logger)
	queue.Register(reconcile.TaskType, worker.Handler())

	ctx, cancel := context.WithCancel(context.Background())
	go queue.Run(ctx)

	sched := pkgcron.New()
	registerCronJobs(sched, cfg, versions, queue, logger)
	go sched.Start(ctx)

	app := &App{cfg: cfg, router: router, logger: logger, rc: rc, cancel: cancel, sched: sched}
	app.registerRoutes(routeDeps{
		store:     store,
		versions:  versions,
		sourceSvc: sourceSvc,
		embedSvc:  embedSvc,
		queue:     queue,
		sched:     sched,
	})
	return app, nil
}

func buildStore(cfg *config.AppConfig, rc *pkgredis.Client) (record.Store, error) {
	if !cfg.UseDatabase() {
		return record.NewRedisStore(rc.Raw()), nil
	}
	db, err := gorm.Open(mysql.Open(cfg.DatabaseDSN), &gorm.Config{
		Logger: gormlogger.Default.LogMode(gormlogger.Silent),
	})
	if err != nil {
		return nil, fmt.Errorf("database: %w", err)
	}
	return record.NewGormStore(db)
}

func corsConfig(cfg *config.AppConfig) cors.Config {
	c := cors.Config{
		AllowMethods:     []string{"GET", "POST", "PUT", "PATCH", "DELETE", "OPTIONS"},
		AllowHeaders:     []string{"Origin", "Content-Type", "Authorization"},
		ExposeHeaders:    []string{"Content-Length", "Content-Disposition"},
		AllowCredentials: true,
	}
	if len(cfg.AllowedOrigins) > 0 && !cfg.IsDev() {
		c.AllowOrigins = cfg.AllowedOrigins
	} else {
		c.AllowOriginFunc = func(origin string) bool { return true }
	}
	return c
}

// Addr returns the listen address.
func (a *App) Addr() string { return fmt.Sprintf(":%d", a.cfg.Port) }

// Router returns the HTTP handler.
func (a *App) Router() http.Handler { return a.router }

// Shutdown stops background goroutines and closes connections.
func (a *App) Shutdown() {
	a.cancel()
	if err := a.rc.Close(); err != nil {
		a.logger.Warn("redis close failed", zap.Error(err))
	}
}

type routeDeps struct {
	store     record.Store
	versions  *versioning.Service
	sourceSvc *source.Service
	embedSvc  *embed.Service
	queue     *taskqueue.Service
	sched     *pkgcron.Scheduler
}
