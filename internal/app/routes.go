package app

import (
	"context"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/contentforge/core/internal/middleware"
	"github.com/contentforge/core/internal/modules/auth"
	"github.com/contentforge/core/internal/modules/backup"
	"github.com/contentforge/core/internal/modules/embed"
	"github.com/contentforge/core/internal/modules/reconcile"
	"github.com/contentforge/core/internal/modules/source"
	"github.com/contentforge/core/internal/pkg/response"
)

func (a *App) registerRoutes(deps routeDeps) {
	r := a.router
	authMW := middleware.Auth()

	r.NoRoute(func(c *gin.Context) {
		response.NotFound(c)
	})

	appInfo := gin.H{
		"name": "contentforge",
		"env":  a.cfg.Env,
	}
	r.GET("/", func(c *gin.Context) {
		response.OK(c, appInfo)
	})
	r.GET("/health", func(c *gin.Context) {
		response.OK(c, gin.H{"ok": 1, "uptime": time.Since(processStart).Seconds()})
	})

	api := r.Group("/api/v1")

	authSvc := auth.NewService(a.cfg.AdminUser, a.cfg.AdminPasswordHash, a.logger)
	auth.NewHandler(authSvc).RegisterRoutes(api, authMW)

	source.NewHandler(deps.sourceSvc, deps.versions).RegisterRoutes(api, authMW)
	embed.NewHandler(deps.embedSvc, deps.versions).RegisterRoutes(api, authMW)
	reconcile.NewHandler(deps.store, deps.queue).RegisterRoutes(api, authMW)
	backup.NewHandler(backup.NewService(deps.store, a.logger)).RegisterRoutes(api, authMW)

	// Queue and scheduler introspection for the admin surface.
	tasks := api.Group("/tasks", authMW)
	tasks.GET("", func(c *gin.Context) {
		list, err := deps.queue.List(c.Request.Context(), nil, nil)
		if err != nil {
			response.InternalError(c, err)
			return
		}
		response.OK(c, list)
	})
	tasks.GET("/cron", func(c *gin.Context) {
		response.OK(c, deps.sched.List())
	})
	tasks.POST("/cron/:name/run", func(c *gin.Context) {
		// Detached from the request context: the job outlives the response.
		if err := deps.sched.Run(context.Background(), c.Param("name")); err != nil {
			response.NotFoundMsg(c, err.Error())
			return
		}
		response.Accepted(c, gin.H{"name": c.Param("name")})
	})
}

var processStart = time.Now()
