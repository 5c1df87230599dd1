package api

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	swaggerFiles "github.com/swaggo/files"
	ginSwagger "github.com/swaggo/gin-swagger"
	"go.uber.org/zap"

	"github.com/martijn/snapkeep/internal/api/docs"
	"github.com/martijn/snapkeep/internal/api/handler"
	"github.com/martijn/snapkeep/internal/api/middleware"
	"github.com/martijn/snapkeep/internal/core/domain"
	"github.com/martijn/snapkeep/internal/core/service"
	"github.com/martijn/snapkeep/pkg/config"
)

// Services are the core services the API exposes
type Services struct {
	Auth         *service.AuthService
	Schedules    *service.ScheduleService
	Executions   *service.ExecutionService
	Backups      *service.BackupService
	Retention    *service.RetentionService
	Notification *service.NotificationService
}

type Server struct {
	router *gin.Engine
	srv    *http.Server
	config *config.Config
	logger *zap.Logger
}

// NewServer creates a new API server
func NewServer(cfg *config.Config, services Services, logger *zap.Logger) *Server {
	// Set Gin mode
	if !cfg.IsDevMode() {
		gin.SetMode(gin.ReleaseMode)
	}

	logger = logger.Named("api")
	router := NewRouter(cfg, services, logger)

	return &Server{
		router: router,
		config: cfg,
		logger: logger,
	}
}

// NewRouter builds the routing table. Every route except /health,
// /auth/token and /swagger requires a bearer token.
func NewRouter(cfg *config.Config, services Services, logger *zap.Logger) *gin.Engine {
	router := gin.New()

	// Global middleware
	router.Use(middleware.RequestLogger(logger))
	router.Use(middleware.ErrorHandlerMiddleware(logger))
	router.Use(middleware.CORSMiddleware(cfg.CORSOrigins))

	// Initialize handlers
	authHandler := handler.NewAuthHandler(services.Auth)
	scheduleHandler := handler.NewScheduleHandler(services.Schedules, services.Executions)
	executionHandler := handler.NewExecutionHandler(services.Executions)
	backupHandler := handler.NewBackupHandler(services.Backups)
	retentionHandler := handler.NewRetentionHandler(services.Retention)
	notificationHandler := handler.NewNotificationHandler(services.Notification)
	clientHandler := handler.NewClientHandler(services.Auth)

	// Public routes (no auth required)
	router.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{
			"status": "ok",
			"time":   time.Now().Format(time.RFC3339),
		})
	})
	router.POST("/auth/token", authHandler.Token)

	docs.SwaggerInfo.Host = fmt.Sprintf("%s:%d", cfg.APIHost, cfg.APIPort)
	router.GET("/swagger/*any", ginSwagger.WrapHandler(swaggerFiles.Handler))

	// Protected routes (auth required)
	authed := router.Group("")
	authed.Use(middleware.AuthMiddleware(services.Auth))

	read := middleware.RequireScope(domain.ScopeRead)
	write := middleware.RequireScope(domain.ScopeWrite)
	trigger := middleware.RequireScope(domain.ScopeTrigger)
	admin := middleware.RequireScope(domain.ScopeAll)

	// Schedules
	schedules := authed.Group("/schedules")
	{
		schedules.GET("", read, scheduleHandler.ListSchedules)
		schedules.POST("", write, scheduleHandler.CreateSchedule)
		schedules.GET("/:id", read, scheduleHandler.GetSchedule)
		schedules.PATCH("/:id", write, scheduleHandler.UpdateSchedule)
		schedules.DELETE("/:id", write, scheduleHandler.DeleteSchedule)
		schedules.GET("/:id/status", read, scheduleHandler.GetScheduleStatus)
		schedules.POST("/:id/trigger", trigger, scheduleHandler.TriggerSchedule)
		schedules.POST("/:id/enable", write, scheduleHandler.EnableSchedule)
		schedules.POST("/:id/disable", write, scheduleHandler.DisableSchedule)
		schedules.GET("/:id/executions", read, scheduleHandler.ListScheduleExecutions)
		schedules.GET("/:id/notifications", read, notificationHandler.ListScheduleNotifications)
		schedules.POST("/:id/notifications", write, notificationHandler.CreateNotification)
	}

	// Executions
	executions := authed.Group("/executions")
	{
		executions.GET("", read, executionHandler.ListExecutions)
		executions.GET("/:id", read, executionHandler.GetExecution)
	}

	// Backups
	backups := authed.Group("/backups")
	{
		backups.GET("", read, backupHandler.ListBackups)
		backups.GET("/:id", read, backupHandler.GetBackup)
		backups.DELETE("/:id", write, backupHandler.DeleteBackup)
	}

	// Retention policies
	policies := authed.Group("/policies")
	{
		policies.GET("", read, retentionHandler.ListPolicies)
		policies.POST("", write, retentionHandler.CreatePolicy)
		policies.GET("/:id", read, retentionHandler.GetPolicy)
		policies.PATCH("/:id", write, retentionHandler.UpdatePolicy)
		policies.DELETE("/:id", write, retentionHandler.DeletePolicy)
		policies.POST("/:id/default", write, retentionHandler.SetDefaultPolicy)
		policies.POST("/:id/cleanup", write, retentionHandler.RunPolicyCleanup)
	}
	authed.POST("/cleanup", write, retentionHandler.Cleanup)

	// Notifications
	notifications := authed.Group("/notifications")
	{
		notifications.GET("/logs", read, notificationHandler.ListLogs)
		notifications.GET("/:id", read, notificationHandler.GetNotification)
		notifications.PATCH("/:id", write, notificationHandler.UpdateNotification)
		notifications.DELETE("/:id", write, notificationHandler.DeleteNotification)
	}

	// Clients
	clients := authed.Group("/clients", admin)
	{
		clients.GET("", clientHandler.ListClients)
		clients.POST("", clientHandler.CreateClient)
		clients.GET("/:id", clientHandler.GetClient)
		clients.PATCH("/:id", clientHandler.UpdateClient)
		clients.DELETE("/:id", clientHandler.DeleteClient)
	}

	return router
}

// Start starts the HTTP server and blocks until it stops. A graceful
// Shutdown makes it return nil.
func (s *Server) Start() error {
	addr := fmt.Sprintf("%s:%d", s.config.APIHost, s.config.APIPort)

	s.srv = &http.Server{
		Addr:              addr,
		Handler:           s.router,
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       60 * time.Second,
		MaxHeaderBytes:    1 << 20, // 1 MB
	}

	var err error
	// Start with or without SSL
	if s.config.SSLCert != "" && s.config.SSLKey != "" {
		s.logger.Info("starting HTTPS server", zap.String("addr", addr))
		err = s.srv.ListenAndServeTLS(s.config.SSLCert, s.config.SSLKey)
	} else {
		s.logger.Info("starting HTTP server", zap.String("addr", addr))
		err = s.srv.ListenAndServe()
	}
	if err == http.ErrServerClosed {
		return nil
	}
	return err
}

// Handler exposes the router for tests
func (s *Server) Handler() http.Handler {
	return s.router
}

// Shutdown gracefully shuts down the server
func (s *Server) Shutdown(ctx context.Context) error {
	if s.srv != nil {
		return s.srv.Shutdown(ctx)
	}
	return nil
}
