package main

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/go-playground/validator/v10"
	swaggerFiles "github.com/swaggo/files"
	ginSwagger "github.com/swaggo/gin-swagger"

	_ "github.com/alessia-badea/dissertation-api/api/swagger"
	"github.com/alessia-badea/dissertation-api/internal/handler"
	"github.com/alessia-badea/dissertation-api/internal/middleware"
	"github.com/alessia-badea/dissertation-api/internal/models"
	"github.com/alessia-badea/dissertation-api/internal/repository"
	"github.com/alessia-badea/dissertation-api/internal/service"
	"github.com/alessia-badea/dissertation-api/pkg/cache"
	"github.com/alessia-badea/dissertation-api/pkg/config"
	"github.com/alessia-badea/dissertation-api/pkg/database"
	"github.com/alessia-badea/dissertation-api/pkg/jobs"
	"github.com/alessia-badea/dissertation-api/pkg/logger"
	corsmiddleware "github.com/alessia-badea/dissertation-api/pkg/middleware/cors"
	reqidmiddleware "github.com/alessia-badea/dissertation-api/pkg/middleware/requestid"
	"github.com/alessia-badea/dissertation-api/pkg/storage"
)

// @title Dissertation Supervision API
// @version 1.0.0
// @description Registration sessions, supervision requests and document exchange
// @BasePath /api/v1
// @schemes http

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}

	logr, err := logger.New(cfg)
	if err != nil {
		log.Fatalf("failed to init logger: %v", err)
	}
	defer logr.Sync() //nolint:errcheck

	if cfg.Env == config.EnvProduction {
		gin.SetMode(gin.ReleaseMode)
	}

	db, err := database.NewPostgres(cfg.Database)
	if err != nil {
		logr.Sugar().Fatalw("failed to connect to postgres", "error", err)
	}
	defer db.Close()

	metricsService := service.NewMetricsService()

	var cacheService *service.CacheService
	redisClient, err := cache.NewRedis(cfg.Redis)
	if err != nil {
		logr.Sugar().Warnw("redis unavailable, caching disabled", "error", err)
	} else {
		defer redisClient.Close()
		cacheRepo := repository.NewCacheRepository(redisClient, logr)
		cacheService = service.NewCacheService(cacheRepo, metricsService, cfg.Sessions.OpenListTTL, logr, true)
	}

	store, err := storage.NewLocalStorage(cfg.Documents.StorageDir)
	if err != nil {
		logr.Sugar().Fatalw("failed to init document storage", "error", err)
	}
	signer := storage.NewSignedURLSigner(cfg.Documents.SignedURLSecret, cfg.Documents.SignedURLTTL)

	userRepo := repository.NewUserRepository(db)
	sessionRepo := repository.NewSessionRepository(db)
	requestRepo := repository.NewRequestRepository(db)

	validate := validator.New()

	// The cleanup queue and the document service reference each other: the
	// service enqueues blob deletions and the queue calls back into the
	// service to execute them.
	var documentService *service.DocumentService
	cleanupQueue := jobs.NewQueue("document-cleanup", func(ctx context.Context, job jobs.Job) error {
		return documentService.DeleteBlob(ctx, job)
	}, jobs.QueueConfig{
		Workers:    cfg.Cleanup.Workers,
		MaxRetries: cfg.Cleanup.MaxRetries,
		RetryDelay: cfg.Cleanup.RetryDelay,
		Logger:     logr,
	})
	documentService = service.NewDocumentService(requestRepo, store, signer, cleanupQueue, logr,
		cfg.Documents.MaxFileSizeBytes, cfg.Documents.AllowedMIMEs)

	authService := service.NewAuthService(userRepo, validate, logr, service.AuthConfig{
		AccessTokenSecret:  cfg.JWT.Secret,
		AccessTokenExpiry:  cfg.JWT.Expiration,
		RefreshTokenExpiry: cfg.JWT.RefreshExpiration,
		Issuer:             "dissertation-api",
		Audience:           []string{"dissertation-api"},
	})
	sessionService := service.NewSessionService(sessionRepo, requestRepo, userRepo, cacheService,
		validate, logr, cfg.Sessions.DefaultCapacity, cfg.Sessions.OpenListTTL)
	requestService := service.NewRequestService(requestRepo, sessionRepo, userRepo, cacheService,
		metricsService, validate, logr)
	exportService := service.NewExportService(requestRepo, logr)

	authHandler := handler.NewAuthHandler(authService)
	sessionHandler := handler.NewSessionHandler(sessionService)
	requestHandler := handler.NewRequestHandler(requestService)
	documentHandler := handler.NewDocumentHandler(documentService)
	exportHandler := handler.NewExportHandler(exportService)
	metricsHandler := handler.NewMetricsHandler(metricsService)

	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(reqidmiddleware.Middleware())
	r.Use(logger.GinMiddleware(logr))
	r.Use(corsmiddleware.New(cfg.CORS.AllowedOrigins))
	r.Use(middleware.Metrics(metricsService))

	r.GET("/health", metricsHandler.Health)
	r.GET("/ready", func(c *gin.Context) {
		if err := db.PingContext(c.Request.Context()); err != nil {
			c.JSON(http.StatusServiceUnavailable, gin.H{"status": "unavailable"})
			return
		}
		c.JSON(http.StatusOK, gin.H{"status": "ready"})
	})
	r.GET("/metrics", metricsHandler.Prometheus)

	if cfg.Env != config.EnvProduction {
		r.GET("/docs/*any", ginSwagger.WrapHandler(swaggerFiles.Handler))
	}

	authRequired := middleware.JWT(authService)
	professorOnly := middleware.RequireRoles(models.RoleProfessor)
	studentOnly := middleware.RequireRoles(models.RoleStudent)

	api := r.Group(cfg.APIPrefix)
	{
		auth := api.Group("/auth")
		{
			auth.POST("/login", authHandler.Login)
			auth.POST("/refresh", authHandler.Refresh)
			auth.POST("/logout", authRequired, authHandler.Logout)
			auth.PUT("/password", authRequired, authHandler.ChangePassword)
			auth.GET("/me", authRequired, authHandler.Me)
		}

		sessions := api.Group("/sessions")
		{
			sessions.GET("", sessionHandler.ListOpen)
			sessions.GET("/mine", authRequired, professorOnly, sessionHandler.ListOwned)
			sessions.POST("", authRequired, professorOnly,
				middleware.Audit(userRepo, models.AuditActionSessionCreate, "session"), sessionHandler.Create)
			sessions.PUT("/:id", authRequired, professorOnly,
				middleware.Audit(userRepo, models.AuditActionSessionUpdate, "session"), sessionHandler.Update)
			sessions.DELETE("/:id", authRequired, professorOnly,
				middleware.Audit(userRepo, models.AuditActionSessionDelete, "session"), sessionHandler.Delete)
		}

		requests := api.Group("/requests", authRequired)
		{
			requests.GET("", requestHandler.List)
			requests.GET("/:id", requestHandler.Get)
			requests.POST("", studentOnly,
				middleware.Audit(userRepo, models.AuditActionRequestCreate, "request"), requestHandler.Create)
			requests.DELETE("/:id", studentOnly,
				middleware.Audit(userRepo, models.AuditActionRequestDelete, "request"), requestHandler.Delete)
			requests.PUT("/:id/decision", professorOnly,
				middleware.Audit(userRepo, models.AuditActionRequestDecide, "request"), requestHandler.Decide)

			requests.POST("/:id/documents/student", studentOnly,
				middleware.Audit(userRepo, models.AuditActionDocumentUpload, "request"), documentHandler.UploadStudent)
			requests.POST("/:id/documents/professor", professorOnly,
				middleware.Audit(userRepo, models.AuditActionDocumentSign, "request"), documentHandler.UploadProfessor)
			requests.PUT("/:id/documents/reject", professorOnly,
				middleware.Audit(userRepo, models.AuditActionDocumentReject, "request"), documentHandler.RejectDocument)
			requests.GET("/:id/documents/url", documentHandler.DownloadURL)
		}

		// Download authenticates via the signed token rather than a JWT so
		// links can be opened directly from a browser.
		api.GET("/documents/download", documentHandler.Download)

		api.GET("/exports/roster", authRequired, professorOnly, exportHandler.Roster)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	cleanupQueue.Start(ctx)

	srv := &http.Server{
		Addr:    fmt.Sprintf(":%d", cfg.Port),
		Handler: r,
	}

	go func() {
		logr.Sugar().Infow("server starting", "addr", srv.Addr, "env", cfg.Env)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logr.Sugar().Fatalw("server failed", "error", err)
		}
	}()

	<-ctx.Done()
	logr.Sugar().Infow("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logr.Sugar().Errorw("graceful shutdown failed", "error", err)
	}
	cleanupQueue.Stop()
}
