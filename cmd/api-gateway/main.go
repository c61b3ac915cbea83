package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"reflect"
	"strings"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/go-playground/validator/v10"
	"github.com/redis/go-redis/v9"
	swaggerFiles "github.com/swaggo/files"
	ginSwagger "github.com/swaggo/gin-swagger"
	"go.uber.org/zap"

	_ "github.com/noah-isme/drive-school-api/api/swagger"
	"github.com/noah-isme/drive-school-api/internal/handler"
	"github.com/noah-isme/drive-school-api/internal/middleware"
	"github.com/noah-isme/drive-school-api/internal/repository"
	"github.com/noah-isme/drive-school-api/internal/service"
	"github.com/noah-isme/drive-school-api/migrations"
	"github.com/noah-isme/drive-school-api/pkg/cache"
	"github.com/noah-isme/drive-school-api/pkg/config"
	"github.com/noah-isme/drive-school-api/pkg/database"
	"github.com/noah-isme/drive-school-api/pkg/events"
	"github.com/noah-isme/drive-school-api/pkg/jobs"
	"github.com/noah-isme/drive-school-api/pkg/logger"
	corsmiddleware "github.com/noah-isme/drive-school-api/pkg/middleware/cors"
	reqidmiddleware "github.com/noah-isme/drive-school-api/pkg/middleware/requestid"
)

// @title Drive School API
// @version 1.0.0
// @description Multi-tenant scheduling, attendance and ledger service for driving schools.
// @BasePath /api/v1
// @schemes http https
// @securityDefinitions.apikey BearerAuth
// @in header
// @name Authorization

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

	if err := run(cfg, logr); err != nil {
		logr.Fatal("server failed", zap.Error(err))
	}
}

func run(cfg *config.Config, logr *zap.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	db, err := database.NewPostgres(ctx, cfg.Database, logr)
	if err != nil {
		return fmt.Errorf("connect postgres: %w", err)
	}
	defer db.Close()

	if cfg.Database.AutoMigrate {
		if err := database.Migrate(ctx, db, migrations.FS, logr); err != nil {
			return err
		}
	}

	var redisClient *redis.Client
	if cfg.Redis.Enabled {
		redisClient, err = cache.NewRedis(ctx, cfg.Redis, logr)
		if err != nil {
			logr.Warn("redis unavailable, caching and events disabled", zap.Error(err))
			redisClient = nil
		} else {
			defer redisClient.Close()
		}
	}

	location := cfg.Scheduling.Location()
	validate := validator.New()
	validate.RegisterTagNameFunc(jsonFieldName)
	metricsSvc := service.NewMetricsService()

	tenantRepo := repository.NewTenantRepository(db)
	userRepo := repository.NewUserRepository(db)
	vehicleRepo := repository.NewVehicleRepository(db)
	enrollmentRepo := repository.NewEnrollmentRepository(db)
	sessionRepo := repository.NewSessionRepository(db)
	paymentRepo := repository.NewPaymentRepository(db)
	ledgerRepo := repository.NewLedgerRepository(db)

	cacheSvc := service.NewCacheService(repository.NewCacheRepository(redisClient, cfg.Redis.KeyPrefix), metricsSvc, logr, service.CacheServiceConfig{
		Enabled:    redisClient != nil,
		DefaultTTL: cfg.Dashboard.CacheTTL,
	})

	var publisher events.Publisher = events.NopPublisher{}
	if cfg.Events.Enabled && redisClient != nil {
		publisher = events.NewRedisPublisher(redisClient, cfg.Events.Channel, logr)
	}

	txRunner := database.NewTxRunner(db, database.TxRunnerConfig{
		MaxRetries: cfg.Scheduling.TxMaxRetries,
		BaseDelay:  cfg.Scheduling.TxRetryBase,
		Logger:     logr,
		Observer:   metricsSvc,
	})
	detector := service.NewConflictDetector(sessionRepo)

	tenantSvc := service.NewTenantService(tenantRepo, cacheSvc, cfg.Dashboard.TenantTTL, logr)
	authSvc := service.NewAuthService(userRepo, validate, logr, service.AuthConfig{
		AccessTokenSecret:  cfg.JWT.Secret,
		AccessTokenExpiry:  cfg.JWT.Expiration,
		RefreshTokenExpiry: cfg.JWT.RefreshExpiration,
		Issuer:             cfg.JWT.Issuer,
	})
	userSvc := service.NewUserService(userRepo, sessionRepo, cacheSvc, validate, logr, location)
	vehicleSvc := service.NewVehicleService(vehicleRepo, validate, logr)
	enrollmentSvc := service.NewEnrollmentService(service.EnrollmentServiceParams{
		Enrollments: enrollmentRepo,
		Sessions:    sessionRepo,
		Users:       userRepo,
		Vehicles:    vehicleRepo,
		Detector:    detector,
		Tx:          txRunner,
		Cache:       cacheSvc,
		Publisher:   publisher,
		Metrics:     metricsSvc,
		Validator:   validate,
		Logger:      logr,
	})
	attendanceSvc := service.NewAttendanceService(service.AttendanceServiceParams{
		Sessions:         sessionRepo,
		Enrollments:      enrollmentRepo,
		Detector:         detector,
		Tx:               txRunner,
		Cache:            cacheSvc,
		Publisher:        publisher,
		Metrics:          metricsSvc,
		Validator:        validate,
		Logger:           logr,
		MakeupSearchDays: cfg.Scheduling.MakeupSearchDays,
	})
	ledgerSvc := service.NewLedgerService(service.LedgerServiceParams{
		Enrollments: enrollmentRepo,
		Sessions:    sessionRepo,
		Payments:    paymentRepo,
		Counts:      ledgerRepo,
		Cache:       cacheSvc,
		Logger:      logr,
		Config: service.LedgerServiceConfig{
			CacheTTL:      cfg.Dashboard.CacheTTL,
			UpcomingLimit: cfg.Dashboard.Upcoming,
			Location:      location,
		},
	})
	paymentSvc := service.NewPaymentService(paymentRepo, enrollmentRepo, cacheSvc, validate, logr, location)
	sessionSvc := service.NewSessionService(sessionRepo, validate, location)
	auditSvc := service.NewAuditService(sessionRepo, tenantSvc, metricsSvc, logr, location)

	if cfg.AuditSweep.Enabled {
		queue := jobs.NewQueue("double-booking-audit", auditSvc.HandleJob, jobs.QueueConfig{
			Workers:  cfg.AuditSweep.Workers,
			Logger:   logr,
			Observer: metricsSvc,
		})
		queue.Start(ctx)
		defer queue.Stop()

		ticker := jobs.NewTicker("double-booking-sweep", cfg.AuditSweep.Interval, func(ctx context.Context) {
			auditSvc.Sweep(ctx, queue)
		}, logr)
		ticker.Start(ctx)
		defer ticker.Stop()
	}

	if cfg.Env == config.EnvProduction {
		gin.SetMode(gin.ReleaseMode)
	}

	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(reqidmiddleware.Middleware())
	probes := []string{"/health", "/ready", "/metrics", "/metrics/snapshot"}
	r.Use(logger.GinMiddleware(logr, probes...))
	r.Use(corsmiddleware.New(cfg.CORS.AllowedOrigins))
	r.Use(middleware.Metrics(metricsSvc, probes...))

	var cachePinger handler.Pinger
	if redisClient != nil {
		cachePinger = cache.Pinger{Client: redisClient}
	}
	metricsHandler := handler.NewMetricsHandler(metricsSvc, db, cachePinger)
	r.GET("/health", metricsHandler.Health)
	r.GET("/ready", metricsHandler.Ready)
	r.GET("/metrics", metricsHandler.Prometheus)
	r.GET("/metrics/snapshot", metricsHandler.Snapshot)

	if cfg.Env != config.EnvProduction {
		r.GET("/docs/*any", ginSwagger.WrapHandler(swaggerFiles.Handler))
	}

	authHandler := handler.NewAuthHandler(authSvc, handler.RefreshCookie{
		Enabled: cfg.JWT.RefreshCookie,
		Path:    cfg.APIPrefix + "/auth",
		Domain:  cfg.JWT.RefreshCookieDomain,
		Secure:  cfg.JWT.RefreshCookieSecure,
	})
	handler.Register(r.Group(cfg.APIPrefix), handler.Routes{
		Tenants:     tenantSvc,
		Tokens:      authSvc,
		AuditLog:    userRepo,
		Logger:      logr,
		Auth:        authHandler,
		Enrollments: handler.NewEnrollmentHandler(enrollmentSvc, ledgerSvc, paymentSvc),
		Attendance:  handler.NewAttendanceHandler(attendanceSvc),
		Sessions:    handler.NewSessionHandler(sessionSvc),
		Vehicles:    handler.NewVehicleHandler(vehicleSvc),
		Users:       handler.NewUserHandler(userSvc),
		Dashboard:   handler.NewDashboardHandler(ledgerSvc),
		Audit:       handler.NewAuditHandler(auditSvc),
	})

	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.Port),
		Handler:           r,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logr.Sugar().Infow("server starting", "addr", srv.Addr, "env", cfg.Env)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	logr.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	return srv.Shutdown(shutdownCtx)
}

// jsonFieldName reports validation failures under the request field names.
func jsonFieldName(field reflect.StructField) string {
	name := strings.SplitN(field.Tag.Get("json"), ",", 2)[0]
	if name == "-" {
		return ""
	}
	if name == "" {
		return field.Name
	}
	return name
}
