package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/go-playground/validator/v10"
	swaggerFiles "github.com/swaggo/files"
	ginSwagger "github.com/swaggo/gin-swagger"
	"go.uber.org/zap"

	_ "github.com/noah-isme/edu-billing-api/api/swagger"
	"github.com/noah-isme/edu-billing-api/internal/handler"
	internalmiddleware "github.com/noah-isme/edu-billing-api/internal/middleware"
	"github.com/noah-isme/edu-billing-api/internal/repository"
	"github.com/noah-isme/edu-billing-api/internal/service"
	"github.com/noah-isme/edu-billing-api/pkg/cache"
	"github.com/noah-isme/edu-billing-api/pkg/config"
	"github.com/noah-isme/edu-billing-api/pkg/database"
	"github.com/noah-isme/edu-billing-api/pkg/jobs"
	"github.com/noah-isme/edu-billing-api/pkg/logger"
	corsmiddleware "github.com/noah-isme/edu-billing-api/pkg/middleware/cors"
	reqidmiddleware "github.com/noah-isme/edu-billing-api/pkg/middleware/requestid"
)

// @title Institute Billing API
// @version 1.0.0
// @description Enrollment, installment and cash ledger service for a training institute.
// @BasePath /api/v1
// @schemes http
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

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	db, err := database.Open(cfg.Database)
	if err != nil {
		logr.Fatal("failed to open database", zap.Error(err))
	}
	defer db.Close()

	if cfg.Database.AutoMigrate {
		if err := database.Migrate(ctx, db); err != nil {
			logr.Fatal("failed to migrate database", zap.Error(err))
		}
	}

	redisClient, err := cache.NewRedis(ctx, cfg.Redis)
	if err != nil {
		logr.Warn("redis unavailable, caching disabled", zap.Error(err))
	}
	if redisClient != nil {
		defer redisClient.Close()
	}

	validate := validator.New()
	metrics := service.NewMetricsService()
	policy := service.NewRolePolicy()

	store := repository.NewStore(db, cfg.Database.LockTimeout)
	userRepo := repository.NewUserRepository(db)
	auditRepo := repository.NewAuditRepository(db)
	studentRepo := repository.NewStudentRepository(db)
	programRepo := repository.NewProgramRepository(db)
	planRepo := repository.NewPaymentPlanRepository(db)
	enrollmentRepo := repository.NewEnrollmentRepository(db)
	paymentRepo := repository.NewPaymentRepository(db)
	movementRepo := repository.NewCashMovementRepository(db)
	invoiceRepo := repository.NewInvoiceRepository(db)

	var cacheRepo service.CacheRepository
	if redisClient != nil {
		cacheRepo = repository.NewCacheRepository(redisClient)
	}
	cacheSvc := service.NewCacheService(cacheRepo, metrics, cfg.Billing.CacheTTL, logr, cfg.Redis.Enabled)

	authSvc := service.NewAuthService(userRepo, auditRepo, validate, logr, service.AuthConfig{
		AccessTokenSecret: cfg.JWT.Secret,
		AccessTokenExpiry: cfg.JWT.Expiration,
		Issuer:            cfg.JWT.Issuer,
	})
	if cfg.Admin.Email != "" {
		created, err := authSvc.EnsureAdmin(ctx, cfg.Admin.Email, cfg.Admin.Password)
		if err != nil {
			logr.Fatal("failed to bootstrap administrator", zap.Error(err))
		}
		if created {
			logr.Info("bootstrap administrator created", zap.String("email", cfg.Admin.Email))
		}
	}

	studentSvc := service.NewStudentService(studentRepo, policy, auditRepo, validate, logr)
	programSvc := service.NewProgramService(programRepo, store, policy, auditRepo, cacheSvc, validate, logr)
	planSvc := service.NewPaymentPlanService(planRepo, programRepo, policy, auditRepo, validate, logr, service.PaymentPlanConfig{
		MinInstallment: cfg.Billing.MinInstallment,
	})
	cashSvc := service.NewCashLedgerService(movementRepo, store, policy, auditRepo, validate, logr)
	enrollmentSvc := service.NewEnrollmentService(enrollmentRepo, studentRepo, programRepo, planSvc, store, cashSvc, policy, auditRepo,
		cacheSvc, metrics, validate, logr, service.EnrollmentConfig{MaxPaymentAmount: cfg.Billing.MaxPaymentAmount})
	paymentSvc := service.NewPaymentService(paymentRepo, store, enrollmentSvc, cashSvc, policy, auditRepo, metrics, validate, logr, service.PaymentConfig{
		MaxPaymentAmount:         cfg.Billing.MaxPaymentAmount,
		GenericIncomeAutoConfirm: cfg.Billing.GenericIncomeAutoConfirm,
	})
	invoiceSvc := service.NewInvoiceService(invoiceRepo, store, policy, auditRepo, validate, logr, service.InvoiceConfig{
		Prefix:             cfg.Invoice.Prefix,
		SequenceLength:     cfg.Invoice.SequenceLength,
		VATRate:            cfg.Invoice.VATRate,
		TransactionTaxRate: cfg.Invoice.TransactionTaxRate,
	})
	exportSvc := service.NewExportService(enrollmentRepo, paymentRepo, movementRepo, logr, nil, nil)
	reportSvc := service.NewReportService(paymentRepo, movementRepo, enrollmentRepo, programSvc, exportSvc, policy, validate, logr)

	overdue := service.NewOverdueJob(enrollmentSvc)
	queue := jobs.NewQueue("billing", overdue.Handle, jobs.QueueConfig{
		Workers:    1,
		MaxRetries: 3,
		RetryDelay: 2 * time.Second,
		Retryable:  service.RetryableJobError,
		Logger:     logr,
	})
	queue.Start(ctx)
	defer queue.Stop()
	if err := queue.Every(cfg.Billing.OverdueSweepInterval, overdue.Next); err != nil {
		logr.Fatal("failed to schedule overdue sweep", zap.Error(err))
	}

	if cfg.Env == config.EnvProduction {
		gin.SetMode(gin.ReleaseMode)
	}

	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(reqidmiddleware.Middleware())
	r.Use(logger.GinMiddleware(logr))
	r.Use(corsmiddleware.New(cfg.CORS.AllowedOrigins))
	r.Use(internalmiddleware.Metrics(metrics))
	r.Use(internalmiddleware.WithResponseMeta())

	health := handler.NewMetricsHandler(metrics, db)
	r.GET("/health", health.Health)
	r.GET("/ready", health.Ready)
	if cfg.Metrics.Enabled {
		r.GET(cfg.Metrics.Path, health.Prometheus)
	}
	if cfg.Env != config.EnvProduction {
		r.GET("/swagger/*any", ginSwagger.WrapHandler(swaggerFiles.Handler))
	}

	handler.Routes{
		Auth:         handler.NewAuthHandler(authSvc),
		Students:     handler.NewStudentHandler(studentSvc),
		Programs:     handler.NewProgramHandler(programSvc, reportSvc),
		PaymentPlans: handler.NewPaymentPlanHandler(planSvc),
		Enrollments:  handler.NewEnrollmentHandler(enrollmentSvc),
		Payments:     handler.NewPaymentHandler(paymentSvc),
		Cash:         handler.NewCashHandler(cashSvc),
		Reports:      handler.NewReportHandler(reportSvc),
		Invoices:     handler.NewInvoiceHandler(invoiceSvc),
		Tokens:       authSvc,
		Policy:       policy,
		Audit:        auditRepo,
		Logger:       logr,
	}.Register(r.Group(cfg.APIPrefix))

	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.Port),
		Handler:           r,
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		logr.Sugar().Infow("server starting", "addr", srv.Addr, "env", cfg.Env, "driver", cfg.Database.Driver)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logr.Sugar().Fatalw("server failed", "error", err)
		}
	}()

	<-ctx.Done()
	logr.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logr.Error("graceful shutdown failed", zap.Error(err))
	}
}
