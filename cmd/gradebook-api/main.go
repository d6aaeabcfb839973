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
	"go.uber.org/zap"

	_ "github.com/paideia-lms/Paideia-sub010/api/swagger"
	"github.com/paideia-lms/Paideia-sub010/internal/handler"
	"github.com/paideia-lms/Paideia-sub010/internal/repository"
	"github.com/paideia-lms/Paideia-sub010/internal/service"
	"github.com/paideia-lms/Paideia-sub010/pkg/cache"
	"github.com/paideia-lms/Paideia-sub010/pkg/config"
	"github.com/paideia-lms/Paideia-sub010/pkg/database"
	"github.com/paideia-lms/Paideia-sub010/pkg/logger"
	"github.com/paideia-lms/Paideia-sub010/pkg/storage"
)

// @title Paideia Gradebook API
// @version 1.0.0
// @description Weighted course gradebooks: hierarchy, grade records, adjustments and final grades.
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

	if cfg.Env == config.EnvProduction {
		gin.SetMode(gin.ReleaseMode)
	}

	startupCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	db, err := database.NewPostgres(startupCtx, cfg.Database)
	if err != nil {
		return err
	}
	defer db.Close()

	redisClient, err := cache.NewRedis(startupCtx, cfg.Redis)
	if err != nil {
		return err
	}

	metrics := service.NewMetricsService()
	validate := validator.New()

	cacheRepo := repository.NewCacheRepository(redisClient, logr)
	defer cacheRepo.Close() //nolint:errcheck
	gradebookRepo := repository.NewGradebookRepository(db)
	hierarchyRepo := repository.NewHierarchyRepository(db)
	recordRepo := repository.NewGradeRecordRepository(db)
	enrollmentRepo := repository.NewEnrollmentRepository(db)

	cacheSvc := service.NewCacheService(cacheRepo, metrics, cfg.Gradebook.ReportCacheTTL, logr, cfg.Gradebook.ReportCacheEnabled && redisClient != nil)
	gradebookSvc := service.NewGradebookService(gradebookRepo, hierarchyRepo, cacheSvc, validate, logr)
	hierarchySvc := service.NewHierarchyService(db, gradebookRepo, hierarchyRepo, cacheSvc, metrics, validate, logr)
	recordSvc := service.NewGradeRecordService(db, recordRepo, hierarchyRepo, gradebookRepo, enrollmentRepo, cacheSvc, validate, logr)
	finalGradeSvc := service.NewFinalGradeService(gradebookRepo, hierarchyRepo, recordRepo, enrollmentRepo, cacheSvc, metrics, service.FinalGradeConfig{
		RosterConcurrency: cfg.Gradebook.RosterConcurrency,
		ReportCacheTTL:    cfg.Gradebook.ReportCacheTTL,
	}, logr)

	var exportSvc *service.ExportService
	if cfg.Exports.Enabled {
		store, err := storage.NewLocalStorage(cfg.Exports.StorageDir)
		if err != nil {
			return fmt.Errorf("init export storage: %w", err)
		}
		signer := storage.NewSignedURLSigner(cfg.Exports.SignedURLSecret, cfg.Exports.SignedURLTTL)
		exportSvc = service.NewExportService(finalGradeSvc, store, signer, service.ExportConfig{
			APIPrefix: cfg.APIPrefix,
			ResultTTL: cfg.Exports.SignedURLTTL,
		}, logr)
	}

	checks := map[string]handler.Pinger{"postgres": handler.PingFunc(db.PingContext)}
	if redisClient != nil {
		checks["redis"] = cacheRepo
	}

	router := newRouter(routerDeps{
		cfg:        cfg,
		logger:     logr,
		metrics:    metrics,
		tokens:     service.NewTokenVerifier(cfg.JWT.Secret, cfg.JWT.Issuer),
		gradebooks: handler.NewGradebookHandler(gradebookSvc, hierarchySvc),
		grades:     handler.NewGradeHandler(recordSvc),
		reports:    handler.NewReportHandler(finalGradeSvc, exportSvc),
		probes:     handler.NewMetricsHandler(metrics, checks),
	})

	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.Port),
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logr.Info("server starting", zap.String("addr", srv.Addr), zap.String("env", cfg.Env))
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
	shutdownCtx, cancelShutdown := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancelShutdown()
	return srv.Shutdown(shutdownCtx)
}
