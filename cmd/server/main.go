// main wires the case pipeline: stores, blob storage, the scoring client,
// background loops and the HTTP surface. Business logic lives in the internal
// packages; this file only assembles them.
package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"kycflow/internal/blob"
	"kycflow/internal/kyc/handler"
	"kycflow/internal/kyc/metrics"
	"kycflow/internal/kyc/ml"
	"kycflow/internal/kyc/orchestrator"
	"kycflow/internal/kyc/quota"
	"kycflow/internal/kyc/retention"
	"kycflow/internal/kyc/service"
	"kycflow/internal/kyc/store/cases"
	"kycflow/internal/kyc/store/checks"
	"kycflow/internal/kyc/store/idemkeys"
	"kycflow/internal/kyc/store/uploads"
	"kycflow/internal/platform/config"
	"kycflow/internal/platform/httpserver"
	"kycflow/internal/platform/logger"
	"kycflow/internal/platform/middleware"
	"kycflow/internal/platform/postgres"
	platformredis "kycflow/internal/platform/redis"
	"kycflow/pkg/platform/audit"
)

func main() {
	cfg := config.FromEnv()
	log := logger.New()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, log); err != nil {
		log.Error("server exited", "error", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, cfg config.Config, log *slog.Logger) error {
	var (
		caseStore   cases.Store
		uploadStore uploads.Store
		checkStore  checks.Store
		idemStore   idemkeys.Store
	)
	if cfg.PostgresDSN != "" {
		db, err := postgres.Open(ctx, cfg.PostgresDSN)
		if err != nil {
			return err
		}
		defer func() { _ = db.Close() }()
		if err := postgres.Migrate(ctx, db); err != nil {
			return err
		}
		caseStore = cases.NewPostgres(db)
		uploadStore = uploads.NewPostgres(db)
		checkStore = checks.NewPostgres(db)
		idemStore = idemkeys.NewPostgres(db)
		log.Info("using postgres storage")
	} else {
		caseStore = cases.NewMemoryStore()
		uploadStore = uploads.NewMemoryStore()
		checkStore = checks.NewMemoryStore()
		idemStore = idemkeys.NewMemoryStore()
		log.Warn("POSTGRES_DSN not set, using in-memory storage")
	}

	var blobStore blob.Store
	if cfg.S3Bucket != "" {
		awsCfg, err := awsconfig.LoadDefaultConfig(ctx, awsconfig.WithRegion(cfg.S3Region))
		if err != nil {
			return err
		}
		blobStore = blob.NewS3Store(s3.NewFromConfig(awsCfg), cfg.S3Bucket)
		log.Info("using s3 blob storage", "bucket", cfg.S3Bucket)
	} else {
		fs, err := blob.NewFilesystemStore(cfg.BlobRoot)
		if err != nil {
			return err
		}
		blobStore = fs
		log.Info("using filesystem blob storage", "root", cfg.BlobRoot)
	}

	var quotaChecker quota.Checker = quota.NewStoreChecker(uploadStore)
	redisClient, err := platformredis.New(cfg.RedisURL)
	if err != nil {
		return err
	}
	if redisClient != nil {
		defer func() { _ = redisClient.Close() }()
		quotaChecker = quota.NewRedisChecker(redisClient.Client)
		log.Info("using redis upload quota")
	}

	var sink audit.Sink = audit.NewMemorySink()
	if cfg.KafkaBrokers != "" {
		kafkaSink, err := audit.NewKafkaSink(strings.Split(cfg.KafkaBrokers, ","), cfg.AuditTopic)
		if err != nil {
			return err
		}
		defer kafkaSink.Close()
		sink = kafkaSink
		log.Info("publishing audit events to kafka", "topic", cfg.AuditTopic)
	}
	auditPub := audit.NewPublisher(sink)

	m := metrics.New()
	svc := service.New(caseStore, uploadStore, checkStore, idemStore, blobStore, quotaChecker, auditPub, m, log)

	scorer := ml.NewClient(cfg.MLBaseURL, cfg.MLRequestTimeout, ml.WithMaxRetries(cfg.MLMaxRetries))
	orc := orchestrator.New(caseStore, checkStore, blobStore, svc, scorer, auditPub, m, log,
		cfg.BatchSize, cfg.BatchInterval)
	sweeper := retention.New(caseStore, blobStore, auditPub, m, log,
		cfg.RetentionWindow, cfg.SweepInterval)

	go func() {
		if err := orc.Loop(ctx); err != nil && !errors.Is(err, context.Canceled) {
			log.Error("auto-review loop stopped", "error", err)
		}
	}()
	go func() {
		if err := sweeper.Loop(ctx); err != nil && !errors.Is(err, context.Canceled) {
			log.Error("retention loop stopped", "error", err)
		}
	}()

	h := handler.New(svc, orc, middleware.NewHMACValidator([]byte(cfg.JWTSigningKey)), m, log)
	router := chi.NewRouter()
	h.Register(router)
	router.Handle("/metrics", promhttp.Handler())
	router.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})

	srv := httpserver.New(cfg.Addr, router)
	errCh := make(chan error, 1)
	go func() {
		log.Info("starting kycflow server", "addr", cfg.Addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	log.Info("shutting down")
	return srv.Shutdown(shutdownCtx)
}
