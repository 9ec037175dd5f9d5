package main

import (
	"context"
	"errors"
	"io"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"storefront-service/config"
	"storefront-service/controllers"
	"storefront-service/database"
	"storefront-service/jobs"
	"storefront-service/logger"
	"storefront-service/middleware"
	awspkg "storefront-service/pkg/aws"
	"storefront-service/providers"
	"storefront-service/repository"
	"storefront-service/routes"
	"storefront-service/sender"
	"storefront-service/services"

	"github.com/gin-gonic/gin"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

const serviceName = "storefront-service"

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	cfg, err := config.LoadConfig()
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	// AWS clients
	awsCfg, awsErr := awspkg.LoadAWSConfig(ctx)
	if cfg.UseSecrets {
		if awsErr != nil {
			log.Fatalf("AWS_USE_SECRETS set but AWS config unavailable: %v", awsErr)
		}
		if err := cfg.ApplySecrets(ctx, awspkg.NewSecretsClient(awsCfg), cfg.SecretName); err != nil {
			log.Fatalf("Failed to apply secrets: %v", err)
		}
	}

	var logSink io.Writer
	if cfg.CloudWatchEnabled && awsErr == nil {
		cw, err := awspkg.NewCloudWatchLogsClient(ctx, awsCfg, cfg.CloudWatchLogGroup, serviceName)
		if err != nil {
			log.Printf("CloudWatch Logs unavailable, logging to stdout only: %v", err)
		} else {
			logSink = cw
		}
	}
	zlog, err := logger.New(cfg.Env, logSink)
	if err != nil {
		log.Fatalf("Failed to init logger: %v", err)
	}
	defer zlog.Sync() //nolint:errcheck

	if awsErr != nil {
		zlog.Warn("AWS config unavailable, SNS and CloudWatch disabled", zap.Error(awsErr))
	}

	db, err := database.Connect(cfg.DSN(), cfg.AutoMigrate, zlog)
	if err != nil {
		zlog.Fatal("Failed to connect to database", zap.Error(err))
	}
	defer database.Close(db) //nolint:errcheck
	sqlDB, err := db.DB()
	if err != nil {
		zlog.Fatal("Failed to get database instance", zap.Error(err))
	}

	store := repository.NewGormStore(db)
	metrics := awspkg.NewMetricsClient(awsCfg, cfg.CloudWatchNamespace, cfg.CloudWatchEnabled && awsErr == nil)

	var snsClient awspkg.SNSPublisher
	if awsErr == nil && cfg.OrderSNSTopicARN != "" {
		snsClient = awspkg.NewSNSClient(awsCfg)
	}

	var fulfillment providers.FulfillmentProvider
	if cfg.PrintfulAPIKey != "" {
		fulfillment = providers.NewPrintfulProvider(cfg.PrintfulAPIKey, cfg.PrintfulStoreID, cfg.PrintfulBaseURL)
	}

	if cfg.StripeWebhookSecret == "" {
		zlog.Warn("STRIPE_WEBHOOK_SECRET not set, webhook requests will be rejected")
	}
	reconciler := services.NewReconciler(store, fulfillment, snsClient, metrics, services.ReconcilerConfig{
		FulfillmentEnabled: cfg.FulfillmentEnabled,
		CartRecoveryWindow: cfg.CartRecoveryWindow,
		SNSTopicArn:        cfg.OrderSNSTopicARN,
	}, zlog)
	webhookController := controllers.NewWebhookController(services.NewStripeService(cfg.StripeWebhookSecret), reconciler, zlog)
	healthController := controllers.NewHealthController(sqlDB, serviceName)

	// Scheduled jobs
	var locker jobs.Locker
	if cfg.RedisURL != "" {
		opts, err := redis.ParseURL(cfg.RedisURL)
		if err != nil {
			zlog.Fatal("Invalid REDIS_URL", zap.Error(err))
		}
		rdb := redis.NewClient(opts)
		defer rdb.Close() //nolint:errcheck
		locker = jobs.NewRedisLocker(rdb)
	}
	scheduler := jobs.NewScheduler(locker, 5*time.Minute, zlog)
	if err := scheduler.Register(cfg.EventPurgeSchedule, jobs.NewEventPurgeJob(store, cfg.EventRetention)); err != nil {
		zlog.Fatal("Failed to schedule job", zap.Error(err))
	}
	if fulfillment != nil {
		if err := scheduler.Register(cfg.StatusSyncSchedule, jobs.NewStatusSyncJob(store, fulfillment, 100, zlog)); err != nil {
			zlog.Fatal("Failed to schedule job", zap.Error(err))
		}
	}
	if cfg.SMTPEnabled() {
		mailer, err := sender.NewSMTPSender(cfg.SMTPHost, cfg.SMTPPort, cfg.SMTPUser, cfg.SMTPPassword, cfg.SMTPFrom)
		if err != nil {
			zlog.Fatal("Invalid SMTP config", zap.Error(err))
		}
		reminders := jobs.NewCartReminderJob(store, mailer, cfg.CartIdleAfter, cfg.CartRecoveryWindow, cfg.StorefrontURL, zlog)
		if err := scheduler.Register(cfg.CartReminderSchedule, reminders); err != nil {
			zlog.Fatal("Failed to schedule job", zap.Error(err))
		}
	} else {
		zlog.Info("SMTP not configured, abandoned-cart reminders disabled")
	}
	scheduler.Start()

	// HTTP
	if cfg.Env == "production" {
		gin.SetMode(gin.ReleaseMode)
	}
	limit := rate.Inf
	if cfg.RateLimitPerMinute > 0 {
		limit = rate.Every(time.Minute / time.Duration(cfg.RateLimitPerMinute))
	}
	limiter := middleware.NewRateLimiter(limit, cfg.RateLimitBurst, 5*time.Minute)
	go limiter.Cleanup(ctx)

	r := gin.New()
	r.Use(
		gin.Recovery(),
		middleware.RequestID(),
		middleware.RequestLogger(zlog),
		middleware.SecurityHeaders(),
		middleware.Metrics(metrics, serviceName),
		middleware.RateLimit(limiter),
		middleware.Timeout(cfg.RequestTimeout),
	)
	routes.RegisterRoutes(r, webhookController, healthController)

	srv := &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           r,
		ReadHeaderTimeout: 10 * time.Second,
	}
	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			zlog.Fatal("Server failed", zap.Error(err))
		}
	}()
	zlog.Info("Storefront service started", zap.String("port", cfg.Port))

	<-ctx.Done()
	zlog.Info("Shutting down storefront service...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		zlog.Error("Server forced to shutdown", zap.Error(err))
	}
	select {
	case <-scheduler.Stop().Done():
	case <-shutdownCtx.Done():
		zlog.Warn("Scheduled jobs still running at shutdown")
	}
	zlog.Info("Server exited cleanly")
	os.Exit(0)
}
