package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/getsentry/sentry-go"
	"github.com/sirupsen/logrus"

	"inbound-backend/internal/auth"
	"inbound-backend/internal/config"
	"inbound-backend/internal/database"
	"inbound-backend/internal/delivery"
	"inbound-backend/internal/dnscheck"
	"inbound-backend/internal/domains"
	"inbound-backend/internal/inbound"
	"inbound-backend/internal/logging"
	"inbound-backend/internal/middleware"
	"inbound-backend/internal/sesrules"
	"inbound-backend/pkg/utils"
)

var log = logging.WithComponent("api")

func main() {
	cfg := config.Load()
	logging.Init(cfg.GinMode)
	log.Info("🚀 Starting Inbound API server")

	// Sentry first so initialization errors are captured
	if dsn := os.Getenv("SENTRY_DSN"); dsn != "" {
		release := os.Getenv("SENTRY_RELEASE")
		if release == "" {
			release = os.Getenv("GIT_COMMIT")
		}
		opts := sentry.ClientOptions{
			Dsn:         dsn,
			Environment: config.GetEnv("SENTRY_ENVIRONMENT", cfg.Environment),
			Release:     release,
		}
		if host, _ := os.Hostname(); host != "" {
			opts.ServerName = host
		}
		if err := sentry.Init(opts); err != nil {
			log.WithError(err).Warn("Sentry initialization failed")
		} else {
			sentry.ConfigureScope(func(scope *sentry.Scope) {
				scope.SetTag("service", "inbound-backend")
			})
			defer sentry.Flush(2 * time.Second)
		}
	}

	if err := database.InitDatabase(); err != nil {
		log.WithError(err).Fatal("Failed to initialize database")
	}
	if err := database.RunMigrations(database.DB); err != nil {
		log.WithError(err).Fatal("Migration failed")
	}

	if err := auth.InitJWT(cfg.JWTSecret); err != nil {
		log.WithError(err).Fatal("Invalid JWT configuration")
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	ses, store := initAWS(ctx, cfg)
	checker := dnscheck.NewChecker(dnscheck.NewResolver(cfg.DNSResolver, 5*time.Second))

	queue := initQueue(ctx, cfg)
	defer func() {
		if err := queue.Close(); err != nil {
			log.WithError(err).Warn("closing delivery queue")
		}
	}()

	sender := delivery.NewSender(nil)
	dispatcher := delivery.NewDispatcher(database.DB, queue, delivery.Options{
		Workers: cfg.WebhookWorkers,
		Sender:  sender,
	})
	if queue.Backend() == "memory" {
		n, err := dispatcher.RecoverPending(ctx)
		if err != nil {
			utils.HandleError(err, "recover pending deliveries")
		} else if n > 0 {
			log.WithField("deliveries", n).Info("requeued pending webhook deliveries")
		}
	} else {
		// Redis keeps queued jobs, but not one a crashed worker had already popped
		go dispatcher.RunRecovery(ctx, 5*time.Minute)
	}
	dispatcher.Start(ctx)

	domainService := domains.NewService(database.DB, ses, checker)
	go domains.NewVerifier(domainService, cfg.VerifyInterval).Run(ctx)

	cleanupStop := make(chan struct{})
	middleware.StartCleanup(cleanupStop)
	defer close(cleanupStop)

	router, err := newRouter(cfg, routerDeps{
		db:         database.DB,
		ses:        ses,
		domains:    domainService,
		processor:  inbound.NewProcessor(database.DB, store, dispatcher),
		dispatcher: dispatcher,
		sender:     sender,
	})
	if err != nil {
		log.WithError(err).Fatal("Failed to build router")
	}

	srv := &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		log.WithField("port", cfg.Port).Info("✅ Server starting")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.WithError(err).Fatal("Failed to start server")
		}
	}()

	<-ctx.Done()
	log.Info("🛑 Shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.WithError(err).Error("HTTP server shutdown failed")
	}
	dispatcher.Wait()
	log.Info("👋 Server stopped")
}

// initAWS builds the SES manager and S3 message store. Either may be nil when
// AWS is not configured; the API then runs with provisioning disabled.
func initAWS(ctx context.Context, cfg *config.Config) (*sesrules.Manager, *inbound.MessageStore) {
	if cfg.AWSAccessKeyID == "" && os.Getenv("AWS_PROFILE") == "" && os.Getenv("AWS_ROLE_ARN") == "" {
		log.Warn("⚠️  AWS credentials not configured; SES provisioning and S3 fetches are disabled")
		return nil, nil
	}

	sesCfg := sesrules.Config{
		Region:          cfg.AWSRegion,
		AccessKeyID:     cfg.AWSAccessKeyID,
		SecretAccessKey: cfg.AWSSecretAccessKey,
		RuleSetName:     cfg.RuleSetName,
		S3BucketName:    cfg.S3BucketName,
	}
	if cfg.AWSReady() {
		sesCfg.LambdaARN = sesrules.LambdaARN(cfg.LambdaFunctionName, cfg.AWSAccountID, cfg.AWSRegion)
	} else {
		log.Warn("⚠️  S3_BUCKET_NAME or AWS_ACCOUNT_ID missing; receipt rules cannot be created")
	}

	ses, err := sesrules.New(ctx, sesCfg)
	if err != nil {
		utils.HandleError(err, "initialize SES")
		return nil, nil
	}

	awsCfg, err := sesrules.LoadAWSConfig(ctx, cfg.AWSRegion, cfg.AWSAccessKeyID, cfg.AWSSecretAccessKey)
	if err != nil {
		utils.HandleError(err, "initialize S3")
		return ses, nil
	}
	store := inbound.NewMessageStore(s3.NewFromConfig(awsCfg), cfg.S3BucketName)

	log.WithFields(logrus.Fields{
		"region":   cfg.AWSRegion,
		"rule_set": cfg.RuleSetName,
		"bucket":   cfg.S3BucketName,
	}).Info("✅ AWS clients initialized")
	return ses, store
}

// initQueue prefers Redis so retries survive restarts, falling back to memory
func initQueue(ctx context.Context, cfg *config.Config) delivery.Queue {
	if cfg.RedisAddr == "" {
		log.Info("Using in-memory webhook delivery queue")
		return delivery.NewMemoryQueue(0)
	}

	queue, err := delivery.NewRedisQueue(ctx, delivery.RedisConfig{
		Addr:     cfg.RedisAddr,
		Password: cfg.RedisPassword,
		DB:       cfg.RedisDB,
	})
	if err != nil {
		log.WithError(err).Warn("⚠️  Redis unavailable, falling back to in-memory delivery queue")
		return delivery.NewMemoryQueue(0)
	}
	log.WithField("addr", cfg.RedisAddr).Info("✅ Using Redis webhook delivery queue")
	return queue
}
