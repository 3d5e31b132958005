package main

import (
	"net/http"
	"time"

	"github.com/getsentry/sentry-go"
	sentrygin "github.com/getsentry/sentry-go/gin"
	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"gorm.io/gorm"

	"inbound-backend/internal/addresses"
	"inbound-backend/internal/apikeys"
	"inbound-backend/internal/auth"
	"inbound-backend/internal/billing"
	"inbound-backend/internal/config"
	"inbound-backend/internal/delivery"
	"inbound-backend/internal/domains"
	"inbound-backend/internal/health"
	"inbound-backend/internal/inbound"
	"inbound-backend/internal/logging"
	"inbound-backend/internal/mail"
	"inbound-backend/internal/metrics"
	"inbound-backend/internal/middleware"
	"inbound-backend/internal/sesrules"
	"inbound-backend/internal/webhooks"
	"inbound-backend/pkg/utils"
)

type routerDeps struct {
	db         *gorm.DB
	ses        *sesrules.Manager
	domains    *domains.Service
	processor  *inbound.Processor
	dispatcher *delivery.Dispatcher
	sender     *delivery.Sender
}

func newRouter(cfg *config.Config, deps routerDeps) (*gin.Engine, error) {
	if cfg.GinMode == gin.ReleaseMode {
		gin.SetMode(gin.ReleaseMode)
	}

	router := gin.New()
	router.Use(sentrygin.New(sentrygin.Options{
		Repanic:         true,
		WaitForDelivery: false,
		Timeout:         2 * time.Second,
	}))
	router.Use(logging.AccessLog())
	router.Use(gin.Recovery())

	if config.GetEnv("ENABLE_SENTRY_DEBUG_ENDPOINT", "") == "true" {
		router.GET("/internal/sentry-test", func(c *gin.Context) {
			utils.CaptureSentryError(c, nil, "Sentry debug endpoint hit", nil)
			_ = sentry.Flush(2 * time.Second)
			c.JSON(http.StatusOK, gin.H{"status": "ok"})
		})
	}

	// CORS must run before anything that can reject an OPTIONS preflight
	corsConfig, err := middleware.CORSConfig(cfg.CORSAllowedOrigins, cfg.IsProduction())
	if err != nil {
		return nil, err
	}
	router.Use(cors.New(corsConfig))
	router.Use(middleware.SecurityHeaders(cfg.IsProduction()))
	router.Use(middleware.RequestSizeLimit(cfg.MaxRequestSizeBytes))
	router.Use(middleware.SecurityMonitoring())

	queue := deps.dispatcher.Queue()
	router.GET("/health", health.HandleHealthCheck)
	router.GET("/ready", health.HandleSystemReady(deps.db, queue))
	router.GET("/metrics", metrics.HandlePrometheusMetrics())

	domainHandler := domains.NewHandler(deps.domains)
	addressHandler := addresses.NewHandler(deps.db, deps.ses)
	webhookHandler := webhooks.NewHandler(deps.db, deps.ses, deps.sender)
	mailHandler := mail.NewHandler(deps.db)

	api := router.Group("/api/v1")
	{
		api.GET("/health", health.HandleHealthCheck)

		authRoutes := api.Group("/auth")
		{
			authRoutes.POST("/register", middleware.RegisterRateLimit(), middleware.ValidateCredentials(), auth.HandleRegister(deps.db))
			authRoutes.POST("/login", middleware.ValidateCredentials(), middleware.LoginRateLimit(), auth.HandleLogin(deps.db))
			authRoutes.POST("/logout", auth.HandleLogout)
		}

		// Stripe authenticates with its own signature
		api.POST("/billing/stripe/webhook", billing.HandleStripeWebhook(deps.db, cfg.StripeWebhookSecret))

		// Called by the email-processor Lambda
		internal := api.Group("/internal", auth.ServiceMiddleware(cfg.ServiceAPIKey))
		{
			internal.POST("/ses-events", inbound.HandleSESEvent(deps.processor))
		}

		protected := api.Group("")
		protected.Use(auth.Middleware(deps.db), middleware.APIRateLimit())
		{
			protected.GET("/profile", auth.HandleGetProfile)
			protected.GET("/system/metrics", metrics.HandleSystemMetrics(deps.db, queue))
			protected.GET("/billing/limits", billing.HandleGetLimits(deps.db))

			keyRoutes := protected.Group("/api-keys")
			{
				keyRoutes.GET("", apikeys.HandleList(deps.db))
				keyRoutes.POST("", apikeys.HandleCreate(deps.db))
				keyRoutes.PUT("/:id", apikeys.HandleUpdate(deps.db))
				keyRoutes.POST("/:id/rotate", apikeys.HandleRotate(deps.db))
				keyRoutes.DELETE("/:id", apikeys.HandleDelete(deps.db))
			}

			domainRoutes := protected.Group("/domains")
			{
				domainRoutes.GET("", domainHandler.HandleList)
				domainRoutes.POST("", domainHandler.HandleCreate)
				domainRoutes.GET("/stats", domainHandler.HandleStats)
				domainRoutes.POST("/sync", domainHandler.HandleSync)
				domainRoutes.GET("/:id", domainHandler.HandleGet)
				domainRoutes.PUT("/:id", domainHandler.HandleUpdate)
				domainRoutes.DELETE("/:id", domainHandler.HandleDelete)
				domainRoutes.POST("/:id/mail-from", domainHandler.HandleMailFrom)
				domainRoutes.GET("/:id/blocked", domainHandler.HandleListBlocked)
				domainRoutes.POST("/:id/blocked", domainHandler.HandleBlock)
				domainRoutes.DELETE("/:id/blocked/:blockedId", domainHandler.HandleUnblock)
			}

			addressRoutes := protected.Group("/email-addresses")
			{
				addressRoutes.GET("", addressHandler.HandleList)
				addressRoutes.POST("", addressHandler.HandleCreate)
				addressRoutes.GET("/:id", addressHandler.HandleGet)
				addressRoutes.PUT("/:id", addressHandler.HandleUpdate)
				addressRoutes.DELETE("/:id", addressHandler.HandleDelete)
			}

			webhookRoutes := protected.Group("/webhooks")
			{
				webhookRoutes.GET("", webhookHandler.HandleList)
				webhookRoutes.POST("", webhookHandler.HandleCreate)
				webhookRoutes.GET("/:id", webhookHandler.HandleGet)
				webhookRoutes.PUT("/:id", webhookHandler.HandleUpdate)
				webhookRoutes.DELETE("/:id", webhookHandler.HandleDelete)
				webhookRoutes.POST("/:id/test", webhookHandler.HandleTest)
				webhookRoutes.GET("/:id/deliveries", webhookHandler.HandleDeliveries)
			}

			mailRoutes := protected.Group("/mail")
			{
				mailRoutes.GET("", mailHandler.HandleList)
				mailRoutes.GET("/:id", mailHandler.HandleGet)
				mailRoutes.PATCH("/:id/read", mailHandler.HandleMarkRead)
			}
		}
	}

	return router, nil
}
