package main

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"

	"github.com/lancepay/lancepay-api/config"
	"github.com/lancepay/lancepay-api/email"
	"github.com/lancepay/lancepay-api/handlers"
	"github.com/lancepay/lancepay-api/middleware"
	"github.com/lancepay/lancepay-api/settlement"
	"github.com/lancepay/lancepay-api/utils"
	"github.com/lancepay/lancepay-api/webhooks"
)

func main() {
	logrus.SetFormatter(&logrus.JSONFormatter{})

	// Load configuration
	cfg, err := config.LoadConfig()
	if err != nil {
		logrus.WithError(err).Fatal("Failed to load config")
	}

	// Initialize database
	db, err := config.InitDB(cfg)
	if err != nil {
		logrus.WithError(err).Fatal("Failed to connect to database")
	}

	ledger := utils.NewStellarClient(cfg.HorizonURL, cfg.NetworkPassphrase, cfg.USDCAssetCode, cfg.USDCAssetIssuer)

	var fundingAddress string
	if cfg.FundingWalletSecret != "" {
		fundingAddress, err = utils.AddressFromSecret(cfg.FundingWalletSecret)
		if err != nil {
			logrus.WithError(err).Fatal("Invalid funding wallet secret")
		}
	} else {
		logrus.Warn("Funding wallet not configured; escrow payouts and withdrawals disabled")
	}

	emails := email.LogSender{}

	// Scheduled webhook retries run through an external delay queue when one
	// is configured; without one the cron sweep picks retries up instead.
	var queue webhooks.DelayQueue
	if cfg.DelayQueueURL != "" {
		queue = webhooks.NewHTTPDelayQueue(cfg.DelayQueueURL, cfg.DelayQueueToken)
	}
	dispatcher := webhooks.NewDispatcher(db, queue, emails, cfg.AppURL+"/api/v1/webhooks/retry")

	rates := settlement.FixedRateProvider{
		"USDC:NGN": 1650.0,
		"USDC:KES": 129.0,
		"USDC:GHS": 15.6,
		"USDC:USD": 1.0,
	}

	settlements := settlement.NewService(db, ledger, dispatcher, emails, rates, fundingAddress, cfg.FundingWalletSecret)

	var limitStore middleware.RateLimitStore
	if cfg.RedisURL != "" {
		opts, err := redis.ParseURL(cfg.RedisURL)
		if err != nil {
			logrus.WithError(err).Fatal("Invalid redis URL")
		}
		limitStore = middleware.NewRedisStore(redis.NewClient(opts))
	} else {
		limitStore = middleware.NewMemoryStore()
	}
	payLimiter := middleware.RateLimiter{ID: "pay", MaxRequests: 30, Window: time.Minute, Store: limitStore}

	// Setup router
	router := gin.Default()

	// CORS middleware
	router.Use(func(c *gin.Context) {
		c.Writer.Header().Set("Access-Control-Allow-Origin", "*")
		c.Writer.Header().Set("Access-Control-Allow-Methods", "GET, POST, PUT, DELETE, OPTIONS")
		c.Writer.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization")
		if c.Request.Method == "OPTIONS" {
			c.AbortWithStatus(204)
			return
		}
		c.Next()
	})

	// Health check
	router.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{
			"status":  "healthy",
			"service": "lancepay-api",
		})
	})

	payHandler := handlers.NewPayHandler(db, settlements, dispatcher)
	escrowHandler := handlers.NewEscrowHandler(db, settlements)
	rampHandler := handlers.NewRampHandler(settlements)
	invoiceHandler := handlers.NewInvoiceHandler(db, cfg, ledger, dispatcher, fundingAddress)
	savingsHandler := handlers.NewSavingsHandler(db)
	webhookHandler := handlers.NewWebhookHandler(db, dispatcher)
	cronHandler := handlers.NewCronHandler(db, emails, dispatcher)
	authHandler := handlers.NewAuthHandler(db, cfg)

	// API routes
	api := router.Group("/api/v1")
	{
		// Public payment surface
		pay := api.Group("/pay", payLimiter.Middleware())
		pay.GET("/:invoiceNumber", payHandler.GetInvoice)
		pay.POST("/:invoiceNumber", payHandler.MarkPaid)

		// On-ramp provider callback
		api.POST("/ramp/events", rampHandler.HandleEvent)

		// Delay-queue re-entry for scheduled webhook retries
		api.POST("/webhooks/retry", webhookHandler.RetryCallback)

		api.POST("/auth/refresh", authHandler.Refresh)

		// Authenticated endpoints
		auth := api.Group("", middleware.JwtAuthMiddleware(cfg))
		{
			auth.POST("/invoices", invoiceHandler.CreateInvoice)
			auth.GET("/invoices/:id", invoiceHandler.GetInvoice)
			auth.POST("/withdrawals", invoiceHandler.RequestWithdrawal)

			auth.POST("/escrow/release", escrowHandler.Release)

			auth.GET("/savings-goals", savingsHandler.ListGoals)
			auth.POST("/savings-goals", savingsHandler.CreateGoal)
			auth.PUT("/savings-goals/:id", savingsHandler.UpdateGoal)

			auth.POST("/webhooks", webhookHandler.Create)
			auth.GET("/webhooks", webhookHandler.List)
			auth.DELETE("/webhooks/:id", webhookHandler.Delete)
			auth.GET("/webhooks/:id/deliveries", webhookHandler.ListDeliveries)
			auth.POST("/webhooks/deliveries/:deliveryId/retry", webhookHandler.ManualRetry)
		}

		// Scheduler endpoints
		cron := api.Group("/cron", middleware.CronAuthMiddleware(cfg.CronSecret))
		{
			cron.POST("/cancel-overdue-invoices", cronHandler.CancelOverdueInvoices)
			cron.POST("/generate-subscription-invoices", cronHandler.GenerateSubscriptionInvoices)
			cron.POST("/retry-webhooks", cronHandler.RetryWebhooks)
		}
	}

	// Start server
	port := cfg.Port
	if port == "" {
		port = "8080"
	}

	logrus.WithField("port", port).Info("Starting LancePay API server")
	if err := router.Run(":" + port); err != nil {
		logrus.WithError(err).Fatal("Failed to start server")
	}
}
