package main

import (
	"context"
	"log"
	"os"
	"strconv"
	"time"

	"tenant-portal-server/handlers/auth"
	paymenthandlers "tenant-portal-server/handlers/payments"
	"tenant-portal-server/middlewares"
	"tenant-portal-server/migrations"
	"tenant-portal-server/models"
	"tenant-portal-server/mpesa"
	"tenant-portal-server/payments"
	"tenant-portal-server/repositories"
	"tenant-portal-server/stripepay"
	"tenant-portal-server/utils"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/joho/godotenv"
)

func init() {
	if err := godotenv.Load(); err != nil {
		log.Println("No .env file found or error loading .env file:", err)
	}
}

func main() {
	logger := utils.SetupLogger()
	defer logger.Sync()

	db, err := utils.ConnectDatabase()
	if err != nil {
		logger.Fatalw("database connection failed", "error", err)
	}
	if err := migrations.Run(db); err != nil {
		logger.Fatalw("database migration failed", "error", err)
	}

	redisClient, err := utils.ConnectRedis()
	if err != nil {
		logger.Fatalw("redis connection failed", "error", err)
	}

	var tokenCache mpesa.TokenCache
	if redisClient != nil {
		tokenCache = mpesa.NewRedisCache(redisClient)
	} else {
		tokenCache = mpesa.NewMemoryCache()
	}

	mpesaClient := mpesa.NewClient(mpesa.Config{
		BaseURL:        getenv("MPESA_BASE_URL", "https://sandbox.safaricom.co.ke"),
		ConsumerKey:    os.Getenv("MPESA_CONSUMER_KEY"),
		ConsumerSecret: os.Getenv("MPESA_CONSUMER_SECRET"),
		ShortCode:      os.Getenv("MPESA_SHORTCODE"),
		Passkey:        os.Getenv("MPESA_PASSKEY"),
		CallbackURL:    os.Getenv("MPESA_CALLBACK_URL"),
		Timeout:        30 * time.Second,
	}, tokenCache)

	stripeClient := stripepay.NewClient(stripepay.Config{
		SecretKey:     os.Getenv("STRIPE_SECRET_KEY"),
		Currency:      getenv("STRIPE_CURRENCY", "kes"),
		WebhookSecret: os.Getenv("STRIPE_WEBHOOK_SECRET"),
	})

	paymentRepo := repositories.NewPaymentRepository(db)
	receiptRepo := repositories.NewReceiptRepository(db)
	svc := payments.NewService(paymentRepo, receiptRepo, map[string]payments.Gateway{
		models.ProviderMpesa:  mpesaClient,
		models.ProviderStripe: stripeClient,
	}, logger)

	sweeper := payments.NewSweeper(svc, payments.SweeperConfig{
		Interval:   minutes("SWEEP_INTERVAL_MINUTES", 5),
		PendingTTL: minutes("PENDING_TTL_MINUTES", 120),
	}, logger)
	go sweeper.Start(context.Background())

	handler := paymenthandlers.NewHandler(svc, stripeClient.WebhookSecret(), logger)

	r := gin.Default()

	r.Use(cors.New(cors.Config{
		AllowOrigins:     []string{getenv("CORS_ORIGIN", "https://portal.al-mubarak.co.ke")},
		AllowMethods:     []string{"GET", "POST", "PUT", "DELETE"},
		AllowHeaders:     []string{"Origin", "Content-Type", "Authorization"},
		ExposeHeaders:    []string{"Content-Length"},
		AllowCredentials: true,
		MaxAge:           12 * time.Hour,
	}))

	// Provider callbacks skip auth; Stripe signs its payloads and Daraja
	// callbacks only match records through the correlation token.
	r.POST("/mpesa/callback", handler.MpesaCallback)
	r.POST("/stripe/webhook", handler.StripeWebhook)

	initiateLimit, err := middlewares.RateLimit(getenv("INITIATE_RATE_LIMIT", "10-M"), redisClient)
	if err != nil {
		logger.Fatalw("rate limiter setup failed", "error", err)
	}

	protected := r.Group("/")
	protected.Use(auth.AuthMiddleware())
	{
		protected.POST("/initiate-mpesa-payment", initiateLimit, handler.InitiateMpesaPayment)
		protected.POST("/initiate-card-payment", initiateLimit, handler.InitiateCardPayment)
		protected.GET("/payments/:id", handler.GetPayment)
		protected.GET("/payments/:id/receipt", handler.GetReceipt)
		protected.GET("/receipts", handler.ListReceipts)
	}

	port := os.Getenv("PORT")
	if port == "" {
		port = "8080"
	}

	if err := r.Run(":" + port); err != nil {
		logger.Fatalw("server failed", "error", err)
	}
}

func getenv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func minutes(key string, fallback int) time.Duration {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			return time.Duration(n) * time.Minute
		}
	}
	return time.Duration(fallback) * time.Minute
}
