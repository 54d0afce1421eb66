package main

import (
	"context"
	"encoding/json"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/spf13/viper"
	httpSwagger "github.com/swaggo/http-swagger"

	"github.com/venturebridge/backend/internal/database"
	"github.com/venturebridge/backend/internal/events"
	"github.com/venturebridge/backend/internal/events/kafka"
	"github.com/venturebridge/backend/internal/handlers"
	mW "github.com/venturebridge/backend/internal/middleware"
	"github.com/venturebridge/backend/internal/services"
)

// @title VentureBridge Wallet API
// @version 1.0
// @description Wallet and funding-deal ledger for the VentureBridge platform
// @host localhost:8080
// @BasePath /api/v1
// @schemes http https

func main() {
	// Initialize config
	viper.SetConfigFile(".env") // explicitly point to .env file
	viper.AutomaticEnv()        // allow environment variables to override .env

	viper.SetEnvPrefix("")

	viper.BindEnv("database.host", "DATABASE_HOST")
	viper.BindEnv("database.port", "DATABASE_PORT")
	viper.BindEnv("database.user", "DATABASE_USER")
	viper.BindEnv("database.password", "DATABASE_PASSWORD")
	viper.BindEnv("database.name", "DATABASE_NAME")
	viper.BindEnv("database.ssl_mode", "DATABASE_SSL_MODE")

	viper.BindEnv("redis.host", "REDIS_HOST")
	viper.BindEnv("redis.port", "REDIS_PORT")
	viper.BindEnv("redis.password", "REDIS_PASSWORD")
	viper.BindEnv("redis.db", "REDIS_DB")

	viper.BindEnv("kafka.enabled", "KAFKA_ENABLED")
	viper.BindEnv("kafka.brokers", "KAFKA_BROKERS")
	viper.BindEnv("kafka.topic", "KAFKA_TOPIC")

	viper.BindEnv("jwt.secret_key", "JWT_SECRET_KEY")
	viper.BindEnv("jwt.expiry_hours", "JWT_EXPIRY_HOURS")
	viper.BindEnv("argon2.time", "ARGON2_TIME")
	viper.BindEnv("argon2.memory", "ARGON2_MEMORY")
	viper.BindEnv("argon2.threads", "ARGON2_THREADS")
	viper.BindEnv("argon2.key_length", "ARGON2_KEY_LENGTH")
	viper.BindEnv("argon2.salt_length", "ARGON2_SALT_LENGTH")

	viper.SetDefault("jwt.expiry_hours", 24)
	viper.SetDefault("argon2.time", 1)
	viper.SetDefault("argon2.memory", 64*1024)
	viper.SetDefault("argon2.threads", 4)
	viper.SetDefault("argon2.key_length", 32)
	viper.SetDefault("argon2.salt_length", 16)
	viper.SetDefault("kafka.topic", "transaction_completed")

	if err := viper.ReadInConfig(); err != nil {
		log.Printf("Config file not found, using defaults: %v", err)
	}

	// Initialize services
	db := database.InitDatabase()
	defer db.Close()

	redisClient := database.InitRedis()
	if redisClient != nil {
		defer redisClient.Close()
	}

	var publisher events.Publisher
	if viper.GetBool("kafka.enabled") {
		kafkaPublisher := kafka.NewPublisher(viper.GetStringSlice("kafka.brokers"), viper.GetString("kafka.topic"))
		defer kafkaPublisher.Close()
		publisher = kafkaPublisher
		log.Printf("Kafka publisher enabled (brokers: %v)", viper.GetStringSlice("kafka.brokers"))
	}

	walletService := services.NewWalletService(db)
	ledgerService := services.NewLedgerService(db)
	transactionService := services.NewTransactionService(db, redisClient, walletService, ledgerService, publisher)
	dealService := services.NewDealService(db, ledgerService, publisher)
	authService := services.NewAuthService(db, redisClient, walletService)
	bankService := services.NewBankService()
	qrService := services.NewQRService(db, redisClient, walletService)
	qrHandler := handlers.NewQRHandler(qrService)
	settlementService := services.NewSettlementService(redisClient)

	// Initialize auth middleware with Redis
	mW.InitAuthMiddleware(redisClient)

	// Settlement worker drains queued withdrawals until shutdown
	workerCtx, stopWorker := context.WithCancel(context.Background())
	defer stopWorker()
	go settlementService.Run(workerCtx)

	// Setup router
	r := chi.NewRouter()

	// Middleware
	r.Use(mW.SecurityHeaders)
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(middleware.RealIP)
	r.Use(middleware.Timeout(60 * time.Second))

	// CORS
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   []string{"https://*", "http://*"},
		AllowedMethods:   []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type", "Access-Control-Allow-Origin"},
		ExposedHeaders:   []string{"Link"},
		AllowCredentials: true,
		MaxAge:           86400,
	}))

	// Health check
	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]string{"status": "healthy"})
	})

	// Swagger documentation
	r.Get("/swagger/*", httpSwagger.Handler(
		httpSwagger.URL("http://localhost:8080/swagger/doc.json"),
	))

	// API routes
	r.Route("/api/v1", func(r chi.Router) {
		// Public endpoints (no auth required)
		r.Post("/auth/register", authService.Register)
		r.Post("/auth/login", authService.Login)
		r.Post("/auth/logout", authService.Logout)
		r.Get("/banks", bankService.GetAllBanks)

		// Protected endpoints (auth required)
		r.Group(func(r chi.Router) {
			r.Use(mW.AuthMiddleware)

			r.Get("/auth/account", authService.GetUserAccount)

			// Wallet endpoints
			r.Get("/wallets/{userId}", walletService.GetWallet)
			r.Post("/wallets/{userId}/deposit", transactionService.Deposit)
			r.Post("/wallets/{userId}/withdraw", transactionService.Withdraw)
			r.Get("/wallets/{userId}/transactions", transactionService.ListTransactions)

			// Transfer and ledger lookups
			r.Post("/transfers", transactionService.Transfer)
			r.Get("/transactions/recent", transactionService.GetRecentTransactions)
			r.Get("/transactions/{txId}", transactionService.GetTransaction)

			// Funding deal endpoints
			r.Post("/deals", dealService.CreateDeal)
			r.Get("/deals", dealService.ListDeals)
			r.Get("/deals/{dealId}", dealService.GetDeal)
			r.Post("/deals/{dealId}/approve", dealService.ApproveDeal)
			r.Post("/deals/{dealId}/complete", dealService.CompleteDeal)
			r.Post("/deals/{dealId}/cancel", dealService.CancelDeal)

			// QR receive-code endpoints
			r.Post("/qr/generate", qrHandler.GenerateReceiveQR)
			r.Post("/qr/process", qrHandler.ProcessReceiveQR)
		})
	})

	port := os.Getenv("PORT")
	if port == "" {
		port = "8080"
	}

	// Start server
	server := &http.Server{
		Addr:         ":" + port,
		Handler:      r,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	// Graceful shutdown
	go func() {
		log.Printf("Server starting on :%s", port)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("Server failed: %v", err)
		}
	}()

	// Wait for interrupt signal
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Println("Server shutting down...")
	stopWorker()
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := server.Shutdown(ctx); err != nil {
		log.Fatal("Server forced to shutdown:", err)
	}

	log.Println("Server stopped")
}
