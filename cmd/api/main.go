package main

import (
	"fmt"
	"kurate-api/internal/api/handlers"
	"kurate-api/internal/config"
	"kurate-api/internal/middleware"
	"kurate-api/internal/models"
	"kurate-api/internal/repository"
	"kurate-api/internal/services"
	"log"
	"net/http"
	"net/url"
	"os"
	"time"

	"github.com/gorilla/mux"
	"github.com/joho/godotenv"
	"github.com/rs/cors"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

func main() {
	// Load environment variables
	if err := godotenv.Load(); err != nil {
		log.Printf("Warning: Error loading .env file: %v", err)
	}

	// Initialize database connection
	db, err := initDB()
	if err != nil {
		log.Fatal("Failed to connect to database:", err)
	}

	// Get underlying *sql.DB instance for connection pool settings
	sqlDB, err := db.DB()
	if err != nil {
		log.Fatal("Failed to get underlying *sql.DB instance:", err)
	}

	// Configure connection pool
	sqlDB.SetMaxOpenConns(25)
	sqlDB.SetMaxIdleConns(25)
	sqlDB.SetConnMaxLifetime(5 * time.Minute)

	// Initialize repositories
	accountRepo := repository.NewAccountRepository(db)
	webhookEventRepo := repository.NewWebhookEventRepository(db)

	// Initialize cache (optional; the API degrades to uncached responses)
	cacheConfig := config.NewCacheConfig()
	var cacheService services.CacheService
	if cacheConfig.RedisHost != "" {
		redisCache, err := services.NewRedisCacheService(cacheConfig)
		if err != nil {
			log.Printf("Warning: Redis unavailable, running without cache: %v", err)
		} else {
			cacheService = redisCache
		}
	}

	// Initialize services
	googleClientID := os.Getenv("GOOGLE_CLIENT_ID")
	if googleClientID == "" {
		log.Fatal("GOOGLE_CLIENT_ID environment variable is required")
	}
	falAPIKey := os.Getenv("FAL_KEY")
	if falAPIKey == "" {
		log.Fatal("FAL_KEY environment variable is required")
	}
	webhookSecret := os.Getenv("BILLING_WEBHOOK_SECRET")
	if webhookSecret == "" {
		log.Fatal("BILLING_WEBHOOK_SECRET environment variable is required")
	}

	var proxyURL *url.URL
	if raw := os.Getenv("OUTBOUND_PROXY_URL"); raw != "" {
		proxyURL, err = url.Parse(raw)
		if err != nil {
			log.Fatal("Invalid OUTBOUND_PROXY_URL:", err)
		}
	}

	planLimits := config.NewPlanLimitConfig()

	identityService := services.NewIdentityService(services.NewGoogleTokenVerifier(googleClientID))
	quotaService := services.NewQuotaService(accountRepo, planLimits)
	billingService := services.NewBillingService(accountRepo, webhookEventRepo, cacheService, planLimits)
	generationService := services.NewFALGenerationService(falAPIKey, proxyURL)

	// Initialize handlers
	generateHandler := handlers.NewGenerateHandler(quotaService, generationService)
	statusHandler := handlers.NewStatusHandler(quotaService, cacheService, cacheConfig)
	billingHandler := handlers.NewBillingHandler(billingService, webhookSecret)
	eventsHandler := handlers.NewEventsHandler()

	// Initialize router
	router := mux.NewRouter()
	router.Use(middleware.LoggingMiddleware)

	// Public routes
	router.HandleFunc("/webhooks/billing", billingHandler.HandleWebhook).Methods("POST")
	router.HandleFunc("/events", eventsHandler.Stream).Methods("GET")
	router.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("OK"))
	}).Methods("GET")

	// API routes (identity resolved per request, anonymous allowed)
	apiRouter := router.PathPrefix("/api/v1").Subrouter()
	apiRouter.Use(middleware.Identity(identityService))
	apiRouter.HandleFunc("/generate", generateHandler.Generate).Methods("POST")
	apiRouter.HandleFunc("/user-status", statusHandler.UserStatus).Methods("GET")

	corsMiddleware := cors.New(cors.Options{
		AllowedOrigins: []string{"http://localhost:3000"},
		AllowedMethods: []string{
			http.MethodGet,
			http.MethodPost,
			http.MethodOptions,
		},
		AllowedHeaders: []string{
			"Accept",
			"Authorization",
			"Content-Type",
			"Cache-Control",
		},
		AllowCredentials: true,
		MaxAge:           300, // Maximum value not ignored by any of major browsers
	})

	// Create server with timeouts. The write timeout covers the event stream
	// lifetime and slow generation calls.
	srv := &http.Server{
		Handler:      corsMiddleware.Handler(router),
		Addr:         ":" + getPort(),
		WriteTimeout: 150 * time.Second,
		ReadTimeout:  15 * time.Second,
	}

	// Start server
	log.Printf("Server starting on port %s...", getPort())
	log.Fatal(srv.ListenAndServe())
}

func initDB() (*gorm.DB, error) {
	dbURL := os.Getenv("DATABASE_URL")
	if dbURL == "" {
		return nil, fmt.Errorf("DATABASE_URL environment variable is required")
	}

	// Configure GORM logger
	gormLogger := logger.New(
		log.New(os.Stdout, "\r\n", log.LstdFlags),
		logger.Config{
			SlowThreshold:             time.Second,
			LogLevel:                  logger.Warn,
			IgnoreRecordNotFoundError: true,
			Colorful:                  false,
		},
	)

	// Open connection
	db, err := gorm.Open(postgres.Open(dbURL), &gorm.Config{
		Logger: gormLogger,
	})
	if err != nil {
		return nil, fmt.Errorf("error opening database: %v", err)
	}

	if err := autoMigrate(db); err != nil {
		return nil, fmt.Errorf("error migrating database: %v", err)
	}

	return db, nil
}

func autoMigrate(db *gorm.DB) error {
	return db.AutoMigrate(
		&models.Account{},
		&models.BillingWebhookEvent{},
	)
}

func getPort() string {
	port := os.Getenv("PORT")
	if port == "" {
		port = "5050"
	}
	return port
}
