package main

import (
	"context"
	"database/sql"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"shop-svc/cache"
	"shop-svc/cart"
	"shop-svc/checkout"
	"shop-svc/database"
	"shop-svc/gateway"
	"shop-svc/handlers"
	"shop-svc/kafka"
	"shop-svc/middleware"
	"shop-svc/notify"
	"shop-svc/payments"
	"shop-svc/reconciler"

	"github.com/gin-gonic/gin"
	"github.com/redis/go-redis/v9"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"
	"go.uber.org/zap"
)

func main() {
	// Initialize logger
	logger, err := zap.NewProduction()
	if err != nil {
		log.Fatalf("Failed to initialize logger: %v", err)
	}
	defer logger.Sync()

	// Initialize database
	db, err := database.InitDB(logger)
	if err != nil {
		logger.Fatal("Failed to initialize database", zap.Error(err))
	}
	defer db.Close()

	// Initialize Redis cache
	redisClient, err := cache.InitRedis(logger)
	if err != nil {
		logger.Fatal("Failed to initialize Redis", zap.Error(err))
	}
	defer redisClient.Close()

	// Initialize Kafka producer
	producer, err := kafka.InitProducer(logger)
	if err != nil {
		logger.Fatal("Failed to initialize Kafka producer", zap.Error(err))
	}
	defer producer.Close()

	// Initialize OpenTelemetry
	shutdownTracing, err := middleware.InitTracing("shop-svc")
	if err != nil {
		logger.Fatal("Failed to initialize tracing", zap.Error(err))
	}

	// Wire services
	gatewayClient := gateway.NewClient(logger)
	cartManager := cart.NewManager(db, logger)
	checkoutCoordinator := checkout.NewCoordinator(db, logger)
	dispatcher := notify.NewDispatcher(producer, logger)
	stateMachine := payments.NewStateMachine(db, dispatcher, logger)
	paymentService := payments.NewService(db, gatewayClient, logger)

	rec := reconciler.New(db, gatewayClient, stateMachine,
		envDuration("RECONCILE_INTERVAL", 5*time.Minute, logger),
		envDuration("RECONCILE_PENDING_EXPIRY", 24*time.Hour, logger),
		logger,
	)
	rec.Start()

	// Setup Gin router
	router := gin.New()
	router.Use(gin.Recovery())
	// OpenTelemetry middleware must be first to extract trace context
	router.Use(otelgin.Middleware("shop-svc"))
	router.Use(middleware.LoggerMiddleware(logger))
	router.Use(middleware.MetricsMiddleware())

	// Health check endpoint
	router.GET("/health", handlers.HealthCheck)

	// Metrics endpoint
	router.GET("/metrics", middleware.PrometheusHandler())

	authHandler := handlers.NewAuthHandler(db, logger)
	catalogHandler := handlers.NewCatalogHandler(db, redisClient, cartManager, logger)
	cartHandler := handlers.NewCartHandler(cartManager, logger)
	checkoutHandler := handlers.NewCheckoutHandler(checkoutCoordinator, logger)
	paymentHandler := handlers.NewPaymentHandler(db, paymentService, stateMachine, gatewayClient, logger)

	// Public endpoints
	router.POST("/auth/register", authHandler.Register)
	router.POST("/auth/login", authHandler.Login)
	router.GET("/categories", catalogHandler.ListCategories)
	router.GET("/categories/:id/products", catalogHandler.ListProductsByCategory)
	router.GET("/products/:id", catalogHandler.GetProduct)
	router.POST("/products", catalogHandler.CreateProduct)
	router.PUT("/products/:id/price", catalogHandler.UpdatePrice)

	// Gateway webhook comes from the payment provider, not a customer
	router.POST("/payments/callback", paymentHandler.Callback)

	// Authenticated endpoints
	authorized := router.Group("/")
	authorized.Use(handlers.AuthRequired())
	{
		authorized.POST("/cart/items", cartHandler.AddItem)
		authorized.GET("/cart", cartHandler.GetCart)
		authorized.PUT("/carts/:cartID/items/:itemID", cartHandler.SetQuantity)
		authorized.POST("/carts/:cartID/items/:itemID/increase", cartHandler.Increase)
		authorized.POST("/carts/:cartID/items/:itemID/decrease", cartHandler.Decrease)
		authorized.DELETE("/carts/:cartID/items/:itemID", cartHandler.RemoveItem)

		authorized.POST("/checkout", checkoutHandler.Checkout)

		authorized.POST("/payments", paymentHandler.Initiate)
		authorized.GET("/payments", paymentHandler.History)
		authorized.GET("/payments/chart", paymentHandler.Chart)
		authorized.GET("/payments/status/:transactionID", paymentHandler.Status)
	}

	// Start server
	srv := &http.Server{
		Addr:    ":" + envString("PORT", "8080"),
		Handler: router,
	}

	go func() {
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatal("Failed to start server", zap.Error(err))
		}
	}()

	logger.Info("Shop service started", zap.String("addr", srv.Addr))

	gracefulShutdown(srv, rec, db, redisClient, shutdownTracing, logger)
}

// gracefulShutdown handles SIGINT/SIGTERM and shuts down all components gracefully
func gracefulShutdown(
	srv *http.Server,
	rec *reconciler.Reconciler,
	db *sql.DB,
	redisClient *redis.Client,
	shutdownTracing func(),
	logger *zap.Logger,
) {
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	logger.Info("Shutdown signal received. Exiting...")

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := srv.Shutdown(ctx); err != nil {
		logger.Error("HTTP server forced to shutdown", zap.Error(err))
	} else {
		logger.Info("HTTP server stopped gracefully")
	}

	rec.Stop()

	if err := redisClient.Close(); err != nil {
		logger.Error("Failed to close Redis client", zap.Error(err))
	}
	if err := db.Close(); err != nil {
		logger.Error("Failed to close database", zap.Error(err))
	}

	shutdownTracing()
	logger.Info("Server exited")
}

func envString(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func envDuration(key string, defaultValue time.Duration, logger *zap.Logger) time.Duration {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	d, err := time.ParseDuration(value)
	if err != nil {
		logger.Warn("Invalid duration, using default",
			zap.String("key", key),
			zap.String("value", value),
			zap.Duration("default", defaultValue),
		)
		return defaultValue
	}
	return d
}
