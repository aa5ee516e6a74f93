package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	zlog "github.com/rs/zerolog/log"

	"github.com/joho/godotenv"

	"github.com/coinledger/coinledger-api/internal/auth"
	"github.com/coinledger/coinledger-api/internal/database"
	"github.com/coinledger/coinledger-api/internal/execution"
	"github.com/coinledger/coinledger-api/internal/oracle"
	"github.com/coinledger/coinledger-api/internal/orders"
	"github.com/coinledger/coinledger-api/internal/portfolio"
	"github.com/coinledger/coinledger-api/internal/sweeper"
	"github.com/coinledger/coinledger-api/pkg/middleware"

	"github.com/gin-gonic/gin"
)

// init configures the application logging based on environment settings
// In development mode, it enables pretty printing with timestamps
// Debug logging can be enabled via DEBUG environment variable
func init() {
	if os.Getenv("ENV") != "production" {
		output := zerolog.ConsoleWriter{
			Out:        os.Stdout,
			TimeFormat: time.RFC3339,
		}
		zlog.Logger = zerolog.New(output).With().Timestamp().Logger()
	}

	zerolog.SetGlobalLevel(zerolog.InfoLevel)
	if os.Getenv("DEBUG") == "true" {
		zerolog.SetGlobalLevel(zerolog.DebugLevel)
	}
}

// main initializes and runs the ledger API server with graceful
// shutdown support.
func main() {
	// Local overrides; absence of the file is fine
	_ = godotenv.Load()

	jwtSecret := os.Getenv("JWT_SECRET")
	if jwtSecret == "" {
		jwtSecret = "coinledger-secret-key"
	}

	db, err := database.NewDatabase()
	if err != nil {
		zlog.Fatal().Err(err).Msg("Failed to initialize database")
	}

	router := gin.Default()

	// Initialize services and handlers
	authService := auth.NewService(jwtSecret)
	authHandlers := auth.NewGinHandlers(authService)
	// Register test credentials
	authService.RegisterAPICredentials(auth.TestAPIKey, auth.TestAPISecret, auth.TestUserID)

	priceSource := oracle.NewHTTPSource(os.Getenv("PRICE_API_URL"))

	portfolioService := portfolio.NewService(db)
	portfolioHandlers := portfolio.NewGinHandlers(portfolioService)

	executionService := execution.NewService(db)

	orderService := orders.NewService(db, priceSource, executionService)
	orderHandlers := orders.NewGinHandlers(orderService)

	executionHandlers := execution.NewGinHandlers(executionService, orderService)

	sweepService := sweeper.NewService(orderService, executionService, priceSource)
	sweepHandlers := sweeper.NewGinHandlers(sweepService)

	// Background limit order sweeps
	sweepInterval := time.Minute
	if raw := os.Getenv("SWEEP_INTERVAL"); raw != "" {
		if parsed, err := time.ParseDuration(raw); err == nil {
			sweepInterval = parsed
		}
	}
	sweepProcessor := sweeper.NewProcessor(sweepService, sweepInterval)
	processorCtx, processorCancel := context.WithCancel(context.Background())
	defer processorCancel()

	go sweepProcessor.Start(processorCtx)

	router.Use(middleware.RateLimit())

	setupRoutes(router, jwtSecret, authHandlers, portfolioHandlers, orderHandlers, executionHandlers, sweepHandlers)

	port := os.Getenv("PORT")
	if port == "" {
		port = "8080"
	}

	srv := &http.Server{
		Addr:    ":" + port,
		Handler: router,
	}

	// Graceful shutdown setup
	go func() {
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			zlog.Fatal().Err(err).Msg("listen")
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	zlog.Info().Msg("Shutting down server...")

	// Give outstanding operations 5 seconds to complete
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		zlog.Fatal().Err(err).Msg("Server forced to shutdown")
	}

	zlog.Info().Msg("Server exiting")
}

// setupRoutes configures all API endpoints and their handlers:
// - Auth routes: public endpoints for token issuance
// - Portfolio and order routes: protected by JWT authentication
// - Internal routes: direct execution and on-demand sweeps, protected
//   by internal network authentication
func setupRoutes(
	router *gin.Engine,
	jwtSecret string,
	authHandlers *auth.GinHandlers,
	portfolioHandlers *portfolio.GinHandlers,
	orderHandlers *orders.GinHandlers,
	executionHandlers *execution.GinHandlers,
	sweepHandlers *sweeper.GinHandlers,
) {
	v1 := router.Group("/api/v1")
	{
		authGroup := v1.Group("/auth")
		{
			authGroup.POST("/token", authHandlers.GenerateTokenHandler())
		}

		portfolioGroup := v1.Group("/portfolio")
		portfolioGroup.Use(middleware.JWTAuth(jwtSecret))
		{
			portfolioGroup.POST("", portfolioHandlers.CreateProfileHandler())
			portfolioGroup.GET("", portfolioHandlers.GetPortfolioHandler())
			portfolioGroup.POST("/deposit", portfolioHandlers.DepositHandler())
			portfolioGroup.POST("/withdraw", portfolioHandlers.WithdrawHandler())
		}

		v1.GET("/transactions", middleware.JWTAuth(jwtSecret), portfolioHandlers.GetTransactionsHandler())

		ordersGroup := v1.Group("/orders")
		ordersGroup.Use(middleware.JWTAuth(jwtSecret))
		{
			ordersGroup.POST("", orderHandlers.PlaceOrderHandler())
			ordersGroup.GET("", orderHandlers.ListOrdersHandler())
			ordersGroup.GET("/:order_id", orderHandlers.GetOrderHandler())
			ordersGroup.POST("/:order_id/cancel", orderHandlers.CancelOrderHandler())
		}

		// Internal routes (should be protected by internal network)
		internal := v1.Group("/internal")
		internal.Use(middleware.InternalAuth(jwtSecret))
		{
			internal.POST("/execution/:order_id", executionHandlers.ExecuteOrderHandler())
			internal.POST("/sweep", sweepHandlers.SweepHandler())
		}
	}
}
