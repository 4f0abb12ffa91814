package main

import (
	"context"
	"log"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"vpnstore/internal/bot"
	"vpnstore/internal/config"
	"vpnstore/internal/database"
	"vpnstore/internal/deposit"
	"vpnstore/internal/feed"
	"vpnstore/internal/handler"
	"vpnstore/internal/middleware"
	"vpnstore/internal/payment"
	"vpnstore/internal/provision"
	"vpnstore/internal/reconcile"

	"github.com/gin-gonic/gin"
	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/joho/godotenv"
	"go.uber.org/zap"
)

func main() {
	// Load .env file if it exists
	if err := godotenv.Load(); err != nil {
		log.Println("No .env file found")
	}

	cfg := config.Load()

	logger, err := zap.NewProduction()
	if err != nil {
		log.Fatalf("Failed to initialize logger: %v", err)
	}
	defer logger.Sync()

	db, err := database.New(cfg.Database.Path)
	if err != nil {
		logger.Fatal("failed to initialize database", zap.Error(err))
	}
	defer db.Close()

	tracker := deposit.NewTracker(db, deposit.Options{
		TTL:          cfg.Deposit.TTL,
		SurchargeMax: cfg.Deposit.SurchargeMax,
		MinStandard:  cfg.Deposit.MinStandard,
		MinReseller:  cfg.Deposit.MinReseller,
	}, logger)
	if err := tracker.Rehydrate(); err != nil {
		logger.Fatal("failed to rehydrate pending deposits", zap.Error(err))
	}

	api, err := tgbotapi.NewBotAPI(cfg.Bot.Token)
	if err != nil {
		logger.Fatal("failed to initialize bot", zap.Error(err))
	}

	gateway := payment.NewGateway(cfg.Gateway.BaseURL, cfg.Gateway.APIKey, cfg.Gateway.QRISCode, cfg.Gateway.Timeout, logger)
	panel := provision.NewPanelClient(cfg.Provision.Timeout, logger)
	coordinator := provision.NewCoordinator(db, panel, cfg.Provision.Timeout, logger)
	storeBot := bot.New(api, db, tracker, gateway, coordinator, cfg.Bot, logger)

	feedClient := feed.NewClient(cfg.Feed.URL, cfg.Feed.Username, cfg.Feed.Token, cfg.Feed.Timeout, logger)
	reconciler := reconcile.New(tracker, db, feedClient, storeBot, cfg.Deposit.PollInterval, logger)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	go reconciler.Run(ctx)
	go storeBot.Run(ctx)

	h := handler.NewHandler(db, cfg.Server.AdminAPIKey, logger)
	router := setupRouter(h, logger)

	rateLimiter := middleware.NewIPRateLimiter(cfg.RateLimit)
	router.Use(rateLimiter.RateLimit())

	server := &http.Server{
		Addr:         ":" + cfg.Server.Port,
		Handler:      router,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		server.Shutdown(shutdownCtx)
	}()

	logger.Info("server starting", zap.String("port", cfg.Server.Port))
	if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		logger.Fatal("failed to start server", zap.Error(err))
	}
}

func setupRouter(h *handler.Handler, logger *zap.Logger) *gin.Engine {
	router := gin.New()

	router.Use(gin.Recovery())
	router.Use(middleware.Logger(logger))
	router.Use(middleware.Cors())

	// Health check endpoint
	router.GET("/api/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{
			"status": "ok",
			"time":   time.Now().Format(time.RFC3339),
		})
	})

	// API v1 routes
	v1 := router.Group("/api/v1")
	{
		servers := v1.Group("/servers")
		{
			servers.GET("", h.ListServers)
			servers.POST("", h.AdminAuth(), h.CreateServer)
			servers.PUT("/:id", h.AdminAuth(), h.UpdateServer)
			servers.DELETE("/:id", h.AdminAuth(), h.DeleteServer)
		}

		users := v1.Group("/users", h.AdminAuth())
		{
			users.GET("/:id", h.GetUser)
			users.POST("/:id/credit", h.CreditUser)
			users.GET("/:id/ledger", h.GetLedger)
		}
	}

	return router
}
