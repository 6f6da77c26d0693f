package main

import (
	"context"
	"errors"
	"net/http"
	"os/signal"
	"syscall"

	"koma-chat/internal/auth"
	"koma-chat/internal/broker"
	"koma-chat/internal/config"
	"koma-chat/internal/database"
	"koma-chat/internal/handlers"
	"koma-chat/internal/models"
	"koma-chat/internal/presence"
	"koma-chat/internal/services"
	"koma-chat/internal/websocket"
	"koma-chat/pkg/logger"

	"golang.org/x/sync/errgroup"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		logger.Fatal("Failed to load configuration: %v", err)
	}

	logger.Init(logger.Config{Level: cfg.Log.Level, Pretty: cfg.Log.Pretty, Service: "koma-chat"})

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	db, err := database.Open(ctx, cfg.Database)
	if err != nil {
		logger.Fatal("Failed to open database: %v", err)
	}
	defer db.Close()

	b, err := broker.New(ctx, cfg.Broker)
	if err != nil {
		logger.Fatal("Failed to start %s broker: %v", cfg.Broker.Driver, err)
	}
	defer b.Close()

	hubManager := websocket.NewManager(b, cfg.Chat.HubIdleTimeout)
	if err := hubManager.Start(ctx); err != nil {
		logger.Fatal("Failed to subscribe to broker: %v", err)
	}

	tracker := presence.NewTracker()
	authService := auth.NewService(db, cfg.JWT)
	roomService := services.NewRoomService(db, tracker, models.DefaultRooms)
	chatService := services.NewChatService(db, db, tracker, hubManager, services.ChatOptions{
		HistoryLimit:       cfg.Chat.HistoryLimit,
		PersistConcurrency: cfg.Chat.PersistConcurrency,
		PersistTimeout:     cfg.Chat.PersistTimeout,
	})

	if cfg.Chat.SeedDefaultRooms {
		if err := roomService.EnsureDefaultRooms(ctx); err != nil {
			logger.Fatal("Failed to create default rooms: %v", err)
		}
	}

	wsHandlers := handlers.NewWebSocketHandlers(authService, chatService, websocket.SettingsFromConfig(cfg.WebSocket), cfg.WebSocket.AllowedOrigins)
	router := handlers.NewRouter(logger.L(),
		handlers.NewAuthHandlers(authService, roomService),
		handlers.NewRoomHandlers(roomService, chatService, authService),
		wsHandlers,
	)

	server := &http.Server{
		Addr:         cfg.Server.Port,
		Handler:      router,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		logger.Info("🚀 Server started on http://localhost%s (db=%s, broker=%s)", cfg.Server.Port, cfg.Database.Driver, cfg.Broker.Driver)
		logger.Info("📡 WebSocket endpoint: ws://localhost%s/ws/{room}", cfg.Server.Port)
		printAPIEndpoints()
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		logger.Info("Server shutting down...")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
		defer cancel()

		// hijacked websocket connections are not tracked by server.Shutdown.
		// New upgrades are refused first; sessions still opening fail to
		// subscribe once the manager is shutting down.
		wsHandlers.Drain()
		if err := hubManager.Shutdown(shutdownCtx); err != nil {
			logger.Warn("Closing websocket sessions: %v", err)
		}
		return server.Shutdown(shutdownCtx)
	})

	if err := g.Wait(); err != nil {
		logger.Error("Server error: %v", err)
	}
	logger.Info("Server stopped")
}

func printAPIEndpoints() {
	logger.Info("🔗 API endpoints:")
	logger.Info("   GET  /health")
	logger.Info("   POST /register")
	logger.Info("   POST /login")
	logger.Info("   GET  /rooms")
	logger.Info("   GET  /rooms/{name}")
	logger.Info("   POST /rooms/{name}/messages")
	logger.Info("   GET  /rooms/{name}/active")
	logger.Info("   GET  /ws/{name}  (or /ws?room=name)")
}
