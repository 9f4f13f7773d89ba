package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/redis/go-redis/v9"
	"golang.org/x/sync/errgroup"

	"llm-chat/internal/chat"
	"llm-chat/internal/config"
	"llm-chat/internal/db"
	"llm-chat/internal/llm"
	"llm-chat/internal/logger"
	"llm-chat/internal/metrics"
	myMiddleware "llm-chat/internal/middleware"
	"llm-chat/internal/seal"
	"llm-chat/internal/user"
)

func main() {
	// 1. Config & Flags
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "❌ config: %v\n", err)
		os.Exit(1)
	}
	addr := flag.String("addr", cfg.Addr, "http service address")
	flag.Parse()
	cfg.Addr = *addr

	log, err := logger.New(cfg.LogMode)
	if err != nil {
		fmt.Fprintf(os.Stderr, "❌ logger: %v\n", err)
		os.Exit(1)
	}
	defer log.Sync()

	if err := cfg.Validate(); err != nil {
		log.Fatal("❌ invalid configuration", "error", err)
	}
	if cfg.EphemeralKey {
		log.Warn("⚠️ using an ephemeral encryption key; stored messages will be unreadable after restart")
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// 2. Connect to Database (Platform Layer)
	database, err := db.NewDatabase(ctx, cfg.DBDSN)
	if err != nil {
		log.Fatal("❌ failed to connect to DB", "error", err)
	}
	defer database.Close()
	log.Info("✅ connected to PostgreSQL")

	if err := database.AutoMigrate(ctx); err != nil {
		log.Fatal("❌ migration failed", "error", err)
	}
	log.Info("✅ database schema initialized")

	// 3. Connect to Redis (Platform Layer)
	redisClient := redis.NewClient(&redis.Options{Addr: cfg.RedisAddr})
	defer redisClient.Close()
	if err := redisClient.Ping(ctx).Err(); err != nil {
		log.Fatal("❌ failed to connect to Redis", "error", err)
	}
	log.Info("✅ connected to Redis")

	// 4. Crypto, upstream, metrics
	cipher, err := seal.New(cfg.EncryptionKey)
	if err != nil {
		log.Fatal("❌ cipher", "error", err)
	}
	upstream, err := llm.NewClient(llm.Config{
		BaseURL: cfg.LLMBaseURL,
		APIKey:  cfg.LLMAPIKey,
		Model:   cfg.LLMModel,
	}, log)
	if err != nil {
		log.Fatal("❌ upstream client", "error", err)
	}
	m := metrics.New()

	// 5. Initialize User Feature
	userRepo := user.NewRepository(database.Conn)
	userService := user.NewService(userRepo, cfg.JWTSecret)
	userHandler := user.NewHandler(userService, log)

	// 6. Initialize Chat Feature
	hub := chat.NewHub(redisClient, log)
	chatService := chat.NewService(chat.ServiceDeps{
		Store:    chat.NewRepository(database.Conn),
		Cipher:   cipher,
		Upstream: upstream,
		Etags:    chat.NewRedisFingerprintCache(redisClient, cfg.HistoryTTL),
		Notifier: hub,
		Metrics:  m,
		Log:      log,
	})
	chatHandler := chat.NewHandler(chatService, hub, cfg.HistoryTTL, log).AllowOrigins(cfg.AllowedOrigins)

	authMiddleware := myMiddleware.NewAuthMiddleware(userService)

	// 7. Define Routes
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(myMiddleware.RequestLogger(log))
	r.Use(middleware.Recoverer)

	// Public Routes
	r.Post("/register", userHandler.Register)
	r.Post("/login", userHandler.Login)
	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
	r.Handle("/metrics", m.Handler())

	// Protected Routes (Require JWT)
	r.Group(func(r chi.Router) {
		r.Use(authMiddleware.Handle)

		// WebSocket (history-changed push)
		r.Get("/ws", chatHandler.ServeWs)

		r.Get("/api/chat/history", chatHandler.GetHistory)
		r.Delete("/api/chat/history", chatHandler.DeleteAll)
		r.Post("/api/chat/completions", chatHandler.Complete)
	})

	srv := &http.Server{
		Addr:              cfg.Addr,
		Handler:           r,
		ReadHeaderTimeout: 10 * time.Second,
	}

	// 8. Run hub, Redis subscription and HTTP server until a signal arrives.
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return hub.Run(gctx) })
	g.Go(func() error { return hub.SubscribeToRedis(gctx) })
	g.Go(func() error {
		log.Info("🚀 server starting", "addr", cfg.Addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})

	if err := g.Wait(); err != nil {
		log.Error("server stopped with error", "error", err)
		return
	}
	log.Info("👋 server stopped")
}
