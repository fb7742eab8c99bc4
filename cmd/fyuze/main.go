package main

import (
	"context"
	"database/sql"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gorilla/mux"
	_ "github.com/jackc/pgx/v4/stdlib"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"

	"github.com/fyuze/fyuze/pkg/apiclient"
	"github.com/fyuze/fyuze/pkg/auth"
	"github.com/fyuze/fyuze/pkg/authapi"
	"github.com/fyuze/fyuze/pkg/config"
	"github.com/fyuze/fyuze/pkg/logger"
	"github.com/fyuze/fyuze/pkg/metrics"
	"github.com/fyuze/fyuze/pkg/middleware"
	"github.com/fyuze/fyuze/pkg/search"
	"github.com/fyuze/fyuze/pkg/session"
)

func main() {
	cfg := config.Parse()
	log := logger.Run(cfg.LogLevel)
	defer func() { _ = log.Sync() }()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	collector := metrics.NewCollector(reg)

	store, closeStore, err := openStore(ctx, cfg)
	if err != nil {
		log.Fatalf("can't open session store: %v", err)
	}
	defer closeStore()

	authClient := authapi.New(cfg.BackendURL, cfg.APIKey,
		authapi.WithTimeout(cfg.RequestTimeout),
		authapi.WithMetrics(collector),
	)

	chats := search.NewConversations()

	sessionManager := session.NewManager(store, authClient,
		session.WithRefreshTimeout(cfg.RefreshTimeout),
		session.WithMetrics(collector),
		session.WithLogoutHook(chats.Reset),
	)
	if err := sessionManager.Initialize(ctx); err != nil {
		log.Fatalf("can't restore session: %v", err)
	}

	backend := apiclient.New(cfg.BackendURL, cfg.APIKey, sessionManager,
		apiclient.WithTimeout(cfg.RequestTimeout),
		apiclient.WithMetrics(collector),
	)

	authHandler := auth.NewHandler(auth.NewService(authClient, sessionManager))
	chatHandler := search.NewHandler(search.NewService(backend, sessionManager, chats))

	r := mux.NewRouter()
	r.Handle("/metrics", metrics.Handler(reg)).Methods("GET")

	api := r.PathPrefix("/api").Subrouter()

	// Auth
	api.HandleFunc("/auth/login", authHandler.LogIn).Methods("POST")
	api.HandleFunc("/auth/signup", authHandler.SignUp).Methods("POST")
	api.HandleFunc("/auth/verify", authHandler.Verify).Methods("POST")
	api.HandleFunc("/auth/logout", authHandler.LogOut).Methods("POST")
	api.HandleFunc("/auth/session", authHandler.Session).Methods("GET")

	// Chat
	chat := api.PathPrefix("/chat").Subrouter()
	chat.HandleFunc("", chatHandler.Send).Methods("POST")
	chat.HandleFunc("/{id}", chatHandler.History).Methods("GET")
	chat.Use(middleware.NewRateLimiter(cfg.ChatRateLimit).Middleware)

	noAuthUrls := map[string]struct{}{
		"/metrics":          {},
		"/api/auth/login":   {},
		"/api/auth/signup":  {},
		"/api/auth/verify":  {},
		"/api/auth/logout":  {},
		"/api/auth/session": {},
	}
	authMiddleware := middleware.NewAuthMiddleware(sessionManager, noAuthUrls)
	logMiddleware := middleware.NewLoggingMiddleware(log)

	r.Use(logMiddleware.SetupTracing)
	r.Use(logMiddleware.SetupLogging)
	r.Use(logMiddleware.AccessLog)
	r.Use(logMiddleware.Recover)
	r.Use(authMiddleware.Middleware)

	srv := &http.Server{
		Addr:              cfg.RunAddress,
		Handler:           r,
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		log.Infof("serving at http://%s/", cfg.RunAddress)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatalf("server failed: %v", err)
		}
	}()

	<-ctx.Done()
	log.Info("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Errorf("graceful shutdown failed: %v", err)
	}
}

func openStore(ctx context.Context, cfg *config.Config) (session.Store, func(), error) {
	switch cfg.SessionStore {
	case config.StoreMemory:
		return session.NewMemoryStore(), func() {}, nil
	case config.StorePostgres:
		db, err := sql.Open("pgx", cfg.DatabaseURI)
		if err != nil {
			return nil, nil, err
		}
		pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
		defer cancel()
		if err := db.PingContext(pingCtx); err != nil {
			db.Close()
			return nil, nil, err
		}
		store := session.NewPostgresStore(db, cfg.SessionName)
		if err := store.Migrate(ctx); err != nil {
			db.Close()
			return nil, nil, err
		}
		return store, func() { db.Close() }, nil
	default:
		return session.NewFileStore(cfg.SessionFile, cfg.SessionSecret), func() {}, nil
	}
}
