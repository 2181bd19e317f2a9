package main

import (
	"context"
	"errors"
	"log"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"google.golang.org/grpc"

	"genaiportal.org/internal/auth"
	"genaiportal.org/internal/config"
	"genaiportal.org/internal/events"
	"genaiportal.org/internal/httpapi"
	"genaiportal.org/internal/obs"
	"genaiportal.org/internal/playground"
	"genaiportal.org/internal/project"
	"genaiportal.org/internal/store/pg"
)

var (
	version = "0.1.0"
	commit  = "dev"
)

func main() {
	cfg, err := config.Load(os.Args[1:])
	if err != nil {
		log.Fatalf("config: %v", err)
	}

	obs.Init()
	obs.InitBuildInfo(version, commit)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	var (
		users    auth.UserStore
		projects project.Store
		probe    httpapi.ReadyProbe
		closeDB  = func() {}
	)
	if cfg.DSN != "" {
		store, err := pg.Open(cfg.DSN)
		if err != nil {
			log.Fatalf("open db: %v", err)
		}
		users, projects, probe = store, store, httpapi.ReadyProbe{DB: store}
		closeDB = func() { _ = store.Close() }
	} else {
		obs.Warn("using in-memory store; data is lost on restart", nil)
		users, projects = auth.NewInMemoryUsers(), project.NewInMemory()
	}
	defer closeDB()

	tokens, err := auth.NewTokens(cfg.AuthSecret, cfg.TokenTTL)
	if err != nil {
		log.Fatalf("tokens: %v", err)
	}
	authSvc, err := auth.NewService(users, tokens)
	if err != nil {
		log.Fatalf("auth: %v", err)
	}
	if len(cfg.Users) == 0 {
		obs.Warn("no users provisioned; declare users in the config file or pass -seed-defaults", map[string]any{"store": storeKind(cfg.DSN)})
	}
	seedCtx, cancelSeed := context.WithTimeout(ctx, 30*time.Second)
	created, err := authSvc.EnsureUsers(seedCtx, cfg.Users)
	cancelSeed()
	if err != nil {
		log.Fatalf("seed users: %v", err)
	}
	if created > 0 {
		obs.Info("users_provisioned", map[string]any{"count": created})
	}

	bus := events.New(64)
	api := httpapi.New(httpapi.Options{
		Version:        version,
		Auth:           authSvc,
		Projects:       project.NewService(projects, project.WithNotifier(bus)),
		Events:         bus,
		Chat:           playground.Build(cfg.Models, cfg.ChatURL, cfg.ChatAPIKey),
		Ready:          probe,
		AllowedOrigins: cfg.AllowedOrigins,
		RateLimit:      cfg.RateLimit,
		TrustedProxies: cfg.TrustedProxies,
	})

	srv := &http.Server{
		Addr:              cfg.Addr,
		Handler:           api.Handler(),
		ReadTimeout:       15 * time.Second,
		ReadHeaderTimeout: 15 * time.Second,
		WriteTimeout:      90 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	var grpcSrv *grpc.Server
	if cfg.GRPCAddr != "" {
		lis, err := net.Listen("tcp", cfg.GRPCAddr)
		if err != nil {
			log.Fatalf("grpc listen: %v", err)
		}
		health := httpapi.NewGRPCServer(probe)
		grpcSrv = grpc.NewServer()
		health.Register(grpcSrv)
		go health.Run(ctx, 10*time.Second)
		go func() {
			if err := grpcSrv.Serve(lis); err != nil && !errors.Is(err, grpc.ErrServerStopped) {
				log.Fatalf("grpc serve: %v", err)
			}
		}()
		obs.Info("grpc_listening", map[string]any{"addr": cfg.GRPCAddr})
	}

	obs.Info("http_listening", map[string]any{
		"addr":    srv.Addr,
		"version": version,
		"store":   storeKind(cfg.DSN),
		"models":  len(cfg.Models),
	})

	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatalf("listen: %v", err)
		}
	}()

	<-ctx.Done()
	obs.Info("shutting_down", nil)

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	_ = srv.Shutdown(shutdownCtx)
	if grpcSrv != nil {
		grpcSrv.GracefulStop()
	}
	obs.Info("stopped", nil)
}

func storeKind(dsn string) string {
	if dsn == "" {
		return "memory"
	}
	return "postgres"
}
