package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/cors"
	"go.mongodb.org/mongo-driver/mongo"

	"crimson-pen/api/router"
	"crimson-pen/config"
	"crimson-pen/db"
	"crimson-pen/repositories"
)

func main() {
	config.InitApp()
	cfg := config.GetConfig()
	config.InitLogger(cfg.Logging)

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	var mongoDB *mongo.Database
	if cfg.Mongo.URI != "" {
		if err := db.Init(ctx, cfg.Mongo); err != nil {
			config.Logger.Errorf("failed to initialize MongoDB: %v", err)
			os.Exit(1)
		}
		defer db.Close(context.Background())
		mongoDB = db.Database()
	}

	backend, err := repositories.NewHistoryBackend(cfg.History, mongoDB)
	if err != nil {
		config.Logger.Errorf("history backend: %v", err)
		os.Exit(1)
	}
	r := router.New(router.Options{
		Store:  repositories.NewHistoryStore(backend, cfg.History.MaxEntries),
		Render: cfg.Render,
		Mongo:  mongoDB,
	})

	origins := cfg.API.AllowedOrigins
	if len(origins) == 0 {
		origins = []string{"*"}
	}
	handler := cors.New(cors.Options{
		AllowedOrigins: origins,
		AllowedMethods: []string{http.MethodGet, http.MethodHead, http.MethodOptions},
	}).Handler(r)

	srv := &http.Server{Addr: cfg.API.Addr, Handler: handler, ReadHeaderTimeout: 10 * time.Second}
	go func() {
		config.Logger.Infof("starting api server on %s", cfg.API.Addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			config.Logger.Errorf("api server error: %v", err)
			cancel()
		}
	}()

	<-ctx.Done()
	config.Logger.Info("received shutdown signal, shutting down api server...")

	shutdownCtx, stop := context.WithTimeout(context.Background(), 10*time.Second)
	defer stop()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		config.Logger.Errorf("api server shutdown: %v", err)
	}
	config.Logger.Info("api server stopped")
}
