package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/redis/go-redis/v9"
	"go.mongodb.org/mongo-driver/v2/mongo"
	"go.mongodb.org/mongo-driver/v2/mongo/options"
	"go.uber.org/zap"

	"github.com/corebase/transfer-engine/internal/config"
	"github.com/corebase/transfer-engine/internal/database"
	"github.com/corebase/transfer-engine/internal/keys"
	"github.com/corebase/transfer-engine/internal/queue"
	"github.com/corebase/transfer-engine/internal/realtime"
	"github.com/corebase/transfer-engine/internal/worker"
)

var (
	version = "dev"
	commit  = "none"
	date    = "unknown"
)

func main() {
	for _, arg := range os.Args[1:] {
		if arg == "--version" || arg == "-v" {
			fmt.Printf("transfer-engine %s (commit: %s, built: %s)\n", version, commit, date)
			os.Exit(0)
		}
	}

	cfg := config.Parse()

	log, err := zap.NewProduction()
	if err != nil {
		fmt.Fprintf(os.Stderr, "initializing logger: %v\n", err)
		os.Exit(1)
	}
	defer log.Sync()

	if err := run(cfg, log); err != nil && !errors.Is(err, context.Canceled) {
		log.Fatal("worker exited", zap.Error(err))
	}
}

func run(cfg *config.Config, log *zap.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	client, err := mongo.Connect(options.Client().ApplyURI(cfg.MongoURI))
	if err != nil {
		return fmt.Errorf("connecting to mongo: %w", err)
	}
	defer client.Disconnect(context.Background())

	cache := redis.NewClient(&redis.Options{Addr: cfg.RedisAddr})
	defer cache.Close()

	console := database.NewMongo(client, cfg.ConsoleDB, cache)
	projectDB := func(projectID string) database.Database {
		return database.NewMongo(client, "project_"+projectID, cache)
	}

	hub := realtime.NewHub(log)
	wrk := worker.New(console, projectDB, keys.NewManager(console), hub, cfg.PeerEndpoint, log)

	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("ok"))
	})
	r.Get("/ws/realtime", hub.ServeWS)

	srv := &http.Server{Addr: cfg.Listen, Handler: r}
	go func() {
		log.Info("http listening", zap.String("addr", cfg.Listen))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error("http server", zap.Error(err))
		}
	}()
	defer srv.Shutdown(context.Background())

	consumer := queue.NewConsumer(cfg.AMQPURL, cfg.Queue, log)
	return consumer.Run(ctx, func(ctx context.Context, body []byte) error {
		var payload worker.Payload
		if err := json.Unmarshal(body, &payload); err != nil {
			return fmt.Errorf("decoding job payload: %w", err)
		}
		return wrk.Process(ctx, &payload)
	})
}
