package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/fjod/storefront/internal/catalog"
	"github.com/fjod/storefront/internal/config"
	storegrpc "github.com/fjod/storefront/internal/grpc"
	h "github.com/fjod/storefront/internal/http"
	"github.com/fjod/storefront/internal/identity"
	"github.com/fjod/storefront/internal/metrics"
	"github.com/fjod/storefront/internal/publisher"
	"github.com/fjod/storefront/internal/repository"
	"github.com/fjod/storefront/internal/service"
	"github.com/fjod/storefront/internal/session"
	"github.com/fjod/storefront/pkg/logger"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/redis/go-redis/v9"
)

func main() {
	configPath := flag.String("config", os.Getenv("CONFIG_FILE"), "path to an optional YAML config file")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		slog.Error("invalid configuration", "error", err)
		os.Exit(1)
	}

	log := logger.New(cfg.LogLevel)
	slog.SetDefault(log)

	if err := run(cfg, log); err != nil {
		log.Error("storefront stopped with error", "error", err)
		os.Exit(1)
	}
}

func run(cfg *config.Config, log *slog.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// Database setup
	creds := &repository.Credentials{
		Driver:            cfg.Database.Driver,
		Host:              cfg.Database.Host,
		Port:              cfg.Database.Port,
		User:              cfg.Database.User,
		Password:          cfg.Database.Password,
		DBName:            cfg.Database.Name,
		SQLitePath:        cfg.Database.SQLitePath,
		MigrationsDirPath: cfg.Database.MigrationsDir,
	}
	repo, err := repository.NewRepository(creds)
	if err != nil {
		return fmt.Errorf("failed to connect to database: %w", err)
	}
	defer repo.Close()

	if err := repo.RunMigrations(creds); err != nil {
		return fmt.Errorf("failed to run migrations: %w", err)
	}
	log.Info("database ready", "driver", repo.Driver())

	carts, closeCarts, err := newSessionStore(ctx, cfg.Session, log)
	if err != nil {
		return err
	}
	defer closeCarts()

	ids, err := identity.NewProvider(cfg.JWTSecret, identity.DefaultTokenTTL)
	if err != nil {
		return err
	}

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	m := metrics.New(reg)

	svcCfg := service.Config{TxTimeout: cfg.Database.TxTimeout}
	cat := catalog.NewService(repo, log)
	cartSvc := service.NewCartService(cat, carts, log)
	checkoutSvc := service.NewCheckoutService(repo, carts, svcCfg, log, m)
	orderSvc := service.NewOrderService(repo, carts, svcCfg, log, m)

	handlers := h.Handlers{
		Products: h.NewProductHandler(cat, cfg.RequestTimeout),
		Cart:     h.NewCartHandler(cartSvc, cfg.RequestTimeout),
		Checkout: h.NewCheckoutHandler(checkoutSvc, cartSvc, cfg.RequestTimeout),
		Orders:   h.NewOrdersHandler(orderSvc, cfg.RequestTimeout),
	}
	router := h.NewRouter(h.RouterConfig{
		RequestTimeout: cfg.RequestTimeout,
		SessionCookie:  cfg.Session.Cookie,
		SessionTTL:     cfg.Session.TTL,
	}, handlers, ids, repo, m, log)

	srv := &http.Server{
		Addr:         ":" + cfg.HTTPPort,
		Handler:      router,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: cfg.RequestTimeout + 5*time.Second,
		IdleTimeout:  60 * time.Second,
	}

	lis, err := net.Listen("tcp", ":"+cfg.GRPCPort)
	if err != nil {
		return fmt.Errorf("failed to listen: %w", err)
	}
	ops := storegrpc.NewServer(repo, storegrpc.DefaultCheckInterval, log)

	errCh := make(chan error, 2)
	go func() {
		log.Info("http server listening", "port", cfg.HTTPPort)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- fmt.Errorf("http server: %w", err)
		}
	}()
	go func() {
		if err := ops.Serve(ctx, lis); err != nil {
			errCh <- fmt.Errorf("grpc server: %w", err)
		}
	}()

	pollerDone := make(chan struct{})
	if len(cfg.Kafka.Brokers) > 0 {
		poller := publisher.NewOutboxPoller(repo,
			publisher.NewKafkaWriter(cfg.Kafka.Topic, cfg.Kafka.Brokers...),
			publisher.Config{EventTick: cfg.Kafka.PollInterval}, m, log)
		defer poller.Close()
		go func() {
			poller.Run(ctx)
			close(pollerDone)
		}()
	} else {
		log.Warn("KAFKA_BROKERS not set, order events stay in the outbox")
		close(pollerDone)
	}

	select {
	case <-ctx.Done():
		log.Info("shutting down")
	case err := <-errCh:
		stop()
		log.Error("server failed, shutting down", "error", err)
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error("http server forced to shutdown", "error", err)
	}
	ops.Stop()

	select {
	case <-pollerDone:
	case <-shutdownCtx.Done():
	}

	log.Info("storefront stopped")
	return nil
}

func newSessionStore(ctx context.Context, cfg config.SessionConfig, log *slog.Logger) (session.Store, func(), error) {
	switch cfg.Store {
	case "mongo":
		db, err := session.ConnectMongoDB(ctx, cfg.MongoURI, cfg.MongoDB)
		if err != nil {
			return nil, nil, err
		}
		store := session.NewMongoStore(db, cfg.TTL)
		if err := store.CreateIndexes(ctx); err != nil {
			return nil, nil, err
		}
		log.Info("session carts in mongodb", "db", cfg.MongoDB)
		return store, func() { _ = db.Client().Disconnect(context.Background()) }, nil

	default:
		client := redis.NewClient(&redis.Options{
			Addr:     cfg.RedisAddr,
			Password: cfg.RedisPassword,
			DB:       0,
		})
		if err := client.Ping(ctx).Err(); err != nil {
			_ = client.Close()
			return nil, nil, fmt.Errorf("redis connection failed: %w", err)
		}
		log.Info("session carts in redis", "addr", cfg.RedisAddr)
		return session.NewRedisStore(client, cfg.TTL), func() { _ = client.Close() }, nil
	}
}
