package cli

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os/signal"
	"sync"
	"syscall"

	"github.com/fjod/storefront/internal/cache"
	"github.com/fjod/storefront/internal/circuitbreaker"
	"github.com/fjod/storefront/internal/config"
	apihttp "github.com/fjod/storefront/internal/http"
	"github.com/fjod/storefront/internal/identity"
	"github.com/fjod/storefront/internal/logger"
	"github.com/fjod/storefront/internal/poller"
	"github.com/fjod/storefront/internal/publisher"
	"github.com/fjod/storefront/internal/repository"
	"github.com/fjod/storefront/internal/service"
	"github.com/redis/go-redis/v9"
	"github.com/spf13/cobra"
)

func newServeCmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the storefront HTTP API",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := opts.load()
			if err != nil {
				return err
			}
			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()
			return serve(ctx, cfg)
		},
	}
}

func tokenConfig(cfg config.Config) identity.TokenConfig {
	return identity.TokenConfig{
		Secret:   cfg.Security.JWTSecret,
		Issuer:   cfg.Security.Issuer,
		Audience: cfg.Security.Audience,
		TTL:      cfg.Security.TokenTTL,
	}
}

type app struct {
	server  *http.Server
	workers []func(ctx context.Context)
	closers []func() error
}

func (a *app) close(log *slog.Logger) {
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](); err != nil {
			log.Warn("close failed", "err", err)
		}
	}
}

// buildApp wires persistence, cache, messaging and the HTTP router from cfg.
// Components whose configuration is empty (redis, kafka) are skipped.
func buildApp(ctx context.Context, cfg config.Config, log *slog.Logger) (*app, error) {
	a := &app{}

	repo, err := openRepository(cfg)
	if err != nil {
		return nil, err
	}
	a.closers = append(a.closers, repo.Close)
	log.Info("database ready", "driver", repo.Driver())

	var carts repository.CartRepository = repo
	if cfg.Cart.Backend == "mongo" {
		db, err := repository.ConnectMongoDB(ctx, cfg.Mongo.URI, cfg.Mongo.Database)
		if err != nil {
			a.close(log)
			return nil, fmt.Errorf("connect mongo: %w", err)
		}
		a.closers = append(a.closers, func() error { return db.Client().Disconnect(context.Background()) })
		mongoCarts := repository.NewMongoCartRepository(db, repo)
		if err := mongoCarts.CreateIndexes(ctx); err != nil {
			a.close(log)
			return nil, fmt.Errorf("create cart indexes: %w", err)
		}
		carts = mongoCarts
		log.Info("cart lines stored in mongo", "database", cfg.Mongo.Database)
	}

	var (
		cartCache cache.CartCache
		idem      service.IdempotencyStore
	)
	if cfg.RedisEnabled() {
		rdb := redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       0,
		})
		a.closers = append(a.closers, rdb.Close)
		if err := rdb.Ping(ctx).Err(); err != nil {
			a.close(log)
			return nil, fmt.Errorf("redis ping: %w", err)
		}
		cartCache = cache.NewRedisCache(rdb, cfg.Redis.CartTTL)
		idem = cache.NewRedisIdempotencyStore(rdb, cfg.Checkout.IdempotencyTTL)
		log.Info("redis ready", "addr", cfg.Redis.Addr)
	}

	guard := circuitbreaker.New(circuitbreaker.Settings{
		Name:        "persistence",
		CallTimeout: cfg.Persistence.CallTimeout,
		MaxFailures: cfg.Persistence.BreakerFailures,
		OpenTimeout: cfg.Persistence.BreakerOpenTimeout,
		Logger:      logger.New("breaker"),
	})
	placement, err := service.ParsePlacement(cfg.Checkout.Placement)
	if err != nil {
		a.close(log)
		return nil, err
	}

	cartService := service.NewCartService(service.CartServiceOptions{
		Repo:     carts,
		Products: repo,
		Cache:    cartCache,
		Guard:    guard,
		Logger:   logger.New("cart"),
	})
	checkoutOpts := service.CheckoutOptions{
		Orders:      repo,
		Idempotency: idem,
		Placement:   placement,
		Guard:       guard,
		Logger:      logger.New("checkout"),
	}

	if cfg.KafkaEnabled() {
		outbox := publisher.NewOutboxPoller(repo, cfg.Kafka.Topic, cfg.Kafka.Brokers...)
		reconciler := poller.NewPoller(carts, cartService, cfg.Kafka.Topic, cfg.Kafka.GroupID, cfg.Kafka.Brokers...)
		a.workers = append(a.workers, outbox.Run, reconciler.Run)
		a.closers = append(a.closers, outbox.Close, reconciler.Close)
		log.Info("kafka enabled", "brokers", cfg.Kafka.Brokers, "topic", cfg.Kafka.Topic)
	}

	handler := apihttp.NewRouter(apihttp.RouterOptions{
		Cart:           apihttp.NewCartHandler(cartService, cfg.HTTP.RequestTimeout),
		Checkout:       apihttp.NewCheckoutHandler(cartService, checkoutOpts, cfg.HTTP.RequestTimeout),
		Orders:         apihttp.NewOrdersHandler(repo, guard, cfg.HTTP.RequestTimeout),
		Verifier:       identity.NewVerifier(tokenConfig(cfg)),
		Logger:         logger.New("http"),
		RequestTimeout: cfg.HTTP.RequestTimeout,
	})
	a.server = &http.Server{
		Addr:         cfg.App.HTTPAddr,
		Handler:      handler,
		ReadTimeout:  cfg.HTTP.ReadTimeout,
		WriteTimeout: cfg.HTTP.WriteTimeout,
		IdleTimeout:  cfg.HTTP.IdleTimeout,
	}
	return a, nil
}

func serve(ctx context.Context, cfg config.Config) error {
	log := logger.Init(logger.Options{
		Component: cfg.App.Name,
		Level:     cfg.App.LogLevel,
		FilePath:  cfg.App.LogFile,
	})

	a, err := buildApp(ctx, cfg, log)
	if err != nil {
		return err
	}
	defer a.close(log)

	workerCtx, cancelWorkers := context.WithCancel(context.Background())
	var wg sync.WaitGroup
	for _, run := range a.workers {
		wg.Add(1)
		go func() {
			defer wg.Done()
			run(workerCtx)
		}()
	}

	errCh := make(chan error, 1)
	go func() {
		log.Info("storefront starting", "addr", cfg.App.HTTPAddr)
		if err := a.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err = <-errCh:
	case <-ctx.Done():
		log.Info("shutting down server...")
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.HTTP.ShutdownTimeout)
	defer cancel()
	if serr := a.server.Shutdown(shutdownCtx); serr != nil {
		log.Error("server forced to shutdown", "err", serr)
	}
	cancelWorkers()
	wg.Wait()

	log.Info("server exited")
	if err != nil {
		return fmt.Errorf("http server: %w", err)
	}
	return nil
}
