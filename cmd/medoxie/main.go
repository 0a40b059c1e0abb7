package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/ThreeDotsLabs/watermill-redisstream/pkg/redisstream"
	"github.com/gin-gonic/gin"
	"github.com/medoxie/gateway/adapters/events"
	"github.com/medoxie/gateway/adapters/lens"
	"github.com/medoxie/gateway/adapters/store"
	"github.com/medoxie/gateway/adapters/withings"
	"github.com/medoxie/gateway/internal/config"
	"github.com/medoxie/gateway/internal/logger"
	"github.com/medoxie/gateway/ports"
	"github.com/medoxie/gateway/service"
	transport "github.com/medoxie/gateway/transport/http"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

const shutdownTimeout = 10 * time.Second

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	zapLogger, err := logger.New(cfg.Logging.Level, cfg.Server.Environment)
	if err != nil {
		log.Fatalf("Failed to create logger: %v", err)
	}
	defer zapLogger.Sync()

	if err := run(cfg, zapLogger); err != nil {
		zapLogger.Fatal("gateway stopped", zap.Error(err))
	}
}

func run(cfg *config.Config, zapLogger *zap.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// Parse Redis URL and create client
	opts, err := redis.ParseURL(cfg.Redis.URL)
	if err != nil {
		return err
	}
	redisClient := redis.NewClient(opts)
	defer redisClient.Close()

	if err := redisClient.Ping(ctx).Err(); err != nil {
		return fmt.Errorf("failed to connect to redis: %w", err)
	}
	redisStore := store.NewRedisStore(redisClient, cfg.Redis.KeyPrefix)

	var eventPub ports.EventPublisher = events.NopPublisher{}
	if cfg.Events.Enabled {
		publisher, err := redisstream.NewPublisher(
			redisstream.PublisherConfig{Client: redisClient},
			logger.NewWatermillAdapter(logger.WithComponent(zapLogger, "events")),
		)
		if err != nil {
			return err
		}
		defer publisher.Close()
		eventPub = events.NewWatermillPublisher(publisher)
	}

	withingsCfg := withings.Config{
		ClientID:     cfg.Withings.ClientID,
		ClientSecret: cfg.Withings.ClientSecret,
		RedirectURI:  cfg.Withings.RedirectURI,
		APIBaseURL:   cfg.Withings.APIBaseURL,
		OAuthBaseURL: cfg.Withings.OAuthBaseURL,
		Scopes:       cfg.Withings.Scopes,
		HTTPClient:   &http.Client{Timeout: cfg.Withings.HTTPTimeout},
	}
	oauthClient := withings.NewOAuthClient(withingsCfg, logger.WithComponent(zapLogger, "withings_oauth"))
	dataClient := withings.NewDataClient(withingsCfg, logger.WithComponent(zapLogger, "withings_data"))

	oracle := lens.NewOracle(lens.Config{
		APIURL:     cfg.Lens.APIURL,
		HTTPClient: &http.Client{Timeout: cfg.Lens.HTTPTimeout},
	}, zapLogger)

	var users ports.UserIDResolver = service.ProfileUserIDResolver{}
	if cfg.Lens.UserIDStrategy == config.UserIDFromLensAttribute {
		users = oracle
	}

	handlers := transport.NewWithingsHandlers(transport.Dependencies{
		Authenticator: service.NewAuthenticator(logger.WithComponent(zapLogger, "authenticator"), cfg.Auth.TimestampTolerance),
		Oracle:        oracle,
		Users:         users,
		States:        service.NewStateStore(redisStore, logger.WithComponent(zapLogger, "state_store")),
		Tokens: service.NewTokenManager(
			redisStore,
			oauthClient,
			eventPub,
			logger.WithComponent(zapLogger, "token_manager"),
			cfg.Auth.RefreshWindow,
		),
		OAuth:    oauthClient,
		Data:     dataClient,
		StateTTL: cfg.Auth.StateTTL,
		Logger:   logger.WithComponent(zapLogger, "http"),
	})

	if cfg.IsProduction() {
		gin.SetMode(gin.ReleaseMode)
	}
	router := transport.SetupRouter(handlers, cfg.IsProduction(), logger.WithComponent(zapLogger, "http"))

	server := &http.Server{
		Addr:              cfg.Server.Addr,
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		zapLogger.Info("gateway listening", zap.String("addr", cfg.Server.Addr), zap.String("environment", cfg.Server.Environment))
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	zapLogger.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	return server.Shutdown(shutdownCtx)
}
