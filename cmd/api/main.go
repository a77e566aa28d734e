package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"sync"
	"syscall"
	"time"

	"cloud.google.com/go/firestore"
	"cloud.google.com/go/pubsub"
	"go.uber.org/zap"
	"google.golang.org/api/iterator"

	"github.com/fernmarket/api/internal/di"
	"github.com/fernmarket/api/internal/handlers"
	"github.com/fernmarket/api/internal/notifications"
	"github.com/fernmarket/api/internal/payments"
	"github.com/fernmarket/api/internal/platform/auth"
	"github.com/fernmarket/api/internal/platform/config"
	pfirestore "github.com/fernmarket/api/internal/platform/firestore"
	"github.com/fernmarket/api/internal/platform/idempotency"
	"github.com/fernmarket/api/internal/platform/observability"
	"github.com/fernmarket/api/internal/repositories"
	firestoreRepo "github.com/fernmarket/api/internal/repositories/firestore"
	"github.com/fernmarket/api/internal/services"
	"github.com/fernmarket/api/internal/shipping"
)

func main() {
	ctx := context.Background()
	startedAt := time.Now().UTC()

	baseLogger, err := observability.NewLogger()
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to initialise logger: %v\n", err)
		os.Exit(1)
	}
	defer func() {
		_ = baseLogger.Sync()
	}()

	logger := baseLogger.Named("api")
	ctx = observability.WithLogger(ctx, logger)

	cfg, err := config.Load()
	if err != nil {
		logger.Fatal("failed to load configuration", zap.Error(err))
	}

	buildInfo := services.BuildInfo{
		Version:     cfg.ReleaseLabel,
		Environment: cfg.Environment,
		StartedAt:   startedAt,
	}

	firestoreProvider := pfirestore.NewProvider(
		cfg.Firestore.ProjectID,
		pfirestore.WithEmulatorHost(cfg.Firestore.EmulatorHost),
	)
	firestoreClient, err := firestoreProvider.Client(ctx)
	if err != nil {
		logger.Fatal("failed to initialise firestore client", zap.Error(err))
	}
	defer func() {
		if err := firestoreProvider.Close(); err != nil {
			logger.Warn("firestore close error", zap.Error(err))
		}
	}()

	notificationTopic, pubsubClient, err := newNotificationTopic(ctx, cfg)
	if err != nil {
		logger.Fatal("failed to initialise pubsub topic", zap.Error(err))
	}
	if pubsubClient != nil {
		defer func() {
			notificationTopic.Stop()
			if err := pubsubClient.Close(); err != nil {
				logger.Warn("pubsub close error", zap.Error(err))
			}
		}()
	}

	var notifier services.TransitionNotifier
	if notificationTopic != nil {
		dispatcher, err := notifications.NewPubSubDispatcher(notificationTopic)
		if err != nil {
			logger.Fatal("failed to initialise notification dispatcher", zap.Error(err))
		}
		notifier = notifications.NewFanout(dispatcher)
	} else {
		logger.Warn("notifications disabled: pubsub project not configured")
	}

	healthRepo, err := newHealthRepository(firestoreClient, notificationTopic)
	if err != nil {
		logger.Fatal("failed to initialise health repository", zap.Error(err))
	}

	registry, err := firestoreRepo.NewRegistry(firestoreProvider, healthRepo)
	if err != nil {
		logger.Fatal("failed to initialise repository registry", zap.Error(err))
	}

	serviceLogger := observability.ServiceLogger()
	carriers := shipping.DefaultRegistry()

	stripeProvider, err := payments.NewStripeProvider(payments.StripeProviderConfig{
		APIKey:   cfg.Stripe.APIKey,
		Timeout:  cfg.Payments.Timeout,
		Attempts: cfg.Payments.Attempts,
		Logger:   serviceLogger,
	})
	if err != nil {
		logger.Fatal("failed to initialise stripe provider", zap.Error(err))
	}

	container, err := di.NewContainer(ctx, cfg, registry, di.Deps{
		Payments: stripeProvider,
		Notifier: notifier,
		Carriers: carriers,
		Build:    buildInfo,
		Logger:   serviceLogger,
	})
	if err != nil {
		logger.Fatal("failed to wire services", zap.Error(err))
	}
	orderService := container.Services.Orders
	disputeService := container.Services.Disputes
	systemService := container.Services.System
	scheduler := container.Scheduler

	schedulerCtx, schedulerCancel := context.WithCancel(observability.WithLogger(context.Background(), logger.Named("scheduler")))
	var schedulerWG sync.WaitGroup
	schedulerWG.Add(1)
	go func() {
		defer schedulerWG.Done()
		if err := scheduler.Run(schedulerCtx); err != nil && !errors.Is(err, context.Canceled) {
			logger.Error("transition scheduler stopped", zap.Error(err))
		}
	}()

	idempotencyStore := idempotency.NewFirestoreStore(firestoreClient)
	idempotencyMiddleware := idempotency.Middleware(
		idempotencyStore,
		idempotency.WithHeader(cfg.Idempotency.Header),
		idempotency.WithTTL(cfg.Idempotency.TTL),
		idempotency.WithLogger(zap.NewStdLog(logger.Named("idempotency"))),
	)

	middlewares := []func(http.Handler) http.Handler{
		observability.InjectLoggerMiddleware(logger.Named("http")),
		observability.TraceMiddleware(cfg.Firestore.ProjectID),
		observability.RecoveryMiddleware(logger.Named("http")),
		observability.RequestLoggerMiddleware(cfg.Firestore.ProjectID),
		observability.ActorMiddleware(""),
		idempotencyMiddleware,
	}

	orderHandlers := handlers.NewOrderHandlers(orderService, disputeService)
	disputeHandlers := handlers.NewDisputeHandlers(disputeService)
	webhookHandlers := handlers.NewWebhookHandlers(orderService, carriers)
	shippingHandlers := handlers.NewShippingHandlers(carriers)
	healthHandlers := handlers.NewHealthHandlers(
		handlers.WithHealthBuildInfo(buildInfo),
		handlers.WithHealthSystemService(systemService),
	)

	opts := []handlers.Option{
		handlers.WithMiddlewares(middlewares...),
		handlers.WithHealthHandlers(healthHandlers),
		handlers.WithOrderRoutes(orderHandlers.Routes),
		handlers.WithDisputeRoutes(disputeHandlers.Routes),
		handlers.WithShippingRoutes(shippingHandlers.Routes),
		handlers.WithWebhookRoutes(webhookHandlers.Routes),
		handlers.WithInternalRoutes(disputeHandlers.InternalRoutes),
	}
	if hmacMiddleware := buildHMACMiddleware(logger.Named("auth"), cfg); hmacMiddleware != nil {
		opts = append(opts, handlers.WithWebhookMiddlewares(hmacMiddleware))
	} else {
		logger.Warn("carrier webhook signatures disabled: no secrets configured")
	}

	router := handlers.NewRouter(opts...)
	server := &http.Server{
		Addr:         ":" + cfg.Server.Port,
		Handler:      router,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}

	shutdown := make(chan os.Signal, 1)
	signal.Notify(shutdown, syscall.SIGINT, syscall.SIGTERM)

	serverLogger := logger.Named("http").With(zap.String("addr", server.Addr))
	go func() {
		serverLogger.Info("fernmarket order api listening")
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serverLogger.Fatal("http server error", zap.Error(err))
		}
	}()

	<-shutdown
	logger.Info("shutdown signal received; draining requests")

	schedulerCancel()
	schedulerWG.Wait()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("graceful shutdown failed", zap.Error(err))
	}
}

func newNotificationTopic(ctx context.Context, cfg config.Config) (*pubsub.Topic, *pubsub.Client, error) {
	projectID := strings.TrimSpace(cfg.PubSub.ProjectID)
	if projectID == "" {
		return nil, nil, nil
	}

	if host := strings.TrimSpace(cfg.PubSub.EmulatorHost); host != "" {
		if os.Getenv("PUBSUB_EMULATOR_HOST") == "" {
			_ = os.Setenv("PUBSUB_EMULATOR_HOST", host)
		}
	}

	client, err := pubsub.NewClient(ctx, projectID)
	if err != nil {
		return nil, nil, fmt.Errorf("pubsub client: %w", err)
	}
	return client.Topic(cfg.PubSub.NotificationTopic), client, nil
}

func newHealthRepository(client *firestore.Client, topic *pubsub.Topic) (repositories.HealthRepository, error) {
	checks := make([]repositories.DependencyCheck, 0, 2)
	if client != nil {
		c := client
		checks = append(checks, repositories.DependencyCheck{
			Name:    "firestore",
			Timeout: 1500 * time.Millisecond,
			Check: func(ctx context.Context) error {
				iter := c.Collections(ctx)
				_, err := iter.Next()
				if errors.Is(err, iterator.Done) {
					return nil
				}
				return err
			},
		})
	}
	if topic != nil {
		t := topic
		checks = append(checks, repositories.DependencyCheck{
			Name:    "pubsub",
			Timeout: 1500 * time.Millisecond,
			Check: func(ctx context.Context) error {
				_, err := t.Exists(ctx)
				return err
			},
		})
	}
	return repositories.NewDependencyHealthRepository(checks)
}

func buildHMACMiddleware(logger *zap.Logger, cfg config.Config) func(http.Handler) http.Handler {
	secrets := make(map[string]string, len(cfg.Webhooks.Secrets))
	for carrier, secret := range cfg.Webhooks.Secrets {
		if strings.TrimSpace(secret) == "" {
			continue
		}
		secrets[strings.ToLower(carrier)] = secret
	}
	if len(secrets) == 0 {
		return nil
	}

	if logger == nil {
		logger = zap.NewNop()
	}
	for carrier := range secrets {
		logger.Info("carrier webhook secret loaded", zap.String("carrier", carrier))
	}

	validator := auth.NewHMACValidator(
		func(carrier string) (string, bool) {
			secret, ok := secrets[carrier]
			return secret, ok
		},
		auth.WithHMACHeaders(cfg.Webhooks.SignatureHeader, cfg.Webhooks.TimestampHeader),
		auth.WithHMACClockSkew(cfg.Webhooks.ClockSkew),
	)
	return validator.RequireHMAC(handlers.CarrierFromPath)
}
