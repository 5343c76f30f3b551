package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	awscredentials "github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/sesv2"
	"github.com/aws/aws-sdk-go-v2/service/sns"
	"github.com/elastic/go-elasticsearch/v8"
	"github.com/go-redis/redis/v8"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/robfig/cron/v3"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracegrpc"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/beegy-labs/notification-service/internal/api"
	"github.com/beegy-labs/notification-service/internal/config"
	"github.com/beegy-labs/notification-service/internal/domain/device"
	"github.com/beegy-labs/notification-service/internal/domain/notification"
	"github.com/beegy-labs/notification-service/internal/domain/preference"
	"github.com/beegy-labs/notification-service/internal/infrastructure/audit"
	"github.com/beegy-labs/notification-service/internal/infrastructure/channels"
	"github.com/beegy-labs/notification-service/internal/infrastructure/mailer"
	"github.com/beegy-labs/notification-service/internal/infrastructure/metrics"
	"github.com/beegy-labs/notification-service/internal/infrastructure/push"
	"github.com/beegy-labs/notification-service/internal/infrastructure/repository"
	"github.com/beegy-labs/notification-service/internal/infrastructure/sms"
	"github.com/beegy-labs/notification-service/internal/usecases"
)

func serve(cfg *config.Config) error {
	logger, err := newLogger(cfg.Log)
	if err != nil {
		return err
	}
	defer logger.Sync() //nolint:errcheck

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	var tracerShutdown func(context.Context) error
	if cfg.Tracing.Enabled {
		tracerShutdown, err = setupTracing(ctx, cfg.Tracing)
		if err != nil {
			return err
		}
	}

	promRegistry := prometheus.NewRegistry()
	promRegistry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	m := metrics.New(promRegistry)

	repo, prefStore, devices, err := buildStores(ctx, cfg, logger)
	if err != nil {
		return err
	}

	var pushProvider push.Provider
	if cfg.Push.Enabled {
		fcm, err := push.NewFCMProvider(ctx, cfg.Push.ProjectID, cfg.Push.CredentialsFile)
		if err != nil {
			return fmt.Errorf("init fcm: %w", err)
		}
		pushProvider = fcm
		logger.Info("push provider configured", zap.String("provider", fcm.Name()))
	}

	smsProvider, err := buildSMSProvider(ctx, cfg)
	if err != nil {
		return err
	}
	if smsProvider != nil {
		logger.Info("sms provider configured", zap.String("provider", smsProvider.Name()))
	}

	emailSender, err := buildEmailSender(ctx, cfg)
	if err != nil {
		return err
	}
	if emailSender != nil {
		logger.Info("email provider configured", zap.String("provider", emailSender.Name()))
	}

	var recorder audit.Recorder
	if cfg.Audit.Endpoint != "" {
		recorder = audit.NewHTTPRecorder(cfg.Audit.Endpoint, cfg.Audit.Token, cfg.Audit.Timeout)
	} else {
		recorder = audit.NewNopRecorder(logger)
	}

	inApp := channels.NewInAppAdapter(repo, logger)
	adapters := channels.NewRegistry(
		inApp,
		channels.NewPushAdapter(devices, pushProvider, m, logger),
		channels.NewSMSAdapter(smsProvider, logger),
		channels.NewEmailAdapter(emailSender, cfg.Email.DefaultFrom, logger),
	)
	router := usecases.NewChannelRouter(adapters, prefStore, m, logger)
	dispatch := usecases.NewDispatchService(repo, router, inApp, recorder, m, logger)
	prefService := usecases.NewPreferenceService(prefStore, logger)
	deviceService := usecases.NewDeviceService(devices, logger)

	if cfg.Sweeper.Enabled {
		cr := cron.New()
		_, err := cr.AddFunc(cfg.Sweeper.Schedule, func() {
			sweepCtx, cancel := context.WithTimeout(context.Background(), time.Minute)
			defer cancel()
			if _, err := deviceService.CleanupStale(sweepCtx, cfg.Sweeper.TokenMaxAge); err != nil {
				logger.Error("device token sweep failed", zap.Error(err))
			}
		})
		if err != nil {
			return fmt.Errorf("schedule token sweeper: %w", err)
		}
		cr.Start()
		defer cr.Stop()
		logger.Info("device token sweeper scheduled",
			zap.String("schedule", cfg.Sweeper.Schedule),
			zap.Duration("token_max_age", cfg.Sweeper.TokenMaxAge))
	}

	handlers := api.NewHandlers(dispatch, prefService, deviceService, logger)
	srv := api.NewServer(cfg, handlers, promRegistry, logger)

	errCh := make(chan error, 1)
	go func() { errCh <- srv.Listen() }()

	select {
	case err := <-errCh:
		return fmt.Errorf("http server: %w", err)
	case <-ctx.Done():
	}

	logger.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("http shutdown failed", zap.Error(err))
	}
	if tracerShutdown != nil {
		if err := tracerShutdown(shutdownCtx); err != nil {
			logger.Error("tracer shutdown failed", zap.Error(err))
		}
	}
	return nil
}

func newLogger(cfg config.LogConfig) (*zap.Logger, error) {
	level, err := zapcore.ParseLevel(cfg.Level)
	if err != nil {
		return nil, fmt.Errorf("parse log level %q: %w", cfg.Level, err)
	}
	var zc zap.Config
	if cfg.Format == "console" {
		zc = zap.NewDevelopmentConfig()
	} else {
		zc = zap.NewProductionConfig()
	}
	zc.Level = zap.NewAtomicLevelAt(level)
	logger, err := zc.Build()
	if err != nil {
		return nil, fmt.Errorf("build logger: %w", err)
	}
	return logger, nil
}

func setupTracing(ctx context.Context, cfg config.TracingConfig) (func(context.Context) error, error) {
	exporter, err := otlptracegrpc.New(ctx,
		otlptracegrpc.WithEndpoint(cfg.Endpoint),
		otlptracegrpc.WithInsecure(),
	)
	if err != nil {
		return nil, fmt.Errorf("create trace exporter: %w", err)
	}
	tp := sdktrace.NewTracerProvider(
		sdktrace.WithBatcher(exporter),
		sdktrace.WithResource(resource.NewSchemaless(
			attribute.String("service.name", "notification-service"),
		)),
	)
	otel.SetTracerProvider(tp)
	otel.SetTextMapPropagator(propagation.NewCompositeTextMapPropagator(
		propagation.TraceContext{}, propagation.Baggage{},
	))
	return tp.Shutdown, nil
}

func buildStores(ctx context.Context, cfg *config.Config, logger *zap.Logger) (notification.Repository, preference.Store, device.Registry, error) {
	if cfg.Storage.Driver == "memory" {
		logger.Info("using in-memory storage")
		return repository.NewMemoryNotificationRepository(),
			repository.NewMemoryPreferenceStore(),
			repository.NewMemoryDeviceRegistry(),
			nil
	}

	esClient, err := elasticsearch.NewClient(elasticsearch.Config{
		Addresses: cfg.Storage.Elasticsearch.Addresses,
		Username:  cfg.Storage.Elasticsearch.Username,
		Password:  cfg.Storage.Elasticsearch.Password,
	})
	if err != nil {
		return nil, nil, nil, fmt.Errorf("init elasticsearch: %w", err)
	}
	repo := repository.NewESNotificationRepository(esClient, cfg.Storage.Elasticsearch.Index, logger)
	if err := repo.EnsureIndex(ctx); err != nil {
		return nil, nil, nil, err
	}

	rdb := redis.NewClient(&redis.Options{
		Addr:     cfg.Storage.Redis.Addr,
		Password: cfg.Storage.Redis.Password,
		DB:       cfg.Storage.Redis.DB,
	})
	if err := rdb.Ping(ctx).Err(); err != nil {
		return nil, nil, nil, fmt.Errorf("redis ping: %w", err)
	}
	return repo,
		repository.NewRedisPreferenceStore(rdb),
		repository.NewRedisDeviceRegistry(rdb, logger),
		nil
}

func buildSMSProvider(ctx context.Context, cfg *config.Config) (channels.SMSProvider, error) {
	switch cfg.SMS.Provider {
	case "twilio":
		return sms.NewTwilioSender(cfg.SMS.Twilio.AccountSID, cfg.SMS.Twilio.AuthToken, cfg.SMS.Twilio.From), nil
	case "aws-sns":
		awsCfg, err := loadAWSConfig(ctx, cfg.AWS)
		if err != nil {
			return nil, err
		}
		return sms.NewSNSSender(sns.NewFromConfig(awsCfg)), nil
	default:
		return nil, nil
	}
}

func buildEmailSender(ctx context.Context, cfg *config.Config) (mailer.Sender, error) {
	templates := make(map[mailer.Template]string, len(cfg.Email.Templates))
	for name, id := range cfg.Email.Templates {
		templates[mailer.Template(name)] = id
	}
	switch cfg.Email.Provider {
	case "sendgrid":
		return mailer.NewSendGridSender(cfg.Email.SendGrid.APIKey, cfg.Email.FromName, templates), nil
	case "ses":
		awsCfg, err := loadAWSConfig(ctx, cfg.AWS)
		if err != nil {
			return nil, err
		}
		return mailer.NewSESSender(sesv2.NewFromConfig(awsCfg), templates), nil
	default:
		return nil, nil
	}
}

func loadAWSConfig(ctx context.Context, cfg config.AWSConfig) (aws.Config, error) {
	opts := []func(*awsconfig.LoadOptions) error{
		awsconfig.WithRegion(cfg.Region),
	}
	if cfg.AccessKeyID != "" && cfg.SecretAccessKey != "" {
		opts = append(opts, awsconfig.WithCredentialsProvider(
			awscredentials.NewStaticCredentialsProvider(cfg.AccessKeyID, cfg.SecretAccessKey, ""),
		))
	}
	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return aws.Config{}, fmt.Errorf("load aws config: %w", err)
	}
	return awsCfg, nil
}
