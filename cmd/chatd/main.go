package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/IBM/sarama"
	"github.com/gocql/gocql"
	"golang.org/x/sync/errgroup"

	"jobchat/internal/app/commands"
	"jobchat/internal/app/handlers/jobs"
	"jobchat/internal/app/middleware"
	appoutbox "jobchat/internal/app/outbox"
	"jobchat/internal/app/realtime"
	"jobchat/internal/app/session"
	"jobchat/internal/domain/chat"
	"jobchat/internal/domain/shared/clock"
	"jobchat/internal/infra/broker/kafka"
	"jobchat/internal/infra/config"
	mongostore "jobchat/internal/infra/db/mongo"
	ginserver "jobchat/internal/infra/http/gin"
	"jobchat/internal/infra/inbox"
	"jobchat/internal/infra/obs"
	outboxinfra "jobchat/internal/infra/outbox"
	realtimemem "jobchat/internal/infra/realtime/memory"
	"jobchat/internal/infra/realtime/rabbitmq"
	"jobchat/internal/infra/storage/memory"
	"jobchat/internal/infra/storage/s3"
	"jobchat/internal/infra/storage/scylla"
)

const eventSource = "app://jobchat"

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	cfg, err := config.Load()
	if err != nil {
		obs.NewLogger(getenv("APP_ENV", "dev")).Error("invalid configuration", "error", err)
		os.Exit(1)
	}
	logger := obs.NewLogger(cfg.Env)

	app, err := buildApplication(ctx, cfg, logger)
	if err != nil {
		logger.Error("startup failed", "error", err)
		os.Exit(1)
	}
	err = app.run(ctx, cfg, logger)
	app.close(logger)
	if err != nil {
		logger.Error("chatd stopped", "error", err)
		os.Exit(1)
	}
	logger.Info("chatd stopped")
}

type userDirectory interface {
	chat.ProfileDirectory
	chat.IdentityProvider
}

type eventOutbox interface {
	appoutbox.Outbox
	appoutbox.Queue
}

type application struct {
	server   *http.Server
	sessions *session.Manager
	worker   *outboxinfra.Worker
	consumer *kafka.Consumer
	closers  []func() error
}

func buildApplication(ctx context.Context, cfg config.Config, logger *slog.Logger) (*application, error) {
	app := &application{}
	metrics := obs.NewMetrics()
	checks := map[string]obs.Check{}

	var (
		jobStore    chat.JobStore
		directory   userDirectory
		outboxStore eventOutbox
		dedupe      jobs.Inbox
	)
	fx := fixtureSink{}
	if cfg.UsesMongo() {
		client, err := mongostore.New(ctx, cfg.MongoURI, cfg.MongoDB)
		if err != nil {
			return nil, fmt.Errorf("mongo: %w", err)
		}
		app.closers = append(app.closers, func() error { return client.Close(context.Background()) })
		checks["mongo"] = client.Ping
		mongoJobs, err := mongostore.NewJobStore(ctx, client.DB)
		if err != nil {
			return nil, fmt.Errorf("mongo jobs: %w", err)
		}
		mongoDir, err := mongostore.NewDirectory(ctx, client.DB)
		if err != nil {
			return nil, fmt.Errorf("mongo directory: %w", err)
		}
		box, err := outboxinfra.NewStore(ctx, client.DB)
		if err != nil {
			return nil, fmt.Errorf("mongo outbox: %w", err)
		}
		seen, err := inbox.NewStore(ctx, client.DB, cfg.KafkaGroupID)
		if err != nil {
			return nil, fmt.Errorf("mongo inbox: %w", err)
		}
		jobStore, directory, outboxStore, dedupe = mongoJobs, mongoDir, box, seen
		fx.saveJob = mongoJobs.Save
		fx.saveProfile = mongoDir.SaveProfile
		fx.issueToken = func(ctx context.Context, token string, user chat.UserID) error {
			return mongoDir.IssueToken(ctx, token, user, 30*24*time.Hour)
		}
	} else {
		memJobs := memory.NewJobStore()
		memDir := memory.NewDirectory()
		jobStore, directory, outboxStore, dedupe = memJobs, memDir, memory.NewOutbox(), memory.NewInbox()
		fx.saveJob = memJobs.Save
		fx.saveProfile = func(_ context.Context, p chat.Profile) error {
			memDir.AddProfile(p)
			return nil
		}
		fx.issueToken = func(_ context.Context, token string, user chat.UserID) error {
			memDir.IssueToken(token, user)
			return nil
		}
	}
	if err := loadFixtures(ctx, getenv("CHAT_FIXTURES", ""), fx, logger); err != nil {
		logger.Warn("chat fixtures load failed", "error", err)
	}
	if err := loadDevTokens(ctx, cfg.DevTokens, fx); err != nil {
		logger.Warn("dev tokens not loaded", "error", err)
	}

	var messages chat.MessageStore
	switch cfg.StoreDriver {
	case config.DriverScylla:
		sess, err := scylla.NewSession(ctx, cfg, logger)
		if err != nil {
			return nil, err
		}
		app.closers = append(app.closers, func() error { sess.Close(); return nil })
		checks["scylla"] = func(ctx context.Context) error {
			return sess.Query(`SELECT now() FROM system.local`).WithContext(ctx).Consistency(gocql.One).Exec()
		}
		messages = scylla.NewMessageStore(sess, logger)
	default:
		messages = memory.NewMessageStore()
	}

	var transport realtime.Transport
	switch cfg.TransportDriver {
	case config.DriverRabbitMQ:
		rmq, err := rabbitmq.Dial(ctx, cfg.RabbitMQURL, cfg.RabbitMQExchange, 5, logger)
		if err != nil {
			return nil, err
		}
		app.closers = append(app.closers, rmq.Close)
		checks["rabbitmq"] = rmq.Ping
		transport = rmq
	default:
		hub := realtimemem.NewHub()
		app.closers = append(app.closers, hub.Close)
		transport = hub
	}

	var attachments chat.AttachmentStorage
	if cfg.S3Endpoint != "" {
		files, err := s3.NewAttachments(cfg.S3Endpoint, cfg.S3UseSSL, cfg.S3AccessKey, cfg.S3SecretKey, cfg.S3Bucket, cfg.S3PublicEndpoint, logger)
		if err != nil {
			return nil, err
		}
		checks["s3"] = files.Ping
		attachments = files
	} else {
		attachments = memory.NewAttachments("http://localhost" + cfg.HTTPAddr + "/files")
		logger.Warn("S3_ENDPOINT not set, attachments are kept in memory")
	}

	dispatcher := realtime.NewDispatcher(transport, realtime.Config{
		BackoffBase: cfg.ResubscribeBackoff,
		BackoffCap:  cfg.ResubscribeBackoffCap,
	}, logger, metrics)
	encoder := appoutbox.JSONEventEncoder{}
	feed := realtime.NewChangeFeed(messages, dispatcher, logger, appoutbox.MessageRecorder(outboxStore, encoder))

	base := commands.NewInMemoryBus()
	(&jobs.TransitionHandler{Jobs: jobStore, Outbox: outboxStore, Encoder: encoder, Publisher: dispatcher, Logger: logger}).Register(base)
	bus := middleware.ChainCommands(base,
		middleware.Logging(logger),
		middleware.Validation(),
		middleware.Authorization(jobs.ParticipantAuthorizer{Jobs: jobStore}),
		middleware.OutboxFlush(outboxStore),
	)

	app.sessions = session.NewManager(session.Deps{
		Identity:    directory,
		Messages:    feed,
		Jobs:        jobStore,
		Profiles:    directory,
		Attachments: attachments,
		Dispatcher:  dispatcher,
		Commands:    bus,
		Clock:       clock.Real(),
		Logger:      logger,
		Metrics:     metrics,
	}, session.Config{
		TypingIdle:         cfg.TypingIdle,
		PresenceStaleAfter: cfg.PresenceStaleAfter,
		MaxAttachmentBytes: cfg.MaxAttachmentBytes,
	}, cfg.SessionIdleTTL)

	var producer outboxinfra.Producer = logProducer{logger: logger}
	if cfg.UsesKafka() {
		p, err := kafka.NewProducer(cfg.KafkaBrokers, nil)
		if err != nil {
			return nil, fmt.Errorf("kafka producer: %w", err)
		}
		app.closers = append(app.closers, p.Close)
		producer = p

		syncer := &jobs.SyncHandler{Jobs: jobStore, Inbox: dedupe, Publisher: dispatcher, Logger: logger}
		consumer, err := kafka.NewConsumer(cfg.KafkaBrokers, cfg.KafkaGroupID, sarama.NewConfig(), &kafka.JobUpdatesHandler{
			Applier:      syncer,
			IgnoreSource: eventSource,
			Logger:       logger,
			Observe:      metrics.JobUpdate,
		}, logger)
		if err != nil {
			return nil, fmt.Errorf("kafka consumer: %w", err)
		}
		app.closers = append(app.closers, consumer.Close)
		app.consumer = consumer
	}
	app.worker = &outboxinfra.Worker{
		Queue:       outboxStore,
		Producer:    producer,
		Interval:    cfg.OutboxPollInterval,
		TopicPrefix: cfg.KafkaTopicPrefix,
		Source:      eventSource,
		Backoff:     cfg.RetryBackoff,
		Logger:      logger,
		Observe:     metrics.OutboxPublished,
	}

	app.server = ginserver.NewServer(cfg, obs.Middleware{Logger: logger}, obs.HealthHandlers{Checks: checks}, ginserver.Handlers{
		Chat: ginserver.ChatHandler{
			Sessions:           app.sessions,
			Logger:             logger,
			MaxAttachmentBytes: cfg.MaxAttachmentBytes,
		},
		AuthMiddleware: ginserver.AuthMiddleware{Sessions: app.sessions, Logger: logger}.Handle,
		Metrics:        metrics.Handler(),
	})
	return app, nil
}

func (a *application) run(ctx context.Context, cfg config.Config, logger *slog.Logger) error {
	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		logger.Info("HTTP server starting", "addr", cfg.HTTPAddr)
		if err := a.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := a.server.Shutdown(shutdownCtx); err != nil {
			logger.Error("http shutdown failed", "error", err)
		}
		return nil
	})
	g.Go(func() error { return a.sessions.Run(ctx, time.Minute) })
	g.Go(func() error { return a.worker.Run(ctx) })
	if a.consumer != nil {
		g.Go(func() error { return a.consumer.Run(ctx, []string{cfg.KafkaJobTopic}) })
	}
	return g.Wait()
}

func (a *application) close(logger *slog.Logger) {
	if a.sessions != nil {
		if err := a.sessions.Close(); err != nil {
			logger.Warn("closing sessions", "error", err)
		}
	}
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](); err != nil {
			logger.Warn("shutdown step failed", "error", err)
		}
	}
}

// logProducer stands in for Kafka when no brokers are configured.
type logProducer struct {
	logger *slog.Logger
}

func (p logProducer) Publish(_ context.Context, topic, key string, payload []byte, _ map[string]string) error {
	p.logger.Debug("event published", "topic", topic, "key", key, "bytes", len(payload))
	return nil
}

func getenv(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}
