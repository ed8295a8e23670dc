package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/IBM/sarama"

	"marketplace/internal/app/commands"
	"marketplace/internal/app/handlers/catalog"
	"marketplace/internal/app/handlers/chat"
	"marketplace/internal/app/middleware"
	appoutbox "marketplace/internal/app/outbox"
	"marketplace/internal/app/policies"
	"marketplace/internal/app/presence"
	"marketplace/internal/app/queries"
	authsvc "marketplace/internal/app/services/auth"
	"marketplace/internal/domain/anchors"
	domainauth "marketplace/internal/domain/auth"
	"marketplace/internal/domain/conversations"
	"marketplace/internal/domain/messages"
	domainuser "marketplace/internal/domain/user"
	"marketplace/internal/infra/broker/kafka"
	"marketplace/internal/infra/config"
	mongodb "marketplace/internal/infra/db/mongo"
	"marketplace/internal/infra/db/scylla"
	ginserver "marketplace/internal/infra/http/gin"
	"marketplace/internal/infra/obs"
	infraoutbox "marketplace/internal/infra/outbox"
	"marketplace/internal/infra/realtime"
	redisinfra "marketplace/internal/infra/redis"
	"marketplace/internal/infra/security"
	"marketplace/internal/infra/storage/memory"
	"marketplace/internal/infra/storage/s3"
	"marketplace/internal/infra/validation"
)

type userStore interface {
	domainuser.Repository
	domainuser.PresenceWriter
}

type application struct {
	handlers   ginserver.Handlers
	gateway    *realtime.Gateway
	readiness  *obs.Readiness
	metrics    *obs.Metrics
	items      anchors.Repository
	background []func(ctx context.Context)
	closers    []func(ctx context.Context) error
}

func (a *application) close(logger *slog.Logger) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](ctx); err != nil {
			logger.Warn("shutdown step failed", "error", err)
		}
	}
}

func buildApplication(ctx context.Context, cfg config.Config, logger *slog.Logger) (*application, error) {
	app := &application{
		readiness: obs.NewReadiness(3 * time.Second),
		metrics:   obs.NewMetrics(),
	}

	var (
		users         userStore
		sessions      domainauth.SessionStore
		items         anchors.Repository
		convs         conversations.Repository
		msgs          messages.Repository
		idempotency   middleware.IdempotencyStore
		tracker       presence.Tracker
		fanout        realtime.Bus
		box           appoutbox.Outbox
		mongoClient   *mongodb.Client
		kafkaProducer *kafka.Producer
	)

	if cfg.StorageDriver == config.DriverMongo || cfg.ChatStore == config.DriverMongo {
		client, err := mongodb.Connect(ctx, cfg.MongoURI, cfg.MongoDB, logger)
		if err != nil {
			return nil, err
		}
		if err := client.EnsureIndexes(ctx, cfg.IdempotencyTTL); err != nil {
			return nil, fmt.Errorf("mongo indexes: %w", err)
		}
		mongoClient = client
		app.readiness.Add("mongo", client.Ping)
		app.closers = append(app.closers, client.Disconnect)
	}

	switch cfg.StorageDriver {
	case config.DriverMongo:
		users = mongodb.NewUserRepository(mongoClient.DB)
		sessions = mongodb.NewSessionStore(mongoClient.DB)
		items = mongodb.NewAnchorRepository(mongoClient.DB)
		idempotency = mongodb.NewIdempotencyStore(mongoClient.DB)
	default:
		users = memory.NewUserRepository()
		sessions = memory.NewSessionStore()
		items = memory.NewAnchorRepository()
		idempotency = memory.NewIdempotencyStore(cfg.IdempotencyTTL)
	}
	app.items = items

	switch cfg.ChatStore {
	case config.DriverMongo:
		convs = mongodb.NewConversationRepository(mongoClient.DB)
		msgs = mongodb.NewMessageRepository(mongoClient.DB)
	case config.DriverScylla:
		session, err := scylla.NewSession(ctx, scylla.Options{
			Hosts:             cfg.ScyllaHosts,
			Keyspace:          cfg.ScyllaKeyspace,
			Username:          cfg.ScyllaUsername,
			Password:          cfg.ScyllaPassword,
			Consistency:       cfg.ScyllaConsistency,
			Timeout:           cfg.ScyllaTimeout,
			ReplicationFactor: cfg.ScyllaReplicationFactor,
		}, logger)
		if err != nil {
			return nil, err
		}
		app.closers = append(app.closers, func(context.Context) error {
			session.Close()
			return nil
		})
		app.readiness.Add("scylla", func(ctx context.Context) error {
			return session.Query("SELECT now() FROM system.local").WithContext(ctx).Exec()
		})
		convs = scylla.NewConversationStore(session, logger)
		msgs = scylla.NewMessageStore(session)
	default:
		convs = memory.NewConversationRepository()
		msgs = memory.NewMessageRepository()
	}

	tracker = presence.NewLocalTracker()
	if cfg.RedisAddr != "" {
		client, err := redisinfra.Connect(ctx, redisinfra.Options{
			Addr:     cfg.RedisAddr,
			Password: cfg.RedisPassword,
			DB:       cfg.RedisDB,
			Prefix:   cfg.RedisPrefix,
		}, logger)
		if err != nil {
			return nil, err
		}
		app.readiness.Add("redis", redisinfra.Ping(client))
		app.closers = append(app.closers, func(context.Context) error { return client.Close() })
		tracker = redisinfra.NewTracker(client, cfg.RedisPrefix, 2*cfg.WSPingInterval)
		sessions = redisinfra.NewSessionStore(client, cfg.RedisPrefix)
		if cfg.FanoutDriver == config.FanoutRedis {
			bus := redisinfra.NewFanoutBus(client, cfg.RedisPrefix, logger)
			app.closers = append(app.closers, func(context.Context) error { return bus.Close() })
			fanout = bus
		}
	}

	if len(cfg.KafkaBrokers) > 0 {
		producer, err := kafka.NewProducer(ctx, cfg.KafkaBrokers, sarama.NewConfig(), logger)
		if err != nil {
			return nil, err
		}
		kafkaProducer = producer
		app.closers = append(app.closers, func(context.Context) error { return producer.Close() })
		if cfg.FanoutDriver == config.FanoutKafka {
			bus := kafka.NewFanoutBus(producer, kafka.FanoutConfig{
				Brokers:     cfg.KafkaBrokers,
				Topic:       cfg.KafkaFanoutTopic,
				GroupPrefix: cfg.KafkaGroupID,
			}, logger)
			app.closers = append(app.closers, func(context.Context) error { return bus.Close() })
			fanout = bus
		}
	}
	if fanout == nil {
		fanout = realtime.NewLocalBus()
	}

	box, err := buildOutbox(ctx, cfg, mongoClient, kafkaProducer, app, logger)
	if err != nil {
		return nil, err
	}

	uploader, err := buildUploader(cfg, logger)
	if err != nil {
		return nil, err
	}

	tokens, err := buildTokens(cfg, logger)
	if err != nil {
		return nil, err
	}
	identity := &authsvc.Service{
		Users:      users,
		Sessions:   sessions,
		Passwords:  security.BcryptHasher{},
		Tokens:     tokens,
		SessionTTL: cfg.SessionTTL,
		Logger:     logger.With("component", "auth"),
	}

	notifier := &realtime.Notifier{Bus: fanout}
	cmdBus := commands.NewInMemoryBus()
	queryBus := queries.NewInMemoryBus()
	encoder := appoutbox.JSONEventEncoder{}
	chat.Register(cmdBus, queryBus, chat.Deps{
		Conversations: convs,
		Messages:      msgs,
		Anchors:       items,
		Users:         users,
		Notifier:      notifier,
		Outbox:        box,
		Encoder:       encoder,
		MaxLength:     cfg.MessageMaxLength,
		Counter:       app.metrics,
		Logger:        logger,
	})
	catalog.Register(cmdBus, queryBus, catalog.Deps{
		Items:    items,
		Uploader: uploader,
		Outbox:   box,
		Encoder:  encoder,
		Logger:   logger,
	})

	v := validation.New()
	cmds := middleware.ChainCommands(cmdBus,
		middleware.Instrument(app.metrics, logger),
		middleware.Validation(v),
		middleware.Authorization(middleware.RequireActor{}),
		middleware.Idempotency(idempotency, nil),
		middleware.OutboxFlush(box, logger),
	)
	qs := middleware.ChainQueries(queryBus,
		middleware.InstrumentQueries(app.metrics, logger),
		middleware.QueryValidation(v),
		middleware.QueryAuthorization(middleware.RequireActor{}),
	)

	app.gateway = realtime.NewGateway(realtime.Config{
		Commands:       cmds,
		Queries:        qs,
		Identity:       identity,
		Tracker:        tracker,
		Presence:       users,
		Bus:            fanout,
		Validator:      v,
		Metrics:        app.metrics,
		Logger:         logger.With("component", "realtime"),
		TypingTTL:      cfg.TypingTTL,
		PingInterval:   cfg.WSPingInterval,
		AllowedOrigins: cfg.AllowedOrigins,
	})

	httpLogger := logger.With("component", "http")
	app.handlers = ginserver.Handlers{
		Auth:           ginserver.AuthHandler{Service: identity, Logger: httpLogger},
		Chat:           ginserver.ChatHandler{Commands: cmds, Queries: qs, Logger: httpLogger},
		Catalog:        ginserver.CatalogHandler{Commands: cmds, Queries: qs, Logger: httpLogger},
		Socket:         app.gateway,
		Metrics:        app.metrics.Handler(),
		AuthMiddleware: ginserver.AuthMiddleware{Service: identity, Logger: httpLogger}.Handle,
	}
	return app, nil
}

// buildOutbox keeps domain events durably in mongo when it is available and
// relays them to Kafka, or to the log when no broker is configured.
func buildOutbox(ctx context.Context, cfg config.Config, client *mongodb.Client, producer *kafka.Producer, app *application, logger *slog.Logger) (appoutbox.Outbox, error) {
	outboxLogger := logger.With("component", "outbox")
	var publisher *infraoutbox.Publisher
	if producer != nil {
		publisher = &infraoutbox.Publisher{Producer: producer, TopicPrefix: cfg.KafkaTopicPrefix}
	}
	if client == nil || publisher == nil {
		var sink memory.Sink = infraoutbox.LogSink{Logger: outboxLogger}
		if publisher != nil {
			sink = publisher
		}
		return memory.NewOutbox(sink), nil
	}

	store, err := infraoutbox.NewStore(ctx, client.DB)
	if err != nil {
		return nil, fmt.Errorf("outbox store: %w", err)
	}
	if n, err := store.Requeue(ctx, time.Minute); err != nil {
		outboxLogger.Warn("outbox requeue failed", "error", err)
	} else if n > 0 {
		outboxLogger.Info("outbox records requeued", "count", n)
	}
	worker := &infraoutbox.Worker{
		Queue:     store,
		Publisher: publisher,
		Interval:  cfg.OutboxPollInterval,
		Backoff:   cfg.RetryBackoff,
		Logger:    outboxLogger,
	}
	app.background = append(app.background, func(ctx context.Context) {
		if err := worker.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
			outboxLogger.Error("outbox worker stopped", "error", err)
		}
	})
	return store, nil
}

func buildUploader(cfg config.Config, logger *slog.Logger) (policies.BlobUploader, error) {
	if cfg.S3Endpoint == "" {
		logger.Info("S3_ENDPOINT not set, image uploads disabled")
		return nil, nil
	}
	client, err := s3.NewClient(s3.Config{
		Endpoint:      cfg.S3Endpoint,
		UseSSL:        cfg.S3UseSSL,
		AccessKey:     cfg.S3AccessKey,
		SecretKey:     cfg.S3SecretKey,
		Bucket:        cfg.S3Bucket,
		PublicBaseURL: cfg.S3PublicEndpoint,
	}, logger.With("component", "s3"))
	if err != nil {
		return nil, err
	}
	return client, nil
}

// buildTokens signs with JWT_SECRET. Outside production a missing secret is
// replaced with a random one, which invalidates tokens on restart.
func buildTokens(cfg config.Config, logger *slog.Logger) (*security.JWTIssuer, error) {
	secret := cfg.JWTSecret
	if secret == "" {
		random, err := security.RandomID(32)
		if err != nil {
			return nil, err
		}
		logger.Warn("JWT_SECRET not set, using an ephemeral signing key")
		secret = random
	}
	return security.NewJWTIssuer(secret, cfg.JWTIssuer)
}
