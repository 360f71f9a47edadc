package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/redis/go-redis/v9"

	"evolution-relay/internal/adapters/gateway"
	"evolution-relay/internal/adapters/handler"
	"evolution-relay/internal/adapters/messaging"
	"evolution-relay/internal/adapters/repository"
	"evolution-relay/internal/adapters/storage"
	"evolution-relay/internal/adapters/system"
	"evolution-relay/internal/adapters/websocket"
	"evolution-relay/internal/config"
	"evolution-relay/internal/core/ports"
	"evolution-relay/internal/core/services"
)

const (
	connectRetries    = 5
	connectRetryDelay = 2 * time.Second
)

// app holds every wired component of one process
type app struct {
	cfg *config.Config

	db    *sqlx.DB
	rdb   *redis.Client // nil without REDIS_ADDR
	store *repository.SQLStore

	numbers   *repository.CachedNumberRepository
	publisher ports.EventPublisher
	amqp      *messaging.AMQPPublisher // nil without AMQP_URL
	events    *websocket.EventHub      // nil unless the HTTP API runs
	probe     *system.Probe

	pause     *services.PauseSwitch
	processor *services.Processor
	sender    *services.Sender
	queries   *services.ChatQueries
	media     *services.MediaProxy
	worker    *services.OutboxWorker
	watchdog  *services.Watchdog
}

// bootOptions selects the optional in-process components
type bootOptions struct {
	inProcessWorker bool // the send path wakes the local outbox worker directly
	eventFeed       bool // domain events are streamed to operators over WebSocket
}

// bootstrap connects the infrastructure and wires the core services
func bootstrap(ctx context.Context, cfg *config.Config, opts bootOptions) (*app, error) {
	a := &app{cfg: cfg}

	// ==================================================================
	// Step 1: Database
	// ==================================================================
	fmt.Println("[1/5] Connecting to database...")
	db, err := connectDB(ctx, cfg.DB, connectRetries, connectRetryDelay)
	if err != nil {
		return nil, err
	}
	a.db = db
	a.store = repository.NewSQLStore(db)
	fmt.Printf("✓ Database connection established (%s)\n", cfg.DB.Driver)

	// ==================================================================
	// Step 2: Redis (optional idempotency index)
	// ==================================================================
	fmt.Println("[2/5] Connecting to Redis...")
	var index ports.IdempotencyIndex = a.store.IdempotencyIndex()
	if cfg.Redis.Enabled() {
		rdb, err := connectRedis(ctx, cfg.Redis, connectRetries, connectRetryDelay)
		if err != nil {
			a.Close()
			return nil, err
		}
		a.rdb = rdb
		index = repository.NewRedisIdempotencyIndex(rdb, cfg.Redis.IdempotencyTTL)
		fmt.Println("✓ Redis connection established")
	} else {
		fmt.Println("- Redis not configured, using the SQL idempotency index")
	}

	// ==================================================================
	// Step 3: Broker and media storage (optional)
	// ==================================================================
	fmt.Println("[3/5] Initializing adapters...")
	if cfg.AMQP.Enabled() {
		pub, err := messaging.NewAMQPPublisher(cfg.AMQP.URL, cfg.AMQP.Exchange)
		if err != nil {
			a.Close()
			return nil, err
		}
		a.amqp = pub
	}
	a.publisher = a.composePublisher(opts.eventFeed)

	var media ports.MediaStorage
	if cfg.S3.Enabled() {
		s3, err := storage.NewS3MediaStorage(storage.S3Config{
			Endpoint:  cfg.S3.Endpoint,
			Region:    cfg.S3.Region,
			Bucket:    cfg.S3.Bucket,
			AccessKey: cfg.S3.AccessKey,
			SecretKey: cfg.S3.SecretKey,
			PathStyle: cfg.S3.PathStyle,
		})
		if err != nil {
			a.Close()
			return nil, fmt.Errorf("init media storage: %w", err)
		}
		media = s3
	}

	evolution, err := gateway.NewEvolutionClient(gateway.EvolutionConfig{
		BaseURL:  cfg.Evolution.BaseURL,
		APIKey:   cfg.Evolution.APIKey,
		Instance: cfg.Evolution.Instance,
		Timeout:  cfg.Evolution.Timeout,
	})
	if err != nil {
		a.Close()
		return nil, fmt.Errorf("init evolution client: %w", err)
	}

	a.numbers = repository.NewCachedNumberRepository(a.store.Numbers(), cfg.App.NumberCacheTTL)
	a.probe = system.NewProbe(cfg.Watchdog.DiskPath)
	fmt.Println("✓ Adapters initialized")

	// ==================================================================
	// Step 4: Core services
	// ==================================================================
	fmt.Println("[4/5] Initializing services...")
	a.pause = services.NewPauseSwitch()
	reconciler := services.NewReconciler(a.store.Messages(), a.store.Statuses())

	a.processor = services.NewProcessor(services.ProcessorDeps{
		Events:     services.NewEventStore(a.store.WebhookEvents(), index),
		Reconciler: reconciler,
		Numbers:    a.numbers,
		Messages:   a.store.Messages(),
		UnitOfWork: a.store,
		Publisher:  a.publisher,
	}, cfg.Webhook.MaxEventAge)

	a.worker = services.NewOutboxWorker(services.OutboxDeps{
		Outbox:        a.store.Outbox(),
		Messages:      a.store.Messages(),
		Conversations: a.store.Conversations(),
		Numbers:       a.numbers,
		UnitOfWork:    a.store,
		Reconciler:    reconciler,
		Provider:      evolution,
		Media:         media,
		Publisher:     a.publisher,
		Pause:         a.pause,
	}, services.OutboxConfig{
		MaxAttempts:  cfg.Outbox.MaxAttempts,
		BackoffBase:  cfg.Outbox.BaseDelay,
		BackoffCap:   cfg.Outbox.MaxDelay,
		SignedURLTTL: cfg.Outbox.SignedURLTTL,
	})

	senderDeps := services.SenderDeps{
		Messages:      a.store.Messages(),
		Conversations: a.store.Conversations(),
		UnitOfWork:    a.store,
		Media:         media,
		Publisher:     a.publisher,
	}
	if opts.inProcessWorker {
		senderDeps.Nudge = a.worker.Nudge
	}
	a.sender = services.NewSender(senderDeps, cfg.Outbox.SignedURLTTL)

	a.queries = services.NewChatQueries(a.store.Messages(), a.store.Conversations())
	a.media = services.NewMediaProxy(a.store.Messages(), a.store.Conversations(), a.numbers, evolution, cfg.Evolution.BaseURL)
	a.watchdog = services.NewWatchdog(a.store.Outbox(), a.probe, a.pause, services.WatchdogConfig{
		Interval:          cfg.Watchdog.Interval,
		ProcessingTimeout: cfg.Outbox.ProcessingTimeout,
		MemoryThreshold:   cfg.Watchdog.MemoryThreshold,
		DiskThreshold:     cfg.Watchdog.DiskThreshold,
	})
	fmt.Println("✓ Services initialized")

	return a, nil
}

func (a *app) composePublisher(eventFeed bool) ports.EventPublisher {
	var publishers services.MultiPublisher
	if a.amqp != nil {
		publishers = append(publishers, a.amqp)
	}
	if eventFeed {
		a.events = websocket.NewEventHub(a.cfg.Outbox.Token)
		publishers = append(publishers, a.events)
	}
	switch len(publishers) {
	case 0:
		return services.NoopPublisher{}
	case 1:
		return publishers[0]
	}
	return publishers
}

// handlers builds the HTTP adapters on the wired services
func (a *app) handlers() handler.Handlers {
	h := handler.Handlers{
		Webhook: handler.NewWebhookHandler(a.processor, a.cfg.Webhook.Secret),
		Chat:    handler.NewChatHandler(a.sender, a.queries, a.media, a.cfg.Evolution.Instance),
		Outbox:  handler.NewOutboxHandler(a.worker, a.cfg.Outbox.Token),
		Dashboard: handler.NewDashboardHandler(a.probe, a.pause, a.store.Outbox(), handler.DashboardThresholds{
			Memory: a.cfg.Watchdog.MemoryThreshold,
			Disk:   a.cfg.Watchdog.DiskThreshold,
		}, a.cfg.Outbox.Token),
	}
	if a.events != nil {
		h.Events = http.HandlerFunc(a.events.ServeWS)
	}
	return h
}

// Close releases the connections in reverse order of creation
func (a *app) Close() {
	if a.amqp != nil {
		if err := a.amqp.Close(); err != nil {
			slog.Warn("Failed to close AMQP publisher", "error", err)
		}
	}
	if a.rdb != nil {
		if err := a.rdb.Close(); err != nil {
			slog.Warn("Failed to close Redis client", "error", err)
		}
	}
	if a.db != nil {
		if err := a.db.Close(); err != nil {
			slog.Warn("Failed to close database", "error", err)
		}
	}
}
