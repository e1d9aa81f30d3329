package bootstrap

import (
	"context"
	"fmt"
	"log"

	"reflection-chat-be/internal/config"
	"reflection-chat-be/internal/constant"
	"reflection-chat-be/internal/controller"
	"reflection-chat-be/internal/handler"
	"reflection-chat-be/internal/pkg/logger"
	"reflection-chat-be/internal/repository/implementation"
	"reflection-chat-be/internal/repository/memory"
	"reflection-chat-be/internal/service"
	"reflection-chat-be/internal/websocket"
	"reflection-chat-be/pkg/database"
	"reflection-chat-be/pkg/docstore"
	"reflection-chat-be/pkg/docstore/changefeed"
	"reflection-chat-be/pkg/docstore/gormstore"
	"reflection-chat-be/pkg/docstore/memstore"
	"reflection-chat-be/pkg/events"
	"reflection-chat-be/pkg/llm"
	"reflection-chat-be/pkg/responder"

	pktNats "reflection-chat-be/pkg/nats"

	"github.com/redis/go-redis/v9"
)

type Container struct {
	// Controllers
	ChatController    controller.IChatController
	ChatStreamHandler *handler.ChatStreamHandler

	// Background workers (started by Start)
	WebSocketHub *websocket.Hub
	RepairWorker *service.RepairWorker
	EventRelay   *service.EventRelay

	Logger logger.ILogger

	store   docstore.Store
	feed    docstore.Feed
	natsPub *pktNats.Publisher
	natsSub *pktNats.Subscriber
	rdb     *redis.Client
}

func NewContainer(cfg *config.Config) (*Container, error) {
	// 1. Core Facades
	sysLogger := logger.NewZapLogger(cfg.App.LogFilePath, cfg.IsProduction())
	wsLogger := logger.NewIsolatedLogger(cfg.App.WsLogFilePath)

	// 2. Infrastructure
	// Redis
	var rdb *redis.Client
	if cfg.App.RedisURL != "" {
		opt, err := redis.ParseURL(cfg.App.RedisURL)
		if err != nil {
			log.Printf("[WARN] Failed to parse Redis URL: %v. Using direct Addr", err)
			opt = &redis.Options{
				Addr: cfg.App.RedisURL,
			}
		}
		rdb = redis.NewClient(opt)
		if _, err := rdb.Ping(context.Background()).Result(); err != nil {
			log.Printf("[WARN] Failed to connect to Redis: %v", err)
		}
	}

	// Change feed
	var feed docstore.Feed
	if cfg.Database.ChangefeedDriver == "redis" && rdb != nil {
		feed = changefeed.NewRedis(rdb)
		log.Printf("[INFO] Using change feed: REDIS")
	} else {
		feed = changefeed.NewGoChannel(changefeed.NewWatermillLogger(sysLogger))
		log.Printf("[INFO] Using change feed: GOCHANNEL")
	}

	// Document store
	store, err := openStore(cfg.Database, feed)
	if err != nil {
		_ = feed.Close()
		return nil, fmt.Errorf("open document store: %w", err)
	}
	log.Printf("[INFO] Using document store: %s", cfg.Database.DocstoreDriver)

	// NATS
	var publisher events.Publisher = events.NopPublisher{}
	var natsPub *pktNats.Publisher
	var natsSub *pktNats.Subscriber
	if cfg.App.NatsURL != "" {
		natsPub, err = pktNats.NewPublisher(cfg.App.NatsURL, sysLogger)
		if err != nil {
			log.Printf("[WARN] Failed to connect to NATS Publisher: %v", err)
		} else {
			publisher = natsPub
		}
		natsSub, err = pktNats.NewSubscriber(cfg.App.NatsURL, sysLogger)
		if err != nil {
			log.Printf("[WARN] Failed to connect to NATS Subscriber: %v", err)
			natsSub = nil
		}
	}

	// 3. Responder
	baseResponder, err := responder.New(responder.Config{
		Provider:      cfg.Ai.Provider,
		Model:         cfg.Ai.Model,
		BaseURL:       cfg.Ai.LLMBaseURL(),
		APIKey:        cfg.Ai.OpenAIAPIKey,
		ReflectionURL: cfg.Ai.ReflectionURL,
		SystemPrompt:  constant.ReflectionSystemPromptV1,
	}, llm.WithTemperature(cfg.Ai.Temperature), llm.WithMaxTokens(cfg.Ai.MaxTokens))
	if err != nil {
		_ = store.Close()
		_ = feed.Close()
		return nil, fmt.Errorf("initialize responder: %w", err)
	}
	log.Printf("[INFO] Using AI Provider: %s (%s)", cfg.Ai.Provider, cfg.Ai.Model)

	chatResponder := responder.WithRetry(baseResponder, responder.RetryConfig{
		MaxAttempts:     cfg.Ai.MaxAttempts,
		AttemptTimeout:  cfg.Ai.AttemptTimeout,
		InitialInterval: cfg.Ai.RetryInterval,
	}, sysLogger)

	// 4. Repositories
	sessionRepo := implementation.NewChatSessionRepository(store, sysLogger)
	messageRepo := implementation.NewChatMessageRepository(store, sessionRepo, sysLogger)
	submissionRepo := memory.NewSubmissionRepository(cfg.Ai.SubmissionTTL)

	// 5. Services
	repairService := service.NewRepairService(sessionRepo, messageRepo, sysLogger)
	chatService := service.NewChatService(
		sessionRepo,
		messageRepo,
		chatResponder,
		repairService,
		submissionRepo,
		publisher,
		sysLogger,
	)

	// WebSocket Hub
	wsHub := websocket.NewHub(rdb, wsLogger)

	c := &Container{
		ChatController:    controller.NewChatController(chatService, cfg.Auth.JwtSecret),
		ChatStreamHandler: handler.NewChatStreamHandler(chatService, wsHub, cfg.Auth.JwtSecret, wsLogger),
		WebSocketHub:      wsHub,
		Logger:            sysLogger,
		store:             store,
		feed:              feed,
		natsPub:           natsPub,
		natsSub:           natsSub,
		rdb:               rdb,
	}

	// Event consumers (only when NATS is available)
	if natsSub != nil {
		c.RepairWorker = service.NewRepairWorker(repairService, natsSub, sysLogger)
		c.EventRelay = service.NewEventRelay(natsSub, wsHub, wsLogger) // Hub implements EventDelivery
	}

	return c, nil
}

func openStore(cfg config.DatabaseConfig, feed docstore.Feed) (docstore.Store, error) {
	switch cfg.DocstoreDriver {
	case "memory":
		return memstore.New(memstore.WithFeed(feed)), nil
	case "sqlite":
		db, err := database.NewSQLiteDB(cfg.SQLitePath)
		if err != nil {
			return nil, err
		}
		store := gormstore.New(db, gormstore.WithFeed(feed))
		if err := store.Migrate(); err != nil {
			return nil, err
		}
		return store, nil
	case "postgres", "":
		db, err := database.NewGormDBFromDSN(cfg.Connection)
		if err != nil {
			return nil, err
		}
		store := gormstore.New(db, gormstore.WithFeed(feed))
		if err := store.Migrate(); err != nil {
			return nil, err
		}
		return store, nil
	default:
		return nil, fmt.Errorf("unknown docstore driver %q", cfg.DocstoreDriver)
	}
}

// Start runs the hub and the event consumers until ctx is cancelled.
func (c *Container) Start(ctx context.Context) {
	go c.WebSocketHub.Run(ctx)

	if c.RepairWorker != nil {
		if err := c.RepairWorker.Start(ctx); err != nil {
			c.Logger.Warn("Container", "Failed to start repair worker", map[string]interface{}{"error": err.Error()})
		}
	}
	if c.EventRelay != nil {
		if err := c.EventRelay.Start(ctx); err != nil {
			c.Logger.Warn("Container", "Failed to start event relay", map[string]interface{}{"error": err.Error()})
		}
	}
}

func (c *Container) Close() {
	if c.natsSub != nil {
		c.natsSub.Close()
	}
	if c.natsPub != nil {
		c.natsPub.Close()
	}
	if err := c.store.Close(); err != nil {
		c.Logger.Warn("Container", "Failed to close document store", map[string]interface{}{"error": err.Error()})
	}
	if err := c.feed.Close(); err != nil {
		c.Logger.Warn("Container", "Failed to close change feed", map[string]interface{}{"error": err.Error()})
	}
	if c.rdb != nil {
		_ = c.rdb.Close()
	}
	_ = c.Logger.Sync()
}
