package main

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"crosspost/domain/repository"
	"crosspost/infrastructure/clients"
	"crosspost/infrastructure/clients/graph"
	"crosspost/infrastructure/clients/youtube"
	"crosspost/infrastructure/configuration"
	"crosspost/infrastructure/inmemory"
	"crosspost/infrastructure/logger"
	"crosspost/infrastructure/persistence"
	"crosspost/infrastructure/pubsub"
	"crosspost/infrastructure/redisqueue"
	"crosspost/infrastructure/servicebus"
	httpHandler "crosspost/interfaces/http"
)

const instagramPollInterval = 5 * time.Second

// InitiateRecordStore opens the upload request store selected by RECORDS_BACKEND.
func InitiateRecordStore(ctx context.Context, cfg configuration.Config, checks map[string]httpHandler.Check) (repository.IUploadRequest, error) {
	switch cfg.Records.Backend {
	case "memory":
		logger.GetLogger().Warn("Using in-memory record store; records do not survive a restart")
		return inmemory.NewStore(), nil
	case "mongo":
		mongoCfg := cfg.Database.Mongo
		db, err := persistence.NewMongoDb(ctx,
			persistence.MongoURI(mongoCfg.URI, mongoCfg.Host, mongoCfg.Port, mongoCfg.User, mongoCfg.Password),
			mongoCfg.Name)
		if err != nil {
			return nil, err
		}
		if err := persistence.EnsureUploadRequestIndexes(ctx, db, cfg.Records.Collection); err != nil {
			return nil, err
		}
		checks["mongo"] = func(ctx context.Context) error { return db.Client().Ping(ctx, nil) }
		logger.GetLogger().WithField("collection", cfg.Records.Collection).Info("MongoDB record store connected")
		return persistence.NewUploadRequestRepositoryMongo(db, cfg.Records.Collection), nil
	default:
		return nil, fmt.Errorf("unknown records backend %q", cfg.Records.Backend)
	}
}

// InitiateQueue opens the work queue selected by QUEUE_BACKEND.
func InitiateQueue(ctx context.Context, cfg configuration.Config, checks map[string]httpHandler.Check) (repository.IWorkQueue, error) {
	q := cfg.Queue
	log := logger.GetLogger().WithFields(map[string]interface{}{"backend": q.Backend, "queue": q.Name})
	switch q.Backend {
	case "memory":
		log.Warn("Using in-memory work queue; only workers in this process will see jobs")
		return inmemory.NewQueue(q.VisibilityTimeout(), q.MaxReceiveCount), nil
	case "servicebus":
		sb := cfg.ServiceBus
		client, err := servicebus.NewServiceBus(ctx, sb.Namespace, sb.ConnectionString)
		if err != nil {
			return nil, err
		}
		if sb.EnsureQueue {
			ac, err := servicebus.NewAdminClient(sb.Namespace, sb.ConnectionString)
			if err != nil {
				return nil, err
			}
			if err := servicebus.EnsureQueue(ctx, ac, q.Name, q.VisibilityTimeout(), q.MaxReceiveCount); err != nil {
				return nil, err
			}
		}
		log.Info("Azure Service Bus queue ready")
		return servicebus.NewQueue(client, q.Name)
	case "pubsub":
		ps := cfg.Pubsub
		client, err := pubsub.NewPubSub(ctx, ps.ProjectID)
		if err != nil {
			return nil, err
		}
		minBackoff, maxBackoff := ps.RetryBackoff()
		deadTopic := ""
		if ps.DeadLetterSubscriptionID != "" {
			deadTopic = ps.TopicID + "-dead-letters"
		}
		err = pubsub.EnsureTopology(ctx, client, pubsub.Topology{
			TopicID:                  ps.TopicID,
			SubscriptionID:           ps.SubscriptionID,
			DeadLetterTopicID:        deadTopic,
			DeadLetterSubscriptionID: ps.DeadLetterSubscriptionID,
			AckDeadline:              q.VisibilityTimeout(),
			MaxDeliveryAttempts:      q.MaxReceiveCount,
			MinBackoff:               minBackoff,
			MaxBackoff:               maxBackoff,
		})
		if err != nil {
			return nil, err
		}
		log.Info("Google Pub/Sub queue ready")
		return pubsub.NewQueue(client, ps.TopicID, ps.SubscriptionID, ps.DeadLetterSubscriptionID, q.VisibilityTimeout(), cfg.Worker.Concurrency), nil
	case "redis":
		rc := cfg.RedisClient
		rdb, err := redisqueue.NewClient(ctx, rc.Addr(), rc.Username, rc.Password, rc.DB())
		if err != nil {
			return nil, err
		}
		checks["redis"] = func(ctx context.Context) error { return rdb.Ping(ctx).Err() }
		log.Info("Redis queue ready")
		return redisqueue.NewQueue(rdb, q.Name, q.VisibilityTimeout(), q.MaxReceiveCount), nil
	default:
		return nil, fmt.Errorf("unknown queue backend %q", q.Backend)
	}
}

// InitiateTokenStore opens the OAuth token table used by the authorizer,
// the publishers and account linking.
func InitiateTokenStore(cfg configuration.Config, checks map[string]httpHandler.Check) (*sql.DB, repository.IOAuthToken, error) {
	db, tokens, err := persistence.NewTokenStore(cfg.Database)
	if err != nil {
		return nil, nil, err
	}
	checks[cfg.Database.Vendor] = db.PingContext
	logger.GetLogger().WithField("vendor", cfg.Database.Vendor).Info("OAuth token store connected")
	return db, tokens, nil
}

// InitiateDeadLetterArchive returns nil when no MySQL DSN is configured; dead
// letters are then only logged.
func InitiateDeadLetterArchive(cfg configuration.Config) repository.IDeadLetter {
	if cfg.Database.MySql.URI == "" {
		return nil
	}
	db, err := persistence.NewGormMySQL(cfg.Database.MySql.URI)
	if err != nil {
		logger.GetLogger().WithField("error", err).Warn("Dead-letter archive unavailable; dead letters will only be logged")
		return nil
	}
	return persistence.NewDeadLetterRepository(db)
}

// InitiatePublishers builds the platform adapters and, for platforms with
// OAuth client credentials, the matching account connectors.
func InitiatePublishers(cfg configuration.Config, tokens repository.IOAuthToken) (*clients.Registry, []repository.IAccountConnector) {
	graphClient := graph.NewClient(graph.Config{
		BaseURL:       cfg.Graph.BaseURL,
		APIVersion:    cfg.Graph.APIVersion,
		RatePerSecond: cfg.Graph.RatePerSecond,
	}, tokens)
	ytCfg := youtube.Config{
		ClientID:      cfg.OAuth.YouTube.ClientID,
		ClientSecret:  cfg.OAuth.YouTube.ClientSecret,
		PrivacyStatus: cfg.YouTube.PrivacyStatus,
		CategoryID:    cfg.YouTube.CategoryID,
	}
	registry := clients.NewRegistry(
		graph.NewFacebookPublisher(graphClient),
		graph.NewInstagramPublisher(graphClient, instagramPollInterval),
		youtube.NewPublisher(ytCfg, tokens),
	)

	var connectors []repository.IAccountConnector
	if fb := cfg.OAuth.Facebook; fb.Configured() {
		connectors = append(connectors, graph.NewConnector(graphClient, "", fb.ClientID, fb.ClientSecret, fb.RedirectURI))
	}
	if cfg.OAuth.YouTube.Configured() {
		connectors = append(connectors, youtube.NewConnector(ytCfg, cfg.OAuth.YouTube.RedirectURI, ""))
	}
	logger.GetLogger().WithFields(map[string]interface{}{
		"platforms":  registry.Platforms(),
		"connectors": len(connectors),
	}).Info("Publish adapters registered")
	return registry, connectors
}
