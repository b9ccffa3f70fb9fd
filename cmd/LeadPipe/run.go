package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/BTreeMap/LeadPipe/internal/api"
	"github.com/BTreeMap/LeadPipe/internal/flow"
	"github.com/BTreeMap/LeadPipe/internal/genai"
	"github.com/BTreeMap/LeadPipe/internal/messaging"
	"github.com/BTreeMap/LeadPipe/internal/models"
	"github.com/BTreeMap/LeadPipe/internal/store"
	"github.com/BTreeMap/LeadPipe/internal/twiliowhatsapp"
	"github.com/BTreeMap/LeadPipe/internal/whatsapp"
)

// appStore is what the SQL stores provide to the service.
type appStore interface {
	store.FlowRepository
	store.Catalog
	store.LeadTracker
	store.LeadReader
	store.DedupRepo
	store.OutboxRepo
	messaging.ReceiptRecorder
	Close() error
}

var (
	_ appStore = (*store.SQLiteStore)(nil)
	_ appStore = (*store.PostgresStore)(nil)
)

func openAppStore(flags Flags) (appStore, error) {
	opts := buildStoreOptions(flags)
	if store.DetectDSNType(*flags.appDSN) == "postgres" {
		return store.NewPostgresStore(opts...)
	}
	return store.NewSQLiteStore(opts...)
}

// layeredFlows resolves published flows from the database first and then from flow files.
type layeredFlows []store.FlowStore

func (l layeredFlows) GetPublished(ctx context.Context, tenantID string, domain models.Domain) (*models.FlowDefinition, error) {
	for _, fs := range l {
		def, err := fs.GetPublished(ctx, tenantID, domain)
		if err == nil {
			return def, nil
		}
		if !errors.Is(err, models.ErrFlowNotFound) {
			return nil, err
		}
	}
	return nil, fmt.Errorf("%w: tenant %s domain %s", models.ErrFlowNotFound, tenantID, domain)
}

// components are the long-lived pieces assembled by run.
type components struct {
	app           appStore
	redis         *store.RedisStore
	dedup         store.DedupRepo
	orchestrator  *flow.Orchestrator
	conversations store.ConversationStore
}

func (c *components) Close() {
	if c.redis != nil {
		if err := c.redis.Close(); err != nil {
			slog.Warn("Redis close failed", "error", err)
		}
	}
	if err := c.app.Close(); err != nil {
		slog.Warn("store close failed", "error", err)
	}
}

// buildComponents opens the stores and assembles the orchestrator.
func buildComponents(ctx context.Context, config Config, flags Flags) (*components, error) {
	app, err := openAppStore(flags)
	if err != nil {
		return nil, fmt.Errorf("failed to open store: %w", err)
	}
	c := &components{app: app, dedup: app}

	c.conversations = store.NewInMemoryStore()
	if *flags.redisAddr != "" {
		c.redis = store.NewRedisStore(*flags.redisAddr, config.RedisPassword, config.RedisDB)
		if err := c.redis.Ping(ctx); err != nil {
			c.Close()
			return nil, fmt.Errorf("failed to reach redis at %s: %w", *flags.redisAddr, err)
		}
		c.conversations = c.redis
		c.dedup = c.redis
		slog.Info("Conversation state in Redis", "addr", *flags.redisAddr)
	}

	var catalog store.Catalog = app
	if *flags.elasticURLs != "" {
		ec, err := store.NewElasticCatalog(strings.Split(*flags.elasticURLs, ","), config.ElasticIndex)
		if err != nil {
			c.Close()
			return nil, fmt.Errorf("failed to create elasticsearch catalog: %w", err)
		}
		catalog = ec
		slog.Info("Catalog served by Elasticsearch", "index", config.ElasticIndex)
	}

	flows := layeredFlows{app}
	if *flags.flowDir != "" {
		flows = append(flows, store.NewFileFlowStore(*flags.flowDir))
	}

	engine := flow.NewEngine(flow.WithCatalog(catalog), flow.WithLeadTracker(app))
	orchOpts := []flow.OrchestratorOption{flow.WithConversationTTL(*flags.conversations)}
	if *flags.openaiKey != "" {
		extractor, err := genai.NewClient(buildGenAIOptions(config, flags)...)
		if err != nil {
			c.Close()
			return nil, fmt.Errorf("failed to create intent extractor: %w", err)
		}
		orchOpts = append(orchOpts, flow.WithExtractor(extractor))
	}
	c.orchestrator = flow.NewOrchestrator(engine, c.conversations, flows, orchOpts...)
	return c, nil
}

// buildTransport creates the configured message service. The Twilio service is also returned
// so its webhook can be mounted.
func buildTransport(ctx context.Context, config Config, flags Flags) (messaging.Service, *messaging.TwilioService, error) {
	switch *flags.transport {
	case TransportTwilio:
		client, err := twiliowhatsapp.NewClient(buildTwilioOptions(config)...)
		if err != nil {
			return nil, nil, err
		}
		var opts []messaging.TwilioOption
		if config.TwilioWebhookURL != "" {
			opts = append(opts, messaging.WithSignatureValidation(config.TwilioAuthToken, config.TwilioWebhookURL))
		}
		svc := messaging.NewTwilioService(client, *flags.tenant, opts...)
		return svc, svc, nil
	case TransportWhatsApp:
		client, err := whatsapp.NewClient(ctx, buildWhatsAppOptions(flags)...)
		if err != nil {
			return nil, nil, err
		}
		return messaging.NewWhatsAppService(client, *flags.tenant), nil, nil
	default:
		return nil, nil, nil
	}
}

// run assembles the service and blocks until ctx is cancelled or the API server fails.
func run(ctx context.Context, config Config, flags Flags) error {
	c, err := buildComponents(ctx, config, flags)
	if err != nil {
		return err
	}
	defer c.Close()

	svc, twilioSvc, err := buildTransport(ctx, config, flags)
	if err != nil {
		return fmt.Errorf("failed to create %s transport: %w", *flags.transport, err)
	}

	apiOpts := append(buildAPIOptions(config, flags), api.WithFlowRepository(c.app), api.WithLeadReader(c.app))
	if twilioSvc != nil {
		apiOpts = append(apiOpts, api.WithTwilioWebhook(twilioSvc))
	}

	var handler *messaging.ResponseHandler
	if svc != nil {
		if err := svc.Start(ctx); err != nil {
			return fmt.Errorf("failed to start %s transport: %w", *flags.transport, err)
		}
		defer func() {
			if err := svc.Stop(); err != nil {
				slog.Warn("transport stop failed", "error", err)
			}
		}()

		rhOpts := append(buildResponseHandlerOptions(config, flags),
			messaging.WithDedupRepo(c.dedup),
			messaging.WithOutbox(c.app),
			messaging.WithReceiptRecorder(c.app),
		)
		handler = messaging.NewResponseHandler(svc, c.orchestrator, rhOpts...)
		handler.Start(ctx)

		sender := store.NewOutboxSender(c.app, *flags.tenant, messaging.OutboxSendFunc(svc), config.OutboxPoll)
		if err := sender.RecoverStaleMessages(); err != nil {
			slog.Warn("outbox recovery failed", "error", err)
		}
		go sender.Run(ctx)
	}

	err = api.NewServer(c.orchestrator, apiOpts...).Run(ctx, *flags.apiAddr)
	if handler != nil {
		handler.Wait()
	}
	return err
}
