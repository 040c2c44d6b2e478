// Package jobs runs detached work through asynq: provider notifications
// and catalog cache warming. Neither may ever fail a customer reply.
package jobs

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/hibiken/asynq"
	"go.uber.org/zap"

	"concierge/internal/catalog"
	"concierge/internal/db"
	"concierge/internal/pubsub"
)

const (
	TaskDispatchNotify = "dispatch:notify"
	TaskCatalogWarm    = "catalog:warm"
)

type catalogWarmPayload struct {
	Source  string `json:"source"`
	Keyword string `json:"keyword"`
}

type JobServer struct {
	server  *asynq.Server
	client  *asynq.Client
	db      *db.Pool
	bus     *pubsub.Bus
	catalog *catalog.Aggregator
	log     *zap.Logger
}

func NewJobServer(redisAddr string, dbPool *db.Pool, bus *pubsub.Bus, agg *catalog.Aggregator, log *zap.Logger) *JobServer {
	redisOpt := asynq.RedisClientOpt{Addr: redisAddr}

	server := asynq.NewServer(
		redisOpt,
		asynq.Config{
			Concurrency: 10,
			Queues: map[string]int{
				"critical": 6,
				"default":  3,
				"low":      1,
			},
		},
	)

	return &JobServer{
		server:  server,
		client:  asynq.NewClient(redisOpt),
		db:      dbPool,
		bus:     bus,
		catalog: agg,
		log:     log,
	}
}

func (js *JobServer) Start() error {
	mux := asynq.NewServeMux()
	mux.HandleFunc(TaskDispatchNotify, js.handleDispatchNotify)
	mux.HandleFunc(TaskCatalogWarm, js.handleCatalogWarm)
	return js.server.Start(mux)
}

func (js *JobServer) Stop() {
	js.server.Shutdown()
	js.client.Close()
}

// handleDispatchNotify pushes a request notification to every provider
// dispatched on it. Providers consume these over their own event channels.
func (js *JobServer) handleDispatchNotify(ctx context.Context, t *asynq.Task) error {
	requestID := string(t.Payload())

	req, err := js.db.Queries.GetServiceRequestByID(ctx, requestID)
	if err != nil {
		return fmt.Errorf("failed to get request: %w", err)
	}

	dispatches, err := js.db.Queries.ListDispatches(ctx, requestID)
	if err != nil {
		return fmt.Errorf("failed to list dispatches: %w", err)
	}

	for _, d := range dispatches {
		_ = js.bus.PublishProvider(d.ProviderID, map[string]interface{}{
			"type":      "dispatch.new",
			"requestId": requestID,
			"category":  req.Category,
			"city":      req.City,
		})
	}

	js.log.Info("Dispatch notifications sent",
		zap.String("request_id", requestID),
		zap.Int("providers", len(dispatches)))
	return nil
}

// handleCatalogWarm refreshes the search cache for a query off the hot
// path. Failures are logged, never retried into user-visible errors.
func (js *JobServer) handleCatalogWarm(ctx context.Context, t *asynq.Task) error {
	var p catalogWarmPayload
	if err := json.Unmarshal(t.Payload(), &p); err != nil {
		return fmt.Errorf("failed to decode warm payload: %w", err)
	}

	if _, err := js.catalog.SearchByKeyword(ctx, p.Source, p.Keyword, catalog.SearchOpts{}); err != nil {
		js.log.Warn("Cache warm failed",
			zap.String("source", p.Source),
			zap.String("keyword", p.Keyword),
			zap.Error(err))
		return nil
	}

	js.log.Debug("Cache warmed",
		zap.String("source", p.Source),
		zap.String("keyword", p.Keyword))
	return nil
}

// Client is the enqueue-only side handed to the services.
type Client struct {
	client *asynq.Client
}

func NewClient(redisAddr string) *Client {
	return &Client{client: asynq.NewClient(asynq.RedisClientOpt{Addr: redisAddr})}
}

func (c *Client) Close() error {
	return c.client.Close()
}

// EnqueueDispatchNotify queues provider notification for a request.
func (c *Client) EnqueueDispatchNotify(requestID string) error {
	task := asynq.NewTask(TaskDispatchNotify, []byte(requestID))
	_, err := c.client.Enqueue(task, asynq.Queue("critical"))
	return err
}

// EnqueueCatalogWarm queues a fire-and-forget cache refresh.
func (c *Client) EnqueueCatalogWarm(source, keyword string) error {
	payload, err := json.Marshal(catalogWarmPayload{Source: source, Keyword: keyword})
	if err != nil {
		return err
	}
	task := asynq.NewTask(TaskCatalogWarm, payload)
	_, err = c.client.Enqueue(task, asynq.Queue("low"))
	return err
}
