package pipeline

import (
	"context"
	"encoding/json"
	"log/slog"

	"github.com/opensource-finance/kestrel/internal/domain"
)

// Worker consumes submitted transactions from the event bus and runs
// them through the pipeline. Used when ingestion is decoupled from
// triage (Pro tier with NATS, or buffered channel bus).
type Worker struct {
	bus      domain.EventBus
	pipeline *Pipeline

	subscriptions []domain.Subscription
	ctx           context.Context
	cancel        context.CancelFunc
}

// WorkerConfig holds worker configuration.
type WorkerConfig struct {
	// TenantIDs lists the tenants to consume. Empty subscribes a single
	// global consumer.
	TenantIDs []string
}

// NewWorker creates an async pipeline worker.
func NewWorker(bus domain.EventBus, p *Pipeline) *Worker {
	ctx, cancel := context.WithCancel(context.Background())
	return &Worker{
		bus:      bus,
		pipeline: p,
		ctx:      ctx,
		cancel:   cancel,
	}
}

// Start subscribes the worker to the transaction topic.
func (w *Worker) Start(cfg WorkerConfig) error {
	tenants := cfg.TenantIDs
	if len(tenants) == 0 {
		tenants = []string{"_global"}
	}

	for _, tenantID := range tenants {
		sub, err := w.bus.Subscribe(w.ctx, tenantID, domain.TopicTransactionReceived, w.handleMessage)
		if err != nil {
			slog.Error("failed to subscribe worker",
				"tenant_id", tenantID,
				"error", err,
			)
			continue
		}
		w.subscriptions = append(w.subscriptions, sub)

		slog.Info("pipeline worker started",
			"tenant_id", tenantID,
			"topic", domain.TopicTransactionReceived,
		)
	}

	return nil
}

func (w *Worker) handleMessage(ctx context.Context, msg *domain.Message) error {
	var sub Submission
	if err := json.Unmarshal(msg.Payload, &sub); err != nil {
		slog.Error("failed to parse submission",
			"message_id", msg.ID,
			"error", err,
		)
		return err
	}
	if sub.Transaction == nil {
		slog.Error("submission without transaction",
			"message_id", msg.ID,
		)
		return nil
	}

	_, err := w.pipeline.Process(ctx, sub.Transaction, sub.Profile)
	if err != nil {
		slog.Error("async triage failed",
			"tx_id", sub.Transaction.ID,
			"error", err,
		)
	}
	return err
}

// Stop unsubscribes the worker and cancels in-flight handlers.
func (w *Worker) Stop() error {
	w.cancel()

	for _, sub := range w.subscriptions {
		if err := sub.Unsubscribe(); err != nil {
			slog.Error("failed to unsubscribe",
				"topic", sub.Topic(),
				"error", err,
			)
		}
	}
	w.subscriptions = nil

	slog.Info("pipeline worker stopped")
	return nil
}
