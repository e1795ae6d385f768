// Package pipeline runs transactions through the triage stages in
// order: feature extraction, alerting, monitoring, investigation.
package pipeline

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/opensource-finance/kestrel/internal/alerting"
	"github.com/opensource-finance/kestrel/internal/domain"
	"github.com/opensource-finance/kestrel/internal/features"
	"github.com/opensource-finance/kestrel/internal/investigation"
	"github.com/opensource-finance/kestrel/internal/monitoring"
)

// Result is the outcome of one transaction run. Alert, Decision and
// Case fill in as far as the pipeline progressed.
type Result struct {
	TxID     string           `json:"txId"`
	Alert    *domain.Alert    `json:"alert,omitempty"`
	Decision *domain.Decision `json:"decision,omitempty"`
	Case     *domain.Case     `json:"case,omitempty"`
	Err      error            `json:"-"`
}

// Submission pairs a transaction with the customer context supplied by
// upstream ingestion.
type Submission struct {
	Transaction *domain.Transaction     `json:"transaction"`
	Profile     *domain.CustomerProfile `json:"profile"`
}

// Pipeline wires the four stages together and owns the bus and
// repository side effects between them.
type Pipeline struct {
	extractor     *features.Extractor
	alerting      *alerting.Stage
	monitoring    *monitoring.Stage
	investigation *investigation.Stage

	repo domain.Repository
	bus  domain.EventBus

	lookback time.Duration

	mu    sync.Mutex
	stats Stats
}

// Stats counts pipeline outcomes since startup.
type Stats struct {
	Processed  int            `json:"processed"`
	Failed     int            `json:"failed"`
	Stalled    int            `json:"stalled"`
	ByLabel    map[string]int `json:"byLabel"`
	ByDecision map[string]int `json:"byDecision"`
	ByVerdict  map[string]int `json:"byVerdict"`
}

// New creates a pipeline. repo and bus may be nil; persistence and
// event publication are then skipped.
func New(
	extractor *features.Extractor,
	alertStage *alerting.Stage,
	monitorStage *monitoring.Stage,
	investigateStage *investigation.Stage,
	repo domain.Repository,
	bus domain.EventBus,
	cfg domain.PipelineConfig,
) *Pipeline {
	return &Pipeline{
		extractor:     extractor,
		alerting:      alertStage,
		monitoring:    monitorStage,
		investigation: investigateStage,
		repo:          repo,
		bus:           bus,
		lookback:      cfg.BeneficiaryWindow,
		stats: Stats{
			ByLabel:    make(map[string]int),
			ByDecision: make(map[string]int),
			ByVerdict:  make(map[string]int),
		},
	}
}

// Process runs one transaction through every stage it reaches. The
// returned Result carries whatever the pipeline produced before an
// error, so callers can report partial progress.
func (p *Pipeline) Process(ctx context.Context, tx *domain.Transaction, profile *domain.CustomerProfile) (*Result, error) {
	start := time.Now()
	result := &Result{TxID: tx.ID}

	history := p.loadHistory(ctx, tx)

	if p.repo != nil {
		if err := p.repo.SaveTransaction(ctx, tx.TenantID, tx); err != nil {
			slog.Error("failed to persist transaction",
				"tx_id", tx.ID,
				"error", err,
			)
		}
	}

	feats, err := p.extractor.Extract(tx, profile, history)
	if err != nil {
		return p.fail(result, err)
	}

	alert, err := p.alerting.Classify(ctx, tx, feats)
	if err != nil {
		if errors.Is(err, domain.ErrClassificationTimeout) {
			p.markStalled()
			p.publish(ctx, tx.TenantID, domain.TopicAlertStalled, result)
		}
		return p.fail(result, err)
	}
	result.Alert = alert

	if p.repo != nil {
		if err := p.repo.SaveAlert(ctx, tx.TenantID, alert); err != nil {
			slog.Error("failed to persist alert",
				"alert_id", alert.ID,
				"error", err,
			)
		}
	}
	p.publish(ctx, tx.TenantID, domain.TopicAlertRaised, alert)

	decision, err := p.monitoring.Decide(ctx, alert)
	if err != nil {
		return p.fail(result, err)
	}
	result.Decision = decision

	switch decision.Action {
	case domain.DecisionClose:
		// Benign path ends here.

	case domain.DecisionRequestMoreInfo:
		p.publish(ctx, tx.TenantID, domain.TopicMoreInfoRequested, result)

	case domain.DecisionCreateCase:
		p.publish(ctx, tx.TenantID, domain.TopicCaseCreated, decision)

		disposed, err := p.investigation.Investigate(ctx, tx, decision.CaseID)
		if err != nil {
			return p.fail(result, err)
		}
		result.Case = disposed
		p.publish(ctx, tx.TenantID, domain.TopicCaseDisposed, disposed)
	}

	p.record(result)

	slog.Info("transaction triaged",
		"tx_id", tx.ID,
		"tenant_id", tx.TenantID,
		"label", alert.Label,
		"action", decision.Action,
		"case_id", decision.CaseID,
		"duration_ms", time.Since(start).Milliseconds(),
	)

	return result, nil
}

// ProcessBatch runs submissions sequentially. One failing transaction
// does not stop the batch; its Result carries the error.
func (p *Pipeline) ProcessBatch(ctx context.Context, subs []Submission) []*Result {
	results := make([]*Result, 0, len(subs))
	for _, sub := range subs {
		if ctx.Err() != nil {
			break
		}
		result, err := p.Process(ctx, sub.Transaction, sub.Profile)
		if err != nil {
			result.Err = err
		}
		results = append(results, result)
	}
	return results
}

// Statistics returns a snapshot of the outcome counters.
func (p *Pipeline) Statistics() Stats {
	p.mu.Lock()
	defer p.mu.Unlock()

	snap := Stats{
		Processed:  p.stats.Processed,
		Failed:     p.stats.Failed,
		Stalled:    p.stats.Stalled,
		ByLabel:    make(map[string]int, len(p.stats.ByLabel)),
		ByDecision: make(map[string]int, len(p.stats.ByDecision)),
		ByVerdict:  make(map[string]int, len(p.stats.ByVerdict)),
	}
	for k, v := range p.stats.ByLabel {
		snap.ByLabel[k] = v
	}
	for k, v := range p.stats.ByDecision {
		snap.ByDecision[k] = v
	}
	for k, v := range p.stats.ByVerdict {
		snap.ByVerdict[k] = v
	}
	return snap
}

// loadHistory fetches the customer's transactions inside the
// beneficiary lookback window. No repository means no history, which
// the extractor treats as a first-time customer.
func (p *Pipeline) loadHistory(ctx context.Context, tx *domain.Transaction) []*domain.Transaction {
	if p.repo == nil {
		return nil
	}
	since := tx.Timestamp.Add(-p.lookback)
	history, err := p.repo.GetTransactionsByCustomer(ctx, tx.TenantID, tx.CustomerID, since)
	if err != nil {
		slog.Warn("failed to load transaction history",
			"customer_id", tx.CustomerID,
			"error", err,
		)
		return nil
	}
	return history
}

func (p *Pipeline) publish(ctx context.Context, tenantID, topic string, payload any) {
	if p.bus == nil {
		return
	}
	data, err := json.Marshal(payload)
	if err != nil {
		slog.Error("failed to marshal event payload",
			"topic", topic,
			"error", err,
		)
		return
	}
	if err := p.bus.Publish(ctx, tenantID, topic, data); err != nil {
		slog.Error("failed to publish event",
			"topic", topic,
			"error", err,
		)
	}
}

func (p *Pipeline) fail(result *Result, err error) (*Result, error) {
	p.mu.Lock()
	p.stats.Failed++
	p.mu.Unlock()
	result.Err = err
	return result, err
}

func (p *Pipeline) markStalled() {
	p.mu.Lock()
	p.stats.Stalled++
	p.mu.Unlock()
}

func (p *Pipeline) record(result *Result) {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.stats.Processed++
	if result.Alert != nil {
		p.stats.ByLabel[string(result.Alert.Label)]++
	}
	if result.Decision != nil {
		p.stats.ByDecision[string(result.Decision.Action)]++
	}
	if result.Case != nil && result.Case.Disposition != nil {
		p.stats.ByVerdict[string(result.Case.Disposition.Verdict)]++
	}
}
