package monitoring

import (
	"context"
	"testing"

	"github.com/opensource-finance/kestrel/internal/casestore"
	"github.com/opensource-finance/kestrel/internal/domain"
)

func newTestStage(escalationWins bool) (*Stage, *casestore.Store) {
	store := casestore.NewStore(nil)
	cfg := domain.DefaultPipelineConfig()
	cfg.EscalationWins = escalationWins
	return NewStage(store, cfg), store
}

func alertWith(label domain.AlertLabel, confidence float64, feats domain.RiskFeatures) *domain.Alert {
	feats.TxID = "tx-1"
	return &domain.Alert{
		ID:         "alert-1",
		TenantID:   "bank-a",
		TxID:       "tx-1",
		Label:      label,
		Confidence: confidence,
		Rationale:  []domain.RationaleEntry{{Signal: "test", Contribution: 1}},
		Features:   feats,
	}
}

func cleanFeatures() domain.RiskFeatures {
	return domain.RiskFeatures{KYCVerified: true, DeviceTrusted: true}
}

func TestDecideNonFraudCloses(t *testing.T) {
	stage, store := newTestStage(true)

	d, err := stage.Decide(context.Background(), alertWith(domain.LabelNonFraud, 0.95, cleanFeatures()))
	if err != nil {
		t.Fatalf("decide failed: %v", err)
	}
	if d.Action != domain.DecisionClose {
		t.Errorf("expected CLOSE, got %s", d.Action)
	}
	if d.CaseID != "" {
		t.Errorf("close must not allocate a case id, got %s", d.CaseID)
	}
	if store.Count() != 0 {
		t.Errorf("expected no cases, got %d", store.Count())
	}
}

func TestDecideFlaggedAlwaysOpensHighCase(t *testing.T) {
	stage, store := newTestStage(true)

	// Even at low confidence, FLAGGED bypasses the threshold check.
	d, err := stage.Decide(context.Background(), alertWith(domain.LabelFlagged, 0.1, cleanFeatures()))
	if err != nil {
		t.Fatalf("decide failed: %v", err)
	}
	if d.Action != domain.DecisionCreateCase {
		t.Errorf("expected CREATE_CASE, got %s", d.Action)
	}
	if d.Priority != domain.PriorityHigh {
		t.Errorf("expected HIGH, got %s", d.Priority)
	}
	if d.CaseID == "" {
		t.Error("expected allocated case id")
	}

	c, err := store.Get(d.CaseID)
	if err != nil {
		t.Fatalf("case not in store: %v", err)
	}
	if c.AlertID != "alert-1" {
		t.Errorf("case missing founding alert: %s", c.AlertID)
	}
}

func TestDecideInvestigateMediumCase(t *testing.T) {
	stage, _ := newTestStage(true)

	d, err := stage.Decide(context.Background(), alertWith(domain.LabelInvestigate, 0.6, cleanFeatures()))
	if err != nil {
		t.Fatalf("decide failed: %v", err)
	}
	if d.Action != domain.DecisionCreateCase {
		t.Errorf("expected CREATE_CASE, got %s", d.Action)
	}
	if d.Priority != domain.PriorityMedium {
		t.Errorf("expected MEDIUM, got %s", d.Priority)
	}
}

func TestDecideInvestigateEscalatesOnKYC(t *testing.T) {
	stage, _ := newTestStage(true)

	feats := cleanFeatures()
	feats.KYCVerified = false

	d, err := stage.Decide(context.Background(), alertWith(domain.LabelInvestigate, 0.6, feats))
	if err != nil {
		t.Fatalf("decide failed: %v", err)
	}
	if d.Priority != domain.PriorityHigh {
		t.Errorf("expected HIGH for unverified KYC, got %s", d.Priority)
	}
}

func TestDecideInvestigateEscalatesOnPriorFraud(t *testing.T) {
	stage, _ := newTestStage(true)

	feats := cleanFeatures()
	feats.PriorFraud = true

	d, err := stage.Decide(context.Background(), alertWith(domain.LabelInvestigate, 0.6, feats))
	if err != nil {
		t.Fatalf("decide failed: %v", err)
	}
	if d.Priority != domain.PriorityHigh {
		t.Errorf("expected HIGH for prior fraud, got %s", d.Priority)
	}
}

func TestDecideLowConfidenceRequestsMoreInfo(t *testing.T) {
	stage, store := newTestStage(true)

	d, err := stage.Decide(context.Background(), alertWith(domain.LabelInvestigate, 0.3, cleanFeatures()))
	if err != nil {
		t.Fatalf("decide failed: %v", err)
	}
	if d.Action != domain.DecisionRequestMoreInfo {
		t.Errorf("expected REQUEST_MORE_INFO, got %s", d.Action)
	}
	if d.CaseID != "" {
		t.Errorf("more-info must not allocate a case id, got %s", d.CaseID)
	}
	if store.Count() != 0 {
		t.Errorf("expected no cases, got %d", store.Count())
	}
}

func TestDecideEscalationWinsOverLowConfidence(t *testing.T) {
	feats := cleanFeatures()
	feats.KYCVerified = false

	// Policy on: escalation trigger overrides the low-confidence branch.
	stage, _ := newTestStage(true)
	d, err := stage.Decide(context.Background(), alertWith(domain.LabelInvestigate, 0.3, feats))
	if err != nil {
		t.Fatalf("decide failed: %v", err)
	}
	if d.Action != domain.DecisionCreateCase || d.Priority != domain.PriorityHigh {
		t.Errorf("expected HIGH case when escalation wins, got %s/%s", d.Action, d.Priority)
	}

	// Policy off: low confidence wins, more info requested.
	stage, _ = newTestStage(false)
	d, err = stage.Decide(context.Background(), alertWith(domain.LabelInvestigate, 0.3, feats))
	if err != nil {
		t.Fatalf("decide failed: %v", err)
	}
	if d.Action != domain.DecisionRequestMoreInfo {
		t.Errorf("expected REQUEST_MORE_INFO when escalation loses, got %s", d.Action)
	}
}

func TestDecideRejectsUnknownLabel(t *testing.T) {
	stage, _ := newTestStage(true)

	_, err := stage.Decide(context.Background(), alertWith(domain.AlertLabel("MAYBE"), 0.5, cleanFeatures()))
	if err == nil {
		t.Fatal("expected error for unknown label")
	}
}
