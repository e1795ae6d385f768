package pipeline

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/opensource-finance/kestrel/internal/alerting"
	"github.com/opensource-finance/kestrel/internal/casestore"
	"github.com/opensource-finance/kestrel/internal/classify"
	"github.com/opensource-finance/kestrel/internal/domain"
	"github.com/opensource-finance/kestrel/internal/features"
	"github.com/opensource-finance/kestrel/internal/investigation"
	"github.com/opensource-finance/kestrel/internal/monitoring"
)

func testConfig() domain.PipelineConfig {
	cfg := domain.DefaultPipelineConfig()
	cfg.RetryBackoff = time.Millisecond
	return cfg
}

func newTestPipeline(t *testing.T, sources *investigation.StoreSources) (*Pipeline, *casestore.Store) {
	t.Helper()
	cfg := testConfig()

	engine, err := classify.NewEngine(cfg.FlaggedThreshold, cfg.InvestigateThreshold, 4)
	if err != nil {
		t.Fatalf("failed to create engine: %v", err)
	}
	t.Cleanup(func() { engine.Close() })
	if err := engine.LoadSignals(classify.DefaultSignals()); err != nil {
		t.Fatalf("failed to load signals: %v", err)
	}

	store := casestore.NewStore(nil)
	p := New(
		features.NewExtractor(cfg),
		alerting.NewStage(engine),
		monitoring.NewStage(store, cfg),
		investigation.NewStage(sources, store, cfg),
		nil,
		nil,
		cfg,
	)
	return p, store
}

func benignSubmission() (*domain.Transaction, *domain.CustomerProfile) {
	tx := &domain.Transaction{
		ID:                 "TXN-B1",
		TenantID:           "bank-a",
		CustomerID:         "CUST-1",
		Beneficiary:        "ACC-9",
		Amount:             500,
		Currency:           "SAR",
		DestinationCountry: "Saudi Arabia",
		Channel:            "online",
		Timestamp:          time.Date(2026, 3, 10, 14, 0, 0, 0, time.UTC),
	}
	profile := &domain.CustomerProfile{
		CustomerID:    "CUST-1",
		KYCVerified:   true,
		KYCKnown:      true,
		Nationality:   "Saudi Arabia",
		AverageAmount: 480,
		DeviceTrusted: true,
	}
	return tx, profile
}

func riskySubmission() (*domain.Transaction, *domain.CustomerProfile) {
	tx := &domain.Transaction{
		ID:                 "TXN-R1",
		TenantID:           "bank-a",
		CustomerID:         "CUST-2",
		Beneficiary:        "ACC-X",
		Amount:             45000,
		Currency:           "SAR",
		DestinationCountry: "Iran",
		Channel:            "online",
		Timestamp:          time.Date(2026, 3, 10, 2, 0, 0, 0, time.UTC),
	}
	profile := &domain.CustomerProfile{
		CustomerID:    "CUST-2",
		KYCVerified:   false,
		KYCKnown:      true,
		Nationality:   "Saudi Arabia",
		AverageAmount: 4500,
		DeviceTrusted: false,
	}
	return tx, profile
}

func seededSources() *investigation.StoreSources {
	sources := investigation.NewStoreSources(nil, nil, 0)
	sources.SeedProfile("bank-a", &domain.CustomerProfile{
		CustomerID:    "CUST-1",
		KYCVerified:   true,
		KYCKnown:      true,
		AverageAmount: 480,
	})
	sources.SeedLogins("bank-a", "CUST-1", []domain.LoginRecord{
		{Country: "Saudi Arabia", Successful: true, TwoFactor: true},
	})
	sources.SeedDevices("bank-a", "CUST-1", []domain.DeviceFingerprint{
		{DeviceID: "dev-1", Trusted: true},
	})

	sources.SeedProfile("bank-a", &domain.CustomerProfile{
		CustomerID:    "CUST-2",
		KYCVerified:   false,
		KYCKnown:      true,
		AverageAmount: 4500,
	})
	sources.SeedLogins("bank-a", "CUST-2", []domain.LoginRecord{
		{Successful: false, TwoFactor: false},
		{Successful: false, TwoFactor: false},
		{Successful: false, TwoFactor: false},
	})
	sources.SeedDevices("bank-a", "CUST-2", []domain.DeviceFingerprint{
		{DeviceID: "dev-x", Trusted: false, Suspicious: true},
	})
	return sources
}

func TestProcessBenignCloses(t *testing.T) {
	p, store := newTestPipeline(t, seededSources())

	tx, profile := benignSubmission()
	result, err := p.Process(context.Background(), tx, profile)
	if err != nil {
		t.Fatalf("process failed: %v", err)
	}

	if result.Alert.Label != domain.LabelNonFraud {
		t.Errorf("expected NON_FRAUD, got %s", result.Alert.Label)
	}
	if result.Decision.Action != domain.DecisionClose {
		t.Errorf("expected CLOSE, got %s", result.Decision.Action)
	}
	if result.Case != nil {
		t.Error("benign transaction must not create a case")
	}
	if store.Count() != 0 {
		t.Errorf("expected empty case store, got %d", store.Count())
	}
}

func TestProcessRiskyRunsFullPipeline(t *testing.T) {
	p, store := newTestPipeline(t, seededSources())

	tx, profile := riskySubmission()
	result, err := p.Process(context.Background(), tx, profile)
	if err != nil {
		t.Fatalf("process failed: %v", err)
	}

	if result.Alert.Label != domain.LabelFlagged {
		t.Errorf("expected FLAGGED, got %s", result.Alert.Label)
	}
	if result.Decision.Action != domain.DecisionCreateCase {
		t.Fatalf("expected CREATE_CASE, got %s", result.Decision.Action)
	}
	if result.Decision.Priority != domain.PriorityHigh {
		t.Errorf("expected HIGH priority, got %s", result.Decision.Priority)
	}
	if result.Case == nil || result.Case.Disposition == nil {
		t.Fatal("expected disposed case")
	}
	if result.Case.Disposition.Verdict == domain.VerdictLegitimate {
		t.Errorf("expected fraud verdict, got %s", result.Case.Disposition.Verdict)
	}

	stored, err := store.Get(result.Decision.CaseID)
	if err != nil {
		t.Fatalf("case not in store: %v", err)
	}
	if stored.Status == domain.CaseOpen {
		t.Errorf("case still open after investigation: %s", stored.Status)
	}
}

func TestProcessFailsOnMissingContext(t *testing.T) {
	p, _ := newTestPipeline(t, seededSources())

	tx, _ := benignSubmission()
	_, err := p.Process(context.Background(), tx, nil)
	if !errors.Is(err, domain.ErrInsufficientContext) {
		t.Errorf("expected ErrInsufficientContext, got %v", err)
	}

	stats := p.Statistics()
	if stats.Failed != 1 {
		t.Errorf("expected 1 failure, got %d", stats.Failed)
	}
	if stats.Processed != 0 {
		t.Errorf("expected 0 processed, got %d", stats.Processed)
	}
}

func TestProcessBatchContinuesAfterFailure(t *testing.T) {
	p, _ := newTestPipeline(t, seededSources())

	goodTx, goodProfile := benignSubmission()
	badTx, _ := riskySubmission()

	results := p.ProcessBatch(context.Background(), []Submission{
		{Transaction: badTx, Profile: nil},
		{Transaction: goodTx, Profile: goodProfile},
	})

	if len(results) != 2 {
		t.Fatalf("expected 2 results, got %d", len(results))
	}
	if results[0].Err == nil {
		t.Error("expected first submission to fail")
	}
	if results[1].Err != nil {
		t.Errorf("expected second submission to succeed, got %v", results[1].Err)
	}
}

func TestStatisticsTracksOutcomes(t *testing.T) {
	p, _ := newTestPipeline(t, seededSources())

	tx1, profile1 := benignSubmission()
	tx2, profile2 := riskySubmission()

	if _, err := p.Process(context.Background(), tx1, profile1); err != nil {
		t.Fatalf("process failed: %v", err)
	}
	if _, err := p.Process(context.Background(), tx2, profile2); err != nil {
		t.Fatalf("process failed: %v", err)
	}

	stats := p.Statistics()
	if stats.Processed != 2 {
		t.Errorf("expected 2 processed, got %d", stats.Processed)
	}
	if stats.ByLabel["NON_FRAUD"] != 1 || stats.ByLabel["FLAGGED"] != 1 {
		t.Errorf("unexpected label counts: %+v", stats.ByLabel)
	}
	if stats.ByDecision["CREATE_CASE"] != 1 || stats.ByDecision["CLOSE"] != 1 {
		t.Errorf("unexpected decision counts: %+v", stats.ByDecision)
	}
	if len(stats.ByVerdict) != 1 {
		t.Errorf("expected one verdict recorded, got %+v", stats.ByVerdict)
	}
}
