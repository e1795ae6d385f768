package investigation

import (
	"context"
	"errors"
	"math"
	"testing"
	"time"

	"github.com/opensource-finance/kestrel/internal/casestore"
	"github.com/opensource-finance/kestrel/internal/domain"
)

// stubSources returns fixed evidence, with optional per-source errors.
type stubSources struct {
	profile    *domain.CustomerProfile
	profileErr error
	logins     []domain.LoginRecord
	loginErr   error
	loginCalls int
	devices    []domain.DeviceFingerprint
	deviceErr  error
	patterns   *domain.PatternHistory
	patternErr error
}

func (s *stubSources) CustomerProfile(ctx context.Context, tenantID, customerID string) (*domain.CustomerProfile, error) {
	return s.profile, s.profileErr
}

func (s *stubSources) LoginHistory(ctx context.Context, tenantID, customerID string) ([]domain.LoginRecord, error) {
	s.loginCalls++
	return s.logins, s.loginErr
}

func (s *stubSources) DeviceFingerprints(ctx context.Context, tenantID, customerID string) ([]domain.DeviceFingerprint, error) {
	return s.devices, s.deviceErr
}

func (s *stubSources) PatternHistory(ctx context.Context, tenantID, customerID, excludeTxID string) (*domain.PatternHistory, error) {
	return s.patterns, s.patternErr
}

func cleanSources() *stubSources {
	return &stubSources{
		profile: &domain.CustomerProfile{
			CustomerID:    "CUST-1",
			KYCVerified:   true,
			KYCKnown:      true,
			AverageAmount: 4500,
		},
		logins: []domain.LoginRecord{
			{Country: "Saudi Arabia", Successful: true, TwoFactor: true},
			{Country: "Saudi Arabia", Successful: true, TwoFactor: true},
		},
		devices: []domain.DeviceFingerprint{
			{DeviceID: "dev-1", Trusted: true},
		},
		patterns: &domain.PatternHistory{
			RecentAmounts: []float64{4000, 5000},
			Destinations:  []string{"Saudi Arabia"},
			Beneficiaries: []string{"ACC-9"},
		},
	}
}

func testCase(t *testing.T, store *casestore.Store) *domain.Case {
	t.Helper()
	c, err := store.Create(context.Background(), "bank-a", &domain.Alert{
		ID:    "alert-1",
		TxID:  "tx-1",
		Label: domain.LabelInvestigate,
	}, domain.PriorityMedium, "test")
	if err != nil {
		t.Fatalf("create case failed: %v", err)
	}
	return c
}

func testTx() *domain.Transaction {
	return &domain.Transaction{
		ID:                 "tx-1",
		TenantID:           "bank-a",
		CustomerID:         "CUST-1",
		Beneficiary:        "ACC-9",
		Amount:             4800,
		Currency:           "SAR",
		DestinationCountry: "Saudi Arabia",
	}
}

func testStage(sources domain.EvidenceSources, store *casestore.Store) *Stage {
	cfg := domain.DefaultPipelineConfig()
	cfg.SourceAttempts = 3
	cfg.RetryBackoff = time.Millisecond
	return NewStage(sources, store, cfg)
}

func TestInvestigateLegitimate(t *testing.T) {
	store := casestore.NewStore(nil)
	stage := testStage(cleanSources(), store)
	c := testCase(t, store)

	updated, err := stage.Investigate(context.Background(), testTx(), c.ID)
	if err != nil {
		t.Fatalf("investigate failed: %v", err)
	}

	disp := updated.Disposition
	if disp == nil {
		t.Fatal("expected disposition")
	}
	if disp.Verdict != domain.VerdictLegitimate {
		t.Errorf("expected LEGITIMATE, got %s", disp.Verdict)
	}
	if disp.Action != domain.ActionCloseCase {
		t.Errorf("expected CLOSE_CASE, got %s", disp.Action)
	}
	if updated.Status != domain.CaseClosed {
		t.Errorf("expected CLOSED, got %s", updated.Status)
	}
	if disp.Score >= 0 {
		t.Errorf("expected negative score for clean evidence, got %.2f", disp.Score)
	}
}

func TestInvestigateSuspectedFraud(t *testing.T) {
	store := casestore.NewStore(nil)

	// unverified KYC 0.30 + 3 failed logins 0.15 + untrusted device 0.15
	// = 0.60, in the suspected band
	sources := cleanSources()
	sources.profile.KYCVerified = false
	sources.profile.AverageAmount = 0
	sources.logins = []domain.LoginRecord{
		{Successful: false, TwoFactor: true},
		{Successful: false, TwoFactor: true},
		{Successful: false, TwoFactor: true},
	}
	sources.devices = []domain.DeviceFingerprint{{DeviceID: "dev-x", Trusted: false}}
	sources.patterns = &domain.PatternHistory{}

	stage := testStage(sources, store)
	c := testCase(t, store)

	updated, err := stage.Investigate(context.Background(), testTx(), c.ID)
	if err != nil {
		t.Fatalf("investigate failed: %v", err)
	}

	disp := updated.Disposition
	if disp.Verdict != domain.VerdictSuspectedFraud {
		t.Errorf("expected SUSPECTED_FRAUD, got %s (score %.2f)", disp.Verdict, disp.Score)
	}
	if disp.Action != domain.ActionContactCustomer {
		t.Errorf("expected CONTACT_CUSTOMER_FOR_VERIFICATION, got %s", disp.Action)
	}
	if math.Abs(disp.Score-0.60) > 1e-9 {
		t.Errorf("expected score 0.60, got %.4f", disp.Score)
	}
	if updated.Status != domain.CaseClosed {
		t.Errorf("expected CLOSED, got %s", updated.Status)
	}
}

func TestInvestigateConfirmedFraudEscalates(t *testing.T) {
	store := casestore.NewStore(nil)

	// profile: kyc 0.30 + pep 0.10 + prior fraud 0.30 + amount 0.15 = 0.85
	// devices: suspicious 0.25 + untrusted 0.15 = 0.40; total 1.25
	sources := cleanSources()
	sources.profile = &domain.CustomerProfile{
		CustomerID:      "CUST-1",
		KYCVerified:     false,
		KYCKnown:        true,
		PEP:             true,
		PriorFraudCases: 2,
		AverageAmount:   1000,
	}
	sources.devices = []domain.DeviceFingerprint{
		{DeviceID: "dev-x", Trusted: false, Suspicious: true},
	}
	sources.logins = nil
	sources.loginErr = domain.ErrSourceUnavailable
	sources.patterns = &domain.PatternHistory{}

	stage := testStage(sources, store)
	c := testCase(t, store)

	updated, err := stage.Investigate(context.Background(), testTx(), c.ID)
	if err != nil {
		t.Fatalf("investigate failed: %v", err)
	}

	disp := updated.Disposition
	if disp.Verdict != domain.VerdictConfirmedFraud {
		t.Errorf("expected CONFIRMED_FRAUD, got %s (score %.2f)", disp.Verdict, disp.Score)
	}
	if disp.Action != domain.ActionBlockAndEscalate {
		t.Errorf("expected BLOCK_TRANSFER_ESCALATE_COMPLIANCE, got %s", disp.Action)
	}
	if updated.Status != domain.CaseEscalated {
		t.Errorf("expected ESCALATED pending sign-off, got %s", updated.Status)
	}
}

func TestInvestigateRecordsEvidenceGap(t *testing.T) {
	store := casestore.NewStore(nil)

	sources := cleanSources()
	sources.logins = nil
	sources.loginErr = domain.ErrSourceUnavailable

	stage := testStage(sources, store)
	c := testCase(t, store)

	updated, err := stage.Investigate(context.Background(), testTx(), c.ID)
	if err != nil {
		t.Fatalf("investigate failed: %v", err)
	}

	if sources.loginCalls != 3 {
		t.Errorf("expected 3 login attempts, got %d", sources.loginCalls)
	}

	var gap *domain.EvidenceFinding
	for i, f := range updated.Disposition.Evidence {
		if f.Source == domain.SourceLoginHistory {
			gap = &updated.Disposition.Evidence[i]
		}
	}
	if gap == nil {
		t.Fatal("expected a login history finding")
	}
	if !gap.Gap || gap.Contribution != 0 {
		t.Errorf("expected zero-contribution gap, got %+v", gap)
	}

	found := false
	for _, entry := range updated.AuditTrail {
		if entry.Event == "evidence_gap" {
			found = true
		}
	}
	if !found {
		t.Error("expected evidence_gap audit entry")
	}
}

func TestInvestigateOnlyOnce(t *testing.T) {
	store := casestore.NewStore(nil)
	stage := testStage(cleanSources(), store)
	c := testCase(t, store)

	if _, err := stage.Investigate(context.Background(), testTx(), c.ID); err != nil {
		t.Fatalf("first investigate failed: %v", err)
	}

	_, err := stage.Investigate(context.Background(), testTx(), c.ID)
	if !errors.Is(err, domain.ErrCaseNotOpen) {
		t.Errorf("expected ErrCaseNotOpen, got %v", err)
	}
}

// Each additional fraud-weighted signal must never lower the aggregate
// score or soften the verdict. The interesting transitions are the ones
// where a first finding displaces a source's consistency credit.
func TestEvidenceScoreMonotonicity(t *testing.T) {
	rank := map[domain.Verdict]int{
		domain.VerdictLegitimate:     0,
		domain.VerdictSuspectedFraud: 1,
		domain.VerdictConfirmedFraud: 2,
	}

	steps := []struct {
		name   string
		mutate func(*stubSources)
	}{
		{"baseline clean", func(s *stubSources) {}},
		{"kyc unverified", func(s *stubSources) { s.profile.KYCVerified = false }},
		{"pep status", func(s *stubSources) { s.profile.PEP = true }},
		{"prior fraud cases", func(s *stubSources) { s.profile.PriorFraudCases = 2 }},
		{"amount above 3x average", func(s *stubSources) { s.profile.AverageAmount = 1000 }},
		{"failed logins", func(s *stubSources) {
			s.logins = []domain.LoginRecord{
				{Successful: false, TwoFactor: true},
				{Successful: false, TwoFactor: true},
				{Successful: false, TwoFactor: true},
			}
		}},
		{"logins without 2fa", func(s *stubSources) {
			for i := range s.logins {
				s.logins[i].TwoFactor = false
			}
		}},
		{"untrusted device", func(s *stubSources) {
			s.devices = []domain.DeviceFingerprint{{DeviceID: "dev-x", Trusted: false}}
		}},
		{"suspicious device", func(s *stubSources) { s.devices[0].Suspicious = true }},
		{"pattern amount break", func(s *stubSources) { s.patterns.RecentAmounts = []float64{400, 500} }},
		{"new destination", func(s *stubSources) { s.patterns.Destinations = []string{"UAE"} }},
		{"new beneficiary", func(s *stubSources) { s.patterns.Beneficiaries = []string{"ACC-OTHER"} }},
	}

	sources := cleanSources()
	prevScore := 0.0
	prevRank := 0

	for i, step := range steps {
		step.mutate(sources)

		store := casestore.NewStore(nil)
		stage := testStage(sources, store)
		c := testCase(t, store)

		updated, err := stage.Investigate(context.Background(), testTx(), c.ID)
		if err != nil {
			t.Fatalf("%s: investigate failed: %v", step.name, err)
		}
		disp := updated.Disposition

		if i > 0 {
			if disp.Score < prevScore {
				t.Errorf("%s: score dropped from %.2f to %.2f", step.name, prevScore, disp.Score)
			}
			if rank[disp.Verdict] < prevRank {
				t.Errorf("%s: verdict softened to %s", step.name, disp.Verdict)
			}
		}
		prevScore = disp.Score
		prevRank = rank[disp.Verdict]
	}

	if prevRank != rank[domain.VerdictConfirmedFraud] {
		t.Errorf("expected final step to reach CONFIRMED_FRAUD, got rank %d", prevRank)
	}
}

func TestFetchStopsOnNonRetryableError(t *testing.T) {
	store := casestore.NewStore(nil)

	sources := cleanSources()
	sources.loginErr = errors.New("schema mismatch")

	stage := testStage(sources, store)
	c := testCase(t, store)

	// Non-retryable errors degrade to a gap without burning retries.
	if _, err := stage.Investigate(context.Background(), testTx(), c.ID); err != nil {
		t.Fatalf("investigate failed: %v", err)
	}
	if sources.loginCalls != 1 {
		t.Errorf("expected 1 login attempt, got %d", sources.loginCalls)
	}
}
