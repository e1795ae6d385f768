// Package investigation aggregates evidence for open cases and
// produces dispositions.
package investigation

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/opensource-finance/kestrel/internal/casestore"
	"github.com/opensource-finance/kestrel/internal/domain"
)

// Stage investigates open cases: it gathers the four evidence sources,
// scores the findings, and attaches the resulting disposition. A source
// that stays unavailable after bounded retries becomes an evidence gap
// with zero contribution; it never blocks the verdict.
type Stage struct {
	sources     domain.EvidenceSources
	store       *casestore.Store
	attempts    int
	backoff     time.Duration
	confirmedAt float64
	suspectedAt float64
}

// NewStage creates an investigation stage.
func NewStage(sources domain.EvidenceSources, store *casestore.Store, cfg domain.PipelineConfig) *Stage {
	attempts := cfg.SourceAttempts
	if attempts < 1 {
		attempts = 1
	}
	return &Stage{
		sources:     sources,
		store:       store,
		attempts:    attempts,
		backoff:     cfg.RetryBackoff,
		confirmedAt: cfg.ConfirmedThreshold,
		suspectedAt: cfg.SuspectedThreshold,
	}
}

// Investigate runs the evidence aggregation for one case and attaches
// the disposition. The case transitions out of OPEN exactly once; a
// second call for the same case fails with ErrCaseNotOpen.
func (s *Stage) Investigate(ctx context.Context, tx *domain.Transaction, caseID string) (*domain.Case, error) {
	bundle, gaps, err := s.gather(ctx, tx)
	if err != nil {
		return nil, domain.NewStageError("investigation", tx.ID, err)
	}

	findings := gaps
	findings = append(findings, scoreProfile(tx, bundle.Profile)...)
	findings = append(findings, scoreLogins(bundle.Logins)...)
	findings = append(findings, scoreDevices(bundle.Devices)...)
	findings = append(findings, scorePatterns(tx, bundle.Patterns)...)

	var score float64
	for _, f := range findings {
		score += f.Contribution
	}

	verdict := domain.VerdictLegitimate
	switch {
	case score >= s.confirmedAt:
		verdict = domain.VerdictConfirmedFraud
	case score >= s.suspectedAt:
		verdict = domain.VerdictSuspectedFraud
	}

	for _, gap := range gaps {
		if auditErr := s.store.AppendAudit(ctx, caseID, domain.AuditEntry{
			Stage:  "investigation",
			Event:  "evidence_gap",
			Detail: gap.Finding,
		}); auditErr != nil {
			return nil, domain.NewStageError("investigation", tx.ID, auditErr)
		}
	}

	disp := &domain.Disposition{
		CaseID:    caseID,
		Verdict:   verdict,
		Action:    domain.ActionForVerdict(verdict),
		Score:     score,
		Evidence:  findings,
		Timestamp: time.Now().UTC(),
	}

	updated, err := s.store.AttachDisposition(ctx, caseID, disp)
	if err != nil {
		return nil, domain.NewStageError("investigation", tx.ID, err)
	}

	slog.Info("case disposed",
		"case_id", caseID,
		"tx_id", tx.ID,
		"verdict", verdict,
		"score", fmt.Sprintf("%.2f", score),
		"gaps", len(gaps),
	)

	return updated, nil
}

// gather fetches all four sources, converting retry-exhausted sources
// into gap findings.
func (s *Stage) gather(ctx context.Context, tx *domain.Transaction) (*domain.EvidenceBundle, []domain.EvidenceFinding, error) {
	tenantID, customerID := tx.TenantID, tx.CustomerID
	bundle := &domain.EvidenceBundle{}
	var gaps []domain.EvidenceFinding

	record := func(source string, err error) error {
		if err == nil {
			return nil
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}
		slog.Warn("evidence source degraded to gap",
			"source", source,
			"customer_id", customerID,
			"error", err,
		)
		gaps = append(gaps, domain.EvidenceFinding{
			Source:  source,
			Finding: fmt.Sprintf("source unavailable after %d attempts", s.attempts),
			Gap:     true,
		})
		return nil
	}

	profile, err := fetch(ctx, s.attempts, s.backoff, func(ctx context.Context) (*domain.CustomerProfile, error) {
		return s.sources.CustomerProfile(ctx, tenantID, customerID)
	})
	if err = record(domain.SourceCustomerProfile, err); err != nil {
		return nil, nil, err
	}
	bundle.Profile = profile

	logins, err := fetch(ctx, s.attempts, s.backoff, func(ctx context.Context) ([]domain.LoginRecord, error) {
		return s.sources.LoginHistory(ctx, tenantID, customerID)
	})
	if err = record(domain.SourceLoginHistory, err); err != nil {
		return nil, nil, err
	}
	bundle.Logins = logins

	devices, err := fetch(ctx, s.attempts, s.backoff, func(ctx context.Context) ([]domain.DeviceFingerprint, error) {
		return s.sources.DeviceFingerprints(ctx, tenantID, customerID)
	})
	if err = record(domain.SourceDeviceSet, err); err != nil {
		return nil, nil, err
	}
	bundle.Devices = devices

	patterns, err := fetch(ctx, s.attempts, s.backoff, func(ctx context.Context) (*domain.PatternHistory, error) {
		return s.sources.PatternHistory(ctx, tenantID, customerID, tx.ID)
	})
	if err = record(domain.SourcePatternHistory, err); err != nil {
		return nil, nil, err
	}
	bundle.Patterns = patterns

	return bundle, gaps, nil
}

// fetch retries a lookup on ErrSourceUnavailable up to attempts times
// with linear backoff. Other errors fail the lookup immediately.
func fetch[T any](ctx context.Context, attempts int, backoff time.Duration, get func(context.Context) (T, error)) (T, error) {
	var zero T
	var lastErr error

	for attempt := 1; attempt <= attempts; attempt++ {
		v, err := get(ctx)
		if err == nil {
			return v, nil
		}
		lastErr = err
		if !errors.Is(err, domain.ErrSourceUnavailable) {
			return zero, err
		}
		if attempt < attempts {
			select {
			case <-ctx.Done():
				return zero, ctx.Err()
			case <-time.After(backoff * time.Duration(attempt)):
			}
		}
	}

	return zero, lastErr
}

func scoreProfile(tx *domain.Transaction, profile *domain.CustomerProfile) []domain.EvidenceFinding {
	if profile == nil {
		return nil
	}

	var findings []domain.EvidenceFinding
	add := func(finding string, contribution float64) {
		findings = append(findings, domain.EvidenceFinding{
			Source:       domain.SourceCustomerProfile,
			Finding:      finding,
			Contribution: contribution,
		})
	}

	if !profile.KYCVerified {
		add("customer KYC not verified", 0.30)
	}
	if profile.PEP {
		add("customer is a politically exposed person", 0.10)
	}
	if profile.PriorFraudCases > 0 {
		add(fmt.Sprintf("customer has %d prior fraud cases", profile.PriorFraudCases), 0.30)
	}
	if profile.AverageAmount > 0 && tx.Amount > 3*profile.AverageAmount {
		add(fmt.Sprintf("amount %.0f exceeds 3x customer average %.0f", tx.Amount, profile.AverageAmount), 0.15)
	}

	if len(findings) == 0 {
		add("profile consistent with legitimate activity", -0.10)
	}
	return findings
}

func scoreLogins(logins []domain.LoginRecord) []domain.EvidenceFinding {
	if logins == nil {
		return nil
	}

	var findings []domain.EvidenceFinding
	add := func(finding string, contribution float64) {
		findings = append(findings, domain.EvidenceFinding{
			Source:       domain.SourceLoginHistory,
			Finding:      finding,
			Contribution: contribution,
		})
	}

	countries := make(map[string]bool)
	failed := 0
	noTwoFactor := 0
	for _, l := range logins {
		if l.Country != "" {
			countries[l.Country] = true
		}
		if !l.Successful {
			failed++
		}
		if !l.TwoFactor {
			noTwoFactor++
		}
	}

	if len(countries) > 3 {
		add(fmt.Sprintf("logins from %d countries", len(countries)), 0.15)
	}
	if failed > 2 {
		add(fmt.Sprintf("%d failed login attempts", failed), 0.15)
	}
	if len(logins) > 0 && noTwoFactor*2 > len(logins) {
		add("majority of logins without two-factor authentication", 0.20)
	}

	if len(findings) == 0 && len(logins) > 0 {
		add("authentication history unremarkable", -0.10)
	}
	return findings
}

func scoreDevices(devices []domain.DeviceFingerprint) []domain.EvidenceFinding {
	if devices == nil {
		return nil
	}

	var findings []domain.EvidenceFinding
	add := func(finding string, contribution float64) {
		findings = append(findings, domain.EvidenceFinding{
			Source:       domain.SourceDeviceSet,
			Finding:      finding,
			Contribution: contribution,
		})
	}

	suspicious := 0
	untrusted := 0
	for _, d := range devices {
		if d.Suspicious {
			suspicious++
		}
		if !d.Trusted {
			untrusted++
		}
	}

	if suspicious > 0 {
		add(fmt.Sprintf("%d devices flagged suspicious", suspicious), 0.25)
	}
	if untrusted > 0 {
		add(fmt.Sprintf("%d devices not trusted", untrusted), 0.15)
	}

	if len(findings) == 0 && len(devices) > 0 {
		add("all devices trusted", -0.10)
	}
	return findings
}

func scorePatterns(tx *domain.Transaction, patterns *domain.PatternHistory) []domain.EvidenceFinding {
	if patterns == nil {
		return nil
	}

	var findings []domain.EvidenceFinding
	add := func(finding string, contribution float64) {
		findings = append(findings, domain.EvidenceFinding{
			Source:       domain.SourcePatternHistory,
			Finding:      finding,
			Contribution: contribution,
		})
	}

	if mean := meanAmount(patterns.RecentAmounts); mean > 0 && tx.Amount > 3*mean {
		add(fmt.Sprintf("amount %.0f deviates from recent average %.0f", tx.Amount, mean), 0.20)
	}
	if len(patterns.Destinations) > 0 && !containsFold(patterns.Destinations, tx.DestinationCountry) {
		add(fmt.Sprintf("no prior transfers to %s", tx.DestinationCountry), 0.15)
	}
	if len(patterns.Beneficiaries) > 0 && tx.Beneficiary != "" && !containsFold(patterns.Beneficiaries, tx.Beneficiary) {
		add("first transfer to this beneficiary", 0.10)
	}

	if len(findings) == 0 && len(patterns.RecentAmounts) > 0 {
		add("transaction consistent with recent patterns", -0.15)
	}
	return findings
}

func meanAmount(amounts []float64) float64 {
	if len(amounts) == 0 {
		return 0
	}
	var sum float64
	for _, a := range amounts {
		sum += a
	}
	return sum / float64(len(amounts))
}

func containsFold(haystack []string, needle string) bool {
	for _, h := range haystack {
		if strings.EqualFold(h, needle) {
			return true
		}
	}
	return false
}
