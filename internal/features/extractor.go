// Package features derives risk signals from a transaction and its
// customer context.
package features

import (
	"strings"
	"time"

	"github.com/opensource-finance/kestrel/internal/domain"
)

// epsilon guards the deviation ratio against a zero average.
const epsilon = 1e-9

// Extractor computes RiskFeatures. Extraction is deterministic: the
// same transaction, profile and history always produce identical
// features.
type Extractor struct {
	riskCountries     map[string]struct{}
	nightStart        int
	nightEnd          int
	beneficiaryWindow time.Duration
}

// NewExtractor creates an extractor from the pipeline policy.
func NewExtractor(cfg domain.PipelineConfig) *Extractor {
	countries := make(map[string]struct{}, len(cfg.RiskCountries))
	for _, c := range cfg.RiskCountries {
		countries[strings.ToLower(c)] = struct{}{}
	}

	window := cfg.BeneficiaryWindow
	if window <= 0 {
		window = 90 * 24 * time.Hour
	}

	return &Extractor{
		riskCountries:     countries,
		nightStart:        cfg.NightStartHour,
		nightEnd:          cfg.NightEndHour,
		beneficiaryWindow: window,
	}
}

// Extract derives RiskFeatures for a transaction. History is the
// customer's recent transactions as the repository returns them, most
// recent first; extraction itself is order-insensitive.
// Returns ErrInsufficientContext when the profile is missing the
// fields the pipeline must not guess: KYC status and average amount.
func (e *Extractor) Extract(tx *domain.Transaction, profile *domain.CustomerProfile, history []*domain.Transaction) (*domain.RiskFeatures, error) {
	if profile == nil {
		return nil, domain.NewStageError("features", tx.ID, domain.ErrInsufficientContext)
	}
	if !profile.KYCKnown || profile.AverageAmount <= 0 {
		return nil, domain.NewStageError("features", tx.ID, domain.ErrInsufficientContext)
	}

	avg := profile.AverageAmount
	if avg < epsilon {
		avg = epsilon
	}

	return &domain.RiskFeatures{
		TxID:                 tx.ID,
		AmountDeviationRatio: tx.Amount / avg,
		CountryRisk:          e.countryRisk(tx.DestinationCountry, profile.Nationality),
		TimeAnomaly:          e.nightWindow(tx.Timestamp),
		KYCVerified:          profile.KYCVerified,
		PEP:                  profile.PEP,
		DeviceTrusted:        profile.DeviceTrusted,
		NewBeneficiary:       e.newBeneficiary(tx, history),
		PriorFraud:           profile.PriorFraudCases > 0,
	}, nil
}

// countryRisk grades the destination: listed risk countries are HIGH,
// any other cross-border destination is MEDIUM, domestic is LOW.
// Lookup is case-insensitive exact match.
func (e *Extractor) countryRisk(destination, nationality string) domain.CountryRiskTier {
	if destination == "" {
		return domain.CountryRiskLow
	}
	if _, ok := e.riskCountries[strings.ToLower(destination)]; ok {
		return domain.CountryRiskHigh
	}
	if !strings.EqualFold(destination, nationality) {
		return domain.CountryRiskMedium
	}
	return domain.CountryRiskLow
}

// nightWindow reports whether the local hour falls in [start, end).
func (e *Extractor) nightWindow(ts time.Time) bool {
	hour := ts.Hour()
	if e.nightStart <= e.nightEnd {
		return hour >= e.nightStart && hour < e.nightEnd
	}
	// Window wraps midnight, e.g. 22:00-05:00.
	return hour >= e.nightStart || hour < e.nightEnd
}

// newBeneficiary reports whether the beneficiary is absent from the
// customer's prior transactions inside the lookback window.
func (e *Extractor) newBeneficiary(tx *domain.Transaction, history []*domain.Transaction) bool {
	if tx.Beneficiary == "" {
		return false
	}
	cutoff := tx.Timestamp.Add(-e.beneficiaryWindow)
	for _, prior := range history {
		if prior.ID == tx.ID {
			continue
		}
		if prior.Timestamp.Before(cutoff) {
			continue
		}
		if strings.EqualFold(prior.Beneficiary, tx.Beneficiary) {
			return false
		}
	}
	return true
}
