package domain

// CountryRiskTier grades a destination country.
type CountryRiskTier int

const (
	CountryRiskLow CountryRiskTier = iota
	CountryRiskMedium
	CountryRiskHigh
)

func (t CountryRiskTier) String() string {
	switch t {
	case CountryRiskHigh:
		return "HIGH"
	case CountryRiskMedium:
		return "MEDIUM"
	default:
		return "LOW"
	}
}

// RiskFeatures holds the signals derived from a transaction and its
// customer context. Computed once per transaction, immutable thereafter.
type RiskFeatures struct {
	TxID string `json:"txId"`

	// Ratio of transaction amount to the customer's historical average.
	AmountDeviationRatio float64 `json:"amountDeviationRatio"`

	CountryRisk    CountryRiskTier `json:"countryRisk"`
	TimeAnomaly    bool            `json:"timeAnomaly"` // local hour in the night window
	KYCVerified    bool            `json:"kycVerified"`
	PEP            bool            `json:"pep"`
	DeviceTrusted  bool            `json:"deviceTrusted"`
	NewBeneficiary bool            `json:"newBeneficiary"`
	PriorFraud     bool            `json:"priorFraud"`
}
