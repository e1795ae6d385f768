package classify

// DefaultSignals returns the built-in signal set. Deployments can
// replace or extend these via the signal loading API.
func DefaultSignals() []*SignalConfig {
	return []*SignalConfig{
		{
			ID:          "amount-deviation",
			Name:        "Amount Deviation",
			Description: "transaction amount at least 3x the customer average",
			Expression:  "amount_ratio >= 3.0",
			Weight:      3.0,
			Enabled:     true,
		},
		{
			ID:          "high-risk-country",
			Name:        "High Risk Destination",
			Description: "destination country on the risk list",
			Expression:  "country_risk >= 2",
			Weight:      3.0,
			Enabled:     true,
		},
		{
			ID:          "night-window",
			Name:        "Night Window",
			Description: "transaction initiated in the night window",
			Expression:  "night_time",
			Weight:      1.5,
			Enabled:     true,
		},
		{
			ID:          "kyc-unverified",
			Name:        "KYC Unverified",
			Description: "customer identity not verified",
			Expression:  "!kyc_verified",
			Weight:      2.0,
			Enabled:     true,
		},
		{
			ID:          "pep-customer",
			Name:        "PEP Customer",
			Description: "politically exposed person",
			Expression:  "pep",
			Weight:      1.5,
			Enabled:     true,
		},
		{
			ID:          "untrusted-device",
			Name:        "Untrusted Device",
			Description: "transaction from an untrusted device",
			Expression:  "!device_trusted",
			Weight:      1.5,
			Enabled:     true,
		},
		{
			ID:          "new-beneficiary",
			Name:        "New Beneficiary",
			Description: "beneficiary not seen in the prior 90 days",
			Expression:  "new_beneficiary",
			Weight:      1.0,
			Enabled:     true,
		},
		{
			ID:          "prior-fraud",
			Name:        "Prior Fraud History",
			Description: "customer has prior fraud cases",
			Expression:  "prior_fraud",
			Weight:      2.5,
			Enabled:     true,
		},
	}
}
