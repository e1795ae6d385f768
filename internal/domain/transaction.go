package domain

import (
	"time"
)

// Transaction represents an incoming bank transfer to be triaged.
// Transactions are created by upstream ingestion and are read-only
// to the pipeline.
type Transaction struct {
	// Core identifiers
	ID       string `json:"id"`
	TenantID string `json:"tenantId"`

	// Parties involved
	CustomerID  string `json:"customerId"`
	Beneficiary string `json:"beneficiary"`

	// Financial details
	Amount   float64 `json:"amount"`
	Currency string  `json:"currency"`

	// Destination and channel
	DestinationCountry string `json:"destinationCountry"`
	Channel            string `json:"channel"` // e.g. "online", "branch", "mobile"

	// Temporal
	Timestamp time.Time `json:"timestamp"`
	CreatedAt time.Time `json:"createdAt"`

	// Optional metadata
	Metadata map[string]interface{} `json:"metadata,omitempty"`
}

// CustomerProfile is the customer context supplied to the pipeline.
// Never mutated by the pipeline. KYCKnown and AverageAmount are the
// fields the feature extractor treats as mandatory.
type CustomerProfile struct {
	CustomerID      string  `json:"customerId"`
	KYCVerified     bool    `json:"kycVerified"`
	KYCKnown        bool    `json:"kycKnown"` // false when KYC status was not supplied
	PEP             bool    `json:"pep"`
	Nationality     string  `json:"nationality"`
	AverageAmount   float64 `json:"averageAmount"`
	PriorFraudCases int     `json:"priorFraudCases"`
	AccountAgeDays  int     `json:"accountAgeDays"`
	RiskLevel       string  `json:"riskLevel,omitempty"` // "Low", "Medium", "High"
	DeviceTrusted   bool    `json:"deviceTrusted"`
}

// TransactionRequest is the API request payload for transaction submission.
type TransactionRequest struct {
	CustomerID         string                 `json:"customerId"`
	Beneficiary        string                 `json:"beneficiary"`
	Amount             float64                `json:"amount"`
	Currency           string                 `json:"currency"`
	DestinationCountry string                 `json:"destinationCountry"`
	Channel            string                 `json:"channel"`
	Timestamp          time.Time              `json:"timestamp,omitempty"`
	Metadata           map[string]interface{} `json:"metadata,omitempty"`
}

// ToTransaction converts a request to a Transaction domain object.
func (r *TransactionRequest) ToTransaction() *Transaction {
	now := time.Now().UTC()
	ts := r.Timestamp
	if ts.IsZero() {
		ts = now
	}
	return &Transaction{
		CustomerID:         r.CustomerID,
		Beneficiary:        r.Beneficiary,
		Amount:             r.Amount,
		Currency:           r.Currency,
		DestinationCountry: r.DestinationCountry,
		Channel:            r.Channel,
		Timestamp:          ts,
		CreatedAt:          now,
		Metadata:           r.Metadata,
	}
}
