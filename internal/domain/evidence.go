package domain

import (
	"context"
	"time"
)

// Evidence source names used in dispositions and audit entries.
const (
	SourceCustomerProfile = "customer_profile"
	SourceLoginHistory    = "login_history"
	SourceDeviceSet       = "device_fingerprints"
	SourcePatternHistory  = "transaction_patterns"
)

// LoginRecord is one authentication event for a customer.
type LoginRecord struct {
	CustomerID string    `json:"customerId"`
	Timestamp  time.Time `json:"timestamp"`
	Country    string    `json:"country"`
	DeviceID   string    `json:"deviceId"`
	Successful bool      `json:"successful"`
	TwoFactor  bool      `json:"twoFactor"`
}

// DeviceFingerprint describes one device seen for a customer.
type DeviceFingerprint struct {
	DeviceID   string `json:"deviceId"`
	CustomerID string `json:"customerId"`
	Trusted    bool   `json:"trusted"`
	Suspicious bool   `json:"suspicious"`
}

// PatternHistory summarizes a customer's recent transaction behaviour.
type PatternHistory struct {
	CustomerID    string    `json:"customerId"`
	RecentAmounts []float64 `json:"recentAmounts"`
	Destinations  []string  `json:"destinations"`
	DailyAverage  float64   `json:"dailyAverage"` // transactions per day
	Beneficiaries []string  `json:"beneficiaries"`
}

// EvidenceBundle aggregates the four evidence sources for one case.
// A nil member means the source was unavailable after retry exhaustion
// and must be recorded as an evidence gap.
type EvidenceBundle struct {
	Profile  *CustomerProfile
	Logins   []LoginRecord
	Devices  []DeviceFingerprint
	Patterns *PatternHistory
}

// EvidenceSources is the read-only lookup surface the investigation
// stage aggregates from. Each lookup may fail with ErrSourceUnavailable
// and is treated as potentially slow.
//
// PatternHistory describes prior behaviour only: excludeTxID names the
// transaction under investigation, which is already persisted by the
// time the stage runs and must not count as its own precedent.
type EvidenceSources interface {
	CustomerProfile(ctx context.Context, tenantID, customerID string) (*CustomerProfile, error)
	LoginHistory(ctx context.Context, tenantID, customerID string) ([]LoginRecord, error)
	DeviceFingerprints(ctx context.Context, tenantID, customerID string) ([]DeviceFingerprint, error)
	PatternHistory(ctx context.Context, tenantID, customerID, excludeTxID string) (*PatternHistory, error)
}
