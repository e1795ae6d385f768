package domain

import (
	"time"
)

// AlertLabel is the classification outcome for a transaction.
type AlertLabel string

const (
	LabelNonFraud    AlertLabel = "NON_FRAUD"
	LabelInvestigate AlertLabel = "INVESTIGATE"
	LabelFlagged     AlertLabel = "FLAGGED"
)

// ValidLabel reports whether l is one of the three allowed labels.
func ValidLabel(l AlertLabel) bool {
	switch l {
	case LabelNonFraud, LabelInvestigate, LabelFlagged:
		return true
	}
	return false
}

// RationaleEntry is one triggered signal with its contribution to the
// classification score. Order matters for audit replay.
type RationaleEntry struct {
	Signal       string  `json:"signal"`
	Contribution float64 `json:"contribution"`
	Detail       string  `json:"detail,omitempty"`
}

// Alert is the output of the alerting stage for a single transaction.
// Immutable once emitted; consumed by the monitoring stage.
type Alert struct {
	ID         string           `json:"id"`
	TenantID   string           `json:"tenantId"`
	TxID       string           `json:"txId"`
	Label      AlertLabel       `json:"label"`
	Confidence float64          `json:"confidence"` // clamped to [0,1]
	Rationale  []RationaleEntry `json:"rationale"`
	Features   RiskFeatures     `json:"features"`
	Timestamp  time.Time        `json:"timestamp"`
}
