package domain

import (
	"time"
)

// CasePriority ranks how urgently a case needs investigator attention.
type CasePriority string

const (
	PriorityLow    CasePriority = "LOW"
	PriorityMedium CasePriority = "MEDIUM"
	PriorityHigh   CasePriority = "HIGH"
)

// CaseStatus is the lifecycle state of a case.
// OPEN only between creation and disposition assignment. ESCALATED is a
// terminal-pending state for confirmed fraud awaiting compliance sign-off.
type CaseStatus string

const (
	CaseOpen      CaseStatus = "OPEN"
	CaseClosed    CaseStatus = "CLOSED"
	CaseEscalated CaseStatus = "ESCALATED"
)

// DecisionAction is the monitoring stage's verdict on an alert.
type DecisionAction string

const (
	DecisionCreateCase      DecisionAction = "CREATE_CASE"
	DecisionClose           DecisionAction = "CLOSE"
	DecisionRequestMoreInfo DecisionAction = "REQUEST_MORE_INFO"
)

// Decision is the monitoring stage output for one alert.
type Decision struct {
	Action   DecisionAction `json:"action"`
	Priority CasePriority   `json:"priority,omitempty"`
	Reason   string         `json:"reason"`
	CaseID   string         `json:"caseId,omitempty"`
}

// Verdict is the final disposition outcome of an investigation.
type Verdict string

const (
	VerdictConfirmedFraud Verdict = "CONFIRMED_FRAUD"
	VerdictSuspectedFraud Verdict = "SUSPECTED_FRAUD"
	VerdictLegitimate     Verdict = "LEGITIMATE"
)

// RecommendedAction is a direct function of the verdict.
type RecommendedAction string

const (
	ActionBlockAndEscalate RecommendedAction = "BLOCK_TRANSFER_ESCALATE_COMPLIANCE"
	ActionContactCustomer  RecommendedAction = "CONTACT_CUSTOMER_FOR_VERIFICATION"
	ActionCloseCase        RecommendedAction = "CLOSE_CASE"
)

// ActionForVerdict maps a verdict to its recommended action.
func ActionForVerdict(v Verdict) RecommendedAction {
	switch v {
	case VerdictConfirmedFraud:
		return ActionBlockAndEscalate
	case VerdictSuspectedFraud:
		return ActionContactCustomer
	default:
		return ActionCloseCase
	}
}

// EvidenceFinding is one evidence-source → finding pair in a
// disposition's evidence summary. Gap is true when the source was
// unavailable and its contribution defaulted to zero.
type EvidenceFinding struct {
	Source       string  `json:"source"`
	Finding      string  `json:"finding"`
	Contribution float64 `json:"contribution"`
	Gap          bool    `json:"gap,omitempty"`
}

// Disposition is the final outcome of a case investigation.
// Created once, immutable after creation.
type Disposition struct {
	CaseID    string            `json:"caseId"`
	Verdict   Verdict           `json:"verdict"`
	Action    RecommendedAction `json:"action"`
	Score     float64           `json:"score"`
	Evidence  []EvidenceFinding `json:"evidence"`
	Timestamp time.Time         `json:"timestamp"`
}

// AuditEntry records one stage transition on a case.
type AuditEntry struct {
	Stage     string    `json:"stage"`
	Event     string    `json:"event"`
	Detail    string    `json:"detail,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}

// Case is the unit of investigative work created by the monitoring stage.
// Mutated only through the case store, which serializes writers per case.
// Cases are never deleted; closed cases are retained for compliance.
type Case struct {
	ID          string       `json:"id"` // fixed-width sequential, e.g. CASE-00000042
	Seq         uint64       `json:"seq"`
	TenantID    string       `json:"tenantId"`
	TxID        string       `json:"txId"`
	AlertID     string       `json:"alertId"`
	Priority    CasePriority `json:"priority"`
	Status      CaseStatus   `json:"status"`
	Disposition *Disposition `json:"disposition,omitempty"`
	AuditTrail  []AuditEntry `json:"auditTrail"`
	CreatedAt   time.Time    `json:"createdAt"`
	UpdatedAt   time.Time    `json:"updatedAt"`
}

// CaseView is the stable, serializable projection of a finalized case
// exposed to report emitters. Field names and enum values are part of
// the compatibility contract.
type CaseView struct {
	CaseID      string       `json:"caseId"`
	TxID        string       `json:"txId"`
	Priority    CasePriority `json:"priority"`
	Status      CaseStatus   `json:"status"`
	Disposition *Disposition `json:"disposition,omitempty"`
	AuditTrail  []AuditEntry `json:"auditTrail"`
	Alert       *Alert       `json:"alert,omitempty"`
	CreatedAt   time.Time    `json:"createdAt"`
}

// View builds the exported projection of a case with its founding alert.
func (c *Case) View(alert *Alert) *CaseView {
	return &CaseView{
		CaseID:      c.ID,
		TxID:        c.TxID,
		Priority:    c.Priority,
		Status:      c.Status,
		Disposition: c.Disposition,
		AuditTrail:  c.AuditTrail,
		Alert:       alert,
		CreatedAt:   c.CreatedAt,
	}
}
