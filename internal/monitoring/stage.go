// Package monitoring turns alerts into triage decisions and opens
// investigation cases through the case store.
package monitoring

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/opensource-finance/kestrel/internal/casestore"
	"github.com/opensource-finance/kestrel/internal/domain"
)

// Stage applies the triage policy to an alert. The policy is a pure
// function of the alert; case allocation is the only side effect.
type Stage struct {
	store          *casestore.Store
	threshold      float64
	escalationWins bool
}

// NewStage creates a monitoring stage over the given case store.
func NewStage(store *casestore.Store, cfg domain.PipelineConfig) *Stage {
	return &Stage{
		store:          store,
		threshold:      cfg.ConfidenceThreshold,
		escalationWins: cfg.EscalationWins,
	}
}

// Decide maps an alert to a triage decision. FLAGGED always opens a
// HIGH priority case. INVESTIGATE opens a MEDIUM case, lifted to HIGH
// when an escalation trigger is present; below the confidence
// threshold it requests more information instead, unless an
// escalation trigger is present and the policy says escalation wins.
// NON_FRAUD closes with no case.
func (s *Stage) Decide(ctx context.Context, alert *domain.Alert) (*domain.Decision, error) {
	switch alert.Label {
	case domain.LabelNonFraud:
		return &domain.Decision{
			Action: domain.DecisionClose,
			Reason: "classified as non-fraud",
		}, nil

	case domain.LabelFlagged:
		return s.openCase(ctx, alert, domain.PriorityHigh,
			fmt.Sprintf("flagged with confidence %.2f", alert.Confidence))

	case domain.LabelInvestigate:
		escalate, trigger := escalationTrigger(&alert.Features)

		if alert.Confidence < s.threshold {
			if !escalate || !s.escalationWins {
				return &domain.Decision{
					Action: domain.DecisionRequestMoreInfo,
					Reason: fmt.Sprintf("confidence %.2f below threshold %.2f", alert.Confidence, s.threshold),
				}, nil
			}
			slog.Info("escalation trigger overrides low confidence",
				"tx_id", alert.TxID,
				"trigger", trigger,
				"confidence", alert.Confidence,
			)
		}

		priority := domain.PriorityMedium
		reason := fmt.Sprintf("investigate with confidence %.2f", alert.Confidence)
		if escalate {
			priority = domain.PriorityHigh
			reason = fmt.Sprintf("investigate escalated: %s", trigger)
		}
		return s.openCase(ctx, alert, priority, reason)

	default:
		return nil, domain.NewStageError("monitoring", alert.TxID, domain.ErrInvalidLabel)
	}
}

func (s *Stage) openCase(ctx context.Context, alert *domain.Alert, priority domain.CasePriority, reason string) (*domain.Decision, error) {
	c, err := s.store.Create(ctx, alert.TenantID, alert, priority, reason)
	if err != nil {
		return nil, domain.NewStageError("monitoring", alert.TxID, err)
	}

	slog.Info("case opened",
		"case_id", c.ID,
		"tx_id", alert.TxID,
		"priority", priority,
		"label", alert.Label,
	)

	return &domain.Decision{
		Action:   domain.DecisionCreateCase,
		Priority: priority,
		Reason:   reason,
		CaseID:   c.ID,
	}, nil
}

// escalationTrigger reports whether the alert's risk features carry a
// condition that forces HIGH priority, and names it.
func escalationTrigger(feats *domain.RiskFeatures) (bool, string) {
	switch {
	case !feats.KYCVerified:
		return true, "customer KYC unverified"
	case feats.PriorFraud:
		return true, "customer has prior fraud cases"
	default:
		return false, ""
	}
}
