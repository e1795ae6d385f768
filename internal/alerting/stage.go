// Package alerting produces validated alerts from classification output.
package alerting

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/opensource-finance/kestrel/internal/classify"
	"github.com/opensource-finance/kestrel/internal/domain"
)

// Stage invokes the classification capability and normalizes its
// output into an Alert. Stateless across calls.
type Stage struct {
	classifier classify.Classifier
}

// NewStage creates an alerting stage over the given classifier.
func NewStage(classifier classify.Classifier) *Stage {
	return &Stage{classifier: classifier}
}

// Classify runs the capability and emits an Alert. The stage enforces
// the capability contract: the label must be one of the three allowed
// values, confidence is clamped to [0,1], and any label other than
// NON_FRAUD must carry a non-empty rationale.
func (s *Stage) Classify(ctx context.Context, tx *domain.Transaction, feats *domain.RiskFeatures) (*domain.Alert, error) {
	out, err := s.classifier.Classify(ctx, tx, feats)
	if err != nil {
		return nil, err
	}

	if !domain.ValidLabel(out.Label) {
		return nil, domain.NewStageError("alerting", tx.ID, domain.ErrInvalidLabel)
	}
	if out.Label != domain.LabelNonFraud && len(out.Rationale) == 0 {
		// Every non-trivial alert must be explainable.
		return nil, domain.NewStageError("alerting", tx.ID, domain.ErrMissingRationale)
	}

	return &domain.Alert{
		ID:         uuid.New().String(),
		TenantID:   tx.TenantID,
		TxID:       tx.ID,
		Label:      out.Label,
		Confidence: clamp(out.Confidence),
		Rationale:  out.Rationale,
		Features:   *feats,
		Timestamp:  time.Now().UTC(),
	}, nil
}

func clamp(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}
