// Package classify provides the pluggable classification capability
// behind the alerting stage. The default implementation is a CEL-based
// weighted signal engine; any implementation honoring the
// label/confidence/rationale contract can be plugged in.
package classify

import (
	"context"
	"errors"
	"time"

	"github.com/opensource-finance/kestrel/internal/domain"
)

// Output is the classification result contract. The alerting stage
// validates it before emitting an alert.
type Output struct {
	Label      domain.AlertLabel       `json:"label"`
	Confidence float64                 `json:"confidence"`
	Rationale  []domain.RationaleEntry `json:"rationale"`
}

// Classifier maps risk features to a label with explanation. It may be
// probabilistic, but must be replayable for audit given the same input.
type Classifier interface {
	Classify(ctx context.Context, tx *domain.Transaction, feats *domain.RiskFeatures) (*Output, error)
}

// RetryConfig bounds the retries around a slow classifier.
type RetryConfig struct {
	Timeout  time.Duration // per-attempt deadline
	Attempts int
	Backoff  time.Duration // doubled after each attempt
}

// Retrying wraps a Classifier with a per-attempt timeout and bounded
// backoff. A classifier that never answers degrades to
// ErrClassificationTimeout, never to a silent default label.
type Retrying struct {
	inner Classifier
	cfg   RetryConfig
}

// WithRetry wraps c with timeout and retry bounds.
func WithRetry(c Classifier, cfg RetryConfig) *Retrying {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 5 * time.Second
	}
	if cfg.Attempts <= 0 {
		cfg.Attempts = 3
	}
	if cfg.Backoff <= 0 {
		cfg.Backoff = 200 * time.Millisecond
	}
	return &Retrying{inner: c, cfg: cfg}
}

// Classify invokes the wrapped classifier, retrying timeouts with
// exponential backoff up to the attempt limit.
func (r *Retrying) Classify(ctx context.Context, tx *domain.Transaction, feats *domain.RiskFeatures) (*Output, error) {
	backoff := r.cfg.Backoff

	for attempt := 1; attempt <= r.cfg.Attempts; attempt++ {
		attemptCtx, cancel := context.WithTimeout(ctx, r.cfg.Timeout)
		out, err := r.inner.Classify(attemptCtx, tx, feats)
		cancel()

		if err == nil {
			return out, nil
		}
		if !isTimeout(err) {
			return nil, err
		}

		if attempt < r.cfg.Attempts {
			select {
			case <-time.After(backoff):
			case <-ctx.Done():
				return nil, domain.NewStageError("classify", tx.ID, domain.ErrClassificationTimeout)
			}
			backoff *= 2
		}
	}

	return nil, domain.NewStageError("classify", tx.ID, domain.ErrClassificationTimeout)
}

func isTimeout(err error) bool {
	return errors.Is(err, context.DeadlineExceeded) ||
		errors.Is(err, domain.ErrClassificationTimeout)
}
