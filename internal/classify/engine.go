package classify

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/google/cel-go/cel"
	"github.com/google/cel-go/common/types"
	"github.com/google/cel-go/common/types/ref"
	"github.com/opensource-finance/kestrel/internal/domain"
)

// SignalConfig defines one weighted risk signal as a CEL expression
// over the feature variables.
type SignalConfig struct {
	ID          string  `json:"id"`
	Name        string  `json:"name"`
	Description string  `json:"description"`
	Expression  string  `json:"expression"`
	Weight      float64 `json:"weight"`
	Enabled     bool    `json:"enabled"`
}

// Engine is the CEL-based default classifier. Signals are compiled
// once; classification evaluates all of them and maps the normalized
// weighted score to a label.
type Engine struct {
	mu              sync.RWMutex
	env             *cel.Env
	compiledSignals map[string]*CompiledSignal
	flaggedAt       float64
	investigateAt   float64
	maxWorkers      int
}

// CompiledSignal holds a pre-compiled CEL program.
type CompiledSignal struct {
	Config  *SignalConfig
	Program cel.Program
}

// NewEngine creates a CEL classifier with the given label thresholds
// on the normalized score.
func NewEngine(flaggedAt, investigateAt float64, maxWorkers int) (*Engine, error) {
	if maxWorkers <= 0 {
		maxWorkers = 10
	}
	if flaggedAt <= 0 {
		flaggedAt = 0.7
	}
	if investigateAt <= 0 {
		investigateAt = 0.35
	}

	// CEL environment exposing the risk feature variables
	env, err := cel.NewEnv(
		cel.Variable("amount", cel.DoubleType),
		cel.Variable("currency", cel.StringType),
		cel.Variable("channel", cel.StringType),
		cel.Variable("amount_ratio", cel.DoubleType),
		cel.Variable("country_risk", cel.IntType),
		cel.Variable("night_time", cel.BoolType),
		cel.Variable("kyc_verified", cel.BoolType),
		cel.Variable("pep", cel.BoolType),
		cel.Variable("device_trusted", cel.BoolType),
		cel.Variable("new_beneficiary", cel.BoolType),
		cel.Variable("prior_fraud", cel.BoolType),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create CEL environment: %w", err)
	}

	return &Engine{
		env:             env,
		compiledSignals: make(map[string]*CompiledSignal),
		flaggedAt:       flaggedAt,
		investigateAt:   investigateAt,
		maxWorkers:      maxWorkers,
	}, nil
}

// ValidateSignal compiles a signal without mutating loaded signals.
func (e *Engine) ValidateSignal(cfg *SignalConfig) error {
	if cfg == nil {
		return fmt.Errorf("signal config is required")
	}

	e.mu.RLock()
	defer e.mu.RUnlock()

	_, err := e.compileSignal(cfg)
	return err
}

// LoadSignal compiles and loads a signal into the engine.
func (e *Engine) LoadSignal(cfg *SignalConfig) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	compiled, err := e.compileSignal(cfg)
	if err != nil {
		return err
	}

	e.compiledSignals[cfg.ID] = compiled

	return nil
}

// LoadSignals compiles and loads multiple signals.
func (e *Engine) LoadSignals(configs []*SignalConfig) error {
	for _, cfg := range configs {
		if cfg.Enabled {
			if err := e.LoadSignal(cfg); err != nil {
				return err
			}
		}
	}
	return nil
}

// ReloadSignals clears existing signals and loads new ones.
func (e *Engine) ReloadSignals(configs []*SignalConfig) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	newSignals := make(map[string]*CompiledSignal)
	for _, cfg := range configs {
		if !cfg.Enabled {
			continue
		}
		compiled, err := e.compileSignal(cfg)
		if err != nil {
			return err
		}
		newSignals[cfg.ID] = compiled
	}

	e.compiledSignals = newSignals
	return nil
}

// LoadedSignals returns the configs of all loaded signals, ordered by id.
func (e *Engine) LoadedSignals() []*SignalConfig {
	e.mu.RLock()
	defer e.mu.RUnlock()

	configs := make([]*SignalConfig, 0, len(e.compiledSignals))
	for _, compiled := range e.compiledSignals {
		configs = append(configs, compiled.Config)
	}
	sort.Slice(configs, func(i, j int) bool { return configs[i].ID < configs[j].ID })
	return configs
}

// SignalsCount returns the number of loaded signals.
func (e *Engine) SignalsCount() int {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return len(e.compiledSignals)
}

// Classify evaluates all signals against the features and maps the
// normalized weighted score to a label. Deterministic for a fixed
// signal set: rationale entries are ordered by signal id.
func (e *Engine) Classify(ctx context.Context, tx *domain.Transaction, feats *domain.RiskFeatures) (*Output, error) {
	e.mu.RLock()
	signals := make([]*CompiledSignal, 0, len(e.compiledSignals))
	for _, s := range e.compiledSignals {
		signals = append(signals, s)
	}
	e.mu.RUnlock()

	if len(signals) == 0 {
		return nil, fmt.Errorf("no signals loaded")
	}

	sort.Slice(signals, func(i, j int) bool {
		return signals[i].Config.ID < signals[j].Config.ID
	})

	activation := map[string]any{
		"amount":          tx.Amount,
		"currency":        tx.Currency,
		"channel":         tx.Channel,
		"amount_ratio":    feats.AmountDeviationRatio,
		"country_risk":    int64(feats.CountryRisk),
		"night_time":      feats.TimeAnomaly,
		"kyc_verified":    feats.KYCVerified,
		"pep":             feats.PEP,
		"device_trusted":  feats.DeviceTrusted,
		"new_beneficiary": feats.NewBeneficiary,
		"prior_fraud":     feats.PriorFraud,
	}

	// Parallel evaluation using worker pool pattern
	scores := make([]float64, len(signals))
	errs := make([]error, len(signals))
	var wg sync.WaitGroup
	sem := make(chan struct{}, e.maxWorkers)

	for i, sig := range signals {
		wg.Add(1)
		go func(idx int, s *CompiledSignal) {
			defer wg.Done()

			sem <- struct{}{}
			defer func() { <-sem }()

			out, _, err := s.Program.Eval(activation)
			if err != nil {
				errs[idx] = fmt.Errorf("signal %s: %w", s.Config.ID, err)
				return
			}
			scores[idx] = toScore(out)
		}(i, sig)
	}

	wg.Wait()

	for _, err := range errs {
		if err != nil {
			return nil, err
		}
	}

	var weightedSum, totalWeight float64
	rationale := make([]domain.RationaleEntry, 0, len(signals))
	for i, sig := range signals {
		weight := sig.Config.Weight
		if weight <= 0 {
			weight = 1.0
		}
		totalWeight += weight

		contribution := scores[i] * weight
		weightedSum += contribution

		if contribution > 0 {
			rationale = append(rationale, domain.RationaleEntry{
				Signal:       sig.Config.ID,
				Contribution: contribution,
				Detail:       sig.Config.Description,
			})
		}
	}

	score := 0.0
	if totalWeight > 0 {
		score = weightedSum / totalWeight
	}
	if score > 1 {
		score = 1
	}

	out := &Output{Rationale: rationale}
	switch {
	case score >= e.flaggedAt:
		out.Label = domain.LabelFlagged
		out.Confidence = score
	case score >= e.investigateAt:
		out.Label = domain.LabelInvestigate
		out.Confidence = score
	default:
		out.Label = domain.LabelNonFraud
		out.Confidence = 1 - score
	}

	return out, nil
}

// Close cleans up the engine.
func (e *Engine) Close() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.compiledSignals = make(map[string]*CompiledSignal)
	return nil
}

func (e *Engine) compileSignal(cfg *SignalConfig) (*CompiledSignal, error) {
	ast, issues := e.env.Compile(cfg.Expression)
	if issues != nil && issues.Err() != nil {
		return nil, fmt.Errorf("failed to compile signal %s: %w", cfg.ID, issues.Err())
	}

	outputType := ast.OutputType()
	if outputType != cel.BoolType && outputType != cel.DoubleType && outputType != cel.IntType {
		return nil, fmt.Errorf("signal %s: expression must return bool, int, or double, got %s", cfg.ID, outputType)
	}

	program, err := e.env.Program(ast)
	if err != nil {
		return nil, fmt.Errorf("failed to create program for signal %s: %w", cfg.ID, err)
	}

	return &CompiledSignal{
		Config:  cfg,
		Program: program,
	}, nil
}

// toScore converts a CEL value to a numeric score.
func toScore(val ref.Val) float64 {
	switch v := val.(type) {
	case types.Bool:
		if v {
			return 1.0
		}
		return 0.0
	case types.Double:
		return float64(v)
	case types.Int:
		return float64(v)
	default:
		return 0.0
	}
}
