// Package reconcile joins model output with the raw extraction, restores
// anything the model dropped and enforces the completeness gate.
package reconcile

import (
	"fmt"
	"math"

	"go.uber.org/zap"

	"smartmetal/internal/domain"
)

// Options holds the gate thresholds.
type Options struct {
	MinCoverage         float64
	CoverageGateMinRows int
	SevereGateMinRows   int
	SevereGateMinItems  int
	GapWarnRows         int
	// RawQuantityTrust is the raw quantity confidence at or above which a
	// disagreeing model quantity is overruled.
	RawQuantityTrust float64
}

func (o Options) withDefaults() Options {
	if o.MinCoverage <= 0 {
		o.MinCoverage = 0.8
	}
	if o.CoverageGateMinRows <= 0 {
		o.CoverageGateMinRows = 10
	}
	if o.SevereGateMinRows <= 0 {
		o.SevereGateMinRows = 20
	}
	if o.SevereGateMinItems <= 0 {
		o.SevereGateMinItems = 10
	}
	if o.GapWarnRows <= 0 {
		o.GapWarnRows = 5
	}
	if o.RawQuantityTrust <= 0 {
		o.RawQuantityTrust = 0.9
	}
	return o
}

// Input is everything the reconciler needs for one document.
type Input struct {
	Mode     domain.ExtractionMode
	Raw      []domain.RawLineItem
	Model    []domain.NormalizedLineItem
	Metadata domain.Metadata
	Backend  string
	// CandidateRows is the data-row count of the accepted candidate tables,
	// the baseline when no raw items were extracted.
	CandidateRows   int
	TableConfidence float64
	Warnings        []string
}

// Reconciler is the final gate of an extraction.
type Reconciler struct {
	opts   Options
	logger *zap.Logger
}

// NewReconciler creates a Reconciler.
func NewReconciler(opts Options, logger *zap.Logger) *Reconciler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Reconciler{opts: opts.withDefaults(), logger: logger}
}

// Baseline returns the row count the final list is measured against.
func Baseline(in *Input) int {
	if in.Mode == domain.ModeFull && in.CandidateRows > len(in.Raw) {
		return in.CandidateRows
	}
	return len(in.Raw)
}

// Reconcile produces the final result, or a *domain.CompletenessGateError
// when too many rows were lost. The result is returned alongside a gate
// error so callers can record what was produced.
func (r *Reconciler) Reconcile(in *Input) (*domain.ExtractionResult, error) {
	warnings := append([]string(nil), in.Warnings...)

	items, joinWarnings := r.join(in)
	warnings = append(warnings, joinWarnings...)

	items, backfilled := backfill(items, in.Raw)
	if backfilled > 0 {
		warnings = append(warnings, fmt.Sprintf("%d line item(s) missing from model output were restored from the source tables", backfilled))
		r.logger.Warn("reconcile.Reconciler: backfilled items missing from model output",
			zap.Int("count", backfilled))
	}

	warnings = append(warnings, assignMissingNumbers(items)...)
	sortItems(items, in.Raw)

	baseline := Baseline(in)
	actual := len(items)
	coverage := 1.0
	if baseline > 0 {
		coverage = float64(actual) / float64(baseline)
	}

	pattern, gaps := Numbering(items)
	if pattern == domain.NumberingDense && len(gaps) > 0 {
		warnings = append(warnings, fmt.Sprintf("dense numbering has %d gap(s): %s", len(gaps), formatGaps(gaps)))
		r.logger.Info("reconcile.Reconciler: gaps in dense numbering", zap.Ints("missing", gaps))
	}

	switch gap := actual - baseline; {
	case -gap >= r.opts.GapWarnRows:
		warnings = append(warnings, fmt.Sprintf("%d fewer line items than the %d rows detected", -gap, baseline))
	case gap >= r.opts.GapWarnRows:
		warnings = append(warnings, fmt.Sprintf("%d more line items than the %d rows detected", gap, baseline))
	}

	result := &domain.ExtractionResult{
		Metadata:  in.Metadata,
		LineItems: items,
		Confidence: domain.ConfidenceSummary{
			ExtractionScore:  overallScore(items, in.TableConfidence, coverage),
			CoverageRatio:    round3(coverage),
			ExpectedRows:     baseline,
			ActualRows:       actual,
			TableConfidence:  round3(in.TableConfidence),
			NumberingPattern: pattern,
			Mode:             in.Mode,
			Backfilled:       backfilled,
			ModelBackend:     in.Backend,
			Warnings:         warnings,
		},
	}
	if result.Confidence.Warnings == nil {
		result.Confidence.Warnings = []string{}
	}

	if err := r.gate(baseline, actual, coverage); err != nil {
		r.logger.Error("reconcile.Reconciler: completeness gate failed",
			zap.Int("baseline", baseline), zap.Int("actual", actual),
			zap.Float64("coverage", coverage), zap.String("reason", err.Reason))
		return result, err
	}
	return result, nil
}

func (r *Reconciler) gate(baseline, actual int, coverage float64) *domain.CompletenessGateError {
	missing := baseline - actual
	if missing < 0 {
		missing = 0
	}
	switch {
	case baseline >= r.opts.SevereGateMinRows && actual < r.opts.SevereGateMinItems:
		return &domain.CompletenessGateError{
			Baseline: baseline, Actual: actual, Coverage: round3(coverage), MissingEstimate: missing,
			Reason: fmt.Sprintf("severe under-extraction: %d items from %d rows", actual, baseline),
		}
	case baseline >= r.opts.CoverageGateMinRows && coverage < r.opts.MinCoverage:
		return &domain.CompletenessGateError{
			Baseline: baseline, Actual: actual, Coverage: round3(coverage), MissingEstimate: missing,
			Reason: fmt.Sprintf("coverage %.2f below %.2f", coverage, r.opts.MinCoverage),
		}
	}
	return nil
}

// overallScore combines item, table and coverage confidence.
func overallScore(items []domain.LineItem, tableConfidence, coverage float64) float64 {
	mean := 0.0
	for i := range items {
		mean += items[i].Confidence.Score
	}
	if len(items) > 0 {
		mean /= float64(len(items))
	}
	return round3(0.5*mean + 0.2*tableConfidence + 0.3*math.Min(coverage, 1))
}

func round3(v float64) float64 {
	return math.Round(v*1000) / 1000
}
