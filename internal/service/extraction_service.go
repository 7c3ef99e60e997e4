package service

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"smartmetal/internal/config"
	"smartmetal/internal/domain"
	"smartmetal/internal/lineitem"
	"smartmetal/internal/normalize"
	"smartmetal/internal/port"
	"smartmetal/internal/reconcile"
	"smartmetal/internal/table"
)

// Normalizer is the model normalization step.
type Normalizer interface {
	Normalize(ctx context.Context, req normalize.Request) (*normalize.Result, error)
}

// ExtractInput is the DTO for extracting one OCR document.
type ExtractInput struct {
	Document    *domain.Document
	DocumentRef string
	// SkipModel runs the deterministic pipeline only.
	SkipModel bool
}

// StorageExtractInput is the DTO for extracting an OCR document stored as
// JSON in object storage.
type StorageExtractInput struct {
	Bucket    string
	Key       string
	SkipModel bool
	// ResultKey, when set, uploads the result JSON to the same bucket.
	ResultKey string
}

// ExtractOutput is the outcome of a successful extraction.
type ExtractOutput struct {
	RunID          uuid.UUID                `json:"run_id"`
	Result         *domain.ExtractionResult `json:"result"`
	Tables         []domain.TableDiagnostic `json:"tables"`
	SkippedRows    map[string]int           `json:"skipped_rows"`
	ResultLocation string                   `json:"result_location,omitempty"`
}

// ExtractionService defines the extraction contract.
type ExtractionService interface {
	Extract(ctx context.Context, input *ExtractInput) (*ExtractOutput, error)
	ExtractFromStorage(ctx context.Context, input *StorageExtractInput) (*ExtractOutput, error)
	GetRun(ctx context.Context, id uuid.UUID) (*domain.ExtractionRun, error)
	ListRuns(ctx context.Context, limit int) ([]domain.ExtractionRun, error)
}

type extractionService struct {
	cfg        *config.ExtractionConfig
	selector   *table.Selector
	groupOpts  table.GroupOptions
	extractor  *lineitem.Extractor
	normalizer Normalizer
	reconciler *reconcile.Reconciler
	runs       port.ExtractionRunRepository
	storage    port.ObjectStorage
	notifier   port.ReviewNotifier
	logger     *zap.Logger
}

// NewExtractionService creates a new ExtractionService implementation.
// normalizer, runs, storage and notifier are optional; pass untyped nil to
// disable them. Without a normalizer every extraction is raw-only.
func NewExtractionService(
	cfg *config.ExtractionConfig,
	normalizer Normalizer,
	runs port.ExtractionRunRepository,
	storage port.ObjectStorage,
	notifier port.ReviewNotifier,
	logger *zap.Logger,
) ExtractionService {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &extractionService{
		cfg: cfg,
		selector: table.NewSelector(table.SelectOptions{
			ScoreThreshold: cfg.ScoreThreshold,
			FuzzyThreshold: cfg.FuzzyThreshold,
		}, logger),
		groupOpts: table.GroupOptions{
			MinJaccard: cfg.MinJaccard,
			MaxPageGap: cfg.MaxPageGap,
		},
		extractor:  lineitem.NewExtractor(logger),
		normalizer: normalizer,
		reconciler: reconcile.NewReconciler(reconcile.Options{
			MinCoverage:         cfg.MinCoverage,
			CoverageGateMinRows: cfg.CoverageGateMinRows,
			SevereGateMinRows:   cfg.SevereGateMinRows,
			SevereGateMinItems:  cfg.SevereGateMinItems,
			GapWarnRows:         cfg.GapWarnRows,
			RawQuantityTrust:    cfg.RawQuantityTrust,
		}, logger),
		runs:     runs,
		storage:  storage,
		notifier: notifier,
		logger:   logger,
	}
}

func (s *extractionService) Extract(ctx context.Context, input *ExtractInput) (*ExtractOutput, error) {
	if input.Document == nil {
		return nil, domain.ErrInvalidDocument
	}
	if err := input.Document.Validate(); err != nil {
		return nil, err
	}
	if s.cfg.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.cfg.Timeout)
		defer cancel()
	}

	start := time.Now()
	run := &domain.ExtractionRun{
		ID:          uuid.New(),
		DocumentRef: input.DocumentRef,
		Mode:        domain.ModeRawOnly,
	}
	doc := input.Document

	cands, diags := s.selector.Select(doc.Tables)
	run.TableDiagnostics = marshalOrNull(diags)
	merged := table.MergeAll(cands, s.groupOpts)
	raw := s.extractor.ExtractAll(merged)

	candidateRows := 0
	for _, m := range merged {
		candidateRows += len(m.Rows)
	}

	s.logger.Info("service.ExtractionService: deterministic extraction done",
		zap.String("run_id", run.ID.String()),
		zap.String("document", input.DocumentRef),
		zap.Int("tables", len(doc.Tables)),
		zap.Int("candidates", len(cands)),
		zap.Int("merged_tables", len(merged)),
		zap.Int("raw_items", len(raw.Items)),
	)

	in := &reconcile.Input{
		Mode:            domain.ModeRawOnly,
		Raw:             raw.Items,
		CandidateRows:   candidateRows,
		TableConfidence: table.Confidence(cands),
		Warnings:        append([]string(nil), raw.Warnings...),
	}

	if s.normalizer != nil && !input.SkipModel {
		norm, err := s.normalizer.Normalize(ctx, normalize.Request{
			Document:     doc,
			Items:        raw.Items,
			ExpectedRows: candidateRows,
		})
		if err != nil {
			s.fail(ctx, run, start, err)
			return nil, err
		}
		in.Mode = norm.Mode
		in.Model = norm.Items
		in.Metadata = norm.Metadata
		in.Backend = norm.Backend
		in.Warnings = append(in.Warnings, norm.Warnings...)
	}
	run.Mode = in.Mode

	result, err := s.reconciler.Reconcile(in)
	if result != nil {
		run.ExpectedRows = result.Confidence.ExpectedRows
		run.ActualRows = result.Confidence.ActualRows
		run.CoverageRatio = result.Confidence.CoverageRatio
		run.ExtractionScore = result.Confidence.ExtractionScore
		run.ModelBackend = result.Confidence.ModelBackend
		run.Warnings = marshalOrNull(result.Confidence.Warnings)
	}
	if err != nil {
		s.fail(ctx, run, start, err)
		var gate *domain.CompletenessGateError
		if errors.As(err, &gate) {
			s.requestReview(ctx, run, gate)
		}
		return nil, err
	}

	run.Status = domain.RunStatusSucceeded
	s.record(ctx, run, start)

	s.logger.Info("service.ExtractionService: extraction complete",
		zap.String("run_id", run.ID.String()),
		zap.String("mode", string(in.Mode)),
		zap.Int("items", len(result.LineItems)),
		zap.Float64("coverage", result.Confidence.CoverageRatio),
		zap.Float64("score", result.Confidence.ExtractionScore),
	)

	return &ExtractOutput{
		RunID:       run.ID,
		Result:      result,
		Tables:      diags,
		SkippedRows: raw.Skipped,
	}, nil
}

func (s *extractionService) ExtractFromStorage(ctx context.Context, input *StorageExtractInput) (*ExtractOutput, error) {
	if s.storage == nil {
		return nil, domain.ErrStorageNotConfigured
	}
	data, err := s.storage.Download(ctx, input.Bucket, input.Key)
	if err != nil {
		return nil, fmt.Errorf("downloading document: %w", err)
	}

	var doc domain.Document
	if err := json.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("%w: %v", domain.ErrInvalidDocument, err)
	}

	out, err := s.Extract(ctx, &ExtractInput{
		Document:    &doc,
		DocumentRef: fmt.Sprintf("s3://%s/%s", input.Bucket, input.Key),
		SkipModel:   input.SkipModel,
	})
	if err != nil {
		return nil, err
	}

	if input.ResultKey != "" {
		body, err := json.Marshal(out.Result)
		if err != nil {
			return nil, fmt.Errorf("encoding result: %w", err)
		}
		up, err := s.storage.Upload(ctx, port.UploadInput{
			Bucket:      input.Bucket,
			Key:         input.ResultKey,
			Body:        bytes.NewReader(body),
			ContentType: "application/json",
			Size:        int64(len(body)),
		})
		if err != nil {
			return nil, fmt.Errorf("uploading result: %w", err)
		}
		out.ResultLocation = up.Location
	}
	return out, nil
}

func (s *extractionService) GetRun(ctx context.Context, id uuid.UUID) (*domain.ExtractionRun, error) {
	if s.runs == nil {
		return nil, domain.ErrNotFound
	}
	return s.runs.GetByID(ctx, id)
}

func (s *extractionService) ListRuns(ctx context.Context, limit int) ([]domain.ExtractionRun, error) {
	if s.runs == nil {
		return []domain.ExtractionRun{}, nil
	}
	if limit <= 0 || limit > 100 {
		limit = 20
	}
	return s.runs.ListRecent(ctx, limit)
}

func (s *extractionService) fail(ctx context.Context, run *domain.ExtractionRun, start time.Time, err error) {
	run.Status = domain.RunStatusFailed
	run.ErrorKind = domain.ErrorKind(err)
	run.ErrorMessage = err.Error()
	s.logger.Error("service.ExtractionService: extraction failed",
		zap.String("run_id", run.ID.String()),
		zap.String("document", run.DocumentRef),
		zap.String("kind", run.ErrorKind),
		zap.Error(err),
	)
	s.record(ctx, run, start)
}

// record stores the run. It runs detached from ctx so a timed-out
// extraction is still recorded.
func (s *extractionService) record(ctx context.Context, run *domain.ExtractionRun, start time.Time) {
	if s.runs == nil {
		return
	}
	run.DurationMS = time.Since(start).Milliseconds()
	if run.TableDiagnostics == nil {
		run.TableDiagnostics = json.RawMessage("[]")
	}
	if run.Warnings == nil {
		run.Warnings = json.RawMessage("[]")
	}
	rctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
	defer cancel()
	if err := s.runs.Create(rctx, run); err != nil {
		s.logger.Warn("service.ExtractionService: failed to record run",
			zap.String("run_id", run.ID.String()), zap.Error(err))
	}
}

func (s *extractionService) requestReview(ctx context.Context, run *domain.ExtractionRun, gate *domain.CompletenessGateError) {
	if s.notifier == nil {
		return
	}
	rctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 10*time.Second)
	defer cancel()
	err := s.notifier.NotifyReview(rctx, port.ReviewRequest{
		RunID:       run.ID.String(),
		DocumentRef: run.DocumentRef,
		Gate:        gate,
	})
	if err != nil {
		s.logger.Warn("service.ExtractionService: review notification failed",
			zap.String("run_id", run.ID.String()), zap.Error(err))
	}
}

func marshalOrNull(v any) json.RawMessage {
	b, err := json.Marshal(v)
	if err != nil {
		return json.RawMessage("null")
	}
	return b
}
