// Package normalize builds model normalization requests, runs them (chunked
// for large documents) and decodes the answers into canonical records.
package normalize

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"smartmetal/internal/domain"
	"smartmetal/internal/jsonrepair"
	"smartmetal/internal/llm"
	"smartmetal/internal/port"
)

// Invoker sends one completion request through the model backend chain.
type Invoker interface {
	Invoke(ctx context.Context, req port.CompletionRequest, accept llm.AcceptFunc) (*llm.Outcome, error)
}

// Options configures a Normalizer.
type Options struct {
	Temperature         float64
	MaxOutputTokens     int
	BaseOutputTokens    int
	PerItemOutputTokens int
	// MetadataOnlyMinRows is the expected row count at which a response
	// without items is rejected.
	MetadataOnlyMinRows int
	Chunking            ChunkOptions
	Concurrency         int
	InterBatchDelay     time.Duration
	RetryFailedChunks   bool
}

func (o Options) withDefaults() Options {
	if o.MaxOutputTokens <= 0 {
		o.MaxOutputTokens = 16384
	}
	if o.BaseOutputTokens <= 0 {
		o.BaseOutputTokens = 2048
	}
	if o.PerItemOutputTokens <= 0 {
		o.PerItemOutputTokens = 120
	}
	if o.MetadataOnlyMinRows <= 0 {
		o.MetadataOnlyMinRows = 5
	}
	if o.Concurrency <= 0 {
		o.Concurrency = 3
	}
	return o
}

// Request is one document to normalize.
type Request struct {
	Document *domain.Document
	// Items are the raw line items; non-empty selects hybrid mode.
	Items []domain.RawLineItem
	// ExpectedRows is the raw-extraction baseline used for the
	// metadata-only check in full mode.
	ExpectedRows int
}

// Result is the merged normalization output.
type Result struct {
	Mode         domain.ExtractionMode
	Metadata     domain.Metadata
	Items        []domain.NormalizedLineItem
	Backend      string
	Chunks       int
	FailedChunks int
	Truncated    bool
	Warnings     []string
}

// Normalizer runs the Prompt Builder & Model Invoker step.
type Normalizer struct {
	invoker   Invoker
	vocab     *Vocabulary
	validator *ItemValidator
	opts      Options
	logger    *zap.Logger
}

// NewNormalizer creates a Normalizer. A nil vocabulary selects the embedded
// default.
func NewNormalizer(invoker Invoker, vocab *Vocabulary, opts Options, logger *zap.Logger) (*Normalizer, error) {
	if vocab == nil {
		vocab = DefaultVocabulary()
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	validator, err := NewItemValidator()
	if err != nil {
		return nil, err
	}
	return &Normalizer{
		invoker:   invoker,
		vocab:     vocab,
		validator: validator,
		opts:      opts.withDefaults(),
		logger:    logger,
	}, nil
}

// chunkResult is the outcome of one chunk; err marks a failed chunk.
type chunkResult struct {
	chunk   Chunk
	decoded *Decoded
	outcome *llm.Outcome
	err     error
}

// Normalize builds and sends the normalization request(s) for req.
func (n *Normalizer) Normalize(ctx context.Context, req Request) (*Result, error) {
	mode := domain.ModeFull
	if len(req.Items) > 0 {
		mode = domain.ModeHybrid
	}
	res := &Result{Mode: mode}

	planner := NewPlanner(req.Document, n.opts.Chunking)
	if !planner.NeedsChunking(len(req.Items)) {
		whole := Chunk{Tables: req.Document.Tables, Items: req.Items}
		cr := n.runChunk(ctx, req, mode, whole, "", true)
		if cr.err != nil {
			return nil, cr.err
		}
		res.Chunks = 1
		n.collect(res, []chunkResult{cr})
		return res, nil
	}

	chunks := planner.Plan(req.Items)
	n.logger.Info("normalize.Normalizer: chunking document",
		zap.Int("chunks", len(chunks)),
		zap.Int("items", len(req.Items)),
		zap.Int("tables", len(req.Document.Tables)))

	results := n.runPool(ctx, req, mode, chunks)

	if n.opts.RetryFailedChunks {
		results = n.retryFailed(ctx, req, mode, planner, results)
	}

	var ok []chunkResult
	var firstErr error
	for _, r := range results {
		if r.err != nil {
			res.FailedChunks++
			res.Warnings = append(res.Warnings, fmt.Sprintf("chunk %s failed: %v", r.chunk.Label(), r.err))
			if firstErr == nil {
				firstErr = r.err
			}
			continue
		}
		ok = append(ok, r)
	}
	if len(ok) == 0 {
		return nil, firstErr
	}

	res.Chunks = len(results)
	n.collect(res, ok)
	return res, nil
}

// runPool normalizes chunks with bounded concurrency. A failed chunk does not
// cancel the others; batches of Concurrency chunks are started at least
// InterBatchDelay apart.
func (n *Normalizer) runPool(ctx context.Context, req Request, mode domain.ExtractionMode, chunks []Chunk) []chunkResult {
	results := make([]chunkResult, len(chunks))
	var g errgroup.Group
	g.SetLimit(n.opts.Concurrency)

	for i := range chunks {
		if i > 0 && i%n.opts.Concurrency == 0 && n.opts.InterBatchDelay > 0 {
			select {
			case <-ctx.Done():
			case <-time.After(n.opts.InterBatchDelay):
			}
		}
		g.Go(func() error {
			results[i] = n.runChunk(ctx, req, mode, chunks[i], chunks[i].Label(), chunks[i].Index == 0)
			return nil
		})
	}
	_ = g.Wait()
	return results
}

// retryFailed retries every failed chunk once as two halves. Chunks that
// cannot be split, or whose halves fail again, keep their failure marker.
func (n *Normalizer) retryFailed(ctx context.Context, req Request, mode domain.ExtractionMode, planner *Planner, results []chunkResult) []chunkResult {
	var out []chunkResult
	for _, r := range results {
		if r.err == nil || ctx.Err() != nil {
			out = append(out, r)
			continue
		}
		halves := planner.Split(r.chunk)
		if halves == nil {
			out = append(out, r)
			continue
		}
		n.logger.Info("normalize.Normalizer: retrying failed chunk as halves",
			zap.String("chunk", r.chunk.Label()), zap.Error(r.err))
		out = append(out, n.runPool(ctx, req, mode, halves)...)
	}
	return out
}

func (n *Normalizer) runChunk(ctx context.Context, req Request, mode domain.ExtractionMode, c Chunk, part string, wantMetadata bool) chunkResult {
	text := ""
	if wantMetadata || mode == domain.ModeFull {
		text = req.Document.Text
	}
	messages := BuildPrompt(PromptInput{
		Mode:         mode,
		Text:         text,
		Tables:       c.Tables,
		Items:        c.Items,
		Vocabulary:   n.vocab,
		Part:         part,
		WantMetadata: wantMetadata,
	})

	// expected drives the metadata-only check. A full-mode chunk has no
	// reliable baseline of its own, so it is not checked.
	budgetRows := c.ExpectedRows()
	expected := len(c.Items)
	if mode == domain.ModeFull && part == "" {
		expected = req.ExpectedRows
		if expected > budgetRows {
			budgetRows = expected
		}
	}

	completion := port.CompletionRequest{
		Messages:        messages,
		Temperature:     n.opts.Temperature,
		MaxOutputTokens: OutputBudget(budgetRows, n.opts.BaseOutputTokens, n.opts.PerItemOutputTokens, n.opts.MaxOutputTokens),
	}

	var decoded *Decoded
	accept := func(res *jsonrepair.Result, _ *port.CompletionResponse) error {
		d, err := Decode(res.Value, n.validator)
		if err != nil {
			return &domain.ModelParseError{Reason: "undecodable response", Err: err}
		}
		if len(d.Items) == 0 && expected >= n.opts.MetadataOnlyMinRows {
			reason := "metadata-only response"
			if d.HasItems() {
				reason = "empty item list"
			}
			return &domain.ModelParseError{
				Reason: fmt.Sprintf("%s with %d expected rows", reason, expected),
			}
		}
		decoded = d
		return nil
	}

	out, err := n.invoker.Invoke(ctx, completion, accept)
	if err != nil {
		n.logger.Warn("normalize.Normalizer: chunk failed",
			zap.String("chunk", c.Label()), zap.Error(err))
		return chunkResult{chunk: c, err: err}
	}
	return chunkResult{chunk: c, decoded: decoded, outcome: out}
}

// collect merges successful chunk results in chunk order. In hybrid mode a
// line number returned by two chunks keeps its first occurrence.
func (n *Normalizer) collect(res *Result, results []chunkResult) {
	seen := make(map[int]bool)
	for _, r := range results {
		if res.Metadata.IsZero() {
			res.Metadata = r.decoded.Metadata
		}
		if res.Backend == "" {
			res.Backend = r.outcome.Backend
		}
		if r.outcome.Truncated {
			res.Truncated = true
			res.Warnings = append(res.Warnings, fmt.Sprintf("model output truncated (%s); repaired at stage %s", r.chunk.Label(), r.outcome.Result.Stage))
		}
		res.Warnings = append(res.Warnings, r.decoded.Rejected...)

		for _, it := range r.decoded.Items {
			if res.Mode == domain.ModeHybrid && it.LineNumber > 0 {
				if seen[it.LineNumber] {
					res.Warnings = append(res.Warnings, fmt.Sprintf("model returned line %d twice; keeping the first", it.LineNumber))
					continue
				}
				seen[it.LineNumber] = true
			}
			res.Items = append(res.Items, it)
		}
	}
}
