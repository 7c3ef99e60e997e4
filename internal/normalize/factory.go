package normalize

import (
	"go.uber.org/zap"

	"smartmetal/internal/config"
	"smartmetal/internal/llm"
)

// NewFromConfig builds a Normalizer over the configured backend chain. It
// returns domain.ErrNoModelBackends when no backend is configured; callers
// then run raw-only. Provider packages must be imported for their
// registration side effect.
func NewFromConfig(cfg *config.Config, logger *zap.Logger) (*Normalizer, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	invoker, err := llm.NewInvokerFromConfig(&cfg.LLM, llm.WithLogger(logger))
	if err != nil {
		return nil, err
	}

	vocab, err := LoadVocabulary(cfg.Extraction.VocabularyPath)
	if err != nil {
		return nil, err
	}

	return NewNormalizer(invoker, vocab, Options{
		Temperature:         cfg.LLM.Temperature,
		MaxOutputTokens:     cfg.LLM.MaxOutputTokens,
		BaseOutputTokens:    cfg.LLM.BaseOutputTokens,
		PerItemOutputTokens: cfg.LLM.PerItemOutputTokens,
		MetadataOnlyMinRows: cfg.Extraction.MetadataOnlyMinRows,
		Chunking: ChunkOptions{
			ItemThreshold:  cfg.Chunking.ItemThreshold,
			TableThreshold: cfg.Chunking.TableThreshold,
			PagesPerChunk:  cfg.Chunking.PagesPerChunk,
			ItemsPerChunk:  cfg.Chunking.ItemsPerChunk,
		},
		Concurrency:       cfg.Chunking.Concurrency,
		InterBatchDelay:   cfg.Chunking.InterBatchDelay,
		RetryFailedChunks: cfg.Chunking.RetryFailed,
	}, logger)
}
