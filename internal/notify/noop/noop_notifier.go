package noop

import (
	"context"

	"go.uber.org/zap"

	"smartmetal/internal/port"
)

type noopNotifier struct {
	logger *zap.Logger
}

// NewNoopNotifier creates a ReviewNotifier that only logs review requests.
func NewNoopNotifier(logger *zap.Logger) port.ReviewNotifier {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &noopNotifier{logger: logger}
}

func (n *noopNotifier) NotifyReview(_ context.Context, req port.ReviewRequest) error {
	fields := []zap.Field{
		zap.String("run_id", req.RunID),
		zap.String("document", req.DocumentRef),
	}
	if req.Gate != nil {
		fields = append(fields,
			zap.Int("baseline", req.Gate.Baseline),
			zap.Int("actual", req.Gate.Actual),
			zap.Float64("coverage", req.Gate.Coverage),
			zap.String("reason", req.Gate.Reason),
		)
	}
	n.logger.Warn("noop.Notifier: document needs manual review", fields...)
	return nil
}
