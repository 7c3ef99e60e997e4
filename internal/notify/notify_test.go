package notify_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"

	"smartmetal/internal/config"
	"smartmetal/internal/domain"
	"smartmetal/internal/notify"
	"smartmetal/internal/port"
)

func TestNew_NoopLogsReview(t *testing.T) {
	core, logs := observer.New(zap.WarnLevel)
	n, err := notify.New(&config.NotifyConfig{}, zap.New(core))
	require.NoError(t, err)

	err = n.NotifyReview(context.Background(), port.ReviewRequest{
		RunID:       "run-1",
		DocumentRef: "rfq-7",
		Gate:        &domain.CompletenessGateError{Baseline: 30, Actual: 5},
	})

	require.NoError(t, err)
	require.Equal(t, 1, logs.Len())
	entry := logs.All()[0]
	assert.Equal(t, "noop.Notifier: document needs manual review", entry.Message)
	assert.Equal(t, int64(30), entry.ContextMap()["baseline"])
}

func TestNew_Errors(t *testing.T) {
	_, err := notify.New(&config.NotifyConfig{Provider: "ses"}, nil)
	assert.Error(t, err)

	_, err = notify.New(&config.NotifyConfig{Provider: "pigeon"}, nil)
	assert.Error(t, err)
}
