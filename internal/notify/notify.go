// Package notify selects the manual-review notifier from configuration.
package notify

import (
	"fmt"

	"go.uber.org/zap"

	"smartmetal/internal/config"
	"smartmetal/internal/notify/noop"
	"smartmetal/internal/notify/ses"
	"smartmetal/internal/port"
)

// New returns the notifier named by cfg.Provider: "ses", or "noop" (the
// default).
func New(cfg *config.NotifyConfig, logger *zap.Logger) (port.ReviewNotifier, error) {
	switch cfg.Provider {
	case "", "noop":
		return noop.NewNoopNotifier(logger), nil
	case "ses":
		if cfg.FromAddress == "" || cfg.ToAddress == "" {
			return nil, fmt.Errorf("ses notifier requires from_address and to_address")
		}
		return ses.NewSESNotifier(cfg)
	default:
		return nil, fmt.Errorf("unknown notify provider %q", cfg.Provider)
	}
}
