// Package exchange holds the venue variants the engine can trade against.
package exchange

import (
	"fmt"

	drepo "TradeEngine/internal/domain/repository"
	"TradeEngine/pkg/config"
	"TradeEngine/pkg/logger"
)

// New resolves the configured variant once at startup.
func New(cfg *config.Config, log *logger.Logger) (drepo.TradingVenue, error) {
	switch cfg.Exchange.Type {
	case "paper":
		return NewPaperExchange(log), nil
	case "live":
		return NewLiveExchange(LiveConfig{
			BaseURL:      cfg.Exchange.BaseURL,
			APIKey:       cfg.Exchange.APIKey,
			Timeout:      cfg.Exchange.Timeout,
			RateCapacity: cfg.Exchange.RateCapacity,
			RatePerSec:   cfg.Exchange.RatePerSec,
		}, log), nil
	default:
		return nil, fmt.Errorf("unknown exchange type %q", cfg.Exchange.Type)
	}
}
