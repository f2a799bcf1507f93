package filters

import (
	"testing"
	"time"

	"TradeEngine/internal/domain/models"
	"TradeEngine/pkg/config"

	"github.com/stretchr/testify/assert"
)

func TestADXGate(t *testing.T) {
	g := NewADXGate(config.DefaultEngine())

	res := g.Evaluate(18.5)
	assert.False(t, res.Passed)
	assert.Equal(t, 18.5, res.Value)
	assert.Equal(t, 25.0, res.Threshold)
	assert.Equal(t, ReasonADXBelowThreshold, res.Reason)

	assert.True(t, g.Evaluate(25).Passed)
}

func TestSpreadGate(t *testing.T) {
	now := time.Date(2024, 1, 1, 12, 0, 0, 0, time.UTC)
	g := NewSpreadGate(config.DefaultEngine())
	g.Now = func() time.Time { return now }

	tests := []struct {
		name   string
		quote  *models.Quote
		passed bool
		reason string
	}{
		{"missing quote", nil, false, ReasonStaleSpread},
		{"stale but narrow", &models.Quote{Symbol: "X", Bid: 100, Ask: 100.01, ReceivedAt: now.Add(-3 * time.Second)}, false, ReasonStaleSpread},
		{"fresh and narrow", &models.Quote{Symbol: "X", Bid: 100, Ask: 100.05, ReceivedAt: now.Add(-time.Second)}, true, ""},
		{"fresh and wide", &models.Quote{Symbol: "X", Bid: 100, Ask: 100.2, ReceivedAt: now}, false, ReasonSpreadTooWide},
		{"crossed book", &models.Quote{Symbol: "X", Bid: 100, Ask: 99, ReceivedAt: now}, false, ReasonInvalidQuote},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			res := g.Evaluate(tt.quote)
			assert.Equal(t, tt.passed, res.Passed)
			assert.Equal(t, tt.reason, res.Reason)
			assert.Equal(t, NameSpread, res.Name)
		})
	}
}
