package usecase

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"TradeEngine/internal/domain/models"
	domrepo "TradeEngine/internal/domain/repository"
	pkgkafka "TradeEngine/pkg/kafka"
)

// MarketProcessor is the ingestion step after decoding; the realtime pipeline implements it.
type MarketProcessor interface {
	Process(ctx context.Context, ev models.MarketEvent) error
}

// KafkaCandlesHandler feeds closed candles from a Kafka topic into the pipeline.
type KafkaCandlesHandler struct {
	topic   string
	proc    MarketProcessor
	metrics domrepo.Metrics
}

func NewKafkaCandlesHandler(topic string, proc MarketProcessor, metrics domrepo.Metrics) *KafkaCandlesHandler {
	return &KafkaCandlesHandler{topic: topic, proc: proc, metrics: metrics}
}

func (h *KafkaCandlesHandler) Topic() string { return h.topic }

// incoming message schema: {symbol, t, o, h, l, c, v}; t is the bucket start
// in unix seconds or milliseconds.
func (h *KafkaCandlesHandler) Handle(ctx context.Context, b []byte) error {
	var m struct {
		Symbol string  `json:"symbol"`
		T      int64   `json:"t"`
		O      float64 `json:"o"`
		H      float64 `json:"h"`
		L      float64 `json:"l"`
		C      float64 `json:"c"`
		V      float64 `json:"v"`
	}
	if err := json.Unmarshal(b, &m); err != nil {
		h.metrics.RecordError("consumer_unmarshal")
		return fmt.Errorf("decode candle: %w", err)
	}
	bucket := time.Unix(m.T, 0)
	if m.T > 1e11 { // ms
		bucket = time.UnixMilli(m.T)
	}

	c := models.Candle{
		Bucket: bucket.UTC(),
		Symbol: m.Symbol,
		Open:   m.O,
		High:   m.H,
		Low:    m.L,
		Close:  m.C,
		Volume: m.V,
	}
	start := time.Now()
	if err := h.proc.Process(ctx, models.CandleEvent(c)); err != nil {
		h.metrics.RecordError("consumer_process")
		return err
	}
	h.metrics.RecordLatency("consumer_process", time.Since(start).Seconds())
	return nil
}

var _ pkgkafka.MessageHandler = (*KafkaCandlesHandler)(nil)
