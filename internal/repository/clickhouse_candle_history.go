package repository

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"TradeEngine/internal/domain/models"
	domrepo "TradeEngine/internal/domain/repository"
	pkgch "TradeEngine/pkg/clickhouse"
	applogger "TradeEngine/pkg/logger"
)

// CHCandleHistory reads closed candles from the ClickHouse rollup tables.
type CHCandleHistory struct {
	db     *sql.DB
	tables map[domrepo.Timeframe]string
	l      *applogger.Logger
}

func NewCHCandleHistory(ch *pkgch.Client, l *applogger.Logger) *CHCandleHistory {
	return &CHCandleHistory{
		db: ch.DB(),
		tables: map[domrepo.Timeframe]string{
			domrepo.TF1s: ch.Table("candles_1s"),
			domrepo.TF1m: ch.Table("candles_1m"),
			domrepo.TF5m: ch.Table("candles_5m"),
		},
		l: l,
	}
}

// CandleSchema returns the DDL for the candle tables in database db.
func CandleSchema(db string) []string {
	stmts := []string{fmt.Sprintf("CREATE DATABASE IF NOT EXISTS %s", db)}
	for _, name := range []string{"candles_1s", "candles_1m", "candles_5m"} {
		stmts = append(stmts, fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s.%s (
    bucket DateTime64(3, 'UTC'),
    symbol LowCardinality(String),
    open Float64,
    high Float64,
    low Float64,
    close Float64,
    vol Float64
) ENGINE = ReplacingMergeTree
ORDER BY (symbol, bucket)`, db, name))
	}
	return stmts
}

func (s *CHCandleHistory) GetCandles(ctx context.Context, symbol string, from, to time.Time, tf domrepo.Timeframe) ([]models.Candle, error) {
	table, err := s.table(tf)
	if err != nil {
		return nil, err
	}
	q := fmt.Sprintf(`SELECT bucket, symbol, open, high, low, close, vol
FROM %s FINAL
WHERE symbol = ? AND bucket >= ? AND bucket <= ?
ORDER BY bucket ASC`, table)

	start := time.Now()
	out, err := s.query(ctx, q, 1024, symbol, from, to)
	if err != nil {
		s.l.Error("clickhouse get_candles failed",
			applogger.String("table", table),
			applogger.String("symbol", symbol),
			applogger.Error(err),
		)
		return nil, fmt.Errorf("get candles: %w", err)
	}
	s.l.Debug("clickhouse get_candles ok",
		applogger.String("table", table),
		applogger.Int("rows", len(out)),
		applogger.Duration("duration", time.Since(start)),
	)
	return out, nil
}

// GetLatestNCandles returns up to n candles, oldest first.
func (s *CHCandleHistory) GetLatestNCandles(ctx context.Context, symbol string, n int, tf domrepo.Timeframe) ([]models.Candle, error) {
	if n <= 0 {
		return nil, domrepo.ErrInvalidInput
	}
	table, err := s.table(tf)
	if err != nil {
		return nil, err
	}
	q := fmt.Sprintf(`SELECT bucket, symbol, open, high, low, close, vol
FROM %s FINAL
WHERE symbol = ?
ORDER BY bucket DESC
LIMIT ?`, table)

	start := time.Now()
	out, err := s.query(ctx, q, n, symbol, n)
	if err != nil {
		s.l.Error("clickhouse latest_candles failed",
			applogger.String("table", table),
			applogger.String("symbol", symbol),
			applogger.Int("limit", n),
			applogger.Error(err),
		)
		return nil, fmt.Errorf("get latest candles: %w", err)
	}
	reverseCandles(out)
	s.l.Info("clickhouse latest_candles ok",
		applogger.String("table", table),
		applogger.Int("limit", n),
		applogger.Int("rows", len(out)),
		applogger.Duration("duration", time.Since(start)),
	)
	return out, nil
}

func (s *CHCandleHistory) query(ctx context.Context, q string, capHint int, args ...interface{}) ([]models.Candle, error) {
	rows, err := s.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := make([]models.Candle, 0, capHint)
	for rows.Next() {
		var c models.Candle
		if err := rows.Scan(&c.Bucket, &c.Symbol, &c.Open, &c.High, &c.Low, &c.Close, &c.Volume); err != nil {
			return nil, fmt.Errorf("scan candle: %w", err)
		}
		c.Bucket = c.Bucket.UTC()
		out = append(out, c)
	}
	return out, rows.Err()
}

func (s *CHCandleHistory) table(tf domrepo.Timeframe) (string, error) {
	t, ok := s.tables[tf]
	if !ok {
		return "", fmt.Errorf("%w: timeframe %q", domrepo.ErrInvalidInput, tf)
	}
	return t, nil
}

func reverseCandles(cs []models.Candle) {
	for i, j := 0, len(cs)-1; i < j; i, j = i+1, j-1 {
		cs[i], cs[j] = cs[j], cs[i]
	}
}

var _ domrepo.CandleHistory = (*CHCandleHistory)(nil)
