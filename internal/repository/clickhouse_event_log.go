package repository

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"TradeEngine/internal/domain/models"
	domrepo "TradeEngine/internal/domain/repository"
	pkgch "TradeEngine/pkg/clickhouse"
)

// CHEventLog appends every engine event to an audit table. Rows are keyed by
// event id so at-least-once delivery collapses on merge.
type CHEventLog struct {
	db    *sql.DB
	table string
}

func NewCHEventLog(ch *pkgch.Client) *CHEventLog {
	return &CHEventLog{db: ch.DB(), table: ch.Table("engine_events")}
}

// EventLogSchema returns the DDL for the audit table in database db.
func EventLogSchema(db string) []string {
	return []string{
		fmt.Sprintf("CREATE DATABASE IF NOT EXISTS %s", db),
		fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s.engine_events (
    event_id String,
    type LowCardinality(String),
    symbol LowCardinality(String),
    ts DateTime64(3, 'UTC'),
    payload String,
    inserted_at DateTime64(3, 'UTC') DEFAULT now64(3)
) ENGINE = ReplacingMergeTree
ORDER BY (symbol, ts, event_id)`, db),
	}
}

func (s *CHEventLog) Publish(ctx context.Context, ev models.Event) error {
	return s.PublishBatch(ctx, []models.Event{ev})
}

// PublishBatch writes events in one multi-row insert.
func (s *CHEventLog) PublishBatch(ctx context.Context, events []models.Event) error {
	if len(events) == 0 {
		return nil
	}
	values := make([]string, 0, len(events))
	args := make([]interface{}, 0, len(events)*5)
	for _, ev := range events {
		if ev.ID == "" {
			continue
		}
		payload, err := json.Marshal(ev.Payload)
		if err != nil {
			return fmt.Errorf("encode %s payload: %w", ev.Type, err)
		}
		values = append(values, "(?, ?, ?, ?, ?)")
		args = append(args, ev.ID, string(ev.Type), ev.Symbol, ev.Timestamp.UTC(), string(payload))
	}
	if len(values) == 0 {
		return nil
	}
	q := fmt.Sprintf("INSERT INTO %s (event_id, type, symbol, ts, payload) VALUES %s", s.table, strings.Join(values, ","))
	if _, err := s.db.ExecContext(ctx, q, args...); err != nil {
		return fmt.Errorf("insert events: %w", err)
	}
	return nil
}

// Recent returns the latest events of one type for a symbol, newest first.
// Payloads are left as raw JSON.
func (s *CHEventLog) Recent(ctx context.Context, symbol string, t models.EventType, limit int) ([]models.Event, error) {
	if limit <= 0 {
		return nil, domrepo.ErrInvalidInput
	}
	q := fmt.Sprintf(`SELECT event_id, type, symbol, ts, payload
FROM %s FINAL
WHERE symbol = ? AND type = ?
ORDER BY ts DESC
LIMIT ?`, s.table)
	rows, err := s.db.QueryContext(ctx, q, symbol, string(t), limit)
	if err != nil {
		return nil, fmt.Errorf("query events: %w", err)
	}
	defer rows.Close()

	var out []models.Event
	for rows.Next() {
		var (
			ev      models.Event
			typ     string
			ts      time.Time
			payload string
		)
		if err := rows.Scan(&ev.ID, &typ, &ev.Symbol, &ts, &payload); err != nil {
			return nil, fmt.Errorf("scan event: %w", err)
		}
		ev.Type = models.EventType(typ)
		ev.Timestamp = ts.UTC()
		ev.Payload = json.RawMessage(payload)
		out = append(out, ev)
	}
	return out, rows.Err()
}

var _ domrepo.EventPublisher = (*CHEventLog)(nil)
