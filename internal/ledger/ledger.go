// Package ledger provides an append-only event history for greenhoused
// and the rolling per-period water heater totals.
package ledger

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"time"
)

// EventType represents the type of event in the ledger
type EventType string

const (
	EventTransition         EventType = "transition"
	EventPowerSwitch        EventType = "power_switch"
	EventPowerSwitchAborted EventType = "power_switch_aborted"
	EventBudgetExhausted    EventType = "budget_exhausted"
	EventWarning            EventType = "warning"
	EventCritical           EventType = "critical"
)

// MaxPeriodRows is the size of the period_totals rolling window.
const MaxPeriodRows = 35

// Entry represents a single event in the ledger
type Entry struct {
	ID        int64          `json:"id"`
	EventType EventType      `json:"event_type"`
	Timestamp time.Time      `json:"timestamp"`
	Payload   map[string]any `json:"payload"`
	BootID    string         `json:"boot_id"`
}

// PeriodTotal is the water heater usage of one closed day or night period.
type PeriodTotal struct {
	ID             int64     `json:"id"`
	Period         string    `json:"period"`
	EndedAt        time.Time `json:"ended_at"`
	RuntimeSeconds float64   `json:"runtime_seconds"`
	Cost           float64   `json:"cost"`
	Exhausted      bool      `json:"exhausted"`
}

// Ledger provides append-only event logging
type Ledger struct {
	db     *sql.DB
	bootID string
}

// New creates a new Ledger using the provided database connection. Every
// entry is tagged with bootID.
func New(db *sql.DB, bootID string) *Ledger {
	return &Ledger{db: db, bootID: bootID}
}

// Append adds a new event to the ledger
func (l *Ledger) Append(eventType EventType, at time.Time, payload map[string]any) error {
	var payloadJSON []byte
	var err error

	if payload != nil {
		payloadJSON, err = json.Marshal(payload)
		if err != nil {
			return fmt.Errorf("failed to marshal payload: %w", err)
		}
	}

	_, err = l.db.Exec(
		`INSERT INTO event_ledger (event_type, timestamp, payload, boot_id) VALUES (?, ?, ?, ?)`,
		string(eventType), at.UTC().Unix(), string(payloadJSON), l.bootID,
	)
	return err
}

// GetByType returns entries filtered by event type, newest first
func (l *Ledger) GetByType(eventType EventType, limit int) ([]*Entry, error) {
	rows, err := l.db.Query(`
		SELECT id, event_type, timestamp, payload, boot_id
		FROM event_ledger
		WHERE event_type = ?
		ORDER BY timestamp DESC, id DESC
		LIMIT ?
	`, string(eventType), limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	return l.scanEntries(rows)
}

// GetByTimeRange returns entries within a time range, newest first
func (l *Ledger) GetByTimeRange(start, end time.Time, limit int) ([]*Entry, error) {
	rows, err := l.db.Query(`
		SELECT id, event_type, timestamp, payload, boot_id
		FROM event_ledger
		WHERE timestamp >= ? AND timestamp <= ?
		ORDER BY timestamp DESC, id DESC
		LIMIT ?
	`, start.Unix(), end.Unix(), limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	return l.scanEntries(rows)
}

// DeleteOlderThan removes entries older than now-retention (retention policy)
func (l *Ledger) DeleteOlderThan(now time.Time, retention time.Duration) (int64, error) {
	cutoff := now.Add(-retention).Unix()
	result, err := l.db.Exec(`DELETE FROM event_ledger WHERE timestamp < ?`, cutoff)
	if err != nil {
		return 0, err
	}
	return result.RowsAffected()
}

// RecordPeriod stores a closed period and trims the table to the newest
// MaxPeriodRows rows.
func (l *Ledger) RecordPeriod(p PeriodTotal) error {
	tx, err := l.db.Begin()
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	_, err = tx.Exec(
		`INSERT INTO period_totals (period, ended_at, runtime_seconds, cost, exhausted) VALUES (?, ?, ?, ?, ?)`,
		p.Period, p.EndedAt.UTC().Unix(), p.RuntimeSeconds, p.Cost, p.Exhausted,
	)
	if err != nil {
		return fmt.Errorf("failed to insert period total: %w", err)
	}

	_, err = tx.Exec(`
		DELETE FROM period_totals
		WHERE id NOT IN (SELECT id FROM period_totals ORDER BY ended_at DESC, id DESC LIMIT ?)
	`, MaxPeriodRows)
	if err != nil {
		return fmt.Errorf("failed to trim period totals: %w", err)
	}

	return tx.Commit()
}

// Periods returns stored period totals, newest first
func (l *Ledger) Periods(limit int) ([]PeriodTotal, error) {
	rows, err := l.db.Query(`
		SELECT id, period, ended_at, runtime_seconds, cost, exhausted
		FROM period_totals
		ORDER BY ended_at DESC, id DESC
		LIMIT ?
	`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []PeriodTotal
	for rows.Next() {
		var p PeriodTotal
		var endedAt int64
		if err := rows.Scan(&p.ID, &p.Period, &endedAt, &p.RuntimeSeconds, &p.Cost, &p.Exhausted); err != nil {
			return nil, err
		}
		p.EndedAt = time.Unix(endedAt, 0).UTC()
		out = append(out, p)
	}
	return out, rows.Err()
}

func (l *Ledger) scanEntries(rows *sql.Rows) ([]*Entry, error) {
	var entries []*Entry
	for rows.Next() {
		var entry Entry
		var payloadStr, bootID sql.NullString
		var timestamp int64

		if err := rows.Scan(&entry.ID, &entry.EventType, &timestamp, &payloadStr, &bootID); err != nil {
			return nil, err
		}

		entry.Timestamp = time.Unix(timestamp, 0).UTC()
		if bootID.Valid {
			entry.BootID = bootID.String
		}

		if payloadStr.Valid && payloadStr.String != "" {
			entry.Payload = make(map[string]any)
			if err := json.Unmarshal([]byte(payloadStr.String), &entry.Payload); err != nil {
				return nil, fmt.Errorf("failed to unmarshal payload: %w", err)
			}
		}

		entries = append(entries, &entry)
	}

	return entries, rows.Err()
}
