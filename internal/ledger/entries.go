package ledger

import (
	"database/sql"
	"fmt"
	"log/slog"

	"github.com/Fantasim/railpay/internal/models"
)

// UpsertEntry inserts a ledger entry, or updates its mutable fields if an
// entry with the same (rail, id) already exists. Idempotent: replaying the
// same upsert is a no-op.
func (s *Store) UpsertEntry(e models.LedgerEntry) error {
	slog.Debug("upserting ledger entry",
		"id", e.ID,
		"rail", e.Rail,
		"direction", e.Direction,
		"status", e.Status,
		"amountSats", e.AmountSats,
	)

	_, err := s.conn.Exec(
		`INSERT INTO ledger_entries (id, rail, direction, status, amount_sats, fee_sats, memo, timestamp_ms, counterparty, housekeeping)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		 ON CONFLICT (rail, id) DO UPDATE SET
		     status = excluded.status,
		     fee_sats = excluded.fee_sats,
		     timestamp_ms = excluded.timestamp_ms,
		     updated_at = datetime('now')`,
		e.ID,
		string(e.Rail),
		string(e.Direction),
		string(e.Status),
		e.AmountSats,
		e.FeeSats,
		e.Memo,
		e.TimestampMs,
		e.Counterparty,
		boolToInt(e.Housekeeping),
	)
	if err != nil {
		return fmt.Errorf("upsert ledger entry %s/%s: %w", e.Rail, e.ID, err)
	}

	slog.Info("ledger entry recorded",
		"id", e.ID,
		"rail", e.Rail,
		"status", e.Status,
	)

	return nil
}

// UpdateEntryStatus moves an entry to a new settlement status. Updating to
// the current status is a no-op.
func (s *Store) UpdateEntryStatus(rail models.Rail, id string, status models.EntryStatus) error {
	slog.Debug("updating ledger entry status",
		"rail", rail,
		"id", id,
		"status", status,
	)

	res, err := s.conn.Exec(
		"UPDATE ledger_entries SET status = ?, updated_at = datetime('now') WHERE rail = ? AND id = ?",
		string(status), string(rail), id,
	)
	if err != nil {
		return fmt.Errorf("update ledger entry %s/%s status: %w", rail, id, err)
	}

	affected, _ := res.RowsAffected()
	if affected == 0 {
		return fmt.Errorf("update ledger entry %s/%s: %w", rail, id, sql.ErrNoRows)
	}

	slog.Info("ledger entry status updated",
		"rail", rail,
		"id", id,
		"status", status,
	)

	return nil
}

// GetEntry retrieves one entry by its rail and native id.
func (s *Store) GetEntry(rail models.Rail, id string) (*models.LedgerEntry, error) {
	row := s.conn.QueryRow(
		entrySelect+" WHERE rail = ? AND id = ?",
		string(rail), id,
	)
	return scanEntry(row)
}

// ListByRail returns the rail's entries sorted descending by timestamp.
func (s *Store) ListByRail(rail models.Rail) ([]models.LedgerEntry, error) {
	rows, err := s.conn.Query(
		entrySelect+" WHERE rail = ? ORDER BY timestamp_ms DESC, id DESC",
		string(rail),
	)
	if err != nil {
		return nil, fmt.Errorf("list ledger entries for %s: %w", rail, err)
	}
	defer rows.Close()

	return collectEntries(rows)
}

// HasSettledOutgoingTo reports whether a non-failed outgoing entry already
// exists for the exact normalized destination. Used for duplicate-payment
// rejection before a send begins.
func (s *Store) HasSettledOutgoingTo(destination string) (bool, error) {
	var count int
	err := s.conn.QueryRow(
		`SELECT COUNT(*) FROM ledger_entries
		 WHERE counterparty = ? AND direction = ? AND status != ?`,
		destination, string(models.DirectionOutgoing), string(models.StatusFailed),
	).Scan(&count)
	if err != nil {
		return false, fmt.Errorf("check outgoing entries to destination: %w", err)
	}
	return count > 0, nil
}

// ListPending returns all pending entries, oldest first. Used by the
// finality reconciler at startup.
func (s *Store) ListPending() ([]models.LedgerEntry, error) {
	rows, err := s.conn.Query(
		entrySelect+" WHERE status = ? ORDER BY timestamp_ms ASC",
		string(models.StatusPending),
	)
	if err != nil {
		return nil, fmt.Errorf("list pending ledger entries: %w", err)
	}
	defer rows.Close()

	return collectEntries(rows)
}

const entrySelect = `SELECT id, rail, direction, status, amount_sats, fee_sats, memo, timestamp_ms, counterparty, housekeeping
	 FROM ledger_entries`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanEntry(row rowScanner) (*models.LedgerEntry, error) {
	var e models.LedgerEntry
	var housekeeping int
	err := row.Scan(
		&e.ID, &e.Rail, &e.Direction, &e.Status, &e.AmountSats,
		&e.FeeSats, &e.Memo, &e.TimestampMs, &e.Counterparty, &housekeeping,
	)
	if err != nil {
		return nil, fmt.Errorf("scan ledger entry: %w", err)
	}
	e.Housekeeping = housekeeping != 0
	return &e, nil
}

func collectEntries(rows *sql.Rows) ([]models.LedgerEntry, error) {
	var entries []models.LedgerEntry
	for rows.Next() {
		e, err := scanEntry(rows)
		if err != nil {
			return nil, err
		}
		entries = append(entries, *e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate ledger entries: %w", err)
	}
	return entries, nil
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
