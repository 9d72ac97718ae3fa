package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	sq "github.com/Masterminds/squirrel"

	"AirQualityNews/internal/domain"
	"AirQualityNews/internal/ports"
)

const seenTable = "seen_records"

// Ledger persists seen (source, item) pairs. The primary key makes MarkSeen insert-or-ignore.
type Ledger struct {
	db  *Database
	now func() time.Time
}

var _ ports.DedupLedger = (*Ledger)(nil)

// NewLedger wraps an opened and migrated database.
func NewLedger(db *Database) *Ledger {
	return &Ledger{db: db, now: time.Now}
}

// HasSeen reports whether the pair was recorded before.
func (l *Ledger) HasSeen(ctx context.Context, sourceID, itemID string) (bool, error) {
	query, args, err := l.db.builder().
		Select("1").
		From(seenTable).
		Where(sq.Eq{"source_id": sourceID, "item_id": itemID}).
		Limit(1).
		ToSql()
	if err != nil {
		return false, fmt.Errorf("build has-seen query: %w", err)
	}

	var one int
	err = l.db.DB.QueryRowContext(ctx, query, args...).Scan(&one)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("query seen %s/%s: %w", sourceID, itemID, err)
	}

	return true, nil
}

// MarkSeen records the pair. It returns false without error when the pair already exists.
func (l *Ledger) MarkSeen(ctx context.Context, record domain.SeenRecord) (bool, error) {
	if record.ProcessedAt.IsZero() {
		record.ProcessedAt = l.now().UTC()
	}
	if record.Status == "" {
		record.Status = domain.SeenExamined
	}

	query, args, err := l.db.builder().
		Insert(seenTable).
		Columns("source_id", "item_id", "processed_at", "status").
		Values(record.SourceID, record.ItemID, record.ProcessedAt, string(record.Status)).
		Suffix("ON CONFLICT (source_id, item_id) DO NOTHING").
		ToSql()
	if err != nil {
		return false, fmt.Errorf("build mark-seen query: %w", err)
	}

	res, err := l.db.DB.ExecContext(ctx, query, args...)
	if err != nil {
		return false, fmt.Errorf("mark seen %s/%s: %w", record.SourceID, record.ItemID, err)
	}

	affected, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("rows affected: %w", err)
	}

	return affected == 1, nil
}

// UpdateStatus changes the audit status of an existing record.
func (l *Ledger) UpdateStatus(ctx context.Context, sourceID, itemID string, status domain.SeenStatus) error {
	query, args, err := l.db.builder().
		Update(seenTable).
		Set("status", string(status)).
		Where(sq.Eq{"source_id": sourceID, "item_id": itemID}).
		ToSql()
	if err != nil {
		return fmt.Errorf("build update-status query: %w", err)
	}

	if _, err := l.db.DB.ExecContext(ctx, query, args...); err != nil {
		return fmt.Errorf("update status %s/%s: %w", sourceID, itemID, err)
	}

	return nil
}

// Release deletes the record so the pair counts as unseen again.
func (l *Ledger) Release(ctx context.Context, sourceID, itemID string) error {
	query, args, err := l.db.builder().
		Delete(seenTable).
		Where(sq.Eq{"source_id": sourceID, "item_id": itemID}).
		ToSql()
	if err != nil {
		return fmt.Errorf("build release query: %w", err)
	}

	if _, err := l.db.DB.ExecContext(ctx, query, args...); err != nil {
		return fmt.Errorf("release %s/%s: %w", sourceID, itemID, err)
	}

	return nil
}

// Get loads a single record.
func (l *Ledger) Get(ctx context.Context, sourceID, itemID string) (domain.SeenRecord, bool, error) {
	query, args, err := l.db.builder().
		Select("source_id", "item_id", "processed_at", "status").
		From(seenTable).
		Where(sq.Eq{"source_id": sourceID, "item_id": itemID}).
		ToSql()
	if err != nil {
		return domain.SeenRecord{}, false, fmt.Errorf("build get query: %w", err)
	}

	var (
		rec    domain.SeenRecord
		status string
	)
	err = l.db.DB.QueryRowContext(ctx, query, args...).Scan(&rec.SourceID, &rec.ItemID, &rec.ProcessedAt, &status)
	if errors.Is(err, sql.ErrNoRows) {
		return domain.SeenRecord{}, false, nil
	}
	if err != nil {
		return domain.SeenRecord{}, false, fmt.Errorf("get seen %s/%s: %w", sourceID, itemID, err)
	}
	rec.Status = domain.SeenStatus(status)

	return rec, true, nil
}

// Count returns the number of records, optionally restricted to one source.
func (l *Ledger) Count(ctx context.Context, sourceID string) (int, error) {
	b := l.db.builder().Select("COUNT(*)").From(seenTable)
	if sourceID != "" {
		b = b.Where(sq.Eq{"source_id": sourceID})
	}

	query, args, err := b.ToSql()
	if err != nil {
		return 0, fmt.Errorf("build count query: %w", err)
	}

	var n int
	if err := l.db.DB.QueryRowContext(ctx, query, args...).Scan(&n); err != nil {
		return 0, fmt.Errorf("count seen: %w", err)
	}

	return n, nil
}
