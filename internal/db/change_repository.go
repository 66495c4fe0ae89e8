package db

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/tOgg1/threadline/internal/models"
)

const defaultChangeBatch = 100

func appendChange(ctx context.Context, tx *sql.Tx, change *models.ChangeEvent) error {
	if change.Table == "" || change.Kind == "" {
		return fmt.Errorf("change table and kind are required")
	}
	if change.At.IsZero() {
		change.At = time.Now().UTC()
	}

	result, err := tx.ExecContext(ctx, `
		INSERT INTO changes (table_name, kind, row_id, thread_id, at)
		VALUES (?, ?, ?, ?, ?)
	`,
		string(change.Table),
		string(change.Kind),
		change.RowID,
		change.ThreadID,
		formatTime(change.At),
	)
	if err != nil {
		return fmt.Errorf("failed to append change: %w", err)
	}

	seq, err := result.LastInsertId()
	if err != nil {
		return fmt.Errorf("failed to read change seq: %w", err)
	}
	change.Seq = seq
	return nil
}

// ChangesAfter returns up to limit logged changes with Seq > afterSeq, oldest first.
func (db *DB) ChangesAfter(ctx context.Context, afterSeq int64, limit int) ([]models.ChangeEvent, error) {
	if limit <= 0 {
		limit = defaultChangeBatch
	}

	rows, err := db.QueryContext(ctx, `
		SELECT seq, table_name, kind, row_id, thread_id, at
		FROM changes
		WHERE seq > ?
		ORDER BY seq ASC
		LIMIT ?
	`, afterSeq, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query changes: %w", err)
	}
	defer rows.Close()

	var changes []models.ChangeEvent
	for rows.Next() {
		var (
			change models.ChangeEvent
			table  string
			kind   string
			at     string
		)
		if err := rows.Scan(&change.Seq, &table, &kind, &change.RowID, &change.ThreadID, &at); err != nil {
			return nil, fmt.Errorf("failed to scan change: %w", err)
		}
		change.Table = models.Table(table)
		change.Kind = models.ChangeKind(kind)
		if change.At, err = parseTime(at); err != nil {
			return nil, err
		}
		changes = append(changes, change)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating changes: %w", err)
	}
	return changes, nil
}

// LatestChangeSeq returns the newest logged change sequence (0 when empty).
func (db *DB) LatestChangeSeq(ctx context.Context) (int64, error) {
	var seq sql.NullInt64
	if err := db.QueryRowContext(ctx, `SELECT MAX(seq) FROM changes`).Scan(&seq); err != nil {
		return 0, fmt.Errorf("failed to read latest change: %w", err)
	}
	return seq.Int64, nil
}

// PruneChanges deletes changes logged before cutoff and returns how many were removed.
func (db *DB) PruneChanges(ctx context.Context, cutoff time.Time) (int64, error) {
	result, err := db.ExecContext(ctx, `DELETE FROM changes WHERE at < ?`, formatTime(cutoff))
	if err != nil {
		return 0, fmt.Errorf("failed to prune changes: %w", err)
	}
	removed, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("failed to read pruned rows: %w", err)
	}
	return removed, nil
}
