package db

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/tOgg1/threadline/internal/models"
	"github.com/tOgg1/threadline/internal/store"
)

const threadColumns = `t.id, t.subject, p.name, p.role, t.priority, t.status,
	t.last_message_at, t.pinned, t.archived, t.is_read, t.created_at`

const priorityRankExpr = `CASE t.priority
	WHEN 'low' THEN 0 WHEN 'medium' THEN 1 WHEN 'high' THEN 2 WHEN 'urgent' THEN 3
	ELSE -1 END`

type rowScanner interface {
	Scan(dest ...any) error
}

// CreateThread inserts a thread, creating its partner record on first use.
func (db *DB) CreateThread(ctx context.Context, thread *models.Thread) error {
	if thread == nil {
		return fmt.Errorf("thread is required")
	}
	if err := thread.Validate(); err != nil {
		return err
	}

	if thread.ID == "" {
		thread.ID = uuid.New().String()
	}
	now := time.Now().UTC()
	if thread.CreatedAt.IsZero() {
		thread.CreatedAt = now
	}
	if thread.LastMessageAt.IsZero() {
		thread.LastMessageAt = thread.CreatedAt
	}

	return db.mutate(ctx, func(tx *sql.Tx) ([]models.ChangeEvent, error) {
		partnerID, err := ensurePartner(ctx, tx, thread.Partner)
		if err != nil {
			return nil, err
		}

		_, err = tx.ExecContext(ctx, `
			INSERT INTO threads (
				id, subject, partner_id, priority, status, last_message_at,
				pinned, archived, is_read, created_at
			) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		`,
			thread.ID,
			thread.Subject,
			partnerID,
			string(thread.Priority),
			thread.Status,
			formatTime(thread.LastMessageAt),
			boolInt(thread.Pinned),
			boolInt(thread.Archived),
			boolInt(thread.IsRead),
			formatTime(thread.CreatedAt),
		)
		if err != nil {
			return nil, fmt.Errorf("failed to insert thread: %w", err)
		}

		return []models.ChangeEvent{{
			Table:    models.TableThreads,
			Kind:     models.ChangeInsert,
			RowID:    thread.ID,
			ThreadID: thread.ID,
		}}, nil
	})
}

func ensurePartner(ctx context.Context, tx *sql.Tx, partner models.Partner) (string, error) {
	var id string
	err := tx.QueryRowContext(ctx, `SELECT id FROM partners WHERE name = ? AND role = ?`,
		partner.Name, partner.Role).Scan(&id)
	if err == nil {
		return id, nil
	}
	if !errors.Is(err, sql.ErrNoRows) {
		return "", fmt.Errorf("failed to look up partner: %w", err)
	}

	id = uuid.New().String()
	if _, err := tx.ExecContext(ctx, `INSERT INTO partners (id, name, role) VALUES (?, ?, ?)`,
		id, partner.Name, partner.Role); err != nil {
		return "", fmt.Errorf("failed to insert partner: %w", err)
	}
	return id, nil
}

// GetThread retrieves a thread by ID, archived or not.
func (db *DB) GetThread(ctx context.Context, id string) (*models.Thread, error) {
	row := db.QueryRowContext(ctx, `
		SELECT `+threadColumns+`
		FROM threads t JOIN partners p ON p.id = t.partner_id
		WHERE t.id = ?
	`, id)

	thread, err := scanThread(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, store.ErrThreadNotFound
	}
	if err != nil {
		return nil, err
	}
	return thread, nil
}

// ListThreads returns one range of non-archived threads, pinned first.
func (db *DB) ListThreads(ctx context.Context, q store.ThreadQuery) ([]models.Thread, error) {
	where, args := threadWhere(q.Filter)
	order, err := threadOrder(q.Sort)
	if err != nil {
		return nil, err
	}

	query := `SELECT ` + threadColumns + `
		FROM threads t JOIN partners p ON p.id = t.partner_id
		WHERE ` + where + `
		ORDER BY ` + order

	if q.Limit > 0 {
		query += ` LIMIT ? OFFSET ?`
		args = append(args, q.Limit, max(q.Offset, 0))
	}

	rows, err := db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query threads: %w", err)
	}
	defer rows.Close()

	var threads []models.Thread
	for rows.Next() {
		thread, err := scanThread(rows)
		if err != nil {
			return nil, err
		}
		threads = append(threads, *thread)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating threads: %w", err)
	}
	return threads, nil
}

// CountThreads counts the non-archived threads matching the query filter.
func (db *DB) CountThreads(ctx context.Context, q store.ThreadQuery) (int, error) {
	where, args := threadWhere(q.Filter)

	var count int
	err := db.QueryRowContext(ctx, `
		SELECT COUNT(*)
		FROM threads t JOIN partners p ON p.id = t.partner_id
		WHERE `+where, args...).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("failed to count threads: %w", err)
	}
	return count, nil
}

// UpdateThreads applies patch to every id in one statement. Setting IsRead
// also updates the read flag of the threads' messages.
func (db *DB) UpdateThreads(ctx context.Context, ids []string, patch store.ThreadPatch) error {
	if len(ids) == 0 || patch.IsEmpty() {
		return nil
	}

	err := db.mutate(ctx, func(tx *sql.Tx) ([]models.ChangeEvent, error) {
		var sets []string
		var args []any
		if patch.IsRead != nil {
			sets = append(sets, "is_read = ?")
			args = append(args, boolInt(*patch.IsRead))
		}
		if patch.Pinned != nil {
			sets = append(sets, "pinned = ?")
			args = append(args, boolInt(*patch.Pinned))
		}
		if patch.Archived != nil {
			sets = append(sets, "archived = ?")
			args = append(args, boolInt(*patch.Archived))
		}
		idArgs := make([]any, len(ids))
		for i, id := range ids {
			idArgs[i] = id
		}

		result, err := tx.ExecContext(ctx,
			`UPDATE threads SET `+strings.Join(sets, ", ")+` WHERE id IN (`+placeholders(len(ids))+`)`,
			append(args, idArgs...)...)
		if err != nil {
			return nil, fmt.Errorf("failed to update threads: %w", err)
		}
		affected, err := result.RowsAffected()
		if err != nil {
			return nil, fmt.Errorf("failed to read affected rows: %w", err)
		}
		if affected == 0 {
			return nil, store.ErrThreadNotFound
		}

		if patch.IsRead != nil {
			_, err := tx.ExecContext(ctx,
				`UPDATE messages SET is_read = ? WHERE thread_id IN (`+placeholders(len(ids))+`)`,
				append([]any{boolInt(*patch.IsRead)}, idArgs...)...)
			if err != nil {
				return nil, fmt.Errorf("failed to update message read state: %w", err)
			}
		}

		changes := make([]models.ChangeEvent, 0, len(ids))
		for _, id := range ids {
			changes = append(changes, models.ChangeEvent{
				Table:    models.TableThreads,
				Kind:     models.ChangeUpdate,
				RowID:    id,
				ThreadID: id,
			})
		}
		return changes, nil
	})
	if err != nil {
		return &store.MutationError{Op: "update threads", IDs: append([]string(nil), ids...), Err: err}
	}
	return nil
}

func threadWhere(filter models.Filter) (string, []any) {
	clauses := []string{"t.archived = 0"}
	var args []any

	if filter.UrgentOnly {
		clauses = append(clauses, "t.priority = ?")
		args = append(args, string(models.PriorityUrgent))
	}
	if filter.ClientsOnly {
		clauses = append(clauses, "p.role = ?")
		args = append(args, models.RoleClient)
	}
	if filter.PartnersOnly {
		clauses = append(clauses, "p.role = ?")
		args = append(args, models.RolePartner)
	}
	if !filter.DateRange.From.IsZero() {
		clauses = append(clauses, "t.last_message_at >= ?")
		args = append(args, formatTime(filter.DateRange.From))
	}
	if !filter.DateRange.To.IsZero() {
		clauses = append(clauses, "t.last_message_at <= ?")
		args = append(args, formatTime(filter.DateRange.To))
	}

	return strings.Join(clauses, " AND "), args
}

func threadOrder(sort models.Sort) (string, error) {
	sort = sort.Normalize()
	if err := sort.Validate(); err != nil {
		return "", err
	}

	var column string
	switch sort.Field {
	case models.SortByPriority:
		column = priorityRankExpr
	case models.SortByStatus:
		column = "t.status COLLATE NOCASE"
	case models.SortByPartnerName:
		column = "p.name COLLATE NOCASE"
	default:
		column = "t.last_message_at"
	}

	dir := "DESC"
	if sort.Order == models.SortAsc {
		dir = "ASC"
	}
	return fmt.Sprintf("t.pinned DESC, %s %s, t.id ASC", column, dir), nil
}

func scanThread(row rowScanner) (*models.Thread, error) {
	var (
		thread        models.Thread
		priority      string
		lastMessageAt string
		createdAt     string
		pinned        int
		archived      int
		isRead        int
	)

	err := row.Scan(
		&thread.ID,
		&thread.Subject,
		&thread.Partner.Name,
		&thread.Partner.Role,
		&priority,
		&thread.Status,
		&lastMessageAt,
		&pinned,
		&archived,
		&isRead,
		&createdAt,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, err
		}
		return nil, fmt.Errorf("failed to scan thread: %w", err)
	}

	thread.Priority = models.Priority(priority)
	thread.Pinned = pinned != 0
	thread.Archived = archived != 0
	thread.IsRead = isRead != 0
	if thread.LastMessageAt, err = parseTime(lastMessageAt); err != nil {
		return nil, err
	}
	if thread.CreatedAt, err = parseTime(createdAt); err != nil {
		return nil, err
	}
	return &thread, nil
}

// ThreadIDsWithPrefix returns the ids starting with prefix, archived included.
func (db *DB) ThreadIDsWithPrefix(ctx context.Context, prefix string) ([]string, error) {
	escaped := strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`).Replace(prefix)
	rows, err := db.QueryContext(ctx, `
		SELECT id FROM threads WHERE id LIKE ? ESCAPE '\' ORDER BY id
	`, escaped+"%")
	if err != nil {
		return nil, fmt.Errorf("failed to query thread ids: %w", err)
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}
