package db

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/tOgg1/threadline/internal/models"
	"github.com/tOgg1/threadline/internal/store"
)

const messageColumns = `seq, id, thread_id, sender_id, content, created_at, is_read`

// latestChunkSize keeps IN lists below SQLite's parameter limit.
const latestChunkSize = 500

// InsertMessage appends msg to its thread and bumps the thread's
// last_message_at. ID and CreatedAt are filled in when empty; Seq is set
// from the store.
func (db *DB) InsertMessage(ctx context.Context, msg *models.Message) error {
	if msg == nil {
		return fmt.Errorf("message is required")
	}
	if err := msg.Validate(); err != nil {
		return &store.MutationError{Op: "insert message", IDs: []string{msg.ThreadID}, Err: err}
	}

	if msg.ID == "" {
		msg.ID = uuid.New().String()
	}
	if msg.CreatedAt.IsZero() {
		msg.CreatedAt = time.Now().UTC()
	}

	err := db.mutate(ctx, func(tx *sql.Tx) ([]models.ChangeEvent, error) {
		var exists int
		err := tx.QueryRowContext(ctx, `SELECT 1 FROM threads WHERE id = ?`, msg.ThreadID).Scan(&exists)
		if errors.Is(err, sql.ErrNoRows) {
			return nil, store.ErrThreadNotFound
		}
		if err != nil {
			return nil, fmt.Errorf("failed to look up thread: %w", err)
		}

		result, err := tx.ExecContext(ctx, `
			INSERT INTO messages (id, thread_id, sender_id, content, created_at, is_read)
			VALUES (?, ?, ?, ?, ?, ?)
		`,
			msg.ID,
			msg.ThreadID,
			msg.SenderID,
			msg.Content,
			formatTime(msg.CreatedAt),
			boolInt(msg.IsRead),
		)
		if err != nil {
			return nil, fmt.Errorf("failed to insert message: %w", err)
		}
		seq, err := result.LastInsertId()
		if err != nil {
			return nil, fmt.Errorf("failed to read message seq: %w", err)
		}

		_, err = tx.ExecContext(ctx, `
			UPDATE threads
			SET last_message_at = MAX(last_message_at, ?), is_read = ?
			WHERE id = ?
		`, formatTime(msg.CreatedAt), boolInt(msg.IsRead), msg.ThreadID)
		if err != nil {
			return nil, fmt.Errorf("failed to bump thread: %w", err)
		}

		msg.Seq = seq
		return []models.ChangeEvent{{
			Table:    models.TableMessages,
			Kind:     models.ChangeInsert,
			RowID:    msg.ID,
			ThreadID: msg.ThreadID,
		}}, nil
	})
	if err != nil {
		return &store.MutationError{Op: "insert message", IDs: []string{msg.ThreadID}, Err: err}
	}
	return nil
}

// LatestMessage returns the newest message of a thread, or nil if it has none.
func (db *DB) LatestMessage(ctx context.Context, threadID string) (*models.Message, error) {
	row := db.QueryRowContext(ctx, `
		SELECT `+messageColumns+`
		FROM messages
		WHERE thread_id = ?
		ORDER BY created_at DESC, seq DESC
		LIMIT 1
	`, threadID)

	msg, err := scanMessage(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return msg, nil
}

// LatestMessages returns the newest message of each thread that has one.
func (db *DB) LatestMessages(ctx context.Context, threadIDs []string) (map[string]models.Message, error) {
	latest := make(map[string]models.Message, len(threadIDs))

	for start := 0; start < len(threadIDs); start += latestChunkSize {
		end := min(start+latestChunkSize, len(threadIDs))
		chunk := threadIDs[start:end]

		args := make([]any, len(chunk))
		for i, id := range chunk {
			args[i] = id
		}

		rows, err := db.QueryContext(ctx, `
			SELECT `+messageColumns+`
			FROM messages m
			WHERE m.thread_id IN (`+placeholders(len(chunk))+`)
			AND m.seq = (
				SELECT m2.seq FROM messages m2
				WHERE m2.thread_id = m.thread_id
				ORDER BY m2.created_at DESC, m2.seq DESC
				LIMIT 1
			)
		`, args...)
		if err != nil {
			return nil, fmt.Errorf("failed to query latest messages: %w", err)
		}

		for rows.Next() {
			msg, err := scanMessage(rows)
			if err != nil {
				rows.Close()
				return nil, err
			}
			latest[msg.ThreadID] = *msg
		}
		rows.Close()
		if err := rows.Err(); err != nil {
			return nil, fmt.Errorf("error iterating latest messages: %w", err)
		}
	}

	return latest, nil
}

// ListMessages returns a thread's history ascending by time.
func (db *DB) ListMessages(ctx context.Context, threadID string) ([]models.Message, error) {
	return db.queryMessages(ctx, `
		SELECT `+messageColumns+`
		FROM messages
		WHERE thread_id = ?
		ORDER BY created_at ASC, seq ASC
	`, threadID)
}

// MessagesAfter returns a thread's messages inserted after afterSeq.
func (db *DB) MessagesAfter(ctx context.Context, threadID string, afterSeq int64) ([]models.Message, error) {
	return db.queryMessages(ctx, `
		SELECT `+messageColumns+`
		FROM messages
		WHERE thread_id = ? AND seq > ?
		ORDER BY seq ASC
	`, threadID, afterSeq)
}

func (db *DB) queryMessages(ctx context.Context, query string, args ...any) ([]models.Message, error) {
	rows, err := db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query messages: %w", err)
	}
	defer rows.Close()

	var messages []models.Message
	for rows.Next() {
		msg, err := scanMessage(rows)
		if err != nil {
			return nil, err
		}
		messages = append(messages, *msg)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating messages: %w", err)
	}
	return messages, nil
}

func scanMessage(row rowScanner) (*models.Message, error) {
	var (
		msg       models.Message
		createdAt string
		isRead    int
	)

	err := row.Scan(&msg.Seq, &msg.ID, &msg.ThreadID, &msg.SenderID, &msg.Content, &createdAt, &isRead)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, err
		}
		return nil, fmt.Errorf("failed to scan message: %w", err)
	}

	msg.IsRead = isRead != 0
	if msg.CreatedAt, err = parseTime(createdAt); err != nil {
		return nil, err
	}
	return &msg, nil
}
