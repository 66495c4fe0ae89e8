package cli

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"strings"

	"github.com/tOgg1/threadline/internal/config"
	"github.com/tOgg1/threadline/internal/db"
	"github.com/tOgg1/threadline/internal/models"
	"github.com/tOgg1/threadline/internal/store"
)

const maxSuggestions = 5

func shortID(id string) string {
	const limit = 8
	if len(id) <= limit {
		return id
	}
	return id[:limit]
}

// resolveThread picks the explicit id or the session's open thread.
func resolveThread(args []string, session *config.Session) (string, error) {
	if len(args) > 0 && strings.TrimSpace(args[0]) != "" {
		return strings.TrimSpace(args[0]), nil
	}
	if session.OpenThread != "" {
		return session.OpenThread, nil
	}
	return "", errors.New("no thread given and none opened before")
}

// findThread looks a thread up by full id, falling back to a unique id prefix.
func findThread(ctx context.Context, database *db.DB, idOrPrefix string) (*models.Thread, error) {
	idOrPrefix = strings.TrimSpace(idOrPrefix)
	if idOrPrefix == "" {
		return nil, errors.New("thread ID required")
	}

	thread, err := database.GetThread(ctx, idOrPrefix)
	if err == nil {
		return thread, nil
	}
	if !errors.Is(err, store.ErrThreadNotFound) {
		return nil, fmt.Errorf("failed to get thread: %w", err)
	}

	matches, err := database.ThreadIDsWithPrefix(ctx, idOrPrefix)
	if err != nil {
		return nil, err
	}
	switch len(matches) {
	case 0:
		return nil, fmt.Errorf("thread '%s' not found", idOrPrefix)
	case 1:
		return database.GetThread(ctx, matches[0])
	default:
		return nil, fmt.Errorf("thread '%s' is ambiguous; matches: %s (use a longer prefix or full ID)", idOrPrefix, formatMatchList(matches))
	}
}

// findThreads resolves every argument, keeping the input order.
func findThreads(ctx context.Context, database *db.DB, args []string) ([]string, error) {
	ids := make([]string, 0, len(args))
	for _, arg := range args {
		thread, err := findThread(ctx, database, arg)
		if err != nil {
			return nil, err
		}
		ids = append(ids, thread.ID)
	}
	return ids, nil
}

// matchSelected resolves each argument against the saved selection, by full
// id or unique prefix.
func matchSelected(selection []string, args []string) ([]string, error) {
	ids := make([]string, 0, len(args))
	for _, arg := range args {
		arg = strings.TrimSpace(arg)
		if arg == "" {
			continue
		}
		if slices.Contains(selection, arg) {
			ids = append(ids, arg)
			continue
		}

		var matches []string
		for _, id := range selection {
			if strings.HasPrefix(id, arg) {
				matches = append(matches, id)
			}
		}
		switch len(matches) {
		case 0:
			return nil, fmt.Errorf("thread '%s' is not selected", arg)
		case 1:
			ids = append(ids, matches[0])
		default:
			slices.Sort(matches)
			return nil, fmt.Errorf("thread '%s' is ambiguous; matches: %s (use a longer prefix or full ID)", arg, formatMatchList(matches))
		}
	}
	return ids, nil
}

func formatMatchList(ids []string) string {
	if len(ids) == 0 {
		return "none"
	}

	limit := min(len(ids), maxSuggestions)
	parts := make([]string, 0, limit+1)
	for _, id := range ids[:limit] {
		parts = append(parts, shortID(id))
	}
	if len(ids) > maxSuggestions {
		parts = append(parts, fmt.Sprintf("... and %d more", len(ids)-maxSuggestions))
	}
	return strings.Join(parts, ", ")
}
