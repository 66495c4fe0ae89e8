// Package bulk applies one action to many conversations with a single
// batched store mutation, then reconciles the list.
package bulk

import (
	"context"
	"fmt"
	"strings"

	"github.com/rs/zerolog"
	"github.com/tOgg1/threadline/internal/logging"
	"github.com/tOgg1/threadline/internal/metrics"
	"github.com/tOgg1/threadline/internal/models"
	"github.com/tOgg1/threadline/internal/store"
)

// Action is a bulk operation on conversations.
type Action string

const (
	ActionMarkRead   Action = "markRead"
	ActionMarkUnread Action = "markUnread"
	ActionPin        Action = "pin"
	ActionUnpin      Action = "unpin"
	ActionArchive    Action = "archive"
	ActionUnarchive  Action = "unarchive"
)

// Actions lists every supported action.
func Actions() []Action {
	return []Action{ActionMarkRead, ActionMarkUnread, ActionPin, ActionUnpin, ActionArchive, ActionUnarchive}
}

// ParseAction parses an action name case-insensitively. Dashes and
// underscores are accepted ("mark-read", "mark_read").
func ParseAction(value string) (Action, error) {
	key := strings.ToLower(strings.NewReplacer("-", "", "_", "").Replace(strings.TrimSpace(value)))
	for _, action := range Actions() {
		if strings.ToLower(string(action)) == key {
			return action, nil
		}
	}
	return "", fmt.Errorf("unknown bulk action %q", value)
}

// Patch returns the store patch for the action.
func (a Action) Patch() (store.ThreadPatch, error) {
	yes, no := true, false
	switch a {
	case ActionMarkRead:
		return store.ThreadPatch{IsRead: &yes}, nil
	case ActionMarkUnread:
		return store.ThreadPatch{IsRead: &no}, nil
	case ActionPin:
		return store.ThreadPatch{Pinned: &yes}, nil
	case ActionUnpin:
		return store.ThreadPatch{Pinned: &no}, nil
	case ActionArchive:
		return store.ThreadPatch{Archived: &yes}, nil
	case ActionUnarchive:
		return store.ThreadPatch{Archived: &no}, nil
	default:
		return store.ThreadPatch{}, fmt.Errorf("unknown bulk action %q", a)
	}
}

// LocalPatch returns the in-memory equivalent of the action.
func (a Action) LocalPatch() func(*models.Conversation) {
	switch a {
	case ActionMarkRead:
		return func(c *models.Conversation) { c.UnreadCount = 0 }
	case ActionMarkUnread:
		// Only a conversation with a latest message can be unread.
		return func(c *models.Conversation) {
			if c.HasMessages {
				c.UnreadCount = 1
			}
		}
	case ActionPin:
		return func(c *models.Conversation) { c.Pinned = true }
	case ActionUnpin:
		return func(c *models.Conversation) { c.Pinned = false }
	case ActionArchive:
		return func(c *models.Conversation) { c.Archived = true }
	case ActionUnarchive:
		return func(c *models.Conversation) { c.Archived = false }
	default:
		return nil
	}
}

// List is the part of the conversation list the coordinator updates.
type List interface {
	ApplyLocalPatch(ids []string, patch func(*models.Conversation)) int
	Reconcile(ctx context.Context) error
}

// Options configures a Coordinator.
type Options struct {
	// OptimisticFastPath patches the list before the store confirms the
	// mutation. The following reconcile corrects a failed mutation.
	OptimisticFastPath bool

	Metrics *metrics.Recorder
}

// Result describes an applied action.
type Result struct {
	Action Action   `json:"action"`
	IDs    []string `json:"ids"`
	// Patched is how many loaded conversations were patched locally.
	Patched int `json:"patched"`
}

// Coordinator applies bulk actions. Concurrent actions proceed independently.
type Coordinator struct {
	store     store.ThreadMutator
	list      List
	selection *Selection
	opts      Options
	logger    zerolog.Logger
}

// NewCoordinator creates a coordinator. selection may be nil.
func NewCoordinator(mutator store.ThreadMutator, list List, selection *Selection, opts Options) *Coordinator {
	if selection == nil {
		selection = NewSelection()
	}
	return &Coordinator{
		store:     mutator,
		list:      list,
		selection: selection,
		opts:      opts,
		logger:    logging.Component("bulk"),
	}
}

// Selection returns the coordinator's selection set.
func (c *Coordinator) Selection() *Selection {
	return c.selection
}

// ApplySelection applies action to a snapshot of the current selection.
func (c *Coordinator) ApplySelection(ctx context.Context, action Action) (Result, error) {
	return c.Apply(ctx, action, c.selection.IDs())
}

// Apply runs action over ids with one store mutation. The selection is
// cleared and the list reconciled whether or not the mutation succeeds.
// A failed mutation is returned as *store.MutationError; a reconcile
// failure after a successful mutation is returned as is.
func (c *Coordinator) Apply(ctx context.Context, action Action, ids []string) (Result, error) {
	result := Result{Action: action, IDs: dedupe(ids)}
	if len(result.IDs) == 0 {
		return result, nil
	}

	patch, err := action.Patch()
	if err != nil {
		return result, err
	}
	local := action.LocalPatch()

	logger := c.logger.With().Str("action", string(action)).Int("ids", len(result.IDs)).Logger()

	if c.opts.OptimisticFastPath {
		result.Patched = c.list.ApplyLocalPatch(result.IDs, local)
	}

	mutateErr := c.store.UpdateThreads(ctx, result.IDs, patch)
	c.opts.Metrics.ObserveBulk(string(action), mutateErr)
	if mutateErr == nil && !c.opts.OptimisticFastPath {
		result.Patched = c.list.ApplyLocalPatch(result.IDs, local)
	}

	c.selection.Clear()
	reconcileErr := c.list.Reconcile(ctx)

	if mutateErr != nil {
		logger.Warn().Err(mutateErr).Msg("bulk action failed")
		if reconcileErr != nil {
			logger.Warn().Err(reconcileErr).Msg("reconcile after failed bulk action")
		}
		return result, mutateErr
	}
	if reconcileErr != nil {
		logger.Warn().Err(reconcileErr).Msg("reconcile after bulk action")
		return result, fmt.Errorf("reconcile after %s: %w", action, reconcileErr)
	}

	logger.Info().Int("patched", result.Patched).Msg("bulk action applied")
	return result, nil
}

func dedupe(ids []string) []string {
	seen := make(map[string]struct{}, len(ids))
	out := make([]string, 0, len(ids))
	for _, id := range ids {
		id = strings.TrimSpace(id)
		if id == "" {
			continue
		}
		if _, ok := seen[id]; ok {
			continue
		}
		seen[id] = struct{}{}
		out = append(out, id)
	}
	return out
}
