package agent

import (
	"context"
	"time"

	"fabula/internal/types"

	"github.com/google/uuid"
)

type callIDKey struct{}

// withCallID tags a context with the tool call ID currently being executed,
// so mutation tools can stamp the originating call onto the PendingChange.
func withCallID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, callIDKey{}, id)
}

func callIDFrom(ctx context.Context) string {
	if id, ok := ctx.Value(callIDKey{}).(string); ok {
		return id
	}
	return ""
}

// recorder accumulates the PendingChange records produced during one agent
// run and forwards each to the injected sink. Every mutation tool records
// exactly one change per invocation; the recorder never touches persistence.
type recorder struct {
	storyID string
	sink    types.PendingChangeSink
	changes []types.PendingChange
}

func newRecorder(storyID string, sink types.PendingChangeSink) *recorder {
	return &recorder{storyID: storyID, sink: sink}
}

func (r *recorder) record(ctx context.Context, entityType types.EntityType, action types.ChangeAction, entityID string, data, previous map[string]any) types.PendingChange {
	change := types.PendingChange{
		ID:         uuid.NewString(),
		StoryID:    r.storyID,
		ToolCallID: callIDFrom(ctx),
		EntityType: entityType,
		Action:     action,
		EntityID:   entityID,
		Data:       data,
		Previous:   previous,
		Status:     types.StatusPending,
		CreatedAt:  time.Now(),
	}
	r.changes = append(r.changes, change)
	if r.sink != nil {
		r.sink(change)
	}
	return change
}
