package pipeline

import (
	"time"

	"fabula/internal/types"
)

// buildRetryBackup captures a point-in-time copy of mutable story state so a
// failed or unwanted generation can be rolled back. The caller owns the
// backup and decides whether to persist it as the retry point.
func buildRetryBackup(entries []types.StoryEntry, world *types.WorldState, userInput string) *types.RetryBackupData {
	backup := &types.RetryBackupData{
		Entries:    make([]types.StoryEntry, len(entries)),
		Characters: make([]types.Character, len(world.Characters)),
		Locations:  make([]types.Location, len(world.Locations)),
		Items:      make([]types.Item, len(world.Items)),
		Beats:      make([]types.StoryBeat, len(world.ActiveQuests)),
		UserInput:  userInput,
		TakenAt:    time.Now(),
	}
	copy(backup.Entries, entries)
	copy(backup.Characters, world.Characters)
	copy(backup.Locations, world.Locations)
	copy(backup.Items, world.Items)
	copy(backup.Beats, world.ActiveQuests)
	return backup
}
