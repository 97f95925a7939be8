// Package store provides SQLite-backed persistence for stories, entries,
// chapters, and the world model.
package store

import (
	"errors"

	"fabula/internal/types"
)

// ErrNotFound is returned when a requested record does not exist.
var ErrNotFound = errors.New("store: record not found")

// Persistence is the storage interface the narrative core depends on.
// Implementations must return entries in insertion order and keep chapter
// numbers dense per (story, branch).
type Persistence interface {
	// Stories
	SaveStory(story *types.Story) error
	GetStory(storyID string) (*types.Story, error)
	ListStories() ([]types.Story, error)

	// Entries. GetEntries returns insertion order (oldest first).
	SaveEntry(entry *types.StoryEntry) error
	GetEntries(storyID, branchID string) ([]types.StoryEntry, error)
	DeleteEntry(entryID string) error

	// Chapters. GetChapters returns ascending chapter number.
	SaveChapter(chapter *types.Chapter) error
	GetChapters(storyID, branchID string) ([]types.Chapter, error)
	GetChapterByNumber(storyID, branchID string, number int) (*types.Chapter, error)
	GetNextChapterNumber(storyID, branchID string) (int, error)

	// World entities
	SaveCharacter(c *types.Character) error
	GetCharacters(storyID, branchID string) ([]types.Character, error)
	SaveLocation(l *types.Location) error
	GetLocations(storyID, branchID string) ([]types.Location, error)
	SaveItem(i *types.Item) error
	GetItems(storyID, branchID string) ([]types.Item, error)
	SaveBeat(b *types.StoryBeat) error
	GetBeats(storyID, branchID string) ([]types.StoryBeat, error)
	SaveLorebookEntry(e *types.LorebookEntry) error
	GetLorebookEntries(storyID, branchID string) ([]types.LorebookEntry, error)

	// Pending changes from agentic runs
	SavePendingChange(pc *types.PendingChange) error
	GetPendingChanges(storyID string) ([]types.PendingChange, error)

	// LoadWorldState assembles a read-only world snapshot for one cycle.
	LoadWorldState(storyID, branchID string) (*types.WorldState, error)

	Close() error
}
