// Package types provides shared type definitions used across fabula packages.
// This package exists to break import cycles between the pipeline, agent, and
// store packages. Types in this package should be foundational data structures
// with no complex dependencies.
package types

import (
	"time"
)

// =============================================================================
// STORY & ENTRIES
// =============================================================================

// InjectionMode controls how a lorebook entry is injected into context.
// "keyword" and "relevant" are behaviorally identical (keywords + AI);
// both are kept because stories exported by older versions use either.
type InjectionMode string

const (
	InjectionAlways   InjectionMode = "always"
	InjectionKeyword  InjectionMode = "keyword"
	InjectionRelevant InjectionMode = "relevant"
	InjectionNever    InjectionMode = "never"
)

// StorySettings holds per-story generation preferences the core reads.
type StorySettings struct {
	VisualProse   bool          `json:"visualProse"`
	InjectionMode InjectionMode `json:"injectionMode"`
}

// Story is the root aggregate for one interactive narrative.
type Story struct {
	ID        string        `json:"id"`
	Title     string        `json:"title"`
	Genre     string        `json:"genre,omitempty"`
	Settings  StorySettings `json:"settings"`
	UpdatedAt time.Time     `json:"updatedAt"`
}

// EntryRole distinguishes player actions from narrator output.
type EntryRole string

const (
	RolePlayer   EntryRole = "player"
	RoleNarrator EntryRole = "narrator"
)

// EntryMetadata carries per-entry annotations the core reads.
type EntryMetadata struct {
	StoryTime string `json:"storyTime,omitempty"` // In-world time label, e.g. "Day 3, dusk"
}

// StoryEntry is one unit of story text (a player action or a narrator reply).
type StoryEntry struct {
	ID         string        `json:"id"`
	StoryID    string        `json:"storyId"`
	BranchID   string        `json:"branchId,omitempty"`
	Role       EntryRole     `json:"role"`
	Text       string        `json:"text"`
	TokenCount int           `json:"tokenCount"`
	Timestamp  time.Time     `json:"timestamp"`
	Metadata   EntryMetadata `json:"metadata"`
}

// =============================================================================
// WORLD ENTITIES
// =============================================================================

// CharacterStatus tracks whether a character is present in the active scene.
type CharacterStatus string

const (
	CharacterActive   CharacterStatus = "active"
	CharacterInactive CharacterStatus = "inactive"
	CharacterDead     CharacterStatus = "dead"
)

// Character is a persistent world-model character.
type Character struct {
	ID             string          `json:"id"`
	StoryID        string          `json:"storyId"`
	BranchID       string          `json:"branchId,omitempty"`
	Name           string          `json:"name"`
	Description    string          `json:"description"`
	Traits         []string        `json:"traits,omitempty"`
	Status         CharacterStatus `json:"status"`
	IsProtagonist  bool            `json:"isProtagonist"`
	HiddenFromLore bool            `json:"hiddenFromLore"` // Excluded from lore-management runs
}

// Location is a persistent world-model location.
type Location struct {
	ID             string `json:"id"`
	StoryID        string `json:"storyId"`
	BranchID       string `json:"branchId,omitempty"`
	Name           string `json:"name"`
	Description    string `json:"description"`
	IsCurrent      bool   `json:"isCurrent"`
	Visited        bool   `json:"visited"`
	HiddenFromLore bool   `json:"hiddenFromLore"`
}

// Item is a persistent world-model item.
type Item struct {
	ID             string `json:"id"`
	StoryID        string `json:"storyId"`
	BranchID       string `json:"branchId,omitempty"`
	Name           string `json:"name"`
	Description    string `json:"description"`
	InInventory    bool   `json:"inInventory"`
	HiddenFromLore bool   `json:"hiddenFromLore"`
}

// BeatStatus tracks the lifecycle of a story beat (plot thread).
type BeatStatus string

const (
	BeatActive   BeatStatus = "active"
	BeatPending  BeatStatus = "pending"
	BeatResolved BeatStatus = "resolved"
)

// StoryBeat is an active or pending plot thread.
type StoryBeat struct {
	ID          string     `json:"id"`
	StoryID     string     `json:"storyId"`
	BranchID    string     `json:"branchId,omitempty"`
	Name        string     `json:"name"`
	Description string     `json:"description"`
	Status      BeatStatus `json:"status"`
}

// LorebookEntry is a free-form lore record (faction, legend, rule of magic...).
type LorebookEntry struct {
	ID             string        `json:"id"`
	StoryID        string        `json:"storyId"`
	BranchID       string        `json:"branchId,omitempty"`
	Name           string        `json:"name"`
	Content        string        `json:"content"`
	Keywords       []string      `json:"keywords,omitempty"`
	Category       string        `json:"category,omitempty"`
	InjectionMode  InjectionMode `json:"injectionMode"`
	HiddenFromLore bool          `json:"hiddenFromLore"`
}

// Chapter is a persisted summary covering a contiguous range of story entries.
// Immutable once created except for its text fields.
type Chapter struct {
	ID            string    `json:"id"`
	StoryID       string    `json:"storyId"`
	Number        int       `json:"number"`
	Title         string    `json:"title"`
	StartEntryID  string    `json:"startEntryId"`
	EndEntryID    string    `json:"endEntryId"`
	EntryCount    int       `json:"entryCount"`
	Summary       string    `json:"summary"`
	StartTime     string    `json:"startTime,omitempty"` // In-world time from first entry
	EndTime       string    `json:"endTime,omitempty"`   // In-world time from last entry
	Keywords      []string  `json:"keywords,omitempty"`
	Characters    []string  `json:"characters,omitempty"`
	Locations     []string  `json:"locations,omitempty"`
	PlotThreads   []string  `json:"plotThreads,omitempty"`
	EmotionalTone string    `json:"emotionalTone,omitempty"`
	BranchID      string    `json:"branchId,omitempty"`
	CreatedAt     time.Time `json:"createdAt"`
}

// =============================================================================
// WORLD STATE SNAPSHOT
// =============================================================================

// WorldState is the read-only snapshot of a story's world model used for one
// generation cycle. It is assembled from the persistence layer at the start of
// a cycle and never mutated by the core; entity IDs are unique within a story
// and every entity belongs to the snapshot's branch.
type WorldState struct {
	StoryID         string          `json:"storyId"`
	BranchID        string          `json:"branchId,omitempty"`
	Characters      []Character     `json:"characters"`
	Locations       []Location      `json:"locations"`
	Items           []Item          `json:"items"`
	ActiveQuests    []StoryBeat     `json:"activeQuests"`
	LorebookEntries []LorebookEntry `json:"lorebookEntries"`
	Chapters        []Chapter       `json:"chapters"`
}

// CurrentLocation returns the location flagged as current, or nil.
func (w *WorldState) CurrentLocation() *Location {
	for i := range w.Locations {
		if w.Locations[i].IsCurrent {
			return &w.Locations[i]
		}
	}
	return nil
}

// =============================================================================
// TIERED CONTEXT
// =============================================================================

// EntityType identifies the kind of world entity behind a RelevantEntry.
type EntityType string

const (
	EntityCharacter EntityType = "character"
	EntityLocation  EntityType = "location"
	EntityItem      EntityType = "item"
	EntityBeat      EntityType = "beat"
	EntityLorebook  EntityType = "lorebook"
)

// RelevantEntry is a normalized, tier-tagged view of a world entity produced
// by the context tiering engine. Ephemeral: created per invocation, never
// persisted.
type RelevantEntry struct {
	Type        EntityType        `json:"type"`
	ID          string            `json:"id"`
	Name        string            `json:"name"`
	Description string            `json:"description"`
	Tier        int               `json:"tier"` // 1, 2, or 3
	Priority    int               `json:"priority"`
	Metadata    map[string]string `json:"metadata,omitempty"`
}

// =============================================================================
// GENERATION
// =============================================================================

// GenerationContext is the unit of work passed through pipeline phases.
// Constructed once per user action, threaded through all phases, and
// discarded after the pipeline completes or aborts. Cancellation travels on
// the context.Context given to the pipeline, not on this struct.
type GenerationContext struct {
	Story          *Story
	World          *WorldState
	VisibleEntries []StoryEntry // Entries currently in the model-visible window
	UserAction     string
	CorrelationID  string // Scopes UI-visible streaming output
}

// RetryBackupData is a point-in-time copy of mutable story state captured
// before generation begins, so a failed or unwanted generation can be rolled
// back and retried. Owned by the caller; the pipeline only supplies contents.
type RetryBackupData struct {
	Entries    []StoryEntry `json:"entries"`
	Characters []Character  `json:"characters"`
	Locations  []Location   `json:"locations"`
	Items      []Item       `json:"items"`
	Beats      []StoryBeat  `json:"beats"`
	Images     []string     `json:"images,omitempty"` // Image refs attached to entries
	UserInput  string       `json:"userInput"`
	TakenAt    time.Time    `json:"takenAt"`
}

// =============================================================================
// PENDING CHANGES (agentic mutation protocol)
// =============================================================================

// ChangeAction enumerates the mutations an agent may propose.
type ChangeAction string

const (
	ActionCreate ChangeAction = "create"
	ActionUpdate ChangeAction = "update"
	ActionDelete ChangeAction = "delete"
	ActionMerge  ChangeAction = "merge"
)

// ChangeStatus tracks the review state of a proposed mutation.
type ChangeStatus string

const (
	StatusPending  ChangeStatus = "pending"
	StatusApproved ChangeStatus = "approved"
	StatusRejected ChangeStatus = "rejected"
)

// PendingChange is an inert, human-reviewable record of a proposed mutation
// to persistent world state. Produced exclusively by mutation tools; never
// mutates WorldState directly. Status transitions from pending to a terminal
// state only through an external approval step outside this core.
type PendingChange struct {
	ID         string         `json:"id"`
	StoryID    string         `json:"storyId"`
	ToolCallID string         `json:"toolCallId"`
	EntityType EntityType     `json:"entityType"`
	Action     ChangeAction   `json:"action"`
	EntityID   string         `json:"entityId,omitempty"`
	Data       map[string]any `json:"data,omitempty"`
	Previous   map[string]any `json:"previous,omitempty"`
	Status     ChangeStatus   `json:"status"`
	CreatedAt  time.Time      `json:"createdAt"`
}

// PendingChangeSink receives every PendingChange a mutation tool produces.
// The sink is responsible for surfacing the change for human review and
// later writing it to persistence if approved.
type PendingChangeSink func(change PendingChange)
