package store

import (
	"errors"
	"fmt"
	"path/filepath"
	"testing"
	"time"

	"fabula/internal/types"
)

func newTestStore(t *testing.T) *LocalStore {
	t.Helper()
	s, err := NewLocalStore(filepath.Join(t.TempDir(), "test.db"))
	if err != nil {
		t.Fatalf("NewLocalStore: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func TestStoryRoundTrip(t *testing.T) {
	s := newTestStore(t)

	story := &types.Story{
		ID:    "story-1",
		Title: "The Hollow Crown",
		Genre: "fantasy",
		Settings: types.StorySettings{
			VisualProse:   true,
			InjectionMode: types.InjectionKeyword,
		},
		UpdatedAt: time.Now().UTC(),
	}
	if err := s.SaveStory(story); err != nil {
		t.Fatalf("SaveStory: %v", err)
	}

	got, err := s.GetStory("story-1")
	if err != nil {
		t.Fatalf("GetStory: %v", err)
	}
	if got.Title != story.Title || !got.Settings.VisualProse {
		t.Errorf("round trip mismatch: %+v", got)
	}

	if _, err := s.GetStory("nope"); !errors.Is(err, ErrNotFound) {
		t.Errorf("missing story err = %v, want ErrNotFound", err)
	}
}

func TestEntriesInsertionOrder(t *testing.T) {
	s := newTestStore(t)

	// Timestamps deliberately out of order; insertion order must win.
	base := time.Now()
	for i := 0; i < 5; i++ {
		e := &types.StoryEntry{
			ID:        fmt.Sprintf("e%d", i),
			StoryID:   "s1",
			Role:      types.RolePlayer,
			Text:      fmt.Sprintf("entry %d", i),
			Timestamp: base.Add(-time.Duration(i) * time.Hour),
		}
		if err := s.SaveEntry(e); err != nil {
			t.Fatalf("SaveEntry: %v", err)
		}
	}

	entries, err := s.GetEntries("s1", "")
	if err != nil {
		t.Fatalf("GetEntries: %v", err)
	}
	if len(entries) != 5 {
		t.Fatalf("got %d entries, want 5", len(entries))
	}
	for i, e := range entries {
		if e.ID != fmt.Sprintf("e%d", i) {
			t.Errorf("entry %d = %s, want e%d (insertion order)", i, e.ID, i)
		}
	}
}

func TestEntriesBranchIsolation(t *testing.T) {
	s := newTestStore(t)

	s.SaveEntry(&types.StoryEntry{ID: "main1", StoryID: "s1", BranchID: "", Role: types.RoleNarrator, Text: "a", Timestamp: time.Now()})
	s.SaveEntry(&types.StoryEntry{ID: "alt1", StoryID: "s1", BranchID: "alt", Role: types.RoleNarrator, Text: "b", Timestamp: time.Now()})

	main, _ := s.GetEntries("s1", "")
	alt, _ := s.GetEntries("s1", "alt")
	if len(main) != 1 || main[0].ID != "main1" {
		t.Errorf("main branch leaked: %+v", main)
	}
	if len(alt) != 1 || alt[0].ID != "alt1" {
		t.Errorf("alt branch leaked: %+v", alt)
	}
}

func TestChapterNumbering(t *testing.T) {
	s := newTestStore(t)

	n, err := s.GetNextChapterNumber("s1", "")
	if err != nil || n != 1 {
		t.Fatalf("GetNextChapterNumber empty = %d, %v; want 1, nil", n, err)
	}

	ch := &types.Chapter{
		ID: "ch1", StoryID: "s1", Number: 1, Title: "Arrival",
		StartEntryID: "e0", EndEntryID: "e4", EntryCount: 5,
		Summary:   "The party arrives at the keep.",
		Keywords:  []string{"keep", "arrival"},
		CreatedAt: time.Now(),
	}
	if err := s.SaveChapter(ch); err != nil {
		t.Fatalf("SaveChapter: %v", err)
	}

	n, err = s.GetNextChapterNumber("s1", "")
	if err != nil || n != 2 {
		t.Fatalf("GetNextChapterNumber = %d, %v; want 2, nil", n, err)
	}

	got, err := s.GetChapterByNumber("s1", "", 1)
	if err != nil {
		t.Fatalf("GetChapterByNumber: %v", err)
	}
	if got.Title != "Arrival" || len(got.Keywords) != 2 {
		t.Errorf("chapter mismatch: %+v", got)
	}

	// Chapter numbers are per-branch
	n, _ = s.GetNextChapterNumber("s1", "alt")
	if n != 1 {
		t.Errorf("alt branch next number = %d, want 1", n)
	}
}

func TestWorldStateAssembly(t *testing.T) {
	s := newTestStore(t)

	s.SaveCharacter(&types.Character{ID: "c1", StoryID: "s1", Name: "Mira", Status: types.CharacterActive, Traits: []string{"stubborn"}})
	s.SaveLocation(&types.Location{ID: "l1", StoryID: "s1", Name: "The Keep", IsCurrent: true})
	s.SaveItem(&types.Item{ID: "i1", StoryID: "s1", Name: "Iron Key", InInventory: true})
	s.SaveBeat(&types.StoryBeat{ID: "b1", StoryID: "s1", Name: "Find the heir", Status: types.BeatActive})
	s.SaveBeat(&types.StoryBeat{ID: "b2", StoryID: "s1", Name: "Old grudge", Status: types.BeatResolved})
	s.SaveLorebookEntry(&types.LorebookEntry{ID: "lb1", StoryID: "s1", Name: "The Pact", InjectionMode: types.InjectionAlways})

	world, err := s.LoadWorldState("s1", "")
	if err != nil {
		t.Fatalf("LoadWorldState: %v", err)
	}

	if len(world.Characters) != 1 || world.Characters[0].Traits[0] != "stubborn" {
		t.Errorf("characters: %+v", world.Characters)
	}
	if loc := world.CurrentLocation(); loc == nil || loc.Name != "The Keep" {
		t.Errorf("current location: %+v", loc)
	}
	// Resolved beats are not active quests
	if len(world.ActiveQuests) != 1 || world.ActiveQuests[0].ID != "b1" {
		t.Errorf("active quests: %+v", world.ActiveQuests)
	}
}

func TestPendingChangeRoundTrip(t *testing.T) {
	s := newTestStore(t)

	pc := &types.PendingChange{
		ID:         "pc1",
		StoryID:    "s1",
		ToolCallID: "call_0",
		EntityType: types.EntityCharacter,
		Action:     types.ActionUpdate,
		EntityID:   "c1",
		Data:       map[string]any{"status": "dead"},
		Previous:   map[string]any{"status": "active"},
		Status:     types.StatusPending,
	}
	if err := s.SavePendingChange(pc); err != nil {
		t.Fatalf("SavePendingChange: %v", err)
	}

	changes, err := s.GetPendingChanges("s1")
	if err != nil {
		t.Fatalf("GetPendingChanges: %v", err)
	}
	if len(changes) != 1 {
		t.Fatalf("got %d changes, want 1", len(changes))
	}
	got := changes[0]
	if got.Action != types.ActionUpdate || got.Data["status"] != "dead" || got.Previous["status"] != "active" {
		t.Errorf("pending change mismatch: %+v", got)
	}
}

func TestSaveIsUpsert(t *testing.T) {
	s := newTestStore(t)

	c := &types.Character{ID: "c1", StoryID: "s1", Name: "Mira", Status: types.CharacterActive}
	s.SaveCharacter(c)
	c.Status = types.CharacterDead
	s.SaveCharacter(c)

	chars, _ := s.GetCharacters("s1", "")
	if len(chars) != 1 || chars[0].Status != types.CharacterDead {
		t.Errorf("upsert failed: %+v", chars)
	}
}
