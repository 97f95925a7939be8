package store

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"fabula/internal/logging"
	"fabula/internal/types"

	_ "github.com/mattn/go-sqlite3"
)

// LocalStore implements Persistence on a local SQLite database.
type LocalStore struct {
	db     *sql.DB
	dbPath string
}

// NewLocalStore initializes the SQLite database at the given path.
func NewLocalStore(path string) (*LocalStore, error) {
	timer := logging.StartTimer(logging.CategoryStore, "NewLocalStore")
	defer timer.Stop()

	logging.Store("Initializing LocalStore at path: %s", path)

	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create directory: %w", err)
	}

	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	if _, err := db.Exec("PRAGMA busy_timeout = 5000"); err != nil {
		logging.StoreDebug("Failed to set sqlite busy_timeout: %v", err)
	}
	if _, err := db.Exec("PRAGMA journal_mode = WAL"); err != nil {
		logging.StoreDebug("Failed to set sqlite journal_mode=WAL: %v", err)
	}
	if _, err := db.Exec("PRAGMA synchronous = NORMAL"); err != nil {
		logging.StoreDebug("Failed to set sqlite synchronous=NORMAL: %v", err)
	}

	s := &LocalStore{db: db, dbPath: path}
	if err := s.initialize(); err != nil {
		db.Close()
		return nil, err
	}

	logging.Store("LocalStore ready")
	return s, nil
}

// initialize creates the required tables.
func (s *LocalStore) initialize() error {
	for _, stmt := range schemaStatements {
		if _, err := s.db.Exec(stmt); err != nil {
			return fmt.Errorf("failed to apply schema: %w", err)
		}
	}
	return nil
}

// Close closes the database.
func (s *LocalStore) Close() error {
	return s.db.Close()
}

// =============================================================================
// STORIES
// =============================================================================

func (s *LocalStore) SaveStory(story *types.Story) error {
	settings, err := json.Marshal(story.Settings)
	if err != nil {
		return fmt.Errorf("failed to marshal settings: %w", err)
	}
	_, err = s.db.Exec(`
		INSERT INTO stories (id, title, genre, settings, updated_at)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			title = excluded.title,
			genre = excluded.genre,
			settings = excluded.settings,
			updated_at = excluded.updated_at`,
		story.ID, story.Title, story.Genre, string(settings), story.UpdatedAt)
	return err
}

func (s *LocalStore) GetStory(storyID string) (*types.Story, error) {
	var story types.Story
	var settings string
	err := s.db.QueryRow(
		`SELECT id, title, genre, settings, updated_at FROM stories WHERE id = ?`, storyID).
		Scan(&story.ID, &story.Title, &story.Genre, &settings, &story.UpdatedAt)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	if settings != "" {
		if err := json.Unmarshal([]byte(settings), &story.Settings); err != nil {
			logging.Get(logging.CategoryStore).Warn("story %s has corrupt settings: %v", storyID, err)
		}
	}
	return &story, nil
}

func (s *LocalStore) ListStories() ([]types.Story, error) {
	rows, err := s.db.Query(`SELECT id, title, genre, settings, updated_at FROM stories ORDER BY updated_at DESC`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var stories []types.Story
	for rows.Next() {
		var story types.Story
		var settings string
		if err := rows.Scan(&story.ID, &story.Title, &story.Genre, &settings, &story.UpdatedAt); err != nil {
			return nil, err
		}
		if settings != "" {
			json.Unmarshal([]byte(settings), &story.Settings)
		}
		stories = append(stories, story)
	}
	return stories, rows.Err()
}

// =============================================================================
// ENTRIES
// =============================================================================

func (s *LocalStore) SaveEntry(entry *types.StoryEntry) error {
	_, err := s.db.Exec(`
		INSERT INTO entries (id, story_id, branch_id, role, text, token_count, timestamp, story_time)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			text = excluded.text,
			token_count = excluded.token_count,
			story_time = excluded.story_time`,
		entry.ID, entry.StoryID, entry.BranchID, string(entry.Role), entry.Text,
		entry.TokenCount, entry.Timestamp, entry.Metadata.StoryTime)
	return err
}

// GetEntries returns all entries for a story branch in insertion order.
func (s *LocalStore) GetEntries(storyID, branchID string) ([]types.StoryEntry, error) {
	rows, err := s.db.Query(`
		SELECT id, story_id, branch_id, role, text, token_count, timestamp, COALESCE(story_time, '')
		FROM entries WHERE story_id = ? AND branch_id = ?
		ORDER BY seq ASC`, storyID, branchID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var entries []types.StoryEntry
	for rows.Next() {
		var e types.StoryEntry
		var role string
		if err := rows.Scan(&e.ID, &e.StoryID, &e.BranchID, &role, &e.Text,
			&e.TokenCount, &e.Timestamp, &e.Metadata.StoryTime); err != nil {
			return nil, err
		}
		e.Role = types.EntryRole(role)
		entries = append(entries, e)
	}
	return entries, rows.Err()
}

func (s *LocalStore) DeleteEntry(entryID string) error {
	res, err := s.db.Exec(`DELETE FROM entries WHERE id = ?`, entryID)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

// =============================================================================
// CHAPTERS
// =============================================================================

func (s *LocalStore) SaveChapter(ch *types.Chapter) error {
	keywords := marshalStrings(ch.Keywords)
	characters := marshalStrings(ch.Characters)
	locations := marshalStrings(ch.Locations)
	threads := marshalStrings(ch.PlotThreads)

	_, err := s.db.Exec(`
		INSERT INTO chapters (id, story_id, branch_id, number, title, start_entry_id, end_entry_id,
			entry_count, summary, start_time, end_time, keywords, characters, locations,
			plot_threads, emotional_tone, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			title = excluded.title,
			summary = excluded.summary,
			keywords = excluded.keywords,
			emotional_tone = excluded.emotional_tone`,
		ch.ID, ch.StoryID, ch.BranchID, ch.Number, ch.Title, ch.StartEntryID, ch.EndEntryID,
		ch.EntryCount, ch.Summary, ch.StartTime, ch.EndTime, keywords, characters, locations,
		threads, ch.EmotionalTone, ch.CreatedAt)
	return err
}

func (s *LocalStore) GetChapters(storyID, branchID string) ([]types.Chapter, error) {
	rows, err := s.db.Query(`
		SELECT id, story_id, branch_id, number, title, start_entry_id, end_entry_id,
			entry_count, summary, COALESCE(start_time,''), COALESCE(end_time,''),
			COALESCE(keywords,''), COALESCE(characters,''), COALESCE(locations,''),
			COALESCE(plot_threads,''), COALESCE(emotional_tone,''), created_at
		FROM chapters WHERE story_id = ? AND branch_id = ?
		ORDER BY number ASC`, storyID, branchID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var chapters []types.Chapter
	for rows.Next() {
		ch, err := scanChapter(rows)
		if err != nil {
			return nil, err
		}
		chapters = append(chapters, *ch)
	}
	return chapters, rows.Err()
}

func (s *LocalStore) GetChapterByNumber(storyID, branchID string, number int) (*types.Chapter, error) {
	row := s.db.QueryRow(`
		SELECT id, story_id, branch_id, number, title, start_entry_id, end_entry_id,
			entry_count, summary, COALESCE(start_time,''), COALESCE(end_time,''),
			COALESCE(keywords,''), COALESCE(characters,''), COALESCE(locations,''),
			COALESCE(plot_threads,''), COALESCE(emotional_tone,''), created_at
		FROM chapters WHERE story_id = ? AND branch_id = ? AND number = ?`,
		storyID, branchID, number)
	ch, err := scanChapter(row)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	return ch, err
}

// GetNextChapterNumber returns max(number)+1 for the story branch, starting at 1.
func (s *LocalStore) GetNextChapterNumber(storyID, branchID string) (int, error) {
	var max sql.NullInt64
	err := s.db.QueryRow(`SELECT MAX(number) FROM chapters WHERE story_id = ? AND branch_id = ?`,
		storyID, branchID).Scan(&max)
	if err != nil {
		return 0, err
	}
	if !max.Valid {
		return 1, nil
	}
	return int(max.Int64) + 1, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanChapter(row rowScanner) (*types.Chapter, error) {
	var ch types.Chapter
	var keywords, characters, locations, threads string
	err := row.Scan(&ch.ID, &ch.StoryID, &ch.BranchID, &ch.Number, &ch.Title,
		&ch.StartEntryID, &ch.EndEntryID, &ch.EntryCount, &ch.Summary,
		&ch.StartTime, &ch.EndTime, &keywords, &characters, &locations,
		&threads, &ch.EmotionalTone, &ch.CreatedAt)
	if err != nil {
		return nil, err
	}
	ch.Keywords = unmarshalStrings(keywords)
	ch.Characters = unmarshalStrings(characters)
	ch.Locations = unmarshalStrings(locations)
	ch.PlotThreads = unmarshalStrings(threads)
	return &ch, nil
}

// =============================================================================
// WORLD ENTITIES
// =============================================================================

func (s *LocalStore) SaveCharacter(c *types.Character) error {
	_, err := s.db.Exec(`
		INSERT INTO characters (id, story_id, branch_id, name, description, traits, status, is_protagonist, hidden_from_lore)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			name = excluded.name,
			description = excluded.description,
			traits = excluded.traits,
			status = excluded.status,
			is_protagonist = excluded.is_protagonist,
			hidden_from_lore = excluded.hidden_from_lore`,
		c.ID, c.StoryID, c.BranchID, c.Name, c.Description, marshalStrings(c.Traits),
		string(c.Status), c.IsProtagonist, c.HiddenFromLore)
	return err
}

func (s *LocalStore) GetCharacters(storyID, branchID string) ([]types.Character, error) {
	rows, err := s.db.Query(`
		SELECT id, story_id, branch_id, name, COALESCE(description,''), COALESCE(traits,''),
			status, is_protagonist, hidden_from_lore
		FROM characters WHERE story_id = ? AND branch_id = ? ORDER BY name ASC`, storyID, branchID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []types.Character
	for rows.Next() {
		var c types.Character
		var traits, status string
		if err := rows.Scan(&c.ID, &c.StoryID, &c.BranchID, &c.Name, &c.Description,
			&traits, &status, &c.IsProtagonist, &c.HiddenFromLore); err != nil {
			return nil, err
		}
		c.Traits = unmarshalStrings(traits)
		c.Status = types.CharacterStatus(status)
		out = append(out, c)
	}
	return out, rows.Err()
}

func (s *LocalStore) SaveLocation(l *types.Location) error {
	_, err := s.db.Exec(`
		INSERT INTO locations (id, story_id, branch_id, name, description, is_current, visited, hidden_from_lore)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			name = excluded.name,
			description = excluded.description,
			is_current = excluded.is_current,
			visited = excluded.visited,
			hidden_from_lore = excluded.hidden_from_lore`,
		l.ID, l.StoryID, l.BranchID, l.Name, l.Description, l.IsCurrent, l.Visited, l.HiddenFromLore)
	return err
}

func (s *LocalStore) GetLocations(storyID, branchID string) ([]types.Location, error) {
	rows, err := s.db.Query(`
		SELECT id, story_id, branch_id, name, COALESCE(description,''), is_current, visited, hidden_from_lore
		FROM locations WHERE story_id = ? AND branch_id = ? ORDER BY name ASC`, storyID, branchID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []types.Location
	for rows.Next() {
		var l types.Location
		if err := rows.Scan(&l.ID, &l.StoryID, &l.BranchID, &l.Name, &l.Description,
			&l.IsCurrent, &l.Visited, &l.HiddenFromLore); err != nil {
			return nil, err
		}
		out = append(out, l)
	}
	return out, rows.Err()
}

func (s *LocalStore) SaveItem(i *types.Item) error {
	_, err := s.db.Exec(`
		INSERT INTO items (id, story_id, branch_id, name, description, in_inventory, hidden_from_lore)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			name = excluded.name,
			description = excluded.description,
			in_inventory = excluded.in_inventory,
			hidden_from_lore = excluded.hidden_from_lore`,
		i.ID, i.StoryID, i.BranchID, i.Name, i.Description, i.InInventory, i.HiddenFromLore)
	return err
}

func (s *LocalStore) GetItems(storyID, branchID string) ([]types.Item, error) {
	rows, err := s.db.Query(`
		SELECT id, story_id, branch_id, name, COALESCE(description,''), in_inventory, hidden_from_lore
		FROM items WHERE story_id = ? AND branch_id = ? ORDER BY name ASC`, storyID, branchID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []types.Item
	for rows.Next() {
		var i types.Item
		if err := rows.Scan(&i.ID, &i.StoryID, &i.BranchID, &i.Name, &i.Description,
			&i.InInventory, &i.HiddenFromLore); err != nil {
			return nil, err
		}
		out = append(out, i)
	}
	return out, rows.Err()
}

func (s *LocalStore) SaveBeat(b *types.StoryBeat) error {
	_, err := s.db.Exec(`
		INSERT INTO beats (id, story_id, branch_id, name, description, status)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			name = excluded.name,
			description = excluded.description,
			status = excluded.status`,
		b.ID, b.StoryID, b.BranchID, b.Name, b.Description, string(b.Status))
	return err
}

func (s *LocalStore) GetBeats(storyID, branchID string) ([]types.StoryBeat, error) {
	rows, err := s.db.Query(`
		SELECT id, story_id, branch_id, name, COALESCE(description,''), status
		FROM beats WHERE story_id = ? AND branch_id = ? ORDER BY name ASC`, storyID, branchID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []types.StoryBeat
	for rows.Next() {
		var b types.StoryBeat
		var status string
		if err := rows.Scan(&b.ID, &b.StoryID, &b.BranchID, &b.Name, &b.Description, &status); err != nil {
			return nil, err
		}
		b.Status = types.BeatStatus(status)
		out = append(out, b)
	}
	return out, rows.Err()
}

func (s *LocalStore) SaveLorebookEntry(e *types.LorebookEntry) error {
	_, err := s.db.Exec(`
		INSERT INTO lorebook (id, story_id, branch_id, name, content, keywords, category, injection_mode, hidden_from_lore)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			name = excluded.name,
			content = excluded.content,
			keywords = excluded.keywords,
			category = excluded.category,
			injection_mode = excluded.injection_mode,
			hidden_from_lore = excluded.hidden_from_lore`,
		e.ID, e.StoryID, e.BranchID, e.Name, e.Content, marshalStrings(e.Keywords),
		e.Category, string(e.InjectionMode), e.HiddenFromLore)
	return err
}

func (s *LocalStore) GetLorebookEntries(storyID, branchID string) ([]types.LorebookEntry, error) {
	rows, err := s.db.Query(`
		SELECT id, story_id, branch_id, name, COALESCE(content,''), COALESCE(keywords,''),
			COALESCE(category,''), injection_mode, hidden_from_lore
		FROM lorebook WHERE story_id = ? AND branch_id = ? ORDER BY name ASC`, storyID, branchID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []types.LorebookEntry
	for rows.Next() {
		var e types.LorebookEntry
		var keywords, mode string
		if err := rows.Scan(&e.ID, &e.StoryID, &e.BranchID, &e.Name, &e.Content,
			&keywords, &e.Category, &mode, &e.HiddenFromLore); err != nil {
			return nil, err
		}
		e.Keywords = unmarshalStrings(keywords)
		e.InjectionMode = types.InjectionMode(mode)
		out = append(out, e)
	}
	return out, rows.Err()
}

// =============================================================================
// PENDING CHANGES
// =============================================================================

func (s *LocalStore) SavePendingChange(pc *types.PendingChange) error {
	data, err := json.Marshal(pc.Data)
	if err != nil {
		return fmt.Errorf("failed to marshal change data: %w", err)
	}
	previous, err := json.Marshal(pc.Previous)
	if err != nil {
		return fmt.Errorf("failed to marshal change previous: %w", err)
	}
	if pc.CreatedAt.IsZero() {
		pc.CreatedAt = time.Now()
	}
	_, err = s.db.Exec(`
		INSERT INTO pending_changes (id, story_id, tool_call_id, entity_type, action, entity_id, data, previous, status, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET status = excluded.status`,
		pc.ID, pc.StoryID, pc.ToolCallID, string(pc.EntityType), string(pc.Action),
		pc.EntityID, string(data), string(previous), string(pc.Status), pc.CreatedAt)
	return err
}

func (s *LocalStore) GetPendingChanges(storyID string) ([]types.PendingChange, error) {
	rows, err := s.db.Query(`
		SELECT id, story_id, COALESCE(tool_call_id,''), entity_type, action, COALESCE(entity_id,''),
			COALESCE(data,''), COALESCE(previous,''), status, created_at
		FROM pending_changes WHERE story_id = ? ORDER BY created_at ASC`, storyID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []types.PendingChange
	for rows.Next() {
		var pc types.PendingChange
		var entityType, action, status, data, previous string
		if err := rows.Scan(&pc.ID, &pc.StoryID, &pc.ToolCallID, &entityType, &action,
			&pc.EntityID, &data, &previous, &status, &pc.CreatedAt); err != nil {
			return nil, err
		}
		pc.EntityType = types.EntityType(entityType)
		pc.Action = types.ChangeAction(action)
		pc.Status = types.ChangeStatus(status)
		if data != "" {
			json.Unmarshal([]byte(data), &pc.Data)
		}
		if previous != "" {
			json.Unmarshal([]byte(previous), &pc.Previous)
		}
		out = append(out, pc)
	}
	return out, rows.Err()
}

// =============================================================================
// WORLD STATE
// =============================================================================

// LoadWorldState assembles the read-only world snapshot for one generation cycle.
func (s *LocalStore) LoadWorldState(storyID, branchID string) (*types.WorldState, error) {
	timer := logging.StartTimer(logging.CategoryStore, "LoadWorldState")
	defer timer.Stop()

	characters, err := s.GetCharacters(storyID, branchID)
	if err != nil {
		return nil, fmt.Errorf("failed to load characters: %w", err)
	}
	locations, err := s.GetLocations(storyID, branchID)
	if err != nil {
		return nil, fmt.Errorf("failed to load locations: %w", err)
	}
	items, err := s.GetItems(storyID, branchID)
	if err != nil {
		return nil, fmt.Errorf("failed to load items: %w", err)
	}
	beats, err := s.GetBeats(storyID, branchID)
	if err != nil {
		return nil, fmt.Errorf("failed to load beats: %w", err)
	}
	lorebook, err := s.GetLorebookEntries(storyID, branchID)
	if err != nil {
		return nil, fmt.Errorf("failed to load lorebook: %w", err)
	}
	chapters, err := s.GetChapters(storyID, branchID)
	if err != nil {
		return nil, fmt.Errorf("failed to load chapters: %w", err)
	}

	active := make([]types.StoryBeat, 0, len(beats))
	for _, b := range beats {
		if b.Status == types.BeatActive || b.Status == types.BeatPending {
			active = append(active, b)
		}
	}

	return &types.WorldState{
		StoryID:         storyID,
		BranchID:        branchID,
		Characters:      characters,
		Locations:       locations,
		Items:           items,
		ActiveQuests:    active,
		LorebookEntries: lorebook,
		Chapters:        chapters,
	}, nil
}

// =============================================================================
// HELPERS
// =============================================================================

func marshalStrings(v []string) string {
	if len(v) == 0 {
		return ""
	}
	data, err := json.Marshal(v)
	if err != nil {
		return ""
	}
	return string(data)
}

func unmarshalStrings(s string) []string {
	if s == "" {
		return nil
	}
	var out []string
	if err := json.Unmarshal([]byte(s), &out); err != nil {
		return nil
	}
	return out
}
