package store

// Schema statements executed at startup. Everything is idempotent so opening
// an existing database is safe.
var schemaStatements = []string{
	`CREATE TABLE IF NOT EXISTS stories (
		id TEXT PRIMARY KEY,
		title TEXT NOT NULL,
		genre TEXT,
		settings TEXT,
		updated_at DATETIME NOT NULL
	);`,

	`CREATE TABLE IF NOT EXISTS entries (
		seq INTEGER PRIMARY KEY AUTOINCREMENT,
		id TEXT UNIQUE NOT NULL,
		story_id TEXT NOT NULL,
		branch_id TEXT NOT NULL DEFAULT '',
		role TEXT NOT NULL,
		text TEXT NOT NULL,
		token_count INTEGER NOT NULL DEFAULT 0,
		timestamp DATETIME NOT NULL,
		story_time TEXT
	);`,
	`CREATE INDEX IF NOT EXISTS idx_entries_story ON entries(story_id, branch_id);`,

	`CREATE TABLE IF NOT EXISTS chapters (
		id TEXT PRIMARY KEY,
		story_id TEXT NOT NULL,
		branch_id TEXT NOT NULL DEFAULT '',
		number INTEGER NOT NULL,
		title TEXT NOT NULL,
		start_entry_id TEXT NOT NULL,
		end_entry_id TEXT NOT NULL,
		entry_count INTEGER NOT NULL,
		summary TEXT NOT NULL,
		start_time TEXT,
		end_time TEXT,
		keywords TEXT,
		characters TEXT,
		locations TEXT,
		plot_threads TEXT,
		emotional_tone TEXT,
		created_at DATETIME NOT NULL,
		UNIQUE(story_id, branch_id, number)
	);`,
	`CREATE INDEX IF NOT EXISTS idx_chapters_story ON chapters(story_id, branch_id);`,

	`CREATE TABLE IF NOT EXISTS characters (
		id TEXT PRIMARY KEY,
		story_id TEXT NOT NULL,
		branch_id TEXT NOT NULL DEFAULT '',
		name TEXT NOT NULL,
		description TEXT,
		traits TEXT,
		status TEXT NOT NULL DEFAULT 'inactive',
		is_protagonist INTEGER NOT NULL DEFAULT 0,
		hidden_from_lore INTEGER NOT NULL DEFAULT 0
	);`,
	`CREATE INDEX IF NOT EXISTS idx_characters_story ON characters(story_id, branch_id);`,

	`CREATE TABLE IF NOT EXISTS locations (
		id TEXT PRIMARY KEY,
		story_id TEXT NOT NULL,
		branch_id TEXT NOT NULL DEFAULT '',
		name TEXT NOT NULL,
		description TEXT,
		is_current INTEGER NOT NULL DEFAULT 0,
		visited INTEGER NOT NULL DEFAULT 0,
		hidden_from_lore INTEGER NOT NULL DEFAULT 0
	);`,
	`CREATE INDEX IF NOT EXISTS idx_locations_story ON locations(story_id, branch_id);`,

	`CREATE TABLE IF NOT EXISTS items (
		id TEXT PRIMARY KEY,
		story_id TEXT NOT NULL,
		branch_id TEXT NOT NULL DEFAULT '',
		name TEXT NOT NULL,
		description TEXT,
		in_inventory INTEGER NOT NULL DEFAULT 0,
		hidden_from_lore INTEGER NOT NULL DEFAULT 0
	);`,
	`CREATE INDEX IF NOT EXISTS idx_items_story ON items(story_id, branch_id);`,

	`CREATE TABLE IF NOT EXISTS beats (
		id TEXT PRIMARY KEY,
		story_id TEXT NOT NULL,
		branch_id TEXT NOT NULL DEFAULT '',
		name TEXT NOT NULL,
		description TEXT,
		status TEXT NOT NULL DEFAULT 'pending'
	);`,
	`CREATE INDEX IF NOT EXISTS idx_beats_story ON beats(story_id, branch_id);`,

	`CREATE TABLE IF NOT EXISTS lorebook (
		id TEXT PRIMARY KEY,
		story_id TEXT NOT NULL,
		branch_id TEXT NOT NULL DEFAULT '',
		name TEXT NOT NULL,
		content TEXT,
		keywords TEXT,
		category TEXT,
		injection_mode TEXT NOT NULL DEFAULT 'keyword',
		hidden_from_lore INTEGER NOT NULL DEFAULT 0
	);`,
	`CREATE INDEX IF NOT EXISTS idx_lorebook_story ON lorebook(story_id, branch_id);`,

	`CREATE TABLE IF NOT EXISTS pending_changes (
		id TEXT PRIMARY KEY,
		story_id TEXT NOT NULL,
		tool_call_id TEXT,
		entity_type TEXT NOT NULL,
		action TEXT NOT NULL,
		entity_id TEXT,
		data TEXT,
		previous TEXT,
		status TEXT NOT NULL DEFAULT 'pending',
		created_at DATETIME NOT NULL
	);`,
	`CREATE INDEX IF NOT EXISTS idx_pending_story ON pending_changes(story_id, status);`,
}
