package tiering

import (
	"strings"

	"fabula/internal/types"
)

// renderContextBlock renders the selected entries in deterministic order:
// current location, known characters, inventory, active threads, remaining
// world notes, then any externally retrieved context last. An entity appears
// at most once even if it qualified for multiple sections.
func renderContextBlock(all []types.RelevantEntry, retrievedContext string) string {
	var (
		location   *types.RelevantEntry
		characters []types.RelevantEntry
		inventory  []types.RelevantEntry
		threads    []types.RelevantEntry
		notes      []types.RelevantEntry
	)

	for i := range all {
		e := all[i]
		switch {
		case e.Type == types.EntityLocation && e.Priority == priorityLocation && location == nil:
			location = &all[i]
		case e.Type == types.EntityCharacter:
			characters = append(characters, e)
		case e.Type == types.EntityItem && e.Tier == 1:
			inventory = append(inventory, e)
		case e.Type == types.EntityBeat && e.Tier == 1:
			threads = append(threads, e)
		default:
			// Tier 2/3 locations, items, threads, and all lorebook entries
			notes = append(notes, e)
		}
	}

	var b strings.Builder

	if location != nil {
		b.WriteString("[CURRENT LOCATION]\n")
		b.WriteString(location.Name)
		if location.Description != "" {
			b.WriteString("\n")
			b.WriteString(location.Description)
		}
	}

	writeSection(&b, "[CHARACTERS]", characters)
	writeSection(&b, "[INVENTORY]", inventory)
	writeSection(&b, "[ACTIVE THREADS]", threads)
	writeSection(&b, "[WORLD NOTES]", notes)

	if retrievedContext != "" {
		if b.Len() > 0 {
			b.WriteString("\n\n")
		}
		b.WriteString(retrievedContext)
	}

	return b.String()
}

func writeSection(b *strings.Builder, header string, entries []types.RelevantEntry) {
	if len(entries) == 0 {
		return
	}
	if b.Len() > 0 {
		b.WriteString("\n\n")
	}
	b.WriteString(header)
	for _, e := range entries {
		b.WriteString("\n- ")
		b.WriteString(e.Name)
		if e.Description != "" {
			b.WriteString(": ")
			b.WriteString(e.Description)
		}
	}
}
