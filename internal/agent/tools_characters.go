package agent

import (
	"context"
	"fmt"

	"fabula/internal/types"

	"github.com/google/uuid"
)

// registerCharacterTools wires the character partition of the tool surface
// onto a registry. Read tools answer from the working set; mutation tools
// mutate the working set and record exactly one PendingChange each.
func registerCharacterTools(r *Registry, ws *WorkingSet, rec *recorder) {
	r.MustRegister(&Tool{
		Name:        "list_characters",
		Description: "List all characters with their IDs, names and status.",
		Schema:      ToolSchema{Properties: map[string]Property{}},
		Execute: func(ctx context.Context, args map[string]any) (string, error) {
			out := make([]map[string]any, 0, len(ws.Characters))
			for _, c := range ws.Characters {
				out = append(out, map[string]any{
					"id": c.ID, "name": c.Name, "status": string(c.Status),
					"isProtagonist": c.IsProtagonist,
				})
			}
			return toolOK(map[string]any{"characters": out}), nil
		},
	})

	r.MustRegister(&Tool{
		Name:        "read_character",
		Description: "Read a character's full record by its ID.",
		Schema: ToolSchema{
			Required: []string{"id"},
			Properties: map[string]Property{
				"id": {Type: "string", Description: "Character ID"},
			},
		},
		Execute: func(ctx context.Context, args map[string]any) (string, error) {
			i := ws.characterIndex(argString(args, "id"))
			if i < 0 {
				return toolError(fmt.Sprintf("character %q not found", argString(args, "id"))), nil
			}
			return toolOK(map[string]any{"character": entityMap(ws.Characters[i])}), nil
		},
	})

	r.MustRegister(&Tool{
		Name:        "create_character",
		Description: "Propose a new character. The change is recorded for review, not applied directly.",
		Schema: ToolSchema{
			Required: []string{"name", "description"},
			Properties: map[string]Property{
				"name":        {Type: "string", Description: "Character name"},
				"description": {Type: "string", Description: "Who they are and why they matter"},
				"traits":      {Type: "array", Description: "Personality traits", Items: &PropertyItems{Type: "string"}},
			},
		},
		Execute: func(ctx context.Context, args map[string]any) (string, error) {
			c := types.Character{
				ID:          uuid.NewString(),
				StoryID:     ws.StoryID,
				BranchID:    ws.BranchID,
				Name:        argString(args, "name"),
				Description: argString(args, "description"),
				Traits:      argStrings(args, "traits"),
				Status:      types.CharacterActive,
			}
			ws.Characters = append(ws.Characters, c)
			change := rec.record(ctx, types.EntityCharacter, types.ActionCreate, c.ID, entityMap(c), nil)
			return toolOK(map[string]any{"id": c.ID, "changeId": change.ID}), nil
		},
	})

	r.MustRegister(&Tool{
		Name:        "update_character",
		Description: "Propose an update to an existing character. traits replaces the whole list and wins over add_traits/remove_traits.",
		Schema: ToolSchema{
			Required: []string{"id"},
			Properties: map[string]Property{
				"id":            {Type: "string", Description: "Character ID"},
				"name":          {Type: "string", Description: "New name"},
				"description":   {Type: "string", Description: "New description"},
				"status":        {Type: "string", Description: "New status", Enum: []any{"active", "inactive", "dead"}},
				"traits":        {Type: "array", Description: "Full replacement trait list", Items: &PropertyItems{Type: "string"}},
				"add_traits":    {Type: "array", Description: "Traits to add", Items: &PropertyItems{Type: "string"}},
				"remove_traits": {Type: "array", Description: "Traits to remove", Items: &PropertyItems{Type: "string"}},
			},
		},
		Execute: func(ctx context.Context, args map[string]any) (string, error) {
			i := ws.characterIndex(argString(args, "id"))
			if i < 0 {
				return toolError(fmt.Sprintf("character %q not found", argString(args, "id"))), nil
			}
			c := &ws.Characters[i]
			previous := entityMap(*c)

			if v := argString(args, "name"); v != "" {
				c.Name = v
			}
			if v := argString(args, "description"); v != "" {
				c.Description = v
			}
			if v := argString(args, "status"); v != "" {
				c.Status = types.CharacterStatus(v)
			}
			c.Traits = applyListEdit(c.Traits,
				argStrings(args, "traits"),
				argStrings(args, "add_traits"),
				argStrings(args, "remove_traits"))

			change := rec.record(ctx, types.EntityCharacter, types.ActionUpdate, c.ID, entityMap(*c), previous)
			return toolOK(map[string]any{"changeId": change.ID}), nil
		},
	})

	r.MustRegister(&Tool{
		Name:        "delete_character",
		Description: "Propose removing a character by ID.",
		Schema: ToolSchema{
			Required: []string{"id"},
			Properties: map[string]Property{
				"id": {Type: "string", Description: "Character ID"},
			},
		},
		Execute: func(ctx context.Context, args map[string]any) (string, error) {
			i := ws.characterIndex(argString(args, "id"))
			if i < 0 {
				return toolError(fmt.Sprintf("character %q not found", argString(args, "id"))), nil
			}
			removed := ws.Characters[i]
			ws.Characters = append(ws.Characters[:i], ws.Characters[i+1:]...)
			change := rec.record(ctx, types.EntityCharacter, types.ActionDelete, removed.ID, nil, entityMap(removed))
			return toolOK(map[string]any{"changeId": change.ID}), nil
		},
	})

	r.MustRegister(&Tool{
		Name:        "merge_characters",
		Description: "Propose merging a duplicate character into a kept one. The duplicate's description and traits fold into the kept character.",
		Schema: ToolSchema{
			Required: []string{"keep_id", "merge_id"},
			Properties: map[string]Property{
				"keep_id":  {Type: "string", Description: "ID of the character to keep"},
				"merge_id": {Type: "string", Description: "ID of the duplicate to absorb"},
			},
		},
		Execute: func(ctx context.Context, args map[string]any) (string, error) {
			ki := ws.characterIndex(argString(args, "keep_id"))
			mi := ws.characterIndex(argString(args, "merge_id"))
			if ki < 0 || mi < 0 || ki == mi {
				return toolError("both keep_id and merge_id must resolve to distinct characters"), nil
			}
			dup := ws.Characters[mi]
			// Remove the duplicate first; ki may shift.
			ws.Characters = append(ws.Characters[:mi], ws.Characters[mi+1:]...)
			keep := &ws.Characters[ws.characterIndex(argString(args, "keep_id"))]
			previous := entityMap(*keep)

			if dup.Description != "" && dup.Description != keep.Description {
				keep.Description = keep.Description + "\n" + dup.Description
			}
			keep.Traits = applyListEdit(keep.Traits, nil, dup.Traits, nil)

			data := entityMap(*keep)
			data["mergedFrom"] = dup.ID
			change := rec.record(ctx, types.EntityCharacter, types.ActionMerge, keep.ID, data, previous)
			return toolOK(map[string]any{"changeId": change.ID}), nil
		},
	})
}
