package agent

import (
	"context"

	"fabula/internal/types"

	"github.com/google/uuid"
)

// resolveLorebookRef resolves the id/index argument pair used by lorebook
// tools. Entries are addressable by stable ID or by the zero-based position
// shown in list_entries.
func resolveLorebookRef(ws *WorkingSet, args map[string]any) (int, bool) {
	index, hasIndex := argInt(args, "index")
	i := ws.lorebookIndex(argString(args, "id"), index, hasIndex)
	return i, i >= 0
}

// registerLorebookTools wires the lorebook partition of the tool surface.
func registerLorebookTools(r *Registry, ws *WorkingSet, rec *recorder) {
	refProps := map[string]Property{
		"id":    {Type: "string", Description: "Lorebook entry ID"},
		"index": {Type: "integer", Description: "Zero-based position from list_entries, used when id is omitted"},
	}

	r.MustRegister(&Tool{
		Name:        "list_entries",
		Description: "List all lorebook entries with their index, ID and name.",
		Schema:      ToolSchema{Properties: map[string]Property{}},
		Execute: func(ctx context.Context, args map[string]any) (string, error) {
			out := make([]map[string]any, 0, len(ws.Lorebook))
			for i, e := range ws.Lorebook {
				out = append(out, map[string]any{
					"index": i, "id": e.ID, "name": e.Name, "category": e.Category,
				})
			}
			return toolOK(map[string]any{"entries": out}), nil
		},
	})

	r.MustRegister(&Tool{
		Name:        "read_entry",
		Description: "Read a lorebook entry's full record by ID or index.",
		Schema:      ToolSchema{Properties: refProps},
		Execute: func(ctx context.Context, args map[string]any) (string, error) {
			i, ok := resolveLorebookRef(ws, args)
			if !ok {
				return toolError("lorebook entry not found; pass a valid id or index"), nil
			}
			return toolOK(map[string]any{"entry": entityMap(ws.Lorebook[i])}), nil
		},
	})

	r.MustRegister(&Tool{
		Name:        "create_entry",
		Description: "Propose a new lorebook entry. The change is recorded for review, not applied directly.",
		Schema: ToolSchema{
			Required: []string{"name", "content"},
			Properties: map[string]Property{
				"name":     {Type: "string", Description: "Entry name"},
				"content":  {Type: "string", Description: "The lore text"},
				"keywords": {Type: "array", Description: "Trigger keywords", Items: &PropertyItems{Type: "string"}},
				"category": {Type: "string", Description: "Free-form category, e.g. faction, legend"},
			},
		},
		Execute: func(ctx context.Context, args map[string]any) (string, error) {
			e := types.LorebookEntry{
				ID:            uuid.NewString(),
				StoryID:       ws.StoryID,
				BranchID:      ws.BranchID,
				Name:          argString(args, "name"),
				Content:       argString(args, "content"),
				Keywords:      argStrings(args, "keywords"),
				Category:      argString(args, "category"),
				InjectionMode: types.InjectionKeyword,
			}
			ws.Lorebook = append(ws.Lorebook, e)
			change := rec.record(ctx, types.EntityLorebook, types.ActionCreate, e.ID, entityMap(e), nil)
			return toolOK(map[string]any{"id": e.ID, "changeId": change.ID}), nil
		},
	})

	updateProps := map[string]Property{
		"id":              refProps["id"],
		"index":           refProps["index"],
		"name":            {Type: "string", Description: "New name"},
		"content":         {Type: "string", Description: "New lore text"},
		"category":        {Type: "string", Description: "New category"},
		"keywords":        {Type: "array", Description: "Full replacement keyword list", Items: &PropertyItems{Type: "string"}},
		"add_keywords":    {Type: "array", Description: "Keywords to add", Items: &PropertyItems{Type: "string"}},
		"remove_keywords": {Type: "array", Description: "Keywords to remove", Items: &PropertyItems{Type: "string"}},
	}

	r.MustRegister(&Tool{
		Name:        "update_entry",
		Description: "Propose an update to a lorebook entry. keywords replaces the whole list and wins over add_keywords/remove_keywords.",
		Schema:      ToolSchema{Properties: updateProps},
		Execute: func(ctx context.Context, args map[string]any) (string, error) {
			i, ok := resolveLorebookRef(ws, args)
			if !ok {
				return toolError("lorebook entry not found; pass a valid id or index"), nil
			}
			e := &ws.Lorebook[i]
			previous := entityMap(*e)

			if v := argString(args, "name"); v != "" {
				e.Name = v
			}
			if v := argString(args, "content"); v != "" {
				e.Content = v
			}
			if v := argString(args, "category"); v != "" {
				e.Category = v
			}
			e.Keywords = applyListEdit(e.Keywords,
				argStrings(args, "keywords"),
				argStrings(args, "add_keywords"),
				argStrings(args, "remove_keywords"))

			change := rec.record(ctx, types.EntityLorebook, types.ActionUpdate, e.ID, entityMap(*e), previous)
			return toolOK(map[string]any{"changeId": change.ID}), nil
		},
	})

	r.MustRegister(&Tool{
		Name:        "delete_entry",
		Description: "Propose removing a lorebook entry by ID or index.",
		Schema:      ToolSchema{Properties: refProps},
		Execute: func(ctx context.Context, args map[string]any) (string, error) {
			i, ok := resolveLorebookRef(ws, args)
			if !ok {
				return toolError("lorebook entry not found; pass a valid id or index"), nil
			}
			removed := ws.Lorebook[i]
			ws.Lorebook = append(ws.Lorebook[:i], ws.Lorebook[i+1:]...)
			change := rec.record(ctx, types.EntityLorebook, types.ActionDelete, removed.ID, nil, entityMap(removed))
			return toolOK(map[string]any{"changeId": change.ID}), nil
		},
	})

	r.MustRegister(&Tool{
		Name:        "merge_entries",
		Description: "Propose merging a duplicate lorebook entry into a kept one. Content is concatenated and keywords are unioned.",
		Schema: ToolSchema{
			Required: []string{"keep_id", "merge_id"},
			Properties: map[string]Property{
				"keep_id":  {Type: "string", Description: "ID of the entry to keep"},
				"merge_id": {Type: "string", Description: "ID of the duplicate to absorb"},
			},
		},
		Execute: func(ctx context.Context, args map[string]any) (string, error) {
			ki := ws.lorebookIndex(argString(args, "keep_id"), 0, false)
			mi := ws.lorebookIndex(argString(args, "merge_id"), 0, false)
			if ki < 0 || mi < 0 || ki == mi {
				return toolError("both keep_id and merge_id must resolve to distinct lorebook entries"), nil
			}
			dup := ws.Lorebook[mi]
			ws.Lorebook = append(ws.Lorebook[:mi], ws.Lorebook[mi+1:]...)
			keep := &ws.Lorebook[ws.lorebookIndex(argString(args, "keep_id"), 0, false)]
			previous := entityMap(*keep)

			if dup.Content != "" && dup.Content != keep.Content {
				keep.Content = keep.Content + "\n" + dup.Content
			}
			keep.Keywords = applyListEdit(keep.Keywords, nil, dup.Keywords, nil)

			data := entityMap(*keep)
			data["mergedFrom"] = dup.ID
			change := rec.record(ctx, types.EntityLorebook, types.ActionMerge, keep.ID, data, previous)
			return toolOK(map[string]any{"changeId": change.ID}), nil
		},
	})
}
