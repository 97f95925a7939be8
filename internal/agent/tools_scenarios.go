package agent

import (
	"context"
	"fmt"

	"fabula/internal/types"

	"github.com/google/uuid"
)

// registerScenarioTools wires the scenario partition of the tool surface.
// Scenarios are the plot threads (story beats) the narrator is tracking.
func registerScenarioTools(r *Registry, ws *WorkingSet, rec *recorder) {
	r.MustRegister(&Tool{
		Name:        "list_scenarios",
		Description: "List all plot scenarios with their IDs, names and status.",
		Schema:      ToolSchema{Properties: map[string]Property{}},
		Execute: func(ctx context.Context, args map[string]any) (string, error) {
			out := make([]map[string]any, 0, len(ws.Scenarios))
			for _, s := range ws.Scenarios {
				out = append(out, map[string]any{
					"id": s.ID, "name": s.Name, "status": string(s.Status),
				})
			}
			return toolOK(map[string]any{"scenarios": out}), nil
		},
	})

	r.MustRegister(&Tool{
		Name:        "read_scenario",
		Description: "Read a plot scenario's full record by its ID.",
		Schema: ToolSchema{
			Required: []string{"id"},
			Properties: map[string]Property{
				"id": {Type: "string", Description: "Scenario ID"},
			},
		},
		Execute: func(ctx context.Context, args map[string]any) (string, error) {
			i := ws.scenarioIndex(argString(args, "id"))
			if i < 0 {
				return toolError(fmt.Sprintf("scenario %q not found", argString(args, "id"))), nil
			}
			return toolOK(map[string]any{"scenario": entityMap(ws.Scenarios[i])}), nil
		},
	})

	r.MustRegister(&Tool{
		Name:        "create_scenario",
		Description: "Propose a new plot scenario. The change is recorded for review, not applied directly.",
		Schema: ToolSchema{
			Required: []string{"name", "description"},
			Properties: map[string]Property{
				"name":        {Type: "string", Description: "Scenario name"},
				"description": {Type: "string", Description: "What the thread is about"},
				"status":      {Type: "string", Description: "Initial status", Enum: []any{"active", "pending"}},
			},
		},
		Execute: func(ctx context.Context, args map[string]any) (string, error) {
			status := types.BeatStatus(argString(args, "status"))
			if status == "" {
				status = types.BeatPending
			}
			s := types.StoryBeat{
				ID:          uuid.NewString(),
				StoryID:     ws.StoryID,
				BranchID:    ws.BranchID,
				Name:        argString(args, "name"),
				Description: argString(args, "description"),
				Status:      status,
			}
			ws.Scenarios = append(ws.Scenarios, s)
			change := rec.record(ctx, types.EntityBeat, types.ActionCreate, s.ID, entityMap(s), nil)
			return toolOK(map[string]any{"id": s.ID, "changeId": change.ID}), nil
		},
	})

	r.MustRegister(&Tool{
		Name:        "update_scenario",
		Description: "Propose an update to a plot scenario, including resolving it.",
		Schema: ToolSchema{
			Required: []string{"id"},
			Properties: map[string]Property{
				"id":          {Type: "string", Description: "Scenario ID"},
				"name":        {Type: "string", Description: "New name"},
				"description": {Type: "string", Description: "New description"},
				"status":      {Type: "string", Description: "New status", Enum: []any{"active", "pending", "resolved"}},
			},
		},
		Execute: func(ctx context.Context, args map[string]any) (string, error) {
			i := ws.scenarioIndex(argString(args, "id"))
			if i < 0 {
				return toolError(fmt.Sprintf("scenario %q not found", argString(args, "id"))), nil
			}
			s := &ws.Scenarios[i]
			previous := entityMap(*s)

			if v := argString(args, "name"); v != "" {
				s.Name = v
			}
			if v := argString(args, "description"); v != "" {
				s.Description = v
			}
			if v := argString(args, "status"); v != "" {
				s.Status = types.BeatStatus(v)
			}

			change := rec.record(ctx, types.EntityBeat, types.ActionUpdate, s.ID, entityMap(*s), previous)
			return toolOK(map[string]any{"changeId": change.ID}), nil
		},
	})

	r.MustRegister(&Tool{
		Name:        "delete_scenario",
		Description: "Propose removing a plot scenario by ID.",
		Schema: ToolSchema{
			Required: []string{"id"},
			Properties: map[string]Property{
				"id": {Type: "string", Description: "Scenario ID"},
			},
		},
		Execute: func(ctx context.Context, args map[string]any) (string, error) {
			i := ws.scenarioIndex(argString(args, "id"))
			if i < 0 {
				return toolError(fmt.Sprintf("scenario %q not found", argString(args, "id"))), nil
			}
			removed := ws.Scenarios[i]
			ws.Scenarios = append(ws.Scenarios[:i], ws.Scenarios[i+1:]...)
			change := rec.record(ctx, types.EntityBeat, types.ActionDelete, removed.ID, nil, entityMap(removed))
			return toolOK(map[string]any{"changeId": change.ID}), nil
		},
	})

	r.MustRegister(&Tool{
		Name:        "merge_scenarios",
		Description: "Propose merging a duplicate plot scenario into a kept one. The duplicate's description folds into the kept scenario.",
		Schema: ToolSchema{
			Required: []string{"keep_id", "merge_id"},
			Properties: map[string]Property{
				"keep_id":  {Type: "string", Description: "ID of the scenario to keep"},
				"merge_id": {Type: "string", Description: "ID of the duplicate to absorb"},
			},
		},
		Execute: func(ctx context.Context, args map[string]any) (string, error) {
			ki := ws.scenarioIndex(argString(args, "keep_id"))
			mi := ws.scenarioIndex(argString(args, "merge_id"))
			if ki < 0 || mi < 0 || ki == mi {
				return toolError("both keep_id and merge_id must resolve to distinct scenarios"), nil
			}
			dup := ws.Scenarios[mi]
			// Remove the duplicate first; ki may shift.
			ws.Scenarios = append(ws.Scenarios[:mi], ws.Scenarios[mi+1:]...)
			keep := &ws.Scenarios[ws.scenarioIndex(argString(args, "keep_id"))]
			previous := entityMap(*keep)

			if dup.Description != "" && dup.Description != keep.Description {
				keep.Description = keep.Description + "\n" + dup.Description
			}

			data := entityMap(*keep)
			data["mergedFrom"] = dup.ID
			change := rec.record(ctx, types.EntityBeat, types.ActionMerge, keep.ID, data, previous)
			return toolOK(map[string]any{"changeId": change.ID}), nil
		},
	})
}
