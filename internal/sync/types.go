// Package sync implements device-to-device story transfer over the local
// network: an authenticated HTTP endpoint serving list/pull/push actions and
// a UDP responder that answers discovery probes from peers.
package sync

import "fabula/internal/types"

// Fixed ports. Clients rely on these; they are not configurable on the wire,
// only overridable in tests.
const (
	SyncPort      = 55555
	DiscoveryPort = 55556
)

// AppIdentifier marks discovery traffic as ours.
const AppIdentifier = "fabula"

// Request action types.
const (
	ActionListStories = "listStories"
	ActionPullStory   = "pullStory"
	ActionPushStory   = "pushStory"
)

// Response types.
const (
	ResponseStoriesList = "storiesList"
	ResponseStoryData   = "storyData"
	ResponseSuccess     = "success"
	ResponseError       = "error"
)

// Request is the envelope every sync call sends.
type Request struct {
	Token  string `json:"token"`
	Action Action `json:"action"`
}

// Action selects the operation and carries its arguments.
type Action struct {
	Type      string `json:"type"`
	StoryID   string `json:"storyId,omitempty"`
	StoryData string `json:"storyData,omitempty"`
}

// Response is the tagged union the server answers with.
type Response struct {
	Type    string         `json:"type"`
	Stories []StoryPreview `json:"stories,omitempty"`
	Data    string         `json:"data,omitempty"`
	Message string         `json:"message,omitempty"`
}

// StoryPreview is the listing entry shown before a device decides to pull.
type StoryPreview struct {
	ID         string `json:"id"`
	Title      string `json:"title"`
	Genre      string `json:"genre,omitempty"`
	UpdatedAt  int64  `json:"updatedAt"`
	EntryCount int    `json:"entryCount"`
}

// Event is an activity notification surfaced to the hosting UI.
type Event struct {
	Type    string `json:"eventType"` // "connected", "pulled", "pushed"
	Message string `json:"message"`
}

// EventFunc receives server activity events. May be nil.
type EventFunc func(Event)

// DiscoveryResponse is the JSON a discovery probe is answered with.
type DiscoveryResponse struct {
	App        string `json:"app"`
	IP         string `json:"ip"`
	Port       int    `json:"port"`
	Token      string `json:"token"`
	Version    string `json:"version"`
	DeviceName string `json:"deviceName"`
}

// StoryExport is the full transferable form of one story: the aggregate plus
// everything needed to reconstruct it on the receiving device.
type StoryExport struct {
	Story      types.Story           `json:"story"`
	Entries    []types.StoryEntry    `json:"entries"`
	Characters []types.Character     `json:"characters"`
	Locations  []types.Location      `json:"locations"`
	Items      []types.Item          `json:"items"`
	Beats      []types.StoryBeat     `json:"beats"`
	Lorebook   []types.LorebookEntry `json:"lorebook"`
	Chapters   []types.Chapter       `json:"chapters"`
}
