// Package relaystore is the cloud relay's durable state: users, paired
// agents, pane layouts, notes, per-user preferences, per-device view
// state, and the event log (spec §3, §8).
package relaystore

import "time"

// User is one account, identified by its auth-provider subject.
type User struct {
	ID        string    `json:"id"`
	Email     string    `json:"email"`
	Tier      string    `json:"tier"`
	CreatedAt time.Time `json:"createdAt"`
}

// Agent is one paired host daemon under a User.
type Agent struct {
	ID         string     `json:"id"`
	UserID     string     `json:"userId"`
	Name       string     `json:"name"`
	TokenHash  string     `json:"-"`
	PairedAt   time.Time  `json:"pairedAt"`
	LastSeenAt *time.Time `json:"lastSeenAt,omitempty"`
}

// PaneLayout is one pane's position/size/ownership row (spec §3: "the
// cloud owns layout").
type PaneLayout struct {
	ID       string          `json:"id"`
	UserID   string          `json:"userId"`
	AgentID  string          `json:"agentId,omitempty"`
	PaneType string          `json:"paneType"`
	X        float64         `json:"x"`
	Y        float64         `json:"y"`
	W        float64         `json:"w"`
	H        float64         `json:"h"`
	ZIndex   int             `json:"zIndex"`
	Metadata map[string]any  `json:"metadata,omitempty"`
}

// Note is a browser-owned virtual pane persisted cloud-side (agent panes
// are persisted agent-side; notes have no agent counterpart).
type Note struct {
	ID        string    `json:"id"`
	UserID    string    `json:"userId"`
	Title     string    `json:"title"`
	Content   string    `json:"content"`
	UpdatedAt time.Time `json:"updatedAt"`
}

// Preferences is a per-user settings blob, opaque to the relay.
type Preferences struct {
	UserID string         `json:"userId"`
	Values map[string]any `json:"values"`
}

// ViewState is a per-device snapshot (scroll position, active pane,
// zoom) so a browser reconnecting on the same device resumes in place.
type ViewState struct {
	UserID   string         `json:"userId"`
	DeviceID string         `json:"deviceId"`
	Values   map[string]any `json:"values"`
}

// Event is an append-only audit record (spec §7: "tier.limit_hit").
type Event struct {
	ID        int64     `json:"id"`
	UserID    string    `json:"userId"`
	Kind      string    `json:"kind"`
	Detail    string    `json:"detail"`
	CreatedAt time.Time `json:"createdAt"`
}
