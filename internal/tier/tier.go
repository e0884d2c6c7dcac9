// Package tier holds subscription-tier limits and the quota-gating
// decision used by the relay router (spec §4.4, §7).
package tier

// Tier is a user's subscription level.
type Tier string

const (
	TierFree      Tier = "free"
	TierPro       Tier = "pro"
	TierPowerUser Tier = "poweruser"
)

// PaneType identifies one of the creation-gated resource kinds.
type PaneType string

const (
	PaneTerminal PaneType = "terminalPanes"
	PaneFile     PaneType = "filePanes"
	PaneNote     PaneType = "notePanes"
	PaneGitGraph PaneType = "gitGraphPanes"
	PaneIframe   PaneType = "iframePanes"
)

// CreationPaths maps a POST path in the creation set to its pane type
// (spec §4.4: "the creation set {/api/terminals, /api/file-panes,
// /api/notes, /api/git-graphs, /api/iframes}").
var CreationPaths = map[string]PaneType{
	"/api/terminals":  PaneTerminal,
	"/api/file-panes": PaneFile,
	"/api/notes":      PaneNote,
	"/api/git-graphs": PaneGitGraph,
	"/api/iframes":    PaneIframe,
}

// limits is the per-tier, per-pane-type cap. poweruser panes are
// effectively unbounded; a large constant keeps the comparison uniform
// instead of special-casing "no limit".
const unlimited = 1 << 30

var limits = map[Tier]map[PaneType]int{
	TierFree: {
		PaneTerminal: 5,
		PaneFile:     10,
		PaneNote:     10,
		PaneGitGraph: 3,
		PaneIframe:   3,
	},
	TierPro: {
		PaneTerminal: 20,
		PaneFile:     50,
		PaneNote:     50,
		PaneGitGraph: 15,
		PaneIframe:   15,
	},
	TierPowerUser: {
		PaneTerminal: unlimited,
		PaneFile:     unlimited,
		PaneNote:     unlimited,
		PaneGitGraph: unlimited,
		PaneIframe:   unlimited,
	},
}

// AgentLimits caps the number of paired agents per tier; once a user has
// this many, relay.Router.JoinAgent admits only agents already paired
// (spec §4.4: "Enforce agents tier limit on join").
var AgentLimits = map[Tier]int{
	TierFree:      1,
	TierPro:       3,
	TierPowerUser: 10,
}

// Limit returns the per-tier cap for a pane type. Unknown tiers are
// treated as free (most restrictive), matching the teacher's subscription
// package's "default to standard" fallback.
func Limit(t Tier, pane PaneType) int {
	tierLimits, ok := limits[t]
	if !ok {
		tierLimits = limits[TierFree]
	}
	limit, ok := tierLimits[pane]
	if !ok {
		return 0
	}
	return limit
}

// AgentLimit returns the paired-agent cap for a tier.
func AgentLimit(t Tier) int {
	if limit, ok := AgentLimits[t]; ok {
		return limit
	}
	return AgentLimits[TierFree]
}

// ExceedsLimit reports whether currentCount is already at or above the
// tier's cap for pane, meaning the next creation must be rejected.
func ExceedsLimit(t Tier, pane PaneType, currentCount int) bool {
	return currentCount >= Limit(t, pane)
}

// LimitHitEvent is the event recorded when tier gating rejects a request
// (spec §4.4, §7).
type LimitHitEvent struct {
	UserID  string   `json:"userId"`
	Pane    PaneType `json:"pane"`
	Tier    Tier     `json:"tier"`
}

// DenialBody is the 403 response body synthesized by the relay when a
// creation request exceeds quota.
type DenialBody struct {
	Feature    PaneType `json:"feature"`
	Message    string   `json:"message"`
	UpgradeURL string   `json:"upgradeUrl"`
}

// Denial builds the 403 body for a quota rejection.
func Denial(pane PaneType) DenialBody {
	return DenialBody{
		Feature:    pane,
		Message:    "You've reached your plan's limit for this feature. Upgrade to add more.",
		UpgradeURL: "https://49agents.dev/upgrade",
	}
}
