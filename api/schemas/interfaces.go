package schemas

import (
	"context"
	"time"
)

// SettingsSnapshot is a point-in-time view of the user-tunable settings the
// detection core consults.
type SettingsSnapshot struct {
	AIAnalysisEnabled    bool     `json:"ai_analysis_enabled"`
	NotificationsEnabled bool     `json:"notifications_enabled"`
	AutoBlockEnabled     bool     `json:"auto_block_enabled"`
	DebugMode            bool     `json:"debug_mode"`
	DataRetentionHours   int      `json:"data_retention_hours"`
	ShowUnknownWarnings  bool     `json:"show_unknown_warnings"`
	WhitelistedDomains   []string `json:"whitelisted_domains"`
}

// SettingsStore exposes the user settings to the detection core.
type SettingsStore interface {
	All(ctx context.Context) (SettingsSnapshot, error)
	Get(key string) (any, bool)
	// IsWhitelisted applies the same-site test against the whitelist, so
	// subdomains of a whitelisted domain are covered.
	IsWhitelisted(domain string) bool
}

// EventFilter narrows an event query. Nil/zero fields are ignored.
type EventFilter struct {
	Verdict *Verdict
	Domain  string
	Limit   int
}

// EventRepository persists detection events. Implementations own retention;
// the core only appends and queries.
type EventRepository interface {
	Save(ctx context.Context, event DetectionEvent) error
	FindRecent(ctx context.Context, limit int) ([]DetectionEvent, error)
	FindByFilter(ctx context.Context, filter EventFilter) ([]DetectionEvent, error)
	DeleteAll(ctx context.Context) error
	DeleteOlderThan(ctx context.Context, cutoff time.Time) (int64, error)
}

// AIAnalyzer is the escalation port consulted when the heuristic verdict is
// inconclusive. Analyze may block for a non-trivial duration; callers bound
// it with a context deadline.
type AIAnalyzer interface {
	IsEnabled() bool
	SetEnabled(enabled bool)
	IsAvailable(ctx context.Context) bool
	Analyze(ctx context.Context, req AIAnalysisRequest) (AIAnalysisResponse, error)
}

// MessageTypeShowWarning tells the UI side to surface a warning overlay.
const MessageTypeShowWarning = "SHOW_WARNING"

// WarningPayload is the body of a SHOW_WARNING message.
type WarningPayload struct {
	Verdict        Verdict        `json:"verdict"`
	Recommendation Recommendation `json:"recommendation"`
	Message        string         `json:"message"`
	Details        map[string]any `json:"details,omitempty"`
	TargetURL      string         `json:"target_url,omitempty"`
}

// TabMessage is the envelope dispatched through the Messenger port.
type TabMessage struct {
	Type    string         `json:"type"`
	Payload WarningPayload `json:"payload"`
}

// Messenger delivers messages to a specific tab's UI.
type Messenger interface {
	SendToTab(ctx context.Context, tabID int, msg TabMessage) error
}
