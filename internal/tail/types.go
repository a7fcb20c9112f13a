// Package tail provides incremental, thread-safe watchers over the files an
// agent subprocess writes during an iteration: the text log tail and the
// structured SDK output document. Watchers never block the writer; they
// sample (mtime, size) and read only when something advanced.
package tail

// Message is one entry in the SDK output message stream.
type Message struct {
	Type      string         `json:"type"`
	Subtype   string         `json:"subtype,omitempty"`
	Content   string         `json:"content,omitempty"`
	ToolUse   map[string]any `json:"tool_use,omitempty"`
	ToolUseID string         `json:"tool_use_id,omitempty"`
	SessionID string         `json:"session_id,omitempty"`
	Timestamp string         `json:"timestamp,omitempty"`
}

// ToolCall is one tool invocation recorded in the SDK output.
type ToolCall struct {
	Name       string         `json:"name"`
	Input      map[string]any `json:"input,omitempty"`
	ToolUseID  string         `json:"tool_use_id"`
	DurationMS float64        `json:"duration_ms,omitempty"`
	IsError    bool           `json:"is_error,omitempty"`
}

// TokenStats is the token usage breakdown, when the agent reports one.
type TokenStats struct {
	Input         int `json:"input"`
	Output        int `json:"output"`
	CacheCreation int `json:"cache_creation"`
	CacheRead     int `json:"cache_read"`
}

// Stats summarizes an SDK session.
type Stats struct {
	MessageCount    int         `json:"message_count"`
	ToolCallCount   int         `json:"tool_call_count"`
	DurationSeconds float64     `json:"duration_seconds"`
	Tokens          *TokenStats `json:"tokens,omitempty"`
}

// Document is the structured output the agent runner writes per iteration.
type Document struct {
	Schema    string     `json:"schema"`
	SessionID string     `json:"session_id"`
	StartedAt string     `json:"started_at"`
	EndedAt   string     `json:"ended_at,omitempty"`
	Messages  []Message  `json:"messages"`
	ToolCalls []ToolCall `json:"tool_calls"`
	Stats     Stats      `json:"stats"`
	Success   bool       `json:"success"`
	Error     string     `json:"error,omitempty"`
}
