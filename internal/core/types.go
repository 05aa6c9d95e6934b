package core

import "time"

const (
	AppName    = "storyloom"
	AppVersion = "0.1.0"
)

const (
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

// UnitType classifies a single script unit in a generated turn.
type UnitType string

const (
	UnitNarration   UnitType = "narration"
	UnitDialogue    UnitType = "dialogue"
	UnitInteraction UnitType = "interaction"
)

// Chunk is an immutable unit of source narrative text. Loaded once at
// startup, never mutated.
type Chunk struct {
	ChunkID         string `json:"chunk_id"`
	ChapterID       int    `json:"chapter_id"`
	Text            string `json:"text"`
	IsLastInChapter bool   `json:"is_last_in_chapter"`
	IsLastOverall   bool   `json:"is_last_overall"`
	NextChunkID     string `json:"next_chunk_id,omitempty"`
}

// Anchor is a named position in the narrative graph. Multiple anchors may
// resolve to the same chunk.
type Anchor struct {
	NodeID    string `json:"node_id"`
	ChapterID int    `json:"chapter_id"`
	ChunkID   string `json:"chunk_id"`
}

// AnchorInfo carries the storyline metadata attached to an anchor node.
type AnchorInfo struct {
	AnchorID    string   `json:"anchor_id"`
	Brief       string   `json:"brief,omitempty"`
	Type        string   `json:"type,omitempty"`
	Characters  []string `json:"characters,omitempty"`
	ImpactScore int      `json:"impact_score,omitempty"`
	TextChunkID string   `json:"text_chunk_id"`
	AnchorText  string   `json:"anchor_text,omitempty"`
}

type ScriptUnit struct {
	Type         UnitType `json:"type"`
	Content      string   `json:"content"`
	Speaker      string   `json:"speaker,omitempty"`
	ChoiceID     string   `json:"choice_id,omitempty"`
	DefaultReply string   `json:"default_reply,omitempty"`
}

// GlobalState is the per-session mutable game state. Deviation stays within
// [0, 1]; only the turn orchestrator applies vetted deltas.
type GlobalState struct {
	Deviation float64         `json:"deviation"`
	Affinity  map[string]int  `json:"affinity"`
	Flags     map[string]bool `json:"flags"`
	Variables map[string]any  `json:"variables"`
}

func NewGlobalState(baselineDeviation float64) GlobalState {
	return GlobalState{
		Deviation: baselineDeviation,
		Affinity:  make(map[string]int),
		Flags:     make(map[string]bool),
		Variables: make(map[string]any),
	}
}

// Clone returns a deep copy so a failed turn never leaks partial mutations.
func (s GlobalState) Clone() GlobalState {
	out := GlobalState{
		Deviation: s.Deviation,
		Affinity:  make(map[string]int, len(s.Affinity)),
		Flags:     make(map[string]bool, len(s.Flags)),
		Variables: make(map[string]any, len(s.Variables)),
	}
	for k, v := range s.Affinity {
		out.Affinity[k] = v
	}
	for k, v := range s.Flags {
		out.Flags[k] = v
	}
	for k, v := range s.Variables {
		out.Variables[k] = v
	}
	return out
}

// StateDelta is the state change proposed by the generation provider. The
// orchestrator vets it before application.
type StateDelta struct {
	DeviationDelta float64         `json:"deviation_delta"`
	Affinity       map[string]int  `json:"affinity_changes,omitempty"`
	Flags          map[string]bool `json:"flags_updates,omitempty"`
	Variables      map[string]any  `json:"variables_updates,omitempty"`
}

// TurnEvent is an immutable event log record, one JSON object per line in
// the session's log file, ordered by turn number.
type TurnEvent struct {
	Turn            int            `json:"turn_number"`
	Role            string         `json:"role"`
	AnchorID        string         `json:"anchor_id,omitempty"`
	Choice          string         `json:"choice_text,omitempty"`
	Script          []ScriptUnit   `json:"script,omitempty"`
	DeviationDelta  float64        `json:"deviation_delta"`
	AffinityChanges map[string]int `json:"affinity_changes,omitempty"`
	Metadata        map[string]any `json:"metadata,omitempty"`
}

// MemorySnapshot is the compacted two-tier memory of a session: a bounded
// summary of older turns plus the rolling tail of recent events.
// CompactedThrough is the highest turn number already folded into the
// summary; replaying events at or below it must not compact twice.
type MemorySnapshot struct {
	Summary          string      `json:"summary"`
	Recent           []TurnEvent `json:"recent"`
	CompactedThrough int         `json:"compacted_through"`
	UpdatedAt        time.Time   `json:"updated_at"`
}

// Snapshot is the durable per-session record.
type Snapshot struct {
	SessionID        string      `json:"session_id"`
	Protagonist      string      `json:"protagonist"`
	Globals          GlobalState `json:"globals"`
	Summary          string      `json:"summary"`
	Recent           []TurnEvent `json:"recent"`
	CompactedThrough int         `json:"compacted_through"`
	CreatedAt        time.Time   `json:"created_at"`
	UpdatedAt        time.Time   `json:"updated_at"`
}

func (s *Snapshot) Memory() MemorySnapshot {
	return MemorySnapshot{
		Summary:          s.Summary,
		Recent:           s.Recent,
		CompactedThrough: s.CompactedThrough,
		UpdatedAt:        s.UpdatedAt,
	}
}

func (s *Snapshot) SetMemory(m MemorySnapshot) {
	s.Summary = m.Summary
	s.Recent = m.Recent
	s.CompactedThrough = m.CompactedThrough
	s.UpdatedAt = m.UpdatedAt
}

// Usage reports provider token accounting for one generation call.
type Usage struct {
	PromptTokens     int `json:"prompt_tokens"`
	CompletionTokens int `json:"completion_tokens"`
	TotalTokens      int `json:"total_tokens"`
}

// IndexedTurn is one semantic-index record over an evicted turn event.
type IndexedTurn struct {
	ID        string    `json:"id"`
	SessionID string    `json:"session_id"`
	Turn      int       `json:"turn_number"`
	Role      string    `json:"role"`
	Content   string    `json:"content"`
	Embedding []float32 `json:"-"`
	Score     float64   `json:"score,omitempty"`
	CreatedAt time.Time `json:"created_at"`
}
