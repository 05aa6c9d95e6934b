package httpapi

import (
	"time"

	"github.com/storyloom/storyloom/internal/core"
	"github.com/storyloom/storyloom/internal/service/engine"
)

type startRequest struct {
	SessionID   string `json:"session_id"`
	Protagonist string `json:"protagonist"`
	ChapterID   int    `json:"chapter_id"`
	AnchorIndex int    `json:"anchor_index"`
}

type turnRequest struct {
	SessionID             string `json:"session_id" binding:"required"`
	ChapterID             int    `json:"chapter_id"`
	AnchorIndex           int    `json:"anchor_index"`
	PlayerChoice          string `json:"player_choice"`
	PreviousAnchorIndex   *int   `json:"previous_anchor_index"`
	IncludeTail           bool   `json:"include_tail"`
	IsLastAnchorInChapter bool   `json:"is_last_anchor_in_chapter"`
	CurrentAnchorID       string `json:"current_anchor_id"`
}

type stateView struct {
	Deviation float64         `json:"deviation"`
	Affinity  map[string]int  `json:"affinity"`
	Flags     map[string]bool `json:"flags"`
	Variables map[string]any  `json:"variables"`
}

type metadataView struct {
	Temperature      float64 `json:"temperature"`
	PromptTokens     int     `json:"prompt_tokens"`
	CompletionTokens int     `json:"completion_tokens"`
	TotalTokens      int     `json:"total_tokens"`
	ElapsedMs        int64   `json:"elapsed_ms"`
	Fallback         bool    `json:"fallback"`
}

type turnResponse struct {
	SessionID  string            `json:"session_id"`
	TurnNumber int               `json:"turn_number"`
	Script     []core.ScriptUnit `json:"script"`
	State      stateView         `json:"state"`
	AnchorInfo core.AnchorInfo   `json:"anchor_info"`
	Completed  bool              `json:"completed,omitempty"`
	Metadata   metadataView      `json:"metadata"`
}

type statusResponse struct {
	SessionID  string    `json:"session_id"`
	Status     string    `json:"status"`
	TurnCount  int       `json:"turn_count"`
	LastActive time.Time `json:"last_active"`
}

type errorResponse struct {
	Error string `json:"error"`
}

func toTurnResponse(res *engine.TurnResult) turnResponse {
	return turnResponse{
		SessionID:  res.SessionID,
		TurnNumber: res.Turn,
		Script:     res.Script,
		State: stateView{
			Deviation: res.Globals.Deviation,
			Affinity:  res.Globals.Affinity,
			Flags:     res.Globals.Flags,
			Variables: res.Globals.Variables,
		},
		AnchorInfo: res.AnchorInfo,
		Completed:  res.Completed,
		Metadata: metadataView{
			Temperature:      res.Metadata.Temperature,
			PromptTokens:     res.Metadata.PromptTokens,
			CompletionTokens: res.Metadata.Usage.CompletionTokens,
			TotalTokens:      res.Metadata.Usage.TotalTokens,
			ElapsedMs:        res.Metadata.Duration.Milliseconds(),
			Fallback:         res.Metadata.Fallback,
		},
	}
}
