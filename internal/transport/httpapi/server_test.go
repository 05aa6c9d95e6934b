package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/storyloom/storyloom/internal/config"
	"github.com/storyloom/storyloom/internal/core"
	"github.com/storyloom/storyloom/internal/service/engine"
)

type stubEngine struct {
	startFn  func(sessionID, protagonist string, chapterID, anchorIndex int) (*engine.TurnResult, error)
	turnFn   func(req engine.TurnRequest) (*engine.TurnResult, error)
	statusFn func(sessionID string) (*engine.SessionStatus, error)
}

func (s *stubEngine) StartSession(_ context.Context, sessionID, protagonist string, chapterID, anchorIndex int) (*engine.TurnResult, error) {
	return s.startFn(sessionID, protagonist, chapterID, anchorIndex)
}

func (s *stubEngine) SubmitTurn(_ context.Context, req engine.TurnRequest) (*engine.TurnResult, error) {
	return s.turnFn(req)
}

func (s *stubEngine) GetSessionStatus(_ context.Context, sessionID string) (*engine.SessionStatus, error) {
	return s.statusFn(sessionID)
}

func sampleResult(sessionID string) *engine.TurnResult {
	return &engine.TurnResult{
		SessionID: sessionID,
		Turn:      3,
		Script: []core.ScriptUnit{
			{Type: core.UnitNarration, Content: "Rain fell."},
			{Type: core.UnitInteraction, Content: "What now?", ChoiceID: "c1", DefaultReply: "Wait"},
		},
		Globals: core.GlobalState{
			Deviation: 0.19,
			Affinity:  map[string]int{"npc_iris": 2},
			Flags:     map[string]bool{},
			Variables: map[string]any{},
		},
		Anchor:     core.Anchor{NodeID: "a1_5", ChapterID: 1, ChunkID: "ch1_5"},
		AnchorInfo: core.AnchorInfo{AnchorID: "a1_5", TextChunkID: "ch1_5"},
		Context:    "some context",
		Metadata: engine.TurnMetadata{
			Usage:       core.Usage{TotalTokens: 150, CompletionTokens: 50},
			Temperature: 0.42,
			Duration:    120 * time.Millisecond,
		},
	}
}

func newTestServer(t *testing.T, eng GameEngine) *httptest.Server {
	t.Helper()
	s := NewServer(context.Background(), &config.ServerConfig{ListenAddr: ":0"}, eng, false)
	srv := httptest.NewServer(s.http.Handler)
	t.Cleanup(srv.Close)
	return srv
}

func postJSON(t *testing.T, url, body string) *http.Response {
	t.Helper()
	resp, err := http.Post(url, "application/json", strings.NewReader(body))
	require.NoError(t, err)
	t.Cleanup(func() { resp.Body.Close() })
	return resp
}

func TestStartEndpoint(t *testing.T) {
	eng := &stubEngine{
		startFn: func(sessionID, protagonist string, chapterID, anchorIndex int) (*engine.TurnResult, error) {
			assert.Equal(t, "s1", sessionID)
			assert.Equal(t, "char_002", protagonist)
			assert.Equal(t, 1, chapterID)
			assert.Equal(t, 4, anchorIndex)
			return sampleResult("s1"), nil
		},
	}
	srv := newTestServer(t, eng)

	resp := postJSON(t, srv.URL+"/api/v1/game/start",
		`{"session_id":"s1","protagonist":"char_002","chapter_id":1,"anchor_index":4}`)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var body map[string]any
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
	assert.Equal(t, "s1", body["session_id"])
	assert.Equal(t, "some context", body["context"])
	assert.EqualValues(t, 3, body["turn_number"])
	assert.Len(t, body["script"], 2)
}

func TestTurnEndpoint(t *testing.T) {
	var got engine.TurnRequest
	eng := &stubEngine{
		turnFn: func(req engine.TurnRequest) (*engine.TurnResult, error) {
			got = req
			return sampleResult(req.SessionID), nil
		},
	}
	srv := newTestServer(t, eng)

	resp := postJSON(t, srv.URL+"/api/v1/game/turn",
		`{"session_id":"s1","chapter_id":1,"anchor_index":4,"player_choice":"run","previous_anchor_index":2,"include_tail":true}`)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	assert.Equal(t, "s1", got.SessionID)
	assert.Equal(t, "run", got.PlayerChoice)
	require.NotNil(t, got.PreviousAnchorIndex)
	assert.Equal(t, 2, *got.PreviousAnchorIndex)
	assert.True(t, got.IncludeTail)

	var body turnResponse
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
	assert.InDelta(t, 0.19, body.State.Deviation, 1e-9)
	assert.Equal(t, 150, body.Metadata.TotalTokens)
}

func TestTurnEndpoint_RequiresSessionID(t *testing.T) {
	eng := &stubEngine{
		turnFn: func(engine.TurnRequest) (*engine.TurnResult, error) {
			t.Fatal("engine must not be called")
			return nil, nil
		},
	}
	srv := newTestServer(t, eng)

	resp := postJSON(t, srv.URL+"/api/v1/game/turn", `{"player_choice":"run"}`)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestStatusEndpoint(t *testing.T) {
	eng := &stubEngine{
		statusFn: func(sessionID string) (*engine.SessionStatus, error) {
			return &engine.SessionStatus{
				SessionID:  sessionID,
				Status:     "idle",
				TurnCount:  7,
				LastActive: time.Now().UTC(),
			}, nil
		},
	}
	srv := newTestServer(t, eng)

	resp, err := http.Get(srv.URL + "/api/v1/game/sessions/s1/status")
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var body statusResponse
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
	assert.Equal(t, "s1", body.SessionID)
	assert.Equal(t, 7, body.TurnCount)
}

func TestErrorMapping(t *testing.T) {
	tests := []struct {
		name   string
		err    error
		status int
	}{
		{"not found", fmt.Errorf("session x: %w", core.ErrNotFound), http.StatusNotFound},
		{"invalid range", core.ErrInvalidRange, http.StatusBadRequest},
		{"already processing", core.ErrAlreadyProcessing, http.StatusConflict},
		{"generation failed", core.ErrGenerationFailed, http.StatusBadGateway},
		{"unexpected", errors.New("disk on fire"), http.StatusInternalServerError},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			eng := &stubEngine{
				turnFn: func(engine.TurnRequest) (*engine.TurnResult, error) {
					return nil, tt.err
				},
			}
			srv := newTestServer(t, eng)
			resp := postJSON(t, srv.URL+"/api/v1/game/turn", `{"session_id":"s1"}`)
			assert.Equal(t, tt.status, resp.StatusCode)
		})
	}
}

func TestHealthz(t *testing.T) {
	srv := newTestServer(t, &stubEngine{})
	resp, err := http.Get(srv.URL + "/healthz")
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}

func TestRequestIDPropagated(t *testing.T) {
	eng := &stubEngine{
		statusFn: func(string) (*engine.SessionStatus, error) {
			return &engine.SessionStatus{SessionID: "s1", Status: "idle"}, nil
		},
	}
	srv := newTestServer(t, eng)

	req, err := http.NewRequest(http.MethodGet, srv.URL+"/api/v1/game/sessions/s1/status", nil)
	require.NoError(t, err)
	req.Header.Set("X-Request-ID", "req-42")

	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, "req-42", resp.Header.Get("X-Request-ID"))

	// Absent header gets a generated id
	resp2, err := http.Get(srv.URL + "/api/v1/game/sessions/s1/status")
	require.NoError(t, err)
	defer resp2.Body.Close()
	assert.NotEmpty(t, resp2.Header.Get("X-Request-ID"))
}
