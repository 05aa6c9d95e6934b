package engine

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/pkoukk/tiktoken-go"

	"github.com/storyloom/storyloom/internal/config"
	"github.com/storyloom/storyloom/internal/core"
	"github.com/storyloom/storyloom/internal/service/assembler"
	"github.com/storyloom/storyloom/internal/service/deviation"
	"github.com/storyloom/storyloom/internal/service/memory"
	"github.com/storyloom/storyloom/internal/storyline"
	"github.com/storyloom/storyloom/pkg/log"
	"github.com/storyloom/storyloom/pkg/retry"
)

const affinityBound = 100

// Deps carries the engine's collaborators; everything behind an interface
// so turn logic is testable with deterministic fakes.
type Deps struct {
	App       *config.AppConfig
	LLM       *config.LLMConfig
	Assembler *assembler.Assembler
	Deviation *deviation.Controller
	Memory    *memory.Manager
	Navigator core.Navigator
	Generator core.ScriptGenerator
	Snapshots core.SnapshotRepository
	Events    core.EventLogRepository
}

// Engine orchestrates turns: it builds anchor context, drives generation,
// vets the proposed state delta, and persists the outcome. One turn per
// session at a time; sessions are independent.
type Engine struct {
	deps    Deps
	retrier *retry.Retrier
	locks   *sessionLocks
	encoder *tiktoken.Tiktoken

	reapStop chan struct{}
}

func New(ctx context.Context, deps Deps) *Engine {
	retryCfg := retry.NewDefaultConfig()
	retryCfg.Attempts = deps.LLM.Attempts

	enc, err := tiktoken.GetEncoding("cl100k_base")
	if err != nil {
		log.FromCtx(ctx).Warn().Err(err).Msg("tokenizer unavailable, falling back to length heuristic")
		enc = nil
	}

	return &Engine{
		deps:     deps,
		retrier:  retry.NewRetrier(retryCfg),
		locks:    newSessionLocks(time.Duration(deps.App.SessionIdleMinutes) * time.Minute),
		encoder:  enc,
		reapStop: make(chan struct{}),
	}
}

// Start runs the idle-session reaper until Shutdown.
func (e *Engine) Start(ctx context.Context) error {
	ticker := time.NewTicker(time.Minute)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			if n := e.locks.reap(); n > 0 {
				log.FromCtx(ctx).Debug().Int("count", n).Msg("idle session handles reaped")
			}
		case <-e.reapStop:
			return nil
		case <-ctx.Done():
			return nil
		}
	}
}

func (e *Engine) Shutdown(ctx context.Context) error {
	close(e.reapStop)
	return nil
}

// TurnRequest identifies the anchor for the next turn. CurrentAnchorID, when
// set, advances along the protagonist's storyline instead of resolving by
// chapter and index.
type TurnRequest struct {
	SessionID             string
	ChapterID             int
	AnchorIndex           int
	PlayerChoice          string
	PreviousAnchorIndex   *int
	IncludeTail           bool
	IsLastAnchorInChapter bool
	CurrentAnchorID       string
}

type TurnMetadata struct {
	Usage        core.Usage
	Temperature  float64
	PromptTokens int
	Duration     time.Duration
	Fallback     bool
}

type TurnResult struct {
	SessionID  string
	Turn       int
	Script     []core.ScriptUnit
	Globals    core.GlobalState
	Anchor     core.Anchor
	AnchorInfo core.AnchorInfo
	Context    string
	Completed  bool
	Metadata   TurnMetadata
}

type SessionStatus struct {
	SessionID  string
	Status     string // "idle" or "processing"
	TurnCount  int
	LastActive time.Time
}

// StartSession creates the session if needed and plays the opening turn at
// the given anchor, or the protagonist's first anchor when chapterID is
// zero. An empty sessionID gets a generated one.
func (e *Engine) StartSession(ctx context.Context, sessionID, protagonist string, chapterID, anchorIndex int) (*TurnResult, error) {
	if sessionID == "" {
		sessionID = uuid.NewString()
	}
	if protagonist == "" {
		protagonist = e.deps.App.DefaultProtagonist
	}

	release, err := e.locks.acquire(sessionID)
	if err != nil {
		return nil, err
	}
	defer release()

	snap, err := e.loadOrCreate(ctx, sessionID, protagonist)
	if err != nil {
		return nil, err
	}

	var anchor core.Anchor
	if chapterID <= 0 {
		anchor, err = e.deps.Navigator.FirstAnchor(snap.Protagonist)
	} else {
		anchor, err = e.deps.Navigator.ResolveAnchor(snap.Protagonist, chapterID, anchorIndex)
	}
	if err != nil {
		return nil, err
	}

	return e.runTurn(ctx, snap, anchor, nil, "", false, false, false)
}

// SubmitTurn plays one turn for an existing session.
func (e *Engine) SubmitTurn(ctx context.Context, req TurnRequest) (*TurnResult, error) {
	release, err := e.locks.acquire(req.SessionID)
	if err != nil {
		return nil, err
	}
	defer release()

	snap, err := e.deps.Snapshots.LoadSnapshot(ctx, req.SessionID)
	if err != nil {
		return nil, err
	}

	anchor, previous, completed, err := e.resolveAnchors(snap.Protagonist, req)
	if err != nil {
		return nil, err
	}

	return e.runTurn(ctx, snap, anchor, previous, req.PlayerChoice, req.IncludeTail, req.IsLastAnchorInChapter, completed)
}

func (e *Engine) GetSessionStatus(ctx context.Context, sessionID string) (*SessionStatus, error) {
	snap, err := e.deps.Snapshots.LoadSnapshot(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	turns, err := e.deps.Events.LatestTurn(ctx, sessionID)
	if err != nil {
		return nil, err
	}

	status := "idle"
	if e.locks.processing(sessionID) {
		status = "processing"
	}
	return &SessionStatus{
		SessionID:  sessionID,
		Status:     status,
		TurnCount:  turns,
		LastActive: snap.UpdatedAt,
	}, nil
}

func (e *Engine) loadOrCreate(ctx context.Context, sessionID, protagonist string) (*core.Snapshot, error) {
	snap, err := e.deps.Snapshots.LoadSnapshot(ctx, sessionID)
	if err == nil {
		return snap, nil
	}
	if !errors.Is(err, core.ErrNotFound) {
		return nil, err
	}

	now := time.Now().UTC()
	snap = &core.Snapshot{
		SessionID:   sessionID,
		Protagonist: protagonist,
		Globals:     core.NewGlobalState(e.deps.Deviation.Baseline()),
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	log.FromCtx(ctx).Info().
		Str("session_id", sessionID).
		Str("protagonist", protagonist).
		Msg("session created")
	return snap, nil
}

// resolveAnchors picks the turn's anchor. Walking off the end of the
// storyline is not an error: the turn plays at the last anchor and the
// result is flagged completed.
func (e *Engine) resolveAnchors(protagonist string, req TurnRequest) (anchor core.Anchor, previous *core.Anchor, completed bool, err error) {
	if req.CurrentAnchorID != "" {
		next, nerr := e.deps.Navigator.NextAnchor(protagonist, req.CurrentAnchorID)
		if nerr != nil {
			return core.Anchor{}, nil, false, nerr
		}
		if next == nil {
			last, lerr := e.anchorByID(protagonist, req.CurrentAnchorID)
			if lerr != nil {
				return core.Anchor{}, nil, false, lerr
			}
			return last, nil, true, nil
		}
		cur, cerr := e.anchorByID(protagonist, req.CurrentAnchorID)
		if cerr == nil && cur.ChapterID == next.ChapterID {
			previous = &cur
		}
		return *next, previous, false, nil
	}

	anchor, err = e.deps.Navigator.ResolveAnchor(protagonist, req.ChapterID, req.AnchorIndex)
	if err != nil {
		return core.Anchor{}, nil, false, err
	}
	if req.PreviousAnchorIndex != nil {
		prev, perr := e.deps.Navigator.ResolveAnchor(protagonist, req.ChapterID, *req.PreviousAnchorIndex)
		if perr != nil {
			return core.Anchor{}, nil, false, perr
		}
		previous = &prev
	}
	return anchor, previous, false, nil
}

func (e *Engine) anchorByID(protagonist, anchorID string) (core.Anchor, error) {
	info := e.deps.Navigator.AnchorInfo(anchorID)
	chapterID, _, err := storyline.ParseAnchorID(anchorID)
	if err != nil {
		return core.Anchor{}, err
	}
	return core.Anchor{NodeID: anchorID, ChapterID: chapterID, ChunkID: info.TextChunkID}, nil
}

func (e *Engine) runTurn(ctx context.Context, snap *core.Snapshot, anchor core.Anchor, previous *core.Anchor, playerChoice string, includeTail, lastInChapter, completed bool) (*TurnResult, error) {
	started := time.Now()
	logger := log.FromCtx(ctx)
	sessionID := snap.SessionID

	contextText, stats, err := e.deps.Assembler.BuildContext(anchor, previous, includeTail, lastInChapter)
	if err != nil {
		return nil, err
	}
	logger.Debug().
		Str("session_id", sessionID).
		Str("anchor", anchor.NodeID).
		Int("chunks", stats.ChunksIncluded).
		Msg("anchor context assembled")

	temperature := e.deps.Deviation.Temperature(snap.Globals.Deviation)
	info := e.deps.Navigator.AnchorInfo(anchor.NodeID)

	var recalled []core.IndexedTurn
	if playerChoice != "" {
		recalled, err = e.deps.Memory.RelevantPast(ctx, sessionID, playerChoice, snap.Memory(), 0)
		if err != nil {
			return nil, err
		}
	}

	bundle := buildBundle(snap, info, contextText, playerChoice, recalled)
	promptTokens := tokenCount(e.encoder, bundle)

	gen, fallback, err := e.generate(ctx, bundle, temperature)
	if err != nil {
		return nil, err
	}

	globals := applyDelta(snap.Globals, e.deps.Deviation, gen.Delta)
	appliedDelta := e.deps.Deviation.AppliedDelta(snap.Globals.Deviation, gen.Delta.DeviationDelta)

	latest, err := e.deps.Events.LatestTurn(ctx, sessionID)
	if err != nil {
		return nil, err
	}

	// Past this point the turn always persists; cancellation must not leave
	// a half-applied session behind.
	persistCtx := context.WithoutCancel(ctx)

	var events []core.TurnEvent
	turn := latest
	if playerChoice != "" {
		turn++
		events = append(events, core.TurnEvent{
			Turn:     turn,
			Role:     core.RoleUser,
			AnchorID: anchor.NodeID,
			Choice:   playerChoice,
		})
	}
	turn++
	events = append(events, core.TurnEvent{
		Turn:            turn,
		Role:            core.RoleAssistant,
		AnchorID:        anchor.NodeID,
		Script:          gen.Script,
		DeviationDelta:  appliedDelta,
		AffinityChanges: gen.Delta.Affinity,
		Metadata: map[string]any{
			"temperature":  temperature,
			"total_tokens": gen.Usage.TotalTokens,
			"fallback":     fallback,
		},
	})

	for _, ev := range events {
		if err := e.deps.Events.AppendEvent(persistCtx, sessionID, ev); err != nil {
			return nil, err
		}
	}

	mem, err := e.deps.Memory.Append(persistCtx, sessionID, snap.Memory(), events...)
	if err != nil {
		// The log already carries this turn's events; a broken summarizer
		// must not lose them or fail the turn. The events stay in the recent
		// window uncompacted and the watermark lets a later turn fold the
		// backlog in.
		logger.Warn().Err(err).
			Str("session_id", sessionID).
			Msg("memory compaction failed, carrying events uncompacted")
		mem = snap.Memory()
		mem.Recent = append(append([]core.TurnEvent(nil), mem.Recent...), events...)
		mem.UpdatedAt = time.Now().UTC()
	}

	snap.Globals = globals
	snap.SetMemory(mem)
	if err := e.deps.Snapshots.SaveSnapshot(persistCtx, snap); err != nil {
		return nil, err
	}

	logger.Info().
		Str("session_id", sessionID).
		Int("turn", turn).
		Str("anchor", anchor.NodeID).
		Float64("deviation", globals.Deviation).
		Bool("fallback", fallback).
		Dur("elapsed", time.Since(started)).
		Msg("turn persisted")

	return &TurnResult{
		SessionID:  sessionID,
		Turn:       turn,
		Script:     gen.Script,
		Globals:    globals,
		Anchor:     anchor,
		AnchorInfo: info,
		Context:    contextText,
		Completed:  completed,
		Metadata: TurnMetadata{
			Usage:        gen.Usage,
			Temperature:  temperature,
			PromptTokens: promptTokens,
			Duration:     time.Since(started),
			Fallback:     fallback,
		},
	}, nil
}

// generate calls the provider with bounded retries for transient failures.
// A malformed script is not transient: it gets one corrective retry, then
// the fallback script. The caller never sees a raw schema error.
func (e *Engine) generate(ctx context.Context, bundle core.PromptBundle, temperature float64) (*core.Generation, bool, error) {
	genCtx, cancel := context.WithTimeout(ctx, time.Duration(e.deps.LLM.TimeoutSeconds)*time.Second)
	defer cancel()

	gen, err := e.generateOnce(genCtx, bundle, temperature)
	if err == nil {
		err = validateScript(gen.Script)
	}
	if err == nil {
		return gen, false, nil
	}
	if !errors.Is(err, core.ErrSchemaViolation) {
		return nil, false, fmt.Errorf("%w: %v", core.ErrGenerationFailed, err)
	}

	log.FromCtx(ctx).Warn().Err(err).Msg("malformed script, retrying with corrective instruction")
	gen, err = e.generateOnce(genCtx, corrective(bundle), temperature)
	if err == nil {
		err = validateScript(gen.Script)
	}
	if err == nil {
		return gen, false, nil
	}

	log.FromCtx(ctx).Warn().Err(err).Msg("corrective retry failed, degrading to fallback script")
	return &core.Generation{Script: fallbackScript()}, true, nil
}

func (e *Engine) generateOnce(ctx context.Context, bundle core.PromptBundle, temperature float64) (*core.Generation, error) {
	var out *core.Generation
	var schemaErr error
	err := e.retrier.Do(ctx, func() error {
		gen, err := e.deps.Generator.Generate(ctx, bundle, temperature, e.deps.LLM.MaxTokens)
		if err != nil {
			// Malformed output will not improve with backoff
			if errors.Is(err, core.ErrSchemaViolation) {
				schemaErr = err
				return nil
			}
			return err
		}
		out = gen
		schemaErr = nil
		return nil
	})
	if err != nil {
		return nil, err
	}
	if schemaErr != nil {
		return nil, schemaErr
	}
	return out, nil
}

// applyDelta merges the vetted delta: deviation through the ratchet,
// affinity additively within bounds, flags and variables by overwrite.
func applyDelta(globals core.GlobalState, dev *deviation.Controller, delta core.StateDelta) core.GlobalState {
	out := globals.Clone()
	out.Deviation = dev.Next(globals.Deviation, delta.DeviationDelta)
	for id, change := range delta.Affinity {
		v := out.Affinity[id] + change
		if v > affinityBound {
			v = affinityBound
		}
		if v < -affinityBound {
			v = -affinityBound
		}
		out.Affinity[id] = v
	}
	for name, val := range delta.Flags {
		out.Flags[name] = val
	}
	for name, val := range delta.Variables {
		out.Variables[name] = val
	}
	return out
}
