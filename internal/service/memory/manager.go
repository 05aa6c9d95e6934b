package memory

import (
	"context"
	"fmt"
	"time"

	"github.com/oklog/ulid/v2"

	"github.com/storyloom/storyloom/internal/config"
	"github.com/storyloom/storyloom/internal/core"
	"github.com/storyloom/storyloom/pkg/log"
)

// Manager maintains per-session two-tier memory: a rolling window of recent
// turn events plus an LLM-compacted summary of everything older. It owns the
// compaction policy; callers hand it a MemorySnapshot and get an updated one
// back, so a failed turn can simply discard the result.
type Manager struct {
	cfg        *config.MemoryConfig
	summarizer core.Summarizer
	embedder   core.Embedder
	index      core.TurnIndexRepository
}

// New wires a Manager. embedder and index may be nil; semantic recall then
// degrades to the recent window and eviction skips indexing.
func New(cfg *config.MemoryConfig, summarizer core.Summarizer, embedder core.Embedder, index core.TurnIndexRepository) *Manager {
	return &Manager{
		cfg:        cfg,
		summarizer: summarizer,
		embedder:   embedder,
		index:      index,
	}
}

// Append adds events to the recent window and compacts until the window fits
// the configured size again. The input snapshot is never mutated.
func (m *Manager) Append(ctx context.Context, sessionID string, mem core.MemorySnapshot, events ...core.TurnEvent) (core.MemorySnapshot, error) {
	out := mem
	out.Recent = make([]core.TurnEvent, 0, len(mem.Recent)+len(events))
	out.Recent = append(out.Recent, mem.Recent...)
	out.Recent = append(out.Recent, events...)
	return m.Compact(ctx, sessionID, out)
}

// Compact folds the oldest events into the summary until the recent window
// is back within bounds. Events at or below CompactedThrough were already
// folded in and are dropped without a second summarization, which keeps
// replay after a crash idempotent.
func (m *Manager) Compact(ctx context.Context, sessionID string, mem core.MemorySnapshot) (core.MemorySnapshot, error) {
	out := mem
	for len(out.Recent) > m.cfg.RecentSize {
		next, err := m.compactOnce(ctx, sessionID, out)
		if err != nil {
			return mem, err
		}
		out = next
	}
	out.UpdatedAt = time.Now().UTC()
	return out, nil
}

func (m *Manager) compactOnce(ctx context.Context, sessionID string, mem core.MemorySnapshot) (core.MemorySnapshot, error) {
	n := m.cfg.CompactBatch
	if n > len(mem.Recent) {
		n = len(mem.Recent)
	}
	batch := mem.Recent[:n]

	out := mem
	out.Recent = append([]core.TurnEvent(nil), mem.Recent[n:]...)

	fresh := make([]core.TurnEvent, 0, n)
	for _, e := range batch {
		if e.Turn > mem.CompactedThrough {
			fresh = append(fresh, e)
		}
		if e.Turn > out.CompactedThrough {
			out.CompactedThrough = e.Turn
		}
	}
	if len(fresh) == 0 {
		return out, nil
	}

	batchSummary, err := m.summarizer.Summarize(ctx, compactionInput(fresh))
	if err != nil {
		return mem, fmt.Errorf("compact session %s memory: %w", sessionID, err)
	}

	merged := batchSummary
	if mem.Summary != "" {
		merged = mem.Summary + "\n" + batchSummary
	}
	if len([]rune(merged)) > m.cfg.SummaryBudget {
		merged, err = m.summarizer.Summarize(ctx, recompressionInput(merged, m.cfg.SummaryBudget))
		if err != nil {
			return mem, fmt.Errorf("recompress session %s summary: %w", sessionID, err)
		}
		if len([]rune(merged)) > m.cfg.SummaryBudget {
			log.FromCtx(ctx).Warn().
				Str("session_id", sessionID).
				Int("length", len([]rune(merged))).
				Int("budget", m.cfg.SummaryBudget).
				Msg("summary still over budget after recompression, keeping it whole")
		}
	}
	out.Summary = merged

	m.indexEvicted(ctx, sessionID, fresh)
	return out, nil
}

// indexEvicted pushes evicted turns into the semantic index. Indexing is
// best effort: a session must survive a broken index, so failures only warn.
func (m *Manager) indexEvicted(ctx context.Context, sessionID string, events []core.TurnEvent) {
	if m.index == nil || m.embedder == nil {
		return
	}
	logger := log.FromCtx(ctx)
	for _, e := range events {
		content := eventText(e)
		if content == "" {
			continue
		}
		vec, err := m.embedder.Embed(ctx, content)
		if err != nil {
			logger.Warn().Err(err).Str("session_id", sessionID).Int("turn", e.Turn).
				Msg("failed to embed evicted turn, skipping index")
			continue
		}
		rec := core.IndexedTurn{
			ID:        ulid.Make().String(),
			SessionID: sessionID,
			Turn:      e.Turn,
			Role:      e.Role,
			Content:   content,
			Embedding: vec,
			CreatedAt: time.Now().UTC(),
		}
		if err := m.index.IndexTurn(ctx, rec); err != nil {
			logger.Warn().Err(err).Str("session_id", sessionID).Int("turn", e.Turn).
				Msg("failed to index evicted turn")
		}
	}
}

// RelevantPast returns up to k indexed turns semantically close to the
// query, the configured default when k is not positive. With no usable
// index it falls back to the tail of the recent window; an empty result
// from a healthy index stays empty.
func (m *Manager) RelevantPast(ctx context.Context, sessionID, query string, mem core.MemorySnapshot, k int) ([]core.IndexedTurn, error) {
	if k <= 0 {
		k = m.cfg.SearchLimit
	}
	if m.index == nil || m.embedder == nil {
		return recentFallback(mem, k), nil
	}
	logger := log.FromCtx(ctx)
	vec, err := m.embedder.Embed(ctx, query)
	if err != nil {
		logger.Warn().Err(err).Str("session_id", sessionID).
			Msg("query embedding failed, falling back to recent window")
		return recentFallback(mem, k), nil
	}
	hits, err := m.index.Search(ctx, sessionID, vec, k)
	if err != nil {
		logger.Warn().Err(err).Str("session_id", sessionID).
			Msg("semantic search failed, falling back to recent window")
		return recentFallback(mem, k), nil
	}
	return hits, nil
}

func recentFallback(mem core.MemorySnapshot, k int) []core.IndexedTurn {
	start := len(mem.Recent) - k
	if start < 0 {
		start = 0
	}
	out := make([]core.IndexedTurn, 0, len(mem.Recent)-start)
	for _, e := range mem.Recent[start:] {
		content := eventText(e)
		if content == "" {
			continue
		}
		out = append(out, core.IndexedTurn{
			Turn:    e.Turn,
			Role:    e.Role,
			Content: content,
		})
	}
	return out
}
