package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"sort"

	"github.com/storyloom/storyloom/internal/core"
	"github.com/storyloom/storyloom/pkg/log"
)

// TurnIndexRepo stores embeddings of turns evicted from short-term memory
// and answers nearest-neighbor queries over them. Similarity is computed in
// process; per-session logs are small enough that a full scan beats carrying
// a native vector extension.
type TurnIndexRepo struct {
	db *sql.DB
}

func NewTurnIndexRepo(db *sql.DB) *TurnIndexRepo {
	return &TurnIndexRepo{db: db}
}

// IndexTurn is idempotent per (session, turn, role): replaying a compaction
// after a crash re-indexes the same turns without duplicating rows.
func (r *TurnIndexRepo) IndexTurn(ctx context.Context, rec core.IndexedTurn) error {
	blob, err := serializeVector(rec.Embedding)
	if err != nil {
		return err
	}

	query := `INSERT INTO turn_index (id, session_id, turn_number, role, content, embedding, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (session_id, turn_number, role) DO NOTHING`
	_, err = r.db.ExecContext(ctx, query,
		rec.ID, rec.SessionID, rec.Turn, rec.Role, rec.Content, blob, rec.CreatedAt)
	if err != nil {
		return fmt.Errorf("failed to index turn: %w", err)
	}
	return nil
}

// Search returns up to k indexed turns of the session ranked by cosine
// similarity to the query vector, best first.
func (r *TurnIndexRepo) Search(ctx context.Context, sessionID string, vector []float32, k int) ([]core.IndexedTurn, error) {
	query := `SELECT id, session_id, turn_number, role, content, embedding, created_at
		FROM turn_index WHERE session_id = ? ORDER BY turn_number`

	rows, err := r.db.QueryContext(ctx, query, sessionID)
	if err != nil {
		return nil, fmt.Errorf("failed to query turn index: %w", err)
	}
	defer rows.Close()

	var hits []core.IndexedTurn
	for rows.Next() {
		var rec core.IndexedTurn
		var blob []byte
		if err := rows.Scan(&rec.ID, &rec.SessionID, &rec.Turn, &rec.Role, &rec.Content, &blob, &rec.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan indexed turn: %w", err)
		}
		emb, err := deserializeVector(blob)
		if err != nil {
			return nil, fmt.Errorf("turn %d of session %s: %w", rec.Turn, sessionID, err)
		}
		rec.Embedding = emb
		rec.Score = cosineSimilarity(vector, emb)
		hits = append(hits, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	sort.SliceStable(hits, func(i, j int) bool { return hits[i].Score > hits[j].Score })
	if len(hits) > k {
		hits = hits[:k]
	}

	log.FromCtx(ctx).Debug().
		Str("session_id", sessionID).
		Int("hits", len(hits)).
		Msg("turn index searched")
	return hits, nil
}
