// Package assembler slices corpus chunks into the context window presented
// to the generation provider for one anchor position.
package assembler

import (
	"fmt"
	"strings"

	"github.com/storyloom/storyloom/internal/core"
)

type Assembler struct {
	corpus core.CorpusRepository
}

func New(corpus core.CorpusRepository) *Assembler {
	return &Assembler{corpus: corpus}
}

type ContextStats struct {
	ChunksIncluded int    `json:"chunks_included"`
	HasTail        bool   `json:"has_tail"`
	StartChunkID   string `json:"start_chunk_id"`
	EndChunkID     string `json:"end_chunk_id"`
	TotalLength    int    `json:"total_length"`
}

// BuildContext assembles the text between the previous anchor (exclusive,
// or the chapter start when nil) and the current anchor (inclusive). When
// includeTail is set and the anchor closes its chapter, the remainder of
// the chapter is appended. The function is pure: identical inputs always
// produce identical output.
func (a *Assembler) BuildContext(current core.Anchor, previous *core.Anchor, includeTail, isLastAnchorInChapter bool) (string, ContextStats, error) {
	if previous != nil && previous.ChapterID != current.ChapterID {
		return "", ContextStats{}, fmt.Errorf(
			"previous anchor %s is in chapter %d, current %s in chapter %d: %w",
			previous.NodeID, previous.ChapterID, current.NodeID, current.ChapterID, core.ErrInvalidRange)
	}

	first, err := a.corpus.FirstChunk(current.ChapterID)
	if err != nil {
		return "", ContextStats{}, err
	}

	chunks, err := a.corpus.GetChunksInRange(current.ChapterID, first.ChunkID, current.ChunkID)
	if err != nil {
		return "", ContextStats{}, err
	}

	if previous != nil {
		if _, err := a.corpus.GetChunk(previous.ChunkID); err != nil {
			return "", ContextStats{}, err
		}
		cut := -1
		for i, c := range chunks {
			if c.ChunkID == previous.ChunkID {
				cut = i
				break
			}
		}
		if cut < 0 {
			return "", ContextStats{}, fmt.Errorf(
				"previous anchor chunk %s does not precede %s: %w",
				previous.ChunkID, current.ChunkID, core.ErrInvalidRange)
		}
		chunks = chunks[cut+1:]
	}

	stats := ContextStats{
		ChunksIncluded: len(chunks),
		EndChunkID:     current.ChunkID,
	}
	if len(chunks) > 0 {
		stats.StartChunkID = chunks[0].ChunkID
	} else {
		// previous and current resolve to the same chunk
		stats.StartChunkID = current.ChunkID
	}

	var sb strings.Builder
	for _, c := range chunks {
		sb.WriteString(c.Text)
	}
	if len(chunks) == 0 {
		cur, err := a.corpus.GetChunk(current.ChunkID)
		if err != nil {
			return "", ContextStats{}, err
		}
		sb.WriteString(cur.Text)
		stats.ChunksIncluded = 1
	}

	if includeTail && isLastAnchorInChapter {
		tail, err := a.tailAfter(current)
		if err != nil {
			return "", ContextStats{}, err
		}
		for _, c := range tail {
			sb.WriteString(c.Text)
		}
		if len(tail) > 0 {
			stats.HasTail = true
			stats.ChunksIncluded += len(tail)
			stats.EndChunkID = tail[len(tail)-1].ChunkID
		}
	}

	stats.TotalLength = sb.Len()
	return sb.String(), stats, nil
}

func (a *Assembler) tailAfter(current core.Anchor) ([]core.Chunk, error) {
	cur, err := a.corpus.GetChunk(current.ChunkID)
	if err != nil {
		return nil, err
	}
	if cur.IsLastInChapter {
		return nil, nil
	}
	last, err := a.corpus.LastChunk(current.ChapterID)
	if err != nil {
		return nil, err
	}
	return a.corpus.GetChunksInRange(current.ChapterID, cur.NextChunkID, last.ChunkID)
}
