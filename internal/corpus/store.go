// Package corpus provides read-only indexed access to the segmented source
// narrative: ordered text chunks grouped by chapter.
package corpus

import (
	"encoding/json"
	"fmt"
	"os"
	"sort"

	"github.com/storyloom/storyloom/internal/core"
)

type chapterData struct {
	ID     int         `json:"id"`
	Chunks []chunkData `json:"chunks"`
}

type chunkData struct {
	ChunkID string `json:"chunk_id"`
	Text    string `json:"text"`
}

type chunkPos struct {
	chapter int // index into chapters
	offset  int // index into the chapter's chunk slice
}

// Store holds the whole corpus in memory. It is immutable after New and
// safe for unlocked concurrent use.
type Store struct {
	chapters []chapterData
	byID     map[string]chunkPos
	lastID   int // highest chapter id
}

func New(path string) (*Store, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read corpus file: %w", err)
	}
	return Parse(data)
}

func Parse(data []byte) (*Store, error) {
	var chapters []chapterData
	if err := json.Unmarshal(data, &chapters); err != nil {
		return nil, fmt.Errorf("decode corpus: %w", err)
	}

	sort.Slice(chapters, func(i, j int) bool { return chapters[i].ID < chapters[j].ID })

	s := &Store{
		chapters: chapters,
		byID:     make(map[string]chunkPos),
	}
	for ci, ch := range chapters {
		if ch.ID > s.lastID {
			s.lastID = ch.ID
		}
		for oi, c := range ch.Chunks {
			if _, dup := s.byID[c.ChunkID]; dup {
				return nil, fmt.Errorf("duplicate chunk id %q", c.ChunkID)
			}
			s.byID[c.ChunkID] = chunkPos{chapter: ci, offset: oi}
		}
	}
	return s, nil
}

func (s *Store) chapterByID(chapterID int) (*chapterData, error) {
	for i := range s.chapters {
		if s.chapters[i].ID == chapterID {
			return &s.chapters[i], nil
		}
	}
	return nil, fmt.Errorf("chapter %d: %w", chapterID, core.ErrNotFound)
}

func (s *Store) GetChunk(chunkID string) (core.Chunk, error) {
	pos, ok := s.byID[chunkID]
	if !ok {
		return core.Chunk{}, fmt.Errorf("chunk %q: %w", chunkID, core.ErrNotFound)
	}
	return s.chunkAt(pos), nil
}

func (s *Store) chunkAt(pos chunkPos) core.Chunk {
	ch := s.chapters[pos.chapter]
	c := ch.Chunks[pos.offset]

	lastInChapter := pos.offset == len(ch.Chunks)-1
	lastOverall := lastInChapter && ch.ID >= s.lastID

	var next string
	switch {
	case !lastInChapter:
		next = ch.Chunks[pos.offset+1].ChunkID
	case !lastOverall && pos.chapter+1 < len(s.chapters):
		nextCh := s.chapters[pos.chapter+1]
		if len(nextCh.Chunks) > 0 {
			next = nextCh.Chunks[0].ChunkID
		}
	}

	return core.Chunk{
		ChunkID:         c.ChunkID,
		ChapterID:       ch.ID,
		Text:            c.Text,
		IsLastInChapter: lastInChapter,
		IsLastOverall:   lastOverall,
		NextChunkID:     next,
	}
}

// GetChunksInRange returns the chunks of one chapter between startID and
// endID, both inclusive, in corpus order. The ids must belong to chapterID
// and startID must not come after endID.
func (s *Store) GetChunksInRange(chapterID int, startID, endID string) ([]core.Chunk, error) {
	start, ok := s.byID[startID]
	if !ok {
		return nil, fmt.Errorf("chunk %q: %w", startID, core.ErrNotFound)
	}
	end, ok := s.byID[endID]
	if !ok {
		return nil, fmt.Errorf("chunk %q: %w", endID, core.ErrNotFound)
	}
	if s.chapters[start.chapter].ID != chapterID || s.chapters[end.chapter].ID != chapterID {
		return nil, fmt.Errorf("chunks %q..%q are not both in chapter %d: %w", startID, endID, chapterID, core.ErrInvalidRange)
	}
	if start.offset > end.offset {
		return nil, fmt.Errorf("range %q..%q is reversed: %w", startID, endID, core.ErrInvalidRange)
	}

	out := make([]core.Chunk, 0, end.offset-start.offset+1)
	for off := start.offset; off <= end.offset; off++ {
		out = append(out, s.chunkAt(chunkPos{chapter: start.chapter, offset: off}))
	}
	return out, nil
}

func (s *Store) FirstChunk(chapterID int) (core.Chunk, error) {
	ch, err := s.chapterByID(chapterID)
	if err != nil {
		return core.Chunk{}, err
	}
	if len(ch.Chunks) == 0 {
		return core.Chunk{}, fmt.Errorf("chapter %d has no chunks: %w", chapterID, core.ErrNotFound)
	}
	return s.GetChunk(ch.Chunks[0].ChunkID)
}

func (s *Store) LastChunk(chapterID int) (core.Chunk, error) {
	ch, err := s.chapterByID(chapterID)
	if err != nil {
		return core.Chunk{}, err
	}
	if len(ch.Chunks) == 0 {
		return core.Chunk{}, fmt.Errorf("chapter %d has no chunks: %w", chapterID, core.ErrNotFound)
	}
	return s.GetChunk(ch.Chunks[len(ch.Chunks)-1].ChunkID)
}

func (s *Store) ChapterChunkCount(chapterID int) (int, error) {
	ch, err := s.chapterByID(chapterID)
	if err != nil {
		return 0, err
	}
	return len(ch.Chunks), nil
}
