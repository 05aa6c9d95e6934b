package core

import "context"

// CorpusRepository is read-only after load and safe for unlocked sharing
// across sessions.
type CorpusRepository interface {
	GetChunk(chunkID string) (Chunk, error)
	GetChunksInRange(chapterID int, startID, endID string) ([]Chunk, error)
	FirstChunk(chapterID int) (Chunk, error)
	LastChunk(chapterID int) (Chunk, error)
	ChapterChunkCount(chapterID int) (int, error)
}

type SnapshotRepository interface {
	LoadSnapshot(ctx context.Context, sessionID string) (*Snapshot, error)
	SaveSnapshot(ctx context.Context, snapshot *Snapshot) error
}

type EventLogRepository interface {
	AppendEvent(ctx context.Context, sessionID string, event TurnEvent) error
	ReadEvents(ctx context.Context, sessionID string, fromTurn int) ([]TurnEvent, error)
	LatestTurn(ctx context.Context, sessionID string) (int, error)
}

// TurnIndexRepository is the semantic index over turns evicted from
// short-term memory.
type TurnIndexRepository interface {
	IndexTurn(ctx context.Context, rec IndexedTurn) error
	Search(ctx context.Context, sessionID string, vector []float32, k int) ([]IndexedTurn, error)
}
