package session

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"sync"

	"github.com/storyloom/storyloom/internal/core"
	"github.com/storyloom/storyloom/pkg/log"
)

// Store persists sessions on disk as two files per session: an append-only
// event log (<id>.jsonl, one JSON event per line) and a snapshot
// (<id>_snapshot.json). The log is the source of truth; the snapshot is a
// rebuildable read model.
type Store struct {
	dir string

	// serializes appends and snapshot swaps; reads go lock-free
	mu sync.Mutex
}

var sessionIDPattern = regexp.MustCompile(`^[A-Za-z0-9_-]+$`)

func NewStore(dir string) (*Store, error) {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create sessions directory: %w", err)
	}
	return &Store{dir: dir}, nil
}

func (s *Store) logPath(sessionID string) string {
	return filepath.Join(s.dir, sessionID+".jsonl")
}

func (s *Store) snapshotPath(sessionID string) string {
	return filepath.Join(s.dir, sessionID+"_snapshot.json")
}

func checkSessionID(sessionID string) error {
	if !sessionIDPattern.MatchString(sessionID) {
		return fmt.Errorf("invalid session id %q: %w", sessionID, core.ErrNotFound)
	}
	return nil
}

func (s *Store) LoadSnapshot(ctx context.Context, sessionID string) (*core.Snapshot, error) {
	if err := checkSessionID(sessionID); err != nil {
		return nil, err
	}
	data, err := os.ReadFile(s.snapshotPath(sessionID))
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, fmt.Errorf("session %s: %w", sessionID, core.ErrNotFound)
		}
		return nil, fmt.Errorf("failed to read snapshot: %w", err)
	}
	var snap core.Snapshot
	if err := json.Unmarshal(data, &snap); err != nil {
		return nil, fmt.Errorf("failed to decode snapshot for %s: %w", sessionID, err)
	}
	return &snap, nil
}

// SaveSnapshot writes atomically via a temp file so a crash mid-write never
// leaves a half-written snapshot behind.
func (s *Store) SaveSnapshot(ctx context.Context, snap *core.Snapshot) error {
	if err := checkSessionID(snap.SessionID); err != nil {
		return err
	}
	data, err := json.MarshalIndent(snap, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to encode snapshot: %w", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	target := s.snapshotPath(snap.SessionID)
	tmp := target + ".tmp"
	if err := os.WriteFile(tmp, data, 0644); err != nil {
		return fmt.Errorf("failed to write snapshot: %w", err)
	}
	if err := os.Rename(tmp, target); err != nil {
		return fmt.Errorf("failed to swap snapshot: %w", err)
	}

	log.FromCtx(ctx).Debug().Str("session_id", snap.SessionID).Msg("snapshot saved")
	return nil
}

func (s *Store) AppendEvent(ctx context.Context, sessionID string, event core.TurnEvent) error {
	if err := checkSessionID(sessionID); err != nil {
		return err
	}
	line, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("failed to encode event: %w", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	f, err := os.OpenFile(s.logPath(sessionID), os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0644)
	if err != nil {
		return fmt.Errorf("failed to open event log: %w", err)
	}
	defer f.Close()

	if _, err := f.Write(append(line, '\n')); err != nil {
		return fmt.Errorf("failed to append event: %w", err)
	}
	return f.Sync()
}

// ReadEvents returns events with turn >= fromTurn in log order. A missing
// log means no events yet, not a missing session; the snapshot decides
// whether a session exists.
func (s *Store) ReadEvents(ctx context.Context, sessionID string, fromTurn int) ([]core.TurnEvent, error) {
	if err := checkSessionID(sessionID); err != nil {
		return nil, err
	}
	f, err := os.Open(s.logPath(sessionID))
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to open event log: %w", err)
	}
	defer f.Close()

	var events []core.TurnEvent
	scanner := bufio.NewScanner(f)
	// Long generated scripts can exceed the default token size
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	lineNo := 0
	for scanner.Scan() {
		lineNo++
		raw := scanner.Bytes()
		if len(raw) == 0 {
			continue
		}
		var e core.TurnEvent
		if err := json.Unmarshal(raw, &e); err != nil {
			return nil, fmt.Errorf("corrupt event log %s line %d: %w", sessionID, lineNo, err)
		}
		if e.Turn >= fromTurn {
			events = append(events, e)
		}
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("failed to read event log: %w", err)
	}

	log.FromCtx(ctx).Debug().Str("session_id", sessionID).Int("count", len(events)).Msg("events loaded")
	return events, nil
}

// LatestTurn reports the highest turn number in the log, 0 when the log is
// empty or absent. Events append in order, so the last line wins.
func (s *Store) LatestTurn(ctx context.Context, sessionID string) (int, error) {
	events, err := s.ReadEvents(ctx, sessionID, 0)
	if err != nil {
		return 0, err
	}
	latest := 0
	for _, e := range events {
		if e.Turn > latest {
			latest = e.Turn
		}
	}
	return latest, nil
}
