// Package statestore implements the eventstore.Store port as a local,
// append-only JSON-lines history file, grounding the State Manager (C12).
package statestore

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"sync"

	"github.com/Strob0t/fortitude/internal/domain/task"
	"github.com/Strob0t/fortitude/internal/port/eventstore"
)

// Store is a file-backed implementation of eventstore.Store. Every Append
// is written as one JSON line to an append-only log; History/Lifecycle are
// served from an in-memory index rebuilt on Recover. The log is the
// authoritative record — the index is a read-optimized cache over it.
type Store struct {
	mu      sync.RWMutex
	path    string
	file    *os.File
	byTask  map[string][]task.StateHistoryEntry
}

// Open opens (creating if necessary) the history log at path and rebuilds
// the in-memory index from its contents.
func Open(path string) (*Store, error) {
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o750); err != nil {
			return nil, fmt.Errorf("create state history dir: %w", err)
		}
	}

	f, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_RDWR, 0o600) //nolint:gosec // local history file, not user-controlled path
	if err != nil {
		return nil, fmt.Errorf("open state history log: %w", err)
	}

	s := &Store{
		path:   path,
		file:   f,
		byTask: make(map[string][]task.StateHistoryEntry),
	}
	if _, err := s.rebuildLocked(); err != nil {
		_ = f.Close()
		return nil, err
	}
	return s, nil
}

// Close releases the underlying file handle.
func (s *Store) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.file.Close()
}

// Append persists a new state transition entry, both to the on-disk log and
// the in-memory index.
func (s *Store) Append(_ context.Context, entry *task.StateHistoryEntry) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	data, err := json.Marshal(entry)
	if err != nil {
		return fmt.Errorf("marshal state history entry: %w", err)
	}
	data = append(data, '\n')
	if _, err := s.file.Write(data); err != nil {
		return fmt.Errorf("append state history entry: %w", err)
	}
	if err := s.file.Sync(); err != nil {
		return fmt.Errorf("sync state history log: %w", err)
	}

	s.byTask[entry.TaskID] = append(s.byTask[entry.TaskID], *entry)
	return nil
}

// History returns every entry for the given task, ordered oldest-first.
func (s *Store) History(_ context.Context, taskID string) ([]task.StateHistoryEntry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	entries := s.byTask[taskID]
	out := make([]task.StateHistoryEntry, len(entries))
	copy(out, entries)
	return out, nil
}

// Lifecycle derives a summary view over a task's full history.
func (s *Store) Lifecycle(ctx context.Context, taskID string) (*task.LifecycleSummary, error) {
	entries, err := s.History(ctx, taskID)
	if err != nil {
		return nil, err
	}
	if len(entries) == 0 {
		return nil, fmt.Errorf("lifecycle %s: %w", taskID, eventstore.ErrNoHistory)
	}

	summary := &task.LifecycleSummary{
		TaskID:       taskID,
		CurrentState: entries[len(entries)-1].ToState,
		Transitions:  len(entries),
		FirstAt:      entries[0].At,
		LastAt:       entries[len(entries)-1].At,
		History:      entries,
	}
	return summary, nil
}

// LoadTrajectory returns a cursor-paginated, filtered page of entries. The
// cursor is simply the string index offset into the task's ordered history.
func (s *Store) LoadTrajectory(ctx context.Context, taskID string, filter eventstore.HistoryFilter, cursor string, limit int) (*eventstore.HistoryPage, error) {
	entries, err := s.History(ctx, taskID)
	if err != nil {
		return nil, err
	}

	filtered := make([]task.StateHistoryEntry, 0, len(entries))
	for _, e := range entries {
		if !matchesFilter(e, filter) {
			continue
		}
		filtered = append(filtered, e)
	}

	offset := 0
	if cursor != "" {
		if _, err := fmt.Sscanf(cursor, "%d", &offset); err != nil {
			return nil, fmt.Errorf("invalid cursor %q: %w", cursor, err)
		}
	}
	if offset > len(filtered) {
		offset = len(filtered)
	}

	end := len(filtered)
	hasMore := false
	if limit > 0 && offset+limit < end {
		end = offset + limit
		hasMore = true
	}

	page := &eventstore.HistoryPage{
		Entries: filtered[offset:end],
		Total:   len(filtered),
		HasMore: hasMore,
	}
	if hasMore {
		page.Cursor = fmt.Sprintf("%d", end)
	}
	return page, nil
}

// Recover replays the on-disk log to reconcile the in-memory index,
// returning the number of distinct tasks recovered. Safe to call after a
// restart; it is the only operation that truncates and rebuilds the index.
func (s *Store) Recover(_ context.Context) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.rebuildLocked()
}

func (s *Store) rebuildLocked() (int, error) {
	if _, err := s.file.Seek(0, 0); err != nil {
		return 0, fmt.Errorf("seek state history log: %w", err)
	}

	byTask := make(map[string][]task.StateHistoryEntry)
	scanner := bufio.NewScanner(s.file)
	scanner.Buffer(make([]byte, 0, 64*1024), 4*1024*1024)
	for scanner.Scan() {
		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}
		var entry task.StateHistoryEntry
		if err := json.Unmarshal(line, &entry); err != nil {
			return 0, fmt.Errorf("parse state history line: %w", err)
		}
		byTask[entry.TaskID] = append(byTask[entry.TaskID], entry)
	}
	if err := scanner.Err(); err != nil {
		return 0, fmt.Errorf("scan state history log: %w", err)
	}

	if _, err := s.file.Seek(0, 2); err != nil {
		return 0, fmt.Errorf("seek to end of state history log: %w", err)
	}

	for _, entries := range byTask {
		sort.Slice(entries, func(i, j int) bool { return entries[i].At.Before(entries[j].At) })
	}

	s.byTask = byTask
	return len(byTask), nil
}

func matchesFilter(e task.StateHistoryEntry, f eventstore.HistoryFilter) bool {
	if f.After != nil && e.At.Before(*f.After) {
		return false
	}
	if f.Before != nil && e.At.After(*f.Before) {
		return false
	}
	if len(f.States) > 0 {
		found := false
		for _, st := range f.States {
			if e.ToState == st {
				found = true
				break
			}
		}
		if !found {
			return false
		}
	}
	return true
}
