// Package feedbackstore implements the Feedback Store (C14): an append-only
// ledger of user feedback with per-content trend computation.
package feedbackstore

import (
	"bufio"
	"encoding/json"
	"fmt"
	"os"
	"sort"
	"sync"
	"time"

	"github.com/Strob0t/fortitude/internal/domain/feedback"
)

// Store is an append-only, file-backed feedback ledger, indexed in memory
// by content ID (following the same JSONL append+rebuild idiom as the
// State Manager's event store).
type Store struct {
	mu    sync.Mutex
	file  *os.File
	index map[string][]feedback.UserFeedback
	now   func() time.Time
}

// Open opens or creates the feedback log at path and rebuilds its index.
func Open(path string) (*Store, error) {
	f, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_RDWR, 0o644)
	if err != nil {
		return nil, fmt.Errorf("feedbackstore: open %s: %w", path, err)
	}
	s := &Store{file: f, index: make(map[string][]feedback.UserFeedback), now: time.Now}
	if _, err := s.rebuildLocked(); err != nil {
		f.Close()
		return nil, err
	}
	return s, nil
}

// Close closes the underlying log file.
func (s *Store) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.file.Close()
}

// Store appends fb to the log and updates the in-memory index.
func (s *Store) Store(fb feedback.UserFeedback) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	data, err := json.Marshal(fb)
	if err != nil {
		return fmt.Errorf("feedbackstore: marshal: %w", err)
	}
	if _, err := s.file.Write(append(data, '\n')); err != nil {
		return fmt.Errorf("feedbackstore: append: %w", err)
	}
	s.index[fb.ContentID] = append(s.index[fb.ContentID], fb)
	return nil
}

// ForContent returns all feedback recorded for contentID, oldest first.
func (s *Store) ForContent(contentID string) []feedback.UserFeedback {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]feedback.UserFeedback, len(s.index[contentID]))
	copy(out, s.index[contentID])
	return out
}

// Trend computes the trend statistics for contentID over the last
// windowDays. TrendDirection is the sign of (mean of latest half - mean of
// earlier half) within the window.
func (s *Store) Trend(contentID string, windowDays int) feedback.Trend {
	s.mu.Lock()
	all := make([]feedback.UserFeedback, len(s.index[contentID]))
	copy(all, s.index[contentID])
	s.mu.Unlock()

	cutoff := s.now().AddDate(0, 0, -windowDays)
	var windowed []feedback.UserFeedback
	for _, fb := range all {
		if !fb.SubmittedAt.Before(cutoff) {
			windowed = append(windowed, fb)
		}
	}
	sort.Slice(windowed, func(i, j int) bool { return windowed[i].SubmittedAt.Before(windowed[j].SubmittedAt) })

	if len(windowed) == 0 {
		return feedback.Trend{}
	}

	var sum float64
	for _, fb := range windowed {
		sum += fb.Score
	}
	average := sum / float64(len(windowed))

	var variance float64
	for _, fb := range windowed {
		d := fb.Score - average
		variance += d * d
	}
	variance /= float64(len(windowed))

	mid := len(windowed) / 2
	earlier := windowed[:mid]
	latest := windowed[mid:]

	earlierMean := meanScore(earlier)
	latestMean := meanScore(latest)
	diff := latestMean - earlierMean

	direction := 0
	switch {
	case diff > 0:
		direction = 1
	case diff < 0:
		direction = -1
	}

	improvementRate := 0.0
	if earlierMean != 0 {
		improvementRate = diff / earlierMean
	}

	return feedback.Trend{
		Average:         average,
		TrendDirection:  direction,
		Count:           len(windowed),
		Variance:        variance,
		ImprovementRate: improvementRate,
	}
}

func meanScore(fbs []feedback.UserFeedback) float64 {
	if len(fbs) == 0 {
		return 0
	}
	var sum float64
	for _, fb := range fbs {
		sum += fb.Score
	}
	return sum / float64(len(fbs))
}

func (s *Store) rebuildLocked() (int, error) {
	if _, err := s.file.Seek(0, 0); err != nil {
		return 0, err
	}
	s.index = make(map[string][]feedback.UserFeedback)
	n := 0
	scanner := bufio.NewScanner(s.file)
	scanner.Buffer(make([]byte, 0, 64*1024), 1<<20)
	for scanner.Scan() {
		var fb feedback.UserFeedback
		if err := json.Unmarshal(scanner.Bytes(), &fb); err != nil {
			continue
		}
		s.index[fb.ContentID] = append(s.index[fb.ContentID], fb)
		n++
	}
	if err := scanner.Err(); err != nil {
		return 0, fmt.Errorf("feedbackstore: scan: %w", err)
	}
	if _, err := s.file.Seek(0, 2); err != nil {
		return 0, err
	}
	return n, nil
}
