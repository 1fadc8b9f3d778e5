package feedbackstore

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/Strob0t/fortitude/internal/domain/feedback"
)

func openTemp(t *testing.T) *Store {
	t.Helper()
	s, err := Open(filepath.Join(t.TempDir(), "feedback.jsonl"))
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func TestStoreThenForContentReturnsAll(t *testing.T) {
	s := openTemp(t)
	now := time.Now()
	s.now = func() time.Time { return now }

	_ = s.Store(feedback.UserFeedback{ContentID: "c1", Score: 0.8, SubmittedAt: now})
	_ = s.Store(feedback.UserFeedback{ContentID: "c1", Score: 0.6, SubmittedAt: now.Add(time.Hour)})
	_ = s.Store(feedback.UserFeedback{ContentID: "c2", Score: 0.9, SubmittedAt: now})

	got := s.ForContent("c1")
	if len(got) != 2 {
		t.Fatalf("expected 2 entries for c1, got %d", len(got))
	}
}

func TestTrendDetectsImprovement(t *testing.T) {
	s := openTemp(t)
	now := time.Now()
	s.now = func() time.Time { return now }

	_ = s.Store(feedback.UserFeedback{ContentID: "c1", Score: 0.4, SubmittedAt: now.Add(-3 * 24 * time.Hour)})
	_ = s.Store(feedback.UserFeedback{ContentID: "c1", Score: 0.5, SubmittedAt: now.Add(-2 * 24 * time.Hour)})
	_ = s.Store(feedback.UserFeedback{ContentID: "c1", Score: 0.8, SubmittedAt: now.Add(-1 * 24 * time.Hour)})
	_ = s.Store(feedback.UserFeedback{ContentID: "c1", Score: 0.9, SubmittedAt: now})

	trend := s.Trend("c1", 7)
	if trend.TrendDirection != 1 {
		t.Fatalf("expected improving trend (+1), got %d", trend.TrendDirection)
	}
	if trend.Count != 4 {
		t.Fatalf("expected count 4, got %d", trend.Count)
	}
}

func TestTrendExcludesEntriesOutsideWindow(t *testing.T) {
	s := openTemp(t)
	now := time.Now()
	s.now = func() time.Time { return now }

	_ = s.Store(feedback.UserFeedback{ContentID: "c1", Score: 0.1, SubmittedAt: now.Add(-30 * 24 * time.Hour)})
	_ = s.Store(feedback.UserFeedback{ContentID: "c1", Score: 0.9, SubmittedAt: now})

	trend := s.Trend("c1", 7)
	if trend.Count != 1 {
		t.Fatalf("expected only the in-window entry counted, got %d", trend.Count)
	}
}

func TestRebuildRestoresIndexAfterReopen(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "feedback.jsonl")

	s, err := Open(path)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	_ = s.Store(feedback.UserFeedback{ContentID: "c1", Score: 0.7, SubmittedAt: time.Now()})
	s.Close()

	s2, err := Open(path)
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	defer s2.Close()
	if len(s2.ForContent("c1")) != 1 {
		t.Fatalf("expected rebuilt index to contain 1 entry, got %d", len(s2.ForContent("c1")))
	}
}
