// Package notifypipeline implements the Notification Pipeline (C13):
// summarizes a completed research task and dispatches it through configured
// notifier channels, with optional batching.
package notifypipeline

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/Strob0t/fortitude/internal/domain/notification"
	"github.com/Strob0t/fortitude/internal/port/notifier"
)

// Thresholds maps a detail level to the minimum overall_quality_score that
// selects it; evaluated from the highest threshold down.
type Thresholds struct {
	Comprehensive float64
	Detailed      float64
	Standard      float64
}

// DefaultThresholds matches a typical "comprehensive preset" configuration.
var DefaultThresholds = Thresholds{Comprehensive: 0.9, Detailed: 0.75, Standard: 0.5}

func (t Thresholds) level(overall float64) notification.DetailLevel {
	switch {
	case overall >= t.Comprehensive:
		return notification.DetailComprehensive
	case overall >= t.Detailed:
		return notification.DetailDetailed
	case overall >= t.Standard:
		return notification.DetailStandard
	default:
		return notification.DetailBrief
	}
}

// Pipeline dispatches completion summaries through a set of notifier channels.
type Pipeline struct {
	channels   []notifier.Notifier
	thresholds Thresholds

	batchSize    int
	batchTimeout time.Duration

	mu      sync.Mutex
	pending []notification.ResearchResultSummary
	timer   *time.Timer
}

// New creates a Pipeline. batchSize <= 1 disables batching (each completion
// is dispatched immediately).
func New(channels []notifier.Notifier, thresholds Thresholds, batchSize int, batchTimeout time.Duration) *Pipeline {
	return &Pipeline{channels: channels, thresholds: thresholds, batchSize: batchSize, batchTimeout: batchTimeout}
}

// Summarize builds a ResearchResultSummary from a completion event,
// computing overall quality and selecting a detail level (§4.13).
func (p *Pipeline) Summarize(ev notification.CompletionEvent) notification.ResearchResultSummary {
	overall := ev.Quality.Overall()
	return notification.ResearchResultSummary{
		TaskID:         ev.TaskID,
		FindingsCount:  ev.FindingsCount,
		SourcesCount:   ev.SourcesCount,
		Quality:        ev.Quality,
		OverallQuality: overall,
		DetailLevel:    p.thresholds.level(overall),
		NextActions:    ev.NextActions,
	}
}

// OnCompletion implements §4.13's contract: summarize, then dispatch
// immediately or buffer for batching.
func (p *Pipeline) OnCompletion(ctx context.Context, ev notification.CompletionEvent) error {
	summary := p.Summarize(ev)

	if p.batchSize <= 1 {
		return p.dispatch(ctx, []notification.ResearchResultSummary{summary})
	}

	p.mu.Lock()
	p.pending = append(p.pending, summary)
	flush := len(p.pending) >= p.batchSize
	var batch []notification.ResearchResultSummary
	if flush {
		batch = p.pending
		p.pending = nil
		if p.timer != nil {
			p.timer.Stop()
			p.timer = nil
		}
	} else if p.timer == nil && p.batchTimeout > 0 {
		p.timer = time.AfterFunc(p.batchTimeout, func() {
			p.mu.Lock()
			toSend := p.pending
			p.pending = nil
			p.timer = nil
			p.mu.Unlock()
			if len(toSend) > 0 {
				_ = p.dispatch(context.Background(), toSend)
			}
		})
	}
	p.mu.Unlock()

	if flush {
		return p.dispatch(ctx, batch)
	}
	return nil
}

// Flush forces any buffered summaries out immediately, e.g. on shutdown.
func (p *Pipeline) Flush(ctx context.Context) error {
	p.mu.Lock()
	batch := p.pending
	p.pending = nil
	if p.timer != nil {
		p.timer.Stop()
		p.timer = nil
	}
	p.mu.Unlock()
	if len(batch) == 0 {
		return nil
	}
	return p.dispatch(ctx, batch)
}

func (p *Pipeline) dispatch(ctx context.Context, batch []notification.ResearchResultSummary) error {
	note := notifier.Notification{
		Title:   fmt.Sprintf("%d research result(s) completed", len(batch)),
		Message: renderBatch(batch),
		Level:   "success",
		Source:  "research.completed",
	}

	var firstErr error
	for _, ch := range p.channels {
		if err := ch.Send(ctx, note); err != nil && firstErr == nil {
			firstErr = fmt.Errorf("notifypipeline: channel %s: %w", ch.Name(), err)
		}
	}
	return firstErr
}

func renderBatch(batch []notification.ResearchResultSummary) string {
	msg := ""
	for _, s := range batch {
		msg += fmt.Sprintf("[%s] task %s: %d findings, %d sources, quality=%.2f\n",
			s.DetailLevel, s.TaskID, s.FindingsCount, s.SourcesCount, s.OverallQuality)
	}
	return msg
}
