// Command fortitude runs the research orchestrator: it watches a file tree
// for knowledge gaps, queues research tasks for them, dispatches the queue
// through a pool of LLM providers with caching, rate limiting, and retry,
// and serves a narrow admin surface for the result.
package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"regexp"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/Strob0t/fortitude/internal/adaptation"
	fthttp "github.com/Strob0t/fortitude/internal/adapter/http"
	"github.com/Strob0t/fortitude/internal/adapter/diskcache"
	_ "github.com/Strob0t/fortitude/internal/adapter/discord"
	_ "github.com/Strob0t/fortitude/internal/adapter/email"
	"github.com/Strob0t/fortitude/internal/adapter/litellm"
	"github.com/Strob0t/fortitude/internal/adapter/litellmprovider"
	natsq "github.com/Strob0t/fortitude/internal/adapter/nats"
	fortitudeotel "github.com/Strob0t/fortitude/internal/adapter/otel"
	"github.com/Strob0t/fortitude/internal/adapter/ristretto"
	_ "github.com/Strob0t/fortitude/internal/adapter/slack"
	"github.com/Strob0t/fortitude/internal/adapter/statestore"
	"github.com/Strob0t/fortitude/internal/adapter/tiered"
	"github.com/Strob0t/fortitude/internal/adapter/vectorindex"
	"github.com/Strob0t/fortitude/internal/cache"
	"github.com/Strob0t/fortitude/internal/config"
	"github.com/Strob0t/fortitude/internal/configsupervisor"
	domainadaptation "github.com/Strob0t/fortitude/internal/domain/adaptation"
	"github.com/Strob0t/fortitude/internal/domain/feedback"
	"github.com/Strob0t/fortitude/internal/domain/notification"
	domainprovider "github.com/Strob0t/fortitude/internal/domain/provider"
	"github.com/Strob0t/fortitude/internal/domain/task"
	"github.com/Strob0t/fortitude/internal/execution"
	"github.com/Strob0t/fortitude/internal/executor"
	"github.com/Strob0t/fortitude/internal/feedbackstore"
	"github.com/Strob0t/fortitude/internal/filewatch"
	"github.com/Strob0t/fortitude/internal/gapdetector"
	"github.com/Strob0t/fortitude/internal/logger"
	fortitudemw "github.com/Strob0t/fortitude/internal/middleware"
	"github.com/Strob0t/fortitude/internal/notifypipeline"
	"github.com/Strob0t/fortitude/internal/port/messagequeue"
	"github.com/Strob0t/fortitude/internal/port/notifier"
	"github.com/Strob0t/fortitude/internal/providerregistry"
	"github.com/Strob0t/fortitude/internal/providerselector"
	"github.com/Strob0t/fortitude/internal/queue"
	"github.com/Strob0t/fortitude/internal/ratelimit"
	"github.com/Strob0t/fortitude/internal/retry"
	"github.com/Strob0t/fortitude/internal/secrets"
	"github.com/Strob0t/fortitude/internal/statemanager"
)

func main() {
	bootLog := slog.New(slog.NewJSONHandler(os.Stderr, nil))

	cfg, err := config.Load()
	if err != nil {
		bootLog.Error("config load failed", "error", err)
		os.Exit(1)
	}

	log, closer := logger.New(cfg.Logging)
	defer closer.Close()

	eventBus, err := natsq.Connect(context.Background(), cfg.NATS.URL)
	if err != nil {
		log.Warn("event bus connect failed, lifecycle events will not be published", "error", err)
		eventBus = nil
	}

	stateDir := stateDirOrDefault()

	snapshot, err := configsupervisor.Load(configsupervisor.Sources{FilePath: filepath.Join(stateDir, "fortitude.yaml")})
	if err != nil {
		log.Error("configuration supervisor load failed", "error", err)
		os.Exit(1)
	}
	supervisor, err := configsupervisor.New(snapshot)
	if err != nil {
		log.Error("configuration supervisor init failed", "error", err)
		os.Exit(1)
	}

	shutdownOtel, err := fortitudeotel.InitTracer(fortitudeotel.OTELConfig{
		Enabled:     cfg.OTEL.Enabled,
		Endpoint:    cfg.OTEL.Endpoint,
		ServiceName: "fortitude",
		Insecure:    cfg.OTEL.Insecure,
		SampleRate:  cfg.OTEL.SampleRate,
	})
	if err != nil {
		log.Error("otel init failed", "error", err)
		os.Exit(1)
	}
	metrics, err := fortitudeotel.NewMetrics()
	if err != nil {
		log.Error("metrics init failed", "error", err)
		os.Exit(1)
	}
	_ = metrics // instruments are created here; no component records observations on them

	vault, err := secrets.NewVault(secrets.EnvLoader(providerAPIKeyEnvVars(snapshot)...))
	if err != nil {
		log.Error("secrets vault init failed", "error", err)
		os.Exit(1)
	}

	registry := providerregistry.New(snapshot.Providers.HealthCheckInterval)
	for _, spec := range snapshot.Providers.Providers {
		if !spec.Enabled {
			continue
		}
		client := litellm.NewClient(spec.Settings.Endpoint, vault.Get(spec.Settings.APIKey))
		impl := litellmprovider.New(spec.Name, spec.Settings.Model, client, litellmprovider.PricePerThousand{
			Input:  spec.Settings.InputPricePerThousand,
			Output: spec.Settings.OutputPricePerThousand,
		})
		registry.Add(domainprovider.Record{
			Name:     spec.Name,
			Kind:     domainprovider.Kind(spec.Kind),
			Enabled:  spec.Enabled,
			Priority: spec.Priority,
			Settings: domainprovider.Settings{
				APIKeyEnv: spec.Settings.APIKey,
				Model:     spec.Settings.Model,
				Endpoint:  spec.Settings.Endpoint,
				Timeout:   spec.Settings.Timeout,
			},
		}, impl)
	}
	selector := providerselector.New(registry)

	limiters := make(map[string]*ratelimit.Limiter, len(snapshot.Providers.Providers))
	for _, spec := range snapshot.Providers.Providers {
		limiters[spec.Name] = ratelimit.New(ratelimit.Config{
			RequestsPerMin:     spec.Settings.RequestsPerMin,
			InputTokensPerMin:  spec.Settings.InputTokensPerMin,
			OutputTokensPerMin: spec.Settings.OutputTokensPerMin,
			MaxConcurrent:      spec.Settings.MaxConcurrent,
		})
	}

	retryController, err := retry.New(retry.Config{
		InitialDelay:  firstProviderRetryDelay(snapshot, 200*time.Millisecond),
		MaxDelay:      firstProviderRetryMaxDelay(snapshot, 10*time.Second),
		Multiplier:    firstProviderRetryMultiplier(snapshot, 2),
		JitterPercent: 20,
		MaxRetries:    uint64(firstProviderRetryAttempts(snapshot, 3)),
	})
	if err != nil {
		log.Error("retry controller init failed", "error", err)
		os.Exit(1)
	}

	l1, err := ristretto.New(64 << 20)
	if err != nil {
		log.Error("l1 cache init failed", "error", err)
		os.Exit(1)
	}
	l2, err := diskcache.New(filepath.Join(stateDir, "cache-l2"))
	if err != nil {
		log.Error("l2 cache init failed", "error", err)
		os.Exit(1)
	}
	tieredBackend := tiered.New(l1, l2, 5*time.Minute)
	responseCache := cache.New(tieredBackend, filepath.Join(stateDir, "cache-index.json"), 256<<20)

	coordinator := execution.New(responseCache, registry, selector, retryController, limiters,
		snapshot.Providers.SelectionStrategy, snapshot.Providers.MaxFailoverAttempts, time.Hour)

	eventStore, err := statestore.Open(filepath.Join(stateDir, "task-events.jsonl"))
	if err != nil {
		log.Error("event store init failed", "error", err)
		os.Exit(1)
	}
	states := statemanager.New(eventStore)

	taskQueue := queue.New(10000, filepath.Join(stateDir, "queue.jsonl"), 30*time.Second)
	if n, err := taskQueue.Load(context.Background()); err != nil {
		log.Warn("queue recovery failed", "error", err)
	} else if n > 0 {
		log.Info("queue recovered", "tasks", n)
	}

	exec := executor.New(taskQueue, states, coordinator, snapshot.Performance.MaxConcurrentAnalyses, retry.Config{
		InitialDelay: time.Second,
		MaxDelay:     30 * time.Second,
		Multiplier:   2,
		MaxRetries:   5,
	}, log)

	embeddedIndex := vectorindex.New(nil)
	detector := gapdetector.New(buildDetectorConfig(snapshot), embeddedIndex)

	watchRoot := watchRootOrDefault()
	watcher, err := filewatch.New(watchRoot, snapshot.DetectionSettings.ExcludedDirectories, log)
	if err != nil {
		log.Warn("file watcher init failed, proactive gap detection disabled", "root", watchRoot, "error", err)
		watcher = nil
	}

	fbStore, err := feedbackstore.Open(filepath.Join(stateDir, "feedback.jsonl"))
	if err != nil {
		log.Error("feedback store init failed", "error", err)
		os.Exit(1)
	}

	analyzer, err := adaptation.New(adaptation.AlgorithmFeedbackAnalyzer, 0.6)
	if err != nil {
		log.Error("adaptation engine init failed", "error", err)
		os.Exit(1)
	}

	pipeline := notifypipeline.New(notifierChannels(log), notifypipeline.DefaultThresholds, 1, 0)

	exec.OnComplete = func(t *task.ResearchTask, result execution.Result) {
		quality := notification.QualityMetrics{Relevance: 0.75, Credibility: 0.75, Completeness: 0.75, Timeliness: 0.75}
		if result.FromCache {
			quality.Timeliness = 0.9
		}

		if err := pipeline.OnCompletion(context.Background(), notification.CompletionEvent{
			TaskID:        t.TaskID,
			FindingsCount: 1,
			SourcesCount:  1,
			Quality:       quality,
		}); err != nil {
			log.Warn("notification dispatch failed", "task_id", t.TaskID, "error", err)
		}

		var durationMS int64
		if t.StartedAt != nil {
			durationMS = time.Since(*t.StartedAt).Milliseconds()
		}
		researchType, _ := t.Metadata["research_type"].(string)
		publishEvent(context.Background(), eventBus, log, messagequeue.SubjectTaskCompleted, messagequeue.TaskCompletedPayload{
			TaskID:       t.TaskID,
			GapID:        t.GapID,
			ResearchType: researchType,
			ProviderName: result.ProviderName,
			DurationMS:   durationMS,
		})

		if err := fbStore.Store(feedback.UserFeedback{
			ContentID:   t.GapID,
			Score:       quality.Overall(),
			SubmittedAt: time.Now(),
		}); err != nil {
			log.Warn("automatic feedback recording failed", "task_id", t.TaskID, "error", err)
			return
		}

		trend := fbStore.Trend(t.GapID, 30)
		analysis := analyzer.AnalyzeFeedback(domainadaptation.FeedbackBatch{
			Count:        trend.Count,
			AverageScore: trend.Average,
			RecentTrend:  trend.ImprovementRate,
		})
		if len(analysis.Recommendations) > 0 {
			log.Info("adaptation recommendations", "gap_id", t.GapID, "priority", analysis.Priority, "recommendations", analysis.Recommendations)
		}
	}

	exec.OnFail = func(t *task.ResearchTask, reason string) {
		publishEvent(context.Background(), eventBus, log, messagequeue.SubjectTaskFailed, messagequeue.TaskFailedPayload{
			TaskID:     t.TaskID,
			GapID:      t.GapID,
			RetryCount: t.RetryCount,
			Reason:     reason,
		})
	}

	supervisor.Subscribe(func(old, newSnap configsupervisor.Snapshot) {
		log.Info("configuration updated", "old_version", old.Version, "new_version", newSnap.Version)
	})

	handlers := &fthttp.Handlers{
		Registry:  registry,
		Queue:     taskQueue,
		Cache:     responseCache,
		StartedAt: time.Now(),
	}
	router := chi.NewRouter()
	router.Use(fortitudemw.RequestID)
	router.Use(fthttp.SecurityHeaders)
	router.Use(fthttp.CORS(cfg.Server.CORSOrigin))
	router.Use(fthttp.Logger)
	fthttp.MountRoutes(router, handlers)

	srv := &http.Server{
		Addr:              ":" + cfg.Server.Port,
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		log.Info("admin server listening", "addr", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("admin server: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		return exec.Run(gctx)
	})
	g.Go(func() error {
		ticker := time.NewTicker(30 * time.Second)
		defer ticker.Stop()
		for {
			select {
			case <-gctx.Done():
				return nil
			case <-ticker.C:
				if err := taskQueue.Persist(gctx); err != nil {
					log.Warn("queue persist failed", "error", err)
				}
			}
		}
	})
	if watcher != nil {
		g.Go(func() error {
			return watcher.Run(gctx, 2*time.Second, func(paths []string) {
				scanForGaps(gctx, detector, taskQueue, eventBus, log, paths)
			})
		})
	}

	<-ctx.Done()
	log.Info("shutdown phase 1: stopping admin server")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Warn("admin server shutdown error", "error", err)
	}

	log.Info("shutdown phase 2: draining in-flight tasks")
	if err := g.Wait(); err != nil {
		log.Warn("background loop error", "error", err)
	}

	log.Info("shutdown phase 3: persisting queue and closing stores")
	if err := taskQueue.Persist(context.Background()); err != nil {
		log.Warn("final queue persist failed", "error", err)
	}
	if err := eventStore.Close(); err != nil {
		log.Warn("event store close failed", "error", err)
	}
	if err := fbStore.Close(); err != nil {
		log.Warn("feedback store close failed", "error", err)
	}

	if eventBus != nil {
		if err := eventBus.Drain(); err != nil {
			log.Warn("event bus drain failed", "error", err)
		}
	}

	log.Info("shutdown phase 4: shutting down telemetry")
	if err := shutdownOtel(context.Background()); err != nil {
		log.Warn("otel shutdown error", "error", err)
	}
}

// publishEvent marshals payload and publishes it to subject on bus, tolerating
// a nil bus (no event bus connection) and logging, not failing, on error: the
// research pipeline itself does not depend on lifecycle events being observed.
func publishEvent(ctx context.Context, bus *natsq.Queue, log *slog.Logger, subject string, payload any) {
	if bus == nil {
		return
	}
	data, err := json.Marshal(payload)
	if err != nil {
		log.Warn("event payload marshal failed", "subject", subject, "error", err)
		return
	}
	if err := bus.Publish(ctx, subject, data); err != nil {
		log.Warn("event publish failed", "subject", subject, "error", err)
	}
}

func stateDirOrDefault() string {
	if dir := os.Getenv("FORTITUDE_STATE_DIR"); dir != "" {
		return dir
	}
	return "./data"
}

// notifierChannels builds the set of notification channels from environment
// configuration, skipping any channel whose required settings are absent.
// Each configured factory is registered by the corresponding adapter
// package's init(), so this only needs to know which env vars to read.
func notifierChannels(log *slog.Logger) []notifier.Notifier {
	var channels []notifier.Notifier

	if url := os.Getenv("FORTITUDE_SLACK_WEBHOOK_URL"); url != "" {
		n, err := notifier.New("slack", map[string]string{"webhook_url": url})
		if err != nil {
			log.Warn("slack notifier init failed", "error", err)
		} else {
			channels = append(channels, n)
		}
	}

	if url := os.Getenv("FORTITUDE_DISCORD_WEBHOOK_URL"); url != "" {
		n, err := notifier.New("discord", map[string]string{"webhook_url": url})
		if err != nil {
			log.Warn("discord notifier init failed", "error", err)
		} else {
			channels = append(channels, n)
		}
	}

	if host := os.Getenv("FORTITUDE_SMTP_HOST"); host != "" {
		n, err := notifier.New("email", map[string]string{
			"host":     host,
			"port":     os.Getenv("FORTITUDE_SMTP_PORT"),
			"from":     os.Getenv("FORTITUDE_SMTP_FROM"),
			"to":       os.Getenv("FORTITUDE_SMTP_TO"),
			"password": os.Getenv("FORTITUDE_SMTP_PASSWORD"),
		})
		if err != nil {
			log.Warn("email notifier init failed", "error", err)
		} else {
			channels = append(channels, n)
		}
	}

	return channels
}

func watchRootOrDefault() string {
	if dir := os.Getenv("FORTITUDE_WATCH_ROOT"); dir != "" {
		return dir
	}
	return "."
}

// scanForGaps re-analyzes each changed path and enqueues one research task
// per surviving gap, publishing a gap_detected event for each.
func scanForGaps(ctx context.Context, detector *gapdetector.Detector, taskQueue *queue.Queue, bus *natsq.Queue, log *slog.Logger, paths []string) {
	for _, path := range paths {
		content, err := os.ReadFile(path) //nolint:gosec // path comes from a local file watch, not user input
		if err != nil {
			if !os.IsNotExist(err) {
				log.Warn("gap scan read failed", "path", path, "error", err)
			}
			continue
		}

		gaps, err := detector.Analyze(ctx, path, content)
		if err != nil {
			log.Warn("gap analysis failed", "path", path, "error", err)
			continue
		}

		for _, eg := range gaps {
			t := &task.ResearchTask{
				TaskID:        uuid.New().String(),
				GapID:         eg.ID,
				Priority:      priorityBand(eg.Priority.Final),
				State:         task.StatePending,
				CreatedAt:     time.Now(),
				MaxRetries:    3,
				Timeout:       5 * time.Minute,
				ResearchQuery: eg.ResearchQuery,
				Metadata:      map[string]any{"research_type": string(eg.Kind)},
			}
			if err := taskQueue.Enqueue(ctx, t); err != nil {
				log.Warn("gap task enqueue failed", "gap_id", eg.ID, "error", err)
				continue
			}
			publishEvent(ctx, bus, log, messagequeue.SubjectGapDetected, messagequeue.GapDetectedPayload{
				GapID:      eg.ID,
				Kind:       string(eg.Kind),
				FilePath:   eg.FilePath,
				Priority:   int(t.Priority),
				Confidence: eg.Confidence,
			})
		}
	}
}

// priorityBand maps a gap's final numeric priority onto the task queue's
// coarse priority bands.
func priorityBand(final int) task.Priority {
	switch {
	case final >= int(task.PriorityCritical):
		return task.PriorityCritical
	case final >= int(task.PriorityHigh):
		return task.PriorityHigh
	case final >= int(task.PriorityMedium):
		return task.PriorityMedium
	default:
		return task.PriorityLow
	}
}

func providerAPIKeyEnvVars(snap configsupervisor.Snapshot) []string {
	keys := make([]string, 0, len(snap.Providers.Providers))
	for _, spec := range snap.Providers.Providers {
		if spec.Settings.APIKey != "" {
			keys = append(keys, spec.Settings.APIKey)
		}
	}
	return keys
}

func firstProviderRetryDelay(snap configsupervisor.Snapshot, fallback time.Duration) time.Duration {
	for _, spec := range snap.Providers.Providers {
		if spec.Settings.RetryInitialDelay > 0 {
			return spec.Settings.RetryInitialDelay
		}
	}
	return fallback
}

func firstProviderRetryMaxDelay(snap configsupervisor.Snapshot, fallback time.Duration) time.Duration {
	for _, spec := range snap.Providers.Providers {
		if spec.Settings.RetryMaxDelay > 0 {
			return spec.Settings.RetryMaxDelay
		}
	}
	return fallback
}

func firstProviderRetryMultiplier(snap configsupervisor.Snapshot, fallback float64) float64 {
	for _, spec := range snap.Providers.Providers {
		if spec.Settings.RetryMultiplier > 1 {
			return spec.Settings.RetryMultiplier
		}
	}
	return fallback
}

func firstProviderRetryAttempts(snap configsupervisor.Snapshot, fallback int) int {
	for _, spec := range snap.Providers.Providers {
		if spec.Settings.RetryMaxAttempts > 0 {
			return spec.Settings.RetryMaxAttempts
		}
	}
	return fallback
}

// buildDetectorConfig translates the configuration supervisor's snapshot
// into the Gap Detector's Config, compiling each detection rule's keyword
// set into a single alternation pattern.
func buildDetectorConfig(snap configsupervisor.Snapshot) gapdetector.Config {
	excludedPatterns := make([]*regexp.Regexp, 0, len(snap.DetectionSettings.ExcludedFilePatterns))
	for _, pat := range snap.DetectionSettings.ExcludedFilePatterns {
		if re, err := regexp.Compile(pat); err == nil {
			excludedPatterns = append(excludedPatterns, re)
		}
	}

	rules := make([]gapdetector.Rule, 0, len(snap.DetectionRules))
	for kind, rule := range snap.DetectionRules {
		if !rule.Enabled || len(rule.Keywords) == 0 {
			continue
		}
		re, err := regexp.Compile(`(?i)\b(` + joinAlternation(rule.Keywords) + `)\b`)
		if err != nil {
			continue
		}
		rules = append(rules, gapdetector.Rule{
			Kind:         kind,
			Pattern:      re,
			Description:  string(kind) + " gap",
			Confidence:   rule.Threshold,
			BasePriority: snap.Priority.BasePrioritiesByKind[kind],
		})
	}

	return gapdetector.Config{
		MaxFileSizeBytes:       snap.DetectionSettings.MaxFileSizeBytes,
		ExcludedDirectories:    snap.DetectionSettings.ExcludedDirectories,
		ExcludedFilePatterns:   excludedPatterns,
		Rules:                  rules,
		SemanticEnabled:        snap.Semantic.Enabled,
		GapValidationThreshold: snap.Semantic.GapValidationThreshold,
		SemanticPriorityWeight: snap.Semantic.SemanticPriorityWeight,
		MinContentLength:       snap.Filtering.MinContentLength,
		MinDescriptionLength:   snap.Filtering.MinDescriptionLength,
		MinPriority:            snap.Priority.MinPriority,
		MaxPriority:            snap.Priority.MaxPriority,
		MaxGapsPerFile:         snap.Filtering.MaxGapsPerFile,
	}
}

func joinAlternation(words []string) string {
	out := ""
	for i, w := range words {
		if i > 0 {
			out += "|"
		}
		out += regexp.QuoteMeta(w)
	}
	return out
}
