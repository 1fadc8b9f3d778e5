package configsupervisor

import (
	"fmt"
	"os"
	"regexp"
	"strconv"
	"sync"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/Strob0t/fortitude/internal/providerselector"
)

// Watcher is notified with (old, new) after every successful Update.
type Watcher func(old, new Snapshot)

// Sources names where a Snapshot is assembled from: an optional YAML file
// (syntax is an implementation detail, not part of the abstract surface)
// overlaid with environment variables.
type Sources struct {
	FilePath string
}

// Supervisor holds the current validated Snapshot and notifies subscribers
// of accepted updates. Mirrors internal/config.ConfigHolder's swap-under-lock
// shape, generalized to a validated multi-watcher model.
type Supervisor struct {
	mu       sync.RWMutex
	current  Snapshot
	watchers []Watcher
}

// New creates a Supervisor holding an already-validated initial snapshot.
func New(initial Snapshot) (*Supervisor, error) {
	if err := validate(initial); err != nil {
		return nil, fmt.Errorf("configsupervisor: initial snapshot invalid: %w", err)
	}
	return &Supervisor{current: initial}, nil
}

// Current returns the snapshot presently in effect.
func (s *Supervisor) Current() Snapshot {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.current
}

// Subscribe registers w to be called after every successful Update.
func (s *Supervisor) Subscribe(w Watcher) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.watchers = append(s.watchers, w)
}

// Update validates candidate and, if valid, atomically swaps it in and
// notifies every subscriber with (old, new). An invalid candidate is
// rejected and the current snapshot is left untouched.
func (s *Supervisor) Update(candidate Snapshot) error {
	if err := validate(candidate); err != nil {
		return fmt.Errorf("configsupervisor: candidate rejected: %w", err)
	}

	s.mu.Lock()
	old := s.current
	candidate.Version = old.Version + 1
	s.current = candidate
	watchers := append([]Watcher(nil), s.watchers...)
	s.mu.Unlock()

	for _, w := range watchers {
		w(old, candidate)
	}
	return nil
}

// Load merges defaults < file < environment into a validated Snapshot,
// returning an error only if the merged result fails validation. A missing
// file is not an error; values that fail to parse from the environment
// fall back to the file/default value (never poisoning the snapshot).
func Load(sources Sources) (Snapshot, error) {
	snap := Default()

	if sources.FilePath != "" {
		if data, err := os.ReadFile(sources.FilePath); err == nil {
			if err := yaml.Unmarshal(data, &snap); err != nil {
				return Snapshot{}, fmt.Errorf("configsupervisor: parse %s: %w", sources.FilePath, err)
			}
		} else if !os.IsNotExist(err) {
			return Snapshot{}, fmt.Errorf("configsupervisor: read %s: %w", sources.FilePath, err)
		}
	}

	applyEnv(&snap)

	if err := validate(snap); err != nil {
		return Snapshot{}, fmt.Errorf("configsupervisor: merged snapshot invalid: %w", err)
	}
	return snap, nil
}

// applyEnv overlays recognized environment variables. Unparseable values
// are skipped (logged by the caller if desired), leaving the prior value.
func applyEnv(s *Snapshot) {
	setFloat64(&s.DetectionSettings.MinConfidenceThreshold, "FORTITUDE_MIN_CONFIDENCE_THRESHOLD")
	setInt64(&s.DetectionSettings.MaxFileSizeBytes, "FORTITUDE_MAX_FILE_SIZE_BYTES")
	setDuration(&s.DetectionSettings.AnalysisTimeout, "FORTITUDE_ANALYSIS_TIMEOUT")

	setBool(&s.Semantic.Enabled, "FORTITUDE_SEMANTIC_ENABLED")
	setFloat64(&s.Semantic.GapValidationThreshold, "FORTITUDE_GAP_VALIDATION_THRESHOLD")
	setFloat64(&s.Semantic.RelatedContentThreshold, "FORTITUDE_RELATED_CONTENT_THRESHOLD")
	setInt(&s.Semantic.MaxRelatedDocuments, "FORTITUDE_MAX_RELATED_DOCUMENTS")
	setInt(&s.Semantic.BatchSize, "FORTITUDE_SEMANTIC_BATCH_SIZE")
	setFloat64(&s.Semantic.SemanticPriorityWeight, "FORTITUDE_SEMANTIC_PRIORITY_WEIGHT")

	setDuration(&s.Performance.MaxTotalTime, "FORTITUDE_MAX_TOTAL_TIME")
	setInt(&s.Performance.MaxConcurrentAnalyses, "FORTITUDE_MAX_CONCURRENT_ANALYSES")

	setInt(&s.Priority.MinPriority, "FORTITUDE_MIN_PRIORITY")
	setInt(&s.Priority.MaxPriority, "FORTITUDE_MAX_PRIORITY")

	setBool(&s.Filtering.Enabled, "FORTITUDE_FILTERING_ENABLED")
	setInt(&s.Filtering.MinContentLength, "FORTITUDE_MIN_CONTENT_LENGTH")
	setInt(&s.Filtering.MaxGapsPerFile, "FORTITUDE_MAX_GAPS_PER_FILE")
	setBool(&s.Filtering.DuplicateDetection, "FORTITUDE_DUPLICATE_DETECTION")

	setBool(&s.Providers.EnableFailover, "FORTITUDE_ENABLE_FAILOVER")
	setInt(&s.Providers.MaxFailoverAttempts, "FORTITUDE_MAX_FAILOVER_ATTEMPTS")
	setDuration(&s.Providers.HealthCheckInterval, "FORTITUDE_HEALTH_CHECK_INTERVAL")
	if v := os.Getenv("FORTITUDE_SELECTION_STRATEGY"); v != "" {
		s.Providers.SelectionStrategy = providerselector.Strategy(v)
	}
}

// validate enforces §4.16's invariants: thresholds in [0,1] where declared,
// positive timeouts/limits, consistent priority bounds, and every regex
// compiles.
func validate(s Snapshot) error {
	for name, v := range map[string]float64{
		"detection_settings.min_confidence_threshold": s.DetectionSettings.MinConfidenceThreshold,
		"semantic.gap_validation_threshold":            s.Semantic.GapValidationThreshold,
		"semantic.related_content_threshold":           s.Semantic.RelatedContentThreshold,
		"semantic.semantic_priority_weight":            s.Semantic.SemanticPriorityWeight,
	} {
		if v < 0 || v > 1 {
			return fmt.Errorf("%s must be in [0,1], got %v", name, v)
		}
	}

	if s.DetectionSettings.MaxFileSizeBytes <= 0 {
		return fmt.Errorf("detection_settings.max_file_size_bytes must be positive")
	}
	if s.DetectionSettings.AnalysisTimeout <= 0 {
		return fmt.Errorf("detection_settings.analysis_timeout must be positive")
	}
	if s.Performance.MaxConcurrentAnalyses <= 0 {
		return fmt.Errorf("performance.max_concurrent_analyses must be positive")
	}
	if s.Filtering.MaxGapsPerFile <= 0 {
		return fmt.Errorf("filtering.max_gaps_per_file must be positive")
	}

	if s.Priority.MinPriority > s.Priority.MaxPriority {
		return fmt.Errorf("priority.min_priority (%d) must be <= priority.max_priority (%d)",
			s.Priority.MinPriority, s.Priority.MaxPriority)
	}

	for k, v := range s.DetectionRules {
		for _, pattern := range v.Patterns {
			if _, err := regexp.Compile(pattern); err != nil {
				return fmt.Errorf("detection_rules[%s]: invalid pattern %q: %w", k, pattern, err)
			}
		}
	}
	for _, pattern := range s.DetectionSettings.ExcludedFilePatterns {
		if _, err := regexp.Compile(pattern); err != nil {
			return fmt.Errorf("detection_settings.excluded_file_patterns: invalid pattern %q: %w", pattern, err)
		}
	}
	for _, rule := range s.Priority.CustomPriorityRules {
		if rule.FilePattern != "" {
			if _, err := regexp.Compile(rule.FilePattern); err != nil {
				return fmt.Errorf("priority.custom_priority_rules[%s].file_pattern: %w", rule.Name, err)
			}
		}
		if rule.ContentPattern != "" {
			if _, err := regexp.Compile(rule.ContentPattern); err != nil {
				return fmt.Errorf("priority.custom_priority_rules[%s].content_pattern: %w", rule.Name, err)
			}
		}
	}
	for _, rule := range s.Filtering.ExclusionRules {
		if _, err := regexp.Compile(rule); err != nil {
			return fmt.Errorf("filtering.exclusion_rules: invalid pattern %q: %w", rule, err)
		}
	}

	if s.Providers.MaxFailoverAttempts <= 0 {
		return fmt.Errorf("providers.max_failover_attempts must be positive")
	}
	if s.Providers.HealthCheckInterval <= 0 {
		return fmt.Errorf("providers.health_check_interval must be positive")
	}
	for _, p := range s.Providers.Providers {
		if p.Settings.Timeout <= 0 {
			return fmt.Errorf("providers[%s].settings.timeout must be positive", p.Name)
		}
	}

	return nil
}

func setInt(dst *int, key string) {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			*dst = n
		}
	}
}

func setInt64(dst *int64, key string) {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.ParseInt(v, 10, 64); err == nil {
			*dst = n
		}
	}
}

func setFloat64(dst *float64, key string) {
	if v := os.Getenv(key); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			*dst = f
		}
	}
}

func setBool(dst *bool, key string) {
	if v := os.Getenv(key); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			*dst = b
		}
	}
}

func setDuration(dst *time.Duration, key string) {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			*dst = d
		}
	}
}
