package configsupervisor

import (
	"time"

	"github.com/Strob0t/fortitude/internal/domain/gap"
	"github.com/Strob0t/fortitude/internal/providerselector"
)

// Default returns the baseline snapshot every preset starts from.
func Default() Snapshot {
	return Snapshot{
		DetectionSettings: DetectionSettings{
			MinConfidenceThreshold: 0.3,
			MaxFileSizeBytes:       1 << 20, // 1 MiB
			AnalysisTimeout:        5 * time.Second,
			SupportedExtensions:    []string{".go", ".md", ".yaml", ".yml", ".json"},
			ExcludedDirectories:    []string{"vendor", "node_modules", ".git"},
		},
		DetectionRules: map[gap.Kind]DetectionRule{
			gap.KindTODO:          {Enabled: true, Keywords: []string{"todo", "fixme"}, Threshold: 0.3},
			gap.KindDocumentation: {Enabled: true, Keywords: []string{"undocumented", "missing doc"}, Threshold: 0.3},
			gap.KindTechnology:    {Enabled: true, Keywords: []string{"deprecated", "legacy"}, Threshold: 0.3},
			gap.KindAPI:           {Enabled: true, Keywords: []string{"breaking change", "unstable api"}, Threshold: 0.3},
			gap.KindConfiguration: {Enabled: true, Keywords: []string{"hardcoded", "unconfigurable"}, Threshold: 0.3},
		},
		Semantic: Semantic{
			Enabled:                 false,
			GapValidationThreshold:  0.5,
			RelatedContentThreshold: 0.4,
			MaxRelatedDocuments:     5,
			BatchSize:               16,
			MaxAnalysisTime:         3 * time.Second,
			SemanticPriorityWeight:  0.2,
		},
		Performance: Performance{
			MaxTotalTime:              30 * time.Second,
			MaxConcurrentAnalyses:     4,
			MaxMemoryPerAnalysisBytes: 64 << 20,
		},
		Priority: Priority{
			BasePrioritiesByKind: map[gap.Kind]int{
				gap.KindTODO:          5,
				gap.KindDocumentation: 4,
				gap.KindTechnology:    6,
				gap.KindAPI:           7,
				gap.KindConfiguration: 5,
			},
			MinPriority: 0,
			MaxPriority: 10,
		},
		Filtering: Filtering{
			Enabled:              true,
			MinContentLength:     8,
			MinDescriptionLength: 4,
			MaxGapsPerFile:       20,
			DuplicateDetection:   true,
		},
		Providers: Providers{
			SelectionStrategy:   providerselector.StrategyBalanced,
			EnableFailover:      true,
			MaxFailoverAttempts: 3,
			HealthCheckInterval: 30 * time.Second,
		},
	}
}

// Rust favors the fastest, cheapest viable path: aggressive timeouts,
// lowest-latency selection, minimal semantic validation.
func Rust() Snapshot {
	s := Default()
	s.DetectionSettings.AnalysisTimeout = 1 * time.Second
	s.Performance.MaxTotalTime = 5 * time.Second
	s.Performance.MaxConcurrentAnalyses = 16
	s.Semantic.Enabled = false
	s.Providers.SelectionStrategy = providerselector.StrategyLowestLatency
	s.Providers.MaxFailoverAttempts = 1
	return s
}

// Performance maximizes throughput: high concurrency, round-robin spread,
// semantic validation disabled to avoid its latency cost.
func Performance() Snapshot {
	s := Default()
	s.Performance.MaxConcurrentAnalyses = 32
	s.Semantic.Enabled = false
	s.Providers.SelectionStrategy = providerselector.StrategyRoundRobin
	return s
}

// Accuracy favors correctness over speed: semantic validation enabled with
// a high bar, research-type-aware provider selection, generous timeouts.
func Accuracy() Snapshot {
	s := Default()
	s.DetectionSettings.MinConfidenceThreshold = 0.5
	s.Semantic.Enabled = true
	s.Semantic.GapValidationThreshold = 0.7
	s.Semantic.SemanticPriorityWeight = 0.4
	s.Performance.MaxTotalTime = 60 * time.Second
	s.Providers.SelectionStrategy = providerselector.StrategyResearchTypeOptimized
	s.Providers.MaxFailoverAttempts = 5
	return s
}

// Minimal is the smallest viable footprint: one concurrent analysis, no
// semantic stage, small per-file gap cap.
func Minimal() Snapshot {
	s := Default()
	s.Performance.MaxConcurrentAnalyses = 1
	s.Semantic.Enabled = false
	s.Filtering.MaxGapsPerFile = 5
	s.Providers.MaxFailoverAttempts = 1
	return s
}

// Comprehensive enables every optional stage and widens every cap, trading
// cost and latency for the most complete analysis.
func Comprehensive() Snapshot {
	s := Default()
	s.Semantic.Enabled = true
	s.Semantic.GapValidationThreshold = 0.3
	s.Semantic.MaxRelatedDocuments = 20
	s.Performance.MaxConcurrentAnalyses = 8
	s.Performance.MaxTotalTime = 120 * time.Second
	s.Filtering.MaxGapsPerFile = 100
	s.Providers.SelectionStrategy = providerselector.StrategyHighestSuccessRate
	s.Providers.MaxFailoverAttempts = 5
	return s
}

// Preset resolves name to one of the five named presets. Unknown names
// return Default().
func Preset(name string) Snapshot {
	switch name {
	case "rust":
		return Rust()
	case "performance":
		return Performance()
	case "accuracy":
		return Accuracy()
	case "minimal":
		return Minimal()
	case "comprehensive":
		return Comprehensive()
	default:
		return Default()
	}
}
