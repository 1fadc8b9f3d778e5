// Package configsupervisor implements the Configuration Supervisor (C16):
// a validated, atomically-swapped configuration snapshot with watcher
// notification, following the teacher's defaults<file<environment
// hierarchy and hot-reload shape (internal/config.ConfigHolder).
package configsupervisor

import (
	"time"

	"github.com/Strob0t/fortitude/internal/domain/gap"
	"github.com/Strob0t/fortitude/internal/providerselector"
)

// Snapshot is the complete, validated configuration surface (§6's abstract
// groups), a typed object independent of any file syntax.
type Snapshot struct {
	Version int

	DetectionSettings DetectionSettings
	DetectionRules    map[gap.Kind]DetectionRule
	Semantic          Semantic
	Performance       Performance
	Priority          Priority
	Filtering         Filtering
	Providers         Providers
}

// DetectionSettings bounds the Gap Detector's file-scanning scope.
type DetectionSettings struct {
	MinConfidenceThreshold float64
	MaxFileSizeBytes       int64
	AnalysisTimeout        time.Duration
	SupportedExtensions    []string
	ExcludedDirectories    []string
	ExcludedFilePatterns   []string
}

// DetectionRule configures one gap.Kind's rule family.
type DetectionRule struct {
	Enabled        bool
	Keywords       []string
	Patterns       []string
	Threshold      float64
	UrgentKeywords []string
	Boosts         map[string]int
}

// Semantic bounds the Gap Detector's optional vector-index validation stage.
type Semantic struct {
	Enabled                bool
	GapValidationThreshold float64
	RelatedContentThreshold float64
	MaxRelatedDocuments    int
	BatchSize              int
	MaxAnalysisTime        time.Duration
	SemanticPriorityWeight float64
	GapTypeKeywords        map[gap.Kind][]string
}

// Performance bounds Gap Detector resource usage.
type Performance struct {
	MaxTotalTime            time.Duration
	MaxConcurrentAnalyses   int
	MaxMemoryPerAnalysisBytes int64
}

// Priority bounds Gap Detector priority computation.
type Priority struct {
	BasePrioritiesByKind map[gap.Kind]int
	Boosts               map[string]int
	MinPriority           int
	MaxPriority           int
	CustomPriorityRules   []CustomPriorityRule
}

// CustomPriorityRule is one configured priority adjustment rule.
type CustomPriorityRule struct {
	Name           string
	FilePattern    string
	KindPattern    gap.Kind
	ContentPattern string
	Adjustment     int
}

// Filtering bounds Gap Detector quality filtering.
type Filtering struct {
	Enabled            bool
	MinContentLength   int
	MinDescriptionLength int
	ExclusionRules     []string
	ValidationRules    []string
	MaxGapsPerFile     int
	DuplicateDetection bool
}

// Providers configures the provider fleet and selection policy.
type Providers struct {
	Providers           []ProviderSpec
	SelectionStrategy   providerselector.Strategy
	EnableFailover      bool
	MaxFailoverAttempts int
	HealthCheckInterval time.Duration
}

// ProviderSpec configures one registered provider.
type ProviderSpec struct {
	Name     string
	Kind     string
	Enabled  bool
	Priority int
	Settings ProviderSettings
}

// ProviderSettings configures one provider's credentials and call limits.
type ProviderSettings struct {
	APIKey   string
	Model    string
	Endpoint string
	Timeout  time.Duration

	RequestsPerMin     int
	InputTokensPerMin  int
	OutputTokensPerMin int
	MaxConcurrent      int

	RetryMaxAttempts   int
	RetryInitialDelay  time.Duration
	RetryMaxDelay      time.Duration
	RetryMultiplier    float64

	InputPricePerThousand  float64
	OutputPricePerThousand float64
}
