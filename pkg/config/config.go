// Package config loads Memory Palace's runtime configuration once at
// startup from environment variables (with an optional YAML overlay),
// following the teacher's pattern of reading all tunables before any
// background task starts. Changes require a restart.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// EmbeddingBackend selects how query/content embeddings are produced.
type EmbeddingBackend string

const (
	EmbeddingNone   EmbeddingBackend = "none"
	EmbeddingHash   EmbeddingBackend = "hash"
	EmbeddingRouter EmbeddingBackend = "router"
	EmbeddingAPI    EmbeddingBackend = "api"
)

// Config is the full set of startup tunables from spec.md §6.
type Config struct {
	DataDir string

	// Governance
	VitalityMax           float64
	VitalityFloor         float64
	ReinforceDelta        float64
	DecayHalfLifeDays     float64
	CleanupThreshold      float64
	CleanupInactiveDays   int
	CleanupReviewTTL      time.Duration
	MaxPendingReviews     int
	SleepDedupThreshold   float64
	SleepRollupMaxChars   int
	SleepDedupApply       bool
	SleepRollupApply      bool

	// Write lane
	GlobalConcurrency int
	LaneWaitTimeout   time.Duration

	// Index worker
	IndexQueueCapacity  int
	IndexRecentJobsRing int
	IndexDeferOnWrite   bool
	IndexWorkerConcurrency int
	IndexMaxRetries        int
	IndexRetryBaseDelay    time.Duration
	IndexRetryMaxDelay     time.Duration

	// Retrieval
	SearchDefaultMode          string
	HybridKeywordWeight        float64
	HybridSemanticWeight       float64
	RerankerWeight             float64
	RerankerEnabled            bool
	ChunkSize                  int
	IntentStrongMargin         float64
	IntentFloor                float64
	IntentAmbiguousMargin      float64
	SemNoopThreshold           float64
	SemUpdateLow               float64
	KwNoopThreshold            float64
	KwUpdateThreshold          float64
	LLMConsultThreshold        float64

	// Embedding adapter
	EmbeddingBackend  EmbeddingBackend
	EmbeddingAPIBase  string
	EmbeddingAPIKey   string
	EmbeddingModel    string
	EmbeddingDim      int

	// Reranker adapter
	RerankerAPIBase string
	RerankerAPIKey  string
	RerankerModel   string

	// Write guard LLM arbitration
	WriteGuardLLMEnabled bool
	WriteGuardLLMAPIBase string
	WriteGuardLLMAPIKey  string
	WriteGuardLLMModel   string

	// Compact-context gist LLM (falls back to the write-guard LLM config
	// for any field left unset)
	CompactGistLLMEnabled bool
	CompactGistLLMAPIBase string
	CompactGistLLMAPIKey  string
	CompactGistLLMModel   string

	// Resolver
	ValidDomains  []string
	CoreMemoryURIs []string

	// Auth
	MCPAPIKey                   string
	MCPAPIKeyAllowInsecureLocal bool

	// Migration lock
	MigrationLockFile    string
	MigrationLockTimeout time.Duration

	// Remote call retries
	MaxRemoteRetries int
	RemoteTimeout    time.Duration
}

// Default returns the baseline configuration before environment/file
// overlays are applied.
func Default() Config {
	return Config{
		DataDir: "./data",

		VitalityMax:         100,
		VitalityFloor:       0,
		ReinforceDelta:      5,
		DecayHalfLifeDays:   30,
		CleanupThreshold:    10,
		CleanupInactiveDays: 90,
		CleanupReviewTTL:    15 * time.Minute,
		MaxPendingReviews:   20,
		SleepDedupThreshold: 0.92,
		SleepRollupMaxChars: 2000,
		SleepDedupApply:     false,
		SleepRollupApply:    false,

		GlobalConcurrency: 4,
		LaneWaitTimeout:   5 * time.Second,

		IndexQueueCapacity:     256,
		IndexRecentJobsRing:    50,
		IndexDeferOnWrite:      true,
		IndexWorkerConcurrency: 2,
		IndexMaxRetries:        3,
		IndexRetryBaseDelay:    200 * time.Millisecond,
		IndexRetryMaxDelay:     5 * time.Second,

		SearchDefaultMode:     "hybrid",
		HybridKeywordWeight:   0.5,
		HybridSemanticWeight:  0.5,
		RerankerWeight:        0.3,
		RerankerEnabled:       false,
		ChunkSize:             1200,
		IntentStrongMargin:    0.15,
		IntentFloor:           0.05,
		IntentAmbiguousMargin: 0.05,
		SemNoopThreshold:      0.95,
		SemUpdateLow:          0.80,
		KwNoopThreshold:       0.92,
		KwUpdateThreshold:     0.65,
		LLMConsultThreshold:   0.5,

		EmbeddingBackend: EmbeddingHash,
		EmbeddingModel:   "local-hash-v1",
		EmbeddingDim:     64,

		ValidDomains:   []string{"core", "notes", "agent", "project"},
		CoreMemoryURIs: []string{"core://agent/identity", "core://agent/style"},

		MCPAPIKeyAllowInsecureLocal: false,

		MigrationLockTimeout: 10 * time.Second,

		MaxRemoteRetries: 3,
		RemoteTimeout:    10 * time.Second,
	}
}

// Load starts from Default(), overlays the YAML file named by configPath if
// non-empty, then applies environment variables, which take precedence over
// both.
func Load(configPath string) (Config, error) {
	cfg := Default()

	if configPath != "" {
		data, err := os.ReadFile(configPath)
		if err != nil {
			return cfg, fmt.Errorf("failed to read config file: %w", err)
		}
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return cfg, fmt.Errorf("failed to parse config file: %w", err)
		}
	}

	applyEnv(&cfg)

	if err := cfg.Validate(); err != nil {
		return cfg, err
	}
	return cfg, nil
}

func applyEnv(cfg *Config) {
	str := func(key string, dst *string) {
		if v, ok := os.LookupEnv(key); ok {
			*dst = v
		}
	}
	boolean := func(key string, dst *bool) {
		if v, ok := os.LookupEnv(key); ok {
			*dst = v == "1" || strings.EqualFold(v, "true")
		}
	}
	integer := func(key string, dst *int) {
		if v, ok := os.LookupEnv(key); ok {
			if n, err := strconv.Atoi(v); err == nil {
				*dst = n
			}
		}
	}
	float := func(key string, dst *float64) {
		if v, ok := os.LookupEnv(key); ok {
			if f, err := strconv.ParseFloat(v, 64); err == nil {
				*dst = f
			}
		}
	}
	duration := func(key string, dst *time.Duration) {
		if v, ok := os.LookupEnv(key); ok {
			if d, err := time.ParseDuration(v); err == nil {
				*dst = d
			}
		}
	}
	list := func(key string, dst *[]string) {
		if v, ok := os.LookupEnv(key); ok && v != "" {
			*dst = strings.Split(v, ",")
		}
	}

	str("MEMORY_PALACE_DATA_DIR", &cfg.DataDir)

	float("VITALITY_MAX", &cfg.VitalityMax)
	float("VITALITY_FLOOR", &cfg.VitalityFloor)
	float("REINFORCE_DELTA", &cfg.ReinforceDelta)
	float("DECAY_HALF_LIFE_DAYS", &cfg.DecayHalfLifeDays)
	float("CLEANUP_THRESHOLD", &cfg.CleanupThreshold)
	integer("CLEANUP_INACTIVE_DAYS", &cfg.CleanupInactiveDays)
	if v, ok := os.LookupEnv("CLEANUP_REVIEW_TTL_SECONDS"); ok {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.CleanupReviewTTL = time.Duration(n) * time.Second
		}
	}
	integer("MAX_PENDING_REVIEWS", &cfg.MaxPendingReviews)

	integer("GLOBAL_CONCURRENCY", &cfg.GlobalConcurrency)
	duration("LANE_WAIT_TIMEOUT", &cfg.LaneWaitTimeout)

	integer("INDEX_QUEUE_CAPACITY", &cfg.IndexQueueCapacity)
	integer("INDEX_RECENT_JOBS_RING", &cfg.IndexRecentJobsRing)
	boolean("INDEX_DEFER_ON_WRITE", &cfg.IndexDeferOnWrite)
	integer("INDEX_WORKER_CONCURRENCY", &cfg.IndexWorkerConcurrency)
	integer("INDEX_MAX_RETRIES", &cfg.IndexMaxRetries)
	duration("INDEX_RETRY_BASE_DELAY", &cfg.IndexRetryBaseDelay)
	duration("INDEX_RETRY_MAX_DELAY", &cfg.IndexRetryMaxDelay)

	str("SEARCH_DEFAULT_MODE", &cfg.SearchDefaultMode)
	float("RETRIEVAL_HYBRID_KEYWORD_WEIGHT", &cfg.HybridKeywordWeight)
	float("RETRIEVAL_HYBRID_SEMANTIC_WEIGHT", &cfg.HybridSemanticWeight)
	float("RETRIEVAL_RERANKER_WEIGHT", &cfg.RerankerWeight)
	boolean("RETRIEVAL_RERANKER_ENABLED", &cfg.RerankerEnabled)
	integer("RETRIEVAL_CHUNK_SIZE", &cfg.ChunkSize)

	var backend string
	str("RETRIEVAL_EMBEDDING_BACKEND", &backend)
	if backend != "" {
		cfg.EmbeddingBackend = EmbeddingBackend(backend)
	}
	str("RETRIEVAL_EMBEDDING_API_BASE", &cfg.EmbeddingAPIBase)
	str("RETRIEVAL_EMBEDDING_API_KEY", &cfg.EmbeddingAPIKey)
	str("RETRIEVAL_EMBEDDING_MODEL", &cfg.EmbeddingModel)
	integer("RETRIEVAL_EMBEDDING_DIM", &cfg.EmbeddingDim)

	str("RETRIEVAL_RERANKER_API_BASE", &cfg.RerankerAPIBase)
	str("RETRIEVAL_RERANKER_API_KEY", &cfg.RerankerAPIKey)
	str("RETRIEVAL_RERANKER_MODEL", &cfg.RerankerModel)

	boolean("WRITE_GUARD_LLM_ENABLED", &cfg.WriteGuardLLMEnabled)
	str("WRITE_GUARD_LLM_API_BASE", &cfg.WriteGuardLLMAPIBase)
	str("WRITE_GUARD_LLM_API_KEY", &cfg.WriteGuardLLMAPIKey)
	str("WRITE_GUARD_LLM_MODEL", &cfg.WriteGuardLLMModel)

	boolean("COMPACT_GIST_LLM_ENABLED", &cfg.CompactGistLLMEnabled)
	str("COMPACT_GIST_LLM_API_BASE", &cfg.CompactGistLLMAPIBase)
	str("COMPACT_GIST_LLM_API_KEY", &cfg.CompactGistLLMAPIKey)
	str("COMPACT_GIST_LLM_MODEL", &cfg.CompactGistLLMModel)

	list("VALID_DOMAINS", &cfg.ValidDomains)
	list("CORE_MEMORY_URIS", &cfg.CoreMemoryURIs)

	str("MCP_API_KEY", &cfg.MCPAPIKey)
	boolean("MCP_API_KEY_ALLOW_INSECURE_LOCAL", &cfg.MCPAPIKeyAllowInsecureLocal)

	str("DB_MIGRATION_LOCK_FILE", &cfg.MigrationLockFile)
	duration("DB_MIGRATION_LOCK_TIMEOUT", &cfg.MigrationLockTimeout)

	boolean("SLEEP_DEDUP_APPLY", &cfg.SleepDedupApply)
	boolean("SLEEP_ROLLUP_APPLY", &cfg.SleepRollupApply)

	if cfg.MigrationLockFile == "" {
		cfg.MigrationLockFile = cfg.DataDir + "/memory-palace.db.migrate.lock"
	}
}

// EffectiveCompactGistLLM resolves the compact-context gist LLM settings,
// falling back field-by-field to the write-guard LLM config per spec.md
// §6 ("COMPACT_GIST_LLM_* with fallback to write-guard config").
func (c Config) EffectiveCompactGistLLM() (enabled bool, apiBase, apiKey, model string) {
	enabled = c.CompactGistLLMEnabled || c.WriteGuardLLMEnabled
	apiBase = c.CompactGistLLMAPIBase
	if apiBase == "" {
		apiBase = c.WriteGuardLLMAPIBase
	}
	apiKey = c.CompactGistLLMAPIKey
	if apiKey == "" {
		apiKey = c.WriteGuardLLMAPIKey
	}
	model = c.CompactGistLLMModel
	if model == "" {
		model = c.WriteGuardLLMModel
	}
	return enabled, apiBase, apiKey, model
}

// Validate rejects internally inconsistent configuration.
func (c Config) Validate() error {
	switch c.EmbeddingBackend {
	case EmbeddingNone, EmbeddingHash, EmbeddingRouter, EmbeddingAPI:
	default:
		return fmt.Errorf("config: unknown RETRIEVAL_EMBEDDING_BACKEND %q", c.EmbeddingBackend)
	}
	if c.HybridKeywordWeight < 0 || c.HybridKeywordWeight > 2 {
		return fmt.Errorf("config: RETRIEVAL_HYBRID_KEYWORD_WEIGHT out of range [0,2]")
	}
	if c.HybridSemanticWeight < 0 || c.HybridSemanticWeight > 2 {
		return fmt.Errorf("config: RETRIEVAL_HYBRID_SEMANTIC_WEIGHT out of range [0,2]")
	}
	if c.GlobalConcurrency < 1 {
		return fmt.Errorf("config: GLOBAL_CONCURRENCY must be >= 1")
	}
	if c.IndexQueueCapacity < 1 {
		return fmt.Errorf("config: INDEX_QUEUE_CAPACITY must be >= 1")
	}
	if c.VitalityFloor < 0 || c.VitalityFloor > c.VitalityMax {
		return fmt.Errorf("config: VITALITY_FLOOR must be within [0, VITALITY_MAX]")
	}
	switch c.SearchDefaultMode {
	case "keyword", "semantic", "hybrid":
	default:
		return fmt.Errorf("config: unknown SEARCH_DEFAULT_MODE %q", c.SearchDefaultMode)
	}
	return nil
}
