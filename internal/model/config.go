package model

import (
	"fmt"
	"time"

	"github.com/go-playground/validator/v10"
)

// Config represents the promiselink configuration
type Config struct {
	Store      StoreConfig      `json:"store" yaml:"store" mapstructure:"store"`
	Embedding  EmbeddingConfig  `json:"embedding" yaml:"embedding" mapstructure:"embedding"`
	Classifier ClassifierConfig `json:"classifier" yaml:"classifier" mapstructure:"classifier"`
	Validator  ValidatorConfig  `json:"validator" yaml:"validator" mapstructure:"validator"`
	Matching   MatchingConfig   `json:"matching" yaml:"matching" mapstructure:"matching"`
	Thresholds ThresholdConfig  `json:"thresholds" yaml:"thresholds" mapstructure:"thresholds"`
	Pipeline   PipelineConfig   `json:"pipeline" yaml:"pipeline" mapstructure:"pipeline"`
	Cache      CacheConfig      `json:"cache" yaml:"cache" mapstructure:"cache"`
	HTTP       HTTPConfig       `json:"http" yaml:"http" mapstructure:"http"`
	Log        LogConfig        `json:"log" yaml:"log" mapstructure:"log"`
}

// StoreConfig selects the record store backend
type StoreConfig struct {
	Driver string `json:"driver" yaml:"driver" mapstructure:"driver" validate:"oneof=sqlite postgres"`
	DSN    string `json:"dsn" yaml:"dsn" mapstructure:"dsn" validate:"required"` // File path for sqlite, connection string for postgres
}

// EmbeddingConfig configures the embedding provider. An empty provider runs the
// candidate generator in keyword mode.
type EmbeddingConfig struct {
	Provider    string        `json:"provider" yaml:"provider" mapstructure:"provider" validate:"omitempty,oneof=openai gemini ollama"`
	Model       string        `json:"model" yaml:"model" mapstructure:"model"`
	BaseURL     string        `json:"base_url,omitempty" yaml:"base_url,omitempty" mapstructure:"base_url"`
	APIKey      string        `json:"-" yaml:"-" mapstructure:"api_key"`
	Timeout     time.Duration `json:"timeout" yaml:"timeout" mapstructure:"timeout" validate:"gte=0"`
	MinInterval time.Duration `json:"min_interval" yaml:"min_interval" mapstructure:"min_interval" validate:"gte=0"` // Between embedding calls, separate from the classifier's
}

// ClassifierConfig configures the relevance classifier used by the validator
type ClassifierConfig struct {
	Provider  string        `json:"provider" yaml:"provider" mapstructure:"provider" validate:"omitempty,oneof=openai anthropic claude gemini ollama"`
	Model     string        `json:"model" yaml:"model" mapstructure:"model"`
	BaseURL   string        `json:"base_url,omitempty" yaml:"base_url,omitempty" mapstructure:"base_url"`
	APIKey    string        `json:"-" yaml:"-" mapstructure:"api_key"`
	Timeout   time.Duration `json:"timeout" yaml:"timeout" mapstructure:"timeout" validate:"gte=0"` // Per call
	MaxTokens int           `json:"max_tokens" yaml:"max_tokens" mapstructure:"max_tokens" validate:"gte=0"`
}

// ValidatorConfig bounds the validator's retries and call volume
type ValidatorConfig struct {
	MaxRetries          int           `json:"max_retries" yaml:"max_retries" mapstructure:"max_retries" validate:"gte=0,lte=10"`
	RetryDelay          time.Duration `json:"retry_delay" yaml:"retry_delay" mapstructure:"retry_delay" validate:"gte=0"`
	MaxCallsPerEvidence int           `json:"max_calls_per_evidence" yaml:"max_calls_per_evidence" mapstructure:"max_calls_per_evidence" validate:"gte=0"`
	MinInterval         time.Duration `json:"min_interval" yaml:"min_interval" mapstructure:"min_interval" validate:"gte=0"` // Between classifier calls
}

// MatchingConfig tunes candidate generation
type MatchingConfig struct {
	TopK                  int                 `json:"top_k" yaml:"top_k" mapstructure:"top_k" validate:"gte=1"`
	MaxTextLength         int                 `json:"max_text_length" yaml:"max_text_length" mapstructure:"max_text_length" validate:"gte=1"`
	DepartmentBoost       float64             `json:"department_boost" yaml:"department_boost" mapstructure:"department_boost" validate:"gte=0,lte=1"`
	ImportantTermBoost    float64             `json:"important_term_boost" yaml:"important_term_boost" mapstructure:"important_term_boost" validate:"gte=0,lte=1"`
	MaxImportantTermBoost float64             `json:"max_important_term_boost" yaml:"max_important_term_boost" mapstructure:"max_important_term_boost" validate:"gte=0,lte=1"`
	ImportantTermWeight   float64             `json:"important_term_weight" yaml:"important_term_weight" mapstructure:"important_term_weight" validate:"gte=0,lte=1"`
	DepartmentTokenWeight float64             `json:"department_token_weight" yaml:"department_token_weight" mapstructure:"department_token_weight" validate:"gte=0,lte=1"`
	ImportantTerms        []string            `json:"important_terms" yaml:"important_terms" mapstructure:"important_terms"`
	Departments           map[string][]string `json:"departments" yaml:"departments" mapstructure:"departments"` // Canonical name -> aliases
}

// Thresholds is one row of the decision table
type Thresholds struct {
	SemanticFloor  float64 `json:"semantic_floor" yaml:"semantic_floor" mapstructure:"semantic_floor" validate:"gte=0,lte=1"`
	ValidatorFloor float64 `json:"validator_floor" yaml:"validator_floor" mapstructure:"validator_floor" validate:"gte=0,lte=1"`
	BypassCeiling  float64 `json:"bypass_ceiling" yaml:"bypass_ceiling" mapstructure:"bypass_ceiling" validate:"gte=0,lte=1"`
}

// ThresholdConfig holds the fallback row plus per-source-type overrides keyed by
// source type name.
type ThresholdConfig struct {
	Default  Thresholds            `json:"default" yaml:"default" mapstructure:"default"`
	BySource map[string]Thresholds `json:"by_source" yaml:"by_source" mapstructure:"by_source" validate:"dive"`
}

// PipelineConfig controls batching and run bounds
type PipelineConfig struct {
	BatchSize   int           `json:"batch_size" yaml:"batch_size" mapstructure:"batch_size" validate:"gte=1"`
	Concurrency int           `json:"concurrency" yaml:"concurrency" mapstructure:"concurrency" validate:"gte=1,lte=64"`
	RunTimeout  time.Duration `json:"run_timeout" yaml:"run_timeout" mapstructure:"run_timeout" validate:"gte=0"`
}

// CacheConfig selects where embeddings are cached
type CacheConfig struct {
	Backend   string        `json:"backend" yaml:"backend" mapstructure:"backend" validate:"oneof=none memory disk layered redis"`
	Dir       string        `json:"dir" yaml:"dir" mapstructure:"dir"`
	TTL       time.Duration `json:"ttl" yaml:"ttl" mapstructure:"ttl" validate:"gte=0"`
	RedisAddr string        `json:"redis_addr,omitempty" yaml:"redis_addr,omitempty" mapstructure:"redis_addr" validate:"required_if=Backend redis"`
}

// HTTPConfig configures proxies for provider clients
type HTTPConfig struct {
	HTTPProxy  string `json:"http_proxy,omitempty" yaml:"http_proxy,omitempty" mapstructure:"http_proxy"`
	HTTPSProxy string `json:"https_proxy,omitempty" yaml:"https_proxy,omitempty" mapstructure:"https_proxy"`
	NoProxy    string `json:"no_proxy,omitempty" yaml:"no_proxy,omitempty" mapstructure:"no_proxy"`
}

// LogConfig configures structured logging
type LogConfig struct {
	JSON  bool `json:"json" yaml:"json" mapstructure:"json"`
	Debug bool `json:"debug" yaml:"debug" mapstructure:"debug"`
}

// DefaultImportantTerms are policy terms whose co-occurrence strongly suggests a link
var DefaultImportantTerms = []string{
	"child care", "climate", "housing", "pharmacare", "dental", "indigenous",
	"reconciliation", "just transition", "clean energy", "carbon", "emissions",
	"firearms", "immigration", "healthcare", "infrastructure", "broadband",
	"tax", "pension", "veterans", "defence",
}

// DefaultDepartments maps canonical federal department names to common aliases
var DefaultDepartments = map[string][]string{
	"Natural Resources Canada": {"NRCan", "Natural Resources", "Minister of Energy and Natural Resources"},
	"Environment and Climate Change Canada": {"ECCC", "Environment Canada", "Environment and Climate Change"},
	"Finance Canada": {"Department of Finance", "Finance", "Minister of Finance"},
	"Health Canada": {"Health", "Minister of Health"},
	"Employment and Social Development Canada": {"ESDC", "Employment and Social Development"},
	"Innovation, Science and Economic Development Canada": {"ISED", "Innovation, Science and Industry", "Industry Canada"},
	"Infrastructure Canada": {"Housing, Infrastructure and Communities Canada", "INFC"},
	"Public Safety Canada": {"Public Safety", "Minister of Public Safety"},
	"Immigration, Refugees and Citizenship Canada": {"IRCC", "Immigration Canada"},
	"Crown-Indigenous Relations and Northern Affairs Canada": {"CIRNAC", "Crown-Indigenous Relations"},
	"Indigenous Services Canada": {"ISC", "Indigenous Services"},
	"National Defence": {"DND", "Department of National Defence", "Minister of National Defence"},
	"Veterans Affairs Canada": {"VAC", "Veterans Affairs"},
	"Transport Canada": {"Transport", "Minister of Transport"},
	"Justice Canada": {"Department of Justice", "Justice"},
}

// DefaultConfig returns the default configuration
func DefaultConfig() Config {
	departments := make(map[string][]string, len(DefaultDepartments))
	for name, aliases := range DefaultDepartments {
		departments[name] = append([]string(nil), aliases...)
	}

	return Config{
		Store: StoreConfig{
			Driver: "sqlite",
			DSN:    "~/.promiselink/promiselink.db",
		},
		Embedding: EmbeddingConfig{
			Provider:    "openai",
			Model:       "text-embedding-3-small",
			Timeout:     30 * time.Second,
			MinInterval: 200 * time.Millisecond,
		},
		Classifier: ClassifierConfig{
			Provider:  "openai",
			Model:     "gpt-4o-mini",
			Timeout:   30 * time.Second,
			MaxTokens: 400,
		},
		Validator: ValidatorConfig{
			MaxRetries:          2,
			RetryDelay:          2 * time.Second,
			MaxCallsPerEvidence: 10,
			MinInterval:         time.Second,
		},
		Matching: MatchingConfig{
			TopK:                  10,
			MaxTextLength:         1000,
			DepartmentBoost:       0.05,
			ImportantTermBoost:    0.02,
			MaxImportantTermBoost: 0.06,
			ImportantTermWeight:   0.1,
			DepartmentTokenWeight: 0.05,
			ImportantTerms:        append([]string(nil), DefaultImportantTerms...),
			Departments:           departments,
		},
		Thresholds: ThresholdConfig{
			Default: Thresholds{SemanticFloor: 0.45, ValidatorFloor: 0.7, BypassCeiling: 0.85},
			BySource: map[string]Thresholds{
				SourceBillEvent.String():      {SemanticFloor: 0.40, ValidatorFloor: 0.7, BypassCeiling: 0.80},
				SourceNewsRelease.String():    {SemanticFloor: 0.50, ValidatorFloor: 0.7, BypassCeiling: 0.88},
				SourceRegulation.String():     {SemanticFloor: 0.45, ValidatorFloor: 0.7, BypassCeiling: 0.85},
				SourceOrderInCouncil.String(): {SemanticFloor: 0.45, ValidatorFloor: 0.7, BypassCeiling: 0.85},
			},
		},
		Pipeline: PipelineConfig{
			BatchSize:   25,
			Concurrency: 4,
			RunTimeout:  2 * time.Hour,
		},
		Cache: CacheConfig{
			Backend: "layered",
			Dir:     "~/.promiselink/cache",
			TTL:     720 * time.Hour,
		},
	}
}

var structValidator = validator.New(validator.WithRequiredStructEnabled())

// Validate checks field ranges and the cross-field threshold ordering
func (c Config) Validate() error {
	if err := structValidator.Struct(c); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}

	if err := c.Thresholds.Default.check("default"); err != nil {
		return err
	}
	for name, row := range c.Thresholds.BySource {
		if _, err := ParseSourceType(name); err != nil {
			return fmt.Errorf("invalid config: thresholds.by_source: %w", err)
		}
		if err := row.check(name); err != nil {
			return err
		}
	}

	if c.Matching.MaxImportantTermBoost < c.Matching.ImportantTermBoost {
		return fmt.Errorf("invalid config: matching.max_important_term_boost (%.2f) below important_term_boost (%.2f)",
			c.Matching.MaxImportantTermBoost, c.Matching.ImportantTermBoost)
	}
	return nil
}

func (t Thresholds) check(name string) error {
	if t.SemanticFloor > t.BypassCeiling {
		return fmt.Errorf("invalid config: thresholds.%s: semantic_floor %.2f above bypass_ceiling %.2f",
			name, t.SemanticFloor, t.BypassCeiling)
	}
	return nil
}
