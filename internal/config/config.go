package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/kelseyhightower/envconfig"
	"github.com/mrwolf/journeygen/internal/models"
	"github.com/robfig/cron/v3"
	"gopkg.in/yaml.v3"
)

// ErrConfigInvalid marks configuration problems that prevent a run from starting
var ErrConfigInvalid = errors.New("config invalid")

// DateLayout is the layout of every date option
const DateLayout = "2006-01-02"

// EnvPrefix prefixes every environment override
const EnvPrefix = "JOURNEY"

type Config struct {
	StartDate  string                 `yaml:"start_date" envconfig:"START_DATE"`
	EndDate    string                 `yaml:"end_date" envconfig:"END_DATE"`
	Seed       int64                  `yaml:"seed" envconfig:"SEED"`
	Member     models.Member          `yaml:"member" envconfig:"MEMBER"`
	Roster     []models.Role          `yaml:"roster" ignored:"true"`
	Events     map[string]EventConfig `yaml:"events" ignored:"true"`
	Travel     TravelConfig           `yaml:"travel" envconfig:"TRAVEL"`
	Dedup      DedupConfig            `yaml:"dedup" envconfig:"DEDUP"`
	Generation GenerationConfig       `yaml:"generation" envconfig:"GENERATION"`
	Backend    BackendConfig          `yaml:"backend" envconfig:"BACKEND"`
	Output     OutputConfig           `yaml:"output" envconfig:"OUTPUT"`
	Ledger     LedgerConfig           `yaml:"ledger" envconfig:"LEDGER"`
	Log        LogConfig              `yaml:"log" envconfig:"LOG"`
	Serve      ServeConfig            `yaml:"serve" envconfig:"SERVE"`
}

// EventConfig overrides the default cadence of one event type.
// Unset fields keep the built-in default.
type EventConfig struct {
	Role        string   `yaml:"role"`
	Interval    *int     `yaml:"interval"`
	Jitter      *int     `yaml:"jitter"`
	MinSpacing  *int     `yaml:"min_spacing"`
	Offset      *int     `yaml:"offset"`
	Probability *float64 `yaml:"probability"`
	Hour        *int     `yaml:"hour"`
	Temperature *float64 `yaml:"temperature"`
	Disabled    bool     `yaml:"disabled"`
}

// Trip is an explicit travel period
type Trip struct {
	Start    string `yaml:"start"`
	End      string `yaml:"end"`
	Location string `yaml:"location"`
}

type TravelConfig struct {
	Trips       []Trip   `yaml:"trips" ignored:"true"`
	EveryNWeeks int      `yaml:"every_n_weeks" envconfig:"EVERY_N_WEEKS"`
	Locations   []string `yaml:"locations" envconfig:"LOCATIONS"`
	Probability float64  `yaml:"probability" envconfig:"PROBABILITY"`
}

type DedupConfig struct {
	Threshold float64 `yaml:"threshold" envconfig:"THRESHOLD"`
	Window    int     `yaml:"window" envconfig:"WINDOW"`
}

type GenerationConfig struct {
	MaxRegenRetries       int     `yaml:"max_regen_retries" envconfig:"MAX_REGEN_RETRIES"`
	MaxTokens             int     `yaml:"max_tokens" envconfig:"MAX_TOKENS"`
	ParaphraseTemperature float64 `yaml:"paraphrase_temperature" envconfig:"PARAPHRASE_TEMPERATURE"`
	MaxSentences          int     `yaml:"max_sentences" envconfig:"MAX_SENTENCES"`
	MaxTurnsPerDay        int     `yaml:"max_turns_per_day" envconfig:"MAX_TURNS_PER_DAY"`
	AdherenceProb         float64 `yaml:"adherence_prob" envconfig:"ADHERENCE_PROB"`
	EscalationThreshold   int     `yaml:"escalation_threshold" envconfig:"ESCALATION_THRESHOLD"`
	TopicWindow           int     `yaml:"topic_window" envconfig:"TOPIC_WINDOW"`
}

type BackendConfig struct {
	Kind      string        `yaml:"kind" envconfig:"KIND"`
	URL       string        `yaml:"url" envconfig:"URL"`
	Model     string        `yaml:"model" envconfig:"MODEL"`
	ModelPath string        `yaml:"model_path" envconfig:"MODEL_PATH"`
	APIKey    string        `yaml:"api_key" envconfig:"API_KEY"`
	Timeout   time.Duration `yaml:"timeout" envconfig:"TIMEOUT"`
	Attempts  int           `yaml:"attempts" envconfig:"ATTEMPTS"`
	Backoff   time.Duration `yaml:"backoff" envconfig:"BACKOFF"`
	MaxChars  int           `yaml:"max_chars" envconfig:"MAX_CHARS"`
	CacheURL  string        `yaml:"cache_url" envconfig:"CACHE_URL"`
	CacheTTL  time.Duration `yaml:"cache_ttl" envconfig:"CACHE_TTL"`
}

// ModelName returns the model identifier passed to the backend
func (b BackendConfig) ModelName() string {
	if b.Model != "" {
		return b.Model
	}
	return b.ModelPath
}

type OutputConfig struct {
	Dir        string `yaml:"dir" envconfig:"DIR"`
	PromptsDir string `yaml:"prompts_dir" envconfig:"PROMPTS_DIR"`
	PromptLog  string `yaml:"prompt_log" envconfig:"PROMPT_LOG"`
}

type LedgerConfig struct {
	DSN string `yaml:"dsn" envconfig:"DSN"`
}

type LogConfig struct {
	Level  string `yaml:"level" envconfig:"LEVEL"`
	Format string `yaml:"format" envconfig:"FORMAT"`
}

type ServeConfig struct {
	Addr           string        `yaml:"addr" envconfig:"ADDR"`
	HealthInterval time.Duration `yaml:"health_interval" envconfig:"HEALTH_INTERVAL"`
	RegenerateCron string        `yaml:"regenerate_cron" envconfig:"REGENERATE_CRON"`
	Timezone       string        `yaml:"timezone" envconfig:"TIMEZONE"`
}

// Backend kinds
const (
	BackendOllama  = "ollama"
	BackendOpenAI  = "openai"
	BackendOffline = "offline"
)

// Default returns the built-in configuration: an 8-month run for one member
// with the four-role roster.
func Default() *Config {
	return &Config{
		StartDate: "2025-01-01",
		EndDate:   "2025-08-28",
		Member: models.Member{
			ID:               "rohan_patel_001",
			Name:             "Rohan Patel",
			Age:              36,
			Location:         "Singapore",
			ChronicCondition: "High LDL cholesterol",
		},
		Roster: []models.Role{
			{Name: "Rohan", Category: models.CategoryMember},
			{Name: "Ruby", Category: models.CategoryRelationship},
			{Name: "Dr_Warren", Category: models.CategoryClinical},
			{Name: "Advik", Category: models.CategoryCoaching},
		},
		Travel: TravelConfig{
			EveryNWeeks: 4,
			Locations:   []string{"London", "New York", "Tokyo", "Jakarta"},
			Probability: 0.3,
		},
		Dedup: DedupConfig{
			Threshold: 0.8,
			Window:    50,
		},
		Generation: GenerationConfig{
			MaxRegenRetries:       3,
			MaxTokens:             120,
			ParaphraseTemperature: 0.9,
			MaxSentences:          2,
			MaxTurnsPerDay:        4,
			AdherenceProb:         0.5,
			EscalationThreshold:   3,
			TopicWindow:           5,
		},
		Backend: BackendConfig{
			Kind:     BackendOllama,
			URL:      "http://localhost:11434",
			Model:    "mistral:7b-instruct",
			Timeout:  60 * time.Second,
			Attempts: 2,
			Backoff:  time.Second,
			MaxChars: 600,
			CacheTTL: 24 * time.Hour,
		},
		Output: OutputConfig{
			Dir:       "data",
			PromptLog: "prompts/logs/prompt_usage.jsonl",
		},
		Log: LogConfig{
			Level:  "info",
			Format: "console",
		},
		Serve: ServeConfig{
			Addr:           ":8080",
			HealthInterval: 5 * time.Minute,
			Timezone:       "UTC",
		},
	}
}

// Load builds the configuration from defaults, the optional YAML file at path
// and JOURNEY_* environment variables, in that order.
func Load(path string) (*Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("reading config file: %w", err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("%w: parsing %s: %v", ErrConfigInvalid, path, err)
		}
	}

	if err := envconfig.Process(EnvPrefix, cfg); err != nil {
		return nil, fmt.Errorf("%w: environment: %v", ErrConfigInvalid, err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// Period returns the parsed start and end dates
func (c *Config) Period() (time.Time, time.Time, error) {
	start, err := time.Parse(DateLayout, c.StartDate)
	if err != nil {
		return time.Time{}, time.Time{}, fmt.Errorf("%w: start_date %q: %v", ErrConfigInvalid, c.StartDate, err)
	}
	end, err := time.Parse(DateLayout, c.EndDate)
	if err != nil {
		return time.Time{}, time.Time{}, fmt.Errorf("%w: end_date %q: %v", ErrConfigInvalid, c.EndDate, err)
	}
	if end.Before(start) {
		return time.Time{}, time.Time{}, fmt.Errorf("%w: end_date %s is before start_date %s", ErrConfigInvalid, c.EndDate, c.StartDate)
	}
	return start, end, nil
}

// RoleByName looks up a roster role
func (c *Config) RoleByName(name string) (models.Role, bool) {
	for _, r := range c.Roster {
		if r.Name == name {
			return r, true
		}
	}
	return models.Role{}, false
}

// Validate checks the configuration and canonicalizes role category aliases.
// Every problem found is reported in one error wrapping ErrConfigInvalid.
func (c *Config) Validate() error {
	var problems []string

	if _, _, err := c.Period(); err != nil {
		problems = append(problems, strings.TrimPrefix(err.Error(), ErrConfigInvalid.Error()+": "))
	}

	if len(c.Roster) == 0 {
		problems = append(problems, "roster is empty")
	}
	seen := make(map[string]bool)
	for i, r := range c.Roster {
		if r.Name == "" {
			problems = append(problems, fmt.Sprintf("roster[%d] has no name", i))
			continue
		}
		if seen[r.Name] {
			problems = append(problems, fmt.Sprintf("duplicate role %q", r.Name))
		}
		seen[r.Name] = true
		cat, ok := models.ParseRoleCategory(string(r.Category))
		if !ok {
			problems = append(problems, fmt.Sprintf("role %q has unknown category %q", r.Name, r.Category))
			continue
		}
		c.Roster[i].Category = cat
	}

	for key, ev := range c.Events {
		if _, ok := models.ParseEventType(key); !ok {
			problems = append(problems, fmt.Sprintf("unknown event type %q", key))
			continue
		}
		if ev.Role != "" && !seen[ev.Role] {
			problems = append(problems, fmt.Sprintf("event %q references unknown role %q", key, ev.Role))
		}
		problems = append(problems, ev.validate(key)...)
	}

	for i, t := range c.Travel.Trips {
		start, err1 := time.Parse(DateLayout, t.Start)
		end, err2 := time.Parse(DateLayout, t.End)
		if err1 != nil || err2 != nil {
			problems = append(problems, fmt.Sprintf("travel.trips[%d] has invalid dates", i))
			continue
		}
		if end.Before(start) {
			problems = append(problems, fmt.Sprintf("travel.trips[%d] ends before it starts", i))
		}
	}
	if c.Travel.EveryNWeeks < 0 {
		problems = append(problems, "travel.every_n_weeks must not be negative")
	}
	if c.Travel.Probability < 0 || c.Travel.Probability > 1 {
		problems = append(problems, "travel.probability must be within [0,1]")
	}

	if c.Dedup.Threshold <= 0 || c.Dedup.Threshold > 1 {
		problems = append(problems, "dedup.threshold must be within (0,1]")
	}
	if c.Dedup.Window < 1 {
		problems = append(problems, "dedup.window must be at least 1")
	}

	g := c.Generation
	if g.MaxRegenRetries < 0 {
		problems = append(problems, "generation.max_regen_retries must not be negative")
	}
	if g.MaxTokens < 1 {
		problems = append(problems, "generation.max_tokens must be positive")
	}
	if g.MaxSentences < 1 {
		problems = append(problems, "generation.max_sentences must be positive")
	}
	if g.MaxTurnsPerDay < 1 {
		problems = append(problems, "generation.max_turns_per_day must be positive")
	}
	if g.AdherenceProb < 0 || g.AdherenceProb > 1 {
		problems = append(problems, "generation.adherence_prob must be within [0,1]")
	}
	if g.EscalationThreshold < 1 {
		problems = append(problems, "generation.escalation_threshold must be positive")
	}
	if g.TopicWindow < 1 {
		problems = append(problems, "generation.topic_window must be positive")
	}

	switch c.Backend.Kind {
	case BackendOllama, BackendOpenAI:
		if c.Backend.URL == "" && c.Backend.Kind == BackendOllama {
			problems = append(problems, "backend.url is required for ollama")
		}
		if c.Backend.ModelName() == "" {
			problems = append(problems, "backend.model or backend.model_path is required")
		}
	case BackendOffline:
	default:
		problems = append(problems, fmt.Sprintf("unknown backend kind %q", c.Backend.Kind))
	}
	if c.Backend.Attempts < 1 {
		problems = append(problems, "backend.attempts must be at least 1")
	}
	if c.Backend.Timeout <= 0 {
		problems = append(problems, "backend.timeout must be positive")
	}
	if c.Backend.MaxChars < 1 {
		problems = append(problems, "backend.max_chars must be positive")
	}

	if c.Output.Dir == "" {
		problems = append(problems, "output.dir is required")
	}

	if c.Serve.RegenerateCron != "" {
		if _, err := cron.ParseStandard(c.Serve.RegenerateCron); err != nil {
			problems = append(problems, fmt.Sprintf("serve.regenerate_cron: %v", err))
		}
	}
	if _, err := time.LoadLocation(c.Serve.Timezone); err != nil {
		problems = append(problems, fmt.Sprintf("serve.timezone: %v", err))
	}

	if len(problems) > 0 {
		return fmt.Errorf("%w: %s", ErrConfigInvalid, strings.Join(problems, "; "))
	}
	return nil
}

func (e EventConfig) validate(key string) []string {
	var problems []string
	nonNegative := func(name string, v *int) {
		if v != nil && *v < 0 {
			problems = append(problems, fmt.Sprintf("events.%s.%s must not be negative", key, name))
		}
	}
	nonNegative("interval", e.Interval)
	nonNegative("jitter", e.Jitter)
	nonNegative("min_spacing", e.MinSpacing)
	nonNegative("offset", e.Offset)
	if e.Interval != nil && e.Jitter != nil && *e.Jitter >= *e.Interval && *e.Interval > 0 {
		problems = append(problems, fmt.Sprintf("events.%s.jitter must be smaller than interval", key))
	}
	if e.Probability != nil && (*e.Probability < 0 || *e.Probability > 1) {
		problems = append(problems, fmt.Sprintf("events.%s.probability must be within [0,1]", key))
	}
	if e.Hour != nil && (*e.Hour < 0 || *e.Hour > 23) {
		problems = append(problems, fmt.Sprintf("events.%s.hour must be within [0,23]", key))
	}
	if e.Temperature != nil && (*e.Temperature < 0 || *e.Temperature > 2) {
		problems = append(problems, fmt.Sprintf("events.%s.temperature must be within [0,2]", key))
	}
	return problems
}
