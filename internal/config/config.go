package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/kelseyhightower/envconfig"
	"github.com/seanblong/notesearch/internal/ai"
	"github.com/spf13/pflag"
	"gopkg.in/yaml.v3"
)

type Specification struct {
	Provider   string  `yaml:"provider"`
	APIKey     string  `yaml:"providerApiKey" envconfig:"PROVIDER_API_KEY"`
	EmbedModel string  `yaml:"providerEmbedModel" envconfig:"PROVIDER_EMBEDDING_MODEL"`
	ScoreModel string  `yaml:"providerScoreModel" envconfig:"PROVIDER_SCORE_MODEL"`
	ProjectID  string  `yaml:"providerProjectID" envconfig:"PROVIDER_PROJECT_ID"`
	Location   string  `yaml:"providerLocation" envconfig:"PROVIDER_LOCATION"`
	Dim        int     `yaml:"providerDim" envconfig:"EMBED_DIM"`
	RateLimit  float64 `yaml:"providerRateLimit" envconfig:"PROVIDER_RATE_LIMIT"`
	Burst      int     `yaml:"providerBurst" envconfig:"PROVIDER_BURST"`

	// Database is optional for the API; without it notes are indexed into
	// memory at startup.
	Database  string `yaml:"database" envconfig:"DB_URL"`
	VaultRoot string `yaml:"vaultRoot" split_words:"true"`
	MaxTokens int    `yaml:"maxTokens" split_words:"true"`
	Workers   int    `yaml:"workers"`
	LogLevel  string `yaml:"logLevel" split_words:"true"`
	Port      int    `yaml:"port" split_words:"true"`

	Search       SearchSpecification       `yaml:"search"`
	Rerank       RerankSpecification       `yaml:"rerank"`
	Topic        TopicSpecification        `yaml:"topic"`
	Cache        CacheSpecification        `yaml:"cache"`
	Conversation ConversationSpecification `yaml:"conversation"`
	Session      SessionSpecification      `yaml:"session"`

	flags *pflag.FlagSet `ignored:"true"`
}

type SearchSpecification struct {
	TopK            int `yaml:"topK" split_words:"true"`
	CandidateFactor int `yaml:"candidateFactor" split_words:"true"`
}

type RerankSpecification struct {
	Enabled        bool    `yaml:"enabled"`
	Concurrency    int     `yaml:"concurrency"`
	CalibrationMin float64 `yaml:"calibrationMin" split_words:"true"`
	CalibrationMax float64 `yaml:"calibrationMax" split_words:"true"`
}

type TopicSpecification struct {
	Threshold float64 `yaml:"threshold"`
}

type CacheSpecification struct {
	MaxEntries   int           `yaml:"maxEntries" split_words:"true"`
	QueryTTL     time.Duration `yaml:"queryTTL" envconfig:"QUERY_TTL"`
	SynthesisTTL time.Duration `yaml:"synthesisTTL" envconfig:"SYNTHESIS_TTL"`
	Persist      bool          `yaml:"persist"`
}

type ConversationSpecification struct {
	History     int `yaml:"history"`
	Interests   int `yaml:"interests"`
	MaxSessions int `yaml:"maxSessions" split_words:"true"`
}

type SessionSpecification struct {
	Secret       string        `yaml:"secret"`
	TTL          time.Duration `yaml:"ttl" envconfig:"TTL"`
	RequireToken bool          `yaml:"requireToken" split_words:"true"`
	SecureCookie bool          `yaml:"secureCookie" split_words:"true"`

	// AllowReindex enables POST /reindex for callers with a valid token.
	AllowReindex bool `yaml:"allowReindex" split_words:"true"`
}

const envPrefix = "NOTESEARCH"

func (s *Specification) Usage() {
	fmt.Fprint(os.Stderr, s.flags.FlagUsages())
}

// Load => defaults < YAML < env < flags.
// configPath may be ""; if so we auto-discover.
func Load(configPath string, fs *pflag.FlagSet) (Specification, error) {
	var cfg Specification

	// set defaults (lowest precedence)
	setDefaults(&cfg)
	bindFlags(fs, &cfg)

	// config file
	path := configPath
	if path == "" {
		if v := os.Getenv(envPrefix + "_CONFIG"); v != "" {
			path = v
		} else {
			for _, cand := range []string{
				"config/notesearch.yaml",
				"config/config.yaml",
				"./notesearch.yaml",
				"./config.yaml",
			} {
				if fileExists(cand) {
					path = cand
					break
				}
			}
		}
	}

	if path != "" {
		if !fileExists(path) {
			return Specification{}, fmt.Errorf("config file not found: %s", path)
		}
		if err := loadYAML(path, &cfg); err != nil {
			return Specification{}, fmt.Errorf("load yaml %s: %w", path, err)
		}
	}

	// env overrides config file
	if err := envconfig.Process(envPrefix, &cfg); err != nil {
		return Specification{}, fmt.Errorf("env override: %w", err)
	}

	// flags override everything
	if err := fs.Parse(os.Args[1:]); err != nil {
		return Specification{}, err
	}
	applyChangedFlags(fs, &cfg)

	if strings.TrimSpace(cfg.LogLevel) == "" {
		cfg.LogLevel = "info"
	}
	if err := cfg.Validate(); err != nil {
		return Specification{}, err
	}
	return cfg, nil
}

// Validate checks value ranges. Zero values that have a downstream default
// are accepted.
func (s *Specification) Validate() error {
	if strings.TrimSpace(s.VaultRoot) == "" {
		return fmt.Errorf("%s_VAULT_ROOT is required (env/file/flag)", envPrefix)
	}
	if s.Search.TopK < 1 {
		return fmt.Errorf("search.topK must be at least 1, got %d", s.Search.TopK)
	}
	if s.Search.CandidateFactor < 1 {
		return fmt.Errorf("search.candidateFactor must be at least 1, got %d", s.Search.CandidateFactor)
	}
	if s.Topic.Threshold < 0 || s.Topic.Threshold > 1 {
		return fmt.Errorf("topic.threshold must be within [0,1], got %g", s.Topic.Threshold)
	}
	if s.Rerank.CalibrationMax < s.Rerank.CalibrationMin {
		return fmt.Errorf("rerank.calibrationMax (%g) is below calibrationMin (%g)", s.Rerank.CalibrationMax, s.Rerank.CalibrationMin)
	}
	if s.Cache.QueryTTL < 0 || s.Cache.SynthesisTTL < 0 || s.Session.TTL < 0 {
		return fmt.Errorf("ttl values must not be negative")
	}
	if s.Dim < 0 {
		return fmt.Errorf("embedding dimension must not be negative, got %d", s.Dim)
	}
	return nil
}

// ClientConfig maps the provider settings onto an ai.ClientConfig.
func (s *Specification) ClientConfig() (*ai.ClientConfig, error) {
	cc := &ai.ClientConfig{
		APIKey:     s.APIKey,
		EmbedModel: s.EmbedModel,
		ScoreModel: s.ScoreModel,
		Dim:        s.Dim,
		ProjectID:  s.ProjectID,
		Location:   s.Location,
		RateLimit:  s.RateLimit,
		Burst:      s.Burst,
	}
	switch strings.ToLower(s.Provider) {
	case "openai":
		cc.Provider = ai.ProviderOpenAI
	case "vertexai", "google":
		cc.Provider = ai.ProviderVertexAI
	case "stub":
		cc.Provider = ai.ProviderStub
	default:
		return nil, fmt.Errorf("unsupported provider: %s", s.Provider)
	}
	return cc, nil
}

// ---------- helpers ----------

func loadYAML(path string, into any) error {
	b, err := os.ReadFile(path)
	if err != nil {
		return err
	}
	return yaml.Unmarshal(b, into)
}

func fileExists(p string) bool {
	fi, err := os.Stat(p)
	return err == nil && !fi.IsDir()
}

func bindFlags(fs *pflag.FlagSet, c *Specification) {
	fs.String("config", "", "Path to config file")

	// If --config is provided on the command line, capture it now so
	// config discovery (which runs before flags.Parse) can use it.
	for i, a := range os.Args {
		if a == "--config" {
			if i+1 < len(os.Args) && !strings.HasPrefix(os.Args[i+1], "-") {
				_ = os.Setenv(envPrefix+"_CONFIG", os.Args[i+1])
			}
		} else if strings.HasPrefix(a, "--config=") {
			parts := strings.SplitN(a, "=", 2)
			if len(parts) == 2 {
				_ = os.Setenv(envPrefix+"_CONFIG", parts[1])
			}
		}
	}

	fs.String("provider", c.Provider, "Provider (stub, openai, vertexai)")
	fs.String("provider-api-key", c.APIKey, "Provider API key")
	fs.String("provider-embedding-model", c.EmbedModel, "Provider embedding model")
	fs.String("provider-score-model", c.ScoreModel, "Provider relevance scoring model")
	fs.String("provider-project-id", c.ProjectID, "Provider project ID")
	fs.String("provider-location", c.Location, "Provider location/region")
	fs.Float64("provider-rate-limit", c.RateLimit, "Max provider requests per second (0 disables)")
	fs.Int("provider-burst", c.Burst, "Provider rate limit burst")

	fs.Int("embed-dim", c.Dim, "Embedding dimensionality")

	fs.String("db-url", c.Database, "Database URL (DSN); empty keeps the index in memory")

	fs.String("vault-root", c.VaultRoot, "Path to the notes directory")
	fs.Int("max-tokens", c.MaxTokens, "Maximum tokens per chunk")
	fs.Int("workers", c.Workers, "Indexer worker count")

	fs.String("log-level", c.LogLevel, "Log level (debug|info|warn|error)")
	fs.Int("port", c.Port, "API server port")

	fs.Int("top-k", c.Search.TopK, "Default number of results")
	fs.Int("candidate-factor", c.Search.CandidateFactor, "Candidates retrieved per result before re-ranking")

	fs.Bool("rerank-enabled", c.Rerank.Enabled, "Enable provider re-ranking")
	fs.Int("rerank-concurrency", c.Rerank.Concurrency, "Concurrent re-rank scoring calls")
	fs.Float64("rerank-calibration-min", c.Rerank.CalibrationMin, "Fixed lower bound of raw re-rank scores")
	fs.Float64("rerank-calibration-max", c.Rerank.CalibrationMax, "Fixed upper bound of raw re-rank scores")

	fs.Float64("topic-threshold", c.Topic.Threshold, "Minimum similarity for a topic match")

	fs.Int("cache-max-entries", c.Cache.MaxEntries, "Maximum cache entries")
	fs.Duration("cache-query-ttl", c.Cache.QueryTTL, "TTL of cached search results")
	fs.Duration("cache-synthesis-ttl", c.Cache.SynthesisTTL, "TTL of cached syntheses")
	fs.Bool("cache-persist", c.Cache.Persist, "Persist cache entries to the store across restarts")

	fs.Int("conversation-history", c.Conversation.History, "Turns kept per session")
	fs.Int("conversation-interests", c.Conversation.Interests, "Interests kept per session")
	fs.Int("max-sessions", c.Conversation.MaxSessions, "Maximum concurrent sessions")

	fs.String("session-secret", c.Session.Secret, "Secret for signing session tokens")
	fs.Duration("session-ttl", c.Session.TTL, "Session token lifetime")
	fs.Bool("session-require-token", c.Session.RequireToken, "Reject requests without a session token")
	fs.Bool("session-secure-cookie", c.Session.SecureCookie, "Mark the session cookie Secure")
	fs.Bool("session-allow-reindex", c.Session.AllowReindex, "Allow token holders to trigger a reindex over HTTP")

	// Used later for usage/help
	// create a shallow copy of fs (so Usage can be called safely without mutating caller)
	copied := pflag.NewFlagSet("temp", pflag.ContinueOnError)
	*copied = *fs
	c.flags = copied
}

func applyChangedFlags(fs *pflag.FlagSet, c *Specification) {
	setStr := func(name string, dst *string) {
		if fs.Changed(name) {
			v, _ := fs.GetString(name)
			*dst = v
		}
	}
	setInt := func(name string, dst *int) {
		if fs.Changed(name) {
			v, _ := fs.GetInt(name)
			*dst = v
		}
	}
	setBool := func(name string, dst *bool) {
		if fs.Changed(name) {
			v, _ := fs.GetBool(name)
			*dst = v
		}
	}
	setFloat := func(name string, dst *float64) {
		if fs.Changed(name) {
			v, _ := fs.GetFloat64(name)
			*dst = v
		}
	}
	setDur := func(name string, dst *time.Duration) {
		if fs.Changed(name) {
			v, _ := fs.GetDuration(name)
			*dst = v
		}
	}

	// (We ignore --config here; it's for discovery.)
	setStr("provider", &c.Provider)
	setStr("provider-api-key", &c.APIKey)
	setStr("provider-embedding-model", &c.EmbedModel)
	setStr("provider-score-model", &c.ScoreModel)
	setStr("provider-project-id", &c.ProjectID)
	setStr("provider-location", &c.Location)
	setFloat("provider-rate-limit", &c.RateLimit)
	setInt("provider-burst", &c.Burst)

	setInt("embed-dim", &c.Dim)

	setStr("db-url", &c.Database)

	setStr("vault-root", &c.VaultRoot)
	setInt("max-tokens", &c.MaxTokens)
	setInt("workers", &c.Workers)

	setStr("log-level", &c.LogLevel)
	setInt("port", &c.Port)

	setInt("top-k", &c.Search.TopK)
	setInt("candidate-factor", &c.Search.CandidateFactor)

	setBool("rerank-enabled", &c.Rerank.Enabled)
	setInt("rerank-concurrency", &c.Rerank.Concurrency)
	setFloat("rerank-calibration-min", &c.Rerank.CalibrationMin)
	setFloat("rerank-calibration-max", &c.Rerank.CalibrationMax)

	setFloat("topic-threshold", &c.Topic.Threshold)

	setInt("cache-max-entries", &c.Cache.MaxEntries)
	setDur("cache-query-ttl", &c.Cache.QueryTTL)
	setDur("cache-synthesis-ttl", &c.Cache.SynthesisTTL)
	setBool("cache-persist", &c.Cache.Persist)

	setInt("conversation-history", &c.Conversation.History)
	setInt("conversation-interests", &c.Conversation.Interests)
	setInt("max-sessions", &c.Conversation.MaxSessions)

	setStr("session-secret", &c.Session.Secret)
	setDur("session-ttl", &c.Session.TTL)
	setBool("session-require-token", &c.Session.RequireToken)
	setBool("session-secure-cookie", &c.Session.SecureCookie)
	setBool("session-allow-reindex", &c.Session.AllowReindex)
}

func setDefaults(c *Specification) {
	c.LogLevel = "info"
	c.VaultRoot = "."
	c.Provider = "stub"
	c.Database = ""
	c.Dim = 0
	c.Location = "us-central1"
	c.Port = 8080
	c.MaxTokens = 256
	c.Workers = 4

	c.Search.TopK = 5
	c.Search.CandidateFactor = 2
	c.Rerank.Enabled = true
	c.Rerank.Concurrency = 4
	c.Topic.Threshold = 0.3
	c.Cache.MaxEntries = 10000
	c.Cache.QueryTTL = 24 * time.Hour
	c.Cache.SynthesisTTL = time.Hour
	c.Cache.Persist = true
	c.Conversation.History = 50
	c.Conversation.Interests = 20
	c.Conversation.MaxSessions = 1000
	c.Session.TTL = 24 * time.Hour
}
