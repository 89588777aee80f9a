package config

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"fudosan-agent/internal/integrations/paramstore"
)

const (
	ProviderOpenAI    = "openai"
	ProviderAnthropic = "anthropic"

	BackendSupabase = "supabase"
	BackendPostgres = "postgres"
	BackendDynamoDB = "dynamodb"
	BackendSQLite   = "sqlite"
	BackendMemory   = "memory"
	BackendNone     = "none"

	// MaxHistoryLimit is the largest accepted HISTORY_LIMIT.
	MaxHistoryLimit = 1000
)

// SecretLookup resolves a secret by its environment key when the variable is
// unset. *paramstore.Client satisfies it.
type SecretLookup interface {
	Lookup(ctx context.Context, key string) (string, error)
}

type LINE struct {
	ChannelAccessToken string
	ChannelSecret      string
}

type Completion struct {
	Provider       string
	OpenAIKey      string
	OpenAIBaseURL  string
	OpenAIModel    string
	AnthropicKey   string
	AnthropicModel string
	MaxTokens      int
}

// Model returns the model name for the selected provider.
func (c Completion) Model() string {
	if c.Provider == ProviderAnthropic {
		return c.AnthropicModel
	}
	return c.OpenAIModel
}

type History struct {
	Backend       string
	SupabaseURL   string
	SupabaseKey   string
	DatabaseURL   string
	DynamoDBTable string
	SQLitePath    string
	Table         string
	Limit         int
}

type Config struct {
	LINE       LINE
	Completion Completion
	History    History

	PersonaFile      string
	SerializePerUser bool
	DedupWindow      time.Duration
	Port             int
}

// ParamPrefix returns the parameter store path holding secrets, or "" when
// secrets come only from the environment. It is read before Load so the
// caller can build the SecretLookup.
func ParamPrefix(getenv func(string) string) string {
	return strings.TrimSpace(getenv("PARAM_PREFIX"))
}

// Load reads configuration from getenv. secrets may be nil, in which case
// every secret must come from the environment.
func Load(ctx context.Context, getenv func(string) string, secrets SecretLookup) (Config, error) {
	l := &loader{ctx: ctx, getenv: getenv, secrets: secrets}
	var cfg Config

	cfg.LINE.ChannelAccessToken = l.requiredSecret("LINE_CHANNEL_ACCESS_TOKEN")
	cfg.LINE.ChannelSecret = l.requiredSecret("LINE_CHANNEL_SECRET")

	cfg.Completion.Provider = strings.ToLower(l.str("COMPLETION_PROVIDER", ProviderOpenAI))
	cfg.Completion.OpenAIBaseURL = l.str("OPENAI_BASE_URL", "")
	cfg.Completion.OpenAIModel = l.str("OPENAI_MODEL", "gpt-4o-mini")
	cfg.Completion.AnthropicModel = l.str("ANTHROPIC_MODEL", "claude-3-5-haiku-latest")
	cfg.Completion.MaxTokens = l.positiveInt("COMPLETION_MAX_TOKENS", 1024)
	switch cfg.Completion.Provider {
	case ProviderOpenAI:
		cfg.Completion.OpenAIKey = l.requiredSecret("OPENAI_API_KEY")
	case ProviderAnthropic:
		cfg.Completion.AnthropicKey = l.requiredSecret("ANTHROPIC_API_KEY")
	default:
		l.fail(fmt.Errorf("config: COMPLETION_PROVIDER: unknown provider %q", cfg.Completion.Provider))
	}

	cfg.History = l.history()

	cfg.PersonaFile = l.str("PERSONA_FILE", "")
	cfg.SerializePerUser = l.boolean("SERIALIZE_PER_USER", false)
	cfg.DedupWindow = l.duration("DEDUP_WINDOW", 10*time.Minute)
	cfg.Port = l.positiveInt("PORT", 10000)
	if cfg.Port > 65535 {
		l.fail(fmt.Errorf("config: PORT: %d out of range", cfg.Port))
	}

	if l.err != nil {
		return Config{}, l.err
	}
	return cfg, nil
}

// LoadHistory reads only the history store settings, for tools that inspect
// stored turns without serving webhooks.
func LoadHistory(ctx context.Context, getenv func(string) string, secrets SecretLookup) (History, error) {
	l := &loader{ctx: ctx, getenv: getenv, secrets: secrets}
	h := l.history()
	if l.err != nil {
		return History{}, l.err
	}
	return h, nil
}

func (l *loader) history() History {
	var h History
	h.SupabaseURL = l.str("SUPABASE_URL", "")
	defaultBackend := BackendNone
	if h.SupabaseURL != "" {
		defaultBackend = BackendSupabase
	}
	h.Backend = strings.ToLower(l.str("HISTORY_BACKEND", defaultBackend))
	h.Table = l.str("HISTORY_TABLE", "fudosan_logs")
	h.Limit = l.positiveInt("HISTORY_LIMIT", 10)
	if h.Limit > MaxHistoryLimit {
		l.fail(fmt.Errorf("config: HISTORY_LIMIT: %d exceeds maximum %d", h.Limit, MaxHistoryLimit))
	}
	switch h.Backend {
	case BackendSupabase:
		if h.SupabaseURL == "" {
			l.fail(errors.New("config: required environment variable SUPABASE_URL is not set"))
		}
		h.SupabaseKey = l.requiredSecret("SUPABASE_KEY")
	case BackendPostgres:
		h.DatabaseURL = l.requiredSecret("DATABASE_URL")
	case BackendDynamoDB:
		h.DynamoDBTable = l.required("DYNAMODB_TABLE")
	case BackendSQLite:
		h.SQLitePath = l.str("SQLITE_PATH", "data/history.db")
	case BackendMemory, BackendNone:
	default:
		l.fail(fmt.Errorf("config: HISTORY_BACKEND: unknown backend %q", h.Backend))
	}
	return h
}

// loader keeps the first error so Load reads top to bottom.
type loader struct {
	ctx     context.Context
	getenv  func(string) string
	secrets SecretLookup
	err     error
}

func (l *loader) fail(err error) {
	if l.err == nil {
		l.err = err
	}
}

func (l *loader) str(key, def string) string {
	v := strings.TrimSpace(l.getenv(key))
	if v == "" {
		return def
	}
	return v
}

func (l *loader) required(key string) string {
	v := l.str(key, "")
	if v == "" {
		l.fail(fmt.Errorf("config: required environment variable %s is not set", key))
	}
	return v
}

func (l *loader) requiredSecret(key string) string {
	if v := l.str(key, ""); v != "" {
		return v
	}
	if l.secrets == nil {
		l.fail(fmt.Errorf("config: required environment variable %s is not set", key))
		return ""
	}
	v, err := l.secrets.Lookup(l.ctx, key)
	switch {
	case errors.Is(err, paramstore.ErrNotFound):
		l.fail(fmt.Errorf("config: %s is not set and has no stored parameter", key))
	case err != nil:
		l.fail(fmt.Errorf("config: resolve %s: %w", key, err))
	case strings.TrimSpace(v) == "":
		l.fail(fmt.Errorf("config: stored parameter for %s is empty", key))
	}
	return strings.TrimSpace(v)
}

func (l *loader) positiveInt(key string, def int) int {
	v := l.str(key, "")
	if v == "" {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		l.fail(fmt.Errorf("config: %s: %w", key, err))
		return def
	}
	if n <= 0 {
		l.fail(fmt.Errorf("config: %s: must be positive, got %d", key, n))
		return def
	}
	return n
}

func (l *loader) boolean(key string, def bool) bool {
	v := l.str(key, "")
	if v == "" {
		return def
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		l.fail(fmt.Errorf("config: %s: %w", key, err))
		return def
	}
	return b
}

// duration accepts Go duration strings. Zero is allowed and disables the
// feature the value controls.
func (l *loader) duration(key string, def time.Duration) time.Duration {
	v := l.str(key, "")
	if v == "" {
		return def
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		l.fail(fmt.Errorf("config: %s: %w", key, err))
		return def
	}
	if d < 0 {
		l.fail(fmt.Errorf("config: %s: must not be negative", key))
		return def
	}
	return d
}
