package app

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// Config is the full environment-derived configuration, parsed once at
// startup. Provider credentials stay out of here: the credential pools
// resolve key material through the secret store at dispatch time.
type Config struct {
	ListenAddr string
	LogLevel   string

	DBPath          string
	ReasoningLogDir string

	EnrichTTL       time.Duration
	EnrichRelevance string

	PreflightInterval time.Duration // 0 disables the background prober
	OTLPEndpoint      string

	TemporalHostPort  string // empty disables durable deliberations
	TemporalNamespace string
	TemporalTaskQueue string

	// Secrets move from env to an encrypted file vault when both are set.
	VaultPath       string
	VaultPassphrase string

	CORSOrigins []string // empty = ["*"]
	RateRPS     int      // requests per second per client IP
	RateBurst   int      // burst capacity per client IP

	// Provider knobs, passed through to the adapters.
	AllowReasoner   bool    // DEEPSEEK_ALLOW_REASONER
	QwenModel       string  // QWEN_MODEL
	QwenModelFast   string  // QWEN_MODEL_FAST
	QwenPreferFast  bool    // QWEN_PREFER_FAST
	QwenThinking    bool    // QWEN_ENABLE_THINKING
	QwenTemperature *float64 // QWEN_TEMPERATURE; nil leaves the adapter default
	AllowExpensive  bool    // PERPLEXITY_ALLOW_EXPENSIVE
}

func LoadConfig() (Config, error) {
	cfg := Config{
		ListenAddr: getEnv("TROIKA_ADDR", ":8080"),
		LogLevel:   getEnv("TROIKA_LOG_LEVEL", "info"),

		DBPath:          getEnv("TROIKA_DB_PATH", "file:troika.db"),
		ReasoningLogDir: getEnv("TROIKA_REASONING_LOG_DIR", ""),

		EnrichTTL:       getEnvDuration("TROIKA_ENRICH_TTL", 5*time.Minute),
		EnrichRelevance: getEnv("TROIKA_ENRICH_RELEVANCE", "auto"),

		PreflightInterval: getEnvDuration("TROIKA_PREFLIGHT_INTERVAL", 0),
		OTLPEndpoint:      getEnv("TROIKA_OTLP_ENDPOINT", ""),

		TemporalHostPort:  getEnv("TROIKA_TEMPORAL_HOSTPORT", ""),
		TemporalNamespace: getEnv("TROIKA_TEMPORAL_NAMESPACE", "default"),
		TemporalTaskQueue: getEnv("TROIKA_TEMPORAL_TASK_QUEUE", ""),

		VaultPath:       getEnv("TROIKA_VAULT_PATH", ""),
		VaultPassphrase: getEnv("TROIKA_VAULT_PASSPHRASE", ""),

		CORSOrigins: getEnvStringSlice("TROIKA_CORS_ORIGINS", nil),
		RateRPS:     getEnvInt("TROIKA_RATE_RPS", 60),
		RateBurst:   getEnvInt("TROIKA_RATE_BURST", 120),

		AllowReasoner:   getEnvBool("DEEPSEEK_ALLOW_REASONER", false),
		QwenModel:       getEnv("QWEN_MODEL", ""),
		QwenModelFast:   getEnv("QWEN_MODEL_FAST", ""),
		QwenPreferFast:  getEnvBool("QWEN_PREFER_FAST", false),
		QwenThinking:    getEnvBool("QWEN_ENABLE_THINKING", false),
		QwenTemperature: getEnvFloatPtr("QWEN_TEMPERATURE"),
	}
	cfg.AllowExpensive = getEnvBool("PERPLEXITY_ALLOW_EXPENSIVE", false)

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Validate checks config values for obviously invalid settings.
func (c Config) Validate() error {
	if c.RateRPS <= 0 {
		return fmt.Errorf("TROIKA_RATE_RPS must be > 0, got %d", c.RateRPS)
	}
	if c.RateBurst <= 0 {
		return fmt.Errorf("TROIKA_RATE_BURST must be > 0, got %d", c.RateBurst)
	}
	if c.EnrichTTL < 0 {
		return fmt.Errorf("TROIKA_ENRICH_TTL must be >= 0, got %s", c.EnrichTTL)
	}
	if c.PreflightInterval < 0 {
		return fmt.Errorf("TROIKA_PREFLIGHT_INTERVAL must be >= 0, got %s", c.PreflightInterval)
	}
	if (c.VaultPath == "") != (c.VaultPassphrase == "") {
		return fmt.Errorf("TROIKA_VAULT_PATH and TROIKA_VAULT_PASSPHRASE must be set together")
	}
	return nil
}

func getEnv(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func getEnvBool(key string, def bool) bool {
	if v := os.Getenv(key); v != "" {
		b, err := strconv.ParseBool(v)
		if err == nil {
			return b
		}
	}
	return def
}

func getEnvInt(key string, def int) int {
	if v := os.Getenv(key); v != "" {
		i, err := strconv.Atoi(v)
		if err == nil {
			return i
		}
	}
	return def
}

// getEnvFloatPtr distinguishes an unset variable from an explicit zero;
// unset or unparseable yields nil.
func getEnvFloatPtr(key string) *float64 {
	if v := os.Getenv(key); v != "" {
		f, err := strconv.ParseFloat(v, 64)
		if err == nil {
			return &f
		}
	}
	return nil
}

// getEnvDuration accepts Go duration strings ("45s", "5m") and, for
// compatibility with bare numbers, plain seconds ("300").
func getEnvDuration(key string, def time.Duration) time.Duration {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	if d, err := time.ParseDuration(v); err == nil {
		return d
	}
	if secs, err := strconv.Atoi(v); err == nil {
		return time.Duration(secs) * time.Second
	}
	return def
}

func getEnvStringSlice(key string, def []string) []string {
	if v := os.Getenv(key); v != "" {
		var result []string
		for _, s := range strings.Split(v, ",") {
			s = strings.TrimSpace(s)
			if s != "" {
				result = append(result, s)
			}
		}
		if len(result) > 0 {
			return result
		}
	}
	return def
}
