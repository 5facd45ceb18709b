package config

import (
	"strings"

	"github.com/rotisserie/eris"
	"github.com/spf13/viper"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Config holds the full application configuration.
type Config struct {
	Store  StoreConfig  `yaml:"store" mapstructure:"store"`
	AI     AIConfig     `yaml:"ai" mapstructure:"ai"`
	OCR    OCRConfig    `yaml:"ocr" mapstructure:"ocr"`
	Agent  AgentConfig  `yaml:"agent" mapstructure:"agent"`
	Watch  WatchConfig  `yaml:"watch" mapstructure:"watch"`
	Batch  BatchConfig  `yaml:"batch" mapstructure:"batch"`
	Server ServerConfig `yaml:"server" mapstructure:"server"`
	Alerts AlertsConfig `yaml:"alerts" mapstructure:"alerts"`
	Log    LogConfig    `yaml:"log" mapstructure:"log"`
}

// StoreConfig configures the database backend.
type StoreConfig struct {
	Driver      string `yaml:"driver" mapstructure:"driver"`
	DatabaseURL string `yaml:"database_url" mapstructure:"database_url"`
}

// AIConfig configures the completion backends. Provider selects the default
// backend; store settings can override these values per call.
type AIConfig struct {
	Provider        string `yaml:"provider" mapstructure:"provider"`
	OllamaURL       string `yaml:"ollama_url" mapstructure:"ollama_url"`
	OllamaModel     string `yaml:"ollama_model" mapstructure:"ollama_model"`
	AnthropicAPIKey string `yaml:"anthropic_api_key" mapstructure:"anthropic_api_key"`
	AnthropicModel  string `yaml:"anthropic_model" mapstructure:"anthropic_model"`
	OpenAIAPIKey    string `yaml:"openai_api_key" mapstructure:"openai_api_key"`
	OpenAIModel     string `yaml:"openai_model" mapstructure:"openai_model"`
}

// OCRConfig configures document text extraction.
type OCRConfig struct {
	PdfToTextPath string   `yaml:"pdftotext_path" mapstructure:"pdftotext_path"`
	TesseractPath string   `yaml:"tesseract_path" mapstructure:"tesseract_path"`
	Languages     string   `yaml:"languages" mapstructure:"languages"`
	Extensions    []string `yaml:"extensions" mapstructure:"extensions"`
}

// AgentConfig configures where behavioural rules and workflow files live.
type AgentConfig struct {
	Dirs []string `yaml:"dirs" mapstructure:"dirs"`
}

// WatchConfig configures the inbox directory watcher.
type WatchConfig struct {
	InboxDir        string `yaml:"inbox_dir" mapstructure:"inbox_dir"`
	ProcessedDir    string `yaml:"processed_dir" mapstructure:"processed_dir"`
	SettleDelayMS   int    `yaml:"settle_delay_ms" mapstructure:"settle_delay_ms"`
	DrainOnStartup  bool   `yaml:"drain_on_startup" mapstructure:"drain_on_startup"`
	MoveToProcessed bool   `yaml:"move_to_processed" mapstructure:"move_to_processed"`
}

// BatchConfig configures batch ingestion.
type BatchConfig struct {
	MaxConcurrent int     `yaml:"max_concurrent" mapstructure:"max_concurrent"`
	RatePerSecond float64 `yaml:"rate_per_second" mapstructure:"rate_per_second"`
}

// ServerConfig configures the HTTP API server.
type ServerConfig struct {
	Port        int      `yaml:"port" mapstructure:"port"`
	CORSOrigins []string `yaml:"cors_origins" mapstructure:"cors_origins"`
	UploadDir   string   `yaml:"upload_dir" mapstructure:"upload_dir"`
}

// AlertsConfig holds the default deviation thresholds for the alerts
// workflow. Values are fractions, not percentages.
type AlertsConfig struct {
	ConsumptionThreshold float64 `yaml:"consumption_threshold" mapstructure:"consumption_threshold"`
	PriceThreshold       float64 `yaml:"price_threshold" mapstructure:"price_threshold"`
}

// LogConfig configures logging.
type LogConfig struct {
	Level  string `yaml:"level" mapstructure:"level"`
	Format string `yaml:"format" mapstructure:"format"`
}

// Load reads configuration from file and environment.
func Load() (*Config, error) {
	v := viper.New()

	// Config file
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")

	// Environment
	v.SetEnvPrefix("FACTURA")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// Defaults
	v.SetDefault("store.driver", "sqlite")
	v.SetDefault("store.database_url", "facturas.db")
	v.SetDefault("ai.provider", "ollama")
	v.SetDefault("ai.ollama_url", "http://localhost:11434")
	v.SetDefault("ai.ollama_model", "qwen2.5:3b")
	v.SetDefault("ai.anthropic_model", "claude-sonnet-4-5-20250929")
	v.SetDefault("ai.openai_model", "gpt-4o")
	v.SetDefault("ocr.pdftotext_path", "pdftotext")
	v.SetDefault("ocr.tesseract_path", "tesseract")
	v.SetDefault("ocr.languages", "spa+eng")
	v.SetDefault("ocr.extensions", []string{".pdf", ".jpg", ".jpeg", ".png"})
	v.SetDefault("agent.dirs", []string{".agent", "../.agent"})
	v.SetDefault("watch.inbox_dir", "inbox")
	v.SetDefault("watch.processed_dir", "processed")
	v.SetDefault("watch.settle_delay_ms", 500)
	v.SetDefault("watch.drain_on_startup", true)
	v.SetDefault("watch.move_to_processed", true)
	v.SetDefault("batch.max_concurrent", 4)
	v.SetDefault("batch.rate_per_second", 2.0)
	v.SetDefault("server.port", 8000)
	v.SetDefault("server.cors_origins", []string{"*"})
	v.SetDefault("server.upload_dir", "uploads")
	v.SetDefault("alerts.consumption_threshold", 0.20)
	v.SetDefault("alerts.price_threshold", 0.15)
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "json")

	// Read config file (optional)
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, eris.Wrap(err, "config: read file")
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, eris.Wrap(err, "config: unmarshal")
	}

	return &cfg, nil
}

// Validate checks the fields a given run mode depends on. Modes are the
// command names: "serve", "extract", "batch", "watch".
func (c *Config) Validate(mode string) error {
	var missing []string

	if c.Store.Driver != "sqlite" && c.Store.Driver != "postgres" {
		missing = append(missing, "store.driver must be sqlite or postgres")
	}
	if c.Store.DatabaseURL == "" {
		missing = append(missing, "store.database_url is required")
	}
	switch c.AI.Provider {
	case "ollama", "anthropic", "openai":
	default:
		missing = append(missing, "ai.provider must be ollama, anthropic or openai")
	}
	if c.Alerts.ConsumptionThreshold < 0 || c.Alerts.ConsumptionThreshold > 1 {
		missing = append(missing, "alerts.consumption_threshold must be between 0 and 1")
	}
	if c.Alerts.PriceThreshold < 0 || c.Alerts.PriceThreshold > 1 {
		missing = append(missing, "alerts.price_threshold must be between 0 and 1")
	}

	switch mode {
	case "serve":
		if c.Server.Port <= 0 {
			missing = append(missing, "server.port must be > 0")
		}
	case "batch":
		if c.Batch.MaxConcurrent < 1 || c.Batch.MaxConcurrent > 32 {
			missing = append(missing, "batch.max_concurrent must be between 1 and 32")
		}
		if c.Batch.RatePerSecond <= 0 {
			missing = append(missing, "batch.rate_per_second must be > 0")
		}
	case "watch":
		if c.Watch.InboxDir == "" {
			missing = append(missing, "watch.inbox_dir is required")
		}
		if c.Watch.MoveToProcessed && c.Watch.ProcessedDir == "" {
			missing = append(missing, "watch.processed_dir is required")
		}
	case "extract", "export", "providers":
	default:
		return eris.Errorf("config: unknown mode %q", mode)
	}

	if len(missing) > 0 {
		return eris.New("config: " + strings.Join(missing, "; "))
	}
	return nil
}

// InitLogger initializes the global zap logger.
func InitLogger(cfg LogConfig) error {
	var zapCfg zap.Config
	if cfg.Format == "console" {
		zapCfg = zap.NewDevelopmentConfig()
	} else {
		zapCfg = zap.NewProductionConfig()
	}

	level, err := zapcore.ParseLevel(cfg.Level)
	if err != nil {
		return eris.Wrap(err, "config: parse log level")
	}
	zapCfg.Level.SetLevel(level)

	logger, err := zapCfg.Build()
	if err != nil {
		return eris.Wrap(err, "config: build logger")
	}
	zap.ReplaceGlobals(logger)

	return nil
}
