package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func TestLoadDefaults(t *testing.T) {
	// Change to temp dir so no config.yaml is found
	dir := t.TempDir()
	origDir, _ := os.Getwd()
	require.NoError(t, os.Chdir(dir))
	t.Cleanup(func() { os.Chdir(origDir) })

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "sqlite", cfg.Store.Driver)
	assert.Equal(t, "facturas.db", cfg.Store.DatabaseURL)
	assert.Equal(t, "ollama", cfg.AI.Provider)
	assert.Equal(t, "http://localhost:11434", cfg.AI.OllamaURL)
	assert.Equal(t, "qwen2.5:3b", cfg.AI.OllamaModel)
	assert.Equal(t, "gpt-4o", cfg.AI.OpenAIModel)
	assert.Equal(t, "pdftotext", cfg.OCR.PdfToTextPath)
	assert.Equal(t, "spa+eng", cfg.OCR.Languages)
	assert.Equal(t, []string{".pdf", ".jpg", ".jpeg", ".png"}, cfg.OCR.Extensions)
	assert.Equal(t, "inbox", cfg.Watch.InboxDir)
	assert.Equal(t, 500, cfg.Watch.SettleDelayMS)
	assert.True(t, cfg.Watch.DrainOnStartup)
	assert.Equal(t, 4, cfg.Batch.MaxConcurrent)
	assert.InDelta(t, 2.0, cfg.Batch.RatePerSecond, 0.001)
	assert.Equal(t, 8000, cfg.Server.Port)
	assert.InDelta(t, 0.20, cfg.Alerts.ConsumptionThreshold, 0.001)
	assert.InDelta(t, 0.15, cfg.Alerts.PriceThreshold, 0.001)
	assert.Equal(t, "info", cfg.Log.Level)
	assert.Equal(t, "json", cfg.Log.Format)
}

func TestLoadFromYAML(t *testing.T) {
	dir := t.TempDir()
	origDir, _ := os.Getwd()
	require.NoError(t, os.Chdir(dir))
	t.Cleanup(func() { os.Chdir(origDir) })

	yaml := `
store:
  driver: postgres
  database_url: postgres://localhost/facturas
ai:
  provider: anthropic
  anthropic_api_key: sk-ant-test
log:
  level: debug
  format: console
server:
  port: 9090
`
	require.NoError(t, os.WriteFile(filepath.Join(dir, "config.yaml"), []byte(yaml), 0644))

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "postgres", cfg.Store.Driver)
	assert.Equal(t, "anthropic", cfg.AI.Provider)
	assert.Equal(t, "sk-ant-test", cfg.AI.AnthropicAPIKey)
	assert.Equal(t, "debug", cfg.Log.Level)
	assert.Equal(t, 9090, cfg.Server.Port)
	// Defaults still apply for unset values
	assert.Equal(t, "qwen2.5:3b", cfg.AI.OllamaModel)
}

func TestLoadEnvOverridesFile(t *testing.T) {
	dir := t.TempDir()
	origDir, _ := os.Getwd()
	require.NoError(t, os.Chdir(dir))
	t.Cleanup(func() { os.Chdir(origDir) })

	yaml := `
ai:
  provider: ollama
log:
  level: debug
`
	require.NoError(t, os.WriteFile(filepath.Join(dir, "config.yaml"), []byte(yaml), 0644))

	t.Setenv("FACTURA_AI_PROVIDER", "openai")
	t.Setenv("FACTURA_LOG_LEVEL", "warn")

	cfg, err := Load()
	require.NoError(t, err)

	// Env overrides file
	assert.Equal(t, "openai", cfg.AI.Provider)
	assert.Equal(t, "warn", cfg.Log.Level)
}

func TestLoadEnvOverridesDefaults(t *testing.T) {
	dir := t.TempDir()
	origDir, _ := os.Getwd()
	require.NoError(t, os.Chdir(dir))
	t.Cleanup(func() { os.Chdir(origDir) })

	t.Setenv("FACTURA_SERVER_PORT", "3000")

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, 3000, cfg.Server.Port)
}

func TestInitLoggerConsole(t *testing.T) {
	err := InitLogger(LogConfig{Level: "debug", Format: "console"})
	require.NoError(t, err)
	assert.NotNil(t, zap.L())
}

func TestInitLoggerJSON(t *testing.T) {
	err := InitLogger(LogConfig{Level: "info", Format: "json"})
	require.NoError(t, err)
	assert.NotNil(t, zap.L())
}

func TestInitLoggerInvalidLevel(t *testing.T) {
	err := InitLogger(LogConfig{Level: "invalid", Format: "json"})
	assert.Error(t, err)
}

// validDefaults returns a Config with all defaults populated for validation tests.
func validDefaults() *Config {
	cfg := &Config{}
	cfg.Store.Driver = "sqlite"
	cfg.Store.DatabaseURL = "facturas.db"
	cfg.AI.Provider = "ollama"
	cfg.Alerts.ConsumptionThreshold = 0.20
	cfg.Alerts.PriceThreshold = 0.15
	cfg.Batch.MaxConcurrent = 4
	cfg.Batch.RatePerSecond = 2
	cfg.Watch.InboxDir = "inbox"
	cfg.Watch.ProcessedDir = "processed"
	cfg.Watch.MoveToProcessed = true
	cfg.Server.Port = 8000
	return cfg
}

func TestValidateServe(t *testing.T) {
	cfg := validDefaults()
	assert.NoError(t, cfg.Validate("serve"))

	cfg.Server.Port = 0
	err := cfg.Validate("serve")
	assert.Error(t, err)
	assert.Contains(t, err.Error(), "server.port must be > 0")
}

func TestValidateBadDriver(t *testing.T) {
	cfg := validDefaults()
	cfg.Store.Driver = "mysql"

	err := cfg.Validate("extract")
	assert.Error(t, err)
	assert.Contains(t, err.Error(), "store.driver")
}

func TestValidateBadProvider(t *testing.T) {
	cfg := validDefaults()
	cfg.AI.Provider = "gemini"

	err := cfg.Validate("extract")
	assert.Error(t, err)
	assert.Contains(t, err.Error(), "ai.provider")
}

func TestValidateBatchBounds(t *testing.T) {
	cfg := validDefaults()

	cfg.Batch.MaxConcurrent = 0
	err := cfg.Validate("batch")
	assert.Error(t, err)
	assert.Contains(t, err.Error(), "batch.max_concurrent must be between 1 and 32")

	cfg.Batch.MaxConcurrent = 33
	err = cfg.Validate("batch")
	assert.Error(t, err)

	cfg.Batch.MaxConcurrent = 32
	cfg.Batch.RatePerSecond = 0
	err = cfg.Validate("batch")
	assert.Error(t, err)
	assert.Contains(t, err.Error(), "batch.rate_per_second")

	cfg.Batch.RatePerSecond = 1
	assert.NoError(t, cfg.Validate("batch"))
}

func TestValidateWatchDirs(t *testing.T) {
	cfg := validDefaults()
	cfg.Watch.ProcessedDir = ""

	err := cfg.Validate("watch")
	assert.Error(t, err)
	assert.Contains(t, err.Error(), "watch.processed_dir is required")

	cfg.Watch.MoveToProcessed = false
	assert.NoError(t, cfg.Validate("watch"))
}

func TestValidateAlertThresholds(t *testing.T) {
	cfg := validDefaults()
	cfg.Alerts.ConsumptionThreshold = 1.5

	err := cfg.Validate("extract")
	assert.Error(t, err)
	assert.Contains(t, err.Error(), "alerts.consumption_threshold")
}

func TestValidateUnknownMode(t *testing.T) {
	cfg := validDefaults()
	err := cfg.Validate("unknown")
	assert.Error(t, err)
	assert.Contains(t, err.Error(), "unknown mode")
}
