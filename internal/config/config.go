package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config holds all application configuration.
type Config struct {
	Server     ServerConfig
	DB         DBConfig
	S3         S3Config
	Log        LogConfig
	LLM        LLMConfig
	Extraction ExtractionConfig
	Chunking   ChunkingConfig
	Notify     NotifyConfig
	CORS       CORSConfig
}

// CORSConfig holds CORS settings.
type CORSConfig struct {
	AllowedOrigins []string `mapstructure:"allowed_origins"`
}

// NotifyConfig holds manual-review notification settings.
type NotifyConfig struct {
	Provider    string `mapstructure:"provider"`
	Region      string `mapstructure:"region"`
	FromAddress string `mapstructure:"from_address"`
	FromName    string `mapstructure:"from_name"`
	ToAddress   string `mapstructure:"to_address"`
}

// ModelProviderConfig holds settings for a single model backend.
type ModelProviderConfig struct {
	Provider     string `mapstructure:"provider"`
	APIKey       string `mapstructure:"api_key"`
	DefaultModel string `mapstructure:"default_model"`
	BaseURL      string `mapstructure:"base_url"`
	MaxRetries   int    `mapstructure:"max_retries"`
	TimeoutSecs  int    `mapstructure:"timeout_secs"`
}

// LLMConfig holds model invocation settings. Backends are tried in order
// primary, secondary, tertiary.
type LLMConfig struct {
	Primary   ModelProviderConfig `mapstructure:"primary"`
	Secondary ModelProviderConfig `mapstructure:"secondary"`
	Tertiary  ModelProviderConfig `mapstructure:"tertiary"`

	Temperature         float64       `mapstructure:"temperature"`
	MaxOutputTokens     int           `mapstructure:"max_output_tokens"`
	BaseOutputTokens    int           `mapstructure:"base_output_tokens"`
	PerItemOutputTokens int           `mapstructure:"per_item_output_tokens"`
	RequestsPerSecond   float64       `mapstructure:"requests_per_second"`
	RetryBaseDelay      time.Duration `mapstructure:"retry_base_delay"`
	RetryMaxDelay       time.Duration `mapstructure:"retry_max_delay"`
}

// Backends returns the configured provider configs in fallback order.
func (l *LLMConfig) Backends() []ModelProviderConfig {
	var out []ModelProviderConfig
	for _, p := range []ModelProviderConfig{l.Primary, l.Secondary, l.Tertiary} {
		if p.Provider != "" {
			out = append(out, p)
		}
	}
	return out
}

// ExtractionConfig holds table selection and completeness gate settings.
type ExtractionConfig struct {
	ScoreThreshold      float64       `mapstructure:"score_threshold"`
	FuzzyThreshold      float64       `mapstructure:"fuzzy_threshold"`
	MinJaccard          float64       `mapstructure:"min_jaccard"`
	MaxPageGap          int           `mapstructure:"max_page_gap"`
	MinCoverage         float64       `mapstructure:"min_coverage"`
	CoverageGateMinRows int           `mapstructure:"coverage_gate_min_rows"`
	SevereGateMinRows   int           `mapstructure:"severe_gate_min_rows"`
	SevereGateMinItems  int           `mapstructure:"severe_gate_min_items"`
	GapWarnRows         int           `mapstructure:"gap_warn_rows"`
	MetadataOnlyMinRows int           `mapstructure:"metadata_only_min_rows"`
	RawQuantityTrust    float64       `mapstructure:"raw_quantity_trust"`
	VocabularyPath      string        `mapstructure:"vocabulary_path"`
	Timeout             time.Duration `mapstructure:"timeout"`
}

// ChunkingConfig holds large-document chunking settings.
type ChunkingConfig struct {
	ItemThreshold   int           `mapstructure:"item_threshold"`
	TableThreshold  int           `mapstructure:"table_threshold"`
	PagesPerChunk   int           `mapstructure:"pages_per_chunk"`
	ItemsPerChunk   int           `mapstructure:"items_per_chunk"`
	Concurrency     int           `mapstructure:"concurrency"`
	InterBatchDelay time.Duration `mapstructure:"inter_batch_delay"`
	RetryFailed     bool          `mapstructure:"retry_failed"`
}

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	Port         string        `mapstructure:"port"`
	ReadTimeout  time.Duration `mapstructure:"read_timeout"`
	WriteTimeout time.Duration `mapstructure:"write_timeout"`
	Environment  string        `mapstructure:"environment"`
	MaxBodyMB    int64         `mapstructure:"max_body_mb"`
}

// DBConfig holds PostgreSQL connection settings. An empty Host disables
// run recording.
type DBConfig struct {
	Host     string `mapstructure:"host"`
	Port     int    `mapstructure:"port"`
	User     string `mapstructure:"user"`
	Password string `mapstructure:"password"`
	Name     string `mapstructure:"name"`
	SSLMode  string `mapstructure:"sslmode"`
	MaxOpen  int    `mapstructure:"max_open"`
	MaxIdle  int    `mapstructure:"max_idle"`
}

// DSN returns the PostgreSQL connection string.
func (d *DBConfig) DSN() string {
	return fmt.Sprintf(
		"postgres://%s:%s@%s:%d/%s?sslmode=%s",
		d.User, d.Password, d.Host, d.Port, d.Name, d.SSLMode,
	)
}

// S3Config holds AWS S3 settings for OCR input documents.
type S3Config struct {
	Region        string `mapstructure:"region"`
	Bucket        string `mapstructure:"bucket"`
	Endpoint      string `mapstructure:"endpoint"`
	AccessKey     string `mapstructure:"access_key"`
	SecretKey     string `mapstructure:"secret_key"`
	MaxFileSizeMB int64  `mapstructure:"max_file_size_mb"`
}

// LogConfig holds logging settings.
type LogConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

func setDefaults(v *viper.Viper) {
	// Server defaults
	v.SetDefault("server.port", ":8080")
	v.SetDefault("server.read_timeout", "30s")
	v.SetDefault("server.write_timeout", "10m")
	v.SetDefault("server.environment", "development")
	v.SetDefault("server.max_body_mb", 25)

	// DB defaults
	v.SetDefault("db.host", "")
	v.SetDefault("db.port", 5432)
	v.SetDefault("db.user", "smartmetal")
	v.SetDefault("db.password", "smartmetal_secret")
	v.SetDefault("db.name", "smartmetal_db")
	v.SetDefault("db.sslmode", "disable")
	v.SetDefault("db.max_open", 10)
	v.SetDefault("db.max_idle", 5)

	// S3 defaults
	v.SetDefault("s3.region", "us-east-1")
	v.SetDefault("s3.bucket", "smartmetal-ocr")
	v.SetDefault("s3.endpoint", "")
	v.SetDefault("s3.max_file_size_mb", 25)

	// Log defaults
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "console")

	// LLM defaults
	for _, tier := range []string{"primary", "secondary", "tertiary"} {
		v.SetDefault("llm."+tier+".provider", "")
		v.SetDefault("llm."+tier+".api_key", "")
		v.SetDefault("llm."+tier+".default_model", "")
		v.SetDefault("llm."+tier+".base_url", "")
		v.SetDefault("llm."+tier+".max_retries", 2)
		v.SetDefault("llm."+tier+".timeout_secs", 180)
	}
	v.SetDefault("llm.temperature", 0.0)
	v.SetDefault("llm.max_output_tokens", 16384)
	v.SetDefault("llm.base_output_tokens", 2048)
	v.SetDefault("llm.per_item_output_tokens", 120)
	v.SetDefault("llm.requests_per_second", 2.0)
	v.SetDefault("llm.retry_base_delay", "2s")
	v.SetDefault("llm.retry_max_delay", "30s")

	// Extraction defaults
	v.SetDefault("extraction.score_threshold", 5.0)
	v.SetDefault("extraction.fuzzy_threshold", 0.6)
	v.SetDefault("extraction.min_jaccard", 0.6)
	v.SetDefault("extraction.max_page_gap", 0)
	v.SetDefault("extraction.min_coverage", 0.8)
	v.SetDefault("extraction.coverage_gate_min_rows", 10)
	v.SetDefault("extraction.severe_gate_min_rows", 20)
	v.SetDefault("extraction.severe_gate_min_items", 10)
	v.SetDefault("extraction.gap_warn_rows", 5)
	v.SetDefault("extraction.metadata_only_min_rows", 5)
	v.SetDefault("extraction.raw_quantity_trust", 0.9)
	v.SetDefault("extraction.vocabulary_path", "")
	v.SetDefault("extraction.timeout", "10m")

	// Chunking defaults
	v.SetDefault("chunking.item_threshold", 60)
	v.SetDefault("chunking.table_threshold", 8)
	v.SetDefault("chunking.pages_per_chunk", 3)
	v.SetDefault("chunking.items_per_chunk", 40)
	v.SetDefault("chunking.concurrency", 3)
	v.SetDefault("chunking.inter_batch_delay", "1s")
	v.SetDefault("chunking.retry_failed", true)

	// CORS defaults (localhost origins for development)
	v.SetDefault("cors.allowed_origins", "http://localhost:3000,http://127.0.0.1:3000")

	// Notify defaults
	v.SetDefault("notify.provider", "noop")
	v.SetDefault("notify.region", "us-east-1")
	v.SetDefault("notify.from_address", "noreply@smartmetal.local")
	v.SetDefault("notify.from_name", "SmartMetal Extraction")
	v.SetDefault("notify.to_address", "")
}

// Load reads configuration from environment variables with the SMARTMETAL_
// prefix, and from SMARTMETAL_CONFIG_FILE when set.
func Load() (*Config, error) {
	v := viper.New()
	v.SetEnvPrefix("SMARTMETAL")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	setDefaults(v)

	if path := os.Getenv("SMARTMETAL_CONFIG_FILE"); path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("reading config file %s: %w", path, err)
		}
	}

	// Bind environment variables explicitly for nested keys
	for _, key := range v.AllKeys() {
		env := "SMARTMETAL_" + strings.ToUpper(strings.ReplaceAll(key, ".", "_"))
		_ = v.BindEnv(key, env)
	}

	cfg := &Config{}

	// Railway/Heroku/Render set a PORT env var. Use it if SMARTMETAL_SERVER_PORT is not explicitly set.
	serverPort := v.GetString("server.port")
	if port := os.Getenv("PORT"); port != "" && os.Getenv("SMARTMETAL_SERVER_PORT") == "" {
		serverPort = ":" + port
	}

	cfg.Server = ServerConfig{
		Port:         serverPort,
		ReadTimeout:  v.GetDuration("server.read_timeout"),
		WriteTimeout: v.GetDuration("server.write_timeout"),
		Environment:  v.GetString("server.environment"),
		MaxBodyMB:    v.GetInt64("server.max_body_mb"),
	}
	cfg.DB = DBConfig{
		Host:     v.GetString("db.host"),
		Port:     v.GetInt("db.port"),
		User:     v.GetString("db.user"),
		Password: v.GetString("db.password"),
		Name:     v.GetString("db.name"),
		SSLMode:  v.GetString("db.sslmode"),
		MaxOpen:  v.GetInt("db.max_open"),
		MaxIdle:  v.GetInt("db.max_idle"),
	}
	cfg.S3 = S3Config{
		Region:        v.GetString("s3.region"),
		Bucket:        v.GetString("s3.bucket"),
		Endpoint:      v.GetString("s3.endpoint"),
		AccessKey:     v.GetString("s3.access_key"),
		SecretKey:     v.GetString("s3.secret_key"),
		MaxFileSizeMB: v.GetInt64("s3.max_file_size_mb"),
	}
	cfg.Log = LogConfig{
		Level:  v.GetString("log.level"),
		Format: v.GetString("log.format"),
	}

	var corsOrigins []string
	for _, o := range strings.Split(v.GetString("cors.allowed_origins"), ",") {
		o = strings.TrimSpace(o)
		if o != "" {
			corsOrigins = append(corsOrigins, o)
		}
	}
	cfg.CORS = CORSConfig{AllowedOrigins: corsOrigins}

	provider := func(tier string) ModelProviderConfig {
		return ModelProviderConfig{
			Provider:     v.GetString("llm." + tier + ".provider"),
			APIKey:       v.GetString("llm." + tier + ".api_key"),
			DefaultModel: v.GetString("llm." + tier + ".default_model"),
			BaseURL:      v.GetString("llm." + tier + ".base_url"),
			MaxRetries:   v.GetInt("llm." + tier + ".max_retries"),
			TimeoutSecs:  v.GetInt("llm." + tier + ".timeout_secs"),
		}
	}
	cfg.LLM = LLMConfig{
		Primary:             provider("primary"),
		Secondary:           provider("secondary"),
		Tertiary:            provider("tertiary"),
		Temperature:         v.GetFloat64("llm.temperature"),
		MaxOutputTokens:     v.GetInt("llm.max_output_tokens"),
		BaseOutputTokens:    v.GetInt("llm.base_output_tokens"),
		PerItemOutputTokens: v.GetInt("llm.per_item_output_tokens"),
		RequestsPerSecond:   v.GetFloat64("llm.requests_per_second"),
		RetryBaseDelay:      v.GetDuration("llm.retry_base_delay"),
		RetryMaxDelay:       v.GetDuration("llm.retry_max_delay"),
	}

	cfg.Extraction = ExtractionConfig{
		ScoreThreshold:      v.GetFloat64("extraction.score_threshold"),
		FuzzyThreshold:      v.GetFloat64("extraction.fuzzy_threshold"),
		MinJaccard:          v.GetFloat64("extraction.min_jaccard"),
		MaxPageGap:          v.GetInt("extraction.max_page_gap"),
		MinCoverage:         v.GetFloat64("extraction.min_coverage"),
		CoverageGateMinRows: v.GetInt("extraction.coverage_gate_min_rows"),
		SevereGateMinRows:   v.GetInt("extraction.severe_gate_min_rows"),
		SevereGateMinItems:  v.GetInt("extraction.severe_gate_min_items"),
		GapWarnRows:         v.GetInt("extraction.gap_warn_rows"),
		MetadataOnlyMinRows: v.GetInt("extraction.metadata_only_min_rows"),
		RawQuantityTrust:    v.GetFloat64("extraction.raw_quantity_trust"),
		VocabularyPath:      v.GetString("extraction.vocabulary_path"),
		Timeout:             v.GetDuration("extraction.timeout"),
	}

	cfg.Chunking = ChunkingConfig{
		ItemThreshold:   v.GetInt("chunking.item_threshold"),
		TableThreshold:  v.GetInt("chunking.table_threshold"),
		PagesPerChunk:   v.GetInt("chunking.pages_per_chunk"),
		ItemsPerChunk:   v.GetInt("chunking.items_per_chunk"),
		Concurrency:     v.GetInt("chunking.concurrency"),
		InterBatchDelay: v.GetDuration("chunking.inter_batch_delay"),
		RetryFailed:     v.GetBool("chunking.retry_failed"),
	}

	cfg.Notify = NotifyConfig{
		Provider:    v.GetString("notify.provider"),
		Region:      v.GetString("notify.region"),
		FromAddress: v.GetString("notify.from_address"),
		FromName:    v.GetString("notify.from_name"),
		ToAddress:   v.GetString("notify.to_address"),
	}

	return cfg, nil
}
