package config

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"
	"unicode"

	"github.com/pkg/errors"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/spf13/viper"
	"gopkg.in/natefinch/lumberjack.v2"

	"github.com/109isaque10/scraped/caching"
	"github.com/109isaque10/scraped/scrapers"
	"github.com/109isaque10/scraped/worker"
)

const envPrefix = "SCRAPED_"

type Config struct {
	Host          string `mapstructure:"host"`
	Port          int    `mapstructure:"port"`
	LogLevel      string `mapstructure:"logLevel"`
	LogPath       string `mapstructure:"logPath"`
	LogMaxSize    int    `mapstructure:"logMaxSize"`
	LogMaxBackups int    `mapstructure:"logMaxBackups"`

	DatabaseEngine     string `mapstructure:"databaseEngine"`
	SQLitePath         string `mapstructure:"sqlitePath"`
	PostgresDSN        string `mapstructure:"postgresDsn"`
	MemorySnapshotPath string `mapstructure:"memorySnapshotPath"`

	ProxyURL       string        `mapstructure:"proxyUrl"`
	TMDBAPIKey     string        `mapstructure:"tmdbApiKey"`
	MetadataTTL    time.Duration `mapstructure:"metadataTtl"`
	KitsuURL       string        `mapstructure:"kitsuUrl"`
	JackettURL     string        `mapstructure:"jackettUrl"`
	JackettAPIKey  string        `mapstructure:"jackettApiKey"`
	ProwlarrURL    string        `mapstructure:"prowlarrUrl"`
	ProwlarrAPIKey string        `mapstructure:"prowlarrApiKey"`
	TorrentioURL   string        `mapstructure:"torrentioUrl"`
	BTDiggURL      string        `mapstructure:"btdiggUrl"`
	APIBayURL      string        `mapstructure:"apibayUrl"`
	SourcesFile    string        `mapstructure:"sourcesFile"`

	StaleProcessingAfter time.Duration `mapstructure:"staleProcessingAfter"`
	VariantConcurrency   int           `mapstructure:"variantConcurrency"`
	WorkerCount          int           `mapstructure:"workerCount"`
	QueueSize            int           `mapstructure:"queueSize"`
	TaskTimeout          time.Duration `mapstructure:"taskTimeout"`
	RequestSchedule      string        `mapstructure:"requestSchedule"`
	ReclaimSchedule      string        `mapstructure:"reclaimSchedule"`
	TrendingSchedule     string        `mapstructure:"trendingSchedule"`
	TrendingLimit        int           `mapstructure:"trendingLimit"`
	MaxRequestTries      int           `mapstructure:"maxRequestTries"`
	RequestBackoff       time.Duration `mapstructure:"requestBackoff"`

	MetricsEnabled bool `mapstructure:"metricsEnabled"`
}

type AppConfig struct {
	Config  *Config
	viper   *viper.Viper
	version string
}

// New loads defaults, then the config file, then SCRAPED_* environment variables.
// An empty path looks for config.yaml in the working directory and is fine to miss.
func New(path string, version string) (*AppConfig, error) {
	c := &AppConfig{
		viper:   viper.New(),
		Config:  &Config{},
		version: version,
	}

	c.defaults()

	if err := c.load(path); err != nil {
		return nil, err
	}

	if err := c.loadFromEnv(); err != nil {
		return nil, err
	}

	if err := c.viper.Unmarshal(c.Config); err != nil {
		return nil, errors.Wrap(err, "failed to unmarshal config")
	}

	if err := c.Config.validate(); err != nil {
		return nil, err
	}

	return c, nil
}

var keys = []string{
	"host", "port", "logLevel", "logPath", "logMaxSize", "logMaxBackups",
	"databaseEngine", "sqlitePath", "postgresDsn", "memorySnapshotPath",
	"proxyUrl", "tmdbApiKey", "metadataTtl", "kitsuUrl",
	"jackettUrl", "jackettApiKey", "prowlarrUrl", "prowlarrApiKey",
	"torrentioUrl", "btdiggUrl", "apibayUrl", "sourcesFile",
	"staleProcessingAfter", "variantConcurrency", "workerCount", "queueSize", "taskTimeout",
	"requestSchedule", "reclaimSchedule", "trendingSchedule", "trendingLimit",
	"maxRequestTries", "requestBackoff", "metricsEnabled",
}

func (c *AppConfig) defaults() {
	c.viper.SetDefault("host", "0.0.0.0")
	c.viper.SetDefault("port", 8080)
	c.viper.SetDefault("logLevel", "INFO")
	c.viper.SetDefault("logPath", "")
	c.viper.SetDefault("logMaxSize", 50)
	c.viper.SetDefault("logMaxBackups", 3)

	c.viper.SetDefault("databaseEngine", caching.EngineSQLite)
	c.viper.SetDefault("sqlitePath", "data/scraped.db")
	c.viper.SetDefault("postgresDsn", "")
	c.viper.SetDefault("memorySnapshotPath", "")

	c.viper.SetDefault("proxyUrl", "")
	c.viper.SetDefault("tmdbApiKey", "")
	c.viper.SetDefault("metadataTtl", "24h")
	c.viper.SetDefault("kitsuUrl", "https://kitsu.io/api/edge")
	c.viper.SetDefault("jackettUrl", "")
	c.viper.SetDefault("jackettApiKey", "")
	c.viper.SetDefault("prowlarrUrl", "")
	c.viper.SetDefault("prowlarrApiKey", "")
	c.viper.SetDefault("torrentioUrl", "https://torrentio.strem.fun")
	c.viper.SetDefault("btdiggUrl", "https://btdig.com")
	c.viper.SetDefault("apibayUrl", "https://apibay.org")
	c.viper.SetDefault("sourcesFile", "")

	c.viper.SetDefault("staleProcessingAfter", "1h")
	c.viper.SetDefault("variantConcurrency", 3)
	c.viper.SetDefault("workerCount", worker.DefaultWorkers)
	c.viper.SetDefault("queueSize", worker.DefaultQueueSize)
	c.viper.SetDefault("taskTimeout", "30m")
	c.viper.SetDefault("requestSchedule", worker.DefaultRequestSchedule)
	c.viper.SetDefault("reclaimSchedule", worker.DefaultReclaimSchedule)
	c.viper.SetDefault("trendingSchedule", worker.DefaultTrendingSchedule)
	c.viper.SetDefault("trendingLimit", worker.DefaultTrendingLimit)
	c.viper.SetDefault("maxRequestTries", worker.DefaultMaxRequestTries)
	c.viper.SetDefault("requestBackoff", "5m")

	c.viper.SetDefault("metricsEnabled", false)
}

func (c *AppConfig) load(path string) error {
	c.viper.SetConfigType("yaml")

	if path != "" {
		c.viper.SetConfigFile(path)
		if err := c.viper.ReadInConfig(); err != nil {
			return errors.Wrapf(err, "failed to read config %s", path)
		}
		return nil
	}

	c.viper.SetConfigName("config")
	c.viper.AddConfigPath(".")
	if err := c.viper.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); ok {
			return nil
		}
		return errors.Wrap(err, "failed to read config")
	}
	return nil
}

// loadFromEnv binds every known key to SCRAPED_<KEY> explicitly instead of
// reading the whole environment
func (c *AppConfig) loadFromEnv() error {
	// an empty url variable disables a source
	c.viper.AllowEmptyEnv(true)
	for _, key := range keys {
		if err := c.viper.BindEnv(key, EnvName(key)); err != nil {
			return errors.Wrapf(err, "bind %s", key)
		}
	}
	return nil
}

// EnvName returns the environment variable of a config key, logMaxSize becomes
// SCRAPED_LOG_MAX_SIZE
func EnvName(key string) string {
	var b strings.Builder
	b.WriteString(envPrefix)
	for i, r := range key {
		if unicode.IsUpper(r) && i > 0 {
			b.WriteByte('_')
		}
		b.WriteRune(unicode.ToUpper(r))
	}
	return b.String()
}

func (cfg *Config) validate() error {
	switch cfg.DatabaseEngine {
	case caching.EngineSQLite, caching.EnginePostgres, caching.EngineMemory:
	default:
		return errors.Errorf("unknown databaseEngine %q", cfg.DatabaseEngine)
	}
	if cfg.DatabaseEngine == caching.EnginePostgres && cfg.PostgresDSN == "" {
		return errors.New("postgresDsn is required for the postgres engine")
	}
	if cfg.Port <= 0 || cfg.Port > 65535 {
		return errors.Errorf("invalid port %d", cfg.Port)
	}
	return nil
}

func (cfg *Config) Addr() string {
	return fmt.Sprintf("%s:%d", cfg.Host, cfg.Port)
}

func (cfg *Config) Endpoints() scrapers.Endpoints {
	return scrapers.Endpoints{
		BTDiggURL:      cfg.BTDiggURL,
		APIBayURL:      cfg.APIBayURL,
		JackettURL:     cfg.JackettURL,
		JackettAPIKey:  cfg.JackettAPIKey,
		ProwlarrURL:    cfg.ProwlarrURL,
		ProwlarrAPIKey: cfg.ProwlarrAPIKey,
		TorrentioURL:   cfg.TorrentioURL,
		SourcesFile:    cfg.SourcesFile,
	}
}

func (cfg *Config) StoreOptions() caching.Options {
	return caching.Options{
		Engine:       cfg.DatabaseEngine,
		SQLitePath:   cfg.SQLitePath,
		PostgresDSN:  cfg.PostgresDSN,
		SnapshotPath: cfg.MemorySnapshotPath,
	}
}

func (cfg *Config) WorkerOptions() worker.Options {
	return worker.Options{
		Workers:          cfg.WorkerCount,
		QueueSize:        cfg.QueueSize,
		TaskTimeout:      cfg.TaskTimeout,
		RequestSchedule:  cfg.RequestSchedule,
		ReclaimSchedule:  cfg.ReclaimSchedule,
		TrendingSchedule: cfg.TrendingSchedule,
		TrendingLimit:    cfg.TrendingLimit,
		MaxRequestTries:  cfg.MaxRequestTries,
		RequestBackoff:   cfg.RequestBackoff,
	}
}

func (c *AppConfig) ApplyLogConfig() {
	zerolog.TimeFieldFormat = time.RFC3339

	setLogLevel(c.Config.LogLevel)

	writer := baseLogWriter(c.version)

	if c.Config.LogPath != "" {
		multiWriter, err := setupLogFile(c.Config.LogPath, writer, c.Config.LogMaxSize, c.Config.LogMaxBackups)
		if err != nil {
			log.Error().Err(err).Msg("Failed to setup log file")
		} else {
			writer = multiWriter
		}
	}

	log.Logger = log.Logger.Output(writer)
}

func setLogLevel(level string) {
	lvl, err := zerolog.ParseLevel(strings.ToLower(strings.TrimSpace(level)))
	if err != nil || lvl == zerolog.NoLevel {
		lvl = zerolog.InfoLevel
	}
	zerolog.SetGlobalLevel(lvl)
	log.Logger = log.Logger.Level(lvl)
}

func setupLogFile(path string, base io.Writer, maxSize, maxBackups int) (io.Writer, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return nil, fmt.Errorf("failed to create log directory: %w", err)
	}

	if maxSize <= 0 {
		maxSize = 50
	}
	if maxBackups < 0 {
		maxBackups = 0
	}

	rotator := &lumberjack.Logger{
		Filename:   path,
		MaxSize:    maxSize,
		MaxBackups: maxBackups,
	}

	return io.MultiWriter(base, rotator), nil
}

func baseLogWriter(version string) io.Writer {
	if isDevBuild(version) {
		return zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.RFC3339}
	}
	return os.Stderr
}

// InitDefaultLogger configures zerolog before any config is loaded
func InitDefaultLogger(version string) {
	zerolog.TimeFieldFormat = time.RFC3339
	log.Logger = log.Logger.Output(baseLogWriter(version))
}

func isDevBuild(version string) bool {
	v := strings.ToLower(strings.TrimSpace(version))
	return v == "" || v == "dev" || strings.HasSuffix(v, "-dev")
}
