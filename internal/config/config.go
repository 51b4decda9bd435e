package config

import (
	"strings"
	"unicode/utf8"

	"github.com/rotisserie/eris"
	"github.com/spf13/viper"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// archiveMaxRows mirrors the search endpoint's page cap.
const archiveMaxRows = 300

// Config holds the full application configuration.
type Config struct {
	Input   InputConfig   `yaml:"input" mapstructure:"input"`
	Filter  FilterConfig  `yaml:"filter" mapstructure:"filter"`
	Archive ArchiveConfig `yaml:"archive" mapstructure:"archive"`
	Output  OutputConfig  `yaml:"output" mapstructure:"output"`
	Publish PublishConfig `yaml:"publish" mapstructure:"publish"`
	Log     LogConfig     `yaml:"log" mapstructure:"log"`
}

// InputConfig describes the episode list.
type InputConfig struct {
	Path      string `yaml:"path" mapstructure:"path"`
	Format    string `yaml:"format" mapstructure:"format"`       // csv, tsv, xlsx; empty infers from extension
	Delimiter string `yaml:"delimiter" mapstructure:"delimiter"` // single character; "\t" accepted
	Encoding  string `yaml:"encoding" mapstructure:"encoding"`
	Sheet     string `yaml:"sheet" mapstructure:"sheet"`
}

// FilterConfig restricts which records are checked. Empty values match everything.
type FilterConfig struct {
	Series  string `yaml:"series" mapstructure:"series"`
	Channel string `yaml:"channel" mapstructure:"channel"`
}

// ArchiveConfig configures the archive.org search queries.
type ArchiveConfig struct {
	BaseURL     string  `yaml:"base_url" mapstructure:"base_url"`
	BatchSize   int     `yaml:"batch_size" mapstructure:"batch_size"`
	MaxRows     int     `yaml:"max_rows" mapstructure:"max_rows"`
	TimeoutSecs int     `yaml:"timeout_secs" mapstructure:"timeout_secs"`
	RatePerSec  float64 `yaml:"rate_per_sec" mapstructure:"rate_per_sec"`
	UserAgent   string  `yaml:"user_agent" mapstructure:"user_agent"`
}

// OutputConfig configures the missing-links file and the report.
type OutputConfig struct {
	Path   string `yaml:"path" mapstructure:"path"` // empty derives missing[_series][_channel].txt
	Format string `yaml:"format" mapstructure:"format"`
}

// PublishConfig configures committing the missing-links file.
type PublishConfig struct {
	Enabled     bool   `yaml:"enabled" mapstructure:"enabled"`
	Dir         string `yaml:"dir" mapstructure:"dir"`
	Remote      string `yaml:"remote" mapstructure:"remote"`
	Branch      string `yaml:"branch" mapstructure:"branch"`
	AuthorName  string `yaml:"author_name" mapstructure:"author_name"`
	AuthorEmail string `yaml:"author_email" mapstructure:"author_email"`
	Message     string `yaml:"message" mapstructure:"message"`
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
	v.SetEnvPrefix("ARCHIVE")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// Defaults
	v.SetDefault("input.path", "episodes.csv")
	v.SetDefault("input.format", "")
	v.SetDefault("input.delimiter", "")
	v.SetDefault("input.encoding", "utf-8")
	v.SetDefault("input.sheet", "")
	v.SetDefault("filter.series", "")
	v.SetDefault("filter.channel", "")
	v.SetDefault("archive.base_url", "https://archive.org/advancedsearch.php")
	v.SetDefault("archive.batch_size", 250)
	v.SetDefault("archive.max_rows", archiveMaxRows)
	v.SetDefault("archive.timeout_secs", 30)
	v.SetDefault("archive.rate_per_sec", 1.0)
	v.SetDefault("archive.user_agent", "archive-check/1.0")
	v.SetDefault("output.path", "")
	v.SetDefault("output.format", "text")
	v.SetDefault("publish.enabled", false)
	v.SetDefault("publish.dir", "")
	v.SetDefault("publish.remote", "")
	v.SetDefault("publish.branch", "")
	v.SetDefault("publish.author_name", "github-actions[bot]")
	v.SetDefault("publish.author_email", "41898282+github-actions[bot]@users.noreply.github.com")
	v.SetDefault("publish.message", "Update missing output txt")
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

// Validate checks the settings that would otherwise fail mid-run.
func (c *Config) Validate() error {
	if c.Input.Path == "" {
		return eris.New("config: input.path is required")
	}
	switch strings.ToLower(c.Input.Format) {
	case "", "csv", "tsv", "xlsx":
	default:
		return eris.Errorf("config: unknown input.format %q", c.Input.Format)
	}
	if _, err := c.Input.DelimiterRune(); err != nil {
		return err
	}
	if c.Archive.BatchSize <= 0 {
		return eris.Errorf("config: archive.batch_size must be positive, got %d", c.Archive.BatchSize)
	}
	if c.Archive.MaxRows <= 0 || c.Archive.MaxRows > archiveMaxRows {
		return eris.Errorf("config: archive.max_rows must be between 1 and %d, got %d", archiveMaxRows, c.Archive.MaxRows)
	}
	if c.Archive.BatchSize > c.Archive.MaxRows {
		return eris.Errorf("config: archive.batch_size %d exceeds archive.max_rows %d; results would be truncated", c.Archive.BatchSize, c.Archive.MaxRows)
	}
	if c.Archive.RatePerSec < 0 {
		return eris.Errorf("config: archive.rate_per_sec must not be negative, got %g", c.Archive.RatePerSec)
	}
	switch strings.ToLower(c.Output.Format) {
	case "", "text", "json", "yaml":
	default:
		return eris.Errorf("config: unknown output.format %q", c.Output.Format)
	}
	return nil
}

// DelimiterRune parses the configured delimiter. Zero means the format default.
func (c InputConfig) DelimiterRune() (rune, error) {
	switch c.Delimiter {
	case "":
		return 0, nil
	case `\t`, "tab":
		return '\t', nil
	}
	r, size := utf8.DecodeRuneInString(c.Delimiter)
	if r == utf8.RuneError || size != len(c.Delimiter) {
		return 0, eris.Errorf("config: input.delimiter must be a single character, got %q", c.Delimiter)
	}
	return r, nil
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
