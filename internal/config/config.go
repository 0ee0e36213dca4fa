package config

import (
	"fmt"
	"io"
	"os"
	"os/user"
	"path/filepath"
	"strings"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/spf13/viper"
	"github.com/subosito/gotenv"
)

// Config is the full runtime configuration of the tracker service.
type Config struct {
	Database DatabaseConfig `mapstructure:"database"`
	Backup   BackupConfig   `mapstructure:"backup"`
	Verify   VerifyConfig   `mapstructure:"verify"`
	Sweep    SweepConfig    `mapstructure:"sweep"`
	Display  DisplayConfig  `mapstructure:"display"`
	Slack    SlackConfig    `mapstructure:"slack"`
	Server   ServerConfig   `mapstructure:"server"`
	Logging  LoggingConfig  `mapstructure:"logging"`
}

type DatabaseConfig struct {
	Path string `mapstructure:"path"`
}

type BackupConfig struct {
	Dir      string        `mapstructure:"dir"`
	Interval time.Duration `mapstructure:"interval"`
	Keep     int           `mapstructure:"keep"`
}

// VerifyConfig tunes the verification client: request timeout, the bounded
// rate-limit retry policy, and the memo TTL.
type VerifyConfig struct {
	BaseURL    string        `mapstructure:"base_url"`
	Timeout    time.Duration `mapstructure:"timeout"`
	MaxRetries int           `mapstructure:"max_retries"`
	RetryDelay time.Duration `mapstructure:"retry_delay"`
	CacheTTL   time.Duration `mapstructure:"cache_ttl"`
}

// SweepConfig tunes the periodic reconciliation sweep: how often it runs, how
// many members it verifies per cycle, and the inter-check pacing delay.
type SweepConfig struct {
	Interval     time.Duration `mapstructure:"interval"`
	CheckLimit   int           `mapstructure:"check_limit"`
	RequestDelay time.Duration `mapstructure:"request_delay"`
}

// DisplayConfig tunes roster pagination and the pacing of page operations.
// Page capacity is MembersPerColumn * ColumnsPerPage.
type DisplayConfig struct {
	EmbedColor       int           `mapstructure:"embed_color"`
	MembersPerColumn int           `mapstructure:"members_per_column"`
	ColumnsPerPage   int           `mapstructure:"columns_per_page"`
	PageDelay        time.Duration `mapstructure:"page_delay"`
	PageRetries      int           `mapstructure:"page_retries"`
}

type SlackConfig struct {
	BotToken string `mapstructure:"bot_token"`
}

type ServerConfig struct {
	Host string `mapstructure:"host"`
	Port int    `mapstructure:"port"`
}

type LoggingConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
	Output string `mapstructure:"output"`
}

func (s ServerConfig) Addr() string {
	return fmt.Sprintf("%s:%d", s.Host, s.Port)
}

// PageCapacity is the number of members one rendered page holds.
func (d DisplayConfig) PageCapacity() int {
	return d.MembersPerColumn * d.ColumnsPerPage
}

// DefaultConfig returns a config populated with defaults only.
func DefaultConfig() *Config {
	v := viper.New()
	setDefaults(v)

	var config Config
	if err := v.Unmarshal(&config); err != nil {
		logrus.Fatalf("error unmarshaling default config: %v", err)
	}

	return &config
}

// Load loads the configuration from the config file, environment variables
// and defaults, then configures logging from it.
func Load(configFile string) (*Config, error) {
	loadEnvFile()

	v := viper.New()
	setupViperConfig(v, configFile)
	bindEnvironmentVariables(v)

	config, err := readAndUnmarshalConfig(v)
	if err != nil {
		return nil, err
	}

	if err := setupLogging(config); err != nil {
		return nil, err
	}

	return config, nil
}

// loadEnvFile loads the .env file if it exists
func loadEnvFile() {
	if err := gotenv.Load(); err != nil {
		// .env file not found, that's okay - continue with other sources
		if !os.IsNotExist(err) {
			fmt.Printf("Warning: Error loading .env file: %v\n", err)
		}
	}
}

// setupViperConfig configures viper with file paths, defaults and env settings
func setupViperConfig(v *viper.Viper, configFile string) {
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")
	v.AddConfigPath("./config")
	v.AddConfigPath("/etc/guildtrack")

	if usr, err := user.Current(); err == nil {
		v.AddConfigPath(filepath.Join(usr.HomeDir, ".config", "guildtrack"))
	}

	if len(configFile) > 0 {
		v.SetConfigFile(configFile)
	}

	setDefaults(v)

	v.SetEnvPrefix("TRACKER")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	v.AllowEmptyEnv(true)
}

// bindEnvironmentVariables binds the environment variables that do not follow
// the automatic dot-to-underscore mapping
func bindEnvironmentVariables(v *viper.Viper) {
	v.BindEnv("slack.bot_token", "TRACKER_SLACK_BOT_TOKEN", "SLACK_BOT_TOKEN")
	v.BindEnv("database.path", "TRACKER_DATABASE_PATH")
	v.BindEnv("verify.base_url", "TRACKER_VERIFY_BASE_URL")
	v.BindEnv("server.port", "TRACKER_SERVER_PORT", "PORT")

	v.BindEnv("logging.level", "TRACKER_LOGGING_LEVEL")
	v.BindEnv("logging.format", "TRACKER_LOGGING_FORMAT")
	v.BindEnv("logging.output", "TRACKER_LOGGING_OUTPUT")
}

// setDefaults carries the tuned pacing and layout values the service ships
// with. The sweep and verify delays are tuned against the profile source's
// request ceiling; change them together or not at all.
func setDefaults(v *viper.Viper) {
	v.SetDefault("database.path", "guild_tracker.db")

	v.SetDefault("backup.dir", "backups")
	v.SetDefault("backup.interval", "24h")
	v.SetDefault("backup.keep", 7)

	v.SetDefault("verify.base_url", "https://account.aq.com")
	v.SetDefault("verify.timeout", "15s")
	v.SetDefault("verify.max_retries", 1)
	v.SetDefault("verify.retry_delay", "5s")
	v.SetDefault("verify.cache_ttl", "5m")

	v.SetDefault("sweep.interval", "2m")
	v.SetDefault("sweep.check_limit", 15)
	v.SetDefault("sweep.request_delay", "3s")

	v.SetDefault("display.embed_color", 0x5865F2)
	v.SetDefault("display.members_per_column", 15)
	v.SetDefault("display.columns_per_page", 3)
	v.SetDefault("display.page_delay", "2500ms")
	v.SetDefault("display.page_retries", 3)

	v.SetDefault("server.host", "0.0.0.0")
	v.SetDefault("server.port", 8080)

	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "text")
	v.SetDefault("logging.output", "bot.log")
}

// readAndUnmarshalConfig reads the configuration file and unmarshals it
func readAndUnmarshalConfig(v *viper.Viper) (*Config, error) {
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("error reading config file: %w", err)
		}
		// Config file not found; proceed with defaults and environment variables
	}

	var config Config
	if err := v.Unmarshal(&config); err != nil {
		return nil, fmt.Errorf("error unmarshaling config: %w", err)
	}

	return &config, nil
}

// setupLogging configures the logging system based on the config
func setupLogging(config *Config) error {
	logrusLevel, err := logrus.ParseLevel(config.Logging.Level)
	if err != nil {
		return fmt.Errorf("error parsing log level: %w", err)
	}
	logrus.SetLevel(logrusLevel)

	switch strings.ToLower(config.Logging.Format) {
	case "json":
		logrus.SetFormatter(&logrus.JSONFormatter{})
	case "text":
		logrus.SetFormatter(&logrus.TextFormatter{
			FullTimestamp: true,
		})
	default:
		logrus.WithFields(logrus.Fields{
			"format": config.Logging.Format,
		}).Warnln("Unknown logging format, defaulting to text")
		logrus.SetFormatter(&logrus.TextFormatter{
			FullTimestamp: true,
		})
	}

	if len(config.Logging.Output) > 0 {
		file, err := os.OpenFile(config.Logging.Output,
			os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
		if err != nil {
			logrus.WithError(err).Warnln("Failed to open log file, logging to stderr only")
			return nil
		}
		logrus.SetOutput(io.MultiWriter(os.Stderr, file))
	}

	return nil
}
