package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/mitchellh/go-homedir"
	"github.com/spf13/viper"

	"github.com/martijn/snapkeep/internal/core/crontab"
)

type SchedulerConfig struct {
	TickInterval    time.Duration `mapstructure:"tick_interval"`
	MaxConcurrent   int           `mapstructure:"max_concurrent"`
	ProducerTimeout time.Duration `mapstructure:"producer_timeout"`
	RetryStrategy   string        `mapstructure:"retry_strategy"`
	RetryBaseDelay  time.Duration `mapstructure:"retry_base_delay"`
	RetryMaxDelay   time.Duration `mapstructure:"retry_max_delay"`
	DefaultTimezone string        `mapstructure:"default_timezone"`
}

type ProducerConfig struct {
	Kind          string        `mapstructure:"kind"` // "archive" or "socket"
	SourceDir     string        `mapstructure:"source_dir"`
	Compression   string        `mapstructure:"compression"` // "gzip", "zstd" or "none"
	SocketPath    string        `mapstructure:"socket_path"`
	SocketTimeout time.Duration `mapstructure:"socket_timeout"`
}

type S3Config struct {
	Endpoint  string `mapstructure:"endpoint"`
	Region    string `mapstructure:"region"`
	Bucket    string `mapstructure:"bucket"`
	AccessKey string `mapstructure:"access_key"`
	SecretKey string `mapstructure:"secret_key"`
	Prefix    string `mapstructure:"prefix"`
}

type WebDAVConfig struct {
	URL      string `mapstructure:"url"`
	Username string `mapstructure:"username"`
	Password string `mapstructure:"password"`
	Dir      string `mapstructure:"dir"`
}

type StorageConfig struct {
	Kind     string       `mapstructure:"kind"` // "local", "s3" or "webdav"
	LocalDir string       `mapstructure:"local_dir"`
	S3       S3Config     `mapstructure:"s3"`
	WebDAV   WebDAVConfig `mapstructure:"webdav"`
}

type SMTPConfig struct {
	Host     string `mapstructure:"host"`
	Port     int    `mapstructure:"port"`
	Username string `mapstructure:"username"`
	Password string `mapstructure:"password"`
	From     string `mapstructure:"from"`
	TLS      string `mapstructure:"tls"` // "starttls", "tls" or "none"
}

type WebhookConfig struct {
	Timeout    time.Duration `mapstructure:"timeout"`
	MaxElapsed time.Duration `mapstructure:"max_elapsed"`
	RatePerSec float64       `mapstructure:"rate_per_sec"`
}

type BrokerConfig struct {
	URL         string `mapstructure:"url"`
	ClientID    string `mapstructure:"client_id"`
	TopicPrefix string `mapstructure:"topic_prefix"`
}

type Config struct {
	JWTSecretKey string `mapstructure:"jwt_secret_key"`

	// Paths
	DataDir  string `mapstructure:"data_dir"`
	DBPath   string `mapstructure:"db_path"`
	LockFile string `mapstructure:"lock_file"`

	// Optional API settings
	APIHost     string   `mapstructure:"api_host"`
	APIPort     int      `mapstructure:"api_port"`
	SSLCert     string   `mapstructure:"ssl_cert"`
	SSLKey      string   `mapstructure:"ssl_key"`
	CORSOrigins []string `mapstructure:"cors_origins"`

	// Optional logging settings
	LogFile  string `mapstructure:"log_file"`
	LogLevel string `mapstructure:"log_level"`

	// Optional JWT settings
	JWTAlgorithm string        `mapstructure:"jwt_algorithm"`
	TokenTTL     time.Duration `mapstructure:"token_ttl"`

	Scheduler SchedulerConfig `mapstructure:"scheduler"`
	Producer  ProducerConfig  `mapstructure:"producer"`
	Storage   StorageConfig   `mapstructure:"storage"`
	SMTP      SMTPConfig      `mapstructure:"smtp"`
	Webhook   WebhookConfig   `mapstructure:"webhook"`
	Broker    BrokerConfig    `mapstructure:"broker"`

	// ConfigPath is the file that was read, empty when running on defaults.
	ConfigPath string `mapstructure:"-"`

	v *viper.Viper
}

const (
	EnvPrefix          = "SNAPKEEP"
	ConfigName         = "snapkeep"
	DefaultDataDir     = "/var/lib/snapkeep"
	DefaultAPIHost     = "0.0.0.0"
	DefaultAPIPort     = 8335
	DefaultLogLevel    = "info"
	DefaultJWTAlgo     = "HS256"
	DefaultTokenTTL    = time.Hour
	DefaultTopicPrefix = "snapkeep"
)

// SearchPaths lists the directories tried when no config file is given.
func SearchPaths() []string {
	paths := []string{"."}
	if home, err := homedir.Dir(); err == nil {
		paths = append(paths, filepath.Join(home, ".config", "snapkeep"))
	}
	return append(paths, "/etc/snapkeep")
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("jwt_secret_key", "")
	v.SetDefault("data_dir", DefaultDataDir)
	v.SetDefault("db_path", "")
	v.SetDefault("lock_file", "")
	v.SetDefault("api_host", DefaultAPIHost)
	v.SetDefault("api_port", DefaultAPIPort)
	v.SetDefault("ssl_cert", "")
	v.SetDefault("ssl_key", "")
	v.SetDefault("cors_origins", []string{})
	v.SetDefault("log_file", "")
	v.SetDefault("log_level", DefaultLogLevel)
	v.SetDefault("jwt_algorithm", DefaultJWTAlgo)
	v.SetDefault("token_ttl", DefaultTokenTTL)

	v.SetDefault("scheduler.tick_interval", time.Minute)
	v.SetDefault("scheduler.max_concurrent", 4)
	v.SetDefault("scheduler.producer_timeout", 30*time.Minute)
	v.SetDefault("scheduler.retry_strategy", "linear")
	v.SetDefault("scheduler.retry_base_delay", time.Minute)
	v.SetDefault("scheduler.retry_max_delay", 30*time.Minute)
	v.SetDefault("scheduler.default_timezone", "UTC")

	v.SetDefault("producer.kind", "archive")
	v.SetDefault("producer.source_dir", "")
	v.SetDefault("producer.compression", "gzip")
	v.SetDefault("producer.socket_path", "/run/snapkeep/producer.sock")
	v.SetDefault("producer.socket_timeout", 5*time.Minute)

	v.SetDefault("storage.kind", "local")
	v.SetDefault("storage.local_dir", "")
	for _, key := range []string{"endpoint", "region", "bucket", "access_key", "secret_key", "prefix"} {
		v.SetDefault("storage.s3."+key, "")
	}
	for _, key := range []string{"url", "username", "password", "dir"} {
		v.SetDefault("storage.webdav."+key, "")
	}

	v.SetDefault("smtp.host", "")
	v.SetDefault("smtp.port", 587)
	v.SetDefault("smtp.username", "")
	v.SetDefault("smtp.password", "")
	v.SetDefault("smtp.from", "")
	v.SetDefault("smtp.tls", "starttls")

	v.SetDefault("webhook.timeout", 10*time.Second)
	v.SetDefault("webhook.max_elapsed", 2*time.Minute)
	v.SetDefault("webhook.rate_per_sec", 5.0)

	v.SetDefault("broker.url", "")
	v.SetDefault("broker.client_id", "snapkeep")
	v.SetDefault("broker.topic_prefix", DefaultTopicPrefix)
}

// Load reads configuration from configPath, or from the first snapkeep.yml
// found on SearchPaths when configPath is empty. Environment variables
// prefixed with SNAPKEEP_ override both, with "." in keys written as "_".
func Load(configPath string) (*Config, error) {
	v := viper.New()
	setDefaults(v)

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if configPath != "" {
		expanded, err := homedir.Expand(configPath)
		if err != nil {
			return nil, fmt.Errorf("failed to expand config path: %w", err)
		}
		v.SetConfigFile(expanded)
	} else {
		v.SetConfigName(ConfigName)
		v.SetConfigType("yaml")
		for _, p := range SearchPaths() {
			v.AddConfigPath(p)
		}
	}

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if configPath != "" || !errors.As(err, &notFound) {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	}

	cfg, err := decode(v)
	if err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func decode(v *viper.Viper) (*Config, error) {
	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}
	cfg.v = v
	cfg.ConfigPath = v.ConfigFileUsed()
	if err := cfg.resolvePaths(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// resolvePaths expands "~" and fills paths derived from data_dir.
func (c *Config) resolvePaths() error {
	for _, p := range []*string{&c.DataDir, &c.DBPath, &c.LockFile, &c.LogFile, &c.SSLCert, &c.SSLKey, &c.Producer.SourceDir, &c.Storage.LocalDir} {
		expanded, err := homedir.Expand(*p)
		if err != nil {
			return fmt.Errorf("failed to expand path %s: %w", *p, err)
		}
		*p = expanded
	}
	if c.DBPath == "" {
		c.DBPath = filepath.Join(c.DataDir, "snapkeep.db")
	}
	if c.LockFile == "" {
		c.LockFile = filepath.Join(c.DataDir, "snapkeep.lock")
	}
	if c.Storage.LocalDir == "" {
		c.Storage.LocalDir = filepath.Join(c.DataDir, "backups")
	}
	return nil
}

func (c *Config) Validate() error {
	if c.JWTSecretKey == "" {
		return fmt.Errorf("jwt_secret_key is required")
	}

	switch c.JWTAlgorithm {
	case "HS256", "HS384", "HS512":
	default:
		return fmt.Errorf("jwt_algorithm must be HS256, HS384 or HS512")
	}

	if c.APIPort < 1 || c.APIPort > 65535 {
		return fmt.Errorf("api_port must be between 1 and 65535")
	}

	switch c.LogLevel {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("log_level must be debug, info, warn or error")
	}

	if err := c.Scheduler.validate(); err != nil {
		return err
	}

	switch c.Producer.Kind {
	case "archive":
		switch c.Producer.Compression {
		case "gzip", "zstd", "none":
		default:
			return fmt.Errorf("producer.compression must be gzip, zstd or none")
		}
	case "socket":
		if c.Producer.SocketPath == "" {
			return fmt.Errorf("producer.socket_path is required for the socket producer")
		}
	default:
		return fmt.Errorf("producer.kind must be 'archive' or 'socket'")
	}

	switch c.Storage.Kind {
	case "local":
	case "s3":
		if c.Storage.S3.Bucket == "" {
			return fmt.Errorf("storage.s3.bucket is required for s3 storage")
		}
	case "webdav":
		if c.Storage.WebDAV.URL == "" {
			return fmt.Errorf("storage.webdav.url is required for webdav storage")
		}
	default:
		return fmt.Errorf("storage.kind must be 'local', 's3' or 'webdav'")
	}

	switch c.SMTP.TLS {
	case "starttls", "tls", "none":
	default:
		return fmt.Errorf("smtp.tls must be starttls, tls or none")
	}

	if c.Webhook.RatePerSec <= 0 {
		return fmt.Errorf("webhook.rate_per_sec must be positive")
	}

	// Validate SSL config if provided
	if c.SSLCert != "" || c.SSLKey != "" {
		if c.SSLCert == "" || c.SSLKey == "" {
			return fmt.Errorf("both ssl_cert and ssl_key must be provided")
		}
		if _, err := os.Stat(c.SSLCert); os.IsNotExist(err) {
			return fmt.Errorf("ssl_cert file does not exist: %s", c.SSLCert)
		}
		if _, err := os.Stat(c.SSLKey); os.IsNotExist(err) {
			return fmt.Errorf("ssl_key file does not exist: %s", c.SSLKey)
		}
	}

	return nil
}

func (s SchedulerConfig) validate() error {
	if s.TickInterval < time.Second {
		return fmt.Errorf("scheduler.tick_interval must be at least 1s")
	}
	if s.MaxConcurrent < 1 {
		return fmt.Errorf("scheduler.max_concurrent must be at least 1")
	}
	if s.ProducerTimeout <= 0 {
		return fmt.Errorf("scheduler.producer_timeout must be positive")
	}
	switch s.RetryStrategy {
	case "linear", "exponential":
	default:
		return fmt.Errorf("scheduler.retry_strategy must be 'linear' or 'exponential'")
	}
	if s.RetryBaseDelay < 0 || s.RetryMaxDelay < 0 {
		return fmt.Errorf("scheduler retry delays must not be negative")
	}
	if _, err := crontab.LoadLocation(s.DefaultTimezone); err != nil {
		return fmt.Errorf("scheduler.default_timezone: %w", err)
	}
	return nil
}

// Watch reloads the config file when it changes and hands every valid
// result to onChange. Invalid edits are reported through onError and
// otherwise ignored. It does nothing when no file was read.
func (c *Config) Watch(onChange func(*Config), onError func(error)) {
	if c.v == nil || c.ConfigPath == "" {
		return
	}
	c.v.OnConfigChange(func(e fsnotify.Event) {
		next, err := decode(c.v)
		if err == nil {
			err = next.Validate()
		}
		if err != nil {
			if onError != nil {
				onError(fmt.Errorf("ignoring config change in %s: %w", e.Name, err))
			}
			return
		}
		onChange(next)
	})
	c.v.WatchConfig()
}

func (c *Config) IsDevMode() bool {
	return os.Getenv("SNAPKEEP_DEV_MODE") == "1"
}
