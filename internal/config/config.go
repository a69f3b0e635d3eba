// Package config loads and validates archiver configuration via Viper.
package config

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/url"
	"os"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/JakeFAU/crawl-archiver/internal/classify"
	"github.com/JakeFAU/crawl-archiver/internal/crawler"
	"github.com/JakeFAU/crawl-archiver/internal/logging"
)

// Config captures all configuration knobs loaded via Viper.
type Config struct {
	JobService JobServiceConfig `mapstructure:"job_service"`
	Monitor    MonitorConfig    `mapstructure:"monitor"`
	Archiver   ArchiverConfig   `mapstructure:"archiver"`
	Processing ProcessingConfig `mapstructure:"processing"`
	Output     OutputConfig     `mapstructure:"output"`
	Categories []string         `mapstructure:"categories"`
	Job        crawler.JobSpec  `mapstructure:"job"`
	Logging    logging.Config   `mapstructure:"logging"`
	Server     ServerConfig     `mapstructure:"server"`
	Storage    StorageConfig    `mapstructure:"storage"`
	DB         DBConfig         `mapstructure:"db"`
	PubSub     PubSubConfig     `mapstructure:"pubsub"`
}

// JobServiceConfig addresses the external crawl engine.
type JobServiceConfig struct {
	BaseURL        string            `mapstructure:"base_url"`
	Timeout        time.Duration     `mapstructure:"timeout"`
	SubmitAttempts int               `mapstructure:"submit_attempts"`
	BackoffInitial time.Duration     `mapstructure:"backoff_initial"`
	BackoffMax     time.Duration     `mapstructure:"backoff_max"`
	Headers        map[string]string `mapstructure:"headers"`
}

// MonitorConfig tunes the poll loop.
type MonitorConfig struct {
	PollInterval         time.Duration `mapstructure:"poll_interval"`
	MaxTransportFailures int           `mapstructure:"max_transport_failures"`
	RetryBackoff         time.Duration `mapstructure:"retry_backoff"`
}

// ArchiverConfig controls media downloads.
type ArchiverConfig struct {
	Concurrency int           `mapstructure:"concurrency"`
	Pacing      time.Duration `mapstructure:"pacing"`
	Timeout     time.Duration `mapstructure:"timeout"`
	UserAgent   string        `mapstructure:"user_agent"`
	Referer     string        `mapstructure:"referer"`
}

// ProcessingConfig sizes the page processing pool. Zero means one worker per CPU.
type ProcessingConfig struct {
	Workers int `mapstructure:"workers"`
}

// OutputConfig places session directories.
type OutputConfig struct {
	Root          string `mapstructure:"root"`
	SessionPrefix string `mapstructure:"session_prefix"`
}

// ServerConfig controls the optional status server. Port 0 disables it.
type ServerConfig struct {
	Port   int    `mapstructure:"port"`
	APIKey string `mapstructure:"api_key"`
}

// StorageConfig enables mirroring artifacts to GCS.
type StorageConfig struct {
	GCSBucket string `mapstructure:"gcs_bucket"`
	Prefix    string `mapstructure:"prefix"`
}

// DBConfig enables the Postgres outcome store.
type DBConfig struct {
	DSN             string        `mapstructure:"dsn"`
	Table           string        `mapstructure:"table"`
	MaxConns        int32         `mapstructure:"max_conns"`
	MinConns        int32         `mapstructure:"min_conns"`
	MaxConnLifetime time.Duration `mapstructure:"max_conn_lifetime"`
}

// PubSubConfig holds metadata for session notifications.
type PubSubConfig struct {
	ProjectID string `mapstructure:"project_id"`
	TopicName string `mapstructure:"topic_name"`
}

// Load builds a Config from disk/environment.
func Load(path string) (Config, error) {
	v := viper.New()
	v.SetEnvPrefix("ARCHIVER")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return Config{}, &crawler.ConfigError{Reason: fmt.Sprintf("read config: %v", err)}
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, &crawler.ConfigError{Reason: fmt.Sprintf("unmarshal config: %v", err)}
	}

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}

	return cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("job_service.base_url", "http://localhost:3002")
	v.SetDefault("job_service.timeout", 30*time.Second)
	v.SetDefault("job_service.submit_attempts", 3)
	v.SetDefault("job_service.backoff_initial", 500*time.Millisecond)
	v.SetDefault("job_service.backoff_max", 10*time.Second)
	v.SetDefault("monitor.poll_interval", 60*time.Second)
	v.SetDefault("monitor.max_transport_failures", 5)
	v.SetDefault("monitor.retry_backoff", 5*time.Second)
	v.SetDefault("archiver.concurrency", 2)
	v.SetDefault("archiver.pacing", 500*time.Millisecond)
	v.SetDefault("archiver.timeout", 60*time.Second)
	v.SetDefault("processing.workers", 0)
	v.SetDefault("output.root", "results")
	v.SetDefault("output.session_prefix", "crawl")
	v.SetDefault("categories", classify.DefaultCategories)
	v.SetDefault("job.target", "")
	v.SetDefault("job.page_limit", 100)
	v.SetDefault("job.max_depth", 3)
	v.SetDefault("job.render_options.wait_for_ms", 2000)
	v.SetDefault("job.render_options.timeout_ms", 30000)
	v.SetDefault("logging.development", false)
	v.SetDefault("logging.level", "info")
	v.SetDefault("server.port", 0)
	v.SetDefault("db.table", "download_outcomes")
}

// Validate enforces required values and reasonable limits. The job section is
// checked separately by crawler.JobSpec.Validate since --spec may replace it.
func (c Config) Validate() error {
	u, err := url.Parse(c.JobService.BaseURL)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return crawler.NewConfigError("job_service.base_url must be an absolute http(s) URL, got %q", c.JobService.BaseURL)
	}
	if c.JobService.Timeout <= 0 {
		return crawler.NewConfigError("job_service.timeout must be > 0")
	}
	if c.JobService.SubmitAttempts <= 0 {
		return crawler.NewConfigError("job_service.submit_attempts must be > 0")
	}
	if c.Monitor.PollInterval <= 0 {
		return crawler.NewConfigError("monitor.poll_interval must be > 0")
	}
	if c.Monitor.MaxTransportFailures <= 0 {
		return crawler.NewConfigError("monitor.max_transport_failures must be > 0")
	}
	if c.Archiver.Concurrency <= 0 {
		return crawler.NewConfigError("archiver.concurrency must be > 0")
	}
	if c.Archiver.Pacing < 0 {
		return crawler.NewConfigError("archiver.pacing must be >= 0")
	}
	if c.Archiver.Timeout <= 0 {
		return crawler.NewConfigError("archiver.timeout must be > 0")
	}
	if c.Processing.Workers < 0 {
		return crawler.NewConfigError("processing.workers must be >= 0")
	}
	if strings.TrimSpace(c.Output.Root) == "" {
		return crawler.NewConfigError("output.root is required")
	}
	if len(c.Categories) == 0 {
		return crawler.NewConfigError("categories must not be empty")
	}
	if c.Server.Port < 0 || c.Server.Port > 65535 {
		return crawler.NewConfigError("server.port must be between 0 and 65535")
	}
	if c.PubSub.TopicName != "" && c.PubSub.ProjectID == "" {
		return crawler.NewConfigError("pubsub.project_id must be set when pubsub.topic_name is")
	}
	return nil
}

// LoadJobSpec reads a crawl specification in the job service's wire format.
// Unknown fields are rejected so typos fail before submission.
func LoadJobSpec(path string) (crawler.JobSpec, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return crawler.JobSpec{}, crawler.NewConfigError("read job spec: %v", err)
	}
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.DisallowUnknownFields()
	var spec crawler.JobSpec
	if err := dec.Decode(&spec); err != nil {
		return crawler.JobSpec{}, crawler.NewConfigError("parse job spec %s: %v", path, err)
	}
	if err := spec.Validate(); err != nil {
		return crawler.JobSpec{}, err
	}
	return spec, nil
}
