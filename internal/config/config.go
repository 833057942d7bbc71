// Package config provides configuration management for the document harvester.
// It defines the process-wide settings, per-task crawl settings and their defaults.
package config

import (
	"strings"
	"time"
)

// Rejection policies accepted by PoolConfig.RejectionPolicy
const (
	PolicyAbort         = "abort"
	PolicyCallerRuns    = "caller_runs"
	PolicyDiscard       = "discard"
	PolicyDiscardOldest = "discard_oldest"
)

// Storage drivers accepted by StorageConfig.Driver
const (
	DriverSQLite   = "sqlite"
	DriverPostgres = "postgres"
)

// DefaultMaxFileSize is the content file rotation threshold (1 GiB)
const DefaultMaxFileSize int64 = 1 << 30

// DefaultUserAgents is the pool a fetch picks its User-Agent header from
var DefaultUserAgents = []string{
	"Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/114.0.0.0 Safari/537.36",
	"Mozilla/5.0 (Macintosh; Intel Mac OS X 10_15_7) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/113.0.0.0 Safari/537.36",
	"Mozilla/5.0 (X11; Linux x86_64) AppleWebKit/537.36 (KHTML, like Gecko) Firefox/112.0",
	"Mozilla/5.0 (iPhone; CPU iPhone OS 15_4 like Mac OS X) AppleWebKit/605.1.15 (KHTML, like Gecko) Version/15.4 Mobile/15E148 Safari/604.1",
	"Mozilla/5.0 (iPad; CPU OS 15_4 like Mac OS X) AppleWebKit/605.1.15 (KHTML, like Gecko) Version/15.4 Mobile/15E148 Safari/604.1",
}

// Config is the complete process configuration
type Config struct {
	Server  ServerConfig  `mapstructure:"server" yaml:"server"`
	Pool    PoolConfig    `mapstructure:"pool" yaml:"pool"`
	Storage StorageConfig `mapstructure:"storage" yaml:"storage"`
	Crawl   CrawlConfig   `mapstructure:"crawl" yaml:"crawl"`
	Log     LogConfig     `mapstructure:"log" yaml:"log"`
}

// ServerConfig controls the administrative HTTP surface
type ServerConfig struct {
	Addr           string        `mapstructure:"addr" yaml:"addr"`                       // Listen address
	MaxTasks       int           `mapstructure:"max_tasks" yaml:"max_tasks"`             // Concurrent task cap
	RequestTimeout time.Duration `mapstructure:"request_timeout" yaml:"request_timeout"` // Per-request handler timeout
}

// PoolConfig bounds the worker pool a task runs its stages on
type PoolConfig struct {
	CoreSize        int           `mapstructure:"core_size" yaml:"core_size"`               // Workers kept alive while idle
	MaxSize         int           `mapstructure:"max_size" yaml:"max_size"`                 // Upper bound on workers
	KeepAlive       time.Duration `mapstructure:"keep_alive" yaml:"keep_alive"`             // Idle time before a non-core worker exits
	QueueCapacity   int           `mapstructure:"queue_capacity" yaml:"queue_capacity"`     // Backlog size, 0 means unbounded
	RejectionPolicy string        `mapstructure:"rejection_policy" yaml:"rejection_policy"` // abort, caller_runs, discard, discard_oldest
}

// StorageConfig selects and tunes the metadata store
type StorageConfig struct {
	Driver       string `mapstructure:"driver" yaml:"driver"`               // sqlite or postgres
	DatabaseName string `mapstructure:"database_name" yaml:"database_name"` // SQLite file name inside the save directory
	DSN          string `mapstructure:"dsn" yaml:"dsn"`                     // Postgres connection string
	BatchSize    int    `mapstructure:"batch_size" yaml:"batch_size"`       // Rows per insert transaction
	MaxConns     int    `mapstructure:"max_conns" yaml:"max_conns"`         // Connection pool bound, 0 derives it from the worker pool
}

// CrawlConfig holds the defaults applied to every task
type CrawlConfig struct {
	SaveDirectory  string            `mapstructure:"save_directory" yaml:"save_directory"`
	MaxFileSize    int64             `mapstructure:"max_file_size" yaml:"max_file_size"`
	FilePrefix     string            `mapstructure:"file_prefix" yaml:"file_prefix"`
	FileSuffix     string            `mapstructure:"file_suffix" yaml:"file_suffix"`
	PollTimeout    time.Duration     `mapstructure:"poll_timeout" yaml:"poll_timeout"`
	BackfillWait   time.Duration     `mapstructure:"backfill_wait" yaml:"backfill_wait"`
	RequestTimeout time.Duration     `mapstructure:"request_timeout" yaml:"request_timeout"`
	FilterCapacity uint              `mapstructure:"filter_capacity" yaml:"filter_capacity"`
	FilterFPRate   float64           `mapstructure:"filter_fp_rate" yaml:"filter_fp_rate"`
	UserAgents     []string          `mapstructure:"user_agents" yaml:"user_agents"`
	Headers        map[string]string `mapstructure:"headers" yaml:"headers"`
}

// LogConfig controls log output
type LogConfig struct {
	Level      string `mapstructure:"level" yaml:"level"`
	Format     string `mapstructure:"format" yaml:"format"`
	File       string `mapstructure:"file" yaml:"file"`
	MaxSize    int64  `mapstructure:"max_size" yaml:"max_size"`       // MB before the log file rolls over, 0 disables
	MaxBackups int    `mapstructure:"max_backups" yaml:"max_backups"` // Rolled files kept
}

// TaskConfig describes one crawl task as submitted by an operator.
// Optional fields left at their zero value take the CrawlConfig default.
type TaskConfig struct {
	TaskID        string   `mapstructure:"task_id" yaml:"task_id" json:"taskId"`
	TaskName      string   `mapstructure:"task_name" yaml:"task_name" json:"taskName"`
	SeedURLs      []string `mapstructure:"links" yaml:"links" json:"links"`
	CrawlQuantity int64    `mapstructure:"crawl_quantity" yaml:"crawl_quantity" json:"crawlQuantity,omitempty"`
	SaveDirectory string   `mapstructure:"save_directory" yaml:"save_directory" json:"saveDirectory,omitempty"`
	MaxFileSize   int64    `mapstructure:"max_file_size" yaml:"max_file_size" json:"maxFileSize,omitempty"`
	FilePrefix    string   `mapstructure:"file_prefix" yaml:"file_prefix" json:"filePrefix,omitempty"`
	FileSuffix    string   `mapstructure:"file_suffix" yaml:"file_suffix" json:"fileSuffix,omitempty"`
}

// DefaultConfig returns a configuration with default values
func DefaultConfig() *Config {
	return &Config{
		Server: ServerConfig{
			Addr:           ":8080",
			MaxTasks:       3,
			RequestTimeout: 60 * time.Second,
		},
		Pool: PoolConfig{
			CoreSize:        8,
			MaxSize:         16,
			KeepAlive:       60 * time.Second,
			QueueCapacity:   0,
			RejectionPolicy: PolicyCallerRuns,
		},
		Storage: StorageConfig{
			Driver:       DriverSQLite,
			DatabaseName: "crawler.db",
			BatchSize:    500,
		},
		Crawl: CrawlConfig{
			SaveDirectory:  "./out",
			MaxFileSize:    DefaultMaxFileSize,
			FilePrefix:     "doc_raw_",
			FileSuffix:     ".bin",
			PollTimeout:    time.Second,
			BackfillWait:   30 * time.Second,
			RequestTimeout: 30 * time.Second,
			FilterCapacity: 100_000_000,
			FilterFPRate:   0.01,
			UserAgents:     append([]string(nil), DefaultUserAgents...),
		},
		Log: LogConfig{
			Level:      "info",
			Format:     "json",
			MaxSize:    100,
			MaxBackups: 5,
		},
	}
}

// Validate checks if the configuration is valid
func (c *Config) Validate() error {
	if err := c.Pool.Validate(); err != nil {
		return err
	}
	if err := c.Storage.Validate(); err != nil {
		return err
	}
	if c.Server.MaxTasks <= 0 {
		return ErrInvalidMaxTasks
	}
	if c.Crawl.MaxFileSize <= 0 {
		return ErrInvalidMaxFileSize
	}
	if c.Crawl.PollTimeout <= 0 {
		return ErrInvalidPollTimeout
	}
	if c.Crawl.RequestTimeout <= 0 {
		return ErrInvalidTimeout
	}
	if c.Crawl.FilterCapacity == 0 || c.Crawl.FilterFPRate <= 0 || c.Crawl.FilterFPRate >= 1 {
		return ErrInvalidFilter
	}
	if c.Log.MaxSize < 0 || c.Log.MaxBackups < 0 {
		return ErrInvalidLogRotation
	}
	return nil
}

// Validate checks the pool bounds
func (p *PoolConfig) Validate() error {
	if p.CoreSize <= 0 {
		return ErrInvalidCoreSize
	}
	if p.MaxSize < p.CoreSize {
		return ErrInvalidMaxSize
	}
	if p.KeepAlive <= 0 {
		return ErrInvalidKeepAlive
	}
	if p.QueueCapacity < 0 {
		return ErrInvalidQueueCapacity
	}
	switch strings.ToLower(p.RejectionPolicy) {
	case PolicyAbort, PolicyCallerRuns, PolicyDiscard, PolicyDiscardOldest:
		return nil
	default:
		return ErrInvalidRejectionPolicy
	}
}

// Validate checks the storage settings
func (s *StorageConfig) Validate() error {
	switch s.Driver {
	case DriverSQLite:
		if s.DatabaseName == "" {
			return ErrEmptyDatabaseName
		}
	case DriverPostgres:
		if s.DSN == "" {
			return ErrEmptyDSN
		}
	default:
		return ErrUnknownDriver
	}
	if s.BatchSize <= 0 {
		return ErrInvalidBatchSize
	}
	return nil
}

// Resolve returns a copy of the task with defaults filled in from crawl settings.
// Empty seed entries are dropped; a task left without seeds is rejected.
func (t TaskConfig) Resolve(defaults CrawlConfig) (TaskConfig, error) {
	resolved := t
	resolved.SeedURLs = make([]string, 0, len(t.SeedURLs))
	for _, seed := range t.SeedURLs {
		if seed = strings.TrimSpace(seed); seed != "" {
			resolved.SeedURLs = append(resolved.SeedURLs, seed)
		}
	}
	if len(resolved.SeedURLs) == 0 {
		return TaskConfig{}, ErrNoSeedURLs
	}
	if resolved.TaskID == "" {
		return TaskConfig{}, ErrEmptyTaskID
	}
	if resolved.CrawlQuantity < 0 {
		return TaskConfig{}, ErrInvalidCrawlQuantity
	}
	if resolved.SaveDirectory == "" {
		resolved.SaveDirectory = defaults.SaveDirectory
	}
	if resolved.MaxFileSize == 0 {
		resolved.MaxFileSize = defaults.MaxFileSize
	}
	if resolved.MaxFileSize < 0 {
		return TaskConfig{}, ErrInvalidMaxFileSize
	}
	if resolved.FilePrefix == "" {
		resolved.FilePrefix = defaults.FilePrefix
	}
	if resolved.FileSuffix == "" {
		resolved.FileSuffix = defaults.FileSuffix
	}
	return resolved, nil
}
