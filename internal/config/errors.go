package config

import "errors"

var (
	// ErrNoSeedURLs is returned when a task carries no usable seed URL
	ErrNoSeedURLs = errors.New("no seed URLs provided")
	// ErrEmptyTaskID is returned when a task has no identifier
	ErrEmptyTaskID = errors.New("task id cannot be empty")
	// ErrInvalidCrawlQuantity is returned when crawl_quantity is negative
	ErrInvalidCrawlQuantity = errors.New("crawl_quantity cannot be negative")
	// ErrInvalidCoreSize is returned when the pool core size is not greater than 0
	ErrInvalidCoreSize = errors.New("pool.core_size must be greater than 0")
	// ErrInvalidMaxSize is returned when the pool max size is below its core size
	ErrInvalidMaxSize = errors.New("pool.max_size must be greater than or equal to pool.core_size")
	// ErrInvalidKeepAlive is returned when the keep alive duration is not greater than 0
	ErrInvalidKeepAlive = errors.New("pool.keep_alive must be greater than 0")
	// ErrInvalidQueueCapacity is returned when the backlog capacity is negative
	ErrInvalidQueueCapacity = errors.New("pool.queue_capacity cannot be negative")
	// ErrInvalidRejectionPolicy is returned for an unknown rejection policy
	ErrInvalidRejectionPolicy = errors.New("pool.rejection_policy must be one of abort, caller_runs, discard, discard_oldest")
	// ErrUnknownDriver is returned for an unsupported storage driver
	ErrUnknownDriver = errors.New("storage.driver must be sqlite or postgres")
	// ErrEmptyDatabaseName is returned when the SQLite file name is empty
	ErrEmptyDatabaseName = errors.New("storage.database_name cannot be empty")
	// ErrEmptyDSN is returned when the postgres driver is selected without a DSN
	ErrEmptyDSN = errors.New("storage.dsn is required for the postgres driver")
	// ErrInvalidBatchSize is returned when the insert batch size is not greater than 0
	ErrInvalidBatchSize = errors.New("storage.batch_size must be greater than 0")
	// ErrInvalidMaxTasks is returned when the task cap is not greater than 0
	ErrInvalidMaxTasks = errors.New("server.max_tasks must be greater than 0")
	// ErrInvalidMaxFileSize is returned when the rotation threshold is not greater than 0
	ErrInvalidMaxFileSize = errors.New("max_file_size must be greater than 0")
	// ErrInvalidPollTimeout is returned when the frontier poll timeout is not greater than 0
	ErrInvalidPollTimeout = errors.New("crawl.poll_timeout must be greater than 0")
	// ErrInvalidTimeout is returned when request timeout is not greater than 0
	ErrInvalidTimeout = errors.New("crawl.request_timeout must be greater than 0")
	// ErrInvalidFilter is returned when the membership filter cannot be sized
	ErrInvalidFilter = errors.New("crawl.filter_capacity must be positive and crawl.filter_fp_rate within (0, 1)")
	// ErrInvalidLogRotation is returned when log rotation limits are negative
	ErrInvalidLogRotation = errors.New("log.max_size and log.max_backups cannot be negative")
)
