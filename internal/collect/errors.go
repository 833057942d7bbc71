package collect

import "errors"

var (
	// ErrTaskLimit is returned when the concurrent task cap is reached
	ErrTaskLimit = errors.New("too many running tasks")
	// ErrTaskExists is returned when a running task already uses the id
	ErrTaskExists = errors.New("task id already running")
	// ErrTaskNotFound is returned for an id no running task carries
	ErrTaskNotFound = errors.New("task not found")
	// ErrStoreInUse is returned when another task still holds the same metadata store
	ErrStoreInUse = errors.New("metadata store is in use by another task")
	// ErrShuttingDown is returned by Start once Shutdown has begun
	ErrShuttingDown = errors.New("task manager is shutting down")
)
