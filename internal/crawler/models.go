package crawler

import (
	"time"

	"github.com/masahif/docharvest/internal/frontier"
)

// Stage names, also used as scratch keys
const (
	StageFetch         = "fetch"
	StageLinkExtract   = "link_extract"
	StageLinkRecord    = "link_record"
	StageContentWriter = "content_write"
)

// PageRecord is a fetched page on its way through one pipeline pass. It is
// never persisted as is, only serialized into a content file.
type PageRecord struct {
	Entry       frontier.Entry
	HTML        []byte
	Title       string
	StatusCode  int
	ContentType string
	FinalURL    string
	FetchedAt   time.Time
}

// State is the lifecycle state of a task's dispatcher
type State int32

const (
	StateRunning State = iota
	StateDraining
	StateStopped
)

func (s State) String() string {
	switch s {
	case StateRunning:
		return "running"
	case StateDraining:
		return "draining"
	case StateStopped:
		return "stopped"
	default:
		return "unknown"
	}
}

// MarshalText lets State render as its name in JSON
func (s State) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// TaskStats is a point-in-time view of a task's counters
type TaskStats struct {
	TaskID      string    `json:"taskId"`
	TaskName    string    `json:"taskName,omitempty"`
	State       State     `json:"state"`
	Discovered  int64     `json:"discovered"`
	Queued      int       `json:"queued"`
	InFlight    int       `json:"inFlight"`
	Fetched     int64     `json:"fetched"`
	FetchErrors int64     `json:"fetchErrors"`
	Recorded    int64     `json:"recorded"`
	Stored      int64     `json:"stored"`
	StoreErrors int64     `json:"storeErrors"`
	StartTime   time.Time `json:"startTime"`
	Duration    string    `json:"duration"`
}
