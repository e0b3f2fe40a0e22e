package crawler

import "time"

// Status represents the lifecycle state of a crawl.
type Status string

// Crawl status values. Every status except StatusIdle and StatusRunning is terminal.
const (
	StatusIdle      Status = "IDLE"
	StatusRunning   Status = "RUNNING"
	StatusCompleted Status = "COMPLETED"
	StatusStopped   Status = "STOPPED"
	StatusFailed    Status = "FAILED"
	StatusTimedOut  Status = "TIMED_OUT"
)

// Terminal reports whether no further transition is possible from s.
func (s Status) Terminal() bool {
	switch s {
	case StatusCompleted, StatusStopped, StatusFailed, StatusTimedOut:
		return true
	default:
		return false
	}
}

// ParseStatus maps a user supplied status name onto a Status.
func ParseStatus(raw string) (Status, bool) {
	switch s := Status(raw); s {
	case StatusIdle, StatusRunning, StatusCompleted, StatusStopped, StatusFailed, StatusTimedOut:
		return s, true
	default:
		return "", false
	}
}

// Strategy selects the scope and dedup variant used by a scheduler.
type Strategy string

// Supported crawl strategies.
const (
	StrategySingleDomain Strategy = "SINGLE_DOMAIN"
	StrategyMultiDomain  Strategy = "MULTI_DOMAIN"
)

// ParseStrategy maps a user supplied strategy name; empty selects single-domain.
func ParseStrategy(raw string) (Strategy, bool) {
	switch s := Strategy(raw); s {
	case "":
		return StrategySingleDomain, true
	case StrategySingleDomain, StrategyMultiDomain:
		return s, true
	default:
		return "", false
	}
}

// WorkItem is one frontier entry: a normalized URL and the depth it was found at.
type WorkItem struct {
	URL   string
	Depth int
}

// Limits holds the hard ceilings and timings applied to every crawl.
type Limits struct {
	MaxPagesCeiling     int
	MaxDepthCeiling     int
	LinksPerPage        int
	PollInterval        time.Duration
	DrainGrace          time.Duration
	StopGrace           time.Duration
	SnapshotResultLimit int
}

// DefaultLimits returns the production ceilings.
func DefaultLimits() Limits {
	return Limits{
		MaxPagesCeiling:     1000,
		MaxDepthCeiling:     10,
		LinksPerPage:        100,
		PollInterval:        250 * time.Millisecond,
		DrainGrace:          30 * time.Second,
		StopGrace:           5 * time.Second,
		SnapshotResultLimit: 500,
	}
}

// WithDefaults fills zero fields from DefaultLimits.
func (l Limits) WithDefaults() Limits {
	d := DefaultLimits()
	if l.MaxPagesCeiling <= 0 {
		l.MaxPagesCeiling = d.MaxPagesCeiling
	}
	if l.MaxDepthCeiling <= 0 {
		l.MaxDepthCeiling = d.MaxDepthCeiling
	}
	if l.LinksPerPage <= 0 {
		l.LinksPerPage = d.LinksPerPage
	}
	if l.PollInterval <= 0 {
		l.PollInterval = d.PollInterval
	}
	if l.DrainGrace <= 0 {
		l.DrainGrace = d.DrainGrace
	}
	if l.StopGrace <= 0 {
		l.StopGrace = d.StopGrace
	}
	if l.SnapshotResultLimit <= 0 {
		l.SnapshotResultLimit = d.SnapshotResultLimit
	}
	return l
}

// Snapshot is a point-in-time copy of a crawl's state. It holds no references to
// scheduler internals.
type Snapshot struct {
	ID               string              `json:"crawl_id"`
	Strategy         Strategy            `json:"strategy"`
	Status           Status              `json:"status"`
	Running          bool                `json:"running"`
	ProcessedPages   int                 `json:"processed_pages"`
	PendingTasks     int                 `json:"pending_tasks"`
	QueueSize        int                 `json:"queue_size"`
	VisitedCount     int                 `json:"visited_count"`
	MaxPages         int                 `json:"max_pages"`
	MaxDepth         int                 `json:"max_depth"`
	Domains          []string            `json:"domains"`
	Results          map[string][]string `json:"results,omitempty"`
	ResultsCount     int                 `json:"results_count"`
	ResultsTruncated bool                `json:"results_truncated,omitempty"`
	StartTime        *time.Time          `json:"start_time,omitempty"`
	EndTime          *time.Time          `json:"end_time,omitempty"`
	Error            string              `json:"error,omitempty"`
}

// CrawlRecord is the persisted history entry for one crawl.
type CrawlRecord struct {
	ID             string              `json:"crawl_id"`
	Strategy       Strategy            `json:"strategy"`
	Status         Status              `json:"status"`
	SeedURLs       []string            `json:"seed_urls"`
	Domains        []string            `json:"domains"`
	MaxPages       int                 `json:"max_pages"`
	MaxDepth       int                 `json:"max_depth"`
	ProcessedPages int                 `json:"processed_pages"`
	Results        map[string][]string `json:"results"`
	StartTime      time.Time           `json:"start_time"`
	EndTime        *time.Time          `json:"end_time,omitempty"`
	Error          string              `json:"error,omitempty"`
}

// Snapshot converts a stored record into the same view a live crawl reports.
func (r CrawlRecord) Snapshot() Snapshot {
	start := r.StartTime
	snap := Snapshot{
		ID:             r.ID,
		Strategy:       r.Strategy,
		Status:         r.Status,
		Running:        r.Status == StatusRunning,
		ProcessedPages: r.ProcessedPages,
		VisitedCount:   len(r.Results),
		MaxPages:       r.MaxPages,
		MaxDepth:       r.MaxDepth,
		Domains:        append([]string(nil), r.Domains...),
		Results:        CloneResults(r.Results),
		ResultsCount:   len(r.Results),
		StartTime:      &start,
		Error:          r.Error,
	}
	if r.EndTime != nil {
		end := *r.EndTime
		snap.EndTime = &end
	}
	return snap
}

// CloneResults deep-copies a results map.
func CloneResults(src map[string][]string) map[string][]string {
	if src == nil {
		return nil
	}
	out := make(map[string][]string, len(src))
	for k, links := range src {
		out[k] = append([]string{}, links...)
	}
	return out
}

// Event is the payload published when a crawl reaches a terminal status.
type Event struct {
	Type           string    `json:"type"`
	CrawlID        string    `json:"crawl_id"`
	Status         Status    `json:"status"`
	ProcessedPages int       `json:"processed_pages"`
	Domains        []string  `json:"domains"`
	ArchiveURI     string    `json:"archive_uri,omitempty"`
	ArchiveSHA256  string    `json:"archive_sha256,omitempty"`
	Error          string    `json:"error,omitempty"`
	FinishedAt     time.Time `json:"finished_at"`
}

// EventCrawlFinished is the Event.Type for terminal crawl notifications.
const EventCrawlFinished = "crawl.finished"
