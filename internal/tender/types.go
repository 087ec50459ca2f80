package tender

import (
	"strings"
	"time"
)

// Outcome is the persisted result of a single unit invocation.
type Outcome string

// Run outcome values persisted in the run history.
const (
	OutcomeRunning Outcome = "running"
	OutcomeSuccess Outcome = "success"
	OutcomeFailure Outcome = "failure"
	OutcomePartial Outcome = "partial"
)

// DeliveryOutcome is the persisted result of a digest attempt.
type DeliveryOutcome string

// Notification outcome values.
const (
	DeliverySuccess DeliveryOutcome = "success"
	DeliveryFailure DeliveryOutcome = "failure"
)

// RawRecord is what a fetch unit produces. Only Title is required.
type RawRecord struct {
	ExternalID     string
	URL            string
	Title          string
	Organization   string
	Location       string
	Category       string
	Deadline       string
	Published      string
	MatchedKeyword string
}

// Record is a persisted tender listing. It is immutable once created except
// for the notification fields.
type Record struct {
	ID             int64      `json:"id" db:"id"`
	Source         string     `json:"source" db:"source"`
	MatchedKeyword *string    `json:"matched_keyword,omitempty" db:"matched_keyword"`
	FetchTime      time.Time  `json:"fetch_time" db:"fetch_time"`
	ExternalID     string     `json:"external_id" db:"external_id"`
	URL            string     `json:"url" db:"url"`
	Title          string     `json:"title" db:"title"`
	Organization   string     `json:"organization" db:"organization"`
	Location       string     `json:"location" db:"location"`
	Category       string     `json:"category" db:"category"`
	Deadline       string     `json:"deadline" db:"deadline"`
	Published      string     `json:"published" db:"published"`
	Notified       bool       `json:"notified" db:"notified"`
	NotifiedAt     *time.Time `json:"notified_at,omitempty" db:"notified_at"`
	CreatedAt      time.Time  `json:"created_at" db:"created_at"`
}

// Key is the composite identity used for deduplication.
type Key struct {
	Source     string
	ExternalID string
	URL        string
	Title      string
}

// Key returns the record's dedup identity.
func (r Record) Key() Key {
	return Key{Source: r.Source, ExternalID: r.ExternalID, URL: r.URL, Title: r.Title}
}

// Keyword returns the matched keyword or the empty string.
func (r Record) Keyword() string {
	if r.MatchedKeyword == nil {
		return ""
	}
	return *r.MatchedKeyword
}

// Field returns the value of a named match field. Unknown names yield "".
func (r Record) Field(name string) string {
	switch strings.ToLower(name) {
	case "title":
		return r.Title
	case "organization":
		return r.Organization
	case "location":
		return r.Location
	case "category":
		return r.Category
	case "deadline":
		return r.Deadline
	case "published":
		return r.Published
	case "url":
		return r.URL
	case "external_id":
		return r.ExternalID
	default:
		return ""
	}
}

// MatchFields lists the field names accepted by Record.Field.
var MatchFields = []string{"title", "organization", "location", "category", "deadline", "published", "url", "external_id"}

// NewRecord normalizes a raw record for the given source and fetch time.
func NewRecord(source string, raw RawRecord, fetchTime time.Time) Record {
	rec := Record{
		Source:       source,
		FetchTime:    fetchTime,
		ExternalID:   strings.TrimSpace(raw.ExternalID),
		URL:          strings.TrimSpace(raw.URL),
		Title:        strings.TrimSpace(raw.Title),
		Organization: strings.TrimSpace(raw.Organization),
		Location:     strings.TrimSpace(raw.Location),
		Category:     strings.TrimSpace(raw.Category),
		Deadline:     strings.TrimSpace(raw.Deadline),
		Published:    strings.TrimSpace(raw.Published),
	}
	if kw := strings.TrimSpace(raw.MatchedKeyword); kw != "" {
		rec.MatchedKeyword = &kw
	}
	return rec
}

// RunRecord is the audit row written for one unit invocation.
type RunRecord struct {
	ID           int64      `json:"id" db:"id"`
	RunID        string     `json:"run_id" db:"run_id"`
	Source       string     `json:"source" db:"source"`
	StartTime    time.Time  `json:"start_time" db:"start_time"`
	EndTime      *time.Time `json:"end_time,omitempty" db:"end_time"`
	Outcome      Outcome    `json:"outcome" db:"outcome"`
	RecordsFound int        `json:"records_found" db:"records_found"`
	RecordsNew   int        `json:"records_new" db:"records_new"`
	ErrorDetail  string     `json:"error_detail,omitempty" db:"error_detail"`
}

// Succeeded reports whether the unit produced usable output.
func (r RunRecord) Succeeded() bool {
	return r.Outcome == OutcomeSuccess || r.Outcome == OutcomePartial
}

// NotificationRecord is the audit row written for one digest attempt.
type NotificationRecord struct {
	ID            int64           `json:"id" db:"id"`
	SentAt        time.Time       `json:"sent_at" db:"sent_at"`
	RecipientSet  string          `json:"recipient_set" db:"recipient_set"`
	Subject       string          `json:"subject" db:"subject"`
	IncludedCount int             `json:"included_count" db:"included_count"`
	Outcome       DeliveryOutcome `json:"outcome" db:"outcome"`
	ErrorDetail   string          `json:"error_detail,omitempty" db:"error_detail"`
}

// SourceStats aggregates persisted counts for one source.
type SourceStats struct {
	Source   string     `json:"source" db:"source"`
	Total    int        `json:"total" db:"total"`
	Pending  int        `json:"pending" db:"pending"`
	Notified int        `json:"notified" db:"notified"`
	LastSeen *time.Time `json:"last_seen,omitempty" db:"last_seen"`
}

// IDs returns the store identifiers of the given records.
func IDs(records []Record) []int64 {
	ids := make([]int64, 0, len(records))
	for _, r := range records {
		ids = append(ids, r.ID)
	}
	return ids
}

// SourceStatus is one line of a run summary: an enabled source and its
// latest run, nil when it never ran.
type SourceStatus struct {
	Source string     `json:"source"`
	Run    *RunRecord `json:"run,omitempty"`
}

// Ran reports whether the source has any run.
func (s SourceStatus) Ran() bool { return s.Run != nil }

// OK reports whether the latest run produced usable output.
func (s SourceStatus) OK() bool { return s.Run != nil && s.Run.Succeeded() }
