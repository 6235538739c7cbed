package audit

import (
	"bufio"
	"encoding/json"
	"fmt"
	"os"
	"time"
)

// Filter holds criteria for querying the log. Zero fields match all.
type Filter struct {
	Action  Action
	Scope   string
	Tenant  string
	ActorID string
	From    time.Time
	To      time.Time
}

// Summary holds counts for a query result.
type Summary struct {
	Total           int    `json:"total"`
	Activations     int    `json:"activations"`
	AutoActivations int    `json:"auto_activations"`
	Deactivations   int    `json:"deactivations"`
	Duplicates      int    `json:"duplicates"`
	Denials         int    `json:"denials"`
	FirstTimestamp  string `json:"first_timestamp,omitempty"`
	LastTimestamp   string `json:"last_timestamp,omitempty"`
}

// Result holds filtered records and their summary.
type Result struct {
	Records []Record `json:"records"`
	Summary Summary  `json:"summary"`
}

// Query reads the log and returns records matching the filter. The log
// is scanned, not indexed; it is sized for emergency transitions, not
// request traffic.
func Query(path string, filter Filter) (*Result, error) {
	f, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			return &Result{}, nil
		}
		return nil, fmt.Errorf("audit: open log: %w", err)
	}
	defer f.Close()

	result := &Result{}
	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for scanner.Scan() {
		var rec Record
		if err := json.Unmarshal(scanner.Bytes(), &rec); err != nil {
			continue // skip malformed lines
		}
		if !matches(rec, filter) {
			continue
		}
		result.Records = append(result.Records, rec)
		updateSummary(&result.Summary, rec)
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("audit: read log: %w", err)
	}
	return result, nil
}

func matches(rec Record, filter Filter) bool {
	if filter.Action != "" && rec.Action != filter.Action {
		return false
	}
	if filter.Scope != "" && rec.Scope != filter.Scope {
		return false
	}
	if filter.Tenant != "" && rec.Tenant != filter.Tenant {
		return false
	}
	if filter.ActorID != "" && rec.ActorID != filter.ActorID {
		return false
	}
	if !filter.From.IsZero() || !filter.To.IsZero() {
		ts, err := time.Parse(TimestampFormat, rec.Timestamp)
		if err != nil {
			return false
		}
		if !filter.From.IsZero() && ts.Before(filter.From) {
			return false
		}
		if !filter.To.IsZero() && ts.After(filter.To) {
			return false
		}
	}
	return true
}

func updateSummary(s *Summary, rec Record) {
	s.Total++
	switch rec.Action {
	case ActionActivate:
		s.Activations++
	case ActionAutoActivate:
		s.AutoActivations++
	case ActionDeactivate:
		s.Deactivations++
	case ActionDuplicate:
		s.Duplicates++
	case ActionDenied:
		s.Denials++
	}
	if s.FirstTimestamp == "" {
		s.FirstTimestamp = rec.Timestamp
	}
	s.LastTimestamp = rec.Timestamp
}
