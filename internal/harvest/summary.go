package harvest

import (
	"strconv"
	"time"
)

// SourceStatus is the final state of one source within a run.
type SourceStatus string

// Source status values.
const (
	SourceSucceeded SourceStatus = "succeeded"
	SourceFailed    SourceStatus = "failed"
	SourceTimedOut  SourceStatus = "timed_out"
)

// SourceSummary aggregates per-source counts and the terminal error, if any.
type SourceSummary struct {
	Name        string       `json:"name"`
	Status      SourceStatus `json:"status"`
	Regions     int          `json:"regions"`
	Crags       int          `json:"crags"`
	ParseErrors int          `json:"parse_errors"`
	Error       string       `json:"error,omitempty"`
	Duration    string       `json:"duration"`
}

// OutputFile describes one written artifact.
type OutputFile struct {
	Kind    string `json:"kind"`
	Path    string `json:"path"`
	Records int    `json:"records"`
	SHA256  string `json:"sha256"`
	URI     string `json:"uri,omitempty"`
}

// RunSummary is returned by every run, including partially failed ones.
type RunSummary struct {
	RunID          string          `json:"run_id"`
	StartedAt      time.Time       `json:"started_at"`
	FinishedAt     time.Time       `json:"finished_at"`
	Sources        []SourceSummary `json:"sources"`
	RawCrags       int             `json:"raw_crags"`
	UniqueCrags    int             `json:"unique_crags"`
	PassedFilters  int             `json:"passed_filters"`
	Regions        int             `json:"regions"`
	DroppedRegions int             `json:"dropped_regions"`
	Outputs        []OutputFile    `json:"outputs"`
}

// FailedSources lists the names of sources that did not succeed.
func (s RunSummary) FailedSources() []string {
	var out []string
	for _, src := range s.Sources {
		if src.Status != SourceSucceeded {
			out = append(out, src.Name)
		}
	}
	return out
}

// ParseErrors sums per-source parse failures.
func (s RunSummary) ParseErrors() int {
	total := 0
	for _, src := range s.Sources {
		total += src.ParseErrors
	}
	return total
}

// Status is "succeeded" when every source succeeded and "partial" otherwise.
func (s RunSummary) Status() string {
	if len(s.FailedSources()) == 0 {
		return "succeeded"
	}
	return "partial"
}

// MessageAttributes implements Attributed for run completion events.
func (s RunSummary) MessageAttributes() map[string]string {
	return map[string]string{
		"run_id":         s.RunID,
		"status":         s.Status(),
		"passed_filters": strconv.Itoa(s.PassedFilters),
	}
}
