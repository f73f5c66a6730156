package sandbox

import (
	"encoding/json"
	"sort"
	"time"

	"github.com/exploopio/filescan/pkg/errors"
)

// Analysis job states reported by the service.
const (
	StatusQueued    = "queued"
	StatusRunning   = "running"
	StatusCompleted = "completed"
)

// CategoryMalicious is the per-engine category counted as a detection.
const CategoryMalicious = "malicious"

// EngineResult is one engine's answer.
type EngineResult struct {
	Category   string `json:"category"`
	EngineName string `json:"engine_name"`
	Result     string `json:"result"`
}

// Label is the engine's threat name, falling back to the engine name.
func (r EngineResult) Label() string {
	if r.Result != "" {
		return r.Result
	}
	return r.EngineName
}

// Report is a decoded file or analysis object. File objects (hash lookups)
// and analysis objects (job polls) name their fields differently; both are
// folded into the same shape.
type Report struct {
	ID      string
	Type    string
	Status  string
	Stats   map[string]int
	Results map[string]EngineResult
	Date    int64
}

type envelope struct {
	Data struct {
		ID         string `json:"id"`
		Type       string `json:"type"`
		Attributes struct {
			Status  string                  `json:"status"`
			Stats   map[string]float64      `json:"stats"`
			Results map[string]EngineResult `json:"results"`
			Date    int64                   `json:"date"`

			LastAnalysisStats   map[string]float64      `json:"last_analysis_stats"`
			LastAnalysisResults map[string]EngineResult `json:"last_analysis_results"`
			LastAnalysisDate    int64                   `json:"last_analysis_date"`
		} `json:"attributes"`
	} `json:"data"`
}

// ParseReport decodes a response body. Missing objects and fields are
// tolerated; only malformed JSON is an error.
func ParseReport(body []byte) (*Report, error) {
	var env envelope
	if err := json.Unmarshal(body, &env); err != nil {
		return nil, errors.E(errors.KindProtocol, "sandbox.ParseReport", "malformed response", err)
	}

	attrs := env.Data.Attributes
	stats := attrs.Stats
	if stats == nil {
		stats = attrs.LastAnalysisStats
	}
	results := attrs.Results
	if results == nil {
		results = attrs.LastAnalysisResults
	}
	date := attrs.Date
	if date == 0 {
		date = attrs.LastAnalysisDate
	}

	r := &Report{
		ID:      env.Data.ID,
		Type:    env.Data.Type,
		Status:  attrs.Status,
		Stats:   make(map[string]int, len(stats)),
		Results: results,
		Date:    date,
	}
	if r.Results == nil {
		r.Results = map[string]EngineResult{}
	}
	for bucket, n := range stats {
		r.Stats[bucket] = max(0, int(n))
	}
	return r, nil
}

// parseJobID extracts the analysis id from an upload response.
func parseJobID(body []byte) (string, error) {
	var env envelope
	if err := json.Unmarshal(body, &env); err != nil {
		return "", errors.E(errors.KindProtocol, "sandbox.Submit", "malformed response", err)
	}
	if env.Data.ID == "" {
		return "", errors.E(errors.KindProtocol, "sandbox.Submit", "response carries no analysis id")
	}
	return env.Data.ID, nil
}

// Counts returns the malicious, undetected and total engine counts. The
// total sums every bucket, including engines that timed out or could not
// handle the type.
func (r *Report) Counts() (detected, clean, total int) {
	for _, n := range r.Stats {
		total += n
	}
	return r.Stats["malicious"], r.Stats["undetected"], total
}

// Detections maps each engine that categorized the file as malicious to its
// label.
func (r *Report) Detections() map[string]string {
	out := make(map[string]string)
	for engine, res := range r.Results {
		if res.Category == CategoryMalicious {
			out[engine] = res.Label()
		}
	}
	return out
}

// ThreatLabel picks one detection label. Engines are taken in name order
// so the choice is stable for a given response; no engine is preferred.
func (r *Report) ThreatLabel() string {
	engines := make([]string, 0, len(r.Results))
	for engine, res := range r.Results {
		if res.Category == CategoryMalicious {
			engines = append(engines, engine)
		}
	}
	if len(engines) == 0 {
		return ""
	}
	sort.Strings(engines)
	return r.Results[engines[0]].Label()
}

// verdict builds a verdict from a completed report.
func (r *Report) verdict(hash, path string, size int64) *Verdict {
	detected, clean, total := r.Counts()
	v := &Verdict{
		ContentHash:      hash,
		FilePath:         path,
		FileSize:         size,
		IsMalicious:      detected > 0,
		DetectionCount:   detected,
		CleanCount:       clean,
		TotalEngineCount: total,
		Detections:       r.Detections(),
	}
	if v.IsMalicious {
		v.ThreatLabel = r.ThreatLabel()
	}
	if r.Date > 0 {
		ts := time.Unix(r.Date, 0).UTC()
		v.AnalysisTimestamp = &ts
	}
	return v
}
