// Package sandbox submits files to a remote multi-engine malware analysis
// service and turns its asynchronous job results into a Verdict.
//
// Files are deduplicated by SHA-256: a hash the service has already seen is
// answered from its cache without uploading. Unseen files are uploaded once
// and the analysis job is polled until it completes, reports a state the
// client does not understand, or runs past its deadline.
//
// Example:
//
//	client, err := sandbox.New(&sandbox.Config{APIKey: key})
//	if err != nil {
//	    return err
//	}
//	hash, verdict, err := client.Scan(ctx, "/tmp/attachment.pdf")
package sandbox

import (
	"strings"
	"time"

	"github.com/exploopio/filescan/pkg/errors"
)

// Defaults for the VirusTotal v3 API.
const (
	DefaultBaseURL = "https://www.virustotal.com/api/v3"

	// MaxFileSize is the largest file the service accepts.
	MaxFileSize int64 = 650 * 1024 * 1024

	DefaultLookupTimeout = 30 * time.Second
	DefaultUploadTimeout = 120 * time.Second
	DefaultPollTimeout   = 300 * time.Second

	// DefaultRequestsPerMinute is the public API quota.
	DefaultRequestsPerMinute = 4

	// PlaceholderAPIKey is the value shipped in sample configuration.
	PlaceholderAPIKey = "YOUR_VIRUSTOTAL_API_KEY"
)

// Poll cadence by reported job state.
const (
	QueuedDelay  = 5 * time.Second
	RunningDelay = 10 * time.Second
	RetryDelay   = 5 * time.Second
)

// Config holds sandbox client configuration.
type Config struct {
	APIKey  string `yaml:"api_key" json:"api_key"`
	BaseURL string `yaml:"base_url" json:"base_url"`

	// LookupTimeout bounds hash lookups and status polls.
	LookupTimeout time.Duration `yaml:"lookup_timeout" json:"lookup_timeout"`
	UploadTimeout time.Duration `yaml:"upload_timeout" json:"upload_timeout"`

	// PollTimeout bounds the whole wait for an analysis job.
	PollTimeout time.Duration `yaml:"poll_timeout" json:"poll_timeout"`

	// RequestsPerMinute limits calls to the service. Zero disables limiting.
	RequestsPerMinute int `yaml:"requests_per_minute" json:"requests_per_minute"`

	// MaxFileSize overrides the upload ceiling. It cannot exceed MaxFileSize.
	MaxFileSize int64 `yaml:"max_file_size" json:"max_file_size"`

	UserAgent string `yaml:"user_agent" json:"user_agent"`
}

// DefaultConfig returns the default client configuration. The API key is
// left empty.
func DefaultConfig() *Config {
	return &Config{
		BaseURL:           DefaultBaseURL,
		LookupTimeout:     DefaultLookupTimeout,
		UploadTimeout:     DefaultUploadTimeout,
		PollTimeout:       DefaultPollTimeout,
		RequestsPerMinute: DefaultRequestsPerMinute,
		MaxFileSize:       MaxFileSize,
		UserAgent:         "filescan/1.0",
	}
}

// applyDefaults fills zero-valued durations and limits.
func (c *Config) applyDefaults() {
	if c.BaseURL == "" {
		c.BaseURL = DefaultBaseURL
	}
	c.BaseURL = strings.TrimRight(c.BaseURL, "/")
	if c.LookupTimeout <= 0 {
		c.LookupTimeout = DefaultLookupTimeout
	}
	if c.UploadTimeout <= 0 {
		c.UploadTimeout = DefaultUploadTimeout
	}
	if c.PollTimeout <= 0 {
		c.PollTimeout = DefaultPollTimeout
	}
	if c.MaxFileSize <= 0 || c.MaxFileSize > MaxFileSize {
		c.MaxFileSize = MaxFileSize
	}
	if c.UserAgent == "" {
		c.UserAgent = "filescan/1.0"
	}
}

// ValidateAPIKey rejects an empty key and the sample placeholder.
func ValidateAPIKey(key string) error {
	key = strings.TrimSpace(key)
	if key == "" || strings.EqualFold(key, PlaceholderAPIKey) {
		return errors.ErrMissingAPIKey
	}
	return nil
}

// Verdict is the outcome of one scan attempt. When Error is set every
// malware field is meaningless and must be ignored.
type Verdict struct {
	ContentHash string `json:"content_hash"`
	FilePath    string `json:"file_path,omitempty"`
	FileSize    int64  `json:"file_size"`

	// JobID is the remote analysis id; empty for cache hits.
	JobID string `json:"remote_job_id,omitempty"`

	IsMalicious      bool              `json:"is_malicious"`
	ThreatLabel      string            `json:"threat_label,omitempty"`
	DetectionCount   int               `json:"detection_count"`
	CleanCount       int               `json:"clean_count"`
	TotalEngineCount int               `json:"total_engine_count"`
	Detections       map[string]string `json:"detections"`

	AnalysisTimestamp *time.Time `json:"analysis_timestamp,omitempty"`

	// Cached is true when the verdict came from the service's hash cache.
	Cached bool `json:"cached"`

	Error     string `json:"error,omitempty"`
	ErrorKind string `json:"error_kind,omitempty"`

	// Elapsed is how long polling ran before a timeout. It is encoded as
	// ElapsedSeconds.
	Elapsed        time.Duration `json:"-"`
	ElapsedSeconds float64       `json:"elapsed_seconds,omitempty"`
}

// Failed reports whether the verdict carries an error.
func (v *Verdict) Failed() bool {
	return v.Error != ""
}

func errorVerdict(hash, path string, size int64, err error) *Verdict {
	v := &Verdict{
		ContentHash: hash,
		FilePath:    path,
		FileSize:    size,
		Detections:  map[string]string{},
		Error:       err.Error(),
		ErrorKind:   errors.GetKind(err).String(),
	}
	if te, ok := errors.IsTimeoutError(err); ok {
		v.JobID = te.JobID
		v.Elapsed = te.Elapsed
		v.ElapsedSeconds = te.Elapsed.Seconds()
	}
	return v
}
