package sandbox

import (
	"testing"

	"github.com/exploopio/filescan/pkg/errors"
)

const fileObject = `{
  "data": {
    "id": "275a021bbfb6489e54d471899f7db9d1663fc695ec2fe2a2c4538aabf651fd0f",
    "type": "file",
    "attributes": {
      "last_analysis_date": 1767225600,
      "last_analysis_stats": {
        "malicious": 3, "suspicious": 0, "undetected": 50,
        "harmless": 0, "timeout": 2, "type-unsupported": 5, "failure": 1
      },
      "last_analysis_results": {
        "Sophos":   {"category": "malicious", "engine_name": "Sophos", "result": "EICAR-AV-Test"},
        "ESET-NOD32": {"category": "malicious", "engine_name": "ESET-NOD32", "result": null},
        "Acronis":  {"category": "malicious", "engine_name": "Acronis", "result": "Eicar"},
        "ClamAV":   {"category": "undetected", "engine_name": "ClamAV", "result": null}
      }
    }
  }
}`

const analysisObject = `{
  "data": {
    "id": "u-275a021b-1767225600",
    "type": "analysis",
    "attributes": {
      "status": "completed",
      "date": 1767225700,
      "stats": {"malicious": 0, "undetected": 10, "harmless": 2},
      "results": {
        "ClamAV": {"category": "undetected", "engine_name": "ClamAV"}
      }
    }
  }
}`

func TestParseReport_FileObject(t *testing.T) {
	r, err := ParseReport([]byte(fileObject))
	if err != nil {
		t.Fatalf("ParseReport() error = %v", err)
	}

	detected, clean, total := r.Counts()
	if detected != 3 || clean != 50 || total != 61 {
		t.Errorf("Counts() = %d/%d/%d, want 3/50/61", detected, clean, total)
	}
	if r.Date != 1767225600 {
		t.Errorf("Date = %d", r.Date)
	}

	det := r.Detections()
	if len(det) != 3 {
		t.Fatalf("Detections() = %v, want three engines", det)
	}
	if det["ESET-NOD32"] != "ESET-NOD32" {
		t.Errorf("null result should fall back to the engine name, got %q", det["ESET-NOD32"])
	}
	if det["Sophos"] != "EICAR-AV-Test" {
		t.Errorf("Sophos = %q", det["Sophos"])
	}
	if _, ok := det["ClamAV"]; ok {
		t.Error("undetected engines must not be listed")
	}
	if got := r.ThreatLabel(); got != "Eicar" {
		t.Errorf("ThreatLabel() = %q, want Eicar", got)
	}
}

func TestParseReport_AnalysisObject(t *testing.T) {
	r, err := ParseReport([]byte(analysisObject))
	if err != nil {
		t.Fatalf("ParseReport() error = %v", err)
	}
	if r.Status != StatusCompleted || r.ID != "u-275a021b-1767225600" || r.Type != "analysis" {
		t.Errorf("report = %+v", r)
	}

	v := r.verdict("h", "", 0)
	if v.IsMalicious || v.TotalEngineCount != 12 || v.CleanCount != 10 {
		t.Errorf("verdict = %+v", v)
	}
	if v.ThreatLabel != "" {
		t.Errorf("ThreatLabel = %q, want empty", v.ThreatLabel)
	}
	if v.AnalysisTimestamp == nil || v.AnalysisTimestamp.Unix() != 1767225700 {
		t.Errorf("AnalysisTimestamp = %v", v.AnalysisTimestamp)
	}
}

func TestParseReport_Tolerant(t *testing.T) {
	tests := []struct {
		name string
		body string
	}{
		{"empty object", `{}`},
		{"no attributes", `{"data": {"id": "x"}}`},
		{"queued analysis", `{"data": {"attributes": {"status": "queued"}}}`},
		{"negative bucket", `{"data": {"attributes": {"stats": {"malicious": -2, "undetected": 1}}}}`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r, err := ParseReport([]byte(tt.body))
			if err != nil {
				t.Fatalf("ParseReport() error = %v", err)
			}
			detected, clean, total := r.Counts()
			if detected < 0 || clean < 0 || detected+clean > total {
				t.Errorf("Counts() = %d/%d/%d", detected, clean, total)
			}
			if r.Results == nil {
				t.Error("Results should never be nil")
			}
		})
	}
}

func TestParseReport_Malformed(t *testing.T) {
	for _, body := range []string{``, `not json`, `{"data": {"attributes": {"stats": {"malicious": "lots"}}}}`} {
		if _, err := ParseReport([]byte(body)); !errors.IsProtocolError(err) {
			t.Errorf("ParseReport(%q) error = %v, want protocol error", body, err)
		}
	}
}

func TestParseJobID(t *testing.T) {
	id, err := parseJobID([]byte(`{"data": {"type": "analysis", "id": "job-99"}}`))
	if err != nil || id != "job-99" {
		t.Errorf("parseJobID() = %q, %v", id, err)
	}
	if _, err := parseJobID([]byte(`{"data": {}}`)); !errors.IsProtocolError(err) {
		t.Errorf("missing id error = %v, want protocol error", err)
	}
}
