package sandbox

import (
	"fmt"
	"sort"
	"strings"
	"time"
)

// FormatText renders a verdict for terminal output. Engines are listed in
// name order.
func FormatText(v *Verdict) string {
	var b strings.Builder

	b.WriteString("SANDBOX VERDICT\n")
	fmt.Fprintf(&b, "SHA-256:         %s\n", v.ContentHash)
	if v.FilePath != "" {
		fmt.Fprintf(&b, "File:            %s (%d bytes)\n", v.FilePath, v.FileSize)
	}
	if v.JobID != "" {
		fmt.Fprintf(&b, "Analysis:        %s\n", v.JobID)
	}

	if v.Failed() {
		fmt.Fprintf(&b, "Result:          ERROR (%s)\n", v.ErrorKind)
		fmt.Fprintf(&b, "Error:           %s\n", v.Error)
		if v.Elapsed > 0 {
			fmt.Fprintf(&b, "Elapsed:         %s\n", v.Elapsed.Round(time.Second))
		}
		return b.String()
	}

	result := "CLEAN"
	if v.IsMalicious {
		result = "MALICIOUS"
	}
	source := "new analysis"
	if v.Cached {
		source = "cached"
	}
	fmt.Fprintf(&b, "Result:          %s (%s)\n", result, source)
	if v.ThreatLabel != "" {
		fmt.Fprintf(&b, "Threat:          %s\n", v.ThreatLabel)
	}
	if v.AnalysisTimestamp != nil {
		fmt.Fprintf(&b, "Analyzed at:     %s\n", v.AnalysisTimestamp.Format(time.RFC3339))
	}
	fmt.Fprintf(&b, "Detections:      %d/%d engines\n", v.DetectionCount, v.TotalEngineCount)
	fmt.Fprintf(&b, "Undetected:      %d/%d engines\n", v.CleanCount, v.TotalEngineCount)

	if len(v.Detections) > 0 {
		engines := make([]string, 0, len(v.Detections))
		for engine := range v.Detections {
			engines = append(engines, engine)
		}
		sort.Strings(engines)
		b.WriteString("Engines:\n")
		for _, engine := range engines {
			fmt.Fprintf(&b, "  %-20s %s\n", engine, v.Detections[engine])
		}
	}
	return b.String()
}

// ExitCode is the CLI status for a verdict: 2 when malicious, 1 when the
// scan failed, 0 otherwise.
func ExitCode(v *Verdict) int {
	switch {
	case v == nil || v.Failed():
		return 1
	case v.IsMalicious:
		return 2
	default:
		return 0
	}
}
