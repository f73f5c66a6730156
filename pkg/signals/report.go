package signals

import (
	"encoding/json"
	"fmt"
	"strings"
)

const separator = "----------------------------------------------------------------"

// FormatText renders a deterministic plain-text report.
func FormatText(a RiskAssessment) string {
	var b strings.Builder

	b.WriteString("STATIC RISK ASSESSMENT\n")
	b.WriteString(separator + "\n")
	fmt.Fprintf(&b, "File:            %s\n", a.Filename)
	fmt.Fprintf(&b, "Path:            %s\n", a.Path)
	if a.DetectedType != "" {
		fmt.Fprintf(&b, "Detected type:   %s\n", a.DetectedType)
	}
	fmt.Fprintf(&b, "Score:           %d/100\n", a.Score)
	fmt.Fprintf(&b, "Classification:  %s\n", a.Classification)
	b.WriteString(separator + "\n")

	if len(a.Signals) > 0 {
		b.WriteString("Signals:\n")
		for _, d := range a.Signals {
			marker := "·"
			if d.Points > 0 {
				marker = "!"
			}
			fmt.Fprintf(&b, "  %s %s\n", marker, d.Rationale)
			if d.Error != "" {
				fmt.Fprintf(&b, "      error: %s\n", d.Error)
			}
		}
		b.WriteString(separator + "\n")
	}

	fmt.Fprintf(&b, "Explanation:\n%s\n", a.Explanation)
	fmt.Fprintf(&b, "\nRaw score:   %.1f\nNormalized:  %d\n", a.RawScore, a.Score)
	return b.String()
}

// MarshalReport renders the assessment as indented JSON using the same
// field names as RiskAssessment.
func MarshalReport(a RiskAssessment) ([]byte, error) {
	return json.MarshalIndent(a, "", "  ")
}
