// Package signals implements the static risk scorer: eight independent,
// weighted heuristics computed over a file's bytes and name, aggregated into
// a 0-100 score and a classification band. Nothing is executed and nothing
// leaves the machine.
package signals

// Signal is an independently computed, weighted risk indicator.
type Signal struct {
	ID          string  `json:"id"`
	Name        string  `json:"name"`
	Weight      float64 `json:"weight"`
	MaxPoints   int     `json:"max_points"`
	Description string  `json:"description"`
}

// MaxWeighted is the largest weighted contribution the signal can make.
func (s Signal) MaxWeighted() float64 {
	return s.Weight * float64(s.MaxPoints)
}

// The eight built-in signals.
var (
	SignalExtension = Signal{
		ID: "S1", Name: "critical extension", Weight: 12, MaxPoints: 3,
		Description: "executable or script extension",
	}
	SignalTypeMismatch = Signal{
		ID: "S2", Name: "type mismatch", Weight: 15, MaxPoints: 3,
		Description: "binary signature does not match the declared extension",
	}
	SignalEntropy = Signal{
		ID: "S3", Name: "high entropy", Weight: 5, MaxPoints: 3,
		Description: "compressed, encrypted or obfuscated data",
	}
	SignalStrings = Signal{
		ID: "S4", Name: "suspicious strings", Weight: 12, MaxPoints: 3,
		Description: "process-execution APIs or known malware patterns",
	}
	SignalSize = Signal{
		ID: "S5", Name: "size anomaly", Weight: 3, MaxPoints: 2,
		Description: "file is empty or too large for its type",
	}
	SignalStackedExtension = Signal{
		ID: "S6", Name: "stacked extensions", Weight: 8, MaxPoints: 2,
		Description: "multiple extensions such as invoice.pdf.exe",
	}
	SignalArchive = Signal{
		ID: "S7", Name: "suspicious archive", Weight: 7, MaxPoints: 2,
		Description: "archive holding executables or an unusual structure",
	}
	SignalDeceptiveName = Signal{
		ID: "S8", Name: "deceptive name", Weight: 2, MaxPoints: 1,
		Description: "name suggests a document but the content is executable",
	}
)

// TotalMaxScore is the sum of MaxWeighted over the built-in signals. It is
// the denominator of the normalized score.
const TotalMaxScore = 12*3 + 15*3 + 5*3 + 12*3 + 3*2 + 8*2 + 7*2 + 2*1

// Classification is the band a normalized score falls into.
type Classification string

const (
	ClassClean      Classification = "LIMPO"
	ClassLowRisk    Classification = "BAIXO_RISCO"
	ClassMedium     Classification = "MÉDIO"
	ClassSuspicious Classification = "SUSPEITO"
	ClassInfected   Classification = "INFECTADO"

	// ClassError is reported when the file could not be assessed at all.
	ClassError Classification = "ERROR"
)

// Classify maps a normalized score onto its band.
func Classify(score int) Classification {
	switch {
	case score < 10:
		return ClassClean
	case score < 25:
		return ClassLowRisk
	case score < 50:
		return ClassMedium
	case score < 70:
		return ClassSuspicious
	default:
		return ClassInfected
	}
}

// ExitCode is the CLI exit status for a classification: 2 for infected,
// 1 for suspicious, 0 otherwise.
func ExitCode(c Classification) int {
	switch c {
	case ClassInfected:
		return 2
	case ClassSuspicious:
		return 1
	default:
		return 0
	}
}

// SignalDetail is one signal's contribution to an assessment.
type SignalDetail struct {
	ID        string  `json:"id"`
	Name      string  `json:"name"`
	Points    int     `json:"points"`
	MaxPoints int     `json:"max_points"`
	Weight    float64 `json:"weight"`
	Weighted  float64 `json:"weighted"`
	Rationale string  `json:"rationale"`
	Error     string  `json:"error,omitempty"`
}

// RiskAssessment is the scorer's result for one file.
type RiskAssessment struct {
	Path             string         `json:"path"`
	Filename         string         `json:"filename"`
	RawScore         float64        `json:"raw_score"`
	Score            int            `json:"normalized_score"`
	Classification   Classification `json:"classification"`
	Signals          []SignalDetail `json:"signals"`
	Explanation      string         `json:"explanation"`
	DetectedType     string         `json:"detected_type,omitempty"`
	SimilarityDigest string         `json:"similarity_digest,omitempty"`
}

// Signal returns the detail for the given signal ID.
func (a *RiskAssessment) Signal(id string) (SignalDetail, bool) {
	for _, d := range a.Signals {
		if d.ID == id {
			return d, true
		}
	}
	return SignalDetail{}, false
}
