package signals

import (
	"strings"

	"github.com/glaslos/tlsh"
)

// SimilarityDigest returns a TLSH digest ("T1" + hex) of data, or "" when
// the data is too short or too uniform to hash.
func SimilarityDigest(data []byte) string {
	h, err := tlsh.HashBytes(data)
	if err != nil {
		return ""
	}
	return "T1" + strings.ToUpper(h.String())
}

// SimilarityDistance compares two digests produced by SimilarityDigest.
// Zero means identical; larger is less similar.
func SimilarityDistance(a, b string) (int, error) {
	ta, err := tlsh.ParseStringToTlsh(strings.TrimPrefix(a, "T1"))
	if err != nil {
		return 0, err
	}
	tb, err := tlsh.ParseStringToTlsh(strings.TrimPrefix(b, "T1"))
	if err != nil {
		return 0, err
	}
	return ta.Diff(tb), nil
}
