package signals

import (
	"fmt"
	"path"
	"strings"
)

// Size thresholds for the size-anomaly signal.
const (
	AbsoluteSizeCap = 500 * 1024 * 1024
	BulkTextSizeCap = 100 * 1024 * 1024
	OfficeSizeCap   = 50 * 1024 * 1024
)

// maxArchiveDepth is the deepest directory nesting tolerated inside a zip.
const maxArchiveDepth = 2

func scoreExtension(s *Sample) (int, string, error) {
	switch {
	case safeTextExts.has(s.Ext):
		return 0, "safe text format", nil
	case criticalExts.has(s.Ext):
		return 3, fmt.Sprintf(".%s is an executable or script extension", s.Ext), nil
	case highRiskExts.has(s.Ext):
		return 2, fmt.Sprintf(".%s is a high-risk extension", s.Ext), nil
	case archiveExts.has(s.Ext):
		return 1, fmt.Sprintf(".%s is an archive", s.Ext), nil
	}
	return 0, "", nil
}

func scoreTypeMismatch(s *Sample) (int, string, error) {
	t, err := s.Type()
	if err != nil {
		return 0, "", err
	}
	if t.Kind == KindUnknown || t.Exts.has(s.Ext) {
		return 0, "", nil
	}

	reason := fmt.Sprintf("content is %s but extension is .%s", t.MIME, s.Ext)
	switch {
	case t.Kind == KindExecutable:
		return 3, reason, nil
	case t.Kind == KindArchive || t.Kind == KindDocument:
		return 2, reason, nil
	case t.MIME == typeJPEG.MIME || t.MIME == typePNG.MIME || t.MIME == typeGIF.MIME:
		return 1, reason, nil
	}
	return 0, "", nil
}

func scoreEntropy(s *Sample) (int, string, error) {
	if safeTextExts.has(s.Ext) {
		return 0, "safe text format", nil
	}
	h, err := s.Entropy()
	if err != nil {
		return 0, "", err
	}

	reason := fmt.Sprintf("entropy %.2f bits/byte", h)
	if relaxedEntropyExts.has(s.Ext) {
		switch {
		case h > 7.8:
			return 2, reason, nil
		case h > 7.2:
			return 1, reason, nil
		}
		return 0, reason, nil
	}
	switch {
	case h > 7.5:
		return 3, reason, nil
	case h > 6.8:
		return 2, reason, nil
	case h > 6.0:
		return 1, reason, nil
	}
	return 0, reason, nil
}

func scoreStrings(s *Sample) (int, string, error) {
	if safeTextExts.has(s.Ext) {
		return 0, "safe text format", nil
	}
	strs, err := s.Strings()
	if err != nil {
		return 0, "", err
	}

	critical, suspicious := 0, 0
	for _, str := range strs {
		if containsAny(str, criticalPatterns) {
			critical++
		}
		if containsAny(str, suspiciousPatterns) {
			suspicious++
		}
	}

	points := min(3, critical*2+suspicious/2)
	if points == 0 {
		return 0, "", nil
	}
	return points, fmt.Sprintf("%d critical and %d suspicious strings", critical, suspicious), nil
}

func scoreSize(s *Sample) (int, string, error) {
	switch {
	case s.Size == 0:
		return 2, "empty file", nil
	case s.Size > AbsoluteSizeCap:
		return 1, fmt.Sprintf("%d bytes exceeds 500 MiB", s.Size), nil
	case bulkTextExts.has(s.Ext) && s.Size > BulkTextSizeCap:
		return 2, fmt.Sprintf("%d bytes is unusually large for .%s", s.Size, s.Ext), nil
	case officeExts.has(s.Ext) && s.Size > OfficeSizeCap:
		return 2, fmt.Sprintf("%d bytes is unusually large for .%s", s.Size, s.Ext), nil
	}
	return 0, "", nil
}

func scoreStackedExtension(s *Sample) (int, string, error) {
	if len(s.Exts) < 2 {
		return 0, "", nil
	}
	last := s.Exts[len(s.Exts)-1]
	chain := "." + strings.Join(s.Exts, ".")
	switch {
	case isExecutableTier(last):
		return 2, fmt.Sprintf("%s ends in an executable extension", chain), nil
	case len(s.Exts) > 2:
		return 1, fmt.Sprintf("%s stacks %d extensions", chain, len(s.Exts)), nil
	}
	return 0, "", nil
}

func scoreArchive(s *Sample) (int, string, error) {
	if !archiveExts.has(s.Ext) {
		return 0, "", nil
	}
	if s.Ext != "zip" {
		return 1, fmt.Sprintf(".%s archive cannot be inspected", s.Ext), nil
	}

	files, err := s.zipEntries()
	if err != nil {
		return 2, fmt.Sprintf("unreadable zip: %v", err), nil
	}

	for _, f := range files {
		if ext := lastExtension(path.Base(f.Name)); isExecutableTier(ext) {
			return 2, fmt.Sprintf("contains %s", f.Name), nil
		}
		if strings.Count(f.Name, "/") > maxArchiveDepth {
			return 2, fmt.Sprintf("%s is nested more than %d directories deep", f.Name, maxArchiveDepth), nil
		}
	}
	return 0, fmt.Sprintf("%d entries", len(files)), nil
}

func scoreDeceptiveName(s *Sample) (int, string, error) {
	t, err := s.Type()
	if err != nil {
		return 0, "", err
	}
	if t.Kind != KindExecutable {
		return 0, "", nil
	}
	name := strings.ToLower(s.Name)
	for _, w := range deceptiveWords {
		if strings.Contains(name, w) {
			return 1, fmt.Sprintf("executable named like a document (%q)", w), nil
		}
	}
	return 0, "", nil
}

func containsAny(s string, patterns []string) bool {
	for _, p := range patterns {
		if strings.Contains(s, p) {
			return true
		}
	}
	return false
}
