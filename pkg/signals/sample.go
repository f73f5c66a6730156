package signals

import (
	"bytes"
	"fmt"
	"io"
	"math"
	"os"
	"path/filepath"
	"strings"

	"github.com/klauspost/compress/zip"
)

// Read windows. Every window is a prefix of the same read.
const (
	HeaderSize    = 512
	EntropyWindow = 8 * 1024
	StringsWindow = 1024 * 1024

	// MinStringLength is the shortest printable run extracted.
	MinStringLength = 4
)

// Sample is the view of a file that signals score. It is built once per
// assessment and shared read-only by every signal.
type Sample struct {
	Path string
	Name string
	// Ext is the lower-cased last extension without the dot.
	Ext string
	// Exts holds every dot-delimited suffix of Name, lower-cased.
	Exts []string
	Size int64

	prefix  []byte
	content []byte // whole file, only for in-memory samples
	readErr error
	typ     *FileType
	strs    []string
}

// NewSample reads up to StringsWindow bytes of the file at path. A read
// failure is kept on the sample; signals that need bytes will report it.
func NewSample(path string, size int64) *Sample {
	name := filepath.Base(path)
	s := &Sample{
		Path: path,
		Name: name,
		Ext:  lastExtension(name),
		Exts: allExtensions(name),
		Size: size,
	}

	f, err := os.Open(path)
	if err != nil {
		s.readErr = err
		return s
	}
	defer f.Close()

	buf := make([]byte, min(size, StringsWindow))
	n, err := io.ReadFull(f, buf)
	if err != nil && err != io.ErrUnexpectedEOF && err != io.EOF {
		s.readErr = fmt.Errorf("read %s: %w", name, err)
		return s
	}
	s.prefix = buf[:n]
	return s
}

// NewSampleBytes builds a sample from in-memory content, as if it had been
// read from a file with the given name.
func NewSampleBytes(name string, content []byte) *Sample {
	prefix := content
	if len(prefix) > StringsWindow {
		prefix = prefix[:StringsWindow]
	}
	return &Sample{
		Path:    name,
		Name:    filepath.Base(name),
		Ext:     lastExtension(name),
		Exts:    allExtensions(name),
		Size:    int64(len(content)),
		prefix:  prefix,
		content: content,
	}
}

func (s *Sample) window(n int) ([]byte, error) {
	if s.readErr != nil {
		return nil, s.readErr
	}
	if len(s.prefix) < n {
		return s.prefix, nil
	}
	return s.prefix[:n], nil
}

// Header returns the first HeaderSize bytes.
func (s *Sample) Header() ([]byte, error) {
	return s.window(HeaderSize)
}

// Type returns the type detected from the header.
func (s *Sample) Type() (FileType, error) {
	if s.typ != nil {
		return *s.typ, nil
	}
	header, err := s.Header()
	if err != nil {
		return UnknownType, err
	}
	t := DetectType(header)
	s.typ = &t
	return t, nil
}

// Entropy returns the Shannon entropy of the first EntropyWindow bytes.
func (s *Sample) Entropy() (float64, error) {
	data, err := s.window(EntropyWindow)
	if err != nil {
		return 0, err
	}
	return ShannonEntropy(data), nil
}

// Strings returns the lower-cased printable ASCII runs of the first
// StringsWindow bytes.
func (s *Sample) Strings() ([]string, error) {
	if s.strs != nil {
		return s.strs, nil
	}
	data, err := s.window(StringsWindow)
	if err != nil {
		return nil, err
	}
	s.strs = ExtractStrings(data, MinStringLength)
	return s.strs, nil
}

// Prefix returns all bytes read.
func (s *Sample) Prefix() ([]byte, error) {
	return s.window(StringsWindow)
}

// zipEntries lists the central directory of a zip sample.
func (s *Sample) zipEntries() ([]*zip.File, error) {
	if s.content != nil {
		zr, err := zip.NewReader(bytes.NewReader(s.content), int64(len(s.content)))
		if err != nil {
			return nil, err
		}
		return zr.File, nil
	}
	zr, err := zip.OpenReader(s.Path)
	if err != nil {
		return nil, err
	}
	defer zr.Close()
	return zr.File, nil
}

// ShannonEntropy returns the base-2 entropy of data in bits per byte,
// capped at 8.
func ShannonEntropy(data []byte) float64 {
	if len(data) == 0 {
		return 0
	}
	var freq [256]int
	for _, b := range data {
		freq[b]++
	}
	total := float64(len(data))
	var h float64
	for _, n := range freq {
		if n == 0 {
			continue
		}
		p := float64(n) / total
		h -= p * math.Log2(p)
	}
	return math.Min(h, 8)
}

// ExtractStrings returns runs of printable ASCII (0x20-0x7E) at least
// minLen long, lower-cased.
func ExtractStrings(data []byte, minLen int) []string {
	out := []string{}
	start := -1
	for i, b := range data {
		if b >= 32 && b <= 126 {
			if start < 0 {
				start = i
			}
			continue
		}
		if start >= 0 && i-start >= minLen {
			out = append(out, strings.ToLower(string(data[start:i])))
		}
		start = -1
	}
	if start >= 0 && len(data)-start >= minLen {
		out = append(out, strings.ToLower(string(data[start:])))
	}
	return out
}

// lastExtension mirrors the usual suffix rule: a leading dot alone does not
// start an extension, so ".bashrc" has none.
func lastExtension(name string) string {
	base := filepath.Base(name)
	trimmed := strings.TrimLeft(base, ".")
	i := strings.LastIndex(trimmed, ".")
	if i < 0 || i == len(trimmed)-1 {
		return ""
	}
	return strings.ToLower(trimmed[i+1:])
}

// allExtensions returns every non-empty dot suffix after the first segment.
func allExtensions(name string) []string {
	parts := strings.Split(filepath.Base(name), ".")
	exts := make([]string, 0, len(parts))
	for _, p := range parts[1:] {
		if p != "" {
			exts = append(exts, strings.ToLower(p))
		}
	}
	return exts
}
