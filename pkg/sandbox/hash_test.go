package sandbox

import (
	"bytes"
	"path/filepath"
	"testing"

	"github.com/exploopio/filescan/pkg/errors"
)

func TestHashFile(t *testing.T) {
	sizes := []int{0, 1, HashChunkSize - 1, HashChunkSize, 3*HashChunkSize + 17}
	for _, n := range sizes {
		content := bytes.Repeat([]byte{0xA5}, n)
		path, want := writeSample(t, "f.bin", content)

		got, err := HashFile(path)
		if err != nil {
			t.Fatalf("HashFile(%d bytes) error = %v", n, err)
		}
		if got != want {
			t.Errorf("HashFile(%d bytes) = %s, want %s", n, got, want)
		}
	}
}

func TestHashFile_Missing(t *testing.T) {
	_, err := HashFile(filepath.Join(t.TempDir(), "gone"))
	if !errors.IsNotFoundError(err) {
		t.Errorf("HashFile() error = %v, want not found", err)
	}
}

func TestValidHash(t *testing.T) {
	tests := []struct {
		in   string
		want bool
	}{
		{"44d88612fea8a8f36de82e1278abb02f", true},
		{"3395856ce81f2b7382dee72602f798b642f14140", true},
		{"275a021bbfb6489e54d471899f7db9d1663fc695ec2fe2a2c4538aabf651fd0f", true},
		{"", false},
		{"abc", false},
		{"zz5a021bbfb6489e54d471899f7db9d1663fc695ec2fe2a2c4538aabf651fd0f", false},
		{"../../etc/passwd", false},
	}
	for _, tt := range tests {
		if got := ValidHash(tt.in); got != tt.want {
			t.Errorf("ValidHash(%q) = %v, want %v", tt.in, got, tt.want)
		}
	}
}
