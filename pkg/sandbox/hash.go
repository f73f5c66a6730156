package sandbox

import (
	"crypto/sha256"
	"encoding/hex"
	"io"
	"os"

	"github.com/exploopio/filescan/pkg/errors"
)

// HashChunkSize is the read size used while hashing.
const HashChunkSize = 64 * 1024

// HashFile streams the file through SHA-256 and returns the lower-case hex
// digest. Memory use is one chunk regardless of file size.
func HashFile(path string) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			return "", errors.E(errors.KindNotFound, "sandbox.HashFile", "file not found", err)
		}
		return "", errors.E(errors.KindInvalidInput, "sandbox.HashFile", "cannot open file", err)
	}
	defer f.Close()

	h := sha256.New()
	buf := make([]byte, HashChunkSize)
	for {
		n, err := f.Read(buf)
		if n > 0 {
			h.Write(buf[:n])
		}
		if err == io.EOF {
			break
		}
		if err != nil {
			return "", errors.E(errors.KindInvalidInput, "sandbox.HashFile", "cannot read file", err)
		}
	}
	return hex.EncodeToString(h.Sum(nil)), nil
}

// ValidHash reports whether s looks like an MD5, SHA-1 or SHA-256 hex
// digest, the identifiers the service accepts for lookups.
func ValidHash(s string) bool {
	switch len(s) {
	case 32, 40, 64:
	default:
		return false
	}
	_, err := hex.DecodeString(s)
	return err == nil
}
