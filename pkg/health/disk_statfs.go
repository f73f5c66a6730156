//go:build linux || darwin || freebsd

package health

import (
	"context"
	"fmt"

	"golang.org/x/sys/unix"
)

// DiskCheck reports free space on the filesystem holding Path.
type DiskCheck struct {
	Path string

	// MinFreeBytes marks the check unhealthy below this much free space.
	MinFreeBytes uint64
}

func (c *DiskCheck) Check(ctx context.Context) CheckResult {
	path := c.Path
	if path == "" {
		path = "/"
	}

	var stat unix.Statfs_t
	if err := unix.Statfs(path, &stat); err != nil {
		return CheckResult{Status: StatusUnhealthy, Error: fmt.Sprintf("statfs %s: %v", path, err)}
	}

	bsize := uint64(stat.Bsize) //nolint:gosec // block size is positive
	total := uint64(stat.Blocks) * bsize
	free := uint64(stat.Bavail) * bsize
	meta := map[string]any{
		"path":        path,
		"total_bytes": total,
		"free_bytes":  free,
	}

	if c.MinFreeBytes > 0 && free < c.MinFreeBytes {
		return CheckResult{
			Status:   StatusUnhealthy,
			Error:    fmt.Sprintf("%d bytes free, below %d", free, c.MinFreeBytes),
			Metadata: meta,
		}
	}
	return CheckResult{
		Status:   StatusHealthy,
		Message:  fmt.Sprintf("%d MiB free", free/(1<<20)),
		Metadata: meta,
	}
}
