//go:build !linux && !darwin && !freebsd

package health

import (
	"context"
	"runtime"
)

// DiskCheck reports free space on the filesystem holding Path. Only
// Linux, macOS and FreeBSD report real figures.
type DiskCheck struct {
	Path         string
	MinFreeBytes uint64
}

func (c *DiskCheck) Check(ctx context.Context) CheckResult {
	return CheckResult{Status: StatusUnknown, Message: "disk stats unavailable on " + runtime.GOOS}
}
