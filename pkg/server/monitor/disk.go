package monitor

import (
	"os"
	"path/filepath"
	"sync"
	"time"
)

// DiskMonitor tracks the on-disk footprint of a file-backed store (a badger
// directory or a sqlite file) with caching to avoid repeated walks.
type DiskMonitor struct {
	path          string
	maxBytes      int64
	cachedUsage   int64
	lastCheck     time.Time
	cacheDuration time.Duration
	mu            sync.Mutex
}

// NewDiskMonitor creates a monitor for path. maxBytes of 0 means no limit.
func NewDiskMonitor(path string, maxBytes int64) *DiskMonitor {
	return &DiskMonitor{
		path:          path,
		maxBytes:      maxBytes,
		cacheDuration: 10 * time.Second,
	}
}

// GetUsage returns current usage in bytes, cached for 10 seconds.
func (dm *DiskMonitor) GetUsage() (int64, error) {
	dm.mu.Lock()
	defer dm.mu.Unlock()

	if !dm.lastCheck.IsZero() && time.Since(dm.lastCheck) < dm.cacheDuration {
		return dm.cachedUsage, nil
	}

	usage, err := pathSize(dm.path)
	if err != nil {
		return 0, err
	}

	dm.cachedUsage = usage
	dm.lastCheck = time.Now()
	return usage, nil
}

// GetLimit returns the configured limit in bytes.
func (dm *DiskMonitor) GetLimit() int64 {
	return dm.maxBytes
}

// DiskStatus is the disk section of the health report.
type DiskStatus struct {
	Path       string `json:"path"`
	UsageBytes int64  `json:"usage_bytes"`
	LimitBytes int64  `json:"limit_bytes,omitempty"`
	OverLimit  bool   `json:"over_limit,omitempty"`
	Error      string `json:"error,omitempty"`
}

// Status reports usage against the limit.
func (dm *DiskMonitor) Status() DiskStatus {
	status := DiskStatus{Path: dm.path, LimitBytes: dm.maxBytes}
	usage, err := dm.GetUsage()
	if err != nil {
		status.Error = err.Error()
		return status
	}
	status.UsageBytes = usage
	status.OverLimit = dm.maxBytes > 0 && usage > dm.maxBytes
	return status
}

// pathSize sums actual disk usage under path, which may be a single file.
// Sqlite's -wal and -shm companions are included when present.
func pathSize(path string) (int64, error) {
	var size int64
	err := filepath.Walk(path, func(filePath string, info os.FileInfo, err error) error {
		if err != nil {
			return err
		}
		if !info.IsDir() {
			size += actualFileSize(filePath, info)
		}
		return nil
	})
	if err != nil {
		return 0, err
	}

	for _, suffix := range []string{"-wal", "-shm"} {
		if info, err := os.Stat(path + suffix); err == nil && !info.IsDir() {
			size += actualFileSize(path+suffix, info)
		}
	}
	return size, nil
}
