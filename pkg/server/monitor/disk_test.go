package monitor

import (
	"os"
	"path/filepath"
	"testing"
)

func TestDiskMonitor_GetLimit(t *testing.T) {
	dm := NewDiskMonitor("/tmp", 1024*1024*1024)
	if got := dm.GetLimit(); got != 1024*1024*1024 {
		t.Errorf("GetLimit() = %d, want %d", got, 1024*1024*1024)
	}
}

func TestDiskMonitor_Directory(t *testing.T) {
	tmpDir := t.TempDir()
	if err := os.WriteFile(filepath.Join(tmpDir, "000001.vlog"), []byte("test data"), 0o644); err != nil {
		t.Fatalf("Failed to create test file: %v", err)
	}

	usage, err := NewDiskMonitor(tmpDir, 0).GetUsage()
	if err != nil {
		t.Fatalf("GetUsage() error = %v", err)
	}
	if usage < 9 {
		t.Errorf("GetUsage() = %d, want at least 9", usage)
	}
}

func TestDiskMonitor_SQLiteFileWithWAL(t *testing.T) {
	tmpDir := t.TempDir()
	db := filepath.Join(tmpDir, "trafficwatch.db")
	if err := os.WriteFile(db, []byte("main"), 0o644); err != nil {
		t.Fatalf("Failed to create db file: %v", err)
	}
	if err := os.WriteFile(db+"-wal", []byte("wal pages"), 0o644); err != nil {
		t.Fatalf("Failed to create wal file: %v", err)
	}

	status := NewDiskMonitor(db, 1).Status()
	if status.Error != "" {
		t.Fatalf("Status() error = %s", status.Error)
	}
	if status.UsageBytes < 13 {
		t.Errorf("UsageBytes = %d, want at least 13", status.UsageBytes)
	}
	if !status.OverLimit {
		t.Error("OverLimit should be set when usage exceeds a 1 byte limit")
	}
}

func TestDiskMonitor_Caching(t *testing.T) {
	tmpDir := t.TempDir()
	dm := NewDiskMonitor(tmpDir, 0)

	usage1, err := dm.GetUsage()
	if err != nil {
		t.Fatalf("GetUsage() error = %v", err)
	}
	if err := os.WriteFile(filepath.Join(tmpDir, "late.sst"), make([]byte, 64*1024), 0o644); err != nil {
		t.Fatalf("Failed to create test file: %v", err)
	}
	usage2, err := dm.GetUsage()
	if err != nil {
		t.Fatalf("GetUsage() error = %v", err)
	}
	if usage1 != usage2 {
		t.Errorf("Cached values differ: %d != %d", usage1, usage2)
	}
}

func TestDiskMonitor_InvalidPath(t *testing.T) {
	status := NewDiskMonitor("/nonexistent/path/12345", 0).Status()
	if status.Error == "" {
		t.Error("Status() should report an error for a nonexistent path")
	}
}
