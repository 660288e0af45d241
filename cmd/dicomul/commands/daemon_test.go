package commands

import (
	"fmt"
	"os"
	"path/filepath"
	"testing"
)

func TestIsProcessRunning_NonexistentFile(t *testing.T) {
	pid, running := isProcessRunning(filepath.Join(t.TempDir(), "nonexistent.pid"))
	if running || pid != 0 {
		t.Errorf("isProcessRunning() for nonexistent file: got (%d, %v), want (0, false)", pid, running)
	}
}

func TestIsProcessRunning_InvalidPID(t *testing.T) {
	pidPath := filepath.Join(t.TempDir(), "invalid.pid")
	if err := os.WriteFile(pidPath, []byte("notanumber"), 0644); err != nil {
		t.Fatalf("failed to write pid file: %v", err)
	}

	pid, running := isProcessRunning(pidPath)
	if running || pid != 0 {
		t.Errorf("isProcessRunning() for invalid PID: got (%d, %v), want (0, false)", pid, running)
	}
	if _, err := readPidFile(pidPath); err == nil {
		t.Error("readPidFile() for invalid PID: expected error")
	}
}

func TestIsProcessRunning_CurrentProcess(t *testing.T) {
	currentPID := os.Getpid()
	pidPath := filepath.Join(t.TempDir(), "current.pid")
	if err := os.WriteFile(pidPath, []byte(fmt.Sprintf("%d\n", currentPID)), 0644); err != nil {
		t.Fatalf("failed to write pid file: %v", err)
	}

	pid, running := isProcessRunning(pidPath)
	if !running || pid != currentPID {
		t.Errorf("isProcessRunning() for current process: got (%d, %v), want (%d, true)", pid, running, currentPID)
	}
}
