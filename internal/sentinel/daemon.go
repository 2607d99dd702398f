package sentinel

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"syscall"
	"time"
)

// ErrNotRunning is returned when no daemon owns the PID file.
var ErrNotRunning = errors.New("daemon is not running")

// DaemonState is the persistent state of a running keyseqd.
type DaemonState struct {
	PID        int       `json:"pid"`
	StartedAt  time.Time `json:"started_at"`
	Version    string    `json:"version"`
	Source     string    `json:"source"`
	RunID      string    `json:"run_id,omitempty"`
	ConfigPath string    `json:"config_path,omitempty"`
}

// DaemonManager handles PID and state files for keyseqd and signals a
// running instance.
type DaemonManager struct {
	stateDir  string
	pidFile   string
	stateFile string
}

// NewDaemonManager creates a daemon manager rooted at stateDir.
func NewDaemonManager(stateDir string) *DaemonManager {
	return &DaemonManager{
		stateDir:  stateDir,
		pidFile:   filepath.Join(stateDir, "keyseqd.pid"),
		stateFile: filepath.Join(stateDir, "keyseqd.state"),
	}
}

// PIDFile returns the PID file path.
func (m *DaemonManager) PIDFile() string {
	return m.pidFile
}

// IsRunning checks if the daemon is running.
func (m *DaemonManager) IsRunning() bool {
	pid, err := m.ReadPID()
	if err != nil {
		return false
	}

	return isProcessRunning(pid)
}

// ReadPID reads the daemon's PID from the PID file.
func (m *DaemonManager) ReadPID() (int, error) {
	data, err := os.ReadFile(m.pidFile)
	if err != nil {
		return 0, err
	}

	pid, err := strconv.Atoi(strings.TrimSpace(string(data)))
	if err != nil {
		return 0, fmt.Errorf("invalid PID file: %w", err)
	}

	return pid, nil
}

// WritePID writes the current process PID to the PID file.
func (m *DaemonManager) WritePID() error {
	if err := os.MkdirAll(m.stateDir, 0700); err != nil {
		return fmt.Errorf("create state dir: %w", err)
	}

	return os.WriteFile(m.pidFile, []byte(strconv.Itoa(os.Getpid())), 0600)
}

// WriteState writes the daemon state.
func (m *DaemonManager) WriteState(state *DaemonState) error {
	if err := os.MkdirAll(m.stateDir, 0700); err != nil {
		return fmt.Errorf("create state dir: %w", err)
	}

	data, err := json.MarshalIndent(state, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal state: %w", err)
	}

	return os.WriteFile(m.stateFile, data, 0600)
}

// ReadState reads the daemon state.
func (m *DaemonManager) ReadState() (*DaemonState, error) {
	data, err := os.ReadFile(m.stateFile)
	if err != nil {
		return nil, err
	}

	var state DaemonState
	if err := json.Unmarshal(data, &state); err != nil {
		return nil, fmt.Errorf("unmarshal state: %w", err)
	}

	return &state, nil
}

// SignalStop sends SIGTERM to the daemon.
func (m *DaemonManager) SignalStop() error {
	return m.signal(syscall.SIGTERM)
}

// SignalReload sends SIGHUP to the daemon, which re-reads its
// configuration file.
func (m *DaemonManager) SignalReload() error {
	return m.signal(syscall.SIGHUP)
}

func (m *DaemonManager) signal(sig os.Signal) error {
	pid, err := m.ReadPID()
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return ErrNotRunning
		}
		return fmt.Errorf("read PID: %w", err)
	}
	if !isProcessRunning(pid) {
		return ErrNotRunning
	}

	process, err := os.FindProcess(pid)
	if err != nil {
		return fmt.Errorf("find process: %w", err)
	}

	return process.Signal(sig)
}

// WaitForStop waits for the daemon to stop.
func (m *DaemonManager) WaitForStop(timeout time.Duration) error {
	deadline := time.Now().Add(timeout)

	for time.Now().Before(deadline) {
		if !m.IsRunning() {
			return nil
		}
		time.Sleep(100 * time.Millisecond)
	}

	return fmt.Errorf("daemon did not stop within %v", timeout)
}

// Cleanup removes PID and state files.
func (m *DaemonManager) Cleanup() {
	os.Remove(m.pidFile)
	os.Remove(m.stateFile)
}

// Status returns the current daemon status.
func (m *DaemonManager) Status() (*DaemonStatus, error) {
	status := &DaemonStatus{}

	pid, pidErr := m.ReadPID()
	if pidErr == nil && isProcessRunning(pid) {
		status.Running = true
		status.PID = pid
	}

	if state, err := m.ReadState(); err == nil {
		status.StartedAt = state.StartedAt
		status.Version = state.Version
		status.Source = state.Source
		status.RunID = state.RunID
		status.ConfigPath = state.ConfigPath
		if status.Running {
			status.Uptime = time.Since(state.StartedAt)
		}
	}

	return status, nil
}

// DaemonStatus represents the daemon status for display.
type DaemonStatus struct {
	Running    bool
	PID        int
	StartedAt  time.Time
	Uptime     time.Duration
	Version    string
	Source     string
	RunID      string
	ConfigPath string
}

// isProcessRunning checks if a process with the given PID is running.
func isProcessRunning(pid int) bool {
	process, err := os.FindProcess(pid)
	if err != nil {
		return false
	}

	// On Unix, FindProcess always succeeds. Send signal 0 to check if process exists.
	err = process.Signal(syscall.Signal(0))
	return err == nil
}
