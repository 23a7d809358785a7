// Package process tracks a detached gateway through files in the base
// directory: a PID file, a JSON state file, and a count of attached sessions.
package process

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"syscall"
	"time"
)

const (
	PIDFilename   = "ccs.pid"
	StateFilename = "ccs.state.json"
	RefFilename   = "ccs.refs"
)

var ErrStartTimeout = errors.New("gateway startup timeout")

// State describes the gateway owned by the recorded PID.
type State struct {
	PID       int       `json:"pid"`
	Profile   string    `json:"profile"`
	Port      int       `json:"port"`
	Addr      string    `json:"addr"`
	StartedAt time.Time `json:"started_at"`
}

type Manager struct {
	pidFile   string
	stateFile string
	refFile   string
	mu        sync.RWMutex

	// alive reports whether a PID belongs to a live process.
	alive func(pid int) bool
	// spawn launches the gateway in the background.
	spawn func(args ...string) error
}

func NewManager(baseDir string) *Manager {
	return &Manager{
		pidFile:   filepath.Join(baseDir, PIDFilename),
		stateFile: filepath.Join(baseDir, StateFilename),
		refFile:   filepath.Join(baseDir, RefFilename),
		alive:     processAlive,
		spawn:     spawnSelf,
	}
}

func processAlive(pid int) bool {
	return syscall.Kill(pid, 0) == nil
}

func spawnSelf(args ...string) error {
	cmd := exec.Command(os.Args[0], append([]string{"start"}, args...)...)
	return cmd.Start()
}

func (m *Manager) WritePID() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if err := os.MkdirAll(filepath.Dir(m.pidFile), 0750); err != nil {
		return fmt.Errorf("create pid directory: %w", err)
	}

	return os.WriteFile(m.pidFile, []byte(strconv.Itoa(os.Getpid())), 0600)
}

func (m *Manager) ReadPID() int {
	m.mu.RLock()
	defer m.mu.RUnlock()

	data, err := os.ReadFile(m.pidFile)
	if err != nil {
		return 0
	}

	pid, err := strconv.Atoi(strings.TrimSpace(string(data)))
	if err != nil {
		return 0
	}

	return pid
}

func (m *Manager) WriteState(state State) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	data, err := json.MarshalIndent(state, "", "  ")
	if err != nil {
		return fmt.Errorf("encode state: %w", err)
	}

	if err := os.MkdirAll(filepath.Dir(m.stateFile), 0750); err != nil {
		return fmt.Errorf("create state directory: %w", err)
	}

	return os.WriteFile(m.stateFile, data, 0600)
}

// ReadState returns the recorded state, or false when none is readable.
func (m *Manager) ReadState() (State, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	data, err := os.ReadFile(m.stateFile)
	if err != nil {
		return State{}, false
	}

	var state State
	if err := json.Unmarshal(data, &state); err != nil {
		return State{}, false
	}

	return state, true
}

// IsRunning reports whether the recorded PID is alive. Stale files are removed.
func (m *Manager) IsRunning() bool {
	pid := m.ReadPID()
	if pid == 0 {
		return false
	}

	if !m.alive(pid) {
		m.Cleanup()
		return false
	}

	return true
}

func (m *Manager) Stop() error {
	pid := m.ReadPID()
	if pid == 0 {
		return nil
	}

	if err := syscall.Kill(pid, syscall.SIGTERM); err != nil {
		return fmt.Errorf("send SIGTERM to process %d: %w", pid, err)
	}

	for i := 0; i < 50; i++ {
		if !m.IsRunning() {
			break
		}

		time.Sleep(100 * time.Millisecond)
	}

	m.Cleanup()

	return nil
}

// Cleanup removes the PID and state files.
func (m *Manager) Cleanup() {
	m.mu.Lock()
	defer m.mu.Unlock()

	for _, path := range []string{m.pidFile, m.stateFile} {
		if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
			fmt.Fprintf(os.Stderr, "Warning: failed to remove %s: %v\n", path, err)
		}
	}
}

func (m *Manager) IncrementRef() {
	m.writeRef(m.ReadRef() + 1)
}

func (m *Manager) DecrementRef() {
	if c := m.ReadRef(); c > 0 {
		m.writeRef(c - 1)
	}
}

func (m *Manager) ReadRef() int {
	m.mu.RLock()
	defer m.mu.RUnlock()

	data, err := os.ReadFile(m.refFile)
	if err != nil {
		return 0
	}

	count, err := strconv.Atoi(strings.TrimSpace(string(data)))
	if err != nil {
		return 0
	}

	return count
}

func (m *Manager) writeRef(count int) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if err := os.WriteFile(m.refFile, []byte(strconv.Itoa(count)), 0600); err != nil {
		fmt.Fprintf(os.Stderr, "Warning: failed to write reference file: %v\n", err)
	}
}

func (m *Manager) CleanupRef() {
	m.mu.Lock()
	defer m.mu.Unlock()

	if err := os.Remove(m.refFile); err != nil && !os.IsNotExist(err) {
		fmt.Fprintf(os.Stderr, "Warning: failed to remove reference file: %v\n", err)
	}
}

// WaitForService polls until the state file appears for a live PID.
func (m *Manager) WaitForService(timeout time.Duration) bool {
	expire := time.Now().Add(timeout)

	ticker := time.NewTicker(100 * time.Millisecond)
	defer ticker.Stop()

	for time.Now().Before(expire) {
		if _, ok := m.ReadState(); ok && m.IsRunning() {
			return true
		}

		<-ticker.C
	}

	return false
}

// StartServiceIfNeeded spawns `start` with args unless a gateway is already
// running. It reports whether this call started it.
func (m *Manager) StartServiceIfNeeded(timeout time.Duration, args ...string) (bool, error) {
	if m.IsRunning() {
		return false, nil
	}

	if err := m.spawn(args...); err != nil {
		return false, fmt.Errorf("start gateway: %w", err)
	}

	if !m.WaitForService(timeout) {
		return false, ErrStartTimeout
	}

	return true, nil
}
