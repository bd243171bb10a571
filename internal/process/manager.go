package process

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"sync"
	"syscall"
	"time"
)

// Status represents the current state of a supervised process.
type Status string

const (
	StatusStopped  Status = "stopped"
	StatusStarting Status = "starting"
	StatusRunning  Status = "running"
	StatusFailed   Status = "failed"
)

// maxLineLength bounds a single captured output line.
const maxLineLength = 64 * 1024

// Config holds configuration for a supervised process.
type Config struct {
	// Name identifies the process in logs.
	Name string

	// Binary is the path to the executable.
	Binary string

	// Args are command-line arguments.
	Args []string

	// Env holds additional environment variables in key=value form,
	// appended to the parent environment. Nil inherits as-is.
	Env []string

	// WorkDir is the working directory. Empty inherits the parent's.
	WorkDir string

	// RestartOnFailure restarts the process when it exits unexpectedly.
	RestartOnFailure bool

	// RestartDelay is the wait before a restart attempt.
	RestartDelay time.Duration

	// MaxRestartAttempts caps restart attempts. 0 means unlimited.
	MaxRestartAttempts int

	// GracefulTimeout is how long to wait after SIGTERM before SIGKILL.
	GracefulTimeout time.Duration

	// OnLine receives each line of stdout/stderr as it is produced.
	// The callback runs on the capture goroutine and must not block.
	OnLine func(stream, line string)

	// OnStart is called after each successful start.
	OnStart func()

	// OnStop is called when the process stops. err is nil for a
	// requested stop, otherwise the exit error.
	OnStop func(err error)
}

// Logger defines the logging interface for the supervisor.
type Logger interface {
	Debug(msg string, args ...any)
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
	Error(msg string, args ...any)
}

type noopLogger struct{}

func (noopLogger) Debug(string, ...any) {}
func (noopLogger) Info(string, ...any)  {}
func (noopLogger) Warn(string, ...any)  {}
func (noopLogger) Error(string, ...any) {}

// Manager supervises one child process.
type Manager struct {
	config Config
	logger Logger

	mu            sync.RWMutex
	cmd           *exec.Cmd
	status        Status
	restartCount  int
	lastError     error
	startTime     time.Time
	stopRequested bool
	writers       []*lineWriter

	done chan struct{}
}

// NewManager creates a supervisor for the given configuration.
// Zero durations take defaults of 5s restart delay and 10s graceful
// timeout.
func NewManager(cfg Config) *Manager {
	if cfg.RestartDelay == 0 {
		cfg.RestartDelay = 5 * time.Second
	}
	if cfg.GracefulTimeout == 0 {
		cfg.GracefulTimeout = 10 * time.Second
	}
	return &Manager{
		config: cfg,
		logger: noopLogger{},
		status: StatusStopped,
	}
}

// SetLogger sets the logger for the supervisor.
func (m *Manager) SetLogger(logger Logger) {
	m.logger = logger
}

// Start launches the process and begins monitoring it. The process is
// restarted on unexpected exit when RestartOnFailure is set.
func (m *Manager) Start(ctx context.Context) error {
	m.mu.Lock()
	if m.status == StatusRunning || m.status == StatusStarting {
		m.mu.Unlock()
		return fmt.Errorf("process %s is already running", m.config.Name)
	}
	m.status = StatusStarting
	m.stopRequested = false
	m.done = make(chan struct{})
	m.mu.Unlock()

	if err := m.startProcess(ctx); err != nil {
		m.mu.Lock()
		m.status = StatusFailed
		m.lastError = err
		close(m.done)
		m.mu.Unlock()
		return err
	}

	go m.monitor(ctx)
	return nil
}

// Run executes the process once and waits for it to finish, streaming
// output through OnLine. Cancelling the context kills the process
// group. Run is independent of Start/Stop supervision.
func (m *Manager) Run(ctx context.Context) error {
	m.mu.Lock()
	if m.status == StatusRunning || m.status == StatusStarting {
		m.mu.Unlock()
		return fmt.Errorf("process %s is already running", m.config.Name)
	}
	m.status = StatusStarting
	m.stopRequested = false
	m.done = make(chan struct{})
	m.mu.Unlock()

	if err := m.startProcess(ctx); err != nil {
		m.mu.Lock()
		m.status = StatusFailed
		m.lastError = err
		close(m.done)
		m.mu.Unlock()
		return err
	}

	m.mu.RLock()
	cmd := m.cmd
	done := m.done
	m.mu.RUnlock()
	defer close(done)

	exitCh := make(chan error, 1)
	go func() { exitCh <- cmd.Wait() }()

	var err error
	select {
	case err = <-exitCh:
	case <-ctx.Done():
		m.killGroup(cmd)
		<-exitCh
		err = ctx.Err()
	}

	m.flushOutput()

	m.mu.Lock()
	if err != nil {
		m.status = StatusFailed
		m.lastError = err
	} else {
		m.status = StatusStopped
	}
	m.mu.Unlock()

	if m.config.OnStop != nil {
		m.config.OnStop(err)
	}
	return err
}

func (m *Manager) startProcess(ctx context.Context) error {
	m.logger.Info("starting process",
		"name", m.config.Name,
		"binary", m.config.Binary,
	)

	cmd := exec.CommandContext(ctx, m.config.Binary, m.config.Args...)

	// Own process group so Stop can signal children too
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}

	if m.config.Env != nil {
		cmd.Env = append(os.Environ(), m.config.Env...)
	}
	if m.config.WorkDir != "" {
		cmd.Dir = m.config.WorkDir
	}

	// exec copies pipe output into these writers and Wait blocks until
	// the copies finish, so no line is lost at exit.
	stdout := &lineWriter{m: m, stream: "stdout"}
	stderr := &lineWriter{m: m, stream: "stderr"}
	cmd.Stdout = stdout
	cmd.Stderr = stderr

	if err := cmd.Start(); err != nil {
		return fmt.Errorf("starting %s: %w", m.config.Name, err)
	}

	m.mu.Lock()
	m.cmd = cmd
	m.status = StatusRunning
	m.startTime = time.Now()
	m.writers = []*lineWriter{stdout, stderr}
	m.mu.Unlock()

	m.logger.Info("process started",
		"name", m.config.Name,
		"pid", cmd.Process.Pid,
	)

	if m.config.OnStart != nil {
		m.config.OnStart()
	}
	return nil
}

// lineWriter splits a process output stream into lines and forwards
// them to OnLine and the debug log. exec serializes Write calls per
// stream on its copy goroutine.
type lineWriter struct {
	m      *Manager
	stream string
	buf    []byte
}

func (w *lineWriter) Write(p []byte) (int, error) {
	w.buf = append(w.buf, p...)
	for {
		i := bytes.IndexByte(w.buf, '\n')
		if i < 0 {
			break
		}
		w.emit(string(bytes.TrimRight(w.buf[:i], "\r")))
		w.buf = w.buf[i+1:]
	}
	if len(w.buf) > maxLineLength {
		w.emit(string(w.buf))
		w.buf = nil
	}
	return len(p), nil
}

// flush emits a trailing unterminated line. Called after Wait returns.
func (w *lineWriter) flush() {
	if len(w.buf) > 0 {
		w.emit(string(w.buf))
		w.buf = nil
	}
}

func (w *lineWriter) emit(line string) {
	w.m.logger.Debug("process output",
		"name", w.m.config.Name,
		"stream", w.stream,
		"line", line,
	)
	if w.m.config.OnLine != nil {
		w.m.config.OnLine(w.stream, line)
	}
}

// flushOutput drains trailing partial lines from the last run.
func (m *Manager) flushOutput() {
	m.mu.RLock()
	writers := m.writers
	m.mu.RUnlock()
	for _, w := range writers {
		w.flush()
	}
}

// monitor waits for exit and handles the restart policy.
func (m *Manager) monitor(ctx context.Context) {
	defer func() {
		m.mu.RLock()
		done := m.done
		m.mu.RUnlock()
		close(done)
	}()

	for {
		m.mu.RLock()
		cmd := m.cmd
		m.mu.RUnlock()
		if cmd == nil {
			return
		}

		err := cmd.Wait()
		m.flushOutput()

		m.mu.Lock()
		stopRequested := m.stopRequested
		m.mu.Unlock()

		if stopRequested {
			m.logger.Info("process stopped as requested", "name", m.config.Name)
			m.mu.Lock()
			m.status = StatusStopped
			m.mu.Unlock()
			if m.config.OnStop != nil {
				m.config.OnStop(nil)
			}
			return
		}

		m.logger.Warn("process exited unexpectedly",
			"name", m.config.Name,
			"error", err,
		)

		m.mu.Lock()
		m.lastError = err
		m.status = StatusFailed
		m.mu.Unlock()

		if m.config.OnStop != nil {
			m.config.OnStop(err)
		}

		if !m.config.RestartOnFailure {
			return
		}

		m.mu.Lock()
		m.restartCount++
		attempt := m.restartCount
		m.mu.Unlock()

		if m.config.MaxRestartAttempts > 0 && attempt > m.config.MaxRestartAttempts {
			m.logger.Error("max restart attempts reached",
				"name", m.config.Name,
				"attempts", attempt,
			)
			return
		}

		m.logger.Info("restarting process",
			"name", m.config.Name,
			"attempt", attempt,
			"delay", m.config.RestartDelay,
		)

		select {
		case <-ctx.Done():
			return
		case <-time.After(m.config.RestartDelay):
		}

		m.mu.RLock()
		stopRequested = m.stopRequested
		m.mu.RUnlock()
		if stopRequested {
			return
		}

		if err := m.startProcess(ctx); err != nil {
			m.logger.Error("restart failed",
				"name", m.config.Name,
				"error", err,
			)
			// Loop tries again after the delay
		}
	}
}

// Stop gracefully stops the process: SIGTERM to the process group,
// SIGKILL after GracefulTimeout.
func (m *Manager) Stop() error {
	m.mu.Lock()
	if m.status != StatusRunning && m.status != StatusStarting {
		m.mu.Unlock()
		return nil
	}
	m.stopRequested = true
	cmd := m.cmd
	done := m.done
	m.mu.Unlock()

	if cmd == nil || cmd.Process == nil || done == nil {
		return nil
	}

	pid := cmd.Process.Pid
	m.logger.Info("stopping process", "name", m.config.Name, "pid", pid)

	if err := syscall.Kill(-pid, syscall.SIGTERM); err != nil {
		if !errors.Is(err, syscall.ESRCH) {
			m.logger.Warn("sending SIGTERM failed", "name", m.config.Name, "error", err)
		}
	}

	select {
	case <-done:
		return nil
	case <-time.After(m.config.GracefulTimeout):
		m.logger.Warn("graceful shutdown timeout, sending SIGKILL",
			"name", m.config.Name,
			"timeout", m.config.GracefulTimeout,
		)
	}

	m.killGroup(cmd)
	<-done
	return nil
}

func (m *Manager) killGroup(cmd *exec.Cmd) {
	if cmd.Process == nil {
		return
	}
	if err := syscall.Kill(-cmd.Process.Pid, syscall.SIGKILL); err != nil {
		if !errors.Is(err, syscall.ESRCH) {
			m.logger.Warn("killing process group failed",
				"name", m.config.Name, "error", err)
		}
	}
}

// Status returns the current process status.
func (m *Manager) Status() Status {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.status
}

// IsRunning reports whether the process is currently running.
func (m *Manager) IsRunning() bool {
	return m.Status() == StatusRunning
}

// LastError returns the error from the last unexpected exit.
func (m *Manager) LastError() error {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.lastError
}

// RestartCount returns how many restarts have been attempted.
func (m *Manager) RestartCount() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.restartCount
}

// PID returns the process id, or 0 when not running.
func (m *Manager) PID() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.cmd != nil && m.cmd.Process != nil {
		return m.cmd.Process.Pid
	}
	return 0
}

// Stats describes the supervised process for status surfaces.
type Stats struct {
	Name         string        `json:"name"`
	Status       Status        `json:"status"`
	PID          int           `json:"pid,omitempty"`
	Uptime       time.Duration `json:"uptime,omitempty"`
	RestartCount int           `json:"restart_count"`
	LastError    string        `json:"last_error,omitempty"`
}

// Stats returns a snapshot of the process state.
func (m *Manager) Stats() Stats {
	m.mu.RLock()
	defer m.mu.RUnlock()

	stats := Stats{
		Name:         m.config.Name,
		Status:       m.status,
		RestartCount: m.restartCount,
	}
	if m.cmd != nil && m.cmd.Process != nil {
		stats.PID = m.cmd.Process.Pid
	}
	if m.status == StatusRunning {
		stats.Uptime = time.Since(m.startTime)
	}
	if m.lastError != nil {
		stats.LastError = m.lastError.Error()
	}
	return stats
}
