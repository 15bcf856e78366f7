// Package process spawns, observes, and terminates agent and chat-bridge
// subprocesses: it owns the enriched PATH construction, the bounded stderr
// tail buffer, and the post-spawn liveness check.
package process

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"os/exec"
	"path/filepath"
	"runtime"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/infiniact/agent-hub-sub000/internal/common/logger"
	"go.uber.org/zap"
)

// Status is the lifecycle state of a supervised subprocess.
type Status string

const (
	StatusStarting Status = "starting"
	StatusRunning  Status = "running"
	StatusStopped  Status = "stopped"
	StatusError    Status = "error"
)

// stderrTailCapacity bounds the retained stderr lines per process.
const stderrTailCapacity = 50

// postSpawnCheckDelay is how long the supervisor waits before polling for an
// early exit.
const postSpawnCheckDelay = 300 * time.Millisecond

// SpawnFailedError carries context for a process that exited before the
// post-spawn liveness check completed.
type SpawnFailedError struct {
	ExitStatus int
	StderrTail []string
}

func (e *SpawnFailedError) Error() string {
	return fmt.Sprintf("process exited during spawn (status=%d): %s", e.ExitStatus, strings.Join(e.StderrTail, "\n"))
}

// TailBuffer retains at most stderrTailCapacity lines; once full, further
// lines are dropped silently and the earliest lines are kept.
type TailBuffer struct {
	mu    sync.Mutex
	lines []string
	cap   int
}

func newTailBuffer(capacity int) *TailBuffer {
	return &TailBuffer{cap: capacity}
}

func (b *TailBuffer) add(line string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if len(b.lines) >= b.cap {
		return
	}
	b.lines = append(b.lines, line)
}

// Lines returns a snapshot of the retained tail.
func (b *TailBuffer) Lines() []string {
	b.mu.Lock()
	defer b.mu.Unlock()
	out := make([]string, len(b.lines))
	copy(out, b.lines)
	return out
}

// Process is a supervised subprocess: an AI-assistant agent or a chat bridge.
type Process struct {
	cmd    *exec.Cmd
	Stdin  io.WriteCloser
	Stdout io.ReadCloser
	stderr io.ReadCloser

	StderrTail *TailBuffer

	status   atomic.Value // Status
	exitCode atomic.Int32

	log *logger.Logger

	wg     sync.WaitGroup
	doneCh chan struct{}
	once   sync.Once
}

// Spec describes how to spawn a subprocess.
type Spec struct {
	Command string
	Args    []string
	Dir     string
	Env     []string // additional KEY=VALUE entries, appended to the enriched PATH env
}

// EnrichedPath composes the system PATH with common user-local bin
// directories, filtered to those that exist, per the enriched-PATH design.
func EnrichedPath() string {
	systemPath := os.Getenv("PATH")
	if runtime.GOOS == "windows" {
		return systemPath
	}

	home, err := os.UserHomeDir()
	if err != nil {
		return systemPath
	}

	candidates := []string{
		filepath.Join(home, ".local", "bin"),
		filepath.Join(home, ".cargo", "bin"),
		filepath.Join(home, "bin"),
		"/opt/homebrew/bin",
		"/opt/homebrew/sbin",
		"/usr/local/bin",
	}

	var existing []string
	for _, dir := range candidates {
		if info, err := os.Stat(dir); err == nil && info.IsDir() {
			existing = append(existing, dir)
		}
	}
	if len(existing) == 0 {
		return systemPath
	}
	return strings.Join(existing, string(os.PathListSeparator)) + string(os.PathListSeparator) + systemPath
}

// buildEnv merges the enriched PATH with the process's base environment and
// the spec's additional entries, with later entries winning on duplicate keys.
func buildEnv(extra []string) []string {
	env := os.Environ()
	filtered := env[:0:0]
	for _, kv := range env {
		if strings.HasPrefix(kv, "PATH=") {
			continue
		}
		filtered = append(filtered, kv)
	}
	filtered = append(filtered, "PATH="+EnrichedPath())
	filtered = append(filtered, extra...)
	return filtered
}

// Spawn starts the subprocess and waits postSpawnCheckDelay to detect an
// immediate failure. On success a Running Process is returned with its
// reader goroutines already started.
func Spawn(spec Spec, log *logger.Logger) (*Process, error) {
	cmd := exec.Command(spec.Command, spec.Args...)
	cmd.Dir = spec.Dir
	cmd.Env = buildEnv(spec.Env)

	stdin, err := cmd.StdinPipe()
	if err != nil {
		return nil, fmt.Errorf("creating stdin pipe: %w", err)
	}
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, fmt.Errorf("creating stdout pipe: %w", err)
	}
	stderr, err := cmd.StderrPipe()
	if err != nil {
		return nil, fmt.Errorf("creating stderr pipe: %w", err)
	}

	p := &Process{
		cmd:        cmd,
		Stdin:      stdin,
		Stdout:     stdout,
		stderr:     stderr,
		StderrTail: newTailBuffer(stderrTailCapacity),
		log:        log.With(zap.String("command", spec.Command)),
		doneCh:     make(chan struct{}),
	}
	p.status.Store(StatusStarting)
	p.exitCode.Store(-1)

	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("starting subprocess %s: %w", spec.Command, err)
	}

	p.wg.Add(2)
	go p.readStderr()
	go p.waitForExit()

	p.markRunning()
	time.Sleep(postSpawnCheckDelay)

	if p.status.Load().(Status) != StatusRunning {
		tail := p.StderrTail.Lines()
		return nil, &SpawnFailedError{ExitStatus: p.ExitCode(), StderrTail: tail}
	}

	return p, nil
}

func (p *Process) readStderr() {
	defer p.wg.Done()
	scanner := bufio.NewScanner(p.stderr)
	for scanner.Scan() {
		line := scanner.Text()
		p.log.Debug("subprocess stderr", zap.String("line", line))
		p.StderrTail.add(line)
	}
}

func (p *Process) waitForExit() {
	defer p.wg.Done()
	err := p.cmd.Wait()
	exitCode := -1
	if p.cmd.ProcessState != nil {
		exitCode = p.cmd.ProcessState.ExitCode()
	}
	p.exitCode.Store(int32(exitCode))

	if p.status.Load().(Status) != StatusStopped {
		if err != nil || exitCode != 0 {
			p.status.Store(StatusError)
		} else {
			p.status.Store(StatusStopped)
		}
	}
	p.once.Do(func() { close(p.doneCh) })
}

// Status returns the current process status.
func (p *Process) Status() Status {
	return p.status.Load().(Status)
}

// markRunning is called by Spawn right after the subprocess starts, before
// the liveness check; an exit observed by waitForExit overwrites it.
func (p *Process) markRunning() { p.status.Store(StatusRunning) }

// ExitCode returns the process exit code, or -1 if not yet exited.
func (p *Process) ExitCode() int { return int(p.exitCode.Load()) }

// Done is closed once the subprocess has exited.
func (p *Process) Done() <-chan struct{} { return p.doneCh }

// Stop terminates the subprocess. Idempotent: stopping an already-stopped
// process is a no-op.
func (p *Process) Stop() error {
	status := p.status.Load().(Status)
	if status == StatusStopped {
		return nil
	}

	p.status.Store(StatusStopped)
	_ = p.Stdin.Close()

	if p.cmd.Process != nil {
		_ = p.cmd.Process.Kill()
	}

	select {
	case <-p.doneCh:
	case <-time.After(5 * time.Second):
		p.log.Warn("subprocess did not exit within grace period after kill")
	}
	return nil
}

// PID returns the OS process id, or 0 if not started.
func (p *Process) PID() int {
	if p.cmd.Process == nil {
		return 0
	}
	return p.cmd.Process.Pid
}
