package client

import (
	"fmt"
	"os/exec"
	"runtime"
	"strings"
	"sync"

	"github.com/google/uuid"
)

// terminalEntry tracks one detached, user-visible shell spawned on behalf of
// an agent's terminal/create request.
type terminalEntry struct {
	cmd      *exec.Cmd
	done     chan struct{}
	exitCode *int
	signal   string
	waitOnce sync.Once
}

// terminalRegistry is the small per-host registry of live terminals the ACP
// client's terminal/create, terminal/kill, and terminal/wait_for_exit
// handlers operate on.
type terminalRegistry struct {
	mu      sync.Mutex
	entries map[string]*terminalEntry
}

func newTerminalRegistry() *terminalRegistry {
	return &terminalRegistry{entries: make(map[string]*terminalEntry)}
}

// shellCommand wraps command+args in the platform shell, per the terminal
// design: "/bin/sh -c" on Unix, "cmd.exe /C" on Windows.
func shellCommand(command string, args []string) (string, []string) {
	full := command
	if len(args) > 0 {
		full = command + " " + strings.Join(args, " ")
	}
	if runtime.GOOS == "windows" {
		return "cmd.exe", []string{"/C", full}
	}
	return "/bin/sh", []string{"-c", full}
}

func (r *terminalRegistry) create(command string, args []string, cwd string) (string, error) {
	shell, shellArgs := shellCommand(command, args)
	cmd := exec.Command(shell, shellArgs...)
	cmd.Dir = cwd

	if err := cmd.Start(); err != nil {
		return "", fmt.Errorf("starting terminal: %w", err)
	}

	entry := &terminalEntry{cmd: cmd, done: make(chan struct{})}
	go func() {
		err := cmd.Wait()
		code := 0
		if cmd.ProcessState != nil {
			code = cmd.ProcessState.ExitCode()
		}
		if err != nil && code == 0 {
			code = -1
		}
		entry.exitCode = &code
		entry.waitOnce.Do(func() { close(entry.done) })
	}()

	id := uuid.NewString()
	r.mu.Lock()
	r.entries[id] = entry
	r.mu.Unlock()
	return id, nil
}

func (r *terminalRegistry) get(id string) (*terminalEntry, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	entry, ok := r.entries[id]
	if !ok {
		return nil, fmt.Errorf("unknown terminal id %q", id)
	}
	return entry, nil
}

func (r *terminalRegistry) kill(id string) error {
	entry, err := r.get(id)
	if err != nil {
		return err
	}
	if entry.cmd.Process == nil {
		return nil
	}
	entry.signal = "killed"
	return entry.cmd.Process.Kill()
}

func (r *terminalRegistry) waitForExit(id string) (*int, string, error) {
	entry, err := r.get(id)
	if err != nil {
		return nil, "", err
	}
	<-entry.done
	return entry.exitCode, entry.signal, nil
}
