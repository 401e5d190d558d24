package supervisor

import (
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"strings"
	"syscall"
	"time"
)

// Process is one live external process owned by the Supervisor.
type Process interface {
	Pid() int
	Stdout() io.Reader
	Stderr() io.Reader
	// Terminate asks the process to exit.
	Terminate() error
	// Kill forces the process to exit.
	Kill() error
	// Wait blocks until exit. Both output streams reach EOF once it has
	// returned, so it can run while they are still being read.
	Wait() (exitCode int, err error)
}

// Launcher spawns processes.
type Launcher interface {
	Launch(path string, args []string) (Process, error)
}

// DefaultWaitDelay bounds how long output is still drained after the miner
// exits while something it spawned keeps the pipes open.
const DefaultWaitDelay = 2 * time.Second

// ExecLauncher spawns real OS processes, each in its own process group so
// signals also reach children of wrapper scripts.
type ExecLauncher struct {
	Env       []string
	WaitDelay time.Duration
}

func (l ExecLauncher) Launch(path string, args []string) (Process, error) {
	// not CommandContext: the miner outlives the request that started it
	cmd := exec.Command(path, args...)
	cmd.Env = append(os.Environ(), l.Env...)
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}
	cmd.WaitDelay = l.WaitDelay
	if cmd.WaitDelay <= 0 {
		cmd.WaitDelay = DefaultWaitDelay
	}

	// exec copies into these writers; Wait closes them after the copy ends
	stdoutR, stdoutW := io.Pipe()
	stderrR, stderrW := io.Pipe()
	cmd.Stdout = stdoutW
	cmd.Stderr = stderrW
	if err := cmd.Start(); err != nil {
		_ = stdoutW.Close()
		_ = stderrW.Close()
		return nil, err
	}
	return &execProcess{cmd: cmd, stdout: stdoutR, stderr: stderrR, stdoutW: stdoutW, stderrW: stderrW}, nil
}

type execProcess struct {
	cmd     *exec.Cmd
	stdout  io.Reader
	stderr  io.Reader
	stdoutW *io.PipeWriter
	stderrW *io.PipeWriter
}

func (p *execProcess) Pid() int          { return p.cmd.Process.Pid }
func (p *execProcess) Stdout() io.Reader { return p.stdout }
func (p *execProcess) Stderr() io.Reader { return p.stderr }

func (p *execProcess) Terminate() error {
	return p.signal(syscall.SIGTERM)
}

func (p *execProcess) Kill() error {
	return p.signal(syscall.SIGKILL)
}

// signal 发给整个进程组；进程组已不存在时退回到直接子进程
func (p *execProcess) signal(sig syscall.Signal) error {
	if err := syscall.Kill(-p.cmd.Process.Pid, sig); err == nil {
		return nil
	}
	return p.cmd.Process.Signal(sig)
}

func (p *execProcess) Wait() (int, error) {
	err := p.cmd.Wait()
	_ = p.stdoutW.Close()
	_ = p.stderrW.Close()
	if err == nil {
		return 0, nil
	}
	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) {
		// -1 when terminated by a signal
		return exitErr.ExitCode(), nil
	}
	if errors.Is(err, exec.ErrWaitDelay) && p.cmd.ProcessState != nil {
		return p.cmd.ProcessState.ExitCode(), nil
	}
	return -1, err
}

// DefaultMinerPaths 固定的候选安装路径，按顺序查找
var DefaultMinerPaths = []string{
	"/opt/miner/bin/miner",
	"/usr/local/bin/miner",
	"/usr/bin/miner",
	"./miner/miner",
	"./miner",
}

// Finder locates the miner executable.
type Finder struct {
	// Paths are checked in order first.
	Paths []string
	// Names are then resolved through PATH.
	Names []string
}

// Find returns the first candidate that exists and is not a directory.
func (f Finder) Find() (string, error) {
	for _, p := range f.Paths {
		if p == "" {
			continue
		}
		if st, err := os.Stat(p); err == nil && !st.IsDir() {
			return p, nil
		}
	}
	for _, name := range f.Names {
		if p, err := exec.LookPath(name); err == nil {
			return p, nil
		}
	}
	tried := append(append([]string(nil), f.Paths...), f.Names...)
	return "", fmt.Errorf("%w (tried %s)", ErrExecutableNotFound, strings.Join(tried, ", "))
}
