package supervisor

import (
	"errors"
	"fmt"
	"io"
	"sync"
)

// fakeProcess is an in-memory Process. It exits when terminated unless
// ignoreTerm is set, and always exits when killed.
type fakeProcess struct {
	pid        int
	ignoreTerm bool

	stdoutR, stderrR *io.PipeReader
	stdoutW, stderrW *io.PipeWriter
	exitCh           chan int

	mu    sync.Mutex
	terms int
	kills int
	once  sync.Once
}

func newFakeProcess(pid int) *fakeProcess {
	p := &fakeProcess{pid: pid, exitCh: make(chan int, 1)}
	p.stdoutR, p.stdoutW = io.Pipe()
	p.stderrR, p.stderrW = io.Pipe()
	return p
}

func (p *fakeProcess) Pid() int          { return p.pid }
func (p *fakeProcess) Stdout() io.Reader { return p.stdoutR }
func (p *fakeProcess) Stderr() io.Reader { return p.stderrR }

func (p *fakeProcess) Terminate() error {
	p.mu.Lock()
	p.terms++
	ignore := p.ignoreTerm
	p.mu.Unlock()
	if !ignore {
		p.exit(143)
	}
	return nil
}

func (p *fakeProcess) Kill() error {
	p.mu.Lock()
	p.kills++
	p.mu.Unlock()
	p.exit(-1)
	return nil
}

func (p *fakeProcess) Wait() (int, error) {
	return <-p.exitCh, nil
}

func (p *fakeProcess) exit(code int) {
	p.once.Do(func() {
		_ = p.stdoutW.Close()
		_ = p.stderrW.Close()
		p.exitCh <- code
	})
}

func (p *fakeProcess) println(line string) {
	_, _ = fmt.Fprintln(p.stdoutW, line)
}

func (p *fakeProcess) counts() (terms, kills int) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.terms, p.kills
}

type launch struct {
	path string
	args []string
}

// fakeLauncher hands out fakeProcesses and remembers every launch.
type fakeLauncher struct {
	mu         sync.Mutex
	launches   []launch
	procs      []*fakeProcess
	ignoreTerm bool
	fail       bool
}

func (l *fakeLauncher) Launch(path string, args []string) (Process, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.fail {
		return nil, errors.New("exec format error")
	}
	p := newFakeProcess(1000 + len(l.procs))
	p.ignoreTerm = l.ignoreTerm
	l.launches = append(l.launches, launch{path: path, args: args})
	l.procs = append(l.procs, p)
	return p, nil
}

func (l *fakeLauncher) last() *fakeProcess {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.procs[len(l.procs)-1]
}

func (l *fakeLauncher) count() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.procs)
}
