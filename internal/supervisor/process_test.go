package supervisor

import (
	"bufio"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"web3-gateway-go/internal/registry"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFinderOrder(t *testing.T) {
	dir := t.TempDir()
	first := filepath.Join(dir, "first")
	second := filepath.Join(dir, "second")
	require.NoError(t, os.WriteFile(second, nil, 0o755))

	f := Finder{Paths: []string{first, dir, second}}
	path, err := f.Find()
	require.NoError(t, err)
	assert.Equal(t, second, path, "missing files and directories are skipped")

	require.NoError(t, os.WriteFile(first, nil, 0o755))
	path, err = f.Find()
	require.NoError(t, err)
	assert.Equal(t, first, path)
}

func TestBuildArgsTemplate(t *testing.T) {
	cfg := registry.MiningConfig{
		Algorithm:           "x11",
		PrimaryPool:         "pool:3333",
		WalletAddress:       "Xw",
		PoolPassword:        "c=DASH",
		CommandLineTemplate: []string{"-a", "{algo}", "-o", "{pool}", "-u", "{wallet}.rig1", "-p", "{pass}"},
	}
	assert.Equal(t, []string{"-a", "x11", "-o", "pool:3333", "-u", "Xw.rig1", "-p", "c=DASH"}, BuildArgs(cfg))
}

func TestRingBuffer(t *testing.T) {
	r := NewRingBuffer(3)
	assert.Empty(t, r.Lines())
	r.Add("a")
	r.Add("b")
	assert.Equal(t, []string{"a", "b"}, r.Lines())
	r.Add("c")
	r.Add("d")
	assert.Equal(t, []string{"b", "c", "d"}, r.Lines())
}

func shell(t *testing.T) string {
	t.Helper()
	sh, err := Finder{Paths: []string{"/bin/sh"}}.Find()
	if err != nil {
		t.Skip("no /bin/sh")
	}
	return sh
}

// readAll drains both streams in the background; exec only finishes copying
// once they are read.
func readAll(proc Process) (stdout, stderr func() string) {
	var wg sync.WaitGroup
	var out, errOut []byte
	wg.Add(2)
	go func() { defer wg.Done(); out, _ = io.ReadAll(proc.Stdout()) }()
	go func() { defer wg.Done(); errOut, _ = io.ReadAll(proc.Stderr()) }()
	return func() string { wg.Wait(); return strings.TrimSpace(string(out)) },
		func() string { wg.Wait(); return strings.TrimSpace(string(errOut)) }
}

func TestExecLauncher(t *testing.T) {
	sh := shell(t)

	proc, err := ExecLauncher{}.Launch(sh, []string{"-c", "echo hello; echo oops >&2; exit 3"})
	require.NoError(t, err)
	assert.Greater(t, proc.Pid(), 0)

	stdout, stderr := readAll(proc)
	code, err := proc.Wait()
	require.NoError(t, err)
	assert.Equal(t, 3, code)
	assert.Equal(t, "hello", stdout())
	assert.Equal(t, "oops", stderr())
}

// wrapperScript is a miner launcher script that ignores SIGTERM and keeps a
// child holding its output pipes.
func wrapperScript(t *testing.T) string {
	t.Helper()
	shell(t)
	path := filepath.Join(t.TempDir(), "miner-wrapper")
	script := "#!/bin/sh\ntrap '' TERM\necho ready\nsleep 20\necho done\n"
	require.NoError(t, os.WriteFile(path, []byte(script), 0o755))
	return path
}

func TestExecLauncherKillsWrapperChildren(t *testing.T) {
	// WaitDelay far beyond the test deadline: only a group kill frees the pipes
	proc, err := ExecLauncher{WaitDelay: 30 * time.Second}.Launch(wrapperScript(t), nil)
	require.NoError(t, err)

	sc := bufio.NewScanner(proc.Stdout())
	require.True(t, sc.Scan())
	require.Equal(t, "ready", sc.Text())
	go func() { _, _ = io.Copy(io.Discard, proc.Stdout()) }()
	go func() { _, _ = io.Copy(io.Discard, proc.Stderr()) }()

	exited := make(chan int, 1)
	go func() {
		code, _ := proc.Wait()
		exited <- code
	}()

	require.NoError(t, proc.Terminate())
	select {
	case <-exited:
		t.Fatal("SIGTERM is trapped, the wrapper must still be running")
	case <-time.After(200 * time.Millisecond):
	}

	require.NoError(t, proc.Kill())
	select {
	case code := <-exited:
		assert.Equal(t, -1, code)
	case <-time.After(5 * time.Second):
		t.Fatal("wrapper child kept the process alive after kill")
	}
}
