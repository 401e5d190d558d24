// Package supervisor runs at most one external mining process per coin,
// streams its output and reports how it ended.
package supervisor

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"sync"
	"time"

	"web3-gateway-go/internal/events"
	"web3-gateway-go/internal/metrics"
	"web3-gateway-go/internal/recovery"
	"web3-gateway-go/internal/registry"
)

// State 挖矿任务状态机
type State string

const (
	StateIdle     State = "idle"
	StateStarting State = "starting"
	StateRunning  State = "running"
	StateStopping State = "stopping"
	StateStopped  State = "stopped"
	StateCrashed  State = "crashed"
)

// Active reports whether the state blocks a new start.
func (s State) Active() bool {
	return s == StateStarting || s == StateRunning || s == StateStopping
}

const (
	DefaultGrace       = 5 * time.Second
	DefaultOutputLines = 200
	maxLineLength      = 1 << 20
)

// ConfigSource is the part of the registry the supervisor reads.
type ConfigSource interface {
	MiningConfig(coin string) (registry.MiningConfig, bool)
	MiningCoins() []string
}

// Session describes one finished mining process.
type Session struct {
	Coin      string    `db:"coin" json:"coin"`
	PID       int       `db:"pid" json:"pid"`
	Command   string    `db:"command" json:"command"`
	StartedAt time.Time `db:"started_at" json:"started_at"`
	EndedAt   time.Time `db:"ended_at" json:"ended_at"`
	ExitCode  int       `db:"exit_code" json:"exit_code"`
	Manual    bool      `db:"manual" json:"manual"`
	Forced    bool      `db:"forced" json:"forced"`
}

// SessionRecorder persists finished sessions. Optional.
type SessionRecorder interface {
	RecordSession(ctx context.Context, s Session) error
}

// MiningJob is the supervised lifecycle of one process. Fields are guarded by
// the owning Supervisor's mutex.
type MiningJob struct {
	Config    registry.MiningConfig
	State     State
	PID       int
	StartedAt time.Time
	Command   []string

	proc   Process
	output *RingBuffer
	manual bool
	forced bool
	done   chan struct{}
}

// ExitInfo summarises how the previous process of a coin ended.
type ExitInfo struct {
	State    State     `json:"state"`
	ExitCode int       `json:"exit_code"`
	Manual   bool      `json:"manual"`
	Forced   bool      `json:"forced,omitempty"`
	EndedAt  time.Time `json:"ended_at"`
	Error    string    `json:"error,omitempty"`
}

// Status is the externally visible view of a coin's mining job.
type Status struct {
	Coin        string        `json:"coin"`
	State       State         `json:"state"`
	PID         int           `json:"pid,omitempty"`
	StartedAt   *time.Time    `json:"started_at,omitempty"`
	Uptime      time.Duration `json:"uptime_ns,omitempty"`
	Algorithm   string        `json:"algorithm,omitempty"`
	PrimaryPool string        `json:"primary_pool,omitempty"`
	BackupPools []string      `json:"backup_pools,omitempty"`
	LastExit    *ExitInfo     `json:"last_exit,omitempty"`
}

// Options 进程管理器配置
type Options struct {
	Finder      Finder
	Launcher    Launcher
	Grace       time.Duration
	OutputLines int
	Recorder    SessionRecorder
	Logger      *slog.Logger
}

type lastRun struct {
	exit   ExitInfo
	output *RingBuffer
}

// Supervisor owns every mining process handle. Lifecycle operations on the
// same coin are serialized; operations on different coins are independent.
type Supervisor struct {
	configs   ConfigSource
	publisher events.Publisher
	finder    Finder
	launcher  Launcher
	grace     time.Duration
	lines     int
	recorder  SessionRecorder
	logger    *slog.Logger
	metrics   *metrics.Metrics
	now       func() time.Time

	mu      sync.Mutex
	jobs    map[string]*MiningJob
	last    map[string]lastRun
	opLocks map[string]*sync.Mutex
}

func New(configs ConfigSource, publisher events.Publisher, opts Options) *Supervisor {
	if opts.Launcher == nil {
		opts.Launcher = ExecLauncher{}
	}
	if opts.Grace <= 0 {
		opts.Grace = DefaultGrace
	}
	if opts.OutputLines <= 0 {
		opts.OutputLines = DefaultOutputLines
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	if len(opts.Finder.Paths) == 0 && len(opts.Finder.Names) == 0 {
		opts.Finder = Finder{Paths: DefaultMinerPaths, Names: []string{"miner"}}
	}
	return &Supervisor{
		configs:   configs,
		publisher: publisher,
		finder:    opts.Finder,
		launcher:  opts.Launcher,
		grace:     opts.Grace,
		lines:     opts.OutputLines,
		recorder:  opts.Recorder,
		logger:    opts.Logger,
		metrics:   metrics.Get(),
		now:       time.Now,
		jobs:      make(map[string]*MiningJob),
		last:      make(map[string]lastRun),
		opLocks:   make(map[string]*sync.Mutex),
	}
}

func (s *Supervisor) opLock(coin string) *sync.Mutex {
	s.mu.Lock()
	defer s.mu.Unlock()
	l, ok := s.opLocks[coin]
	if !ok {
		l = &sync.Mutex{}
		s.opLocks[coin] = l
	}
	return l
}

// Start spawns the miner for coin.
func (s *Supervisor) Start(coin string) (Status, error) {
	lock := s.opLock(coin)
	lock.Lock()
	defer lock.Unlock()

	s.mu.Lock()
	if job, ok := s.jobs[coin]; ok && job.State.Active() {
		s.mu.Unlock()
		return Status{}, &LifecycleError{Coin: coin, Err: ErrAlreadyRunning}
	}
	s.mu.Unlock()

	cfg, ok := s.configs.MiningConfig(coin)
	if !ok {
		return Status{}, &LifecycleError{Coin: coin, Err: ErrConfigMissing}
	}
	path, err := s.finder.Find()
	if err != nil {
		return Status{}, &LifecycleError{Coin: coin, Err: err}
	}

	args := BuildArgs(cfg)
	job := &MiningJob{
		Config:  cfg,
		State:   StateStarting,
		Command: append([]string{path}, args...),
		output:  NewRingBuffer(s.lines),
		done:    make(chan struct{}),
	}
	s.mu.Lock()
	s.jobs[coin] = job
	s.mu.Unlock()

	proc, err := s.launcher.Launch(path, args)
	if err != nil {
		s.mu.Lock()
		if s.jobs[coin] == job {
			delete(s.jobs, coin)
		}
		s.mu.Unlock()
		s.logger.Error("mining_process_spawn_failed",
			slog.String("coin", coin),
			slog.String("path", path),
			slog.String("error", err.Error()))
		return Status{}, fmt.Errorf("spawn miner for %s: %w", coin, err)
	}

	s.mu.Lock()
	job.proc = proc
	job.PID = proc.Pid()
	job.StartedAt = s.now()
	job.State = StateRunning
	status := s.statusLocked(coin)
	s.mu.Unlock()

	s.metrics.MiningStarts.WithLabelValues(coin).Inc()
	s.metrics.MiningRunning.WithLabelValues(coin).Set(1)
	s.logger.Info("mining_process_started",
		slog.String("coin", coin),
		slog.Int("pid", job.PID),
		slog.String("algorithm", cfg.Algorithm),
		slog.String("pool", cfg.PrimaryPool))
	s.publish(events.Event{
		Type: events.ProcessStarted,
		Coin: coin,
		Data: events.ProcessStartedData{PID: job.PID, StartedAt: job.StartedAt, Command: job.Command},
	})

	recovery.Go(s.logger, "supervise_"+coin, func() { s.supervise(coin, job) })
	return status, nil
}

// Stop asks the miner for coin to exit and forces it after the grace window.
// It returns once the process has exited, or when ctx ends first; the
// escalation to a forced kill happens either way.
func (s *Supervisor) Stop(ctx context.Context, coin string) error {
	lock := s.opLock(coin)
	lock.Lock()
	defer lock.Unlock()

	s.mu.Lock()
	job, ok := s.jobs[coin]
	if !ok || job.State != StateRunning {
		s.mu.Unlock()
		return &LifecycleError{Coin: coin, Err: ErrNotRunning}
	}
	job.State = StateStopping
	job.manual = true
	s.mu.Unlock()

	s.logger.Info("mining_process_stopping", slog.String("coin", coin), slog.Int("pid", job.PID))
	if err := job.proc.Terminate(); err != nil {
		s.logger.Warn("mining_process_terminate_failed",
			slog.String("coin", coin),
			slog.String("error", err.Error()))
	}
	recovery.Go(s.logger, "escalate_"+coin, func() { s.escalate(coin, job) })

	select {
	case <-job.done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// escalate kills the process once if it outlives the grace window.
func (s *Supervisor) escalate(coin string, job *MiningJob) {
	timer := time.NewTimer(s.grace)
	defer timer.Stop()
	select {
	case <-job.done:
		return
	case <-timer.C:
	}

	s.mu.Lock()
	job.forced = true
	s.mu.Unlock()
	s.logger.Warn("mining_process_force_kill",
		slog.String("coin", coin),
		slog.Int("pid", job.PID),
		slog.Duration("grace", s.grace))
	if err := job.proc.Kill(); err != nil {
		s.logger.Error("mining_process_kill_failed",
			slog.String("coin", coin),
			slog.String("error", err.Error()))
	}
}

// supervise reaps the process while its output is streamed, then retires the
// job record once both streams have ended.
func (s *Supervisor) supervise(coin string, job *MiningJob) {
	var wg sync.WaitGroup
	wg.Add(2)
	go s.stream(coin, job, "stdout", job.proc.Stdout(), &wg)
	go s.stream(coin, job, "stderr", job.proc.Stderr(), &wg)

	code, waitErr := job.proc.Wait()
	ended := s.now()
	wg.Wait()

	s.mu.Lock()
	final := StateCrashed
	if job.manual {
		final = StateStopped
	}
	job.State = final
	info := ExitInfo{State: final, ExitCode: code, Manual: job.manual, Forced: job.forced, EndedAt: ended}
	if waitErr != nil {
		info.Error = waitErr.Error()
	}
	uptime := ended.Sub(job.StartedAt)
	s.mu.Unlock()

	reason := "crashed"
	if info.Manual {
		reason = "manual"
		s.logger.Info("mining_process_stopped",
			slog.String("coin", coin),
			slog.Int("exit_code", code),
			slog.Bool("forced", info.Forced))
	} else {
		s.logger.Error("mining_process_crashed",
			slog.String("coin", coin),
			slog.Int("pid", job.PID),
			slog.Int("exit_code", code),
			slog.Duration("uptime", uptime))
	}
	s.metrics.MiningExits.WithLabelValues(coin, reason).Inc()
	s.metrics.MiningRunning.WithLabelValues(coin).Set(0)

	s.publish(events.Event{
		Type: events.ProcessStopped,
		Coin: coin,
		Data: events.ProcessStoppedData{
			Manual:   info.Manual,
			ExitCode: code,
			Forced:   info.Forced,
			Uptime:   uptime,
			Error:    info.Error,
		},
	})

	s.mu.Lock()
	if s.jobs[coin] == job {
		delete(s.jobs, coin)
	}
	s.last[coin] = lastRun{exit: info, output: job.output}
	s.mu.Unlock()
	close(job.done)

	s.record(Session{
		Coin:      coin,
		PID:       job.PID,
		Command:   strings.Join(job.Command, " "),
		StartedAt: job.StartedAt,
		EndedAt:   ended,
		ExitCode:  code,
		Manual:    info.Manual,
		Forced:    info.Forced,
	})
}

func (s *Supervisor) stream(coin string, job *MiningJob, name string, r io.Reader, wg *sync.WaitGroup) {
	defer wg.Done()
	recovery.Run(s.logger, "stream_"+coin+"_"+name, func() {
		sc := bufio.NewScanner(r)
		sc.Buffer(make([]byte, 0, 64*1024), maxLineLength)
		for sc.Scan() {
			line := sc.Text()
			job.output.Add(line)
			s.metrics.MiningOutputLines.WithLabelValues(coin).Inc()
			s.publish(events.Event{
				Type: events.ProcessOutput,
				Coin: coin,
				Data: events.ProcessOutputData{Stream: name, Line: line},
			})
		}
		if err := sc.Err(); err != nil && !errors.Is(err, io.ErrClosedPipe) {
			s.logger.Warn("mining_output_read_failed",
				slog.String("coin", coin),
				slog.String("stream", name),
				slog.String("error", err.Error()))
		}
	})
	// keep draining so the child never blocks on a full pipe
	_, _ = io.Copy(io.Discard, r)
}

func (s *Supervisor) record(session Session) {
	if s.recorder == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := s.recorder.RecordSession(ctx, session); err != nil {
		s.metrics.HistoryWriteErrors.Inc()
		s.logger.Warn("mining_session_record_failed",
			slog.String("coin", session.Coin),
			slog.String("error", err.Error()))
	}
}

func (s *Supervisor) publish(ev events.Event) {
	if s.publisher != nil {
		s.publisher.Publish(ev)
	}
}

// Status reports the state of one coin. Coins without a live record are Idle.
func (s *Supervisor) Status(coin string) Status {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.statusLocked(coin)
}

func (s *Supervisor) statusLocked(coin string) Status {
	st := Status{Coin: coin, State: StateIdle}
	if cfg, ok := s.configs.MiningConfig(coin); ok {
		st.Algorithm = cfg.Algorithm
		st.PrimaryPool = cfg.PrimaryPool
		st.BackupPools = cfg.BackupPools
	}
	if last, ok := s.last[coin]; ok {
		exit := last.exit
		st.LastExit = &exit
	}
	job, ok := s.jobs[coin]
	if !ok {
		return st
	}
	st.State = job.State
	st.PID = job.PID
	if !job.StartedAt.IsZero() {
		started := job.StartedAt
		st.StartedAt = &started
		st.Uptime = s.now().Sub(started)
	}
	return st
}

// StatusAll reports every coin that has a mining config.
func (s *Supervisor) StatusAll() []Status {
	coins := s.configs.MiningCoins()
	out := make([]Status, 0, len(coins))
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, coin := range coins {
		out = append(out, s.statusLocked(coin))
	}
	return out
}

// Output returns the buffered output of the live process, or of the last one
// if none is running.
func (s *Supervisor) Output(coin string) []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	if job, ok := s.jobs[coin]; ok {
		return job.output.Lines()
	}
	if last, ok := s.last[coin]; ok {
		return last.output.Lines()
	}
	return nil
}

// Shutdown stops every running miner. Errors are collected, not fatal.
func (s *Supervisor) Shutdown(ctx context.Context) error {
	s.mu.Lock()
	coins := make([]string, 0, len(s.jobs))
	for coin, job := range s.jobs {
		if job.State == StateRunning {
			coins = append(coins, coin)
		}
	}
	s.mu.Unlock()

	var wg sync.WaitGroup
	errs := make([]error, len(coins))
	for i, coin := range coins {
		wg.Add(1)
		go func(i int, coin string) {
			defer wg.Done()
			if err := s.Stop(ctx, coin); err != nil && !errors.Is(err, ErrNotRunning) {
				errs[i] = err
			}
		}(i, coin)
	}
	wg.Wait()
	return errors.Join(errs...)
}
