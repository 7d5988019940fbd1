package runner

import (
	"fmt"
	"io"
	"os"
	"os/exec"
	"sync"
	"syscall"

	log "github.com/hashicorp/go-hclog"
)

// Runner owns one child process spawned from a RunCmd: privilege drop,
// optional captured pipes, wait, and clean-hook execution (§4.4).
//
// A Runner guarantees Wait runs exactly once, and that clean hooks run
// even if the owning goroutine is unwinding from a panic — callers
// should `defer r.Close()` right after a successful Start so that
// guarantee holds regardless of how the caller's scope exits (§4.4,
// §9 "panic safety").
type Runner struct {
	cmd      *RunCmd
	topLevel bool
	logger   log.Logger

	proc *exec.Cmd

	Stdin  io.WriteCloser
	Stdout io.ReadCloser
	Stderr io.ReadCloser

	mu     sync.Mutex
	waited bool
	waitErr error
}

// New builds a Runner. topLevel controls whether the child's stdio is
// captured as pipes (the run's own command) or inherited from the
// daemon (a prep/clean inner runner, §4.4 step 2).
func New(cmd *RunCmd, topLevel bool, logger log.Logger) *Runner {
	if logger == nil {
		logger = log.NewNullLogger()
	}
	return &Runner{cmd: cmd, topLevel: topLevel, logger: logger.Named("runner")}
}

// Start runs every Prep command to completion (sequentially, each via
// its own inner Runner), then spawns the main command (§4.4, §9).
func (r *Runner) Start() error {
	for i, p := range r.cmd.Prep {
		pr := New(p, false, r.logger)
		if err := pr.Start(); err != nil {
			return fmt.Errorf("prep[%d]: %w", i, err)
		}
		pr.Wait()
		if err := pr.Err(); err != nil {
			return fmt.Errorf("prep[%d]: %w", i, err)
		}
	}

	proc := exec.Command(r.cmd.Command, r.cmd.Args...)
	proc.SysProcAttr = &syscall.SysProcAttr{
		Credential: &syscall.Credential{
			Uid:    r.cmd.User,
			Gid:    r.cmd.Group,
			Groups: r.cmd.Groups,
		},
	}
	proc.Env = buildEnv(r.cmd.Env)
	if r.cmd.HasWorkingDir {
		proc.Dir = r.cmd.WorkingDir
	}

	if r.topLevel {
		stdin, err := proc.StdinPipe()
		if err != nil {
			return err
		}
		stdout, err := proc.StdoutPipe()
		if err != nil {
			return err
		}
		stderr, err := proc.StderrPipe()
		if err != nil {
			return err
		}
		r.Stdin, r.Stdout, r.Stderr = stdin, stdout, stderr
	} else {
		proc.Stdin = os.Stdin
		proc.Stdout = os.Stdout
		proc.Stderr = os.Stderr
	}

	r.logger.Debug("spawning", "command", r.cmd.Command, "args", r.cmd.Args, "uid", r.cmd.User, "gid", r.cmd.Group)
	if err := proc.Start(); err != nil {
		return err
	}
	r.proc = proc
	return nil
}

// buildEnv materializes the daemon's cleared-then-rebuilt child
// environment (§4.4 step 1): Materialized entries pass through
// verbatim; InheritWithDefault entries prefer the daemon's own
// environment, fall back to the configured default if any, and are
// dropped entirely otherwise.
func buildEnv(entries []EnvEntry) []string {
	out := make([]string, 0, len(entries))
	for _, e := range entries {
		switch e.Kind {
		case EnvMaterialized:
			out = append(out, e.Name+"="+e.Value)
		case EnvInheritWithDefault:
			if v, ok := os.LookupEnv(e.Name); ok {
				out = append(out, e.Name+"="+v)
			} else if e.HasDefault {
				out = append(out, e.Name+"="+e.Default)
			}
		}
	}
	return out
}

// Wait blocks until the child exits, then runs every Clean command in
// order via inner Runners (§4.4 step 4). Wait is idempotent.
func (r *Runner) Wait() {
	r.mu.Lock()
	if r.waited {
		r.mu.Unlock()
		return
	}
	r.waited = true
	r.mu.Unlock()

	if r.proc != nil {
		r.waitErr = r.proc.Wait()
	}

	for i, c := range r.cmd.Clean {
		cr := New(c, false, r.logger)
		if err := cr.Start(); err != nil {
			r.logger.Warn("clean hook failed to start", "index", i, "error", err)
			continue
		}
		cr.Wait()
		if err := cr.Err(); err != nil {
			r.logger.Warn("clean hook exited with error", "index", i, "error", err)
		}
	}
}

// Close ensures Wait has run. Safe to call multiple times and from a
// deferred position, including while unwinding from a panic.
func (r *Runner) Close() {
	r.Wait()
}

// Err returns the main command's wait error, if any, after Wait has run.
func (r *Runner) Err() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.waitErr
}

// Process exposes the underlying *os.Process once Start has succeeded,
// for detach-mode bookkeeping.
func (r *Runner) Process() *os.Process {
	if r.proc == nil {
		return nil
	}
	return r.proc.Process
}
