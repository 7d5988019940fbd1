package server

import (
	"bufio"
	"fmt"
	"io"
	"net"
	"path/filepath"
	"strings"
	"sync"

	log "github.com/hashicorp/go-hclog"

	"github.com/dummi26/d26run/internal/auth"
	"github.com/dummi26/d26run/internal/config"
	"github.com/dummi26/d26run/internal/runner"
	"github.com/dummi26/d26run/internal/vars"
	"github.com/dummi26/d26run/internal/wire"
)

// Options configures how connections are served; it is the server-side
// counterpart of the filesystem layout in §6. AllowDir is DIR_ALLOWS,
// the policy-file directory the auth challenge reads mode/ownership
// from — distinct from DIR_CONFIGS, the run-template directory the
// SnapshotHolder loads (§6).
type Options struct {
	AllowDir    string
	TmpDir      string
	TokenPrefix string
}

// conn is one accepted connection's worker state (C7). It owns the
// snapshot it was handed at accept time, its own per-connection vars
// map, and a monotonically increasing auth-token sequence number.
type conn struct {
	id     uint64
	nc     net.Conn
	r      *bufio.Reader
	snap   *config.Snapshot
	holder *SnapshotHolder
	opts   Options
	logger log.Logger

	inputs map[string]string
	seq    uint64
}

func serveConn(id uint64, nc net.Conn, snap *config.Snapshot, holder *SnapshotHolder, opts Options, logger log.Logger) {
	if logger == nil {
		logger = log.NewNullLogger()
	}
	c := &conn{
		id:     id,
		nc:     nc,
		r:      bufio.NewReader(nc),
		snap:   snap,
		holder: holder,
		opts:   opts,
		logger: logger.Named("conn").With("conn_id", id),
		inputs: map[string]string{},
	}
	defer nc.Close()

	fmt.Fprintf(nc, "%d\n", id)

	for {
		line, err := c.r.ReadString('\n')
		if line == "" && err != nil {
			return
		}
		line = strings.TrimRight(line, "\r\n")
		if err := c.dispatch(line); err != nil {
			c.logger.Warn("connection ended", "error", err)
			return
		}
		if err != nil {
			return
		}
	}
}

func (c *conn) dispatch(line string) error {
	verb, rest, hasRest := strings.Cut(line, " ")
	switch verb {
	case "list-configs":
		return c.handleListConfigs()
	case "reload-configs":
		return c.handleReloadConfigs()
	case "set-var":
		return c.handleSetVar(rest, hasRest)
	case "run":
		return c.handleRun(rest)
	default:
		return nil // unknown input line: silently ignored (§4.6)
	}
}

func (c *conn) handleListConfigs() error {
	names := make([]string, 0, len(c.snap.Templates))
	for name := range c.snap.Templates {
		names = append(names, name)
	}
	if _, err := fmt.Fprintf(c.nc, "listing configs; count: %d\n", len(names)); err != nil {
		return err
	}
	for _, name := range names {
		t := c.snap.Templates[name]
		allow := ""
		if t.HasAllow {
			allow = t.Allow
		}
		if _, err := fmt.Fprintf(c.nc, "%s\n%s\n", name, allow); err != nil {
			return err
		}
	}
	return nil
}

func (c *conn) handleReloadConfigs() error {
	if c.holder != nil {
		c.holder.RequestReload()
	}
	_, err := fmt.Fprintf(c.nc, "reload-configs requested\n")
	return err
}

func (c *conn) handleSetVar(rest string, hasRest bool) error {
	if !hasRest {
		return nil
	}
	name, value, ok := strings.Cut(rest, " ")
	if !ok {
		return nil
	}
	c.inputs[name] = value
	return nil
}

func (c *conn) handleRun(rest string) error {
	defer func() { c.inputs = map[string]string{} }()

	mode, name, perr := wire.ParseRunLine(rest)
	if perr != nil {
		_, err := fmt.Fprintf(c.nc, "%s\n", perr.Error())
		return err
	}

	tmpl, ok := c.snap.Get(name)
	if !ok {
		_, err := fmt.Fprintf(c.nc, "run unknown\n")
		return err
	}

	if !tmpl.HasAllow {
		_, err := fmt.Fprintf(c.nc, "auth deny error_undefined_allow\n")
		return err
	}

	outcome, err := c.runChallenge(tmpl.Allow)
	if err != nil {
		return err
	}
	if outcome != auth.Accepted {
		return nil
	}

	rc, rerrs := runner.Resolve(tmpl, c.inputs, nil, vars.ConnInfo{ConnID: c.id})
	if len(rerrs) > 0 {
		if _, err := fmt.Fprintf(c.nc, "run error_invalid_config: %d\n", len(rerrs)); err != nil {
			return err
		}
		for _, e := range rerrs {
			msg := e.Error()
			lines := strings.Split(msg, "\n")
			if _, err := fmt.Fprintf(c.nc, "%d\n", len(lines)); err != nil {
				return err
			}
			for _, l := range lines {
				if _, err := fmt.Fprintf(c.nc, "%s\n", l); err != nil {
					return err
				}
			}
		}
		return nil
	}

	if _, err := fmt.Fprintf(c.nc, "run start\n"); err != nil {
		return err
	}

	return c.execute(rc, mode)
}

// runChallenge runs the C6 auth state machine for one run request.
func (c *conn) runChallenge(allowName string) (auth.Outcome, error) {
	c.seq++
	policyPath := filepath.Join(c.opts.AllowDir, allowName)

	ch, err := auth.New(c.opts.TmpDir, c.opts.TokenPrefix, c.id, c.seq, policyPath)
	if err != nil {
		c.logger.Warn("could not copy auth file", "error", err)
		ferr := writeLine(c.nc, "auth fail could_not_copy_auth_file")
		return auth.FailedCopy, ferr
	}
	defer ch.Close()

	if err := writeLine(c.nc, "auth wait "+ch.Path); err != nil {
		return auth.FailedCopy, err
	}

	resp, err := c.r.ReadString('\n')
	if err != nil {
		return auth.FailedCopy, err
	}
	resp = strings.TrimRight(resp, "\r\n")
	if resp != "auth done" {
		if werr := writeLine(c.nc, "unexpected_response auth done"); werr != nil {
			return auth.FailedCopy, werr
		}
		return auth.FailedCopy, nil
	}

	outcome, verr := ch.Verify()
	switch outcome {
	case auth.Accepted:
		return outcome, writeLine(c.nc, "auth accept")
	case auth.DeniedFailed:
		return outcome, writeLine(c.nc, "auth deny failed")
	default:
		msg := ""
		if verr != nil {
			msg = strings.ReplaceAll(verr.Error(), "\n", "\\n")
		}
		return outcome, writeLine(c.nc, "auth deny error "+msg)
	}
}

// discardOutput drains a Runner's stdout and stderr pipes concurrently
// and returns once both have hit EOF. The two streams must be read in
// parallel, not one after the other: a child that fills the stderr
// pipe buffer before closing stdout would otherwise deadlock a caller
// still blocked reading stdout to EOF.
func discardOutput(r *runner.Runner) {
	var wg sync.WaitGroup
	wg.Add(2)
	go func() { defer wg.Done(); io.Copy(io.Discard, r.Stdout) }()
	go func() { defer wg.Done(); io.Copy(io.Discard, r.Stderr) }()
	wg.Wait()
}

func writeLine(w interface{ Write([]byte) (int, error) }, s string) error {
	_, err := fmt.Fprintf(w, "%s\n", s)
	return err
}

// execute runs rc per the requested mode and, for every mode but
// detach, waits for the run to fully finish before returning so the
// connection's command loop stays synchronous (§4.6, §5).
func (c *conn) execute(rc *runner.RunCmd, mode wire.RunMode) error {
	switch mode {
	case wire.ModeDetach:
		r := runner.New(rc, true, c.logger)
		if err := r.Start(); err != nil {
			c.logger.Warn("detached run failed to start", "error", err)
			_, err := c.nc.Write([]byte{wire.EndOfStream})
			return err
		}
		go func() {
			defer r.Close()
			discardOutput(r)
		}()
		_, err := c.nc.Write([]byte{wire.EndOfStream})
		return err

	case wire.ModeWait:
		r := runner.New(rc, true, c.logger)
		if err := r.Start(); err != nil {
			c.logger.Warn("run failed to start", "error", err)
			_, err := c.nc.Write([]byte{wire.EndOfStream})
			return err
		}
		defer r.Close()
		discardOutput(r)
		r.Wait()
		_, err := c.nc.Write([]byte{wire.EndOfStream})
		return err

	case wire.ModeForwardOutput, wire.ModeForwardOutputInput:
		r := runner.New(rc, true, c.logger)
		if err := r.Start(); err != nil {
			c.logger.Warn("run failed to start", "error", err)
			_, err := c.nc.Write([]byte{wire.EndOfStream})
			return err
		}
		defer r.Close()
		multiplex(c.nc, c.r, r, mode == wire.ModeForwardOutputInput)
		return nil

	default:
		_, err := c.nc.Write([]byte{wire.EndOfStream})
		return err
	}
}
