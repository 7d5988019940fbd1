package main

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	log "github.com/hashicorp/go-hclog"
	"github.com/spf13/cobra"

	"github.com/dummi26/d26run/internal/config"
	"github.com/dummi26/d26run/internal/daemonutil"
	"github.com/dummi26/d26run/internal/runner"
	"github.com/dummi26/d26run/internal/server"
	"github.com/dummi26/d26run/internal/vars"
)

var (
	socketPath        string
	dirConfigs        string
	dirAllows         string
	tmpDir            string
	tokenPrefix       string
	minReloadInterval time.Duration
	testMode          bool
)

func main() {
	root := &cobra.Command{
		Use:   "d26rund",
		Short: "d26run broker daemon",
		RunE:  runDaemon,
	}
	root.Flags().StringVar(&socketPath, "socket-path", "/tmp/d26run-socket", "unix socket to listen on")
	root.Flags().StringVar(&dirConfigs, "dir-configs", "/etc/d26run/configs/", "run-template directory (DIR_CONFIGS)")
	root.Flags().StringVar(&dirAllows, "dir-allows", "/etc/d26run/allow/", "policy file directory (DIR_ALLOWS)")
	root.Flags().StringVar(&tmpDir, "tmp-dir", "/tmp", "directory for per-run auth token files")
	root.Flags().StringVar(&tokenPrefix, "token-prefix", "d26run", "prefix for auth token file names")
	root.Flags().DurationVar(&minReloadInterval, "min-reload-interval", 15*time.Second, "minimum time between config reloads")
	root.Flags().BoolVar(&testMode, "test-mode", false, "suppress the missing-allow-directory warning; the stale socket is still removed on startup")

	testConfig := &cobra.Command{
		Use:   "test-config PATH [VAR=VALUE ...]",
		Short: "parse and resolve one template file standalone, then exit",
		Args:  cobra.MinimumNArgs(1),
		RunE:  runTestConfig,
	}
	root.AddCommand(testConfig)

	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func newLogger() log.Logger {
	opts := &log.LoggerOptions{
		Name:  "d26rund",
		Level: log.Info,
	}
	if sink := daemonutil.JournalSinkIfAvailable(); sink != nil {
		opts.Output = sink
	}
	return log.New(opts)
}

func runDaemon(cmd *cobra.Command, args []string) error {
	logger := newLogger().With("instance", daemonutil.InstanceID())

	if !testMode && dirAllows == "" {
		logger.Warn("no allow directory configured, no templates will be runnable")
	}

	opts := server.Options{
		AllowDir:    dirAllows,
		TmpDir:      tmpDir,
		TokenPrefix: tokenPrefix,
	}
	srv := server.New(socketPath, dirConfigs, opts, minReloadInterval, logger)
	srv.OnReady = func() { daemonutil.NotifyReady(logger) }

	stop := make(chan struct{})
	defer close(stop)
	go daemonutil.WatchdogLoop(logger, stop)

	return srv.Serve()
}

// runTestConfig implements the test-config flow, supplemented per
// SPEC_FULL.md item 2: parse one file with the same builder the loader
// uses, resolve it with the given VAR=VALUE pairs as inputs and
// connection id 0, then print the result. It is reached as the
// `d26rund test-config PATH [VAR=VALUE ...]` subcommand; there is no
// `--test-config` flag.
func runTestConfig(cmd *cobra.Command, args []string) error {
	path := args[0]
	inputs := map[string]string{}
	for _, kv := range args[1:] {
		name, value, ok := strings.Cut(kv, "=")
		if !ok {
			return fmt.Errorf("malformed VAR=VALUE argument: %q", kv)
		}
		inputs[name] = value
	}

	loader := config.NewLoader(filepath.Dir(path), log.NewNullLogger())
	tmpl, verifyErrs, err := loader.ParseSingleFile(filepath.Base(path))
	for _, e := range verifyErrs {
		fmt.Fprintf(os.Stderr, "verify: %s\n", e.Error())
	}
	if err != nil {
		fmt.Fprintf(os.Stderr, "parse error: %v\n", err)
		os.Exit(1)
	}

	rc, rerrs := runner.Resolve(tmpl, inputs, nil, vars.ConnInfo{ConnID: 0})
	if len(rerrs) > 0 {
		for i, e := range rerrs {
			fmt.Printf("%d: %s\n", i+1, e.Error())
		}
		os.Exit(1)
	}

	fmt.Printf("command: %s\n", rc.Command)
	fmt.Printf("args: %v\n", rc.Args)
	fmt.Printf("uid=%d gid=%d groups=%v\n", rc.User, rc.Group, rc.Groups)
	if rc.HasWorkingDir {
		fmt.Printf("working-dir: %s\n", rc.WorkingDir)
	}
	return nil
}
