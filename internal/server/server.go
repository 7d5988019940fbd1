package server

import (
	"net"
	"os"
	"sync/atomic"
	"time"

	log "github.com/hashicorp/go-hclog"
)

// Server owns the listening socket, the shared snapshot holder, and
// hands each accepted connection to its own worker goroutine (C7, §5).
type Server struct {
	SocketPath string
	Opts       Options
	Logger     log.Logger

	// OnReady, if set, is called once the socket is listening and
	// chmod'd, right before the accept loop starts.
	OnReady func()

	holder *SnapshotHolder
	nextID atomic.Uint64
}

// New builds a Server. dirConfigs is DIR_CONFIGS, the run-template
// directory loaded into the shared Snapshot; opts.AllowDir is the
// separate DIR_ALLOWS policy directory the auth challenge reads.
// minReloadInterval defaults to 15s per §4.6 when zero is passed.
func New(socketPath, dirConfigs string, opts Options, minReloadInterval time.Duration, logger log.Logger) *Server {
	if logger == nil {
		logger = log.NewNullLogger()
	}
	if minReloadInterval <= 0 {
		minReloadInterval = 15 * time.Second
	}
	return &Server{
		SocketPath: socketPath,
		Opts:       opts,
		Logger:     logger.Named("server"),
		holder:     NewSnapshotHolder(dirConfigs, minReloadInterval, logger),
	}
}

// Serve listens on SocketPath (mode 0666, §6) and accepts connections
// until the listener is closed.
func (s *Server) Serve() error {
	os.Remove(s.SocketPath)
	ln, err := net.Listen("unix", s.SocketPath)
	if err != nil {
		return err
	}
	defer ln.Close()
	if err := os.Chmod(s.SocketPath, 0666); err != nil {
		return err
	}
	defer s.holder.Close()

	s.Logger.Info("listening", "socket", s.SocketPath)
	if s.OnReady != nil {
		s.OnReady()
	}
	for {
		nc, err := ln.Accept()
		if err != nil {
			return err
		}
		id := s.nextID.Add(1)
		snap := s.holder.Current()
		go serveConn(id, nc, snap, s.holder, s.Opts, s.Logger)
	}
}
