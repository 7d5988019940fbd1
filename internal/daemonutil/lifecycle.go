// Package daemonutil wires the daemon's own process lifecycle into
// systemd: readiness/watchdog notification and an optional journald
// logging sink, plus a per-instance id stamped into every log line.
package daemonutil

import (
	"time"

	"github.com/coreos/go-systemd/v22/daemon"
	log "github.com/hashicorp/go-hclog"
	uuid "github.com/hashicorp/go-uuid"
)

// InstanceID generates a fresh per-process id used to tell restarts and
// instances apart in shared logs (connection ids stay the spec's plain
// monotonic integers; this is a separate, log-only identifier).
func InstanceID() string {
	id, err := uuid.GenerateUUID()
	if err != nil {
		return "unknown"
	}
	return id
}

// NotifyReady tells systemd the socket is bound and the accept loop is
// about to start. A no-op outside of systemd (sd_notify returns false,
// nil in that case and is ignored).
func NotifyReady(logger log.Logger) {
	ok, err := daemon.SdNotify(false, daemon.SdNotifyReady)
	if err != nil {
		logger.Warn("sd_notify READY failed", "error", err)
	} else if !ok {
		logger.Debug("not running under systemd notify socket, skipping READY")
	}
}

// WatchdogLoop pings the systemd watchdog at half the configured
// interval until stop is closed. It returns immediately if
// WATCHDOG_USEC is not set (daemon.SdWatchdogEnabled reports 0).
func WatchdogLoop(logger log.Logger, stop <-chan struct{}) {
	interval, err := daemon.SdWatchdogEnabled(false)
	if err != nil || interval == 0 {
		return
	}
	ticker := time.NewTicker(interval / 2)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			if _, err := daemon.SdNotify(false, daemon.SdNotifyWatchdog); err != nil {
				logger.Warn("sd_notify WATCHDOG failed", "error", err)
			}
		case <-stop:
			return
		}
	}
}
