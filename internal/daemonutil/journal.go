package daemonutil

import (
	"io"

	"github.com/coreos/go-systemd/v22/journal"
)

// journalWriter adapts hclog's io.Writer sink to journal.Send. The
// hclog level prefix in each text line is not parsed here, so every
// line is sent at priority INFO; severity still shows up in the line's
// own "[WARN]" etc prefix. Good enough for a daemon whose structured
// detail lives in the message itself.
type journalWriter struct{}

func (journalWriter) Write(p []byte) (int, error) {
	if err := journal.Send(string(p), journal.PriInfo, nil); err != nil {
		return 0, err
	}
	return len(p), nil
}

// JournalSinkIfAvailable returns an io.Writer that forwards to the
// systemd journal when running under it, or nil otherwise so callers
// fall back to stderr.
func JournalSinkIfAvailable() io.Writer {
	if !journal.Enabled() {
		return nil
	}
	return journalWriter{}
}
