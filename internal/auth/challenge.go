// Package auth implements the file-permission challenge that proves a
// connected client's identity without the daemon ever reading a uid
// off the socket (C6, §4.5).
package auth

import (
	"fmt"
	"io"
	"os"
	"strings"
	"syscall"

	"golang.org/x/sys/unix"
)

// Outcome is the terminal result of one challenge.
type Outcome int

const (
	Accepted Outcome = iota
	DeniedFailed
	DeniedError
	FailedCopy
)

// Challenge is one per-run token file and its lifecycle.
type Challenge struct {
	Path string
}

// New creates a fresh token file at <tmpDir>/<prefix>-auth-<connID>-<seq>,
// copying the policy file's mode and ownership (§4.5 step 2). The file
// is opened O_NOFOLLOW|O_CLOEXEC so a symlink planted at the token path
// can never redirect the chmod/chown onto another file.
func New(tmpDir, prefix string, connID, seq uint64, policyPath string) (*Challenge, error) {
	path := fmt.Sprintf("%s/%s-auth-%d-%d", tmpDir, prefix, connID, seq)

	info, err := os.Stat(policyPath)
	if err != nil {
		return nil, err
	}
	stat, ok := info.Sys().(*syscall.Stat_t)
	if !ok {
		return nil, fmt.Errorf("auth: policy file %s has no unix stat info", policyPath)
	}

	os.Remove(path)
	fd, err := unix.Open(path, unix.O_CREAT|unix.O_EXCL|unix.O_WRONLY|unix.O_NOFOLLOW|unix.O_CLOEXEC, uint32(info.Mode().Perm()))
	if err != nil {
		return nil, err
	}
	unix.Close(fd)

	if err := os.Chmod(path, info.Mode().Perm()); err != nil {
		os.Remove(path)
		return nil, err
	}
	if err := os.Chown(path, int(stat.Uid), int(stat.Gid)); err != nil {
		os.Remove(path)
		return nil, err
	}

	return &Challenge{Path: path}, nil
}

// Verify opens the token file, reads up to 5 bytes, and accepts any
// content whose trimmed value equals "auth" (§4.5 step 5, §9 auth file
// semantics — the client writes "auth\n" but only a 5-byte trimmed
// comparison is specified, so both "auth" and "auth\n" must pass).
func (c *Challenge) Verify() (Outcome, error) {
	f, err := os.Open(c.Path)
	if err != nil {
		return DeniedError, err
	}
	defer f.Close()

	buf := make([]byte, 5)
	n, err := f.Read(buf)
	if err != nil && err != io.EOF {
		return DeniedError, err
	}
	if strings.TrimSpace(string(buf[:n])) == "auth" {
		return Accepted, nil
	}
	return DeniedFailed, nil
}

// Close removes the token file. Safe to call after Verify has already
// consumed it; a missing file is not an error.
func (c *Challenge) Close() {
	os.Remove(c.Path)
}
