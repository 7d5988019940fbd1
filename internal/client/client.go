// Package client implements the client-side mirror of the protocol:
// greeting, auth completion, and output-stream demultiplexing (C9).
package client

import (
	"bufio"
	"fmt"
	"io"
	"net"
	"os"
	"strconv"
	"strings"
)

// Client holds one connection to the daemon and the last greeted
// connection id.
type Client struct {
	nc     net.Conn
	r      *bufio.Reader
	ConnID string
}

// Dial connects to the daemon's socket and reads the greeting line.
func Dial(socketPath string) (*Client, error) {
	nc, err := net.Dial("unix", socketPath)
	if err != nil {
		return nil, err
	}
	c := &Client{nc: nc, r: bufio.NewReader(nc)}
	line, err := c.r.ReadString('\n')
	if err != nil {
		nc.Close()
		return nil, fmt.Errorf("client: reading greeting: %w", err)
	}
	c.ConnID = strings.TrimSpace(line)
	if _, err := strconv.ParseUint(c.ConnID, 10, 64); err != nil {
		nc.Close()
		return nil, fmt.Errorf("client: malformed greeting %q: %w", c.ConnID, err)
	}
	return c, nil
}

func (c *Client) Close() error { return c.nc.Close() }

// Raw exposes the connection for binary frame I/O after the line-based
// handshake completes: reads go through the same buffered reader used
// for greeting/response lines (so nothing already buffered is lost),
// writes go straight to the socket.
func (c *Client) Raw() io.ReadWriter { return rawConn{c} }

type rawConn struct{ c *Client }

func (r rawConn) Read(p []byte) (int, error)  { return r.c.r.Read(p) }
func (r rawConn) Write(p []byte) (int, error) { return r.c.nc.Write(p) }

// SendLine writes one newline-terminated command.
func (c *Client) SendLine(line string) error {
	_, err := fmt.Fprintf(c.nc, "%s\n", line)
	return err
}

// ReadLine reads one newline-terminated response line, trimmed.
func (c *Client) ReadLine() (string, error) {
	line, err := c.r.ReadString('\n')
	return strings.TrimRight(line, "\r\n"), err
}

// RunAuthWait drives the auth handshake that follows a `run` request
// that resolved to a known, allowed template: it expects an
// `auth wait PATH` line, writes the literal proof into that file, then
// sends `auth done` and returns the server's verdict line (§4.5).
func (c *Client) RunAuthWait(waitLine string) (string, error) {
	path := strings.TrimSpace(strings.TrimPrefix(waitLine, "auth wait "))
	if err := os.WriteFile(path, []byte("auth\n"), 0o644); err != nil {
		// The server will see an empty/unwritable file and deny; still
		// send auth done so the handshake completes instead of hanging.
		if sendErr := c.SendLine("auth done"); sendErr != nil {
			return "", sendErr
		}
		return c.ReadLine()
	}
	if err := c.SendLine("auth done"); err != nil {
		return "", err
	}
	return c.ReadLine()
}

// DemuxOutput reads binary frames until the end-of-stream byte (`0`)
// and writes stdout/stderr payloads to the given writers (§4.7 C9).
func DemuxOutput(r io.Reader, stdout, stderr io.Writer) error {
	header := make([]byte, 1)
	for {
		if _, err := io.ReadFull(r, header); err != nil {
			return err
		}
		b := header[0]
		if b == 0 {
			return nil
		}
		isStderr := b&0x80 != 0
		length := int(b & 0x7F)
		payload := make([]byte, length)
		if _, err := io.ReadFull(r, payload); err != nil {
			return err
		}
		if isStderr {
			stderr.Write(payload)
		} else {
			stdout.Write(payload)
		}
	}
}

// ForwardStdin copies local stdin to the connection until EOF or error;
// callers run this in its own goroutine during mode=forward-output-input.
func ForwardStdin(stdin io.Reader, w io.Writer) {
	io.Copy(w, stdin)
}
