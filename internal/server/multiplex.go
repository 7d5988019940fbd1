package server

import (
	"bufio"
	"io"
	"net"
	"sync"
	"time"

	"github.com/dummi26/d26run/internal/runner"
	"github.com/dummi26/d26run/internal/wire"
)

// byteReader forwards one child stream byte-at-a-time into ch, closing
// ch on EOF or any read error (§4.7: "two worker threads, one per
// child stream, each reading one byte at a time").
func byteReader(r io.Reader, ch chan<- byte) {
	defer close(ch)
	buf := make([]byte, 1)
	for {
		n, err := r.Read(buf)
		if n > 0 {
			ch <- buf[0]
		}
		if err != nil {
			return
		}
	}
}

// multiplex drains the stdout/stderr channels into per-direction frames
// on nc until both readers are closed, the child has been reaped, and
// an iteration forwards no bytes (§4.7). When forwardStdin is set, it
// also polls nc (under a short read timeout) and relays bytes into the
// child's stdin.
func multiplex(nc net.Conn, br *bufio.Reader, r *runner.Runner, forwardStdin bool) {
	stdoutCh := make(chan byte, 256)
	stderrCh := make(chan byte, 256)

	var readersDone sync.WaitGroup
	readersDone.Add(2)
	go func() { defer readersDone.Done(); byteReader(r.Stdout, stdoutCh) }()
	go func() { defer readersDone.Done(); byteReader(r.Stderr, stderrCh) }()

	// r.Wait() reaps the child, and os/exec closes the StdoutPipe/
	// StderrPipe read ends as part of that — reading from them after
	// is undefined. So Wait must not run until both byteReaders have
	// already read their pipe to EOF, not just until the child exits.
	reaped := make(chan struct{})
	go func() {
		readersDone.Wait()
		r.Wait()
		close(reaped)
	}()

	var outBuf, errBuf []byte
	stdoutOpen, stderrOpen := true, true
	childReaped := false

	for {
		sentAny := false

		if stdoutOpen {
			outBuf, stdoutOpen = drain(stdoutCh, outBuf, 120)
		}
		if stderrOpen {
			errBuf, stderrOpen = drain(stderrCh, errBuf, 120)
		}

		if len(outBuf) >= 2 {
			sentAny = flushFrame(nc, false, &outBuf) || sentAny
		}
		if len(errBuf) >= 2 {
			sentAny = flushFrame(nc, true, &errBuf) || sentAny
		}

		if !childReaped {
			select {
			case <-reaped:
				childReaped = true
			default:
			}
		}

		if forwardStdin {
			forwardStdinOnce(nc, br, r.Stdin)
		}

		done := !stdoutOpen && !stderrOpen && childReaped && !sentAny
		if done {
			// Flush whatever is left, even a single byte, since no
			// more will ever arrive (§4.7 single-byte deferral only
			// applies while the stream is still open).
			if len(outBuf) > 0 {
				flushFrame(nc, false, &outBuf)
			}
			if len(errBuf) > 0 {
				flushFrame(nc, true, &errBuf)
			}
			break
		}
		if !sentAny {
			time.Sleep(time.Millisecond)
		}
	}

	if r.Stdin != nil {
		r.Stdin.Close()
	}
	nc.Write([]byte{wire.EndOfStream})
}

// drain pulls up to max buffered bytes off ch without blocking,
// appending them to buf. It reports whether the channel is still open.
func drain(ch <-chan byte, buf []byte, max int) ([]byte, bool) {
	for len(buf) < max {
		select {
		case b, ok := <-ch:
			if !ok {
				return buf, false
			}
			buf = append(buf, b)
		default:
			return buf, true
		}
	}
	return buf, true
}

func flushFrame(nc net.Conn, isStderr bool, buf *[]byte) bool {
	if len(*buf) == 0 {
		return false
	}
	for len(*buf) > 0 {
		n := len(*buf)
		if n > wire.MaxFramePayload {
			n = wire.MaxFramePayload
		}
		header, err := wire.EncodeFrame(isStderr, n)
		if err != nil {
			*buf = nil
			return false
		}
		payload := (*buf)[:n]
		if _, err := nc.Write([]byte{header}); err != nil {
			*buf = nil
			return false
		}
		if _, err := nc.Write(payload); err != nil {
			*buf = nil
			return false
		}
		*buf = (*buf)[n:]
	}
	*buf = nil
	return true
}

func forwardStdinOnce(nc net.Conn, br *bufio.Reader, stdin io.WriteCloser) {
	if stdin == nil {
		return
	}
	nc.SetReadDeadline(time.Now().Add(100 * time.Millisecond))
	buf := make([]byte, 120)
	n, _ := br.Read(buf)
	nc.SetReadDeadline(time.Time{})
	if n > 0 {
		stdin.Write(buf[:n])
	}
}
