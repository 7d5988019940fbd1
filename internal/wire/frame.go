// Package wire implements the framed output protocol and the run-line
// option grammar shared by server and client (C7/C8/C9, §4.6-4.7).
package wire

import "fmt"

const (
	// MaxFramePayload is the largest payload a single frame can carry;
	// the top bit of the framing byte is reserved for is_stderr.
	MaxFramePayload = 127

	// EndOfStream is the framing byte value reserved to mark the end
	// of the output stream. It is never a valid header for len>0,
	// since a 0-length payload is never emitted (§8 invariant 7).
	EndOfStream byte = 0
)

// EncodeFrame builds one framing byte for a payload of length n from
// the given stream (stderr or not). n must be in [1,127].
func EncodeFrame(isStderr bool, n int) (byte, error) {
	if n <= 0 || n > MaxFramePayload {
		return 0, fmt.Errorf("wire: frame payload length %d out of range [1,%d]", n, MaxFramePayload)
	}
	var b byte = byte(n)
	if isStderr {
		b |= 0x80
	}
	return b, nil
}

// DecodeFrame splits a framing byte into its is_stderr flag and
// payload length. The caller must check for EndOfStream separately
// before calling DecodeFrame.
func DecodeFrame(b byte) (isStderr bool, length int) {
	return b&0x80 != 0, int(b & 0x7F)
}
