package client

import (
	"bytes"
	"testing"
)

func TestDemuxOutputSplitsStdoutAndStderr(t *testing.T) {
	frames := []byte{
		3, 'h', 'i', '\n', // stdout "hi\n"
		0x80 | 2, 'e', 'r', // stderr "er"
		0,
	}
	var stdout, stderr bytes.Buffer
	if err := DemuxOutput(bytes.NewReader(frames), &stdout, &stderr); err != nil {
		t.Fatalf("DemuxOutput: %v", err)
	}
	if stdout.String() != "hi\n" {
		t.Fatalf("got stdout %q, want %q", stdout.String(), "hi\n")
	}
	if stderr.String() != "er" {
		t.Fatalf("got stderr %q, want %q", stderr.String(), "er")
	}
}

func TestDemuxOutputEmptyStream(t *testing.T) {
	var stdout, stderr bytes.Buffer
	if err := DemuxOutput(bytes.NewReader([]byte{0}), &stdout, &stderr); err != nil {
		t.Fatalf("DemuxOutput: %v", err)
	}
	if stdout.Len() != 0 || stderr.Len() != 0 {
		t.Fatalf("expected no output, got stdout=%q stderr=%q", stdout.String(), stderr.String())
	}
}
