package wire

import "testing"

func TestEncodeDecodeFrameRoundTrip(t *testing.T) {
	b, err := EncodeFrame(false, 5)
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	isStderr, n := DecodeFrame(b)
	if isStderr || n != 5 {
		t.Fatalf("got (%v,%d), want (false,5)", isStderr, n)
	}

	b2, err := EncodeFrame(true, 127)
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	isStderr2, n2 := DecodeFrame(b2)
	if !isStderr2 || n2 != 127 {
		t.Fatalf("got (%v,%d), want (true,127)", isStderr2, n2)
	}
}

func TestEncodeFrameRejectsOutOfRange(t *testing.T) {
	if _, err := EncodeFrame(false, 0); err == nil {
		t.Fatalf("expected error for zero-length payload")
	}
	if _, err := EncodeFrame(false, 128); err == nil {
		t.Fatalf("expected error for payload > 127")
	}
}

func TestEndOfStreamNeverProducedByEncode(t *testing.T) {
	for n := 1; n <= MaxFramePayload; n++ {
		b, err := EncodeFrame(false, n)
		if err != nil {
			t.Fatalf("encode(%d): %v", n, err)
		}
		if b == EndOfStream {
			t.Fatalf("encode(%d) produced the end-of-stream byte", n)
		}
		b2, err := EncodeFrame(true, n)
		if err != nil {
			t.Fatalf("encode(%d): %v", n, err)
		}
		if b2 == EndOfStream {
			t.Fatalf("encode(true,%d) produced the end-of-stream byte", n)
		}
	}
}
