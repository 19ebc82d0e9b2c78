package transport

import (
	"bytes"
	"testing"
)

func TestLoopbackPairDeliversBytesAcrossSides(t *testing.T) {
	pd, cp := NewLoopbackPair()

	if _, err := cp.Send([]byte{0x53, 0x01, 0x02}); err != nil {
		t.Fatalf("cp.Send: %v", err)
	}
	buf := make([]byte, 16)
	n, err := pd.Recv(buf)
	if err != nil {
		t.Fatalf("pd.Recv: %v", err)
	}
	if !bytes.Equal(buf[:n], []byte{0x53, 0x01, 0x02}) {
		t.Fatalf("pd received %v, want {0x53,0x01,0x02}", buf[:n])
	}

	if _, err := pd.Send([]byte{0x40}); err != nil {
		t.Fatalf("pd.Send: %v", err)
	}
	n, err = cp.Recv(buf)
	if err != nil {
		t.Fatalf("cp.Recv: %v", err)
	}
	if !bytes.Equal(buf[:n], []byte{0x40}) {
		t.Fatalf("cp received %v, want {0x40}", buf[:n])
	}
}

func TestLoopbackRecvReturnsZeroWhenEmpty(t *testing.T) {
	pd, _ := NewLoopbackPair()
	buf := make([]byte, 8)
	n, err := pd.Recv(buf)
	if err != nil || n != 0 {
		t.Fatalf("Recv on empty pipe = (%d, %v), want (0, nil)", n, err)
	}
}

func TestLoopbackFlushDiscardsUnreadBytes(t *testing.T) {
	pd, cp := NewLoopbackPair()
	if _, err := cp.Send([]byte{0x01, 0x02, 0x03}); err != nil {
		t.Fatalf("cp.Send: %v", err)
	}
	if err := pd.Flush(); err != nil {
		t.Fatalf("pd.Flush: %v", err)
	}
	buf := make([]byte, 8)
	n, _ := pd.Recv(buf)
	if n != 0 {
		t.Fatalf("expected flushed pipe to read 0 bytes, got %d", n)
	}
}
