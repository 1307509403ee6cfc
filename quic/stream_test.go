package quic

import (
	"io"
	"testing"
)

func TestStreamIDClassification(t *testing.T) {
	tests := []struct {
		id                   uint64
		wantClientInitiated  bool
		wantBidirectional    bool
	}{
		{0, true, true},
		{1, false, true},
		{2, true, false},
		{3, false, false},
		{4, true, true},
	}
	for _, tt := range tests {
		s := newStream(tt.id, nil, 1<<20, 1<<20)
		if s.IsClientInitiated() != tt.wantClientInitiated {
			t.Fatalf("id %d: IsClientInitiated() = %v, want %v", tt.id, s.IsClientInitiated(), tt.wantClientInitiated)
		}
		if s.IsBidirectional() != tt.wantBidirectional {
			t.Fatalf("id %d: IsBidirectional() = %v, want %v", tt.id, s.IsBidirectional(), tt.wantBidirectional)
		}
	}
}

func TestStreamWriteAndClose(t *testing.T) {
	s := newStream(0, nil, 1<<20, 1<<20)
	s.send = SendStateReady

	n, err := s.Write([]byte("hello"))
	if err != nil {
		t.Fatalf("Write() error = %v", err)
	}
	if n != 5 {
		t.Fatalf("Write() = %d, want 5", n)
	}
	if s.SendState() != SendStateSend {
		t.Fatalf("SendState() = %v, want SendStateSend", s.SendState())
	}

	if err := s.Close(); err != nil {
		t.Fatalf("Close() error = %v", err)
	}
	if s.SendState() != SendStateDataSent {
		t.Fatalf("SendState() = %v, want SendStateDataSent", s.SendState())
	}
	if _, err := s.Write([]byte("x")); err != ErrStreamClosed {
		t.Fatalf("Write() after Close() error = %v, want ErrStreamClosed", err)
	}
}

func TestStreamWriteExceedsFlowControl(t *testing.T) {
	s := newStream(0, nil, 4, 1<<20)
	if _, err := s.Write([]byte("hello")); err == nil {
		t.Fatalf("expected flow-control error writing beyond the limit")
	}
}

func TestStreamHandleInOrderFrameAndRead(t *testing.T) {
	s := newStream(0, nil, 1<<20, 1<<20)

	if err := s.handleStreamFrame(&StreamFrame{StreamID: 0, Offset: 0, Data: []byte("hello ")}); err != nil {
		t.Fatalf("handleStreamFrame() error = %v", err)
	}
	if err := s.handleStreamFrame(&StreamFrame{StreamID: 0, Offset: 6, Data: []byte("world"), Fin: true}); err != nil {
		t.Fatalf("handleStreamFrame() error = %v", err)
	}

	buf := make([]byte, 32)
	n, err := s.Read(buf)
	if err != nil {
		t.Fatalf("Read() error = %v", err)
	}
	if string(buf[:n]) != "hello world" {
		t.Fatalf("Read() = %q, want %q", buf[:n], "hello world")
	}

	n, err = s.Read(buf)
	if n != 0 || err != io.EOF {
		t.Fatalf("Read() after FIN = (%d, %v), want (0, io.EOF)", n, err)
	}
}

func TestStreamHandleOutOfOrderFrameReassembles(t *testing.T) {
	s := newStream(0, nil, 1<<20, 1<<20)

	if err := s.handleStreamFrame(&StreamFrame{StreamID: 0, Offset: 5, Data: []byte("world"), Fin: true}); err != nil {
		t.Fatalf("handleStreamFrame() error = %v", err)
	}
	if err := s.handleStreamFrame(&StreamFrame{StreamID: 0, Offset: 0, Data: []byte("hello")}); err != nil {
		t.Fatalf("handleStreamFrame() error = %v", err)
	}

	buf := make([]byte, 32)
	n, _ := s.Read(buf)
	if string(buf[:n]) != "helloworld" {
		t.Fatalf("Read() = %q, want %q", buf[:n], "helloworld")
	}
}

func TestStreamDataPastFinalSizeIsError(t *testing.T) {
	s := newStream(0, nil, 1<<20, 1<<20)
	if err := s.handleStreamFrame(&StreamFrame{StreamID: 0, Offset: 0, Data: []byte("hi"), Fin: true}); err != nil {
		t.Fatalf("handleStreamFrame() error = %v", err)
	}
	if err := s.handleStreamFrame(&StreamFrame{StreamID: 0, Offset: 2, Data: []byte("!")}); err == nil {
		t.Fatalf("expected FINAL_SIZE_ERROR for data past the established final size")
	}
}

func TestStreamResetSetsReadError(t *testing.T) {
	s := newStream(0, nil, 1<<20, 1<<20)
	if err := s.handleResetStream(&ResetStreamFrame{StreamID: 0, ErrorCode: 7, FinalSize: 0}); err != nil {
		t.Fatalf("handleResetStream() error = %v", err)
	}
	if _, err := s.Read(make([]byte, 10)); err == nil {
		t.Fatalf("expected Read() to surface the reset error")
	}
}
