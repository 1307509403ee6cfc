package quic

import "testing"

func TestPacketNumberSpaceNext(t *testing.T) {
	s := NewPacketNumberSpace()
	for want := uint64(0); want < 5; want++ {
		got, err := s.Next()
		if err != nil {
			t.Fatalf("Next() error = %v", err)
		}
		if got != want {
			t.Fatalf("Next() = %d, want %d", got, want)
		}
	}
}

func TestPacketNumberSpaceExhaustion(t *testing.T) {
	s := NewPacketNumberSpace()
	s.nextToSend = uint64(1)<<62 - 1
	if _, err := s.Next(); err != nil {
		t.Fatalf("Next() at boundary error = %v", err)
	}
	if _, err := s.Next(); err != ErrPacketNumberExhausted {
		t.Fatalf("Next() past boundary error = %v, want ErrPacketNumberExhausted", err)
	}
}

func TestRecordAckedMonotonic(t *testing.T) {
	s := NewPacketNumberSpace()
	s.RecordAcked(5)
	if s.LargestAcked() != 5 {
		t.Fatalf("LargestAcked() = %d, want 5", s.LargestAcked())
	}
	s.RecordAcked(3)
	if s.LargestAcked() != 5 {
		t.Fatalf("LargestAcked() regressed to %d after smaller ack", s.LargestAcked())
	}
	s.RecordAcked(10)
	if s.LargestAcked() != 10 {
		t.Fatalf("LargestAcked() = %d, want 10", s.LargestAcked())
	}
}

func TestRecordReceivedInOrder(t *testing.T) {
	s := NewPacketNumberSpace()
	for _, pn := range []uint64{0, 1, 2, 3} {
		if dup := s.RecordReceived(pn); dup {
			t.Fatalf("RecordReceived(%d) reported duplicate on first sight", pn)
		}
	}
	if s.LargestReceived() != 3 {
		t.Fatalf("LargestReceived() = %d, want 3", s.LargestReceived())
	}
}

func TestRecordReceivedDuplicate(t *testing.T) {
	s := NewPacketNumberSpace()
	s.RecordReceived(5)
	s.RecordReceived(3)
	if dup := s.RecordReceived(3); !dup {
		t.Fatalf("RecordReceived(3) second time reported not-duplicate")
	}
	if dup := s.RecordReceived(5); !dup {
		t.Fatalf("RecordReceived(5) second time reported not-duplicate")
	}
}

func TestRecordReceivedReordered(t *testing.T) {
	s := NewPacketNumberSpace()
	s.RecordReceived(10)
	if dup := s.RecordReceived(7); dup {
		t.Fatalf("RecordReceived(7) reported duplicate on first sight")
	}
	if s.LargestReceived() != 10 {
		t.Fatalf("LargestReceived() = %d, want 10 (reordering must not regress it)", s.LargestReceived())
	}
	if dup := s.RecordReceived(7); !dup {
		t.Fatalf("RecordReceived(7) second time reported not-duplicate")
	}
}

func TestRecordReceivedOutsideWindowTreatedAsDuplicate(t *testing.T) {
	s := NewPacketNumberSpace()
	s.RecordReceived(replayWindowBits + 100)
	if dup := s.RecordReceived(0); !dup {
		t.Fatalf("RecordReceived(0) far outside window should be treated as duplicate")
	}
}

func TestRecordReceivedWindowShiftsPreserveRecent(t *testing.T) {
	s := NewPacketNumberSpace()
	s.RecordReceived(100)
	s.RecordReceived(101)
	s.RecordReceived(165) // shifts window by 64, bit for 101 should land at offset 64
	if dup := s.RecordReceived(101); !dup {
		t.Fatalf("RecordReceived(101) after window shift should still be recognized as duplicate")
	}
	if dup := s.RecordReceived(165); !dup {
		t.Fatalf("RecordReceived(165) second time should be duplicate")
	}
}
