package quic

import "testing"

func TestFlowControllerRecordSent(t *testing.T) {
	fc := NewFlowController(100)
	if err := fc.RecordSent(40); err != nil {
		t.Fatalf("RecordSent(40) error = %v", err)
	}
	if err := fc.RecordSent(60); err != nil {
		t.Fatalf("RecordSent(60) error = %v", err)
	}
	if fc.DataSent() != 100 {
		t.Fatalf("DataSent() = %d, want 100", fc.DataSent())
	}
	if err := fc.RecordSent(1); err == nil {
		t.Fatalf("expected FLOW_CONTROL_ERROR exceeding max_data")
	}
}

func TestFlowControllerUpdateMaxDataMonotonic(t *testing.T) {
	fc := NewFlowController(100)
	fc.UpdateMaxData(50)
	if fc.MaxData() != 100 {
		t.Fatalf("UpdateMaxData(50) lowered the limit to %d", fc.MaxData())
	}
	fc.UpdateMaxData(100)
	if fc.MaxData() != 100 {
		t.Fatalf("UpdateMaxData(100) changed the limit to %d", fc.MaxData())
	}
	fc.UpdateMaxData(200)
	if fc.MaxData() != 200 {
		t.Fatalf("UpdateMaxData(200) = %d, want 200", fc.MaxData())
	}
}

func TestFlowControllerRecordReceivedExceedsLimit(t *testing.T) {
	fc := NewFlowController(100)
	if err := fc.RecordReceived(0, 100); err != nil {
		t.Fatalf("RecordReceived(0,100) error = %v", err)
	}
	if err := fc.RecordReceived(100, 1); err == nil {
		t.Fatalf("expected FLOW_CONTROL_ERROR for receipt beyond max_data")
	}
}

func TestFlowControllerBlockedSignalFiresOncePerLimit(t *testing.T) {
	fc := NewFlowController(10)
	if err := fc.RecordSent(10); err != nil {
		t.Fatalf("RecordSent(10) error = %v", err)
	}
	if !fc.ShouldSignalBlocked() {
		t.Fatalf("ShouldSignalBlocked() = false, want true at the limit")
	}
	if fc.ShouldSignalBlocked() {
		t.Fatalf("ShouldSignalBlocked() fired twice for the same limit")
	}
	fc.UpdateMaxData(20)
	if fc.ShouldSignalBlocked() {
		t.Fatalf("ShouldSignalBlocked() = true after raising the limit and before exhausting it again")
	}
}

func TestStreamFlowControllerFinalSize(t *testing.T) {
	sfc := NewStreamFlowController(1000)
	if err := sfc.RecordReceived(0, 100, false); err != nil {
		t.Fatalf("RecordReceived() error = %v", err)
	}
	if err := sfc.RecordReceived(100, 50, true); err != nil {
		t.Fatalf("RecordReceived(fin) error = %v", err)
	}
	if err := sfc.RecordReceived(150, 1, false); err == nil {
		t.Fatalf("expected FINAL_SIZE_ERROR for data past the final size")
	}
}

func TestStreamFlowControllerResetDisagreesWithFin(t *testing.T) {
	sfc := NewStreamFlowController(1000)
	if err := sfc.RecordReceived(0, 100, true); err != nil {
		t.Fatalf("RecordReceived(fin) error = %v", err)
	}
	if err := sfc.RecordReset(50); err == nil {
		t.Fatalf("expected FINAL_SIZE_ERROR when RESET_STREAM disagrees with a prior FIN")
	}
	if err := sfc.RecordReset(100); err != nil {
		t.Fatalf("RecordReset(100) error = %v, want nil (agrees with prior FIN)", err)
	}
}
