package quic

// FlowController tracks a connection- or stream-level flow-control budget
// (RFC 9000 §4). maxData is the current limit advertised by the
// receiver; dataSent/dataReceived are the sender's and receiver's running
// totals respectively. A single instance is used from one side's
// perspective at a time: the sender tracks dataSent against the peer's
// max_data, the receiver tracks dataReceived against its own max_data.
type FlowController struct {
	maxData      uint64
	dataSent     uint64
	dataReceived uint64
	blocked      bool // DATA_BLOCKED / STREAM_DATA_BLOCKED already signaled for the current limit
}

// NewFlowController returns a controller with the given initial limit.
func NewFlowController(initialMaxData uint64) *FlowController {
	return &FlowController{maxData: initialMaxData}
}

// MaxData returns the current flow-control limit.
func (c *FlowController) MaxData() uint64 { return c.maxData }

// DataSent returns the cumulative bytes recorded as sent.
func (c *FlowController) DataSent() uint64 { return c.dataSent }

// DataReceived returns the cumulative bytes recorded as received.
func (c *FlowController) DataReceived() uint64 { return c.dataReceived }

// Available returns how much more may be sent under the current limit.
func (c *FlowController) Available() uint64 {
	if c.dataSent >= c.maxData {
		return 0
	}
	return c.maxData - c.dataSent
}

// CanSend reports whether n additional bytes may be sent without exceeding
// max_data.
func (c *FlowController) CanSend(n uint64) bool {
	return c.dataSent+n <= c.maxData
}

// RecordSent accounts for n bytes sent, failing with FLOW_CONTROL_ERROR if
// doing so would exceed max_data.
func (c *FlowController) RecordSent(n uint64) error {
	if !c.CanSend(n) {
		return NewTransportError(ErrFlowControlError, "send would exceed flow-control limit", nil)
	}
	c.dataSent += n
	return nil
}

// RecordReceived accounts for len bytes arriving at offset, failing with
// FLOW_CONTROL_ERROR if offset+len exceeds max_data.
func (c *FlowController) RecordReceived(offset, length uint64) error {
	end := offset + length
	if end > c.maxData {
		return NewTransportError(ErrFlowControlError, "received data exceeds flow-control limit", nil)
	}
	if end > c.dataReceived {
		c.dataReceived = end
	}
	return nil
}

// UpdateMaxData raises the limit to m. Values at or below the current
// limit are silently ignored (monotonic update rule), and a
// successful raise clears the blocked-signal latch so a future exhaustion
// can be signaled again.
func (c *FlowController) UpdateMaxData(m uint64) {
	if m <= c.maxData {
		return
	}
	c.maxData = m
	c.blocked = false
}

// ShouldSignalBlocked reports whether a DATA_BLOCKED/STREAM_DATA_BLOCKED
// frame should be emitted for the current limit, and latches so the signal
// fires at most once per distinct limit.
func (c *FlowController) ShouldSignalBlocked() bool {
	if c.blocked || c.dataSent < c.maxData {
		return false
	}
	c.blocked = true
	return true
}

// StreamFlowController extends FlowController with the FINAL_SIZE
// bookkeeping a stream's recv side requires.
type StreamFlowController struct {
	FlowController
	finalSize    uint64
	hasFinalSize bool
}

// NewStreamFlowController returns a stream-scoped controller with the given
// initial limit.
func NewStreamFlowController(initialMaxData uint64) *StreamFlowController {
	return &StreamFlowController{FlowController: FlowController{maxData: initialMaxData}}
}

// RecordReceived accounts for length bytes arriving at offset, additionally
// enforcing that no byte arrives past a previously established final size
// (FINAL_SIZE_ERROR).
func (c *StreamFlowController) RecordReceived(offset, length uint64, fin bool) error {
	end := offset + length
	if c.hasFinalSize && end > c.finalSize {
		return NewTransportError(ErrFinalSizeError, "data received beyond established final size", nil)
	}
	if fin {
		if err := c.setFinalSize(end); err != nil {
			return err
		}
	}
	return c.FlowController.RecordReceived(offset, length)
}

// RecordReset applies the final size declared by a RESET_STREAM frame,
// failing with FINAL_SIZE_ERROR if it disagrees with a previously
// established final size.
func (c *StreamFlowController) RecordReset(finalSize uint64) error {
	return c.setFinalSize(finalSize)
}

func (c *StreamFlowController) setFinalSize(size uint64) error {
	if c.hasFinalSize && size != c.finalSize {
		return NewTransportError(ErrFinalSizeError, "final size disagrees with a previously established value", nil)
	}
	c.finalSize = size
	c.hasFinalSize = true
	return nil
}
