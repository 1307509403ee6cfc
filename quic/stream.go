package quic

import (
	"io"
	"sync"
)

// Stream-ID type bits (RFC 9000 §2.1): bit 0 selects the initiator (client
// or server), bit 1 selects the direction (bidirectional or unidirectional).
const (
	streamIDInitiatorServer = 0x01
	streamIDDirectionUni    = 0x02
)

// StreamType classifies a stream by direction.
type StreamType uint8

const (
	StreamTypeBidirectional StreamType = iota
	StreamTypeUnidirectional
)

// SendState is a stream's send-side state machine (RFC 9000 §3.1).
type SendState uint8

const (
	SendStateReady SendState = iota
	SendStateSend
	SendStateDataSent
	SendStateDataRecvd
	SendStateResetSent
	SendStateResetRecvd
)

// RecvState is a stream's receive-side state machine (RFC 9000 §3.2).
type RecvState uint8

const (
	RecvStateRecv RecvState = iota
	RecvStateSizeKnown
	RecvStateDataRecvd
	RecvStateResetRecvd
	RecvStateDataRead
	RecvStateResetRead
)

// Stream is one QUIC stream: an independently flow-controlled,
// ordered byte pipe multiplexed over a connection (RFC 9000 §2).
type Stream struct {
	id   uint64
	conn *Connection
	typ  StreamType

	sendMu    sync.Mutex
	send      SendState
	sendBuf   []byte
	sendOffset uint64
	sendFC    *FlowController
	resetCode uint64

	recvMu     sync.Mutex
	recv       RecvState
	recvBuf    []byte
	recvOffset uint64
	recvFC     *StreamFlowController
	recvFrames map[uint64][]byte // buffered out-of-order data, keyed by offset
	resetErr   *ApplicationError
}

func newStream(id uint64, conn *Connection, sendMaxData, recvMaxData uint64) *Stream {
	typ := StreamTypeBidirectional
	if id&streamIDDirectionUni != 0 {
		typ = StreamTypeUnidirectional
	}
	return &Stream{
		id:         id,
		conn:       conn,
		typ:        typ,
		sendFC:     NewFlowController(sendMaxData),
		recvFC:     NewStreamFlowController(recvMaxData),
		recvFrames: make(map[uint64][]byte),
	}
}

// ID returns the stream's identifier.
func (s *Stream) ID() uint64 { return s.id }

// Type reports whether the stream is bidirectional or unidirectional.
func (s *Stream) Type() StreamType { return s.typ }

// IsClientInitiated reports whether the client opened this stream.
func (s *Stream) IsClientInitiated() bool { return s.id&streamIDInitiatorServer == 0 }

// IsBidirectional reports whether the stream carries data in both
// directions.
func (s *Stream) IsBidirectional() bool { return s.id&streamIDDirectionUni == 0 }

// SendState returns the stream's current send-side state.
func (s *Stream) SendState() SendState {
	s.sendMu.Lock()
	defer s.sendMu.Unlock()
	return s.send
}

// RecvState returns the stream's current receive-side state.
func (s *Stream) RecvState() RecvState {
	s.recvMu.Lock()
	defer s.recvMu.Unlock()
	return s.recv
}

// Read copies buffered, in-order received data into p.
func (s *Stream) Read(p []byte) (int, error) {
	s.recvMu.Lock()
	defer s.recvMu.Unlock()

	if s.resetErr != nil {
		return 0, s.resetErr
	}
	if len(s.recvBuf) == 0 {
		if s.recv == RecvStateDataRecvd || s.recv == RecvStateDataRead {
			s.recv = RecvStateDataRead
			return 0, io.EOF
		}
		return 0, nil
	}

	n := copy(p, s.recvBuf)
	s.recvBuf = s.recvBuf[n:]
	if len(s.recvBuf) == 0 && s.recv == RecvStateDataRecvd {
		s.recv = RecvStateDataRead
	}
	return n, nil
}

// Write queues p as stream data and advances the send-side state machine.
func (s *Stream) Write(p []byte) (int, error) {
	s.sendMu.Lock()
	defer s.sendMu.Unlock()

	if s.send == SendStateDataSent || s.send == SendStateResetSent || s.send == SendStateResetRecvd {
		return 0, ErrStreamClosed
	}
	if err := s.sendFC.RecordSent(uint64(len(p))); err != nil {
		return 0, err
	}

	frame := &StreamFrame{StreamID: s.id, Offset: s.sendOffset, Data: append([]byte(nil), p...)}
	s.sendOffset += uint64(len(p))
	if s.send == SendStateReady {
		s.send = SendStateSend
	}

	if s.conn != nil {
		s.conn.queueFrame(frame)
	}
	return len(p), nil
}

// Close finishes the send side of the stream with a FIN.
func (s *Stream) Close() error {
	s.sendMu.Lock()
	defer s.sendMu.Unlock()

	if s.send == SendStateDataSent || s.send == SendStateResetSent || s.send == SendStateResetRecvd {
		return nil
	}
	frame := &StreamFrame{StreamID: s.id, Offset: s.sendOffset, Fin: true}
	s.send = SendStateDataSent
	if s.conn != nil {
		s.conn.queueFrame(frame)
	}
	return nil
}

// Reset abandons the send side of the stream, signaling errorCode to the
// peer via RESET_STREAM.
func (s *Stream) Reset(errorCode uint64) error {
	s.sendMu.Lock()
	defer s.sendMu.Unlock()

	if s.send == SendStateResetSent || s.send == SendStateResetRecvd {
		return nil
	}
	s.resetCode = errorCode
	s.send = SendStateResetSent
	frame := &ResetStreamFrame{StreamID: s.id, ErrorCode: errorCode, FinalSize: s.sendOffset}
	if s.conn != nil {
		s.conn.queueFrame(frame)
	}
	return nil
}

// handleStreamFrame applies an incoming STREAM frame, enforcing flow
// control and FINAL_SIZE invariants and reassembling out-of-order data.
func (s *Stream) handleStreamFrame(frame *StreamFrame) error {
	s.recvMu.Lock()
	defer s.recvMu.Unlock()

	if err := s.recvFC.RecordReceived(frame.Offset, uint64(len(frame.Data)), frame.Fin); err != nil {
		return err
	}

	if frame.Offset == s.recvOffset {
		s.recvBuf = append(s.recvBuf, frame.Data...)
		s.recvOffset += uint64(len(frame.Data))
		for {
			data, ok := s.recvFrames[s.recvOffset]
			if !ok {
				break
			}
			delete(s.recvFrames, s.recvOffset)
			s.recvBuf = append(s.recvBuf, data...)
			s.recvOffset += uint64(len(data))
		}
	} else if frame.Offset > s.recvOffset {
		s.recvFrames[frame.Offset] = append([]byte(nil), frame.Data...)
	}

	if frame.Fin {
		finalSize := frame.Offset + uint64(len(frame.Data))
		if s.recv == RecvStateRecv {
			s.recv = RecvStateSizeKnown
		}
		if s.recvOffset >= finalSize {
			s.recv = RecvStateDataRecvd
		}
	}
	return nil
}

// handleResetStream applies an incoming RESET_STREAM frame.
func (s *Stream) handleResetStream(frame *ResetStreamFrame) error {
	s.recvMu.Lock()
	defer s.recvMu.Unlock()

	if err := s.recvFC.RecordReset(frame.FinalSize); err != nil {
		return err
	}
	s.recv = RecvStateResetRecvd
	s.resetErr = &ApplicationError{Code: frame.ErrorCode, Reason: "stream reset by peer"}
	return nil
}

// handleStopSending applies an incoming STOP_SENDING frame by resetting the
// send side with the requested error code.
func (s *Stream) handleStopSending(frame *StopSendingFrame) error {
	return s.Reset(frame.ErrorCode)
}

// updateSendMaxData raises the stream's send-side flow-control limit.
func (s *Stream) updateSendMaxData(maxData uint64) {
	s.sendMu.Lock()
	defer s.sendMu.Unlock()
	s.sendFC.UpdateMaxData(maxData)
}
