package quic

import "sync"

// StreamManager owns a connection's stream table and enforces stream-ID
// allocation and concurrency limits (RFC 9000 §2.1, §4.6).
type StreamManager struct {
	mu      sync.RWMutex
	streams map[uint64]*Stream
	conn    *Connection
	isClient bool

	// Local allocation counters, one per (initiator=local, direction)
	// class, advancing in steps of 4.
	nextBidi uint64
	nextUni  uint64

	// Highest peer-initiated stream ID opened so far, per class; used to
	// detect and auto-open skipped lower-numbered streams.
	highestPeerBidi int64
	highestPeerUni  int64

	// Limits on streams this endpoint may open, advertised by the peer.
	peerMaxStreamsBidi uint64
	peerMaxStreamsUni  uint64

	// Limits on streams the peer may open, advertised by us.
	localMaxStreamsBidi uint64
	localMaxStreamsUni  uint64

	defaultSendMaxData uint64
	defaultRecvMaxData uint64
}

func newStreamManager(conn *Connection, isClient bool, localMaxBidi, localMaxUni, defaultSendMaxData, defaultRecvMaxData uint64) *StreamManager {
	sm := &StreamManager{
		streams:             make(map[uint64]*Stream),
		conn:                conn,
		isClient:            isClient,
		highestPeerBidi:     -1,
		highestPeerUni:      -1,
		localMaxStreamsBidi: localMaxBidi,
		localMaxStreamsUni:  localMaxUni,
		defaultSendMaxData:  defaultSendMaxData,
		defaultRecvMaxData:  defaultRecvMaxData,
	}
	var initiatorBit uint64
	if !isClient {
		initiatorBit = streamIDInitiatorServer
	}
	sm.nextBidi = initiatorBit
	sm.nextUni = initiatorBit | streamIDDirectionUni
	return sm
}

// OpenStream allocates the next local stream ID of the requested direction,
// failing with STREAM_LIMIT_ERROR if the peer-advertised limit for that
// class has been reached.
func (sm *StreamManager) OpenStream(bidirectional bool) (*Stream, error) {
	sm.mu.Lock()
	defer sm.mu.Unlock()

	var id uint64
	if bidirectional {
		id = sm.nextBidi
		if id/4 >= sm.peerMaxStreamsBidi {
			return nil, NewTransportError(ErrStreamLimitError, "bidirectional stream limit exceeded", nil)
		}
		sm.nextBidi += 4
	} else {
		id = sm.nextUni
		if id/4 >= sm.peerMaxStreamsUni {
			return nil, NewTransportError(ErrStreamLimitError, "unidirectional stream limit exceeded", nil)
		}
		sm.nextUni += 4
	}

	s := newStream(id, sm.conn, sm.defaultSendMaxData, sm.defaultRecvMaxData)
	s.send = SendStateReady
	sm.streams[id] = s
	return s, nil
}

// AcceptPeerStream returns the stream for a peer-initiated id, creating it
// (and any lower-numbered streams of the same class that were implicitly
// opened, per RFC 9000 §2.1) on first reference. A stream ID whose
// initiator bit claims the local role but that this manager never created
// is a STREAM_STATE_ERROR.
func (sm *StreamManager) AcceptPeerStream(id uint64) (*Stream, error) {
	sm.mu.Lock()
	defer sm.mu.Unlock()

	localInitiatorBit := uint64(0)
	if !sm.isClient {
		localInitiatorBit = streamIDInitiatorServer
	}

	if id&streamIDInitiatorServer == localInitiatorBit {
		s, ok := sm.streams[id]
		if !ok {
			return nil, NewTransportError(ErrStreamStateError, "reference to a locally-numbered stream that was never opened", nil)
		}
		return s, nil
	}

	bidi := id&streamIDDirectionUni == 0
	classID := id / 4

	var highest *int64
	var limit uint64
	if bidi {
		highest = &sm.highestPeerBidi
		limit = sm.localMaxStreamsBidi
	} else {
		highest = &sm.highestPeerUni
		limit = sm.localMaxStreamsUni
	}

	if int64(classID) > *highest {
		if classID >= limit {
			return nil, NewTransportError(ErrStreamLimitError, "peer exceeded advertised stream limit", nil)
		}
		initiatorBit := id & streamIDInitiatorServer
		directionBit := id & streamIDDirectionUni
		for c := *highest + 1; c <= int64(classID); c++ {
			sid := uint64(c)*4 | initiatorBit | directionBit
			if _, exists := sm.streams[sid]; !exists {
				ns := newStream(sid, sm.conn, sm.defaultSendMaxData, sm.defaultRecvMaxData)
				ns.send = SendStateReady
				sm.streams[sid] = ns
			}
		}
		*highest = int64(classID)
	}

	s, ok := sm.streams[id]
	if !ok {
		return nil, NewTransportError(ErrStreamStateError, "stream not found after implicit open", nil)
	}
	return s, nil
}

// Get returns an existing stream by ID, or nil if it has not been opened.
func (sm *StreamManager) Get(id uint64) *Stream {
	sm.mu.RLock()
	defer sm.mu.RUnlock()
	return sm.streams[id]
}

// Remove drops a stream from the table. It does not check whether either
// half of the stream has closed.
func (sm *StreamManager) Remove(id uint64) {
	sm.mu.Lock()
	defer sm.mu.Unlock()
	delete(sm.streams, id)
}

// UpdateMaxStreams raises the limit on streams this endpoint may open, as
// advertised by the peer via MAX_STREAMS.
func (sm *StreamManager) UpdateMaxStreams(maxStreams uint64, bidirectional bool) {
	sm.mu.Lock()
	defer sm.mu.Unlock()
	if bidirectional {
		if maxStreams > sm.peerMaxStreamsBidi {
			sm.peerMaxStreamsBidi = maxStreams
		}
	} else {
		if maxStreams > sm.peerMaxStreamsUni {
			sm.peerMaxStreamsUni = maxStreams
		}
	}
}

// All returns every stream currently tracked, in no particular order.
func (sm *StreamManager) All() []*Stream {
	sm.mu.RLock()
	defer sm.mu.RUnlock()
	out := make([]*Stream, 0, len(sm.streams))
	for _, s := range sm.streams {
		out = append(out, s)
	}
	return out
}
