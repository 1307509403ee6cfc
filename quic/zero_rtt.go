package quic

import (
	"crypto/rand"
	"errors"
	"sync"
	"time"
)

// 0-RTT / early-data bookkeeping (RFC 9001 §4.6, RFC 9000 §7.4.1). Whether
// to accept early data is a host decision, left to replay-protection policy
// outside this package; this file only implements the mechanism the host's
// decision acts on: caching tickets, deriving early-data keys, and
// tracking how much early data has gone out.

var (
	ErrNoSessionTicket     = errors.New("quic: no session ticket available")
	ErrEarlyDataRejected   = errors.New("quic: early data was rejected by the peer")
	ErrEarlyDataNotEnabled = errors.New("quic: 0-RTT not enabled for this connection")
	ErrEarlyDataTooLarge   = errors.New("quic: early data exceeds the ticket's max_early_data_size")
)

// SessionTicket is the client-side record of a previous connection's TLS
// session ticket, kept long enough to attempt 0-RTT on a later connection
// to the same server.
type SessionTicket struct {
	Ticket []byte

	CipherSuite        CipherSuite
	EarlyTrafficSecret []byte

	TransportParams *TransportParameters

	ServerName       string
	ReceivedAt       time.Time
	MaxEarlyDataSize uint32
}

// SessionCache stores session tickets per server name for later 0-RTT
// attempts. Eviction is FIFO by receipt time once the cache is full.
type SessionCache struct {
	mu      sync.RWMutex
	tickets map[string]*SessionTicket
	maxSize int
}

// NewSessionCache returns an empty cache holding at most maxSize tickets.
func NewSessionCache(maxSize int) *SessionCache {
	if maxSize <= 0 {
		maxSize = 100
	}
	return &SessionCache{tickets: make(map[string]*SessionTicket), maxSize: maxSize}
}

// Put stores ticket under serverName, evicting the oldest entry if full.
func (sc *SessionCache) Put(serverName string, ticket *SessionTicket) {
	sc.mu.Lock()
	defer sc.mu.Unlock()

	if _, exists := sc.tickets[serverName]; !exists && len(sc.tickets) >= sc.maxSize {
		var oldest string
		var oldestTime time.Time
		first := true
		for name, t := range sc.tickets {
			if first || t.ReceivedAt.Before(oldestTime) {
				oldest, oldestTime, first = name, t.ReceivedAt, false
			}
		}
		delete(sc.tickets, oldest)
	}
	sc.tickets[serverName] = ticket
}

// sessionTicketLifetime is how long a cached ticket remains eligible for
// 0-RTT before Get treats it as expired (a conservative bound; the server's
// own ticket lifetime from NewSessionTicket may be shorter).
const sessionTicketLifetime = 7 * 24 * time.Hour

// Get returns the cached ticket for serverName, or ErrNoSessionTicket if
// there is none, it has expired, or it carries no early-data allowance.
func (sc *SessionCache) Get(serverName string) (*SessionTicket, error) {
	sc.mu.RLock()
	defer sc.mu.RUnlock()

	ticket, ok := sc.tickets[serverName]
	if !ok {
		return nil, ErrNoSessionTicket
	}
	if time.Since(ticket.ReceivedAt) > sessionTicketLifetime {
		return nil, ErrNoSessionTicket
	}
	if ticket.MaxEarlyDataSize == 0 {
		return nil, ErrNoSessionTicket
	}
	return ticket, nil
}

// Remove discards the cached ticket for serverName, e.g. after the server
// rejects an early-data attempt built from it.
func (sc *SessionCache) Remove(serverName string) {
	sc.mu.Lock()
	defer sc.mu.Unlock()
	delete(sc.tickets, serverName)
}

// EarlyDataState tracks one connection's 0-RTT attempt: the ticket it is
// built on, the early-data keys derived from it, and how much has been
// sent so far relative to the ticket's allowance.
type EarlyDataState struct {
	mu sync.RWMutex

	ticket   *SessionTicket
	keys     *KeySet
	sent     uint64
	accepted bool
	rejected bool
}

// NewEarlyDataState returns 0-RTT state derived from ticket, deriving the
// early-data KeySet immediately so it is ready the moment the caller wants
// to send 0-RTT packets.
func NewEarlyDataState(ticket *SessionTicket) (*EarlyDataState, error) {
	if ticket == nil {
		return nil, ErrNoSessionTicket
	}
	keys, err := deriveKeySet(ticket.EarlyTrafficSecret, EncryptionLevelEarlyData, ticket.CipherSuite)
	if err != nil {
		return nil, err
	}
	return &EarlyDataState{ticket: ticket, keys: keys}, nil
}

// CanSend reports whether n more bytes of early data would still fit under
// the ticket's max_early_data_size and the attempt has not been rejected.
func (e *EarlyDataState) CanSend(n uint64) bool {
	e.mu.RLock()
	defer e.mu.RUnlock()
	if e.rejected {
		return false
	}
	return e.sent+n <= uint64(e.ticket.MaxEarlyDataSize)
}

// RecordSent accounts for n bytes of early data having been queued.
func (e *EarlyDataState) RecordSent(n uint64) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.sent += n
}

// Accept marks the peer as having accepted early data (RFC 9001 §4.6.1).
// Nothing in this package calls it: TLSHandler reports only rejection, via
// Reject.
func (e *EarlyDataState) Accept() {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.accepted = true
}

// Reject marks early data as rejected and discards its keys; any 0-RTT
// data already queued must be retransmitted at 1-RTT instead once the
// handshake completes.
func (e *EarlyDataState) Reject() {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.rejected = true
	e.keys = nil
}

// Accepted reports whether the peer accepted early data.
func (e *EarlyDataState) Accepted() bool {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.accepted
}

// Rejected reports whether the peer rejected early data.
func (e *EarlyDataState) Rejected() bool {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.rejected
}

// Keys returns the derived early-data KeySet, or nil if rejected.
func (e *EarlyDataState) Keys() *KeySet {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.keys
}

// NewSessionTicket builds a session ticket a server can hand a client after
// a completed handshake, carrying the negotiated cipher suite and this
// connection's transport parameters so the client can size a future
// 0-RTT attempt against them.
func NewSessionTicket(conn *Connection, suite CipherSuite, earlyTrafficSecret []byte, maxEarlyDataSize uint32) (*SessionTicket, error) {
	ticketData := make([]byte, 32)
	if _, err := rand.Read(ticketData); err != nil {
		return nil, err
	}
	return &SessionTicket{
		Ticket:             ticketData,
		CipherSuite:        suite,
		EarlyTrafficSecret: earlyTrafficSecret,
		TransportParams:    conn.localParams,
		ReceivedAt:         now(),
		MaxEarlyDataSize:   maxEarlyDataSize,
	}, nil
}
