package quic

import "time"

// RTTEstimator tracks a path's smoothed RTT and RTT variation using the
// exponentially-weighted moving average from RFC 9002 §5.3. Congestion
// control and retransmission scheduling built on top of these measurements
// are out of scope here. Each Path carries one as Path.RTT, and Connection
// uses its own for the draining timer's PTO. Samples arrive only through
// Update or a SentPacketTracker; Connection's ACK handling does not feed
// either estimator.
type RTTEstimator struct {
	hasMeasurement bool

	MinRTT     time.Duration
	LatestRTT  time.Duration
	SmoothedRTT time.Duration
	RTTVar     time.Duration
}

// NewRTTEstimator returns an estimator with no measurements yet.
func NewRTTEstimator() *RTTEstimator {
	return &RTTEstimator{}
}

// Update records a new RTT sample (the time between sending an
// ack-eliciting packet and receiving an acknowledgment for it, minus the
// peer-reported ack delay) per RFC 9002 §5.3.
func (r *RTTEstimator) Update(sample, ackDelay time.Duration) {
	r.LatestRTT = sample

	if !r.hasMeasurement {
		r.hasMeasurement = true
		r.MinRTT = sample
		r.SmoothedRTT = sample
		r.RTTVar = sample / 2
		return
	}

	if sample < r.MinRTT {
		r.MinRTT = sample
	}

	adjusted := sample
	if ackDelay > 0 {
		adjusted = sample - ackDelay
		if adjusted < r.MinRTT {
			adjusted = sample
		}
	}

	rttVarSample := r.SmoothedRTT - adjusted
	if rttVarSample < 0 {
		rttVarSample = -rttVarSample
	}
	r.RTTVar = (3*r.RTTVar + rttVarSample) / 4
	r.SmoothedRTT = (7*r.SmoothedRTT + adjusted) / 8
}

// PTO returns the probe-timeout duration implied by the current estimate:
// smoothed_rtt + max(4*rttvar, 1ms) + max_ack_delay (RFC 9002 §6.2.1).
func (r *RTTEstimator) PTO(maxAckDelay time.Duration) time.Duration {
	variation := 4 * r.RTTVar
	if variation < time.Millisecond {
		variation = time.Millisecond
	}
	return r.SmoothedRTT + variation + maxAckDelay
}

// SentPacketTracker records outstanding ack-eliciting packets by packet
// number and their send time, feeding RTT samples into an RTTEstimator
// when the corresponding ACK arrives. It deliberately does not implement
// retransmission scheduling or a congestion window.
type SentPacketTracker struct {
	sentAt map[uint64]time.Time
	rtt    *RTTEstimator
}

// NewSentPacketTracker returns a tracker feeding rtt.
func NewSentPacketTracker(rtt *RTTEstimator) *SentPacketTracker {
	return &SentPacketTracker{sentAt: make(map[uint64]time.Time), rtt: rtt}
}

// RecordSent notes that an ack-eliciting packet with the given number was
// sent at sentTime.
func (t *SentPacketTracker) RecordSent(pn uint64, sentTime time.Time) {
	t.sentAt[pn] = sentTime
}

// RecordAcked consumes the send-time record for the largest newly-acked
// packet number and feeds an RTT sample, if one is available. ackTime is
// when the ACK was processed and ackDelay is the peer-reported,
// exponent-decoded ack delay.
func (t *SentPacketTracker) RecordAcked(pn uint64, ackTime time.Time, ackDelay time.Duration) {
	sentTime, ok := t.sentAt[pn]
	if !ok {
		return
	}
	delete(t.sentAt, pn)
	t.rtt.Update(ackTime.Sub(sentTime), ackDelay)
}

// Forget discards a packet number without feeding an RTT sample (used for
// packets later found to be lost rather than acknowledged).
func (t *SentPacketTracker) Forget(pn uint64) {
	delete(t.sentAt, pn)
}
