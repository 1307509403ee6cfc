package quic

import (
	"crypto/rand"
	"net"
	"time"
)

// PathState is the validation state of one network path (RFC 9000 §8.2,
// §9).
type PathState uint8

const (
	PathStateUnknown PathState = iota
	PathStateValidating
	PathStateValidated
	PathStateFailed
)

func (s PathState) String() string {
	switch s {
	case PathStateUnknown:
		return "Unknown"
	case PathStateValidating:
		return "Validating"
	case PathStateValidated:
		return "Validated"
	case PathStateFailed:
		return "Failed"
	default:
		return "PathState(?)"
	}
}

// Path tracks one (local, remote) address pair's validation state, RTT
// estimate, and whether it is the connection's primary path.
type Path struct {
	Local  net.Addr
	Remote net.Addr
	State  PathState

	challenge      [8]byte
	hasChallenge   bool
	lastValidated  time.Time
	challengeIssued time.Time

	IsPrimary bool
	RTT       *RTTEstimator
}

// PathValidator tracks every path a connection has observed and mediates
// transitions between them.
type PathValidator struct {
	paths   map[string]*Path
	primary *Path
}

// NewPathValidator returns an empty validator.
func NewPathValidator() *PathValidator {
	return &PathValidator{paths: make(map[string]*Path)}
}

func pathKey(local, remote net.Addr) string {
	l, r := "", ""
	if local != nil {
		l = local.String()
	}
	if remote != nil {
		r = remote.String()
	}
	return l + "|" + r
}

// Path returns the tracked Path for (local, remote), or nil if unknown.
func (v *PathValidator) Path(local, remote net.Addr) *Path {
	return v.paths[pathKey(local, remote)]
}

// Primary returns the current primary path, or nil if none has been set.
func (v *PathValidator) Primary() *Path { return v.primary }

// StartValidation creates (or re-arms) a Validating path with a fresh
// random 8-byte PATH_CHALLENGE payload and returns it.
func (v *PathValidator) StartValidation(local, remote net.Addr) (*Path, error) {
	key := pathKey(local, remote)
	p, ok := v.paths[key]
	if !ok {
		p = &Path{Local: local, Remote: remote, RTT: NewRTTEstimator()}
		v.paths[key] = p
	}

	var challenge [8]byte
	if _, err := rand.Read(challenge[:]); err != nil {
		return nil, err
	}
	p.challenge = challenge
	p.hasChallenge = true
	p.challengeIssued = now()
	p.State = PathStateValidating
	return p, nil
}

// OutstandingChallenge returns the PATH_CHALLENGE payload currently
// awaiting a response on this path.
func (p *Path) OutstandingChallenge() [8]byte { return p.challenge }

// HandlePathResponse processes a PATH_RESPONSE for this path: if its 8
// bytes match the outstanding challenge, the path becomes Validated;
// otherwise the path is left exactly as it was (a mismatched response is
// not itself evidence of failure — it may belong to a different path).
func (p *Path) HandlePathResponse(data [8]byte) {
	if p.hasChallenge && p.State == PathStateValidating && data == p.challenge {
		p.State = PathStateValidated
		p.lastValidated = now()
		p.hasChallenge = false
	}
}

// Timeout transitions a Validating path to Failed. The caller is
// responsible for detecting that the validation deadline passed.
func (p *Path) Timeout() {
	if p.State == PathStateValidating {
		p.State = PathStateFailed
	}
}

// ProcessChallenge records remote as a known path (Unknown if new) and
// returns the PATH_RESPONSE frame that echoes the challenge.
func (v *PathValidator) ProcessChallenge(frame *PathChallengeFrame, local, remote net.Addr) *PathResponseFrame {
	key := pathKey(local, remote)
	if _, ok := v.paths[key]; !ok {
		v.paths[key] = &Path{Local: local, Remote: remote, State: PathStateUnknown, RTT: NewRTTEstimator()}
	}
	return &PathResponseFrame{Data: frame.Data}
}

// Migrate promotes a Validated path to primary, demoting the previous
// primary. Migrating to a path that is not Validated is a no-op.
func (v *PathValidator) Migrate(p *Path) bool {
	if p.State != PathStateValidated {
		return false
	}
	if v.primary != nil {
		v.primary.IsPrimary = false
	}
	p.IsPrimary = true
	v.primary = p
	return true
}

// NeedsRevalidation reports whether a Validated path has gone silent for
// longer than threshold.
func (p *Path) NeedsRevalidation(threshold time.Duration) bool {
	return p.State == PathStateValidated && now().Sub(p.lastValidated) > threshold
}

// now is a seam for deterministic path-validation tests.
var now = time.Now
