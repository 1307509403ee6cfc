package quic

import (
	"errors"
	"fmt"
)

// Transport error codes (RFC 9000 §20.1).
type ErrorCode uint64

const (
	ErrNoError                ErrorCode = 0x00
	ErrInternalError          ErrorCode = 0x01
	ErrConnectionRefused      ErrorCode = 0x02
	ErrFlowControlError       ErrorCode = 0x03
	ErrStreamLimitError       ErrorCode = 0x04
	ErrStreamStateError       ErrorCode = 0x05
	ErrFinalSizeError         ErrorCode = 0x06
	ErrFrameEncodingError     ErrorCode = 0x07
	ErrTransportParameterErr  ErrorCode = 0x08
	ErrConnectionIDLimitError ErrorCode = 0x09
	ErrProtocolViolation      ErrorCode = 0x0a
	ErrInvalidToken           ErrorCode = 0x0b
	ErrApplicationError       ErrorCode = 0x0c
	ErrCryptoBufferExceeded   ErrorCode = 0x0d
	ErrKeyUpdateError         ErrorCode = 0x0e
	ErrAEADLimitReached       ErrorCode = 0x0f
	ErrNoViablePath           ErrorCode = 0x10
	// ErrCryptoErrorBase is added to a TLS alert code to form a CRYPTO_ERROR
	// transport error code (RFC 9000 §20.1, "0x0100-0x01ff").
	ErrCryptoErrorBase ErrorCode = 0x0100
)

func (c ErrorCode) String() string {
	switch c {
	case ErrNoError:
		return "NO_ERROR"
	case ErrInternalError:
		return "INTERNAL_ERROR"
	case ErrConnectionRefused:
		return "CONNECTION_REFUSED"
	case ErrFlowControlError:
		return "FLOW_CONTROL_ERROR"
	case ErrStreamLimitError:
		return "STREAM_LIMIT_ERROR"
	case ErrStreamStateError:
		return "STREAM_STATE_ERROR"
	case ErrFinalSizeError:
		return "FINAL_SIZE_ERROR"
	case ErrFrameEncodingError:
		return "FRAME_ENCODING_ERROR"
	case ErrTransportParameterErr:
		return "TRANSPORT_PARAMETER_ERROR"
	case ErrConnectionIDLimitError:
		return "CONNECTION_ID_LIMIT_ERROR"
	case ErrProtocolViolation:
		return "PROTOCOL_VIOLATION"
	case ErrInvalidToken:
		return "INVALID_TOKEN"
	case ErrApplicationError:
		return "APPLICATION_ERROR"
	case ErrCryptoBufferExceeded:
		return "CRYPTO_BUFFER_EXCEEDED"
	case ErrKeyUpdateError:
		return "KEY_UPDATE_ERROR"
	case ErrAEADLimitReached:
		return "AEAD_LIMIT_REACHED"
	case ErrNoViablePath:
		return "NO_VIABLE_PATH"
	default:
		if c >= ErrCryptoErrorBase && c <= ErrCryptoErrorBase+0xff {
			return fmt.Sprintf("CRYPTO_ERROR(%d)", c-ErrCryptoErrorBase)
		}
		return fmt.Sprintf("ErrorCode(0x%x)", uint64(c))
	}
}

// TransportError represents a connection-level failure that must be
// surfaced to the peer via a CONNECTION_CLOSE frame carrying the matching
// RFC 9000 transport error code ("Propagation policy").
type TransportError struct {
	Code       ErrorCode
	FrameType  uint64 // frame that triggered the error, 0 if not applicable
	Reason     string
	WrappedErr error
}

func (e *TransportError) Error() string {
	if e.WrappedErr != nil {
		return fmt.Sprintf("quic: transport error %s: %s: %v", e.Code, e.Reason, e.WrappedErr)
	}
	return fmt.Sprintf("quic: transport error %s: %s", e.Code, e.Reason)
}

func (e *TransportError) Unwrap() error { return e.WrappedErr }

// NewTransportError builds a TransportError, optionally wrapping cause.
func NewTransportError(code ErrorCode, reason string, cause error) *TransportError {
	return &TransportError{Code: code, Reason: reason, WrappedErr: cause}
}

// CryptoAlertError maps a TLS fatal alert to a CRYPTO_ERROR transport code
// (RFC 9000 §20.1 "TLS-level fatal alerts map to CRYPTO_ERROR").
func CryptoAlertError(alert uint8) *TransportError {
	return &TransportError{
		Code:   ErrCryptoErrorBase + ErrorCode(alert),
		Reason: "tls alert",
	}
}

// ApplicationError is reported to the application layer without closing the
// connection — RESET_STREAM and STOP_SENDING carry one of these.
type ApplicationError struct {
	Code   uint64
	Reason string
}

func (e *ApplicationError) Error() string {
	return fmt.Sprintf("quic: application error %d: %s", e.Code, e.Reason)
}

// Sentinel wire-format and cryptographic errors.
var (
	ErrPacketTruncated      = errors.New("quic: packet truncated")
	ErrInvalidPacket        = errors.New("quic: invalid packet")
	ErrUnsupportedVersion   = errors.New("quic: unsupported version")
	ErrIllegalFrameType     = errors.New("quic: illegal frame type")
	ErrFrameNotAdmissible   = errors.New("quic: frame not admissible in this packet type")
	ErrAEADAuthFailed       = errors.New("quic: AEAD authentication failed")
	ErrKeysNotInstalled     = errors.New("quic: keys not yet installed for this level")
	ErrKeysRetired          = errors.New("quic: keys for this generation have been retired")
	ErrTooManyAckRanges     = errors.New("quic: too many ACK ranges")
	ErrReasonPhraseTooLong  = errors.New("quic: CONNECTION_CLOSE reason phrase too long")
	ErrPacketNumberExhausted = errors.New("quic: packet number space exhausted")
	ErrUnknownStream        = errors.New("quic: reference to unknown or retired stream")
	ErrStreamClosed         = errors.New("quic: stream closed for writing")
	ErrMaxStreamsExceeded   = errors.New("quic: peer-advertised stream limit exceeded")
)
