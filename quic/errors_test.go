package quic

import (
	"errors"
	"fmt"
	"testing"
)

func TestErrorCodeString(t *testing.T) {
	tests := []struct {
		code ErrorCode
		want string
	}{
		{ErrNoError, "NO_ERROR"},
		{ErrFlowControlError, "FLOW_CONTROL_ERROR"},
		{ErrProtocolViolation, "PROTOCOL_VIOLATION"},
		{ErrCryptoErrorBase, "CRYPTO_ERROR(0)"},
		{ErrCryptoErrorBase + 10, "CRYPTO_ERROR(10)"},
		{ErrorCode(0xbeef), "ErrorCode(0xbeef)"},
	}
	for _, tt := range tests {
		if got := tt.code.String(); got != tt.want {
			t.Errorf("ErrorCode(%d).String() = %q, want %q", tt.code, got, tt.want)
		}
	}
}

func TestNewTransportErrorWrapsCause(t *testing.T) {
	cause := errors.New("underlying failure")
	te := NewTransportError(ErrInternalError, "something broke", cause)

	if !errors.Is(te, cause) {
		t.Fatalf("errors.Is(te, cause) = false, want true")
	}
	if te.Code != ErrInternalError {
		t.Fatalf("Code = %v, want ErrInternalError", te.Code)
	}
	msg := te.Error()
	if msg == "" {
		t.Fatalf("Error() is empty")
	}
}

func TestTransportErrorWithoutCause(t *testing.T) {
	te := NewTransportError(ErrFlowControlError, "limit exceeded", nil)
	if te.Unwrap() != nil {
		t.Fatalf("Unwrap() = %v, want nil", te.Unwrap())
	}
	want := fmt.Sprintf("quic: transport error %s: limit exceeded", ErrFlowControlError)
	if got := te.Error(); got != want {
		t.Fatalf("Error() = %q, want %q", got, want)
	}
}

func TestCryptoAlertErrorMapsIntoCryptoErrorRange(t *testing.T) {
	te := CryptoAlertError(42)
	if te.Code != ErrCryptoErrorBase+42 {
		t.Fatalf("Code = %v, want %v", te.Code, ErrCryptoErrorBase+42)
	}
}

func TestApplicationErrorMessage(t *testing.T) {
	ae := &ApplicationError{Code: 7, Reason: "bored"}
	want := "quic: application error 7: bored"
	if got := ae.Error(); got != want {
		t.Fatalf("Error() = %q, want %q", got, want)
	}
}
