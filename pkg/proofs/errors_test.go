package proofs

import (
	stderrors "errors"
	"strings"
	"testing"

	"github.com/bloom-paywall/server/internal/errors"
)

func TestNewVerificationError(t *testing.T) {
	cause := stderrors.New("wallet field is empty")
	err := NewVerificationError(errors.ErrCodeConfigError, cause)

	if err.Code != errors.ErrCodeConfigError {
		t.Errorf("Code = %v, want %v", err.Code, errors.ErrCodeConfigError)
	}
	if err.Message != UserFriendlyMessage(errors.ErrCodeConfigError) {
		t.Errorf("Message = %q, want the friendly rendering of the code", err.Message)
	}
	if !stderrors.Is(err, cause) {
		t.Error("wrapped cause must be reachable through errors.Is")
	}
	if err.Error() != err.Message {
		t.Errorf("Error() = %q, want the friendly message", err.Error())
	}
}

func TestVerificationError_WithoutMessage(t *testing.T) {
	err := VerificationError{Code: errors.ErrCodeRPCError}
	if err.Error() != string(errors.ErrCodeRPCError) {
		t.Errorf("Error() = %q, want bare code", err.Error())
	}

	err.Err = stderrors.New("dial tcp: connection refused")
	if got := err.Error(); !strings.Contains(got, "connection refused") {
		t.Errorf("Error() = %q, want wrapped cause included", got)
	}
}

func TestUserFriendlyMessage(t *testing.T) {
	tests := []struct {
		code errors.ErrorCode
		want string
	}{
		{errors.ErrCodeReplayDetected, "already been used"},
		{errors.ErrCodeProofTooOld, "expired"},
		{errors.ErrCodeTransactionPending, "still pending"},
		{errors.ErrCodeAmountInsufficient, "less than required"},
		{errors.ErrCodeRPCError, "try again shortly"},
		// Unmapped codes fall back to a generic rendering naming the code.
		{errors.ErrCodeDatabaseError, string(errors.ErrCodeDatabaseError)},
	}

	for _, tt := range tests {
		t.Run(string(tt.code), func(t *testing.T) {
			got := UserFriendlyMessage(tt.code)
			if !strings.Contains(got, tt.want) {
				t.Errorf("UserFriendlyMessage(%s) = %q, want it to contain %q", tt.code, got, tt.want)
			}
		})
	}
}
