package proofs

import (
	"fmt"

	"github.com/bloom-paywall/server/internal/errors"
)

// VerificationError classifies fatal failures encountered while verifying a
// proof. Ordinary rejections travel inside VerificationResult; this type is
// reserved for constructor and configuration problems.
type VerificationError struct {
	Code    errors.ErrorCode // Machine-readable error code
	Message string           // User-friendly message
	Err     error            // Technical error for logging
}

func (e VerificationError) Error() string {
	if e.Message != "" {
		return e.Message
	}
	if e.Err == nil {
		return string(e.Code)
	}
	return fmt.Sprintf("%s: %v", e.Code, e.Err)
}

func (e VerificationError) Unwrap() error {
	return e.Err
}

// NewVerificationError creates a new verification error with a user-friendly message.
func NewVerificationError(code errors.ErrorCode, err error) VerificationError {
	return VerificationError{
		Code:    code,
		Message: UserFriendlyMessage(code),
		Err:     err,
	}
}

// UserFriendlyMessage converts error codes to messages safe to show the
// proof's original submitter.
func UserFriendlyMessage(code errors.ErrorCode) string {
	switch code {
	case errors.ErrCodeProofTooOld:
		return "Payment proof has expired. Please generate a fresh proof and try again."
	case errors.ErrCodeReplayDetected:
		return "This payment has already been used for this content. Each payment unlocks content once."
	case errors.ErrCodeTransactionNotFound:
		return "Transaction not found on the blockchain. Check the transaction hash and try again."
	case errors.ErrCodeTransactionPending:
		return "Transaction is still pending. Wait for it to be mined and try again."
	case errors.ErrCodeTransactionReverted:
		return "Transaction failed on the blockchain. The payment did not go through."
	case errors.ErrCodeInsufficientConfirmations:
		return "Transaction does not have enough confirmations yet. Please wait and try again."
	case errors.ErrCodeSenderMismatch:
		return "Transaction was sent from a different wallet than the one claimed."
	case errors.ErrCodeTokenMismatch:
		return "Payment used the wrong token. Please pay with the accepted stablecoin."
	case errors.ErrCodeRecipientMismatch:
		return "Payment was sent to the wrong address. Please use the platform payment address."
	case errors.ErrCodeAmountInsufficient:
		return "Payment amount is less than required. Please pay the full price."
	case errors.ErrCodeInvalidPaymentProof:
		return "Payment proof is malformed. Please check the submitted fields."
	case errors.ErrCodeContentNotFound:
		return "The requested content does not exist."
	case errors.ErrCodeRPCError:
		return "Could not reach the blockchain right now. Please try again shortly."
	default:
		return fmt.Sprintf("Payment verification failed: %s", code)
	}
}
