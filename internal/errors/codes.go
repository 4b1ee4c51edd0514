package errors

// ErrorCode represents a machine-readable error identifier for frontend error handling.
type ErrorCode string

// Payment proof verification failures, in pipeline order.
const (
	// Invalid payment proof format or structure
	ErrCodeInvalidPaymentProof ErrorCode = "invalid_payment_proof"
	ErrCodeInvalidAmount       ErrorCode = "invalid_amount"
	ErrCodeInvalidAddress      ErrorCode = "invalid_address"
	ErrCodeInvalidTransaction  ErrorCode = "invalid_transaction"

	// Freshness and replay
	ErrCodeProofTooOld    ErrorCode = "proof_too_old"
	ErrCodeReplayDetected ErrorCode = "replay_detected"

	// On-chain transaction lookup failures
	ErrCodeTransactionNotFound       ErrorCode = "transaction_not_found"
	ErrCodeTransactionPending        ErrorCode = "transaction_pending"
	ErrCodeTransactionReverted       ErrorCode = "transaction_reverted"
	ErrCodeInsufficientConfirmations ErrorCode = "insufficient_confirmations"
	ErrCodeSenderMismatch            ErrorCode = "sender_mismatch"

	// Token transfer validation failures
	ErrCodeTokenMismatch      ErrorCode = "token_mismatch"
	ErrCodeRecipientMismatch  ErrorCode = "recipient_mismatch"
	ErrCodeAmountInsufficient ErrorCode = "amount_insufficient"
)

// Request/resource errors.
const (
	ErrCodeMissingField    ErrorCode = "missing_field"
	ErrCodeContentNotFound ErrorCode = "content_not_found"
	ErrCodeUnauthorized    ErrorCode = "unauthorized"
)

// External service and system errors.
const (
	ErrCodeInfrastructureError ErrorCode = "infrastructure_error"
	ErrCodeRPCError            ErrorCode = "rpc_error"
	ErrCodeDatabaseError       ErrorCode = "database_error"
	ErrCodeConfigError         ErrorCode = "config_error"
	ErrCodeInternalError       ErrorCode = "internal_error"
)

// IsRetryable returns whether an error code represents a retryable error.
// Retryable errors are typically transient network/service issues, not validation failures.
func (e ErrorCode) IsRetryable() bool {
	switch e {
	case ErrCodeRPCError,
		ErrCodeInfrastructureError,
		ErrCodeTransactionPending,
		ErrCodeInsufficientConfirmations:
		return true
	default:
		return false
	}
}

// HTTPStatus returns the appropriate HTTP status code for this error.
func (e ErrorCode) HTTPStatus() int {
	switch e {
	// 400 Bad Request - malformed client input
	case ErrCodeInvalidPaymentProof,
		ErrCodeInvalidAmount,
		ErrCodeInvalidAddress,
		ErrCodeInvalidTransaction,
		ErrCodeMissingField:
		return 400

	// 402 Payment Required - the proof does not establish a valid payment
	case ErrCodeProofTooOld,
		ErrCodeReplayDetected,
		ErrCodeTransactionNotFound,
		ErrCodeTransactionPending,
		ErrCodeTransactionReverted,
		ErrCodeInsufficientConfirmations,
		ErrCodeSenderMismatch,
		ErrCodeTokenMismatch,
		ErrCodeRecipientMismatch,
		ErrCodeAmountInsufficient:
		return 402

	// 401 Unauthorized
	case ErrCodeUnauthorized:
		return 401

	// 404 Not Found
	case ErrCodeContentNotFound:
		return 404

	// 502 Bad Gateway - upstream RPC/network trouble
	case ErrCodeInfrastructureError,
		ErrCodeRPCError:
		return 502

	// 500 Internal Server Error
	default:
		return 500
	}
}
