package proofs

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"math/big"
	"regexp"
	"strings"
	"time"

	apierrors "github.com/bloom-paywall/server/internal/errors"
)

// PaymentProof is the client-submitted claim that an on-chain payment was made
// for a specific content resource. Every field is untrusted input; verification
// re-derives validity from raw blockchain data.
type PaymentProof struct {
	TransactionID    string            `json:"transactionId"`              // 0x-prefixed 64-hex transaction hash
	Amount           string            `json:"amount"`                     // claimed amount, atomic token units, decimal string
	ContentID        string            `json:"contentId"`                  // content resource being unlocked
	UserAddress      string            `json:"userAddress"`                // claimed payer, must match the tx sender
	Timestamp        int64             `json:"timestamp"`                  // Unix seconds when the proof was generated
	TokenAddress     string            `json:"tokenAddress,omitempty"`     // informational, verification uses the configured contract
	RecipientAddress string            `json:"recipientAddress,omitempty"` // informational, verification uses the platform wallet
	Signature        string            `json:"signature,omitempty"`        // reserved, not cryptographically checked
	Metadata         map[string]string `json:"metadata,omitempty"`
}

var (
	txHashPattern  = regexp.MustCompile(`^0x[0-9a-fA-F]{64}$`)
	addressPattern = regexp.MustCompile(`^0x[0-9a-fA-F]{40}$`)
)

// Validate checks structural well-formedness of the proof. It does not touch
// the chain; a valid proof can still fail every verification check.
func (p PaymentProof) Validate() error {
	if p.TransactionID == "" {
		return fmt.Errorf("%w: transactionId", ErrMissingField)
	}
	if !txHashPattern.MatchString(p.TransactionID) {
		return fmt.Errorf("invalid transaction hash %q", p.TransactionID)
	}
	if p.ContentID == "" {
		return fmt.Errorf("%w: contentId", ErrMissingField)
	}
	if p.UserAddress == "" {
		return fmt.Errorf("%w: userAddress", ErrMissingField)
	}
	if !addressPattern.MatchString(p.UserAddress) {
		return fmt.Errorf("invalid user address %q", p.UserAddress)
	}
	if p.Amount == "" {
		return fmt.Errorf("%w: amount", ErrMissingField)
	}
	if _, err := p.AmountAtomic(); err != nil {
		return err
	}
	if p.Timestamp <= 0 {
		return fmt.Errorf("%w: timestamp", ErrMissingField)
	}
	return nil
}

// AmountAtomic parses the claimed amount as an arbitrary-precision unsigned integer.
func (p PaymentProof) AmountAtomic() (*big.Int, error) {
	amount, ok := new(big.Int).SetString(p.Amount, 10)
	if !ok || amount.Sign() < 0 {
		return nil, fmt.Errorf("invalid amount %q: must be a non-negative decimal integer", p.Amount)
	}
	return amount, nil
}

// ErrMissingField is wrapped by Validate for absent required fields.
var ErrMissingField = errors.New("payment proof missing required field")

// ParsePaymentProof decodes an X-PAYMENT header into a PaymentProof.
// Accepts base64-encoded JSON (standard or raw encoding) or bare JSON.
func ParsePaymentProof(header string) (PaymentProof, error) {
	raw := strings.TrimSpace(header)
	if raw == "" {
		return PaymentProof{}, errors.New("proofs: empty payment header")
	}

	var data []byte
	if strings.HasPrefix(raw, "{") {
		data = []byte(raw)
	} else {
		decoded, err := base64.StdEncoding.DecodeString(raw)
		if err != nil {
			decoded, err = base64.RawStdEncoding.DecodeString(raw)
			if err != nil {
				return PaymentProof{}, fmt.Errorf("proofs: decode base64: %w", err)
			}
		}
		data = decoded
	}

	var proof PaymentProof
	if err := json.Unmarshal(data, &proof); err != nil {
		return PaymentProof{}, fmt.Errorf("proofs: parse payment proof: %w", err)
	}

	if err := proof.Validate(); err != nil {
		return proof, fmt.Errorf("proofs: %w", err)
	}

	return proof, nil
}

// Checks records the outcome of each independent verification sub-check.
// A check that was never attempted stays false; a failing check stops the
// pipeline, so everything after it also reads false.
type Checks struct {
	TimestampValid    bool `json:"timestampValid"`
	NotReplayed       bool `json:"notReplayed"`
	TransactionExists bool `json:"transactionExists"`
	TokenCorrect      bool `json:"tokenCorrect"`
	RecipientCorrect  bool `json:"recipientCorrect"`
	AmountMatches     bool `json:"amountMatches"`
}

// AllPassed reports whether every sub-check succeeded.
func (c Checks) AllPassed() bool {
	return c.TimestampValid && c.NotReplayed && c.TransactionExists &&
		c.TokenCorrect && c.RecipientCorrect && c.AmountMatches
}

// TransactionFacts are details observed on-chain during verification,
// populated once the transaction-existence step has fetched the receipt.
// They are reported even when a later check fails, to aid diagnostics.
type TransactionFacts struct {
	BlockNumber   uint64 `json:"blockNumber"`
	From          string `json:"from"`
	To            string `json:"to,omitempty"`
	GasUsed       uint64 `json:"gasUsed"`
	Status        string `json:"status"` // "success", "reverted"
	Confirmations uint64 `json:"confirmations"`
}

// VerificationResult is the structured outcome of one verification call.
// Failures are data, not errors: ordinary rejection reasons travel in
// FailureCode/FailureReason, never as a Go error.
type VerificationResult struct {
	IsValid       bool                `json:"isValid"`
	Checks        Checks              `json:"verification"`
	FailureCode   apierrors.ErrorCode `json:"failureCode,omitempty"`
	FailureReason string              `json:"failureReason,omitempty"`
	Transaction   *TransactionFacts   `json:"transactionDetails,omitempty"`
}

// VerificationConfig is the policy a verifier checks proofs against.
type VerificationConfig struct {
	Network               string        // network name, for logs and metrics
	ChainID               int64         // EVM chain id, used for sender recovery
	PlatformWallet        string        // the only acceptable transfer recipient
	StablecoinAddress     string        // the only acceptable token contract
	MaxProofAge           time.Duration // freshness window for proof timestamps
	RequiredConfirmations uint64        // blocks on top of the tx before it is final

	// RequireSignatureVerification gates the proof signature step. The
	// signing scheme is not finalized; when enabled the step only requires
	// the field to be present.
	RequireSignatureVerification bool
}

// Verifier validates a payment proof against on-chain state.
type Verifier interface {
	Verify(ctx context.Context, proof PaymentProof) (VerificationResult, error)
}
