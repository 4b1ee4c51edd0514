package evm

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"

	apierrors "github.com/bloom-paywall/server/internal/errors"
	"github.com/bloom-paywall/server/internal/logger"
	"github.com/bloom-paywall/server/internal/metrics"
	"github.com/bloom-paywall/server/internal/storage"
	"github.com/bloom-paywall/server/pkg/proofs"
)

// Verifier checks payment proofs against an EVM chain. It re-derives payment
// validity from raw transaction and receipt data; nothing client-supplied is
// trusted beyond selecting what to look up.
type Verifier struct {
	reader         ChainReader
	store          storage.Store
	cfg            proofs.VerificationConfig
	platformWallet common.Address
	stablecoin     common.Address
	signer         types.Signer
	clock          func() time.Time
	metrics        *metrics.Metrics
}

// VerifierOption customizes the verifier.
type VerifierOption func(*Verifier)

// WithVerifierMetrics enables verification metrics.
func WithVerifierMetrics(m *metrics.Metrics) VerifierOption {
	return func(v *Verifier) {
		v.metrics = m
	}
}

// WithClock overrides the time source, for freshness boundary tests.
func WithClock(clock func() time.Time) VerifierOption {
	return func(v *Verifier) {
		v.clock = clock
	}
}

// NewVerifier constructs a verifier. Configuration problems are fatal here;
// a verifier must never start without a known-good recipient and token.
func NewVerifier(reader ChainReader, store storage.Store, cfg proofs.VerificationConfig, opts ...VerifierOption) (*Verifier, error) {
	if reader == nil {
		return nil, proofs.NewVerificationError(apierrors.ErrCodeConfigError, errors.New("evm: chain reader required"))
	}
	if store == nil {
		return nil, proofs.NewVerificationError(apierrors.ErrCodeConfigError, errors.New("evm: replay store required"))
	}
	if !common.IsHexAddress(cfg.PlatformWallet) {
		return nil, proofs.NewVerificationError(apierrors.ErrCodeConfigError, fmt.Errorf("evm: invalid platform wallet %q", cfg.PlatformWallet))
	}
	if !common.IsHexAddress(cfg.StablecoinAddress) {
		return nil, proofs.NewVerificationError(apierrors.ErrCodeConfigError, fmt.Errorf("evm: invalid stablecoin address %q", cfg.StablecoinAddress))
	}
	if cfg.ChainID <= 0 {
		return nil, proofs.NewVerificationError(apierrors.ErrCodeConfigError, fmt.Errorf("evm: invalid chain id %d", cfg.ChainID))
	}
	if cfg.MaxProofAge <= 0 {
		cfg.MaxProofAge = proofs.DefaultMaxProofAge
	}
	if cfg.RequiredConfirmations == 0 {
		cfg.RequiredConfirmations = proofs.DefaultRequiredConfirmations
	}

	v := &Verifier{
		reader:         reader,
		store:          store,
		cfg:            cfg,
		platformWallet: common.HexToAddress(cfg.PlatformWallet),
		stablecoin:     common.HexToAddress(cfg.StablecoinAddress),
		signer:         types.LatestSignerForChainID(big.NewInt(cfg.ChainID)),
		clock:          time.Now,
	}
	for _, opt := range opts {
		opt(v)
	}
	return v, nil
}

// Verify runs the ordered verification pipeline, short-circuiting on the
// first failing check:
//
//  1. proof well-formedness
//  2. timestamp freshness
//  3. replay check against the usage store
//  4. transaction existence, success, confirmations, sender binding
//  5. stablecoin Transfer to the platform wallet covering the claimed amount
//
// The usage record is written only after every check passes; a duplicate at
// record time means a concurrent request won the race and is reported as a
// replay. Ordinary rejections and RPC faults come back inside the result,
// never as a Go error; the error return is reserved for context cancellation.
func (v *Verifier) Verify(ctx context.Context, proof proofs.PaymentProof) (proofs.VerificationResult, error) {
	start := v.clock()
	result, err := v.verify(ctx, proof)
	if err != nil {
		return result, err
	}

	if v.metrics != nil {
		v.metrics.ObserveVerification(v.cfg.Network, proof.ContentID, result.IsValid, string(result.FailureCode), time.Since(start))
	}

	log := logger.FromContext(ctx)
	if result.IsValid {
		log.Info().
			Str("tx", logger.TruncateHash(proof.TransactionID)).
			Str("content_id", proof.ContentID).
			Str("wallet", logger.TruncateHash(proof.UserAddress)).
			Msg("verification.succeeded")
	} else {
		log.Info().
			Str("tx", logger.TruncateHash(proof.TransactionID)).
			Str("content_id", proof.ContentID).
			Str("failure_code", string(result.FailureCode)).
			Msg("verification.rejected")
	}

	return result, nil
}

func (v *Verifier) verify(ctx context.Context, proof proofs.PaymentProof) (proofs.VerificationResult, error) {
	var result proofs.VerificationResult

	// Step 1: structural validity
	if err := proof.Validate(); err != nil {
		return fail(result, apierrors.ErrCodeInvalidPaymentProof, err.Error()), nil
	}
	if v.cfg.RequireSignatureVerification && proof.Signature == "" {
		// The signature scheme is not finalized; when the flag is on, the
		// step only requires the field to be present.
		return fail(result, apierrors.ErrCodeInvalidPaymentProof, "proof signature required"), nil
	}
	claimed, err := proof.AmountAtomic()
	if err != nil {
		return fail(result, apierrors.ErrCodeInvalidAmount, err.Error()), nil
	}

	// Step 2: timestamp freshness
	age := v.clock().Sub(time.Unix(proof.Timestamp, 0))
	if age > v.cfg.MaxProofAge {
		return fail(result, apierrors.ErrCodeProofTooOld,
			fmt.Sprintf("proof is %s old, maximum allowed is %s", age.Truncate(time.Second), v.cfg.MaxProofAge)), nil
	}
	result.Checks.TimestampValid = true

	// Step 3: replay check, cheapest gate before any network I/O
	used, err := v.store.HasBeenUsed(ctx, proof.TransactionID, proof.ContentID)
	if err != nil {
		if ctx.Err() != nil {
			return result, ctx.Err()
		}
		return fail(result, apierrors.ErrCodeDatabaseError, "replay store unavailable"), nil
	}
	if used {
		if v.metrics != nil {
			v.metrics.ObserveReplayHit(v.cfg.Network)
		}
		return fail(result, apierrors.ErrCodeReplayDetected, v.replayDiagnostic(ctx, proof)), nil
	}
	result.Checks.NotReplayed = true

	// Step 4: transaction existence and finality
	facts, failure, err := v.checkTransaction(ctx, proof, &result)
	if err != nil {
		return result, err
	}
	if failure != nil {
		return *failure, nil
	}

	// Step 5: token transfer correctness
	if failure := v.checkTransfer(facts, claimed, &result); failure != nil {
		return *failure, nil
	}

	// All checks passed: consume the payment. The atomic insert closes the
	// race between two requests verifying the same pair concurrently.
	err = v.store.RecordUsage(ctx, storage.PaymentUsage{
		TransactionID: proof.TransactionID,
		ContentID:     proof.ContentID,
		UserAddress:   proof.UserAddress,
		Amount:        proof.Amount,
		ConsumedAt:    v.clock().UTC(),
		Metadata:      proof.Metadata,
	})
	if err != nil {
		if errors.Is(err, storage.ErrAlreadyUsed) {
			result.Checks.NotReplayed = false
			return fail(result, apierrors.ErrCodeReplayDetected, "payment was consumed by a concurrent request"), nil
		}
		if ctx.Err() != nil {
			return result, ctx.Err()
		}
		return fail(result, apierrors.ErrCodeDatabaseError, "failed to record payment usage"), nil
	}

	result.IsValid = true
	return result, nil
}

// checkTransaction performs the existence, status, confirmation, and sender
// checks. It returns the receipt for the transfer step, or a failure result.
// Transaction facts are populated as soon as the receipt is known so that
// later failures still report them.
func (v *Verifier) checkTransaction(ctx context.Context, proof proofs.PaymentProof, result *proofs.VerificationResult) (*types.Receipt, *proofs.VerificationResult, error) {
	hash := common.HexToHash(proof.TransactionID)

	tx, isPending, err := v.reader.TransactionByHash(ctx, hash)
	if err != nil {
		if errors.Is(err, ethereum.NotFound) {
			f := fail(*result, apierrors.ErrCodeTransactionNotFound, "transaction not found on chain")
			return nil, &f, nil
		}
		failure, cerr := v.rpcFailure(ctx, *result, err)
		return nil, failure, cerr
	}
	if isPending {
		f := fail(*result, apierrors.ErrCodeTransactionPending, "transaction has not been mined yet")
		return nil, &f, nil
	}

	receipt, err := v.reader.TransactionReceipt(ctx, hash)
	if err != nil {
		if errors.Is(err, ethereum.NotFound) {
			// Mined flag raced with receipt availability; treat as pending.
			f := fail(*result, apierrors.ErrCodeTransactionPending, "transaction receipt not available yet")
			return nil, &f, nil
		}
		failure, cerr := v.rpcFailure(ctx, *result, err)
		return nil, failure, cerr
	}

	head, err := v.reader.BlockNumber(ctx)
	if err != nil {
		failure, cerr := v.rpcFailure(ctx, *result, err)
		return nil, failure, cerr
	}

	sender, err := types.Sender(v.signer, tx)
	if err != nil {
		f := fail(*result, apierrors.ErrCodeInvalidTransaction, "cannot recover transaction sender")
		return nil, &f, nil
	}

	var confirmations uint64
	if blockNumber := receipt.BlockNumber.Uint64(); head >= blockNumber {
		confirmations = head - blockNumber
	}

	facts := &proofs.TransactionFacts{
		BlockNumber:   receipt.BlockNumber.Uint64(),
		From:          sender.Hex(),
		GasUsed:       receipt.GasUsed,
		Status:        receiptStatus(receipt),
		Confirmations: confirmations,
	}
	if tx.To() != nil {
		facts.To = tx.To().Hex()
	}
	result.Transaction = facts

	if receipt.Status != types.ReceiptStatusSuccessful {
		f := fail(*result, apierrors.ErrCodeTransactionReverted, "transaction reverted on chain")
		return nil, &f, nil
	}
	if confirmations < v.cfg.RequiredConfirmations {
		f := fail(*result, apierrors.ErrCodeInsufficientConfirmations,
			fmt.Sprintf("transaction has %d confirmations, %d required", confirmations, v.cfg.RequiredConfirmations))
		return nil, &f, nil
	}
	if sender != common.HexToAddress(proof.UserAddress) {
		f := fail(*result, apierrors.ErrCodeSenderMismatch, "transaction sender does not match claimed user address")
		return nil, &f, nil
	}

	result.Checks.TransactionExists = true
	return receipt, nil, nil
}

// checkTransfer verifies that the receipt contains a Transfer of the
// configured stablecoin to the platform wallet covering the claimed amount.
// Overpayment is accepted, underpayment is not. The three failure reasons
// stay distinct to aid caller-side diagnostics.
func (v *Verifier) checkTransfer(receipt *types.Receipt, claimed *big.Int, result *proofs.VerificationResult) *proofs.VerificationResult {
	events := DecodeTransferLogs(receipt.Logs)

	tokenMatch := false
	recipientMatch := false
	for _, event := range events {
		if event.Token != v.stablecoin {
			continue
		}
		tokenMatch = true
		if event.To != v.platformWallet {
			continue
		}
		recipientMatch = true
		if event.Amount.Cmp(claimed) >= 0 {
			result.Checks.TokenCorrect = true
			result.Checks.RecipientCorrect = true
			result.Checks.AmountMatches = true
			return nil
		}
	}

	switch {
	case !tokenMatch:
		f := fail(*result, apierrors.ErrCodeTokenMismatch, "no transfer of the accepted stablecoin found in transaction")
		return &f
	case !recipientMatch:
		result.Checks.TokenCorrect = true
		f := fail(*result, apierrors.ErrCodeRecipientMismatch, "stablecoin transfer does not target the platform wallet")
		return &f
	default:
		result.Checks.TokenCorrect = true
		result.Checks.RecipientCorrect = true
		f := fail(*result, apierrors.ErrCodeAmountInsufficient, "transfer amount is below the claimed payment amount")
		return &f
	}
}

// replayDiagnostic reports who consumed the payment and when, for logs and
// error messages. Lookup failures degrade to a generic message.
func (v *Verifier) replayDiagnostic(ctx context.Context, proof proofs.PaymentProof) string {
	usage, err := v.store.GetUsage(ctx, proof.TransactionID, proof.ContentID)
	if err != nil {
		return "payment has already been used for this content"
	}
	return fmt.Sprintf("payment was already used by %s at %s",
		logger.TruncateHash(usage.UserAddress), usage.ConsumedAt.UTC().Format(time.RFC3339))
}

// rpcFailure converts an RPC fault into an ordinary failure result unless the
// caller's context was cancelled.
func (v *Verifier) rpcFailure(ctx context.Context, result proofs.VerificationResult, err error) (*proofs.VerificationResult, error) {
	if ctx.Err() != nil {
		return nil, ctx.Err()
	}
	log := logger.FromContext(ctx)
	log.Warn().Err(err).Msg("verification.rpc_error")
	f := fail(result, apierrors.ErrCodeRPCError, "blockchain read failed, try again shortly")
	return &f, nil
}

func receiptStatus(receipt *types.Receipt) string {
	if receipt.Status == types.ReceiptStatusSuccessful {
		return "success"
	}
	return "reverted"
}

// fail stamps a failure code and reason onto the result. Checks attempted so
// far keep their values; checks never reached stay false.
func fail(result proofs.VerificationResult, code apierrors.ErrorCode, reason string) proofs.VerificationResult {
	result.IsValid = false
	result.FailureCode = code
	result.FailureReason = reason
	return result
}
