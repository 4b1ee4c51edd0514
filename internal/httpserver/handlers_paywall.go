package httpserver

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/bloom-paywall/server/internal/callbacks"
	"github.com/bloom-paywall/server/internal/content"
	apierrors "github.com/bloom-paywall/server/internal/errors"
	"github.com/bloom-paywall/server/pkg/proofs"
	"github.com/bloom-paywall/server/pkg/responders"
)

const maxVerifyBodySize = 1 << 20 // 1 MiB

// health returns service health status including RPC connectivity and uptime.
func (h *handlers) health(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()

	now := time.Now()
	rpcHealthy := h.checkRPCHealth(ctx)

	status := "ok"
	statusCode := http.StatusOK
	if !rpcHealthy {
		status = "degraded"
		statusCode = http.StatusServiceUnavailable
	}

	response := map[string]any{
		"status":     status,
		"uptime":     now.Sub(serverStartTime).String(),
		"timestamp":  now.UTC(),
		"rpcHealthy": rpcHealthy,
		"network":    h.cfg.Verification.Network,
		"chainId":    h.cfg.ChainID(),
	}
	if h.cfg.Server.RoutePrefix != "" {
		response["routePrefix"] = h.cfg.Server.RoutePrefix
	}

	responders.JSON(w, statusCode, response)
}

// checkRPCHealth verifies node connectivity with a head-height read.
func (h *handlers) checkRPCHealth(ctx context.Context) bool {
	if h.chain == nil {
		return false
	}
	_, err := h.chain.BlockNumber(ctx)
	return err == nil
}

// contentSummary is the public listing shape; prices stay decimal strings.
type contentSummary struct {
	ID          string            `json:"id"`
	Title       string            `json:"title"`
	Description string            `json:"description,omitempty"`
	Price       string            `json:"price"`
	Metadata    map[string]string `json:"metadata,omitempty"`
}

// listContent returns the purchasable content catalog.
func (h *handlers) listContent(w http.ResponseWriter, r *http.Request) {
	contents, err := h.contents.List(r.Context())
	if err != nil {
		apierrors.WriteSimpleError(w, apierrors.ErrCodeInternalError, "failed to list content")
		return
	}

	items := make([]contentSummary, 0, len(contents))
	for _, c := range contents {
		items = append(items, contentSummary{
			ID:          c.ID,
			Title:       c.Title,
			Description: c.Description,
			Price:       c.Price.String(),
			Metadata:    c.Metadata,
		})
	}

	responders.JSON(w, http.StatusOK, map[string]any{
		"content": items,
		"token":   h.cfg.Verification.StablecoinAddress,
		"network": h.cfg.Verification.Network,
	})
}

type quoteRequest struct {
	ContentID string `json:"contentId"`
}

// paywallQuote returns the price and payment parameters for one content id,
// everything a client needs to construct the on-chain payment.
func (h *handlers) paywallQuote(w http.ResponseWriter, r *http.Request) {
	var req quoteRequest
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxVerifyBodySize)).Decode(&req); err != nil {
		apierrors.WriteSimpleError(w, apierrors.ErrCodeMissingField, "request body must be JSON with a contentId")
		return
	}
	if req.ContentID == "" {
		apierrors.WriteSimpleError(w, apierrors.ErrCodeMissingField, "contentId is required")
		return
	}

	c, err := h.contents.Get(r.Context(), req.ContentID)
	if err != nil {
		apierrors.WriteErrorWithDetail(w, apierrors.ErrCodeContentNotFound, "unknown content", "contentId", req.ContentID)
		return
	}

	responders.JSON(w, http.StatusOK, h.paymentParams(c))
}

// paymentParams describes how to pay for a content resource.
func (h *handlers) paymentParams(c content.Content) map[string]any {
	return map[string]any{
		"contentId":             c.ID,
		"title":                 c.Title,
		"price":                 c.Price.String(),
		"token":                 h.cfg.Verification.StablecoinAddress,
		"recipient":             h.cfg.Verification.PlatformWallet,
		"network":               h.cfg.Verification.Network,
		"chainId":               h.cfg.ChainID(),
		"requiredConfirmations": h.cfg.Verification.RequiredConfirmations,
		"maxProofAgeSeconds":    int64(h.cfg.Verification.MaxProofAge.Duration.Seconds()),
	}
}

// paywallVerify verifies a payment proof submitted as a JSON body and returns
// the structured verification result.
func (h *handlers) paywallVerify(w http.ResponseWriter, r *http.Request) {
	var proof proofs.PaymentProof
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxVerifyBodySize)).Decode(&proof); err != nil {
		apierrors.WriteSimpleError(w, apierrors.ErrCodeInvalidPaymentProof, "request body must be a JSON payment proof")
		return
	}

	result, ok := h.verifyAgainstCatalog(w, r, proof)
	if !ok {
		return
	}

	writeVerificationResult(w, result)
}

// paywalledContent serves protected content. The payment proof travels in the
// X-PAYMENT header; without a valid one the response is 402 with the payment
// parameters the client needs.
func (h *handlers) paywalledContent(w http.ResponseWriter, r *http.Request) {
	contentID := chi.URLParam(r, "contentID")

	c, err := h.contents.Get(r.Context(), contentID)
	if err != nil {
		apierrors.WriteErrorWithDetail(w, apierrors.ErrCodeContentNotFound, "unknown content", "contentId", contentID)
		return
	}

	header := r.Header.Get("X-PAYMENT")
	if header == "" {
		paymentRequiredResponse(w, h.paymentParams(c))
		return
	}

	proof, err := proofs.ParsePaymentProof(header)
	if err != nil {
		apierrors.WriteErrorWithDetail(w, apierrors.ErrCodeInvalidPaymentProof, err.Error(), "contentId", contentID)
		return
	}
	if proof.ContentID != contentID {
		apierrors.WriteErrorWithDetail(w, apierrors.ErrCodeInvalidPaymentProof,
			"proof contentId does not match the requested content", "contentId", contentID)
		return
	}

	result, ok := h.verifyProof(w, r, proof, c)
	if !ok {
		return
	}
	if !result.IsValid {
		writeVerificationResult(w, result)
		return
	}

	addVerificationHeader(w, result)
	responders.JSON(w, http.StatusOK, map[string]any{
		"granted":     true,
		"id":          c.ID,
		"title":       c.Title,
		"description": c.Description,
		"creator":     c.Creator,
		"metadata":    c.Metadata,
	})
}

// verifyAgainstCatalog resolves the proof's content and runs verification.
// The bool result reports whether a response was already written.
func (h *handlers) verifyAgainstCatalog(w http.ResponseWriter, r *http.Request, proof proofs.PaymentProof) (proofs.VerificationResult, bool) {
	if proof.ContentID == "" {
		apierrors.WriteSimpleError(w, apierrors.ErrCodeMissingField, "contentId is required")
		return proofs.VerificationResult{}, false
	}

	c, err := h.contents.Get(r.Context(), proof.ContentID)
	if err != nil {
		apierrors.WriteErrorWithDetail(w, apierrors.ErrCodeContentNotFound, "unknown content", "contentId", proof.ContentID)
		return proofs.VerificationResult{}, false
	}

	return h.verifyProof(w, r, proof, c)
}

// verifyProof enforces the catalog price, runs the verification pipeline, and
// fires the payment webhook on success.
func (h *handlers) verifyProof(w http.ResponseWriter, r *http.Request, proof proofs.PaymentProof, c content.Content) (proofs.VerificationResult, bool) {
	claimed, err := proof.AmountAtomic()
	if err != nil {
		apierrors.WriteSimpleError(w, apierrors.ErrCodeInvalidAmount, err.Error())
		return proofs.VerificationResult{}, false
	}
	if claimed.Cmp(c.Price) < 0 {
		apierrors.WriteError(w, apierrors.ErrCodeAmountInsufficient,
			"claimed amount is below the content price", map[string]interface{}{
				"contentId": c.ID,
				"price":     c.Price.String(),
			})
		return proofs.VerificationResult{}, false
	}

	result, err := h.verifier.Verify(r.Context(), proof)
	if err != nil {
		if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			apierrors.WriteSimpleError(w, apierrors.ErrCodeRPCError, "verification timed out")
			return proofs.VerificationResult{}, false
		}
		apierrors.WriteSimpleError(w, apierrors.ErrCodeInternalError, "verification failed")
		return proofs.VerificationResult{}, false
	}

	if result.IsValid && h.notifier != nil {
		h.notifier.PaymentSucceeded(r.Context(), callbacks.PaymentEvent{
			ContentID:     proof.ContentID,
			TransactionID: proof.TransactionID,
			UserAddress:   proof.UserAddress,
			Amount:        proof.Amount,
			Token:         h.cfg.Verification.StablecoinAddress,
			Network:       h.cfg.Verification.Network,
			Metadata:      proof.Metadata,
		})
	}

	return result, true
}
