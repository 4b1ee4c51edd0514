package httpserver

import (
	"encoding/base64"
	"encoding/json"
	"net/http"

	apierrors "github.com/bloom-paywall/server/internal/errors"
	"github.com/bloom-paywall/server/pkg/proofs"
	"github.com/bloom-paywall/server/pkg/responders"
)

// verifyResponse is the wire shape of a verification outcome. Message is a
// submitter-safe rendering of the failure code; FailureReason stays technical.
type verifyResponse struct {
	Success bool   `json:"success"`
	Message string `json:"message,omitempty"`
	proofs.VerificationResult
}

// writeVerificationResult writes the result with the HTTP status implied by
// its failure code: 200 for a valid payment, 402 for payment rejections,
// 502 for upstream RPC trouble.
func writeVerificationResult(w http.ResponseWriter, result proofs.VerificationResult) {
	status := http.StatusOK
	resp := verifyResponse{Success: result.IsValid, VerificationResult: result}
	if !result.IsValid {
		status = result.FailureCode.HTTPStatus()
		resp.Message = proofs.UserFriendlyMessage(result.FailureCode)
	}
	responders.JSON(w, status, resp)
}

// paymentRequiredResponse sends a 402 with the payment parameters the client
// needs to construct the on-chain payment and retry with an X-PAYMENT header.
func paymentRequiredResponse(w http.ResponseWriter, params map[string]any) {
	resp := apierrors.NewErrorResponse(apierrors.ErrCodeMissingField, "payment required", map[string]interface{}{
		"accepts": params,
	})
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusPaymentRequired)
	json.NewEncoder(w).Encode(resp)
}

// addVerificationHeader attaches the base64-encoded verification result as an
// X-PAYMENT-RESPONSE header so intermediaries can relay it without parsing
// the body.
func addVerificationHeader(w http.ResponseWriter, result proofs.VerificationResult) {
	payload, err := json.Marshal(result)
	if err != nil {
		return
	}
	w.Header().Set("X-PAYMENT-RESPONSE", base64.StdEncoding.EncodeToString(payload))
}
