package proofs

import (
	"encoding/base64"
	"encoding/json"
	"errors"
	"strings"
	"testing"
	"time"
)

func validProof() PaymentProof {
	return PaymentProof{
		TransactionID: "0x" + strings.Repeat("ab", 32),
		Amount:        "1000000",
		ContentID:     "premium-article",
		UserAddress:   "0x5aAeb6053F3E94C9b9A09f33669435E7Ef1BeAed",
		Timestamp:     time.Now().Unix(),
	}
}

func TestPaymentProof_Validate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*PaymentProof)
		wantErr bool
	}{
		{name: "valid", mutate: func(p *PaymentProof) {}},
		{name: "missing tx hash", mutate: func(p *PaymentProof) { p.TransactionID = "" }, wantErr: true},
		{name: "short tx hash", mutate: func(p *PaymentProof) { p.TransactionID = "0xabc" }, wantErr: true},
		{name: "missing content", mutate: func(p *PaymentProof) { p.ContentID = "" }, wantErr: true},
		{name: "missing user", mutate: func(p *PaymentProof) { p.UserAddress = "" }, wantErr: true},
		{name: "malformed address", mutate: func(p *PaymentProof) { p.UserAddress = "not-an-address" }, wantErr: true},
		{name: "missing amount", mutate: func(p *PaymentProof) { p.Amount = "" }, wantErr: true},
		{name: "fractional amount", mutate: func(p *PaymentProof) { p.Amount = "1.5" }, wantErr: true},
		{name: "negative amount", mutate: func(p *PaymentProof) { p.Amount = "-5" }, wantErr: true},
		{name: "zero timestamp", mutate: func(p *PaymentProof) { p.Timestamp = 0 }, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			proof := validProof()
			tt.mutate(&proof)
			err := proof.Validate()
			if tt.wantErr && err == nil {
				t.Error("expected error, got nil")
			}
			if !tt.wantErr && err != nil {
				t.Errorf("unexpected error: %v", err)
			}
		})
	}
}

func TestPaymentProof_AmountAtomic(t *testing.T) {
	proof := validProof()
	proof.Amount = "123456789012345678901234567890"

	amount, err := proof.AmountAtomic()
	if err != nil {
		t.Fatalf("AmountAtomic failed: %v", err)
	}
	if amount.String() != proof.Amount {
		t.Errorf("amount = %s, want %s (no precision loss)", amount, proof.Amount)
	}
}

func TestParsePaymentProof_Base64AndJSON(t *testing.T) {
	proof := validProof()
	raw, err := json.Marshal(proof)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}

	fromJSON, err := ParsePaymentProof(string(raw))
	if err != nil {
		t.Fatalf("ParsePaymentProof(json) failed: %v", err)
	}
	if fromJSON.TransactionID != proof.TransactionID {
		t.Errorf("TransactionID = %q", fromJSON.TransactionID)
	}

	fromB64, err := ParsePaymentProof(base64.StdEncoding.EncodeToString(raw))
	if err != nil {
		t.Fatalf("ParsePaymentProof(base64) failed: %v", err)
	}
	if fromB64.ContentID != proof.ContentID {
		t.Errorf("ContentID = %q", fromB64.ContentID)
	}

	fromRawB64, err := ParsePaymentProof(base64.RawStdEncoding.EncodeToString(raw))
	if err != nil {
		t.Fatalf("ParsePaymentProof(raw base64) failed: %v", err)
	}
	if fromRawB64.UserAddress != proof.UserAddress {
		t.Errorf("UserAddress = %q", fromRawB64.UserAddress)
	}
}

func TestParsePaymentProof_Invalid(t *testing.T) {
	if _, err := ParsePaymentProof(""); err == nil {
		t.Error("expected error for empty header")
	}
	if _, err := ParsePaymentProof("!!not-base64!!"); err == nil {
		t.Error("expected error for undecodable header")
	}
	if _, err := ParsePaymentProof("{\"transactionId\":\"0xabc\"}"); err == nil {
		t.Error("expected error for structurally invalid proof")
	}
	if !errors.Is(func() error {
		_, err := ParsePaymentProof(`{"amount":"1","contentId":"c","userAddress":"0x5aAeb6053F3E94C9b9A09f33669435E7Ef1BeAed","timestamp":1}`)
		return err
	}(), ErrMissingField) {
		t.Error("expected ErrMissingField for absent transactionId")
	}
}

func TestChecks_AllPassed(t *testing.T) {
	var checks Checks
	if checks.AllPassed() {
		t.Error("zero Checks should not pass")
	}
	checks = Checks{
		TimestampValid:    true,
		NotReplayed:       true,
		TransactionExists: true,
		TokenCorrect:      true,
		RecipientCorrect:  true,
		AmountMatches:     true,
	}
	if !checks.AllPassed() {
		t.Error("fully-set Checks should pass")
	}
}
