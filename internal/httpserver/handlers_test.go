package httpserver

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/rs/zerolog"

	"github.com/bloom-paywall/server/internal/callbacks"
	"github.com/bloom-paywall/server/internal/config"
	"github.com/bloom-paywall/server/internal/content"
	apierrors "github.com/bloom-paywall/server/internal/errors"
	"github.com/bloom-paywall/server/pkg/proofs"
)

const (
	testWallet  = "0x5aAeb6053F3E94C9b9A09f33669435E7Ef1BeAed"
	testPayer   = "0x1111111111111111111111111111111111111111"
	testContent = "premium-article"
)

var testTxHash = "0x" + strings.Repeat("ab", 32)

type fakeVerifier struct {
	mu     sync.Mutex
	result proofs.VerificationResult
	err    error
	last   *proofs.PaymentProof
}

func (f *fakeVerifier) Verify(_ context.Context, proof proofs.PaymentProof) (proofs.VerificationResult, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.last = &proof
	return f.result, f.err
}

type fakeChain struct {
	head    uint64
	headErr error
}

func (f *fakeChain) TransactionByHash(context.Context, common.Hash) (*types.Transaction, bool, error) {
	return nil, false, errors.New("not implemented")
}

func (f *fakeChain) TransactionReceipt(context.Context, common.Hash) (*types.Receipt, error) {
	return nil, errors.New("not implemented")
}

func (f *fakeChain) BlockNumber(context.Context) (uint64, error) {
	return f.head, f.headErr
}

type recordingNotifier struct {
	mu     sync.Mutex
	events []callbacks.PaymentEvent
}

func (n *recordingNotifier) PaymentSucceeded(_ context.Context, event callbacks.PaymentEvent) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.events = append(n.events, event)
}

func (n *recordingNotifier) count() int {
	n.mu.Lock()
	defer n.mu.Unlock()
	return len(n.events)
}

type testServer struct {
	router   *chi.Mux
	verifier *fakeVerifier
	chain    *fakeChain
	notifier *recordingNotifier
}

func newTestServer(t *testing.T) *testServer {
	t.Helper()

	cfg := &config.Config{}
	cfg.Verification = config.VerificationConfig{
		Network:               "base",
		PlatformWallet:        testWallet,
		StablecoinAddress:     "0x833589fCD6eDb6E08f4c7C32D4f71b54bdA02913",
		MaxProofAge:           config.Duration{Duration: 30 * time.Minute},
		RequiredConfirmations: 3,
	}
	cfg.Content = config.ContentConfig{
		Resources: map[string]config.ContentResource{
			testContent: {
				ContentID:   testContent,
				Title:       "Premium Article",
				Description: "In-depth analysis",
				PriceAtomic: "1000000",
			},
		},
	}

	contents, err := content.NewConfigRepository(cfg.Content)
	if err != nil {
		t.Fatalf("content repository: %v", err)
	}

	ts := &testServer{
		router:   chi.NewRouter(),
		verifier: &fakeVerifier{},
		chain:    &fakeChain{head: 100},
		notifier: &recordingNotifier{},
	}
	ConfigureRouter(ts.router, cfg, contents, ts.verifier, ts.chain, ts.notifier, nil, zerolog.Nop())
	return ts
}

func validResult() proofs.VerificationResult {
	return proofs.VerificationResult{
		IsValid: true,
		Checks: proofs.Checks{
			TimestampValid:    true,
			NotReplayed:       true,
			TransactionExists: true,
			TokenCorrect:      true,
			RecipientCorrect:  true,
			AmountMatches:     true,
		},
		Transaction: &proofs.TransactionFacts{
			BlockNumber:   97,
			From:          testPayer,
			Status:        "success",
			Confirmations: 3,
		},
	}
}

func testProof() proofs.PaymentProof {
	return proofs.PaymentProof{
		TransactionID: testTxHash,
		Amount:        "1000000",
		ContentID:     testContent,
		UserAddress:   testPayer,
		Timestamp:     time.Now().Unix(),
	}
}

func (ts *testServer) do(t *testing.T, method, path string, body any, headers map[string]string) *httptest.ResponseRecorder {
	t.Helper()

	var reader *bytes.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		if err != nil {
			t.Fatalf("marshal body: %v", err)
		}
		reader = bytes.NewReader(raw)
	} else {
		reader = bytes.NewReader(nil)
	}

	req := httptest.NewRequest(method, path, reader)
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	w := httptest.NewRecorder()
	ts.router.ServeHTTP(w, req)
	return w
}

func decodeBody(t *testing.T, w *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var out map[string]any
	if err := json.Unmarshal(w.Body.Bytes(), &out); err != nil {
		t.Fatalf("decode response: %v (body: %s)", err, w.Body.String())
	}
	return out
}

func TestHealth(t *testing.T) {
	ts := newTestServer(t)

	w := ts.do(t, http.MethodGet, "/bloom-health", nil, nil)
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", w.Code)
	}
	body := decodeBody(t, w)
	if body["status"] != "ok" {
		t.Errorf("status = %v", body["status"])
	}
	if body["network"] != "base" {
		t.Errorf("network = %v", body["network"])
	}
}

func TestHealth_DegradedWhenRPCDown(t *testing.T) {
	ts := newTestServer(t)
	ts.chain.headErr = errors.New("connection refused")

	w := ts.do(t, http.MethodGet, "/bloom-health", nil, nil)
	if w.Code != http.StatusServiceUnavailable {
		t.Fatalf("status = %d, want 503", w.Code)
	}
	if body := decodeBody(t, w); body["status"] != "degraded" {
		t.Errorf("status = %v, want degraded", body["status"])
	}
}

func TestListContent(t *testing.T) {
	ts := newTestServer(t)

	w := ts.do(t, http.MethodGet, "/paywall/v1/content", nil, nil)
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", w.Code)
	}
	body := decodeBody(t, w)
	items, ok := body["content"].([]any)
	if !ok || len(items) != 1 {
		t.Fatalf("content = %v, want one item", body["content"])
	}
	item := items[0].(map[string]any)
	if item["id"] != testContent || item["price"] != "1000000" {
		t.Errorf("item = %v", item)
	}
}

func TestQuote(t *testing.T) {
	ts := newTestServer(t)

	w := ts.do(t, http.MethodPost, "/paywall/v1/quote", map[string]string{"contentId": testContent}, nil)
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", w.Code)
	}
	body := decodeBody(t, w)
	if body["price"] != "1000000" {
		t.Errorf("price = %v", body["price"])
	}
	if body["recipient"] != testWallet {
		t.Errorf("recipient = %v", body["recipient"])
	}
	if body["chainId"] != float64(8453) {
		t.Errorf("chainId = %v", body["chainId"])
	}
}

func TestQuote_UnknownContent(t *testing.T) {
	ts := newTestServer(t)

	w := ts.do(t, http.MethodPost, "/paywall/v1/quote", map[string]string{"contentId": "missing"}, nil)
	if w.Code != http.StatusNotFound {
		t.Fatalf("status = %d, want 404", w.Code)
	}
}

func TestVerify_Success(t *testing.T) {
	ts := newTestServer(t)
	ts.verifier.result = validResult()

	w := ts.do(t, http.MethodPost, "/paywall/v1/verify", testProof(), nil)
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200 (body: %s)", w.Code, w.Body.String())
	}
	body := decodeBody(t, w)
	if body["success"] != true || body["isValid"] != true {
		t.Errorf("body = %v", body)
	}
	if ts.notifier.count() != 1 {
		t.Errorf("webhook fired %d times, want 1", ts.notifier.count())
	}
}

func TestVerify_PaymentRejection(t *testing.T) {
	ts := newTestServer(t)
	ts.verifier.result = proofs.VerificationResult{
		IsValid:       false,
		FailureCode:   apierrors.ErrCodeReplayDetected,
		FailureReason: "payment has already been used for this content",
	}

	w := ts.do(t, http.MethodPost, "/paywall/v1/verify", testProof(), nil)
	if w.Code != http.StatusPaymentRequired {
		t.Fatalf("status = %d, want 402", w.Code)
	}
	body := decodeBody(t, w)
	if body["failureCode"] != string(apierrors.ErrCodeReplayDetected) {
		t.Errorf("failureCode = %v", body["failureCode"])
	}
	msg, _ := body["message"].(string)
	if msg != proofs.UserFriendlyMessage(apierrors.ErrCodeReplayDetected) {
		t.Errorf("message = %q, want the friendly replay rendering", msg)
	}
	if ts.notifier.count() != 0 {
		t.Error("webhook must not fire on rejection")
	}
}

func TestVerify_RPCErrorIs502(t *testing.T) {
	ts := newTestServer(t)
	ts.verifier.result = proofs.VerificationResult{
		IsValid:     false,
		FailureCode: apierrors.ErrCodeRPCError,
	}

	w := ts.do(t, http.MethodPost, "/paywall/v1/verify", testProof(), nil)
	if w.Code != http.StatusBadGateway {
		t.Fatalf("status = %d, want 502", w.Code)
	}
}

func TestVerify_UnknownContent(t *testing.T) {
	ts := newTestServer(t)

	proof := testProof()
	proof.ContentID = "missing"
	w := ts.do(t, http.MethodPost, "/paywall/v1/verify", proof, nil)
	if w.Code != http.StatusNotFound {
		t.Fatalf("status = %d, want 404", w.Code)
	}
}

func TestVerify_AmountBelowPrice(t *testing.T) {
	ts := newTestServer(t)
	ts.verifier.result = validResult()

	proof := testProof()
	proof.Amount = "999999"
	w := ts.do(t, http.MethodPost, "/paywall/v1/verify", proof, nil)
	if w.Code != http.StatusPaymentRequired {
		t.Fatalf("status = %d, want 402", w.Code)
	}
	if ts.verifier.last != nil {
		t.Error("price enforcement must reject before the pipeline runs")
	}
}

func TestProtectedContent_NoHeader(t *testing.T) {
	ts := newTestServer(t)

	w := ts.do(t, http.MethodGet, "/paywall/v1/content/"+testContent, nil, nil)
	if w.Code != http.StatusPaymentRequired {
		t.Fatalf("status = %d, want 402", w.Code)
	}
	body := decodeBody(t, w)
	errObj := body["error"].(map[string]any)
	accepts, ok := errObj["details"].(map[string]any)["accepts"].(map[string]any)
	if !ok {
		t.Fatalf("402 must carry payment parameters, got %s", w.Body.String())
	}
	if accepts["price"] != "1000000" || accepts["recipient"] != testWallet {
		t.Errorf("accepts = %v", accepts)
	}
}

func TestProtectedContent_ValidProof(t *testing.T) {
	ts := newTestServer(t)
	ts.verifier.result = validResult()

	raw, err := json.Marshal(testProof())
	if err != nil {
		t.Fatalf("marshal proof: %v", err)
	}
	w := ts.do(t, http.MethodGet, "/paywall/v1/content/"+testContent, nil, map[string]string{
		"X-PAYMENT": string(raw),
	})
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200 (body: %s)", w.Code, w.Body.String())
	}
	body := decodeBody(t, w)
	if body["granted"] != true || body["title"] != "Premium Article" {
		t.Errorf("body = %v", body)
	}
	if w.Header().Get("X-PAYMENT-RESPONSE") == "" {
		t.Error("expected X-PAYMENT-RESPONSE header on success")
	}
	if ts.notifier.count() != 1 {
		t.Errorf("webhook fired %d times, want 1", ts.notifier.count())
	}
}

func TestProtectedContent_ContentMismatch(t *testing.T) {
	ts := newTestServer(t)

	proof := testProof()
	proof.ContentID = "some-other-content"
	raw, _ := json.Marshal(proof)
	w := ts.do(t, http.MethodGet, "/paywall/v1/content/"+testContent, nil, map[string]string{
		"X-PAYMENT": string(raw),
	})
	if w.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", w.Code)
	}
}

func TestProtectedContent_MalformedHeader(t *testing.T) {
	ts := newTestServer(t)

	w := ts.do(t, http.MethodGet, "/paywall/v1/content/"+testContent, nil, map[string]string{
		"X-PAYMENT": "!!garbage!!",
	})
	if w.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", w.Code)
	}
}

func TestSecurityHeaders(t *testing.T) {
	ts := newTestServer(t)

	w := ts.do(t, http.MethodGet, "/bloom-health", nil, nil)
	if got := w.Header().Get("X-Content-Type-Options"); got != "nosniff" {
		t.Errorf("X-Content-Type-Options = %q", got)
	}
	if got := w.Header().Get("X-Frame-Options"); got != "DENY" {
		t.Errorf("X-Frame-Options = %q", got)
	}
}

func TestMetricsAuth(t *testing.T) {
	cfg := &config.Config{}
	cfg.Server.AdminMetricsAPIKey = "secret"
	cfg.Verification = config.VerificationConfig{Network: "base", PlatformWallet: testWallet}

	contents, err := content.NewConfigRepository(config.ContentConfig{})
	if err != nil {
		t.Fatalf("content repository: %v", err)
	}

	router := chi.NewRouter()
	ConfigureRouter(router, cfg, contents, &fakeVerifier{}, &fakeChain{}, callbacks.NoopNotifier{}, nil, zerolog.Nop())

	req := httptest.NewRequest(http.MethodGet, "/metrics", nil)
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)
	if w.Code != http.StatusUnauthorized {
		t.Fatalf("unauthenticated /metrics status = %d, want 401", w.Code)
	}

	req = httptest.NewRequest(http.MethodGet, "/metrics", nil)
	req.Header.Set("Authorization", "Bearer secret")
	w = httptest.NewRecorder()
	router.ServeHTTP(w, req)
	if w.Code != http.StatusOK {
		t.Fatalf("authenticated /metrics status = %d, want 200", w.Code)
	}
	if !strings.Contains(w.Body.String(), "go_") && w.Body.Len() == 0 {
		t.Error("expected metrics exposition output")
	}
}
