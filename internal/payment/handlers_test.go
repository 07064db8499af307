package payment

import (
	"bytes"
	"encoding/json"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
)

func init() {
	gin.SetMode(gin.TestMode)
}

func setupRouter(provider *mockProvider) (*gin.Engine, *Service) {
	svc := NewService(NewMemoryStore(), "RWF", slog.Default())
	if provider != nil {
		svc = svc.WithProvider(MethodMoMo, provider)
	}

	r := gin.New()
	NewHandler(svc).RegisterRoutes(r.Group("/v1"))
	return r, svc
}

func doJSON(t *testing.T, r *gin.Engine, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			t.Fatalf("encode body: %v", err)
		}
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w
}

func decodeTransaction(t *testing.T, w *httptest.ResponseRecorder) *Transaction {
	t.Helper()
	var resp struct {
		Transaction *Transaction `json:"transaction"`
	}
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	return resp.Transaction
}

func errorCode(t *testing.T, w *httptest.ResponseRecorder) string {
	t.Helper()
	var resp struct {
		Error string `json:"error"`
	}
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode error response: %v", err)
	}
	return resp.Error
}

func initiateBody() map[string]any {
	return map[string]any{
		"farmerId":      "farmer-1",
		"transporterId": "trans-1",
		"orderId":       "order-1",
		"amount":        "15000",
		"paymentMethod": "momo",
	}
}

// ---------- POST /v1/transactions ----------

func TestHandlerInitiate(t *testing.T) {
	r, _ := setupRouter(nil)

	w := doJSON(t, r, http.MethodPost, "/v1/transactions", initiateBody())
	if w.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d: %s", w.Code, w.Body.String())
	}

	tx := decodeTransaction(t, w)
	if tx.Status != StatusInitiated {
		t.Errorf("expected INITIATED, got %s", tx.Status)
	}
	if tx.Amount != "15000.00" {
		t.Errorf("expected normalized amount, got %s", tx.Amount)
	}
}

func TestHandlerInitiate_MissingFields(t *testing.T) {
	r, _ := setupRouter(nil)

	w := doJSON(t, r, http.MethodPost, "/v1/transactions", map[string]any{"farmerId": "farmer-1"})
	if w.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", w.Code)
	}
	if errorCode(t, w) != "invalid_request" {
		t.Errorf("expected invalid_request, got %s", errorCode(t, w))
	}
}

func TestHandlerInitiate_ValidationError(t *testing.T) {
	r, _ := setupRouter(nil)

	body := initiateBody()
	body["amount"] = "-500"
	w := doJSON(t, r, http.MethodPost, "/v1/transactions", body)
	if w.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", w.Code)
	}
	if errorCode(t, w) != "validation_error" {
		t.Errorf("expected validation_error, got %s", errorCode(t, w))
	}
}

// ---------- lifecycle routes ----------

func TestHandlerProcessAndConfirm(t *testing.T) {
	provider := &mockProvider{initStatus: ProviderPending, pollStatus: ProviderSucceeded}
	r, _ := setupRouter(provider)

	w := doJSON(t, r, http.MethodPost, "/v1/transactions", initiateBody())
	tx := decodeTransaction(t, w)

	w = doJSON(t, r, http.MethodPost, "/v1/transactions/"+tx.ID+"/process",
		map[string]any{"payerHandle": "0788123456"})
	if w.Code != http.StatusOK {
		t.Fatalf("process: expected 200, got %d: %s", w.Code, w.Body.String())
	}
	if got := decodeTransaction(t, w).Status; got != StatusPaymentProcessing {
		t.Errorf("expected PAYMENT_PROCESSING, got %s", got)
	}

	w = doJSON(t, r, http.MethodPost, "/v1/transactions/"+tx.ID+"/confirm", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("confirm: expected 200, got %d: %s", w.Code, w.Body.String())
	}
	if got := decodeTransaction(t, w).Status; got != StatusPaymentConfirmed {
		t.Errorf("expected PAYMENT_CONFIRMED, got %s", got)
	}
}

func TestHandlerProcess_NotFound(t *testing.T) {
	r, _ := setupRouter(&mockProvider{initStatus: ProviderPending})

	w := doJSON(t, r, http.MethodPost, "/v1/transactions/txn_missing/process",
		map[string]any{"payerHandle": "0788123456"})
	if w.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", w.Code)
	}
	if errorCode(t, w) != "not_found" {
		t.Errorf("expected not_found, got %s", errorCode(t, w))
	}
}

func TestHandlerCancel_AfterConfirmation(t *testing.T) {
	provider := &mockProvider{initStatus: ProviderSucceeded}
	r, _ := setupRouter(provider)

	w := doJSON(t, r, http.MethodPost, "/v1/transactions", initiateBody())
	tx := decodeTransaction(t, w)

	doJSON(t, r, http.MethodPost, "/v1/transactions/"+tx.ID+"/process",
		map[string]any{"payerHandle": "0788123456"})

	w = doJSON(t, r, http.MethodPost, "/v1/transactions/"+tx.ID+"/cancel",
		map[string]any{"reason": "changed my mind"})
	if w.Code != http.StatusConflict {
		t.Fatalf("expected 409, got %d", w.Code)
	}
	if errorCode(t, w) != "invalid_state_for_cancel" {
		t.Errorf("expected invalid_state_for_cancel, got %s", errorCode(t, w))
	}
}

func TestHandlerProviderCallback(t *testing.T) {
	provider := &mockProvider{initStatus: ProviderPending, pollStatus: ProviderSucceeded}
	r, _ := setupRouter(provider)

	w := doJSON(t, r, http.MethodPost, "/v1/transactions", initiateBody())
	tx := decodeTransaction(t, w)

	doJSON(t, r, http.MethodPost, "/v1/transactions/"+tx.ID+"/process",
		map[string]any{"payerHandle": "0788123456"})

	w = doJSON(t, r, http.MethodPost, "/v1/payments/callback",
		map[string]any{"reference": tx.PaymentReference})
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", w.Code, w.Body.String())
	}
	if got := decodeTransaction(t, w).Status; got != StatusPaymentConfirmed {
		t.Errorf("expected PAYMENT_CONFIRMED, got %s", got)
	}
}

// ---------- read routes ----------

func TestHandlerGetByReference(t *testing.T) {
	r, _ := setupRouter(nil)

	w := doJSON(t, r, http.MethodPost, "/v1/transactions", initiateBody())
	tx := decodeTransaction(t, w)

	w = doJSON(t, r, http.MethodGet, "/v1/transactions?reference="+tx.PaymentReference, nil)
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w.Code)
	}
	if got := decodeTransaction(t, w).ID; got != tx.ID {
		t.Errorf("expected %s, got %s", tx.ID, got)
	}

	w = doJSON(t, r, http.MethodGet, "/v1/transactions", nil)
	if w.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 without reference, got %d", w.Code)
	}
}

func TestHandlerListByUser(t *testing.T) {
	r, _ := setupRouter(nil)

	doJSON(t, r, http.MethodPost, "/v1/transactions", initiateBody())
	body := initiateBody()
	body["orderId"] = "order-2"
	doJSON(t, r, http.MethodPost, "/v1/transactions", body)

	w := doJSON(t, r, http.MethodGet, "/v1/users/farmer-1/transactions", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w.Code)
	}

	var resp struct {
		Count int `json:"count"`
	}
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if resp.Count != 2 {
		t.Errorf("expected 2 transactions, got %d", resp.Count)
	}
}
