package sandbox_test

import (
	"bytes"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"
	"time"

	"github.com/gin-gonic/gin"

	"payments-e2e/builders"
	"payments-e2e/models"
	"payments-e2e/sandbox"
)

const apiKey = "prv_sandbox"

type fakeClock struct{ now time.Time }

func (f *fakeClock) Now() time.Time { return f.now }

func newTestStore(t *testing.T) *sandbox.Store {
	t.Helper()
	s, err := sandbox.OpenStore(filepath.Join(t.TempDir(), "sandbox.db"))
	if err != nil {
		t.Fatalf("failed to open test store: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func newTestRouter(t *testing.T, opts sandbox.Options) *gin.Engine {
	t.Helper()
	gin.SetMode(gin.TestMode)
	if opts.APIKey == "" {
		opts.APIKey = apiKey
	}
	return sandbox.NewRouter("sandbox-test", sandbox.NewHandler(newTestStore(t), opts))
}

func pseRequest(ref, bank string, amount int) models.PaymentRequest {
	return models.PaymentRequest{
		AmountInCents: amount,
		Currency:      "COP",
		CustomerEmail: "payer@example.com",
		Reference:     ref,
		PaymentMethod: models.PaymentMethod{
			Type:                     models.MethodPSE,
			UserType:                 models.UserTypePerson,
			UserLegalID:              "1999888777",
			UserLegalIDType:          "CC",
			FinancialInstitutionCode: bank,
			PaymentDescription:       "sandbox test",
		},
	}
}

func do(t *testing.T, r http.Handler, method, path, key string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			t.Fatalf("failed to encode body: %v", err)
		}
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	if key != "" {
		req.Header.Set("Authorization", "Bearer "+key)
	}
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w
}

func decodeTx(t *testing.T, w *httptest.ResponseRecorder) *models.TransactionData {
	t.Helper()
	var resp models.TransactionResponse
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatalf("invalid response body %s: %v", w.Body.String(), err)
	}
	if resp.Data == nil {
		t.Fatalf("expected data in %s", w.Body.String())
	}
	return resp.Data
}

func TestCreatePending(t *testing.T) {
	r := newTestRouter(t, sandbox.Options{})

	w := do(t, r, http.MethodPost, "/transactions", apiKey, pseRequest("REF_1", "1", 150000))
	if w.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d: %s", w.Code, w.Body.String())
	}
	tx := decodeTx(t, w)
	if tx.ID == "" || tx.Status != models.StatusPending {
		t.Fatalf("expected a pending transaction with id, got %+v", tx)
	}
	if tx.PaymentMethodType != models.MethodPSE || tx.RedirectURL == "" {
		t.Fatalf("expected PSE echo with redirect url, got %+v", tx)
	}
}

func TestCreateRequiresAPIKey(t *testing.T) {
	r := newTestRouter(t, sandbox.Options{})

	w := do(t, r, http.MethodPost, "/transactions", "INVALID_TOKEN", pseRequest("REF_1", "1", 1000))
	if w.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d", w.Code)
	}
	if !bytes.Contains(w.Body.Bytes(), []byte(`"message":"Unauthorized`)) {
		t.Fatalf("expected an unauthorized message, got %s", w.Body.String())
	}
}

func TestCreateRejections(t *testing.T) {
	r := newTestRouter(t, sandbox.Options{})

	w := do(t, r, http.MethodPost, "/transactions", apiKey, pseRequest("REF_BANK", "9999", 1000))
	if w.Code != http.StatusUnprocessableEntity {
		t.Fatalf("expected 422 for unknown bank, got %d", w.Code)
	}
	if !bytes.Contains(w.Body.Bytes(), []byte(`"message":"Invalid bank"`)) {
		t.Fatalf("expected invalid bank message, got %s", w.Body.String())
	}

	invalid := pseRequest("REF_AMOUNT", "1", 0)
	w = do(t, r, http.MethodPost, "/transactions", apiKey, invalid)
	if w.Code != http.StatusUnprocessableEntity {
		t.Fatalf("expected 422 for zero amount, got %d", w.Code)
	}

	noBank := pseRequest("REF_NOBANK", "", 1000)
	w = do(t, r, http.MethodPost, "/transactions", apiKey, noBank)
	if w.Code != http.StatusUnprocessableEntity {
		t.Fatalf("expected 422 for missing PSE field, got %d", w.Code)
	}

	if w := do(t, r, http.MethodPost, "/transactions", apiKey, pseRequest("REF_DUP", "1", 1000)); w.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d", w.Code)
	}
	if w := do(t, r, http.MethodPost, "/transactions", apiKey, pseRequest("REF_DUP", "1", 1000)); w.Code != http.StatusUnprocessableEntity {
		t.Fatalf("expected 422 for duplicate reference, got %d", w.Code)
	}
}

func TestCreateInsufficientFunds(t *testing.T) {
	r := newTestRouter(t, sandbox.Options{InsufficientAbove: 5000000})

	w := do(t, r, http.MethodPost, "/transactions", apiKey, pseRequest("REF_POOR", "1", 999999999))
	if w.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d", w.Code)
	}
	tx := decodeTx(t, w)
	if tx.Status != models.StatusDeclined || tx.StatusMessage != "Insufficient funds" {
		t.Fatalf("expected declined for insufficient funds, got %+v", tx)
	}
}

func TestCreateNequi(t *testing.T) {
	r := newTestRouter(t, sandbox.Options{})

	req := models.PaymentRequest{
		AmountInCents: 1000,
		Currency:      "COP",
		CustomerEmail: "nequi@example.com",
		Reference:     "REF_NEQUI",
		PaymentMethod: models.PaymentMethod{Type: models.MethodNequi, PhoneNumber: "3991111111"},
	}
	w := do(t, r, http.MethodPost, "/transactions", apiKey, req)
	if w.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d: %s", w.Code, w.Body.String())
	}

	req.Reference = "REF_NEQUI_NOPHONE"
	req.PaymentMethod.PhoneNumber = ""
	if w := do(t, r, http.MethodPost, "/transactions", apiKey, req); w.Code != http.StatusUnprocessableEntity {
		t.Fatalf("expected 422 without phone number, got %d", w.Code)
	}
}

func TestSignatureVerification(t *testing.T) {
	r := newTestRouter(t, sandbox.Options{IntegrityKey: "integrity"})

	req := pseRequest("REF_SIGNED", "1", 1000)
	if w := do(t, r, http.MethodPost, "/transactions", apiKey, req); w.Code != http.StatusUnprocessableEntity {
		t.Fatalf("expected 422 for unsigned request, got %d", w.Code)
	}

	req.Signature = builders.Signature(req.Reference, req.AmountInCents, req.Currency, "integrity")
	if w := do(t, r, http.MethodPost, "/transactions", apiKey, req); w.Code != http.StatusCreated {
		t.Fatalf("expected 201 for signed request, got %d: %s", w.Code, w.Body.String())
	}
}

func TestLookupApprovesThenExpires(t *testing.T) {
	clock := &fakeClock{now: time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)}
	r := newTestRouter(t, sandbox.Options{ExpireAfter: time.Minute, Now: clock.Now})

	fresh := decodeTx(t, do(t, r, http.MethodPost, "/transactions", apiKey, pseRequest("REF_FRESH", "1", 1000)))
	stale := decodeTx(t, do(t, r, http.MethodPost, "/transactions", apiKey, pseRequest("REF_STALE", "1", 1000)))

	clock.now = clock.now.Add(30 * time.Second)
	got := decodeTx(t, do(t, r, http.MethodGet, "/transactions/"+fresh.ID, apiKey, nil))
	if got.Status != models.StatusApproved || got.TotalPaid != 1000 {
		t.Fatalf("expected approved, got %+v", got)
	}

	clock.now = clock.now.Add(time.Minute)
	got = decodeTx(t, do(t, r, http.MethodGet, "/transactions/"+stale.ID, apiKey, nil))
	if got.Status != models.StatusError || got.StatusMessage != "Transaction expired" {
		t.Fatalf("expected expired, got %+v", got)
	}

	// Finalized transactions keep their status.
	got = decodeTx(t, do(t, r, http.MethodGet, "/transactions/"+fresh.ID, apiKey, nil))
	if got.Status != models.StatusApproved {
		t.Fatalf("expected approved to stick, got %s", got.Status)
	}
}

func TestLookupNotFound(t *testing.T) {
	r := newTestRouter(t, sandbox.Options{})
	if w := do(t, r, http.MethodGet, "/transactions/missing", apiKey, nil); w.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", w.Code)
	}
}

func TestListByReference(t *testing.T) {
	r := newTestRouter(t, sandbox.Options{})
	created := decodeTx(t, do(t, r, http.MethodPost, "/transactions", apiKey, pseRequest("REF_LIST", "1", 1000)))

	w := do(t, r, http.MethodGet, "/transactions?reference=REF_LIST", apiKey, nil)
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w.Code)
	}
	var list models.TransactionListResponse
	if err := json.Unmarshal(w.Body.Bytes(), &list); err != nil {
		t.Fatalf("invalid body: %v", err)
	}
	if len(list.Data) != 1 || list.Data[0].ID != created.ID {
		t.Fatalf("expected the created transaction, got %+v", list.Data)
	}

	w = do(t, r, http.MethodGet, "/transactions?reference=UNKNOWN", apiKey, nil)
	if err := json.Unmarshal(w.Body.Bytes(), &list); err != nil {
		t.Fatalf("invalid body: %v", err)
	}
	if len(list.Data) != 0 {
		t.Fatalf("expected an empty list, got %+v", list.Data)
	}

	if w := do(t, r, http.MethodGet, "/transactions", apiKey, nil); w.Code != http.StatusUnprocessableEntity {
		t.Fatalf("expected 422 without reference, got %d", w.Code)
	}
}

func TestStoreGetNotFound(t *testing.T) {
	s := newTestStore(t)
	_, _, err := s.Get("missing")
	if !errors.Is(err, sandbox.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestStoreUpdateSkipsUnchanged(t *testing.T) {
	s := newTestStore(t)
	created := time.Now()
	if err := s.Create(models.TransactionData{ID: "tx-1", Reference: "R1", Status: models.StatusPending}, created); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	got, err := s.Update("tx-1", func(d *models.TransactionData, _ time.Time) bool {
		d.Status = models.StatusVoided
		return false
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got.Status != models.StatusPending {
		t.Fatalf("expected the stored transaction back, got %s", got.Status)
	}

	stored, _, err := s.Get("tx-1")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if stored.Status != models.StatusPending {
		t.Fatalf("expected the write to be skipped, got %s", stored.Status)
	}
}
