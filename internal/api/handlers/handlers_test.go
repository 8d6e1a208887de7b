package handlers

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/anair/spendsight/internal/domain"
	"github.com/anair/spendsight/internal/ledger"
	"github.com/anair/spendsight/internal/logger"
	"github.com/anair/spendsight/internal/userdir"
)

const testUser = "alice@example.com"

func testHandler(t *testing.T) (*TransactionsHandler, *ledger.Service) {
	t.Helper()
	svc := ledger.NewService(userdir.NewResolver(t.TempDir()))
	log := logger.NewWithWriter(&bytes.Buffer{})
	return NewTransactionsHandler(svc, nil, log), svc
}

func seed(t *testing.T, svc *ledger.Service, records ...domain.TransactionRecord) {
	t.Helper()
	for _, r := range records {
		if _, err := svc.Add(testUser, r); err != nil {
			t.Fatalf("seeding record: %v", err)
		}
	}
}

func post(path, body string) *http.Request {
	req := httptest.NewRequest(http.MethodPost, path, strings.NewReader(body))
	req.Header.Set("X-User-ID", testUser)
	return req
}

func errorKind(t *testing.T, body *bytes.Buffer) string {
	t.Helper()
	var resp struct {
		Error struct {
			Kind string `json:"kind"`
		} `json:"error"`
	}
	if err := json.Unmarshal(body.Bytes(), &resp); err != nil {
		t.Fatalf("decoding error body %q: %v", body.String(), err)
	}
	return resp.Error.Kind
}

func TestDateRange(t *testing.T) {
	h, svc := testHandler(t)
	seed(t, svc,
		domain.TransactionRecord{Amount: "1", Classification: "Miscellaneous", Date: "2026-01-16 12:00:00"},
		domain.TransactionRecord{Amount: "2", Classification: "Miscellaneous", Date: "2026-01-17 23:59:59"},
		domain.TransactionRecord{Amount: "3", Classification: "Miscellaneous", Date: "2026-01-18 00:00:01"},
	)

	w := httptest.NewRecorder()
	h.DateRange(w, post("/daterange", `{"startDate": "2026-01-17", "endDate": "2026-01-17"}`))

	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, body %s", w.Code, w.Body.String())
	}
	var records []domain.TransactionRecord
	if err := json.Unmarshal(w.Body.Bytes(), &records); err != nil {
		t.Fatalf("decoding response: %v", err)
	}
	if len(records) != 1 || records[0].Amount != "2" {
		t.Errorf("records = %v, want only the 2026-01-17 record", records)
	}
}

func TestDateRangeEmptyWindowIsArray(t *testing.T) {
	h, _ := testHandler(t)

	w := httptest.NewRecorder()
	h.DateRange(w, post("/daterange", `{"startDate": "2026-01-01", "endDate": "2026-01-02"}`))

	if w.Code != http.StatusOK {
		t.Fatalf("status = %d", w.Code)
	}
	if got := strings.TrimSpace(w.Body.String()); got != "[]" {
		t.Errorf("empty window must serialize as [], got %q", got)
	}
}

func TestDateRangeBadDates(t *testing.T) {
	h, _ := testHandler(t)

	w := httptest.NewRecorder()
	h.DateRange(w, post("/daterange", `{"startDate": "17-01-2026", "endDate": "2026-01-17"}`))

	if w.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", w.Code)
	}
	if kind := errorKind(t, w.Body); kind != "bad_request" {
		t.Errorf("error kind = %q", kind)
	}
}

func TestUserFromQueryFallback(t *testing.T) {
	h, svc := testHandler(t)
	seed(t, svc, domain.TransactionRecord{Amount: "1", Classification: "Miscellaneous", Date: "2026-01-17 12:00:00"})

	req := httptest.NewRequest(http.MethodPost, "/daterange?user="+testUser,
		strings.NewReader(`{"startDate": "2026-01-17", "endDate": "2026-01-17"}`))
	w := httptest.NewRecorder()
	h.DateRange(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want query param fallback to work", w.Code)
	}
}

func TestMissingUser(t *testing.T) {
	h, _ := testHandler(t)

	req := httptest.NewRequest(http.MethodPost, "/daterange", strings.NewReader(`{}`))
	w := httptest.NewRecorder()
	h.DateRange(w, req)

	if w.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400 without a user", w.Code)
	}
}

func TestReclassify(t *testing.T) {
	h, svc := testHandler(t)
	seed(t, svc, domain.TransactionRecord{Amount: "166", Classification: "Miscellaneous", Date: "2026-01-17 14:03:22"})

	w := httptest.NewRecorder()
	h.Reclassify(w, post("/reclassify",
		`{"original": {"Date": "2026-01-17 14:03:22"}, "newClassification": "Quick Commerce"}`))

	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, body %s", w.Code, w.Body.String())
	}
	var updated domain.TransactionRecord
	if err := json.Unmarshal(w.Body.Bytes(), &updated); err != nil {
		t.Fatalf("decoding response: %v", err)
	}
	if updated.Classification != "Quick Commerce" {
		t.Errorf("classification = %q", updated.Classification)
	}
}

func TestReclassifyNotFound(t *testing.T) {
	h, _ := testHandler(t)

	w := httptest.NewRecorder()
	h.Reclassify(w, post("/reclassify",
		`{"original": {"Date": "2026-01-17 14:03:22"}, "newClassification": "Grocery"}`))

	if w.Code != http.StatusNotFound {
		t.Fatalf("status = %d, want 404", w.Code)
	}
	if kind := errorKind(t, w.Body); kind != "not_found" {
		t.Errorf("error kind = %q", kind)
	}
}

func TestNormalize(t *testing.T) {
	h, svc := testHandler(t)
	seed(t, svc, domain.TransactionRecord{Amount: "100", Classification: "Eating Out", Date: "2026-01-17 20:00:00"})

	w := httptest.NewRecorder()
	h.Normalize(w, post("/normalize",
		`{"date": "2026-01-17 20:00:00", "payers": [{"name": "Ramesh", "amount": "30"}, {"name": "Anita", "amount": "20"}]}`))

	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, body %s", w.Code, w.Body.String())
	}
	var updated domain.TransactionRecord
	if err := json.Unmarshal(w.Body.Bytes(), &updated); err != nil {
		t.Fatalf("decoding response: %v", err)
	}
	if updated.Amount != "50" || updated.OriginalAmount != "100" || updated.PaidToMe != "50" {
		t.Errorf("normalized record = %+v", updated)
	}
}

func TestNormalizeClearsWithNullPayers(t *testing.T) {
	h, svc := testHandler(t)
	seed(t, svc, domain.TransactionRecord{Amount: "100", Classification: "Eating Out", Date: "2026-01-17 20:00:00"})

	w := httptest.NewRecorder()
	h.Normalize(w, post("/normalize", `{"date": "2026-01-17 20:00:00", "payers": [{"name": "R", "amount": "40"}]}`))
	if w.Code != http.StatusOK {
		t.Fatalf("first normalize status = %d", w.Code)
	}

	w = httptest.NewRecorder()
	h.Normalize(w, post("/normalize", `{"date": "2026-01-17 20:00:00", "payers": null}`))
	if w.Code != http.StatusOK {
		t.Fatalf("clearing normalize status = %d", w.Code)
	}
	var updated domain.TransactionRecord
	if err := json.Unmarshal(w.Body.Bytes(), &updated); err != nil {
		t.Fatalf("decoding response: %v", err)
	}
	if updated.Amount != "100" || updated.OriginalAmount != "" || len(updated.Payers) != 0 {
		t.Errorf("record after clearing = %+v, want original restored", updated)
	}
}

func TestAddTransaction(t *testing.T) {
	h, _ := testHandler(t)

	w := httptest.NewRecorder()
	h.AddTransaction(w, post("/add-transaction",
		`{"Amount": "₹1,299", "Receiver": "Amazon", "Date": "2026-01-18 11:30:00"}`))

	if w.Code != http.StatusCreated {
		t.Fatalf("status = %d, body %s", w.Code, w.Body.String())
	}
	var added domain.TransactionRecord
	if err := json.Unmarshal(w.Body.Bytes(), &added); err != nil {
		t.Fatalf("decoding response: %v", err)
	}
	if added.Amount != "1299" || added.Classification != "Ecommerce" {
		t.Errorf("added = %+v", added)
	}
}

func TestAddTransactionConflict(t *testing.T) {
	h, svc := testHandler(t)
	seed(t, svc, domain.TransactionRecord{Amount: "166", Classification: "Quick Commerce", Date: "2026-01-17 14:03:22"})

	w := httptest.NewRecorder()
	h.AddTransaction(w, post("/add-transaction", `{"Amount": "166", "Date": "2026-01-17 14:03:22"}`))

	if w.Code != http.StatusConflict {
		t.Fatalf("status = %d, want 409", w.Code)
	}
	if kind := errorKind(t, w.Body); kind != "conflict" {
		t.Errorf("error kind = %q", kind)
	}
}

func TestAddTransactionRejectsNegative(t *testing.T) {
	h, _ := testHandler(t)

	w := httptest.NewRecorder()
	h.AddTransaction(w, post("/add-transaction", `{"Amount": "-10", "Date": "2026-01-17 14:03:22"}`))

	if w.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", w.Code)
	}
}

func TestClassifyWithoutPipeline(t *testing.T) {
	h, _ := testHandler(t)

	w := httptest.NewRecorder()
	h.Classify(w, post("/classify", ""))

	if w.Code != http.StatusServiceUnavailable {
		t.Fatalf("status = %d, want 503 when no classifier is configured", w.Code)
	}
}

func TestListUsers(t *testing.T) {
	h, svc := testHandler(t)
	seed(t, svc, domain.TransactionRecord{Amount: "1", Classification: "Miscellaneous", Date: "2026-01-17 12:00:00"})

	req := httptest.NewRequest(http.MethodGet, "/users", nil)
	w := httptest.NewRecorder()
	h.ListUsers(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("status = %d", w.Code)
	}
	var resp struct {
		Users []string `json:"users"`
		Count int      `json:"count"`
	}
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decoding response: %v", err)
	}
	if resp.Count != 1 || len(resp.Users) != 1 || resp.Users[0] != "alice_example_com" {
		t.Errorf("users = %+v, want the seeded namespace", resp)
	}
}
