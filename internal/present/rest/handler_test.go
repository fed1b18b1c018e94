package rest

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/labstack/echo/v4"

	"github.com/propdao/propindex/internal/domain"
	"github.com/propdao/propindex/internal/present/rest/middleware"
	"github.com/propdao/propindex/internal/usecase"
)

// --- mocks ---

type mockLedgerRepo struct {
	state    domain.LedgerState
	balances map[string]uint64
}

func (m *mockLedgerRepo) State(ctx context.Context) (domain.LedgerState, error) {
	return m.state, nil
}
func (m *mockLedgerRepo) SetPaused(ctx context.Context, paused bool) error {
	m.state.Paused = paused
	return nil
}
func (m *mockLedgerRepo) SetAuthorizedUpdater(ctx context.Context, addr string) error {
	m.state.AuthorizedUpdater = addr
	return nil
}
func (m *mockLedgerRepo) BalanceOf(ctx context.Context, addr string) (uint64, error) {
	return m.balances[addr], nil
}
func (m *mockLedgerRepo) Allowance(ctx context.Context, owner, spender string) (uint64, error) {
	return 0, nil
}
func (m *mockLedgerRepo) Transfer(ctx context.Context, from, to string, amount uint64) error {
	if m.balances[from] < amount {
		return domain.ErrInsufficientBalance
	}
	m.balances[from] -= amount
	m.balances[to] += amount
	return nil
}
func (m *mockLedgerRepo) TransferFrom(ctx context.Context, spender, from, to string, amount uint64) error {
	return domain.ErrInsufficientAllowance
}
func (m *mockLedgerRepo) Approve(ctx context.Context, owner, spender string, amount uint64) error {
	return nil
}
func (m *mockLedgerRepo) Burn(ctx context.Context, from string, amount uint64) error {
	if m.balances[from] < amount {
		return domain.ErrInsufficientBalance
	}
	m.balances[from] -= amount
	m.state.TotalSupply -= amount
	return nil
}
func (m *mockLedgerRepo) Seed(ctx context.Context, owner string, supply uint64) error {
	m.state.TotalSupply = supply
	m.balances[owner] = supply
	return nil
}

// --- tests ---

const (
	testOwner = "0x1000000000000000000000000000000000000001"
	testAlice = "0x2000000000000000000000000000000000000002"
)

func newTestServer(t *testing.T) (*echo.Echo, *mockLedgerRepo) {
	t.Helper()

	owner, err := domain.NormalizeAddress(testOwner)
	if err != nil {
		t.Fatalf("normalize owner: %v", err)
	}

	repo := &mockLedgerRepo{balances: map[string]uint64{}}
	ledger := usecase.NewLedgerUsecase(repo, owner)
	if err := ledger.Seed(context.Background(), 1_000_000); err != nil {
		t.Fatalf("seed failed: %v", err)
	}

	h := NewHandler(ledger, nil, nil, nil, nil, nil)

	e := echo.New()
	e.Use(middleware.IdentifyCaller)
	h.RegisterRoutes(e)
	return e, repo
}

func decodeEnvelope(t *testing.T, res *httptest.ResponseRecorder) (bool, json.RawMessage, string) {
	t.Helper()
	var envelope struct {
		Success   bool            `json:"success"`
		Data      json.RawMessage `json:"data"`
		Error     string          `json:"error"`
		Code      string          `json:"code"`
		Timestamp string          `json:"timestamp"`
	}
	if err := json.Unmarshal(res.Body.Bytes(), &envelope); err != nil {
		t.Fatalf("invalid envelope: %v (%s)", err, res.Body.String())
	}
	if envelope.Timestamp == "" {
		t.Fatalf("envelope missing timestamp")
	}
	return envelope.Success, envelope.Data, envelope.Code
}

func TestHandleHealth(t *testing.T) {
	e, _ := newTestServer(t)

	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	res := httptest.NewRecorder()
	e.ServeHTTP(res, req)

	if res.Code != http.StatusOK {
		t.Fatalf("expected 200 got %d", res.Code)
	}
	success, _, _ := decodeEnvelope(t, res)
	if !success {
		t.Fatalf("expected success envelope")
	}
}

func TestTransferRequiresCaller(t *testing.T) {
	e, _ := newTestServer(t)

	body, _ := json.Marshal(map[string]any{"to": testAlice, "amount": 100})
	req := httptest.NewRequest(http.MethodPost, "/ledger/transfer", bytes.NewReader(body))
	req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	res := httptest.NewRecorder()
	e.ServeHTTP(res, req)

	if res.Code != http.StatusForbidden {
		t.Fatalf("expected 403 got %d", res.Code)
	}
	success, _, code := decodeEnvelope(t, res)
	if success || code != "UNAUTHORIZED" {
		t.Fatalf("expected UNAUTHORIZED envelope, got code %q", code)
	}
}

func TestTransferMovesBalance(t *testing.T) {
	e, _ := newTestServer(t)

	body, _ := json.Marshal(map[string]any{"to": testAlice, "amount": 250})
	req := httptest.NewRequest(http.MethodPost, "/ledger/transfer", bytes.NewReader(body))
	req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	req.Header.Set(middleware.CallerHeader, testOwner)
	res := httptest.NewRecorder()
	e.ServeHTTP(res, req)

	if res.Code != http.StatusOK {
		t.Fatalf("expected 200 got %d (%s)", res.Code, res.Body.String())
	}

	req = httptest.NewRequest(http.MethodGet, "/ledger/balance/"+testAlice, nil)
	res = httptest.NewRecorder()
	e.ServeHTTP(res, req)

	if res.Code != http.StatusOK {
		t.Fatalf("expected 200 got %d", res.Code)
	}
	_, data, _ := decodeEnvelope(t, res)
	var balance domain.Balance
	if err := json.Unmarshal(data, &balance); err != nil {
		t.Fatalf("invalid balance payload: %v", err)
	}
	if balance.Amount != 250 {
		t.Fatalf("expected balance 250, got %d", balance.Amount)
	}
}

func TestTransferValidationErrors(t *testing.T) {
	e, _ := newTestServer(t)

	body, _ := json.Marshal(map[string]any{"to": testAlice, "amount": 0})
	req := httptest.NewRequest(http.MethodPost, "/ledger/transfer", bytes.NewReader(body))
	req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	req.Header.Set(middleware.CallerHeader, testOwner)
	res := httptest.NewRecorder()
	e.ServeHTTP(res, req)

	if res.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 got %d", res.Code)
	}
	_, _, code := decodeEnvelope(t, res)
	if code != "INVALID_AMOUNT" {
		t.Fatalf("expected INVALID_AMOUNT, got %q", code)
	}
}

func TestMalformedCallerHeaderRejected(t *testing.T) {
	e, _ := newTestServer(t)

	body, _ := json.Marshal(map[string]any{"to": testAlice, "amount": 100})
	req := httptest.NewRequest(http.MethodPost, "/ledger/transfer", bytes.NewReader(body))
	req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	req.Header.Set(middleware.CallerHeader, "nonsense")
	res := httptest.NewRecorder()
	e.ServeHTTP(res, req)

	if res.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 got %d (%s)", res.Code, res.Body.String())
	}
	success, _, code := decodeEnvelope(t, res)
	if success || code != "INVALID_ADDRESS" {
		t.Fatalf("expected INVALID_ADDRESS envelope, got code %q", code)
	}
}

func TestBalanceReportsNormalizedAddress(t *testing.T) {
	e, _ := newTestServer(t)

	// Same account, non-canonical spelling in the path.
	raw := "0X" + testAlice[2:]
	req := httptest.NewRequest(http.MethodGet, "/ledger/balance/"+raw, nil)
	res := httptest.NewRecorder()
	e.ServeHTTP(res, req)

	if res.Code != http.StatusOK {
		t.Fatalf("expected 200 got %d (%s)", res.Code, res.Body.String())
	}
	_, data, _ := decodeEnvelope(t, res)
	var balance domain.Balance
	if err := json.Unmarshal(data, &balance); err != nil {
		t.Fatalf("invalid balance payload: %v", err)
	}
	if balance.Address != testAlice {
		t.Fatalf("expected normalized address %s, got %s", testAlice, balance.Address)
	}

	req = httptest.NewRequest(http.MethodGet, "/ledger/balance/nonsense", nil)
	res = httptest.NewRecorder()
	e.ServeHTTP(res, req)
	if res.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 got %d", res.Code)
	}
	_, _, code := decodeEnvelope(t, res)
	if code != "INVALID_ADDRESS" {
		t.Fatalf("expected INVALID_ADDRESS, got %q", code)
	}
}

func TestTransferInsufficientBalanceConflict(t *testing.T) {
	e, _ := newTestServer(t)

	body, _ := json.Marshal(map[string]any{"to": testOwner, "amount": 100})
	req := httptest.NewRequest(http.MethodPost, "/ledger/transfer", bytes.NewReader(body))
	req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	req.Header.Set(middleware.CallerHeader, testAlice)
	res := httptest.NewRecorder()
	e.ServeHTTP(res, req)

	if res.Code != http.StatusConflict {
		t.Fatalf("expected 409 got %d", res.Code)
	}
	_, _, code := decodeEnvelope(t, res)
	if code != "INSUFFICIENT_BALANCE" {
		t.Fatalf("expected INSUFFICIENT_BALANCE, got %q", code)
	}
}

func TestSupplyEndpoint(t *testing.T) {
	e, _ := newTestServer(t)

	req := httptest.NewRequest(http.MethodGet, "/ledger/supply", nil)
	res := httptest.NewRecorder()
	e.ServeHTTP(res, req)

	if res.Code != http.StatusOK {
		t.Fatalf("expected 200 got %d", res.Code)
	}
	_, data, _ := decodeEnvelope(t, res)
	var state domain.LedgerState
	if err := json.Unmarshal(data, &state); err != nil {
		t.Fatalf("invalid state payload: %v", err)
	}
	if state.TotalSupply != 1_000_000 {
		t.Fatalf("expected supply 1000000, got %d", state.TotalSupply)
	}
}
