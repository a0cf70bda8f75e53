package rest

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/JoeShih716/go-rinha-ledger/internal/app/core/adapter/out/memory"
	"github.com/JoeShih716/go-rinha-ledger/internal/app/core/domain"
	"github.com/JoeShih716/go-rinha-ledger/internal/app/core/usecase"
)

func newTestServer(t *testing.T, ledger usecase.Ledger, ids []int64, opts RouterOptions) *httptest.Server {
	t.Helper()
	core := usecase.NewCoreUseCase(ledger)
	srv := httptest.NewServer(NewRouter(NewHandler(core, zap.NewNop(), ids), zap.NewNop(), opts))
	t.Cleanup(srv.Close)
	return srv
}

func newMemoryServer(t *testing.T) *httptest.Server {
	t.Helper()
	ledger, err := memory.NewMutexLedger(map[int64]*domain.Client{
		1: domain.NewClient(1, 100, 0),
	})
	require.NoError(t, err)
	return newTestServer(t, ledger, []int64{1}, RouterOptions{})
}

func post(t *testing.T, srv *httptest.Server, path, body string) (*http.Response, map[string]any) {
	t.Helper()
	resp, err := http.Post(srv.URL+path, "application/json", strings.NewReader(body))
	require.NoError(t, err)
	defer resp.Body.Close()
	var out map[string]any
	_ = json.NewDecoder(resp.Body).Decode(&out)
	return resp, out
}

func get(t *testing.T, srv *httptest.Server, path string) (*http.Response, map[string]any) {
	t.Helper()
	resp, err := http.Get(srv.URL + path)
	require.NoError(t, err)
	defer resp.Body.Close()
	var out map[string]any
	_ = json.NewDecoder(resp.Body).Decode(&out)
	return resp, out
}

func TestHandler_TransactionFlow(t *testing.T) {
	srv := newMemoryServer(t)

	resp, body := post(t, srv, "/clientes/1/transacoes", `{"valor": 50, "tipo": "d", "descricao": "rent"}`)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "application/json", resp.Header.Get("Content-Type"))
	assert.EqualValues(t, 100, body["limite"])
	assert.EqualValues(t, -50, body["saldo"])

	resp, _ = post(t, srv, "/clientes/1/transacoes", `{"valor": 60, "tipo": "d", "descricao": "more"}`)
	assert.Equal(t, http.StatusUnprocessableEntity, resp.StatusCode)

	resp, body = post(t, srv, "/clientes/1/transacoes", `{"valor": 200, "tipo": "c", "descricao": "salary"}`)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.EqualValues(t, 150, body["saldo"])

	resp, body = get(t, srv, "/clientes/1/extrato")
	require.Equal(t, http.StatusOK, resp.StatusCode)

	saldo := body["saldo"].(map[string]any)
	assert.EqualValues(t, 150, saldo["total"])
	assert.EqualValues(t, 100, saldo["limite"])
	_, err := time.Parse(time.RFC3339Nano, saldo["data_extrato"].(string))
	assert.NoError(t, err)

	recent := body["ultimas_transacoes"].([]any)
	require.Len(t, recent, 2)
	first := recent[0].(map[string]any)
	assert.Equal(t, "salary", first["descricao"])
	assert.Equal(t, "c", first["tipo"])
	assert.EqualValues(t, 200, first["valor"])
	_, err = time.Parse(time.RFC3339Nano, first["realizada_em"].(string))
	assert.NoError(t, err)
}

func TestHandler_EmptyStatementIsArray(t *testing.T) {
	srv := newMemoryServer(t)

	resp, err := http.Get(srv.URL + "/clientes/1/extrato")
	require.NoError(t, err)
	defer resp.Body.Close()
	var raw map[string]json.RawMessage
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&raw))
	assert.JSONEq(t, `[]`, string(raw["ultimas_transacoes"]))
}

func TestHandler_StatusCodes(t *testing.T) {
	srv := newMemoryServer(t)

	tests := []struct {
		name   string
		path   string
		body   string
		status int
	}{
		{"unknown client", "/clientes/6/transacoes", `{"valor": 1, "tipo": "c", "descricao": "x"}`, http.StatusNotFound},
		{"non integer id", "/clientes/abc/transacoes", `{"valor": 1, "tipo": "c", "descricao": "x"}`, http.StatusNotFound},
		{"malformed json", "/clientes/1/transacoes", `{"valor": 1,`, http.StatusBadRequest},
		{"fractional valor", "/clientes/1/transacoes", `{"valor": 1.5, "tipo": "c", "descricao": "x"}`, http.StatusBadRequest},
		{"missing valor", "/clientes/1/transacoes", `{"tipo": "c", "descricao": "x"}`, http.StatusBadRequest},
		{"null descricao", "/clientes/1/transacoes", `{"valor": 1, "tipo": "c", "descricao": null}`, http.StatusBadRequest},
		{"empty descricao", "/clientes/1/transacoes", `{"valor": 1, "tipo": "c", "descricao": ""}`, http.StatusBadRequest},
		{"long descricao", "/clientes/1/transacoes", `{"valor": 1, "tipo": "c", "descricao": "elevenchars"}`, http.StatusBadRequest},
		{"bad tipo", "/clientes/1/transacoes", `{"valor": 1, "tipo": "x", "descricao": "x"}`, http.StatusBadRequest},
		{"zero valor", "/clientes/1/transacoes", `{"valor": 0, "tipo": "c", "descricao": "x"}`, http.StatusBadRequest},
		{"negative valor", "/clientes/1/transacoes", `{"valor": -5, "tipo": "d", "descricao": "x"}`, http.StatusBadRequest},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			resp, body := post(t, srv, tt.path, tt.body)
			assert.Equal(t, tt.status, resp.StatusCode)
			assert.NotEmpty(t, body["error"])
		})
	}

	resp, _ := get(t, srv, "/clientes/999/extrato")
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)

	// 拒絕的請求不影響狀態
	_, body := get(t, srv, "/clientes/1/extrato")
	assert.EqualValues(t, 0, body["saldo"].(map[string]any)["total"])
}

func TestHandler_HealthCheck(t *testing.T) {
	srv := newMemoryServer(t)
	resp, body := get(t, srv, "/health_check")
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "ok", body["status"])
}

// failingLedger 模擬儲存層故障
type failingLedger struct {
	err   error
	block chan struct{}
}

func (l *failingLedger) Apply(ctx context.Context, _ *domain.Transaction) (domain.TransactionResult, error) {
	if l.block != nil {
		select {
		case <-l.block:
		case <-ctx.Done():
		}
	}
	return domain.TransactionResult{}, l.err
}

func (l *failingLedger) Snapshot(context.Context, int64) (*domain.Statement, error) {
	return nil, l.err
}

func (l *failingLedger) LoadAllClients(context.Context) (map[int64]*domain.Client, error) {
	return nil, l.err
}

func TestHandler_StoreErrorIs500(t *testing.T) {
	ledger := &failingLedger{err: domain.NewStoreError("db", errors.New("connection reset"))}
	srv := newTestServer(t, ledger, nil, RouterOptions{})

	resp, body := post(t, srv, "/clientes/1/transacoes", `{"valor": 1, "tipo": "c", "descricao": "x"}`)
	assert.Equal(t, http.StatusInternalServerError, resp.StatusCode)
	assert.NotContains(t, body["error"], "connection reset")
	assert.Equal(t, "1", resp.Header.Get("Retry-After"))

	resp, _ = get(t, srv, "/clientes/1/extrato")
	assert.Equal(t, http.StatusInternalServerError, resp.StatusCode)
	assert.Equal(t, "1", resp.Header.Get("Retry-After"))
}

func TestHandler_UnknownErrorIsNotRetryable(t *testing.T) {
	srv := newTestServer(t, &failingLedger{err: errors.New("unexpected")}, nil, RouterOptions{})

	resp, _ := get(t, srv, "/clientes/1/extrato")
	assert.Equal(t, http.StatusInternalServerError, resp.StatusCode)
	assert.Empty(t, resp.Header.Get("Retry-After"))
}

func TestHandler_NilKnownDefersToCore(t *testing.T) {
	srv := newTestServer(t, &failingLedger{err: domain.ErrClientNotFound}, nil, RouterOptions{})
	resp, _ := get(t, srv, "/clientes/77/extrato")
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestRouter_ConcurrencyLimit(t *testing.T) {
	block := make(chan struct{})
	ledger := &failingLedger{err: domain.ErrLimitExceeded, block: block}
	srv := newTestServer(t, ledger, nil, RouterOptions{MaxConcurrency: 1, AcquireTimeout: 20 * time.Millisecond})

	done := make(chan int, 1)
	go func() {
		resp, err := http.Post(srv.URL+"/clientes/1/transacoes", "application/json",
			strings.NewReader(`{"valor": 1, "tipo": "d", "descricao": "x"}`))
		if err != nil {
			done <- 0
			return
		}
		resp.Body.Close()
		done <- resp.StatusCode
	}()

	// 等第一個請求佔住名額
	require.Eventually(t, func() bool {
		resp, err := http.Get(srv.URL + "/clientes/1/extrato")
		if err != nil {
			return false
		}
		resp.Body.Close()
		return resp.StatusCode == http.StatusServiceUnavailable
	}, time.Second, 5*time.Millisecond)

	close(block)
	assert.Equal(t, http.StatusUnprocessableEntity, <-done)

	// health_check 不受限制
	resp, err := http.Get(srv.URL + "/health_check")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}

func TestRecoverer(t *testing.T) {
	h := recoverer(zap.NewNop())(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {
		panic("boom")
	}))
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))
	assert.Equal(t, http.StatusInternalServerError, rec.Code)
}
