package rest

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"github.com/gorilla/mux"
	"go.uber.org/zap"

	"github.com/JoeShih716/go-rinha-ledger/internal/app/core/domain"
	"github.com/JoeShih716/go-rinha-ledger/internal/app/core/usecase"
)

// maxBodyBytes 交易請求 body 的上限
const maxBodyBytes = 1 << 10

var errMalformedBody = errors.New("malformed request body")

// Handler 將 HTTP 請求轉成 CoreUseCase 呼叫
type Handler struct {
	core *usecase.CoreUseCase
	log  *zap.Logger
	// known 已開通的客戶，nil 表示交給核心判斷
	known map[int64]struct{}
}

// NewHandler 建立 Handler
//
// 參數:
//
//	core: 核心業務邏輯
//	log: logger
//	clientIDs: 已開通的客戶 ID，不在名單內的請求直接回 404
func NewHandler(core *usecase.CoreUseCase, log *zap.Logger, clientIDs []int64) *Handler {
	h := &Handler{core: core, log: log}
	if clientIDs != nil {
		h.known = make(map[int64]struct{}, len(clientIDs))
		for _, id := range clientIDs {
			h.known[id] = struct{}{}
		}
	}
	return h
}

// Health GET /health_check
func (h *Handler) Health(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// PostTransaction POST /clientes/{id}/transacoes
func (h *Handler) PostTransaction(w http.ResponseWriter, r *http.Request) {
	clientID, ok := h.clientID(r)
	if !ok {
		writeError(w, http.StatusNotFound, domain.ErrClientNotFound.Error())
		return
	}

	candidate, err := decodeCandidate(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	res, err := h.core.Submit(r.Context(), clientID, candidate)
	if err != nil {
		h.writeDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, transactionResponse{Limite: res.Limit, Saldo: res.Balance})
}

// GetStatement GET /clientes/{id}/extrato
func (h *Handler) GetStatement(w http.ResponseWriter, r *http.Request) {
	clientID, ok := h.clientID(r)
	if !ok {
		writeError(w, http.StatusNotFound, domain.ErrClientNotFound.Error())
		return
	}

	st, err := h.core.Statement(r.Context(), clientID)
	if err != nil {
		h.writeDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, newStatementResponse(st))
}

// clientID 解析路徑上的 id，非整數或未開通回傳 false
func (h *Handler) clientID(r *http.Request) (int64, bool) {
	id, err := strconv.ParseInt(mux.Vars(r)["id"], 10, 64)
	if err != nil {
		return 0, false
	}
	if h.known != nil {
		if _, ok := h.known[id]; !ok {
			return 0, false
		}
	}
	return id, true
}

func decodeCandidate(r *http.Request) (domain.Candidate, error) {
	var req transactionRequest
	dec := json.NewDecoder(http.MaxBytesReader(nil, r.Body, maxBodyBytes))
	dec.UseNumber()
	if err := dec.Decode(&req); err != nil {
		return domain.Candidate{}, errMalformedBody
	}
	if req.Descricao == nil {
		return domain.Candidate{}, errors.New("descricao is required")
	}
	valor, err := strconv.ParseInt(req.Valor.String(), 10, 64)
	if err != nil {
		return domain.Candidate{}, errors.New("valor must be an integer")
	}
	return domain.Candidate{Value: valor, Kind: req.Tipo, Description: *req.Descricao}, nil
}

// writeDomainError 依錯誤分類決定 status code
func (h *Handler) writeDomainError(w http.ResponseWriter, r *http.Request, err error) {
	status := statusFor(err)
	if status == http.StatusInternalServerError {
		h.log.Error("request failed",
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.Error(err))
		// 儲存層暫時性錯誤，狀態未變，客戶端可以重送
		if domain.KindOf(err).Retryable() {
			w.Header().Set("Retry-After", "1")
		}
		writeError(w, status, http.StatusText(status))
		return
	}
	writeError(w, status, err.Error())
}

func statusFor(err error) int {
	kind := domain.KindOf(err)
	switch {
	case kind.IsValidation():
		return http.StatusBadRequest
	case kind == domain.KindClientNotFound:
		return http.StatusNotFound
	case kind == domain.KindLimitExceeded:
		return http.StatusUnprocessableEntity
	}
	return http.StatusInternalServerError
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, errorResponse{Error: msg})
}
