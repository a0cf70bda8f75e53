package rest

import (
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"go.uber.org/zap"
)

// RouterOptions 路由層的中介軟體設定
type RouterOptions struct {
	MaxConcurrency int
	AcquireTimeout time.Duration
}

// NewRouter 註冊所有路由
//
//	GET  /health_check
//	POST /clientes/{id}/transacoes
//	GET  /clientes/{id}/extrato
func NewRouter(h *Handler, log *zap.Logger, opts RouterOptions) *mux.Router {
	r := mux.NewRouter()
	r.Use(recoverer(log), accessLog(log))

	r.HandleFunc("/health_check", h.Health).Methods(http.MethodGet)

	api := r.PathPrefix("/clientes/{id}").Subrouter()
	api.Use(concurrencyLimit(opts.MaxConcurrency, opts.AcquireTimeout))
	api.HandleFunc("/transacoes", h.PostTransaction).Methods(http.MethodPost)
	api.HandleFunc("/extrato", h.GetStatement).Methods(http.MethodGet)

	r.NotFoundHandler = http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		writeError(w, http.StatusNotFound, http.StatusText(http.StatusNotFound))
	})
	return r
}
