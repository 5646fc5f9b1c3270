package server

import (
	"context"
	"encoding/json"
	"errors"
	"net"
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
)

const (
	READ_HEADER_TIMEOUT = 5 * time.Second
	SHUTDOWN_TIMEOUT    = 5 * time.Second
)

// エージェントの状態を返す
type Status interface {
	ActiveModules() []string
}

// キューの使用状況
type QueueStatus interface {
	Len() int
	Cap() int
}

// 評価順のルール名を返す
type RuleLister interface {
	Names() []string
}

// ルーティングに使う依存
type Deps struct {
	Registry *prometheus.Registry
	Status   Status
	Queue    QueueStatus
	Rules    RuleLister
}

type healthResponse struct {
	OK            bool     `json:"ok"`
	ActiveModules []string `json:"active_modules"`
	QueueLength   int      `json:"queue_length"`
	QueueCapacity int      `json:"queue_capacity"`
}

type rulesResponse struct {
	Rules []string `json:"rules"`
}

// ルーターを作成
func NewRouter(deps Deps) *mux.Router {
	router := mux.NewRouter()

	router.Handle("/metrics", promhttp.HandlerFor(deps.Registry, promhttp.HandlerOpts{})).Methods(http.MethodGet)
	router.HandleFunc("/healthz", healthzHandler(deps)).Methods(http.MethodGet)
	router.HandleFunc("/rules", rulesHandler(deps.Rules)).Methods(http.MethodGet)

	return router
}

// 有効なモジュールが1つもなければ 503
func healthzHandler(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		resp := healthResponse{ActiveModules: []string{}}
		if deps.Status != nil {
			resp.ActiveModules = deps.Status.ActiveModules()
		}
		if deps.Queue != nil {
			resp.QueueLength = deps.Queue.Len()
			resp.QueueCapacity = deps.Queue.Cap()
		}
		resp.OK = len(resp.ActiveModules) > 0

		status := http.StatusOK
		if !resp.OK {
			status = http.StatusServiceUnavailable
		}
		writeJSON(w, status, resp)
	}
}

func rulesHandler(rules RuleLister) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		resp := rulesResponse{Rules: []string{}}
		if rules != nil {
			resp.Rules = rules.Names()
		}
		writeJSON(w, http.StatusOK, resp)
	}
}

func writeJSON(w http.ResponseWriter, status int, body interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(body)
}

// メトリクスとヘルスチェックのHTTPサーバー
type Server struct {
	srv    *http.Server
	logger *zap.Logger
}

// 新しいServerを作成
func New(addr string, deps Deps, logger *zap.Logger) *Server {
	return &Server{
		srv: &http.Server{
			Addr:              addr,
			Handler:           NewRouter(deps),
			ReadHeaderTimeout: READ_HEADER_TIMEOUT,
		},
		logger: logger.Named("server"),
	}
}

// 待ち受けを開始（失敗してもエージェントは止めない）
func (s *Server) Start() error {
	listener, err := net.Listen("tcp", s.srv.Addr)
	if err != nil {
		return err
	}
	s.logger.Info("Serving metrics", zap.String("addr", listener.Addr().String()))

	go func() {
		if err := s.srv.Serve(listener); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.logger.Error("Metrics server stopped", zap.Error(err))
		}
	}()
	return nil
}

// サーバーを停止
func (s *Server) Shutdown() error {
	ctx, cancel := context.WithTimeout(context.Background(), SHUTDOWN_TIMEOUT)
	defer cancel()
	return s.srv.Shutdown(ctx)
}
