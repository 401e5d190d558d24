package main

import (
	"context"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"web3-gateway-go/internal/chain"
	"web3-gateway-go/internal/database"
	"web3-gateway-go/internal/gateway"
	"web3-gateway-go/internal/health"
	"web3-gateway-go/internal/supervisor"

	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// QueryService is the canonical query API.
type QueryService interface {
	GetBalance(ctx context.Context, coin, network, address string) (chain.Result, error)
	GetBlockHeight(ctx context.Context, coin, network string) (chain.Result, error)
	EstimateFee(ctx context.Context, coin, network string, targetBlocks int) (chain.Result, error)
	GetHistory(ctx context.Context, coin, network, address string, limit int) (chain.Result, error)
	HealthSnapshot() []gateway.EndpointHealth
}

// MiningService is the process control API.
type MiningService interface {
	Start(coin string) (supervisor.Status, error)
	Stop(ctx context.Context, coin string) error
	Status(coin string) supervisor.Status
	StatusAll() []supervisor.Status
	Output(coin string) []string
}

// HealthService exposes health reports.
type HealthService interface {
	Latest() (health.Report, bool)
	RunCycle(ctx context.Context, kind health.Kind) health.Report
}

// HistoryStore is the optional persisted history.
type HistoryStore interface {
	RecentReports(ctx context.Context, limit int) ([]database.HealthReportRow, error)
	RecentSessions(ctx context.Context, coin string, limit int) ([]supervisor.Session, error)
}

// Server 包装 HTTP 服务。known 判断币种是否配置了挖矿参数
type Server struct {
	queries QueryService
	mining  MiningService
	health  HealthService
	known   func(coin string) bool
	history HistoryStore
	wsHub   http.Handler
	port    string

	mu  sync.Mutex
	srv *http.Server
}

func NewServer(queries QueryService, mining MiningService, monitor HealthService, known func(coin string) bool, port string) *Server {
	return &Server{
		queries: queries,
		mining:  mining,
		health:  monitor,
		known:   known,
		port:    port,
	}
}

// SetHistory enables the history endpoints.
func (s *Server) SetHistory(repo HistoryStore) {
	s.history = repo
}

// SetEventStream mounts the WebSocket handler on /ws.
func (s *Server) SetEventStream(h http.Handler) {
	s.wsHub = h
}

func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()

	// 规范化查询
	mux.HandleFunc("GET /api/{coin}/{network}/balance/{address}", s.handleBalance)
	mux.HandleFunc("GET /api/{coin}/{network}/height", s.handleHeight)
	mux.HandleFunc("GET /api/{coin}/{network}/fee", s.handleFee)
	mux.HandleFunc("GET /api/{coin}/{network}/history/{address}", s.handleHistory)

	// 挖矿进程控制
	mux.HandleFunc("GET /api/mining", s.handleMiningStatusAll)
	mux.HandleFunc("GET /api/mining/{coin}", s.handleMiningStatus)
	mux.HandleFunc("POST /api/mining/{coin}/start", s.handleMiningStart)
	mux.HandleFunc("POST /api/mining/{coin}/stop", s.handleMiningStop)
	mux.HandleFunc("GET /api/mining/{coin}/output", s.handleMiningOutput)
	mux.HandleFunc("GET /api/mining/{coin}/sessions", s.handleMiningSessions)

	// 健康状态
	mux.HandleFunc("GET /api/health", s.handleHealth)
	mux.HandleFunc("POST /api/health/run", s.handleHealthRun)
	mux.HandleFunc("GET /api/health/history", s.handleHealthHistory)
	mux.HandleFunc("GET /api/endpoints", s.handleEndpoints)
	mux.HandleFunc("GET /healthz/live", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})

	if s.wsHub != nil {
		mux.Handle("/ws", s.wsHub)
	}

	// Prometheus 指标
	mux.Handle("/metrics", promhttp.Handler())

	return AccessLogMiddleware(mux)
}

func (s *Server) Start() error {
	slog.Info("api_server_listening", slog.String("port", s.port))
	srv := &http.Server{
		Addr:              ":" + s.port,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       10 * time.Second,
		// 查询最多尝试多个端点，且 stop 可能等待宽限期
		WriteTimeout: 2 * time.Minute,
		IdleTimeout:  120 * time.Second,
	}
	s.mu.Lock()
	s.srv = srv
	s.mu.Unlock()
	return srv.ListenAndServe()
}

func (s *Server) Shutdown(ctx context.Context) error {
	s.mu.Lock()
	srv := s.srv
	s.mu.Unlock()
	if srv == nil {
		return nil
	}
	return srv.Shutdown(ctx)
}
