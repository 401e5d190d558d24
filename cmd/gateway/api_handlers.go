package main

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"

	"web3-gateway-go/internal/adapter"
	"web3-gateway-go/internal/chain"
	"web3-gateway-go/internal/gateway"
	"web3-gateway-go/internal/health"
	"web3-gateway-go/internal/registry"
	"web3-gateway-go/internal/supervisor"
)

const maxHistoryLimit = 1000

type attemptJSON struct {
	Endpoint string `json:"endpoint"`
	Kind     string `json:"kind"`
	Error    string `json:"error"`
}

type errorResponse struct {
	Error    string        `json:"error"`
	Attempts []attemptJSON `json:"attempts,omitempty"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Warn("api_encode_failed", slog.String("error", err.Error()))
	}
}

func writeError(w http.ResponseWriter, status int, err error) {
	writeJSON(w, status, errorResponse{Error: err.Error()})
}

// writeQueryError maps the RPC error taxonomy onto HTTP statuses. An exhausted
// fallback chain lists every attempted endpoint in order.
func writeQueryError(w http.ResponseWriter, err error) {
	var exhausted *gateway.ExhaustedFallbackError
	switch {
	case errors.As(err, &exhausted):
		resp := errorResponse{Error: "all endpoints failed"}
		for _, a := range exhausted.Attempts {
			kind := "transport"
			var pe *adapter.ProtocolError
			if errors.As(a.Err, &pe) {
				kind = "protocol"
			}
			resp.Attempts = append(resp.Attempts, attemptJSON{Endpoint: a.Endpoint, Kind: kind, Error: a.Err.Error()})
		}
		writeJSON(w, http.StatusBadGateway, resp)
	case errors.Is(err, registry.ErrUnknownNetwork):
		writeError(w, http.StatusNotFound, err)
	case errors.Is(err, chain.ErrInvalidRequest):
		writeError(w, http.StatusBadRequest, err)
	case errors.Is(err, context.DeadlineExceeded), errors.Is(err, context.Canceled):
		writeError(w, http.StatusGatewayTimeout, err)
	default:
		writeError(w, http.StatusInternalServerError, err)
	}
}

func writeLifecycleError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, supervisor.ErrAlreadyRunning), errors.Is(err, supervisor.ErrNotRunning):
		writeError(w, http.StatusConflict, err)
	case errors.Is(err, supervisor.ErrConfigMissing):
		writeError(w, http.StatusNotFound, err)
	case errors.Is(err, context.DeadlineExceeded), errors.Is(err, context.Canceled):
		writeError(w, http.StatusGatewayTimeout, err)
	default:
		writeError(w, http.StatusInternalServerError, err)
	}
}

// queryInt reads a non-negative integer query parameter.
func queryInt(r *http.Request, name string) (int, error) {
	raw := r.URL.Query().Get(name)
	if raw == "" {
		return 0, nil
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n < 0 {
		return 0, errors.New("invalid " + name + ": " + raw)
	}
	return n, nil
}

func (s *Server) handleBalance(w http.ResponseWriter, r *http.Request) {
	res, err := s.queries.GetBalance(r.Context(), r.PathValue("coin"), r.PathValue("network"), r.PathValue("address"))
	if err != nil {
		writeQueryError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

func (s *Server) handleHeight(w http.ResponseWriter, r *http.Request) {
	res, err := s.queries.GetBlockHeight(r.Context(), r.PathValue("coin"), r.PathValue("network"))
	if err != nil {
		writeQueryError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

func (s *Server) handleFee(w http.ResponseWriter, r *http.Request) {
	blocks, err := queryInt(r, "blocks")
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	res, err := s.queries.EstimateFee(r.Context(), r.PathValue("coin"), r.PathValue("network"), blocks)
	if err != nil {
		writeQueryError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

func (s *Server) handleHistory(w http.ResponseWriter, r *http.Request) {
	limit, err := queryInt(r, "limit")
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	if limit > maxHistoryLimit {
		limit = maxHistoryLimit
	}
	res, err := s.queries.GetHistory(r.Context(), r.PathValue("coin"), r.PathValue("network"), r.PathValue("address"), limit)
	if err != nil {
		writeQueryError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

func (s *Server) handleMiningStatusAll(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, s.mining.StatusAll())
}

func (s *Server) handleMiningStatus(w http.ResponseWriter, r *http.Request) {
	coin := r.PathValue("coin")
	if !s.known(coin) {
		writeError(w, http.StatusNotFound, &supervisor.LifecycleError{Coin: coin, Err: supervisor.ErrConfigMissing})
		return
	}
	writeJSON(w, http.StatusOK, s.mining.Status(coin))
}

func (s *Server) handleMiningStart(w http.ResponseWriter, r *http.Request) {
	st, err := s.mining.Start(r.PathValue("coin"))
	if err != nil {
		writeLifecycleError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, st)
}

func (s *Server) handleMiningStop(w http.ResponseWriter, r *http.Request) {
	coin := r.PathValue("coin")
	if err := s.mining.Stop(r.Context(), coin); err != nil {
		writeLifecycleError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, s.mining.Status(coin))
}

func (s *Server) handleMiningOutput(w http.ResponseWriter, r *http.Request) {
	coin := r.PathValue("coin")
	if !s.known(coin) {
		writeError(w, http.StatusNotFound, &supervisor.LifecycleError{Coin: coin, Err: supervisor.ErrConfigMissing})
		return
	}
	lines := s.mining.Output(coin)
	if lines == nil {
		lines = []string{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"coin": coin, "lines": lines})
}

// historyLimit reads ?limit, defaulting to 50 and capping at maxHistoryLimit.
func historyLimit(r *http.Request) (int, error) {
	limit, err := queryInt(r, "limit")
	if err != nil {
		return 0, err
	}
	if limit == 0 || limit > maxHistoryLimit {
		limit = 50
	}
	return limit, nil
}

func (s *Server) handleMiningSessions(w http.ResponseWriter, r *http.Request) {
	coin := r.PathValue("coin")
	if !s.known(coin) {
		writeError(w, http.StatusNotFound, &supervisor.LifecycleError{Coin: coin, Err: supervisor.ErrConfigMissing})
		return
	}
	if s.history == nil {
		writeError(w, http.StatusNotFound, errors.New("history store disabled"))
		return
	}
	limit, err := historyLimit(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	sessions, err := s.history.RecentSessions(r.Context(), coin, limit)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	if sessions == nil {
		sessions = []supervisor.Session{}
	}
	writeJSON(w, http.StatusOK, sessions)
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	report, ok := s.health.Latest()
	if !ok {
		writeError(w, http.StatusServiceUnavailable, errors.New("no health cycle has completed yet"))
		return
	}
	writeJSON(w, http.StatusOK, report)
}

func (s *Server) handleHealthRun(w http.ResponseWriter, r *http.Request) {
	kind := health.Kind(r.URL.Query().Get("kind"))
	switch kind {
	case "":
		kind = health.KindSweep
	case health.KindSweep, health.KindLiveness:
	default:
		writeError(w, http.StatusBadRequest, errors.New("invalid kind: "+string(kind)))
		return
	}
	writeJSON(w, http.StatusOK, s.health.RunCycle(r.Context(), kind))
}

func (s *Server) handleHealthHistory(w http.ResponseWriter, r *http.Request) {
	if s.history == nil {
		writeError(w, http.StatusNotFound, errors.New("history store disabled"))
		return
	}
	limit, err := historyLimit(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	rows, err := s.history.RecentReports(r.Context(), limit)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	writeJSON(w, http.StatusOK, rows)
}

func (s *Server) handleEndpoints(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, s.queries.HealthSnapshot())
}
