// server.go - REST surface for the pool daemon
package main

import (
	"context"
	"encoding/json"
	"errors"
	"net"
	"net/http"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/rs/zerolog"

	"veilpool/internal/pool"
	"veilpool/internal/vperrors"
)

const maxBodyBytes = 1 << 20

// Server exposes the pool over HTTP.
type Server struct {
	cfg     *Config
	log     zerolog.Logger
	pool    *pool.Pool
	metrics *MetricsCollector
	health  *HealthChecker
	limiter *ClientRateLimiter
	start   time.Time
	httpSrv *http.Server
}

func newServer(cfg *Config, p *pool.Pool, metrics *MetricsCollector, health *HealthChecker, log zerolog.Logger) *Server {
	s := &Server{
		cfg:     cfg,
		log:     log,
		pool:    p,
		metrics: metrics,
		health:  health,
		start:   time.Now(),
	}
	if cfg.RateLimitBurst > 0 {
		s.limiter = NewClientRateLimiter(cfg.RateLimitBurst, cfg.RateLimitPerSecond, time.Second)
	}

	mux := http.NewServeMux()
	mux.HandleFunc("POST /deposit", s.route("deposit", s.handleDeposit))
	mux.HandleFunc("POST /withdraw", s.route("withdraw", s.handleWithdraw))
	mux.HandleFunc("GET /root", s.route("root", s.handleRoot))
	mux.HandleFunc("GET /state", s.route("state", s.handleState))
	mux.HandleFunc("GET /health", s.route("health", s.handleHealth))
	mux.HandleFunc("GET /metrics", s.route("metrics", s.handleMetrics))
	mux.HandleFunc("POST /admin/pause", s.route("admin_pause", s.handlePause))
	mux.HandleFunc("POST /admin/emergency", s.route("admin_emergency", s.handleEmergency))

	timeout := time.Duration(cfg.RequestTimeoutSeconds) * time.Second
	s.httpSrv = &http.Server{
		Addr:         cfg.ListenAddr,
		Handler:      mux,
		ReadTimeout:  timeout,
		WriteTimeout: timeout,
	}
	return s
}

func (s *Server) ListenAndServe() error {
	err := s.httpSrv.ListenAndServe()
	if errors.Is(err, http.ErrServerClosed) {
		return nil
	}
	return err
}

func (s *Server) Shutdown(ctx context.Context) error {
	return s.httpSrv.Shutdown(ctx)
}

// statusRecorder captures the response code for metrics.
type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(code int) {
	r.status = code
	r.ResponseWriter.WriteHeader(code)
}

// route wraps a handler with rate limiting, timing and request logging.
func (s *Server) route(name string, fn http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()

		if s.limiter != nil && !s.limiter.Allow(clientKey(r)) {
			s.metrics.RecordRateLimited(name)
			writeJSON(w, http.StatusTooManyRequests, apiError{
				Error: "rate limit exceeded",
				Code:  "RateLimited",
			})
			return
		}

		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		fn(rec, r)

		elapsed := time.Since(start)
		s.metrics.RecordRequest(name, rec.status, elapsed)
		s.log.Debug().
			Str("route", name).
			Int("status", rec.status).
			Dur("elapsed", elapsed).
			Str("client", clientKey(r)).
			Msg("request served")
	}
}

func clientKey(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}

// apiError is the wire shape of every refusal.
type apiError struct {
	Error string `json:"error"`
	Code  string `json:"code"`
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func (s *Server) writeError(w http.ResponseWriter, err error) {
	writeJSON(w, httpStatus(err), apiError{
		Error: err.Error(),
		Code:  vperrors.Name(err),
	})
}

// httpStatus maps taxonomy sentinels to response codes. Caller mistakes are
// 4xx; integrity incidents and anything outside the taxonomy are 500.
func httpStatus(err error) int {
	switch {
	case errors.Is(err, vperrors.ErrInvalidInput),
		errors.Is(err, vperrors.ErrInvalidAmount),
		errors.Is(err, vperrors.ErrExcessiveFee),
		errors.Is(err, vperrors.ErrInvalidProof),
		errors.Is(err, vperrors.ErrArithmetic),
		errors.Is(err, vperrors.ErrInvalidEmergencyMultiplier):
		return http.StatusBadRequest
	case errors.Is(err, vperrors.ErrInvalidAuthority):
		return http.StatusForbidden
	case errors.Is(err, vperrors.ErrInvalidMerkleRoot),
		errors.Is(err, vperrors.ErrNullifierAlreadyUsed),
		errors.Is(err, vperrors.ErrAlreadyInitialized),
		errors.Is(err, vperrors.ErrTreeFull),
		errors.Is(err, vperrors.ErrInsufficientVaultBalance):
		return http.StatusConflict
	case errors.Is(err, vperrors.ErrNotInitialized),
		errors.Is(err, vperrors.ErrWithdrawalsPaused):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

func decodeBody(w http.ResponseWriter, r *http.Request, v interface{}) bool {
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		writeJSON(w, http.StatusBadRequest, apiError{
			Error: "malformed request body: " + err.Error(),
			Code:  vperrors.Name(vperrors.ErrInvalidInput),
		})
		return false
	}
	return true
}

type depositRequest struct {
	Commitment common.Hash `json:"commitment"`
}

func (s *Server) handleDeposit(w http.ResponseWriter, r *http.Request) {
	var req depositRequest
	if !decodeBody(w, r, &req) {
		return
	}

	receipt, err := s.pool.Deposit(req.Commitment)
	if err != nil {
		s.metrics.RecordRejection(vperrors.Name(err))
		s.writeError(w, err)
		return
	}

	s.metrics.RecordDeposit()
	writeJSON(w, http.StatusOK, receipt)
}

func (s *Server) handleWithdraw(w http.ResponseWriter, r *http.Request) {
	var req pool.WithdrawRequest
	if !decodeBody(w, r, &req) {
		return
	}

	start := time.Now()
	receipt, err := s.pool.Withdraw(req)
	if err != nil {
		s.metrics.RecordRejection(vperrors.Name(err))
		s.writeError(w, err)
		return
	}

	s.metrics.RecordWithdrawal(time.Since(start))
	writeJSON(w, http.StatusOK, receipt)
}

func (s *Server) handleRoot(w http.ResponseWriter, r *http.Request) {
	st := s.pool.Status()
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"root":       st.Root,
		"next_index": st.NextIndex,
	})
}

type stateResponse struct {
	pool.Status
	NullifierCount int `json:"nullifier_count"`
}

func (s *Server) handleState(w http.ResponseWriter, r *http.Request) {
	count, err := s.pool.Nullifiers()
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, stateResponse{
		Status:         s.pool.Status(),
		NullifierCount: count,
	})
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	health := s.health.CheckHealth()
	status := http.StatusOK
	if health.OverallStatus == Unhealthy {
		status = http.StatusServiceUnavailable
	}
	writeJSON(w, status, health)
}

func (s *Server) handleMetrics(w http.ResponseWriter, r *http.Request) {
	count, err := s.pool.Nullifiers()
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.metrics.UpdatePoolGauges(s.pool.Status(), count, time.Since(s.start))
	writeJSON(w, http.StatusOK, s.metrics.GetMetricsSummary())
}

type pauseRequest struct {
	Caller common.Address `json:"caller"`
	Paused bool           `json:"paused"`
}

func (s *Server) handlePause(w http.ResponseWriter, r *http.Request) {
	var req pauseRequest
	if !decodeBody(w, r, &req) {
		return
	}
	if err := s.pool.SetPaused(req.Caller, req.Paused); err != nil {
		s.metrics.RecordRejection(vperrors.Name(err))
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, s.pool.Status())
}

type emergencyRequest struct {
	Caller     common.Address `json:"caller"`
	Enabled    bool           `json:"enabled"`
	Multiplier uint64         `json:"multiplier"`
}

func (s *Server) handleEmergency(w http.ResponseWriter, r *http.Request) {
	var req emergencyRequest
	if !decodeBody(w, r, &req) {
		return
	}
	if err := s.pool.SetEmergencyMode(req.Caller, req.Enabled, req.Multiplier); err != nil {
		s.metrics.RecordRejection(vperrors.Name(err))
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, s.pool.Status())
}
