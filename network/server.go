package network

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/gorilla/mux"
	"github.com/optimachain/optimachain/config"
	"github.com/optimachain/optimachain/consensus/finality"
	"github.com/optimachain/optimachain/consensus/validator"
	"github.com/optimachain/optimachain/crypto/address"
	"github.com/optimachain/optimachain/logging"
	"github.com/optimachain/optimachain/sharding"
	"github.com/optimachain/optimachain/types"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
)

type Status struct {
	Epoch                 uint64 `json:"epoch"`
	LatestFinalizedHeight uint64 `json:"latestFinalizedHeight"`
	PendingBlocks         int    `json:"pendingBlocks"`
	Validators            int    `json:"validators"`
	TotalStake            uint64 `json:"totalStake"`
	Shards                int    `json:"shards"`
	CrossShardWaiting     int    `json:"crossShardWaiting"`
	Subscribers           int    `json:"subscribers"`
}

type ReshardingStatus struct {
	Active    []sharding.ReshardingOperation `json:"active"`
	Completed []sharding.ReshardingOperation `json:"completed"`
}

type AccountShard struct {
	AccountID types.AccountID `json:"accountId"`
	ShardID   types.ShardID   `json:"shardId"`
}

// Backend is the node state the API reads.
type Backend interface {
	Status() Status
	Validators() []*validator.Validator
	FinalityProof(id types.BlockID) (*finality.Proof, bool)
	AccountShard(id types.AccountID) (types.ShardID, bool)
	Resharding() ReshardingStatus
}

// Server exposes node state over HTTP and node events over a websocket.
type Server struct {
	router  *mux.Router
	http    *http.Server
	backend Backend
	hub     *EventHub
	origins []string
	logger  *zap.Logger
}

func NewServer(cfg config.APIConfig, backend Backend, hub *EventHub, gatherer prometheus.Gatherer, logger *zap.Logger) *Server {
	s := &Server{
		backend: backend,
		hub:     hub,
		origins: cfg.AllowedOrigins,
		logger:  logging.OrNop(logger),
	}

	r := mux.NewRouter()
	r.Use(s.middlewareHandler())
	r.HandleFunc("/status", s.handleStatus).Methods(http.MethodGet, http.MethodOptions)
	r.HandleFunc("/validators", s.handleValidators).Methods(http.MethodGet, http.MethodOptions)
	r.HandleFunc("/finality/{id}", s.handleFinality).Methods(http.MethodGet, http.MethodOptions)
	r.HandleFunc("/accounts/{id}/shard", s.handleAccountShard).Methods(http.MethodGet, http.MethodOptions)
	r.HandleFunc("/resharding", s.handleResharding).Methods(http.MethodGet, http.MethodOptions)
	r.Handle("/events", hub).Methods(http.MethodGet)
	if gatherer != nil {
		r.Handle("/metrics", promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{})).Methods(http.MethodGet, http.MethodOptions)
	}
	s.router = r

	s.http = &http.Server{
		Addr:         cfg.Address,
		Handler:      r,
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
	}
	return s
}

func (s *Server) Handler() http.Handler {
	return s.router
}

// ListenAndServe blocks until the server stops. A clean shutdown returns nil.
func (s *Server) ListenAndServe() error {
	s.logger.Info("API listening", zap.String("address", s.http.Addr))
	if err := s.http.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

func (s *Server) Shutdown(ctx context.Context) error {
	s.hub.Close()
	return s.http.Shutdown(ctx)
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	status := s.backend.Status()
	status.Subscribers = s.hub.SubscriberCount()
	writeJSON(w, http.StatusOK, status)
}

func (s *Server) handleValidators(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.backend.Validators())
}

func (s *Server) handleFinality(w http.ResponseWriter, r *http.Request) {
	id, err := types.BlockIDFromString(mux.Vars(r)["id"])
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	proof, ok := s.backend.FinalityProof(id)
	if !ok {
		writeError(w, http.StatusNotFound, errors.New("block is not finalized"))
		return
	}
	writeJSON(w, http.StatusOK, proof)
}

func (s *Server) handleAccountShard(w http.ResponseWriter, r *http.Request) {
	id, err := address.Parse(mux.Vars(r)["id"])
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	shard, ok := s.backend.AccountShard(id)
	if !ok {
		writeError(w, http.StatusNotFound, errors.New("account is not allocated"))
		return
	}
	writeJSON(w, http.StatusOK, AccountShard{AccountID: id, ShardID: shard})
}

func (s *Server) handleResharding(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.backend.Resharding())
}

func (s *Server) middlewareHandler() mux.MiddlewareFunc {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			origin := r.Header.Get("Origin")
			if origin != "" && originAllowed(s.origins, origin) {
				w.Header().Set("Access-Control-Allow-Origin", origin)
				w.Header().Set("Access-Control-Allow-Methods", "GET, OPTIONS")
				w.Header().Set("Access-Control-Allow-Headers", "Content-Type")
			}
			if r.Method == http.MethodOptions {
				w.WriteHeader(http.StatusNoContent)
				return
			}
			next.ServeHTTP(w, r)
			if !isWebSocketRequest(r) {
				s.logger.Debug("API request",
					zap.String("method", r.Method),
					zap.String("path", r.URL.Path),
					zap.String("remote", r.RemoteAddr),
					zap.Duration("took", time.Since(start)))
			}
		})
	}
}

func isWebSocketRequest(r *http.Request) bool {
	return strings.EqualFold(r.Header.Get("Upgrade"), "websocket")
}

func writeJSON(w http.ResponseWriter, code int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, code int, err error) {
	writeJSON(w, code, map[string]string{"error": err.Error()})
}
