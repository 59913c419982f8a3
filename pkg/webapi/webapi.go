// This file is to handle things such as metrics/health and the merge round
// inspection endpoints.

package webapi

import (
	"encoding/json"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/couchbase/viewmerger/common/merger"
	"github.com/couchbase/viewmerger/common/mergeround"
	"github.com/couchbase/viewmerger/common/snapshotdoc"
	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	"go.uber.org/zap"
)

// maxSanitizeBodyBytes caps the snapshot document accepted by /v1/sanitize.
const maxSanitizeBodyBytes = 1 << 20

// RoundSource exposes the most recent merge round.
type RoundSource interface {
	Latest() *mergeround.Round
}

type WebServerOptions struct {
	Logger        *zap.Logger
	LogLevel      *zap.AtomicLevel
	ListenAddress string
	Rounds        RoundSource
	Sanitizer     *merger.Sanitizer
}

type WebServer struct {
	logger        *zap.Logger
	logLevel      *zap.AtomicLevel
	listenAddress string
	rounds        RoundSource
	sanitizer     *merger.Sanitizer
	httpServer    *http.Server
	healthy       atomic.Bool
}

func NewWebServer(opts WebServerOptions) *WebServer {
	logger := opts.Logger
	if logger == nil {
		logger = zap.NewNop()
	}

	sanitizer := opts.Sanitizer
	if sanitizer == nil {
		sanitizer = &merger.Sanitizer{Logger: logger.Named("sanitizer")}
	}

	return &WebServer{
		logger:        logger,
		logLevel:      opts.LogLevel,
		listenAddress: opts.ListenAddress,
		rounds:        opts.Rounds,
		sanitizer:     sanitizer,
	}
}

func (w *WebServer) MarkHealthy() {
	w.healthy.Store(true)
}

func (w *WebServer) handleRoot(rw http.ResponseWriter, r *http.Request) {
	rw.WriteHeader(200)
	_, err := rw.Write([]byte("Welcome to the viewmerger internal webapi"))
	if err != nil {
		w.logger.Debug("failed to write generic root response", zap.Error(err))
	}
}

func (w *WebServer) handleHealth(rw http.ResponseWriter, r *http.Request) {
	if !w.healthy.Load() {
		rw.WriteHeader(http.StatusServiceUnavailable)
		return
	}
	rw.WriteHeader(http.StatusOK)
}

func (w *WebServer) handleSanitize(rw http.ResponseWriter, r *http.Request) {
	snap, err := snapshotdoc.Read(http.MaxBytesReader(rw, r.Body, maxSanitizeBodyBytes))
	if err != nil {
		http.Error(rw, err.Error(), http.StatusBadRequest)
		return
	}

	res, err := w.sanitizer.Sanitize(r.Context(), snap)
	if err != nil {
		http.Error(rw, err.Error(), http.StatusUnprocessableEntity)
		return
	}

	rw.Header().Set("Content-Type", "application/json")
	err = snapshotdoc.WriteResult(rw, res)
	if err != nil {
		w.logger.Debug("failed to write sanitize response", zap.Error(err))
	}
}

type roundDocument struct {
	ID         string                      `json:"id"`
	Revision   []uint64                    `json:"revision"`
	StartedAt  time.Time                   `json:"startedAt"`
	DurationMs int64                       `json:"durationMs"`
	Result     *snapshotdoc.ResultDocument `json:"result"`
}

func (w *WebServer) handleLatestRound(rw http.ResponseWriter, r *http.Request) {
	var round *mergeround.Round
	if w.rounds != nil {
		round = w.rounds.Latest()
	}
	if round == nil {
		http.Error(rw, "no merge round has completed yet", http.StatusNotFound)
		return
	}

	rw.Header().Set("Content-Type", "application/json")
	err := json.NewEncoder(rw).Encode(&roundDocument{
		ID:         round.ID.String(),
		Revision:   round.Revision,
		StartedAt:  round.StartedAt,
		DurationMs: round.Duration.Milliseconds(),
		Result:     snapshotdoc.NewResultDocument(round.Result),
	})
	if err != nil {
		w.logger.Debug("failed to write round response", zap.Error(err))
	}
}

func (w *WebServer) Handler() http.Handler {
	r := mux.NewRouter()

	r.Handle("/metrics", promhttp.Handler())
	r.HandleFunc("/health", w.handleHealth)
	r.HandleFunc("/v1/sanitize", w.handleSanitize).Methods(http.MethodPost)
	r.HandleFunc("/v1/rounds/latest", w.handleLatestRound).Methods(http.MethodGet)
	if w.logLevel != nil {
		r.Handle("/log-level", w.logLevel).Methods(http.MethodGet, http.MethodPut)
	}
	r.HandleFunc("/", w.handleRoot)

	return otelhttp.NewHandler(r, "webapi")
}

func (w *WebServer) ListenAndServe() error {
	w.httpServer = &http.Server{
		Handler:      w.Handler(),
		Addr:         w.listenAddress,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 10 * time.Second,
	}

	return w.httpServer.ListenAndServe()
}

var globalWebLock sync.Mutex
var globalWebServer *WebServer = nil

// InitializeWebServer starts the process wide web server once.  Later calls
// return the already running server.
func InitializeWebServer(opts WebServerOptions) *WebServer {
	globalWebLock.Lock()
	if globalWebServer != nil {
		globalWebLock.Unlock()
		return globalWebServer
	}

	globalWebServer = NewWebServer(opts)
	server := globalWebServer
	globalWebLock.Unlock()

	go func() {
		err := server.ListenAndServe()
		if err != nil {
			server.logger.Error("failed to listen and serve web server", zap.Error(err))
		}
	}()

	return server
}
