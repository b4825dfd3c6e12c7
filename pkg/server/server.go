/*
2019 © Postgres.ai
*/

// Package server provides the HTTP API of the lock probe.
package server

import (
	"context"
	"encoding/json"
	"fmt"
	"html"
	"net"
	"net/http"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/hako/durafmt"
	"github.com/pkg/errors"

	"gitlab.com/postgres-ai/database-lab/v2/pkg/log"
	"gitlab.com/postgres-ai/database-lab/v2/pkg/srv/api"

	"gitlab.com/postgres-ai/lockprobe/pkg/config"
	"gitlab.com/postgres-ai/lockprobe/pkg/explain"
	"gitlab.com/postgres-ai/lockprobe/pkg/locks"
	"gitlab.com/postgres-ai/lockprobe/pkg/models"
	"gitlab.com/postgres-ai/lockprobe/pkg/probe"
)

// Analyzer predicts locks of a statement.
type Analyzer interface {
	Analyze(ctx context.Context, req probe.Request) ([]locks.Record, error)
}

// App defines an HTTP application serving lock analysis requests.
type App struct {
	cfg      config.App
	analyzer Analyzer
	catalog  *explain.Catalog
	pairs    int
	started  time.Time
	httpSrv  *http.Server
}

// NewApp creates a new application.
func NewApp(cfg config.App, analyzer Analyzer, catalog *explain.Catalog, pairs int) *App {
	return &App{
		cfg:      cfg,
		analyzer: analyzer,
		catalog:  catalog,
		pairs:    pairs,
		started:  time.Now(),
	}
}

// Handler returns the HTTP handler of the application.
func (a *App) Handler() http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("PUT /locks", a.analyzeLocks)
	mux.HandleFunc("PUT /locks/{relation}", a.analyzeLocks)
	mux.HandleFunc("GET /modes/{mode}", a.explainMode)

	mux.HandleFunc("GET /", a.healthCheck)

	if a.cfg.VerificationSecret == "" {
		return mux
	}

	return NewVerifier([]byte(a.cfg.VerificationSecret)).Handler(mux)
}

// RunServer starts the server and blocks until it stops.
func (a *App) RunServer(ctx context.Context) error {
	addr := fmt.Sprintf("%s:%d", a.cfg.Host, a.cfg.Port)

	log.Msg(fmt.Sprintf("Server start listening on %s", addr))

	a.httpSrv = &http.Server{
		Addr:        addr,
		Handler:     a.Handler(),
		BaseContext: func(_ net.Listener) context.Context { return ctx },
	}

	if err := a.httpSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return errors.Wrap(err, "failed to serve")
	}

	return nil
}

// Shutdown gracefully shuts down the server.
func (a *App) Shutdown(ctx context.Context) error {
	if a.httpSrv == nil {
		return nil
	}

	return a.httpSrv.Shutdown(ctx)
}

// healthCheck handles health-check requests.
func (a *App) healthCheck(w http.ResponseWriter, r *http.Request) {
	log.Msg("Health check received:", html.EscapeString(r.URL.Path))

	healthResponse := models.HealthResponse{
		Version: a.cfg.Version,
		Pairs:   a.pairs,
		Started: humanize.Time(a.started),
		Uptime:  durafmt.Parse(time.Since(a.started).Round(time.Second)).String(),
	}

	writeJSON(w, http.StatusOK, healthResponse)
}

func (a *App) analyzeLocks(w http.ResponseWriter, r *http.Request) {
	if r.Body == http.NoBody {
		api.SendBadRequestError(w, r, "request body cannot be empty")
		return
	}

	var analysisRequest models.AnalysisRequest

	if err := api.ReadJSON(r, &analysisRequest); err != nil {
		api.SendBadRequestError(w, r, err.Error())
		return
	}

	req := probe.Request{
		Statement: analysisRequest.Query,
		Schema:    analysisRequest.Schema,
		Relation:  analysisRequest.Relation,
	}

	if relation := r.PathValue("relation"); relation != "" {
		req.Relation = &relation
	}

	records, err := a.analyzer.Analyze(r.Context(), req)
	if err != nil {
		sendProbeError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, records)
}

func (a *App) explainMode(w http.ResponseWriter, r *http.Request) {
	explanation, err := a.catalog.Explain(r.PathValue("mode"))
	if err != nil {
		api.SendBadRequestError(w, r, err.Error())
		return
	}

	writeJSON(w, http.StatusOK, explanation)
}

// StatusCode returns the HTTP status of a probe error.
func StatusCode(err error) int {
	kind, _ := probe.KindOf(err)

	switch kind {
	case probe.StatementExecutionFailure:
		return http.StatusBadRequest

	case probe.ConnectionFailure, probe.WaitTimeout:
		return http.StatusServiceUnavailable

	default:
		return http.StatusInternalServerError
	}
}

func sendProbeError(w http.ResponseWriter, err error) {
	kind, _ := probe.KindOf(err)

	writeJSON(w, StatusCode(err), models.ErrorResponse{
		Type:    kind.String(),
		Message: err.Error(),
	})
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)

	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Err(err)
	}
}
