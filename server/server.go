// Package server handles HTTP endpoints and request routing.
package server

import (
	"context"
	"encoding/json"
	"fmt"
	"html/template"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"crosssell-scanner/pkg/crosssell"
	"crosssell-scanner/scan"
)

// Templates.
var statusTemplate = template.Must(template.New("status").Parse(statusHTML))

// Runner interface for triggering scans and single-customer checks.
type Runner interface {
	Run(ctx context.Context, opts scan.Options) (*crosssell.RunSummary, error)
	CheckCustomer(ctx context.Context, customerID, collectionID int64, forceUpdate bool) (*scan.CheckResult, error)
}

// Reports interface for reading recent run reports.
type Reports interface {
	Latest(ctx context.Context, n int) ([]*crosssell.RunSummary, error)
}

// Resolver interface for looking up a customer by email address.
type Resolver interface {
	CustomerByEmail(ctx context.Context, email string) (*crosssell.Customer, error)
}

// Server handles HTTP requests.
type Server struct {
	runner   Runner
	reports  Reports
	resolver Resolver
	logger   *slog.Logger
	scanOpts scan.Options
}

// Config holds server configuration.
type Config struct {
	Runner   Runner
	Reports  Reports
	Resolver Resolver
	Logger   *slog.Logger
	ScanOpts scan.Options
}

// New creates a new HTTP server handler.
func New(cfg *Config) *Server {
	return &Server{
		runner:   cfg.Runner,
		reports:  cfg.Reports,
		resolver: cfg.Resolver,
		logger:   cfg.Logger,
		scanOpts: cfg.ScanOpts,
	}
}

// Router builds the route table.
func (s *Server) Router() *chi.Mux {
	r := chi.NewRouter()

	r.Get("/healthz", s.handleHealth)
	r.Get("/status", s.handleStatus)
	r.Post("/scanz", s.handleScan)
	r.Post("/dryrun", s.handleDryRun)
	r.Post("/check", s.handleCheck)

	return r
}

// ListenAndServe starts the server on addr and blocks.
func (s *Server) ListenAndServe(addr string, readTimeout, writeTimeout time.Duration) error {
	// Configure server with timeouts to prevent resource exhaustion
	server := &http.Server{
		Addr:              addr,
		Handler:           s.Router(),
		ReadTimeout:       readTimeout,
		WriteTimeout:      writeTimeout,
		IdleTimeout:       120 * time.Second,
		ReadHeaderTimeout: 5 * time.Second,
	}

	s.logger.Info("Starting HTTP server", "addr", addr)
	return server.ListenAndServe()
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	if _, err := fmt.Fprint(w, `{"status":"healthy"}`); err != nil {
		s.logger.Warn("Failed to write health response", "error", err)
	}
}

func (s *Server) handleScan(w http.ResponseWriter, r *http.Request) {
	s.logger.Info("Scan endpoint triggered")

	opts := s.scanOpts
	opts.Type = crosssell.RunTypeWeekly

	summary, err := s.runner.Run(r.Context(), opts)
	if err != nil {
		s.logger.Error("Scan failed", "error", err)
		s.writeJSON(w, statusCodeFor(err), summary)
		return
	}

	s.writeJSON(w, http.StatusOK, summary)
}

func (s *Server) handleDryRun(w http.ResponseWriter, r *http.Request) {
	opts := s.scanOpts
	opts.DryRun = true
	opts.Type = crosssell.RunTypeDryRun

	// Optionally narrow the run to a single collection.
	if raw := r.URL.Query().Get("collection_id"); raw != "" {
		id, err := strconv.ParseInt(raw, 10, 64)
		if err != nil {
			http.Error(w, "invalid collection_id", http.StatusBadRequest)
			return
		}
		opts.CollectionIDs = []int64{id}
	}

	s.logger.Info("Dry run endpoint triggered", "collections", opts.CollectionIDs)

	summary, err := s.runner.Run(r.Context(), opts)
	if err != nil {
		s.logger.Error("Dry run failed", "error", err)
		s.writeJSON(w, statusCodeFor(err), summary)
		return
	}

	s.writeJSON(w, http.StatusOK, summary)
}

type checkRequest struct {
	CustomerID   int64  `json:"customer_id"`
	Email        string `json:"email"`
	CollectionID int64  `json:"collection_id"`
	ForceUpdate  bool   `json:"force_update"`
}

func (s *Server) handleCheck(w http.ResponseWriter, r *http.Request) {
	var req checkRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid request body", http.StatusBadRequest)
		return
	}

	if req.CustomerID == 0 && req.Email != "" {
		customer, err := s.resolver.CustomerByEmail(r.Context(), req.Email)
		if err != nil {
			s.logger.Error("Customer lookup failed", "email", req.Email, "error", err)
			http.Error(w, "customer not found", http.StatusNotFound)
			return
		}
		req.CustomerID = customer.ID
	}
	if req.CustomerID == 0 {
		http.Error(w, "customer_id or email is required", http.StatusBadRequest)
		return
	}

	collectionID := req.CollectionID
	if collectionID == 0 && len(s.scanOpts.CollectionIDs) > 0 {
		collectionID = s.scanOpts.CollectionIDs[0]
	}

	s.logger.Info("Check endpoint triggered", "customer", req.CustomerID, "collection", collectionID, "force", req.ForceUpdate)

	result, err := s.runner.CheckCustomer(r.Context(), req.CustomerID, collectionID, req.ForceUpdate)
	if err != nil {
		s.logger.Error("Check failed", "customer", req.CustomerID, "error", err)
		http.Error(w, "check failed", http.StatusInternalServerError)
		return
	}

	s.writeJSON(w, http.StatusOK, result)
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	reports, err := s.reports.Latest(r.Context(), 10)
	if err != nil {
		s.logger.Error("Failed to load run reports", "error", err)
		http.Error(w, "Internal server error", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.Header().Set("X-Content-Type-Options", "nosniff")
	w.Header().Set("X-Frame-Options", "DENY")

	data := map[string]any{
		"Reports": reports,
		"Now":     time.Now().UTC().Format(time.RFC3339),
	}
	if err := statusTemplate.Execute(w, data); err != nil {
		s.logger.Error("Failed to render template", "template", "status", "error", err)
	}
}

func (s *Server) writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		s.logger.Warn("Failed to write response", "error", err)
	}
}

// Configuration problems are the caller's fault; everything else is ours.
func statusCodeFor(err error) int {
	if crosssell.IsConfigError(err) {
		return http.StatusBadRequest
	}
	return http.StatusInternalServerError
}

const statusHTML = `<!DOCTYPE html>
<html>
<head>
<title>Cross-sell Scanner</title>
<style>
body { font-family: sans-serif; margin: 2em; }
table { border-collapse: collapse; }
th, td { border: 1px solid #ccc; padding: 0.4em 0.8em; text-align: left; }
.success { color: green; }
.partial_success { color: orange; }
.error { color: red; }
</style>
</head>
<body>
<h1>Cross-sell Scanner</h1>
<p>Server time: {{.Now}}</p>
{{if .Reports}}
<table>
<tr><th>Run</th><th>Time</th><th>Type</th><th>Status</th><th>Updated</th><th>Errors</th></tr>
{{range .Reports}}
<tr>
<td>{{.RunID}}</td>
<td>{{.Timestamp.Format "2006-01-02 15:04"}}</td>
<td>{{.Type}}</td>
<td class="{{.Status}}">{{.Status}}</td>
<td>{{.TotalUpdated}}</td>
<td>{{len .Errors}}</td>
</tr>
{{end}}
</table>
{{else}}
<p>No runs recorded yet.</p>
{{end}}
</body>
</html>
`
