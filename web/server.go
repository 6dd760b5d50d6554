package web

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"time"

	sigmago "github.com/bradleyjkemp/sigma-go"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	log "github.com/sirupsen/logrus"

	"github.com/jnesss/proc-enforcer/database"
)

const (
	defaultLimit = 100
	maxLimit     = 1000
)

// Server is the read-only HTTP API. It never touches monitoring loop state.
type Server struct {
	store      EventStore
	gatherer   prometheus.Gatherer
	rulesDir   string
	listenAddr string
}

// NewServer creates a server. store, gatherer and rulesDir are optional;
// the matching routes answer 404 without them.
func NewServer(store EventStore, gatherer prometheus.Gatherer, rulesDir, listenAddr string) *Server {
	return &Server{
		store:      store,
		gatherer:   gatherer,
		rulesDir:   rulesDir,
		listenAddr: listenAddr,
	}
}

// Handler returns the routed handler.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", logRequest(s.handleHealth))
	if s.store != nil {
		mux.HandleFunc("/api/events", logRequest(s.handleEvents))
		mux.HandleFunc("/api/summary", logRequest(s.handleSummary))
	}
	if s.rulesDir != "" {
		mux.HandleFunc("/api/rules", logRequest(s.handleRules))
	}
	if s.gatherer != nil {
		mux.Handle("/metrics", promhttp.HandlerFor(s.gatherer, promhttp.HandlerOpts{}))
	}
	return mux
}

func logRequest(h http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		h(w, r)
		log.WithFields(log.Fields{
			"method":   r.Method,
			"path":     r.URL.Path,
			"duration": time.Since(start),
		}).Debug("HTTP request")
	}
}

// Start serves until ctx is cancelled.
func (s *Server) Start(ctx context.Context) error {
	srv := &http.Server{
		Addr:              s.listenAddr,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			log.WithError(err).Warn("HTTP server shutdown error")
		}
	}()

	log.WithField("addr", s.listenAddr).Info("Starting web server")
	if err := srv.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "text/plain")
	fmt.Fprintln(w, "ok")
}

func (s *Server) handleEvents(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	limit := defaultLimit
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 {
			http.Error(w, "limit must be a positive integer", http.StatusBadRequest)
			return
		}
		limit = n
	}
	if limit > maxLimit {
		limit = maxLimit
	}

	rows, err := s.store.Recent(r.URL.Query().Get("kind"), limit)
	if err != nil {
		log.WithError(err).Error("Failed to query events")
		http.Error(w, "failed to query events", http.StatusInternalServerError)
		return
	}
	if rows == nil {
		rows = []database.EventRow{}
	}
	writeJSON(w, rows)
}

func (s *Server) handleSummary(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	counts, err := s.store.CountByKind()
	if err != nil {
		log.WithError(err).Error("Failed to count events")
		http.Error(w, "failed to count events", http.StatusInternalServerError)
		return
	}
	writeJSON(w, Summary{RunID: s.store.RunID(), Counts: counts})
}

func (s *Server) handleRules(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	rules := []RuleRow{}
	for _, d := range []struct {
		name    string
		enabled bool
	}{{"enabled_rules", true}, {"disabled_rules", false}} {
		found, err := readRulesFromDir(filepath.Join(s.rulesDir, d.name), d.enabled)
		if err != nil {
			http.Error(w, fmt.Sprintf("Error reading rules: %v", err), http.StatusInternalServerError)
			return
		}
		rules = append(rules, found...)
	}
	writeJSON(w, rules)
}

// readRulesFromDir lists parseable rule files in dir. A missing directory
// has no rules.
func readRulesFromDir(dir string, enabled bool) ([]RuleRow, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}

	var rules []RuleRow
	for _, entry := range entries {
		name := entry.Name()
		if entry.IsDir() || !(strings.HasSuffix(name, ".yml") || strings.HasSuffix(name, ".yaml")) {
			continue
		}
		content, err := os.ReadFile(filepath.Join(dir, name))
		if err != nil {
			continue
		}
		rule, err := sigmago.ParseRule(content)
		if err != nil {
			continue
		}
		rules = append(rules, RuleRow{
			ID:          rule.ID,
			Title:       rule.Title,
			Description: rule.Description,
			Level:       rule.Level,
			Author:      rule.Author,
			Tags:        rule.Tags,
			Filename:    name,
			Enabled:     enabled,
		})
	}
	sort.Slice(rules, func(i, j int) bool { return rules[i].Filename < rules[j].Filename })
	return rules, nil
}

func writeJSON(w http.ResponseWriter, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.WithError(err).Warn("Failed to encode response")
	}
}
