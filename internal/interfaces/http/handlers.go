package http

import (
	"encoding/json"
	"errors"
	"net/http"
	"runtime"
	"strconv"
	"strings"
	"time"

	"github.com/gorilla/mux"
	"github.com/rs/zerolog/log"

	"github.com/sawpanic/stockmetrics/internal/infrastructure/providers"
	"github.com/sawpanic/stockmetrics/internal/persistence"
)

const dateLayout = "2006-01-02"

// HealthResponse is the /health body
type HealthResponse struct {
	Status    string                   `json:"status"` // "healthy", "degraded", "unhealthy"
	Timestamp time.Time                `json:"timestamp"`
	Uptime    string                   `json:"uptime"`
	Version   string                   `json:"version,omitempty"`
	Database  *persistence.HealthCheck `json:"database,omitempty"`
	Breaker   *providers.BreakerStatus `json:"price_store_breaker,omitempty"`
	Engine    MetricsSnapshot          `json:"engine"`
	System    SystemInfo               `json:"system"`
}

// SystemInfo provides process-level information
type SystemInfo struct {
	GoVersion     string `json:"go_version"`
	NumGoroutines int    `json:"num_goroutines"`
	MemAlloc      uint64 `json:"mem_alloc_bytes"`
	NumGC         uint32 `json:"num_gc"`
}

type errorResponse struct {
	Error string `json:"error"`
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	var mem runtime.MemStats
	runtime.ReadMemStats(&mem)

	resp := HealthResponse{
		Status:    "healthy",
		Timestamp: time.Now().UTC(),
		Uptime:    time.Since(s.startTime).Round(time.Second).String(),
		Version:   s.deps.Version,
		Engine:    s.deps.Registry.Snapshot(),
		System: SystemInfo{
			GoVersion:     runtime.Version(),
			NumGoroutines: runtime.NumGoroutine(),
			MemAlloc:      mem.Alloc,
			NumGC:         mem.NumGC,
		},
	}

	if s.deps.Health != nil {
		check := s.deps.Health.Health(r.Context())
		resp.Database = &check
		if !check.Healthy {
			resp.Status = "unhealthy"
		}
	}

	if s.deps.Breaker != nil {
		status := s.deps.Breaker()
		resp.Breaker = &status
		if status.State != "closed" && resp.Status == "healthy" {
			resp.Status = "degraded"
		}
	}

	code := http.StatusOK
	if resp.Status == "unhealthy" {
		code = http.StatusServiceUnavailable
	}
	writeJSON(w, code, resp)
}

func (s *Server) handleSummary(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.deps.Registry.Snapshot())
}

func (s *Server) handleLatestRun(w http.ResponseWriter, r *http.Request) {
	if s.deps.Runs == nil {
		writeError(w, http.StatusServiceUnavailable, "run ledger unavailable")
		return
	}

	run, err := s.deps.Runs.Latest(r.Context())
	if err != nil {
		s.internalError(w, r, err)
		return
	}
	if run == nil {
		writeError(w, http.StatusNotFound, "no runs recorded")
		return
	}
	writeJSON(w, http.StatusOK, run)
}

func (s *Server) handleRunForDate(w http.ResponseWriter, r *http.Request) {
	if s.deps.Runs == nil {
		writeError(w, http.StatusServiceUnavailable, "run ledger unavailable")
		return
	}

	date, err := time.Parse(dateLayout, mux.Vars(r)["date"])
	if err != nil {
		writeError(w, http.StatusBadRequest, "date must be YYYY-MM-DD")
		return
	}

	run, err := s.deps.Runs.LatestForDate(r.Context(), date)
	if err != nil {
		s.internalError(w, r, err)
		return
	}
	if run == nil {
		writeError(w, http.StatusNotFound, "no run for "+date.Format(dateLayout))
		return
	}
	writeJSON(w, http.StatusOK, run)
}

// handleRecord serves one record; date may be "latest"
func (s *Server) handleRecord(w http.ResponseWriter, r *http.Request) {
	if s.deps.Metrics == nil {
		writeError(w, http.StatusServiceUnavailable, "metrics store unavailable")
		return
	}

	vars := mux.Vars(r)
	symbol := strings.ToUpper(strings.TrimSpace(vars["symbol"]))

	var date time.Time
	if vars["date"] == "latest" {
		latest, err := s.deps.Metrics.LatestDate(r.Context())
		if errors.Is(err, persistence.ErrNoData) {
			writeError(w, http.StatusNotFound, "no metrics stored")
			return
		}
		if err != nil {
			s.internalError(w, r, err)
			return
		}
		date = latest
	} else {
		parsed, err := time.Parse(dateLayout, vars["date"])
		if err != nil {
			writeError(w, http.StatusBadRequest, "date must be YYYY-MM-DD or latest")
			return
		}
		date = parsed
	}

	rec, err := s.deps.Metrics.GetBySymbolDate(r.Context(), symbol, date)
	if err != nil {
		s.internalError(w, r, err)
		return
	}
	if rec == nil {
		writeError(w, http.StatusNotFound, "no metrics for "+symbol+" on "+date.Format(dateLayout))
		return
	}
	writeJSON(w, http.StatusOK, rec)
}

// handleScreen runs the latest-date screening query
func (s *Server) handleScreen(w http.ResponseWriter, r *http.Request) {
	if s.deps.Metrics == nil {
		writeError(w, http.StatusServiceUnavailable, "metrics store unavailable")
		return
	}

	filter, err := parseScreenFilter(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	records, err := s.deps.Metrics.ListLatest(r.Context(), filter)
	if err != nil {
		s.internalError(w, r, err)
		return
	}
	if records == nil {
		records = []persistence.MetricsRecord{}
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"count":   len(records),
		"filter":  filter,
		"records": records,
	})
}

func parseScreenFilter(r *http.Request) (persistence.ScreenFilter, error) {
	q := r.URL.Query()
	filter := persistence.ScreenFilter{Limit: 100}

	if v := q.Get("min_rs_rating"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 1 || n > 99 {
			return filter, errors.New("min_rs_rating must be an integer in [1, 99]")
		}
		filter.MinRSRating = n
	}
	if v := q.Get("min_volume_ratio"); v != "" {
		f, err := strconv.ParseFloat(v, 64)
		if err != nil || f < 0 {
			return filter, errors.New("min_volume_ratio must be a non-negative number")
		}
		filter.MinVolumeRatio = f
	}
	if v := q.Get("above_sma200"); v != "" {
		b, err := strconv.ParseBool(v)
		if err != nil {
			return filter, errors.New("above_sma200 must be a boolean")
		}
		filter.AboveSMA200 = b
	}
	if v := q.Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 1 || n > 1000 {
			return filter, errors.New("limit must be an integer in [1, 1000]")
		}
		filter.Limit = n
	}
	return filter, nil
}

func (s *Server) internalError(w http.ResponseWriter, r *http.Request, err error) {
	requestID, _ := r.Context().Value(requestIDKey).(string)
	log.Error().Err(err).Str("request_id", requestID).Str("path", r.URL.Path).Msg("Request failed")
	writeError(w, http.StatusInternalServerError, "internal error")
}

func writeJSON(w http.ResponseWriter, code int, v interface{}) {
	w.WriteHeader(code)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Warn().Err(err).Msg("Failed to encode response")
	}
}

func writeError(w http.ResponseWriter, code int, msg string) {
	writeJSON(w, code, errorResponse{Error: msg})
}
