package controllers

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/freelancing-solutions/jobfinders-mvp-sub000/internal/audit"
	"github.com/freelancing-solutions/jobfinders-mvp-sub000/internal/monitor"
	"github.com/freelancing-solutions/jobfinders-mvp-sub000/internal/runtime"
)

// GeneralController handles node-level endpoints: health, metrics, audit.
type GeneralController struct {
	rt *runtime.Runtime
}

// NewGeneralController creates a new general controller.
func NewGeneralController(rt *runtime.Runtime) *GeneralController {
	return &GeneralController{rt: rt}
}

// RegisterRoutes registers general routes with the given mux.
func (c *GeneralController) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("/v1/healthz", c.handleHealth)
	mux.HandleFunc("/v1/metrics", c.handleMetrics)
	mux.HandleFunc("/v1/metrics/performance", c.handlePerformance)
	mux.HandleFunc("/v1/audit", c.handleAudit)
}

// handleHealth runs the full check battery. 200 for healthy and degraded,
// 503 only when a check fails outright.
func (c *GeneralController) handleHealth(w http.ResponseWriter, r *http.Request) {
	rep := c.rt.Health().Check(r.Context())
	if rep.Status == monitor.StatusUnhealthy {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusServiceUnavailable)
		_ = json.NewEncoder(w).Encode(rep)
		return
	}
	writeJSON(w, rep)
}

// handleMetrics returns live queue metrics plus the latest system sample.
func (c *GeneralController) handleMetrics(w http.ResponseWriter, r *http.Request) {
	snap, ok := c.rt.Collector().Latest()
	if !ok {
		snap = c.rt.Collector().Sample(r.Context())
	}
	snap.Queues = c.rt.Queues().AllMetrics(r.Context())
	writeJSON(w, snap)
}

// handlePerformance returns latency percentiles for one queue.
//
// Query params: queue (required), window (Go duration, default 15m).
func (c *GeneralController) handlePerformance(w http.ResponseWriter, r *http.Request) {
	queueName := r.URL.Query().Get("queue")
	if queueName == "" {
		writeError(w, http.StatusBadRequest, "queue is required")
		return
	}
	window := parseWindow(r.URL.Query().Get("window"), 15*time.Minute)
	perf, err := c.rt.Collector().Percentiles(queueName, window)
	if err != nil {
		writeError(w, http.StatusNotFound, err.Error())
		return
	}
	writeJSON(w, perf)
}

// handleAudit lists audit records of one kind, newest first.
//
// Query params: kind (scaling | schedule | alert), limit.
func (c *GeneralController) handleAudit(w http.ResponseWriter, r *http.Request) {
	kind := audit.Kind(r.URL.Query().Get("kind"))
	switch kind {
	case audit.KindScaling, audit.KindSchedule, audit.KindAlert:
	default:
		writeError(w, http.StatusBadRequest, "kind must be scaling, schedule or alert")
		return
	}
	records, err := c.rt.Audit().Scan(r.Context(), kind, parseLimit(r.URL.Query().Get("limit")))
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, map[string]any{"records": records})
}
