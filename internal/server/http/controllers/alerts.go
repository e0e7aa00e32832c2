package controllers

import (
	"net/http"

	"github.com/freelancing-solutions/jobfinders-mvp-sub000/internal/monitor"
	"github.com/freelancing-solutions/jobfinders-mvp-sub000/internal/runtime"
)

// AlertsController handles alert rules and the fired-alert list.
type AlertsController struct {
	rt *runtime.Runtime
}

// NewAlertsController creates a new alerts controller.
func NewAlertsController(rt *runtime.Runtime) *AlertsController {
	return &AlertsController{rt: rt}
}

// RegisterRoutes registers alert routes with the given mux.
func (c *AlertsController) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("/v1/alerts/rules", c.handleListRules)
	mux.HandleFunc("/v1/alerts/rules/create", c.handleCreateRule)
	mux.HandleFunc("/v1/alerts/rules/update", c.handleUpdateRule)
	mux.HandleFunc("/v1/alerts/rules/delete", c.handleDeleteRule)
	mux.HandleFunc("/v1/alerts", c.handleListAlerts)
	mux.HandleFunc("/v1/alerts/resolve", c.handleResolve)
}

func (c *AlertsController) handleListRules(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, map[string]any{"rules": c.rt.Alerts().Rules()})
}

func (c *AlertsController) handleCreateRule(w http.ResponseWriter, r *http.Request) {
	if !requirePost(w, r) {
		return
	}
	var rule monitor.AlertRule
	if !decodeBody(w, r, &rule) {
		return
	}
	created, err := c.rt.Alerts().CreateRule(r.Context(), rule)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	writeCreated(w, created)
}

func (c *AlertsController) handleUpdateRule(w http.ResponseWriter, r *http.Request) {
	if !requirePost(w, r) {
		return
	}
	var rule monitor.AlertRule
	if !decodeBody(w, r, &rule) {
		return
	}
	updated, err := c.rt.Alerts().UpdateRule(r.Context(), rule)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, updated)
}

func (c *AlertsController) handleDeleteRule(w http.ResponseWriter, r *http.Request) {
	if !requirePost(w, r) {
		return
	}
	var req deleteReq
	if !decodeBody(w, r, &req) {
		return
	}
	if err := c.rt.Alerts().DeleteRule(r.Context(), req.ID); err != nil {
		writeDomainError(w, err)
		return
	}
	writeNoContent(w)
}

func (c *AlertsController) handleListAlerts(w http.ResponseWriter, r *http.Request) {
	activeOnly := r.URL.Query().Get("active") == "true"
	writeJSON(w, map[string]any{"alerts": c.rt.Alerts().Alerts(activeOnly)})
}

func (c *AlertsController) handleResolve(w http.ResponseWriter, r *http.Request) {
	if !requirePost(w, r) {
		return
	}
	var req struct {
		ID string `json:"id"`
	}
	if !decodeBody(w, r, &req) {
		return
	}
	alert, err := c.rt.Alerts().ResolveAlert(r.Context(), req.ID)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, alert)
}
