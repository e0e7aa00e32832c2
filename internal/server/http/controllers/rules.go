package controllers

import (
	"net/http"

	"github.com/freelancing-solutions/jobfinders-mvp-sub000/internal/rules"
	"github.com/freelancing-solutions/jobfinders-mvp-sub000/internal/runtime"
)

// RulesController handles CRUD for the four rule kinds plus dry runs.
type RulesController struct {
	rt *runtime.Runtime
}

// NewRulesController creates a new rules controller.
func NewRulesController(rt *runtime.Runtime) *RulesController {
	return &RulesController{rt: rt}
}

// RegisterRoutes registers rule routes with the given mux.
func (c *RulesController) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("/v1/rules/filters", c.handleListFilters)
	mux.HandleFunc("/v1/rules/filters/create", c.handleCreateFilter)
	mux.HandleFunc("/v1/rules/filters/update", c.handleUpdateFilter)
	mux.HandleFunc("/v1/rules/filters/delete", c.handleDeleteFilter)

	mux.HandleFunc("/v1/rules/throttles", c.handleListThrottles)
	mux.HandleFunc("/v1/rules/throttles/create", c.handleCreateThrottle)
	mux.HandleFunc("/v1/rules/throttles/update", c.handleUpdateThrottle)
	mux.HandleFunc("/v1/rules/throttles/delete", c.handleDeleteThrottle)

	mux.HandleFunc("/v1/rules/priorities", c.handleListPriorities)
	mux.HandleFunc("/v1/rules/priorities/create", c.handleCreatePriority)
	mux.HandleFunc("/v1/rules/priorities/update", c.handleUpdatePriority)
	mux.HandleFunc("/v1/rules/priorities/delete", c.handleDeletePriority)

	mux.HandleFunc("/v1/rules/routes", c.handleListRoutes)
	mux.HandleFunc("/v1/rules/routes/create", c.handleCreateRoute)
	mux.HandleFunc("/v1/rules/routes/update", c.handleUpdateRoute)
	mux.HandleFunc("/v1/rules/routes/delete", c.handleDeleteRoute)
}

type deleteReq struct {
	ID string `json:"id"`
}

// --- filters ---

func (c *RulesController) handleListFilters(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, map[string]any{"rules": c.rt.Rules().FilterRules()})
}

func (c *RulesController) handleCreateFilter(w http.ResponseWriter, r *http.Request) {
	if !requirePost(w, r) {
		return
	}
	var rule rules.FilterRule
	if !decodeBody(w, r, &rule) {
		return
	}
	created, err := c.rt.Rules().CreateFilterRule(r.Context(), rule)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeCreated(w, created)
}

func (c *RulesController) handleUpdateFilter(w http.ResponseWriter, r *http.Request) {
	if !requirePost(w, r) {
		return
	}
	var rule rules.FilterRule
	if !decodeBody(w, r, &rule) {
		return
	}
	updated, err := c.rt.Rules().UpdateFilterRule(r.Context(), rule)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, updated)
}

func (c *RulesController) handleDeleteFilter(w http.ResponseWriter, r *http.Request) {
	if !requirePost(w, r) {
		return
	}
	var req deleteReq
	if !decodeBody(w, r, &req) {
		return
	}
	if err := c.rt.Rules().DeleteFilterRule(r.Context(), req.ID); err != nil {
		writeDomainError(w, err)
		return
	}
	writeNoContent(w)
}

// --- throttles ---

func (c *RulesController) handleListThrottles(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, map[string]any{"rules": c.rt.Rules().ThrottleRules()})
}

func (c *RulesController) handleCreateThrottle(w http.ResponseWriter, r *http.Request) {
	if !requirePost(w, r) {
		return
	}
	var rule rules.ThrottleRule
	if !decodeBody(w, r, &rule) {
		return
	}
	created, err := c.rt.Rules().CreateThrottleRule(r.Context(), rule)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeCreated(w, created)
}

func (c *RulesController) handleUpdateThrottle(w http.ResponseWriter, r *http.Request) {
	if !requirePost(w, r) {
		return
	}
	var rule rules.ThrottleRule
	if !decodeBody(w, r, &rule) {
		return
	}
	updated, err := c.rt.Rules().UpdateThrottleRule(r.Context(), rule)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, updated)
}

func (c *RulesController) handleDeleteThrottle(w http.ResponseWriter, r *http.Request) {
	if !requirePost(w, r) {
		return
	}
	var req deleteReq
	if !decodeBody(w, r, &req) {
		return
	}
	if err := c.rt.Rules().DeleteThrottleRule(r.Context(), req.ID); err != nil {
		writeDomainError(w, err)
		return
	}
	writeNoContent(w)
}

// --- priorities ---

func (c *RulesController) handleListPriorities(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, map[string]any{"rules": c.rt.Rules().PriorityRules()})
}

func (c *RulesController) handleCreatePriority(w http.ResponseWriter, r *http.Request) {
	if !requirePost(w, r) {
		return
	}
	var rule rules.PriorityRule
	if !decodeBody(w, r, &rule) {
		return
	}
	created, err := c.rt.Rules().CreatePriorityRule(r.Context(), rule)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeCreated(w, created)
}

func (c *RulesController) handleUpdatePriority(w http.ResponseWriter, r *http.Request) {
	if !requirePost(w, r) {
		return
	}
	var rule rules.PriorityRule
	if !decodeBody(w, r, &rule) {
		return
	}
	updated, err := c.rt.Rules().UpdatePriorityRule(r.Context(), rule)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, updated)
}

func (c *RulesController) handleDeletePriority(w http.ResponseWriter, r *http.Request) {
	if !requirePost(w, r) {
		return
	}
	var req deleteReq
	if !decodeBody(w, r, &req) {
		return
	}
	if err := c.rt.Rules().DeletePriorityRule(r.Context(), req.ID); err != nil {
		writeDomainError(w, err)
		return
	}
	writeNoContent(w)
}

// --- routes ---

func (c *RulesController) handleListRoutes(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, map[string]any{"rules": c.rt.Rules().RoutingRules()})
}

func (c *RulesController) handleCreateRoute(w http.ResponseWriter, r *http.Request) {
	if !requirePost(w, r) {
		return
	}
	var rule rules.RoutingRule
	if !decodeBody(w, r, &rule) {
		return
	}
	created, err := c.rt.Rules().CreateRoutingRule(r.Context(), rule)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeCreated(w, created)
}

func (c *RulesController) handleUpdateRoute(w http.ResponseWriter, r *http.Request) {
	if !requirePost(w, r) {
		return
	}
	var rule rules.RoutingRule
	if !decodeBody(w, r, &rule) {
		return
	}
	updated, err := c.rt.Rules().UpdateRoutingRule(r.Context(), rule)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, updated)
}

func (c *RulesController) handleDeleteRoute(w http.ResponseWriter, r *http.Request) {
	if !requirePost(w, r) {
		return
	}
	var req deleteReq
	if !decodeBody(w, r, &req) {
		return
	}
	if err := c.rt.Rules().DeleteRoutingRule(r.Context(), req.ID); err != nil {
		writeDomainError(w, err)
		return
	}
	writeNoContent(w)
}
