package controllers

import (
	"net/http"

	"github.com/freelancing-solutions/jobfinders-mvp-sub000/internal/runtime"
	"github.com/freelancing-solutions/jobfinders-mvp-sub000/internal/scaling"
)

// ScalingController handles autoscaling policy and event endpoints.
type ScalingController struct {
	rt *runtime.Runtime
}

// NewScalingController creates a new scaling controller.
func NewScalingController(rt *runtime.Runtime) *ScalingController {
	return &ScalingController{rt: rt}
}

// RegisterRoutes registers scaling routes with the given mux.
func (c *ScalingController) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("/v1/scaling/policies", c.handleList)
	mux.HandleFunc("/v1/scaling/policies/create", c.handleCreate)
	mux.HandleFunc("/v1/scaling/policies/update", c.handleUpdate)
	mux.HandleFunc("/v1/scaling/policies/delete", c.handleDelete)
	mux.HandleFunc("/v1/scaling/events", c.handleEvents)
	mux.HandleFunc("/v1/scaling/scale", c.handleManualScale)
}

func (c *ScalingController) handleList(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, map[string]any{"policies": c.rt.Scaling().Policies()})
}

func (c *ScalingController) handleCreate(w http.ResponseWriter, r *http.Request) {
	if !requirePost(w, r) {
		return
	}
	var p scaling.ScalingPolicy
	if !decodeBody(w, r, &p) {
		return
	}
	created, err := c.rt.Scaling().CreatePolicy(r.Context(), p)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeCreated(w, created)
}

func (c *ScalingController) handleUpdate(w http.ResponseWriter, r *http.Request) {
	if !requirePost(w, r) {
		return
	}
	var p scaling.ScalingPolicy
	if !decodeBody(w, r, &p) {
		return
	}
	updated, err := c.rt.Scaling().UpdatePolicy(r.Context(), p)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, updated)
}

func (c *ScalingController) handleDelete(w http.ResponseWriter, r *http.Request) {
	if !requirePost(w, r) {
		return
	}
	var req deleteReq
	if !decodeBody(w, r, &req) {
		return
	}
	if err := c.rt.Scaling().DeletePolicy(r.Context(), req.ID); err != nil {
		writeDomainError(w, err)
		return
	}
	writeNoContent(w)
}

func (c *ScalingController) handleEvents(w http.ResponseWriter, r *http.Request) {
	limit := parseLimit(r.URL.Query().Get("limit"))
	writeJSON(w, map[string]any{"events": c.rt.Scaling().Events(limit)})
}

func (c *ScalingController) handleManualScale(w http.ResponseWriter, r *http.Request) {
	if !requirePost(w, r) {
		return
	}
	var req struct {
		Queue  string `json:"queue"`
		Target int    `json:"target"`
		Reason string `json:"reason"`
	}
	if !decodeBody(w, r, &req) {
		return
	}
	ev, err := c.rt.Scaling().ManualScale(r.Context(), req.Queue, req.Target, req.Reason)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, ev)
}
