package controllers

import (
	"net/http"

	"github.com/freelancing-solutions/jobfinders-mvp-sub000/internal/runtime"
	"github.com/freelancing-solutions/jobfinders-mvp-sub000/internal/scheduler"
)

// SchedulesController handles scheduled-task endpoints.
type SchedulesController struct {
	rt *runtime.Runtime
}

// NewSchedulesController creates a new schedules controller.
func NewSchedulesController(rt *runtime.Runtime) *SchedulesController {
	return &SchedulesController{rt: rt}
}

// RegisterRoutes registers schedule routes with the given mux.
func (c *SchedulesController) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("/v1/schedules", c.handleList)
	mux.HandleFunc("/v1/schedules/get", c.handleGet)
	mux.HandleFunc("/v1/schedules/create", c.handleCreate)
	mux.HandleFunc("/v1/schedules/update", c.handleUpdate)
	mux.HandleFunc("/v1/schedules/delete", c.handleDelete)
	mux.HandleFunc("/v1/schedules/pause", c.handlePause)
	mux.HandleFunc("/v1/schedules/resume", c.handleResume)
	mux.HandleFunc("/v1/schedules/execute", c.handleExecute)
	mux.HandleFunc("/v1/schedules/history", c.handleHistory)
}

func (c *SchedulesController) handleList(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, map[string]any{"schedules": c.rt.Scheduler().List()})
}

func (c *SchedulesController) handleGet(w http.ResponseWriter, r *http.Request) {
	task, err := c.rt.Scheduler().Get(r.URL.Query().Get("id"))
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, task)
}

func (c *SchedulesController) handleCreate(w http.ResponseWriter, r *http.Request) {
	if !requirePost(w, r) {
		return
	}
	var task scheduler.ScheduledTask
	if !decodeBody(w, r, &task) {
		return
	}
	created, err := c.rt.Scheduler().Create(r.Context(), task)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeCreated(w, created)
}

func (c *SchedulesController) handleUpdate(w http.ResponseWriter, r *http.Request) {
	if !requirePost(w, r) {
		return
	}
	var task scheduler.ScheduledTask
	if !decodeBody(w, r, &task) {
		return
	}
	updated, err := c.rt.Scheduler().Update(r.Context(), task)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, updated)
}

func (c *SchedulesController) handleDelete(w http.ResponseWriter, r *http.Request) {
	if !requirePost(w, r) {
		return
	}
	var req deleteReq
	if !decodeBody(w, r, &req) {
		return
	}
	if err := c.rt.Scheduler().Delete(r.Context(), req.ID); err != nil {
		writeDomainError(w, err)
		return
	}
	writeNoContent(w)
}

func (c *SchedulesController) setActive(w http.ResponseWriter, r *http.Request, active bool) {
	if !requirePost(w, r) {
		return
	}
	var req struct {
		ID string `json:"id"`
	}
	if !decodeBody(w, r, &req) {
		return
	}
	task, err := c.rt.Scheduler().SetActive(r.Context(), req.ID, active)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, task)
}

func (c *SchedulesController) handlePause(w http.ResponseWriter, r *http.Request) {
	c.setActive(w, r, false)
}

func (c *SchedulesController) handleResume(w http.ResponseWriter, r *http.Request) {
	c.setActive(w, r, true)
}

func (c *SchedulesController) handleExecute(w http.ResponseWriter, r *http.Request) {
	if !requirePost(w, r) {
		return
	}
	var req struct {
		ID string `json:"id"`
	}
	if !decodeBody(w, r, &req) {
		return
	}
	exec, err := c.rt.Scheduler().ExecuteNow(r.Context(), req.ID)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, exec)
}

func (c *SchedulesController) handleHistory(w http.ResponseWriter, r *http.Request) {
	hist, err := c.rt.Scheduler().History(r.URL.Query().Get("id"))
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, map[string]any{"executions": hist})
}
