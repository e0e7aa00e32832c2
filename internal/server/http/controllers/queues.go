package controllers

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/freelancing-solutions/jobfinders-mvp-sub000/internal/queue"
	"github.com/freelancing-solutions/jobfinders-mvp-sub000/internal/rules"
	"github.com/freelancing-solutions/jobfinders-mvp-sub000/internal/runtime"
)

// QueuesController handles queue CRUD, enqueue and stats endpoints.
type QueuesController struct {
	rt *runtime.Runtime
}

// NewQueuesController creates a new queues controller.
func NewQueuesController(rt *runtime.Runtime) *QueuesController {
	return &QueuesController{rt: rt}
}

// RegisterRoutes registers queue routes with the given mux.
func (c *QueuesController) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("/v1/queues", c.handleList)
	mux.HandleFunc("/v1/queues/get", c.handleGet)
	mux.HandleFunc("/v1/queues/create", c.handleCreate)
	mux.HandleFunc("/v1/queues/update", c.handleUpdate)
	mux.HandleFunc("/v1/queues/delete", c.handleDelete)
	mux.HandleFunc("/v1/queues/stats", c.handleStats)
	mux.HandleFunc("/v1/queues/enqueue", c.handleEnqueue)
	mux.HandleFunc("/v1/queues/enqueue-batch", c.handleEnqueueBatch)
	mux.HandleFunc("/v1/queues/consumers", c.handleConsumers)
}

func (c *QueuesController) handleList(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, map[string]any{"queues": c.rt.Queues().Queues()})
}

func (c *QueuesController) handleGet(w http.ResponseWriter, r *http.Request) {
	cfg, err := c.rt.Queues().GetQueue(r.URL.Query().Get("name"))
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, cfg)
}

func (c *QueuesController) handleCreate(w http.ResponseWriter, r *http.Request) {
	if !requirePost(w, r) {
		return
	}
	var cfg queue.QueueConfig
	if !decodeBody(w, r, &cfg) {
		return
	}
	created, err := c.rt.Queues().CreateQueue(r.Context(), cfg)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeCreated(w, created)
}

func (c *QueuesController) handleUpdate(w http.ResponseWriter, r *http.Request) {
	if !requirePost(w, r) {
		return
	}
	var cfg queue.QueueConfig
	if !decodeBody(w, r, &cfg) {
		return
	}
	updated, err := c.rt.Queues().UpdateQueue(r.Context(), cfg)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, updated)
}

func (c *QueuesController) handleDelete(w http.ResponseWriter, r *http.Request) {
	if !requirePost(w, r) {
		return
	}
	var req struct {
		Name string `json:"name"`
	}
	if !decodeBody(w, r, &req) {
		return
	}
	if err := c.rt.Queues().DeleteQueue(r.Context(), req.Name); err != nil {
		writeDomainError(w, err)
		return
	}
	writeNoContent(w)
}

func (c *QueuesController) handleStats(w http.ResponseWriter, r *http.Request) {
	name := r.URL.Query().Get("name")
	if name == "" {
		writeJSON(w, map[string]any{"queues": c.rt.Queues().AllMetrics(r.Context())})
		return
	}
	m, err := c.rt.Queues().Metrics(r.Context(), name)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, m)
}

// enqueueReq is one message submission. Payload is kept raw so rule
// predicates can inspect its fields.
type enqueueReq struct {
	Queue         string            `json:"queue"`
	Type          string            `json:"type"`
	Payload       json.RawMessage   `json:"payload"`
	Priority      string            `json:"priority"`
	Metadata      map[string]string `json:"metadata"`
	CorrelationID string            `json:"correlationId"`
	ReplyTo       string            `json:"replyTo"`
	DelayMs       int64             `json:"delayMs"`
	TTLMs         int64             `json:"ttlMs"`
	MaxAttempts   int               `json:"maxAttempts"`
	SkipRules     bool              `json:"skipRules"`
	DryRun        bool              `json:"dryRun"`
}

func (r enqueueReq) options() queue.EnqueueOptions {
	opts := queue.EnqueueOptions{
		Priority:      queue.Priority(r.Priority),
		Metadata:      r.Metadata,
		CorrelationID: r.CorrelationID,
		ReplyTo:       r.ReplyTo,
		Delay:         time.Duration(r.DelayMs) * time.Millisecond,
		MaxAttempts:   r.MaxAttempts,
	}
	if r.TTLMs > 0 {
		opts.ExpiresAt = time.Now().Add(time.Duration(r.TTLMs) * time.Millisecond)
	}
	return opts
}

// handleEnqueue runs the message through the rule pipeline, then appends it
// unless a rule rejected or throttled it (or a routing rule already moved it).
func (c *QueuesController) handleEnqueue(w http.ResponseWriter, r *http.Request) {
	if !requirePost(w, r) {
		return
	}
	var req enqueueReq
	if !decodeBody(w, r, &req) {
		return
	}
	msg, err := c.rt.Queues().BuildMessage(r.Context(), req.Queue, req.Type, req.Payload, req.options())
	if err != nil {
		writeDomainError(w, err)
		return
	}

	if req.SkipRules {
		if err := c.rt.Queues().EnqueueMessage(r.Context(), msg, time.Duration(req.DelayMs)*time.Millisecond); err != nil {
			writeDomainError(w, err)
			return
		}
		writeJSON(w, map[string]any{"id": msg.ID, "queue": msg.Queue, "status": rules.StatusAccepted})
		return
	}

	var res rules.Result
	if req.DryRun {
		res, err = c.rt.Rules().DryRun(r.Context(), msg)
	} else {
		res, err = c.rt.Rules().Process(r.Context(), msg)
	}
	if err != nil {
		writeDomainError(w, err)
		return
	}
	switch res.Status {
	case rules.StatusRejected:
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusUnprocessableEntity)
		_ = json.NewEncoder(w).Encode(map[string]any{"result": res})
		return
	case rules.StatusThrottled:
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusTooManyRequests)
		_ = json.NewEncoder(w).Encode(map[string]any{"result": res})
		return
	}
	if req.DryRun {
		writeJSON(w, map[string]any{"result": res})
		return
	}
	if !res.Enqueued {
		if err := c.rt.Queues().EnqueueMessage(r.Context(), msg, time.Duration(req.DelayMs)*time.Millisecond); err != nil {
			writeDomainError(w, err)
			return
		}
	}
	writeJSON(w, map[string]any{"id": msg.ID, "queue": msg.Queue, "result": res})
}

type batchReq struct {
	Queue string       `json:"queue"`
	Items []enqueueReq `json:"items"`
}

// handleEnqueueBatch appends all valid items atomically. The rule pipeline
// does not run on batch submissions.
func (c *QueuesController) handleEnqueueBatch(w http.ResponseWriter, r *http.Request) {
	if !requirePost(w, r) {
		return
	}
	var req batchReq
	if !decodeBody(w, r, &req) {
		return
	}
	items := make([]queue.BatchItem, len(req.Items))
	for i, it := range req.Items {
		items[i] = queue.BatchItem{Type: it.Type, Payload: it.Payload, Opts: it.options()}
	}
	results, err := c.rt.Queues().EnqueueBatch(r.Context(), req.Queue, items)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	type itemResult struct {
		ID    string `json:"id,omitempty"`
		Error string `json:"error,omitempty"`
	}
	out := make([]itemResult, len(results))
	for i, res := range results {
		out[i].ID = res.ID
		if res.Err != nil {
			out[i].Error = res.Err.Error()
		}
	}
	writeJSON(w, map[string]any{"results": out})
}

func (c *QueuesController) handleConsumers(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, map[string]any{"consumers": c.rt.Queues().Consumers(r.URL.Query().Get("queue"))})
}
