package controllers

import (
	"net/http"

	"github.com/freelancing-solutions/jobfinders-mvp-sub000/internal/runtime"
)

// ControllerRegistry manages all HTTP controllers.
//
// It provides a centralized way to register all controller routes.
type ControllerRegistry struct {
	general   *GeneralController
	queues    *QueuesController
	rules     *RulesController
	schedules *SchedulesController
	scaling   *ScalingController
	alerts    *AlertsController
}

// NewControllerRegistry creates a new controller registry over the runtime.
func NewControllerRegistry(rt *runtime.Runtime) *ControllerRegistry {
	return &ControllerRegistry{
		general:   NewGeneralController(rt),
		queues:    NewQueuesController(rt),
		rules:     NewRulesController(rt),
		schedules: NewSchedulesController(rt),
		scaling:   NewScalingController(rt),
		alerts:    NewAlertsController(rt),
	}
}

// RegisterAllRoutes registers every controller's routes with the given mux.
func (r *ControllerRegistry) RegisterAllRoutes(mux *http.ServeMux) {
	r.general.RegisterRoutes(mux)
	r.queues.RegisterRoutes(mux)
	r.rules.RegisterRoutes(mux)
	r.schedules.RegisterRoutes(mux)
	r.scaling.RegisterRoutes(mux)
	r.alerts.RegisterRoutes(mux)
}
