package licensing

import (
	"context"
	"errors"
	"strings"
)

// ServiceManager observes and commands the dependent service.
type ServiceManager interface {
	IsActive(ctx context.Context, unit string) (bool, error)
	Start(ctx context.Context, unit string) error
	Stop(ctx context.Context, unit string) error
}

// ApplyResult describes what Apply did.
type ApplyResult struct {
	Decision  Decision `json:"-"`
	Unit      string   `json:"unit"`
	WasActive bool     `json:"was_active"`
	Queried   bool     `json:"queried"`
	Commanded bool     `json:"commanded"`
	Action    string   `json:"action,omitempty"`
}

// ServiceController converges the dependent service onto a Decision.
type ServiceController struct {
	manager ServiceManager
	unit    string
}

// NewServiceController returns a controller for unit.
func NewServiceController(manager ServiceManager, unit string) *ServiceController {
	return &ServiceController{manager: manager, unit: strings.TrimSpace(unit)}
}

// Apply issues at most one start or stop. DecisionNone touches nothing, and
// a service already in the desired state is left alone.
func (c *ServiceController) Apply(ctx context.Context, decision Decision) (ApplyResult, error) {
	result := ApplyResult{Decision: decision, Unit: c.unit}
	if decision != DecisionRun && decision != DecisionStop {
		return result, nil
	}
	if c.manager == nil || c.unit == "" {
		return result, &ControlError{Action: "query", Unit: c.unit, Err: errors.New("service controller not configured")}
	}

	active, err := c.manager.IsActive(ctx, c.unit)
	result.Queried = true
	if err != nil {
		return result, &ControlError{Action: "query", Unit: c.unit, Err: err}
	}
	result.WasActive = active

	switch decision {
	case DecisionRun:
		if active {
			return result, nil
		}
		result.Action = "start"
		result.Commanded = true
		if err := c.manager.Start(ctx, c.unit); err != nil {
			return result, &ControlError{Action: "start", Unit: c.unit, Err: err}
		}
	case DecisionStop:
		if !active {
			return result, nil
		}
		result.Action = "stop"
		result.Commanded = true
		if err := c.manager.Stop(ctx, c.unit); err != nil {
			return result, &ControlError{Action: "stop", Unit: c.unit, Err: err}
		}
	}
	return result, nil
}
