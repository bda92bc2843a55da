// Package worker executes the background side of the lifecycle: periodic
// sweeps and the due-job runner behind the scheduler facade.
package worker

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/jamiejackherer/cerberus-core/internal/lifecycle"
)

// ActionService applies a remediation action against a defendant's service.
// Implementations talk to the hosting provider's backend.
type ActionService interface {
	Apply(ctx context.Context, ticketID, actionID, ip string) error
}

// LoggingActionService is a stand-in executor that only records the call.
// Useful in development and as a wiring default until a provider backend
// is configured.
type LoggingActionService struct {
	logger *zap.Logger
}

func NewLoggingActionService(logger *zap.Logger) *LoggingActionService {
	return &LoggingActionService{logger: logger}
}

func (s *LoggingActionService) Apply(ctx context.Context, ticketID, actionID, ip string) error {
	s.logger.Info("applying service action",
		zap.String("ticket", ticketID),
		zap.String("action", actionID),
		zap.String("ip", ip))
	return nil
}

// Handler executes one claimed job.
type Handler func(ctx context.Context, kwargs map[string]any) error

// Registry maps scheduled function names to their handlers. Names are
// registered explicitly at startup; an unknown name fails the job.
type Registry struct {
	handlers map[string]Handler
}

func NewRegistry() *Registry {
	return &Registry{handlers: make(map[string]Handler)}
}

// Register binds a function name. Duplicate names are a wiring bug.
func (r *Registry) Register(name string, handler Handler) error {
	if _, exists := r.handlers[name]; exists {
		return fmt.Errorf("handler %q already registered", name)
	}
	r.handlers[name] = handler
	return nil
}

// Resolve returns the handler for a function name.
func (r *Registry) Resolve(name string) (Handler, bool) {
	handler, ok := r.handlers[name]
	return handler, ok
}

// RegisterLifecycleHandlers binds the standard lifecycle job functions.
func RegisterLifecycleHandlers(registry *Registry, controller *lifecycle.Controller, actions ActionService) error {
	bindings := map[string]Handler{
		lifecycle.FuncTicketTimeout: func(ctx context.Context, kwargs map[string]any) error {
			ticketID, err := stringKwarg(kwargs, "ticket_id")
			if err != nil {
				return err
			}
			return controller.Timeout(ctx, ticketID)
		},
		lifecycle.FuncApplyAction: func(ctx context.Context, kwargs map[string]any) error {
			return applyAction(ctx, kwargs, actions)
		},
		lifecycle.FuncApplyIfNoReply: func(ctx context.Context, kwargs map[string]any) error {
			return applyAction(ctx, kwargs, actions)
		},
		lifecycle.FuncApplyThenClose: func(ctx context.Context, kwargs map[string]any) error {
			return applyAction(ctx, kwargs, actions)
		},
		lifecycle.FuncCloseMailThread: func(ctx context.Context, kwargs map[string]any) error {
			ticketID, err := stringKwarg(kwargs, "ticket_id")
			if err != nil {
				return err
			}
			return controller.CloseEmailsThread(ctx, ticketID)
		},
	}
	for name, handler := range bindings {
		if err := registry.Register(name, handler); err != nil {
			return err
		}
	}
	return nil
}

func applyAction(ctx context.Context, kwargs map[string]any, actions ActionService) error {
	ticketID, err := stringKwarg(kwargs, "ticket_id")
	if err != nil {
		return err
	}
	actionID, err := stringKwarg(kwargs, "action_id")
	if err != nil {
		return err
	}
	ip, err := stringKwarg(kwargs, "ip_addr")
	if err != nil {
		return err
	}
	return actions.Apply(ctx, ticketID, actionID, ip)
}

func stringKwarg(kwargs map[string]any, key string) (string, error) {
	value, ok := kwargs[key].(string)
	if !ok || value == "" {
		return "", fmt.Errorf("missing %q kwarg", key)
	}
	return value, nil
}

// jobExecTimeout bounds a single handler invocation when the job carries
// no timeout of its own.
const jobExecTimeout = 10 * time.Minute
