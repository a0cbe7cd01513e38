package events

import (
	"context"
	"fmt"
	"sort"

	"github.com/angelmondragon/boardfeed-backend/pkg/enums"
	pkgerrors "github.com/angelmondragon/boardfeed-backend/pkg/errors"
	"github.com/angelmondragon/boardfeed-backend/pkg/logger"
)

// Handler applies one event type to a downstream projection.
type Handler interface {
	EventType() enums.EventType
	Handle(ctx context.Context, event Event) error
}

// Registry maps event types to their handlers. It is built once at startup
// and read-only afterwards.
type Registry struct {
	handlers map[enums.EventType][]Handler
	logg     *logger.Logger
}

// NewRegistry indexes handlers by event type, keeping registration order.
func NewRegistry(logg *logger.Logger, handlers ...Handler) (*Registry, error) {
	if logg == nil {
		return nil, fmt.Errorf("logger required")
	}
	r := &Registry{handlers: make(map[enums.EventType][]Handler), logg: logg}
	for _, h := range handlers {
		if h == nil {
			return nil, fmt.Errorf("nil handler")
		}
		t := h.EventType()
		if !t.IsValid() {
			return nil, fmt.Errorf("handler %T registered for unknown event type %q", h, t)
		}
		r.handlers[t] = append(r.handlers[t], h)
	}
	return r, nil
}

// Dispatch runs every handler for the event's type in order. An unknown type
// is logged and ignored; the first handler error stops the chain.
func (r *Registry) Dispatch(ctx context.Context, event Event) error {
	handlers := r.handlers[event.Type]
	if len(handlers) == 0 {
		logCtx := r.logg.WithEvent(ctx, event.ID, string(event.Type))
		r.logg.Warn(logCtx, "no handler registered for event type")
		return nil
	}
	for _, h := range handlers {
		if err := h.Handle(ctx, event); err != nil {
			if pkgerrors.As(err) != nil {
				return fmt.Errorf("%s handler %T: %w", event.Type, h, err)
			}
			return pkgerrors.Wrap(pkgerrors.CodeHandlerFailure, err, fmt.Sprintf("%s handler %T", event.Type, h))
		}
	}
	return nil
}

// Handles reports whether at least one handler is registered for t.
func (r *Registry) Handles(t enums.EventType) bool {
	return len(r.handlers[t]) > 0
}

// Types lists the registered event types in a stable order.
func (r *Registry) Types() []enums.EventType {
	types := make([]enums.EventType, 0, len(r.handlers))
	for t := range r.handlers {
		types = append(types, t)
	}
	sort.Slice(types, func(i, j int) bool { return types[i] < types[j] })
	return types
}
