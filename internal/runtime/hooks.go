package runtime

import (
	"context"
	"time"

	"github.com/ThreeDotsLabs/watermill/message"

	loggingpkg "github.com/drblury/quicflow/internal/runtime/logging"
	metadatapkg "github.com/drblury/quicflow/internal/runtime/metadata"
)

// DispatchContext describes one handler invocation to lifecycle hooks.
type DispatchContext struct {
	// TypeName is the wire name of the message being handled.
	TypeName string
	// MessageUUID is the unique identifier of the bus message.
	MessageUUID string
	// CorrelationID ties the invocation to its exchange.
	CorrelationID string
	// ConnID names the connection the message arrived on.
	ConnID string
	// Metadata contains the full message metadata.
	Metadata message.Metadata
	// Context is the context associated with the message.
	Context context.Context
	// StartedAt is when the handler started.
	StartedAt time.Time
	// Duration is how long the handler took (only set in OnMessageDone
	// and OnMessageError).
	Duration time.Duration
}

// DispatchHooks defines callbacks for handler lifecycle events.
// All hooks are optional; nil hooks are simply not called.
type DispatchHooks struct {
	// OnMessageStart is called before the handler is invoked.
	OnMessageStart func(ctx DispatchContext)

	// OnMessageDone is called when the handler returns without error.
	OnMessageDone func(ctx DispatchContext)

	// OnMessageError is called when the handler returns an error. Whether
	// that is once per delivery or once per retry attempt depends on where
	// the hooks middleware sits relative to the retry middleware.
	OnMessageError func(ctx DispatchContext, err error)
}

// Merge combines two DispatchHooks into one that calls both. The hooks
// from other run after the hooks from h.
func (h DispatchHooks) Merge(other DispatchHooks) DispatchHooks {
	return DispatchHooks{
		OnMessageStart: chainStartHooks(h.OnMessageStart, other.OnMessageStart),
		OnMessageDone:  chainDoneHooks(h.OnMessageDone, other.OnMessageDone),
		OnMessageError: chainErrorHooks(h.OnMessageError, other.OnMessageError),
	}
}

func chainStartHooks(a, b func(DispatchContext)) func(DispatchContext) {
	if a == nil {
		return b
	}
	if b == nil {
		return a
	}
	return func(ctx DispatchContext) {
		a(ctx)
		b(ctx)
	}
}

func chainDoneHooks(a, b func(DispatchContext)) func(DispatchContext) {
	if a == nil {
		return b
	}
	if b == nil {
		return a
	}
	return func(ctx DispatchContext) {
		a(ctx)
		b(ctx)
	}
}

func chainErrorHooks(a, b func(DispatchContext, error)) func(DispatchContext, error) {
	if a == nil {
		return b
	}
	if b == nil {
		return a
	}
	return func(ctx DispatchContext, err error) {
		a(ctx, err)
		b(ctx, err)
	}
}

// DispatchHooksMiddleware wires hooks into the middleware chain. Register
// it with WithMiddlewares; it runs at the position it is added.
func DispatchHooksMiddleware(hooks DispatchHooks) MiddlewareRegistration {
	return MiddlewareRegistration{
		Name: "dispatch_hooks",
		Builder: func(e *Engine) (message.HandlerMiddleware, error) {
			return dispatchHooksMiddleware(hooks), nil
		},
	}
}

func dispatchHooksMiddleware(hooks DispatchHooks) message.HandlerMiddleware {
	return func(h message.HandlerFunc) message.HandlerFunc {
		return func(msg *message.Message) ([]*message.Message, error) {
			hookCtx := DispatchContext{
				TypeName:      msg.Metadata.Get(metadatapkg.KeyMessageType),
				MessageUUID:   msg.UUID,
				CorrelationID: msg.Metadata.Get(metadatapkg.KeyCorrelationID),
				ConnID:        msg.Metadata.Get(metadatapkg.KeyConnID),
				Metadata:      msg.Metadata,
				Context:       msg.Context(),
				StartedAt:     time.Now(),
			}

			if hooks.OnMessageStart != nil {
				hooks.OnMessageStart(hookCtx)
			}

			msgs, err := h(msg)

			hookCtx.Duration = time.Since(hookCtx.StartedAt)
			if err != nil {
				if hooks.OnMessageError != nil {
					hooks.OnMessageError(hookCtx, err)
				}
			} else if hooks.OnMessageDone != nil {
				hooks.OnMessageDone(hookCtx)
			}

			return msgs, err
		}
	}
}

// LoggingHooks returns pre-built hooks that log handler lifecycle events.
func LoggingHooks(logger loggingpkg.ServiceLogger) DispatchHooks {
	return DispatchHooks{
		OnMessageStart: func(ctx DispatchContext) {
			logger.Debug("handler started", loggingpkg.LogFields{
				"message_type":   ctx.TypeName,
				"message_uuid":   ctx.MessageUUID,
				"correlation_id": ctx.CorrelationID,
			})
		},
		OnMessageDone: func(ctx DispatchContext) {
			logger.Info("handler completed", loggingpkg.LogFields{
				"message_type": ctx.TypeName,
				"message_uuid": ctx.MessageUUID,
				"duration_ms":  ctx.Duration.Milliseconds(),
			})
		},
		OnMessageError: func(ctx DispatchContext, err error) {
			logger.Error("handler failed", err, loggingpkg.LogFields{
				"message_type": ctx.TypeName,
				"message_uuid": ctx.MessageUUID,
				"duration_ms":  ctx.Duration.Milliseconds(),
			})
		},
	}
}

// CountingHooks returns pre-built hooks that feed simple counters, keyed
// by message type.
func CountingHooks(onStart, onDone, onError func(typeName string)) DispatchHooks {
	return DispatchHooks{
		OnMessageStart: func(ctx DispatchContext) {
			if onStart != nil {
				onStart(ctx.TypeName)
			}
		},
		OnMessageDone: func(ctx DispatchContext) {
			if onDone != nil {
				onDone(ctx.TypeName)
			}
		},
		OnMessageError: func(ctx DispatchContext, err error) {
			if onError != nil {
				onError(ctx.TypeName)
			}
		},
	}
}

// AlertingHooks returns pre-built hooks that trigger alerts on handler
// errors.
func AlertingHooks(alertFunc func(ctx DispatchContext, err error)) DispatchHooks {
	return DispatchHooks{
		OnMessageError: alertFunc,
	}
}
