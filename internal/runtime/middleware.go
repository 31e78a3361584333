package runtime

import (
	"errors"
	"fmt"
	"time"

	"github.com/ThreeDotsLabs/watermill/components/metrics"
	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/ThreeDotsLabs/watermill/message/router/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	idspkg "github.com/drblury/quicflow/internal/runtime/ids"
	loggingpkg "github.com/drblury/quicflow/internal/runtime/logging"
	metadatapkg "github.com/drblury/quicflow/internal/runtime/metadata"
)

// MiddlewareBuilder constructs a handler middleware using the engine it
// will run on.
type MiddlewareBuilder func(*Engine) (message.HandlerMiddleware, error)

// MiddlewareRegistration captures how a middleware should be registered on
// an engine's router.
type MiddlewareRegistration struct {
	Name       string
	Middleware message.HandlerMiddleware
	Builder    MiddlewareBuilder
}

// RetryMiddlewareConfig customises the retry middleware behaviour.
type RetryMiddlewareConfig struct {
	MaxRetries      int
	InitialInterval time.Duration
	MaxInterval     time.Duration
	RetryIf         func(error) bool
}

func (cfg RetryMiddlewareConfig) withDefaults() RetryMiddlewareConfig {
	if cfg.MaxRetries <= 0 {
		cfg.MaxRetries = 5
	}
	if cfg.InitialInterval <= 0 {
		cfg.InitialInterval = time.Second
	}
	if cfg.MaxInterval <= 0 {
		cfg.MaxInterval = 16 * time.Second
	}
	return cfg
}

// DefaultMiddlewares returns the standard middleware chain applied to
// every engine. Order matters: the first registration is the outermost
// middleware, so the error trap sees the final outcome after retries, and
// the recoverer converts panics into errors the retry loop can see.
func DefaultMiddlewares() []MiddlewareRegistration {
	return []MiddlewareRegistration{
		ErrorTrapMiddleware(),
		CorrelationIDMiddleware(),
		LogMessagesMiddleware(nil),
		TracerMiddleware(),
		MetricsMiddleware(),
		RetryMiddleware(RetryMiddlewareConfig{}),
		RecovererMiddleware(),
	}
}

// ErrorTrapMiddleware terminates failed deliveries: it records the
// failure, invokes the session's error handler, and acks the message so
// the dispatcher does not redeliver it forever. It must stay outermost.
func ErrorTrapMiddleware() MiddlewareRegistration {
	return MiddlewareRegistration{
		Name: "error_trap",
		Builder: func(e *Engine) (message.HandlerMiddleware, error) {
			return func(h message.HandlerFunc) message.HandlerFunc {
				return func(msg *message.Message) ([]*message.Message, error) {
					out, err := h(msg)
					if err == nil {
						return out, nil
					}

					e.logger.Error("message handling failed terminally", err, loggingpkg.LogFields{
						"message_uuid": msg.UUID,
						"message_type": msg.Metadata.Get(metadatapkg.KeyMessageType),
						"conn_id":      msg.Metadata.Get(metadatapkg.KeyConnID),
					})
					if e.errorHandler != nil {
						e.errorHandler(msg.Context(), err, msg)
					}
					return nil, nil
				}
			}, nil
		},
	}
}

// CorrelationIDMiddleware ensures each processed message carries a
// correlation identifier.
func CorrelationIDMiddleware() MiddlewareRegistration {
	return MiddlewareRegistration{
		Name: "correlation_id",
		Builder: func(e *Engine) (message.HandlerMiddleware, error) {
			return e.correlationIDMiddleware(), nil
		},
	}
}

// LogMessagesMiddleware logs the full payload and metadata of handled
// messages at debug level.
func LogMessagesMiddleware(logger loggingpkg.ServiceLogger) MiddlewareRegistration {
	return MiddlewareRegistration{
		Name: "log_messages",
		Builder: func(e *Engine) (message.HandlerMiddleware, error) {
			l := logger
			if l == nil {
				l = e.logger
			}
			if l == nil {
				return nil, errors.New("log messages middleware requires a logger")
			}
			return e.logMessagesMiddleware(l), nil
		},
	}
}

// TracerMiddleware wraps handler execution in an OpenTelemetry span.
func TracerMiddleware() MiddlewareRegistration {
	return MiddlewareRegistration{
		Name: "tracer",
		Builder: func(e *Engine) (message.HandlerMiddleware, error) {
			return e.tracerMiddleware(), nil
		},
	}
}

// MetricsMiddleware adds Prometheus metrics to handler execution and, when
// a metrics port is configured, serves them on /metrics. Each engine uses
// its own registry so independent sessions in one process never collide.
func MetricsMiddleware() MiddlewareRegistration {
	return MiddlewareRegistration{
		Name: "metrics",
		Builder: func(e *Engine) (message.HandlerMiddleware, error) {
			if e.conf.MetricsPort <= 0 {
				return nil, nil
			}

			metricsBuilder := metrics.NewPrometheusMetricsBuilder(
				e.registry,
				"quicflow",
				string(e.conf.Role),
			)
			metricsBuilder.AddPrometheusRouterMetrics(e.router)

			e.registerHTTPHandler(e.conf.MetricsPort, "/metrics", promhttp.HandlerFor(e.registry, promhttp.HandlerOpts{}))

			return metricsBuilder.NewRouterMiddleware().Middleware, nil
		},
	}
}

// RetryMiddleware retries handler execution with exponential backoff. Zero
// config values fall back to the session's retry settings.
func RetryMiddleware(cfg RetryMiddlewareConfig) MiddlewareRegistration {
	return MiddlewareRegistration{
		Name: "retry",
		Builder: func(e *Engine) (message.HandlerMiddleware, error) {
			effective := cfg
			if effective.MaxRetries <= 0 {
				effective.MaxRetries = e.conf.RetryMaxRetries
			}
			if effective.InitialInterval <= 0 {
				effective.InitialInterval = e.conf.RetryInitialInterval
			}
			if effective.MaxInterval <= 0 {
				effective.MaxInterval = e.conf.RetryMaxInterval
			}
			return e.retryMiddlewareWithConfig(effective), nil
		},
	}
}

// RecovererMiddleware converts panics into handler errors so they can be
// retried and eventually trapped.
func RecovererMiddleware() MiddlewareRegistration {
	return MiddlewareRegistration{
		Name:       "recoverer",
		Middleware: middleware.Recoverer,
	}
}

// RegisterMiddleware attaches the supplied middleware to the engine's
// router.
func (e *Engine) RegisterMiddleware(cfg MiddlewareRegistration) error {
	if e.router == nil {
		return errors.New("router is not initialised")
	}

	var mw message.HandlerMiddleware
	switch {
	case cfg.Middleware != nil:
		mw = cfg.Middleware
	case cfg.Builder != nil:
		var err error
		mw, err = cfg.Builder(e)
		if err != nil {
			return err
		}
	default:
		return errors.New("middleware registration requires Middleware or Builder")
	}

	if mw == nil {
		return nil
	}

	e.router.AddMiddleware(mw)
	return nil
}

// correlationIDMiddleware injects a correlation ID into the message
// metadata when missing.
func (e *Engine) correlationIDMiddleware() message.HandlerMiddleware {
	return func(h message.HandlerFunc) message.HandlerFunc {
		return func(msg *message.Message) ([]*message.Message, error) {
			if _, ok := msg.Metadata[metadatapkg.KeyCorrelationID]; !ok {
				msg.Metadata[metadatapkg.KeyCorrelationID] = idspkg.CreateULID()
			}
			return h(msg)
		}
	}
}

// logMessagesMiddleware logs all processed messages with their metadata.
func (e *Engine) logMessagesMiddleware(logger loggingpkg.ServiceLogger) message.HandlerMiddleware {
	return func(h message.HandlerFunc) message.HandlerFunc {
		return func(msg *message.Message) ([]*message.Message, error) {
			logger.Debug("Processing message", loggingpkg.LogFields{
				"message_uuid": msg.UUID,
				"payload":      string(msg.Payload),
				"metadata":     msg.Metadata,
			})
			return h(msg)
		}
	}
}

func (e *Engine) retryMiddlewareWithConfig(cfg RetryMiddlewareConfig) message.HandlerMiddleware {
	normalized := cfg.withDefaults()
	return middleware.Retry{
		MaxRetries:      normalized.MaxRetries,
		InitialInterval: normalized.InitialInterval,
		MaxInterval:     normalized.MaxInterval,
		ShouldRetry: func(params middleware.RetryParams) bool {
			if normalized.RetryIf != nil {
				return normalized.RetryIf(params.Err)
			}
			// Unprocessable payloads do not improve on retry.
			var unprocessable *UnprocessableMessageError
			return !errors.As(params.Err, &unprocessable)
		},
	}.Middleware
}

// tracerMiddleware wraps message handling with an OpenTelemetry span.
func (e *Engine) tracerMiddleware() message.HandlerMiddleware {
	return func(h message.HandlerFunc) message.HandlerFunc {
		return func(msg *message.Message) ([]*message.Message, error) {
			tracer := otel.Tracer("quicflow-dispatch")
			ctx, span := tracer.Start(
				msg.Context(),
				"DispatchMessage",
				trace.WithSpanKind(trace.SpanKindConsumer),
			)
			defer span.End()
			msg.SetContext(ctx)

			span.SetAttributes(
				attribute.String("message.uuid", msg.UUID),
				attribute.String("message.type", msg.Metadata.Get(metadatapkg.KeyMessageType)),
				attribute.String("message.metadata", fmt.Sprintf("%v", msg.Metadata)),
			)
			return h(msg)
		}
	}
}
