package quicflow

import (
	runtimepkg "github.com/drblury/quicflow/internal/runtime"
	codecpkg "github.com/drblury/quicflow/internal/runtime/codec"
	configpkg "github.com/drblury/quicflow/internal/runtime/config"
	errspkg "github.com/drblury/quicflow/internal/runtime/errors"
	handlerpkg "github.com/drblury/quicflow/internal/runtime/handlers"
	idspkg "github.com/drblury/quicflow/internal/runtime/ids"
	loggingpkg "github.com/drblury/quicflow/internal/runtime/logging"
	metadatapkg "github.com/drblury/quicflow/internal/runtime/metadata"
	factorypkg "github.com/drblury/quicflow/internal/runtime/transport"
	transportpkg "github.com/drblury/quicflow/transport"
)

type (
	// Builder assembles one messaging session and produces it exactly once
	// via BuildServer, BuildClient, or BuildSender.
	Builder = runtimepkg.Builder

	// Control owns a built session. Get hands out the session value,
	// Shutdown releases everything the build acquired.
	Control[T any] = runtimepkg.Control[T]

	Server        = runtimepkg.Server
	Client        = runtimepkg.Client
	Sender        = runtimepkg.Sender
	SessionConfig = runtimepkg.SessionConfig
	Engine        = runtimepkg.Engine

	MessageType = runtimepkg.MessageType
	Binding     = runtimepkg.Binding
	Bindings    = runtimepkg.Bindings

	Config = configpkg.Config
	Role   = configpkg.Role

	HandlerFactory        = handlerpkg.Factory
	HandlerResources      = handlerpkg.Resources
	MessageContextBase    = handlerpkg.MessageContextBase
	MessageContext[T any] = handlerpkg.MessageContext[T]
	MessageOutput         = handlerpkg.MessageOutput
	MessageHandler[T any] = handlerpkg.MessageHandler[T]

	MiddlewareBuilder      = runtimepkg.MiddlewareBuilder
	MiddlewareRegistration = runtimepkg.MiddlewareRegistration
	RetryMiddlewareConfig  = runtimepkg.RetryMiddlewareConfig

	// Dispatch lifecycle hooks
	DispatchContext = runtimepkg.DispatchContext
	DispatchHooks   = runtimepkg.DispatchHooks

	// Error handling and classification
	ErrorHandler              = runtimepkg.ErrorHandler
	ErrorClassifier           = runtimepkg.ErrorClassifier
	ErrorCategory             = runtimepkg.ErrorCategory
	UnprocessableMessageError = runtimepkg.UnprocessableMessageError
	ConfigError               = errspkg.ConfigError
	SettingsError             = errspkg.SettingsError

	// Dispatch statistics
	HandlerInfo       = runtimepkg.HandlerInfo
	HandlerStats      = runtimepkg.HandlerStats
	DispatchStats     = runtimepkg.DispatchStats
	LatencyMetrics    = runtimepkg.LatencyMetrics
	ThroughputMetrics = runtimepkg.ThroughputMetrics
	ErrorBreakdown    = runtimepkg.ErrorBreakdown
	ResourceUsage     = runtimepkg.ResourceUsage

	LogFields                 = loggingpkg.LogFields
	ServiceLogger             = loggingpkg.ServiceLogger
	EntryLogger               = loggingpkg.EntryLogger
	EntryLoggerAdapter[T any] = loggingpkg.EntryLoggerAdapter[T]

	Metadata = metadatapkg.Metadata

	Codec = codecpkg.Codec

	// Transport plumbing. Backends live in the transport package tree;
	// these aliases cover the types session code touches.
	TransportFactory      = factorypkg.Factory
	TransportBuilder      = transportpkg.Builder
	TransportConfig       = transportpkg.Config
	TransportRegistry     = transportpkg.Registry
	TransportCapabilities = transportpkg.Capabilities
	TransportTuning       = transportpkg.Tuning
	TransportEndpoint     = transportpkg.Endpoint
	TransportConn         = transportpkg.Conn
	TransportListener     = transportpkg.Listener
)

var (
	NewBuilder     = runtimepkg.NewBuilder
	NewMessageType = runtimepkg.NewMessageType
	ValidateConfig = configpkg.ValidateConfig

	// Raw wraps a watermill handler function as a handler factory, for
	// handlers that want the undecoded message.
	Raw = handlerpkg.Raw

	DefaultMiddlewares      = runtimepkg.DefaultMiddlewares
	ErrorTrapMiddleware     = runtimepkg.ErrorTrapMiddleware
	CorrelationIDMiddleware = runtimepkg.CorrelationIDMiddleware
	LogMessagesMiddleware   = runtimepkg.LogMessagesMiddleware
	TracerMiddleware        = runtimepkg.TracerMiddleware
	MetricsMiddleware       = runtimepkg.MetricsMiddleware
	RetryMiddleware         = runtimepkg.RetryMiddleware
	RecovererMiddleware     = runtimepkg.RecovererMiddleware

	// Dispatch lifecycle hooks
	DispatchHooksMiddleware = runtimepkg.DispatchHooksMiddleware
	LoggingHooks            = runtimepkg.LoggingHooks
	CountingHooks           = runtimepkg.CountingHooks
	AlertingHooks           = runtimepkg.AlertingHooks

	NewUnprocessableMessageError = runtimepkg.NewUnprocessableMessageError

	NewSlogServiceLogger      = loggingpkg.NewSlogServiceLogger
	NewZerologServiceLogger   = loggingpkg.NewZerologServiceLogger
	NewWatermillServiceLogger = loggingpkg.NewWatermillServiceLogger
	NewWatermillAdapter       = loggingpkg.NewWatermillAdapter

	// Codec helpers backed by the session codec registry. Marshal and
	// friends use the JSON codec; RegisterCodec adds custom codecs.
	Marshal       = codecpkg.Marshal
	MarshalIndent = codecpkg.MarshalIndent
	Unmarshal     = codecpkg.Unmarshal
	Encode        = codecpkg.Encode
	Decode        = codecpkg.Decode
	RegisterCodec = codecpkg.Register
	CodecNames    = codecpkg.Names

	NewMetadata = metadatapkg.New

	NewCorrelationID = idspkg.NewCorrelationID
	NewConnID        = idspkg.NewConnID
	CreateULID       = idspkg.CreateULID

	// Transport registry access. Built-in backends self-register; import
	// the transports package to pull them all in:
	//
	//	_ "github.com/drblury/quicflow/transport/transports"
	DefaultTransportFactory  = factorypkg.DefaultFactory
	DefaultTransportRegistry = transportpkg.DefaultRegistry
	RegisterTransport        = transportpkg.Register
	BuildTransport           = transportpkg.Build

	ErrAlreadyBuilt     = errspkg.ErrAlreadyBuilt
	ErrDuplicateBinding = errspkg.ErrDuplicateBinding
	ErrShutdown         = errspkg.ErrShutdown
	ErrHandlerRequired  = errspkg.ErrHandlerRequired
	ErrTypeNameRequired = errspkg.ErrTypeNameRequired
	ErrPointerNeeded    = errspkg.ErrPointerNeeded
	ErrLoggerRequired   = errspkg.ErrLoggerRequired
	ErrSourceRequired   = errspkg.ErrSourceRequired
)

// Metadata keys stamped on every message the runtime dispatches.
const (
	MetadataKeyCorrelationID = metadatapkg.KeyCorrelationID
	MetadataKeyMessageType   = metadatapkg.KeyMessageType
	MetadataKeyConnID        = metadatapkg.KeyConnID
	MetadataKeyRemoteAddr    = metadatapkg.KeyRemoteAddr
	MetadataKeyCodec         = metadatapkg.KeyCodec
)

// Session roles as reported by SessionConfig.Role.
const (
	RoleServer = configpkg.RoleServer
	RoleClient = configpkg.RoleClient
	RoleSender = configpkg.RoleSender
)

// Codec names accepted by Builder.WithCodec.
const (
	CodecJSON  = codecpkg.NameJSON
	CodecCBOR  = codecpkg.NameCBOR
	CodecProto = codecpkg.NameProto
)

// Error categories produced by the default error classifier.
const (
	ErrorCategoryNone       = runtimepkg.ErrorCategoryNone
	ErrorCategoryValidation = runtimepkg.ErrorCategoryValidation
	ErrorCategoryTransport  = runtimepkg.ErrorCategoryTransport
	ErrorCategoryDownstream = runtimepkg.ErrorCategoryDownstream
	ErrorCategoryOther      = runtimepkg.ErrorCategoryOther
)

// Defaults applied when neither settings sources nor builder calls say
// otherwise.
const (
	DefaultPort         = configpkg.DefaultPort
	DefaultHost         = configpkg.DefaultHost
	DefaultSettingsName = configpkg.DefaultSettingsName
	DefaultTransport    = configpkg.DefaultTransport
	DefaultCodec        = configpkg.DefaultCodec
)

// Typed adapts a strongly typed message handler into a handler factory.
// The payload is decoded with the codec named in the message metadata,
// falling back to the session codec.
func Typed[T any](handler MessageHandler[T]) HandlerFactory {
	return handlerpkg.Typed(handler)
}

// NewEntryServiceLogger adapts an entry-chaining logger such as zerolog
// into a ServiceLogger.
func NewEntryServiceLogger[T EntryLoggerAdapter[T]](entry T) ServiceLogger {
	return loggingpkg.NewEntryServiceLogger(entry)
}
