package procman

import (
	"reflect"
	"runtime"
	"time"

	"github.com/dogmatiq/dodeca/logging"
	"github.com/dogmatiq/linger"
	"github.com/dogmatiq/linger/backoff"
	"github.com/dogmatiq/marshalkit"
	"github.com/dogmatiq/marshalkit/codec"
	"github.com/dogmatiq/marshalkit/codec/json"
	"github.com/procman/procman/dispatch"
	"github.com/procman/procman/instance"
	"github.com/procman/procman/internal/metrics"
	"github.com/procman/procman/model"
	"github.com/procman/procman/payload"
	"github.com/procman/procman/persistence/cache"
	"github.com/procman/procman/security"
	"github.com/prometheus/client_golang/prometheus"
)

var (
	// DefaultLogger is the default target for log messages produced by the
	// engine.
	//
	// It is overridden by the WithLogger() option.
	DefaultLogger = logging.DefaultLogger

	// DefaultPermissions is the default security provider. It grants every
	// permission to every principal.
	//
	// It is overridden by the WithPermissions() option.
	DefaultPermissions = security.PermitAll

	// DefaultDispatcher is the default task dispatcher. It defers every task.
	//
	// It is overridden by the WithDispatcher() option.
	DefaultDispatcher = dispatch.Defer

	// DefaultPayloadCodec is the default codec for process inputs.
	//
	// It is overridden by the WithPayloadCodec() option.
	DefaultPayloadCodec payload.Codec = payload.YAMLCodec{}

	// DefaultCacheSize is the default number of entries kept in each of the
	// engine's read caches.
	//
	// It is overridden by the WithCacheSize() option.
	DefaultCacheSize = cache.DefaultSize

	// DefaultDispatchConcurrency is the default number of tasks to dispatch
	// concurrently.
	//
	// It is overridden by the WithDispatchConcurrency() option.
	DefaultDispatchConcurrency = uint(runtime.GOMAXPROCS(0) * 2)

	// DefaultTickleBackoff is the default backoff strategy for retrying the
	// tickle of all started instances performed by Engine.Run().
	//
	// It is overridden by the WithTickleBackoff() option.
	DefaultTickleBackoff backoff.Strategy = backoff.WithTransforms(
		backoff.Exponential(100*time.Millisecond),
		linger.FullJitter,
		linger.Limiter(0, 1*time.Minute),
	)
)

// EngineOption configures the behavior of an engine.
type EngineOption func(*engineOptions)

// WithLogger returns an engine option that sets the target for log messages
// produced by the engine.
//
// If this option is omitted or l is nil DefaultLogger is used.
func WithLogger(l logging.Logger) EngineOption {
	return func(opts *engineOptions) {
		opts.Logger = l
	}
}

// WithPermissions returns an engine option that sets the security provider
// used to check the permissions of the principal performing each operation.
//
// If this option is omitted or p is nil DefaultPermissions is used.
func WithPermissions(p security.Provider) EngineOption {
	return func(opts *engineOptions) {
		opts.Permissions = p
	}
}

// WithDispatcher returns an engine option that sets the dispatcher used to
// hand activity tasks to external endpoints.
//
// If this option is omitted or d is nil DefaultDispatcher is used.
func WithDispatcher(d dispatch.Dispatcher) EngineOption {
	return func(opts *engineOptions) {
		opts.Dispatcher = d
	}
}

// WithMarshaler returns an engine option that sets the marshaler used to
// store models, instances and node instances, and to produce status reports.
//
// If this option is omitted or m is nil, NewDefaultMarshaler() is called to
// obtain the default marshaler.
func WithMarshaler(m marshalkit.Marshaler) EngineOption {
	return func(opts *engineOptions) {
		opts.Marshaler = m
	}
}

// WithPayloadCodec returns an engine option that sets the codec used to split
// process inputs into fragments.
//
// If this option is omitted or c is nil DefaultPayloadCodec is used.
func WithPayloadCodec(c payload.Codec) EngineOption {
	return func(opts *engineOptions) {
		opts.PayloadCodec = c
	}
}

// WithCacheSize returns an engine option that sets the number of entries kept
// in each of the engine's read caches.
//
// If this option is omitted or n is zero DefaultCacheSize is used.
func WithCacheSize(n int) EngineOption {
	if n < 0 {
		panic("cache size must not be negative")
	}

	return func(opts *engineOptions) {
		opts.CacheSize = n
	}
}

// WithDispatchConcurrency returns an engine option that limits the number of
// tasks dispatched at the same time.
//
// If this option is omitted or n is zero DefaultDispatchConcurrency is used.
func WithDispatchConcurrency(n uint) EngineOption {
	return func(opts *engineOptions) {
		opts.DispatchConcurrency = n
	}
}

// WithFinishedInstanceRetention returns an engine option that controls
// whether FINISHED instances are kept in the data-store.
//
// By default a FINISHED instance and its node instances are removed as soon as
// the instance finishes. FAILED and CANCELLED instances are always retained.
func WithFinishedInstanceRetention(retain bool) EngineOption {
	return func(opts *engineOptions) {
		opts.RetainFinished = retain
	}
}

// WithMetrics returns an engine option that registers the engine's Prometheus
// metrics with reg.
//
// If this option is omitted no metrics are recorded.
func WithMetrics(reg prometheus.Registerer) EngineOption {
	if reg == nil {
		panic("registerer must not be nil")
	}

	return func(opts *engineOptions) {
		opts.Metrics = metrics.New(reg)
	}
}

// WithTickleBackoff returns an engine option that sets the strategy used to
// delay retries of the tickle performed by Engine.Run().
//
// If this option is omitted or s is nil DefaultTickleBackoff is used.
func WithTickleBackoff(s backoff.Strategy) EngineOption {
	return func(opts *engineOptions) {
		opts.TickleBackoff = s
	}
}

// NewDefaultMarshaler returns the default marshaler.
//
// It is used if the WithMarshaler() option is omitted.
func NewDefaultMarshaler() marshalkit.Marshaler {
	m, err := codec.NewMarshaler(
		[]reflect.Type{
			reflect.TypeOf(&model.Model{}),
			reflect.TypeOf(&instance.ProcessInstance{}),
			reflect.TypeOf(&instance.NodeInstance{}),
			reflect.TypeOf(&instance.Report{}),
		},
		[]codec.Codec{
			&json.Codec{},
		},
	)
	if err != nil {
		panic(err)
	}

	return m
}

// engineOptions is a container for a fully-resolved set of engine options.
type engineOptions struct {
	Logger              logging.Logger
	Permissions         security.Provider
	Dispatcher          dispatch.Dispatcher
	Marshaler           marshalkit.Marshaler
	PayloadCodec        payload.Codec
	CacheSize           int
	DispatchConcurrency uint
	RetainFinished      bool
	Metrics             *metrics.Metrics
	TickleBackoff       backoff.Strategy
}

// resolveEngineOptions returns a fully-populated set of engine options built
// from the given set of option functions.
func resolveEngineOptions(options ...EngineOption) *engineOptions {
	opts := &engineOptions{}

	for _, o := range options {
		o(opts)
	}

	if opts.Logger == nil {
		opts.Logger = DefaultLogger
	}

	if opts.Permissions == nil {
		opts.Permissions = DefaultPermissions
	}

	if opts.Dispatcher == nil {
		opts.Dispatcher = DefaultDispatcher
	}

	if opts.Marshaler == nil {
		opts.Marshaler = NewDefaultMarshaler()
	}

	if opts.PayloadCodec == nil {
		opts.PayloadCodec = DefaultPayloadCodec
	}

	if opts.CacheSize == 0 {
		opts.CacheSize = DefaultCacheSize
	}

	if opts.DispatchConcurrency == 0 {
		opts.DispatchConcurrency = DefaultDispatchConcurrency
	}

	if opts.TickleBackoff == nil {
		opts.TickleBackoff = DefaultTickleBackoff
	}

	return opts
}
