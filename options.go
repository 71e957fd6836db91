package outbox

import (
	"time"

	"go.opentelemetry.io/otel/trace"
	"go.opentelemetry.io/otel/trace/noop"
)

const (
	defaultBatchSize     = 100
	defaultPollInterval  = time.Second
	defaultWorkers       = 1
	defaultStatsInterval = 0

	tracerName = "github.com/velmie/pipeline-outbox"
)

// WorkerConfig defines how the Worker polls and processes events.
type WorkerConfig struct {
	BatchSize         int
	PollInterval      time.Duration
	Workers           int
	Clock             Clock
	ErrorHandler      FailureHandler
	Logger            Logger
	Metrics           Metrics
	FailureClassifier FailureClassifier
	RetryPolicy       RetryPolicy
	ErrorFormatter    ErrorFormatter
	AttemptObserver   AttemptObserver
	Tracer            trace.Tracer
	// HandlerTimeout is zero by default: long-running handlers own their deadlines.
	HandlerTimeout time.Duration
	StatsInterval  time.Duration
}

func (c WorkerConfig) withDefaults() WorkerConfig {
	if c.BatchSize <= 0 {
		c.BatchSize = defaultBatchSize
	}
	if c.PollInterval <= 0 {
		c.PollInterval = defaultPollInterval
	}
	if c.Workers <= 0 {
		c.Workers = defaultWorkers
	}
	if c.Clock == nil {
		c.Clock = SystemClock{}
	}
	if c.Logger == nil {
		c.Logger = NopLogger{}
	}
	if c.Metrics == nil {
		c.Metrics = NopMetrics{}
	}
	if c.FailureClassifier == nil {
		c.FailureClassifier = defaultFailureClassifier
	}
	if c.RetryPolicy == nil {
		c.RetryPolicy = DefaultBackoff()
	}
	if c.Tracer == nil {
		c.Tracer = noop.NewTracerProvider().Tracer(tracerName)
	}
	if c.StatsInterval <= 0 {
		c.StatsInterval = defaultStatsInterval
	}

	return c
}

// WorkerOption configures Worker behavior.
type WorkerOption func(*WorkerConfig)

// WithBatchSize sets the number of due events listed per poll.
func WithBatchSize(size int) WorkerOption {
	return func(c *WorkerConfig) {
		c.BatchSize = size
	}
}

// WithPollInterval sets the delay between empty polls.
func WithPollInterval(interval time.Duration) WorkerOption {
	return func(c *WorkerConfig) {
		c.PollInterval = interval
	}
}

// WithWorkers sets the number of concurrent polling goroutines.
func WithWorkers(count int) WorkerOption {
	return func(c *WorkerConfig) {
		c.Workers = count
	}
}

// WithClock sets the Worker clock.
func WithClock(clock Clock) WorkerOption {
	return func(c *WorkerConfig) {
		c.Clock = clock
	}
}

// WithErrorHandler registers a callback for handler failures.
func WithErrorHandler(handler FailureHandler) WorkerOption {
	return func(c *WorkerConfig) {
		c.ErrorHandler = handler
	}
}

// WithLogger sets the worker logger.
func WithLogger(logger Logger) WorkerOption {
	return func(c *WorkerConfig) {
		c.Logger = logger
	}
}

// WithMetrics sets the worker metrics recorder.
func WithMetrics(metrics Metrics) WorkerOption {
	return func(c *WorkerConfig) {
		c.Metrics = metrics
	}
}

// WithFailureClassifier sets the classifier deciding retry versus terminal failure.
func WithFailureClassifier(classifier FailureClassifier) WorkerOption {
	return func(c *WorkerConfig) {
		c.FailureClassifier = classifier
	}
}

// WithRetryPolicy replaces the default exponential backoff.
func WithRetryPolicy(policy RetryPolicy) WorkerOption {
	return func(c *WorkerConfig) {
		c.RetryPolicy = policy
	}
}

// WithErrorFormatter sets how handler failures are rendered into LastError.
func WithErrorFormatter(formatter ErrorFormatter) WorkerOption {
	return func(c *WorkerConfig) {
		c.ErrorFormatter = formatter
	}
}

// WithAttemptObserver registers a callback for the outcome of every retried attempt.
func WithAttemptObserver(observer AttemptObserver) WorkerOption {
	return func(c *WorkerConfig) {
		c.AttemptObserver = observer
	}
}

// WithTracer enables a span per processed event.
func WithTracer(tracer trace.Tracer) WorkerOption {
	return func(c *WorkerConfig) {
		c.Tracer = tracer
	}
}

// WithHandlerTimeout sets a per-event handler timeout. Zero disables it.
func WithHandlerTimeout(timeout time.Duration) WorkerOption {
	return func(c *WorkerConfig) {
		c.HandlerTimeout = timeout
	}
}

// WithStatsInterval sets the minimum interval between backlog samples.
// Use a positive value to enable sampling. The default is disabled.
func WithStatsInterval(interval time.Duration) WorkerOption {
	return func(c *WorkerConfig) {
		c.StatsInterval = interval
	}
}
