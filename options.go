package docsync

import "log/slog"

const DefaultBatchSize = 100

type (
	Options struct {
		logger    *slog.Logger
		executor  Executor
		batchSize int
		bulk      bool
	}

	Option func(o *Options)
)

func newOptions(options []Option) *Options {
	opts := &Options{
		logger:    slog.Default(),
		executor:  GoExecutor{},
		batchSize: DefaultBatchSize,
		bulk:      true,
	}
	for _, option := range options {
		option(opts)
	}
	return opts
}

func WithLogger(logger *slog.Logger) Option {
	return func(o *Options) {
		if logger != nil {
			o.logger = logger
		}
	}
}

// WithExecutor sets where endpoint work runs.
func WithExecutor(exec Executor) Option {
	return func(o *Options) {
		if exec != nil {
			o.executor = exec
		}
	}
}

// WithBatchSize caps the number of documents per bulk write.
func WithBatchSize(n int) Option {
	return func(o *Options) {
		if n > 0 {
			o.batchSize = n
		}
	}
}

// WithoutBulk makes replication write documents one at a time.
func WithoutBulk() Option {
	return func(o *Options) {
		o.bulk = false
	}
}
