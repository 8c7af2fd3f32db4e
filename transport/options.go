package transport

import (
	"github.com/wippyai/wasm-async/canon"
	"github.com/wippyai/wasm-async/task"
	"go.uber.org/zap"
)

// DefaultMaxTransmits caps the number of live streams and futures per store.
const DefaultMaxTransmits = 1 << 20

type config struct {
	logger        *zap.Logger
	scheduler     task.Scheduler
	codec         canon.ValueCodec
	flatCacheSize int
	maxTransmits  int
}

func defaultConfig() config {
	return config{
		flatCacheSize: canon.DefaultFlatCacheSize,
		maxTransmits:  DefaultMaxTransmits,
	}
}

// Option configures a Store.
type Option func(*config)

// WithLogger sets the logger used for state transitions.
func WithLogger(l *zap.Logger) Option {
	return func(c *config) {
		if l != nil {
			c.logger = l
		}
	}
}

// WithScheduler sets the task collaborator that receives completion events.
// A task.Manager is created when none is given.
func WithScheduler(s task.Scheduler) Option {
	return func(c *config) {
		if s != nil {
			c.scheduler = s
		}
	}
}

// WithCodec replaces the value codec used for non-flat payloads.
func WithCodec(codec canon.ValueCodec) Option {
	return func(c *config) {
		if codec != nil {
			c.codec = codec
		}
	}
}

// WithFlatCacheSize bounds the flat element info cache.
// A zero or negative size is ignored.
func WithFlatCacheSize(n int) Option {
	return func(c *config) {
		if n > 0 {
			c.flatCacheSize = n
		}
	}
}

// WithMaxTransmits limits the number of live streams and futures.
// A zero or negative limit is ignored.
func WithMaxTransmits(n int) Option {
	return func(c *config) {
		if n > 0 {
			c.maxTransmits = n
		}
	}
}
