package bitbang

import (
	"time"

	"rcpod/logging"
	"rcpod/trace"
)

// Option configures a Bus.
type Option func(*Bus)

// WithHalfPeriod sets the delay inserted between line transitions. Zero,
// the default, relies on the controller round trip alone; I2C is clocked by
// the master so only ordering matters.
func WithHalfPeriod(d time.Duration) Option {
	return func(b *Bus) {
		b.halfPeriod = d
	}
}

// DefaultStretchTimeout bounds how long a target may hold SCL low during
// one byte transfer before the bus gives up with ErrTimeout.
const DefaultStretchTimeout = 100 * time.Millisecond

// WithClockStretching sets how long the master waits for SCL to actually
// rise after releasing it. A positive timeout bounds the wait per byte
// transfer and fails with ErrTimeout; zero waits forever.
func WithClockStretching(timeout time.Duration) Option {
	return func(b *Bus) {
		b.stretch = true
		b.stretchTimeout = timeout
	}
}

// WithoutClockStretching skips reading SCL back after releasing it. A
// target holding the clock then goes unnoticed, so use it only on buses
// whose targets never stretch.
func WithoutClockStretching() Option {
	return func(b *Bus) {
		b.stretch = false
	}
}

// WithTracer sends bus events to s.
func WithTracer(s trace.Sink) Option {
	return func(b *Bus) {
		b.sink = s
	}
}

// WithLogger sets the bus logger.
func WithLogger(l logging.Logger) Option {
	return func(b *Bus) {
		b.logger = l
	}
}
