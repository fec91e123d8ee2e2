package stampline

import (
	"time"
)

// options holds the configuration for a connection handler.
type options struct {
	codec  Codec
	logger Logger

	// onError observes every failure of an exchange, including those the peer never sees.
	onError func(*Error)
	now     func() time.Time

	readSize     int           // bytes requested per read
	maxFrameSize int           // maximum size of a single frame
	idleTimeout  time.Duration // budget for the whole request, measured from accept
}

// Option is a function that configures connection options.
type Option func(*options)

// CustomCodecOption returns an Option that sets the message codec.
// If not set, JSONCodec is used.
func CustomCodecOption(codec Codec) Option {
	return func(o *options) {
		o.codec = codec
	}
}

// ReadSizeOption returns an Option that sets how many bytes are requested
// from the socket per read.
func ReadSizeOption(size int) Option {
	return func(o *options) {
		o.readSize = size
	}
}

// IdleTimeoutOption returns an Option that sets the idle timeout.
// A connection that has not delivered a complete frame this long after being
// accepted is answered with a timeout error and closed.
func IdleTimeoutOption(timeout time.Duration) Option {
	return func(o *options) {
		o.idleTimeout = timeout
	}
}

// MessageMaxSize returns an Option that sets the maximum frame size.
// Frames larger than this size are rejected as bad requests.
func MessageMaxSize(size int) Option {
	return func(o *options) {
		o.maxFrameSize = size
	}
}

// OnErrorOption returns an Option that sets the error observer.
// The callback is invoked once per failed exchange, after the error reply
// (if any) has been attempted.
func OnErrorOption(cb func(*Error)) Option {
	return func(o *options) {
		o.onError = cb
	}
}

// ClockOption returns an Option that sets the source of received_time.
func ClockOption(now func() time.Time) Option {
	return func(o *options) {
		o.now = now
	}
}

// LoggerOption returns an Option that sets the logger.
// If not set, the default slog logger will be used.
func LoggerOption(logger Logger) Option {
	return func(o *options) {
		o.logger = logger
	}
}

// ConfigOptions translates the connection-level settings of cfg into Options.
func ConfigOptions(cfg Config) []Option {
	return []Option{
		ReadSizeOption(cfg.ReadBufferSize),
		MessageMaxSize(cfg.MaxFrameSize),
		IdleTimeoutOption(cfg.IdleTimeout.Duration),
	}
}
