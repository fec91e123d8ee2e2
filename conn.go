// Package stampline implements a newline-delimited JSON request/response service
// over TCP. Each accepted connection carries exactly one request frame and
// receives exactly one reply frame, handled on its own goroutine.
package stampline

import (
	"fmt"
	"net"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/pkg/errors"
)

// ErrInvalidOption is returned when an option carries an unusable value.
var ErrInvalidOption = errors.New("invalid option")

// Default configuration values.
const (
	// defaultIdleTimeout bounds how long a client may take to send its request.
	defaultIdleTimeout = 10 * time.Second
)

const timeoutDetail = "Client timed out while sending data."

// State is the position of a connection in its single exchange.
type State int32

// Exchange states, in the order a connection passes through them.
const (
	// StateAwaitRequest is reading bytes until a full frame arrives.
	StateAwaitRequest State = iota
	// StateValidate is decoding and checking the received frame.
	StateValidate
	// StateRespondOK means the success reply was delivered.
	StateRespondOK
	// StateRespondError is sending an error reply.
	StateRespondError
	// StateClosed means the connection is closed.
	StateClosed
)

func (s State) String() string {
	switch s {
	case StateAwaitRequest:
		return "await_request"
	case StateValidate:
		return "validate"
	case StateRespondOK:
		return "respond_ok"
	case StateRespondError:
		return "respond_error"
	case StateClosed:
		return "closed"
	}
	return fmt.Sprintf("state(%d)", int32(s))
}

// Conn serves one request/response exchange on an accepted connection.
type Conn struct {
	rawConn  net.Conn
	framer   *LineFramer
	logger   Logger
	id       string
	accepted time.Time

	opts options

	state  atomic.Int32
	closed atomic.Bool
}

// NewConn wraps an accepted connection. The idle timeout starts counting now.
// Returns ErrInvalidOption if a size or timeout option is negative.
func NewConn(conn net.Conn, opt ...Option) (*Conn, error) {
	var opts options
	for _, o := range opt {
		o(&opts)
	}

	if err := checkOptions(&opts); err != nil {
		return nil, err
	}

	return newConnWithOptions(conn, opts), nil
}

// checkOptions validates and sets default values for connection options.
func checkOptions(opts *options) error {
	if opts.readSize < 0 || opts.maxFrameSize < 0 || opts.idleTimeout < 0 {
		return ErrInvalidOption
	}

	if opts.readSize == 0 {
		opts.readSize = defaultReadSize
	}

	if opts.maxFrameSize == 0 {
		opts.maxFrameSize = defaultMaxFrameSize
	}

	if opts.idleTimeout == 0 {
		opts.idleTimeout = defaultIdleTimeout
	}

	if opts.codec == nil {
		opts.codec = JSONCodec{}
	}

	if opts.onError == nil {
		opts.onError = func(*Error) {}
	}

	if opts.now == nil {
		opts.now = time.Now
	}

	if opts.logger == nil {
		opts.logger = defaultLogger()
	}

	return nil
}

func newConnWithOptions(c net.Conn, opts options) *Conn {
	id := uuid.New().String()
	return &Conn{
		rawConn:  c,
		framer:   NewLineFramer(c, opts.readSize, opts.maxFrameSize),
		logger:   withFields(opts.logger, "conn_id", id, "remote_addr", c.RemoteAddr()),
		id:       id,
		accepted: time.Now(),
		opts:     opts,
	}
}

// ID returns the correlation id used in this connection's log lines.
func (c *Conn) ID() string { return c.id }

// Addr returns the remote address of the connection.
func (c *Conn) Addr() net.Addr {
	return c.rawConn.RemoteAddr()
}

// State returns the current exchange state.
func (c *Conn) State() State {
	return State(c.state.Load())
}

func (c *Conn) setState(s State) {
	c.state.Store(int32(s))
}

// Run reads one request, writes one reply and closes the connection.
//
// It never panics. The returned error is nil for a delivered success reply and
// an *Error otherwise; the same error is passed to the OnErrorOption observer.
// The connection is closed on every path.
func (c *Conn) Run() (err error) {
	c.logger.Debug("connection established", "idle_timeout", c.opts.idleTimeout)

	defer func() {
		if r := recover(); r != nil {
			err = newError(KindUnknown, "", errors.Errorf("handler panic: %v", r))
			c.logger.Error("handler panic", "panic", r)
		}
		c.Close()
		if err != nil {
			c.observe(err)
			c.logger.Debug("connection closed with error", "error", err)
		} else {
			c.logger.Debug("connection closed")
		}
	}()

	_ = c.rawConn.SetReadDeadline(c.accepted.Add(c.opts.idleTimeout))

	c.setState(StateAwaitRequest)
	frame, err := c.framer.ReadFrame()
	if err != nil {
		return c.fail(err)
	}

	c.setState(StateValidate)
	req, err := c.opts.codec.Decode(frame)
	if err != nil {
		if _, ok := err.(*Error); !ok {
			err = newError(KindMalformedPayload, err.Error(), err)
		}
		return c.fail(err)
	}

	resp := NewResponse(req, c.opts.now())
	if err := c.send(resp); err != nil {
		c.logger.Error("response delivery failed", "client_number", req.ClientNumber, "error", err)
		return newError(KindResponseDeliveryFailure, "", err)
	}

	c.setState(StateRespondOK)
	c.logger.Info("request served", "client_number", req.ClientNumber, "received_time", resp.ReceivedTime)
	return nil
}

// fail answers the peer when the error kind calls for a reply and returns err.
func (c *Conn) fail(err error) error {
	kind := KindOf(err)
	code, reply := kind.replyCode()
	if !reply {
		c.logger.Error("connection failed", "kind", kind, "error", err)
		return err
	}

	detail := timeoutDetail
	if code == CodeBadRequest {
		var e *Error
		if errors.As(err, &e) && e.Detail != "" {
			detail = e.Detail
		} else {
			detail = err.Error()
		}
	}

	c.setState(StateRespondError)
	if werr := c.send(ErrorResponse{Error: code, Detail: detail}); werr != nil {
		c.logger.Debug("error reply not delivered", "error", werr)
	}
	c.logger.Warn("request rejected", "kind", kind, "code", code, "detail", detail)
	return err
}

// send writes one encoded frame with a write deadline of one idle timeout.
func (c *Conn) send(v any) error {
	_ = c.rawConn.SetWriteDeadline(time.Now().Add(c.opts.idleTimeout))

	data := c.opts.codec.Encode(v)
	if _, err := c.rawConn.Write(data); err != nil {
		return errors.Wrap(err, "write reply")
	}
	return nil
}

func (c *Conn) observe(err error) {
	var e *Error
	if !errors.As(err, &e) {
		e = newError(KindUnknown, "", err)
	}
	c.opts.onError(e)
}

// Close closes the underlying connection. Safe to call multiple times.
func (c *Conn) Close() error {
	if c.closed.Swap(true) {
		return nil
	}
	c.setState(StateClosed)
	return c.rawConn.Close()
}

// IsClosed returns true if the connection has been closed.
func (c *Conn) IsClosed() bool {
	return c.closed.Load()
}

// ExchangeHandler is the Handler that serves the request/response protocol.
type ExchangeHandler struct {
	opts options
}

// NewExchangeHandler validates opt once; every handled connection shares the result.
func NewExchangeHandler(opt ...Option) (*ExchangeHandler, error) {
	var opts options
	for _, o := range opt {
		o(&opts)
	}
	if err := checkOptions(&opts); err != nil {
		return nil, err
	}
	return &ExchangeHandler{opts: opts}, nil
}

// Handle serves conn to completion on the calling goroutine.
func (h *ExchangeHandler) Handle(conn *net.TCPConn) {
	_ = newConnWithOptions(conn, h.opts).Run()
}
