package stampline

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net"
	"os"
	"syscall"
	"time"

	"github.com/pkg/errors"
)

const defaultClientTimeout = 10 * time.Second

// defaultReplyMaxSize leaves room for a success reply, which carries the
// request message twice.
const defaultReplyMaxSize = 3 * defaultMaxFrameSize

// Client performs one connect/send/receive/close cycle per call.
// A Client holds no per-exchange state and may be used from many goroutines.
type Client struct {
	addr     string
	timeout  time.Duration
	readSize int
	maxFrame int
	codec    Codec
	out      io.Writer
}

// ClientOption configures a Client.
type ClientOption func(*Client)

// ClientTimeoutOption bounds dialing and the whole exchange. Default 10s.
func ClientTimeoutOption(timeout time.Duration) ClientOption {
	return func(c *Client) {
		c.timeout = timeout
	}
}

// ClientMaxFrameOption sets the largest reply frame the client accepts.
// Default three times the server's default request limit.
func ClientMaxFrameOption(size int) ClientOption {
	return func(c *Client) {
		c.maxFrame = size
	}
}

// ClientOutputOption sets where SendRequest prints responses and diagnostics.
// Default os.Stdout.
func ClientOutputOption(w io.Writer) ClientOption {
	return func(c *Client) {
		c.out = w
	}
}

// ClientCodecOption sets the codec used to encode the request.
func ClientCodecOption(codec Codec) ClientOption {
	return func(c *Client) {
		c.codec = codec
	}
}

// NewClient returns a Client for the server at addr (host:port).
func NewClient(addr string, opts ...ClientOption) *Client {
	c := &Client{
		addr:     addr,
		timeout:  defaultClientTimeout,
		readSize: defaultReadSize,
		maxFrame: defaultReplyMaxSize,
		codec:    JSONCodec{},
		out:      os.Stdout,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Exchange sends one request and returns the decoded reply.
//
// Failures are *Error values: KindConnectionRefused, KindIdleTimeout,
// KindPrematureDisconnect (server closed without replying),
// KindFrameTooLarge (reply longer than ClientMaxFrameOption),
// KindMalformedPayload (reply is not JSON) or KindTransportFailure.
func (c *Client) Exchange(ctx context.Context, clientNumber int, message string) (Reply, error) {
	dialer := net.Dialer{Timeout: c.timeout}
	conn, err := dialer.DialContext(ctx, "tcp", c.addr)
	if err != nil {
		return Reply{}, dialError(err)
	}
	defer conn.Close()

	_ = conn.SetDeadline(time.Now().Add(c.timeout))
	stop := context.AfterFunc(ctx, func() {
		_ = conn.SetDeadline(time.Now())
	})
	defer stop()

	frame := c.codec.Encode(Request{ClientNumber: clientNumber, Message: message})
	if _, err := conn.Write(frame); err != nil {
		return Reply{}, transportError("send request", err)
	}

	line, err := NewLineFramer(conn, c.readSize, c.maxFrame).ReadFrame()
	if err != nil {
		switch KindOf(err) {
		case KindPrematureDisconnect:
			return Reply{}, newError(KindPrematureDisconnect, "Server disconnected before sending a response.", nil)
		case KindFrameTooLarge:
			return Reply{}, newError(KindFrameTooLarge, "Server response exceeds the maximum frame size.", nil)
		}
		return Reply{}, err
	}

	return DecodeReply(line)
}

func dialError(err error) *Error {
	if errors.Is(err, syscall.ECONNREFUSED) {
		return newError(KindConnectionRefused, "", err)
	}
	return transportError("dial", err)
}

// SendRequest runs one exchange and prints the reply, or a diagnostic line for
// the failure, to the configured output. It never returns an error.
func (c *Client) SendRequest(ctx context.Context, clientNumber int, message string) {
	reply, err := c.Exchange(ctx, clientNumber, message)
	if err != nil {
		fmt.Fprintln(c.out, Diagnose(err))
		return
	}

	var v any = reply.Success
	if reply.Failure != nil {
		v = reply.Failure
	}
	body, _ := json.MarshalIndent(v, "", "  ")
	fmt.Fprintf(c.out, "---- Server Response ----\n%s\n", body)
}

// Diagnose renders a client-side failure as a one-line, human readable message.
func Diagnose(err error) string {
	var e *Error
	if !errors.As(err, &e) {
		return fmt.Sprintf("[Client] ERROR: Unexpected error: %v", err)
	}

	switch e.Kind {
	case KindConnectionRefused:
		return "[Client] ERROR: Connection refused. Is the server running?"
	case KindIdleTimeout:
		return "[Client] ERROR: Timeout. Server may be slow or unreachable"
	case KindMalformedPayload, KindSchemaViolation, KindPrematureDisconnect, KindFrameTooLarge:
		return "[Client] ERROR: " + e.Detail
	case KindTransportFailure:
		return fmt.Sprintf("[Client] ERROR: Socket/OS error: %v", errors.Cause(e.Err))
	default:
		return fmt.Sprintf("[Client] ERROR: Unexpected error: %v", e)
	}
}
