package stampline

import (
	"bufio"
	"bytes"
	"context"
	"errors"
	"net"
	"strings"
	"testing"
	"time"
)

// fakeServer accepts connections on a loopback port and passes each to serve.
func fakeServer(t *testing.T, serve func(conn net.Conn)) string {
	t.Helper()

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen failed: %v", err)
	}
	t.Cleanup(func() { ln.Close() })

	go func() {
		for {
			conn, err := ln.Accept()
			if err != nil {
				return
			}
			go func() {
				defer conn.Close()
				serve(conn)
			}()
		}
	}()
	return ln.Addr().String()
}

// closedAddr returns a loopback address nothing listens on.
func closedAddr(t *testing.T) string {
	t.Helper()

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen failed: %v", err)
	}
	addr := ln.Addr().String()
	ln.Close()
	return addr
}

func readRequestLine(conn net.Conn) {
	_, _ = bufio.NewReader(conn).ReadBytes('\n')
}

func TestClient_Exchange_Success(t *testing.T) {
	server, _ := startServer(t, exchangeHandler(t))

	reply, err := NewClient(server.Addr().String()).Exchange(context.Background(), 1, "Hello Server!")
	if err != nil {
		t.Fatalf("Exchange failed: %v", err)
	}
	if reply.Success == nil {
		t.Fatalf("expected success reply, got %+v", reply.Failure)
	}

	resp := reply.Success
	if resp.ClientNumber != 1 || resp.OriginalMessage != "Hello Server!" {
		t.Errorf("unexpected response %+v", resp)
	}
	if !strings.Contains(resp.ServerResponse, "Client 1 said: Hello Server!") {
		t.Errorf("server_response = %q", resp.ServerResponse)
	}
	received, err := time.Parse(TimeLayout, resp.ReceivedTime)
	if err != nil {
		t.Fatalf("received_time %q does not parse: %v", resp.ReceivedTime, err)
	}
	if d := time.Since(received); d < -time.Minute || d > time.Minute {
		t.Errorf("received_time %v is not close to now", received)
	}
}

func TestClient_Exchange_ErrorReply(t *testing.T) {
	addr := fakeServer(t, func(conn net.Conn) {
		readRequestLine(conn)
		conn.Write([]byte(`{"error":"bad_request","detail":"nope"}` + "\n"))
	})

	reply, err := NewClient(addr).Exchange(context.Background(), 1, "x")
	if err != nil {
		t.Fatalf("Exchange failed: %v", err)
	}
	if reply.Failure == nil || reply.Failure.Detail != "nope" {
		t.Errorf("unexpected reply %+v", reply)
	}
}

func TestClient_Exchange_Failures(t *testing.T) {
	tests := []struct {
		name   string
		addr   func(t *testing.T) string
		want   *Error
		phrase string
	}{
		{
			name:   "connection refused",
			addr:   closedAddr,
			want:   ErrConnectionRefused,
			phrase: "Connection refused",
		},
		{
			name: "server never answers",
			addr: func(t *testing.T) string {
				return fakeServer(t, func(conn net.Conn) {
					readRequestLine(conn)
					time.Sleep(time.Second)
				})
			},
			want:   ErrIdleTimeout,
			phrase: "Timeout",
		},
		{
			name: "malformed response",
			addr: func(t *testing.T) string {
				return fakeServer(t, func(conn net.Conn) {
					readRequestLine(conn)
					conn.Write([]byte("this is not json\n"))
				})
			},
			want:   ErrMalformedPayload,
			phrase: "Could not parse server response as JSON",
		},
		{
			name: "server closes without reply",
			addr: func(t *testing.T) string {
				return fakeServer(t, func(conn net.Conn) {
					readRequestLine(conn)
				})
			},
			want:   ErrPrematureDisconnect,
			phrase: "Server disconnected before sending a response.",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			client := NewClient(tt.addr(t), ClientTimeoutOption(200*time.Millisecond))

			_, err := client.Exchange(context.Background(), 1, "x")
			if !errors.Is(err, tt.want) {
				t.Fatalf("Exchange returned %v, want kind %v", err, tt.want.Kind)
			}
			if diag := Diagnose(err); !strings.Contains(diag, tt.phrase) {
				t.Errorf("Diagnose = %q, want it to contain %q", diag, tt.phrase)
			}
		})
	}
}

func TestClient_Exchange_LargeMessage(t *testing.T) {
	server, _ := startServer(t, exchangeHandler(t))
	msg := strings.Repeat("a", 600*1024)

	reply, err := NewClient(server.Addr().String()).Exchange(context.Background(), 1, msg)
	if err != nil {
		t.Fatalf("Exchange failed: %v", err)
	}
	if reply.Success == nil {
		t.Fatalf("expected success reply, got %+v", reply.Failure)
	}
	if reply.Success.OriginalMessage != msg {
		t.Errorf("original_message has %d bytes, want %d", len(reply.Success.OriginalMessage), len(msg))
	}
}

func TestClient_Exchange_ReplyTooLarge(t *testing.T) {
	addr := fakeServer(t, func(conn net.Conn) {
		readRequestLine(conn)
		conn.Write([]byte(`{"client_number":1,"original_message":"` + strings.Repeat("a", 100) + `"}` + "\n"))
	})

	_, err := NewClient(addr, ClientMaxFrameOption(64)).Exchange(context.Background(), 1, "x")
	if !errors.Is(err, ErrFrameTooLarge) {
		t.Fatalf("Exchange returned %v, want frame too large", err)
	}
	if diag := Diagnose(err); diag != "[Client] ERROR: Server response exceeds the maximum frame size." {
		t.Errorf("Diagnose = %q", diag)
	}
}

func TestClient_Exchange_ContextCanceled(t *testing.T) {
	addr := fakeServer(t, func(conn net.Conn) {
		readRequestLine(conn)
		time.Sleep(2 * time.Second)
	})

	ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel()

	start := time.Now()
	_, err := NewClient(addr).Exchange(ctx, 1, "x")
	if err == nil {
		t.Fatal("expected an error")
	}
	if elapsed := time.Since(start); elapsed > time.Second {
		t.Errorf("Exchange ignored cancellation for %v", elapsed)
	}
}

func TestClient_SendRequest_PrintsResponse(t *testing.T) {
	server, _ := startServer(t, exchangeHandler(t))

	var out bytes.Buffer
	NewClient(server.Addr().String(), ClientOutputOption(&out)).SendRequest(context.Background(), 7, "Hello Server!")

	got := out.String()
	for _, want := range []string{"---- Server Response ----", `"client_number": 7`, `"original_message": "Hello Server!"`} {
		if !strings.Contains(got, want) {
			t.Errorf("output %q does not contain %q", got, want)
		}
	}
}

func TestClient_SendRequest_PrintsDiagnostic(t *testing.T) {
	var out bytes.Buffer
	NewClient(closedAddr(t), ClientOutputOption(&out)).SendRequest(context.Background(), 1, "x")

	if !strings.Contains(out.String(), "[Client] ERROR: Connection refused") {
		t.Errorf("output = %q", out.String())
	}
}

func TestDiagnose(t *testing.T) {
	tests := []struct {
		err  error
		want string
	}{
		{errors.New("boom"), "[Client] ERROR: Unexpected error: boom"},
		{newError(KindTransportFailure, "", errors.New("broken pipe")), "[Client] ERROR: Socket/OS error: broken pipe"},
		{newError(KindIdleTimeout, "", nil), "[Client] ERROR: Timeout. Server may be slow or unreachable"},
	}

	for _, tt := range tests {
		if got := Diagnose(tt.err); got != tt.want {
			t.Errorf("Diagnose(%v) = %q, want %q", tt.err, got, tt.want)
		}
	}
}
