package stampline

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/qri-io/jsonschema"
)

// TimeLayout is the ISO-8601 UTC layout of received_time, millisecond precision.
const TimeLayout = "2006-01-02T15:04:05.000Z"

// Request is the single frame a client sends.
type Request struct {
	ClientNumber int    `json:"client_number"`
	Message      string `json:"message"`
}

// Response is the success reply.
type Response struct {
	ClientNumber    int    `json:"client_number"`
	OriginalMessage string `json:"original_message"`
	ReceivedTime    string `json:"received_time"`
	ServerResponse  string `json:"server_response"`
}

// ErrorResponse is the failure reply. It shares no fields with Response.
type ErrorResponse struct {
	Error  string `json:"error"`
	Detail string `json:"detail"`
}

// NewResponse builds the success reply for req received at t.
func NewResponse(req Request, t time.Time) Response {
	stamp := t.UTC().Format(TimeLayout)
	return Response{
		ClientNumber:    req.ClientNumber,
		OriginalMessage: req.Message,
		ReceivedTime:    stamp,
		ServerResponse:  fmt.Sprintf("[RECEIVED %s] Client %d said: %s", stamp, req.ClientNumber, req.Message),
	}
}

// Reply is a decoded server frame. Exactly one of Success and Failure is set.
type Reply struct {
	Success *Response
	Failure *ErrorResponse
}

// Codec converts between frames and records.
type Codec interface {
	// Decode parses a frame (without its delimiter) into a Request.
	Decode(frame []byte) (Request, error)
	// Encode renders a reply record as a complete frame, delimiter included.
	Encode(v any) []byte
}

var requestSchema = jsonschema.Must(`{
  "type": "object",
  "properties": {
    "client_number": { "type": "integer" },
    "message": { "type": "string" }
  },
  "required": ["client_number", "message"]
}`)

// JSONCodec is the newline-delimited JSON codec of the wire protocol.
type JSONCodec struct{}

// Decode fails with KindMalformedPayload for invalid JSON and KindSchemaViolation
// when client_number or message is absent or of the wrong type.
func (JSONCodec) Decode(frame []byte) (Request, error) {
	var doc any
	if err := json.Unmarshal(frame, &doc); err != nil {
		return Request{}, newError(KindMalformedPayload, "Invalid JSON received: "+err.Error(), nil)
	}

	state := requestSchema.Validate(context.Background(), doc)
	if state.Errs != nil && len(*state.Errs) > 0 {
		msgs := make([]string, 0, len(*state.Errs))
		for _, ke := range *state.Errs {
			msgs = append(msgs, strings.TrimSpace(ke.PropertyPath+" "+ke.Message))
		}
		return Request{}, newError(KindSchemaViolation,
			"Request must include 'client_number' and 'message' fields ("+strings.Join(msgs, "; ")+").", nil)
	}

	var req Request
	if err := json.Unmarshal(frame, &req); err != nil {
		// integers outside the int range pass the schema but not the struct
		return Request{}, newError(KindSchemaViolation, "Request fields have invalid values: "+err.Error(), nil)
	}
	return req, nil
}

// Encode never fails: a value that cannot be marshaled is replaced by an error reply.
// HTML characters are left unescaped and the output ends with exactly one delimiter.
func (JSONCodec) Encode(v any) []byte {
	b, err := encodeLine(v)
	if err != nil {
		b, _ = encodeLine(ErrorResponse{Error: "internal", Detail: "response could not be encoded"})
	}
	return b
}

func encodeLine(v any) ([]byte, error) {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	// Encoder terminates each value with '\n', which is the frame delimiter.
	if err := enc.Encode(v); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// DecodeReply parses a server frame, branching on the presence of "error".
func DecodeReply(frame []byte) (Reply, error) {
	var probe map[string]json.RawMessage
	if err := json.Unmarshal(frame, &probe); err != nil {
		return Reply{}, newError(KindMalformedPayload, "Could not parse server response as JSON: "+err.Error(), nil)
	}

	if _, ok := probe["error"]; ok {
		var er ErrorResponse
		if err := json.Unmarshal(frame, &er); err != nil {
			return Reply{}, newError(KindSchemaViolation, "Invalid error response: "+err.Error(), nil)
		}
		return Reply{Failure: &er}, nil
	}

	var resp Response
	if err := json.Unmarshal(frame, &resp); err != nil {
		return Reply{}, newError(KindSchemaViolation, "Invalid response: "+err.Error(), nil)
	}
	return Reply{Success: &resp}, nil
}
