package dispatch

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"

	"github.com/petal-labs/petalstat/tool"
)

// Request is the decoded call envelope {id, tool, args}.
type Request struct {
	// ID is the client's correlation token, echoed verbatim in the response.
	ID   any            `json:"id"`
	Tool string         `json:"tool"`
	Args map[string]any `json:"args,omitempty"`
}

// ErrorBody is the error half of a response envelope.
type ErrorBody struct {
	Kind    string         `json:"kind"`
	Message string         `json:"message"`
	Details map[string]any `json:"details,omitempty"`
}

// Response is the call envelope returned to clients. Exactly one of
// Result/Error is meaningful; MarshalJSON emits only that shape.
type Response struct {
	ID           any
	Result       any
	Presentation any
	Error        *ErrorBody
}

type successEnvelope struct {
	ID           any `json:"id"`
	Result       any `json:"result"`
	Presentation any `json:"presentation,omitempty"`
}

type errorEnvelope struct {
	ID    any        `json:"id"`
	Error *ErrorBody `json:"error"`
}

// OK reports whether the response carries a result.
func (r Response) OK() bool {
	return r.Error == nil
}

// MarshalJSON encodes {id, result, presentation} or {id, error}.
func (r Response) MarshalJSON() ([]byte, error) {
	if r.Error != nil {
		return json.Marshal(errorEnvelope{ID: r.ID, Error: r.Error})
	}
	return json.Marshal(successEnvelope{ID: r.ID, Result: r.Result, Presentation: r.Presentation})
}

// UnmarshalJSON decodes either envelope shape, keeping numbers as json.Number.
func (r *Response) UnmarshalJSON(data []byte) error {
	var aux struct {
		ID           any             `json:"id"`
		Result       json.RawMessage `json:"result"`
		Presentation json.RawMessage `json:"presentation"`
		Error        *ErrorBody      `json:"error"`
	}
	decoder := json.NewDecoder(bytes.NewReader(data))
	decoder.UseNumber()
	if err := decoder.Decode(&aux); err != nil {
		return err
	}

	out := Response{ID: aux.ID, Error: aux.Error}
	if aux.Error != nil && len(aux.Result) > 0 {
		return errors.New("dispatch: response carries both result and error")
	}
	var err error
	if out.Result, err = decodeRaw(aux.Result); err != nil {
		return fmt.Errorf("decoding result: %w", err)
	}
	if out.Presentation, err = decodeRaw(aux.Presentation); err != nil {
		return fmt.Errorf("decoding presentation: %w", err)
	}
	*r = out
	return nil
}

func decodeRaw(raw json.RawMessage) (any, error) {
	if len(raw) == 0 {
		return nil, nil
	}
	decoder := json.NewDecoder(bytes.NewReader(raw))
	decoder.UseNumber()
	var value any
	if err := decoder.Decode(&value); err != nil {
		return nil, err
	}
	return value, nil
}

// DecodeRequest decodes one request envelope. Numbers are kept as json.Number
// so integer arguments survive untouched on their way to the worker. Data
// after the envelope is rejected. On error the returned Request still carries
// the id when it could be read.
func DecodeRequest(data []byte) (Request, error) {
	decoder := json.NewDecoder(bytes.NewReader(data))
	decoder.UseNumber()

	var req Request
	if err := decoder.Decode(&req); err != nil {
		return Request{ID: RequestID(data)}, tool.NewToolError(tool.KindInvalidRequest, "malformed request envelope: "+err.Error(), err)
	}
	if err := ExpectEOF(decoder); err != nil {
		return Request{ID: req.ID}, tool.NewToolError(tool.KindInvalidRequest, err.Error(), err)
	}
	return req, nil
}

// ExpectEOF fails when decoder holds anything but whitespace after the value
// it just decoded.
func ExpectEOF(decoder *json.Decoder) error {
	if _, err := decoder.Token(); !errors.Is(err, io.EOF) {
		return errors.New("trailing data after request envelope")
	}
	return nil
}

// RequestID reads only the id of an envelope whose other fields may not
// decode. It returns nil when data is not a JSON object or has no id.
func RequestID(data []byte) any {
	decoder := json.NewDecoder(bytes.NewReader(data))
	decoder.UseNumber()
	var envelope struct {
		ID any `json:"id"`
	}
	if err := decoder.Decode(&envelope); err != nil {
		return nil
	}
	return envelope.ID
}

// ErrorResponse builds an error envelope for id from err.
func ErrorResponse(id any, err error) Response {
	toolErr, ok := tool.AsToolError(err)
	if !ok {
		toolErr = tool.NewToolError(tool.KindProcessFailure, "", err)
	}
	return Response{
		ID: id,
		Error: &ErrorBody{
			Kind:    toolErr.Kind,
			Message: toolErr.Message,
			Details: toolErr.Details,
		},
	}
}
