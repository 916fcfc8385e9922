package wire

import (
	"fmt"

	"github.com/fxamacker/cbor/v2"

	"github.com/mash-protocol/opcsim-go/pkg/model"
)

// Request represents a client request.
//
// CBOR encoding:
//
//	{
//	  1: messageId,    // uint32, non-zero
//	  2: operation,    // uint8: 1=Read, 2=Write, 3=Browse
//	  3: nodeId,       // {1: ns, 2: numeric | 3: string}
//	  4: payload       // operation-specific data
//	}
type Request struct {
	MessageID uint32          `cbor:"1,keyasint"`
	Operation Operation       `cbor:"2,keyasint"`
	NodeID    model.NodeID    `cbor:"3,keyasint"`
	Payload   cbor.RawMessage `cbor:"4,keyasint,omitempty"`
}

// Validate checks if the request is valid.
func (r *Request) Validate() error {
	if r.MessageID == 0 {
		return fmt.Errorf("messageId 0 is reserved")
	}
	if !r.Operation.IsValid() {
		return fmt.Errorf("invalid operation: %d", r.Operation)
	}
	return nil
}

// DecodePayload decodes the request payload into v.
func (r *Request) DecodePayload(v any) error {
	if len(r.Payload) == 0 {
		return fmt.Errorf("missing %s payload", r.Operation)
	}
	return Unmarshal(r.Payload, v)
}

// Response represents a server response.
//
// CBOR encoding:
//
//	{
//	  1: messageId,    // uint32: matches request
//	  2: status,       // uint8: 0=Good, or error code
//	  3: payload       // operation-specific response data
//	}
type Response struct {
	MessageID uint32          `cbor:"1,keyasint"`
	Status    Status          `cbor:"2,keyasint"`
	Payload   cbor.RawMessage `cbor:"3,keyasint,omitempty"`
}

// IsGood returns true if the response indicates success.
func (r *Response) IsGood() bool {
	return r.Status.IsGood()
}

// DecodePayload decodes the response payload into v.
func (r *Response) DecodePayload(v any) error {
	if len(r.Payload) == 0 {
		return fmt.Errorf("response %d has no payload", r.MessageID)
	}
	return Unmarshal(r.Payload, v)
}

// WritePayload is the payload of a Write request.
type WritePayload struct {
	Value model.Variant `cbor:"1,keyasint"`
}

// ReadResult is the payload of a successful Read response.
type ReadResult struct {
	NodeID      model.NodeID        `cbor:"1,keyasint"`
	Class       model.NodeClass     `cbor:"2,keyasint"`
	BrowseName  string              `cbor:"3,keyasint"`
	DisplayName string              `cbor:"4,keyasint,omitempty"`
	Description string              `cbor:"5,keyasint,omitempty"`
	Parent      model.NodeID        `cbor:"6,keyasint"`
	Reference   model.ReferenceKind `cbor:"7,keyasint,omitempty"`
	DataType    model.DataType      `cbor:"8,keyasint,omitempty"`
	Access      model.Access        `cbor:"9,keyasint,omitempty"`
	Value       model.Variant       `cbor:"10,keyasint"`
}

// ReferenceDescription is one entry of a Browse response.
type ReferenceDescription struct {
	Reference   model.ReferenceKind `cbor:"1,keyasint"`
	Target      model.NodeID        `cbor:"2,keyasint"`
	Class       model.NodeClass     `cbor:"3,keyasint"`
	BrowseName  string              `cbor:"4,keyasint"`
	DisplayName string              `cbor:"5,keyasint,omitempty"`
}

// BrowseResult is the payload of a successful Browse response.
type BrowseResult struct {
	References []ReferenceDescription `cbor:"1,keyasint"`
}

// ErrorPayload carries a human-readable message on failed responses.
type ErrorPayload struct {
	Message string `cbor:"1,keyasint"`
}

// NewReadRequest creates a Read request.
func NewReadRequest(msgID uint32, id model.NodeID) *Request {
	return &Request{MessageID: msgID, Operation: OpRead, NodeID: id}
}

// NewBrowseRequest creates a Browse request.
func NewBrowseRequest(msgID uint32, id model.NodeID) *Request {
	return &Request{MessageID: msgID, Operation: OpBrowse, NodeID: id}
}

// NewWriteRequest creates a Write request carrying value.
func NewWriteRequest(msgID uint32, id model.NodeID, value model.Variant) (*Request, error) {
	payload, err := Marshal(WritePayload{Value: value})
	if err != nil {
		return nil, fmt.Errorf("failed to encode write payload: %w", err)
	}
	return &Request{MessageID: msgID, Operation: OpWrite, NodeID: id, Payload: payload}, nil
}

// NewResponse creates a response with an encoded payload. A nil payload
// produces a response without payload.
func NewResponse(msgID uint32, status Status, payload any) (*Response, error) {
	resp := &Response{MessageID: msgID, Status: status}
	if payload == nil {
		return resp, nil
	}
	data, err := Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("failed to encode response payload: %w", err)
	}
	resp.Payload = data
	return resp, nil
}

// ErrorResponse creates a failed response with a message.
func ErrorResponse(msgID uint32, status Status, message string) *Response {
	resp, err := NewResponse(msgID, status, ErrorPayload{Message: message})
	if err != nil {
		return &Response{MessageID: msgID, Status: status}
	}
	return resp
}

// WriteValue extracts and normalizes the value of a Write request.
func (r *Request) WriteValue() (model.Variant, error) {
	var p WritePayload
	if err := r.DecodePayload(&p); err != nil {
		return model.Variant{}, fmt.Errorf("invalid write payload: %w", err)
	}
	return p.Value.Normalize()
}

// ReadResult decodes and normalizes the payload of a Read response.
func (r *Response) ReadResult() (*ReadResult, error) {
	var res ReadResult
	if err := r.DecodePayload(&res); err != nil {
		return nil, err
	}
	v, err := res.Value.Normalize()
	if err != nil {
		return nil, err
	}
	res.Value = v
	return &res, nil
}

// ErrorMessage returns the message of a failed response, if present.
func (r *Response) ErrorMessage() string {
	if r.IsGood() || len(r.Payload) == 0 {
		return ""
	}
	var p ErrorPayload
	if err := Unmarshal(r.Payload, &p); err != nil {
		return ""
	}
	return p.Message
}
