package main

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/mash-protocol/opcsim-go/pkg/model"
	"github.com/mash-protocol/opcsim-go/pkg/transport"
	"github.com/mash-protocol/opcsim-go/pkg/wire"
)

// StatusError is a non-Good response.
type StatusError struct {
	Status  wire.Status
	Message string
}

func (e *StatusError) Error() string {
	if e.Message == "" {
		return e.Status.String()
	}
	return fmt.Sprintf("%s: %s", e.Status, e.Message)
}

// Session issues requests over one connection, one at a time.
type Session struct {
	conn    *transport.ClientConn
	timeout time.Duration
	nextID  uint32
}

// Dial connects to an address-space server.
func Dial(ctx context.Context, address string, timeout time.Duration) (*Session, error) {
	conn, err := transport.NewClient(transport.ClientConfig{ConnectTimeout: timeout}).Connect(ctx, address)
	if err != nil {
		return nil, err
	}
	return &Session{conn: conn, timeout: timeout}, nil
}

// Close closes the connection.
func (s *Session) Close() error { return s.conn.Close() }

func (s *Session) msgID() uint32 {
	s.nextID++
	if s.nextID == 0 {
		s.nextID = 1
	}
	return s.nextID
}

func (s *Session) call(req *wire.Request) (*wire.Response, error) {
	data, err := wire.EncodeRequest(req)
	if err != nil {
		return nil, err
	}
	if err := s.conn.Send(data); err != nil {
		return nil, err
	}

	for {
		data, err := s.conn.Receive(s.timeout)
		if err != nil {
			return nil, err
		}
		resp, err := wire.DecodeResponse(data)
		if err != nil {
			return nil, err
		}
		// Late answers to timed-out requests are skipped.
		if resp.MessageID != req.MessageID {
			continue
		}
		if !resp.IsGood() {
			return nil, &StatusError{Status: resp.Status, Message: resp.ErrorMessage()}
		}
		return resp, nil
	}
}

// Read returns the attributes and value of a node.
func (s *Session) Read(id model.NodeID) (*wire.ReadResult, error) {
	resp, err := s.call(wire.NewReadRequest(s.msgID(), id))
	if err != nil {
		return nil, err
	}
	return resp.ReadResult()
}

// Write sets the value of a client-writable variable.
func (s *Session) Write(id model.NodeID, value model.Variant) error {
	req, err := wire.NewWriteRequest(s.msgID(), id, value)
	if err != nil {
		return err
	}
	_, err = s.call(req)
	return err
}

// WriteString reads the variable's data type and writes text parsed as
// that type.
func (s *Session) WriteString(id model.NodeID, text string) (model.Variant, error) {
	res, err := s.Read(id)
	if err != nil {
		return model.Variant{}, err
	}
	if res.Class != model.NodeClassVariable {
		return model.Variant{}, fmt.Errorf("%s is not a variable", id)
	}
	value, err := ParseValue(res.DataType, text)
	if err != nil {
		return model.Variant{}, err
	}
	return value, s.Write(id, value)
}

// Browse returns the forward references of a node.
func (s *Session) Browse(id model.NodeID) ([]wire.ReferenceDescription, error) {
	resp, err := s.call(wire.NewBrowseRequest(s.msgID(), id))
	if err != nil {
		return nil, err
	}
	var result wire.BrowseResult
	if len(resp.Payload) == 0 {
		return nil, nil
	}
	if err := resp.DecodePayload(&result); err != nil {
		return nil, err
	}
	return result.References, nil
}

// ParseValue parses text as a value of type t.
func ParseValue(t model.DataType, text string) (model.Variant, error) {
	switch t {
	case model.DataTypeDouble:
		f, err := strconv.ParseFloat(text, 64)
		if err != nil {
			return model.Variant{}, err
		}
		return model.Double(f), nil
	case model.DataTypeInt64:
		i, err := strconv.ParseInt(text, 10, 64)
		if err != nil {
			return model.Variant{}, err
		}
		return model.Int64(i), nil
	case model.DataTypeUInt32:
		u, err := strconv.ParseUint(text, 10, 32)
		if err != nil {
			return model.Variant{}, err
		}
		return model.UInt32(uint32(u)), nil
	case model.DataTypeBoolean:
		b, err := strconv.ParseBool(text)
		if err != nil {
			return model.Variant{}, err
		}
		return model.Boolean(b), nil
	case model.DataTypeString:
		return model.String(text), nil
	default:
		return model.Variant{}, fmt.Errorf("cannot write %s values", t)
	}
}

// ParseNodeArg accepts a full node id ("ns=1;i=101") or a bare numeric
// key in the instrument namespace ("101").
func ParseNodeArg(arg string, ns uint16) (model.NodeID, error) {
	if key, err := strconv.ParseUint(arg, 10, 32); err == nil {
		return model.NumericID(ns, uint32(key)), nil
	}
	if !strings.Contains(arg, "=") {
		return model.NodeID{}, errors.New("node id must be ns=<n>;i=<key>, ns=<n>;s=<name> or a numeric key")
	}
	return model.ParseNodeID(arg)
}
