package addrspace

import (
	"context"
	"errors"
	"net"
	"time"

	"github.com/mash-protocol/opcsim-go/pkg/log"
	"github.com/mash-protocol/opcsim-go/pkg/model"
	"github.com/mash-protocol/opcsim-go/pkg/transport"
	"github.com/mash-protocol/opcsim-go/pkg/wire"
)

// pending is a decoded request waiting to be served.
type pending struct {
	conn     *transport.ServerConn
	req      *wire.Request
	received time.Time
}

// StartService starts accepting client connections.
func (s *Server) StartService(ctx context.Context) error {
	s.mu.RLock()
	destroyed := s.destroyed
	s.mu.RUnlock()
	if destroyed {
		return model.ErrContextDestroyed
	}

	s.serviceMu.Lock()
	defer s.serviceMu.Unlock()

	if s.transport != nil {
		return ErrServiceRunning
	}

	requests := make(chan pending, s.config.QueueSize)
	stopped := make(chan struct{})
	srv := transport.NewServer(transport.ServerConfig{
		Address:        s.config.Address,
		MaxMessageSize: s.config.MaxMessageSize,
		Logger:         s.config.ProtocolLogger,
		OnMessage: func(conn *transport.ServerConn, data []byte) {
			s.enqueue(conn, data, requests, stopped)
		},
		OnError: func(conn *transport.ServerConn, err error) {
			s.debugLog("connection error", "error", err)
		},
	})
	if err := srv.Start(ctx); err != nil {
		return err
	}

	s.transport = srv
	s.requests = requests
	s.stopped = stopped
	s.logServiceState("STOPPED", "RUNNING")
	if s.logger != nil {
		s.logger.Info("address space service listening", "address", srv.Addr().String())
	}
	return nil
}

// Addr returns the listen address while the service runs.
func (s *Server) Addr() net.Addr {
	s.serviceMu.Lock()
	defer s.serviceMu.Unlock()
	if s.transport == nil {
		return nil
	}
	return s.transport.Addr()
}

// StopService closes every connection and stops accepting new ones.
// Requests still queued are discarded. StopService is idempotent.
func (s *Server) StopService() {
	s.serviceMu.Lock()
	defer s.serviceMu.Unlock()

	if s.transport == nil {
		return
	}
	close(s.stopped)
	if err := s.transport.Stop(); err != nil {
		s.debugLog("transport stop", "error", err)
	}
	dropped := len(s.requests)
	s.transport = nil
	s.requests = nil
	s.logServiceState("RUNNING", "STOPPED")
	s.debugLog("address space service stopped", "droppedRequests", dropped)
}

// IterateOnce serves queued requests. With waitIndefinitely false it
// returns immediately when the queue is empty; otherwise it first blocks
// until one request arrives or the service stops. It returns the number
// of requests served.
func (s *Server) IterateOnce(waitIndefinitely bool) int {
	s.serviceMu.Lock()
	requests, stopped := s.requests, s.stopped
	s.serviceMu.Unlock()

	if requests == nil {
		return 0
	}

	served := 0
	if waitIndefinitely {
		select {
		case p := <-requests:
			s.serve(p)
			served++
		case <-stopped:
			return 0
		}
	}

	// Bounded drain so a flood of requests cannot starve the caller.
	for limit := cap(requests); served <= limit; {
		select {
		case p := <-requests:
			s.serve(p)
			served++
		default:
			return served
		}
	}
	return served
}

// enqueue runs on a connection goroutine.
func (s *Server) enqueue(conn *transport.ServerConn, data []byte, requests chan<- pending, stopped <-chan struct{}) {
	received := time.Now()
	req, err := wire.DecodeRequest(data)
	if err != nil {
		var msgID uint32
		if req != nil {
			msgID = req.MessageID
		}
		s.reply(conn, wire.ErrorResponse(msgID, wire.StatusBadInvalidArgument, err.Error()), nil, received)
		return
	}
	s.logMessage(conn, log.DirectionIn, &log.MessageEvent{
		Type:      log.MessageTypeRequest,
		MessageID: req.MessageID,
		Operation: &req.Operation,
		NodeID:    &req.NodeID,
	})

	select {
	case requests <- pending{conn: conn, req: req, received: received}:
	case <-stopped:
		s.reply(conn, wire.ErrorResponse(req.MessageID, wire.StatusBadShutdown, "server shutting down"), req, received)
	}
}

func (s *Server) serve(p pending) {
	s.reply(p.conn, s.HandleRequest(p.req), p.req, p.received)
}

func (s *Server) reply(conn *transport.ServerConn, resp *wire.Response, req *wire.Request, received time.Time) {
	elapsed := time.Since(received)
	if req != nil && s.config.Observer != nil {
		s.config.Observer.ObserveRequest(req.Operation, resp.Status, elapsed)
	}

	data, err := wire.EncodeResponse(resp)
	if err != nil {
		s.debugLog("encode response", "error", err)
		return
	}
	if err := conn.Send(data); err != nil {
		if !errors.Is(err, transport.ErrConnectionClosed) {
			s.debugLog("send response", "conn", conn.ConnID(), "error", err)
		}
		return
	}

	ev := &log.MessageEvent{
		Type:           log.MessageTypeResponse,
		MessageID:      resp.MessageID,
		Status:         &resp.Status,
		ProcessingTime: &elapsed,
	}
	if req != nil {
		ev.Operation = &req.Operation
		ev.NodeID = &req.NodeID
	}
	s.logMessage(conn, log.DirectionOut, ev)
}

// HandleRequest applies one client request to the address space.
func (s *Server) HandleRequest(req *wire.Request) *wire.Response {
	switch req.Operation {
	case wire.OpRead:
		return s.handleRead(req)
	case wire.OpWrite:
		return s.handleWrite(req)
	case wire.OpBrowse:
		return s.handleBrowse(req)
	default:
		return wire.ErrorResponse(req.MessageID, wire.StatusBadServiceUnsupported, "unsupported operation "+req.Operation.String())
	}
}

func (s *Server) handleRead(req *wire.Request) *wire.Response {
	s.mu.RLock()
	n, err := s.lookup(req.NodeID)
	var result wire.ReadResult
	if err == nil {
		if n.class == model.NodeClassVariable && !n.access.CanRead() {
			err = model.ErrNotReadable
		} else {
			result = n.readResult()
		}
	}
	s.mu.RUnlock()

	if err != nil {
		return errorResponse(req.MessageID, err)
	}
	return s.response(req.MessageID, result)
}

func (s *Server) handleWrite(req *wire.Request) *wire.Response {
	value, err := req.WriteValue()
	if err != nil {
		status := wire.StatusBadInvalidArgument
		if errors.Is(err, model.ErrTypeMismatch) {
			status = wire.StatusBadTypeMismatch
		}
		return wire.ErrorResponse(req.MessageID, status, err.Error())
	}
	if err := s.ClientWrite(req.NodeID, value); err != nil {
		return errorResponse(req.MessageID, err)
	}
	s.debugLog("client write", "node", req.NodeID.String(), "value", value.String())
	return &wire.Response{MessageID: req.MessageID, Status: wire.StatusGood}
}

func (s *Server) handleBrowse(req *wire.Request) *wire.Response {
	refs, err := s.Browse(req.NodeID)
	if err != nil {
		return errorResponse(req.MessageID, err)
	}
	return s.response(req.MessageID, wire.BrowseResult{References: refs})
}

func (s *Server) response(msgID uint32, payload any) *wire.Response {
	resp, err := wire.NewResponse(msgID, wire.StatusGood, payload)
	if err != nil {
		return wire.ErrorResponse(msgID, wire.StatusBadInternalError, err.Error())
	}
	return resp
}

func errorResponse(msgID uint32, err error) *wire.Response {
	return wire.ErrorResponse(msgID, wire.StatusFromError(err), err.Error())
}

func (s *Server) logMessage(conn *transport.ServerConn, dir log.Direction, msg *log.MessageEvent) {
	if s.config.ProtocolLogger == nil {
		return
	}
	s.config.ProtocolLogger.Log(log.Event{
		Timestamp:    time.Now(),
		ConnectionID: conn.ConnID(),
		Direction:    dir,
		Layer:        log.LayerWire,
		Category:     log.CategoryMessage,
		Message:      msg,
	})
}

func (s *Server) logServiceState(oldState, newState string) {
	if s.config.ProtocolLogger == nil {
		return
	}
	s.config.ProtocolLogger.Log(log.Event{
		Timestamp: time.Now(),
		Layer:     log.LayerService,
		Category:  log.CategoryState,
		StateChange: &log.StateChangeEvent{
			Entity:   log.StateEntityService,
			OldState: oldState,
			NewState: newState,
		},
	})
}
