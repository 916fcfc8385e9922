package addrspace

import (
	"errors"
	"fmt"
	"log/slog"
	"net"
	"sync"
	"time"

	"github.com/mash-protocol/opcsim-go/pkg/log"
	"github.com/mash-protocol/opcsim-go/pkg/model"
	"github.com/mash-protocol/opcsim-go/pkg/transport"
	"github.com/mash-protocol/opcsim-go/pkg/wire"
)

// DefaultQueueSize bounds the number of decoded requests waiting for
// IterateOnce.
const DefaultQueueSize = 256

// ErrServiceRunning is returned when starting a running service.
var ErrServiceRunning = errors.New("service already running")

// RequestObserver is notified of every served request.
type RequestObserver interface {
	ObserveRequest(op wire.Operation, status wire.Status, elapsed time.Duration)
}

// Config configures a Server.
type Config struct {
	// Address to listen on (default ":4840").
	Address string

	// MaxMessageSize is the maximum frame payload (default: 64KB).
	MaxMessageSize uint32

	// QueueSize bounds pending requests (default: DefaultQueueSize).
	QueueSize int

	// Logger for operational logging (optional).
	Logger *slog.Logger

	// ProtocolLogger for protocol capture (optional).
	ProtocolLogger log.Logger

	// Observer receives per-request outcomes (optional).
	Observer RequestObserver
}

// Validate checks the configuration.
func (c Config) Validate() error {
	if c.QueueSize < 0 {
		return fmt.Errorf("queue size must not be negative: %d", c.QueueSize)
	}
	if c.Address != "" {
		if _, _, err := net.SplitHostPort(c.Address); err != nil {
			return fmt.Errorf("invalid address %q: %w", c.Address, err)
		}
	}
	return nil
}

// Server is the in-memory protocol context: it stores the address space
// and serves Read, Write and Browse requests from TCP clients. Requests
// are decoded on connection goroutines and queued; they are applied to
// the address space only inside IterateOnce, so the caller's loop
// goroutine owns all request processing.
type Server struct {
	config Config
	logger *slog.Logger

	mu         sync.RWMutex
	namespaces []string
	nodes      map[model.NodeID]*node
	destroyed  bool

	serviceMu sync.Mutex
	transport *transport.Server
	requests  chan pending
	stopped   chan struct{}
}

var _ model.Context = (*Server)(nil)

// New creates a protocol context. Namespace 0 is preregistered.
func New(config Config) (*Server, error) {
	if err := config.Validate(); err != nil {
		return nil, err
	}
	if config.Address == "" {
		config.Address = transport.DefaultAddress
	}
	if config.QueueSize == 0 {
		config.QueueSize = DefaultQueueSize
	}
	return &Server{
		config:     config,
		logger:     config.Logger,
		namespaces: []string{StandardNamespaceURI},
		nodes:      make(map[model.NodeID]*node),
	}, nil
}

// ConfigureDefaults installs the Root and Objects folders. Calling it
// again is a no-op.
func (s *Server) ConfigureDefaults() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.checkAlive(); err != nil {
		return err
	}
	if _, ok := s.nodes[model.RootFolderID]; ok {
		return nil
	}

	root := &node{
		class:   model.NodeClassObject,
		id:      model.RootFolderID,
		names:   model.Names{BrowseName: "Root", DisplayName: "Root"},
		typeDef: model.FolderTypeID,
	}
	objects := &node{
		class:     model.NodeClassObject,
		id:        model.ObjectsFolderID,
		parent:    model.RootFolderID,
		reference: model.ReferenceOrganizes,
		names:     model.Names{BrowseName: "Objects", DisplayName: "Objects"},
		typeDef:   model.FolderTypeID,
	}
	if err := s.insert(root); err != nil {
		return err
	}
	return s.insert(objects)
}

// AddNamespace registers uri and returns its index. Registering a known
// URI returns the existing index.
func (s *Server) AddNamespace(uri string) (uint16, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.checkAlive(); err != nil {
		return 0, err
	}
	if uri == "" {
		return 0, fmt.Errorf("namespace uri must not be empty")
	}
	for i, ns := range s.namespaces {
		if ns == uri {
			return uint16(i), nil
		}
	}
	if len(s.namespaces) > int(^uint16(0)) {
		return 0, fmt.Errorf("namespace table full")
	}
	s.namespaces = append(s.namespaces, uri)
	return uint16(len(s.namespaces) - 1), nil
}

// Namespaces returns the namespace table.
func (s *Server) Namespaces() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]string(nil), s.namespaces...)
}

// PublishObject adds an object node.
func (s *Server) PublishObject(attrs model.ObjectAttributes) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.insert(&node{
		class:     model.NodeClassObject,
		id:        attrs.ID,
		parent:    attrs.Parent,
		reference: attrs.Reference,
		names:     model.Names{BrowseName: attrs.BrowseName, DisplayName: attrs.DisplayName, Description: attrs.Description},
		typeDef:   attrs.TypeDefinition,
	})
}

// PublishVariable adds a variable node with its initial value.
func (s *Server) PublishVariable(attrs model.VariableAttributes) error {
	if attrs.Value.Type != attrs.DataType || !attrs.Value.Valid() {
		return fmt.Errorf("%w: initial value %s for %s variable", model.ErrTypeMismatch, attrs.Value, attrs.DataType)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	return s.insert(&node{
		class:     model.NodeClassVariable,
		id:        attrs.ID,
		parent:    attrs.Parent,
		reference: attrs.Reference,
		names:     model.Names{BrowseName: attrs.BrowseName, DisplayName: attrs.DisplayName, Description: attrs.Description},
		typeDef:   attrs.TypeDefinition,
		dataType:  attrs.DataType,
		access:    attrs.Access,
		value:     attrs.Value,
	})
}

// WriteValue stores a value on the server path, ignoring access flags.
func (s *Server) WriteValue(id model.NodeID, value model.Variant) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	n, err := s.variable(id)
	if err != nil {
		return err
	}
	if value.Type != n.dataType || !value.Valid() {
		return fmt.Errorf("%w: %s expects %s, got %s", model.ErrTypeMismatch, id, n.dataType, value.Type)
	}
	n.value = value
	return nil
}

// ReadValue returns the stored value of a variable.
func (s *Server) ReadValue(id model.NodeID) (model.Variant, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	n, err := s.variable(id)
	if err != nil {
		return model.Variant{}, err
	}
	return n.value, nil
}

// DeleteNode removes a node, its subtree and the reference from its
// parent.
func (s *Server) DeleteNode(id model.NodeID) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, err := s.lookup(id); err != nil {
		return err
	}
	s.remove(id)
	return nil
}

// Browse returns the forward hierarchical references of a node.
func (s *Server) Browse(id model.NodeID) ([]wire.ReferenceDescription, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.references(id)
}

// Node returns the attributes and value of a node.
func (s *Server) Node(id model.NodeID) (wire.ReadResult, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	n, err := s.lookup(id)
	if err != nil {
		return wire.ReadResult{}, err
	}
	return n.readResult(), nil
}

// NodeCount returns the number of stored nodes.
func (s *Server) NodeCount() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.nodes)
}

// ClientWrite applies a write on the client path: the variable must be
// client-writable and the value must match its declared type.
func (s *Server) ClientWrite(id model.NodeID, value model.Variant) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	n, err := s.variable(id)
	if err != nil {
		return err
	}
	if !n.access.CanWrite() {
		return fmt.Errorf("%w: %s", model.ErrNotWritable, id)
	}
	if value.Type != n.dataType || !value.Valid() {
		return fmt.Errorf("%w: %s expects %s, got %s", model.ErrTypeMismatch, id, n.dataType, value.Type)
	}
	n.value = value
	return nil
}

// Destroy stops the service and discards the address space. Every
// subsequent call returns ErrContextDestroyed. Destroy is idempotent.
func (s *Server) Destroy() {
	s.StopService()

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.destroyed {
		return
	}
	s.destroyed = true
	s.nodes = nil
	s.debugLog("address space destroyed")
}

func (s *Server) debugLog(msg string, args ...any) {
	if s.logger != nil {
		s.logger.Debug(msg, args...)
	}
}
