package discovery

import (
	"errors"
	"fmt"
	"time"
)

// Service type constants for mDNS.
const (
	// ServiceType is the DNS-SD service type of the address-space service.
	ServiceType = "_opcua-tcp._tcp"

	// Domain is the mDNS domain.
	Domain = "local"

	// DefaultPort is the default service port.
	DefaultPort = 4840

	// MaxInstanceNameLen is the DNS label limit for instance names.
	MaxInstanceNameLen = 63
)

// TXT record keys.
const (
	TXTKeyPath           = "path"
	TXTKeyNamespace      = "ns"
	TXTKeyNamespaceIndex = "nsi"
)

// Browse timing.
const (
	DefaultBrowseTimeout = 3 * time.Second
)

// Discovery errors.
var (
	ErrMissingRequired     = errors.New("missing required TXT record")
	ErrInstanceNameTooLong = errors.New("instance name too long")
	ErrInvalidPort         = errors.New("invalid port")
)

// ServiceInfo describes an advertised server.
type ServiceInfo struct {
	// InstanceName is the DNS-SD instance name.
	InstanceName string

	// Port the service listens on.
	Port uint16

	// Path is the endpoint path (default "/").
	Path string

	// Namespace is the URI of the instrument namespace.
	Namespace string

	// NamespaceIndex is the index of Namespace (0 = not announced).
	NamespaceIndex uint16
}

// Validate checks the info before advertising.
func (i *ServiceInfo) Validate() error {
	if err := ValidateInstanceName(i.InstanceName); err != nil {
		return err
	}
	if i.Port == 0 {
		return ErrInvalidPort
	}
	if i.Namespace == "" {
		return fmt.Errorf("%w: %s", ErrMissingRequired, TXTKeyNamespace)
	}
	return nil
}

// Service is a server found by browsing.
type Service struct {
	ServiceInfo

	Host      string
	Addresses []string
}

// Endpoint returns the opc.tcp URL of the service using its first
// address, or the host name when no address resolved.
func (s *Service) Endpoint() string {
	host := s.Host
	if len(s.Addresses) > 0 {
		host = s.Addresses[0]
	}
	path := s.Path
	if path == "" {
		path = "/"
	}
	return fmt.Sprintf("opc.tcp://%s%s", joinHostPort(host, s.Port), path)
}
