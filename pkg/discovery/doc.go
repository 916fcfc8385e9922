// Package discovery announces the address-space service over mDNS/DNS-SD
// and browses for running simulators.
//
// # Service type (_opcua-tcp._tcp)
//
// One instance per running server. Instance name is the configured
// server name (default "opcsim-<hostname>"). TXT records:
//   - path: endpoint path, always "/"
//   - ns: namespace URI of the simulated instruments
//   - nsi: namespace index (optional)
//
// Clients combine the resolved host, port and path into an endpoint URL
// of the form opc.tcp://<host>:<port>/.
package discovery
