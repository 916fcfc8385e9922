// Package transport provides framed TCP connections for the
// address-space service.
//
//	┌────────────────────────────────┐
//	│      CBOR Messages             │
//	├────────────────────────────────┤
//	│   Length-Prefix Framing (4B)   │
//	├────────────────────────────────┤
//	│           TCP                  │
//	└────────────────────────────────┘
//
// Every frame is a 4-byte big-endian payload length followed by the
// payload. Each accepted connection gets a UUID used to correlate
// protocol log events.
package transport
