// Package log provides protocol capture for the address-space service.
//
// Protocol capture is separate from operational logging (slog): it
// records a machine-readable trace of frames, decoded requests and
// responses, and connection and lifecycle transitions.
//
//	// Development: protocol events on the console
//	cfg.ProtocolLogger = log.NewSlogAdapter(slog.Default())
//
//	// Capture file, plus console
//	file, _ := log.NewFileLogger("opcsim.clog")
//	cfg.ProtocolLogger = log.NewMultiLogger(log.NewSlogAdapter(slog.Default()), file)
//
// Capture files hold concatenated CBOR events and are read back with
// Reader.
package log
