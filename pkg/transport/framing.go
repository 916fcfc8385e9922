package transport

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/mash-protocol/opcsim-go/pkg/log"
)

// Framing constants.
const (
	// LengthPrefixSize is the size of the big-endian length prefix.
	LengthPrefixSize = 4

	// DefaultMaxMessageSize is the default maximum payload size (64 KB).
	DefaultMaxMessageSize = 65536

	// MaxLogFrameDataSize caps the frame bytes copied into log events.
	MaxLogFrameDataSize = 4096
)

// Framing errors.
var (
	ErrMessageTooLarge = errors.New("message too large")
	ErrMessageEmpty    = errors.New("message is empty")
	ErrFrameTruncated  = errors.New("frame truncated")
)

// frameLog carries the optional protocol logger of a framer half.
type frameLog struct {
	logger log.Logger
	connID string
}

func (fl *frameLog) record(data []byte, dir log.Direction) {
	if fl.logger == nil {
		return
	}
	shown := data
	if len(shown) > MaxLogFrameDataSize {
		shown = shown[:MaxLogFrameDataSize]
	}
	fl.logger.Log(log.Event{
		Timestamp:    time.Now(),
		ConnectionID: fl.connID,
		Direction:    dir,
		Layer:        log.LayerTransport,
		Category:     log.CategoryMessage,
		Frame: &log.FrameEvent{
			Size:      FrameSize(len(data)),
			Data:      shown,
			Truncated: len(shown) < len(data),
		},
	})
}

// FrameWriter writes length-prefixed frames. WriteFrame is safe for
// concurrent use.
type FrameWriter struct {
	mu      sync.Mutex
	w       io.Writer
	maxSize uint32
	frameLog
}

// NewFrameWriter creates a frame writer. A zero maxSize selects
// DefaultMaxMessageSize.
func NewFrameWriter(w io.Writer, maxSize uint32) *FrameWriter {
	if maxSize == 0 {
		maxSize = DefaultMaxMessageSize
	}
	return &FrameWriter{w: w, maxSize: maxSize}
}

// WriteFrame writes the length prefix followed by data in one write.
func (fw *FrameWriter) WriteFrame(data []byte) error {
	if len(data) == 0 {
		return ErrMessageEmpty
	}
	if uint32(len(data)) > fw.maxSize {
		return fmt.Errorf("%w: %d > %d", ErrMessageTooLarge, len(data), fw.maxSize)
	}

	frame := make([]byte, FrameSize(len(data)))
	binary.BigEndian.PutUint32(frame, uint32(len(data)))
	copy(frame[LengthPrefixSize:], data)

	fw.mu.Lock()
	defer fw.mu.Unlock()
	if _, err := fw.w.Write(frame); err != nil {
		return fmt.Errorf("failed to write frame: %w", err)
	}
	fw.record(data, log.DirectionOut)
	return nil
}

// FrameReader reads length-prefixed frames. It is not safe for
// concurrent use.
type FrameReader struct {
	r       io.Reader
	maxSize uint32
	prefix  [LengthPrefixSize]byte
	frameLog
}

// NewFrameReader creates a frame reader. A zero maxSize selects
// DefaultMaxMessageSize.
func NewFrameReader(r io.Reader, maxSize uint32) *FrameReader {
	if maxSize == 0 {
		maxSize = DefaultMaxMessageSize
	}
	return &FrameReader{r: r, maxSize: maxSize}
}

// ReadFrame reads one frame and returns its payload. A clean end of
// stream before a prefix is reported as io.EOF.
func (fr *FrameReader) ReadFrame() ([]byte, error) {
	if _, err := io.ReadFull(fr.r, fr.prefix[:]); err != nil {
		switch {
		case err == io.EOF:
			return nil, err
		case errors.Is(err, io.ErrUnexpectedEOF):
			return nil, ErrFrameTruncated
		default:
			return nil, fmt.Errorf("failed to read length prefix: %w", err)
		}
	}

	length := binary.BigEndian.Uint32(fr.prefix[:])
	if length == 0 {
		return nil, ErrMessageEmpty
	}
	if length > fr.maxSize {
		return nil, fmt.Errorf("%w: %d > %d", ErrMessageTooLarge, length, fr.maxSize)
	}

	payload := make([]byte, length)
	if _, err := io.ReadFull(fr.r, payload); err != nil {
		if err == io.EOF || errors.Is(err, io.ErrUnexpectedEOF) {
			return nil, ErrFrameTruncated
		}
		return nil, fmt.Errorf("failed to read payload: %w", err)
	}
	fr.record(payload, log.DirectionIn)
	return payload, nil
}

// Framer combines frame reading and writing on one stream.
type Framer struct {
	*FrameReader
	*FrameWriter
}

// NewFramer creates a framer for bidirectional communication.
func NewFramer(rw io.ReadWriter, maxSize uint32) *Framer {
	return &Framer{
		FrameReader: NewFrameReader(rw, maxSize),
		FrameWriter: NewFrameWriter(rw, maxSize),
	}
}

// SetLogger configures protocol logging for both directions. Pass nil to
// disable logging.
func (f *Framer) SetLogger(logger log.Logger, connID string) {
	f.FrameReader.frameLog = frameLog{logger: logger, connID: connID}
	f.FrameWriter.frameLog = frameLog{logger: logger, connID: connID}
}

// FrameSize returns the total frame size including the length prefix.
func FrameSize(payloadSize int) int {
	return LengthPrefixSize + payloadSize
}
