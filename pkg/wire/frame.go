package wire

import (
	"bufio"
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"
	"io"
)

// MaxFrameBytes is the largest payload a peer may send. Stock snapshots for
// a busy market fit in a few KB; 1 MiB leaves generous headroom.
const MaxFrameBytes = 1 << 20

// ErrFrameTooLarge is returned when a frame header announces a payload
// larger than MaxFrameBytes.
var ErrFrameTooLarge = errors.New("frame exceeds maximum size")

// WriteFrame writes one length-prefixed frame. The header and payload go out
// in a single Write so a frame is never interleaved at the syscall level.
func WriteFrame(w io.Writer, payload []byte) error {
	if len(payload) > MaxFrameBytes {
		return fmt.Errorf("write frame: %w (%d bytes)", ErrFrameTooLarge, len(payload))
	}
	buf := make([]byte, 4+len(payload))
	binary.BigEndian.PutUint32(buf[:4], uint32(len(payload)))
	copy(buf[4:], payload)
	if _, err := w.Write(buf); err != nil {
		return fmt.Errorf("write frame: %w", err)
	}
	return nil
}

// ReadFrame reads one length-prefixed frame. A clean close before the first
// header byte surfaces as io.EOF untouched, so callers can distinguish an
// orderly hangup from a truncated frame (io.ErrUnexpectedEOF).
func ReadFrame(r io.Reader) ([]byte, error) {
	var sizeBuf [4]byte
	if _, err := io.ReadFull(r, sizeBuf[:]); err != nil {
		if errors.Is(err, io.EOF) && !errors.Is(err, io.ErrUnexpectedEOF) {
			return nil, io.EOF
		}
		return nil, fmt.Errorf("read frame header: %w", err)
	}
	size := binary.BigEndian.Uint32(sizeBuf[:])
	if size > MaxFrameBytes {
		return nil, fmt.Errorf("read frame: %w (%d bytes)", ErrFrameTooLarge, size)
	}
	if size == 0 {
		return nil, nil
	}
	payload := make([]byte, size)
	if _, err := io.ReadFull(r, payload); err != nil {
		return nil, fmt.Errorf("read frame payload: %w", err)
	}
	return payload, nil
}

// Conn binds the frame codec and the message envelope to one connection.
// It does no locking of its own: the session layer owns write serialization.
type Conn struct {
	r *bufio.Reader
	w io.Writer
}

// NewConn wraps rw with a buffered reader for framing.
func NewConn(rw io.ReadWriter) *Conn {
	return &Conn{r: bufio.NewReader(rw), w: rw}
}

// ReadMessage reads and decodes the next message on the connection.
func (c *Conn) ReadMessage() (Message, error) {
	payload, err := ReadFrame(c.r)
	if err != nil {
		return Message{}, err
	}
	var m Message
	if err := json.Unmarshal(payload, &m); err != nil {
		return Message{}, fmt.Errorf("decode message: %w", err)
	}
	if m.Type == "" {
		return Message{}, errors.New("decode message: missing type")
	}
	return m, nil
}

// WriteMessage encodes and writes one message as a single frame.
func (c *Conn) WriteMessage(m Message) error {
	payload, err := json.Marshal(m)
	if err != nil {
		return fmt.Errorf("encode message: %w", err)
	}
	return WriteFrame(c.w, payload)
}
