package protocol

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"math"

	"golang.org/x/text/encoding/unicode"
)

var (
	// ErrUnexpectedEOF is returned when the stream ends (or fails) before a
	// field could be read in full.
	ErrUnexpectedEOF = errors.New("unexpected end of stream")

	// ErrBrokenPipe is returned when a write or flush fails.
	ErrBrokenPipe = errors.New("broken pipe")

	// ErrStringTooLong is returned when a string does not fit a u16 prefix.
	ErrStringTooLong = errors.New("string longer than 65535 bytes")
)

// Flusher is implemented by buffered streams that need an explicit flush.
type Flusher interface {
	Flush() error
}

// Channel reads and writes big-endian protocol primitives on a duplex
// stream. Reads block until the exact byte count is available; every write
// is flushed before returning. A Channel is owned by a single session and
// is not safe for concurrent use.
type Channel struct {
	rw  io.ReadWriter
	buf [8]byte
}

// NewChannel wraps rw. rw may be a net.Conn, a net.Pipe end or any
// in-memory io.ReadWriter.
func NewChannel(rw io.ReadWriter) *Channel {
	return &Channel{rw: rw}
}

func (c *Channel) readFull(p []byte) error {
	if _, err := io.ReadFull(c.rw, p); err != nil {
		return fmt.Errorf("%w: reading %d bytes: %w", ErrUnexpectedEOF, len(p), err)
	}
	return nil
}

func (c *Channel) write(p []byte) error {
	if _, err := c.rw.Write(p); err != nil {
		return fmt.Errorf("%w: writing %d bytes: %w", ErrBrokenPipe, len(p), err)
	}
	if f, ok := c.rw.(Flusher); ok {
		if err := f.Flush(); err != nil {
			return fmt.Errorf("%w: flush: %w", ErrBrokenPipe, err)
		}
	}
	return nil
}

// ReadUint8 reads one byte.
func (c *Channel) ReadUint8() (uint8, error) {
	if err := c.readFull(c.buf[:1]); err != nil {
		return 0, err
	}
	return c.buf[0], nil
}

// ReadUint16 reads a big-endian uint16.
func (c *Channel) ReadUint16() (uint16, error) {
	if err := c.readFull(c.buf[:2]); err != nil {
		return 0, err
	}
	return binary.BigEndian.Uint16(c.buf[:2]), nil
}

// ReadUint32 reads a big-endian uint32.
func (c *Channel) ReadUint32() (uint32, error) {
	if err := c.readFull(c.buf[:4]); err != nil {
		return 0, err
	}
	return binary.BigEndian.Uint32(c.buf[:4]), nil
}

// ReadUint64 reads a big-endian uint64.
func (c *Channel) ReadUint64() (uint64, error) {
	if err := c.readFull(c.buf[:8]); err != nil {
		return 0, err
	}
	return binary.BigEndian.Uint64(c.buf[:8]), nil
}

// ReadInt8 reads a signed byte.
func (c *Channel) ReadInt8() (int8, error) {
	v, err := c.ReadUint8()
	return int8(v), err
}

// ReadInt16 reads a big-endian int16.
func (c *Channel) ReadInt16() (int16, error) {
	v, err := c.ReadUint16()
	return int16(v), err
}

// ReadInt32 reads a big-endian int32.
func (c *Channel) ReadInt32() (int32, error) {
	v, err := c.ReadUint32()
	return int32(v), err
}

// ReadInt64 reads a big-endian int64.
func (c *Channel) ReadInt64() (int64, error) {
	v, err := c.ReadUint64()
	return int64(v), err
}

// ReadFloat32 reads a big-endian IEEE-754 float32.
func (c *Channel) ReadFloat32() (float32, error) {
	v, err := c.ReadUint32()
	return math.Float32frombits(v), err
}

// ReadFloat64 reads a big-endian IEEE-754 float64.
func (c *Channel) ReadFloat64() (float64, error) {
	v, err := c.ReadUint64()
	return math.Float64frombits(v), err
}

// ReadBool reads a byte; only 1 is true.
func (c *Channel) ReadBool() (bool, error) {
	v, err := c.ReadUint8()
	return v == 1, err
}

// ReadBytes reads exactly n raw bytes.
func (c *Channel) ReadBytes(n int) ([]byte, error) {
	p := make([]byte, n)
	if err := c.readFull(p); err != nil {
		return nil, err
	}
	return p, nil
}

// ReadString reads a u16-prefixed UTF-8 string. Invalid UTF-8 is replaced
// with U+FFFD instead of failing.
func (c *Channel) ReadString() (string, error) {
	length, err := c.ReadUint16()
	if err != nil {
		return "", err
	}
	raw, err := c.ReadBytes(int(length))
	if err != nil {
		return "", err
	}
	return DecodeLossy(raw), nil
}

// WriteUint8 writes one byte.
func (c *Channel) WriteUint8(v uint8) error {
	c.buf[0] = v
	return c.write(c.buf[:1])
}

// WriteUint16 writes a big-endian uint16.
func (c *Channel) WriteUint16(v uint16) error {
	binary.BigEndian.PutUint16(c.buf[:2], v)
	return c.write(c.buf[:2])
}

// WriteUint32 writes a big-endian uint32.
func (c *Channel) WriteUint32(v uint32) error {
	binary.BigEndian.PutUint32(c.buf[:4], v)
	return c.write(c.buf[:4])
}

// WriteUint64 writes a big-endian uint64.
func (c *Channel) WriteUint64(v uint64) error {
	binary.BigEndian.PutUint64(c.buf[:8], v)
	return c.write(c.buf[:8])
}

// WriteInt8 writes a signed byte.
func (c *Channel) WriteInt8(v int8) error { return c.WriteUint8(uint8(v)) }

// WriteInt16 writes a big-endian int16.
func (c *Channel) WriteInt16(v int16) error { return c.WriteUint16(uint16(v)) }

// WriteInt32 writes a big-endian int32.
func (c *Channel) WriteInt32(v int32) error { return c.WriteUint32(uint32(v)) }

// WriteInt64 writes a big-endian int64.
func (c *Channel) WriteInt64(v int64) error { return c.WriteUint64(uint64(v)) }

// WriteFloat32 writes a big-endian IEEE-754 float32.
func (c *Channel) WriteFloat32(v float32) error { return c.WriteUint32(math.Float32bits(v)) }

// WriteFloat64 writes a big-endian IEEE-754 float64.
func (c *Channel) WriteFloat64(v float64) error { return c.WriteUint64(math.Float64bits(v)) }

// WriteBool writes 1 for true and 0 for false.
func (c *Channel) WriteBool(v bool) error {
	if v {
		return c.WriteUint8(1)
	}
	return c.WriteUint8(0)
}

// WriteBytes writes raw bytes.
func (c *Channel) WriteBytes(p []byte) error {
	return c.write(p)
}

// CheckString returns ErrStringTooLong if s does not fit a u16 length
// prefix.
func CheckString(s string) error {
	if len(s) > MaxStringLength {
		return fmt.Errorf("%w: %d bytes", ErrStringTooLong, len(s))
	}
	return nil
}

// WriteString writes a u16 byte-length prefix followed by the UTF-8 bytes.
func (c *Channel) WriteString(s string) error {
	if err := CheckString(s); err != nil {
		return err
	}
	if err := c.WriteUint16(uint16(len(s))); err != nil {
		return err
	}
	if len(s) == 0 {
		return nil
	}
	return c.write([]byte(s))
}

// DecodeLossy converts raw bytes to a string, replacing invalid UTF-8 with
// the Unicode replacement character.
func DecodeLossy(raw []byte) string {
	s, err := unicode.UTF8.NewDecoder().Bytes(raw)
	if err != nil {
		return string(raw)
	}
	return string(s)
}
