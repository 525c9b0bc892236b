// Package cursor implements a byte-slice reader used by the bundle and asset
// parsers. Byte order is never stored on the cursor itself — every
// multi-byte read takes an explicit binary.ByteOrder — so a caller that
// needs to flip endianness mid-stream (the asset format does, per file)
// does so by passing a different order to the next call, never by mutating
// hidden state on the reader.
package cursor

import (
	"encoding/binary"
	"errors"
)

// ErrShortRead is returned whenever a read would run past the end of the
// underlying buffer.
var ErrShortRead = errors.New("cursor: short read")

type Cursor struct {
	buf []byte
	pos int
}

func New(buf []byte) *Cursor {
	return &Cursor{buf: buf}
}

func (c *Cursor) Pos() int       { return c.pos }
func (c *Cursor) Len() int       { return len(c.buf) }
func (c *Cursor) Remaining() int { return len(c.buf) - c.pos }

func (c *Cursor) Seek(pos int) error {
	if pos < 0 || pos > len(c.buf) {
		return ErrShortRead
	}
	c.pos = pos
	return nil
}

func (c *Cursor) Skip(n int) error {
	return c.Seek(c.pos + n)
}

// Align advances the cursor to the next multiple of n, doing nothing if it
// is already aligned.
func (c *Cursor) Align(n int) {
	if n <= 1 {
		return
	}
	if m := c.pos % n; m != 0 {
		c.pos += n - m
	}
}

func (c *Cursor) ReadByte() (byte, error) {
	if c.pos >= len(c.buf) {
		return 0, ErrShortRead
	}
	b := c.buf[c.pos]
	c.pos++
	return b, nil
}

func (c *Cursor) ReadBytes(n int) ([]byte, error) {
	if n < 0 || c.pos+n > len(c.buf) {
		return nil, ErrShortRead
	}
	b := c.buf[c.pos : c.pos+n]
	c.pos += n
	return b, nil
}

func (c *Cursor) ReadU16(order binary.ByteOrder) (uint16, error) {
	b, err := c.ReadBytes(2)
	if err != nil {
		return 0, err
	}
	return order.Uint16(b), nil
}

func (c *Cursor) ReadI16(order binary.ByteOrder) (int16, error) {
	u, err := c.ReadU16(order)
	return int16(u), err
}

func (c *Cursor) ReadU32(order binary.ByteOrder) (uint32, error) {
	b, err := c.ReadBytes(4)
	if err != nil {
		return 0, err
	}
	return order.Uint32(b), nil
}

func (c *Cursor) ReadI32(order binary.ByteOrder) (int32, error) {
	u, err := c.ReadU32(order)
	return int32(u), err
}

func (c *Cursor) ReadU64(order binary.ByteOrder) (uint64, error) {
	b, err := c.ReadBytes(8)
	if err != nil {
		return 0, err
	}
	return order.Uint64(b), nil
}

func (c *Cursor) ReadI64(order binary.ByteOrder) (int64, error) {
	u, err := c.ReadU64(order)
	return int64(u), err
}

// ReadCString reads bytes up to and including a NUL terminator and returns
// the string without the terminator.
func (c *Cursor) ReadCString() (string, error) {
	start := c.pos
	for c.pos < len(c.buf) {
		if c.buf[c.pos] == 0 {
			s := string(c.buf[start:c.pos])
			c.pos++
			return s, nil
		}
		c.pos++
	}
	return "", ErrShortRead
}

// ReadLengthPrefixed reads a length-prefixed (u32) byte string, rejecting
// declared lengths above maxLen.
func (c *Cursor) ReadLengthPrefixed(order binary.ByteOrder, maxLen int) (string, error) {
	n, err := c.ReadU32(order)
	if err != nil {
		return "", err
	}
	if int(n) < 0 || int(n) > maxLen {
		return "", ErrShortRead
	}
	b, err := c.ReadBytes(int(n))
	if err != nil {
		return "", err
	}
	return string(b), nil
}
