package cursor

import (
	"encoding/binary"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAlignIdentityWhenAligned(t *testing.T) {
	c := New(make([]byte, 16))
	require.NoError(t, c.Seek(8))
	c.Align(4)
	assert.Equal(t, 8, c.Pos())
}

func TestAlignAdvancesToBoundary(t *testing.T) {
	c := New(make([]byte, 16))
	require.NoError(t, c.Seek(5))
	c.Align(4)
	assert.Equal(t, 8, c.Pos())
}

func TestReadU32RespectsExplicitOrder(t *testing.T) {
	buf := make([]byte, 4)
	binary.BigEndian.PutUint32(buf, 0x01020304)

	c := New(buf)
	v, err := c.ReadU32(binary.BigEndian)
	require.NoError(t, err)
	assert.Equal(t, uint32(0x01020304), v)

	c2 := New(buf)
	v2, err := c2.ReadU32(binary.LittleEndian)
	require.NoError(t, err)
	assert.Equal(t, uint32(0x04030201), v2)
}

func TestReadCString(t *testing.T) {
	c := New([]byte("hello\x00world"))
	s, err := c.ReadCString()
	require.NoError(t, err)
	assert.Equal(t, "hello", s)
	assert.Equal(t, 6, c.Pos())
}

func TestReadCStringMissingTerminatorIsShortRead(t *testing.T) {
	c := New([]byte("nonulhere"))
	_, err := c.ReadCString()
	assert.ErrorIs(t, err, ErrShortRead)
}

func TestReadBytesPastEndIsShortRead(t *testing.T) {
	c := New([]byte{1, 2, 3})
	_, err := c.ReadBytes(4)
	assert.ErrorIs(t, err, ErrShortRead)
}

func TestReadLengthPrefixedRejectsOversizedDeclaration(t *testing.T) {
	buf := make([]byte, 4)
	binary.BigEndian.PutUint32(buf, 2000)
	c := New(buf)
	_, err := c.ReadLengthPrefixed(binary.BigEndian, 1024)
	assert.ErrorIs(t, err, ErrShortRead)
}
