package scanner

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestExtractPrintableASCIIAllPrintableNoSeparators(t *testing.T) {
	in := "2022.3.14f1"
	assert.Equal(t, in+"\n", ExtractPrintableASCII([]byte(in), 4))
}

func TestExtractPrintableASCIIAllNonPrintableReturnsEmpty(t *testing.T) {
	assert.Equal(t, "", ExtractPrintableASCII([]byte{0x00, 0x01, 0x02}, 4))
}

func TestExtractPrintableASCIIDropsRunsShorterThanMinLen(t *testing.T) {
	// "ab" (len 2) falls below min_len=4 and is dropped, "hello" survives.
	in := []byte("ab\x00hello\x00")
	assert.Equal(t, "hello\n", ExtractPrintableASCII(in, 4))
}

func TestExtractPrintableASCIITwoConsecutiveNonPrintableNoEmptyLine(t *testing.T) {
	in := []byte("hello\x00\x01world")
	assert.Equal(t, "hello\nworld\n", ExtractPrintableASCII(in, 4))
}

func TestExtractPrintableASCIIMultipleRuns(t *testing.T) {
	in := []byte("Unity.Entities\x00\x00\x00Havok.Physics\x00garbage")
	out := ExtractPrintableASCII(in, 4)
	assert.Contains(t, out, "Unity.Entities\n")
	assert.Contains(t, out, "Havok.Physics\n")
	assert.Contains(t, out, "garbage\n")
}
