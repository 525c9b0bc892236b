// Package bundle parses the engine's UnityFS container format: a header, a
// (possibly compressed, possibly trailing) block-info directory, a table
// of compressed storage blocks, and a directory of named nodes that are
// materialized by decompressing only the blocks that cover them.
package bundle

import (
	"encoding/binary"
	"fmt"
	"strings"

	"github.com/pierrec/lz4/v4"
	"github.com/sirupsen/logrus"

	"github.com/apk-analysis/unity-buildscan/internal/analysiserr"
	"github.com/apk-analysis/unity-buildscan/internal/cursor"
)

const signature = "UnityFS"

const (
	flagBlockInfoAtEnd = 0x80
	compressionMask     = 0x3F
)

// StorageBlock is one entry of the block-info table: the compressed
// payload's declared uncompressed and compressed sizes and its
// compression flags (low 6 bits select the codec).
type StorageBlock struct {
	UncompressedSize uint32
	CompressedSize   uint32
	Flags            uint16
}

// Node is one named entry in a bundle's uncompressed address space.
type Node struct {
	Offset int64
	Size   int64
	Flags  int32
	Path   string
}

// Bundle is a parsed UnityFS blob: the node directory plus enough of the
// block table to materialize any node's bytes on demand.
type Bundle struct {
	log       *logrus.Logger
	data      []byte
	dataStart int64
	blocks    []StorageBlock
	Nodes     []Node
}

// Parse reads a UnityFS blob. A signature mismatch returns
// analysiserr.ErrBadBundleHeader, which callers treat as non-fatal: they
// skip this blob and continue the walk.
func Parse(log *logrus.Logger, data []byte) (*Bundle, error) {
	c := cursor.New(data)

	sig, err := c.ReadCString()
	if err != nil || sig != signature {
		return nil, analysiserr.ErrBadBundleHeader
	}

	version, err := c.ReadI32(binary.BigEndian)
	if err != nil {
		return nil, analysiserr.ErrShortRead
	}
	if _, err := c.ReadCString(); err != nil { // engine version string
		return nil, analysiserr.ErrShortRead
	}
	if _, err := c.ReadCString(); err != nil { // engine revision string
		return nil, analysiserr.ErrShortRead
	}

	if _, err := c.ReadI64(binary.BigEndian); err != nil { // total bundle size
		return nil, analysiserr.ErrShortRead
	}
	compressedBlockInfoSize, err := c.ReadI32(binary.BigEndian)
	if err != nil {
		return nil, analysiserr.ErrShortRead
	}
	uncompressedBlockInfoSize, err := c.ReadI32(binary.BigEndian)
	if err != nil {
		return nil, analysiserr.ErrShortRead
	}
	flags, err := c.ReadI32(binary.BigEndian)
	if err != nil {
		return nil, analysiserr.ErrShortRead
	}

	headerEnd := int64(c.Pos())

	var blockInfoPos int64
	if flags&flagBlockInfoAtEnd != 0 {
		blockInfoPos = int64(len(data)) - int64(compressedBlockInfoSize)
	} else {
		blockInfoPos = headerEnd
		if version >= 7 {
			blockInfoPos = align16(blockInfoPos)
		}
	}
	if blockInfoPos < 0 || blockInfoPos+int64(compressedBlockInfoSize) > int64(len(data)) {
		return nil, analysiserr.ErrMalformedAsset
	}

	compressedBlockInfo := data[blockInfoPos : blockInfoPos+int64(compressedBlockInfoSize)]
	blockInfoPayload, err := decompressPayload(compressedBlockInfo, int(flags)&compressionMask, int(uncompressedBlockInfoSize))
	if err != nil {
		log.WithError(err).Warn("bundle: failed to decode block-info, skipping bundle")
		return nil, err
	}

	blocks, nodes, err := parseBlockInfoPayload(blockInfoPayload)
	if err != nil {
		return nil, err
	}

	var dataStart int64
	if flags&flagBlockInfoAtEnd != 0 {
		dataStart = headerEnd
	} else {
		dataStart = blockInfoPos + int64(compressedBlockInfoSize)
	}
	if version >= 7 {
		dataStart = align16(dataStart)
	}

	b := &Bundle{
		log:       log,
		data:      data,
		dataStart: dataStart,
		blocks:    blocks,
		Nodes:     nodes,
	}
	return b, nil
}

func align16(pos int64) int64 {
	if m := pos % 16; m != 0 {
		pos += 16 - m
	}
	return pos
}

func parseBlockInfoPayload(payload []byte) ([]StorageBlock, []Node, error) {
	c := cursor.New(payload)

	if err := c.Skip(16); err != nil { // stable identifier, unused
		return nil, nil, analysiserr.ErrMalformedAsset
	}

	blockCount, err := c.ReadI32(binary.BigEndian)
	if err != nil || blockCount < 0 {
		return nil, nil, analysiserr.ErrMalformedAsset
	}

	blocks := make([]StorageBlock, 0, blockCount)
	for i := int32(0); i < blockCount; i++ {
		usz, err := c.ReadU32(binary.BigEndian)
		if err != nil {
			return nil, nil, analysiserr.ErrMalformedAsset
		}
		csz, err := c.ReadU32(binary.BigEndian)
		if err != nil {
			return nil, nil, analysiserr.ErrMalformedAsset
		}
		bf, err := c.ReadU16(binary.BigEndian)
		if err != nil {
			return nil, nil, analysiserr.ErrMalformedAsset
		}
		blocks = append(blocks, StorageBlock{UncompressedSize: usz, CompressedSize: csz, Flags: bf})
	}

	nodeCount, err := c.ReadI32(binary.BigEndian)
	if err != nil || nodeCount < 0 {
		return nil, nil, analysiserr.ErrMalformedAsset
	}

	nodes := make([]Node, 0, nodeCount)
	for i := int32(0); i < nodeCount; i++ {
		offset, err := c.ReadI64(binary.BigEndian)
		if err != nil {
			return nil, nil, analysiserr.ErrMalformedAsset
		}
		size, err := c.ReadI64(binary.BigEndian)
		if err != nil {
			return nil, nil, analysiserr.ErrMalformedAsset
		}
		nf, err := c.ReadI32(binary.BigEndian)
		if err != nil {
			return nil, nil, analysiserr.ErrMalformedAsset
		}
		path, err := c.ReadCString()
		if err != nil {
			return nil, nil, analysiserr.ErrMalformedAsset
		}
		nodes = append(nodes, Node{Offset: offset, Size: size, Flags: nf, Path: path})
	}

	return blocks, nodes, nil
}

// decompressPayload decompresses one self-contained payload (the
// block-info, or — from NodeBytes — one storage block) according to
// the low-6-bit compression code: 0 none, 2/3 LZ4/LZ4HC. A decode that
// produces a non-positive length is analysiserr.ErrDecodeFailure; anything
// else is accepted even if it disagrees with the declared size.
func decompressPayload(compressed []byte, compression int, declaredSize int) ([]byte, error) {
	switch compression {
	case 0:
		return compressed, nil
	case 2, 3:
		dst := make([]byte, declaredSize)
		n, err := lz4.UncompressBlock(compressed, dst)
		if err != nil {
			// Single retry with a larger buffer, per spec.
			dst = make([]byte, declaredSize*2+64)
			n, err = lz4.UncompressBlock(compressed, dst)
			if err != nil {
				return nil, fmt.Errorf("%w: %v", analysiserr.ErrDecodeFailure, err)
			}
		}
		if n <= 0 {
			return nil, analysiserr.ErrDecodeFailure
		}
		return dst[:n], nil
	default:
		return nil, analysiserr.ErrUnsupportedCompression
	}
}

// NodeBytes materializes one node's bytes, decompressing only the storage
// blocks whose uncompressed range intersects [node.Offset, node.Offset+node.Size).
func (b *Bundle) NodeBytes(node Node) ([]byte, error) {
	if node.Size < 0 {
		return nil, analysiserr.ErrMalformedAsset
	}

	out := make([]byte, 0, node.Size)
	var uoff, coff int64 = 0, b.dataStart
	end := node.Offset + node.Size

	for _, blk := range b.blocks {
		blkUEnd := uoff + int64(blk.UncompressedSize)

		if blkUEnd > node.Offset && uoff < end {
			if coff+int64(blk.CompressedSize) > int64(len(b.data)) {
				return nil, analysiserr.ErrMalformedAsset
			}
			raw, err := decompressPayload(b.data[coff:coff+int64(blk.CompressedSize)], int(blk.Flags)&compressionMask, int(blk.UncompressedSize))
			if err != nil {
				b.log.WithFields(logrus.Fields{"node": node.Path, "error": err}).Warn("bundle: node block decode failed, skipping node")
				return nil, err
			}

			lo := int64(0)
			if node.Offset > uoff {
				lo = node.Offset - uoff
			}
			hi := int64(len(raw))
			if uoff+hi > end {
				hi = end - uoff
			}
			if lo < hi && lo >= 0 && hi <= int64(len(raw)) {
				out = append(out, raw[lo:hi]...)
			}
		}

		uoff = blkUEnd
		coff += int64(blk.CompressedSize)

		if int64(len(out)) >= node.Size {
			break
		}
	}

	if int64(len(out)) != node.Size {
		return nil, analysiserr.ErrMalformedAsset
	}

	return out, nil
}

const (
	extAssets       = ".assets"
	extSharedAssets = ".sharedassets"
	extResS         = ".resS"
	extResource     = ".resource"

	nodeFlagSerialized = 0x04
)

// ShouldParseNode reports whether a node should be handed to the asset
// reader, per the filtering rules in §4.3: the serialized flag, known
// suffixes/substrings, minus the always-skipped resource suffixes.
func ShouldParseNode(n Node) bool {
	lower := strings.ToLower(n.Path)

	if strings.HasSuffix(lower, strings.ToLower(extResS)) || strings.HasSuffix(lower, strings.ToLower(extResource)) {
		return false
	}

	if n.Flags&nodeFlagSerialized != 0 {
		return true
	}

	if strings.HasSuffix(lower, extAssets) || strings.HasSuffix(lower, extSharedAssets) {
		return true
	}
	if strings.Contains(lower, "globalgamemanagers") {
		return true
	}
	if strings.HasPrefix(lower, "level") {
		return true
	}
	if strings.Contains(lower, "unity_builtin_extra") || strings.Contains(lower, "unity default resources") {
		return true
	}

	return false
}
