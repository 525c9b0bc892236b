// Package analysiserr holds the sentinel error kinds shared across the
// pipeline so every package reports failures the caller can distinguish
// with errors.Is, instead of each package inventing its own kind.
package analysiserr

import "errors"

var (
	// ErrNoContainers is fatal to the whole analysis call: none of the
	// supplied archive paths could be opened as a ZIP.
	ErrNoContainers = errors.New("no openable container archives")

	// ErrBadBundleHeader means a blob's signature was not "UnityFS"; the
	// bundle is skipped, never fatal to the analysis.
	ErrBadBundleHeader = errors.New("bundle: signature mismatch")

	// ErrUnsupportedCompression covers any block-info or block
	// compression type outside none/LZ4/LZ4HC.
	ErrUnsupportedCompression = errors.New("bundle: unsupported compression type")

	// ErrDecodeFailure is an LZ4 decode that produced a non-positive
	// length. Fatal to the block-info (the bundle is skipped); non-fatal
	// for an individual node (the node is skipped).
	ErrDecodeFailure = errors.New("bundle: block decode failure")

	// ErrMalformedAsset covers negative sizes, out-of-range indices, and
	// other structural violations discovered while parsing a serialized
	// asset file. The asset is skipped.
	ErrMalformedAsset = errors.New("asset: malformed serialized file")

	// ErrShortRead means an integer or string read ran past the end of
	// the buffer; callers treat it as end-of-asset.
	ErrShortRead = errors.New("asset: short read")

	// ErrPersistFailure covers failures writing the two output artifacts;
	// it is swallowed by the driver, which still returns the in-memory
	// result.
	ErrPersistFailure = errors.New("driver: failed to persist artifacts")
)
