// Package scanner extracts printable-ASCII text runs out of arbitrary
// binary blobs, used as haystack input everywhere evidence fusion looks for
// a substring inside a metadata blob, a shared library, or a bundle node.
package scanner

import "strings"

const minPrintable = 0x20
const maxPrintable = 0x7E

// ExtractPrintableASCII walks b left to right, collecting runs of bytes in
// 0x20..0x7E. Whenever a non-printable byte terminates a run of length >=
// minLen, the run is appended to the result followed by a line feed; the
// terminating byte itself is discarded. Runs shorter than minLen are
// dropped silently, so two consecutive non-printable bytes never produce an
// empty line. The function is pure and deterministic.
func ExtractPrintableASCII(b []byte, minLen int) string {
	if minLen <= 0 {
		minLen = 1
	}

	var out strings.Builder
	runStart := -1

	flush := func(end int) {
		if runStart < 0 {
			return
		}
		if end-runStart >= minLen {
			out.Write(b[runStart:end])
			out.WriteByte('\n')
		}
		runStart = -1
	}

	for i, c := range b {
		if c >= minPrintable && c <= maxPrintable {
			if runStart < 0 {
				runStart = i
			}
			continue
		}
		flush(i)
	}
	flush(len(b))

	return out.String()
}
