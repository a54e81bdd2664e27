package storage

import (
	"regexp"
	"strconv"
)

var rangeRegex = regexp.MustCompile(`bytes=(\d*)-(\d*)`)

// ByteRange is an inclusive byte span within an object.
type ByteRange struct {
	Start int64
	End   int64
}

// Length returns the number of bytes the range covers.
func (r ByteRange) Length() int64 { return r.End - r.Start + 1 }

// ParseRange parses a "bytes=<start>-<end>" header against a known total
// size. A missing end defaults to total-1. Malformed numeric fields and
// reversed bounds fall back to the full-file default rather than
// erroring. The second return
// is false when the range is unsatisfiable (start or end beyond the
// object); the caller must answer 416 with "Content-Range: bytes */total"
// instead of reading.
func ParseRange(header string, total int64) (ByteRange, bool) {
	full := ByteRange{Start: 0, End: total - 1}

	matches := rangeRegex.FindStringSubmatch(header)
	if matches == nil {
		return full, true
	}

	start := int64(0)
	end := total - 1
	if matches[1] != "" {
		v, err := strconv.ParseInt(matches[1], 10, 64)
		if err != nil {
			return full, true
		}
		start = v
	}
	if matches[2] != "" {
		v, err := strconv.ParseInt(matches[2], 10, 64)
		if err != nil {
			return full, true
		}
		end = v
	}

	if start >= total || end >= total {
		return ByteRange{Start: start, End: end}, false
	}
	if start > end {
		// Reversed bounds are as malformed as non-numeric ones.
		return full, true
	}
	return ByteRange{Start: start, End: end}, true
}
