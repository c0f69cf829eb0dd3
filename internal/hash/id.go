// Package hash provides the xxHash64 helpers used for cache keys and
// archive checksums.
package hash

import (
	"math"
	"strconv"
	"strings"

	"github.com/cespare/xxhash/v2"
)

// ID computes the xxHash64 of the given string.
func ID(data string) uint64 {
	return xxhash.Sum64String(data)
}

// FieldKey hashes a spectrometer frequency, rounded to whole MHz, together with
// the element names that select a relaxation pair.
//
// Two frequencies that round to the same MHz value produce the same key.
func FieldKey(sf float64, elems ...string) uint64 {
	return ID(strconv.FormatInt(int64(math.Round(sf/1.0e6)), 10) + strings.Join(elems, ""))
}

// Checksum computes the xxHash64 of a byte payload.
func Checksum(data []byte) uint64 {
	return xxhash.Sum64(data)
}
