// Package sample defines sample identity and input discovery for
// sample-keyed pipeline stages.
//
// A sample is identified by a Key derived purely from its input filename;
// discovery never consults file contents to establish identity, so repeated
// scans of an unchanged directory always yield the same keys.
package sample

import (
	"path/filepath"
	"strings"
)

// Key is the canonical identifier of one biological sample.
//
// Derivation is a pure function of the filename: the recognised read suffix
// and extension are stripped, nothing else is altered. Two files deriving the
// same Key are either a read pair (forward/reverse mates) or a conflict.
type Key string

func (k Key) String() string { return string(k) }

// pairConventions lists the recognised forward-read markers and the
// substitution that produces the mate filename, in fallback order.
var pairConventions = []struct {
	fwd string
	rev string
}{
	{fwd: "_R1.", rev: "_R2."},
	{fwd: "_1.", rev: "_2."},
}

// DeriveKey derives the sample key for a forward-read filename.
//
// The key is everything before the last occurrence of a recognised pair
// marker ("_R1." or "_1."). Files without a marker fall back to the filename
// with all extensions stripped (e.g. "A.fasta.gz" -> "A"), which covers
// single-end stage inputs.
func DeriveKey(filename string) Key {
	base := filepath.Base(filename)
	for _, c := range pairConventions {
		if i := strings.LastIndex(base, c.fwd); i > 0 {
			return Key(base[:i])
		}
		if i := strings.LastIndex(base, c.rev); i > 0 {
			return Key(base[:i])
		}
	}
	if i := strings.Index(base, "."); i > 0 {
		return Key(base[:i])
	}
	return Key(base)
}

// MatePath returns the reverse-read path for a forward-read path, applying
// the documented fallback chain of naming conventions.
//
// The second return value is false when the filename carries no recognised
// forward-read marker.
func MatePath(path string) (string, bool) {
	dir, base := filepath.Split(path)
	for _, c := range pairConventions {
		if i := strings.LastIndex(base, c.fwd); i > 0 {
			return dir + base[:i] + c.rev + base[i+len(c.fwd):], true
		}
	}
	return "", false
}
