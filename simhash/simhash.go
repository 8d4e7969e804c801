package simhash

import (
	"hash/fnv"
	"math/bits"
	"strings"
)

// Fingerprint computes a 64-bit SimHash of the given text.
// Uses FNV-64a hash on lower-cased word tokens with bit vector accumulation.
func Fingerprint(text string) uint64 {
	words := strings.Fields(strings.ToLower(text))
	if len(words) == 0 {
		return 0
	}

	var vector [64]int
	for _, word := range words {
		h := fnv.New64a()
		h.Write([]byte(word))
		hash := h.Sum64()

		for i := 0; i < 64; i++ {
			if hash&(1<<uint(i)) != 0 {
				vector[i]++
			} else {
				vector[i]--
			}
		}
	}

	var fingerprint uint64
	for i := 0; i < 64; i++ {
		if vector[i] > 0 {
			fingerprint |= 1 << uint(i)
		}
	}
	return fingerprint
}

// Distance returns the Hamming distance between two SimHash fingerprints.
func Distance(a, b uint64) int {
	return bits.OnesCount64(a ^ b)
}

// Similar returns true if the Hamming distance between two fingerprints
// is less than or equal to the threshold.
func Similar(a, b uint64, threshold int) bool {
	return Distance(a, b) <= threshold
}

// Index remembers fingerprints of texts already seen. It is not safe for
// concurrent use.
type Index struct {
	threshold int
	minWords  int
	seen      []uint64
}

// NewIndex returns an Index that treats texts within threshold bits as
// duplicates. Texts shorter than minWords words are never compared, since
// short fingerprints collide too easily.
func NewIndex(threshold, minWords int) *Index {
	return &Index{threshold: threshold, minWords: minWords}
}

// Seen reports whether text is a near duplicate of an earlier text and
// records it otherwise.
func (x *Index) Seen(text string) bool {
	if len(strings.Fields(text)) < x.minWords {
		return false
	}
	fp := Fingerprint(text)
	for _, s := range x.seen {
		if Similar(fp, s, x.threshold) {
			return true
		}
	}
	x.seen = append(x.seen, fp)
	return false
}
