// Package bloom implements the bounded-size bloom filter used to
// deduplicate request identities before body mirroring.
package bloom

import (
	"math"
	"math/bits"
	"sync"

	"github.com/platformatic/traffic-interceptor/internal/errx"
)

// Filter is an append-only bloom filter over 64-bit keys.
//
// Sizing follows the classical formulas for an expected element count n
// and target false-positive rate p:
//
//	m = ceil(-n * ln(p) / ln(2)^2)   bits
//	k = ceil((m/n) * ln(2))          probes
//
// False positive probability after n inserts: (1 - e^(-k*n/m))^k.
// There are no false negatives and no deletion.
//
// The k bit positions are derived from a single key by iterated
// left-rotation rather than independent hash functions: keys arrive
// already well mixed by the upstream 64-bit hash, so before each probe
// the key is rotated left by one bit and reduced mod m. Duplicate
// positions are tolerated.
//
// Add and Has are safe for concurrent use. TestAndAdd performs the
// membership check and the insert under one critical section so that
// two concurrent identical keys cannot both observe "absent".
type Filter struct {
	mu   sync.Mutex
	bits []byte
	m    uint64 // bit array size
	k    int    // probes per key
}

// New sizes and allocates a filter for expectedN elements at the given
// false-positive rate.
func New(expectedN int, falsePositiveRate float64) (*Filter, error) {
	if expectedN < 1 {
		return nil, errx.With(ErrInvalidSize, ": expected element count must be >= 1")
	}
	if falsePositiveRate <= 0 || falsePositiveRate >= 1 {
		return nil, errx.With(ErrInvalidRate, ": false-positive rate must be in (0, 1)")
	}

	n := float64(expectedN)
	ln2 := math.Ln2
	m := uint64(math.Ceil(-n * math.Log(falsePositiveRate) / (ln2 * ln2)))
	if m == 0 {
		m = 1
	}
	k := int(math.Ceil(float64(m) / n * ln2))
	if k < 1 {
		k = 1
	}

	return &Filter{
		bits: make([]byte, (m+7)/8),
		m:    m,
		k:    k,
	}, nil
}

// Add inserts a key.
func (f *Filter) Add(h uint64) {
	f.mu.Lock()
	f.add(h)
	f.mu.Unlock()
}

// Has reports whether a key is possibly present. A false return is
// definitive.
func (f *Filter) Has(h uint64) bool {
	f.mu.Lock()
	present := f.has(h)
	f.mu.Unlock()
	return present
}

// TestAndAdd reports prior membership and inserts the key, atomically
// with respect to other calls on the filter.
func (f *Filter) TestAndAdd(h uint64) bool {
	f.mu.Lock()
	present := f.has(h)
	if !present {
		f.add(h)
	}
	f.mu.Unlock()
	return present
}

// EstimateFPP returns the expected false-positive probability after
// nInserted elements have been added.
func (f *Filter) EstimateFPP(nInserted int) float64 {
	if nInserted <= 0 {
		return 0
	}
	kn := float64(f.k) * float64(nInserted)
	return math.Pow(1-math.Exp(-kn/float64(f.m)), float64(f.k))
}

// BitArraySize returns m, the size of the bit vector in bits.
func (f *Filter) BitArraySize() uint64 { return f.m }

// NumHashFunctions returns k, the number of probes per key.
func (f *Filter) NumHashFunctions() int { return f.k }

func (f *Filter) add(h uint64) {
	for i := 0; i < f.k; i++ {
		h = bits.RotateLeft64(h, 1)
		pos := h % f.m
		f.bits[pos/8] |= 1 << (pos % 8)
	}
}

func (f *Filter) has(h uint64) bool {
	for i := 0; i < f.k; i++ {
		h = bits.RotateLeft64(h, 1)
		pos := h % f.m
		if f.bits[pos/8]&(1<<(pos%8)) == 0 {
			return false
		}
	}
	return true
}
