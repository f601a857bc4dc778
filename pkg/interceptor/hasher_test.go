package interceptor

import (
	"bytes"
	"math/rand"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/zeebo/xxh3"
)

func TestStreamHasher_ChunkingInvariant(t *testing.T) {
	rng := rand.New(rand.NewSource(1))

	for trial := 0; trial < 20; trial++ {
		payload := make([]byte, 1+rng.Intn(64*1024))
		rng.Read(payload)

		var oneShot streamHasher
		oneShot.Reset()
		oneShot.Update(payload)

		var chunked streamHasher
		chunked.Reset()
		remaining := payload
		for len(remaining) > 0 {
			n := 1 + rng.Intn(len(remaining))
			chunked.Update(remaining[:n])
			remaining = remaining[n:]
		}

		assert.Equal(t, oneShot.Digest(), chunked.Digest(),
			"digest must be independent of chunk boundaries")
	}
}

func TestStreamHasher_ResetClearsState(t *testing.T) {
	var h streamHasher
	h.Reset()
	h.Update([]byte("first body"))
	first := h.Digest()

	h.Reset()
	h.Update([]byte("first body"))
	assert.Equal(t, first, h.Digest())

	h.Reset()
	h.Update([]byte("other body"))
	assert.NotEqual(t, first, h.Digest())
}

func TestStreamHasher_MatchesOneShotAlgorithm(t *testing.T) {
	payload := bytes.Repeat([]byte("[/dummy response]"), 3)

	var h streamHasher
	h.Reset()
	h.Update(payload[:5])
	h.Update(payload[5:])

	assert.Equal(t, xxh3.Hash(payload), h.Digest(),
		"streaming digest must equal the one-shot xxh3-64 of the full body")
}

func TestHashIdentity_Deterministic(t *testing.T) {
	a := hashIdentity("http://app/dummy")
	b := hashIdentity("http://app/dummy")
	assert.Equal(t, a, b)

	assert.NotEqual(t, a, hashIdentity("http://app/other"))
	assert.Equal(t, xxh3.HashString("http://app/dummy"), a)
}
