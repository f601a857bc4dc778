package interceptor

import "github.com/zeebo/xxh3"

// streamHasher accumulates the 64-bit response body hash chunk by
// chunk. Hashing chunks in arrival order is equivalent to hashing the
// concatenated body.
type streamHasher struct {
	h xxh3.Hasher
}

func (s *streamHasher) Reset()          { s.h.Reset() }
func (s *streamHasher) Update(p []byte) { _, _ = s.h.Write(p) }
func (s *streamHasher) Digest() uint64  { return s.h.Sum64() }

// hashIdentity computes the dedup key for a request. The input is
// origin+path; query string and fragment are excluded, so URLs that
// differ only in their query dedupe together.
func hashIdentity(url string) uint64 {
	return xxh3.HashString(url)
}
