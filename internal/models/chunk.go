package models

import "fmt"

// Chunk is one emailable slice of a backup archive. Concatenating the
// payloads of chunks 1..TotalCount in Index order reproduces the archive
// byte-for-byte.
type Chunk struct {
	Index      int // 1-based
	TotalCount int
	SizeBytes  int64
	Payload    []byte
}

// SuffixedName returns base with the chunk's 3-digit ordinal suffix,
// e.g. "photos.zip.002".
func (c Chunk) SuffixedName(base string) string {
	return fmt.Sprintf("%s.%03d", base, c.Index)
}

// ChunkSource yields the chunks of one archive in ascending Index order.
// Next returns io.EOF after the last chunk.
type ChunkSource interface {
	TotalCount() int
	Next() (*Chunk, error)
}

// RestoreKit is the auxiliary archive of merge scripts attached to the
// first chunk email. The scripts reassemble chunks by plain concatenation
// and never touch the archive's encryption.
type RestoreKit struct {
	FileName string
	Payload  []byte
}
