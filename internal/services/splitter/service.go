// Package splitter divides an archive into fixed-size, strictly ordered
// chunks. Chunk boundaries are plain byte offsets; recovery is pure
// concatenation.
package splitter

import (
	"fmt"
	"io"
	"os"

	"github.com/rs/zerolog"
	"github.com/workerspages/mail-backup/internal/models"
)

// MaxChunks bounds a run to the 3-digit suffix space. Beyond 999 parts the
// lexical ordering the merge scripts rely on would break.
const MaxChunks = 999

// ChunkStream is a lazy, closeable chunk sequence.
type ChunkStream interface {
	models.ChunkSource
	SizeBytes() int64
	Close() error
}

// Service defines the interface for archive splitting.
type Service interface {
	Split(archivePath string, chunkSizeBytes int64) (ChunkStream, error)
}

// Impl implements the splitter Service interface.
type Impl struct {
	logger zerolog.Logger
}

// New creates a new splitter service.
func New(logger zerolog.Logger) *Impl {
	return &Impl{logger: logger}
}

// Split opens the archive and returns a lazy chunk stream. Chunks are read
// one at a time, so peak memory stays at one chunk regardless of archive
// size. The caller must Close the stream.
func (s *Impl) Split(archivePath string, chunkSizeBytes int64) (ChunkStream, error) {
	if chunkSizeBytes <= 0 {
		return nil, fmt.Errorf("chunk size must be positive, got %d", chunkSizeBytes)
	}

	f, err := os.Open(archivePath)
	if err != nil {
		return nil, fmt.Errorf("opening archive: %w", err)
	}

	info, err := f.Stat()
	if err != nil {
		_ = f.Close()
		return nil, fmt.Errorf("stat archive: %w", err)
	}
	sizeBytes := info.Size()
	if sizeBytes == 0 {
		_ = f.Close()
		return nil, fmt.Errorf("archive %s is empty", archivePath)
	}

	totalCount := int((sizeBytes + chunkSizeBytes - 1) / chunkSizeBytes)
	if totalCount > MaxChunks {
		_ = f.Close()
		return nil, fmt.Errorf("archive needs %d chunks, limit is %d; increase the chunk size", totalCount, MaxChunks)
	}

	s.logger.Debug().
		Str("archive", archivePath).
		Int64("size", sizeBytes).
		Int64("chunk_size", chunkSizeBytes).
		Int("total_count", totalCount).
		Msg("archive split planned")

	return &Stream{
		f:          f,
		sizeBytes:  sizeBytes,
		chunkSize:  chunkSizeBytes,
		totalCount: totalCount,
	}, nil
}

// Stream yields the chunks of one archive in ascending index order. It
// satisfies models.ChunkSource.
type Stream struct {
	f          *os.File
	sizeBytes  int64
	chunkSize  int64
	totalCount int
	next       int   // 0-based index of the next chunk to read
	offset     int64 // bytes consumed so far
	err        error // latched read failure
}

// TotalCount returns the number of chunks the archive splits into.
func (st *Stream) TotalCount() int {
	return st.totalCount
}

// SizeBytes returns the archive size.
func (st *Stream) SizeBytes() int64 {
	return st.sizeBytes
}

// Next returns the next chunk, or io.EOF after the last one. A read
// failure is terminal: every later call returns the same error.
func (st *Stream) Next() (*models.Chunk, error) {
	if st.err != nil {
		return nil, st.err
	}
	if st.next >= st.totalCount {
		return nil, io.EOF
	}

	size := st.chunkSize
	if remaining := st.sizeBytes - st.offset; remaining < size {
		size = remaining
	}

	payload := make([]byte, size)
	if _, err := io.ReadFull(st.f, payload); err != nil {
		// The file offset no longer matches st.offset after a short read,
		// so a retried Next would hand out misaligned bytes.
		st.err = fmt.Errorf("reading chunk %d: %w", st.next+1, err)
		return nil, st.err
	}

	st.next++
	st.offset += size

	return &models.Chunk{
		Index:      st.next,
		TotalCount: st.totalCount,
		SizeBytes:  size,
		Payload:    payload,
	}, nil
}

// Close releases the underlying archive handle.
func (st *Stream) Close() error {
	return st.f.Close()
}
