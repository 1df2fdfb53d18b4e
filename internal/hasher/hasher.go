// Package hasher computes the dedup key for uploaded content.
//
// Small streams get a full MD5. Large streams get an approximate digest
// over only the first and last chunk, which keeps hashing O(chunk) on big
// media files at the cost of treating two files that differ only in the
// untouched middle region as duplicates. MD5 is a dedup key here, not a
// security boundary.
package hasher

import (
	"crypto/md5"
	"encoding/hex"
	"fmt"
	"io"
)

const (
	// ChunkSize is the sampled chunk length for large streams.
	ChunkSize = 1 << 20 // 1 MiB
	// FullHashLimit is the largest size still hashed in full.
	FullHashLimit = 5 * ChunkSize
)

// Hash returns the lowercase hex dedup digest for a stream of the given
// size. The reader must be positioned at the start; it is left at an
// unspecified offset.
func Hash(r io.ReadSeeker, size int64) (string, error) {
	h := md5.New()

	if size <= FullHashLimit {
		if _, err := io.Copy(h, r); err != nil {
			return "", fmt.Errorf("hashing stream: %w", err)
		}
		return hex.EncodeToString(h.Sum(nil)), nil
	}

	// First chunk, then last chunk, concatenated into one digest.
	if _, err := io.CopyN(h, r, ChunkSize); err != nil {
		return "", fmt.Errorf("hashing head chunk: %w", err)
	}
	if _, err := r.Seek(size-ChunkSize, io.SeekStart); err != nil {
		return "", fmt.Errorf("seeking tail chunk: %w", err)
	}
	if _, err := io.CopyN(h, r, ChunkSize); err != nil {
		return "", fmt.Errorf("hashing tail chunk: %w", err)
	}
	return hex.EncodeToString(h.Sum(nil)), nil
}
