package hasher

import (
	"bytes"
	"crypto/md5"
	"encoding/hex"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func hashOf(t *testing.T, data []byte) string {
	t.Helper()
	digest, err := Hash(bytes.NewReader(data), int64(len(data)))
	require.NoError(t, err)
	return digest
}

func TestHashSmallStreamIsFullDigest(t *testing.T) {
	data := []byte("hello")
	sum := md5.Sum(data)
	assert.Equal(t, hex.EncodeToString(sum[:]), hashOf(t, data))
}

func TestHashZeroByteStream(t *testing.T) {
	sum := md5.Sum(nil)
	assert.Equal(t, hex.EncodeToString(sum[:]), hashOf(t, nil))
}

func TestHashStable(t *testing.T) {
	data := bytes.Repeat([]byte("abc"), 1000)
	assert.Equal(t, hashOf(t, data), hashOf(t, data))
}

func TestHashLargeStreamSamplesHeadAndTail(t *testing.T) {
	data := make([]byte, FullHashLimit+2*ChunkSize)
	for i := range data {
		data[i] = byte(i)
	}
	original := hashOf(t, data)

	// Mutating bytes strictly between the first and last chunk must not
	// change the digest: that region is never read.
	mutated := append([]byte(nil), data...)
	mutated[ChunkSize+10] = ^mutated[ChunkSize+10]
	mutated[len(mutated)-ChunkSize-10] = ^mutated[len(mutated)-ChunkSize-10]
	assert.Equal(t, original, hashOf(t, mutated))

	// Mutating the head or tail chunk must change it.
	headMutated := append([]byte(nil), data...)
	headMutated[0] = ^headMutated[0]
	assert.NotEqual(t, original, hashOf(t, headMutated))

	tailMutated := append([]byte(nil), data...)
	tailMutated[len(tailMutated)-1] = ^tailMutated[len(tailMutated)-1]
	assert.NotEqual(t, original, hashOf(t, tailMutated))
}

func TestHashThresholdBoundary(t *testing.T) {
	// Exactly at the limit still hashes in full.
	data := make([]byte, FullHashLimit)
	sum := md5.Sum(data)
	assert.Equal(t, hex.EncodeToString(sum[:]), hashOf(t, data))
}
