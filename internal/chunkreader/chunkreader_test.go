package chunkreader

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeTempFile(t *testing.T, data []byte) string {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, "sample.bin")
	require.NoError(t, os.WriteFile(path, data, 0o644))
	return path
}

func TestSniffFormatFLAC(t *testing.T) {
	header := append([]byte("fLaC"), make([]byte, 32)...)
	assert.Equal(t, "flac", sniffFormat(header))
}

func TestSniffFormatWAV(t *testing.T) {
	header := make([]byte, 16)
	copy(header[0:4], "RIFF")
	copy(header[8:12], "WAVE")
	assert.Equal(t, "wav", sniffFormat(header))
}

func TestSniffFormatUnknown(t *testing.T) {
	assert.Equal(t, "unknown", sniffFormat([]byte{0x00, 0x01, 0x02}))
}

func TestChunkSizeForPurposes(t *testing.T) {
	assert.Equal(t, headerChunkSize, chunkSizeFor(PurposeHeader, 1000))
	assert.Equal(t, audioAnalysisChunkSize, chunkSizeFor(PurposeAudioAnalysis, 1000))
	assert.Equal(t, fingerprintChunkSize, chunkSizeFor(PurposeFingerprint, 1000))
	assert.Equal(t, defaultSmallChunkSize, chunkSizeFor(PurposeDefault, 1000))
	assert.Equal(t, defaultLargeChunkSize, chunkSizeFor(PurposeDefault, largeFileThreshold+1))
}

func TestEachYieldsChunksInOrder(t *testing.T) {
	data := make([]byte, fingerprintChunkSize*2+10)
	copy(data, "fLaC")
	for i := range data {
		data[i] = byte(i % 251)
	}
	path := writeTempFile(t, data)

	r := New(path, PurposeFingerprint)
	var chunks []Chunk
	err := r.Each(func(c Chunk) error {
		chunks = append(chunks, c)
		return nil
	})
	require.NoError(t, err)
	require.Len(t, chunks, 3)
	assert.Equal(t, 0, chunks[0].ID)
	assert.Equal(t, 1, chunks[1].ID)
	assert.True(t, chunks[0].IsHeader)
	for _, c := range chunks {
		assert.NotEmpty(t, c.ContentHash)
	}
}

func TestEachStopsOnCallbackError(t *testing.T) {
	data := make([]byte, headerChunkSize*3)
	path := writeTempFile(t, data)

	r := New(path, PurposeHeader)
	callCount := 0
	err := r.Each(func(c Chunk) error {
		callCount++
		if callCount == 1 {
			return assert.AnError
		}
		return nil
	})
	require.Error(t, err)
	assert.Equal(t, 1, callCount)
}

func TestShannonEntropyUniformIsHigherThanConstant(t *testing.T) {
	constant := make([]byte, 1024)
	varied := make([]byte, 1024)
	for i := range varied {
		varied[i] = byte(i)
	}
	assert.Less(t, shannonEntropy(constant), shannonEntropy(varied))
}
