package rawimglib

import (
	"bytes"
	"io"
	"os"
	"path/filepath"
	"testing"

	"github.com/klauspost/compress/zstd"
	"github.com/klauspost/pgzip"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/ulikunitz/xz"
)

func testPayload() []byte {
	payload := make([]byte, 256*1024)
	for i := range payload {
		payload[i] = byte(i % 251)
	}
	return payload
}

func TestCompressStreamXz(t *testing.T) {
	payload := testPayload()
	compressed := bytes.Buffer{}
	require.NoError(t, compressStream(CompressionXz, bytes.NewReader(payload), &compressed))

	reader, err := xz.NewReader(&compressed)
	require.NoError(t, err)
	decompressed, err := io.ReadAll(reader)
	require.NoError(t, err)
	assert.Equal(t, payload, decompressed)
}

func TestCompressStreamZstd(t *testing.T) {
	payload := testPayload()
	compressed := bytes.Buffer{}
	require.NoError(t, compressStream(CompressionZstd, bytes.NewReader(payload), &compressed))

	reader, err := zstd.NewReader(&compressed)
	require.NoError(t, err)
	defer reader.Close()
	decompressed, err := io.ReadAll(reader)
	require.NoError(t, err)
	assert.Equal(t, payload, decompressed)
}

func TestCompressStreamGzip(t *testing.T) {
	payload := testPayload()
	compressed := bytes.Buffer{}
	require.NoError(t, compressStream(CompressionGzip, bytes.NewReader(payload), &compressed))

	reader, err := pgzip.NewReader(&compressed)
	require.NoError(t, err)
	decompressed, err := io.ReadAll(reader)
	require.NoError(t, err)
	assert.Equal(t, payload, decompressed)
}

func TestCompressImageNoneCopies(t *testing.T) {
	dir := t.TempDir()
	fromPath := filepath.Join(dir, "raw.img")
	toPath := filepath.Join(dir, "out.img")
	require.NoError(t, os.WriteFile(fromPath, testPayload(), 0o644))

	require.NoError(t, CompressImage(CompressionNone, fromPath, toPath))
	copied, err := os.ReadFile(toPath)
	require.NoError(t, err)
	assert.Equal(t, testPayload(), copied)
}

func TestCompressionExtension(t *testing.T) {
	assert.Equal(t, ".xz", CompressionXz.Extension())
	assert.Equal(t, ".zst", CompressionZstd.Extension())
	assert.Equal(t, ".gz", CompressionGzip.Extension())
	assert.Equal(t, "", CompressionNone.Extension())
}

func TestCompressionUnmarshal(t *testing.T) {
	var c Compression
	require.NoError(t, c.UnmarshalText([]byte("zstd")))
	assert.Equal(t, CompressionZstd, c)

	assert.Error(t, c.UnmarshalText([]byte("lz4")))
}
