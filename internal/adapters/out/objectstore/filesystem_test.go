package objectstore

import (
	"bytes"
	"context"
	"testing"

	"github.com/bnema/zerowrap"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/coreforge/registry/internal/domain"
)

func testLogger() zerowrap.Logger {
	return zerowrap.New(zerowrap.Config{Level: "error", Format: "console"})
}

func TestFilesystem_WriteChunkSequential(t *testing.T) {
	fs, err := NewFilesystem(t.TempDir(), testLogger())
	require.NoError(t, err)

	uploadID, err := fs.StartUpload(context.Background())
	require.NoError(t, err)

	offset, err := fs.WriteChunk(context.Background(), uploadID, 0, bytes.NewReader([]byte("hello")))
	require.NoError(t, err)
	assert.Equal(t, int64(5), offset)

	offset, err = fs.WriteChunk(context.Background(), uploadID, 5, bytes.NewReader([]byte("world")))
	require.NoError(t, err)
	assert.Equal(t, int64(10), offset)
}

func TestFilesystem_WriteChunkDiscontiguousIsRangeInvalid(t *testing.T) {
	fs, err := NewFilesystem(t.TempDir(), testLogger())
	require.NoError(t, err)

	uploadID, err := fs.StartUpload(context.Background())
	require.NoError(t, err)

	_, err = fs.WriteChunk(context.Background(), uploadID, 0, bytes.NewReader([]byte("hello")))
	require.NoError(t, err)

	_, err = fs.WriteChunk(context.Background(), uploadID, 100, bytes.NewReader([]byte("gap")))
	require.Error(t, err)

	re := domain.AsRegistryError(err)
	require.NotNil(t, re, "discontiguous chunk must produce a domain.RegistryError")
	assert.Equal(t, domain.CodeRangeInvalid, re.Code)
	assert.Equal(t, 416, re.Status())
}
