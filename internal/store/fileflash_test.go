package store

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestFileFlashCreatesErasedImageOnFirstOpen(t *testing.T) {
	path := filepath.Join(t.TempDir(), "flash.img")
	f, err := OpenFileFlash(path, 4096)
	require.NoError(t, err)
	require.Equal(t, uint32(4096), f.Size())
	w, err := f.ReadWord(0)
	require.NoError(t, err)
	require.Equal(t, erasedWord, w)
}

func TestFileFlashSurvivesReopen(t *testing.T) {
	path := filepath.Join(t.TempDir(), "flash.img")
	f, err := OpenFileFlash(path, 4096)
	require.NoError(t, err)
	require.NoError(t, f.WriteWord(8, 0x00FF00FF))

	reopened, err := OpenFileFlash(path, 4096)
	require.NoError(t, err)
	w, err := reopened.ReadWord(8)
	require.NoError(t, err)
	require.Equal(t, uint32(0x00FF00FF), w)
}

func TestFileFlashRejectsMismatchedSize(t *testing.T) {
	path := filepath.Join(t.TempDir(), "flash.img")
	_, err := OpenFileFlash(path, 4096)
	require.NoError(t, err)

	_, err = OpenFileFlash(path, 8192)
	require.Error(t, err)
}

func TestFileFlashStoreRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "flash.img")
	flash, err := OpenFileFlash(path, 2*4096)
	require.NoError(t, err)

	s, err := Open(flash, testOpts())
	require.NoError(t, err)
	_, err = s.StoreChunkCode(3, 1, []byte{0xAA, 0xBB})
	require.NoError(t, err)

	flash2, err := OpenFileFlash(path, 2*4096)
	require.NoError(t, err)
	s2, err := Open(flash2, testOpts())
	require.NoError(t, err)
	code, ok := s2.ChunkCode(3)
	require.True(t, ok)
	require.Equal(t, []byte{0xAA, 0xBB, 0, 0}, code)
}
