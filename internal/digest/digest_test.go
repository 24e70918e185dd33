package digest

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// md5("hello world")
const helloWorldMD5 = "5eb63bbbe01eeed093cb22bb8f5acdc3"

func TestBytes(t *testing.T) {
	assert.Equal(t, helloWorldMD5, Bytes([]byte("hello world")))
	assert.Equal(t, "d41d8cd98f00b204e9800998ecf8427e", Bytes(nil))
}

func TestFile(t *testing.T) {
	p := filepath.Join(t.TempDir(), "payload.bin")
	require.NoError(t, os.WriteFile(p, []byte("hello world"), 0o644))

	got, err := File(p)
	require.NoError(t, err)
	assert.Equal(t, helloWorldMD5, got)

	_, err = File(filepath.Join(t.TempDir(), "missing"))
	assert.Error(t, err)
}

func TestVerify(t *testing.T) {
	p := filepath.Join(t.TempDir(), "payload.bin")
	require.NoError(t, os.WriteFile(p, []byte("hello world"), 0o644))

	ok, err := Verify(p, helloWorldMD5)
	require.NoError(t, err)
	assert.True(t, ok)

	// Comparison is case-insensitive.
	ok, err = Verify(p, "5EB63BBBE01EEED093CB22BB8F5ACDC3")
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = Verify(p, "00000000000000000000000000000000")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestValidHex(t *testing.T) {
	assert.True(t, ValidHex(helloWorldMD5))
	assert.True(t, ValidHex("ABCDEF0123456789abcdef0123456789"))
	assert.False(t, ValidHex(""))
	assert.False(t, ValidHex("5eb63bbb"))
	assert.False(t, ValidHex(helloWorldMD5+"00"))
	assert.False(t, ValidHex("zzzzzzzzzzzzzzzzzzzzzzzzzzzzzzzz"))
}
