package identity

import (
	"crypto/ed25519"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dep2p/go-chanfetch/pkg/types"
)

func TestGenerate(t *testing.T) {
	id, err := Generate()
	require.NoError(t, err)

	assert.Equal(t, types.PeerIDFromPublicKey(id.PublicKey()), id.ID())
	sig := id.Sign([]byte("msg"))
	assert.True(t, ed25519.Verify(id.PublicKey(), []byte("msg"), sig))
}

func TestLoadOrGenerate_Persists(t *testing.T) {
	path := filepath.Join(t.TempDir(), "keys", "node.pem")

	first, err := LoadOrGenerate(path)
	require.NoError(t, err)

	info, err := os.Stat(path)
	require.NoError(t, err)
	assert.Equal(t, os.FileMode(0o600), info.Mode().Perm())

	second, err := LoadOrGenerate(path)
	require.NoError(t, err)
	assert.Equal(t, first.ID(), second.ID(), "再次加载应得到相同身份")
}

func TestLoad_InvalidPEM(t *testing.T) {
	path := filepath.Join(t.TempDir(), "bad.pem")
	require.NoError(t, os.WriteFile(path, []byte("garbage"), 0o600))

	_, err := Load(path)
	assert.ErrorIs(t, err, ErrInvalidPEM)

	_, err = LoadOrGenerate(path)
	assert.ErrorIs(t, err, ErrInvalidPEM, "损坏的文件不应被覆盖")
}

func TestNew_InvalidKey(t *testing.T) {
	_, err := New(ed25519.PrivateKey{1, 2, 3})
	assert.ErrorIs(t, err, ErrInvalidKey)
}
