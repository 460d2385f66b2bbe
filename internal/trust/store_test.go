package trust

import (
	"crypto/ed25519"
	"encoding/hex"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newKey(t *testing.T) ed25519.PublicKey {
	t.Helper()
	pub, _, err := ed25519.GenerateKey(nil)
	require.NoError(t, err)
	return pub
}

func TestStoreAddGetRemove(t *testing.T) {
	s := NewStore()
	key := newKey(t)

	_, err := s.Get("stage-a")
	assert.ErrorIs(t, err, ErrUnknownInstance)

	require.NoError(t, s.Add("stage-a", key))
	got, err := s.Get("stage-a")
	require.NoError(t, err)
	assert.Equal(t, key, got)
	assert.True(t, s.Contains("stage-a"))
	assert.Equal(t, 1, s.Len())

	s.Remove("stage-a")
	assert.False(t, s.Contains("stage-a"))
	s.Remove("stage-a") // removing again is a no-op
}

func TestStoreAddRejectsBadKeyLength(t *testing.T) {
	s := NewStore()
	err := s.Add("stage-a", []byte{1, 2, 3})
	assert.ErrorIs(t, err, ErrInvalidPublicKey)
	assert.Equal(t, 0, s.Len())
}

func TestStoreAddCopiesKeyBytes(t *testing.T) {
	s := NewStore()
	raw := make([]byte, ed25519.PublicKeySize)
	copy(raw, newKey(t))
	require.NoError(t, s.Add("stage-a", raw))

	raw[0] ^= 0xFF
	got, err := s.Get("stage-a")
	require.NoError(t, err)
	assert.NotEqual(t, raw[0], got[0])
}

func TestFromHexMapping(t *testing.T) {
	key := newKey(t)
	s, err := FromHexMapping(map[string]string{"stage-a": hex.EncodeToString(key)})
	require.NoError(t, err)
	got, err := s.Get("stage-a")
	require.NoError(t, err)
	assert.Equal(t, key, got)

	_, err = FromHexMapping(map[string]string{"stage-a": "not hex"})
	assert.ErrorIs(t, err, ErrInvalidPublicKey)

	_, err = FromHexMapping(map[string]string{"stage-a": "0102"})
	assert.ErrorIs(t, err, ErrInvalidPublicKey)
}

func TestSnapshot(t *testing.T) {
	s := NewStore()
	keyA, keyB := newKey(t), newKey(t)
	require.NoError(t, s.Add("stage-a", keyA))
	require.NoError(t, s.Add("stage-b", keyB))

	snap := s.Snapshot()
	assert.Equal(t, map[string]string{
		"stage-a": hex.EncodeToString(keyA),
		"stage-b": hex.EncodeToString(keyB),
	}, snap)
}

func TestSaveAndLoadFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "trust.json")

	s := NewStore()
	key := newKey(t)
	require.NoError(t, s.Add("stage-a", key))
	require.NoError(t, s.SaveFile(path))

	loaded, err := LoadFile(path)
	require.NoError(t, err)
	got, err := loaded.Get("stage-a")
	require.NoError(t, err)
	assert.Equal(t, key, got)
}

func TestLoadFileErrors(t *testing.T) {
	_, err := LoadFile(filepath.Join(t.TempDir(), "missing.json"))
	assert.Error(t, err)

	path := filepath.Join(t.TempDir(), "trust.json")
	require.NoError(t, os.WriteFile(path, []byte(`{"not_instances": {}}`), 0o600))
	_, err = LoadFile(path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "instances")
}
