package crypto

import (
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEncryptDecryptRoundTrip(t *testing.T) {
	keys := RoleKeys{
		Admin:     "admin-key-1",
		Governor:  "governor-key-1",
		Validator: "validator-key-1",
	}

	blob, err := EncryptRoleKeys(keys, "correct horse battery staple")
	require.NoError(t, err)

	got, err := DecryptRoleKeys(blob, "correct horse battery staple")
	require.NoError(t, err)
	assert.Equal(t, keys, got)
}

func TestDecryptWrongPassword(t *testing.T) {
	blob, err := EncryptRoleKeys(RoleKeys{Admin: "secret"}, "right")
	require.NoError(t, err)

	_, err = DecryptRoleKeys(blob, "wrong")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "decryption failed")
}

func TestEncryptRequiresPassword(t *testing.T) {
	_, err := EncryptRoleKeys(RoleKeys{}, "")
	assert.Error(t, err)

	_, err = DecryptRoleKeys([]byte("{}"), "")
	assert.Error(t, err)
}

func TestEncryptOutputIsRandomized(t *testing.T) {
	keys := RoleKeys{Admin: "same-input"}

	a, err := EncryptRoleKeys(keys, "pw")
	require.NoError(t, err)
	b, err := EncryptRoleKeys(keys, "pw")
	require.NoError(t, err)

	// Fresh salt and nonce per call, so identical inputs never produce
	// identical blobs.
	assert.NotEqual(t, a, b)
}

func TestDecryptRejectsUnknownVersion(t *testing.T) {
	blob, err := EncryptRoleKeys(RoleKeys{Admin: "x"}, "pw")
	require.NoError(t, err)

	var stored map[string]any
	require.NoError(t, json.Unmarshal(blob, &stored))
	stored["version"] = 99
	tampered, err := json.Marshal(stored)
	require.NoError(t, err)

	_, err = DecryptRoleKeys(tampered, "pw")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unsupported version")
}

func TestLoadRoleKeys(t *testing.T) {
	keys := RoleKeys{Reporter: "reporter-key"}
	blob, err := EncryptRoleKeys(keys, "pw")
	require.NoError(t, err)

	path := filepath.Join(t.TempDir(), "keys.enc")
	require.NoError(t, os.WriteFile(path, blob, 0o600))

	got, err := LoadRoleKeys(path, "pw")
	require.NoError(t, err)
	assert.Equal(t, keys, got)

	_, err = LoadRoleKeys(filepath.Join(t.TempDir(), "missing.enc"), "pw")
	assert.Error(t, err)
}
