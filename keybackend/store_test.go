package keybackend_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/partflow/partflow/keybackend"
)

func TestNewSecretStore_InlineKeysOnly(t *testing.T) {
	t.Parallel()

	cfg := keybackend.KeysConfig{
		Inline: []keybackend.KeyPair{
			{AccessKey: "KEY1", SecretKey: "secret1"},
			{AccessKey: "KEY2", SecretKey: "secret2", Prefix: "tenants/b/"},
		},
	}

	store, err := keybackend.NewSecretStore(cfg)
	require.NoError(t, err)

	secret1, err := store.Lookup("KEY1")
	require.NoError(t, err)
	assert.Equal(t, "secret1", secret1)
	assert.Empty(t, store.Scope("KEY1"))

	secret2, err := store.Lookup("KEY2")
	require.NoError(t, err)
	assert.Equal(t, "secret2", secret2)
	assert.Equal(t, "tenants/b/", store.Scope("KEY2"))
}

func TestNewSecretStore_FileKeysOnly(t *testing.T) {
	t.Parallel()

	content := `[
		{"access_key": "FILE_KEY1", "secret_key": "file_secret1"}
	]`
	cfg := keybackend.KeysConfig{File: writeTestFile(t, content)}

	store, err := keybackend.NewSecretStore(cfg)
	require.NoError(t, err)

	secret, err := store.Lookup("FILE_KEY1")
	require.NoError(t, err)
	assert.Equal(t, "file_secret1", secret)
}

func TestNewSecretStore_FileTakesPrecedence(t *testing.T) {
	t.Parallel()

	content := `[
		{"access_key": "SHARED", "secret_key": "from_file", "prefix": "tenants/file/"}
	]`
	cfg := keybackend.KeysConfig{
		Inline: []keybackend.KeyPair{
			{AccessKey: "SHARED", SecretKey: "from_inline"},
			{AccessKey: "ONLY_INLINE", SecretKey: "inline_secret"},
		},
		File: writeTestFile(t, content),
	}

	store, err := keybackend.NewSecretStore(cfg)
	require.NoError(t, err)

	secret, err := store.Lookup("SHARED")
	require.NoError(t, err)
	assert.Equal(t, "from_file", secret)
	assert.Equal(t, "tenants/file/", store.Scope("SHARED"))

	secret, err = store.Lookup("ONLY_INLINE")
	require.NoError(t, err)
	assert.Equal(t, "inline_secret", secret)
}

func TestNewSecretStore_SkipsIncompleteInlinePairs(t *testing.T) {
	t.Parallel()

	cfg := keybackend.KeysConfig{
		Inline: []keybackend.KeyPair{
			{AccessKey: "NO_SECRET", SecretKey: ""},
			{AccessKey: "", SecretKey: "no_access"},
		},
	}

	store, err := keybackend.NewSecretStore(cfg)
	require.NoError(t, err)

	_, err = store.Lookup("NO_SECRET")
	assert.ErrorIs(t, err, keybackend.ErrKeyNotFound)
}

func TestNewSecretStore_FileError(t *testing.T) {
	t.Parallel()

	_, err := keybackend.NewSecretStore(keybackend.KeysConfig{File: "/does/not/exist.json"})
	assert.Error(t, err)
}
