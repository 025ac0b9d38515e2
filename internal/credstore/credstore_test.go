package credstore

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestOpen_MissingPassphraseRefused(t *testing.T) {
	_, err := Open(filepath.Join(t.TempDir(), "vault.json"), nil)
	assert.ErrorIs(t, err, ErrNoPassphrase)
}

func TestSaveThenOpen_RoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "vault.json")
	passphrase := []byte("correct horse battery staple")

	s, err := Open(path, passphrase)
	require.NoError(t, err)

	s.Put("binance", "api_key", "sk-live-secret")
	require.NoError(t, s.Save(passphrase))

	info, err := os.Stat(path)
	require.NoError(t, err)
	assert.Equal(t, os.FileMode(filePerm), info.Mode().Perm())

	reopened, err := Open(path, passphrase)
	require.NoError(t, err)
	secret, ok := reopened.Get("binance", "api_key")
	assert.True(t, ok)
	assert.Equal(t, "sk-live-secret", secret)
}

func TestOpen_WrongPassphraseIsTampered(t *testing.T) {
	path := filepath.Join(t.TempDir(), "vault.json")
	s, err := Open(path, []byte("passphrase-one"))
	require.NoError(t, err)
	s.Put("binance", "api_key", "secret")
	require.NoError(t, s.Save([]byte("passphrase-one")))

	_, err = Open(path, []byte("passphrase-two"))
	assert.ErrorIs(t, err, ErrTampered)
}
