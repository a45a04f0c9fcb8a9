package crypto

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/miniflow-io/miniflow/internal/platform/config"
)

func newTestEncryptor(t *testing.T) *Encryptor {
	t.Helper()
	enc, err := NewEncryptor(config.EncryptionConfig{
		Key:        "test-passphrase",
		KeyType:    "passphrase",
		Iterations: 1000,
	})
	require.NoError(t, err)
	return enc
}

func TestEncryptDecryptRoundTrip(t *testing.T) {
	enc := newTestEncryptor(t)

	ciphertext, err := enc.EncryptString("super-secret-password")
	require.NoError(t, err)
	assert.Contains(t, ciphertext, EncryptedPrefix)
	assert.NotContains(t, ciphertext, "super-secret-password")

	plaintext, err := enc.DecryptString(ciphertext)
	require.NoError(t, err)
	assert.Equal(t, "super-secret-password", plaintext)
}

func TestDecryptStringPassthrough(t *testing.T) {
	enc := newTestEncryptor(t)

	plaintext, err := enc.DecryptString("not-encrypted-at-all")
	require.NoError(t, err)
	assert.Equal(t, "not-encrypted-at-all", plaintext)
}

func TestDecryptStringRejectsGarbage(t *testing.T) {
	enc := newTestEncryptor(t)

	_, err := enc.DecryptString(EncryptedPrefix + "!!not-base64!!")
	assert.Error(t, err)

	_, err = enc.DecryptString(EncryptedPrefix + "YWJj")
	assert.Error(t, err)
}

func TestDecryptWithWrongKeyFails(t *testing.T) {
	enc := newTestEncryptor(t)
	other, err := NewEncryptor(config.EncryptionConfig{
		Key:        "different-passphrase",
		KeyType:    "passphrase",
		Iterations: 1000,
	})
	require.NoError(t, err)

	ciphertext, err := enc.EncryptString("payload")
	require.NoError(t, err)

	_, err = other.DecryptString(ciphertext)
	assert.Error(t, err)
}

func TestEncryptJSONRoundTrip(t *testing.T) {
	enc := newTestEncryptor(t)

	original := map[string]interface{}{
		"api_key": "abc123",
		"url":     "https://api.example.com",
	}

	ciphertext, err := enc.EncryptJSON(original)
	require.NoError(t, err)

	var decoded map[string]interface{}
	require.NoError(t, enc.DecryptJSON(ciphertext, &decoded))
	assert.Equal(t, original, decoded)
}

func TestDecryptFields(t *testing.T) {
	enc := newTestEncryptor(t)

	encrypted, err := enc.EncryptString("hunter2")
	require.NoError(t, err)

	data := map[string]interface{}{
		"password": encrypted,
		"username": "svc-account",
		"port":     5432,
	}

	require.NoError(t, enc.DecryptFields(data))
	assert.Equal(t, "hunter2", data["password"])
	assert.Equal(t, "svc-account", data["username"])
	assert.Equal(t, 5432, data["port"])
}

func TestNewEncryptorRawKey(t *testing.T) {
	key, err := GenerateKey()
	require.NoError(t, err)

	enc, err := NewEncryptor(config.EncryptionConfig{Key: key, KeyType: "raw"})
	require.NoError(t, err)

	ciphertext, err := enc.EncryptString("value")
	require.NoError(t, err)
	plaintext, err := enc.DecryptString(ciphertext)
	require.NoError(t, err)
	assert.Equal(t, "value", plaintext)
}

func TestNewEncryptorRejectsUnknownKeyType(t *testing.T) {
	_, err := NewEncryptor(config.EncryptionConfig{Key: "x", KeyType: "hsm"})
	assert.Error(t, err)
}

func TestMaskFields(t *testing.T) {
	masked := MaskFields(map[string]interface{}{
		"password": "supersecret",
		"api_key":  "ab",
		"host":     "db.internal",
	})

	assert.Equal(t, "****cret", masked["password"])
	assert.Equal(t, "****", masked["api_key"])
	assert.Equal(t, "db.internal", masked["host"])
}
