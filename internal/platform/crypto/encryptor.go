// Package crypto provides secret encryption for credentials,
// database connection passwords and encrypted workspace variables.
package crypto

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"strings"

	"golang.org/x/crypto/pbkdf2"

	"github.com/miniflow-io/miniflow/internal/platform/config"
)

// EncryptedPrefix marks a stored value as ciphertext. Values without
// the prefix pass through decryption unchanged.
const EncryptedPrefix = "encrypted:"

// Encryptor encrypts and decrypts secrets with AES-256-GCM.
type Encryptor struct {
	key []byte
}

// NewEncryptor derives the AES key from configuration. KeyType "raw"
// expects a base64-encoded 32-byte key; "passphrase" derives one with
// PBKDF2.
func NewEncryptor(cfg config.EncryptionConfig) (*Encryptor, error) {
	var key []byte

	switch cfg.KeyType {
	case "raw":
		var err error
		key, err = base64.StdEncoding.DecodeString(cfg.Key)
		if err != nil {
			return nil, fmt.Errorf("invalid key: %w", err)
		}
	case "passphrase":
		salt := []byte(cfg.Salt)
		if len(salt) == 0 {
			salt = []byte("miniflow-default-salt")
		}
		iterations := cfg.Iterations
		if iterations <= 0 {
			iterations = 100000
		}
		key = pbkdf2.Key([]byte(cfg.Key), salt, iterations, 32, sha256.New)
	default:
		return nil, fmt.Errorf("unknown key type: %s", cfg.KeyType)
	}

	if len(key) != 32 {
		return nil, fmt.Errorf("key must be 32 bytes for AES-256")
	}

	return &Encryptor{key: key}, nil
}

// Encrypt encrypts data using AES-256-GCM. The nonce is prepended to
// the ciphertext.
func (e *Encryptor) Encrypt(plaintext []byte) ([]byte, error) {
	block, err := aes.NewCipher(e.key)
	if err != nil {
		return nil, fmt.Errorf("failed to create cipher: %w", err)
	}

	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("failed to create GCM: %w", err)
	}

	nonce := make([]byte, gcm.NonceSize())
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return nil, fmt.Errorf("failed to generate nonce: %w", err)
	}

	return gcm.Seal(nonce, nonce, plaintext, nil), nil
}

// Decrypt decrypts data produced by Encrypt.
func (e *Encryptor) Decrypt(ciphertext []byte) ([]byte, error) {
	block, err := aes.NewCipher(e.key)
	if err != nil {
		return nil, fmt.Errorf("failed to create cipher: %w", err)
	}

	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("failed to create GCM: %w", err)
	}

	if len(ciphertext) < gcm.NonceSize() {
		return nil, fmt.Errorf("ciphertext too short")
	}

	nonce, ciphertext := ciphertext[:gcm.NonceSize()], ciphertext[gcm.NonceSize():]
	plaintext, err := gcm.Open(nil, nonce, ciphertext, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to decrypt: %w", err)
	}

	return plaintext, nil
}

// EncryptString encrypts a string and returns it base64 encoded with
// the EncryptedPrefix marker.
func (e *Encryptor) EncryptString(plaintext string) (string, error) {
	ciphertext, err := e.Encrypt([]byte(plaintext))
	if err != nil {
		return "", err
	}
	return EncryptedPrefix + base64.StdEncoding.EncodeToString(ciphertext), nil
}

// DecryptString decrypts a value produced by EncryptString. Values
// without the EncryptedPrefix marker are returned unchanged.
func (e *Encryptor) DecryptString(value string) (string, error) {
	if !strings.HasPrefix(value, EncryptedPrefix) {
		return value, nil
	}

	data, err := base64.StdEncoding.DecodeString(strings.TrimPrefix(value, EncryptedPrefix))
	if err != nil {
		return "", fmt.Errorf("invalid base64: %w", err)
	}

	plaintext, err := e.Decrypt(data)
	if err != nil {
		return "", err
	}
	return string(plaintext), nil
}

// EncryptJSON encrypts a JSON-serializable object.
func (e *Encryptor) EncryptJSON(v interface{}) (string, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return "", fmt.Errorf("failed to marshal JSON: %w", err)
	}
	return e.EncryptString(string(data))
}

// DecryptJSON decrypts and unmarshals a value produced by EncryptJSON.
func (e *Encryptor) DecryptJSON(ciphertext string, v interface{}) error {
	plaintext, err := e.DecryptString(ciphertext)
	if err != nil {
		return err
	}
	return json.Unmarshal([]byte(plaintext), v)
}

// DecryptFields decrypts every EncryptedPrefix-marked string field of
// a payload in place. Nested values are left untouched.
func (e *Encryptor) DecryptFields(data map[string]interface{}) error {
	for key, value := range data {
		strVal, ok := value.(string)
		if !ok || !strings.HasPrefix(strVal, EncryptedPrefix) {
			continue
		}
		decrypted, err := e.DecryptString(strVal)
		if err != nil {
			return fmt.Errorf("failed to decrypt %s: %w", key, err)
		}
		data[key] = decrypted
	}
	return nil
}

// GenerateKey generates a new raw encryption key.
func GenerateKey() (string, error) {
	key := make([]byte, 32)
	if _, err := rand.Read(key); err != nil {
		return "", err
	}
	return base64.StdEncoding.EncodeToString(key), nil
}

var sensitiveFields = map[string]bool{
	"password": true, "secret": true, "api_key": true, "apiKey": true,
	"access_token": true, "accessToken": true, "refresh_token": true,
	"refreshToken": true, "private_key": true, "privateKey": true,
	"client_secret": true, "clientSecret": true,
}

// MaskFields replaces sensitive field values with a masked form for
// display in read APIs.
func MaskFields(data map[string]interface{}) map[string]interface{} {
	masked := make(map[string]interface{}, len(data))
	for key, value := range data {
		if !sensitiveFields[key] {
			masked[key] = value
			continue
		}
		if strVal, ok := value.(string); ok && len(strVal) > 4 {
			masked[key] = "****" + strVal[len(strVal)-4:]
		} else {
			masked[key] = "****"
		}
	}
	return masked
}
