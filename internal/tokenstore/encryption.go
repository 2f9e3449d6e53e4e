package tokenstore

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"fmt"
	"os"

	"socialhub/internal/constants"

	"golang.org/x/crypto/pbkdf2"
)

const (
	encryptionEnabledEnv = "SOCIALHUB_ENABLE_ENCRYPTION"
	encryptionSecretEnv  = "SOCIALHUB_ENCRYPTION_SECRET"
	encryptedPrefix      = "enc:v1:"
)

// encryptor seals credential documents with AES-GCM. A nil gcm means
// encryption is disabled and values pass through unchanged.
type encryptor struct {
	gcm cipher.AEAD
}

func newEncryptor() (*encryptor, error) {
	if !isEncryptionEnabled() {
		return &encryptor{}, nil
	}

	key, err := deriveKey(os.Getenv(encryptionSecretEnv))
	if err != nil {
		return nil, fmt.Errorf("failed to derive encryption key: %w", err)
	}

	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("failed to create cipher: %w", err)
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("failed to create GCM: %w", err)
	}
	return &encryptor{gcm: gcm}, nil
}

func (e *encryptor) enabled() bool {
	return e != nil && e.gcm != nil
}

func (e *encryptor) Encrypt(plaintext string) (string, error) {
	if plaintext == "" || !e.enabled() {
		return plaintext, nil
	}

	nonce := make([]byte, constants.EncryptionNonceSize)
	if _, err := rand.Read(nonce); err != nil {
		return "", fmt.Errorf("failed to generate nonce: %w", err)
	}

	sealed := e.gcm.Seal(nil, nonce, []byte(plaintext), nil)
	return encryptedPrefix + base64.StdEncoding.EncodeToString(append(nonce, sealed...)), nil
}

// Decrypt accepts plaintext documents written before encryption was turned on
func (e *encryptor) Decrypt(value string) (string, error) {
	if len(value) < len(encryptedPrefix) || value[:len(encryptedPrefix)] != encryptedPrefix {
		return value, nil
	}
	if !e.enabled() {
		return "", fmt.Errorf("document is encrypted but %s is not set", encryptionEnabledEnv)
	}

	data, err := base64.StdEncoding.DecodeString(value[len(encryptedPrefix):])
	if err != nil {
		return "", fmt.Errorf("failed to decode base64: %w", err)
	}
	if len(data) < constants.EncryptionNonceSize {
		return "", fmt.Errorf("ciphertext too short")
	}

	nonce, sealed := data[:constants.EncryptionNonceSize], data[constants.EncryptionNonceSize:]
	plaintext, err := e.gcm.Open(nil, nonce, sealed, nil)
	if err != nil {
		return "", fmt.Errorf("failed to decrypt: %w", err)
	}
	return string(plaintext), nil
}

func deriveKey(secret string) ([]byte, error) {
	if secret == "" {
		return nil, fmt.Errorf("%s environment variable is required when encryption is enabled", encryptionSecretEnv)
	}
	if len(secret) < 32 {
		return nil, fmt.Errorf("encryption secret must be at least 32 characters long")
	}
	return pbkdf2.Key([]byte(secret), []byte(constants.EncryptionSalt), constants.EncryptionIterations, constants.EncryptionKeySize, sha256.New), nil
}

func isEncryptionEnabled() bool {
	return os.Getenv(encryptionEnabledEnv) == "true"
}
