package tokenstore

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testSecret = "this-is-a-very-long-test-secret-key-for-encryption-testing"

func TestEncryptor_RoundTrip(t *testing.T) {
	t.Setenv(encryptionEnabledEnv, "true")
	t.Setenv(encryptionSecretEnv, testSecret)

	enc, err := newEncryptor()
	require.NoError(t, err)

	for _, plaintext := range []string{"hello", `{"userId":"u1"}`, "Hello 世界"} {
		sealed, err := enc.Encrypt(plaintext)
		require.NoError(t, err)
		assert.True(t, strings.HasPrefix(sealed, encryptedPrefix))
		assert.NotEqual(t, plaintext, sealed)

		opened, err := enc.Decrypt(sealed)
		require.NoError(t, err)
		assert.Equal(t, plaintext, opened)
	}

	again, err := enc.Encrypt("hello")
	require.NoError(t, err)
	first, err := enc.Encrypt("hello")
	require.NoError(t, err)
	assert.NotEqual(t, first, again, "nonce must differ per call")
}

func TestEncryptor_Disabled(t *testing.T) {
	t.Setenv(encryptionEnabledEnv, "false")

	enc, err := newEncryptor()
	require.NoError(t, err)

	out, err := enc.Encrypt("plain")
	require.NoError(t, err)
	assert.Equal(t, "plain", out)

	_, err = enc.Decrypt(encryptedPrefix + "AAAA")
	assert.Error(t, err)
}

func TestEncryptor_PlaintextPassesThrough(t *testing.T) {
	t.Setenv(encryptionEnabledEnv, "true")
	t.Setenv(encryptionSecretEnv, testSecret)

	enc, err := newEncryptor()
	require.NoError(t, err)

	out, err := enc.Decrypt(`{"legacy":true}`)
	require.NoError(t, err)
	assert.Equal(t, `{"legacy":true}`, out)
}

func TestEncryptor_SecretRules(t *testing.T) {
	t.Setenv(encryptionEnabledEnv, "true")

	t.Setenv(encryptionSecretEnv, "")
	_, err := newEncryptor()
	assert.Error(t, err)

	t.Setenv(encryptionSecretEnv, "short")
	_, err = newEncryptor()
	assert.Error(t, err)
}

func TestEncryptor_TamperedCiphertext(t *testing.T) {
	t.Setenv(encryptionEnabledEnv, "true")
	t.Setenv(encryptionSecretEnv, testSecret)

	enc, err := newEncryptor()
	require.NoError(t, err)

	sealed, err := enc.Encrypt("secret")
	require.NoError(t, err)
	tampered := sealed[:len(sealed)-2] + "AA"
	if tampered == sealed {
		tampered = sealed[:len(sealed)-2] + "BB"
	}
	_, err = enc.Decrypt(tampered)
	assert.Error(t, err)
}
