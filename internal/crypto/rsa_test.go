package crypto

import (
	"crypto/rand"
	"crypto/rsa"
	"math/big"
	"testing"

	"github.com/stretchr/testify/require"
)

func padToSize(b []byte, size int) []byte {
	if len(b) >= size {
		return b
	}
	padded := make([]byte, size)
	copy(padded[size-len(b):], b)
	return padded
}

func encryptRaw(t *testing.T, pub *rsa.PublicKey, plaintext []byte) []byte {
	t.Helper()
	c := new(big.Int).Exp(new(big.Int).SetBytes(plaintext), big.NewInt(int64(pub.E)), pub.N)
	keySize := pub.N.BitLen() / 8
	return padToSize(c.Bytes(), keySize)
}

func TestRSADecryptNoPaddingRoundTripsWithPrecompute(t *testing.T) {
	key, err := rsa.GenerateKey(rand.Reader, 1024)
	require.NoError(t, err)
	key.Precompute()

	plaintext := make([]byte, 128)
	plaintext[127] = 0x2a
	ciphertext := encryptRaw(t, &key.PublicKey, plaintext)

	decrypted, err := RSADecryptNoPadding(key, ciphertext)
	require.NoError(t, err)
	require.Equal(t, plaintext, decrypted)
}

func TestRSADecryptNoPaddingRoundTripsWithoutPrecompute(t *testing.T) {
	key, err := rsa.GenerateKey(rand.Reader, 1024)
	require.NoError(t, err)

	// Mirror how loadRSAKey reconstructs a key from a config file: N, E and D
	// only, no Primes or Precomputed values, forcing the fallback path.
	bare := &rsa.PrivateKey{
		PublicKey: rsa.PublicKey{N: key.N, E: key.E},
		D:         key.D,
	}

	plaintext := make([]byte, 128)
	plaintext[0] = 0x7f
	ciphertext := encryptRaw(t, &bare.PublicKey, plaintext)

	decrypted, err := RSADecryptNoPadding(bare, ciphertext)
	require.NoError(t, err)
	require.Equal(t, plaintext, decrypted)
}

func TestRSADecryptNoPaddingRejectsWrongCiphertextLength(t *testing.T) {
	key, err := rsa.GenerateKey(rand.Reader, 1024)
	require.NoError(t, err)

	_, err = RSADecryptNoPadding(key, make([]byte, 100))
	require.Error(t, err)
}

func TestRSADecryptNoPaddingSmallerKeySize(t *testing.T) {
	// crypto/rsa refuses keys under 1024 bits unless this setting is cleared.
	t.Setenv("GODEBUG", "rsa1024min=0")
	key, err := rsa.GenerateKey(rand.Reader, 512)
	require.NoError(t, err)
	key.Precompute()

	plaintext := make([]byte, 64)
	plaintext[63] = 0x11
	ciphertext := encryptRaw(t, &key.PublicKey, plaintext)

	decrypted, err := RSADecryptNoPadding(key, ciphertext)
	require.NoError(t, err)
	require.Equal(t, plaintext, decrypted)
}
