package crypto_test

import (
	"bytes"
	"encoding/hex"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/TheMichaelB/obseal/internal/crypto"
)

func mustHex(t *testing.T, s string) []byte {
	t.Helper()
	b, err := hex.DecodeString(s)
	require.NoError(t, err)
	return b
}

func TestProvider_DeriveKey(t *testing.T) {
	provider := crypto.NewProvider(nil)

	key, err := provider.DeriveKey([]byte("secret"))
	require.NoError(t, err)
	assert.Equal(t, mustHex(t, "2bb80d537b1da3e38bd30361aa855686bde0eacd7162fef6a25fe97bf527a25b"), key)

	tests := []struct {
		name   string
		secret []byte
	}{
		{"empty", nil},
		{"short", []byte("a")},
		{"unicode", []byte("пароль123")},
		{"long", bytes.Repeat([]byte("x"), 4096)},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			key, err := provider.DeriveKey(tt.secret)
			require.NoError(t, err)
			assert.Len(t, key, crypto.KeySize)
		})
	}
}

func TestProvider_EncryptKnownAnswer(t *testing.T) {
	provider := crypto.NewProvider(nil)
	key, err := provider.DeriveKey([]byte("secret"))
	require.NoError(t, err)

	out, err := provider.Encrypt([]byte("hello world"), key)
	require.NoError(t, err)
	assert.Equal(t, mustHex(t, "d901000d7d921e404b8b1c955bba5bc9"), out)

	plain, err := provider.Decrypt(out, key)
	require.NoError(t, err)
	assert.Equal(t, "hello world", string(plain))
}

func TestProvider_RoundTrip(t *testing.T) {
	provider := crypto.NewProvider(nil)
	key, err := provider.DeriveKey([]byte("round trip"))
	require.NoError(t, err)

	for _, size := range []int{0, 1, 15, 16, 17, 31, 32, 1000, 64 * 1024} {
		plaintext := make([]byte, size)
		for i := range plaintext {
			plaintext[i] = byte(i * 7)
		}

		ciphertext, err := provider.Encrypt(plaintext, key)
		require.NoError(t, err)
		assert.Zero(t, len(ciphertext)%crypto.BlockSize)
		assert.Greater(t, len(ciphertext), size, "padding always adds at least one byte")

		decrypted, err := provider.Decrypt(ciphertext, key)
		require.NoError(t, err)
		assert.Equal(t, len(plaintext), len(decrypted))
		assert.True(t, bytes.Equal(plaintext, decrypted))
	}
}

func TestProvider_DecryptErrors(t *testing.T) {
	provider := crypto.NewProvider(nil)
	key, _ := provider.DeriveKey([]byte("secret"))

	valid, err := provider.Encrypt([]byte("some payload that spans blocks"), key)
	require.NoError(t, err)

	tests := []struct {
		name       string
		ciphertext []byte
		key        []byte
		wantErr    error
	}{
		{"empty", nil, key, crypto.ErrInvalidCiphertext},
		{"not block aligned", valid[:len(valid)-3], key, crypto.ErrInvalidCiphertext},
		{"short key", valid, key[:16], crypto.ErrInvalidKey},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := provider.Decrypt(tt.ciphertext, tt.key)
			assert.ErrorIs(t, err, tt.wantErr)
		})
	}

	t.Run("wrong key", func(t *testing.T) {
		other, _ := provider.DeriveKey([]byte("not the secret"))
		plain, err := provider.Decrypt(valid, other)
		if err == nil {
			// 1/256-ish chance the garbage happens to end in valid padding.
			assert.NotEqual(t, "some payload that spans blocks", string(plain))
			return
		}
		assert.ErrorIs(t, err, crypto.ErrInvalidPadding)
	})
}

func TestProvider_EncryptInvalidKey(t *testing.T) {
	provider := crypto.NewProvider(nil)
	_, err := provider.Encrypt([]byte("data"), []byte("short"))
	assert.ErrorIs(t, err, crypto.ErrInvalidKey)
}

func TestProvider_Deterministic(t *testing.T) {
	provider := crypto.NewProvider(nil)
	key, _ := provider.DeriveKey([]byte("secret"))
	plaintext := bytes.Repeat([]byte("deterministic "), 100)

	a, err := provider.Encrypt(plaintext, key)
	require.NoError(t, err)
	b, err := provider.Encrypt(plaintext, key)
	require.NoError(t, err)
	assert.Equal(t, a, b)

	// Shared plaintext prefix leaks as shared ciphertext prefix under the fixed IV.
	c, err := provider.Encrypt(append(bytes.Repeat([]byte("deterministic "), 2), 'X'), key)
	require.NoError(t, err)
	assert.Equal(t, a[:crypto.BlockSize], c[:crypto.BlockSize])
}

func TestProvider_SecretChangesCiphertext(t *testing.T) {
	provider := crypto.NewProvider(nil)
	k1, _ := provider.DeriveKey([]byte("secret-one"))
	k2, _ := provider.DeriveKey([]byte("secret-two"))
	assert.NotEqual(t, k1, k2)

	plaintext := []byte("the same plaintext for both keys")
	c1, err := provider.Encrypt(plaintext, k1)
	require.NoError(t, err)
	c2, err := provider.Encrypt(plaintext, k2)
	require.NoError(t, err)
	assert.NotEqual(t, c1, c2)
}

func TestProvider_Digest(t *testing.T) {
	provider := crypto.NewProvider(nil)

	sum := provider.Digest([]byte("abc"))
	assert.Len(t, sum, crypto.DigestSize)
	assert.Equal(t, "a9993e364706816aba3e25717850c26c9cd0d89d", hex.EncodeToString(sum))

	empty := provider.Digest(nil)
	assert.Equal(t, "da39a3ee5e6b4b0d3255bfef95601890afd80709", hex.EncodeToString(empty))

	assert.True(t, provider.DigestEqual(sum, provider.Digest([]byte("abc"))))
	assert.False(t, provider.DigestEqual(sum, empty))
	assert.False(t, provider.DigestEqual(sum, sum[:10]))
}

func TestFixedIV(t *testing.T) {
	iv := crypto.FixedIV()
	assert.Equal(t, "f46d918023cfd33f70d193fee4c3556b", hex.EncodeToString(iv))

	// Callers get a copy.
	iv[0] = 0
	assert.NotEqual(t, byte(0), crypto.FixedIV()[0])
}

func TestNewKeyDeriver(t *testing.T) {
	d, err := crypto.NewKeyDeriver("")
	require.NoError(t, err)
	assert.IsType(t, crypto.SHA256Deriver{}, d)

	d, err = crypto.NewKeyDeriver("scrypt")
	require.NoError(t, err)
	assert.IsType(t, &crypto.ScryptDeriver{}, d)

	_, err = crypto.NewKeyDeriver("md5")
	assert.Error(t, err)
}

func TestScryptDeriver(t *testing.T) {
	// Cheap parameters keep the test fast.
	d := &crypto.ScryptDeriver{N: 1024, R: 8, P: 1, Salt: crypto.FixedIV()}
	provider := crypto.NewProvider(d)

	k1, err := provider.DeriveKey([]byte("secret"))
	require.NoError(t, err)
	assert.Len(t, k1, crypto.KeySize)

	k2, err := provider.DeriveKey([]byte("secret"))
	require.NoError(t, err)
	assert.Equal(t, k1, k2)

	sha, _ := crypto.SHA256Deriver{}.DeriveKey([]byte("secret"))
	assert.NotEqual(t, sha, k1)

	_, err = (&crypto.ScryptDeriver{N: 3, R: 8, P: 1}).DeriveKey([]byte("x"))
	assert.Error(t, err, "N must be a power of two")
}

func TestXOR(t *testing.T) {
	tests := []struct {
		name string
		in   []byte
		key  byte
	}{
		{"empty", nil, 0x5a},
		{"single", []byte{0x00}, 0xff},
		{"stride boundary", bytes.Repeat([]byte{0xab}, 33), 0x17},
		{"zero key", []byte("unchanged"), 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			buf := append([]byte(nil), tt.in...)
			crypto.XOR(buf, tt.key)
			for i := range buf {
				assert.Equal(t, tt.in[i]^tt.key, buf[i], "byte %d", i)
			}
			crypto.XOR(buf, tt.key)
			assert.Equal(t, len(tt.in), len(buf))
			assert.True(t, bytes.Equal(tt.in, buf))
		})
	}
}
