package crypto_test

import (
	"crypto/rand"
	"testing"

	"github.com/TheMichaelB/obseal/internal/crypto"
)

func benchPayload(b *testing.B, size int) []byte {
	b.Helper()
	data := make([]byte, size)
	if _, err := rand.Read(data); err != nil {
		b.Fatal(err)
	}
	return data
}

func BenchmarkDeriveKey(b *testing.B) {
	provider := crypto.NewProvider(nil)
	secret := []byte("benchmark secret")

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		if _, err := provider.DeriveKey(secret); err != nil {
			b.Fatal(err)
		}
	}
}

func BenchmarkEncrypt(b *testing.B) {
	provider := crypto.NewProvider(nil)
	key, _ := provider.DeriveKey([]byte("benchmark secret"))

	sizes := []struct {
		name string
		size int
	}{
		{"1KB", 1024},
		{"256KB", 256 * 1024},
		{"4MB", 4 * 1024 * 1024},
	}

	for _, s := range sizes {
		data := benchPayload(b, s.size)
		b.Run(s.name, func(b *testing.B) {
			b.SetBytes(int64(s.size))
			for i := 0; i < b.N; i++ {
				if _, err := provider.Encrypt(data, key); err != nil {
					b.Fatal(err)
				}
			}
		})
	}
}

func BenchmarkDecrypt(b *testing.B) {
	provider := crypto.NewProvider(nil)
	key, _ := provider.DeriveKey([]byte("benchmark secret"))
	ciphertext, err := provider.Encrypt(benchPayload(b, 256*1024), key)
	if err != nil {
		b.Fatal(err)
	}

	b.SetBytes(int64(len(ciphertext)))
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		if _, err := provider.Decrypt(ciphertext, key); err != nil {
			b.Fatal(err)
		}
	}
}

func BenchmarkDigest(b *testing.B) {
	provider := crypto.NewProvider(nil)
	data := benchPayload(b, 256*1024)

	b.SetBytes(int64(len(data)))
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		provider.Digest(data)
	}
}

func BenchmarkXOR(b *testing.B) {
	data := benchPayload(b, 256*1024)

	b.SetBytes(int64(len(data)))
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		crypto.XOR(data, 0x5a)
	}
}
