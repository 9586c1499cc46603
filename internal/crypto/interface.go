package crypto

// Provider defines the cryptographic stages of the pipeline.
// Implementations hold no per-job state and are safe for concurrent use.
type Provider interface {
	// DeriveKey turns a caller secret into a 32-byte cipher key.
	DeriveKey(secret []byte) ([]byte, error)

	// Encrypt encrypts plaintext with AES-256-CBC and PKCS#7 padding.
	Encrypt(plaintext, key []byte) ([]byte, error)

	// Decrypt reverses Encrypt.
	Decrypt(ciphertext, key []byte) ([]byte, error)

	// Digest returns the DigestSize fingerprint of data.
	Digest(data []byte) []byte

	// DigestEqual compares two fingerprints in constant time.
	DigestEqual(a, b []byte) bool
}

// KeyDeriver normalizes arbitrary-length secrets to KeySize bytes.
type KeyDeriver interface {
	DeriveKey(secret []byte) ([]byte, error)
}
