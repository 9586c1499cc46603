package crypto

// XOR flips every byte of buf with key, in place. Applying it twice with the
// same key restores the input.
func XOR(buf []byte, key byte) {
	if key == 0 {
		return
	}
	for i := range buf {
		buf[i] ^= key
	}
}
