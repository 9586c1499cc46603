package testutil

import (
	"bytes"
	"math/rand"
)

// Payload describes a test input.
type Payload struct {
	Name string
	Data []byte
}

// Payloads returns inputs covering empty, tiny, chunk-aligned,
// incompressible and highly compressible content.
func Payloads(chunkSize int) []Payload {
	return []Payload{
		{Name: "empty", Data: []byte{}},
		{Name: "one byte", Data: []byte{0x42}},
		{Name: "text", Data: []byte("The quick brown fox jumps over the lazy dog.\n")},
		{Name: "one chunk", Data: Pseudorandom(chunkSize, 1)},
		{Name: "chunk plus one", Data: Pseudorandom(chunkSize+1, 2)},
		{Name: "repetitive", Data: bytes.Repeat([]byte("obseal "), 3*chunkSize/7)},
	}
}

// Pseudorandom returns size deterministic bytes for seed.
func Pseudorandom(size int, seed int64) []byte {
	data := make([]byte, size)
	rand.New(rand.NewSource(seed)).Read(data)
	return data
}

// PNG is the smallest header the sniffer recognises as image/png.
var PNG = []byte("\x89PNG\r\n\x1a\n\x00\x00\x00\rIHDR\x00\x00\x00\x01\x00\x00\x00\x01\x08\x06\x00\x00\x00")
