// Package sniff guesses a file extension from content magic numbers.
package sniff

import (
	"github.com/h2non/filetype"
)

// Sniffer picks an output extension for recovered content.
type Sniffer interface {
	Sniff(data []byte) (ext string, ok bool)
}

// MagicSniffer matches known binary signatures.
type MagicSniffer struct{}

// New returns the default sniffer.
func New() Sniffer {
	return MagicSniffer{}
}

// Sniff returns the extension without a leading dot. Unknown content is not
// an error; ok is false and the caller keeps the bare stem. The whole buffer
// is matched since Office container signatures can sit well past the first
// few KiB.
func (MagicSniffer) Sniff(data []byte) (string, bool) {
	if len(data) == 0 {
		return "", false
	}
	kind, err := filetype.Match(data)
	if err != nil || kind == filetype.Unknown || kind.Extension == "" {
		return "", false
	}
	return kind.Extension, true
}

// Func adapts a plain function to Sniffer.
type Func func(data []byte) (string, bool)

// Sniff implements Sniffer.
func (f Func) Sniff(data []byte) (string, bool) {
	return f(data)
}
