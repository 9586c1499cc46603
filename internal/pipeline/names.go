package pipeline

import (
	"path/filepath"
	"strings"
)

// SealedExt is appended to sealed artifact names.
const SealedExt = ".enc"

const fallbackStem = "artifact"

// stem returns the base name up to its first dot, ignoring leading dots.
func stem(path string) string {
	base := filepath.Base(filepath.FromSlash(path))
	if base == "." || base == string(filepath.Separator) {
		return fallbackStem
	}
	base = strings.TrimLeft(base, ".")
	if i := strings.IndexByte(base, '.'); i >= 0 {
		base = base[:i]
	}
	if base == "" {
		return fallbackStem
	}
	return base
}

// SealName suggests the artifact name for a source file:
// "report.final.pdf" becomes "report.enc".
func SealName(source string) string {
	return stem(source) + SealedExt
}

// UnsealName suggests the recovered file name for an artifact, adding ext
// when content sniffing found one.
func UnsealName(artifact, ext string) string {
	name := stem(artifact)
	if ext = strings.TrimPrefix(ext, "."); ext != "" {
		name += "." + ext
	}
	return name
}
