package session

import (
	"crypto/rand"
	"fmt"
	"io"
	"strings"
)

// codeAlphabet deliberately excludes 0/O, 1/I/L so codes read aloud or
// copied from a projector screen cannot be mistyped.
const codeAlphabet = "23456789ABCDEFGHJKMNPQRSTUVWXYZ"

// DefaultCodeLength is the user-facing room code length.
const DefaultCodeLength = 6

// CodeGenerator produces short, human-shareable room codes. It is not
// collision-proof; the store retries against live rooms.
type CodeGenerator struct {
	length int
	rand   io.Reader
}

// NewCodeGenerator creates a generator for codes of the given length.
// Lengths outside 4..12 fall back to DefaultCodeLength.
func NewCodeGenerator(length int) *CodeGenerator {
	if length < 4 || length > 12 {
		length = DefaultCodeLength
	}
	return &CodeGenerator{length: length, rand: rand.Reader}
}

// Generate returns a new random code. It has no side effects.
func (g *CodeGenerator) Generate() (string, error) {
	buf := make([]byte, g.length)
	if _, err := io.ReadFull(g.rand, buf); err != nil {
		return "", fmt.Errorf("reading random bytes: %w", err)
	}
	for i, b := range buf {
		buf[i] = codeAlphabet[int(b)%len(codeAlphabet)]
	}
	return string(buf), nil
}

// Length returns the configured code length.
func (g *CodeGenerator) Length() int {
	return g.length
}

// NormalizeCode uppercases and trims a user-entered room code so codes
// round-trip through case-insensitive entry.
func NormalizeCode(code string) string {
	return strings.ToUpper(strings.TrimSpace(code))
}

// ValidCode reports whether a normalized code is acceptable as a room
// code: the expected length, uppercase letters and digits only. Codes
// entered by users may contain characters the generator avoids.
func ValidCode(code string, length int) bool {
	if len(code) != length {
		return false
	}
	for _, r := range code {
		if (r < 'A' || r > 'Z') && (r < '0' || r > '9') {
			return false
		}
	}
	return true
}
