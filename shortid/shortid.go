// Package shortid produces the six character codes used to share available polls.
package shortid

import (
	"crypto/rand"
	"fmt"
	"strings"
)

const (
	// Alphabet omits 0/O and 1/I/L so codes survive being read aloud.
	Alphabet = "23456789ABCDEFGHJKLMNPQRSTUVWXYZ"
	Length   = 6
)

// Generator yields a candidate code. Uniqueness is the caller's job.
type Generator func() (string, error)

// Generate draws Length symbols from Alphabet, one random byte per symbol.
// len(Alphabet) divides 256 so the modulo is unbiased.
func Generate() (string, error) {
	buf := make([]byte, Length)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("read random bytes: %w", err)
	}
	out := make([]byte, Length)
	for i, b := range buf {
		out[i] = Alphabet[int(b)%len(Alphabet)]
	}
	return string(out), nil
}

// Normalize upper-cases a user supplied code.
func Normalize(code string) string {
	return strings.ToUpper(strings.TrimSpace(code))
}

// Looks reports whether s has the shape of a code (length only), which is how
// poll lookups decide between a short code and a primary key.
func Looks(s string) bool {
	return len(s) == Length
}

// Valid reports whether code is a well formed, normalized code.
func Valid(code string) bool {
	if len(code) != Length {
		return false
	}
	for i := 0; i < len(code); i++ {
		if strings.IndexByte(Alphabet, code[i]) < 0 {
			return false
		}
	}
	return true
}
