// Package randomid generates random identifiers.
package randomid

import (
	"crypto/rand"
	"fmt"
)

const lowercaseAlphanumericChars = "abcdefghijklmnopqrstuvwxyz1234567890"

// New generates a random string of the given length using only lowercase
// alphanumeric characters.
func New(length int) string {
	charsLen := len(lowercaseAlphanumericChars)
	b := make([]byte, length)
	if _, err := rand.Read(b); err != nil {
		// crypto/rand only fails if the OS entropy source is broken.
		panic(fmt.Errorf("randomid: rand error: %v", err))
	}

	for i := 0; i < length; i++ {
		b[i] = lowercaseAlphanumericChars[int(b[i])%charsLen]
	}
	return string(b)
}
