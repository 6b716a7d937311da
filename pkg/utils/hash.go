package utils

import (
	"crypto/sha256"
	"fmt"
)

// HashString produces a stable cache key for arbitrary text.
func HashString(input string) string {
	hash := sha256.Sum256([]byte(input))
	return fmt.Sprintf("%x", hash)
}
