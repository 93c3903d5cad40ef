package mizar

import (
	"fmt"
	"io"
	"os"

	"lukechampine.com/blake3"
)

// hashFile computes the BLAKE3 checksum of a file (32-byte output, no key).
func hashFile(path string) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", err
	}
	defer f.Close()

	h := blake3.New(32, nil)
	if _, err := io.Copy(h, f); err != nil {
		return "", fmt.Errorf("hash %s: %w", path, err)
	}
	return fmt.Sprintf("%x", h.Sum(nil)), nil
}
