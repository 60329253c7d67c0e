// Package checksum verifies staged files against expected sha256 digests and
// parses the checksum manifests published next to release artifacts.
package checksum

import (
	_ "crypto/sha256" // registers the hash used by digest.SHA256
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/italolelis/fetcher/internal/transfer"
	"github.com/opencontainers/go-digest"
)

// blockSize is the read size used when hashing files.
const blockSize = 1 << 20

// FileSHA256 streams path through sha256 and returns the lowercase hex digest.
func FileSHA256(path string) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", fmt.Errorf("opening file for hashing: %w", err)
	}
	defer f.Close()

	digester := digest.SHA256.Digester()
	if _, err := io.CopyBuffer(digester.Hash(), f, make([]byte, blockSize)); err != nil {
		return "", fmt.Errorf("hashing file: %w", err)
	}

	return digester.Digest().Encoded(), nil
}

// Normalize lowercases a hex sha256 digest and checks its shape.
func Normalize(hex string) (string, error) {
	d := digest.NewDigestFromEncoded(digest.SHA256, strings.ToLower(strings.TrimSpace(hex)))
	if err := d.Validate(); err != nil {
		return "", fmt.Errorf("invalid sha256 digest %q: %w", hex, err)
	}

	return d.Encoded(), nil
}

// Verify compares the digest of path with expected. An empty expected digest
// skips verification. On mismatch the file is removed and an
// *transfer.IntegrityError is returned.
func Verify(path, expected string) error {
	if expected == "" {
		return nil
	}

	want, err := Normalize(expected)
	if err != nil {
		return err
	}

	actual, err := FileSHA256(path)
	if err != nil {
		return err
	}

	if actual == want {
		return nil
	}

	if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("removing corrupt staging file: %w", err)
	}

	return &transfer.IntegrityError{Path: path, Expected: want, Actual: actual}
}
