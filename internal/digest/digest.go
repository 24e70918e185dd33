// Package digest computes and verifies the MD5 content digest used by
// upload clients. MD5 is a wire-compatibility requirement, not a
// security property.
package digest

import (
	"crypto/md5" //nolint:gosec // protocol-mandated content digest
	"encoding/hex"
	"fmt"
	"io"
	"os"
	"strings"
)

const readBufferSize = 64 * 1024

// File streams the file and returns its MD5 digest as lower-case hex.
func File(path string) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", fmt.Errorf("open file for digest: %w", err)
	}
	defer f.Close()

	h := md5.New() //nolint:gosec
	buf := make([]byte, readBufferSize)
	if _, err := io.CopyBuffer(h, f, buf); err != nil {
		return "", fmt.Errorf("digest file: %w", err)
	}
	return hex.EncodeToString(h.Sum(nil)), nil
}

// Bytes returns the MD5 digest of b as lower-case hex.
func Bytes(b []byte) string {
	sum := md5.Sum(b) //nolint:gosec
	return hex.EncodeToString(sum[:])
}

// Verify computes the file digest and compares it to expectedHex
// case-insensitively.
func Verify(path, expectedHex string) (bool, error) {
	actual, err := File(path)
	if err != nil {
		return false, err
	}
	return strings.EqualFold(actual, expectedHex), nil
}

// ValidHex reports whether s looks like an MD5 hex digest.
func ValidHex(s string) bool {
	if len(s) != 32 {
		return false
	}
	_, err := hex.DecodeString(s)
	return err == nil
}
