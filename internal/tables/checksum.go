package tables

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"os"
)

// ComputeChecksum computes a SHA256 checksum for the given data.
func ComputeChecksum(data []byte) string {
	hash := sha256.Sum256(data)
	return "sha256:" + hex.EncodeToString(hash[:])
}

// VerifyChecksum verifies that data matches the expected checksum.
func VerifyChecksum(data []byte, expected string) bool {
	return ComputeChecksum(data) == expected
}

// VerifyFile checks a written output against the checksum in its Summary.
func VerifyFile(path, expected string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return err
	}
	if !VerifyChecksum(data, expected) {
		return fmt.Errorf("checksum mismatch for %s", path)
	}
	return nil
}
