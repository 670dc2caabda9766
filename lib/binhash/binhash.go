// Copyright 2026 The Waybridge Authors
// SPDX-License-Identifier: Apache-2.0

package binhash

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"os"
)

// Digest is a SHA256 content digest of a binary.
type Digest [sha256.Size]byte

// String returns the hex encoding, the canonical form used in
// configuration files and log output.
func (d Digest) String() string {
	return hex.EncodeToString(d[:])
}

// IsZero reports whether the digest is unset.
func (d Digest) IsZero() bool {
	return d == Digest{}
}

// Parse parses a hex-encoded SHA256 digest. The input must be exactly
// 64 hex characters.
func Parse(hexString string) (Digest, error) {
	var digest Digest
	decoded, err := hex.DecodeString(hexString)
	if err != nil {
		return digest, fmt.Errorf("parsing binary digest: %w", err)
	}
	if len(decoded) != sha256.Size {
		return digest, fmt.Errorf("binary digest is %d bytes, want %d", len(decoded), sha256.Size)
	}
	copy(digest[:], decoded)
	return digest, nil
}

// HashFile computes the digest of the file at path, streaming it
// through the hash in chunks so memory stays constant regardless of
// binary size.
func HashFile(path string) (Digest, error) {
	file, err := os.Open(path)
	if err != nil {
		return Digest{}, fmt.Errorf("opening %s for hashing: %w", path, err)
	}
	defer file.Close()

	hasher := sha256.New()
	if _, err := io.Copy(hasher, file); err != nil {
		return Digest{}, fmt.Errorf("hashing %s: %w", path, err)
	}

	var digest Digest
	copy(digest[:], hasher.Sum(nil))
	return digest, nil
}

// Verify hashes the file at path and compares it against expected.
// Returns the actual digest either way so callers can log what they
// executed. A zero expected digest disables pinning and always
// verifies.
func Verify(path string, expected Digest) (Digest, error) {
	actual, err := HashFile(path)
	if err != nil {
		return Digest{}, err
	}
	if !expected.IsZero() && actual != expected {
		return actual, fmt.Errorf("binary %s digest %s does not match pinned %s", path, actual, expected)
	}
	return actual, nil
}
