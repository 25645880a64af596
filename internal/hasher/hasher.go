// Package hasher computes stable content digests used to suppress redundant
// re-indexing of unchanged files.
package hasher

import (
	"crypto/sha256"
	"fmt"
	"io"
	"os"

	"github.com/dshills/codelocal/pkg/types"
)

// Sum returns the SHA-256 digest of content
func Sum(content []byte) types.Digest {
	return types.Digest(sha256.Sum256(content))
}

// SumReader streams r through SHA-256
func SumReader(r io.Reader) (types.Digest, error) {
	h := sha256.New()
	if _, err := io.Copy(h, r); err != nil {
		return types.Digest{}, err
	}

	var d types.Digest
	copy(d[:], h.Sum(nil))
	return d, nil
}

// ReadFile reads a file and returns its content together with its digest.
// The content is returned so callers chunk exactly the bytes that were hashed.
func ReadFile(path string) ([]byte, types.Digest, error) {
	content, err := os.ReadFile(path)
	if err != nil {
		return nil, types.Digest{}, fmt.Errorf("read %s: %w", path, err)
	}
	return content, Sum(content), nil
}

// File computes the digest of a file on disk without retaining its content
func File(path string) (types.Digest, error) {
	f, err := os.Open(path)
	if err != nil {
		return types.Digest{}, err
	}
	defer func() { _ = f.Close() }()

	return SumReader(f)
}
