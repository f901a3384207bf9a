// Package did derives the content-addressed identifiers every construct and
// package carries. DIDs are the only references used in the dependency
// graph; display names never participate in identity.
package did

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"

	"github.com/gowebpki/jcs"
)

// ConstructDid identifies one block, stable across runs: a sha256 digest
// over the RFC 8785 canonical form of the block's package path and header.
type ConstructDid string

// PackageDid identifies a package the same way.
type PackageDid string

func (d ConstructDid) String() string { return string(d) }
func (d PackageDid) String() string   { return string(d) }

func (d ConstructDid) IsZero() bool { return d == "" }

// NewConstructDid digests the package path plus block header. Canonicalizing
// through JCS keeps the digest independent of field ordering in callers.
func NewConstructDid(pkg PackageDid, blockType string, name string) ConstructDid {
	return ConstructDid(digest(map[string]string{
		"package": string(pkg),
		"type":    blockType,
		"name":    name,
	}))
}

// NewPackageDid digests the runbook id and the package path.
func NewPackageDid(runbookID string, path string) PackageDid {
	return PackageDid(digest(map[string]string{
		"runbook": runbookID,
		"path":    path,
	}))
}

// Digest hashes arbitrary canonicalizable content into the same identifier
// space; the snapshot engine uses it for run fingerprints.
func Digest(content any) (string, error) {
	raw, err := json.Marshal(content)
	if err != nil {
		return "", fmt.Errorf("failed to serialize digest content: %w", err)
	}
	canonical, err := jcs.Transform(raw)
	if err != nil {
		return "", fmt.Errorf("failed to canonicalize digest content: %w", err)
	}
	sum := sha256.Sum256(canonical)
	return hex.EncodeToString(sum[:]), nil
}

func digest(content map[string]string) string {
	// map[string]string always serializes and canonicalizes cleanly
	out, err := Digest(content)
	if err != nil {
		panic(err)
	}
	return out
}
