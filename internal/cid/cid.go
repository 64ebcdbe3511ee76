// Package cid derives content identifiers for audit payloads. Identical
// payloads always yield the same identifier regardless of key order.
package cid

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"

	"github.com/gowebpki/jcs"
)

const prefix = "baf"

// Of returns "baf" followed by the first 56 hex characters of the SHA-256 of
// v's RFC 8785 canonical JSON encoding.
func Of(v any) (string, error) {
	raw, err := json.Marshal(v)
	if err != nil {
		return "", fmt.Errorf("cid.Of: marshal: %w", err)
	}
	canon, err := jcs.Transform(raw)
	if err != nil {
		return "", fmt.Errorf("cid.Of: canonicalize: %w", err)
	}
	sum := sha256.Sum256(canon)
	return prefix + hex.EncodeToString(sum[:])[:56], nil
}

// MustOf is Of for payloads that are known to marshal.
func MustOf(v any) string {
	id, err := Of(v)
	if err != nil {
		panic(err)
	}
	return id
}
