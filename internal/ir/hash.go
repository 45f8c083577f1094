package ir

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
)

// Domain prefixes for content-addressed identity.
// The version suffix allows future algorithm migration.
const (
	DomainMotif    = "eresion/motif/v1"
	DomainSnapshot = "eresion/snapshot/v1"
)

// hashWithDomain computes SHA256(domain + 0x00 + data) as hex.
// The null separator prevents domain/data boundary ambiguity.
func hashWithDomain(domain string, data []byte) string {
	h := sha256.New()
	h.Write([]byte(domain))
	h.Write([]byte{0x00})
	h.Write(data)
	return hex.EncodeToString(h.Sum(nil))
}

// MotifSignature hashes a canonical motif shape into its signature.
// Callers pass the minimum encoding over node orderings so isomorphic
// subgraphs produce the same signature.
func MotifSignature(shape Object) (string, error) {
	data, err := MarshalCanonical(shape)
	if err != nil {
		return "", fmt.Errorf("canonicalize motif shape: %w", err)
	}
	return hashWithDomain(DomainMotif, data), nil
}

// SnapshotChecksum computes the checksum stored in a snapshot header.
func SnapshotChecksum(body []byte) string {
	return hashWithDomain(DomainSnapshot, body)
}
