package ir

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"time"
)

// Domain prefixes for content hashes. The version suffix allows a future
// algorithm change without colliding with stored hashes.
const (
	DomainWorkflow = "weave/workflow/v1"
	DomainTrace    = "weave/trace/v1"
)

// hashWithDomain computes SHA256(domain + 0x00 + data).
// The null separator prevents domain/data boundary ambiguity.
func hashWithDomain(domain string, data []byte) string {
	h := sha256.New()
	h.Write([]byte(domain))
	h.Write([]byte{0x00})
	h.Write(data)
	return hex.EncodeToString(h.Sum(nil))
}

// WorkflowHash computes the content hash of a definition source.
// Deployment metadata (ID, CreateTime, CreatorID) is excluded so that
// redeploying identical content yields the same hash.
func WorkflowHash(src *WorkflowSource) (string, error) {
	content := *src
	content.ID = ""
	content.CreateTime = time.Time{}
	content.CreatorID = ""

	canonical, err := MarshalCanonical(&content)
	if err != nil {
		return "", fmt.Errorf("WorkflowHash: %w", err)
	}
	return hashWithDomain(DomainWorkflow, canonical), nil
}

// TraceHash computes the content hash of an arbitrary JSON-like value.
// The harness uses it to fingerprint execution traces.
func TraceHash(v any) (string, error) {
	canonical, err := MarshalCanonical(v)
	if err != nil {
		return "", fmt.Errorf("TraceHash: %w", err)
	}
	return hashWithDomain(DomainTrace, canonical), nil
}

// MustWorkflowHash is like WorkflowHash but panics on error.
// Use only in tests or when inputs are known to be valid.
func MustWorkflowHash(src *WorkflowSource) string {
	h, err := WorkflowHash(src)
	if err != nil {
		panic(err)
	}
	return h
}
