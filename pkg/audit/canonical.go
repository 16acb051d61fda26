// Package audit keeps a tamper-evident record of every dispatched directory
// operation: canonical JSON, a per-region SHA-256 hash chain, and a Postgres
// store.
package audit

import (
	"bytes"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
)

// CanonicalJSON renders v with object keys sorted at every depth, no
// insignificant whitespace, and numbers kept as written.
func CanonicalJSON(v any) ([]byte, error) {
	raw, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("canonical json marshal: %w", err)
	}

	// Decoding into any turns every object into map[string]any, which
	// encoding/json writes back out in sorted key order.
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()
	var generic any
	if err := dec.Decode(&generic); err != nil {
		return nil, fmt.Errorf("canonical json decode: %w", err)
	}

	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(generic); err != nil {
		return nil, fmt.Errorf("canonical json encode: %w", err)
	}
	return bytes.TrimSuffix(buf.Bytes(), []byte{'\n'}), nil
}

// HashBytes returns the hex-encoded SHA-256 of data.
func HashBytes(data []byte) string {
	h := sha256.Sum256(data)
	return hex.EncodeToString(h[:])
}

// Fingerprint canonicalizes v and hashes the result.
func Fingerprint(v any) (canon []byte, hash string, err error) {
	canon, err = CanonicalJSON(v)
	if err != nil {
		return nil, "", err
	}
	return canon, HashBytes(canon), nil
}
