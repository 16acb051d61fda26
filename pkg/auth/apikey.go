package auth

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"strings"
	"sync"
)

// KeyStore maps hashed API keys to caller IDs. Keys are held only as SHA-256
// digests.
type KeyStore struct {
	mu   sync.RWMutex
	keys map[string]string // SHA-256(apiKey) -> callerID
}

// NewKeyStore parses a comma-separated "caller:key" list, for example
// "ops:sk-abc,ci:sk-def". Empty input yields an empty store.
func NewKeyStore(raw string) (*KeyStore, error) {
	ks := &KeyStore{keys: make(map[string]string)}
	for i, pair := range strings.Split(raw, ",") {
		pair = strings.TrimSpace(pair)
		if pair == "" {
			continue
		}
		caller, key, ok := strings.Cut(pair, ":")
		caller, key = strings.TrimSpace(caller), strings.TrimSpace(key)
		if !ok || caller == "" || key == "" {
			return nil, fmt.Errorf("auth: API key entry %d: want caller:key", i+1)
		}
		h := hashKey(key)
		if prev, dup := ks.keys[h]; dup && prev != caller {
			return nil, fmt.Errorf("auth: API key entry %d: key already assigned to %q", i+1, prev)
		}
		ks.keys[h] = caller
	}
	return ks, nil
}

// Len is the number of distinct keys.
func (ks *KeyStore) Len() int {
	ks.mu.RLock()
	defer ks.mu.RUnlock()
	return len(ks.keys)
}

// Lookup returns the caller that owns apiKey.
func (ks *KeyStore) Lookup(apiKey string) (callerID string, ok bool) {
	if apiKey == "" {
		return "", false
	}
	ks.mu.RLock()
	defer ks.mu.RUnlock()
	callerID, ok = ks.keys[hashKey(apiKey)]
	return
}

func hashKey(key string) string {
	h := sha256.Sum256([]byte(key))
	return hex.EncodeToString(h[:])
}
