package audit

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"time"
)

// ErrChainBroken is wrapped by every VerifyChain failure.
var ErrChainBroken = errors.New("audit chain broken")

// ChainHash computes the next link of a region's chain.
//
//	hash = SHA-256( prevHash || canonicalRequest || canonicalResult )
func ChainHash(prevHash string, canonRequest, canonResult []byte) string {
	h := sha256.New()
	h.Write([]byte(prevHash))
	h.Write(canonRequest)
	h.Write(canonResult)
	return hex.EncodeToString(h.Sum(nil))
}

// ChainEvent is the minimal shape needed for verification and archiving.
type ChainEvent struct {
	Seq          int64           `json:"seq"`
	EventID      string          `json:"event_id"`
	Hash         string          `json:"hash"`
	PrevHash     string          `json:"prev_hash"`
	CanonRequest json.RawMessage `json:"request"`
	CanonResult  json.RawMessage `json:"result"`
	ReceivedAt   time.Time       `json:"received_at"`
}

// VerifyChain walks one region's events oldest first. Both the stored
// prev_hash pointer and the recomputed hash must line up.
func VerifyChain(events []ChainEvent) error {
	return VerifyChainFrom("", events)
}

// VerifyChainFrom verifies a chain segment whose first event follows prev.
func VerifyChainFrom(prev string, events []ChainEvent) error {
	for i, ev := range events {
		if ev.PrevHash != prev {
			return fmt.Errorf("%w at index %d (event %s): prev_hash %s does not follow %s",
				ErrChainBroken, i, ev.EventID, ev.PrevHash, prev)
		}
		expected := ChainHash(prev, ev.CanonRequest, ev.CanonResult)
		if ev.Hash != expected {
			return fmt.Errorf("%w at index %d (event %s): expected %s, got %s",
				ErrChainBroken, i, ev.EventID, expected, ev.Hash)
		}
		prev = ev.Hash
	}
	return nil
}
