package audit

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"sort"
)

// canonicalEntry is a stable, field-order-independent representation of
// an Entry used for hashing: map iteration order in Go is randomized,
// so Data is flattened into sorted key=value pairs rather than
// marshaled as a map directly. Timestamp is included so backdating or
// reordering an entry after the fact changes its hash.
type canonicalEntry struct {
	ID                 string
	TimestampUnixMicro int64
	UserID             string
	Category           string
	Action             string
	Severity           string
	Success            bool
	EntityType         string
	EntityID           string
	DataPairs          []string
	PrevHash           string
}

func canonicalize(e Entry) []byte {
	keys := make([]string, 0, len(e.Data))
	for k := range e.Data {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	pairs := make([]string, 0, len(keys))
	for _, k := range keys {
		raw, _ := json.Marshal(e.Data[k])
		pairs = append(pairs, k+"="+string(raw))
	}

	ce := canonicalEntry{
		ID: e.ID, TimestampUnixMicro: e.Timestamp.UTC().UnixMicro(), UserID: e.UserID, Category: e.Category, Action: e.Action,
		Severity: string(e.Severity), Success: e.Success, EntityType: e.EntityType,
		EntityID: e.EntityID, DataPairs: pairs, PrevHash: e.PreviousHash,
	}
	raw, _ := json.Marshal(ce)
	return raw
}

// entryHash computes sha256(canonicalize(entry)), whose canonical form
// already includes the entry's PreviousHash, and returns it hex-encoded.
func entryHash(e Entry) string {
	h := sha256.New()
	h.Write(canonicalize(e))
	sum := h.Sum(nil)
	return hex.EncodeToString(sum)
}
