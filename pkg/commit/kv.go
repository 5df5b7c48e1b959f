// Copyright 2026 Formal Kernel Authors
//
// KV adapter for CometBFT database integration. Wraps cometbft-db's dbm.DB
// so the commit layer can use it as a fast-path index alongside the
// file-based canonical state (state/state.json remains the source of
// truth; this is not a replacement for it).

package commit

import (
	dbm "github.com/cometbft/cometbft-db"
)

// KV is the minimal key-value contract the commit layer's fast-path index
// needs. A nil KV is a valid Layer configuration: the index becomes a
// no-op and every read falls through to the canonical state file.
type KV interface {
	Get(key []byte) ([]byte, error)
	Set(key, value []byte) error
}

// KVAdapter wraps a cometbft-db dbm.DB and exposes it as a KV.
type KVAdapter struct {
	db dbm.DB
}

// NewKVAdapter creates a new KVAdapter for the given underlying DB.
func NewKVAdapter(db dbm.DB) *KVAdapter {
	return &KVAdapter{db: db}
}

// Get implements KV.Get.
func (a *KVAdapter) Get(key []byte) ([]byte, error) {
	if a.db == nil {
		return nil, nil
	}
	v, err := a.db.Get(key)
	if err != nil {
		return nil, err
	}
	// v is nil if the key is not found. The commit layer itself only
	// writes to the index (after COMMIT) and never reads it back.
	return v, nil
}

// Set implements KV.Set using SetSync for durable writes.
func (a *KVAdapter) Set(key, value []byte) error {
	if a.db == nil {
		return nil
	}
	return a.db.SetSync(key, value)
}
