// Copyright 2026 Formal Kernel Authors

package commit

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
)

// CanonicalStatePath returns the path to the canonical state.json file
// rooted at stateDir (spec §6.3).
func CanonicalStatePath(stateDir string) string {
	return filepath.Join(stateDir, "state.json")
}

// LoadStateFile reads and parses the canonical state file. A missing file
// is reported via the returned bool, not folded into err, so callers can
// each apply their own absence policy: the commit layer's step 2 treats
// absence as an empty starting state (first write ever), while recovery's
// boot-time check treats it as a fatal StateCorruptionPanic.
func LoadStateFile(path string) (state map[string][]byte, present bool, err error) {
	b, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return map[string][]byte{}, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	if err := json.Unmarshal(b, &state); err != nil {
		return nil, true, fmt.Errorf("commit: unmarshal canonical state: %w", err)
	}
	if state == nil {
		state = map[string][]byte{}
	}
	return state, true, nil
}

// WriteStateFileAtomic writes state to a tag-suffixed temp file, fsyncs
// it, then atomically renames it onto canonicalPath. This is the
// write+fsync+rename sequence shared by commit protocol steps 4-5 and by
// recovery's rollback of an uncommitted transaction's effect.
//
// tmpPath is always returned (even on error) so the caller can attempt
// best-effort cleanup of a partially-written temp file.
func WriteStateFileAtomic(stateDir, canonicalPath, tag string, state map[string][]byte) (tmpPath string, err error) {
	b, err := json.Marshal(state)
	if err != nil {
		return "", fmt.Errorf("commit: marshal state: %w", err)
	}
	tmpPath = TempStatePath(stateDir, tag)

	f, err := os.OpenFile(tmpPath, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, 0o644)
	if err != nil {
		return tmpPath, err
	}
	if _, err := f.Write(b); err != nil {
		f.Close()
		return tmpPath, err
	}
	if err := f.Sync(); err != nil {
		f.Close()
		return tmpPath, err
	}
	if err := f.Close(); err != nil {
		return tmpPath, err
	}
	if err := os.Rename(tmpPath, canonicalPath); err != nil {
		return tmpPath, err
	}
	return tmpPath, nil
}

// TempStatePath returns the in-flight temp file path for a given tag
// (normally a tx_id), per the state.<tx_id>.tmp layout of spec §6.3.
func TempStatePath(stateDir, tag string) string {
	return filepath.Join(stateDir, fmt.Sprintf("state.%s.tmp", tag))
}
