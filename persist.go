package tagsync

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"github.com/guildsy/tagsync/types"
)

// Persisted state: the profile store and gossip ledger, shaped exactly
// as they live in memory. The core never calls this; the binary loads at
// startup and saves at shutdown.

type savedState struct {
	Mine   *Profile                     `json:"mine"`
	Cached map[types.BattleTag]*Profile `json:"cached"`
	Ledger map[string]LedgerEntry       `json:"ledger"`
}

// SaveStore writes the store to path atomically (temp file + rename).
func SaveStore(s *Store, path string) error {
	state := savedState{Mine: s.Mine, Cached: s.Cached, Ledger: s.Ledger}
	data, err := json.MarshalIndent(state, "", "  ")
	if err != nil {
		return fmt.Errorf("persist: marshal state: %w", err)
	}

	tmp, err := os.CreateTemp(filepath.Dir(path), ".tagsync-*")
	if err != nil {
		return fmt.Errorf("persist: create temp file: %w", err)
	}
	defer os.Remove(tmp.Name())

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return fmt.Errorf("persist: write state: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("persist: close temp file: %w", err)
	}
	if err := os.Rename(tmp.Name(), path); err != nil {
		return fmt.Errorf("persist: replace state file: %w", err)
	}
	return nil
}

// LoadStore restores a previously saved store into s. A missing file is
// not an error; the node just starts cold. The local profile is only
// adopted when the saved identity matches, so a BattleTag change never
// resurrects someone else's record as our own.
func LoadStore(s *Store, path string) error {
	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("persist: read state: %w", err)
	}

	var state savedState
	if err := json.Unmarshal(data, &state); err != nil {
		return fmt.Errorf("persist: unmarshal state: %w", err)
	}

	if state.Mine != nil && state.Mine.BattleTag == s.Mine.BattleTag {
		s.Mine = state.Mine
	}
	for tag, p := range state.Cached {
		if tag == s.Mine.BattleTag || p == nil {
			continue
		}
		s.Cached[tag] = p
	}
	for key, e := range state.Ledger {
		s.Ledger[key] = e
	}
	s.changed(s.Mine.BattleTag)
	return nil
}
