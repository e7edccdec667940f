package tagsync

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSaveLoadRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "state.json")

	s := NewStore("Me#0000")
	s.SetAlias("Selene", 50)
	s.AddOwnCharacter("Shadowfax", "Proudmoore", 60)
	s.MergeAlias("Foo#1111", "foo", 100)
	s.MergeCharacters("Foo#1111", []Character{{Name: "Pip", Realm: "R", AddedAt: 120}})
	s.LedgerRecord("T#9999", "Foo#1111", LedgerEntry{AliasUpdatedAt: 100, CharsUpdatedAt: 120, CharCount: 1})

	require.NoError(t, SaveStore(s, path))

	restored := NewStore("Me#0000")
	require.NoError(t, LoadStore(restored, path))

	assert.Equal(t, "Selene", restored.Mine.Alias)
	assert.Equal(t, 1, restored.Mine.CharCount())

	foo := restored.Get("Foo#1111")
	require.NotNil(t, foo)
	assert.Equal(t, "foo", foo.Alias)
	assert.Equal(t, 1, foo.CharCount())

	e, ok := restored.LedgerGet("T#9999", "Foo#1111")
	require.True(t, ok)
	assert.EqualValues(t, 120, e.CharsUpdatedAt)
}

func TestLoadMissingFileStartsCold(t *testing.T) {
	s := NewStore("Me#0000")
	require.NoError(t, LoadStore(s, filepath.Join(t.TempDir(), "nope.json")))
	assert.Empty(t, s.Cached)
}

func TestLoadRejectsForeignLocalProfile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "state.json")

	s := NewStore("Old#0000")
	s.SetAlias("theirs", 10)
	require.NoError(t, SaveStore(s, path))

	// Identity changed between sessions: the saved local profile must
	// not be adopted, but the cache section still loads.
	fresh := NewStore("New#1111")
	require.NoError(t, LoadStore(fresh, path))
	assert.Equal(t, "", fresh.Mine.Alias)
	assert.EqualValues(t, "New#1111", fresh.Mine.BattleTag)
}

func TestSaveIsAtomicReplacement(t *testing.T) {
	path := filepath.Join(t.TempDir(), "state.json")

	s := NewStore("Me#0000")
	require.NoError(t, SaveStore(s, path))
	s.SetAlias("second", 5)
	require.NoError(t, SaveStore(s, path))

	entries, err := os.ReadDir(filepath.Dir(path))
	require.NoError(t, err)
	assert.Len(t, entries, 1, "no temp files left behind")
}
