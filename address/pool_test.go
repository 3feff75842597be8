package address

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/davecgh/go-spew/spew"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nyxnet/btcp2p/wire"
)

// requireSameItems compares two address item slices, spew-dumping both
// sides on mismatch since []wire.AddressItem diffs poorly under %v.
func requireSameItems(t *testing.T, want, got []wire.AddressItem) {
	t.Helper()
	if !assert.ObjectsAreEqual(want, got) {
		t.Fatalf("address items differ:\nwant:\n%s\ngot:\n%s", spew.Sdump(want), spew.Sdump(got))
	}
}

func addr(t *testing.T, s string) wire.Authority {
	t.Helper()
	a, err := wire.ParseAuthority(s)
	require.NoError(t, err)
	return a
}

func TestSaveDedupsAndFetchSamplesDistinct(t *testing.T) {
	p := New(10)
	a1 := addr(t, "1.1.1.1:8333")
	a2 := addr(t, "2.2.2.2:8333")

	p.Save([]wire.AddressItem{
		wire.AddressItemFromAuthority(a1, 1, 100),
		wire.AddressItemFromAuthority(a2, 1, 100),
		wire.AddressItemFromAuthority(a1, 1, 200), // dedup, refreshes a1
	})
	require.Equal(t, 2, p.Count())

	got := p.Fetch(10)
	assert.Len(t, got, 2)
	seen := map[wire.Authority]bool{}
	for _, it := range got {
		seen[it.Authority()] = true
	}
	assert.True(t, seen[a1])
	assert.True(t, seen[a2])
}

func TestOverflowEvictsOldestFIFO(t *testing.T) {
	p := New(2)
	a1 := addr(t, "1.1.1.1:8333")
	a2 := addr(t, "2.2.2.2:8333")
	a3 := addr(t, "3.3.3.3:8333")

	p.Save([]wire.AddressItem{wire.AddressItemFromAuthority(a1, 1, 1)})
	p.Save([]wire.AddressItem{wire.AddressItemFromAuthority(a2, 1, 1)})
	p.Save([]wire.AddressItem{wire.AddressItemFromAuthority(a3, 1, 1)}) // evicts a1

	assert.False(t, p.Contains(a1))
	assert.True(t, p.Contains(a2))
	assert.True(t, p.Contains(a3))
}

func TestTakeRemovesEntry(t *testing.T) {
	p := New(10)
	a1 := addr(t, "1.1.1.1:8333")
	p.Save([]wire.AddressItem{wire.AddressItemFromAuthority(a1, 1, 1)})

	item, ok := p.Take(nil)
	require.True(t, ok)
	assert.Equal(t, a1, item.Authority())
	assert.Equal(t, 0, p.Count())
}

func TestTakeHonorsSkipPredicate(t *testing.T) {
	p := New(10)
	a1 := addr(t, "1.1.1.1:8333")
	a2 := addr(t, "2.2.2.2:8333")
	p.Save([]wire.AddressItem{
		wire.AddressItemFromAuthority(a1, 1, 1),
		wire.AddressItemFromAuthority(a2, 1, 1),
	})

	item, ok := p.Take(func(a wire.Authority) bool { return a == a1 })
	require.True(t, ok)
	assert.Equal(t, a2, item.Authority())
}

func TestRestorePutsItemBack(t *testing.T) {
	p := New(10)
	a1 := addr(t, "1.1.1.1:8333")
	item := wire.AddressItemFromAuthority(a1, 1, 1)

	p.Restore(item)
	assert.True(t, p.Contains(a1))
}

func TestFilePersisterRoundTrip(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "peers.dat")
	fp := &FilePersister{Path: path}

	loaded, err := fp.Load()
	require.NoError(t, err)
	assert.Empty(t, loaded)

	a1 := addr(t, "1.1.1.1:8333")
	a2 := addr(t, "2.2.2.2:8333")
	items := []wire.AddressItem{
		wire.AddressItemFromAuthority(a1, 1, 100),
		wire.AddressItemFromAuthority(a2, 2, 200),
	}
	require.NoError(t, fp.Save(items))

	loaded, err = fp.Load()
	require.NoError(t, err)
	require.Len(t, loaded, 2)
	requireSameItems(t, items, loaded)

	// Save must replace atomically, not append.
	require.NoError(t, fp.Save(items[:1]))
	loaded, err = fp.Load()
	require.NoError(t, err)
	require.Len(t, loaded, 1)

	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	for _, e := range entries {
		assert.False(t, filepath.Ext(e.Name()) == ".tmp", "temp file left behind: %s", e.Name())
	}
}
