package docsync

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDiffRevisions(t *testing.T) {
	a := assert.New(t)

	target := map[RevisionMarker]bool{
		{DocID: "d1", RevID: "1-a"}: true,
		{DocID: "d1", RevID: "2-b"}: true,
	}
	has := func(id, rev string) bool { return target[RevisionMarker{DocID: id, RevID: rev}] }

	claims := []RevisionInfo{
		{DocID: "d1", Revs: []string{"1-a", "2-b", "3-c"}},
		{DocID: "d2", Revs: []string{"1-a"}},
		{DocID: "d1", Revs: []string{"3-c", "4-d"}},
	}

	missing := DiffRevisions(claims, has)
	a.Equal([]RevisionInfo{
		{DocID: "d1", Revs: []string{"3-c", "4-d"}},
		{DocID: "d2", Revs: []string{"1-a"}},
	}, missing)

	a.Empty(DiffRevisions(claims[:1], func(string, string) bool { return true }))
	a.Empty(DiffRevisions(nil, has))
}

func TestRevisionMarkers(t *testing.T) {
	info := RevisionInfo{DocID: "d1", Revs: []string{"1-a", "2-b"}}
	assert.Equal(t, []RevisionMarker{
		{DocID: "d1", RevID: "1-a"},
		{DocID: "d1", RevID: "2-b"},
	}, info.Markers())
}

func TestNewRevisionID(t *testing.T) {
	a := assert.New(t)

	body := map[string]any{"_id": "d1", "n": 1.0}
	rev, err := NewRevisionID(1, body)
	require.NoError(t, err)

	gen, hash, err := ParseRevision(rev)
	require.NoError(t, err)
	a.Equal(1, gen)
	a.Len(hash, 32)

	withRev := map[string]any{"_id": "d1", "n": 1.0, "_rev": "1-zzz"}
	same, err := NewRevisionID(1, withRev)
	require.NoError(t, err)
	a.Equal(rev, same, "_rev does not take part in the digest")

	other, err := NewRevisionID(1, map[string]any{"_id": "d1", "n": 2.0})
	require.NoError(t, err)
	a.NotEqual(rev, other)
}

func TestParseRevision(t *testing.T) {
	for _, bad := range []string{"", "abc", "0-abc", "x-abc", "1-"} {
		_, _, err := ParseRevision(bad)
		assert.Error(t, err, bad)
	}
	gen, hash, err := ParseRevision("12-abc-def")
	require.NoError(t, err)
	assert.Equal(t, 12, gen)
	assert.Equal(t, "abc-def", hash)
}

func TestWinningRevision(t *testing.T) {
	a := assert.New(t)
	a.Equal("", WinningRevision(nil))
	a.Equal("10-a", WinningRevision([]string{"2-z", "10-a", "9-z"}))
	a.Equal("2-b", WinningRevision([]string{"2-a", "2-b", "1-c"}))
	a.Equal("1-a", WinningRevision([]string{"garbage", "1-a"}))
}
