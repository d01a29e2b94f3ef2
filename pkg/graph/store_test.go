package graph

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func addTag(s *Store, ttype, val string, rev Rev) Tref {
	tref := s.ReserveTref()
	s.InstallDelta(&Delta{
		DeclareTTypes: []string{ttype},
		NewTags:       []NewTag{{Tref: tref, TType: ttype, Val: val}},
	}, rev)
	return tref
}

func TestAddTagIdempotentIdentity(t *testing.T) {
	s := NewStore()
	a := addTag(s, "language", "python", 1)

	tref, ok := s.LookupByIdentity("language", "python", s.CurrentRev())
	require.True(t, ok)
	require.Equal(t, a, tref)
	require.Equal(t, 1, s.CardinalityEstimate("language"))
}

func TestLinkSymmetricAndDoubleAddIsOne(t *testing.T) {
	s := NewStore()
	a := addTag(s, "person", "ada", 1)
	b := addTag(s, "language", "python", 2)

	s.InstallDelta(&Delta{AddedLinks: []LinkPair{{A: a, B: b}}}, 3)
	require.Equal(t, []Tref{b}, s.Neighbors(a, s.CurrentRev()))
	require.Equal(t, []Tref{a}, s.Neighbors(b, s.CurrentRev()))

	s.InstallDelta(&Delta{AddedLinks: []LinkPair{{A: b, B: a}}}, 4)
	require.Equal(t, []Tref{b}, s.Neighbors(a, s.CurrentRev()))
}

func TestRemTagCascadesLinkRemoval(t *testing.T) {
	s := NewStore()
	a := addTag(s, "person", "ada", 1)
	b := addTag(s, "language", "python", 2)
	s.InstallDelta(&Delta{AddedLinks: []LinkPair{{A: a, B: b}}}, 3)

	s.InstallDelta(&Delta{TombstonedTags: []Tref{a}}, 4)

	_, ok := s.Get(a, s.CurrentRev())
	require.False(t, ok)
	require.Empty(t, s.Neighbors(b, s.CurrentRev()))
}

func TestEmptyTTypeBucketsArePruned(t *testing.T) {
	s := NewStore()
	a := addTag(s, "language", "python", 1)
	s.InstallDelta(&Delta{TombstonedTags: []Tref{a}}, 2)
	require.Equal(t, 0, s.CardinalityEstimate("language"))
	_, ok := s.LookupByIdentity("language", "python", s.CurrentRev())
	require.False(t, ok)
}

func TestHistoricalReadMatchesRevAtCommitTime(t *testing.T) {
	s := NewStore()
	a := addTag(s, "person", "ada", 1)
	_, ok := s.Get(a, 1)
	require.True(t, ok)

	s.InstallDelta(&Delta{TombstonedTags: []Tref{a}}, 2)

	_, liveAtRev1 := s.Get(a, 1)
	require.True(t, liveAtRev1, "a fetch at rev=1 must still see ada even after later deletion")
	_, liveAtRev2 := s.Get(a, 2)
	require.False(t, liveAtRev2)
}

func TestTrefNeverReused(t *testing.T) {
	s := NewStore()
	a := addTag(s, "language", "python", 1)
	s.InstallDelta(&Delta{TombstonedTags: []Tref{a}}, 2)
	b := addTag(s, "language", "python", 3)
	require.NotEqual(t, a, b, "re-adding after delete must get a fresh tref")
	require.Greater(t, b, a)
}

func TestOlderGenerationUnaffectedByLaterMutation(t *testing.T) {
	s := NewStore()
	a := addTag(s, "person", "ada", 1)
	b := addTag(s, "language", "python", 2)
	s.InstallDelta(&Delta{AddedLinks: []LinkPair{{A: a, B: b}}}, 3)

	oldGen := s.snapshot()

	s.InstallDelta(&Delta{TombstonedTags: []Tref{a}}, 4)

	require.Equal(t, oldGen.links[newLinkKey(a, b)].DeleteRev, RevInfinite, "captured generation's link must not be mutated by a later commit")
}

func TestValidTType(t *testing.T) {
	require.True(t, ValidTType("person", 64))
	require.True(t, ValidTType("multi-word-type", 64))
	require.False(t, ValidTType("Person", 64))
	require.False(t, ValidTType("1person", 64))
	require.False(t, ValidTType("", 64))
	require.False(t, ValidTType("toolong", 3))
}
