package graph

// linkKey canonicalizes an unordered pair of Trefs so {a,b} and {b,a} hash
// identically. Self-links are disallowed upstream of this type.
type linkKey struct {
	lo, hi Tref
}

func newLinkKey(a, b Tref) linkKey {
	if a < b {
		return linkKey{lo: a, hi: b}
	}
	return linkKey{lo: b, hi: a}
}

// Link is an untyped, bidirectional, versioned edge between two tags.
type Link struct {
	A, B      Tref
	CreateRev Rev
	DeleteRev Rev
}

// Live reports whether the link is visible to a reader at the given rev.
func (l *Link) Live(atRev Rev) bool {
	return l != nil && l.CreateRev <= atRev && atRev < l.DeleteRev
}
