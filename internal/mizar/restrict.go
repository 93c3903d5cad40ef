package mizar

import "strings"

// Restriction is a single version constraint attached to a dependency
// token, e.g. the ">=2.38" in "glibc>=2.38".
type Restriction struct {
	Compare string // one of >=, <=, >, <, =
	Version string
}

// comparators in scan order; the two-character forms must be tried before
// their one-character prefixes.
var comparators = []string{">=", "<=", ">", "<", "="}

// ParseRestriction splits a dependency token into its bare name and an
// optional version restriction. Tokens without a comparator return a nil
// restriction.
func ParseRestriction(token string) (string, *Restriction) {
	for _, cmp := range comparators {
		if i := strings.Index(token, cmp); i >= 0 {
			return token[:i], &Restriction{
				Compare: cmp,
				Version: token[i+len(cmp):],
			}
		}
	}
	return token, nil
}

// Satisfies reports whether version meets the restriction. Versions are
// compared as plain strings, which matches lexicographic pkgver ordering
// closely enough for same-length numeric components but misorders values
// like "9" vs "10".
func (r *Restriction) Satisfies(version string) bool {
	if r == nil {
		return true
	}
	switch r.Compare {
	case "=":
		return version == r.Version
	case ">":
		return version > r.Version
	case "<":
		return version < r.Version
	case ">=":
		return version >= r.Version
	case "<=":
		return version <= r.Version
	}
	return false
}

// SatisfiesAll reports whether version meets every restriction in rs.
func SatisfiesAll(version string, rs []Restriction) bool {
	for i := range rs {
		if !rs[i].Satisfies(version) {
			return false
		}
	}
	return true
}

func (r *Restriction) String() string {
	if r == nil {
		return ""
	}
	return r.Compare + r.Version
}
