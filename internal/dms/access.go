package dms

import "dms-go/internal/model"

// Effective permission is computed, never stored. The owner of a version's
// document always has full access; grants are additive for everyone else,
// and a write grant implies read. List filtering and direct fetches both
// go through these predicates so the two paths cannot diverge.

// CanRead reports whether identity may read v.
func CanRead(identity string, v *model.Version) bool {
	if identity == v.OwnerID {
		return true
	}
	return contains(v.ReadGrants, identity) || contains(v.WriteGrants, identity)
}

// CanWrite reports whether identity may write v.
func CanWrite(identity string, v *model.Version) bool {
	if identity == v.OwnerID {
		return true
	}
	return contains(v.WriteGrants, identity)
}

// FilterReadable returns the versions in vs that identity may read,
// preserving order.
func FilterReadable(identity string, vs []*model.Version) []*model.Version {
	readable := make([]*model.Version, 0, len(vs))
	for _, v := range vs {
		if CanRead(identity, v) {
			readable = append(readable, v)
		}
	}
	return readable
}

func contains(set []string, identity string) bool {
	for _, id := range set {
		if id == identity {
			return true
		}
	}
	return false
}
