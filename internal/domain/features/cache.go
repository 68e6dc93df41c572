package features

import "maps"

// Cache holds the documents fetched for one scoring request and the
// feature values already computed from them.
//
// A Cache is never shared between requests. Extract treats its input as
// immutable and returns an updated snapshot, so the same contract holds
// whether extraction runs inline or on a pool worker.
type Cache struct {
	Revisions map[int64]Revision
	Users     map[string]User
	Values    map[string]float64
}

// NewCache returns an empty cache.
func NewCache() *Cache {
	return &Cache{
		Revisions: make(map[int64]Revision),
		Users:     make(map[string]User),
		Values:    make(map[string]float64),
	}
}

// PutRevision stores a revision document keyed by its id.
func (c *Cache) PutRevision(rev Revision) {
	c.Revisions[rev.RevID] = rev
}

// PutUser stores a user document keyed by name.
func (c *Cache) PutUser(u User) {
	c.Users[u.Name] = u
}

// Revision returns the revision document for id.
func (c *Cache) Revision(id int64) (Revision, bool) {
	r, ok := c.Revisions[id]
	return r, ok
}

// User returns the user document for name.
func (c *Cache) User(name string) (User, bool) {
	u, ok := c.Users[name]
	return u, ok
}

// Len returns the number of documents held (values excluded).
func (c *Cache) Len() int {
	return len(c.Revisions) + len(c.Users)
}

// Clone returns a copy whose maps can be mutated independently.
func (c *Cache) Clone() *Cache {
	if c == nil {
		return NewCache()
	}
	out := &Cache{
		Revisions: maps.Clone(c.Revisions),
		Users:     maps.Clone(c.Users),
		Values:    maps.Clone(c.Values),
	}
	if out.Revisions == nil {
		out.Revisions = make(map[int64]Revision)
	}
	if out.Users == nil {
		out.Users = make(map[string]User)
	}
	if out.Values == nil {
		out.Values = make(map[string]float64)
	}
	return out
}
