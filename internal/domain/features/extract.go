// Package features computes feature vectors from the upstream documents
// held in a per-request Cache.
package features

import (
	"fmt"
	"strconv"
)

// Extraction is the result of one Extract call: the vector and the cache
// snapshot to thread into the next call for the same request.
type Extraction struct {
	Vector Vector
	Cache  *Cache
}

// Extract computes the named features for revID in order.
//
// The input cache is not modified. Values already present in it are
// reused; newly computed values are recorded in the returned snapshot.
// Missing documents and deleted text yield ErrMissingResource; a
// non-wikitext content model yields ErrUnexpectedContent.
func Extract(revID int64, names []string, cache *Cache) (Extraction, error) {
	snap := cache.Clone()
	src := &source{revID: revID, cache: snap}

	vec := Vector{
		Names:  make([]string, len(names)),
		Values: make([]float64, len(names)),
	}
	for i, name := range names {
		key := valueKey(revID, name)
		v, ok := snap.Values[key]
		if !ok {
			fn, known := registry[name]
			if !known {
				return Extraction{}, fmt.Errorf("%w: %q", ErrUnknownFeature, name)
			}
			var err error
			v, err = fn(src)
			if err != nil {
				return Extraction{}, fmt.Errorf("feature %s: %w", name, err)
			}
			snap.Values[key] = v
		}
		vec.Names[i] = name
		vec.Values[i] = v
	}
	return Extraction{Vector: vec, Cache: snap}, nil
}

func valueKey(revID int64, name string) string {
	return strconv.FormatInt(revID, 10) + "/" + name
}

// CachedValue returns a previously computed value for revID.
func (c *Cache) CachedValue(revID int64, name string) (float64, bool) {
	v, ok := c.Values[valueKey(revID, name)]
	return v, ok
}
