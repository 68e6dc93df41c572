package features

// Vector is an ordered list of feature values. Names[i] identifies Values[i].
type Vector struct {
	Names  []string
	Values []float64
}

// Len returns the number of features.
func (v Vector) Len() int { return len(v.Values) }

// Map returns the vector as a name -> value mapping.
func (v Vector) Map() map[string]float64 {
	out := make(map[string]float64, len(v.Names))
	for i, n := range v.Names {
		out[n] = v.Values[i]
	}
	return out
}

// Get returns the value of the named feature.
func (v Vector) Get(name string) (float64, bool) {
	for i, n := range v.Names {
		if n == name {
			return v.Values[i], true
		}
	}
	return 0, false
}
