package ir

import "math/bits"

// VarSet is a dense bitset over VarIndex. The zero value is an empty set;
// Set grows the backing storage on demand.
type VarSet struct {
	words []uint64
}

// NewVarSet returns a set sized for n variables.
func NewVarSet(n int) VarSet {
	return VarSet{words: make([]uint64, (n+63)/64)}
}

func (s *VarSet) grow(i VarIndex) {
	w := int(i)/64 + 1
	for len(s.words) < w {
		s.words = append(s.words, 0)
	}
}

// Set adds v to the set.
func (s *VarSet) Set(v VarIndex) {
	s.grow(v)
	s.words[v/64] |= 1 << (uint(v) % 64)
}

// Clear removes v from the set.
func (s *VarSet) Clear(v VarIndex) {
	if int(v)/64 < len(s.words) {
		s.words[v/64] &^= 1 << (uint(v) % 64)
	}
}

// Has reports whether v is in the set.
func (s VarSet) Has(v VarIndex) bool {
	if v < 0 || int(v)/64 >= len(s.words) {
		return false
	}
	return s.words[v/64]&(1<<(uint(v)%64)) != 0
}

// UnionWith adds every member of o, reporting whether s changed.
func (s *VarSet) UnionWith(o VarSet) (changed bool) {
	for i, w := range o.words {
		if w == 0 {
			continue
		}
		s.grow(VarIndex(i*64 + 63))
		if s.words[i]|w != s.words[i] {
			s.words[i] |= w
			changed = true
		}
	}
	return changed
}

// DifferenceWith removes every member of o.
func (s *VarSet) DifferenceWith(o VarSet) {
	n := len(s.words)
	if len(o.words) < n {
		n = len(o.words)
	}
	for i := 0; i < n; i++ {
		s.words[i] &^= o.words[i]
	}
}

// Count returns the number of members.
func (s VarSet) Count() int {
	n := 0
	for _, w := range s.words {
		n += bits.OnesCount64(w)
	}
	return n
}

// Clone returns an independent copy.
func (s VarSet) Clone() VarSet {
	c := VarSet{words: make([]uint64, len(s.words))}
	copy(c.words, s.words)
	return c
}

// ForEach calls f for each member in ascending order.
func (s VarSet) ForEach(f func(VarIndex)) {
	for i, w := range s.words {
		for w != 0 {
			b := bits.TrailingZeros64(w)
			f(VarIndex(i*64 + b))
			w &^= 1 << uint(b)
		}
	}
}
