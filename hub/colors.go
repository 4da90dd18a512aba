package hub

import "math/rand"

// ColorAllocator hands out the lowest free color index. Once every index is
// held it falls back to a random one, so collisions are expected beyond
// Count concurrent sessions.
type ColorAllocator struct {
	Count int
	intn  func(n int) int
}

func NewColorAllocator(count int) ColorAllocator {
	if count <= 0 {
		count = 10
	}
	return ColorAllocator{Count: count, intn: rand.Intn}
}

func (a ColorAllocator) Allocate(active []*Session) int {
	used := make([]bool, a.Count)
	for _, s := range active {
		if s.Color >= 0 && s.Color < a.Count {
			used[s.Color] = true
		}
	}

	for i, taken := range used {
		if !taken {
			return i
		}
	}
	return a.intn(a.Count)
}
