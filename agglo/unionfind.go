package agglo

import "sync"

// unionFind is a disjoint-set forest over dense node indices with union by
// size and path compression. Union is serialized behind a mutex: merges on
// overlapping components are not independently safe, so graph construction
// runs merges single-writer while reads of the finished forest are free.
type unionFind struct {
	mu     sync.Mutex
	parent []int32
	size   []int32
}

func newUnionFind(n int) *unionFind {
	uf := &unionFind{
		parent: make([]int32, n),
		size:   make([]int32, n),
	}
	for i := range uf.parent {
		uf.parent[i] = int32(i)
		uf.size[i] = 1
	}
	return uf
}

// find returns the root of x, compressing the path. Not safe concurrently
// with union.
func (uf *unionFind) find(x int32) int32 {
	root := x
	for uf.parent[root] != root {
		root = uf.parent[root]
	}
	for uf.parent[x] != root {
		uf.parent[x], x = root, uf.parent[x]
	}
	return root
}

// union merges the components of a and b, returning true when a merge
// actually happened.
func (uf *unionFind) union(a, b int32) bool {
	uf.mu.Lock()
	defer uf.mu.Unlock()

	ra, rb := uf.find(a), uf.find(b)
	if ra == rb {
		return false
	}
	if uf.size[ra] < uf.size[rb] {
		ra, rb = rb, ra
	}
	uf.parent[rb] = ra
	uf.size[ra] += uf.size[rb]
	return true
}

// roots returns the root index for every node
func (uf *unionFind) roots() []int32 {
	out := make([]int32, len(uf.parent))
	for i := range uf.parent {
		out[i] = uf.find(int32(i))
	}
	return out
}
