package molecule

import "sort"

// RingBonds flags every bond that lies on a cycle, i.e. every bond that is
// not a bridge of the molecular graph.
func (m *Molecule) RingBonds() []bool {
	n := len(m.atoms)
	inRing := make([]bool, len(m.bonds))
	for i := range inRing {
		inRing[i] = true
	}
	disc := make([]int, n)
	low := make([]int, n)
	for i := range disc {
		disc[i] = -1
	}
	timer := 0

	type frame struct {
		atom, parentBond, next int
	}
	for root := 0; root < n; root++ {
		if disc[root] >= 0 {
			continue
		}
		stack := []frame{{atom: root, parentBond: -1}}
		disc[root], low[root] = timer, timer
		timer++
		for len(stack) > 0 {
			top := &stack[len(stack)-1]
			if top.next < len(m.adj[top.atom]) {
				bi := m.adj[top.atom][top.next]
				top.next++
				if bi == top.parentBond {
					continue
				}
				nb := m.bonds[bi].Other(top.atom)
				if disc[nb] < 0 {
					disc[nb], low[nb] = timer, timer
					timer++
					stack = append(stack, frame{atom: nb, parentBond: bi})
				} else if disc[nb] < low[top.atom] {
					low[top.atom] = disc[nb]
				}
				continue
			}
			done := *top
			stack = stack[:len(stack)-1]
			if len(stack) == 0 {
				continue
			}
			parent := stack[len(stack)-1].atom
			if low[done.atom] < low[parent] {
				low[parent] = low[done.atom]
			}
			if low[done.atom] > disc[parent] {
				inRing[done.parentBond] = false
			}
		}
	}
	return inRing
}

// RingAtoms flags every atom that lies on a cycle.
func (m *Molecule) RingAtoms() []bool {
	out := make([]bool, len(m.atoms))
	for bi, ring := range m.RingBonds() {
		if ring {
			out[m.bonds[bi].Begin] = true
			out[m.bonds[bi].End] = true
		}
	}
	return out
}

// Rings returns the distinct smallest cycles through each ring bond, as atom
// index paths starting at the lowest index. The set covers every ring bond;
// for fused systems it is the set of smallest rings seen from each bond.
func (m *Molecule) Rings() [][]int {
	ringBonds := m.RingBonds()
	seen := make(map[string]bool)
	var rings [][]int
	for bi, ok := range ringBonds {
		if !ok {
			continue
		}
		path := m.shortestPathAvoiding(m.bonds[bi].Begin, m.bonds[bi].End, bi)
		if path == nil {
			continue
		}
		key := ringKey(path)
		if seen[key] {
			continue
		}
		seen[key] = true
		rings = append(rings, normalizeRing(path))
	}
	sort.Slice(rings, func(i, j int) bool {
		if len(rings[i]) != len(rings[j]) {
			return len(rings[i]) < len(rings[j])
		}
		for k := range rings[i] {
			if rings[i][k] != rings[j][k] {
				return rings[i][k] < rings[j][k]
			}
		}
		return false
	})
	return rings
}

// shortestPathAvoiding runs a BFS from src to dst that never uses bond skip.
func (m *Molecule) shortestPathAvoiding(src, dst, skip int) []int {
	prev := make([]int, len(m.atoms))
	for i := range prev {
		prev[i] = -2
	}
	prev[src] = -1
	queue := []int{src}
	for len(queue) > 0 {
		cur := queue[0]
		queue = queue[1:]
		if cur == dst {
			break
		}
		for _, bi := range m.adj[cur] {
			if bi == skip {
				continue
			}
			nb := m.bonds[bi].Other(cur)
			if prev[nb] != -2 {
				continue
			}
			prev[nb] = cur
			queue = append(queue, nb)
		}
	}
	if prev[dst] == -2 {
		return nil
	}
	var path []int
	for at := dst; at != -1; at = prev[at] {
		path = append(path, at)
	}
	return path
}

func ringKey(path []int) string {
	sorted := append([]int(nil), path...)
	sort.Ints(sorted)
	b := make([]byte, 0, len(sorted)*4)
	for _, v := range sorted {
		b = append(b, byte(v>>24), byte(v>>16), byte(v>>8), byte(v))
	}
	return string(b)
}

// normalizeRing rotates the cycle to start at its lowest atom and walks
// towards the smaller neighbour.
func normalizeRing(path []int) []int {
	n := len(path)
	start := 0
	for i, v := range path {
		if v < path[start] {
			start = i
		}
	}
	out := make([]int, 0, n)
	next, prev := path[(start+1)%n], path[(start-1+n)%n]
	step := 1
	if prev < next {
		step = -1
	}
	for i, at := 0, start; i < n; i, at = i+1, (at+step+n)%n {
		out = append(out, path[at])
	}
	return out
}
