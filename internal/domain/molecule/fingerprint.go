package molecule

import (
	"context"
	"crypto/sha256"
	"encoding/binary"
	"math/bits"
	"sort"
	"strings"

	"github.com/turtacn/molcore/pkg/errors"
	mtypes "github.com/turtacn/molcore/pkg/types/molecule"
)

// ─────────────────────────────────────────────────────────────────────────────
// Fingerprint Structure
// ─────────────────────────────────────────────────────────────────────────────

// Fingerprint is a folded bit vector. Bit i lives in byte i/8 at position
// i%8.
type Fingerprint struct {
	Type      mtypes.FingerprintType `json:"type"`
	Bits      []byte                 `json:"bits"`
	Length    int                    `json:"length"`
	NumOnBits int                    `json:"num_on_bits"`
}

// NewFingerprint wraps packed bit data.
func NewFingerprint(fpType mtypes.FingerprintType, data []byte, length int) *Fingerprint {
	onBits := 0
	for _, b := range data {
		onBits += bits.OnesCount8(b)
	}
	return &Fingerprint{Type: fpType, Bits: data, Length: length, NumOnBits: onBits}
}

func emptyFingerprint(fpType mtypes.FingerprintType, length int) *Fingerprint {
	return &Fingerprint{Type: fpType, Bits: make([]byte, (length+7)/8), Length: length}
}

// GetBit reports whether bit index is set.
func (fp *Fingerprint) GetBit(index int) bool {
	if index < 0 || index >= fp.Length {
		return false
	}
	return fp.Bits[index/8]&(1<<uint(index%8)) != 0
}

// SetBit sets bit index.
func (fp *Fingerprint) SetBit(index int) {
	if index < 0 || index >= fp.Length {
		return
	}
	old := fp.Bits[index/8]
	fp.Bits[index/8] |= 1 << uint(index%8)
	if old != fp.Bits[index/8] {
		fp.NumOnBits++
	}
}

// ToBytes returns a copy of the packed bits.
func (fp *Fingerprint) ToBytes() []byte {
	return append([]byte(nil), fp.Bits...)
}

// BitString renders one '0' or '1' per bit, bit 0 first.
func (fp *Fingerprint) BitString() string {
	var sb strings.Builder
	sb.Grow(fp.Length)
	for i := 0; i < fp.Length; i++ {
		if fp.GetBit(i) {
			sb.WriteByte('1')
		} else {
			sb.WriteByte('0')
		}
	}
	return sb.String()
}

// CalculateFingerprint dispatches on opts.Type. opts must already be
// validated.
func CalculateFingerprint(m *Molecule, opts mtypes.FingerprintOptions) (*Fingerprint, error) {
	switch opts.Type {
	case mtypes.FPMorgan, "":
		return CalculateMorganFingerprint(m, opts.Radius, opts.NBits)
	case mtypes.FPTopological:
		return CalculateTopologicalFingerprint(m, opts.MinPath, opts.MaxPath, opts.NBits)
	default:
		return nil, errors.InvalidParam("unknown fingerprint type").WithDetail(string(opts.Type))
	}
}

// ─────────────────────────────────────────────────────────────────────────────
// Morgan (Circular) Fingerprint
// ─────────────────────────────────────────────────────────────────────────────

// CalculateMorganFingerprint computes an ECFP-style circular fingerprint.
// Every heavy atom starts from an invariant of element, heavy degree, total
// hydrogens, charge, isotope and ring membership. Each round folds in the
// sorted (bond order, neighbour identifier) pairs. An environment that
// covers the same bonds as one already seen sets no bit, and an atom whose
// environment stopped growing drops out.
func CalculateMorganFingerprint(m *Molecule, radius, nBits int) (*Fingerprint, error) {
	if nBits <= 0 {
		return nil, errors.InvalidParam("fingerprint length must be positive")
	}
	if radius < 0 {
		return nil, errors.InvalidParam("fingerprint radius must not be negative")
	}
	fp := emptyFingerprint(mtypes.FPMorgan, nBits)

	ringAtoms := m.RingAtoms()
	var heavy []int
	ids := make([]uint64, m.NumAtoms())
	for i, a := range m.atoms {
		if a.IsHydrogen() {
			continue
		}
		heavy = append(heavy, i)
		ids[i] = hashInts(int64(a.Element), int64(m.HeavyDegree(i)), int64(m.TotalHs(i)),
			int64(a.Charge), int64(a.Isotope), boolInt(ringAtoms[i]))
		fp.SetBit(int(ids[i] % uint64(nBits)))
	}

	env := make([]map[int]bool, m.NumAtoms())
	active := make([]bool, m.NumAtoms())
	for _, i := range heavy {
		env[i] = map[int]bool{}
		active[i] = true
	}
	seen := make(map[string]bool)

	type pair struct {
		order int64
		id    uint64
	}
	for r := 1; r <= radius; r++ {
		next := make([]uint64, len(ids))
		copy(next, ids)
		grown := make([]map[int]bool, len(env))
		for _, i := range heavy {
			if !active[i] {
				continue
			}
			var pairs []pair
			e := make(map[int]bool, len(env[i]))
			for b := range env[i] {
				e[b] = true
			}
			for _, bi := range m.adj[i] {
				nb := m.bonds[bi].Other(i)
				if m.atoms[nb].IsHydrogen() {
					continue
				}
				e[bi] = true
				for b := range env[nb] {
					e[b] = true
				}
				pairs = append(pairs, pair{order: int64(m.bonds[bi].Order), id: ids[nb]})
			}
			sort.Slice(pairs, func(x, y int) bool {
				if pairs[x].order != pairs[y].order {
					return pairs[x].order < pairs[y].order
				}
				return pairs[x].id < pairs[y].id
			})
			vals := []int64{int64(r), int64(ids[i])}
			for _, p := range pairs {
				vals = append(vals, p.order, int64(p.id))
			}
			next[i] = hashInts(vals...)
			grown[i] = e

			if len(e) == len(env[i]) {
				active[i] = false
				continue
			}
			key := envKey(e)
			if seen[key] {
				continue
			}
			seen[key] = true
			fp.SetBit(int(next[i] % uint64(nBits)))
		}
		for _, i := range heavy {
			if grown[i] != nil {
				env[i] = grown[i]
			}
		}
		ids = next
	}
	return fp, nil
}

func envKey(bonds map[int]bool) string {
	list := make([]int, 0, len(bonds))
	for b := range bonds {
		list = append(list, b)
	}
	sort.Ints(list)
	buf := make([]byte, 0, len(list)*4)
	for _, b := range list {
		buf = binary.BigEndian.AppendUint32(buf, uint32(b))
	}
	return string(buf)
}

// ─────────────────────────────────────────────────────────────────────────────
// Topological Fingerprint
// ─────────────────────────────────────────────────────────────────────────────

// CalculateTopologicalFingerprint hashes every simple path of minPath to
// maxPath bonds between heavy atoms. A path and its reverse hash alike.
func CalculateTopologicalFingerprint(m *Molecule, minPath, maxPath, nBits int) (*Fingerprint, error) {
	if nBits <= 0 {
		return nil, errors.InvalidParam("fingerprint length must be positive")
	}
	if minPath < 1 || maxPath < minPath {
		return nil, errors.InvalidParam("path lengths must satisfy 1 <= min <= max")
	}
	fp := emptyFingerprint(mtypes.FPTopological, nBits)

	atomCode := func(i int) int64 {
		a := m.atoms[i]
		return int64(a.Element)<<8 | int64(boolInt(a.Aromatic))<<4 | int64(a.Charge&0xf)
	}

	onPath := make([]bool, m.NumAtoms())
	var atoms []int
	var orders []int64
	var walk func(at int)
	walk = func(at int) {
		if n := len(orders); n >= minPath {
			// Each path is reached from both ends; keep the one that starts
			// at the lower index.
			if atoms[0] < atoms[len(atoms)-1] {
				fp.SetBit(int(pathHash(atoms, orders, atomCode) % uint64(nBits)))
			}
		}
		if len(orders) == maxPath {
			return
		}
		for _, bi := range m.adj[at] {
			nb := m.bonds[bi].Other(at)
			if onPath[nb] || m.atoms[nb].IsHydrogen() {
				continue
			}
			onPath[nb] = true
			atoms = append(atoms, nb)
			orders = append(orders, int64(m.bonds[bi].Order))
			walk(nb)
			atoms = atoms[:len(atoms)-1]
			orders = orders[:len(orders)-1]
			onPath[nb] = false
		}
	}
	for i, a := range m.atoms {
		if a.IsHydrogen() {
			continue
		}
		onPath[i] = true
		atoms = append(atoms[:0], i)
		orders = orders[:0]
		walk(i)
		onPath[i] = false
	}
	return fp, nil
}

// pathHash hashes the path read in whichever direction gives the smaller
// sequence, so both directions agree.
func pathHash(atoms []int, orders []int64, code func(int) int64) uint64 {
	n := len(atoms)
	fwd := make([]int64, 0, 2*n)
	rev := make([]int64, 0, 2*n)
	for i := 0; i < n; i++ {
		fwd = append(fwd, code(atoms[i]))
		rev = append(rev, code(atoms[n-1-i]))
		if i < n-1 {
			fwd = append(fwd, orders[i])
			rev = append(rev, orders[n-2-i])
		}
	}
	for i := range fwd {
		if fwd[i] != rev[i] {
			if rev[i] < fwd[i] {
				fwd = rev
			}
			break
		}
	}
	return hashInts(fwd...)
}

// hashInts folds the values through sha256 and keeps the first 8 bytes.
func hashInts(vals ...int64) uint64 {
	buf := make([]byte, 0, len(vals)*8)
	for _, v := range vals {
		buf = binary.BigEndian.AppendUint64(buf, uint64(v))
	}
	sum := sha256.Sum256(buf)
	return binary.BigEndian.Uint64(sum[:8])
}

func boolInt(b bool) int64 {
	if b {
		return 1
	}
	return 0
}

// ─────────────────────────────────────────────────────────────────────────────
// Fingerprint index port
// ─────────────────────────────────────────────────────────────────────────────

// SimilarityHit is a stored record found by fingerprint search.
type SimilarityHit struct {
	RecordID   string
	Similarity float64
}

// FingerprintIndex stores record fingerprints for nearest neighbour search.
type FingerprintIndex interface {
	// Options reports the fingerprint the index was built for.
	Options() mtypes.FingerprintOptions

	// Upsert stores or replaces the fingerprint of a record.
	Upsert(ctx context.Context, recordID string, fp *Fingerprint) error

	// Search returns up to topK records, most similar first.
	Search(ctx context.Context, fp *Fingerprint, topK int) ([]SimilarityHit, error)
}
