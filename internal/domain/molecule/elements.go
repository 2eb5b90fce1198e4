package molecule

import "strings"

// symbols is indexed by atomic number. Index 0 is the wildcard atom.
var symbols = [...]string{
	"*",
	"H", "He",
	"Li", "Be", "B", "C", "N", "O", "F", "Ne",
	"Na", "Mg", "Al", "Si", "P", "S", "Cl", "Ar",
	"K", "Ca", "Sc", "Ti", "V", "Cr", "Mn", "Fe", "Co", "Ni", "Cu", "Zn",
	"Ga", "Ge", "As", "Se", "Br", "Kr",
	"Rb", "Sr", "Y", "Zr", "Nb", "Mo", "Tc", "Ru", "Rh", "Pd", "Ag", "Cd",
	"In", "Sn", "Sb", "Te", "I", "Xe",
	"Cs", "Ba", "La", "Ce", "Pr", "Nd", "Pm", "Sm", "Eu", "Gd", "Tb", "Dy",
	"Ho", "Er", "Tm", "Yb", "Lu", "Hf", "Ta", "W", "Re", "Os", "Ir", "Pt",
	"Au", "Hg", "Tl", "Pb", "Bi", "Po", "At", "Rn",
	"Fr", "Ra", "Ac", "Th", "Pa", "U", "Np", "Pu", "Am", "Cm", "Bk", "Cf",
	"Es", "Fm", "Md", "No", "Lr", "Rf", "Db", "Sg", "Bh", "Hs", "Mt", "Ds",
	"Rg", "Cn", "Nh", "Fl", "Mc", "Lv", "Ts", "Og",
}

// MaxAtomicNumber is the largest supported atomic number.
const MaxAtomicNumber = len(symbols) - 1

var atomicNumbers = func() map[string]int {
	m := make(map[string]int, len(symbols))
	for z, s := range symbols {
		m[s] = z
	}
	return m
}()

// defaultValences lists allowed valences for neutral atoms, lowest first.
// Elements without an entry accept any valence and never get implicit Hs.
var defaultValences = map[int][]int{
	1:  {1},
	2:  {0},
	3:  {1},
	4:  {2},
	5:  {3},
	6:  {4},
	7:  {3},
	8:  {2},
	9:  {1},
	10: {0},
	11: {1},
	12: {2},
	13: {3},
	14: {4},
	15: {3, 5, 7},
	16: {2, 4, 6},
	17: {1},
	18: {0},
	19: {1},
	20: {2},
	31: {3},
	32: {4},
	33: {3, 5},
	34: {2, 4, 6},
	35: {1},
	36: {0, 2},
	49: {3},
	50: {2, 4},
	51: {3, 5},
	52: {2, 4, 6},
	53: {1, 3, 5},
	54: {0, 2, 4, 6},
}

// pBlockRows bounds the runs of elements for which a formal charge shifts the
// valence to that of the isoelectronic neighbour (N+ behaves like C, O- like F).
var pBlockRows = [][2]int{{5, 10}, {13, 18}, {31, 36}, {49, 54}}

// covalentRadii in Angstrom.
var covalentRadii = map[int]float64{
	1: 0.31, 3: 1.28, 5: 0.84, 6: 0.76, 7: 0.71, 8: 0.66, 9: 0.57,
	11: 1.66, 12: 1.41, 13: 1.21, 14: 1.11, 15: 1.07, 16: 1.05, 17: 1.02,
	19: 2.03, 20: 1.76, 26: 1.32, 29: 1.32, 30: 1.22,
	32: 1.20, 33: 1.19, 34: 1.20, 35: 1.20, 50: 1.39, 51: 1.39, 52: 1.38, 53: 1.39,
}

const defaultCovalentRadius = 1.50

// atomicMasses holds standard atomic weights for the elements that show up in
// organic chemistry.
var atomicMasses = map[int]float64{
	1: 1.008, 2: 4.003, 3: 6.941, 4: 9.012, 5: 10.812, 6: 12.011, 7: 14.007,
	8: 15.999, 9: 18.998, 10: 20.180, 11: 22.990, 12: 24.305, 13: 26.982,
	14: 28.086, 15: 30.974, 16: 32.067, 17: 35.453, 18: 39.948, 19: 39.098,
	20: 40.078, 26: 55.845, 29: 63.546, 30: 65.39, 31: 69.723, 32: 72.61,
	33: 74.922, 34: 78.96, 35: 79.904, 36: 83.80, 47: 107.868, 50: 118.71,
	51: 121.76, 52: 127.60, 53: 126.904, 54: 131.29, 78: 195.08, 79: 196.967,
	80: 200.59, 82: 207.2, 83: 208.980,
}

// Symbol returns the element symbol for atomic number z, or "" when out of range.
func Symbol(z int) string {
	if z < 0 || z > MaxAtomicNumber {
		return ""
	}
	return symbols[z]
}

// AtomicNumber looks up an element symbol. Lookup is case-sensitive except
// that a lowercase first letter is accepted, so aromatic forms like "c" or
// "se" resolve to their elements.
func AtomicNumber(symbol string) (int, bool) {
	if z, ok := atomicNumbers[symbol]; ok {
		return z, true
	}
	if symbol == "" {
		return 0, false
	}
	z, ok := atomicNumbers[strings.ToUpper(symbol[:1])+symbol[1:]]
	return z, ok
}

// AllowedValences returns the permitted valences for an element with the
// given formal charge, lowest first. nil means unrestricted.
func AllowedValences(z, charge int) []int {
	if z == 1 {
		if charge != 0 {
			return []int{0}
		}
		return defaultValences[1]
	}
	if charge == 0 {
		return defaultValences[z]
	}
	for _, row := range pBlockRows {
		if z >= row[0] && z <= row[1] {
			shifted := z - charge
			if shifted >= row[0] && shifted <= row[1] {
				return defaultValences[shifted]
			}
			return nil
		}
	}
	return nil
}

// CovalentRadius returns the covalent radius of element z in Angstrom.
func CovalentRadius(z int) float64 {
	if r, ok := covalentRadii[z]; ok {
		return r
	}
	return defaultCovalentRadius
}

// AtomicMass returns the standard atomic weight of element z, or 0 if unknown.
func AtomicMass(z int) float64 {
	return atomicMasses[z]
}
