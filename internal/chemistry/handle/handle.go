// Package handle packs molecules into owned byte buffers.
//
// A Handle is the unit passed across the library boundary: it owns one
// buffer holding a molecule in protobuf wire format. Unpack decodes a fresh
// molecule every time, so callers never share structure through a handle.
// Release ends ownership; any later use is reported as a contract violation.
package handle

import (
	"fmt"
	"math"

	"google.golang.org/protobuf/encoding/protowire"

	"github.com/turtacn/molcore/internal/domain/molecule"
	"github.com/turtacn/molcore/pkg/errors"
)

// WireVersion is written as the first field of every packed record.
const WireVersion = 1

// Record fields.
const (
	fieldVersion   protowire.Number = 1
	fieldName      protowire.Number = 2
	fieldAtom      protowire.Number = 3
	fieldBond      protowire.Number = 4
	fieldConformer protowire.Number = 5
	fieldProp      protowire.Number = 6
)

// Atom fields.
const (
	atomElement protowire.Number = iota + 1
	atomCharge
	atomIsotope
	atomImplicitHs
	atomNoImplicit
	atomAromatic
	atomRadicals
	atomMap
)

// Bond fields.
const (
	bondBegin protowire.Number = iota + 1
	bondEnd
	bondOrder
	bondKekule
	bondStereo
)

// Conformer and property fields.
const (
	confIs3D   protowire.Number = 1
	confCoords protowire.Number = 2
	propKey    protowire.Number = 1
	propValue  protowire.Number = 2
)

// Handle owns a packed molecule buffer.
type Handle struct {
	buf      []byte
	released bool
}

// Pack validates m and encodes it into a new handle.
func Pack(m *molecule.Molecule) (*Handle, error) {
	if m == nil {
		return nil, errors.ContractViolation("cannot pack a nil molecule")
	}
	if err := m.Validate(); err != nil {
		return nil, err
	}
	return &Handle{buf: encode(m)}, nil
}

// FromBytes takes ownership of buf without copying it. The buffer is
// decoded lazily by Unpack.
func FromBytes(buf []byte) *Handle {
	return &Handle{buf: buf}
}

// Bytes returns the packed buffer. The slice is owned by the handle.
func (h *Handle) Bytes() ([]byte, error) {
	if err := h.check("bytes"); err != nil {
		return nil, err
	}
	return h.buf, nil
}

// Size returns the packed length in bytes, or 0 after Release.
func (h *Handle) Size() int {
	if h == nil || h.released {
		return 0
	}
	return len(h.buf)
}

// Released reports whether Release has been called.
func (h *Handle) Released() bool { return h != nil && h.released }

// Release drops the buffer. Releasing twice is an error.
func (h *Handle) Release() error {
	if err := h.check("release"); err != nil {
		return err
	}
	h.buf = nil
	h.released = true
	return nil
}

// Unpack decodes a new molecule from the handle.
func (h *Handle) Unpack() (*molecule.Molecule, error) {
	if err := h.check("unpack"); err != nil {
		return nil, err
	}
	m, err := decode(h.buf)
	if err != nil {
		return nil, errors.ContractViolation("corrupt handle buffer").
			WithDetail(err.Error()).
			WithCause(err)
	}
	return m, nil
}

func (h *Handle) check(op string) error {
	if h == nil {
		return errors.ContractViolation(op + " on nil handle")
	}
	if h.released {
		return errors.ContractViolation(op + " on released handle")
	}
	return nil
}

// ─────────────────────────────────────────────────────────────────────────────
// Encoding
// ─────────────────────────────────────────────────────────────────────────────

func appendVarintField(b []byte, num protowire.Number, v uint64) []byte {
	if v == 0 {
		return b
	}
	b = protowire.AppendTag(b, num, protowire.VarintType)
	return protowire.AppendVarint(b, v)
}

func appendSintField(b []byte, num protowire.Number, v int) []byte {
	return appendVarintField(b, num, protowire.EncodeZigZag(int64(v)))
}

func appendBoolField(b []byte, num protowire.Number, v bool) []byte {
	if !v {
		return b
	}
	return appendVarintField(b, num, 1)
}

func appendMessage(b []byte, num protowire.Number, msg []byte) []byte {
	b = protowire.AppendTag(b, num, protowire.BytesType)
	return protowire.AppendBytes(b, msg)
}

func encode(m *molecule.Molecule) []byte {
	var b []byte
	b = appendVarintField(b, fieldVersion, WireVersion)
	if m.Name != "" {
		b = protowire.AppendTag(b, fieldName, protowire.BytesType)
		b = protowire.AppendString(b, m.Name)
	}
	for i := 0; i < m.NumAtoms(); i++ {
		a := m.Atom(i)
		var msg []byte
		msg = appendSintField(msg, atomElement, a.Element)
		msg = appendSintField(msg, atomCharge, a.Charge)
		msg = appendSintField(msg, atomIsotope, a.Isotope)
		msg = appendSintField(msg, atomImplicitHs, a.ImplicitHs)
		msg = appendBoolField(msg, atomNoImplicit, a.NoImplicit)
		msg = appendBoolField(msg, atomAromatic, a.Aromatic)
		msg = appendSintField(msg, atomRadicals, a.NumRadicals)
		msg = appendSintField(msg, atomMap, a.AtomMapIndex)
		b = appendMessage(b, fieldAtom, msg)
	}
	for i := 0; i < m.NumBonds(); i++ {
		bd := m.Bond(i)
		var msg []byte
		msg = appendSintField(msg, bondBegin, bd.Begin)
		msg = appendSintField(msg, bondEnd, bd.End)
		msg = appendSintField(msg, bondOrder, int(bd.Order))
		msg = appendSintField(msg, bondKekule, int(bd.Kekule))
		msg = appendSintField(msg, bondStereo, int(bd.Stereo))
		b = appendMessage(b, fieldBond, msg)
	}
	if conf := m.Conformer(); conf != nil {
		var msg []byte
		msg = appendBoolField(msg, confIs3D, conf.Is3D)
		var coords []byte
		for _, p := range conf.Positions {
			coords = protowire.AppendFixed64(coords, math.Float64bits(p.X))
			coords = protowire.AppendFixed64(coords, math.Float64bits(p.Y))
			coords = protowire.AppendFixed64(coords, math.Float64bits(p.Z))
		}
		msg = protowire.AppendTag(msg, confCoords, protowire.BytesType)
		msg = protowire.AppendBytes(msg, coords)
		b = appendMessage(b, fieldConformer, msg)
	}
	for _, key := range m.PropKeys() {
		var msg []byte
		msg = protowire.AppendTag(msg, propKey, protowire.BytesType)
		msg = protowire.AppendString(msg, key)
		msg = protowire.AppendTag(msg, propValue, protowire.BytesType)
		msg = protowire.AppendString(msg, m.Props[key])
		b = appendMessage(b, fieldProp, msg)
	}
	return b
}

// ─────────────────────────────────────────────────────────────────────────────
// Decoding
// ─────────────────────────────────────────────────────────────────────────────

// fields walks one message, calling fn for every field. fn receives the raw
// varint for varint fields and the payload for bytes fields; other wire
// types are skipped.
func fields(b []byte, fn func(num protowire.Number, typ protowire.Type, v uint64, payload []byte) error) error {
	for len(b) > 0 {
		num, typ, n := protowire.ConsumeTag(b)
		if n < 0 {
			return protowire.ParseError(n)
		}
		b = b[n:]
		var v uint64
		var payload []byte
		switch typ {
		case protowire.VarintType:
			v, n = protowire.ConsumeVarint(b)
		case protowire.BytesType:
			payload, n = protowire.ConsumeBytes(b)
		default:
			n = protowire.ConsumeFieldValue(num, typ, b)
		}
		if n < 0 {
			return protowire.ParseError(n)
		}
		b = b[n:]
		if typ != protowire.VarintType && typ != protowire.BytesType {
			continue
		}
		if err := fn(num, typ, v, payload); err != nil {
			return err
		}
	}
	return nil
}

func sint(v uint64) int { return int(protowire.DecodeZigZag(v)) }

func decode(buf []byte) (*molecule.Molecule, error) {
	m := molecule.New()
	version := uint64(0)
	var bonds []molecule.Bond
	var conf *molecule.Conformer

	err := fields(buf, func(num protowire.Number, typ protowire.Type, v uint64, payload []byte) error {
		switch num {
		case fieldVersion:
			version = v
		case fieldName:
			m.Name = string(payload)
		case fieldAtom:
			a, err := decodeAtom(payload)
			if err != nil {
				return err
			}
			m.AddAtom(a)
		case fieldBond:
			bd, err := decodeBond(payload)
			if err != nil {
				return err
			}
			bonds = append(bonds, bd)
		case fieldConformer:
			c, err := decodeConformer(payload)
			if err != nil {
				return err
			}
			conf = c
		case fieldProp:
			var key, value string
			if err := fields(payload, func(num protowire.Number, _ protowire.Type, _ uint64, p []byte) error {
				switch num {
				case propKey:
					key = string(p)
				case propValue:
					value = string(p)
				}
				return nil
			}); err != nil {
				return err
			}
			m.SetProp(key, value)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	if version != WireVersion {
		return nil, fmt.Errorf("unsupported wire version %d", version)
	}
	for _, bd := range bonds {
		if _, err := m.AddBondRecord(bd); err != nil {
			return nil, err
		}
	}
	if conf != nil {
		if err := m.SetConformer(conf); err != nil {
			return nil, err
		}
	}
	if err := m.Validate(); err != nil {
		return nil, err
	}
	return m, nil
}

func decodeAtom(b []byte) (molecule.Atom, error) {
	var a molecule.Atom
	err := fields(b, func(num protowire.Number, _ protowire.Type, v uint64, _ []byte) error {
		switch num {
		case atomElement:
			a.Element = sint(v)
		case atomCharge:
			a.Charge = sint(v)
		case atomIsotope:
			a.Isotope = sint(v)
		case atomImplicitHs:
			a.ImplicitHs = sint(v)
		case atomNoImplicit:
			a.NoImplicit = v != 0
		case atomAromatic:
			a.Aromatic = v != 0
		case atomRadicals:
			a.NumRadicals = sint(v)
		case atomMap:
			a.AtomMapIndex = sint(v)
		}
		return nil
	})
	if err == nil && (a.Element < 0 || a.Element > molecule.MaxAtomicNumber) {
		err = fmt.Errorf("atomic number %d out of range", a.Element)
	}
	return a, err
}

func decodeBond(b []byte) (molecule.Bond, error) {
	var bd molecule.Bond
	err := fields(b, func(num protowire.Number, _ protowire.Type, v uint64, _ []byte) error {
		switch num {
		case bondBegin:
			bd.Begin = sint(v)
		case bondEnd:
			bd.End = sint(v)
		case bondOrder:
			bd.Order = molecule.BondOrder(sint(v))
		case bondKekule:
			bd.Kekule = molecule.BondOrder(sint(v))
		case bondStereo:
			bd.Stereo = molecule.BondStereo(sint(v))
		}
		return nil
	})
	return bd, err
}

func decodeConformer(b []byte) (*molecule.Conformer, error) {
	c := &molecule.Conformer{}
	err := fields(b, func(num protowire.Number, _ protowire.Type, v uint64, payload []byte) error {
		switch num {
		case confIs3D:
			c.Is3D = v != 0
		case confCoords:
			if len(payload)%24 != 0 {
				return fmt.Errorf("coordinate block of %d bytes", len(payload))
			}
			for len(payload) > 0 {
				var xyz [3]float64
				for k := range xyz {
					bits, n := protowire.ConsumeFixed64(payload)
					if n < 0 {
						return protowire.ParseError(n)
					}
					xyz[k] = math.Float64frombits(bits)
					payload = payload[n:]
				}
				c.Positions = append(c.Positions, molecule.Point3{X: xyz[0], Y: xyz[1], Z: xyz[2]})
			}
		}
		return nil
	})
	return c, err
}
