// Package tuple implements the order-preserving tuple encoding shared by all
// client bindings of the storage engine. Packed tuples sort byte-lexicographically
// exactly as the tuples themselves sort element-wise, so applications can use
// packed tuples as keys and rely on the engine's global key order.
//
// The cross-type ordering is fixed by the leading type code of each element:
// nil < byte strings < unicode strings < nested tuples < integers < float32 <
// float64 < false < true < UUID < versionstamp. This layout is a wire contract
// with clients written in other languages against the same cluster and must
// not be changed.
package tuple

import (
	"encoding/binary"
	"errors"
	"fmt"
	"math"
	"strings"

	"github.com/google/uuid"
)

// A TupleElement is one of the types that may be encoded into a Tuple:
// nil, []byte, string, int/int64/uint/uint64, float32, float64, bool,
// UUID, Versionstamp or a nested Tuple.
type TupleElement interface{}

// Tuple is an ordered sequence of typed elements. Tuples are immutable once
// packed; Pack never mutates the receiver.
type Tuple []TupleElement

// UUID is a 16 byte RFC 4122 identifier. Use NewUUID to generate one.
type UUID [16]byte

// NewUUID returns a random UUID element.
func NewUUID() UUID {
	return UUID(uuid.New())
}

func (u UUID) String() string {
	return uuid.UUID(u).String()
}

// Versionstamp is a 10 byte transaction version assigned by the engine at
// commit time, plus a 2 byte user version used to order multiple
// versionstamped keys written by the same transaction.
type Versionstamp struct {
	TransactionVersion [10]byte
	UserVersion        uint16
}

const versionstampLength = 12

var incompleteTransactionVersion = [10]byte{0xFF, 0xFF, 0xFF, 0xFF, 0xFF, 0xFF, 0xFF, 0xFF, 0xFF, 0xFF}

// IncompleteVersionstamp returns a placeholder versionstamp carrying only a
// user version. The transaction version is filled in by the engine when the
// owning transaction commits.
func IncompleteVersionstamp(userVersion uint16) Versionstamp {
	return Versionstamp{
		TransactionVersion: incompleteTransactionVersion,
		UserVersion:        userVersion,
	}
}

// IsComplete reports whether the transaction version has been assigned.
func (v Versionstamp) IsComplete() bool {
	return v.TransactionVersion != incompleteTransactionVersion
}

// Bytes returns the 12 byte wire form of the versionstamp.
func (v Versionstamp) Bytes() []byte {
	b := make([]byte, versionstampLength)
	copy(b, v.TransactionVersion[:])
	binary.BigEndian.PutUint16(b[10:], v.UserVersion)
	return b
}

func (v Versionstamp) String() string {
	return fmt.Sprintf("Versionstamp(%x, %d)", v.TransactionVersion, v.UserVersion)
}

// Tuple layer type codes. Code order IS the cross-type sort order.
const (
	nilCode          = 0x00
	bytesCode        = 0x01
	stringCode       = 0x02
	nestedCode       = 0x05
	negIntStart      = 0x0B
	intZeroCode      = 0x14
	posIntEnd        = 0x1D
	floatCode        = 0x20
	doubleCode       = 0x21
	falseCode        = 0x26
	trueCode         = 0x27
	uuidCode         = 0x30
	versionstampCode = 0x33
)

var (
	ErrUnsupportedElement = errors.New("unsupported tuple element type")
	ErrTruncated          = errors.New("truncated tuple bytes")
	ErrUnknownTypeCode    = errors.New("unknown tuple type code")
	ErrIntOutOfRange      = errors.New("integer exceeds decodable range")

	ErrNoIncompleteVersionstamp        = errors.New("no incomplete versionstamp in tuple")
	ErrMultipleIncompleteVersionstamps = errors.New("multiple incomplete versionstamps in tuple")
)

type packer struct {
	buf []byte
	// position of the transaction version of the single incomplete
	// versionstamp, -1 when none was seen
	versionstampPos int
}

func newPacker() *packer {
	return &packer{
		buf:             make([]byte, 0, 64),
		versionstampPos: -1,
	}
}

func (p *packer) putByte(b byte) {
	p.buf = append(p.buf, b)
}

func (p *packer) putBytes(b []byte) {
	p.buf = append(p.buf, b...)
}

// putBytesEscaped writes b with every NUL byte escaped as 0x00 0xFF and a
// terminating NUL, so embedded NULs never truncate decoding.
func (p *packer) putBytesEscaped(b []byte) {
	for _, c := range b {
		p.buf = append(p.buf, c)
		if c == 0x00 {
			p.buf = append(p.buf, 0xFF)
		}
	}
	p.buf = append(p.buf, 0x00)
}

func (p *packer) encodeUint(u uint64) {
	if u == 0 {
		p.putByte(intZeroCode)
		return
	}
	var scratch [8]byte
	binary.BigEndian.PutUint64(scratch[:], u)
	byteCount := (bitLen(u) + 7) / 8
	p.putByte(byte(intZeroCode + byteCount))
	p.putBytes(scratch[8-byteCount:])
}

func (p *packer) encodeInt(i int64) {
	if i >= 0 {
		p.encodeUint(uint64(i))
		return
	}
	// magnitude via uint64 so math.MinInt64 does not overflow
	m := uint64(-(i + 1)) + 1
	byteCount := (bitLen(m) + 7) / 8
	// negative integers are stored as the bitwise complement of the
	// magnitude so byte order equals numeric order
	v := maxUintOfSize(byteCount) - m
	var scratch [8]byte
	binary.BigEndian.PutUint64(scratch[:], v)
	p.putByte(byte(intZeroCode - byteCount))
	p.putBytes(scratch[8-byteCount:])
}

func bitLen(u uint64) int {
	n := 0
	for u > 0 {
		n++
		u >>= 1
	}
	return n
}

func maxUintOfSize(byteCount int) uint64 {
	if byteCount >= 8 {
		return math.MaxUint64
	}
	return (uint64(1) << (8 * byteCount)) - 1
}

// float byte transform: flip the sign bit on non-negative values, complement
// every bit on negative values, so the transformed big-endian bytes sort in
// numeric order.
func floatTransform(bits uint64, size int) uint64 {
	signBit := uint64(1) << (size*8 - 1)
	if bits&signBit != 0 {
		return ^bits & (signBit<<1 - 1)
	}
	return bits | signBit
}

func floatRestore(bits uint64, size int) uint64 {
	signBit := uint64(1) << (size*8 - 1)
	if bits&signBit != 0 {
		return bits &^ signBit
	}
	return ^bits & (signBit<<1 - 1)
}

// canonical quiet NaN bit patterns, so all NaNs share one encoding
const (
	canonicalNaN32 = uint64(0x7FC00000)
	canonicalNaN64 = uint64(0x7FF8000000000000)
)

func (p *packer) encodeFloat(f float32) {
	bits := uint64(math.Float32bits(f))
	if math.IsNaN(float64(f)) {
		bits = canonicalNaN32
	}
	var scratch [4]byte
	binary.BigEndian.PutUint32(scratch[:], uint32(floatTransform(bits, 4)))
	p.putByte(floatCode)
	p.putBytes(scratch[:])
}

func (p *packer) encodeDouble(f float64) {
	bits := math.Float64bits(f)
	if math.IsNaN(f) {
		bits = canonicalNaN64
	}
	var scratch [8]byte
	binary.BigEndian.PutUint64(scratch[:], floatTransform(bits, 8))
	p.putByte(doubleCode)
	p.putBytes(scratch[:])
}

func (p *packer) encodeVersionstamp(v Versionstamp) error {
	p.putByte(versionstampCode)
	if !v.IsComplete() {
		if p.versionstampPos >= 0 {
			return ErrMultipleIncompleteVersionstamps
		}
		p.versionstampPos = len(p.buf)
	}
	p.putBytes(v.Bytes())
	return nil
}

func (p *packer) encodeTuple(t Tuple, nested bool) error {
	if nested {
		p.putByte(nestedCode)
	}
	for i, e := range t {
		switch e := e.(type) {
		case nil:
			if nested {
				// inside a nested tuple nil must not collide with
				// the terminator
				p.putBytes([]byte{nilCode, 0xFF})
			} else {
				p.putByte(nilCode)
			}
		case []byte:
			p.putByte(bytesCode)
			p.putBytesEscaped(e)
		case string:
			p.putByte(stringCode)
			p.putBytesEscaped([]byte(e))
		case int:
			p.encodeInt(int64(e))
		case int64:
			p.encodeInt(e)
		case uint:
			p.encodeUint(uint64(e))
		case uint64:
			p.encodeUint(e)
		case float32:
			p.encodeFloat(e)
		case float64:
			p.encodeDouble(e)
		case bool:
			if e {
				p.putByte(trueCode)
			} else {
				p.putByte(falseCode)
			}
		case UUID:
			p.putByte(uuidCode)
			p.putBytes(e[:])
		case Versionstamp:
			if err := p.encodeVersionstamp(e); err != nil {
				return err
			}
		case Tuple:
			if err := p.encodeTuple(e, true); err != nil {
				return err
			}
		default:
			return fmt.Errorf("%w: element %d (%T)", ErrUnsupportedElement, i, e)
		}
	}
	if nested {
		p.putByte(nilCode)
	}
	return nil
}

// Pack encodes the tuple into its order-preserving byte form. Pack panics if
// the tuple contains an element of an unsupported type; use PackErr when the
// element types are not statically known.
func (t Tuple) Pack() []byte {
	b, err := t.PackErr()
	if err != nil {
		panic(err)
	}
	return b
}

// PackErr is Pack returning an error instead of panicking.
func (t Tuple) PackErr() ([]byte, error) {
	p := newPacker()
	if err := p.encodeTuple(t, false); err != nil {
		return nil, err
	}
	return p.buf, nil
}

// PackWithVersionstamp encodes a tuple that contains exactly one incomplete
// Versionstamp, prepending the given prefix and appending the 4 byte little
// endian offset at which the engine patches in the commit version. The result
// is only valid as input to a versionstamped-key write.
func (t Tuple) PackWithVersionstamp(prefix []byte) ([]byte, error) {
	p := newPacker()
	p.putBytes(prefix)
	if err := p.encodeTuple(t, false); err != nil {
		return nil, err
	}
	if p.versionstampPos < 0 {
		return nil, ErrNoIncompleteVersionstamp
	}
	var offset [4]byte
	binary.LittleEndian.PutUint32(offset[:], uint32(p.versionstampPos))
	return append(p.buf, offset[:]...), nil
}

// HasIncompleteVersionstamp reports whether the tuple contains at least one
// incomplete versionstamp, recursing into nested tuples.
func (t Tuple) HasIncompleteVersionstamp() bool {
	for _, e := range t {
		switch e := e.(type) {
		case Versionstamp:
			if !e.IsComplete() {
				return true
			}
		case Tuple:
			if e.HasIncompleteVersionstamp() {
				return true
			}
		}
	}
	return false
}

func (t Tuple) String() string {
	var sb strings.Builder
	sb.WriteByte('(')
	for i, e := range t {
		if i > 0 {
			sb.WriteString(", ")
		}
		switch e := e.(type) {
		case nil:
			sb.WriteString("nil")
		case []byte:
			fmt.Fprintf(&sb, "b\"%x\"", e)
		case string:
			fmt.Fprintf(&sb, "%q", e)
		default:
			fmt.Fprintf(&sb, "%v", e)
		}
	}
	sb.WriteByte(')')
	return sb.String()
}

// Unpack decodes a packed tuple. It fails with a wrapped ErrTruncated or
// ErrUnknownTypeCode on malformed input; it never silently coerces bytes.
func Unpack(b []byte) (Tuple, error) {
	t, n, err := decodeTuple(b, false)
	if err != nil {
		return nil, err
	}
	if n != len(b) {
		// decodeTuple in non-nested mode consumes everything, keep the
		// invariant explicit
		return nil, fmt.Errorf("%w: %d trailing bytes", ErrTruncated, len(b)-n)
	}
	return t, nil
}

func decodeTuple(b []byte, nested bool) (Tuple, int, error) {
	t := Tuple{}
	pos := 0
	for pos < len(b) {
		code := b[pos]
		if nested && code == nilCode {
			if pos+1 < len(b) && b[pos+1] == 0xFF {
				// escaped nil inside nested tuple
				t = append(t, nil)
				pos += 2
				continue
			}
			// terminator
			return t, pos + 1, nil
		}
		el, n, err := decodeElement(b[pos:])
		if err != nil {
			return nil, 0, err
		}
		t = append(t, el)
		pos += n
	}
	if nested {
		return nil, 0, fmt.Errorf("%w: unterminated nested tuple", ErrTruncated)
	}
	return t, pos, nil
}

func decodeElement(b []byte) (TupleElement, int, error) {
	code := b[0]
	switch {
	case code == nilCode:
		return nil, 1, nil
	case code == bytesCode:
		v, n, err := decodeBytesEscaped(b[1:])
		return v, n + 1, err
	case code == stringCode:
		v, n, err := decodeBytesEscaped(b[1:])
		return string(v), n + 1, err
	case code == nestedCode:
		v, n, err := decodeTuple(b[1:], true)
		return v, n + 1, err
	case code >= negIntStart && code <= posIntEnd:
		return decodeInt(b)
	case code == floatCode:
		if len(b) < 5 {
			return nil, 0, fmt.Errorf("%w: float element", ErrTruncated)
		}
		bits := floatRestore(uint64(binary.BigEndian.Uint32(b[1:5])), 4)
		return math.Float32frombits(uint32(bits)), 5, nil
	case code == doubleCode:
		if len(b) < 9 {
			return nil, 0, fmt.Errorf("%w: double element", ErrTruncated)
		}
		bits := floatRestore(binary.BigEndian.Uint64(b[1:9]), 8)
		return math.Float64frombits(bits), 9, nil
	case code == falseCode:
		return false, 1, nil
	case code == trueCode:
		return true, 1, nil
	case code == uuidCode:
		if len(b) < 17 {
			return nil, 0, fmt.Errorf("%w: uuid element", ErrTruncated)
		}
		var u UUID
		copy(u[:], b[1:17])
		return u, 17, nil
	case code == versionstampCode:
		if len(b) < 1+versionstampLength {
			return nil, 0, fmt.Errorf("%w: versionstamp element", ErrTruncated)
		}
		var v Versionstamp
		copy(v.TransactionVersion[:], b[1:11])
		v.UserVersion = binary.BigEndian.Uint16(b[11:13])
		return v, 1 + versionstampLength, nil
	default:
		return nil, 0, fmt.Errorf("%w: 0x%02x", ErrUnknownTypeCode, code)
	}
}

func decodeBytesEscaped(b []byte) ([]byte, int, error) {
	out := make([]byte, 0, len(b))
	pos := 0
	for {
		if pos >= len(b) {
			return nil, 0, fmt.Errorf("%w: unterminated byte string", ErrTruncated)
		}
		c := b[pos]
		if c == 0x00 {
			if pos+1 < len(b) && b[pos+1] == 0xFF {
				out = append(out, 0x00)
				pos += 2
				continue
			}
			return out, pos + 1, nil
		}
		out = append(out, c)
		pos++
	}
}

func decodeInt(b []byte) (TupleElement, int, error) {
	code := b[0]
	if code == negIntStart || code == posIntEnd {
		// arbitrary-precision integer codes, not produced by this binding
		return nil, 0, fmt.Errorf("%w: big integer (code 0x%02x)", ErrIntOutOfRange, code)
	}
	if code == intZeroCode {
		return int64(0), 1, nil
	}
	if code > intZeroCode {
		byteCount := int(code - intZeroCode)
		if len(b) < 1+byteCount {
			return nil, 0, fmt.Errorf("%w: integer element", ErrTruncated)
		}
		v := bigEndianUint(b[1 : 1+byteCount])
		if v > math.MaxInt64 {
			// keep the full unsigned range representable
			return v, 1 + byteCount, nil
		}
		return int64(v), 1 + byteCount, nil
	}
	byteCount := int(intZeroCode - code)
	if len(b) < 1+byteCount {
		return nil, 0, fmt.Errorf("%w: integer element", ErrTruncated)
	}
	v := maxUintOfSize(byteCount) - bigEndianUint(b[1:1+byteCount])
	switch {
	case v == uint64(math.MaxInt64)+1:
		return int64(math.MinInt64), 1 + byteCount, nil
	case v > math.MaxInt64:
		return nil, 0, fmt.Errorf("%w: negative magnitude %d", ErrIntOutOfRange, v)
	default:
		return -int64(v), 1 + byteCount, nil
	}
}

func bigEndianUint(b []byte) uint64 {
	var v uint64
	for _, c := range b {
		v = v<<8 | uint64(c)
	}
	return v
}
