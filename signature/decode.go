package signature

import (
	"fmt"

	clrerrors "github.com/wippyai/clrmeta/errors"
	"github.com/wippyai/clrmeta/internal/binary"
	"github.com/wippyai/clrmeta/metadata"
)

// maxDepth bounds type nesting so hostile blobs cannot exhaust the stack.
const maxDepth = 64

type decoder struct {
	r     *binary.Reader
	depth int
}

func newDecoder(blob []byte) *decoder {
	return &decoder{r: binary.NewReader(blob)}
}

func (d *decoder) fail(detail string, args ...any) error {
	return clrerrors.InvalidData(clrerrors.PhaseParse, []string{"signature"},
		fmt.Sprintf("at byte %d: %s", d.r.Position(), fmt.Sprintf(detail, args...)))
}

func (d *decoder) done() error {
	if d.r.Remaining() != 0 {
		return d.fail("%d trailing bytes", d.r.Remaining())
	}
	return nil
}

func (d *decoder) token() (metadata.Token, error) {
	raw, err := d.r.ReadCompressedU32()
	if err != nil {
		return 0, err
	}
	tok, err := metadata.CodedTypeDefOrRef.Decode(raw)
	if err != nil {
		return 0, err
	}
	if tok.IsNil() {
		return 0, d.fail("null type reference")
	}
	return tok, nil
}

func (d *decoder) typ() (TypeSig, error) {
	d.depth++
	defer func() { d.depth-- }()
	if d.depth > maxDepth {
		return nil, d.fail("type nesting deeper than %d", maxDepth)
	}

	b, err := d.r.ReadByte()
	if err != nil {
		return nil, err
	}
	et := ElementType(b)
	if et.IsCorLib() {
		return &CorLibType{Type: et}, nil
	}

	switch et {
	case ElemClass, ElemValueType:
		tok, err := d.token()
		if err != nil {
			return nil, err
		}
		return &TypeDefOrRef{Token: tok, IsValueType: et == ElemValueType}, nil

	case ElemGenericInst:
		kind, err := d.r.ReadByte()
		if err != nil {
			return nil, err
		}
		if ElementType(kind) != ElemClass && ElementType(kind) != ElemValueType {
			return nil, d.fail("generic instance of element 0x%02X", kind)
		}
		tok, err := d.token()
		if err != nil {
			return nil, err
		}
		n, err := d.r.ReadCompressedU32()
		if err != nil {
			return nil, err
		}
		if n == 0 {
			return nil, d.fail("generic instance without arguments")
		}
		args, err := d.list(n)
		if err != nil {
			return nil, err
		}
		return &GenericInst{Type: tok, IsValueType: ElementType(kind) == ElemValueType, Args: args}, nil

	case ElemVar, ElemMVar:
		idx, err := d.r.ReadCompressedU32()
		if err != nil {
			return nil, err
		}
		return &GenericParam{Method: et == ElemMVar, Index: idx}, nil

	case ElemSZArray:
		elem, err := d.typ()
		if err != nil {
			return nil, err
		}
		return &SZArray{Elem: elem}, nil

	case ElemArray:
		return d.array()

	case ElemPtr, ElemByRef, ElemPinned:
		elem, err := d.typ()
		if err != nil {
			return nil, err
		}
		switch et {
		case ElemPtr:
			return &Pointer{Elem: elem}, nil
		case ElemByRef:
			return &ByRef{Elem: elem}, nil
		}
		return &Pinned{Elem: elem}, nil

	case ElemFnPtr:
		m, err := d.method()
		if err != nil {
			return nil, err
		}
		return &FnPtr{Method: m}, nil

	case ElemCModReqd, ElemCModOpt:
		tok, err := d.token()
		if err != nil {
			return nil, err
		}
		elem, err := d.typ()
		if err != nil {
			return nil, err
		}
		return &Modifier{Required: et == ElemCModReqd, Type: tok, Elem: elem}, nil
	}
	return nil, d.fail("unsupported element type 0x%02X", b)
}

func (d *decoder) array() (TypeSig, error) {
	elem, err := d.typ()
	if err != nil {
		return nil, err
	}
	rank, err := d.r.ReadCompressedU32()
	if err != nil {
		return nil, err
	}
	if rank == 0 {
		return nil, d.fail("array of rank 0")
	}
	a := &Array{Elem: elem, Rank: rank}

	n, err := d.r.ReadCompressedU32()
	if err != nil {
		return nil, err
	}
	if n > rank {
		return nil, d.fail("%d sizes for rank %d", n, rank)
	}
	for i := uint32(0); i < n; i++ {
		v, err := d.r.ReadCompressedU32()
		if err != nil {
			return nil, err
		}
		a.Sizes = append(a.Sizes, v)
	}

	n, err = d.r.ReadCompressedU32()
	if err != nil {
		return nil, err
	}
	if n > rank {
		return nil, d.fail("%d lower bounds for rank %d", n, rank)
	}
	for i := uint32(0); i < n; i++ {
		v, err := d.r.ReadCompressedI32()
		if err != nil {
			return nil, err
		}
		a.LowerBounds = append(a.LowerBounds, v)
	}
	return a, nil
}

func (d *decoder) list(n uint32) ([]TypeSig, error) {
	if int(n) > d.r.Remaining() {
		return nil, d.fail("count %d exceeds blob", n)
	}
	out := make([]TypeSig, 0, n)
	for i := uint32(0); i < n; i++ {
		t, err := d.typ()
		if err != nil {
			return nil, err
		}
		out = append(out, t)
	}
	return out, nil
}

func (d *decoder) method() (*MethodSig, error) {
	conv, err := d.r.ReadByte()
	if err != nil {
		return nil, err
	}
	switch conv & CallKindMask {
	case CallField, CallLocalSig, CallProperty, CallGenericInst:
		return nil, d.fail("calling convention 0x%02X is not a method", conv)
	}
	m := &MethodSig{CallConv: conv, Sentinel: -1}
	if conv&CallGeneric != 0 {
		if m.GenericParams, err = d.r.ReadCompressedU32(); err != nil {
			return nil, err
		}
	}
	count, err := d.r.ReadCompressedU32()
	if err != nil {
		return nil, err
	}
	if int(count) > d.r.Remaining() {
		return nil, d.fail("parameter count %d exceeds blob", count)
	}
	if m.Return, err = d.typ(); err != nil {
		return nil, err
	}
	m.Params = make([]TypeSig, 0, count)
	for uint32(len(m.Params)) < count {
		if d.r.Remaining() > 0 && d.peek() == byte(ElemSentinel) {
			if m.Sentinel >= 0 {
				return nil, d.fail("second sentinel")
			}
			_, _ = d.r.ReadByte()
			m.Sentinel = len(m.Params)
			continue
		}
		p, err := d.typ()
		if err != nil {
			return nil, err
		}
		m.Params = append(m.Params, p)
	}
	return m, nil
}

func (d *decoder) peek() byte {
	b, _ := d.r.ReadByte()
	_ = d.r.Reset(d.r.Position() - 1)
	return b
}

// DecodeMethod decodes a MethodDefSig, MethodRefSig or StandAloneMethodSig.
func DecodeMethod(blob []byte) (*MethodSig, error) {
	d := newDecoder(blob)
	m, err := d.method()
	if err != nil {
		return nil, d.r.WrapError("method signature", err)
	}
	if err := d.done(); err != nil {
		return nil, err
	}
	return m, nil
}

// DecodeField decodes a FieldSig.
func DecodeField(blob []byte) (*FieldSig, error) {
	d := newDecoder(blob)
	conv, err := d.r.ReadByte()
	if err != nil {
		return nil, d.r.WrapError("field signature", err)
	}
	if conv&CallKindMask != CallField {
		return nil, d.fail("field signature starts with 0x%02X", conv)
	}
	t, err := d.typ()
	if err != nil {
		return nil, d.r.WrapError("field signature", err)
	}
	if err := d.done(); err != nil {
		return nil, err
	}
	return &FieldSig{Type: t}, nil
}

// DecodeProperty decodes a PropertySig.
func DecodeProperty(blob []byte) (*PropertySig, error) {
	d := newDecoder(blob)
	conv, err := d.r.ReadByte()
	if err != nil {
		return nil, d.r.WrapError("property signature", err)
	}
	if conv&CallKindMask != CallProperty {
		return nil, d.fail("property signature starts with 0x%02X", conv)
	}
	p := &PropertySig{HasThis: conv&CallHasThis != 0}
	count, err := d.r.ReadCompressedU32()
	if err != nil {
		return nil, d.r.WrapError("property signature", err)
	}
	if p.Type, err = d.typ(); err != nil {
		return nil, d.r.WrapError("property signature", err)
	}
	if p.Params, err = d.list(count); err != nil {
		return nil, d.r.WrapError("property signature", err)
	}
	if err := d.done(); err != nil {
		return nil, err
	}
	return p, nil
}

// DecodeLocalVar decodes a LocalVarSig.
func DecodeLocalVar(blob []byte) (*LocalVarSig, error) {
	d := newDecoder(blob)
	conv, err := d.r.ReadByte()
	if err != nil {
		return nil, d.r.WrapError("local signature", err)
	}
	if conv != CallLocalSig {
		return nil, d.fail("local signature starts with 0x%02X", conv)
	}
	count, err := d.r.ReadCompressedU32()
	if err != nil {
		return nil, d.r.WrapError("local signature", err)
	}
	locals, err := d.list(count)
	if err != nil {
		return nil, d.r.WrapError("local signature", err)
	}
	if err := d.done(); err != nil {
		return nil, err
	}
	return &LocalVarSig{Locals: locals}, nil
}

// DecodeMethodSpec decodes a MethodSpec instantiation blob.
func DecodeMethodSpec(blob []byte) (*MethodSpecSig, error) {
	d := newDecoder(blob)
	conv, err := d.r.ReadByte()
	if err != nil {
		return nil, d.r.WrapError("method spec signature", err)
	}
	if conv != CallGenericInst {
		return nil, d.fail("method spec starts with 0x%02X", conv)
	}
	count, err := d.r.ReadCompressedU32()
	if err != nil {
		return nil, d.r.WrapError("method spec signature", err)
	}
	args, err := d.list(count)
	if err != nil {
		return nil, d.r.WrapError("method spec signature", err)
	}
	if err := d.done(); err != nil {
		return nil, err
	}
	return &MethodSpecSig{Args: args}, nil
}

// DecodeTypeSpec decodes the single type held by a TypeSpec blob.
func DecodeTypeSpec(blob []byte) (*TypeSpecSig, error) {
	d := newDecoder(blob)
	t, err := d.typ()
	if err != nil {
		return nil, d.r.WrapError("type spec signature", err)
	}
	if err := d.done(); err != nil {
		return nil, err
	}
	return &TypeSpecSig{Type: t}, nil
}

// Decode inspects the leading byte and decodes a field, property, local,
// method spec or method signature.
func Decode(blob []byte) (Signature, error) {
	if len(blob) == 0 {
		return nil, clrerrors.InvalidData(clrerrors.PhaseParse, []string{"signature"}, "empty blob")
	}
	var (
		sig Signature
		err error
	)
	switch blob[0] & CallKindMask {
	case CallField:
		sig, err = DecodeField(blob)
	case CallLocalSig:
		sig, err = DecodeLocalVar(blob)
	case CallProperty:
		sig, err = DecodeProperty(blob)
	case CallGenericInst:
		sig, err = DecodeMethodSpec(blob)
	default:
		sig, err = DecodeMethod(blob)
	}
	if err != nil {
		return nil, err
	}
	return sig, nil
}

// DecodeOrRaw is Decode that falls back to Raw for blobs it cannot parse.
func DecodeOrRaw(blob []byte) Signature {
	sig, err := Decode(blob)
	if err != nil {
		return &Raw{Data: append([]byte(nil), blob...)}
	}
	return sig
}

// TypeSpecOrRaw is DecodeTypeSpec that falls back to Raw.
func TypeSpecOrRaw(blob []byte) Signature {
	sig, err := DecodeTypeSpec(blob)
	if err != nil {
		return &Raw{Data: append([]byte(nil), blob...)}
	}
	return sig
}
