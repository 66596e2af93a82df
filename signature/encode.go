package signature

import (
	"fmt"

	clrerrors "github.com/wippyai/clrmeta/errors"
	"github.com/wippyai/clrmeta/internal/binary"
	"github.com/wippyai/clrmeta/metadata"
)

// TokenMapper rewrites a type token embedded in a signature. A nil mapper
// keeps tokens unchanged.
type TokenMapper func(metadata.Token) (metadata.Token, error)

type encoder struct {
	w        *binary.Writer
	mapToken TokenMapper
}

// Encode serializes sig, passing every embedded type token through mapToken.
func Encode(sig Signature, mapToken TokenMapper) ([]byte, error) {
	if sig == nil {
		return nil, clrerrors.InvalidInput(clrerrors.PhaseWrite, "nil signature")
	}
	e := &encoder{w: binary.NewWriter(), mapToken: mapToken}
	if err := sig.encode(e); err != nil {
		return nil, fmt.Errorf("encode signature: %w", err)
	}
	return e.w.Bytes(), nil
}

// Tokens reports every type token referenced by sig, in encoding order.
func Tokens(sig Signature) []metadata.Token {
	var out []metadata.Token
	if sig == nil {
		return nil
	}
	_, _ = Encode(sig, func(t metadata.Token) (metadata.Token, error) {
		out = append(out, t)
		return t, nil
	})
	return out
}

func (e *encoder) token(t metadata.Token) error {
	if e.mapToken != nil {
		mapped, err := e.mapToken(t)
		if err != nil {
			return err
		}
		t = mapped
	}
	raw, err := metadata.CodedTypeDefOrRef.Encode(t)
	if err != nil {
		return err
	}
	return e.w.WriteCompressedU32(raw)
}

func (e *encoder) types(list []TypeSig) error {
	for _, t := range list {
		if err := encodeType(e, t); err != nil {
			return err
		}
	}
	return nil
}

func encodeType(e *encoder, t TypeSig) error {
	if t == nil {
		return clrerrors.InvalidInput(clrerrors.PhaseWrite, "nil type in signature")
	}
	return t.encode(e)
}

func (t *CorLibType) encode(e *encoder) error {
	if !t.Type.IsCorLib() {
		return clrerrors.InvalidData(clrerrors.PhaseWrite, []string{"signature"},
			fmt.Sprintf("element 0x%02X is not a primitive", uint8(t.Type)))
	}
	e.w.Byte(byte(t.Type))
	return nil
}

func (t *TypeDefOrRef) encode(e *encoder) error {
	e.w.Byte(byte(t.ElementType()))
	return e.token(t.Token)
}

func (t *GenericInst) encode(e *encoder) error {
	e.w.Byte(byte(ElemGenericInst))
	if t.IsValueType {
		e.w.Byte(byte(ElemValueType))
	} else {
		e.w.Byte(byte(ElemClass))
	}
	if err := e.token(t.Type); err != nil {
		return err
	}
	if err := e.w.WriteCompressedU32(uint32(len(t.Args))); err != nil {
		return err
	}
	return e.types(t.Args)
}

func (t *GenericParam) encode(e *encoder) error {
	e.w.Byte(byte(t.ElementType()))
	return e.w.WriteCompressedU32(t.Index)
}

func (t *SZArray) encode(e *encoder) error {
	e.w.Byte(byte(ElemSZArray))
	return encodeType(e, t.Elem)
}

func (t *Array) encode(e *encoder) error {
	e.w.Byte(byte(ElemArray))
	if err := encodeType(e, t.Elem); err != nil {
		return err
	}
	if err := e.w.WriteCompressedU32(t.Rank); err != nil {
		return err
	}
	if err := e.w.WriteCompressedU32(uint32(len(t.Sizes))); err != nil {
		return err
	}
	for _, s := range t.Sizes {
		if err := e.w.WriteCompressedU32(s); err != nil {
			return err
		}
	}
	if err := e.w.WriteCompressedU32(uint32(len(t.LowerBounds))); err != nil {
		return err
	}
	for _, lb := range t.LowerBounds {
		if err := e.w.WriteCompressedI32(lb); err != nil {
			return err
		}
	}
	return nil
}

func (t *Pointer) encode(e *encoder) error {
	e.w.Byte(byte(ElemPtr))
	return encodeType(e, t.Elem)
}

func (t *ByRef) encode(e *encoder) error {
	e.w.Byte(byte(ElemByRef))
	return encodeType(e, t.Elem)
}

func (t *Pinned) encode(e *encoder) error {
	e.w.Byte(byte(ElemPinned))
	return encodeType(e, t.Elem)
}

func (t *FnPtr) encode(e *encoder) error {
	e.w.Byte(byte(ElemFnPtr))
	return t.Method.encode(e)
}

func (t *Modifier) encode(e *encoder) error {
	e.w.Byte(byte(t.ElementType()))
	if err := e.token(t.Type); err != nil {
		return err
	}
	return encodeType(e, t.Elem)
}

func (m *MethodSig) encode(e *encoder) error {
	e.w.Byte(m.CallConv)
	if m.CallConv&CallGeneric != 0 {
		if err := e.w.WriteCompressedU32(m.GenericParams); err != nil {
			return err
		}
	}
	if err := e.w.WriteCompressedU32(uint32(len(m.Params))); err != nil {
		return err
	}
	if err := encodeType(e, m.Return); err != nil {
		return err
	}
	for i, p := range m.Params {
		if i == m.Sentinel {
			e.w.Byte(byte(ElemSentinel))
		}
		if err := encodeType(e, p); err != nil {
			return err
		}
	}
	return nil
}

func (f *FieldSig) encode(e *encoder) error {
	e.w.Byte(CallField)
	return encodeType(e, f.Type)
}

func (p *PropertySig) encode(e *encoder) error {
	conv := CallProperty
	if p.HasThis {
		conv |= CallHasThis
	}
	e.w.Byte(conv)
	if err := e.w.WriteCompressedU32(uint32(len(p.Params))); err != nil {
		return err
	}
	if err := encodeType(e, p.Type); err != nil {
		return err
	}
	return e.types(p.Params)
}

func (l *LocalVarSig) encode(e *encoder) error {
	e.w.Byte(CallLocalSig)
	if err := e.w.WriteCompressedU32(uint32(len(l.Locals))); err != nil {
		return err
	}
	return e.types(l.Locals)
}

func (s *MethodSpecSig) encode(e *encoder) error {
	e.w.Byte(CallGenericInst)
	if err := e.w.WriteCompressedU32(uint32(len(s.Args))); err != nil {
		return err
	}
	return e.types(s.Args)
}

func (s *TypeSpecSig) encode(e *encoder) error {
	return encodeType(e, s.Type)
}

func (r *Raw) encode(e *encoder) error {
	e.w.WriteBytes(r.Data)
	return nil
}
