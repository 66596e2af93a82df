package signature

import (
	"fmt"
	"strings"

	"github.com/wippyai/clrmeta/metadata"
)

// ElementType is the leading byte of a type in a signature blob.
type ElementType uint8

const (
	ElemEnd         ElementType = 0x00
	ElemVoid        ElementType = 0x01
	ElemBoolean     ElementType = 0x02
	ElemChar        ElementType = 0x03
	ElemI1          ElementType = 0x04
	ElemU1          ElementType = 0x05
	ElemI2          ElementType = 0x06
	ElemU2          ElementType = 0x07
	ElemI4          ElementType = 0x08
	ElemU4          ElementType = 0x09
	ElemI8          ElementType = 0x0A
	ElemU8          ElementType = 0x0B
	ElemR4          ElementType = 0x0C
	ElemR8          ElementType = 0x0D
	ElemString      ElementType = 0x0E
	ElemPtr         ElementType = 0x0F
	ElemByRef       ElementType = 0x10
	ElemValueType   ElementType = 0x11
	ElemClass       ElementType = 0x12
	ElemVar         ElementType = 0x13
	ElemArray       ElementType = 0x14
	ElemGenericInst ElementType = 0x15
	ElemTypedByRef  ElementType = 0x16
	ElemI           ElementType = 0x18
	ElemU           ElementType = 0x19
	ElemFnPtr       ElementType = 0x1B
	ElemObject      ElementType = 0x1C
	ElemSZArray     ElementType = 0x1D
	ElemMVar        ElementType = 0x1E
	ElemCModReqd    ElementType = 0x1F
	ElemCModOpt     ElementType = 0x20
	ElemInternal    ElementType = 0x21
	ElemSentinel    ElementType = 0x41
	ElemPinned      ElementType = 0x45
)

var corLibNames = map[ElementType]string{
	ElemVoid: "void", ElemBoolean: "bool", ElemChar: "char", ElemI1: "sbyte", ElemU1: "byte",
	ElemI2: "short", ElemU2: "ushort", ElemI4: "int", ElemU4: "uint", ElemI8: "long", ElemU8: "ulong",
	ElemR4: "float", ElemR8: "double", ElemString: "string", ElemTypedByRef: "typedref",
	ElemI: "nint", ElemU: "nuint", ElemObject: "object",
}

// IsCorLib reports whether e is a primitive encoded as a single byte.
func (e ElementType) IsCorLib() bool {
	_, ok := corLibNames[e]
	return ok
}

// Size returns the storage size of a fixed-size primitive, or 0.
func (e ElementType) Size() uint32 {
	switch e {
	case ElemBoolean, ElemI1, ElemU1:
		return 1
	case ElemChar, ElemI2, ElemU2:
		return 2
	case ElemI4, ElemU4, ElemR4:
		return 4
	case ElemI8, ElemU8, ElemR8:
		return 8
	}
	return 0
}

// Calling convention bits of the first signature byte.
const (
	CallDefault      byte = 0x00
	CallC            byte = 0x01
	CallStdCall      byte = 0x02
	CallThisCall     byte = 0x03
	CallFastCall     byte = 0x04
	CallVarArg       byte = 0x05
	CallField        byte = 0x06
	CallLocalSig     byte = 0x07
	CallProperty     byte = 0x08
	CallUnmanaged    byte = 0x09
	CallGenericInst  byte = 0x0A
	CallNativeVarArg byte = 0x0B
	CallKindMask     byte = 0x0F

	CallGeneric      byte = 0x10
	CallHasThis      byte = 0x20
	CallExplicitThis byte = 0x40
)

// TypeSig is one type inside a signature blob.
type TypeSig interface {
	ElementType() ElementType
	encode(e *encoder) error
	format(b *strings.Builder)
}

// CorLibType is a primitive such as int32, string or object.
type CorLibType struct {
	Type ElementType
}

// TypeDefOrRef is a class or value type referenced by token.
type TypeDefOrRef struct {
	Token       metadata.Token
	IsValueType bool
}

// GenericInst is an instantiated generic type.
type GenericInst struct {
	Type        metadata.Token
	IsValueType bool
	Args        []TypeSig
}

// GenericParam is a type (Var) or method (MVar) generic parameter.
type GenericParam struct {
	Method bool
	Index  uint32
}

// SZArray is a single-dimension zero-based array.
type SZArray struct {
	Elem TypeSig
}

// Array is a general array with explicit rank, sizes and lower bounds.
type Array struct {
	Elem        TypeSig
	Rank        uint32
	Sizes       []uint32
	LowerBounds []int32
}

// Pointer is an unmanaged pointer.
type Pointer struct {
	Elem TypeSig
}

// ByRef is a managed reference.
type ByRef struct {
	Elem TypeSig
}

// Pinned marks a pinned local.
type Pinned struct {
	Elem TypeSig
}

// FnPtr is a function pointer.
type FnPtr struct {
	Method *MethodSig
}

// Modifier is a required or optional custom modifier applied to Elem.
type Modifier struct {
	Required bool
	Type     metadata.Token
	Elem     TypeSig
}

func (t *CorLibType) ElementType() ElementType { return t.Type }

func (t *TypeDefOrRef) ElementType() ElementType {
	if t.IsValueType {
		return ElemValueType
	}
	return ElemClass
}

func (t *GenericInst) ElementType() ElementType { return ElemGenericInst }

func (t *GenericParam) ElementType() ElementType {
	if t.Method {
		return ElemMVar
	}
	return ElemVar
}

func (t *SZArray) ElementType() ElementType { return ElemSZArray }
func (t *Array) ElementType() ElementType   { return ElemArray }
func (t *Pointer) ElementType() ElementType { return ElemPtr }
func (t *ByRef) ElementType() ElementType   { return ElemByRef }
func (t *Pinned) ElementType() ElementType  { return ElemPinned }
func (t *FnPtr) ElementType() ElementType   { return ElemFnPtr }

func (t *Modifier) ElementType() ElementType {
	if t.Required {
		return ElemCModReqd
	}
	return ElemCModOpt
}

// Signature is a decoded blob that can be re-encoded.
type Signature interface {
	encode(e *encoder) error
}

// MethodSig is a method definition, reference or function pointer signature.
type MethodSig struct {
	CallConv      byte
	GenericParams uint32
	Return        TypeSig
	Params        []TypeSig

	// Sentinel is the index in Params where vararg arguments start, or -1.
	Sentinel int
}

// NewMethodSig returns a non-vararg method signature.
func NewMethodSig(conv byte, ret TypeSig, params ...TypeSig) *MethodSig {
	return &MethodSig{CallConv: conv, Return: ret, Params: params, Sentinel: -1}
}

// HasThis reports whether the method takes an instance pointer.
func (m *MethodSig) HasThis() bool { return m.CallConv&CallHasThis != 0 }

// Generic reports whether the method declares generic parameters.
func (m *MethodSig) Generic() bool { return m.CallConv&CallGeneric != 0 }

// FieldSig is the signature of a field.
type FieldSig struct {
	Type TypeSig
}

// PropertySig is the signature of a property.
type PropertySig struct {
	HasThis bool
	Type    TypeSig
	Params  []TypeSig
}

// LocalVarSig lists the locals of a method body.
type LocalVarSig struct {
	Locals []TypeSig
}

// MethodSpecSig lists the type arguments of a generic method instantiation.
type MethodSpecSig struct {
	Args []TypeSig
}

// TypeSpecSig is the blob of a TypeSpec row: a single type.
type TypeSpecSig struct {
	Type TypeSig
}

// Raw is a blob that could not be decoded; it is written back verbatim.
type Raw struct {
	Data []byte
}

// Format renders t in a C#-like notation for diagnostics.
func Format(t TypeSig) string {
	if t == nil {
		return "<nil>"
	}
	var b strings.Builder
	t.format(&b)
	return b.String()
}

func (t *CorLibType) format(b *strings.Builder) {
	if n, ok := corLibNames[t.Type]; ok {
		b.WriteString(n)
		return
	}
	fmt.Fprintf(b, "elem(0x%02X)", uint8(t.Type))
}

func (t *TypeDefOrRef) format(b *strings.Builder) {
	if t.IsValueType {
		b.WriteString("valuetype ")
	}
	b.WriteString(t.Token.String())
}

func (t *GenericInst) format(b *strings.Builder) {
	b.WriteString(t.Type.String())
	b.WriteByte('<')
	formatList(b, t.Args)
	b.WriteByte('>')
}

func (t *GenericParam) format(b *strings.Builder) {
	if t.Method {
		b.WriteString("!!")
	} else {
		b.WriteByte('!')
	}
	fmt.Fprintf(b, "%d", t.Index)
}

func (t *SZArray) format(b *strings.Builder) {
	t.Elem.format(b)
	b.WriteString("[]")
}

func (t *Array) format(b *strings.Builder) {
	t.Elem.format(b)
	b.WriteByte('[')
	b.WriteString(strings.Repeat(",", int(t.Rank)-1))
	b.WriteByte(']')
}

func (t *Pointer) format(b *strings.Builder) {
	t.Elem.format(b)
	b.WriteByte('*')
}

func (t *ByRef) format(b *strings.Builder) {
	t.Elem.format(b)
	b.WriteByte('&')
}

func (t *Pinned) format(b *strings.Builder) {
	t.Elem.format(b)
	b.WriteString(" pinned")
}

func (t *FnPtr) format(b *strings.Builder) {
	b.WriteString("method ")
	t.Method.Return.format(b)
	b.WriteString(" *(")
	formatList(b, t.Method.Params)
	b.WriteByte(')')
}

func (t *Modifier) format(b *strings.Builder) {
	t.Elem.format(b)
	if t.Required {
		b.WriteString(" modreq(")
	} else {
		b.WriteString(" modopt(")
	}
	b.WriteString(t.Type.String())
	b.WriteByte(')')
}

func formatList(b *strings.Builder, list []TypeSig) {
	for i, a := range list {
		if i > 0 {
			b.WriteString(", ")
		}
		a.format(b)
	}
}
