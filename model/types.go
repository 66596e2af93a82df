package model

import (
	"fmt"

	"github.com/wippyai/clrmeta/metadata"
	"github.com/wippyai/clrmeta/signature"
)

// Version is a four-part assembly version.
type Version struct {
	Major, Minor, Build, Revision uint16
}

func (v Version) String() string {
	return fmt.Sprintf("%d.%d.%d.%d", v.Major, v.Minor, v.Build, v.Revision)
}

// Assembly flag bits used by the resolver.
const (
	AssemblyPublicKey uint32 = 0x0001
)

// Assembly is the assembly manifest of a module.
type Assembly struct {
	HashAlgorithm uint32
	Version       Version
	Flags         uint32
	PublicKey     []byte
	Name          string
	Culture       string
}

// AssemblyRef references another assembly.
type AssemblyRef struct {
	Version          Version
	Flags            uint32
	PublicKeyOrToken []byte
	Name             string
	Culture          string
	HashValue        []byte
}

// ModuleRef references another module of the same assembly, or a native library.
type ModuleRef struct {
	Name string
}

// TypeRef references a type by name through a resolution scope.
type TypeRef struct {
	// ResolutionScope is a Module, ModuleRef, AssemblyRef or TypeRef token.
	ResolutionScope metadata.Token
	Name            string
	Namespace       string
}

// TypeDef is a type defined in this module.
type TypeDef struct {
	Flags     uint32
	Name      string
	Namespace string
	Extends   metadata.Token

	// DeclaringType is the enclosing TypeDef of a nested type.
	DeclaringType metadata.Token

	Fields        []metadata.Token
	Methods       []metadata.Token
	Properties    []metadata.Token
	Events        []metadata.Token
	Interfaces    []metadata.Token
	GenericParams []metadata.Token
	MethodImpls   []MethodImpl
	Layout        *ClassLayout
}

// IsNested reports whether the type has an enclosing type.
func (t *TypeDef) IsNested() bool {
	return !t.DeclaringType.IsNil()
}

// ClassLayout holds explicit packing and size of a type.
type ClassLayout struct {
	PackingSize uint16
	ClassSize   uint32
}

// MethodImpl maps a body to the declaration it implements.
type MethodImpl struct {
	Body        metadata.Token
	Declaration metadata.Token
}

// Constant is the default value of a field, parameter or property.
type Constant struct {
	Type  signature.ElementType
	Value []byte
}

// ImplMap describes a P/Invoke import.
type ImplMap struct {
	Flags uint16
	Name  string
	Scope metadata.Token
}

// FieldDef is a field of a TypeDef.
type FieldDef struct {
	Flags         uint16
	Name          string
	Signature     signature.Signature
	DeclaringType metadata.Token

	Constant *Constant
	Marshal  []byte
	ImplMap  *ImplMap

	HasOffset bool
	Offset    uint32

	// RVA locates static initial data; InitialValue is loaded when the
	// field size is known.
	RVA          uint32
	InitialValue []byte
}

// MethodDef is a method of a TypeDef.
type MethodDef struct {
	RVA           uint32
	ImplFlags     uint16
	Flags         uint16
	Name          string
	Signature     signature.Signature
	DeclaringType metadata.Token

	Params        []metadata.Token
	GenericParams []metadata.Token
	ImplMap       *ImplMap
}

// ParamDef is a parameter of a MethodDef. Sequence 0 is the return value.
type ParamDef struct {
	Flags    uint16
	Sequence uint16
	Name     string
	Method   metadata.Token
	Constant *Constant
	Marshal  []byte
}

// MethodSemantic binds an accessor method to a property or event.
type MethodSemantic struct {
	Attributes uint16
	Method     metadata.Token
}

// Method semantics attributes.
const (
	SemanticSetter   uint16 = 0x0001
	SemanticGetter   uint16 = 0x0002
	SemanticOther    uint16 = 0x0004
	SemanticAddOn    uint16 = 0x0008
	SemanticRemoveOn uint16 = 0x0010
	SemanticFire     uint16 = 0x0020
)

// PropertyDef is a property of a TypeDef.
type PropertyDef struct {
	Flags         uint16
	Name          string
	Signature     signature.Signature
	DeclaringType metadata.Token
	Constant      *Constant
	Semantics     []MethodSemantic
}

// EventDef is an event of a TypeDef.
type EventDef struct {
	Flags         uint16
	Name          string
	EventType     metadata.Token
	DeclaringType metadata.Token
	Semantics     []MethodSemantic
}

// MemberRef references a field or method of another type.
type MemberRef struct {
	// Class is a TypeDef, TypeRef, ModuleRef, MethodDef or TypeSpec token.
	Class     metadata.Token
	Name      string
	Signature signature.Signature
}

// IsField reports whether the reference targets a field.
func (m *MemberRef) IsField() bool {
	_, ok := m.Signature.(*signature.FieldSig)
	return ok
}

// TypeSpec is a constructed type referenced by signature.
type TypeSpec struct {
	Signature signature.Signature
}

// MethodSpec instantiates a generic method.
type MethodSpec struct {
	Method        metadata.Token
	Instantiation signature.Signature
}

// StandAloneSig is a local variable or call-site signature.
type StandAloneSig struct {
	Signature signature.Signature
}

// InterfaceImpl records that Class implements Interface.
type InterfaceImpl struct {
	Class     metadata.Token
	Interface metadata.Token
}

// GenericParam is a generic parameter of a type or method.
type GenericParam struct {
	Number      uint16
	Flags       uint16
	Owner       metadata.Token
	Name        string
	Constraints []metadata.Token
}

// GenericParamConstraint constrains a generic parameter to a type.
type GenericParamConstraint struct {
	Owner      metadata.Token
	Constraint metadata.Token
}

// CustomAttribute attaches an attribute constructor call to a parent.
type CustomAttribute struct {
	Parent      metadata.Token
	Constructor metadata.Token
	Value       []byte
}

// DeclSecurity attaches a permission set to a type, method or assembly.
type DeclSecurity struct {
	Action        uint16
	Parent        metadata.Token
	PermissionSet []byte
}

// File is a file of a multi-file assembly.
type File struct {
	Flags     uint32
	Name      string
	HashValue []byte
}

// ExportedType is a type forwarded or exported by the assembly.
type ExportedType struct {
	Flags          uint32
	TypeDefID      uint32
	Name           string
	Namespace      string
	Implementation metadata.Token
}

// ManifestResource is a resource of the assembly.
type ManifestResource struct {
	Offset         uint32
	Flags          uint32
	Name           string
	Implementation metadata.Token
}
