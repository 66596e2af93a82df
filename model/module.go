package model

import (
	"github.com/google/uuid"

	"github.com/wippyai/clrmeta/errors"
	"github.com/wippyai/clrmeta/metadata"
)

// ModuleTypeName is the name of the pseudo type holding global members.
const ModuleTypeName = "<Module>"

// Module is the object graph of one metadata root. Every member lives in a
// per-kind arena; a member's token is its table kind plus its 1-based arena
// index. Cross references are tokens, never pointers.
type Module struct {
	Generation uint16
	Name       string
	Mvid       uuid.UUID
	EncID      uuid.UUID
	EncBaseID  uuid.UUID

	// RuntimeVersion is the version string of the metadata root.
	RuntimeVersion string

	// Assembly is nil for a netmodule.
	Assembly *Assembly

	// UserStrings is the original #US heap; literals in method bodies refer
	// to its offsets.
	UserStrings *metadata.UserStringsHeap

	TypeRefs                []*TypeRef
	TypeDefs                []*TypeDef
	Fields                  []*FieldDef
	Methods                 []*MethodDef
	Params                  []*ParamDef
	InterfaceImpls          []*InterfaceImpl
	MemberRefs              []*MemberRef
	CustomAttributes        []*CustomAttribute
	DeclSecurities          []*DeclSecurity
	StandAloneSigs          []*StandAloneSig
	Events                  []*EventDef
	Properties              []*PropertyDef
	ModuleRefs              []*ModuleRef
	TypeSpecs               []*TypeSpec
	AssemblyRefs            []*AssemblyRef
	Files                   []*File
	ExportedTypes           []*ExportedType
	Resources               []*ManifestResource
	GenericParams           []*GenericParam
	MethodSpecs             []*MethodSpec
	GenericParamConstraints []*GenericParamConstraint
}

// NewModule creates a module with a fresh MVID and the <Module> type.
func NewModule(name string) *Module {
	m := &Module{
		Name:           name,
		Mvid:           uuid.New(),
		RuntimeVersion: metadata.DefaultVersion,
	}
	m.TypeDefs = append(m.TypeDefs, &TypeDef{Name: ModuleTypeName})
	return m
}

// Token returns the token of the module row.
func (m *Module) Token() metadata.Token {
	return metadata.NewToken(metadata.TableModule, 1)
}

func at[T any](arena []*T, rid uint32) (*T, bool) {
	if rid == 0 || int(rid) > len(arena) {
		return nil, false
	}
	return arena[rid-1], true
}

// Lookup returns the member a token refers to.
func (m *Module) Lookup(token metadata.Token) (any, bool) {
	rid := token.Rid()
	switch token.Table() {
	case metadata.TableModule:
		return m, rid == 1
	case metadata.TableAssembly:
		return m.Assembly, rid == 1 && m.Assembly != nil
	case metadata.TableTypeRef:
		return at(m.TypeRefs, rid)
	case metadata.TableTypeDef:
		return at(m.TypeDefs, rid)
	case metadata.TableField:
		return at(m.Fields, rid)
	case metadata.TableMethod:
		return at(m.Methods, rid)
	case metadata.TableParam:
		return at(m.Params, rid)
	case metadata.TableInterfaceImpl:
		return at(m.InterfaceImpls, rid)
	case metadata.TableMemberRef:
		return at(m.MemberRefs, rid)
	case metadata.TableCustomAttribute:
		return at(m.CustomAttributes, rid)
	case metadata.TableDeclSecurity:
		return at(m.DeclSecurities, rid)
	case metadata.TableStandAloneSig:
		return at(m.StandAloneSigs, rid)
	case metadata.TableEvent:
		return at(m.Events, rid)
	case metadata.TableProperty:
		return at(m.Properties, rid)
	case metadata.TableModuleRef:
		return at(m.ModuleRefs, rid)
	case metadata.TableTypeSpec:
		return at(m.TypeSpecs, rid)
	case metadata.TableAssemblyRef:
		return at(m.AssemblyRefs, rid)
	case metadata.TableFile:
		return at(m.Files, rid)
	case metadata.TableExportedType:
		return at(m.ExportedTypes, rid)
	case metadata.TableManifestResource:
		return at(m.Resources, rid)
	case metadata.TableGenericParam:
		return at(m.GenericParams, rid)
	case metadata.TableMethodSpec:
		return at(m.MethodSpecs, rid)
	case metadata.TableGenericParamConstraint:
		return at(m.GenericParamConstraints, rid)
	}
	return nil, false
}

// TypeDef returns the type definition for a TypeDef token.
func (m *Module) TypeDef(token metadata.Token) (*TypeDef, bool) {
	if token.Table() != metadata.TableTypeDef {
		return nil, false
	}
	return at(m.TypeDefs, token.Rid())
}

// TypeRef returns the type reference for a TypeRef token.
func (m *Module) TypeRef(token metadata.Token) (*TypeRef, bool) {
	if token.Table() != metadata.TableTypeRef {
		return nil, false
	}
	return at(m.TypeRefs, token.Rid())
}

// Field returns the field for a Field token.
func (m *Module) Field(token metadata.Token) (*FieldDef, bool) {
	if token.Table() != metadata.TableField {
		return nil, false
	}
	return at(m.Fields, token.Rid())
}

// Method returns the method for a MethodDef token.
func (m *Module) Method(token metadata.Token) (*MethodDef, bool) {
	if token.Table() != metadata.TableMethod {
		return nil, false
	}
	return at(m.Methods, token.Rid())
}

// MemberRef returns the member reference for a MemberRef token.
func (m *Module) MemberRef(token metadata.Token) (*MemberRef, bool) {
	if token.Table() != metadata.TableMemberRef {
		return nil, false
	}
	return at(m.MemberRefs, token.Rid())
}

// AssemblyRef returns the assembly reference for an AssemblyRef token.
func (m *Module) AssemblyRef(token metadata.Token) (*AssemblyRef, bool) {
	if token.Table() != metadata.TableAssemblyRef {
		return nil, false
	}
	return at(m.AssemblyRefs, token.Rid())
}

// FindType returns the top-level type with the given namespace and name.
func (m *Module) FindType(namespace, name string) (metadata.Token, *TypeDef, bool) {
	for i, t := range m.TypeDefs {
		if t.Name == name && t.Namespace == namespace && !t.IsNested() {
			return metadata.NewToken(metadata.TableTypeDef, uint32(i+1)), t, true
		}
	}
	return 0, nil, false
}

// FindNested returns the type named name nested directly in declaring.
func (m *Module) FindNested(declaring metadata.Token, name string) (metadata.Token, *TypeDef, bool) {
	for i, t := range m.TypeDefs {
		if t.DeclaringType == declaring && t.Name == name {
			return metadata.NewToken(metadata.TableTypeDef, uint32(i+1)), t, true
		}
	}
	return 0, nil, false
}

// CustomAttributesOf returns the attributes attached to parent.
func (m *Module) CustomAttributesOf(parent metadata.Token) []*CustomAttribute {
	var out []*CustomAttribute
	for _, ca := range m.CustomAttributes {
		if ca.Parent == parent {
			out = append(out, ca)
		}
	}
	return out
}

func add[T any](arena *[]*T, kind metadata.TableKind, v *T) (metadata.Token, error) {
	if len(*arena) >= metadata.MaxRid {
		return 0, errors.Overflow(errors.PhaseBuild, []string{kind.String()}, len(*arena)+1, 3)
	}
	*arena = append(*arena, v)
	return metadata.NewToken(kind, uint32(len(*arena))), nil
}

func (m *Module) typeDef(owner metadata.Token) (*TypeDef, error) {
	t, ok := m.TypeDef(owner)
	if !ok {
		return nil, errors.NotFound(errors.PhaseBuild, "type", owner.String())
	}
	return t, nil
}

// AddTypeRef appends a type reference.
func (m *Module) AddTypeRef(r *TypeRef) (metadata.Token, error) {
	return add(&m.TypeRefs, metadata.TableTypeRef, r)
}

// AddTypeDef appends a type definition. A type with a DeclaringType is nested.
func (m *Module) AddTypeDef(t *TypeDef) (metadata.Token, error) {
	if !t.DeclaringType.IsNil() {
		if _, err := m.typeDef(t.DeclaringType); err != nil {
			return 0, err
		}
	}
	return add(&m.TypeDefs, metadata.TableTypeDef, t)
}

// AddField appends f to the type owner.
func (m *Module) AddField(owner metadata.Token, f *FieldDef) (metadata.Token, error) {
	t, err := m.typeDef(owner)
	if err != nil {
		return 0, err
	}
	tok, err := add(&m.Fields, metadata.TableField, f)
	if err != nil {
		return 0, err
	}
	f.DeclaringType = owner
	t.Fields = append(t.Fields, tok)
	return tok, nil
}

// AddMethod appends md to the type owner.
func (m *Module) AddMethod(owner metadata.Token, md *MethodDef) (metadata.Token, error) {
	t, err := m.typeDef(owner)
	if err != nil {
		return 0, err
	}
	tok, err := add(&m.Methods, metadata.TableMethod, md)
	if err != nil {
		return 0, err
	}
	md.DeclaringType = owner
	t.Methods = append(t.Methods, tok)
	return tok, nil
}

// AddParam appends p to the method owner.
func (m *Module) AddParam(owner metadata.Token, p *ParamDef) (metadata.Token, error) {
	md, ok := m.Method(owner)
	if !ok {
		return 0, errors.NotFound(errors.PhaseBuild, "method", owner.String())
	}
	tok, err := add(&m.Params, metadata.TableParam, p)
	if err != nil {
		return 0, err
	}
	p.Method = owner
	md.Params = append(md.Params, tok)
	return tok, nil
}

// AddProperty appends p to the type owner.
func (m *Module) AddProperty(owner metadata.Token, p *PropertyDef) (metadata.Token, error) {
	t, err := m.typeDef(owner)
	if err != nil {
		return 0, err
	}
	tok, err := add(&m.Properties, metadata.TableProperty, p)
	if err != nil {
		return 0, err
	}
	p.DeclaringType = owner
	t.Properties = append(t.Properties, tok)
	return tok, nil
}

// AddEvent appends e to the type owner.
func (m *Module) AddEvent(owner metadata.Token, e *EventDef) (metadata.Token, error) {
	t, err := m.typeDef(owner)
	if err != nil {
		return 0, err
	}
	tok, err := add(&m.Events, metadata.TableEvent, e)
	if err != nil {
		return 0, err
	}
	e.DeclaringType = owner
	t.Events = append(t.Events, tok)
	return tok, nil
}

// AddInterfaceImpl records that class implements iface.
func (m *Module) AddInterfaceImpl(class, iface metadata.Token) (metadata.Token, error) {
	t, err := m.typeDef(class)
	if err != nil {
		return 0, err
	}
	tok, err := add(&m.InterfaceImpls, metadata.TableInterfaceImpl, &InterfaceImpl{Class: class, Interface: iface})
	if err != nil {
		return 0, err
	}
	t.Interfaces = append(t.Interfaces, tok)
	return tok, nil
}

// AddGenericParam appends a generic parameter to a TypeDef or MethodDef owner.
func (m *Module) AddGenericParam(owner metadata.Token, gp *GenericParam) (metadata.Token, error) {
	var list *[]metadata.Token
	switch owner.Table() {
	case metadata.TableTypeDef:
		t, err := m.typeDef(owner)
		if err != nil {
			return 0, err
		}
		list = &t.GenericParams
	case metadata.TableMethod:
		md, ok := m.Method(owner)
		if !ok {
			return 0, errors.NotFound(errors.PhaseBuild, "method", owner.String())
		}
		list = &md.GenericParams
	default:
		return 0, errors.InvalidInput(errors.PhaseBuild, "generic parameter owner must be a type or method")
	}
	tok, err := add(&m.GenericParams, metadata.TableGenericParam, gp)
	if err != nil {
		return 0, err
	}
	gp.Owner = owner
	*list = append(*list, tok)
	return tok, nil
}

// AddGenericParamConstraint constrains the generic parameter owner.
func (m *Module) AddGenericParamConstraint(owner, constraint metadata.Token) (metadata.Token, error) {
	gp, ok := at(m.GenericParams, owner.Rid())
	if !ok || owner.Table() != metadata.TableGenericParam {
		return 0, errors.NotFound(errors.PhaseBuild, "generic parameter", owner.String())
	}
	tok, err := add(&m.GenericParamConstraints, metadata.TableGenericParamConstraint,
		&GenericParamConstraint{Owner: owner, Constraint: constraint})
	if err != nil {
		return 0, err
	}
	gp.Constraints = append(gp.Constraints, tok)
	return tok, nil
}

// AddMemberRef appends a member reference.
func (m *Module) AddMemberRef(r *MemberRef) (metadata.Token, error) {
	return add(&m.MemberRefs, metadata.TableMemberRef, r)
}

// AddAssemblyRef appends an assembly reference.
func (m *Module) AddAssemblyRef(r *AssemblyRef) (metadata.Token, error) {
	return add(&m.AssemblyRefs, metadata.TableAssemblyRef, r)
}

// AddModuleRef appends a module reference.
func (m *Module) AddModuleRef(r *ModuleRef) (metadata.Token, error) {
	return add(&m.ModuleRefs, metadata.TableModuleRef, r)
}

// AddTypeSpec appends a type specification.
func (m *Module) AddTypeSpec(s *TypeSpec) (metadata.Token, error) {
	return add(&m.TypeSpecs, metadata.TableTypeSpec, s)
}

// AddMethodSpec appends a generic method instantiation.
func (m *Module) AddMethodSpec(s *MethodSpec) (metadata.Token, error) {
	return add(&m.MethodSpecs, metadata.TableMethodSpec, s)
}

// AddStandAloneSig appends a standalone signature.
func (m *Module) AddStandAloneSig(s *StandAloneSig) (metadata.Token, error) {
	return add(&m.StandAloneSigs, metadata.TableStandAloneSig, s)
}

// AddCustomAttribute appends a custom attribute.
func (m *Module) AddCustomAttribute(ca *CustomAttribute) (metadata.Token, error) {
	return add(&m.CustomAttributes, metadata.TableCustomAttribute, ca)
}

// AddDeclSecurity appends a security declaration.
func (m *Module) AddDeclSecurity(d *DeclSecurity) (metadata.Token, error) {
	return add(&m.DeclSecurities, metadata.TableDeclSecurity, d)
}

// AddFile appends a file reference.
func (m *Module) AddFile(f *File) (metadata.Token, error) {
	return add(&m.Files, metadata.TableFile, f)
}

// AddExportedType appends an exported type.
func (m *Module) AddExportedType(e *ExportedType) (metadata.Token, error) {
	return add(&m.ExportedTypes, metadata.TableExportedType, e)
}

// AddResource appends a manifest resource.
func (m *Module) AddResource(r *ManifestResource) (metadata.Token, error) {
	return add(&m.Resources, metadata.TableManifestResource, r)
}
