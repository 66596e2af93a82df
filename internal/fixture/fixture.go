// Package fixture builds a small but complete module graph for tests.
package fixture

import (
	"encoding/hex"

	"github.com/wippyai/clrmeta/metadata"
	"github.com/wippyai/clrmeta/model"
	"github.com/wippyai/clrmeta/signature"
)

// FieldDataRVA is where Inner.data keeps its initial value in Image.
const FieldDataRVA = 0x2000

// FieldData is the initial value of Inner.data.
var FieldData = []byte{0x01, 0x02, 0x03, 0x04}

// CorLibToken is the public key token of the referenced mscorlib.
const CorLibToken = "b77a5c561934e089"

// Sample is the demo module and the tokens it was built with. Arena order
// deliberately differs from the order a rebuild assigns.
type Sample struct {
	Module *model.Module

	CorLib metadata.Token

	Object, ValueType, Disposable, EventHandler metadata.Token
	Kernel32                                    metadata.Token

	Widget, Box, Inner metadata.Token

	Count, Value, Name, Data metadata.Token

	Ctor, Identity, Add, GetCount, Beep, AddChanged, Dispose metadata.Token
	ParamA, ParamB, ParamFreq                                metadata.Token

	CountProperty, ChangedEvent metadata.Token
	DisposableImpl              metadata.Token
	TypeParam, MethodParam      metadata.Token
	Constraint                  metadata.Token

	ObjectCtor, DisposeRef, BoxValue metadata.Token
	BoxOfInt                         metadata.Token
	IdentityOfString                 metadata.Token
	Locals                           metadata.Token

	WidgetAttribute, AssemblyAttribute metadata.Token
	Security                           metadata.Token
	ExtraFile, Forwarder, Resource     metadata.Token
}

type sampler struct {
	m   *model.Module
	err error
}

func (s *sampler) tok(t metadata.Token, err error) metadata.Token {
	if s.err == nil {
		s.err = err
	}
	return t
}

func i4() signature.TypeSig   { return &signature.CorLibType{Type: signature.ElemI4} }
func void() signature.TypeSig { return &signature.CorLibType{Type: signature.ElemVoid} }

// NewSample builds the demo module. It panics if the model rejects a row.
func NewSample() *Sample {
	m := model.NewModule("demo.dll")
	m.Assembly = &model.Assembly{
		HashAlgorithm: 0x8004,
		Version:       model.Version{Major: 1, Minor: 2, Build: 3, Revision: 4},
		Name:          "demo",
	}
	us := metadata.NewUserStringsBuffer()
	if _, err := us.Intern("hello"); err != nil {
		panic(err)
	}
	m.UserStrings = metadata.NewUserStringsHeap(us.Bytes())

	s := &Sample{Module: m}
	b := &sampler{m: m}
	pkt, _ := hex.DecodeString(CorLibToken)

	s.CorLib = b.tok(m.AddAssemblyRef(&model.AssemblyRef{
		Version:          model.Version{Major: 4},
		PublicKeyOrToken: pkt,
		Name:             "mscorlib",
	}))
	s.Object = b.tok(m.AddTypeRef(&model.TypeRef{ResolutionScope: s.CorLib, Name: "Object", Namespace: "System"}))
	s.ValueType = b.tok(m.AddTypeRef(&model.TypeRef{ResolutionScope: s.CorLib, Name: "ValueType", Namespace: "System"}))
	s.Disposable = b.tok(m.AddTypeRef(&model.TypeRef{ResolutionScope: s.CorLib, Name: "IDisposable", Namespace: "System"}))
	s.EventHandler = b.tok(m.AddTypeRef(&model.TypeRef{ResolutionScope: s.CorLib, Name: "EventHandler", Namespace: "System"}))
	s.Kernel32 = b.tok(m.AddModuleRef(&model.ModuleRef{Name: "kernel32.dll"}))

	s.Widget = b.tok(m.AddTypeDef(&model.TypeDef{Flags: 0x00100001, Name: "Widget", Namespace: "Demo", Extends: s.Object}))
	s.Box = b.tok(m.AddTypeDef(&model.TypeDef{Flags: 0x00100109, Name: "Box`1", Namespace: "Demo", Extends: s.ValueType}))
	s.Inner = b.tok(m.AddTypeDef(&model.TypeDef{
		Flags:         0x00000002,
		Name:          "Inner",
		Extends:       s.Object,
		DeclaringType: s.Widget,
		Layout:        &model.ClassLayout{PackingSize: 8, ClassSize: 16},
	}))

	s.Count = b.tok(m.AddField(s.Widget, &model.FieldDef{
		Flags:     0x8051,
		Name:      "count",
		Signature: &signature.FieldSig{Type: i4()},
		Constant:  &model.Constant{Type: signature.ElemI4, Value: []byte{0x2A, 0, 0, 0}},
	}))
	s.Value = b.tok(m.AddField(s.Box, &model.FieldDef{
		Flags:     0x0006,
		Name:      "value",
		Signature: &signature.FieldSig{Type: &signature.GenericParam{Index: 0}},
	}))
	s.Name = b.tok(m.AddField(s.Widget, &model.FieldDef{
		Flags:     0x0001,
		Name:      "name",
		Signature: &signature.FieldSig{Type: &signature.CorLibType{Type: signature.ElemString}},
	}))
	s.Data = b.tok(m.AddField(s.Inner, &model.FieldDef{
		Flags:        0x0113,
		Name:         "data",
		Signature:    &signature.FieldSig{Type: i4()},
		HasOffset:    true,
		RVA:          FieldDataRVA,
		InitialValue: append([]byte(nil), FieldData...),
	}))

	s.Ctor = b.tok(m.AddMethod(s.Widget, &model.MethodDef{
		RVA: 0x2050, Flags: 0x1886, Name: ".ctor",
		Signature: signature.NewMethodSig(signature.CallHasThis, void()),
	}))
	identity := signature.NewMethodSig(signature.CallGeneric, &signature.GenericParam{Method: true},
		&signature.GenericParam{Method: true})
	identity.GenericParams = 1
	s.Identity = b.tok(m.AddMethod(s.Box, &model.MethodDef{
		RVA: 0x2080, Flags: 0x0096, Name: "Identity", Signature: identity,
	}))
	s.Add = b.tok(m.AddMethod(s.Widget, &model.MethodDef{
		RVA: 0x2060, Flags: 0x0086, Name: "Add",
		Signature: signature.NewMethodSig(signature.CallHasThis, i4(), i4(), i4()),
	}))
	s.GetCount = b.tok(m.AddMethod(s.Widget, &model.MethodDef{
		RVA: 0x2070, Flags: 0x0886, Name: "get_Count",
		Signature: signature.NewMethodSig(signature.CallHasThis, i4()),
	}))
	s.Beep = b.tok(m.AddMethod(s.Widget, &model.MethodDef{
		ImplFlags: 0x0080, Flags: 0x2096, Name: "Beep",
		Signature: signature.NewMethodSig(signature.CallDefault,
			&signature.CorLibType{Type: signature.ElemBoolean}, i4()),
		ImplMap: &model.ImplMap{Flags: 0x0100, Name: "Beep", Scope: s.Kernel32},
	}))
	s.AddChanged = b.tok(m.AddMethod(s.Widget, &model.MethodDef{
		RVA: 0x2090, Flags: 0x0886, Name: "add_Changed",
		Signature: signature.NewMethodSig(signature.CallHasThis, void(),
			&signature.TypeDefOrRef{Token: s.EventHandler}),
	}))
	s.Dispose = b.tok(m.AddMethod(s.Widget, &model.MethodDef{
		RVA: 0x20A0, Flags: 0x01E6, Name: "Dispose",
		Signature: signature.NewMethodSig(signature.CallHasThis, void()),
	}))

	s.ParamA = b.tok(m.AddParam(s.Add, &model.ParamDef{Sequence: 1, Name: "a"}))
	s.ParamB = b.tok(m.AddParam(s.Add, &model.ParamDef{
		Flags: 0x1010, Sequence: 2, Name: "b",
		Constant: &model.Constant{Type: signature.ElemI4, Value: []byte{0, 0, 0, 0}},
	}))
	s.ParamFreq = b.tok(m.AddParam(s.Beep, &model.ParamDef{
		Flags: 0x2000, Sequence: 1, Name: "freq", Marshal: []byte{0x07},
	}))

	s.CountProperty = b.tok(m.AddProperty(s.Widget, &model.PropertyDef{
		Name:      "Count",
		Signature: &signature.PropertySig{HasThis: true, Type: i4()},
		Semantics: []model.MethodSemantic{{Attributes: model.SemanticGetter, Method: s.GetCount}},
	}))
	s.ChangedEvent = b.tok(m.AddEvent(s.Widget, &model.EventDef{
		Name:      "Changed",
		EventType: s.EventHandler,
		Semantics: []model.MethodSemantic{{Attributes: model.SemanticAddOn, Method: s.AddChanged}},
	}))
	s.DisposableImpl = b.tok(m.AddInterfaceImpl(s.Widget, s.Disposable))

	s.MethodParam = b.tok(m.AddGenericParam(s.Identity, &model.GenericParam{Number: 0, Name: "U"}))
	s.TypeParam = b.tok(m.AddGenericParam(s.Box, &model.GenericParam{Number: 0, Name: "T"}))
	s.Constraint = b.tok(m.AddGenericParamConstraint(s.TypeParam, s.Disposable))

	s.ObjectCtor = b.tok(m.AddMemberRef(&model.MemberRef{
		Class: s.Object, Name: ".ctor",
		Signature: signature.NewMethodSig(signature.CallHasThis, void()),
	}))
	s.DisposeRef = b.tok(m.AddMemberRef(&model.MemberRef{
		Class: s.Disposable, Name: "Dispose",
		Signature: signature.NewMethodSig(signature.CallHasThis, void()),
	}))
	s.BoxOfInt = b.tok(m.AddTypeSpec(&model.TypeSpec{Signature: &signature.TypeSpecSig{
		Type: &signature.GenericInst{Type: s.Box, IsValueType: true, Args: []signature.TypeSig{i4()}},
	}}))
	s.BoxValue = b.tok(m.AddMemberRef(&model.MemberRef{
		Class: s.BoxOfInt, Name: "value",
		Signature: &signature.FieldSig{Type: &signature.GenericParam{Index: 0}},
	}))
	s.IdentityOfString = b.tok(m.AddMethodSpec(&model.MethodSpec{
		Method: s.Identity,
		Instantiation: &signature.MethodSpecSig{Args: []signature.TypeSig{
			&signature.CorLibType{Type: signature.ElemString},
		}},
	}))
	s.Locals = b.tok(m.AddStandAloneSig(&model.StandAloneSig{Signature: &signature.LocalVarSig{
		Locals: []signature.TypeSig{i4(), &signature.TypeDefOrRef{Token: s.Widget}},
	}}))

	if t, ok := m.TypeDef(s.Widget); ok {
		t.MethodImpls = append(t.MethodImpls, model.MethodImpl{Body: s.Dispose, Declaration: s.DisposeRef})
	}

	s.WidgetAttribute = b.tok(m.AddCustomAttribute(&model.CustomAttribute{
		Parent: s.Widget, Constructor: s.ObjectCtor, Value: []byte{0x01, 0x00, 0x00, 0x00},
	}))
	s.AssemblyAttribute = b.tok(m.AddCustomAttribute(&model.CustomAttribute{
		Parent:      metadata.NewToken(metadata.TableAssembly, 1),
		Constructor: s.ObjectCtor,
		Value:       []byte{0x01, 0x00, 0x00, 0x00},
	}))
	s.Security = b.tok(m.AddDeclSecurity(&model.DeclSecurity{
		Action: 2, Parent: s.Widget, PermissionSet: []byte{0x2E, 0x00},
	}))
	s.ExtraFile = b.tok(m.AddFile(&model.File{Name: "extra.netmodule", HashValue: []byte{0xAA, 0xBB}}))
	s.Forwarder = b.tok(m.AddExportedType(&model.ExportedType{
		Flags: 0x00200000, Name: "Legacy", Namespace: "Demo", Implementation: s.CorLib,
	}))
	s.Resource = b.tok(m.AddResource(&model.ManifestResource{Flags: 0x0001, Name: "demo.resources"}))

	if b.err != nil {
		panic(b.err)
	}
	return s
}

// Image returns a flat image that holds the field data at FieldDataRVA.
func Image() *metadata.ImageSource {
	data := make([]byte, FieldDataRVA+len(FieldData))
	copy(data[FieldDataRVA:], FieldData)
	return &metadata.ImageSource{Data: data}
}
