package model

import (
	"errors"
	"testing"

	clrerrors "github.com/wippyai/clrmeta/errors"
	"github.com/wippyai/clrmeta/metadata"
	"github.com/wippyai/clrmeta/signature"
)

func TestNewModule(t *testing.T) {
	m := NewModule("a.dll")
	if len(m.TypeDefs) != 1 || m.TypeDefs[0].Name != ModuleTypeName {
		t.Fatalf("module type: got %+v", m.TypeDefs)
	}
	if m.Mvid.String() == "00000000-0000-0000-0000-000000000000" {
		t.Error("mvid not generated")
	}
	if m.Token() != metadata.NewToken(metadata.TableModule, 1) {
		t.Errorf("Token: got %v", m.Token())
	}
}

func TestAddAndLookup(t *testing.T) {
	m := NewModule("a.dll")
	typ, err := m.AddTypeDef(&TypeDef{Name: "C", Namespace: "N"})
	if err != nil {
		t.Fatal(err)
	}
	field, err := m.AddField(typ, &FieldDef{Name: "f", Signature: &signature.FieldSig{
		Type: &signature.CorLibType{Type: signature.ElemI4},
	}})
	if err != nil {
		t.Fatal(err)
	}
	method, err := m.AddMethod(typ, &MethodDef{Name: "M"})
	if err != nil {
		t.Fatal(err)
	}
	param, err := m.AddParam(method, &ParamDef{Sequence: 1, Name: "x"})
	if err != nil {
		t.Fatal(err)
	}
	gp, err := m.AddGenericParam(method, &GenericParam{Name: "T"})
	if err != nil {
		t.Fatal(err)
	}

	tests := []struct {
		name string
		tok  metadata.Token
		want metadata.Token
	}{
		{"type", typ, metadata.NewToken(metadata.TableTypeDef, 2)},
		{"field", field, metadata.NewToken(metadata.TableField, 1)},
		{"method", method, metadata.NewToken(metadata.TableMethod, 1)},
		{"param", param, metadata.NewToken(metadata.TableParam, 1)},
		{"generic param", gp, metadata.NewToken(metadata.TableGenericParam, 1)},
	}
	for _, tt := range tests {
		if tt.tok != tt.want {
			t.Errorf("%s: got %v, want %v", tt.name, tt.tok, tt.want)
		}
		if _, ok := m.Lookup(tt.tok); !ok {
			t.Errorf("%s: Lookup failed", tt.name)
		}
	}

	f, _ := m.Field(field)
	if f.DeclaringType != typ {
		t.Errorf("field owner: got %v, want %v", f.DeclaringType, typ)
	}
	md, _ := m.Method(method)
	if len(md.Params) != 1 || len(md.GenericParams) != 1 {
		t.Errorf("method lists: %d params, %d generic params", len(md.Params), len(md.GenericParams))
	}
	if p, _ := m.Lookup(gp); p.(*GenericParam).Owner != method {
		t.Errorf("generic param owner: got %v", p.(*GenericParam).Owner)
	}

	if _, _, ok := m.FindType("N", "C"); !ok {
		t.Error("FindType N.C failed")
	}
	if _, _, ok := m.FindType("", "C"); ok {
		t.Error("FindType matched the wrong namespace")
	}
}

func TestLookupMisses(t *testing.T) {
	m := NewModule("a.dll")
	tests := []metadata.Token{
		0,
		metadata.NewToken(metadata.TableTypeDef, 2),
		metadata.NewToken(metadata.TableField, 1),
		metadata.NewToken(metadata.TableMethodSemantics, 1),
		metadata.NewToken(metadata.TableUserString, 1),
	}
	for _, tok := range tests {
		if _, ok := m.Lookup(tok); ok {
			t.Errorf("Lookup(%v): got ok", tok)
		}
	}
	if _, ok := m.Lookup(m.Token()); !ok {
		t.Error("module row not found")
	}
}

func TestAddErrors(t *testing.T) {
	m := NewModule("a.dll")
	missing := metadata.NewToken(metadata.TableTypeDef, 9)

	tests := []struct {
		name string
		fn   func() error
		want error
	}{
		{"field on missing type", func() error {
			_, err := m.AddField(missing, &FieldDef{})
			return err
		}, clrerrors.ErrNotFound},
		{"param on missing method", func() error {
			_, err := m.AddParam(metadata.NewToken(metadata.TableMethod, 1), &ParamDef{})
			return err
		}, clrerrors.ErrNotFound},
		{"nested in missing type", func() error {
			_, err := m.AddTypeDef(&TypeDef{Name: "N", DeclaringType: missing})
			return err
		}, clrerrors.ErrNotFound},
		{"generic param on a field", func() error {
			_, err := m.AddGenericParam(metadata.NewToken(metadata.TableField, 1), &GenericParam{})
			return err
		}, clrerrors.ErrInvalidInput},
		{"constraint on missing param", func() error {
			_, err := m.AddGenericParamConstraint(metadata.NewToken(metadata.TableGenericParam, 3), 0)
			return err
		}, clrerrors.ErrNotFound},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if err := tt.fn(); !errors.Is(err, tt.want) {
				t.Errorf("got %v, want %v", err, tt.want)
			}
		})
	}
}

func TestFindNested(t *testing.T) {
	m := NewModule("a.dll")
	outer, _ := m.AddTypeDef(&TypeDef{Name: "Outer", Namespace: "N"})
	inner, _ := m.AddTypeDef(&TypeDef{Name: "Inner", DeclaringType: outer})

	got, td, ok := m.FindNested(outer, "Inner")
	if !ok || got != inner || !td.IsNested() {
		t.Errorf("FindNested: got %v %v", got, ok)
	}
	if _, _, ok := m.FindType("", "Inner"); ok {
		t.Error("FindType returned a nested type")
	}
}

func TestCustomAttributesOf(t *testing.T) {
	m := NewModule("a.dll")
	typ, _ := m.AddTypeDef(&TypeDef{Name: "C"})
	ctor := metadata.NewToken(metadata.TableMemberRef, 1)
	_, _ = m.AddCustomAttribute(&CustomAttribute{Parent: typ, Constructor: ctor})
	_, _ = m.AddCustomAttribute(&CustomAttribute{Parent: m.Token(), Constructor: ctor})
	_, _ = m.AddCustomAttribute(&CustomAttribute{Parent: typ, Constructor: ctor, Value: []byte{1, 0}})

	if got := len(m.CustomAttributesOf(typ)); got != 2 {
		t.Errorf("type attributes: got %d, want 2", got)
	}
	if got := len(m.CustomAttributesOf(m.Token())); got != 1 {
		t.Errorf("module attributes: got %d, want 1", got)
	}
}

func TestMemberRefIsField(t *testing.T) {
	field := &MemberRef{Signature: &signature.FieldSig{Type: &signature.CorLibType{Type: signature.ElemI4}}}
	method := &MemberRef{Signature: signature.NewMethodSig(signature.CallHasThis,
		&signature.CorLibType{Type: signature.ElemVoid})}
	if !field.IsField() || method.IsField() {
		t.Errorf("IsField: field %v, method %v", field.IsField(), method.IsField())
	}
}
