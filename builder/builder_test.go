package builder_test

import (
	"bytes"
	"errors"
	"testing"

	"github.com/wippyai/clrmeta/builder"
	clrerrors "github.com/wippyai/clrmeta/errors"
	"github.com/wippyai/clrmeta/internal/fixture"
	"github.com/wippyai/clrmeta/metadata"
	"github.com/wippyai/clrmeta/model"
	"github.com/wippyai/clrmeta/signature"
)

func build(t *testing.T, mod *model.Module) (*builder.Result, []byte) {
	t.Helper()
	res, err := builder.NewWithDefaults().Build(mod)
	if err != nil {
		t.Fatalf("Build: %v", err)
	}
	data, err := res.Bytes()
	if err != nil {
		t.Fatalf("Bytes: %v", err)
	}
	return res, data
}

func reread(t *testing.T, data []byte) *model.Module {
	t.Helper()
	md, err := metadata.ParseBytes(data)
	if err != nil {
		t.Fatalf("ParseBytes: %v", err)
	}
	mod, err := model.Read(md, fixture.Image())
	if err != nil {
		t.Fatalf("Read: %v", err)
	}
	return mod
}

func mapped(t *testing.T, res *builder.Result, old metadata.Token) metadata.Token {
	t.Helper()
	tok, ok := res.Tokens.Get(old)
	if !ok {
		t.Fatalf("token %v not mapped", old)
	}
	return tok
}

func TestBuildTokenMapping(t *testing.T) {
	s := fixture.NewSample()
	res, _ := build(t, s.Module)

	tests := []struct {
		name string
		old  metadata.Token
		want metadata.Token
	}{
		{"module type", metadata.NewToken(metadata.TableTypeDef, 1), metadata.NewToken(metadata.TableTypeDef, 1)},
		{"widget", s.Widget, metadata.NewToken(metadata.TableTypeDef, 2)},
		{"count", s.Count, metadata.NewToken(metadata.TableField, 1)},
		{"name follows count", s.Name, metadata.NewToken(metadata.TableField, 2)},
		{"box value after widget fields", s.Value, metadata.NewToken(metadata.TableField, 3)},
		{"data", s.Data, metadata.NewToken(metadata.TableField, 4)},
		{"ctor", s.Ctor, metadata.NewToken(metadata.TableMethod, 1)},
		{"add", s.Add, metadata.NewToken(metadata.TableMethod, 2)},
		{"dispose", s.Dispose, metadata.NewToken(metadata.TableMethod, 6)},
		{"identity after widget methods", s.Identity, metadata.NewToken(metadata.TableMethod, 7)},
		{"object first seen", s.Object, metadata.NewToken(metadata.TableTypeRef, 1)},
		{"event handler seen in a signature", s.EventHandler, metadata.NewToken(metadata.TableTypeRef, 2)},
		{"disposable", s.Disposable, metadata.NewToken(metadata.TableTypeRef, 3)},
		{"value type", s.ValueType, metadata.NewToken(metadata.TableTypeRef, 4)},
		{"dispose ref first", s.DisposeRef, metadata.NewToken(metadata.TableMemberRef, 1)},
		{"object ctor", s.ObjectCtor, metadata.NewToken(metadata.TableMemberRef, 2)},
		{"type param sorts before method param", s.TypeParam, metadata.NewToken(metadata.TableGenericParam, 1)},
		{"method param", s.MethodParam, metadata.NewToken(metadata.TableGenericParam, 2)},
		{"assembly attribute sorts first", s.AssemblyAttribute, metadata.NewToken(metadata.TableCustomAttribute, 1)},
		{"widget attribute", s.WidgetAttribute, metadata.NewToken(metadata.TableCustomAttribute, 2)},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := mapped(t, res, tt.old); got != tt.want {
				t.Errorf("got %v, want %v", got, tt.want)
			}
		})
	}

	if _, err := res.Tokens.Map(metadata.NewToken(metadata.TableTypeRef, 99)); !errors.Is(err, clrerrors.ErrNotFound) {
		t.Errorf("unknown token: got %v, want ErrNotFound", err)
	}
	if tok, err := res.Tokens.Map(0); err != nil || tok != 0 {
		t.Errorf("nil token: got %v, %v", tok, err)
	}

	n := 0
	res.Tokens.Range(func(old, new metadata.Token) bool {
		n++
		return true
	})
	if n != res.Tokens.Len() {
		t.Errorf("Range visited %d, want %d", n, res.Tokens.Len())
	}
}

func TestBuildListsAreContiguous(t *testing.T) {
	s := fixture.NewSample()
	_, data := build(t, s.Module)
	md, err := metadata.ParseBytes(data)
	if err != nil {
		t.Fatal(err)
	}

	typedefs := md.Tables.Table(metadata.TableTypeDef)
	tests := []struct {
		rid            uint32
		fields, method [2]uint32
	}{
		{1, [2]uint32{1, 1}, [2]uint32{1, 1}},
		{2, [2]uint32{1, 3}, [2]uint32{1, 7}},
		{3, [2]uint32{3, 4}, [2]uint32{7, 8}},
		{4, [2]uint32{4, 5}, [2]uint32{8, 8}},
	}
	for _, tt := range tests {
		fs, fe := md.Tables.ListRange(metadata.TableTypeDef, tt.rid, 4)
		if fs != tt.fields[0] || fe != tt.fields[1] {
			t.Errorf("type %d fields: got [%d,%d), want %v", tt.rid, fs, fe, tt.fields)
		}
		ms, me := md.Tables.ListRange(metadata.TableTypeDef, tt.rid, 5)
		if ms != tt.method[0] || me != tt.method[1] {
			t.Errorf("type %d methods: got [%d,%d), want %v", tt.rid, ms, me, tt.method)
		}
	}
	if typedefs.Len() != 4 {
		t.Errorf("typedefs: got %d, want 4", typedefs.Len())
	}

	ps, pe := md.Tables.ListRange(metadata.TableMethod, 2, 5)
	if ps != 1 || pe != 3 {
		t.Errorf("Add params: got [%d,%d), want [1,3)", ps, pe)
	}
	ps, pe = md.Tables.ListRange(metadata.TableMethod, 4, 5)
	if ps != 3 || pe != 4 {
		t.Errorf("Beep params: got [%d,%d), want [3,4)", ps, pe)
	}
}

func TestBuildSortedTables(t *testing.T) {
	s := fixture.NewSample()
	_, data := build(t, s.Module)
	md, err := metadata.ParseBytes(data)
	if err != nil {
		t.Fatal(err)
	}

	for kind := metadata.TableKind(0); kind < metadata.TableCount; kind++ {
		l := metadata.Layout(kind)
		if !l.Sorted() {
			continue
		}
		rows := md.Tables.Table(kind).Rows()
		for i := 1; i < len(rows); i++ {
			if rows[i-1][l.Key] > rows[i][l.Key] {
				t.Errorf("%s rows %d and %d out of order", kind, i, i+1)
			}
		}
	}

	wantCounts := map[metadata.TableKind]int{
		metadata.TableConstant:        2,
		metadata.TableFieldMarshal:    1,
		metadata.TableClassLayout:     1,
		metadata.TableFieldLayout:     1,
		metadata.TableFieldRVA:        1,
		metadata.TableImplMap:         1,
		metadata.TableMethodSemantics: 2,
		metadata.TableMethodImpl:      1,
		metadata.TableNestedClass:     1,
		metadata.TablePropertyMap:     1,
		metadata.TableEventMap:        1,
	}
	for kind, want := range wantCounts {
		if got := md.Tables.Table(kind).Len(); got != want {
			t.Errorf("%s rows: got %d, want %d", kind, got, want)
		}
	}
	if md.Tables.Sorted != metadata.SortedMask() {
		t.Errorf("sorted mask: got %#x, want %#x", md.Tables.Sorted, metadata.SortedMask())
	}
}

func TestBuildReadBack(t *testing.T) {
	s := fixture.NewSample()
	_, data := build(t, s.Module)
	mod := reread(t, data)

	if mod.Name != "demo.dll" || mod.Mvid != s.Module.Mvid {
		t.Errorf("module: got %q %v", mod.Name, mod.Mvid)
	}
	if mod.Assembly == nil || mod.Assembly.Version.String() != "1.2.3.4" {
		t.Fatalf("assembly: got %+v", mod.Assembly)
	}

	tok, widget, ok := mod.FindType("Demo", "Widget")
	if !ok {
		t.Fatal("Demo.Widget missing")
	}
	var names []string
	for _, f := range widget.Fields {
		fd, _ := mod.Field(f)
		names = append(names, fd.Name)
	}
	if len(names) != 2 || names[0] != "count" || names[1] != "name" {
		t.Errorf("widget fields: got %v", names)
	}

	count, _ := mod.Field(widget.Fields[0])
	if count.Constant == nil || !bytes.Equal(count.Constant.Value, []byte{0x2A, 0, 0, 0}) {
		t.Errorf("count constant: got %+v", count.Constant)
	}

	_, inner, ok := mod.FindNested(tok, "Inner")
	if !ok {
		t.Fatal("nested Inner missing")
	}
	if inner.Layout == nil || inner.Layout.ClassSize != 16 {
		t.Errorf("inner layout: got %+v", inner.Layout)
	}
	data0, _ := mod.Field(inner.Fields[0])
	if !bytes.Equal(data0.InitialValue, fixture.FieldData) {
		t.Errorf("field data: got %X, want %X", data0.InitialValue, fixture.FieldData)
	}
	if !data0.HasOffset {
		t.Error("field layout lost")
	}

	var beep *model.MethodDef
	for _, m := range widget.Methods {
		md, _ := mod.Method(m)
		if md.Name == "Beep" {
			beep = md
		}
	}
	if beep == nil || beep.ImplMap == nil || beep.ImplMap.Name != "Beep" {
		t.Fatalf("Beep import: got %+v", beep)
	}
	if len(beep.Params) != 1 {
		t.Fatalf("Beep params: got %d, want 1", len(beep.Params))
	}

	if len(widget.Properties) != 1 || len(widget.Events) != 1 || len(widget.Interfaces) != 1 {
		t.Errorf("widget members: %d properties, %d events, %d interfaces",
			len(widget.Properties), len(widget.Events), len(widget.Interfaces))
	}
	if len(widget.MethodImpls) != 1 {
		t.Errorf("method impls: got %d, want 1", len(widget.MethodImpls))
	}

	_, box, _ := mod.FindType("Demo", "Box`1")
	if len(box.GenericParams) != 1 {
		t.Fatalf("box generic params: got %d", len(box.GenericParams))
	}
	gp, _ := mod.Lookup(box.GenericParams[0])
	if p := gp.(*model.GenericParam); p.Name != "T" || len(p.Constraints) != 1 {
		t.Errorf("box param: got %+v", p)
	}

	if attrs := mod.CustomAttributesOf(tok); len(attrs) != 1 {
		t.Errorf("widget attributes: got %d, want 1", len(attrs))
	}

	if s, err := mod.UserStrings.Get(1); err != nil || s != "hello" {
		t.Errorf("user string: got %q, %v", s, err)
	}

	sig, ok := mod.TypeSpecs[0].Signature.(*signature.TypeSpecSig)
	if !ok {
		t.Fatalf("typespec: got %T", mod.TypeSpecs[0].Signature)
	}
	if got := signature.Format(sig.Type); got != "0x02000003<int>" {
		t.Errorf("typespec: got %q", got)
	}
}

func TestRebuildIsFixedPoint(t *testing.T) {
	_, first := build(t, fixture.NewSample().Module)
	_, second := build(t, reread(t, first))
	if !bytes.Equal(first, second) {
		t.Fatalf("rebuild differs: %d bytes, then %d bytes", len(first), len(second))
	}
	_, third := build(t, reread(t, second))
	if !bytes.Equal(second, third) {
		t.Fatal("third rebuild differs")
	}
}

func TestBuilderLock(t *testing.T) {
	b := builder.NewWithDefaults()
	mod := fixture.NewSample().Module
	if _, err := b.Build(mod); err != nil {
		t.Fatal(err)
	}
	if !b.Locked() {
		t.Fatal("builder not locked after build")
	}
	if _, err := b.Build(mod); !errors.Is(err, clrerrors.ErrMetadataLocked) {
		t.Fatalf("second build: got %v, want ErrMetadataLocked", err)
	}
	b.Unlock()
	if _, err := b.Build(mod); err != nil {
		t.Fatalf("build after unlock: %v", err)
	}
}

func TestBuildConfig(t *testing.T) {
	s := fixture.NewSample()
	var seen []metadata.Token
	b := builder.New(builder.Config{
		MetadataVersion: "v2.0.50727",
		RVAMapper: func(tok metadata.Token, rva uint32) uint32 {
			seen = append(seen, tok)
			return rva + 0x1000
		},
	})
	res, err := b.Build(s.Module)
	if err != nil {
		t.Fatal(err)
	}
	if res.Metadata.Version != "v2.0.50727" {
		t.Errorf("version: got %q", res.Metadata.Version)
	}
	// Six method bodies and one field; Beep has no body.
	if len(seen) != 7 {
		t.Errorf("mapper calls: got %d, want 7", len(seen))
	}
	row, _ := res.Metadata.Tables.Table(metadata.TableMethod).Row(1)
	if row[0] != 0x3050 {
		t.Errorf("ctor rva: got %#x, want 0x3050", row[0])
	}
	rva, _ := res.Metadata.Tables.Table(metadata.TableFieldRVA).Row(1)
	if rva[0] != fixture.FieldDataRVA+0x1000 {
		t.Errorf("field rva: got %#x", rva[0])
	}
	if got := res.Metadata.UserStrings.Len(); got != 1 {
		t.Errorf("user strings without preserve: got %d bytes, want 1", got)
	}
}

func TestBuildErrors(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(s *fixture.Sample)
		want   error
	}{
		{
			name: "dangling reference",
			mutate: func(s *fixture.Sample) {
				td, _ := s.Module.TypeDef(s.Widget)
				td.Extends = metadata.NewToken(metadata.TableTypeRef, 42)
			},
			want: clrerrors.ErrNotFound,
		},
		{
			name: "field owned twice",
			mutate: func(s *fixture.Sample) {
				td, _ := s.Module.TypeDef(s.Box)
				td.Fields = append(td.Fields, s.Count)
			},
			want: clrerrors.ErrInvalidInput,
		},
		{
			name: "attribute constructor outside the group",
			mutate: func(s *fixture.Sample) {
				s.Module.CustomAttributes[0].Constructor = s.Object
			},
			want: clrerrors.ErrUnsupportedCodedIndex,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := fixture.NewSample()
			tt.mutate(s)
			_, err := builder.NewWithDefaults().Build(s.Module)
			if !errors.Is(err, tt.want) {
				t.Errorf("got %v, want %v", err, tt.want)
			}
		})
	}

	if _, err := builder.NewWithDefaults().Build(nil); !errors.Is(err, clrerrors.ErrInvalidInput) {
		t.Errorf("nil module: got %v", err)
	}
}
