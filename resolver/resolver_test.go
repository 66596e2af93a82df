package resolver_test

import (
	"context"
	"encoding/hex"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/wippyai/clrmeta/builder"
	clrerrors "github.com/wippyai/clrmeta/errors"
	"github.com/wippyai/clrmeta/internal/fixture"
	"github.com/wippyai/clrmeta/metadata"
	"github.com/wippyai/clrmeta/model"
	"github.com/wippyai/clrmeta/resolver"
	"github.com/wippyai/clrmeta/signature"
)

// ecmaKey is the neutral public key whose token is b77a5c561934e089.
var ecmaKey = []byte{0, 0, 0, 0, 0, 0, 0, 0, 4, 0, 0, 0, 0, 0, 0, 0}

func void() signature.TypeSig { return &signature.CorLibType{Type: signature.ElemVoid} }

func mustTok(t *testing.T) func(metadata.Token, error) metadata.Token {
	return func(tok metadata.Token, err error) metadata.Token {
		t.Helper()
		if err != nil {
			t.Fatal(err)
		}
		return tok
	}
}

// corlib builds a library that defines what the fixture module references.
func corlib(t *testing.T) *model.Module {
	t.Helper()
	tok := mustTok(t)
	lib := model.NewModule("mscorlib.dll")
	lib.Assembly = &model.Assembly{Name: "mscorlib", Version: model.Version{Major: 4}, PublicKey: ecmaKey}

	object := tok(lib.AddTypeDef(&model.TypeDef{Name: "Object", Namespace: "System"}))
	tok(lib.AddMethod(object, &model.MethodDef{
		Name: ".ctor", Signature: signature.NewMethodSig(signature.CallHasThis, void()),
	}))
	tok(lib.AddMethod(object, &model.MethodDef{
		Name: "Equals", Signature: signature.NewMethodSig(signature.CallHasThis,
			&signature.CorLibType{Type: signature.ElemBoolean}, &signature.CorLibType{Type: signature.ElemObject}),
	}))
	disposable := tok(lib.AddTypeDef(&model.TypeDef{Name: "IDisposable", Namespace: "System"}))
	tok(lib.AddMethod(disposable, &model.MethodDef{
		Name: "Dispose", Signature: signature.NewMethodSig(signature.CallHasThis, void()),
	}))
	tok(lib.AddTypeDef(&model.TypeDef{Name: "ValueType", Namespace: "System", Extends: object}))
	tok(lib.AddTypeDef(&model.TypeDef{Name: "EventHandler", Namespace: "System", Extends: object}))
	return lib
}

// countingResolver records how often the collaborator is asked.
type countingResolver struct {
	next  resolver.AssemblyResolver
	calls int
	err   error
}

func (c *countingResolver) ResolveAssembly(ctx context.Context, desc resolver.AssemblyDescriptor) (*model.Module, error) {
	c.calls++
	if c.err != nil {
		return nil, c.err
	}
	return c.next.ResolveAssembly(ctx, desc)
}

func newResolver(t *testing.T, cfg resolver.Config, libs ...*model.Module) (*resolver.Resolver, *countingResolver) {
	t.Helper()
	m, err := resolver.NewMapAssemblyResolver(cfg.IgnoreVersion, libs...)
	if err != nil {
		t.Fatal(err)
	}
	counter := &countingResolver{next: m}
	cfg.Assemblies = counter
	r, err := resolver.New(cfg)
	if err != nil {
		t.Fatal(err)
	}
	return r, counter
}

func TestPublicKeyToken(t *testing.T) {
	if got := hex.EncodeToString(resolver.PublicKeyToken(ecmaKey)); got != fixture.CorLibToken {
		t.Errorf("token: got %s, want %s", got, fixture.CorLibToken)
	}
	if resolver.PublicKeyToken(nil) != nil {
		t.Error("empty key produced a token")
	}
}

func TestEqualAssemblies(t *testing.T) {
	token, _ := hex.DecodeString(fixture.CorLibToken)
	base := resolver.AssemblyDescriptor{Name: "mscorlib", Version: model.Version{Major: 4}, PublicKeyOrToken: token}

	tests := []struct {
		name          string
		other         resolver.AssemblyDescriptor
		ignoreVersion bool
		want          bool
	}{
		{"identical", base, false, true},
		{"name case", resolver.AssemblyDescriptor{Name: "MSCorLib", Version: base.Version, PublicKeyOrToken: token}, false, false},
		{"neutral culture", resolver.AssemblyDescriptor{Name: "mscorlib", Version: base.Version, Culture: "neutral", PublicKeyOrToken: token}, false, true},
		{"other culture", resolver.AssemblyDescriptor{Name: "mscorlib", Version: base.Version, Culture: "de-DE", PublicKeyOrToken: token}, false, false},
		{"full key", resolver.AssemblyDescriptor{Name: "mscorlib", Version: base.Version, PublicKeyOrToken: ecmaKey, HasPublicKey: true}, false, true},
		{"no key", resolver.AssemblyDescriptor{Name: "mscorlib", Version: base.Version}, false, false},
		{"version", resolver.AssemblyDescriptor{Name: "mscorlib", Version: model.Version{Major: 2}, PublicKeyOrToken: token}, false, false},
		{"version ignored", resolver.AssemblyDescriptor{Name: "mscorlib", Version: model.Version{Major: 2}, PublicKeyOrToken: token}, true, true},
		{"name", resolver.AssemblyDescriptor{Name: "System", Version: base.Version, PublicKeyOrToken: token}, false, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cmp := resolver.Comparer{IgnoreVersion: tt.ignoreVersion}
			if got := cmp.EqualAssemblies(base, tt.other); got != tt.want {
				t.Errorf("got %v, want %v", got, tt.want)
			}
		})
	}
}

func TestAssemblyNamesAreCaseSensitive(t *testing.T) {
	lib := corlib(t)
	lib.Assembly.Name = "MSCorLib"
	m, err := resolver.NewMapAssemblyResolver(false, lib)
	if err != nil {
		t.Fatal(err)
	}
	desc := resolver.DefDescriptor(lib.Assembly)

	found, err := m.ResolveAssembly(context.Background(), desc)
	if err != nil || found != lib {
		t.Errorf("exact name: got %v, %v", found, err)
	}
	desc.Name = "mscorlib"
	found, err = m.ResolveAssembly(context.Background(), desc)
	if err != nil || found != nil {
		t.Errorf("lowercased name: got %v, %v, want not found", found, err)
	}

	r, _ := newResolver(t, resolver.Config{ThrowOnNotFound: true}, lib)
	s := fixture.NewSample()
	if _, err := r.ResolveType(context.Background(), s.Module, s.Disposable); !errors.Is(err, clrerrors.ErrResolutionFailure) {
		t.Errorf("reference to mscorlib with MSCorLib loaded: got %v, want ErrResolutionFailure", err)
	}
}

func TestResolveTypeAcrossAssemblies(t *testing.T) {
	s := fixture.NewSample()
	lib := corlib(t)
	r, counter := newResolver(t, resolver.Config{}, lib)
	ctx := context.Background()

	for _, tok := range []metadata.Token{s.Object, s.Disposable, s.ValueType, s.EventHandler} {
		typ, err := r.ResolveType(ctx, s.Module, tok)
		if err != nil {
			t.Fatalf("ResolveType(%v): %v", tok, err)
		}
		if typ == nil || typ.Module != lib {
			t.Fatalf("ResolveType(%v): got %+v", tok, typ)
		}
		ref, _ := s.Module.TypeRef(tok)
		if typ.Def.Name != ref.Name || typ.Def.Namespace != ref.Namespace {
			t.Errorf("ResolveType(%v): got %s.%s", tok, typ.Def.Namespace, typ.Def.Name)
		}
	}
	if counter.calls != 1 {
		t.Errorf("collaborator calls: got %d, want 1", counter.calls)
	}
	if r.Cached() != 1 {
		t.Errorf("cached: got %d, want 1", r.Cached())
	}

	r.Purge()
	if _, err := r.ResolveType(ctx, s.Module, s.Object); err != nil {
		t.Fatal(err)
	}
	if counter.calls != 2 {
		t.Errorf("collaborator calls after purge: got %d, want 2", counter.calls)
	}

	local, err := r.ResolveType(ctx, s.Module, s.BoxOfInt)
	if err != nil || local == nil || local.Token != s.Box {
		t.Errorf("typespec: got %+v, %v", local, err)
	}
}

func TestResolveMembers(t *testing.T) {
	s := fixture.NewSample()
	lib := corlib(t)
	r, _ := newResolver(t, resolver.Config{}, lib)
	ctx := context.Background()

	ctor, err := r.ResolveMethod(ctx, s.Module, s.ObjectCtor)
	if err != nil || ctor == nil {
		t.Fatalf("object ctor: got %+v, %v", ctor, err)
	}
	if ctor.Module != lib || ctor.Def.Name != ".ctor" {
		t.Errorf("object ctor: got %s in %s", ctor.Def.Name, ctor.Module.Name)
	}

	dispose, err := r.ResolveMethod(ctx, s.Module, s.DisposeRef)
	if err != nil || dispose == nil || dispose.Def.Name != "Dispose" {
		t.Errorf("dispose: got %+v, %v", dispose, err)
	}

	field, err := r.ResolveField(ctx, s.Module, s.BoxValue)
	if err != nil || field == nil || field.Token != s.Value {
		t.Errorf("box value: got %+v, %v", field, err)
	}

	spec, err := r.ResolveMethod(ctx, s.Module, s.IdentityOfString)
	if err != nil || spec == nil || spec.Token != s.Identity {
		t.Errorf("method spec: got %+v, %v", spec, err)
	}

	local, err := r.ResolveMethod(ctx, s.Module, s.Add)
	if err != nil || local == nil || local.Module != s.Module {
		t.Errorf("local method: got %+v, %v", local, err)
	}

	if _, err := r.ResolveField(ctx, s.Module, s.ObjectCtor); !errors.Is(err, clrerrors.ErrInvalidInput) {
		t.Errorf("method ref as field: got %v", err)
	}
	if _, err := r.ResolveMethod(ctx, s.Module, s.Widget); !errors.Is(err, clrerrors.ErrInvalidInput) {
		t.Errorf("type as method: got %v", err)
	}
}

func TestResolveSignatureMismatch(t *testing.T) {
	s := fixture.NewSample()
	lib := corlib(t)
	r, _ := newResolver(t, resolver.Config{}, lib)

	// Same name as System.Object::Equals but with an int parameter.
	equals := mustTok(t)(s.Module.AddMemberRef(&model.MemberRef{
		Class: s.Object,
		Name:  "Equals",
		Signature: signature.NewMethodSig(signature.CallHasThis,
			&signature.CorLibType{Type: signature.ElemBoolean}, &signature.CorLibType{Type: signature.ElemI4}),
	}))
	m, err := r.ResolveMethod(context.Background(), s.Module, equals)
	if err != nil || m != nil {
		t.Errorf("got %+v, %v; want nil, nil", m, err)
	}
}

func TestNotFoundPolicy(t *testing.T) {
	s := fixture.NewSample()
	ctx := context.Background()

	lenient, _ := newResolver(t, resolver.Config{})
	typ, err := lenient.ResolveType(ctx, s.Module, s.Object)
	if typ != nil || err != nil {
		t.Errorf("lenient: got %+v, %v", typ, err)
	}

	strict, _ := newResolver(t, resolver.Config{ThrowOnNotFound: true})
	_, err = strict.ResolveType(ctx, s.Module, s.Object)
	if !errors.Is(err, clrerrors.ErrResolutionFailure) || !errors.Is(err, clrerrors.ErrNotFound) {
		t.Errorf("strict type: got %v", err)
	}
	_, err = strict.ResolveMethod(ctx, s.Module, s.ObjectCtor)
	if !errors.Is(err, clrerrors.ErrResolutionFailure) {
		t.Errorf("strict method: got %v", err)
	}
	_, err = strict.ResolveAssembly(ctx, resolver.AssemblyDescriptor{Name: "missing"})
	if !errors.Is(err, clrerrors.ErrResolutionFailure) {
		t.Errorf("strict assembly: got %v", err)
	}
}

func TestCollaboratorErrorPropagates(t *testing.T) {
	s := fixture.NewSample()
	r, counter := newResolver(t, resolver.Config{}, corlib(t))
	boom := errors.New("disk on fire")
	counter.err = boom

	_, err := r.ResolveType(context.Background(), s.Module, s.Object)
	if !errors.Is(err, boom) || !errors.Is(err, clrerrors.ErrResolutionFailure) {
		t.Errorf("got %v, want wrapped collaborator error", err)
	}
}

// TestSameNameInTwoScopesCompareEqual pins down a known weakness: type
// equality ignores the resolution scope, so a reference to N.T in assembly
// "a" equals the definition N.T in assembly "b".
func TestSameNameInTwoScopesCompareEqual(t *testing.T) {
	tok := mustTok(t)
	user := model.NewModule("user.dll")
	refA := tok(user.AddAssemblyRef(&model.AssemblyRef{Name: "a"}))
	ref := tok(user.AddTypeRef(&model.TypeRef{ResolutionScope: refA, Name: "T", Namespace: "N"}))

	b := model.NewModule("b.dll")
	b.Assembly = &model.Assembly{Name: "b"}
	defB := tok(b.AddTypeDef(&model.TypeDef{Name: "T", Namespace: "N"}))

	cmp := resolver.Comparer{}
	if !cmp.EqualTypes(user, ref, b, defB) {
		t.Error("reference scoped to a does not equal definition in b")
	}

	// Resolution still goes through the scope: only "b" is available.
	r, _ := newResolver(t, resolver.Config{}, b)
	typ, err := r.ResolveType(context.Background(), user, ref)
	if err != nil || typ != nil {
		t.Errorf("resolve through missing scope: got %+v, %v", typ, err)
	}
}

func TestResolveNestedType(t *testing.T) {
	tok := mustTok(t)
	lib := model.NewModule("lib.dll")
	lib.Assembly = &model.Assembly{Name: "lib"}
	outer := tok(lib.AddTypeDef(&model.TypeDef{Name: "Outer", Namespace: "N"}))
	tok(lib.AddTypeDef(&model.TypeDef{Name: "Inner", Namespace: "N"}))
	inner := tok(lib.AddTypeDef(&model.TypeDef{Name: "Inner", DeclaringType: outer}))

	user := model.NewModule("user.dll")
	scope := tok(user.AddAssemblyRef(&model.AssemblyRef{Name: "lib"}))
	outerRef := tok(user.AddTypeRef(&model.TypeRef{ResolutionScope: scope, Name: "Outer", Namespace: "N"}))
	innerRef := tok(user.AddTypeRef(&model.TypeRef{ResolutionScope: outerRef, Name: "Inner"}))

	r, _ := newResolver(t, resolver.Config{}, lib)
	typ, err := r.ResolveType(context.Background(), user, innerRef)
	if err != nil || typ == nil {
		t.Fatalf("got %+v, %v", typ, err)
	}
	if typ.Token != inner {
		t.Errorf("token: got %v, want %v", typ.Token, inner)
	}
}

func TestResolveTypeForwarder(t *testing.T) {
	tok := mustTok(t)
	lib := corlib(t)
	pkt, _ := hex.DecodeString(fixture.CorLibToken)

	facade := model.NewModule("facade.dll")
	facade.Assembly = &model.Assembly{Name: "facade", Version: model.Version{Major: 1}}
	target := tok(facade.AddAssemblyRef(&model.AssemblyRef{Name: "mscorlib", Version: model.Version{Major: 4}, PublicKeyOrToken: pkt}))
	tok(facade.AddExportedType(&model.ExportedType{
		Flags: 0x00200000, Name: "Object", Namespace: "System", Implementation: target,
	}))

	user := model.NewModule("user.dll")
	scope := tok(user.AddAssemblyRef(&model.AssemblyRef{Name: "facade", Version: model.Version{Major: 1}}))
	ref := tok(user.AddTypeRef(&model.TypeRef{ResolutionScope: scope, Name: "Object", Namespace: "System"}))

	r, _ := newResolver(t, resolver.Config{}, lib, facade)
	typ, err := r.ResolveType(context.Background(), user, ref)
	if err != nil || typ == nil || typ.Module != lib {
		t.Fatalf("got %+v, %v", typ, err)
	}
	if r.Cached() != 2 {
		t.Errorf("cached: got %d, want 2", r.Cached())
	}
}

func TestComparerSignatures(t *testing.T) {
	s := fixture.NewSample()
	m := s.Module
	i4 := &signature.CorLibType{Type: signature.ElemI4}
	str := &signature.CorLibType{Type: signature.ElemString}
	cmp := resolver.Comparer{}

	tests := []struct {
		name string
		a, b signature.TypeSig
		want bool
	}{
		{"primitive", i4, &signature.CorLibType{Type: signature.ElemI4}, true},
		{"different primitive", i4, str, false},
		{"array", &signature.SZArray{Elem: i4}, &signature.SZArray{Elem: i4}, true},
		{"array element", &signature.SZArray{Elem: i4}, &signature.SZArray{Elem: str}, false},
		{"multi-dim rank", &signature.Array{Elem: i4, Rank: 2}, &signature.Array{Elem: i4, Rank: 3}, false},
		{"generic args",
			&signature.GenericInst{Type: s.Box, IsValueType: true, Args: []signature.TypeSig{i4}},
			&signature.GenericInst{Type: s.Box, IsValueType: true, Args: []signature.TypeSig{str}}, false},
		{"type spec token", &signature.TypeDefOrRef{Token: s.BoxOfInt, IsValueType: true},
			&signature.TypeDefOrRef{Token: s.BoxOfInt, IsValueType: true}, true},
		{"class vs value type", &signature.TypeDefOrRef{Token: s.Widget},
			&signature.TypeDefOrRef{Token: s.Widget, IsValueType: true}, false},
		{"method vs type param", &signature.GenericParam{Index: 0}, &signature.GenericParam{Method: true}, false},
		{"byref", &signature.ByRef{Elem: i4}, &signature.Pointer{Elem: i4}, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := cmp.EqualTypeSigs(m, tt.a, m, tt.b); got != tt.want {
				t.Errorf("got %v, want %v", got, tt.want)
			}
		})
	}

	a := signature.NewMethodSig(signature.CallHasThis, i4, i4)
	b := signature.NewMethodSig(signature.CallDefault, i4, i4)
	if cmp.EqualMethodSigs(m, a, m, b) {
		t.Error("calling conventions differ but compared equal")
	}
	if !cmp.EqualSignatures(m, &signature.Raw{Data: []byte{1, 2}}, m, &signature.Raw{Data: []byte{1, 2}}) {
		t.Error("raw blobs differ")
	}
}

func TestFileAssemblyResolver(t *testing.T) {
	res, err := builder.NewWithDefaults().Build(corlib(t))
	if err != nil {
		t.Fatal(err)
	}
	data, err := res.Bytes()
	if err != nil {
		t.Fatal(err)
	}
	// Embed the root behind a fake header so the loader has to scan for it.
	path := filepath.Join(t.TempDir(), "mscorlib.bin")
	if err := os.WriteFile(path, append(make([]byte, 64), data...), 0o644); err != nil {
		t.Fatal(err)
	}

	files := resolver.NewFileAssemblyResolver(map[string]string{"mscorlib": path})
	r, err := resolver.New(resolver.Config{Assemblies: files, ThrowOnNotFound: true})
	if err != nil {
		t.Fatal(err)
	}
	s := fixture.NewSample()
	typ, err := r.ResolveType(context.Background(), s.Module, s.Disposable)
	if err != nil {
		t.Fatalf("ResolveType: %v", err)
	}
	if typ.Def.Name != "IDisposable" {
		t.Errorf("got %s", typ.Def.Name)
	}

	missing := resolver.NewFileAssemblyResolver(map[string]string{"mscorlib": filepath.Join(t.TempDir(), "nope")})
	if _, err := missing.ResolveAssembly(context.Background(), resolver.AssemblyDescriptor{Name: "mscorlib"}); err == nil {
		t.Error("missing file: expected error")
	}
}
